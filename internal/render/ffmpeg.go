package render

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/bobarin/storyreel/internal/timeline"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Background music sits well under the narration.
const musicVolume = 0.12

// Narration is one scene's speech track and where it starts in the output.
type Narration struct {
	Path     string
	OffsetMs int
}

// ExportOptions describe one final render.
type ExportOptions struct {
	Narration []Narration
	// SubtitlesPath is an ASS file burned in by ffmpeg. Leave empty when
	// captions are drawn by the Rasterizer.
	SubtitlesPath string
	MusicPath     string
	OutputPath    string
}

// Composition binds a compositor to a rasterizer and decoded scene images.
type Composition struct {
	Timeline *timeline.Compositor
	Raster   *Rasterizer
	Images   []image.Image
}

// RenderFrame is the deterministic frame-number-to-pixels contract.
func (c *Composition) RenderFrame(n int) *image.RGBA {
	return c.Raster.RenderFrame(c.Timeline.Frame(n), c.Images)
}

// Exporter drives ffmpeg and ffprobe.
type Exporter struct {
	tempDir string
	ffmpeg  string
	ffprobe string
	workers int
	log     zerolog.Logger
}

func NewExporter(tempDir string, log zerolog.Logger) (*Exporter, error) {
	if err := os.MkdirAll(tempDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create temp dir: %w", err)
	}
	return &Exporter{
		tempDir: tempDir,
		ffmpeg:  "ffmpeg",
		ffprobe: "ffprobe",
		workers: runtime.NumCPU(),
		log:     log.With().Str("component", "ffmpeg").Logger(),
	}, nil
}

// Export rasterizes every frame of comp, streams the raw RGBA frames into
// ffmpeg and muxes them with the narration tracks.
func (e *Exporter) Export(ctx context.Context, comp *Composition, opts ExportOptions) error {
	total := comp.Timeline.TotalFrames()
	args := buildExportArgs(comp.Raster.Width, comp.Raster.Height, comp.Timeline.FPS(), comp.Timeline.DurationMs(), opts)
	e.log.Info().Int("frames", total).Int("fps", comp.Timeline.FPS()).Int("narration_tracks", len(opts.Narration)).
		Bool("music", opts.MusicPath != "").Str("output", opts.OutputPath).Msg("starting export")

	cmd := exec.CommandContext(ctx, e.ffmpeg, args...)
	var stderr bytes.Buffer
	cmd.Stderr = &stderr
	stdin, err := cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("ffmpeg stdin: %w", err)
	}
	if err := cmd.Start(); err != nil {
		return fmt.Errorf("ffmpeg start: %w", err)
	}

	writeErr := e.streamFrames(ctx, stdin, comp, total)
	closeErr := stdin.Close()
	waitErr := cmd.Wait()

	if waitErr != nil {
		return fmt.Errorf("ffmpeg export failed: %w: %s", waitErr, tail(stderr.String(), 500))
	}
	if writeErr != nil {
		return fmt.Errorf("ffmpeg frame stream: %w", writeErr)
	}
	if closeErr != nil {
		return fmt.Errorf("ffmpeg stdin close: %w", closeErr)
	}
	e.log.Info().Str("output", opts.OutputPath).Msg("export complete")
	return nil
}

// streamFrames renders frames in chunks of e.workers in parallel and writes
// each chunk in frame order.
func (e *Exporter) streamFrames(ctx context.Context, w io.Writer, comp *Composition, total int) error {
	chunk := max(1, e.workers)
	buf := make([]*image.RGBA, chunk)
	for start := 0; start < total; start += chunk {
		end := min(start+chunk, total)
		g, gctx := errgroup.WithContext(ctx)
		for n := start; n < end; n++ {
			g.Go(func() error {
				if err := gctx.Err(); err != nil {
					return err
				}
				buf[n-start] = comp.RenderFrame(n)
				return nil
			})
		}
		if err := g.Wait(); err != nil {
			return err
		}
		for i := 0; i < end-start; i++ {
			if _, err := w.Write(buf[i].Pix); err != nil {
				return fmt.Errorf("frame %d: %w", start+i, err)
			}
		}
	}
	return nil
}

// buildExportArgs assembles the ffmpeg command line. Input 0 is the raw
// frame stream on stdin, followed by one input per narration track and the
// optional looping music bed.
func buildExportArgs(width, height, fps, durationMs int, opts ExportOptions) []string {
	args := []string{
		"-y",
		"-f", "rawvideo",
		"-pix_fmt", "rgba",
		"-s", fmt.Sprintf("%dx%d", width, height),
		"-r", strconv.Itoa(fps),
		"-i", "pipe:0",
	}
	for _, n := range opts.Narration {
		args = append(args, "-i", n.Path)
	}
	musicInput := -1
	if opts.MusicPath != "" {
		musicInput = len(opts.Narration) + 1
		args = append(args, "-stream_loop", "-1", "-i", opts.MusicPath)
	}

	var filters []string
	videoOut := "0:v"
	if opts.SubtitlesPath != "" {
		filters = append(filters, fmt.Sprintf("[0:v]ass='%s'[v]", escapeFFmpegFilterPath(opts.SubtitlesPath)))
		videoOut = "[v]"
	}

	audioOut := ""
	switch len(opts.Narration) {
	case 0:
	case 1:
		n := opts.Narration[0]
		filters = append(filters, fmt.Sprintf("[1:a]adelay=%d|%d[narr]", n.OffsetMs, n.OffsetMs))
		audioOut = "[narr]"
	default:
		var labels strings.Builder
		for i, n := range opts.Narration {
			filters = append(filters, fmt.Sprintf("[%d:a]adelay=%d|%d[a%d]", i+1, n.OffsetMs, n.OffsetMs, i))
			fmt.Fprintf(&labels, "[a%d]", i)
		}
		filters = append(filters, fmt.Sprintf("%samix=inputs=%d:duration=longest:normalize=0[narr]", labels.String(), len(opts.Narration)))
		audioOut = "[narr]"
	}

	if musicInput > 0 {
		if audioOut == "" {
			filters = append(filters, fmt.Sprintf("[%d:a]volume=%.2f[aout]", musicInput, musicVolume))
		} else {
			filters = append(filters,
				fmt.Sprintf("%svolume=1.0[nv]", audioOut),
				fmt.Sprintf("[%d:a]volume=%.2f[music]", musicInput, musicVolume),
				"[nv][music]amix=inputs=2:duration=first:dropout_transition=3[aout]",
			)
		}
		audioOut = "[aout]"
	}

	if len(filters) > 0 {
		args = append(args, "-filter_complex", strings.Join(filters, ";"))
	}
	args = append(args, "-map", videoOut)
	if audioOut != "" {
		args = append(args, "-map", audioOut, "-c:a", "aac", "-b:a", "192k")
	}
	args = append(args,
		"-c:v", "libx264",
		"-pix_fmt", "yuv420p",
		"-t", strconv.FormatFloat(float64(durationMs)/1000, 'f', 3, 64),
		"-movflags", "+faststart",
		opts.OutputPath,
	)
	return args
}

// DurationMs returns the duration of a media file using ffprobe.
func (e *Exporter) DurationMs(ctx context.Context, path string) (int, error) {
	args := []string{
		"-v", "error",
		"-show_entries", "format=duration",
		"-of", "default=noprint_wrappers=1:nokey=1",
		path,
	}
	output, err := exec.CommandContext(ctx, e.ffprobe, args...).Output()
	if err != nil {
		return 0, fmt.Errorf("ffprobe failed: %w", err)
	}
	return parseProbeDuration(output)
}

func parseProbeDuration(output []byte) (int, error) {
	sec, err := strconv.ParseFloat(strings.TrimSpace(string(output)), 64)
	if err != nil {
		return 0, fmt.Errorf("failed to parse duration: %w", err)
	}
	return int(sec*1000 + 0.5), nil
}

// TempPath returns a path inside the exporter's temp directory.
func (e *Exporter) TempPath(name string) string {
	return filepath.Join(e.tempDir, name)
}

// WriteTemp writes data to a new file in the temp directory.
func (e *Exporter) WriteTemp(name string, data []byte) (string, error) {
	path := e.TempPath(name)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", fmt.Errorf("write temp file %s: %w", name, err)
	}
	return path, nil
}

// Cleanup removes temporary files.
func (e *Exporter) Cleanup(paths ...string) {
	for _, p := range paths {
		if err := os.Remove(p); err != nil && !os.IsNotExist(err) {
			e.log.Warn().Err(err).Str("path", p).Msg("failed to remove temp file")
		}
	}
}

// escapeFFmpegFilterPath escapes characters that ffmpeg filter syntax treats
// specially.
func escapeFFmpegFilterPath(path string) string {
	path = strings.ReplaceAll(path, "\\", "\\\\")
	path = strings.ReplaceAll(path, ":", "\\:")
	path = strings.ReplaceAll(path, "'", "'\\''")
	return path
}

func tail(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return "..." + s[len(s)-n:]
}
