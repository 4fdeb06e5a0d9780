package worker

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"math"
	"os"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/config"
	"github.com/bobarin/storyreel/internal/imagegen"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/bobarin/storyreel/internal/motion"
	"github.com/bobarin/storyreel/internal/render"
	"github.com/bobarin/storyreel/internal/speech"
	"github.com/bobarin/storyreel/internal/storage"
	"github.com/bobarin/storyreel/internal/subtitle"
	"github.com/bobarin/storyreel/internal/timeline"
	_ "golang.org/x/image/webp"
)

const (
	// narrationTailMs is the pause kept after a scene's narration ends.
	narrationTailMs   = 400
	defaultTransition = motion.TransitionFade
)

// compose lays the ready scenes out on a timeline, renders every frame and
// uploads the encoded result. Scenes whose image failed are left out.
func (r *renderRun) compose(ctx context.Context) error {
	cfg := r.w.settings.Render
	sc := r.render.Scenario
	id := r.render.ID.String()

	var (
		scenes []timeline.Scene
		images []image.Image
		audio  []*speech.Audio
	)
	for i, s := range sc.Scenes {
		if r.results[i].Status != models.SceneStatusReady {
			continue
		}
		img, err := decodeImage(r.assets[i].image)
		if err != nil {
			return apperr.Wrap(apperr.KindProvider, "", fmt.Sprintf("scene %d image could not be decoded", i), err)
		}

		a := r.assets[i].audio
		ts := timeline.Scene{
			ID:              s.ID,
			Order:           len(scenes),
			DurationSeconds: s.DurationSeconds,
			Narration:       s.Narration,
			CameraAngle:     s.CameraAngle,
			Mood:            s.Mood,
			StoryBeat:       s.StoryBeat,
		}
		if a != nil {
			ts.AudioMs = a.DurationMs
			ts.DurationSeconds = math.Max(ts.DurationSeconds, float64(a.DurationMs+narrationTailMs)/1000)
		}
		scenes = append(scenes, ts)
		images = append(images, img)
		audio = append(audio, a)
	}

	transition, err := motion.ParseTransitionType(sc.Transition)
	if err != nil {
		return apperr.InvalidRequest("", err.Error())
	}
	if sc.Transition == "" {
		transition = defaultTransition
	}
	transitionSec := cfg.TransitionSeconds
	if sc.TransitionSeconds > 0 {
		transitionSec = sc.TransitionSeconds
	}

	mode := cfg.Subtitles
	if sc.Subtitles != nil && !*sc.Subtitles {
		mode = config.SubtitlesOff
	}

	comp, err := timeline.New(scenes, timeline.Config{
		FPS:              cfg.FPS,
		Transition:       transition,
		TransitionFrames: int(math.Round(transitionSec * float64(cfg.FPS))),
		Direction:        motion.DirectionLeft,
		Subtitles:        mode == config.SubtitlesOverlay,
	})
	if err != nil {
		return fmt.Errorf("failed to build timeline: %w", err)
	}
	if err := timeline.Validate(comp.Plan()); err != nil {
		return fmt.Errorf("invalid timeline: %w", err)
	}

	var temps []string
	defer func() { r.w.Exporter.Cleanup(temps...) }()

	opts := render.ExportOptions{MusicPath: cfg.BackgroundMusicPath}
	for k, a := range audio {
		if a == nil {
			continue
		}
		format := a.Format
		if format == "" {
			format = "mp3"
		}
		path, err := r.w.Exporter.WriteTemp(fmt.Sprintf("%s_narration_%02d.%s", id, k, format), a.Data)
		if err != nil {
			return err
		}
		temps = append(temps, path)
		opts.Narration = append(opts.Narration, render.Narration{Path: path, OffsetMs: comp.NarrationStart(k)})
	}

	width, height := frameSize(cfg, sc.AspectRatio)
	if mode == config.SubtitlesASS {
		path, err := r.writeASS(comp, width, height)
		if err != nil {
			return err
		}
		if path != "" {
			temps = append(temps, path)
			opts.SubtitlesPath = path
		}
	}

	opts.OutputPath = r.w.Exporter.TempPath(id + ".mp4")
	temps = append(temps, opts.OutputPath)

	r.log.Info().Int("scenes", len(scenes)).Int("frames", comp.TotalFrames()).
		Str("transition", string(transition)).Str("subtitles", string(mode)).Msg("exporting")
	err = r.w.Exporter.Export(ctx, &render.Composition{
		Timeline: comp,
		Raster:   render.NewRasterizer(width, height),
		Images:   images,
	}, opts)
	if err != nil {
		return fmt.Errorf("failed to export video: %w", err)
	}

	data, err := os.ReadFile(opts.OutputPath)
	if err != nil {
		return fmt.Errorf("failed to read rendered video: %w", err)
	}
	obj, err := r.w.Objects.Put(ctx, storage.RenderKey(r.render.ID, "final.mp4"), data, "video/mp4")
	if err != nil {
		return fmt.Errorf("failed to upload final video: %w", err)
	}

	r.saveScenes(ctx)
	if err := r.w.Store.CompleteRender(ctx, r.render.ID, obj.Key, comp.DurationMs()); err != nil {
		return fmt.Errorf("failed to complete render: %w", err)
	}
	return nil
}

// writeASS writes a caption script for every narrated scene. It returns an
// empty path when no scene has narration.
func (r *renderRun) writeASS(comp *timeline.Compositor, width, height int) (string, error) {
	var placements []subtitle.Placement
	for k, s := range comp.Scenes() {
		if s.AudioMs <= 0 || s.Narration == "" {
			continue
		}
		placements = append(placements, subtitle.Placement{
			Track:   subtitle.NewTrack(s.Narration, s.AudioMs),
			StartMs: comp.NarrationStart(k),
		})
	}
	if len(placements) == 0 {
		return "", nil
	}

	var buf bytes.Buffer
	if err := subtitle.WriteASS(&buf, subtitle.DefaultASSStyle(width, height), placements); err != nil {
		return "", fmt.Errorf("failed to write subtitles: %w", err)
	}
	return r.w.Exporter.WriteTemp(r.render.ID.String()+".ass", buf.Bytes())
}

func decodeImage(img *imagegen.Image) (image.Image, error) {
	if img == nil || len(img.Data) == 0 {
		return nil, fmt.Errorf("image has no data")
	}
	decoded, _, err := image.Decode(bytes.NewReader(img.Data))
	return decoded, err
}

// frameSize orients the configured frame for the scenario's aspect ratio.
// Unknown ratios keep the configured size.
func frameSize(cfg config.RenderConfig, aspect string) (int, int) {
	long, short := max(cfg.Width, cfg.Height), min(cfg.Width, cfg.Height)
	switch aspect {
	case "16:9":
		return long, short
	case "1:1":
		return short, short
	case "9:16":
		return short, long
	default:
		return cfg.Width, cfg.Height
	}
}
