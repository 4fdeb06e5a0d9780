package subtitle

import (
	"fmt"
	"io"
	"strings"
)

// ASS (Advanced SubStation Alpha) output for burning subtitles in with
// ffmpeg instead of drawing them on the rasterized frames.

const (
	assFontName = "Noto Sans"

	// &HAABBGGRR
	assColorWhite     = "&H00FFFFFF"
	assColorBlack     = "&H00000000"
	assColorSemiBlack = "&H80000000"
)

// ASSStyle sizes the script for the output canvas.
type ASSStyle struct {
	Width    int
	Height   int
	FontSize int
	MarginV  int
}

// DefaultASSStyle scales font and margin to the canvas height.
func DefaultASSStyle(width, height int) ASSStyle {
	return ASSStyle{
		Width:    width,
		Height:   height,
		FontSize: max(16, height/31),
		MarginV:  height / 9,
	}
}

// Cue placement for one scene on the full timeline.
type Placement struct {
	Track   Track
	StartMs int
}

// WriteASS writes every segment of every placement as a dialogue line with a
// fade matching FadeMs.
func WriteASS(w io.Writer, style ASSStyle, placements []Placement) error {
	var sb strings.Builder

	sb.WriteString("[Script Info]\n")
	sb.WriteString("ScriptType: v4.00+\n")
	fmt.Fprintf(&sb, "PlayResX: %d\n", style.Width)
	fmt.Fprintf(&sb, "PlayResY: %d\n", style.Height)
	sb.WriteString("WrapStyle: 0\n")
	sb.WriteString("ScaledBorderAndShadow: yes\n\n")

	sb.WriteString("[V4+ Styles]\n")
	sb.WriteString("Format: Name, Fontname, Fontsize, PrimaryColour, SecondaryColour, OutlineColour, BackColour, Bold, Italic, Underline, StrikeOut, ScaleX, ScaleY, Spacing, Angle, BorderStyle, Outline, Shadow, Alignment, MarginL, MarginR, MarginV, Encoding\n")
	fmt.Fprintf(&sb, "Style: Default,%s,%d,%s,%s,%s,%s,-1,0,0,0,100,100,0,0,1,%d,0,2,40,40,%d,1\n\n",
		assFontName, style.FontSize,
		assColorWhite, assColorWhite, assColorBlack, assColorSemiBlack,
		max(2, style.FontSize/20), style.MarginV)

	sb.WriteString("[Events]\n")
	sb.WriteString("Format: Layer, Start, End, Style, Name, MarginL, MarginR, MarginV, Effect, Text\n")

	for _, p := range placements {
		for _, seg := range p.Track.Segments {
			text := escapeASS(seg.Display())
			if text == "" || seg.DurationMs <= 0 {
				continue
			}
			start := float64(p.StartMs+seg.StartMs) / 1000
			end := float64(p.StartMs+seg.StartMs+seg.DurationMs) / 1000
			fade := min(FadeMs, seg.DurationMs/2)
			fmt.Fprintf(&sb, "Dialogue: 0,%s,%s,Default,,0,0,0,,{\\fad(%d,%d)}%s\n",
				formatASSTime(start), formatASSTime(end), fade, fade, text)
		}
	}

	_, err := io.WriteString(w, sb.String())
	if err != nil {
		return fmt.Errorf("write ass script: %w", err)
	}
	return nil
}

func escapeASS(s string) string {
	s = strings.ReplaceAll(s, "\n", "\\N")
	s = strings.ReplaceAll(s, "{", "(")
	return strings.ReplaceAll(s, "}", ")")
}

// formatASSTime renders seconds as H:MM:SS.CC.
func formatASSTime(seconds float64) string {
	if seconds < 0 {
		seconds = 0
	}
	total := int(seconds*100 + 0.5)
	cs := total % 100
	secs := (total / 100) % 60
	minutes := (total / 6000) % 60
	hours := total / 360000
	return fmt.Sprintf("%d:%02d:%02d.%02d", hours, minutes, secs, cs)
}
