package render

import (
	"image"
	"image/color"
	"strings"
	"testing"

	"github.com/bobarin/storyreel/internal/motion"
	"github.com/bobarin/storyreel/internal/timeline"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func solid(w, h int, c color.Color) image.Image {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			img.Set(x, y, c)
		}
	}
	return img
}

var red = color.RGBA{R: 255, A: 255}

func layer(scene int, opacity float64) timeline.Layer {
	return timeline.Layer{Scene: scene, Transform: motion.Identity, Opacity: opacity}
}

func TestRenderFrameCoversCanvas(t *testing.T) {
	r := NewRasterizer(64, 36)
	img := r.RenderFrame(timeline.FrameSpec{Layers: []timeline.Layer{layer(0, 1)}}, []image.Image{solid(16, 9, red)})

	for _, p := range []image.Point{{32, 18}, {2, 2}, {61, 33}} {
		c := img.RGBAAt(p.X, p.Y)
		assert.Greater(t, c.R, uint8(200), "pixel %v", p)
		assert.Less(t, c.G, uint8(10))
	}
}

func TestRenderFrameHalfOpacityBlends(t *testing.T) {
	r := NewRasterizer(40, 40)
	img := r.RenderFrame(timeline.FrameSpec{Layers: []timeline.Layer{layer(0, 0.5)}}, []image.Image{solid(10, 10, red)})

	c := img.RGBAAt(20, 20)
	assert.InDelta(t, 128, int(c.R), 3)
	assert.Equal(t, uint8(255), c.A)
}

func TestRenderFrameMissingImageKeepsBackground(t *testing.T) {
	r := NewRasterizer(20, 20)
	img := r.RenderFrame(timeline.FrameSpec{Layers: []timeline.Layer{layer(3, 1)}}, []image.Image{solid(4, 4, red)})
	assert.Equal(t, color.RGBA{A: 255}, img.RGBAAt(10, 10))
}

func TestRenderFrameDrawsCaption(t *testing.T) {
	r := NewRasterizer(360, 640)
	spec := timeline.FrameSpec{Caption: &timeline.Caption{Text: "Hello harbor", Opacity: 1}}
	img := r.RenderFrame(spec, nil)

	lit := 0
	for y := 400; y < 640; y++ {
		for x := 0; x < 360; x++ {
			if img.RGBAAt(x, y).R > 128 {
				lit++
			}
		}
	}
	assert.Greater(t, lit, 0)

	top := 0
	for y := 0; y < 300; y++ {
		for x := 0; x < 360; x++ {
			if img.RGBAAt(x, y).R > 0 {
				top++
			}
		}
	}
	assert.Zero(t, top)
}

func TestCompositionRenderFrameIsDeterministic(t *testing.T) {
	tl, err := timeline.New([]timeline.Scene{
		{ID: "a", Order: 0, DurationSeconds: 1},
		{ID: "b", Order: 1, DurationSeconds: 1},
	}, timeline.Config{FPS: 10, Transition: motion.TransitionFade, TransitionFrames: 4})
	require.NoError(t, err)

	comp := &Composition{
		Timeline: tl,
		Raster:   NewRasterizer(32, 18),
		Images:   []image.Image{solid(16, 9, red), solid(16, 9, color.RGBA{B: 255, A: 255})},
	}
	first := comp.RenderFrame(10)
	comp.RenderFrame(2)
	assert.Equal(t, first.Pix, comp.RenderFrame(10).Pix)

	mid := first.RGBAAt(16, 9)
	assert.Greater(t, mid.R, uint8(60))
	assert.Greater(t, mid.B, uint8(60))
}

func TestWrap(t *testing.T) {
	assert.Equal(t, []string{"one two", "three"}, wrap("one two three", 8))
	assert.Equal(t, []string{"abcd", "ef"}, wrap("abcdef", 4))
	assert.Empty(t, wrap("   ", 5))
}

func TestBuildExportArgsMixesNarrationAndMusic(t *testing.T) {
	args := buildExportArgs(1080, 1920, 30, 9500, ExportOptions{
		Narration: []Narration{
			{Path: "/tmp/s0.wav", OffsetMs: 0},
			{Path: "/tmp/s1.mp3", OffsetMs: 3000},
		},
		SubtitlesPath: "/tmp/subs:1.ass",
		MusicPath:     "/music/bed.mp3",
		OutputPath:    "/tmp/out.mp4",
	})
	joined := strings.Join(args, " ")

	assert.Contains(t, joined, "-f rawvideo -pix_fmt rgba -s 1080x1920 -r 30 -i pipe:0")
	assert.Contains(t, joined, "-i /tmp/s0.wav -i /tmp/s1.mp3 -stream_loop -1 -i /music/bed.mp3")
	assert.Contains(t, joined, "[2:a]adelay=3000|3000[a1]")
	assert.Contains(t, joined, "[a0][a1]amix=inputs=2:duration=longest:normalize=0[narr]")
	assert.Contains(t, joined, "[3:a]volume=0.12[music]")
	assert.Contains(t, joined, `ass='/tmp/subs\:1.ass'`)
	assert.Contains(t, joined, "-map [v] -map [aout]")
	assert.Contains(t, joined, "-t 9.500")
	assert.Equal(t, "/tmp/out.mp4", args[len(args)-1])
}

func TestBuildExportArgsSilent(t *testing.T) {
	args := buildExportArgs(320, 240, 24, 1000, ExportOptions{OutputPath: "o.mp4"})
	joined := strings.Join(args, " ")
	assert.NotContains(t, joined, "-filter_complex")
	assert.NotContains(t, joined, "aac")
	assert.Contains(t, joined, "-map 0:v")
}

func TestParseProbeDuration(t *testing.T) {
	ms, err := parseProbeDuration([]byte("12.3456\n"))
	require.NoError(t, err)
	assert.Equal(t, 12346, ms)

	_, err = parseProbeDuration([]byte("N/A"))
	assert.Error(t, err)
}
