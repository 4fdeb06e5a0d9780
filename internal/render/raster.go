// Package render turns compositor frame specs into pixels and pipes them,
// with the narration track, through ffmpeg.
package render

import (
	"image"
	"image/color"
	"math"
	"strings"
	"unicode/utf8"

	"github.com/bobarin/storyreel/internal/timeline"
	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/f64"
	"golang.org/x/image/math/fixed"
)

const (
	// captionWidthRatio is the share of the frame width captions may use.
	captionWidthRatio = 0.85
	// captionBottomRatio is the distance of the caption box from the bottom edge.
	captionBottomRatio = 0.12
	captionPad         = 4
	// captionBaseWidth is the frame width at which the bitmap font is drawn
	// unscaled; wider frames scale it up by whole factors.
	captionBaseWidth = 360
)

// Rasterizer draws frame specs onto fixed-size RGBA canvases. It is
// stateless after construction and safe for concurrent use.
type Rasterizer struct {
	Width      int
	Height     int
	Background color.Color
}

func NewRasterizer(width, height int) *Rasterizer {
	return &Rasterizer{Width: width, Height: height, Background: color.Black}
}

// RenderFrame draws spec using images indexed by plan position. Layers whose
// image is missing are skipped and leave the background visible.
func (r *Rasterizer) RenderFrame(spec timeline.FrameSpec, images []image.Image) *image.RGBA {
	dst := image.NewRGBA(image.Rect(0, 0, r.Width, r.Height))
	draw.Draw(dst, dst.Bounds(), image.NewUniform(r.Background), image.Point{}, draw.Src)

	for _, l := range spec.Layers {
		if l.Scene < 0 || l.Scene >= len(images) || images[l.Scene] == nil {
			continue
		}
		r.drawLayer(dst, l, images[l.Scene])
	}
	if spec.Caption != nil && spec.Caption.Opacity > 0 {
		r.drawCaption(dst, *spec.Caption)
	}
	return dst
}

// drawLayer scales src to cover the frame, applies the layer transform about
// the frame center and blends it with the layer opacity.
func (r *Rasterizer) drawLayer(dst *image.RGBA, l timeline.Layer, src image.Image) {
	if l.Opacity <= 0 {
		return
	}
	sb := src.Bounds()
	if sb.Empty() {
		return
	}
	w, h := float64(r.Width), float64(r.Height)
	iw, ih := float64(sb.Dx()), float64(sb.Dy())

	k := math.Max(w/iw, h/ih) * l.Transform.Scale
	tx := w/2 - iw/2*k + l.Transform.TranslateX/100*w
	ty := h/2 - ih/2*k + l.Transform.TranslateY/100*h
	m := f64.Aff3{
		k, 0, tx - k*float64(sb.Min.X),
		0, k, ty - k*float64(sb.Min.Y),
	}

	if l.Opacity >= 1 {
		draw.ApproxBiLinear.Transform(dst, m, src, sb, draw.Over, nil)
		return
	}
	layer := image.NewRGBA(dst.Bounds())
	draw.ApproxBiLinear.Transform(layer, m, src, sb, draw.Src, nil)
	draw.DrawMask(dst, dst.Bounds(), layer, image.Point{}, alphaMask(l.Opacity), image.Point{}, draw.Over)
}

func (r *Rasterizer) drawCaption(dst *image.RGBA, c timeline.Caption) {
	face := basicfont.Face7x13
	scale := max(1, r.Width/captionBaseWidth)
	advance := face.Advance
	lineHeight := face.Height

	maxChars := max(1, int(float64(r.Width)*captionWidthRatio)/scale/advance-2*captionPad/advance)
	lines := wrap(c.Text, maxChars)
	if len(lines) == 0 {
		return
	}
	longest := 0
	for _, l := range lines {
		longest = max(longest, utf8.RuneCountInString(l))
	}

	box := image.NewRGBA(image.Rect(0, 0, longest*advance+2*captionPad, len(lines)*lineHeight+2*captionPad))
	draw.Draw(box, box.Bounds(), image.NewUniform(color.RGBA{A: 160}), image.Point{}, draw.Src)
	d := font.Drawer{Dst: box, Src: image.White, Face: face}
	for i, l := range lines {
		x := captionPad + (longest-utf8.RuneCountInString(l))*advance/2
		d.Dot = fixed.P(x, captionPad+i*lineHeight+face.Ascent)
		d.DrawString(l)
	}

	bw, bh := box.Bounds().Dx()*scale, box.Bounds().Dy()*scale
	x0 := (r.Width - bw) / 2
	y0 := r.Height - int(float64(r.Height)*captionBottomRatio) - bh
	rect := image.Rect(x0, y0, x0+bw, y0+bh).Intersect(dst.Bounds())
	if rect.Empty() {
		return
	}
	scaled := image.NewRGBA(image.Rect(0, 0, bw, bh))
	draw.NearestNeighbor.Scale(scaled, scaled.Bounds(), box, box.Bounds(), draw.Src, nil)
	draw.DrawMask(dst, rect, scaled, rect.Min.Sub(image.Pt(x0, y0)), alphaMask(c.Opacity), image.Point{}, draw.Over)
}

func alphaMask(opacity float64) *image.Uniform {
	a := math.Round(math.Max(0, math.Min(1, opacity)) * 255)
	return image.NewUniform(color.Alpha{A: uint8(a)})
}

// wrap breaks text into lines of at most width runes, preferring spaces.
func wrap(text string, width int) []string {
	var lines []string
	var cur []rune
	for _, word := range strings.Fields(text) {
		w := []rune(word)
		for len(w) > width {
			if len(cur) > 0 {
				lines = append(lines, string(cur))
				cur = nil
			}
			lines = append(lines, string(w[:width]))
			w = w[width:]
		}
		switch {
		case len(cur) == 0:
			cur = append(cur, w...)
		case len(cur)+1+len(w) <= width:
			cur = append(cur, ' ')
			cur = append(cur, w...)
		default:
			lines = append(lines, string(cur))
			cur = append([]rune(nil), w...)
		}
	}
	if len(cur) > 0 {
		lines = append(lines, string(cur))
	}
	return lines
}
