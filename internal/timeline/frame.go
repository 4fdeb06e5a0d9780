package timeline

import (
	"sort"

	"github.com/bobarin/storyreel/internal/motion"
)

// Layer is one scene image as it should be drawn on a frame.
type Layer struct {
	Scene     int              `json:"scene"`
	SceneID   string           `json:"scene_id"`
	Transform motion.Transform `json:"transform"`
	Opacity   float64          `json:"opacity"`
}

// Caption is the subtitle text visible on a frame.
type Caption struct {
	Text    string  `json:"text"`
	Opacity float64 `json:"opacity"`
}

// FrameSpec fully describes one output frame. Layers are ordered bottom to
// top.
type FrameSpec struct {
	Frame   int      `json:"frame"`
	Layers  []Layer  `json:"layers"`
	Caption *Caption `json:"caption,omitempty"`
}

// SceneAt returns the index of the plan entry containing frame, clamping
// frames outside the composition to the first or last scene.
func (c *Compositor) SceneAt(frame int) int {
	if frame <= 0 {
		return 0
	}
	i := sort.Search(len(c.plan), func(i int) bool {
		e := c.plan[i]
		return e.StartFrame+e.DurationFrames > frame
	})
	if i >= len(c.plan) {
		return len(c.plan) - 1
	}
	return i
}

// Frame evaluates the composition at frame. It depends only on its argument
// so frames may be rendered in any order or in parallel.
func (c *Compositor) Frame(frame int) FrameSpec {
	frame = max(0, min(frame, c.total-1))
	i := c.SceneAt(frame)
	spec := FrameSpec{Frame: frame}

	if k, local, ok := c.transitionAt(frame, i); ok {
		d := c.boundaries[k]
		tf := motion.ComputeTransition(local, d, c.cfg.Transition, c.cfg.Direction)
		spec.Layers = []Layer{
			c.layer(k-1, frame, tf.From),
			c.layer(k, frame, tf.To),
		}
	} else {
		spec.Layers = []Layer{c.layer(i, frame, motion.Layer{Opacity: 1, Transform: motion.Identity})}
	}

	if c.cfg.Subtitles {
		elapsedMs := (frame - c.plan[i].StartFrame) * 1000 / c.cfg.FPS
		if cue, ok := c.tracks[i].At(elapsedMs); ok {
			spec.Caption = &Caption{Text: cue.Segment.Display(), Opacity: cue.Opacity}
		}
	}
	return spec
}

// transitionAt reports whether frame falls inside the transition window
// centered on the boundary before or after scene i. It returns the index of
// the incoming scene and the frame offset into the transition.
func (c *Compositor) transitionAt(frame, i int) (int, int, bool) {
	for _, k := range []int{i, i + 1} {
		if k <= 0 || k >= len(c.plan) {
			continue
		}
		d := c.boundaries[k]
		if d <= 0 {
			continue
		}
		from := c.plan[k].StartFrame - d/2
		if frame >= from && frame < from+d {
			return k, frame - from, true
		}
	}
	return 0, 0, false
}

func (c *Compositor) layer(i, frame int, tl motion.Layer) Layer {
	e := c.plan[i]
	m := motion.Compute(frame-e.StartFrame, e.DurationFrames, c.animations[i])
	return Layer{
		Scene:   i,
		SceneID: e.SceneID,
		Transform: motion.Transform{
			Scale:      m.Scale * tl.Transform.Scale,
			TranslateX: m.TranslateX + tl.Transform.TranslateX,
			TranslateY: m.TranslateY + tl.Transform.TranslateY,
		},
		Opacity: tl.Opacity,
	}
}
