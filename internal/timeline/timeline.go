// Package timeline turns ordered scenes into a frame-indexed render plan and
// describes, for any frame, which images are visible with which transform,
// opacity and caption.
package timeline

import (
	"errors"
	"fmt"
	"math"
	"sort"

	"github.com/bobarin/storyreel/internal/motion"
	"github.com/bobarin/storyreel/internal/subtitle"
)

// Scene is the compositor's view of one scene.
type Scene struct {
	ID              string
	Order           int
	DurationSeconds float64
	Narration       string
	// AudioMs is the measured narration length; zero means no narration.
	AudioMs     int
	CameraAngle string
	Mood        string
	StoryBeat   string
	// Animation overrides the motion chosen from CameraAngle.
	Animation *motion.Animation
}

// Config controls frame accounting and boundaries.
type Config struct {
	FPS              int
	Transition       motion.TransitionType
	TransitionFrames int
	Direction        motion.Direction
	Subtitles        bool
}

// Entry is one scene's slot in the plan.
type Entry struct {
	SceneID        string `json:"scene_id"`
	StartFrame     int    `json:"start_frame"`
	DurationFrames int    `json:"duration_frames"`
}

var (
	ErrNoScenes   = errors.New("timeline needs at least one scene")
	ErrInvalidFPS = errors.New("fps must be positive")
)

// Compositor is immutable after New and safe for concurrent Frame calls.
type Compositor struct {
	cfg        Config
	scenes     []Scene
	plan       []Entry
	animations []motion.Animation
	tracks     []subtitle.Track
	// boundaries[k] is the transition length between scene k-1 and k; index 0
	// is unused.
	boundaries []int
	total      int
}

// FramesFor converts seconds to a whole number of frames, at least one.
func FramesFor(seconds float64, fps int) int {
	return max(1, int(math.Round(seconds*float64(fps))))
}

// New sorts scenes by Order and computes the plan.
func New(scenes []Scene, cfg Config) (*Compositor, error) {
	if len(scenes) == 0 {
		return nil, ErrNoScenes
	}
	if cfg.FPS <= 0 {
		return nil, ErrInvalidFPS
	}
	if cfg.Transition == "" {
		cfg.Transition = motion.TransitionNone
	}

	sorted := make([]Scene, len(scenes))
	copy(sorted, scenes)
	sort.SliceStable(sorted, func(i, j int) bool { return sorted[i].Order < sorted[j].Order })

	c := &Compositor{
		cfg:        cfg,
		scenes:     sorted,
		plan:       make([]Entry, len(sorted)),
		animations: make([]motion.Animation, len(sorted)),
		tracks:     make([]subtitle.Track, len(sorted)),
		boundaries: make([]int, len(sorted)),
	}

	start := 0
	for i, s := range sorted {
		if s.DurationSeconds <= 0 || math.IsNaN(s.DurationSeconds) || math.IsInf(s.DurationSeconds, 0) {
			return nil, fmt.Errorf("scene %q: duration must be positive, got %v", s.ID, s.DurationSeconds)
		}
		frames := FramesFor(s.DurationSeconds, cfg.FPS)
		c.plan[i] = Entry{SceneID: s.ID, StartFrame: start, DurationFrames: frames}
		start += frames

		if s.Animation != nil {
			c.animations[i] = *s.Animation
		} else {
			c.animations[i] = motion.Choose(i, s.CameraAngle)
		}
		if cfg.Subtitles && s.AudioMs > 0 && s.Narration != "" {
			c.tracks[i] = subtitle.NewTrack(s.Narration, s.AudioMs)
		}
	}
	c.total = start

	if cfg.Transition != motion.TransitionNone && cfg.TransitionFrames > 0 {
		for k := 1; k < len(c.plan); k++ {
			// Capped at both scenes' lengths. The window is centered on the
			// cut, so a scene cedes ceil(d/2) frames to the previous window and
			// floor(d/2) to the next, and adjacent windows never overlap.
			c.boundaries[k] = min(cfg.TransitionFrames, c.plan[k-1].DurationFrames, c.plan[k].DurationFrames)
		}
	}
	return c, nil
}

// Plan returns a copy of the ordered entries.
func (c *Compositor) Plan() []Entry {
	out := make([]Entry, len(c.plan))
	copy(out, c.plan)
	return out
}

// Scenes returns the scenes in plan order.
func (c *Compositor) Scenes() []Scene {
	out := make([]Scene, len(c.scenes))
	copy(out, c.scenes)
	return out
}

// TotalFrames is the composition length. Transitions overlay boundaries and
// never change it.
func (c *Compositor) TotalFrames() int {
	return c.total
}

func (c *Compositor) FPS() int {
	return c.cfg.FPS
}

// DurationMs is the composition length in milliseconds.
func (c *Compositor) DurationMs() int {
	return c.total * 1000 / c.cfg.FPS
}

// TransitionFrames returns the effective transition length at the start of
// scene k (zero for the first scene).
func (c *Compositor) TransitionFrames(k int) int {
	if k <= 0 || k >= len(c.boundaries) {
		return 0
	}
	return c.boundaries[k]
}

// NarrationStart returns the offset, in milliseconds, at which scene k's
// narration audio begins.
func (c *Compositor) NarrationStart(k int) int {
	return c.plan[k].StartFrame * 1000 / c.cfg.FPS
}

// Validate checks plan contiguity. It is used by tests and by the worker
// before rendering.
func Validate(plan []Entry) error {
	next := 0
	for i, e := range plan {
		if e.StartFrame != next {
			return fmt.Errorf("entry %d starts at %d, want %d", i, e.StartFrame, next)
		}
		if e.DurationFrames <= 0 {
			return fmt.Errorf("entry %d has non-positive duration %d", i, e.DurationFrames)
		}
		next += e.DurationFrames
	}
	return nil
}
