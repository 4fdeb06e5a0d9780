package timeline

import (
	"testing"

	"github.com/bobarin/storyreel/internal/motion"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func threeScenes() []Scene {
	return []Scene{
		{ID: "c", Order: 2, DurationSeconds: 4},
		{ID: "a", Order: 0, DurationSeconds: 3},
		{ID: "b", Order: 1, DurationSeconds: 2.5},
	}
}

func sumFrames(plan []Entry) int {
	n := 0
	for _, e := range plan {
		n += e.DurationFrames
	}
	return n
}

func TestPlanIsContiguousAndOrdered(t *testing.T) {
	c, err := New(threeScenes(), Config{FPS: 30})
	require.NoError(t, err)

	plan := c.Plan()
	require.NoError(t, Validate(plan))
	assert.Equal(t, []Entry{
		{SceneID: "a", StartFrame: 0, DurationFrames: 90},
		{SceneID: "b", StartFrame: 90, DurationFrames: 75},
		{SceneID: "c", StartFrame: 165, DurationFrames: 120},
	}, plan)
	assert.Equal(t, 285, c.TotalFrames())
	assert.Equal(t, sumFrames(plan), c.TotalFrames())
	assert.Equal(t, 9500, c.DurationMs())
	assert.Equal(t, 3000, c.NarrationStart(1))
}

func TestTransitionsDoNotChangeLength(t *testing.T) {
	plain, err := New(threeScenes(), Config{FPS: 30})
	require.NoError(t, err)
	faded, err := New(threeScenes(), Config{FPS: 30, Transition: motion.TransitionFade, TransitionFrames: 20})
	require.NoError(t, err)

	assert.Equal(t, plain.Plan(), faded.Plan())
	assert.Equal(t, plain.TotalFrames(), faded.TotalFrames())
	assert.Equal(t, sumFrames(faded.Plan()), faded.TotalFrames())
}

func TestFrameInsideTransitionHasTwoLayers(t *testing.T) {
	c, err := New(threeScenes(), Config{FPS: 30, Transition: motion.TransitionFade, TransitionFrames: 20})
	require.NoError(t, err)

	mid := c.Frame(45)
	require.Len(t, mid.Layers, 1)
	assert.Equal(t, "a", mid.Layers[0].SceneID)
	assert.Equal(t, 1.0, mid.Layers[0].Opacity)

	boundary := c.Frame(90)
	require.Len(t, boundary.Layers, 2)
	assert.Equal(t, "a", boundary.Layers[0].SceneID)
	assert.Equal(t, "b", boundary.Layers[1].SceneID)
	assert.InDelta(t, 0.5, boundary.Layers[0].Opacity, 1e-9)
	assert.InDelta(t, 0.5, boundary.Layers[1].Opacity, 1e-9)

	start := c.Frame(80)
	require.Len(t, start.Layers, 2)
	assert.InDelta(t, 1.0, start.Layers[0].Opacity, 1e-9)

	after := c.Frame(100)
	require.Len(t, after.Layers, 1)
	assert.Equal(t, "b", after.Layers[0].SceneID)
}

func TestTransitionClampedToShortScene(t *testing.T) {
	scenes := []Scene{
		{ID: "long", Order: 0, DurationSeconds: 5},
		{ID: "blip", Order: 1, DurationSeconds: 0.2},
		{ID: "tail", Order: 2, DurationSeconds: 5},
	}
	c, err := New(scenes, Config{FPS: 30, Transition: motion.TransitionDissolve, TransitionFrames: 30})
	require.NoError(t, err)
	assert.Equal(t, 6, c.TransitionFrames(1))
	assert.Equal(t, 6, c.TransitionFrames(2))
	assert.Equal(t, 0, c.TransitionFrames(0))

	for f := 0; f < c.TotalFrames(); f++ {
		spec := c.Frame(f)
		require.NotEmpty(t, spec.Layers)
		require.LessOrEqual(t, len(spec.Layers), 2)
	}

	// The two windows around the short scene meet without overlapping, and
	// the short scene is visible in every frame of both.
	blip := c.Plan()[1]
	for f := blip.StartFrame - 3; f < blip.StartFrame+blip.DurationFrames+3; f++ {
		spec := c.Frame(f)
		require.Len(t, spec.Layers, 2, "frame %d", f)
		scenes := []int{spec.Layers[0].Scene, spec.Layers[1].Scene}
		assert.Contains(t, scenes, 1, "frame %d", f)
	}
}

func TestFrameIsDeterministicAndClamped(t *testing.T) {
	c, err := New(threeScenes(), Config{FPS: 30, Transition: motion.TransitionZoom, TransitionFrames: 10})
	require.NoError(t, err)

	a := c.Frame(170)
	c.Frame(3)
	c.Frame(284)
	assert.Equal(t, a, c.Frame(170))

	assert.Equal(t, c.Frame(0), c.Frame(-10))
	assert.Equal(t, c.Frame(c.TotalFrames()-1), c.Frame(c.TotalFrames()+50))
}

func TestMotionAppliedPerScene(t *testing.T) {
	anim := motion.Animation{Kind: motion.KindKenBurns, Direction: motion.DirectionIn, Intensity: 0.5}
	c, err := New([]Scene{{ID: "only", DurationSeconds: 5, Animation: &anim}}, Config{FPS: 30})
	require.NoError(t, err)

	assert.InDelta(t, 1.0, c.Frame(0).Layers[0].Transform.Scale, 1e-9)
	assert.InDelta(t, 1.15*149.0/150.0+1.0/150.0, c.Frame(149).Layers[0].Transform.Scale, 1e-9)
}

func TestCaptionsFollowNarrationNotSceneLength(t *testing.T) {
	scenes := []Scene{{
		ID:              "s1",
		DurationSeconds: 12,
		Narration:       "A calm voice explains the harbor at dawn.",
		AudioMs:         8000,
	}}
	c, err := New(scenes, Config{FPS: 30, Subtitles: true})
	require.NoError(t, err)

	spec := c.Frame(30 * 4)
	require.NotNil(t, spec.Caption)
	assert.Equal(t, "A calm voice explains the harbor at dawn.", spec.Caption.Text)
	assert.InDelta(t, 1.0, spec.Caption.Opacity, 1e-9)

	assert.Nil(t, c.Frame(30*9).Caption)

	off, err := New(scenes, Config{FPS: 30})
	require.NoError(t, err)
	assert.Nil(t, off.Frame(30*4).Caption)
}

func TestNewRejectsBadInput(t *testing.T) {
	_, err := New(nil, Config{FPS: 30})
	assert.ErrorIs(t, err, ErrNoScenes)

	_, err = New(threeScenes(), Config{})
	assert.ErrorIs(t, err, ErrInvalidFPS)

	_, err = New([]Scene{{ID: "x", DurationSeconds: 0}}, Config{FPS: 30})
	assert.Error(t, err)
}

func TestFramesForMinimumOne(t *testing.T) {
	assert.Equal(t, 1, FramesFor(0.001, 30))
	assert.Equal(t, 75, FramesFor(2.5, 30))
}

func TestValidateDetectsGap(t *testing.T) {
	err := Validate([]Entry{{StartFrame: 0, DurationFrames: 10}, {StartFrame: 11, DurationFrames: 5}})
	assert.Error(t, err)
}
