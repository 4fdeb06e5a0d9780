package imagery

import (
	"math"

	"github.com/bobarin/storyreel/internal/models"
)

// DefaultStrength applies to beats outside the narrative table.
const DefaultStrength = 0.5

// beatStrengths increases along the narrative arc: early beats stay close to
// the anchor, late beats may vary more.
var beatStrengths = []struct {
	beat     string
	strength float64
}{
	{models.BeatHook, 0.25},
	{models.BeatSetup, 0.30},
	{models.BeatProblem, 0.35},
	{models.BeatSolution, 0.40},
	{models.BeatProductIntro, 0.45},
	{models.BeatDemo, 0.50},
	{models.BeatBenefit, 0.55},
	{models.BeatSocialProof, 0.60},
	{models.BeatClimax, 0.65},
	{models.BeatAppeal, 0.70},
	{models.BeatCallToAction, 0.75},
}

// StrengthForBeat returns the image-to-image strength for a story beat,
// shifted by bias and clamped to [0,1].
func StrengthForBeat(beat string, bias float64) float64 {
	s := DefaultStrength
	for _, b := range beatStrengths {
		if b.beat == beat {
			s = b.strength
			break
		}
	}
	return clamp01(s + bias)
}

func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return DefaultStrength
	}
	return math.Max(0, math.Min(1, v))
}

// anchorBeats are the beats that best show the subject on its own.
var anchorBeats = map[string]bool{
	models.BeatProductIntro: true,
	models.BeatDemo:         true,
	models.BeatSolution:     true,
}

// SelectAnchor returns the index of the first scene tagged with an anchor
// beat, or 0 when none is.
func SelectAnchor(scenes []Scene) int {
	for i, s := range scenes {
		if anchorBeats[s.StoryBeat] {
			return i
		}
	}
	return 0
}
