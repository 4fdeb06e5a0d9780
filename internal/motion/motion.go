// Package motion computes per-frame pan/zoom transforms for still images and
// the layer states of scene-to-scene transitions. Every function is pure so
// any frame can be evaluated independently.
package motion

import "strings"

type Kind string

const (
	KindKenBurns Kind = "kenburns"
	KindPan      Kind = "pan"
	KindZoom     Kind = "zoom"
	KindNone     Kind = "none"
)

type Direction string

const (
	DirectionIn    Direction = "in"
	DirectionOut   Direction = "out"
	DirectionLeft  Direction = "left"
	DirectionRight Direction = "right"
	DirectionUp    Direction = "up"
	DirectionDown  Direction = "down"
)

const (
	// ScalePerIntensity is the extra zoom reached at intensity 1.
	ScalePerIntensity = 0.3
	// TranslatePerIntensity is the pan distance, in percent of the frame,
	// reached at intensity 1.
	TranslatePerIntensity = 5.0
	DefaultIntensity      = 0.5
)

// Animation describes the motion applied to one scene image.
type Animation struct {
	Kind      Kind      `json:"kind"`
	Direction Direction `json:"direction,omitempty"`
	Intensity float64   `json:"intensity"`
}

// Transform is applied around the image center. Translations are percent of
// the frame size.
type Transform struct {
	Scale      float64 `json:"scale"`
	TranslateX float64 `json:"translate_x"`
	TranslateY float64 `json:"translate_y"`
}

// Identity is the untransformed state.
var Identity = Transform{Scale: 1}

// Progress maps a frame onto [0,1] across durationFrames, clamping outside
// the interval.
func Progress(frame, durationFrames int) float64 {
	if durationFrames <= 0 {
		return 0
	}
	return clamp01(float64(frame) / float64(durationFrames))
}

// Lerp interpolates linearly between from and to at progress p in [0,1].
func Lerp(from, to, p float64) float64 {
	return from + (to-from)*clamp01(p)
}

// Compute returns the image transform at frame for a scene lasting
// durationFrames.
func Compute(frame, durationFrames int, a Animation) Transform {
	p := Progress(frame, durationFrames)
	intensity := clamp01(a.Intensity)
	maxScale := 1 + intensity*ScalePerIntensity
	maxTranslate := intensity * TranslatePerIntensity

	switch a.Kind {
	case KindKenBurns:
		if a.Direction == DirectionOut {
			return Transform{
				Scale:      Lerp(maxScale, 1, p),
				TranslateX: Lerp(maxTranslate, 0, p),
				TranslateY: Lerp(-maxTranslate*0.5, 0, p),
			}
		}
		return Transform{
			Scale:      Lerp(1, maxScale, p),
			TranslateX: Lerp(0, maxTranslate, p),
			TranslateY: Lerp(0, -maxTranslate*0.5, p),
		}

	case KindZoom:
		if a.Direction == DirectionOut {
			return Transform{Scale: Lerp(maxScale, 1, p)}
		}
		return Transform{Scale: Lerp(1, maxScale, p)}

	case KindPan:
		// Hold the zoom so the moving image never exposes an edge.
		t := Transform{Scale: maxScale}
		switch a.Direction {
		case DirectionRight:
			t.TranslateX = Lerp(-maxTranslate, maxTranslate, p)
		case DirectionUp:
			t.TranslateY = Lerp(maxTranslate, -maxTranslate, p)
		case DirectionDown:
			t.TranslateY = Lerp(-maxTranslate, maxTranslate, p)
		default:
			t.TranslateX = Lerp(maxTranslate, -maxTranslate, p)
		}
		return t

	default:
		return Identity
	}
}

var rotation = []Animation{
	{Kind: KindKenBurns, Direction: DirectionIn, Intensity: DefaultIntensity},
	{Kind: KindPan, Direction: DirectionLeft, Intensity: DefaultIntensity},
	{Kind: KindKenBurns, Direction: DirectionOut, Intensity: DefaultIntensity},
	{Kind: KindPan, Direction: DirectionUp, Intensity: DefaultIntensity},
	{Kind: KindZoom, Direction: DirectionIn, Intensity: DefaultIntensity},
	{Kind: KindPan, Direction: DirectionRight, Intensity: DefaultIntensity},
}

// Choose picks an animation for a scene from its camera hint, falling back
// to a fixed rotation keyed by scene position so renders are reproducible.
func Choose(index int, cameraAngle string) Animation {
	cam := strings.ToLower(cameraAngle)
	switch {
	case strings.Contains(cam, "close"):
		return Animation{Kind: KindZoom, Direction: DirectionIn, Intensity: DefaultIntensity}
	case strings.Contains(cam, "wide"), strings.Contains(cam, "establishing"):
		return Animation{Kind: KindKenBurns, Direction: DirectionOut, Intensity: DefaultIntensity}
	case strings.Contains(cam, "pan"), strings.Contains(cam, "tracking"):
		return Animation{Kind: KindPan, Direction: DirectionLeft, Intensity: DefaultIntensity}
	case strings.Contains(cam, "static"):
		return Animation{Kind: KindNone}
	}
	if index < 0 {
		index = -index
	}
	return rotation[index%len(rotation)]
}

func clamp01(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
