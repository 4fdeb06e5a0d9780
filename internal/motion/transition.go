package motion

import "fmt"

type TransitionType string

const (
	TransitionFade     TransitionType = "fade"
	TransitionDissolve TransitionType = "dissolve"
	TransitionSlide    TransitionType = "slide"
	TransitionZoom     TransitionType = "zoom"
	TransitionNone     TransitionType = "none"
)

// ParseTransitionType validates a transition name. An empty string means none.
func ParseTransitionType(s string) (TransitionType, error) {
	switch t := TransitionType(s); t {
	case TransitionFade, TransitionDissolve, TransitionSlide, TransitionZoom, TransitionNone:
		return t, nil
	case "":
		return TransitionNone, nil
	default:
		return TransitionNone, fmt.Errorf("unknown transition type %q", s)
	}
}

// Layer is the state of one of the two images taking part in a transition.
type Layer struct {
	Opacity   float64   `json:"opacity"`
	Transform Transform `json:"transform"`
}

// TransitionFrame holds the outgoing (From) and incoming (To) layers.
type TransitionFrame struct {
	From Layer `json:"from"`
	To   Layer `json:"to"`
}

const zoomTransitionScale = 1.5

// ComputeTransition returns both layers at frame within a transition lasting
// durationFrames. dir only matters for slides and defaults to left.
func ComputeTransition(frame, durationFrames int, t TransitionType, dir Direction) TransitionFrame {
	p := Progress(frame, durationFrames)
	if durationFrames <= 0 && frame >= 0 {
		p = 1
	}
	from := Layer{Opacity: 1, Transform: Identity}
	to := Layer{Opacity: 1, Transform: Identity}

	switch t {
	case TransitionFade:
		from.Opacity = 1 - p
		to.Opacity = p

	case TransitionDissolve:
		s := smoothstep(p)
		from.Opacity = 1 - s
		to.Opacity = s

	case TransitionSlide:
		offset := p * 100
		switch dir {
		case DirectionRight:
			from.Transform.TranslateX = offset
			to.Transform.TranslateX = offset - 100
		case DirectionUp:
			from.Transform.TranslateY = -offset
			to.Transform.TranslateY = 100 - offset
		case DirectionDown:
			from.Transform.TranslateY = offset
			to.Transform.TranslateY = offset - 100
		default:
			from.Transform.TranslateX = -offset
			to.Transform.TranslateX = 100 - offset
		}

	case TransitionZoom:
		from.Transform.Scale = Lerp(1, zoomTransitionScale, p)
		to.Transform.Scale = Lerp(zoomTransitionScale, 1, p)
		if p < 0.5 {
			from.Opacity = 1
			to.Opacity = 2 * p
		} else {
			from.Opacity = 2 * (1 - p)
			to.Opacity = 1
		}

	default:
		// Hard cut at the boundary midpoint.
		if p < 0.5 {
			to.Opacity = 0
		} else {
			from.Opacity = 0
		}
	}
	return TransitionFrame{From: from, To: to}
}

func smoothstep(p float64) float64 {
	p = clamp01(p)
	return p * p * (3 - 2*p)
}
