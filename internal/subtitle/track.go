package subtitle

// Track schedules the segments of one scene's narration.
type Track struct {
	Segments []Segment
	AudioMs  int
}

// NewTrack segments text against the measured audio duration.
func NewTrack(text string, audioMs int) Track {
	return Track{Segments: Split(text, audioMs), AudioMs: audioMs}
}

// Cue is what should be on screen at a moment.
type Cue struct {
	Segment Segment
	Opacity float64
}

// At returns the cue visible elapsedMs into the scene. Nothing is shown
// before the narration starts or once the audio has ended, even when the
// scene itself runs longer.
func (t Track) At(elapsedMs int) (Cue, bool) {
	if len(t.Segments) == 0 || t.AudioMs <= 0 || elapsedMs < 0 || elapsedMs >= t.AudioMs {
		return Cue{}, false
	}
	var seg Segment
	for _, s := range t.Segments {
		if elapsedMs >= s.StartMs && elapsedMs < s.StartMs+s.DurationMs {
			seg = s
			break
		}
	}
	if seg.DurationMs == 0 || seg.Display() == "" {
		return Cue{}, false
	}
	return Cue{Segment: seg, Opacity: fadeOpacity(elapsedMs-seg.StartMs, seg.DurationMs)}, true
}

func fadeOpacity(local, slot int) float64 {
	fade := FadeMs
	if 2*fade > slot {
		fade = slot / 2
	}
	if fade <= 0 {
		return 1
	}
	op := 1.0
	if local < fade {
		op = float64(local) / float64(fade)
	}
	if rest := slot - local; rest < fade {
		op = min(op, float64(rest)/float64(fade))
	}
	return op
}
