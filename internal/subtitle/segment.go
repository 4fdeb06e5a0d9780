// Package subtitle splits narration into timed display segments that follow
// the measured length of the narration audio.
package subtitle

import (
	"math"
	"strings"
	"unicode"
)

const (
	// SecondsPerSegment sets how many segments a narration gets.
	SecondsPerSegment = 10
	// TerminatorWindow is how far either side of the target offset a
	// sentence terminator may be.
	TerminatorWindow = 15
	// MinLeadRunes keeps a terminator from producing a tiny segment.
	MinLeadRunes = 10
	// BackoffWindow is how far before the target a comma or space may be.
	BackoffWindow = 20
	// FadeMs is the fade-in and fade-out inside each segment's slot.
	FadeMs = 300
)

// Segment is one contiguous slice of the narration. Text is exact: joining
// all Text fields reproduces the input.
type Segment struct {
	Index      int    `json:"index"`
	Text       string `json:"text"`
	StartMs    int    `json:"start_ms"`
	DurationMs int    `json:"duration_ms"`
}

// Display returns the text as shown on screen.
func (s Segment) Display() string {
	return strings.TrimSpace(s.Text)
}

// DurationFrames converts the segment's slot to frames at fps.
func (s Segment) DurationFrames(fps int) int {
	return int(math.Round(float64(s.DurationMs) * float64(fps) / 1000))
}

// Count returns the number of segments used for audio of the given length.
func Count(audioMs int) int {
	return max(1, audioMs/(SecondsPerSegment*1000))
}

// Split cuts text into Count(audioMs) segments and gives each an equal share
// of the audio. The count never exceeds the number of characters so no
// segment is forced empty.
func Split(text string, audioMs int) []Segment {
	runes := []rune(text)
	count := Count(audioMs)
	if count > len(runes) {
		count = max(1, len(runes))
	}
	target := int(math.Ceil(float64(len(runes)) / float64(count)))

	segs := make([]Segment, 0, count)
	pos := 0
	for i := 0; i < count-1; i++ {
		rem := runes[pos:]
		cut := findCut(rem, target)
		segs = append(segs, Segment{Index: i, Text: string(rem[:cut])})
		pos += cut
	}
	segs = append(segs, Segment{Index: count - 1, Text: string(runes[pos:])})

	slot := 0
	if audioMs > 0 {
		slot = audioMs / count
	}
	for i := range segs {
		segs[i].StartMs = i * slot
		segs[i].DurationMs = slot
	}
	if audioMs > 0 {
		last := &segs[len(segs)-1]
		last.DurationMs = audioMs - last.StartMs
	}
	return segs
}

// findCut returns how many runes of rem belong to the next segment.
func findCut(rem []rune, target int) int {
	if len(rem) == 0 {
		return 0
	}
	if target >= len(rem) {
		return len(rem)
	}

	best := -1
	for d := 0; d <= TerminatorWindow; d++ {
		for _, j := range []int{target - d, target + d} {
			if j < MinLeadRunes || j >= len(rem) {
				continue
			}
			if isTerminator(rem[j]) {
				best = j
				break
			}
		}
		if best >= 0 {
			return best + 1
		}
	}

	for j := target; j >= 1 && j >= target-BackoffWindow; j-- {
		if j < len(rem) && (rem[j] == ',' || rem[j] == '，' || unicode.IsSpace(rem[j])) {
			return j + 1
		}
	}
	return target
}

func isTerminator(r rune) bool {
	switch r {
	case '.', '!', '?', '。', '！', '？':
		return true
	}
	return false
}
