// Package speech turns scene narration into audio. Both supported providers
// sit behind Synthesizer so the worker never knows which one is configured.
package speech

import (
	"context"
	"fmt"
	"strings"
)

// Kind identifies a text-to-speech provider.
type Kind string

const (
	KindElevenLabs Kind = "elevenlabs"
	KindCartesia   Kind = "cartesia"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindElevenLabs, KindCartesia:
		return k, nil
	}
	return "", fmt.Errorf("unknown tts provider %q", s)
}

// Audio is one synthesized narration clip.
type Audio struct {
	Data       []byte
	MIMEType   string
	Format     string // "mp3" or "wav"
	DurationMs int
}

// Synthesizer converts text to speech. voice overrides the provider's
// default voice id when non-empty.
type Synthesizer interface {
	Kind() Kind
	Synthesize(ctx context.Context, text, voice string) (*Audio, error)
}

// DurationProber measures encoded audio whose length the provider does not
// report.
type DurationProber func(ctx context.Context, data []byte, format string) (int, error)

// estimateDurationMs approximates narration length at ~140 words per minute
// scaled by speed.
func estimateDurationMs(text string, speed float64) int {
	if speed <= 0 {
		speed = 1
	}
	words := len(strings.Fields(text))
	minutes := float64(words) / (140.0 * speed)
	return int(minutes * 60 * 1000)
}
