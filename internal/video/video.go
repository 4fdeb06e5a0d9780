// Package video animates a scene's still image into a short clip through an
// asynchronous image-to-video provider.
package video

import (
	"context"
	"fmt"
	"strings"
)

// Kind identifies a video provider.
type Kind string

const (
	KindXAI Kind = "xai"
	KindVeo Kind = "veo"
)

// ParseKind accepts a provider name. "none" and "" return ok=false with no
// error: video clips are optional.
func ParseKind(s string) (k Kind, ok bool, err error) {
	switch v := strings.ToLower(strings.TrimSpace(s)); v {
	case "", "none":
		return "", false, nil
	case string(KindXAI), string(KindVeo):
		return Kind(v), true, nil
	}
	return "", false, fmt.Errorf("unknown video provider %q", s)
}

// Request describes one clip. URL backends read ImageURL, inline backends
// read ImageBytes.
type Request struct {
	Prompt      string
	ImageURL    string
	ImageBytes  []byte
	ImageMIME   string
	DurationSec int
	AspectRatio string
}

// Clip is a generated MP4.
type Clip struct {
	Data     []byte
	MIMEType string
}

// Generator produces one clip per call, blocking until the provider's job
// reaches a terminal state.
type Generator interface {
	Kind() Kind
	RequiresURLs() bool
	Generate(ctx context.Context, req Request) (*Clip, error)
}

func clampDuration(sec, lo, hi, def int) int {
	if sec <= 0 {
		return def
	}
	return max(lo, min(hi, sec))
}

// motionPrompt appends the guidance shared by every provider: keep the
// source frame's look and avoid generated audio.
func motionPrompt(raw string) string {
	return strings.TrimSpace(raw) + `

Maintain visual consistency with the input image throughout the video. Preserve the color palette, lighting, and subject from the source frame.
Generate subtle, natural, cinematic movement. Avoid sudden jerky motion, morphing, or style changes between frames.
Silent video only, no generated audio or dialogue.`
}
