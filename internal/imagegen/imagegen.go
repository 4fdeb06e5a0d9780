// Package imagegen adapts image-generation providers behind one Backend
// interface. The concrete backend is chosen once at startup from a Kind.
package imagegen

import (
	"context"
	"fmt"
	"strings"
)

// Kind identifies an image provider.
type Kind string

const (
	KindGemini Kind = "gemini"
	KindFal    Kind = "fal"
)

func ParseKind(s string) (Kind, error) {
	switch k := Kind(strings.ToLower(strings.TrimSpace(s))); k {
	case KindGemini, KindFal:
		return k, nil
	}
	return "", fmt.Errorf("unknown image provider %q", s)
}

// Mode selects how the provider uses the supplied images.
type Mode string

const (
	// ModeSingle generates from the prompt alone.
	ModeSingle Mode = "single"
	// ModeMultiReference generates from the prompt and 1-4 reference images.
	ModeMultiReference Mode = "multi_reference"
	// ModeImageToImage derives a new image from Source, deviating by Strength.
	ModeImageToImage Mode = "image_to_image"
)

// MaxReferences is the most reference images a multi-reference call accepts.
const MaxReferences = 4

// Ref is an input image. Backends that take inline bytes use Data; backends
// that need HTTPS inputs use URL.
type Ref struct {
	Data     []byte
	MIMEType string
	URL      string
}

type Request struct {
	Mode        Mode
	Prompt      string
	AspectRatio string
	References  []Ref
	Source      *Ref
	// Strength in [0,1] is how far an image-to-image result may move away
	// from Source.
	Strength float64
}

// Validate checks that the request carries the images its mode needs.
func (r Request) Validate() error {
	if strings.TrimSpace(r.Prompt) == "" {
		return fmt.Errorf("prompt is required")
	}
	switch r.Mode {
	case ModeSingle:
	case ModeMultiReference:
		if len(r.References) == 0 || len(r.References) > MaxReferences {
			return fmt.Errorf("multi_reference needs 1-%d references, got %d", MaxReferences, len(r.References))
		}
	case ModeImageToImage:
		if r.Source == nil {
			return fmt.Errorf("image_to_image needs a source image")
		}
		if r.Strength < 0 || r.Strength > 1 {
			return fmt.Errorf("strength %v outside [0,1]", r.Strength)
		}
	default:
		return fmt.Errorf("unknown mode %q", r.Mode)
	}
	return nil
}

// Image is a generated image.
type Image struct {
	Data     []byte
	MIMEType string
	// URL is set when the provider hosts the result.
	URL string
}

// Backend generates one image per call.
type Backend interface {
	Kind() Kind
	// RequiresURLs reports whether references must be reachable HTTPS URLs
	// rather than inline bytes.
	RequiresURLs() bool
	Generate(ctx context.Context, req Request) (*Image, error)
}

func orientation(aspectRatio string) string {
	switch aspectRatio {
	case "16:9":
		return "Landscape"
	case "1:1":
		return "Square"
	case "4:5":
		return "Tall"
	default:
		return "Portrait"
	}
}

// composePrompt adds mode-specific guidance to the scene description.
func composePrompt(req Request) string {
	var b strings.Builder
	switch req.Mode {
	case ModeMultiReference:
		b.WriteString("REFERENCE IMAGES: The attached images show the product or character that must appear in this scene. Keep its shape, colors, materials and proportions exactly as shown. Do NOT copy the backgrounds of the references.\n\n")
	case ModeImageToImage:
		fmt.Fprintf(&b, "SOURCE IMAGE: Keep the same subject, identity and visual style as the attached image. %s (variation strength %.2f).\n\n", variationGuidance(req.Strength), req.Strength)
	}
	b.WriteString("SCENE TO DEPICT:\n")
	b.WriteString(req.Prompt)
	ar := req.AspectRatio
	if ar == "" {
		ar = "9:16"
	}
	fmt.Fprintf(&b, "\n\nOutput: %s %s, highest quality.", orientation(ar), ar)
	return b.String()
}

func variationGuidance(strength float64) string {
	switch {
	case strength < 0.35:
		return "Change only the pose, framing and lighting slightly"
	case strength < 0.55:
		return "Change the setting and composition while the subject stays recognizable"
	default:
		return "Reimagine the setting, camera and mood freely while the subject stays recognizable"
	}
}
