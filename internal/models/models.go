package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
)

// Enums
type RenderStatus string

const (
	RenderStatusQueued     RenderStatus = "queued"
	RenderStatusDrafting   RenderStatus = "drafting"
	RenderStatusGenerating RenderStatus = "generating"
	RenderStatusComposing  RenderStatus = "composing"
	RenderStatusCompleted  RenderStatus = "completed"
	RenderStatusFailed     RenderStatus = "failed"
)

// Valid reports whether s is a known status.
func (s RenderStatus) Valid() bool {
	switch s {
	case RenderStatusQueued, RenderStatusDrafting, RenderStatusGenerating,
		RenderStatusComposing, RenderStatusCompleted, RenderStatusFailed:
		return true
	}
	return false
}

type SceneStatus string

const (
	SceneStatusPending SceneStatus = "pending"
	SceneStatusReady   SceneStatus = "ready"
	SceneStatusFailed  SceneStatus = "failed"
)

// Story beats used to pick the anchor scene and variation strength.
const (
	BeatHook         = "hook"
	BeatSetup        = "setup"
	BeatProblem      = "problem"
	BeatSolution     = "solution"
	BeatProductIntro = "product_intro"
	BeatDemo         = "demonstration"
	BeatBenefit      = "benefit"
	BeatSocialProof  = "social_proof"
	BeatClimax       = "climax"
	BeatAppeal       = "appeal"
	BeatCallToAction = "call_to_action"
)

// Models

// Scene is one narrated shot of a scenario.
type Scene struct {
	ID               string  `json:"id"`
	Order            int     `json:"order"`
	DurationSeconds  float64 `json:"duration_seconds"`
	Narration        string  `json:"narration"`
	ImageDescription string  `json:"image_description"`
	Mood             string  `json:"mood,omitempty"`
	CameraAngle      string  `json:"camera_angle,omitempty"`
	StoryBeat        string  `json:"story_beat,omitempty"`
	MotionPrompt     string  `json:"motion_prompt,omitempty"`
}

// Scenario is the full input of a render.
type Scenario struct {
	Title       string  `json:"title,omitempty"`
	AspectRatio string  `json:"aspect_ratio,omitempty"` // "9:16", "16:9", "1:1"
	Voice       string  `json:"voice,omitempty"`        // TTS voice override
	Scenes      []Scene `json:"scenes"`
	// ReferenceImageURLs are 0-4 product or character photos for the anchor.
	ReferenceImageURLs []string `json:"reference_image_urls,omitempty"`
	Transition         string   `json:"transition,omitempty"` // fade, dissolve, slide, zoom, none
	TransitionSeconds  float64  `json:"transition_seconds,omitempty"`
	Subtitles          *bool    `json:"subtitles,omitempty"`
	VariationBias      float64  `json:"variation_bias,omitempty"`
}

func (s Scenario) Value() (driver.Value, error) {
	return json.Marshal(s)
}

func (s *Scenario) Scan(value interface{}) error {
	if value == nil {
		*s = Scenario{}
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("scenario: unsupported scan type %T", value)
	}
	return json.Unmarshal(bytes, s)
}

// SceneResult records what the pipeline produced for one scene.
type SceneResult struct {
	Index     int         `json:"index"`
	SceneID   string      `json:"scene_id"`
	Status    SceneStatus `json:"status"`
	ImageKey  string      `json:"image_key,omitempty"`
	ImageURL  string      `json:"image_url,omitempty"`
	AudioKey  string      `json:"audio_key,omitempty"`
	AudioMs   int         `json:"audio_ms,omitempty"`
	ClipKey   string      `json:"clip_key,omitempty"`
	Strength  float64     `json:"strength,omitempty"`
	IsAnchor  bool        `json:"is_anchor,omitempty"`
	ErrorKind string      `json:"error_kind,omitempty"`
	Error     string      `json:"error,omitempty"`
}

type SceneResults []SceneResult

func (r SceneResults) Value() (driver.Value, error) {
	if r == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(r)
}

func (r *SceneResults) Scan(value interface{}) error {
	if value == nil {
		*r = nil
		return nil
	}
	bytes, ok := value.([]byte)
	if !ok {
		return fmt.Errorf("scene results: unsupported scan type %T", value)
	}
	return json.Unmarshal(bytes, r)
}

type Render struct {
	ID           uuid.UUID    `json:"id"`
	Topic        *string      `json:"topic,omitempty"`
	Scenario     Scenario     `json:"scenario"`
	Status       RenderStatus `json:"status"`
	Scenes       SceneResults `json:"scenes,omitempty"`
	OutputKey    *string      `json:"output_key,omitempty"`
	DurationMs   *int         `json:"duration_ms,omitempty"`
	ErrorKind    *string      `json:"error_kind,omitempty"`
	ErrorMessage *string      `json:"error_message,omitempty"`
	CreatedAt    time.Time    `json:"created_at"`
	UpdatedAt    time.Time    `json:"updated_at"`
}

// GenerationJob is the persisted form of one tracked provider request.
type GenerationJob struct {
	ID           uuid.UUID  `json:"id"`
	RenderID     *uuid.UUID `json:"render_id,omitempty"`
	Owner        string     `json:"owner,omitempty"`
	Provider     string     `json:"provider"`
	ExternalID   string     `json:"external_id"`
	Status       string     `json:"status"`
	Attempts     int        `json:"attempts"`
	SubmittedAt  time.Time  `json:"submitted_at"`
	LastPolledAt *time.Time `json:"last_polled_at,omitempty"`
	ErrorKind    *string    `json:"error_kind,omitempty"`
	ErrorMessage *string    `json:"error_message,omitempty"`
	UpdatedAt    time.Time  `json:"updated_at"`
}

// DTOs for API responses
type RenderResponse struct {
	Render
	OutputURL   *string `json:"output_url,omitempty"`
	UserMessage *string `json:"user_message,omitempty"`
}

type CreateRenderRequest struct {
	Topic      *string   `json:"topic,omitempty"`       // Drafted into a scenario when Scenario is nil
	SceneCount *int      `json:"scene_count,omitempty"` // Default: 6
	Scenario   *Scenario `json:"scenario,omitempty"`
}

type CreateRenderResponse struct {
	RenderID uuid.UUID    `json:"render_id"`
	Status   RenderStatus `json:"status"`
}

type ListRendersResponse struct {
	Renders []RenderResponse `json:"renders"`
	Limit   int              `json:"limit"`
	Offset  int              `json:"offset"`
}

// Validate checks a scenario supplied directly by a client.
func (s Scenario) Validate() error {
	if len(s.Scenes) == 0 {
		return fmt.Errorf("scenario has no scenes")
	}
	if len(s.ReferenceImageURLs) > 4 {
		return fmt.Errorf("at most 4 reference images are supported, got %d", len(s.ReferenceImageURLs))
	}
	for i, sc := range s.Scenes {
		if sc.DurationSeconds <= 0 {
			return fmt.Errorf("scene %d: duration_seconds must be positive", i)
		}
		if sc.ImageDescription == "" {
			return fmt.Errorf("scene %d: image_description is required", i)
		}
	}
	return nil
}
