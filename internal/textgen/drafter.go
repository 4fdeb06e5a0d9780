// Package textgen drafts a scenario from a topic with an OpenAI chat model.
package textgen

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/models"
	"github.com/rs/zerolog"
	openai "github.com/sashabaranov/go-openai"
)

const (
	provider          = "openai"
	defaultModel      = "gpt-5-mini"
	DefaultSceneCount = 6
	MaxSceneCount     = 12
	maxLogLen         = 2000
)

type Config struct {
	APIKey  string
	BaseURL string
	Model   string
}

type Drafter struct {
	client *openai.Client
	model  string
	log    zerolog.Logger
}

func NewDrafter(cfg Config, log zerolog.Logger) *Drafter {
	oc := openai.DefaultConfig(cfg.APIKey)
	if cfg.BaseURL != "" {
		oc.BaseURL = cfg.BaseURL
	}
	if cfg.Model == "" {
		cfg.Model = defaultModel
	}
	return &Drafter{
		client: openai.NewClientWithConfig(oc),
		model:  cfg.Model,
		log:    log.With().Str("component", "textgen").Str("provider", provider).Logger(),
	}
}

type draft struct {
	Title  string         `json:"title"`
	Scenes []models.Scene `json:"scenes"`
}

// Draft asks the model for sceneCount narrated scenes about topic. The
// scenes come back ordered, with ids and a story beat each.
func (d *Drafter) Draft(ctx context.Context, topic string, sceneCount int) (*models.Scenario, error) {
	topic = strings.TrimSpace(topic)
	if topic == "" {
		return nil, apperr.InvalidRequest(provider, "topic is required")
	}
	if sceneCount <= 0 {
		sceneCount = DefaultSceneCount
	}
	if sceneCount > MaxSceneCount {
		return nil, apperr.InvalidRequest(provider, fmt.Sprintf("at most %d scenes can be drafted", MaxSceneCount))
	}

	resp, err := d.client.CreateChatCompletion(ctx, openai.ChatCompletionRequest{
		Model: d.model,
		Messages: []openai.ChatCompletionMessage{
			{Role: openai.ChatMessageRoleSystem, Content: systemPrompt(sceneCount)},
			{Role: openai.ChatMessageRoleUser, Content: fmt.Sprintf("Topic: %s\nScenes: %d", topic, sceneCount)},
		},
		ResponseFormat: &openai.ChatCompletionResponseFormat{
			Type: openai.ChatCompletionResponseFormatTypeJSONObject,
		},
		Temperature: 1.0,
	})
	if err != nil {
		return nil, classify(err)
	}
	if len(resp.Choices) == 0 {
		return nil, apperr.Provider(provider, "no choices in response")
	}
	choice := resp.Choices[0]
	if choice.FinishReason == openai.FinishReasonContentFilter {
		return nil, apperr.ContentPolicy(provider, "content_filter")
	}

	raw := choice.Message.Content
	var dr draft
	if err := json.Unmarshal([]byte(raw), &dr); err != nil {
		d.log.Warn().Err(err).Str("raw", truncate(raw)).Msg("draft parse failed")
		return nil, apperr.Wrap(apperr.KindProvider, provider, "draft is not valid JSON", err)
	}
	if len(dr.Scenes) == 0 {
		d.log.Warn().Str("raw", truncate(raw)).Msg("draft has no scenes")
		return nil, apperr.Provider(provider, "draft has no scenes")
	}

	for i := range dr.Scenes {
		sc := &dr.Scenes[i]
		var missing []string
		if strings.TrimSpace(sc.Narration) == "" {
			missing = append(missing, "narration")
		}
		if strings.TrimSpace(sc.ImageDescription) == "" {
			missing = append(missing, "image_description")
		}
		if len(missing) > 0 {
			d.log.Warn().Int("scene", i).Strs("missing", missing).Str("raw", truncate(raw)).Msg("draft scene incomplete")
			return nil, apperr.Provider(provider, fmt.Sprintf("scene %d missing required fields: %v", i, missing))
		}
		sc.Order = i
		if sc.ID == "" {
			sc.ID = fmt.Sprintf("scene-%d", i+1)
		}
		if sc.DurationSeconds <= 0 {
			sc.DurationSeconds = 5
		}
		sc.StoryBeat = strings.ToLower(strings.TrimSpace(sc.StoryBeat))
	}

	d.log.Info().Str("title", dr.Title).Int("scenes", len(dr.Scenes)).Msg("scenario drafted")
	return &models.Scenario{Title: dr.Title, Scenes: dr.Scenes}, nil
}

func systemPrompt(sceneCount int) string {
	return fmt.Sprintf(`You write short vertical video ads and stories as a sequence of narrated scenes.
Return a JSON object: {"title": string, "scenes": [ ... ]} with exactly %d scenes.
Each scene has:
- "narration": one or two spoken sentences
- "image_description": a concrete visual description of the still image
- "mood": one or two words
- "camera_angle": e.g. "close-up", "wide shot", "low angle"
- "story_beat": one of %s
- "motion_prompt": the subtle motion if the still were animated
- "duration_seconds": 3 to 8
Keep the main subject identical across scenes. Exactly one scene should introduce the product or protagonist clearly.`,
		sceneCount, strings.Join(beats, ", "))
}

var beats = []string{
	models.BeatHook, models.BeatSetup, models.BeatProblem, models.BeatSolution,
	models.BeatProductIntro, models.BeatDemo, models.BeatBenefit, models.BeatSocialProof,
	models.BeatClimax, models.BeatAppeal, models.BeatCallToAction,
}

func classify(err error) error {
	var apiErr *openai.APIError
	if errors.As(err, &apiErr) {
		return apperr.FromHTTPStatus(provider, apiErr.HTTPStatusCode, []byte(apiErr.Message), nil)
	}
	var reqErr *openai.RequestError
	if errors.As(err, &reqErr) {
		return apperr.FromHTTPStatus(provider, reqErr.HTTPStatusCode, reqErr.Body, nil)
	}
	return apperr.FromTransport(provider, err)
}

func truncate(s string) string {
	if len(s) > maxLogLen {
		return s[:maxLogLen] + "..."
	}
	return s
}
