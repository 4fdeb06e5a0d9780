package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/rs/zerolog"
)

const (
	elevenLabsBaseURL      = "https://api.elevenlabs.io"
	elevenLabsDefaultModel = "eleven_flash_v2_5"
	elevenLabsDefaultVoice = "pNInz6obpgDQGcFmaJgB"
	elevenLabsOutputFormat = "mp3_44100_128"
	narrationSpeed         = 0.85
)

type ElevenLabsConfig struct {
	APIKey  string
	BaseURL string
	VoiceID string
	ModelID string
	// Probe measures the returned MP3. Without it the duration is estimated
	// from the word count.
	Probe DurationProber
}

// ElevenLabs synthesizes MP3 narration through the text-to-speech REST API.
type ElevenLabs struct {
	apiKey  string
	baseURL string
	voiceID string
	modelID string
	probe   DurationProber
	client  *http.Client
	log     zerolog.Logger
}

var _ Synthesizer = (*ElevenLabs)(nil)

func NewElevenLabs(cfg ElevenLabsConfig, log zerolog.Logger) *ElevenLabs {
	if cfg.BaseURL == "" {
		cfg.BaseURL = elevenLabsBaseURL
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = elevenLabsDefaultVoice
	}
	if cfg.ModelID == "" {
		cfg.ModelID = elevenLabsDefaultModel
	}
	return &ElevenLabs{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		voiceID: cfg.VoiceID,
		modelID: cfg.ModelID,
		probe:   cfg.Probe,
		client:  &http.Client{Timeout: 90 * time.Second},
		log:     log.With().Str("component", "speech").Str("provider", string(KindElevenLabs)).Logger(),
	}
}

func (s *ElevenLabs) Kind() Kind { return KindElevenLabs }

type elevenLabsRequest struct {
	Text          string                   `json:"text"`
	ModelID       string                   `json:"model_id"`
	VoiceSettings *elevenLabsVoiceSettings `json:"voice_settings,omitempty"`
	Speed         *float64                 `json:"speed,omitempty"`
}

type elevenLabsVoiceSettings struct {
	Stability       float64 `json:"stability"`
	SimilarityBoost float64 `json:"similarity_boost"`
	Style           float64 `json:"style,omitempty"`
	UseSpeakerBoost bool    `json:"use_speaker_boost,omitempty"`
}

func (s *ElevenLabs) Synthesize(ctx context.Context, text, voice string) (*Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.InvalidRequest(string(KindElevenLabs), "narration text is empty")
	}
	if s.apiKey == "" {
		return nil, apperr.Auth(string(KindElevenLabs), "ELEVENLABS_API_KEY is not set")
	}
	if voice == "" {
		voice = s.voiceID
	}

	speed := narrationSpeed
	body, err := json.Marshal(elevenLabsRequest{
		Text:    text,
		ModelID: s.modelID,
		Speed:   &speed,
		VoiceSettings: &elevenLabsVoiceSettings{
			Stability:       0.60,
			SimilarityBoost: 0.80,
			Style:           0.35,
			UseSpeakerBoost: true,
		},
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/v1/text-to-speech/%s?output_format=%s", s.baseURL, voice, elevenLabsOutputFormat)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("xi-api-key", s.apiKey)

	data, err := doAudio(s.client, req, string(KindElevenLabs))
	if err != nil {
		s.log.Warn().Err(err).Str("voice", voice).Msg("synthesis failed")
		return nil, err
	}

	duration := estimateDurationMs(text, speed)
	if s.probe != nil {
		probed, err := s.probe(ctx, data, "mp3")
		if err != nil {
			s.log.Warn().Err(err).Msg("could not measure narration, using estimate")
		} else {
			duration = probed
		}
	}

	s.log.Info().Str("voice", voice).Int("bytes", len(data)).Int("duration_ms", duration).Msg("speech generated")
	return &Audio{Data: data, MIMEType: "audio/mpeg", Format: "mp3", DurationMs: duration}, nil
}

// doAudio executes req and returns the non-empty response body.
func doAudio(client *http.Client, req *http.Request, provider string) ([]byte, error) {
	resp, err := client.Do(req)
	if err != nil {
		return nil, apperr.FromTransport(provider, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Transient(provider, fmt.Errorf("read audio: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.FromHTTPStatus(provider, resp.StatusCode, data, resp.Header)
	}
	if len(data) == 0 {
		return nil, apperr.Provider(provider, "returned empty audio")
	}
	return data, nil
}
