package speech

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/rs/zerolog"
)

const (
	CartesiaAPIVersion     = "2024-06-10"
	cartesiaBaseURL        = "https://api.cartesia.ai"
	cartesiaDefaultModel   = "sonic-english"
	cartesiaDefaultVoiceID = "a0e99841-438c-4a64-b679-ae501e7d6091"
)

// cartesiaPCM is the format requested from /tts/bytes. Raw samples let the
// exact duration be computed from the byte count.
var cartesiaPCM = PCMFormat{SampleRate: 44100, Channels: 1, BitsPerSample: 16}

type CartesiaConfig struct {
	APIKey  string
	BaseURL string
	VoiceID string
	ModelID string
	// Emotion is an optional delivery hint such as "calm" or "excited".
	Emotion string
}

// Cartesia synthesizes raw PCM and wraps it into a WAV container.
type Cartesia struct {
	apiKey  string
	baseURL string
	voiceID string
	modelID string
	emotion string
	client  *http.Client
	log     zerolog.Logger
}

var _ Synthesizer = (*Cartesia)(nil)

func NewCartesia(cfg CartesiaConfig, log zerolog.Logger) *Cartesia {
	if cfg.BaseURL == "" {
		cfg.BaseURL = cartesiaBaseURL
	}
	if cfg.VoiceID == "" {
		cfg.VoiceID = cartesiaDefaultVoiceID
	}
	if cfg.ModelID == "" {
		cfg.ModelID = cartesiaDefaultModel
	}
	return &Cartesia{
		apiKey:  cfg.APIKey,
		baseURL: strings.TrimSuffix(cfg.BaseURL, "/"),
		voiceID: cfg.VoiceID,
		modelID: cfg.ModelID,
		emotion: cfg.Emotion,
		client:  &http.Client{Timeout: 60 * time.Second},
		log:     log.With().Str("component", "speech").Str("provider", string(KindCartesia)).Logger(),
	}
}

func (s *Cartesia) Kind() Kind { return KindCartesia }

type cartesiaRequest struct {
	ModelID      string                    `json:"model_id"`
	Transcript   string                    `json:"transcript"`
	Voice        cartesiaVoice             `json:"voice"`
	Language     string                    `json:"language,omitempty"`
	OutputFormat cartesiaOutputFormat      `json:"output_format"`
	Config       *cartesiaGenerationConfig `json:"generation_config,omitempty"`
}

type cartesiaVoice struct {
	Mode string `json:"mode"`
	ID   string `json:"id"`
}

type cartesiaOutputFormat struct {
	Container  string `json:"container"`
	Encoding   string `json:"encoding,omitempty"`
	SampleRate int    `json:"sample_rate"`
}

type cartesiaGenerationConfig struct {
	Volume  *float64 `json:"volume,omitempty"`
	Speed   *float64 `json:"speed,omitempty"`
	Emotion *string  `json:"emotion,omitempty"`
}

func (s *Cartesia) Synthesize(ctx context.Context, text, voice string) (*Audio, error) {
	if strings.TrimSpace(text) == "" {
		return nil, apperr.InvalidRequest(string(KindCartesia), "narration text is empty")
	}
	if s.apiKey == "" {
		return nil, apperr.Auth(string(KindCartesia), "CARTESIA_API_KEY is not set")
	}
	if voice == "" {
		voice = s.voiceID
	}

	speed, volume := narrationSpeed, 1.4
	gen := &cartesiaGenerationConfig{Speed: &speed, Volume: &volume}
	if s.emotion != "" {
		emotion := s.emotion
		gen.Emotion = &emotion
	}
	body, err := json.Marshal(cartesiaRequest{
		ModelID:    s.modelID,
		Transcript: text,
		Voice:      cartesiaVoice{Mode: "id", ID: voice},
		Language:   "en",
		OutputFormat: cartesiaOutputFormat{
			Container:  "raw",
			Encoding:   "pcm_s16le",
			SampleRate: cartesiaPCM.SampleRate,
		},
		Config: gen,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, s.baseURL+"/tts/bytes", bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.apiKey)
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Cartesia-Version", CartesiaAPIVersion)

	pcm, err := doAudio(s.client, req, string(KindCartesia))
	if err != nil {
		s.log.Warn().Err(err).Str("voice", voice).Msg("synthesis failed")
		return nil, err
	}
	wav, err := WrapPCM(pcm, cartesiaPCM)
	if err != nil {
		return nil, err
	}
	duration := cartesiaPCM.DurationMs(len(wav) - 44)

	s.log.Info().Str("voice", voice).Int("bytes", len(wav)).Int("duration_ms", duration).Msg("speech generated")
	return &Audio{Data: wav, MIMEType: "audio/wav", Format: "wav", DurationMs: duration}, nil
}
