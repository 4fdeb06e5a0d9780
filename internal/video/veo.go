package video

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/jobs"
	"github.com/rs/zerolog"
	"google.golang.org/genai"
)

const (
	defaultVeoModel  = "veo-3.1-generate-preview"
	veoMinDuration   = 4
	veoMaxDuration   = 8
	veoDefaultAspect = "9:16"
)

type VeoConfig struct {
	APIKey string
	Model  string
	Poll   jobs.Options
}

// veoAPI is the part of the genai client Veo uses.
type veoAPI interface {
	GenerateVideos(ctx context.Context, model, prompt string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error)
	GetVideosOperation(ctx context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error)
	Download(ctx context.Context, v *genai.Video) ([]byte, error)
}

type genaiVeo struct{ c *genai.Client }

func (g genaiVeo) GenerateVideos(ctx context.Context, model, prompt string, image *genai.Image, config *genai.GenerateVideosConfig) (*genai.GenerateVideosOperation, error) {
	return g.c.Models.GenerateVideos(ctx, model, prompt, image, config)
}

func (g genaiVeo) GetVideosOperation(ctx context.Context, op *genai.GenerateVideosOperation) (*genai.GenerateVideosOperation, error) {
	return g.c.Operations.GetVideosOperation(ctx, op, nil)
}

func (g genaiVeo) Download(ctx context.Context, v *genai.Video) ([]byte, error) {
	return g.c.Files.Download(ctx, genai.NewDownloadURIFromVideo(v), nil)
}

// Veo animates the still passed as the first frame through Google's Veo
// long-running operations.
type Veo struct {
	api    veoAPI
	model  string
	poller *jobs.Poller[Request, *genai.Video]
	log    zerolog.Logger
}

var _ Generator = (*Veo)(nil)

// NewVeo creates the genai client once; the same API key serves Gemini and
// Veo.
func NewVeo(ctx context.Context, cfg VeoConfig, log zerolog.Logger, opts ...jobs.Option) (*Veo, error) {
	if cfg.APIKey == "" {
		return nil, apperr.Auth(string(KindVeo), "GEMINI_API_KEY is not set")
	}
	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey:  cfg.APIKey,
		Backend: genai.BackendGeminiAPI,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}
	return newVeo(genaiVeo{client}, cfg, log, opts...), nil
}

func newVeo(api veoAPI, cfg VeoConfig, log zerolog.Logger, opts ...jobs.Option) *Veo {
	if cfg.Model == "" {
		cfg.Model = defaultVeoModel
	}
	v := &Veo{
		api:   api,
		model: cfg.Model,
		log:   log.With().Str("component", "video").Str("provider", string(KindVeo)).Logger(),
	}
	v.poller = jobs.NewPoller[Request, *genai.Video](veoBackend{v}, cfg.Poll, append([]jobs.Option{jobs.WithLogger(log)}, opts...)...)
	return v
}

func (v *Veo) Kind() Kind         { return KindVeo }
func (v *Veo) RequiresURLs() bool { return false }

func (v *Veo) Generate(ctx context.Context, req Request) (*Clip, error) {
	video, err := v.poller.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	data := video.VideoBytes
	if len(data) == 0 {
		data, err = v.api.Download(ctx, video)
		if err != nil {
			return nil, fmt.Errorf("failed to download generated video: %w", classifyGenAI(err))
		}
	}
	if len(data) == 0 {
		return nil, apperr.Provider(string(KindVeo), "downloaded video is empty")
	}
	mime := video.MIMEType
	if mime == "" {
		mime = "video/mp4"
	}
	v.log.Info().Int("bytes", len(data)).Msg("video downloaded")
	return &Clip{Data: data, MIMEType: mime}, nil
}

type veoBackend struct{ v *Veo }

func (b veoBackend) Name() string { return string(KindVeo) }

func (b veoBackend) Submit(ctx context.Context, req Request) (string, error) {
	if len(req.ImageBytes) == 0 {
		return "", apperr.InvalidRequest(string(KindVeo), "first frame image is required")
	}
	mime := req.ImageMIME
	if mime == "" {
		mime = "image/png"
	}
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = veoDefaultAspect
	}
	duration := int32(clampDuration(req.DurationSec, veoMinDuration, veoMaxDuration, veoMaxDuration))
	config := &genai.GenerateVideosConfig{
		AspectRatio:      aspect,
		PersonGeneration: "allow_adult",
		NumberOfVideos:   1,
		DurationSeconds:  &duration,
	}

	op, err := b.v.api.GenerateVideos(ctx, b.v.model, motionPrompt(req.Prompt), &genai.Image{ImageBytes: req.ImageBytes, MIMEType: mime}, config)
	if err != nil {
		return "", classifyGenAI(err)
	}
	b.v.log.Info().Str("operation", op.Name).Int32("duration", duration).Msg("video generation submitted")
	return op.Name, nil
}

func (b veoBackend) Poll(ctx context.Context, name string) (jobs.PollResult[*genai.Video], error) {
	op, err := b.v.api.GetVideosOperation(ctx, &genai.GenerateVideosOperation{Name: name})
	if err != nil {
		return jobs.PollResult[*genai.Video]{}, classifyGenAI(err)
	}
	return veoPollResult(op), nil
}

func veoPollResult(op *genai.GenerateVideosOperation) jobs.PollResult[*genai.Video] {
	if !op.Done {
		return jobs.PollResult[*genai.Video]{State: jobs.StateProcessing}
	}
	if len(op.Error) > 0 {
		msg, _ := op.Error["message"].(string)
		if msg == "" {
			raw, _ := json.Marshal(op.Error)
			msg = string(raw)
		}
		return jobs.PollResult[*genai.Video]{State: jobs.StateFailed, Message: msg}
	}
	if op.Response == nil {
		return jobs.PollResult[*genai.Video]{State: jobs.StateFailed, Message: "completed operation has no response"}
	}
	if op.Response.RAIMediaFilteredCount > 0 {
		category := "safety"
		if len(op.Response.RAIMediaFilteredReasons) > 0 {
			category = strings.Join(op.Response.RAIMediaFilteredReasons, ", ")
		}
		return jobs.PollResult[*genai.Video]{State: jobs.StateFailed, Err: apperr.ContentPolicy(string(KindVeo), category)}
	}
	if len(op.Response.GeneratedVideos) == 0 || op.Response.GeneratedVideos[0].Video == nil {
		return jobs.PollResult[*genai.Video]{State: jobs.StateFailed, Message: "no videos in response"}
	}
	return jobs.PollResult[*genai.Video]{State: jobs.StateSucceeded, Result: op.Response.GeneratedVideos[0].Video}
}

// classifyGenAI maps genai.APIError by its HTTP status code.
func classifyGenAI(err error) error {
	var apiErr genai.APIError
	if errors.As(err, &apiErr) {
		return apperr.FromHTTPStatus(string(KindVeo), apiErr.Code, []byte(apiErr.Message), nil)
	}
	return apperr.FromTransport(string(KindVeo), err)
}
