package video

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
	"github.com/bobarin/storyreel/internal/jobs"
	"github.com/rs/zerolog"
)

const (
	xaiBaseURL           = "https://api.x.ai/v1"
	xaiVideoModel        = "grok-imagine-video"
	xaiMinDuration       = 1
	xaiMaxDuration       = 15
	xaiDefaultDuration   = 8
	xaiDefaultAspect     = "9:16"
	xaiDefaultResolution = "720p"
)

type XAIConfig struct {
	APIKey  string
	BaseURL string
	Model   string
	Poll    jobs.Options
}

// XAI drives the Grok Imagine deferred API: submit, poll by request_id,
// then download from the returned URL.
type XAI struct {
	cfg      XAIConfig
	client   *http.Client
	download *http.Client
	poller   *jobs.Poller[Request, string]
	log      zerolog.Logger
}

var _ Generator = (*XAI)(nil)

func NewXAI(cfg XAIConfig, log zerolog.Logger, opts ...jobs.Option) *XAI {
	if cfg.BaseURL == "" {
		cfg.BaseURL = xaiBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.Model == "" {
		cfg.Model = xaiVideoModel
	}
	x := &XAI{
		cfg:      cfg,
		client:   &http.Client{Timeout: 30 * time.Second},
		download: &http.Client{Timeout: 120 * time.Second},
		log:      log.With().Str("component", "video").Str("provider", string(KindXAI)).Logger(),
	}
	x.poller = jobs.NewPoller[Request, string](xaiBackend{x}, cfg.Poll, append([]jobs.Option{jobs.WithLogger(log)}, opts...)...)
	return x
}

func (x *XAI) Kind() Kind         { return KindXAI }
func (x *XAI) RequiresURLs() bool { return true }

func (x *XAI) Generate(ctx context.Context, req Request) (*Clip, error) {
	videoURL, err := x.poller.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	data, err := x.fetch(ctx, videoURL)
	if err != nil {
		return nil, fmt.Errorf("failed to download generated video: %w", err)
	}
	x.log.Info().Int("bytes", len(data)).Msg("video downloaded")
	return &Clip{Data: data, MIMEType: "video/mp4"}, nil
}

type xaiGenerationRequest struct {
	Prompt      string         `json:"prompt"`
	Model       string         `json:"model"`
	Image       *xaiImageInput `json:"image,omitempty"`
	Duration    int            `json:"duration,omitempty"`
	AspectRatio string         `json:"aspect_ratio,omitempty"`
	Resolution  string         `json:"resolution,omitempty"`
}

type xaiImageInput struct {
	URL string `json:"url"`
}

type xaiGenerationResponse struct {
	RequestID string `json:"request_id"`
}

// xaiVideoResult has no status field once the video is ready; completion is
// signalled by the video object.
type xaiVideoResult struct {
	Status string          `json:"status"`
	Video  *xaiVideoOutput `json:"video,omitempty"`
	Error  string          `json:"error"`
}

type xaiVideoOutput struct {
	URL               string `json:"url"`
	Duration          int    `json:"duration"`
	RespectModeration *bool  `json:"respect_moderation,omitempty"`
}

type xaiBackend struct{ x *XAI }

func (b xaiBackend) Name() string { return string(KindXAI) }

func (b xaiBackend) Submit(ctx context.Context, req Request) (string, error) {
	x := b.x
	if x.cfg.APIKey == "" {
		return "", apperr.Auth(string(KindXAI), "XAI_API_KEY is not set")
	}
	aspect := req.AspectRatio
	if aspect == "" {
		aspect = xaiDefaultAspect
	}
	body := xaiGenerationRequest{
		Prompt:      motionPrompt(req.Prompt),
		Model:       x.cfg.Model,
		Duration:    clampDuration(req.DurationSec, xaiMinDuration, xaiMaxDuration, xaiDefaultDuration),
		AspectRatio: aspect,
		Resolution:  xaiDefaultResolution,
	}
	if req.ImageURL != "" {
		body.Image = &xaiImageInput{URL: req.ImageURL}
	}

	jsonData, err := json.Marshal(body)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, x.cfg.BaseURL+"/videos/generations", bytes.NewReader(jsonData))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	var gr xaiGenerationResponse
	if err := x.do(httpReq, &gr); err != nil {
		return "", err
	}
	x.log.Info().Bool("has_image", req.ImageURL != "").Int("duration", body.Duration).Str("aspect", aspect).Msg("video generation submitted")
	return gr.RequestID, nil
}

func (b xaiBackend) Poll(ctx context.Context, requestID string) (jobs.PollResult[string], error) {
	x := b.x
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodGet, fmt.Sprintf("%s/videos/%s", x.cfg.BaseURL, requestID), nil)
	if err != nil {
		return jobs.PollResult[string]{}, fmt.Errorf("failed to create request: %w", err)
	}
	var res xaiVideoResult
	if err := x.do(httpReq, &res); err != nil {
		return jobs.PollResult[string]{}, err
	}
	return xaiPollResult(res), nil
}

func xaiPollResult(res xaiVideoResult) jobs.PollResult[string] {
	if res.Video != nil && res.Video.URL != "" {
		if res.Video.RespectModeration != nil && !*res.Video.RespectModeration {
			return jobs.PollResult[string]{State: jobs.StateFailed, Err: apperr.ContentPolicy(string(KindXAI), "moderation")}
		}
		return jobs.PollResult[string]{State: jobs.StateSucceeded, Result: res.Video.URL}
	}
	switch res.Status {
	case "failed", "expired":
		msg := res.Error
		if msg == "" {
			msg = "video generation " + res.Status
		}
		return jobs.PollResult[string]{State: jobs.StateFailed, Message: msg}
	default:
		return jobs.PollResult[string]{State: jobs.StateProcessing}
	}
}

func (x *XAI) do(req *http.Request, out any) error {
	req.Header.Set("Accept", "application/json")
	req.Header.Set("Authorization", "Bearer "+x.cfg.APIKey)

	resp, err := x.client.Do(req)
	if err != nil {
		return apperr.FromTransport(string(KindXAI), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Transient(string(KindXAI), fmt.Errorf("read response: %w", err))
	}
	// 202 is returned with {"status":"pending"} while the video renders.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusCreated && resp.StatusCode != http.StatusAccepted {
		return apperr.FromHTTPStatus(string(KindXAI), resp.StatusCode, body, resp.Header)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Transient(string(KindXAI), fmt.Errorf("malformed response: %w", err))
	}
	return nil
}

func (x *XAI) fetch(ctx context.Context, url string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to create download request: %w", err)
	}
	resp, err := x.download.Do(req)
	if err != nil {
		return nil, apperr.FromTransport(string(KindXAI), err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.FromHTTPStatus(string(KindXAI), resp.StatusCode, nil, resp.Header)
	}
	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Transient(string(KindXAI), err)
	}
	if len(data) == 0 {
		return nil, apperr.Provider(string(KindXAI), "downloaded video is empty")
	}
	return data, nil
}
