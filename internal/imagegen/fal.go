package imagegen

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

const defaultFalBaseURL = "https://queue.fal.run"

// FalConfig names one queue model per mode.
type FalConfig struct {
	APIKey              string
	BaseURL             string
	TextModel           string
	MultiReferenceModel string
	ImageToImageModel   string
	Poll                jobs.Options
}

// Fal submits to the fal.ai queue API and polls through a jobs.Poller.
// References must be public HTTPS URLs.
type Fal struct {
	cfg    FalConfig
	client *http.Client
	poller *jobs.Poller[Request, *Image]
	log    zerolog.Logger
}

func NewFal(cfg FalConfig, log zerolog.Logger, opts ...jobs.Option) *Fal {
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultFalBaseURL
	}
	cfg.BaseURL = strings.TrimSuffix(cfg.BaseURL, "/")
	if cfg.TextModel == "" {
		cfg.TextModel = "fal-ai/flux/dev"
	}
	if cfg.MultiReferenceModel == "" {
		cfg.MultiReferenceModel = "fal-ai/flux-pro/kontext/max/multi"
	}
	if cfg.ImageToImageModel == "" {
		cfg.ImageToImageModel = "fal-ai/flux/dev/image-to-image"
	}
	f := &Fal{
		cfg:    cfg,
		client: &http.Client{Timeout: 60 * time.Second},
		log:    log.With().Str("component", "imagegen").Str("provider", string(KindFal)).Logger(),
	}
	f.poller = jobs.NewPoller[Request, *Image](falBackend{f}, cfg.Poll, append([]jobs.Option{jobs.WithLogger(log)}, opts...)...)
	return f
}

func (f *Fal) Kind() Kind         { return KindFal }
func (f *Fal) RequiresURLs() bool { return true }

// Generate submits the request, waits for completion and downloads the
// resulting image.
func (f *Fal) Generate(ctx context.Context, req Request) (*Image, error) {
	if err := req.Validate(); err != nil {
		return nil, apperr.InvalidRequest(string(KindFal), err.Error())
	}
	img, err := f.poller.Run(ctx, req)
	if err != nil {
		return nil, err
	}
	if len(img.Data) == 0 && img.URL != "" {
		data, mime, err := Download(ctx, f.client, img.URL)
		if err != nil {
			return nil, fmt.Errorf("fetch result: %w", err)
		}
		img.Data = data
		if img.MIMEType == "" {
			img.MIMEType = mime
		}
	}
	f.log.Info().Str("mode", string(req.Mode)).Int("bytes", len(img.Data)).Msg("image generated")
	return img, nil
}

func (f *Fal) model(mode Mode) string {
	switch mode {
	case ModeMultiReference:
		return f.cfg.MultiReferenceModel
	case ModeImageToImage:
		return f.cfg.ImageToImageModel
	default:
		return f.cfg.TextModel
	}
}

// falBackend is the jobs.Backend view of Fal. The external id is the
// request's response_url, which also locates its status endpoint.
type falBackend struct{ f *Fal }

func (b falBackend) Name() string { return string(KindFal) }

type falSubmitResponse struct {
	RequestID   string `json:"request_id"`
	ResponseURL string `json:"response_url"`
	StatusURL   string `json:"status_url"`
}

type falStatusResponse struct {
	Status string `json:"status"` // IN_QUEUE, IN_PROGRESS, COMPLETED
	Error  string `json:"error,omitempty"`
}

type falResultResponse struct {
	Images []struct {
		URL         string `json:"url"`
		ContentType string `json:"content_type"`
	} `json:"images"`
	HasNSFWConcepts []bool `json:"has_nsfw_concepts"`
	Detail          any    `json:"detail,omitempty"`
}

func (b falBackend) Submit(ctx context.Context, req Request) (string, error) {
	f := b.f
	if f.cfg.APIKey == "" {
		return "", apperr.Auth(string(KindFal), "FAL_KEY is not set")
	}

	payload := map[string]any{
		"prompt":                composePrompt(req),
		"num_images":            1,
		"aspect_ratio":          aspectOrDefault(req.AspectRatio),
		"enable_safety_checker": true,
	}
	switch req.Mode {
	case ModeMultiReference:
		urls := make([]string, 0, len(req.References))
		for i, r := range req.References {
			if r.URL == "" {
				return "", apperr.InvalidRequest(string(KindFal), fmt.Sprintf("reference %d has no url", i))
			}
			urls = append(urls, r.URL)
		}
		payload["image_urls"] = urls
	case ModeImageToImage:
		if req.Source.URL == "" {
			return "", apperr.InvalidRequest(string(KindFal), "source image has no url")
		}
		payload["image_url"] = req.Source.URL
		payload["strength"] = req.Strength
	}

	body, err := json.Marshal(payload)
	if err != nil {
		return "", fmt.Errorf("failed to marshal request: %w", err)
	}
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, f.cfg.BaseURL+"/"+f.model(req.Mode), bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Key "+f.cfg.APIKey)

	var sr falSubmitResponse
	if err := f.do(httpReq, &sr); err != nil {
		return "", err
	}
	if sr.ResponseURL == "" && sr.RequestID != "" {
		sr.ResponseURL = fmt.Sprintf("%s/%s/requests/%s", f.cfg.BaseURL, appID(f.model(req.Mode)), sr.RequestID)
	}
	return sr.ResponseURL, nil
}

func (b falBackend) Poll(ctx context.Context, responseURL string) (jobs.PollResult[*Image], error) {
	f := b.f
	var st falStatusResponse
	if err := f.get(ctx, responseURL+"/status", &st); err != nil {
		return jobs.PollResult[*Image]{}, err
	}

	switch st.Status {
	case "IN_QUEUE", "IN_PROGRESS":
		return jobs.PollResult[*Image]{State: jobs.StateProcessing}, nil
	case "COMPLETED":
	default:
		return jobs.PollResult[*Image]{State: jobs.StateFailed, Message: fmt.Sprintf("unexpected status %q", st.Status)}, nil
	}
	if st.Error != "" {
		return jobs.PollResult[*Image]{State: jobs.StateFailed, Message: st.Error}, nil
	}

	var rr falResultResponse
	if err := f.get(ctx, responseURL, &rr); err != nil {
		return jobs.PollResult[*Image]{}, err
	}
	for _, nsfw := range rr.HasNSFWConcepts {
		if nsfw {
			return jobs.PollResult[*Image]{
				State: jobs.StateFailed,
				Err:   apperr.ContentPolicy(string(KindFal), "nsfw"),
			}, nil
		}
	}
	if len(rr.Images) == 0 || rr.Images[0].URL == "" {
		return jobs.PollResult[*Image]{State: jobs.StateFailed, Message: "completed without images"}, nil
	}
	return jobs.PollResult[*Image]{
		State:  jobs.StateSucceeded,
		Result: &Image{URL: rr.Images[0].URL, MIMEType: rr.Images[0].ContentType},
	}, nil
}

func (f *Fal) get(ctx context.Context, url string, out any) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Key "+f.cfg.APIKey)
	return f.do(req, out)
}

func (f *Fal) do(req *http.Request, out any) error {
	resp, err := f.client.Do(req)
	if err != nil {
		return apperr.FromTransport(string(KindFal), err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return apperr.Transient(string(KindFal), err)
	}
	// The status endpoint answers 202 while the request is queued.
	if resp.StatusCode != http.StatusOK && resp.StatusCode != http.StatusAccepted {
		return apperr.FromHTTPStatus(string(KindFal), resp.StatusCode, body, resp.Header)
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperr.Transient(string(KindFal), fmt.Errorf("malformed response: %w", err))
	}
	return nil
}

// appID trims a model path such as fal-ai/flux/dev/image-to-image to the
// owner/app prefix the queue status routes use.
func appID(model string) string {
	parts := strings.SplitN(model, "/", 3)
	if len(parts) < 2 {
		return model
	}
	return parts[0] + "/" + parts[1]
}

func aspectOrDefault(ar string) string {
	if ar == "" {
		return "9:16"
	}
	return ar
}
