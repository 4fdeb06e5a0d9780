package imagegen

import (
	"bytes"
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/rs/zerolog"
)

const (
	defaultGeminiModel   = "gemini-3-pro-image-preview"
	defaultGeminiBaseURL = "https://generativelanguage.googleapis.com/v1beta"
	defaultGeminiMaxWait = 120 * time.Second
)

// Gemini calls the synchronous generateContent endpoint with inline images.
type Gemini struct {
	apiKey    string
	model     string
	baseURL   string
	imageSize string
	maxWait   time.Duration
	client    *http.Client
	log       zerolog.Logger
}

type GeminiConfig struct {
	APIKey    string
	Model     string
	BaseURL   string
	ImageSize string // "1K", "2K", "4K"
	// MaxWait bounds one Generate call, reference downloads included.
	MaxWait time.Duration
}

func NewGemini(cfg GeminiConfig, log zerolog.Logger) *Gemini {
	if cfg.Model == "" {
		cfg.Model = defaultGeminiModel
	}
	if cfg.BaseURL == "" {
		cfg.BaseURL = defaultGeminiBaseURL
	}
	if cfg.ImageSize == "" {
		cfg.ImageSize = "2K"
	}
	if cfg.MaxWait <= 0 {
		cfg.MaxWait = defaultGeminiMaxWait
	}
	return &Gemini{
		apiKey:    cfg.APIKey,
		model:     cfg.Model,
		baseURL:   strings.TrimSuffix(cfg.BaseURL, "/"),
		imageSize: cfg.ImageSize,
		maxWait:   cfg.MaxWait,
		client:    &http.Client{},
		log:       log.With().Str("component", "imagegen").Str("provider", string(KindGemini)).Logger(),
	}
}

func (g *Gemini) Kind() Kind         { return KindGemini }
func (g *Gemini) RequiresURLs() bool { return false }

// Gemini API request/response structures
type geminiRequest struct {
	Contents         []geminiContent         `json:"contents"`
	GenerationConfig *geminiGenerationConfig `json:"generationConfig,omitempty"`
}

type geminiGenerationConfig struct {
	ResponseModalities []string           `json:"responseModalities,omitempty"`
	ImageConfig        *geminiImageConfig `json:"imageConfig,omitempty"`
}

type geminiImageConfig struct {
	AspectRatio string `json:"aspectRatio,omitempty"`
	ImageSize   string `json:"imageSize,omitempty"`
}

type geminiContent struct {
	Role  string       `json:"role,omitempty"`
	Parts []geminiPart `json:"parts"`
}

type geminiPart struct {
	Text       string            `json:"text,omitempty"`
	InlineData *geminiInlineData `json:"inlineData,omitempty"`
}

type geminiInlineData struct {
	MimeType string `json:"mimeType"`
	Data     string `json:"data"`
}

type geminiResponse struct {
	Candidates []struct {
		Content struct {
			Parts []geminiPart `json:"parts"`
		} `json:"content"`
		FinishReason string `json:"finishReason"`
	} `json:"candidates"`
	PromptFeedback *struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

func (g *Gemini) Generate(ctx context.Context, req Request) (*Image, error) {
	if err := req.Validate(); err != nil {
		return nil, apperr.InvalidRequest(string(KindGemini), err.Error())
	}
	if g.apiKey == "" {
		return nil, apperr.Auth(string(KindGemini), "GEMINI_API_KEY is not set")
	}

	parent := ctx
	ctx, cancel := context.WithTimeout(ctx, g.maxWait)
	defer cancel()

	parts := []geminiPart{{Text: composePrompt(req)}}
	var inputs []Ref
	switch req.Mode {
	case ModeMultiReference:
		inputs = req.References
	case ModeImageToImage:
		inputs = []Ref{*req.Source}
	}
	for i, ref := range inputs {
		data, mime, err := g.resolve(ctx, ref)
		if err != nil {
			return nil, fmt.Errorf("reference %d: %w", i, err)
		}
		parts = append(parts, geminiPart{InlineData: &geminiInlineData{
			MimeType: mime,
			Data:     base64.StdEncoding.EncodeToString(data),
		}})
	}

	aspect := req.AspectRatio
	if aspect == "" {
		aspect = "9:16"
	}
	body := geminiRequest{
		Contents: []geminiContent{{Role: "user", Parts: parts}},
		GenerationConfig: &geminiGenerationConfig{
			ResponseModalities: []string{"TEXT", "IMAGE"},
			ImageConfig:        &geminiImageConfig{AspectRatio: aspect, ImageSize: g.imageSize},
		},
	}

	start := time.Now()
	img, err := g.generateContent(ctx, body)
	if err != nil && parent.Err() == nil && errors.Is(ctx.Err(), context.DeadlineExceeded) {
		err = apperr.Timeout(string(KindGemini), g.maxWait)
	}
	if err != nil {
		g.log.Warn().Err(err).Str("mode", string(req.Mode)).Msg("generation failed")
		return nil, err
	}
	g.log.Info().Str("mode", string(req.Mode)).Int("references", len(inputs)).Dur("took", time.Since(start)).Int("bytes", len(img.Data)).Msg("image generated")
	return img, nil
}

func (g *Gemini) generateContent(ctx context.Context, body geminiRequest) (*Image, error) {
	jsonData, err := json.Marshal(body)
	if err != nil {
		return nil, fmt.Errorf("failed to marshal request: %w", err)
	}

	url := fmt.Sprintf("%s/models/%s:generateContent", g.baseURL, g.model)
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonData))
	if err != nil {
		return nil, fmt.Errorf("failed to create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("x-goog-api-key", g.apiKey)

	resp, err := g.client.Do(httpReq)
	if err != nil {
		return nil, apperr.FromTransport(string(KindGemini), err)
	}
	defer resp.Body.Close()

	respBody, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, apperr.Transient(string(KindGemini), fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, apperr.FromHTTPStatus(string(KindGemini), resp.StatusCode, respBody, resp.Header)
	}

	var gr geminiResponse
	if err := json.Unmarshal(respBody, &gr); err != nil {
		return nil, apperr.Wrap(apperr.KindProvider, string(KindGemini), "malformed response", err)
	}

	blockReason := ""
	if gr.PromptFeedback != nil {
		blockReason = gr.PromptFeedback.BlockReason
	}
	finishReason := ""
	if len(gr.Candidates) > 0 {
		finishReason = gr.Candidates[0].FinishReason
	}
	if perr := apperr.FromGeminiFeedback(string(KindGemini), blockReason, finishReason); perr != nil {
		return nil, perr
	}
	if len(gr.Candidates) == 0 {
		return nil, apperr.Provider(string(KindGemini), "no candidates in response")
	}

	var text string
	for _, part := range gr.Candidates[0].Content.Parts {
		if part.InlineData != nil && part.InlineData.Data != "" {
			data, err := base64.StdEncoding.DecodeString(part.InlineData.Data)
			if err != nil {
				return nil, apperr.Wrap(apperr.KindProvider, string(KindGemini), "invalid base64 image", err)
			}
			return &Image{Data: data, MIMEType: part.InlineData.MimeType}, nil
		}
		if text == "" {
			text = part.Text
		}
	}
	if text != "" {
		return nil, apperr.Provider(string(KindGemini), "returned text instead of an image: "+text[:min(200, len(text))])
	}
	return nil, apperr.Provider(string(KindGemini), "no image data in response")
}

// resolve returns inline bytes for ref, downloading it when only a URL is set.
func (g *Gemini) resolve(ctx context.Context, ref Ref) ([]byte, string, error) {
	if len(ref.Data) > 0 {
		mime := ref.MIMEType
		if mime == "" {
			mime = http.DetectContentType(ref.Data)
		}
		return ref.Data, mime, nil
	}
	if ref.URL == "" {
		return nil, "", apperr.InvalidRequest(string(KindGemini), "reference has neither data nor url")
	}
	return Download(ctx, g.client, ref.URL)
}

// Download fetches an image over HTTP and reports its MIME type.
func Download(ctx context.Context, client *http.Client, url string) ([]byte, string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, "", fmt.Errorf("failed to create request: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return nil, "", apperr.FromTransport("download", err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, "", apperr.Transient("download", err)
	}
	if resp.StatusCode != http.StatusOK {
		return nil, "", apperr.FromHTTPStatus("download", resp.StatusCode, data, resp.Header)
	}
	mime := resp.Header.Get("Content-Type")
	if mime == "" || mime == "application/octet-stream" {
		mime = http.DetectContentType(data)
	}
	return data, mime, nil
}
