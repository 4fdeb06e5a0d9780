package storage

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"strconv"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/clock"
	"github.com/rs/zerolog"
)

const (
	// Per-attempt timeout, generous for large renders
	uploadTimeout = 180 * time.Second

	downloadTimeout = 120 * time.Second

	maxRetries     = 4
	baseRetryDelay = 1 * time.Second
	maxRetryDelay  = 30 * time.Second
)

// Supabase talks to the Supabase Storage REST API.
type Supabase struct {
	url        string
	serviceKey string
	bucket     string
	client     *http.Client
	clock      clock.Clock
	log        zerolog.Logger
	retryBase  time.Duration
}

func NewSupabase(url, serviceKey, bucket string, log zerolog.Logger) *Supabase {
	return &Supabase{
		url:        url,
		serviceKey: serviceKey,
		bucket:     bucket,
		client: &http.Client{
			Timeout: uploadTimeout,
			Transport: &http.Transport{
				MaxIdleConns:        100,
				MaxIdleConnsPerHost: 20,
				IdleConnTimeout:     90 * time.Second,
			},
		},
		clock:     clock.Real(),
		log:       log.With().Str("component", "storage").Str("backend", string(KindSupabase)).Logger(),
		retryBase: baseRetryDelay,
	}
}

// WithClock replaces the clock used for retry backoff.
func (s *Supabase) WithClock(c clock.Clock) *Supabase {
	s.clock = c
	return s
}

func (s *Supabase) objectURL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/%s/%s", s.url, s.bucket, key)
}

// Put uploads with retries and exponential backoff. PUT with x-upsert makes
// repeated attempts safe.
func (s *Supabase) Put(ctx context.Context, key string, data []byte, contentType string) (Object, error) {
	err := s.withRetry(ctx, "upload", key, uploadTimeout, func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, s.objectURL(key), bytes.NewReader(data))
		if err != nil {
			return false, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)
		req.Header.Set("Content-Type", contentType)
		req.Header.Set("Content-Length", strconv.Itoa(len(data)))
		req.Header.Set("x-upsert", "true")

		resp, err := s.client.Do(req)
		if err != nil {
			return true, apperr.FromTransport("supabase", err)
		}
		defer resp.Body.Close()
		body, _ := io.ReadAll(resp.Body)

		if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusCreated {
			return false, nil
		}
		return isRetryableStatus(resp.StatusCode), apperr.FromHTTPStatus("supabase", resp.StatusCode, body, resp.Header)
	})
	if err != nil {
		return Object{}, err
	}
	return Object{Key: key, URL: s.URL(key)}, nil
}

// Get downloads an object with retries.
func (s *Supabase) Get(ctx context.Context, key string) ([]byte, error) {
	var data []byte
	err := s.withRetry(ctx, "download", key, downloadTimeout, func(ctx context.Context) (bool, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.objectURL(key), nil)
		if err != nil {
			return false, fmt.Errorf("failed to create request: %w", err)
		}
		req.Header.Set("Authorization", "Bearer "+s.serviceKey)

		resp, err := s.client.Do(req)
		if err != nil {
			return true, apperr.FromTransport("supabase", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode == http.StatusOK {
			b, err := io.ReadAll(resp.Body)
			if err != nil {
				return true, apperr.Transient("supabase", fmt.Errorf("read download body: %w", err))
			}
			data = b
			return false, nil
		}
		body, _ := io.ReadAll(resp.Body)
		if resp.StatusCode == http.StatusNotFound || (resp.StatusCode == http.StatusBadRequest && bytes.Contains(body, []byte("not_found"))) {
			return false, fmt.Errorf("%s: %w", key, ErrNotFound)
		}
		return isRetryableStatus(resp.StatusCode), apperr.FromHTTPStatus("supabase", resp.StatusCode, body, resp.Header)
	})
	return data, err
}

// Delete removes a single object. Deleting a missing object is not an error.
func (s *Supabase) Delete(ctx context.Context, key string) error {
	payload, err := json.Marshal(map[string][]string{"prefixes": {key}})
	if err != nil {
		return err
	}
	url := fmt.Sprintf("%s/storage/v1/object/%s", s.url, s.bucket)
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete, url, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return apperr.FromTransport("supabase", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(resp.Body)
	if resp.StatusCode == http.StatusOK || resp.StatusCode == http.StatusNoContent || resp.StatusCode == http.StatusNotFound {
		return nil
	}
	return apperr.FromHTTPStatus("supabase", resp.StatusCode, body, resp.Header)
}

// URL returns the public URL for key.
func (s *Supabase) URL(key string) string {
	return fmt.Sprintf("%s/storage/v1/object/public/%s/%s", s.url, s.bucket, key)
}

// SignedURL creates a signed URL for temporary access to a private bucket.
func (s *Supabase) SignedURL(ctx context.Context, key string, expiresIn time.Duration) (string, error) {
	url := fmt.Sprintf("%s/storage/v1/object/sign/%s/%s", s.url, s.bucket, key)

	body, _ := json.Marshal(map[string]int{"expiresIn": int(expiresIn.Seconds())})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return "", fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+s.serviceKey)
	req.Header.Set("Content-Type", "application/json")

	resp, err := s.client.Do(req)
	if err != nil {
		return "", apperr.FromTransport("supabase", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		b, _ := io.ReadAll(resp.Body)
		return "", apperr.FromHTTPStatus("supabase", resp.StatusCode, b, resp.Header)
	}

	var result struct {
		SignedURL string `json:"signedURL"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return "", fmt.Errorf("failed to parse signed URL response: %w", err)
	}
	return s.url + "/storage/v1" + result.SignedURL, nil
}

// withRetry runs attempt up to maxRetries+1 times. attempt reports whether
// its error is worth retrying.
func (s *Supabase) withRetry(ctx context.Context, op, key string, timeout time.Duration, attempt func(context.Context) (bool, error)) error {
	var lastErr error
	for n := 0; n <= maxRetries; n++ {
		if n > 0 {
			delay := retryDelay(s.retryBase, n)
			s.log.Warn().Err(lastErr).Str("op", op).Str("key", key).Int("attempt", n+1).Dur("backoff", delay).Msg("retrying")
			if err := s.clock.Sleep(ctx, delay); err != nil {
				return apperr.Canceled("supabase", err)
			}
		}

		// Each attempt gets its own timeout, bounded by the caller's ctx
		attemptCtx, cancel := context.WithTimeout(ctx, timeout)
		retry, err := attempt(attemptCtx)
		cancel()
		if err == nil {
			if n > 0 {
				s.log.Info().Str("op", op).Str("key", key).Int("attempt", n+1).Msg("succeeded after retry")
			}
			return nil
		}
		lastErr = err
		if !retry || ctx.Err() != nil {
			return err
		}
	}
	return fmt.Errorf("%s failed after %d attempts: %w", op, maxRetries+1, lastErr)
}

// retryDelay is base * 2^(attempt-1) capped at maxRetryDelay, plus 0-25% jitter.
func retryDelay(base time.Duration, attempt int) time.Duration {
	delay := float64(base) * math.Pow(2, float64(attempt-1))
	if delay > float64(maxRetryDelay) {
		delay = float64(maxRetryDelay)
	}
	jitter := delay * 0.25 * rand.Float64()
	return time.Duration(delay + jitter)
}

func isRetryableStatus(status int) bool {
	return status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout ||
		status == http.StatusBadGateway ||
		status == http.StatusServiceUnavailable ||
		status == http.StatusGatewayTimeout
}
