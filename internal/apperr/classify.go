package apperr

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"
)

const maxBodyInMessage = 300

// FromHTTPStatus maps a non-success HTTP response from a provider onto the
// taxonomy. header may be nil.
func FromHTTPStatus(provider string, status int, body []byte, header http.Header) *Error {
	detail := strings.TrimSpace(string(body))
	if len(detail) > maxBodyInMessage {
		detail = detail[:maxBodyInMessage] + "..."
	}
	msg := fmt.Sprintf("status %d", status)
	if detail != "" {
		msg = fmt.Sprintf("status %d: %s", status, detail)
	}

	switch {
	case status == http.StatusUnauthorized, status == http.StatusForbidden:
		return Auth(provider, msg)
	case status == http.StatusTooManyRequests:
		e := RateLimited(provider, RetryAfter(header))
		e.Message = msg
		return e
	case status == http.StatusRequestTimeout,
		status == http.StatusBadGateway,
		status == http.StatusServiceUnavailable,
		status == http.StatusGatewayTimeout,
		status >= 500:
		return Wrap(KindTransient, provider, msg, nil)
	case status == http.StatusUnavailableForLegalReasons:
		return ContentPolicy(provider, "legal")
	case status >= 400:
		return InvalidRequest(provider, msg)
	default:
		return Provider(provider, msg)
	}
}

// RetryAfter parses a Retry-After header given in seconds or as an HTTP date.
func RetryAfter(header http.Header) time.Duration {
	if header == nil {
		return 0
	}
	v := strings.TrimSpace(header.Get("Retry-After"))
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil && secs >= 0 {
		return time.Duration(secs) * time.Second
	}
	if at, err := http.ParseTime(v); err == nil {
		if d := time.Until(at); d > 0 {
			return d
		}
	}
	return 0
}

// FromTransport classifies an error returned by an HTTP client call that
// never produced a response.
func FromTransport(provider string, err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := As(err); ok {
		return e
	}
	if errors.Is(err, context.Canceled) {
		return Canceled(provider, err)
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Wrap(KindTimeout, provider, "request deadline exceeded", err)
	}
	return Transient(provider, err)
}

// Gemini safety feedback. blockReason comes from promptFeedback and
// finishReason from the first candidate.
var geminiBlockCategories = map[string]string{
	"SAFETY":             "safety",
	"OTHER":              "other",
	"BLOCKLIST":          "blocklist",
	"PROHIBITED_CONTENT": "prohibited content",
	"IMAGE_SAFETY":       "image safety",
}

var geminiFinishCategories = map[string]string{
	"SAFETY":                   "safety",
	"RECITATION":               "recitation",
	"BLOCKLIST":                "blocklist",
	"PROHIBITED_CONTENT":       "prohibited content",
	"SPII":                     "personal information",
	"IMAGE_SAFETY":             "image safety",
	"IMAGE_PROHIBITED_CONTENT": "prohibited image content",
}

// FromGeminiFeedback returns a ContentPolicy error when either field marks a
// safety rejection, and nil otherwise.
func FromGeminiFeedback(provider, blockReason, finishReason string) *Error {
	if cat, ok := geminiBlockCategories[strings.ToUpper(blockReason)]; ok {
		return ContentPolicy(provider, cat)
	}
	if cat, ok := geminiFinishCategories[strings.ToUpper(finishReason)]; ok {
		return ContentPolicy(provider, cat)
	}
	return nil
}

// UserMessage turns any terminal error into a sentence suitable for API
// responses. It never exposes raw causes.
func UserMessage(err error) string {
	if err == nil {
		return ""
	}
	e, ok := As(err)
	if !ok {
		return "internal error, please retry or contact support"
	}
	who := e.Provider
	if who == "" {
		who = "provider"
	}
	switch e.Kind {
	case KindAuth:
		return fmt.Sprintf("%s credential missing or invalid", who)
	case KindInvalidRequest:
		return fmt.Sprintf("%s rejected the request as invalid", who)
	case KindRateLimited:
		if e.RetryAfter > 0 {
			return fmt.Sprintf("%s rate limited, retry after %v", who, e.RetryAfter.Round(time.Second))
		}
		return fmt.Sprintf("%s rate limited, retry later", who)
	case KindTransient:
		return fmt.Sprintf("%s temporarily unavailable, retry later", who)
	case KindTimeout:
		return fmt.Sprintf("%s did not finish in time", who)
	case KindContentPolicy:
		cat := e.Category
		if cat == "" {
			cat = "unspecified"
		}
		return fmt.Sprintf("content rejected by safety filter: %s", cat)
	case KindPipelineDependency:
		if cause, ok := As(e.Cause); ok {
			return "anchor image could not be generated: " + UserMessage(cause)
		}
		return "anchor image could not be generated, no scene images were derived"
	case KindProvider:
		return fmt.Sprintf("%s failed to generate media: %s", who, e.Message)
	case KindPollingExhausted:
		return fmt.Sprintf("lost contact with %s while waiting for a result", who)
	case KindCanceled:
		return "request canceled"
	default:
		return "internal error, please retry or contact support"
	}
}
