// Package apperr defines the typed error taxonomy shared by every provider
// adapter, the job poller and the batch orchestrator.
package apperr

import (
	"errors"
	"fmt"
	"time"
)

// Kind classifies a failure by how the caller should react to it.
type Kind string

const (
	KindAuth               Kind = "auth"
	KindInvalidRequest     Kind = "invalid_request"
	KindRateLimited        Kind = "rate_limited"
	KindTransient          Kind = "transient"
	KindTimeout            Kind = "timeout"
	KindContentPolicy      Kind = "content_policy"
	KindPipelineDependency Kind = "pipeline_dependency"
	KindProvider           Kind = "provider"
	KindPollingExhausted   Kind = "polling_exhausted"
	KindCanceled           Kind = "canceled"
	KindInternal           Kind = "internal"
)

// Error is the concrete error type carried through the generation stack.
type Error struct {
	Kind     Kind
	Provider string
	Message  string
	// Category is the provider's safety category for content-policy rejections.
	Category string
	// RetryAfter is the provider-suggested backoff for rate limits.
	RetryAfter time.Duration
	Cause      error
}

func (e *Error) Error() string {
	msg := e.Message
	if e.Category != "" {
		msg = fmt.Sprintf("%s (category: %s)", msg, e.Category)
	}
	if e.Provider != "" {
		msg = fmt.Sprintf("%s: %s", e.Provider, msg)
	}
	if e.Cause != nil {
		return fmt.Sprintf("%s [%s]: %v", msg, e.Kind, e.Cause)
	}
	return fmt.Sprintf("%s [%s]", msg, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Retryable reports whether the same request may succeed if repeated later
// within the same operation.
func (e *Error) Retryable() bool {
	return e.Kind == KindTransient
}

func New(kind Kind, provider, message string) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message}
}

func Wrap(kind Kind, provider, message string, cause error) *Error {
	return &Error{Kind: kind, Provider: provider, Message: message, Cause: cause}
}

func Auth(provider, message string) *Error {
	return New(KindAuth, provider, message)
}

func InvalidRequest(provider, message string) *Error {
	return New(KindInvalidRequest, provider, message)
}

func RateLimited(provider string, retryAfter time.Duration) *Error {
	e := New(KindRateLimited, provider, "rate limited")
	e.RetryAfter = retryAfter
	return e
}

func Transient(provider string, cause error) *Error {
	return Wrap(KindTransient, provider, "transient failure", cause)
}

func Timeout(provider string, after time.Duration) *Error {
	return New(KindTimeout, provider, fmt.Sprintf("no result after %v", after))
}

func ContentPolicy(provider, category string) *Error {
	e := New(KindContentPolicy, provider, "content rejected by safety filter")
	e.Category = category
	return e
}

func PipelineDependency(message string, cause error) *Error {
	return Wrap(KindPipelineDependency, "", message, cause)
}

func Provider(provider, message string) *Error {
	return New(KindProvider, provider, message)
}

func PollingExhausted(provider string, failures int, cause error) *Error {
	return Wrap(KindPollingExhausted, provider, fmt.Sprintf("status query failed %d times in a row", failures), cause)
}

func Canceled(provider string, cause error) *Error {
	return Wrap(KindCanceled, provider, "canceled", cause)
}

// KindOf returns the Kind of the first *Error in err's chain, or
// KindInternal when there is none.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}

// Is reports whether err carries the given Kind.
func Is(err error, kind Kind) bool {
	return err != nil && KindOf(err) == kind
}

// As returns the first *Error in err's chain.
func As(err error) (*Error, bool) {
	var e *Error
	ok := errors.As(err, &e)
	return e, ok
}
