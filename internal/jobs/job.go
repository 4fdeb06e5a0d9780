// Package jobs tracks a single outstanding request against a slow external
// generation backend: submit once, then poll until a terminal state, a
// timeout, or too many failed status queries.
package jobs

import (
	"context"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
)

// Status is the lifecycle state of a Job. Transitions only move forward.
type Status string

const (
	StatusSubmitted  Status = "submitted"
	StatusProcessing Status = "processing"
	StatusSucceeded  Status = "succeeded"
	StatusFailed     Status = "failed"
	StatusTimedOut   Status = "timed-out"
)

func (s Status) rank() int {
	switch s {
	case StatusSubmitted:
		return 0
	case StatusProcessing:
		return 1
	case StatusSucceeded, StatusFailed, StatusTimedOut:
		return 2
	default:
		return -1
	}
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s.rank() == 2
}

// CanTransition reports whether moving from s to next is a forward move.
func (s Status) CanTransition(next Status) bool {
	return next.rank() > s.rank()
}

// Job is the bookkeeping record for one external request.
type Job struct {
	ID           string
	ExternalID   string
	Provider     string
	Owner        string
	Status       Status
	SubmittedAt  time.Time
	LastPolledAt time.Time
	Attempts     int
	ErrorKind    apperr.Kind
	ErrorMessage string
}

// Observer receives a copy of the Job after every state change. It is used
// to persist progress and must not block for long.
type Observer interface {
	JobChanged(ctx context.Context, job Job)
}

type ownerKey struct{}

// WithOwner tags jobs submitted with ctx so observers can associate them
// with a render and scene.
func WithOwner(ctx context.Context, owner string) context.Context {
	return context.WithValue(ctx, ownerKey{}, owner)
}

// WithScene narrows the owner tag on ctx to one scene, giving
// "<owner>/<scene>".
func WithScene(ctx context.Context, sceneID string) context.Context {
	if sceneID == "" {
		return ctx
	}
	owner := OwnerFrom(ctx)
	if owner == "" {
		return WithOwner(ctx, sceneID)
	}
	return WithOwner(ctx, owner+"/"+sceneID)
}

// OwnerFrom returns the owner tag set by WithOwner or WithScene.
func OwnerFrom(ctx context.Context) string {
	s, _ := ctx.Value(ownerKey{}).(string)
	return s
}
