package jobs

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/clock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type step struct {
	res PollResult[string]
	err error
}

// scriptedBackend replays a fixed sequence of poll outcomes and then keeps
// returning the last one.
type scriptedBackend struct {
	mu        sync.Mutex
	submitErr error
	steps     []step
	polls     int
	submits   int
}

func (b *scriptedBackend) Name() string { return "fake" }

func (b *scriptedBackend) Submit(ctx context.Context, req string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.submits++
	if b.submitErr != nil {
		return "", b.submitErr
	}
	return "req-1", nil
}

func (b *scriptedBackend) Poll(ctx context.Context, id string) (PollResult[string], error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	i := b.polls
	if i >= len(b.steps) {
		i = len(b.steps) - 1
	}
	b.polls++
	return b.steps[i].res, b.steps[i].err
}

func (b *scriptedBackend) pollCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.polls
}

type recordingObserver struct {
	mu       sync.Mutex
	statuses []Status
}

func (o *recordingObserver) JobChanged(ctx context.Context, job Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.statuses = append(o.statuses, job.Status)
}

var (
	processing = step{res: PollResult[string]{State: StateProcessing}}
	succeeded  = step{res: PollResult[string]{State: StateSucceeded, Result: "https://cdn/video.mp4"}}
	queryErr   = step{err: errors.New("connection reset by peer")}
)

func newTestPoller(b *scriptedBackend, obs Observer) (*Poller[string, string], *clock.Fake) {
	fc := clock.NewFake(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))
	opts := []Option{WithClock(fc)}
	if obs != nil {
		opts = append(opts, WithObserver(obs))
	}
	return NewPoller[string, string](b, Options{Interval: 5 * time.Second, MaxWait: 300 * time.Second}, opts...), fc
}

func TestPollerSucceedsAfterProcessing(t *testing.T) {
	obs := &recordingObserver{}
	b := &scriptedBackend{steps: []step{processing, processing, succeeded}}
	p, _ := newTestPoller(b, obs)

	got, err := p.Run(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/video.mp4", got)
	assert.Equal(t, 3, b.pollCount())
	assert.Equal(t, []Status{StatusSubmitted, StatusProcessing, StatusSucceeded}, obs.statuses)
}

func TestPollerTimeoutRespectsPollBound(t *testing.T) {
	b := &scriptedBackend{steps: []step{processing}}
	p, _ := newTestPoller(b, nil)
	opts := Options{Interval: 5 * time.Second, MaxWait: 300 * time.Second}

	h, err := p.Submit(context.Background(), "prompt")
	require.NoError(t, err)
	_, err = h.Await(context.Background(), opts)

	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindTimeout))
	assert.LessOrEqual(t, b.pollCount(), 61)
	assert.Equal(t, 61, opts.MaxPolls())
	assert.Equal(t, StatusTimedOut, h.Job().Status)
}

func TestPollerExhaustsAfterThreeConsecutiveFailures(t *testing.T) {
	b := &scriptedBackend{steps: []step{processing, queryErr, queryErr, queryErr, succeeded}}
	p, _ := newTestPoller(b, nil)

	_, err := p.Run(context.Background(), "prompt")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindPollingExhausted))
	assert.Equal(t, 4, b.pollCount())
}

func TestPollerRateLimitedQueryIsTerminal(t *testing.T) {
	b := &scriptedBackend{steps: []step{{err: apperr.RateLimited("fake", 30*time.Second)}}}
	p, _ := newTestPoller(b, nil)

	_, err := p.Run(context.Background(), "prompt")
	require.Error(t, err)
	assert.Equal(t, 1, b.pollCount())
	assert.Equal(t, apperr.KindRateLimited, apperr.KindOf(err))
	e, ok := apperr.As(err)
	require.True(t, ok)
	assert.Equal(t, 30*time.Second, e.RetryAfter)
}

func TestPollerSuccessfulQueryResetsFailureCounter(t *testing.T) {
	b := &scriptedBackend{steps: []step{queryErr, queryErr, processing, queryErr, queryErr, succeeded}}
	p, _ := newTestPoller(b, nil)

	got, err := p.Run(context.Background(), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "https://cdn/video.mp4", got)
	assert.Equal(t, 6, b.pollCount())
}

func TestPollerProviderFailureIsTerminal(t *testing.T) {
	b := &scriptedBackend{steps: []step{
		{res: PollResult[string]{State: StateFailed, Message: "moderation rejected"}},
	}}
	p, _ := newTestPoller(b, nil)

	_, err := p.Run(context.Background(), "prompt")
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindProvider))
	assert.Contains(t, err.Error(), "moderation rejected")
	assert.Equal(t, 1, b.pollCount())
}

func TestPollerAuthErrorAtSubmitNeverPolls(t *testing.T) {
	b := &scriptedBackend{submitErr: apperr.Auth("fake", "status 401"), steps: []step{succeeded}}
	p, fc := newTestPoller(b, nil)

	h, err := p.Submit(context.Background(), "prompt")
	require.Error(t, err)
	assert.Nil(t, h)
	assert.True(t, apperr.Is(err, apperr.KindAuth))
	assert.Equal(t, 0, b.pollCount())
	assert.Empty(t, fc.Sleeps())
}

func TestAwaitIsIdempotentOnTerminalHandle(t *testing.T) {
	b := &scriptedBackend{steps: []step{succeeded}}
	p, _ := newTestPoller(b, nil)
	opts := Options{Interval: time.Second, MaxWait: time.Minute}

	h, err := p.Submit(context.Background(), "prompt")
	require.NoError(t, err)

	first, err1 := h.Await(context.Background(), opts)
	second, err2 := h.Await(context.Background(), opts)
	require.NoError(t, err1)
	require.NoError(t, err2)
	assert.Equal(t, first, second)
	assert.Equal(t, 1, b.pollCount())
}

func TestAwaitCachesTerminalFailure(t *testing.T) {
	b := &scriptedBackend{steps: []step{processing}}
	p, _ := newTestPoller(b, nil)
	opts := Options{Interval: 10 * time.Second, MaxWait: 30 * time.Second}

	h, err := p.Submit(context.Background(), "prompt")
	require.NoError(t, err)
	_, err1 := h.Await(context.Background(), opts)
	polls := b.pollCount()
	_, err2 := h.Await(context.Background(), opts)

	assert.Same(t, err1, err2)
	assert.Equal(t, polls, b.pollCount())
}

func TestAwaitCanceledContext(t *testing.T) {
	b := &scriptedBackend{steps: []step{processing}}
	p, _ := newTestPoller(b, nil)

	h, err := p.Submit(context.Background(), "prompt")
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = h.Await(ctx, Options{Interval: time.Second, MaxWait: time.Minute})
	require.Error(t, err)
	assert.True(t, apperr.Is(err, apperr.KindCanceled))
	assert.Equal(t, 0, b.pollCount())
}

func TestStatusTransitionsOnlyMoveForward(t *testing.T) {
	assert.True(t, StatusSubmitted.CanTransition(StatusProcessing))
	assert.True(t, StatusProcessing.CanTransition(StatusSucceeded))
	assert.True(t, StatusSubmitted.CanTransition(StatusTimedOut))
	assert.False(t, StatusProcessing.CanTransition(StatusSubmitted))
	assert.False(t, StatusProcessing.CanTransition(StatusProcessing))
	assert.False(t, StatusSucceeded.CanTransition(StatusFailed))
	assert.True(t, StatusFailed.Terminal())
}

func TestWithSceneNarrowsOwner(t *testing.T) {
	ctx := WithOwner(context.Background(), "render-1")
	assert.Equal(t, "render-1/s3", OwnerFrom(WithScene(ctx, "s3")))
	assert.Equal(t, "render-1", OwnerFrom(WithScene(ctx, "")))
	assert.Equal(t, "s3", OwnerFrom(WithScene(context.Background(), "s3")))

	b := &scriptedBackend{steps: []step{succeeded}}
	obs := &ownerObserver{}
	p, _ := newTestPoller(b, obs)
	_, err := p.Run(WithScene(ctx, "s3"), "prompt")
	require.NoError(t, err)
	assert.Equal(t, "render-1/s3", obs.last())
}

type ownerObserver struct {
	mu    sync.Mutex
	owner string
}

func (o *ownerObserver) JobChanged(ctx context.Context, job Job) {
	o.mu.Lock()
	defer o.mu.Unlock()
	o.owner = job.Owner
}

func (o *ownerObserver) last() string {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.owner
}
