package jobs

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/clock"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// MaxConsecutivePollFailures is the number of failed status queries in a row
// after which a job is abandoned.
const MaxConsecutivePollFailures = 3

// State is a backend's interpretation of one status query.
type State int

const (
	StateProcessing State = iota
	StateSucceeded
	StateFailed
)

// PollResult is returned by Backend.Poll.
type PollResult[Res any] struct {
	State  State
	Result Res
	// Message is the provider's failure description when State is StateFailed.
	Message string
	// Err optionally carries a classified failure (for example a content
	// policy rejection) when State is StateFailed.
	Err error
}

// Backend adapts one asynchronous provider API.
type Backend[Req, Res any] interface {
	Name() string
	// Submit creates the remote request and returns its provider id.
	Submit(ctx context.Context, req Req) (string, error)
	// Poll queries the remote request once. A returned error is treated as a
	// failed status query unless it is classified as non-retryable.
	Poll(ctx context.Context, externalID string) (PollResult[Res], error)
}

// Options bound the poll loop.
type Options struct {
	Interval time.Duration
	MaxWait  time.Duration
}

// MaxPolls is the largest number of status queries Await can issue.
func (o Options) MaxPolls() int {
	if o.Interval <= 0 {
		return 0
	}
	n := int(o.MaxWait / o.Interval)
	if o.MaxWait%o.Interval != 0 {
		n++
	}
	return n + 1
}

// Poller submits requests to a Backend and hands out Handles.
type Poller[Req, Res any] struct {
	backend  Backend[Req, Res]
	opts     Options
	clock    clock.Clock
	log      zerolog.Logger
	observer Observer
}

// Option configures a Poller.
type Option func(*settings)

type settings struct {
	clock    clock.Clock
	log      zerolog.Logger
	observer Observer
}

func WithClock(c clock.Clock) Option {
	return func(s *settings) { s.clock = c }
}

func WithLogger(l zerolog.Logger) Option {
	return func(s *settings) { s.log = l }
}

func WithObserver(o Observer) Option {
	return func(s *settings) { s.observer = o }
}

func NewPoller[Req, Res any](backend Backend[Req, Res], opts Options, options ...Option) *Poller[Req, Res] {
	s := settings{clock: clock.Real(), log: zerolog.Nop()}
	for _, o := range options {
		o(&s)
	}
	return &Poller[Req, Res]{
		backend:  backend,
		opts:     opts,
		clock:    s.clock,
		log:      s.log.With().Str("component", "jobs").Str("provider", backend.Name()).Logger(),
		observer: s.observer,
	}
}

// Submit creates the remote request. Submission errors are returned
// immediately and never produce a Handle.
func (p *Poller[Req, Res]) Submit(ctx context.Context, req Req) (*Handle[Req, Res], error) {
	externalID, err := p.backend.Submit(ctx, req)
	if err != nil {
		return nil, classifySubmit(p.backend.Name(), err)
	}
	if externalID == "" {
		return nil, apperr.Provider(p.backend.Name(), "submission returned no request id")
	}

	h := &Handle[Req, Res]{
		poller: p,
		job: Job{
			ID:          uuid.NewString(),
			ExternalID:  externalID,
			Provider:    p.backend.Name(),
			Owner:       OwnerFrom(ctx),
			Status:      StatusSubmitted,
			SubmittedAt: p.clock.Now(),
		},
	}
	p.log.Info().Str("job_id", h.job.ID).Str("external_id", externalID).Msg("job submitted")
	p.notify(ctx, h.job)
	return h, nil
}

// Run submits req and waits for its result with the poller's default options.
func (p *Poller[Req, Res]) Run(ctx context.Context, req Req) (Res, error) {
	h, err := p.Submit(ctx, req)
	if err != nil {
		var zero Res
		return zero, err
	}
	return h.Await(ctx, p.opts)
}

func (p *Poller[Req, Res]) notify(ctx context.Context, job Job) {
	if p.observer == nil {
		return
	}
	p.observer.JobChanged(context.WithoutCancel(ctx), job)
}

// Handle represents exactly one submitted request.
type Handle[Req, Res any] struct {
	poller *Poller[Req, Res]

	mu     sync.Mutex
	job    Job
	done   bool
	result Res
	err    error
}

// Job returns a snapshot of the bookkeeping record.
func (h *Handle[Req, Res]) Job() Job {
	h.mu.Lock()
	defer h.mu.Unlock()
	return h.job
}

// Await polls until the job reaches a terminal state. Once terminal, every
// later call returns the cached outcome without querying the backend.
func (h *Handle[Req, Res]) Await(ctx context.Context, opts Options) (Res, error) {
	h.mu.Lock()
	defer h.mu.Unlock()
	if h.done {
		return h.result, h.err
	}

	p := h.poller
	name := p.backend.Name()
	log := p.log.With().Str("job_id", h.job.ID).Logger()
	failures := 0

	for {
		if err := p.clock.Sleep(ctx, opts.Interval); err != nil {
			return h.finish(ctx, StatusFailed, apperr.Canceled(name, err))
		}
		if p.clock.Now().Sub(h.job.SubmittedAt) > opts.MaxWait {
			log.Warn().Int("attempt", h.job.Attempts).Dur("max_wait", opts.MaxWait).Msg("job timed out")
			return h.finish(ctx, StatusTimedOut, apperr.Timeout(name, opts.MaxWait))
		}

		res, err := p.backend.Poll(ctx, h.job.ExternalID)
		h.job.Attempts++
		h.job.LastPolledAt = p.clock.Now()

		if err != nil {
			if ctx.Err() != nil {
				return h.finish(ctx, StatusFailed, apperr.Canceled(name, ctx.Err()))
			}
			if terminalPollError(err) {
				return h.finish(ctx, StatusFailed, err)
			}
			failures++
			log.Warn().Err(err).Int("attempt", h.job.Attempts).Int("consecutive_failures", failures).Msg("status query failed")
			if failures >= MaxConsecutivePollFailures {
				return h.finish(ctx, StatusFailed, apperr.PollingExhausted(name, failures, err))
			}
			continue
		}
		failures = 0

		switch res.State {
		case StateSucceeded:
			h.result = res.Result
			log.Info().Int("attempt", h.job.Attempts).Msg("job succeeded")
			return h.finish(ctx, StatusSucceeded, nil)
		case StateFailed:
			ferr := res.Err
			if ferr == nil {
				msg := res.Message
				if msg == "" {
					msg = "generation failed"
				}
				ferr = apperr.Provider(name, msg)
			}
			log.Warn().Err(ferr).Int("attempt", h.job.Attempts).Msg("job failed")
			return h.finish(ctx, StatusFailed, ferr)
		default:
			if h.transition(StatusProcessing) {
				p.notify(ctx, h.job)
			}
			log.Debug().Int("attempt", h.job.Attempts).Msg("job processing")
		}
	}
}

func (h *Handle[Req, Res]) transition(next Status) bool {
	if !h.job.Status.CanTransition(next) {
		return false
	}
	h.job.Status = next
	return true
}

func (h *Handle[Req, Res]) finish(ctx context.Context, status Status, err error) (Res, error) {
	h.transition(status)
	h.done = true
	h.err = err
	if err != nil {
		var zero Res
		h.result = zero
		h.job.ErrorKind = apperr.KindOf(err)
		h.job.ErrorMessage = err.Error()
	}
	h.poller.notify(ctx, h.job)
	return h.result, h.err
}

func classifySubmit(provider string, err error) error {
	if _, ok := apperr.As(err); ok {
		return err
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return apperr.FromTransport(provider, err)
	}
	return apperr.Wrap(apperr.KindProvider, provider, fmt.Sprintf("submission failed: %v", err), err)
}

// terminalPollError reports whether a status-query error must end the job
// instead of counting toward the failure threshold. Throttling is returned
// as is so the caller keeps the provider's Retry-After.
func terminalPollError(err error) bool {
	switch apperr.KindOf(err) {
	case apperr.KindAuth, apperr.KindInvalidRequest, apperr.KindContentPolicy, apperr.KindCanceled,
		apperr.KindRateLimited:
		return true
	default:
		return false
	}
}
