// Package batch runs one independent task per item under a concurrency
// window, pausing between windows to stay under provider rate limits.
package batch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/bobarin/storyreel/internal/apperr"
	"github.com/bobarin/storyreel/internal/clock"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"
)

// Policy decides what a failed item means for the windows after it.
type Policy int

const (
	// CollectAll records failures per item and keeps going.
	CollectAll Policy = iota
	// StopOnFirstFailure lets the in-flight window settle and then starts no
	// further windows.
	StopOnFirstFailure
)

func (p Policy) String() string {
	switch p {
	case CollectAll:
		return "collect_all"
	case StopOnFirstFailure:
		return "stop_on_first_failure"
	default:
		return fmt.Sprintf("policy(%d)", int(p))
	}
}

// ParsePolicy accepts the names produced by Policy.String.
func ParsePolicy(s string) (Policy, error) {
	switch s {
	case "collect_all", "":
		return CollectAll, nil
	case "stop_on_first_failure":
		return StopOnFirstFailure, nil
	default:
		return CollectAll, fmt.Errorf("unknown batch policy %q", s)
	}
}

type State int

const (
	Pending State = iota
	Succeeded
	Failed
)

func (s State) String() string {
	switch s {
	case Succeeded:
		return "success"
	case Failed:
		return "failure"
	default:
		return "pending"
	}
}

// Outcome is the settled result for the item at the same index of the input.
type Outcome[R any] struct {
	Index int
	State State
	Value R
	Err   error
}

// ErrHalted is returned by Run when StopOnFirstFailure prevented later
// windows from starting.
var ErrHalted = errors.New("batch halted after failure")

type Options struct {
	BatchSize        int
	InterWindowDelay time.Duration
	Policy           Policy
	Clock            clock.Clock
	Logger           zerolog.Logger
}

// Worker processes one item. index is the item's position in the input.
type Worker[T, R any] func(ctx context.Context, index int, item T) (R, error)

// WindowCount returns how many windows Run uses for n items.
func WindowCount(n, batchSize int) int {
	if n == 0 {
		return 0
	}
	if batchSize <= 0 {
		batchSize = n
	}
	return (n + batchSize - 1) / batchSize
}

// Run processes items window by window. The returned slice always has
// len(items) entries in input order; items in windows that never started
// stay Pending. The error is ErrHalted, a cancellation error, or nil; item
// failures are reported only through their Outcome.
func Run[T, R any](ctx context.Context, items []T, worker Worker[T, R], opts Options) ([]Outcome[R], error) {
	outcomes := make([]Outcome[R], len(items))
	for i := range outcomes {
		outcomes[i].Index = i
	}
	if len(items) == 0 {
		return outcomes, nil
	}

	size := opts.BatchSize
	if size <= 0 {
		size = len(items)
	}
	clk := opts.Clock
	if clk == nil {
		clk = clock.Real()
	}
	log := opts.Logger.With().Str("component", "batch").Str("policy", opts.Policy.String()).Logger()
	windows := WindowCount(len(items), size)

	for w := 0; w < windows; w++ {
		if w > 0 {
			if err := clk.Sleep(ctx, opts.InterWindowDelay); err != nil {
				return outcomes, apperr.Canceled("", err)
			}
		}
		if err := ctx.Err(); err != nil {
			return outcomes, apperr.Canceled("", err)
		}

		start := w * size
		end := min(start+size, len(items))
		log.Debug().Int("window", w+1).Int("windows", windows).Int("start", start).Int("end", end).Msg("starting window")

		// Workers report failures through outcomes, never through the group,
		// so one failure neither cancels nor hides its siblings.
		var g errgroup.Group
		for i := start; i < end; i++ {
			g.Go(func() error {
				v, err := worker(ctx, i, items[i])
				if err != nil {
					outcomes[i].State = Failed
					outcomes[i].Err = err
					return nil
				}
				outcomes[i].State = Succeeded
				outcomes[i].Value = v
				return nil
			})
		}
		_ = g.Wait()

		failed := 0
		for i := start; i < end; i++ {
			if outcomes[i].State == Failed {
				failed++
				log.Warn().Err(outcomes[i].Err).Int("index", i).Msg("item failed")
			}
		}
		if failed > 0 && opts.Policy == StopOnFirstFailure && w < windows-1 {
			log.Warn().Int("window", w+1).Int("failed", failed).Int("skipped", len(items)-end).Msg("halting batch")
			return outcomes, ErrHalted
		}
	}
	return outcomes, nil
}

// Values returns the successful values in input order together with their
// indexes.
func Values[R any](outcomes []Outcome[R]) ([]R, []int) {
	var vals []R
	var idx []int
	for _, o := range outcomes {
		if o.State == Succeeded {
			vals = append(vals, o.Value)
			idx = append(idx, o.Index)
		}
	}
	return vals, idx
}

// FirstError returns the error of the lowest-index failed outcome.
func FirstError[R any](outcomes []Outcome[R]) error {
	for _, o := range outcomes {
		if o.State == Failed {
			return fmt.Errorf("item %d: %w", o.Index, o.Err)
		}
	}
	return nil
}
