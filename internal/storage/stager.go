package storage

import (
	"context"
	"errors"
	"fmt"
	"path"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// DefaultCleanupTimeout bounds the deletion of staged objects once the caller
// is done with them, even if the caller's context was canceled.
const DefaultCleanupTimeout = 30 * time.Second

// Stager hands images to providers that only accept HTTPS URLs.
type Stager struct {
	store          ObjectStore
	prefix         string
	cleanupTimeout time.Duration
	log            zerolog.Logger
}

func NewStager(store ObjectStore, log zerolog.Logger) *Stager {
	return &Stager{
		store:          store,
		prefix:         "staging",
		cleanupTimeout: DefaultCleanupTimeout,
		log:            log.With().Str("component", "stager").Logger(),
	}
}

// Scope starts a set of staged uploads that are deleted together.
func (s *Stager) Scope() *Scope {
	return &Scope{stager: s, id: uuid.NewString()}
}

// Scope tracks the objects staged for one generating call.
type Scope struct {
	stager *Stager
	id     string

	mu   sync.Mutex
	keys []string
}

// Stage uploads data and returns its public URL.
func (sc *Scope) Stage(ctx context.Context, data []byte, contentType string) (Object, error) {
	key := path.Join(sc.stager.prefix, sc.id, uuid.NewString()+ExtensionFor(contentType))
	obj, err := sc.stager.store.Put(ctx, key, data, contentType)
	if err != nil {
		return Object{}, fmt.Errorf("stage upload: %w", err)
	}
	sc.mu.Lock()
	sc.keys = append(sc.keys, key)
	sc.mu.Unlock()
	return obj, nil
}

// Keys returns the keys staged so far.
func (sc *Scope) Keys() []string {
	sc.mu.Lock()
	defer sc.mu.Unlock()
	out := make([]string, len(sc.keys))
	copy(out, sc.keys)
	return out
}

// Cleanup deletes every staged object. It runs on a context detached from
// ctx's cancellation so abandoned calls still release their uploads. Failures
// are logged and joined; the scope is empty afterwards either way.
func (sc *Scope) Cleanup(ctx context.Context) error {
	sc.mu.Lock()
	keys := sc.keys
	sc.keys = nil
	sc.mu.Unlock()
	if len(keys) == 0 {
		return nil
	}

	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), sc.stager.cleanupTimeout)
	defer cancel()

	var errs []error
	for _, key := range keys {
		if err := sc.stager.store.Delete(ctx, key); err != nil {
			sc.stager.log.Warn().Err(err).Str("key", key).Msg("failed to delete staged object")
			errs = append(errs, fmt.Errorf("delete %s: %w", key, err))
		}
	}
	sc.stager.log.Debug().Str("scope", sc.id).Int("objects", len(keys)).Int("failed", len(errs)).Msg("staging cleaned up")
	return errors.Join(errs...)
}
