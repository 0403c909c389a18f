package transcriber

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"
)

type Kind string

const (
	KindGoogle Kind = "google"
	KindOpenAI Kind = "openai"
)

// DefaultRetryAfter is how long the resolver waits before building again after every candidate failed.
const DefaultRetryAfter = time.Minute

// Candidate is one known engine variant. Build returns an error when the variant cannot run here.
type Candidate struct {
	Kind  Kind
	Build func(ctx context.Context) (Engine, error)
}

// Resolver picks the first buildable candidate on first use and caches it.
// Candidates are built outside the lock; concurrent callers share one build pass.
type Resolver struct {
	candidates []Candidate
	retryAfter time.Duration
	now        func() time.Time
	builds     singleflight.Group

	mu        sync.Mutex
	engine    Engine
	lastMiss  time.Time
	missCause error
	closed    bool
}

func NewResolver(candidates []Candidate, retryAfter time.Duration) *Resolver {
	return &Resolver{
		candidates: candidates,
		retryAfter: retryAfter,
		now:        time.Now,
	}
}

// Resolve returns the cached engine or builds the candidates in order.
// ErrEngineUnavailable is returned when none can be built; building is then suppressed for retryAfter.
func (r *Resolver) Resolve(ctx context.Context) (Engine, error) {
	if engine, ok, err := r.cached(); ok {
		return engine, err
	}
	v, err, _ := r.builds.Do("resolve", func() (any, error) {
		if engine, ok, err := r.cached(); ok {
			return engine, err
		}
		return r.buildFirst(ctx)
	})
	if err != nil {
		return nil, err
	}
	return v.(Engine), nil
}

// cached reports ok when the engine or a recent miss can answer without building.
func (r *Resolver) cached() (Engine, bool, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.closed {
		return nil, true, fmt.Errorf("%w: resolver closed", ErrEngineUnavailable)
	}
	if r.engine != nil {
		return r.engine, true, nil
	}
	if !r.lastMiss.IsZero() && r.now().Sub(r.lastMiss) < r.retryAfter {
		return nil, true, fmt.Errorf("%w: %v", ErrEngineUnavailable, r.missCause)
	}
	return nil, false, nil
}

func (r *Resolver) buildFirst(ctx context.Context) (Engine, error) {
	var errs []error
	for _, c := range r.candidates {
		engine, err := c.Build(ctx)
		if err != nil {
			slog.Warn("speech engine candidate unavailable", "kind", c.Kind, "error", err)
			errs = append(errs, fmt.Errorf("%s: %w", c.Kind, err))
			continue
		}
		return r.store(c.Kind, engine)
	}

	cause := errors.Join(errs...)
	if cause == nil {
		cause = errors.New("no candidates configured")
	}
	r.mu.Lock()
	r.lastMiss = r.now()
	r.missCause = cause
	r.mu.Unlock()
	return nil, fmt.Errorf("%w: %v", ErrEngineUnavailable, cause)
}

func (r *Resolver) store(kind Kind, engine Engine) (Engine, error) {
	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		if closer, ok := engine.(io.Closer); ok {
			_ = closer.Close()
		}
		return nil, fmt.Errorf("%w: resolver closed", ErrEngineUnavailable)
	}
	r.engine = engine
	r.lastMiss = time.Time{}
	r.missCause = nil
	r.mu.Unlock()
	slog.Info("speech engine resolved", "kind", kind, "engine", engine.Name())
	return engine, nil
}

// Close releases the cached engine when it holds a client connection.
// An engine whose build is still in flight is released when that build finishes.
func (r *Resolver) Close() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = true
	closer, ok := r.engine.(io.Closer)
	r.engine = nil
	if !ok {
		return nil
	}
	return closer.Close()
}
