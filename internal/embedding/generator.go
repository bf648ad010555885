// Package embedding turns text into fixed-length vectors. A Generator owns
// backend lifecycle: the primary backend is loaded on first use and, when it
// is unavailable, the configured fallback takes over for the rest of the
// process.
package embedding

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"docuchat/internal/apperr"
	"docuchat/internal/logger"
)

type Backend interface {
	Name() string
	Dimension() int
	Embed(ctx context.Context, texts []string) ([][]float32, error)
}

// Loader constructs a ready Backend. It is called at most once per
// initialization attempt.
type Loader func(ctx context.Context) (Backend, error)

type State string

const (
	StateUninitialized State = "uninitialized"
	StateReady         State = "ready"
	StateDegraded      State = "degraded"
	StateFailed        State = "failed"
)

type Status struct {
	State     State  `json:"state"`
	Backend   string `json:"backend,omitempty"`
	Dimension int    `json:"dimension,omitempty"`
	Error     string `json:"error,omitempty"`
}

type Option func(*Generator)

func WithFallback(l Loader) Option {
	return func(g *Generator) { g.fallback = l }
}

// WithTimeout bounds each load and each embed call.
func WithTimeout(d time.Duration) Option {
	return func(g *Generator) { g.timeout = d }
}

type Generator struct {
	primary  Loader
	fallback Loader
	timeout  time.Duration

	mu      sync.Mutex
	state   State
	backend Backend
	lastErr error
}

func NewGenerator(primary Loader, opts ...Option) *Generator {
	g := &Generator{
		primary: primary,
		timeout: 2 * time.Minute,
		state:   StateUninitialized,
	}
	for _, opt := range opts {
		opt(g)
	}
	return g
}

// Result is one batch of vectors and the name of the backend that produced
// them. Vectors from different backends are not comparable.
type Result struct {
	Vectors [][]float32
	Model   string
}

// Embed returns one L2-normalized vector per text.
func (g *Generator) Embed(ctx context.Context, texts []string) (Result, error) {
	if len(texts) == 0 {
		return Result{}, fmt.Errorf("%w: no texts to embed", apperr.ErrInvalidInput)
	}
	for i, t := range texts {
		if strings.TrimSpace(t) == "" {
			return Result{}, fmt.Errorf("%w: text at index %d is empty", apperr.ErrInvalidInput, i)
		}
	}

	backend, err := g.ensure(ctx)
	if err != nil {
		return Result{}, err
	}

	vectors, err := g.call(ctx, backend, texts)
	if err != nil && errors.Is(err, apperr.ErrModelUnavailable) {
		replacement, derr := g.degrade(ctx, backend, err)
		if derr != nil {
			return Result{}, derr
		}
		backend = replacement
		vectors, err = g.call(ctx, backend, texts)
	}
	if err != nil {
		return Result{}, err
	}
	for _, v := range vectors {
		Normalize(v)
	}
	return Result{Vectors: vectors, Model: backend.Name()}, nil
}

// EmbedOne is Embed for a single text.
func (g *Generator) EmbedOne(ctx context.Context, text string) ([]float32, string, error) {
	res, err := g.Embed(ctx, []string{text})
	if err != nil {
		return nil, "", err
	}
	return res.Vectors[0], res.Model, nil
}

func (g *Generator) Status() Status {
	g.mu.Lock()
	defer g.mu.Unlock()
	st := Status{State: g.state}
	if g.backend != nil {
		st.Backend = g.backend.Name()
		st.Dimension = g.backend.Dimension()
	}
	if g.lastErr != nil {
		st.Error = g.lastErr.Error()
	}
	return st
}

// Close releases the active backend if it holds native resources.
func (g *Generator) Close() {
	g.mu.Lock()
	defer g.mu.Unlock()
	if c, ok := g.backend.(interface{ Close() }); ok {
		c.Close()
	}
	g.backend = nil
	g.state = StateUninitialized
}

// ensure runs the single initialization routine. Callers arriving while it
// runs wait on the mutex and reuse its outcome.
func (g *Generator) ensure(ctx context.Context) (Backend, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.state == StateReady || g.state == StateDegraded {
		return g.backend, nil
	}

	backend, err := g.load(ctx, g.primary)
	if err == nil {
		g.backend, g.state, g.lastErr = backend, StateReady, nil
		logger.Info("embedding backend ready", "backend", backend.Name(), "dimension", backend.Dimension())
		return backend, nil
	}

	if g.fallback != nil {
		fb, ferr := g.load(ctx, g.fallback)
		if ferr == nil {
			g.backend, g.state, g.lastErr = fb, StateDegraded, err
			logger.Warn("embedding primary unavailable, using fallback",
				"fallback", fb.Name(), "dimension", fb.Dimension(), "error", err)
			return fb, nil
		}
		err = errors.Join(err, ferr)
	}

	g.backend, g.state, g.lastErr = nil, StateFailed, err
	return nil, err
}

// degrade swaps a backend that failed at call time for the fallback.
func (g *Generator) degrade(ctx context.Context, failed Backend, cause error) (Backend, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.backend != nil && g.backend != failed {
		return g.backend, nil
	}
	if g.fallback == nil || g.state == StateDegraded {
		return nil, cause
	}

	fb, err := g.load(ctx, g.fallback)
	if err != nil {
		joined := errors.Join(cause, err)
		g.backend, g.state, g.lastErr = nil, StateFailed, joined
		return nil, joined
	}
	logger.Warn("embedding backend failed at call time, using fallback",
		"failed", failed.Name(), "fallback", fb.Name(), "error", cause)
	g.backend, g.state, g.lastErr = fb, StateDegraded, cause
	return fb, nil
}

func (g *Generator) load(ctx context.Context, l Loader) (Backend, error) {
	if l == nil {
		return nil, fmt.Errorf("%w: no embedding backend configured", apperr.ErrModelUnavailable)
	}
	loadCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	b, err := l(loadCtx)
	if err != nil {
		return nil, asUnavailable(err)
	}
	return b, nil
}

func (g *Generator) call(ctx context.Context, b Backend, texts []string) ([][]float32, error) {
	callCtx, cancel := context.WithTimeout(ctx, g.timeout)
	defer cancel()
	vectors, err := b.Embed(callCtx, texts)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) && ctx.Err() == nil {
			return nil, asUnavailable(err)
		}
		return nil, err
	}
	if len(vectors) != len(texts) {
		return nil, fmt.Errorf("embedding backend %s returned %d vectors for %d texts", b.Name(), len(vectors), len(texts))
	}
	return vectors, nil
}

func asUnavailable(err error) error {
	if errors.Is(err, apperr.ErrModelUnavailable) {
		return err
	}
	return fmt.Errorf("%w: %w", apperr.ErrModelUnavailable, err)
}

// Normalize scales v to unit length in place. Zero vectors are left as is.
func Normalize(v []float32) {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	if sum == 0 {
		return
	}
	inv := float32(1 / math.Sqrt(sum))
	for i := range v {
		v[i] *= inv
	}
}
