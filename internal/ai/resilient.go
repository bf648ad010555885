package ai

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"golang.org/x/time/rate"

	"docuchat/internal/apperr"
	"docuchat/internal/logger"
)

type ResilienceConfig struct {
	MaxAttempts       uint
	AttemptTimeout    time.Duration
	InitialBackoff    time.Duration
	MaxBackoff        time.Duration
	RequestsPerMinute int
	// breaker opens after this many consecutive failures
	BreakerFailures uint32
	BreakerCooldown time.Duration
}

func (c ResilienceConfig) withDefaults() ResilienceConfig {
	if c.MaxAttempts == 0 {
		c.MaxAttempts = 3
	}
	if c.AttemptTimeout <= 0 {
		c.AttemptTimeout = 60 * time.Second
	}
	if c.InitialBackoff <= 0 {
		c.InitialBackoff = 500 * time.Millisecond
	}
	if c.MaxBackoff <= 0 {
		c.MaxBackoff = 8 * time.Second
	}
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = 60
	}
	if c.BreakerFailures == 0 {
		c.BreakerFailures = 5
	}
	if c.BreakerCooldown <= 0 {
		c.BreakerCooldown = 30 * time.Second
	}
	return c
}

// Resilient wraps an LLM with rate limiting, a circuit breaker and bounded
// retries. Every failure it returns wraps apperr.ErrGeneration.
type Resilient struct {
	next    LLM
	cfg     ResilienceConfig
	breaker *gobreaker.CircuitBreaker
	limiter *rate.Limiter
}

func NewResilient(next LLM, cfg ResilienceConfig) *Resilient {
	cfg = cfg.withDefaults()
	breaker := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:        "llm:" + next.Name(),
		MaxRequests: 1,
		Timeout:     cfg.BreakerCooldown,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= cfg.BreakerFailures
		},
		IsSuccessful: func(err error) bool {
			// caller cancellations say nothing about provider health
			return err == nil || errors.Is(err, context.Canceled)
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("circuit breaker state changed", "breaker", name, "from", from.String(), "to", to.String())
		},
	})
	perSecond := rate.Limit(float64(cfg.RequestsPerMinute) / 60.0)
	burst := max(1, cfg.RequestsPerMinute/10)
	return &Resilient{
		next:    next,
		cfg:     cfg,
		breaker: breaker,
		limiter: rate.NewLimiter(perSecond, burst),
	}
}

func (r *Resilient) Name() string { return r.next.Name() }

func (r *Resilient) Generate(ctx context.Context, prompt Prompt) (string, error) {
	ctx, span := otel.Tracer("docuchat/ai").Start(ctx, "llm.generate")
	defer span.End()
	span.SetAttributes(
		attribute.String("llm.provider", r.next.Name()),
		attribute.Int("llm.prompt_chars", len(prompt.System)+len(prompt.User)),
	)

	attempts := 0
	operation := func() (string, error) {
		attempts++
		if err := r.limiter.Wait(ctx); err != nil {
			return "", backoff.Permanent(err)
		}
		out, err := r.breaker.Execute(func() (interface{}, error) {
			attemptCtx, cancel := context.WithTimeout(ctx, r.cfg.AttemptTimeout)
			defer cancel()
			answer, err := r.next.Generate(attemptCtx, prompt)
			if err != nil {
				return nil, err
			}
			if strings.TrimSpace(answer) == "" {
				return nil, errors.New("empty completion")
			}
			return answer, nil
		})
		if err != nil {
			if !retryable(ctx, err) {
				return "", backoff.Permanent(err)
			}
			return "", err
		}
		return out.(string), nil
	}

	eb := backoff.NewExponentialBackOff()
	eb.InitialInterval = r.cfg.InitialBackoff
	eb.MaxInterval = r.cfg.MaxBackoff

	answer, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(eb),
		backoff.WithMaxTries(r.cfg.MaxAttempts),
	)
	span.SetAttributes(attribute.Int("llm.attempts", attempts))
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "generation failed")
		return "", fmt.Errorf("%w: %s after %d attempt(s): %w", apperr.ErrGeneration, r.next.Name(), attempts, err)
	}
	return answer, nil
}

func retryable(ctx context.Context, err error) bool {
	if ctx.Err() != nil {
		return false
	}
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return false
	}
	var statusErr *StatusError
	if errors.As(err, &statusErr) {
		return statusErr.Retryable()
	}
	return true
}
