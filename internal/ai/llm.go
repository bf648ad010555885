package ai

import (
	"context"
	"errors"
	"fmt"

	"docuchat/internal/apperr"
	"docuchat/internal/logger"
)

// Prompt is the fully assembled input for one completion.
type Prompt struct {
	System string
	User   string
}

// LLM generates text for a prompt. Implementations fail with an error wrapping
// apperr.ErrGeneration once their own retry policy is exhausted.
type LLM interface {
	Name() string
	Generate(ctx context.Context, prompt Prompt) (string, error)
}

// Fallback tries each provider in order and returns the first answer.
type Fallback struct {
	providers []LLM
}

func NewFallback(providers ...LLM) *Fallback {
	return &Fallback{providers: providers}
}

func (f *Fallback) Name() string {
	if len(f.providers) == 0 {
		return "none"
	}
	return f.providers[0].Name()
}

func (f *Fallback) Generate(ctx context.Context, prompt Prompt) (string, error) {
	if len(f.providers) == 0 {
		return "", fmt.Errorf("%w: no llm provider configured", apperr.ErrGeneration)
	}
	var errs []error
	for i, p := range f.providers {
		answer, err := p.Generate(ctx, prompt)
		if err == nil {
			return answer, nil
		}
		errs = append(errs, fmt.Errorf("%s: %w", p.Name(), err))
		if ctx.Err() != nil {
			break
		}
		if i+1 < len(f.providers) {
			logger.Warn("llm provider failed, trying next", "provider", p.Name(), "next", f.providers[i+1].Name(), "error", err)
		}
	}
	err := errors.Join(errs...)
	if !errors.Is(err, apperr.ErrGeneration) {
		err = fmt.Errorf("%w: %w", apperr.ErrGeneration, err)
	}
	return "", err
}
