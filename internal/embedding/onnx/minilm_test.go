package onnx

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func stubOpen(t *testing.T, fn func(Config) (*Encoder, error)) {
	t.Helper()
	prev := openEncoder
	openEncoder = fn
	t.Cleanup(func() { openEncoder = prev })
}

func TestLoader_CancelledBeforeOpen(t *testing.T) {
	opened := false
	stubOpen(t, func(Config) (*Encoder, error) {
		opened = true
		return &Encoder{}, nil
	})
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	backend, err := Loader(Config{})(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, backend)
	assert.False(t, opened, "model is not opened for a cancelled context")
}

func TestLoader_CancelledDuringOpen(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	stubOpen(t, func(Config) (*Encoder, error) {
		cancel()
		return &Encoder{dim: 384}, nil
	})

	backend, err := Loader(Config{})(ctx)
	require.ErrorIs(t, err, context.Canceled)
	assert.Nil(t, backend)
}

func TestLoader_Opens(t *testing.T) {
	stubOpen(t, func(Config) (*Encoder, error) { return &Encoder{dim: 384}, nil })

	backend, err := Loader(Config{})(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 384, backend.Dimension())
	assert.Equal(t, "onnx:minilm", backend.Name())
}
