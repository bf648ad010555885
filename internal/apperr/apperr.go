// Package apperr declares the error kinds shared by every layer of the service.
// Packages wrap one of the sentinels below with fmt.Errorf("...: %w", ...) and the
// transport layer maps the kind to a status code and a stable string.
package apperr

import (
	"context"
	"errors"
	"net/http"
)

type Kind string

const (
	KindUnsupportedFormat  Kind = "unsupported_format"
	KindExtraction         Kind = "extraction_error"
	KindConfiguration      Kind = "configuration_error"
	KindInvalidInput       Kind = "invalid_input"
	KindModelUnavailable   Kind = "model_unavailable"
	KindDimensionMismatch  Kind = "dimension_mismatch"
	KindCollectionNotFound Kind = "collection_not_found"
	KindNotFound           Kind = "not_found"
	KindGeneration         Kind = "generation_error"
	KindConflict           Kind = "conflict"
	KindTimeout            Kind = "timeout"
	KindInternal           Kind = "internal"
)

var (
	ErrUnsupportedFormat  = errors.New("unsupported format")
	ErrExtraction         = errors.New("extraction failed")
	ErrConfiguration      = errors.New("invalid configuration")
	ErrInvalidInput       = errors.New("invalid input")
	ErrModelUnavailable   = errors.New("embedding model unavailable")
	ErrDimensionMismatch  = errors.New("vector dimension mismatch")
	ErrCollectionNotFound = errors.New("collection not found")
	ErrNotFound           = errors.New("not found")
	ErrGeneration         = errors.New("generation failed")
	ErrConflict           = errors.New("conflict")
)

var kinds = []struct {
	err  error
	kind Kind
}{
	{ErrUnsupportedFormat, KindUnsupportedFormat},
	{ErrExtraction, KindExtraction},
	{ErrConfiguration, KindConfiguration},
	{ErrInvalidInput, KindInvalidInput},
	{ErrModelUnavailable, KindModelUnavailable},
	{ErrDimensionMismatch, KindDimensionMismatch},
	{ErrCollectionNotFound, KindCollectionNotFound},
	{ErrNotFound, KindNotFound},
	{ErrGeneration, KindGeneration},
	{ErrConflict, KindConflict},
}

// KindOf returns the kind of the first sentinel found in err's chain.
// Deadline errors that were not wrapped into a kind report KindTimeout.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.kind
		}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return KindTimeout
	}
	return KindInternal
}

// HTTPStatus maps a kind to the status code the REST layer answers with.
func HTTPStatus(kind Kind) int {
	switch kind {
	case KindUnsupportedFormat, KindExtraction, KindConfiguration, KindInvalidInput, KindDimensionMismatch:
		return http.StatusBadRequest
	case KindNotFound, KindCollectionNotFound:
		return http.StatusNotFound
	case KindConflict:
		return http.StatusConflict
	case KindModelUnavailable:
		return http.StatusServiceUnavailable
	case KindGeneration:
		return http.StatusBadGateway
	case KindTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
