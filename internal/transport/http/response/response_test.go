package response

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"docuchat/internal/apperr"
)

func serveError(t *testing.T, err error) (int, APIResponse) {
	t.Helper()
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodGet, "/", nil)
	c.Set(ContextRequestIDKey, "req-1")

	Fail(c, err)

	var body APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	return w.Code, body
}

func TestFail(t *testing.T) {
	tests := []struct {
		name   string
		err    error
		status int
		code   int
		kind   apperr.Kind
	}{
		{"unsupported format", fmt.Errorf("%w: only pdf", apperr.ErrUnsupportedFormat), http.StatusBadRequest, CodeUnsupportedFormat, apperr.KindUnsupportedFormat},
		{"not found", fmt.Errorf("%w: document", apperr.ErrNotFound), http.StatusNotFound, CodeNotFound, apperr.KindNotFound},
		{"collection not found", fmt.Errorf("%w: x", apperr.ErrCollectionNotFound), http.StatusNotFound, CodeCollectionNotFound, apperr.KindCollectionNotFound},
		{"conflict", fmt.Errorf("%w: busy", apperr.ErrConflict), http.StatusConflict, CodeConflict, apperr.KindConflict},
		{"model unavailable", apperr.ErrModelUnavailable, http.StatusServiceUnavailable, CodeModelUnavailable, apperr.KindModelUnavailable},
		{"generation", apperr.ErrGeneration, http.StatusBadGateway, CodeGeneration, apperr.KindGeneration},
		{"timeout", fmt.Errorf("embed: %w", context.DeadlineExceeded), http.StatusGatewayTimeout, CodeTimeout, apperr.KindTimeout},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			status, body := serveError(t, tt.err)
			assert.Equal(t, tt.status, status)
			assert.Equal(t, tt.code, body.Code)
			assert.Equal(t, tt.kind, body.Kind)
			assert.Equal(t, tt.err.Error(), body.Message)
			assert.Equal(t, "req-1", body.RequestID)
		})
	}
}

func TestFail_HidesInternalDetail(t *testing.T) {
	status, body := serveError(t, errors.New("dial tcp 10.0.0.3:3306: connection refused"))

	assert.Equal(t, http.StatusInternalServerError, status)
	assert.Equal(t, CodeInternalServer, body.Code)
	assert.Equal(t, apperr.KindInternal, body.Kind)
	assert.Equal(t, "internal server error", body.Message)
}

func TestInvalid(t *testing.T) {
	gin.SetMode(gin.TestMode)
	w := httptest.NewRecorder()
	c, _ := gin.CreateTestContext(w)
	c.Request = httptest.NewRequest(http.MethodPost, "/", nil)

	Invalid(c, "missing file")

	var body APIResponse
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, apperr.KindInvalidInput, body.Kind)
	assert.Equal(t, "invalid input: missing file", body.Message)
}
