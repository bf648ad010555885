package response

import (
	"fmt"
	"net/http"

	"github.com/gin-gonic/gin"

	"docuchat/internal/apperr"
	"docuchat/internal/logger"
)

const (
	CodeOK                 = 0
	CodeBadRequest         = 40000
	CodeUnsupportedFormat  = 40001
	CodeExtraction         = 40002
	CodeConfiguration      = 40003
	CodeDimensionMismatch  = 40004
	CodeUnauthorized       = 40100
	CodeNotFound           = 40400
	CodeCollectionNotFound = 40401
	CodeConflict           = 40900
	CodeInternalServer     = 50000
	CodeGeneration         = 50200
	CodeModelUnavailable   = 50300
	CodeTimeout            = 50400
)

// ContextRequestIDKey is where the request id middleware stores the id.
const ContextRequestIDKey = "request_id"

type APIResponse struct {
	Code      int         `json:"code"`
	Message   string      `json:"message"`
	Kind      apperr.Kind `json:"kind,omitempty"`
	RequestID string      `json:"request_id,omitempty"`
	Data      interface{} `json:"data,omitempty"`
}

func OK(c *gin.Context, data interface{}) {
	JSON(c, http.StatusOK, data)
}

func Accepted(c *gin.Context, data interface{}) {
	JSON(c, http.StatusAccepted, data)
}

func JSON(c *gin.Context, httpStatus int, data interface{}) {
	c.JSON(httpStatus, APIResponse{
		Code:      CodeOK,
		Message:   "ok",
		RequestID: c.GetString(ContextRequestIDKey),
		Data:      data,
	})
}

func Error(c *gin.Context, httpStatus, code int, message string) {
	c.JSON(httpStatus, APIResponse{
		Code:      code,
		Message:   message,
		RequestID: c.GetString(ContextRequestIDKey),
	})
}

// Fail answers with the status and stable kind of err. Internal errors are
// logged and reported without their detail.
func Fail(c *gin.Context, err error) {
	kind := apperr.KindOf(err)
	status := apperr.HTTPStatus(kind)
	message := err.Error()
	if kind == apperr.KindInternal {
		logger.Error("request failed",
			"request_id", c.GetString(ContextRequestIDKey),
			"path", c.FullPath(),
			"error", err,
		)
		message = "internal server error"
	}
	c.JSON(status, APIResponse{
		Code:      codeOf(kind),
		Message:   message,
		Kind:      kind,
		RequestID: c.GetString(ContextRequestIDKey),
	})
}

// Invalid answers 400 invalid_input for a request that could not be bound.
func Invalid(c *gin.Context, message string) {
	Fail(c, fmt.Errorf("%w: %s", apperr.ErrInvalidInput, message))
}

func codeOf(kind apperr.Kind) int {
	switch kind {
	case apperr.KindUnsupportedFormat:
		return CodeUnsupportedFormat
	case apperr.KindExtraction:
		return CodeExtraction
	case apperr.KindConfiguration:
		return CodeConfiguration
	case apperr.KindInvalidInput:
		return CodeBadRequest
	case apperr.KindDimensionMismatch:
		return CodeDimensionMismatch
	case apperr.KindNotFound:
		return CodeNotFound
	case apperr.KindCollectionNotFound:
		return CodeCollectionNotFound
	case apperr.KindConflict:
		return CodeConflict
	case apperr.KindGeneration:
		return CodeGeneration
	case apperr.KindModelUnavailable:
		return CodeModelUnavailable
	case apperr.KindTimeout:
		return CodeTimeout
	default:
		return CodeInternalServer
	}
}
