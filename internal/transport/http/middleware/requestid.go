package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"docuchat/internal/transport/http/response"
)

const RequestIDHeader = "X-Request-ID"

// RequestID reuses the caller's X-Request-ID or generates one, and echoes it
// on the response.
func RequestID() gin.HandlerFunc {
	return func(c *gin.Context) {
		id := c.GetHeader(RequestIDHeader)
		if id == "" || len(id) > 128 {
			id = uuid.NewString()
		}
		c.Set(response.ContextRequestIDKey, id)
		c.Header(RequestIDHeader, id)
		c.Next()
	}
}
