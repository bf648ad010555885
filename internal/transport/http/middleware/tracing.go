package middleware

import (
	"github.com/gin-gonic/gin"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"docuchat/internal/transport/http/response"
)

func Tracing(serviceName string) gin.HandlerFunc {
	return otelgin.Middleware(serviceName)
}

// EnrichTrace tags the request span with the request id and caller.
func EnrichTrace() gin.HandlerFunc {
	return func(c *gin.Context) {
		span := trace.SpanFromContext(c.Request.Context())
		span.SetAttributes(attribute.String("request.id", c.GetString(response.ContextRequestIDKey)))
		if owner := c.GetString(ContextOwnerIDKey); owner != "" {
			span.SetAttributes(attribute.String("docuchat.owner_id", owner))
		}
		c.Next()
	}
}
