package middleware

import (
	"github.com/gin-gonic/gin"
	"github.com/larklabs/backend/internal/infrastructure/telemetry"
	"go.opentelemetry.io/contrib/instrumentation/github.com/gin-gonic/gin/otelgin"
	"go.opentelemetry.io/otel/trace"
)

// Tracing returns the otelgin server-span middleware followed by a handler
// that tags the span with the request and subscriber IDs. The tagging
// handler must run inside otelgin's chain, while the span is still open.
func Tracing(serviceName string) []gin.HandlerFunc {
	return []gin.HandlerFunc{otelgin.Middleware(serviceName), spanAttributes}
}

func spanAttributes(c *gin.Context) {
	span := trace.SpanFromContext(c.Request.Context())
	if span.IsRecording() {
		if id := GetRequestID(c); id != "" {
			telemetry.SetAttribute(span, telemetry.SpanAttrRequestID, id)
		}
		if id := c.Param("id"); id != "" {
			telemetry.SetAttribute(span, telemetry.SpanAttrSubscriberID, id)
		}
	}
	c.Next()
}
