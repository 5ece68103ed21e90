package middleware

import (
	"bytes"
	"io"
	"strings"
	"time"

	"git.sr.ht/~aondrejcak/panel-credits/kernel"
	"github.com/gin-gonic/gin"
	"go.nhat.io/otelsql/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
)

const maxRecordedBody = 4096

type responseWriter struct {
	gin.ResponseWriter
	span trace.Span
}

// TracerMiddleware opens the request runtime and its span; handlers fetch it
// with c.MustGet("rt").
func TracerMiddleware(art *kernel.AppRuntime) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		rt := kernel.InitRequest(art, c)

		rt.Span.SetAttributes(
			attribute.KeyValue("http.method", c.Request.Method),
			attribute.KeyValue("http.url", c.Request.URL.String()),
			attribute.KeyValue("http.host", c.Request.Host),
		)

		// admin logins carry passwords
		if c.Request.Body != nil && !strings.HasSuffix(c.FullPath(), "/login") {
			bodyBytes, _ := c.GetRawData()
			rt.Span.SetAttributes(attribute.KeyValue("http.request_body", truncate(bodyBytes)))
			c.Request.Body = io.NopCloser(bytes.NewReader(bodyBytes))
		}

		if counter := art.Diagnostic.RequestCounter; counter != nil {
			counter.Add(rt.SpanContext, 1,
				metric.WithAttributes(attribute.KeyValue("http.method", c.Request.Method)),
			)
		}

		c.Writer = &responseWriter{
			ResponseWriter: c.Writer,
			span:           rt.Span,
		}

		c.Set("rt", rt)
		c.Next()

		rt.SetIndex(0)
		status := c.Writer.Status()
		rt.Span.SetAttributes(attribute.KeyValue("http.status_code", status))
		if status >= 500 {
			rt.Span.SetStatus(codes.Error, "request failed")
		}
		if h := art.Diagnostic.RequestDuration; h != nil {
			h.Record(rt.SpanContext, time.Since(start).Seconds(), metric.WithAttributes(
				attribute.KeyValue("http.route", c.FullPath()),
				attribute.KeyValue("http.status_code", status),
			))
		}
		rt.Finish()
	}
}

func truncate(b []byte) string {
	if len(b) > maxRecordedBody {
		b = b[:maxRecordedBody]
	}
	return string(b)
}

func (w *responseWriter) Write(b []byte) (int, error) {
	w.span.SetAttributes(attribute.KeyValue("http.response_body", truncate(b)))

	return w.ResponseWriter.Write(b)
}
