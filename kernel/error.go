package kernel

import (
	"fmt"

	"github.com/gin-gonic/gin"
	"go.nhat.io/otelsql/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
)

// MakeError records err on the current span, closes it and steps back.
func (rt *RequestRuntime) MakeError(err error) error {
	s := rt.Span
	s.RecordError(err)
	s.SetStatus(codes.Error, err.Error())
	rt.Error = err
	rt.End()

	return err
}

func (rt *RequestRuntime) MakeErrorf(format string, args ...interface{}) error {
	return rt.MakeError(fmt.Errorf(format, args...))
}

// E aborts the request with {"error", "traceId"}.
func (rt *RequestRuntime) E(code int, err error) *RequestRuntime {
	traceId := rt.Span.SpanContext().TraceID().String()
	rt.MakeError(err)

	if c := rt.AppRuntime.Diagnostic.ErrorCounter; c != nil {
		c.Add(rt.SpanContext, 1, metric.WithAttributes(
			attribute.KeyValue("http.status_code", code),
			attribute.KeyValue("http.route", rt.RequestContext.FullPath()),
		))
	}

	rt.RequestContext.AbortWithStatusJSON(code, &gin.H{
		"error":   err.Error(),
		"traceId": traceId,
	})
	return rt
}

func (rt *RequestRuntime) Ef(code int, format string, args ...interface{}) *RequestRuntime {
	return rt.E(code, fmt.Errorf(format, args...))
}
