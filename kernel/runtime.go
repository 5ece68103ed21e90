package kernel

import (
	"context"

	"git.sr.ht/~aondrejcak/panel-credits/models"
	"git.sr.ht/~aondrejcak/panel-credits/store"
	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
	"go.opentelemetry.io/otel/trace"
)

type spanCtxPair struct {
	span trace.Span
	ctx  context.Context
}

// RequestRuntime carries one request's services and its span stack. Index 0
// is the request span; handlers step into child spans and back out.
type RequestRuntime struct {
	AppRuntime *AppRuntime
	Store      store.Store

	Reseller *models.Reseller

	RequestContext *gin.Context
	Span           trace.Span
	SpanContext    context.Context

	Error error

	pairs   []*spanCtxPair
	current int
}

func InitRequest(art *AppRuntime, rctx *gin.Context) *RequestRuntime {
	ctx := rctx.Request.Context()
	span, ctx := art.Diagnostic.BeginTracing(ctx, rctx.FullPath())

	log.Debug().Str("uri", rctx.Request.RequestURI).Msg("initializing request")

	rt := &RequestRuntime{
		AppRuntime: art,
		Store:      art.Store,

		RequestContext: rctx,
		Span:           span,
		SpanContext:    ctx,

		pairs:   make([]*spanCtxPair, 0),
		current: 0,
	}

	rt.pairs = append(rt.pairs, &spanCtxPair{span: span, ctx: ctx})

	return rt
}

func (rt *RequestRuntime) NewChildTracer(spanName string) *RequestRuntime {
	ctx, span := rt.AppRuntime.Diagnostic.Tracer.Start(rt.SpanContext, spanName)
	log.Trace().Str("span", spanName).Str("span_id", span.SpanContext().SpanID().String()).Msg("child tracer")
	rt.PushTrace(span, ctx)
	return rt
}

func (rt *RequestRuntime) PushTrace(span trace.Span, ctx context.Context) {
	rt.pairs = append(rt.pairs, &spanCtxPair{span: span, ctx: ctx})
}

// StepInto opens a child span and makes it current.
func (rt *RequestRuntime) StepInto(spanName string) *RequestRuntime {
	return rt.NewChildTracer(spanName).Advance()
}

func (rt *RequestRuntime) Advance() *RequestRuntime {
	if rt.current+1 >= len(rt.pairs) {
		log.Warn().Int("current", rt.current).Msg("trying to advance out of bounds")
		return rt
	}
	rt.SetIndex(rt.current + 1)
	return rt
}

func (rt *RequestRuntime) StepBack() *RequestRuntime {
	if rt.current == 0 {
		return rt
	}
	rt.SetIndex(rt.current - 1)
	return rt
}

func (rt *RequestRuntime) SetIndex(index int) {
	if index < 0 || index >= len(rt.pairs) {
		log.Warn().Int("index", index).Int("len", len(rt.pairs)).Msg("trying to skip over out of bounds")
		return
	}

	rt.current = index
	pair := rt.pairs[rt.current]
	rt.Span = pair.span
	rt.SpanContext = pair.ctx
}

// End finishes the current span and drops it from the stack. The request
// span is left for the tracer middleware.
func (rt *RequestRuntime) End() *RequestRuntime {
	if rt.current == 0 {
		return rt
	}
	rt.Span.End()
	rt.pairs = append(rt.pairs[:rt.current], rt.pairs[rt.current+1:]...)
	rt.current--
	pair := rt.pairs[rt.current]
	rt.Span = pair.span
	rt.SpanContext = pair.ctx
	return rt
}

// EndBlock closes every span above the request span.
func (rt *RequestRuntime) EndBlock() {
	for rt.current > 0 {
		rt.End()
	}
}

// Finish ends the request span; called once by the tracer middleware.
func (rt *RequestRuntime) Finish() {
	rt.EndBlock()
	rt.SetIndex(0)
	rt.Span.End()
}

// Context is the context handlers pass to services, carrying the current span.
func (rt *RequestRuntime) Context() context.Context {
	return rt.SpanContext
}
