package tracing

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// Span attribute keys for provider operations.
const (
	AttrAuthority = "provider.authority"
	AttrClass     = "provider.class"
	AttrRecordID  = "provider.record_id"
	AttrUID       = "provider.uid"
	AttrPackage   = "provider.package"
	AttrUserID    = "user.id"
	AttrFound     = "lookup.found"
	AttrRemoved   = "remove.count"
)

// Span names for manager operations.
const (
	SpanRestore         = "manager.restore"
	SpanPublish         = "manager.publish"
	SpanResolve         = "manager.resolve"
	SpanResolveClass    = "manager.resolve_class"
	SpanAcquire         = "manager.acquire"
	SpanRemoveAuthority = "manager.remove_authority"
	SpanUnpublish       = "manager.unpublish"
	SpanRemovePackage   = "manager.remove_package"
	SpanDump            = "manager.dump"
)

// Run executes fn inside a span named name and records its outcome.
// A nil tracer runs fn directly.
func Run(ctx context.Context, tracer trace.Tracer, name string, fn func(ctx context.Context, span trace.Span) error, attrs ...attribute.KeyValue) error {
	if tracer == nil {
		return fn(ctx, trace.SpanFromContext(ctx))
	}

	ctx, span := tracer.Start(ctx, name,
		trace.WithSpanKind(trace.SpanKindInternal),
		trace.WithAttributes(attrs...),
	)
	defer span.End()

	err := fn(ctx, span)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	} else {
		span.SetStatus(codes.Ok, "")
	}
	return err
}
