package manager

import (
	"context"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/provmap/internal/provider"
	"github.com/zjrosen/provmap/internal/providermap"
	"github.com/zjrosen/provmap/internal/tracing"
)

const (
	spanRestore         = tracing.SpanRestore
	spanPublish         = tracing.SpanPublish
	spanResolve         = tracing.SpanResolve
	spanResolveClass    = tracing.SpanResolveClass
	spanAcquire         = tracing.SpanAcquire
	spanRemoveAuthority = tracing.SpanRemoveAuthority
	spanUnpublish       = tracing.SpanUnpublish
	spanRemovePackage   = tracing.SpanRemovePackage
	spanDump            = tracing.SpanDump

	attrRemoved = tracing.AttrRemoved
	attrPackage = tracing.AttrPackage
)

// run executes fn in a span and counts the outcome.
func (m *Manager) run(ctx context.Context, name string, fn func(ctx context.Context, span trace.Span) error, attrs ...attribute.KeyValue) error {
	err := tracing.Run(ctx, m.tracer, name, fn, attrs...)
	m.metrics.ObserveOperation(name, err)
	return err
}

func (m *Manager) observeSizeLocked() {
	m.metrics.SetBindings(m.providers.Len())
}

func recordAttrs(rec *provider.Record) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(tracing.AttrRecordID, rec.ID),
		attribute.String(tracing.AttrClass, rec.Class.ShortString()),
		attribute.Int(tracing.AttrUID, rec.OwnerUID),
		attribute.StringSlice(tracing.AttrAuthority, rec.Authorities),
	}
}

func authorityAttrs(authority string, user providermap.UserID) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(tracing.AttrAuthority, authority),
		attribute.Int(tracing.AttrUserID, int(user)),
	}
}

func classAttrs(cls providermap.ClassID, user providermap.UserID) []attribute.KeyValue {
	return []attribute.KeyValue{
		attribute.String(tracing.AttrClass, cls.ShortString()),
		attribute.Int(tracing.AttrUserID, int(user)),
	}
}

func foundAttr(found bool) attribute.KeyValue {
	return attribute.Bool(tracing.AttrFound, found)
}
