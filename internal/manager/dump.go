package manager

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"time"

	"go.opentelemetry.io/otel/trace"
)

// Dump writes the provider map followed by the providers removed within
// the retention window.
func (m *Manager) Dump(ctx context.Context, w io.Writer, all bool) error {
	return m.run(ctx, spanDump, func(ctx context.Context, span trace.Span) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		if err := m.providers.Dump(w, all); err != nil {
			return fmt.Errorf("dumping providers: %w", err)
		}
		return m.dumpRemoved(ctx, w)
	})
}

func (m *Manager) dumpRemoved(ctx context.Context, w io.Writer) error {
	if m.removed == nil {
		return nil
	}
	items := m.removed.Items(ctx)
	if len(items) == 0 {
		return nil
	}

	removed := make([]removedProvider, 0, len(items))
	for _, item := range items {
		removed = append(removed, item)
	}
	slices.SortFunc(removed, func(a, b removedProvider) int {
		if c := a.RemovedAt.Compare(b.RemovedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.Record.ID, b.Record.ID)
	})

	if _, err := fmt.Fprintf(w, " \n  Recently removed providers:\n"); err != nil {
		return err
	}
	for _, r := range removed {
		if _, err := fmt.Fprintf(w, "  * %s (%s at %s)\n",
			r.Record, r.Reason, r.RemovedAt.Format(time.RFC3339)); err != nil {
			return err
		}
	}
	return nil
}
