package manager

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/provmap/internal/log"
	"github.com/zjrosen/provmap/internal/provider"
	"github.com/zjrosen/provmap/internal/providermap"
	"github.com/zjrosen/provmap/internal/pubsub"
)

// Reasons recorded for removed providers.
const (
	ReasonAuthorityRemoved = "authority removed"
	ReasonDied             = "died"
	ReasonUninstalled      = "uninstalled"
)

// RemoveAuthority drops the binding of authority that user would resolve:
// the global one if present, otherwise the one in user's table. Removing an
// unbound authority is a no-op. The removed record is returned.
func (m *Manager) RemoveAuthority(ctx context.Context, authority string, user providermap.UserID) (*provider.Record, bool, error) {
	var (
		rec   *provider.Record
		found bool
	)
	err := m.run(ctx, spanRemoveAuthority, func(ctx context.Context, span trace.Span) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		// ProviderByName resolves exactly the binding RemoveByName would drop.
		rec, found = m.providers.ProviderByName(authority, user)
		span.SetAttributes(foundAttr(found))
		if !found {
			return nil
		}

		scopeUser, global := m.providers.ScopeOf(rec)
		if err := m.unbind(provider.AuthorityBinding(authority, global, scopeUser, rec.ID)); err != nil {
			return err
		}
		m.providers.RemoveByName(authority, user)
		m.observeSizeLocked()
		if !m.boundLocked(rec) {
			m.remember(ctx, rec, ReasonAuthorityRemoved)
		}
		m.events.Publish(pubsub.RemovedEvent, Change{Record: rec, Reason: ReasonAuthorityRemoved})
		return nil
	}, authorityAttrs(authority, user)...)
	if err != nil {
		return nil, false, err
	}
	return rec, found, nil
}

// Unpublish handles the death of the provider published under cls for
// user. The class binding is removed along with every authority in the
// same scope that still points at the dead record.
func (m *Manager) Unpublish(ctx context.Context, cls providermap.ClassID, user providermap.UserID) (*provider.Record, bool, error) {
	var (
		rec   *provider.Record
		found bool
	)
	err := m.run(ctx, spanUnpublish, func(ctx context.Context, span trace.Span) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		rec, found = m.providers.ProviderByClass(cls, user)
		span.SetAttributes(foundAttr(found))
		if !found {
			return nil
		}

		scopeUser, global := m.providers.ScopeOf(rec)
		bindings := []provider.Binding{provider.ClassBinding(cls, global, scopeUser, rec.ID)}
		for _, a := range rec.Authorities {
			if cur, ok := m.providers.NameAt(a, global, scopeUser); ok && cur == rec {
				bindings = append(bindings, provider.AuthorityBinding(a, global, scopeUser, rec.ID))
			}
		}

		if err := m.unbind(bindings...); err != nil {
			return err
		}
		m.dropLocked(bindings)
		m.remember(ctx, rec, ReasonDied)
		m.events.Publish(pubsub.RemovedEvent, Change{Record: rec, Reason: ReasonDied})
		log.Info(log.CatManager, "provider died", "class", cls.ShortString(), "bindings", len(bindings))
		return nil
	}, classAttrs(cls, user)...)
	if err != nil {
		return nil, false, err
	}
	return rec, found, nil
}

// RemovePackage removes every binding owned by a record of pkg. With no
// users it removes them in every scope, global included; otherwise only
// from the tables of the given users. It returns the removed records.
func (m *Manager) RemovePackage(ctx context.Context, pkg string, users ...providermap.UserID) ([]*provider.Record, error) {
	var removed []*provider.Record
	err := m.run(ctx, spanRemovePackage, func(ctx context.Context, span trace.Span) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		inScope := func(global bool, user providermap.UserID) bool {
			if len(users) == 0 {
				return true
			}
			return !global && slices.Contains(users, user)
		}

		var bindings []provider.Binding
		seen := make(map[*provider.Record]struct{})
		note := func(rec *provider.Record) {
			if _, ok := seen[rec]; !ok {
				seen[rec] = struct{}{}
				removed = append(removed, rec)
			}
		}
		for _, e := range m.providers.ClassEntries() {
			if e.Record.Class.Package == pkg && inScope(e.Global, e.User) {
				bindings = append(bindings, provider.ClassBinding(e.Key, e.Global, e.User, e.Record.ID))
				note(e.Record)
			}
		}
		for _, e := range m.providers.NameEntries() {
			if e.Record.Class.Package == pkg && inScope(e.Global, e.User) {
				bindings = append(bindings, provider.AuthorityBinding(e.Key, e.Global, e.User, e.Record.ID))
				note(e.Record)
			}
		}

		span.SetAttributes(attribute.Int(attrRemoved, len(removed)))
		if len(bindings) == 0 {
			return nil
		}
		if err := m.unbind(bindings...); err != nil {
			return err
		}
		m.dropLocked(bindings)
		for _, rec := range removed {
			m.remember(ctx, rec, ReasonUninstalled)
			m.events.Publish(pubsub.RemovedEvent, Change{Record: rec, Reason: ReasonUninstalled})
		}
		log.Info(log.CatManager, "package removed", "package", pkg, "records", len(removed), "bindings", len(bindings))
		return nil
	}, attribute.String(attrPackage, pkg))
	if err != nil {
		return nil, err
	}
	return removed, nil
}

func (m *Manager) unbind(bindings ...provider.Binding) error {
	if m.store == nil {
		return nil
	}
	if err := m.store.Unbind(bindings...); err != nil {
		return fmt.Errorf("persisting removal: %w", err)
	}
	return nil
}

// dropLocked removes bindings from the map at exactly their scope.
func (m *Manager) dropLocked(bindings []provider.Binding) {
	defer m.observeSizeLocked()
	for _, b := range bindings {
		switch b.Kind {
		case provider.KindAuthority:
			m.providers.DropName(b.Key, b.Global, b.User)
		case provider.KindClass:
			m.providers.DropClass(b.Class, b.Global, b.User)
		}
	}
}

// boundLocked reports whether any binding still points at rec.
func (m *Manager) boundLocked(rec *provider.Record) bool {
	user, global := m.providers.ScopeOf(rec)
	if cur, ok := m.providers.ClassAt(rec.Class, global, user); ok && cur == rec {
		return true
	}
	for _, a := range rec.Authorities {
		if cur, ok := m.providers.NameAt(a, global, user); ok && cur == rec {
			return true
		}
	}
	return false
}

func (m *Manager) remember(ctx context.Context, rec *provider.Record, reason string) {
	if m.removed == nil {
		return
	}
	m.removed.Set(ctx, rec.ID, removedProvider{Record: rec, Reason: reason, RemovedAt: time.Now()}, m.retention)
}
