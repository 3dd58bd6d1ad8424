// Package manager is the host side of the provider map. It owns the single
// lock that guards the map, mirrors every change into a Store, and keeps
// recently removed providers around for diagnostics.
package manager

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"

	"github.com/zjrosen/provmap/internal/cachemanager"
	"github.com/zjrosen/provmap/internal/log"
	"github.com/zjrosen/provmap/internal/metrics"
	"github.com/zjrosen/provmap/internal/provider"
	"github.com/zjrosen/provmap/internal/providermap"
	"github.com/zjrosen/provmap/internal/pubsub"
)

// Store persists the bindings of the provider map.
type Store interface {
	Publish(rec *provider.Record, bindings []provider.Binding) error
	Unbind(bindings ...provider.Binding) error
	Load() ([]*provider.Record, []provider.Binding, error)
}

// Options configures a Manager.
type Options struct {
	Identity providermap.Identity
	// Caller resolves providermap.CurrentUser. Nil resolves to the owner.
	Caller providermap.CallerFunc
	// Store is optional; without it the map lives in memory only.
	Store Store
	// Tracer is optional.
	Tracer trace.Tracer
	// Metrics is optional.
	Metrics *metrics.Metrics
	// Retention is how long removed providers stay listed in Dump.
	// Zero disables the list.
	Retention time.Duration
}

// Manager publishes, resolves and removes content providers.
// All methods are safe for concurrent use.
type Manager struct {
	mu        sync.Mutex
	providers *providermap.Map[*provider.Record]
	identity  providermap.Identity
	caller    providermap.CallerFunc

	store     Store
	tracer    trace.Tracer
	metrics   *metrics.Metrics
	retention time.Duration
	removed   *cachemanager.InMemoryCacheManager[string, removedProvider]
	events    *pubsub.Broker[Change]
}

// Change describes one provider affected by a map mutation. Record is nil
// for pubsub.RestoredEvent.
type Change struct {
	Record *provider.Record
	// Reason is set for pubsub.RemovedEvent.
	Reason string
}

type removedProvider struct {
	Record    *provider.Record
	Reason    string
	RemovedAt time.Time
}

var _ pubsub.Subscriber[Change] = (*Manager)(nil)

// New creates a Manager with an empty provider map.
func New(opts Options) *Manager {
	m := &Manager{
		providers: providermap.New[*provider.Record](opts.Identity, opts.Caller),
		identity:  opts.Identity,
		caller:    opts.Caller,
		store:     opts.Store,
		tracer:    opts.Tracer,
		metrics:   opts.Metrics,
		retention: opts.Retention,
		events:    pubsub.NewBroker[Change]("provider-changes"),
	}
	if opts.Retention > 0 {
		m.removed = cachemanager.NewInMemoryCacheManager[string, removedProvider](
			"removed-providers", opts.Retention, cachemanager.DefaultCleanupInterval)
	}
	m.metrics.WatchDropped(m.events.Dropped)
	return m
}

// WithLock runs fn with exclusive access to the provider map, so callers
// can chain lookups and inserts atomically. Changes made through fn are
// not persisted.
func (m *Manager) WithLock(fn func(providers *providermap.Map[*provider.Record])) {
	m.mu.Lock()
	defer m.mu.Unlock()
	fn(m.providers)
}

// Restore replaces the provider map with the contents of the store.
// Bindings whose record is missing are skipped. Each binding is placed in
// the scope the identity policy gives its record; bindings stored under
// another scope, because the policy changed since they were written, are
// rewritten in the store to match.
func (m *Manager) Restore(ctx context.Context) error {
	if m.store == nil {
		return nil
	}
	return m.run(ctx, spanRestore, func(ctx context.Context, span trace.Span) error {
		records, bindings, err := m.store.Load()
		if err != nil {
			return fmt.Errorf("loading providers: %w", err)
		}

		byID := make(map[string]*provider.Record, len(records))
		for _, rec := range records {
			byID[rec.ID] = rec
		}

		providers := providermap.New[*provider.Record](m.identity, m.caller)
		var stale []provider.Binding
		skipped := 0
		for _, b := range bindings {
			rec, ok := byID[b.RecordID]
			if !ok {
				skipped++
				continue
			}
			switch b.Kind {
			case provider.KindAuthority:
				providers.PutByName(b.Key, rec)
			case provider.KindClass:
				if b.Key != rec.Class.String() {
					log.Warn(log.CatManager, "skipping stored class binding", "key", b.Key, "record", rec.ID)
					skipped++
					continue
				}
				b.Class = rec.Class
				providers.PutByClass(rec.Class, rec)
			default:
				skipped++
				continue
			}
			if user, global := providers.ScopeOf(rec); !b.SameScope(global, user) {
				stale = append(stale, b)
			}
		}

		if len(stale) > 0 {
			if err := m.rescope(providers, byID, stale); err != nil {
				return err
			}
		}

		m.mu.Lock()
		m.providers = providers
		m.observeSizeLocked()
		m.mu.Unlock()
		m.metrics.ObserveReload()
		m.events.Publish(pubsub.RestoredEvent, Change{})

		if skipped > 0 {
			log.Warn(log.CatManager, "restore skipped bindings", "count", skipped)
		}
		log.Debug(log.CatManager, "restored providers", "records", len(records), "bindings", len(bindings)-skipped)
		return nil
	})
}

// rescope moves stale bindings in the store to the scope they now occupy in
// providers. A stale binding that lost its key to another record in the new
// scope is only removed.
func (m *Manager) rescope(providers *providermap.Map[*provider.Record], byID map[string]*provider.Record, stale []provider.Binding) error {
	var (
		order []string
		moved = make(map[string][]provider.Binding)
	)
	for _, b := range stale {
		rec := byID[b.RecordID]
		user, global := providers.ScopeOf(rec)
		var (
			cur *provider.Record
			ok  bool
			nb  provider.Binding
		)
		switch b.Kind {
		case provider.KindAuthority:
			cur, ok = providers.NameAt(b.Key, global, user)
			nb = provider.AuthorityBinding(b.Key, global, user, rec.ID)
		case provider.KindClass:
			cur, ok = providers.ClassAt(b.Class, global, user)
			nb = provider.ClassBinding(b.Class, global, user, rec.ID)
		}
		if !ok || cur != rec {
			continue
		}
		if _, seen := moved[rec.ID]; !seen {
			order = append(order, rec.ID)
		}
		moved[rec.ID] = append(moved[rec.ID], nb)
	}

	for _, id := range order {
		if err := m.store.Publish(byID[id], moved[id]); err != nil {
			return fmt.Errorf("rescoping provider %s: %w", byID[id].Class.ShortString(), err)
		}
	}
	if err := m.store.Unbind(stale...); err != nil {
		return fmt.Errorf("dropping rescoped bindings: %w", err)
	}
	log.Warn(log.CatManager, "moved bindings stored under another scope", "count", len(stale), "records", len(order))
	return nil
}

// Publish binds rec under its class and every authority it serves, in the
// scope chosen by its owner uid. Existing bindings at that scope are
// replaced.
func (m *Manager) Publish(ctx context.Context, rec *provider.Record) error {
	if rec == nil {
		return fmt.Errorf("%w: nil record", provider.ErrInvalidRecord)
	}
	return m.run(ctx, spanPublish, func(ctx context.Context, span trace.Span) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		return m.publishLocked(rec)
	}, recordAttrs(rec)...)
}

func (m *Manager) publishLocked(rec *provider.Record) error {
	user, global := m.providers.ScopeOf(rec)
	bindings := make([]provider.Binding, 0, len(rec.Authorities)+1)
	bindings = append(bindings, provider.ClassBinding(rec.Class, global, user, rec.ID))
	for _, a := range rec.Authorities {
		bindings = append(bindings, provider.AuthorityBinding(a, global, user, rec.ID))
	}

	// Persist first so a failed write leaves the map untouched.
	if m.store != nil {
		if err := m.store.Publish(rec, bindings); err != nil {
			return fmt.Errorf("persisting provider %s: %w", rec.Class.ShortString(), err)
		}
	}

	m.providers.PutByClass(rec.Class, rec)
	for _, a := range rec.Authorities {
		m.providers.PutByName(a, rec)
	}
	m.observeSizeLocked()
	m.events.Publish(pubsub.PublishedEvent, Change{Record: rec})
	log.Info(log.CatManager, "published provider",
		"class", rec.Class.ShortString(), "uid", rec.OwnerUID, "global", global, "user", user)
	return nil
}

// Subscribe returns a channel of changes made through the manager. Changes
// made inside WithLock are not reported. The channel closes when ctx is done
// or the manager is closed; a subscriber that falls behind misses events.
func (m *Manager) Subscribe(ctx context.Context) <-chan pubsub.Event[Change] {
	return m.events.Subscribe(ctx)
}

// Close closes every subscription.
func (m *Manager) Close() {
	m.events.Close()
}

// Resolve returns the provider serving authority for user.
func (m *Manager) Resolve(ctx context.Context, authority string, user providermap.UserID) (*provider.Record, bool) {
	var (
		rec   *provider.Record
		found bool
	)
	_ = m.run(ctx, spanResolve, func(ctx context.Context, span trace.Span) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		rec, found = m.providers.ProviderByName(authority, user)
		span.SetAttributes(foundAttr(found))
		return nil
	}, authorityAttrs(authority, user)...)
	return rec, found
}

// ResolveClass returns the provider published under cls for user.
func (m *Manager) ResolveClass(ctx context.Context, cls providermap.ClassID, user providermap.UserID) (*provider.Record, bool) {
	var (
		rec   *provider.Record
		found bool
	)
	_ = m.run(ctx, spanResolveClass, func(ctx context.Context, span trace.Span) error {
		m.mu.Lock()
		defer m.mu.Unlock()
		rec, found = m.providers.ProviderByClass(cls, user)
		span.SetAttributes(foundAttr(found))
		return nil
	}, classAttrs(cls, user)...)
	return rec, found
}

// StartFunc starts a provider that is not running yet and returns the
// record it publishes.
type StartFunc func(ctx context.Context) (*provider.Record, error)

// Acquire resolves authority for user and, when nothing is published,
// starts a provider and publishes it. The lookup and the publish happen
// under one lock so concurrent callers start the provider at most once.
func (m *Manager) Acquire(ctx context.Context, authority string, user providermap.UserID, start StartFunc) (*provider.Record, error) {
	var rec *provider.Record
	err := m.run(ctx, spanAcquire, func(ctx context.Context, span trace.Span) error {
		m.mu.Lock()
		defer m.mu.Unlock()

		if existing, ok := m.providers.ProviderByName(authority, user); ok {
			span.SetAttributes(foundAttr(true))
			rec = existing
			return nil
		}
		span.SetAttributes(foundAttr(false))

		started, err := start(ctx)
		if err != nil {
			return fmt.Errorf("starting provider for %q: %w", authority, err)
		}
		if started == nil {
			return fmt.Errorf("%w: start returned no record for %q", provider.ErrInvalidRecord, authority)
		}
		if !started.HasAuthority(authority) {
			return fmt.Errorf("%w: provider %s does not serve %q",
				provider.ErrInvalidRecord, started.Class.ShortString(), authority)
		}
		if err := m.publishLocked(started); err != nil {
			return err
		}
		rec = started
		return nil
	}, authorityAttrs(authority, user)...)
	if err != nil {
		return nil, err
	}
	return rec, nil
}
