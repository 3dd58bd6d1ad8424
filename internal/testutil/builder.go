package testutil

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/zjrosen/provmap/internal/identity"
	"github.com/zjrosen/provmap/internal/manager"
	"github.com/zjrosen/provmap/internal/provider"
	"github.com/zjrosen/provmap/internal/providermap"
)

// Builder accumulates providers and publishes them into a store in the
// order they were added, so later ones win on conflicting keys.
type Builder struct {
	t         *testing.T
	store     manager.Store
	policy    identity.UIDPolicy
	providers []providerData
}

// NewBuilder creates a builder that publishes into store under the default
// uid policy.
func NewBuilder(t *testing.T, store manager.Store) *Builder {
	t.Helper()
	return &Builder{t: t, store: store, policy: identity.Default()}
}

// WithPolicy replaces the uid policy used to scope providers.
func (b *Builder) WithPolicy(policy identity.UIDPolicy) *Builder {
	b.policy = policy
	return b
}

// WithProvider adds a provider of class (package/class or package/.Class)
// owned by uid. Without Authorities it serves none.
func (b *Builder) WithProvider(class string, uid int, opts ...ProviderOption) *Builder {
	b.t.Helper()
	cls, err := providermap.ParseClassID(class)
	require.NoError(b.t, err)

	p := providerData{spec: provider.Spec{Class: cls, UID: uid}}
	for _, opt := range opts {
		opt(&p)
	}
	b.providers = append(b.providers, p)
	return b
}

// Build publishes the accumulated providers and returns their records.
func (b *Builder) Build() []*provider.Record {
	b.t.Helper()
	m := manager.New(manager.Options{Identity: b.policy, Store: b.store})

	records := make([]*provider.Record, 0, len(b.providers))
	for _, p := range b.providers {
		rec, err := provider.New(p.spec)
		require.NoError(b.t, err)
		if !p.publishedAt.IsZero() {
			rec.PublishedAt = p.publishedAt
		}
		require.NoError(b.t, m.Publish(context.Background(), rec))
		records = append(records, rec)
	}
	return records
}
