package manager

import (
	"bytes"
	"context"
	"errors"
	"io"
	"net/http/httptest"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/zjrosen/provmap/internal/identity"
	"github.com/zjrosen/provmap/internal/infrastructure/sqlite"
	"github.com/zjrosen/provmap/internal/metrics"
	"github.com/zjrosen/provmap/internal/provider"
	"github.com/zjrosen/provmap/internal/providermap"
	"github.com/zjrosen/provmap/internal/pubsub"
	"github.com/zjrosen/provmap/internal/tracing"
)

// === Helper Functions ===

func newTestManager(t *testing.T, opts Options) *Manager {
	t.Helper()
	if opts.Identity == nil {
		opts.Identity = identity.Default()
	}
	return New(opts)
}

func newSQLiteStore(t *testing.T, path string) *sqlite.Repository {
	t.Helper()
	db, err := sqlite.NewDB(path)
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db.Repository()
}

func newRecord(t *testing.T, pkg string, uid int, authorities ...string) *provider.Record {
	t.Helper()
	rec, err := provider.New(provider.Spec{
		Class:       providermap.ClassID{Package: pkg, Class: pkg + ".Provider"},
		Authorities: authorities,
		UID:         uid,
	})
	require.NoError(t, err)
	return rec
}

type failingStore struct{ err error }

func (s failingStore) Publish(*provider.Record, []provider.Binding) error { return s.err }
func (s failingStore) Unbind(...provider.Binding) error                 { return s.err }
func (s failingStore) Load() ([]*provider.Record, []provider.Binding, error) {
	return nil, nil, s.err
}

// === Publish / Resolve ===

func TestManager_PublishAndResolveScenario(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	contacts := newRecord(t, "com.android.contacts", 100, "contacts")
	photos := newRecord(t, "com.example.photos", 10050, "photos")

	require.NoError(t, m.Publish(ctx, contacts))
	require.NoError(t, m.Publish(ctx, photos))

	for _, user := range []providermap.UserID{0, 1, 7} {
		got, found := m.Resolve(ctx, "contacts", user)
		require.True(t, found)
		require.Same(t, contacts, got)
	}

	got, found := m.Resolve(ctx, "photos", 0)
	require.True(t, found)
	require.Same(t, photos, got)

	_, found = m.Resolve(ctx, "photos", 1)
	require.False(t, found)

	got, found = m.ResolveClass(ctx, photos.Class, 0)
	require.True(t, found)
	require.Same(t, photos, got)
}

func TestManager_CurrentUserUsesCaller(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{Caller: identity.Fixed(1)})
	rec := newRecord(t, "com.example.notes", 110020, "notes")
	require.NoError(t, m.Publish(ctx, rec))

	got, found := m.Resolve(ctx, "notes", providermap.CurrentUser)
	require.True(t, found)
	require.Same(t, rec, got)
}

func TestManager_PublishNil(t *testing.T) {
	m := newTestManager(t, Options{})
	err := m.Publish(context.Background(), nil)
	require.ErrorIs(t, err, provider.ErrInvalidRecord)
}

func TestManager_StoreFailureLeavesMapUntouched(t *testing.T) {
	ctx := context.Background()
	boom := errors.New("disk full")
	m := newTestManager(t, Options{Store: failingStore{err: boom}})
	rec := newRecord(t, "com.example.photos", 10050, "photos")

	err := m.Publish(ctx, rec)
	require.ErrorIs(t, err, boom)

	_, found := m.Resolve(ctx, "photos", 0)
	require.False(t, found)
}

// === Persistence ===

func TestManager_RestoreFromStore(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "providers.db")

	first := newTestManager(t, Options{Store: newSQLiteStore(t, path)})
	contacts := newRecord(t, "com.android.contacts", 1000, "contacts", "com.android.contacts")
	photos := newRecord(t, "com.example.photos", 110050, "photos")
	require.NoError(t, first.Publish(ctx, contacts))
	require.NoError(t, first.Publish(ctx, photos))
	_, _, err := first.RemoveAuthority(ctx, "com.android.contacts", 0)
	require.NoError(t, err)

	second := newTestManager(t, Options{Store: newSQLiteStore(t, path)})
	require.NoError(t, second.Restore(ctx))

	got, found := second.Resolve(ctx, "contacts", 3)
	require.True(t, found)
	require.Equal(t, contacts.ID, got.ID)

	_, found = second.Resolve(ctx, "com.android.contacts", 0)
	require.False(t, found, "removed authority stays removed")

	got, found = second.Resolve(ctx, "photos", 1)
	require.True(t, found)
	require.Equal(t, photos.ID, got.ID)

	got, found = second.ResolveClass(ctx, photos.Class, 1)
	require.True(t, found)
	require.Equal(t, photos.ID, got.ID)

	// Authorities and class restored from one row share a record.
	byName, _ := second.Resolve(ctx, "photos", 1)
	require.Same(t, got, byName)

	// The class still lists the removed authority.
	problems := second.Check()
	require.Len(t, problems, 1)
	require.Contains(t, problems[0].Problem, `"com.android.contacts" is not bound`)
}

func TestManager_RestoreUnderChangedPolicy(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "providers.db")
	store := newSQLiteStore(t, path)

	first := newTestManager(t, Options{Store: store})
	photos := newRecord(t, "com.example.photos", 10050, "photos")
	require.NoError(t, first.Publish(ctx, photos))
	_, found := first.Resolve(ctx, "photos", 1)
	require.False(t, found, "user 0 provider under the default policy")

	// 10050 is a system uid once applications start at 20000.
	raised := identity.UIDPolicy{FirstApplicationUID: 20000, PerUserRange: identity.DefaultPerUserRange}
	second := newTestManager(t, Options{Identity: raised, Store: store})
	require.NoError(t, second.Restore(ctx))
	_, found = second.Resolve(ctx, "photos", 1)
	require.True(t, found, "now global")
	require.Empty(t, second.Check())

	_, bindings, err := store.Load()
	require.NoError(t, err)
	require.Len(t, bindings, 2)
	for _, b := range bindings {
		require.True(t, b.Global, "stored %s binding %q moved to the global scope", b.Kind, b.Key)
	}

	_, found, err = second.RemoveAuthority(ctx, "photos", 0)
	require.NoError(t, err)
	require.True(t, found)

	third := newTestManager(t, Options{Identity: raised, Store: store})
	require.NoError(t, third.Restore(ctx))
	_, found = third.Resolve(ctx, "photos", 0)
	require.False(t, found, "removed authority stays removed")
	got, found := third.ResolveClass(ctx, photos.Class, 4)
	require.True(t, found)
	require.Equal(t, photos.ID, got.ID)
}

func TestManager_RestoreUnderChangedPolicyKeepsWinner(t *testing.T) {
	ctx := context.Background()
	store := newSQLiteStore(t, filepath.Join(t.TempDir(), "providers.db"))

	first := newTestManager(t, Options{Store: store})
	system := newRecord(t, "com.android.notes", 1000, "notes")
	app := newRecord(t, "com.example.notes", 10020, "notes")
	require.NoError(t, first.Publish(ctx, system))
	require.NoError(t, first.Publish(ctx, app))

	// Both owners are now system uids and compete for the global "notes".
	raised := identity.UIDPolicy{FirstApplicationUID: 20000, PerUserRange: identity.DefaultPerUserRange}
	second := newTestManager(t, Options{Identity: raised, Store: store})
	require.NoError(t, second.Restore(ctx))
	winner, found := second.Resolve(ctx, "notes", 0)
	require.True(t, found)

	third := newTestManager(t, Options{Identity: raised, Store: store})
	require.NoError(t, third.Restore(ctx))
	got, found := third.Resolve(ctx, "notes", 0)
	require.True(t, found)
	require.Equal(t, winner.ID, got.ID, "store agrees with the map after rescoping")

	_, bindings, err := store.Load()
	require.NoError(t, err)
	for _, b := range bindings {
		require.True(t, b.Global)
	}
}

func TestManager_RestoreError(t *testing.T) {
	m := newTestManager(t, Options{Store: failingStore{err: errors.New("locked")}})
	err := m.Restore(context.Background())
	require.Error(t, err)
	require.Contains(t, err.Error(), "loading providers")
}

func TestManager_RestoreWithoutStore(t *testing.T) {
	m := newTestManager(t, Options{})
	require.NoError(t, m.Restore(context.Background()))
}

// === Removal ===

func TestManager_RemoveAuthorityIsIdempotent(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	contacts := newRecord(t, "com.android.contacts", 100, "contacts")
	require.NoError(t, m.Publish(ctx, contacts))

	removed, found, err := m.RemoveAuthority(ctx, "contacts", 5)
	require.NoError(t, err)
	require.True(t, found)
	require.Same(t, contacts, removed)

	_, found = m.Resolve(ctx, "contacts", 0)
	require.False(t, found)

	_, found, err = m.RemoveAuthority(ctx, "contacts", 5)
	require.NoError(t, err)
	require.False(t, found)

	// The class binding is untouched.
	_, found = m.ResolveClass(ctx, contacts.Class, 0)
	require.True(t, found)
}

func TestManager_UnpublishRemovesOwnAuthoritiesOnly(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "providers.db")
	m := newTestManager(t, Options{Store: newSQLiteStore(t, path)})

	media := newRecord(t, "com.example.media", 10070, "media", "audio")
	audio := newRecord(t, "com.example.audio", 10080, "audio")
	require.NoError(t, m.Publish(ctx, media))
	require.NoError(t, m.Publish(ctx, audio)) // takes over "audio"

	removed, found, err := m.Unpublish(ctx, media.Class, 0)
	require.NoError(t, err)
	require.True(t, found)
	require.Same(t, media, removed)

	_, found = m.Resolve(ctx, "media", 0)
	require.False(t, found)
	_, found = m.ResolveClass(ctx, media.Class, 0)
	require.False(t, found)

	got, found := m.Resolve(ctx, "audio", 0)
	require.True(t, found, "authority taken over by another provider survives")
	require.Same(t, audio, got)

	restored := newTestManager(t, Options{Store: newSQLiteStore(t, path)})
	require.NoError(t, restored.Restore(ctx))
	_, found = restored.Resolve(ctx, "media", 0)
	require.False(t, found)
	got, found = restored.Resolve(ctx, "audio", 0)
	require.True(t, found)
	require.Equal(t, audio.ID, got.ID)
}

func TestManager_UnpublishAwkwardClassNames(t *testing.T) {
	tests := []struct {
		name string
		cls  providermap.ClassID
	}{
		{"short class", providermap.ClassID{Package: "com.example", Class: ".Provider"}},
		{"slash in package", providermap.ClassID{Package: "com/example", Class: "Provider"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctx := context.Background()
			path := filepath.Join(t.TempDir(), "providers.db")
			m := newTestManager(t, Options{Store: newSQLiteStore(t, path)})
			// Built by hand: provider.New would canonicalize the class.
			rec := &provider.Record{
				ID: "rec-1", Class: tt.cls, Authorities: []string{"auth"},
				OwnerUID: 10050, Process: "p", PublishedAt: time.Unix(1, 0),
			}
			require.NoError(t, m.Publish(ctx, rec))

			restored := newTestManager(t, Options{Store: newSQLiteStore(t, path)})
			require.NoError(t, restored.Restore(ctx))
			got, found := restored.ResolveClass(ctx, tt.cls, 0)
			require.True(t, found, "class resolvable after restore")
			require.Equal(t, rec.ID, got.ID)
			require.Empty(t, restored.Check())

			_, found, err := m.Unpublish(ctx, tt.cls, 0)
			require.NoError(t, err)
			require.True(t, found)
			_, found = m.ResolveClass(ctx, tt.cls, 0)
			require.False(t, found, "class binding dropped from the map")
			_, found = m.Resolve(ctx, "auth", 0)
			require.False(t, found)

			require.NoError(t, restored.Restore(ctx))
			_, found = restored.ResolveClass(ctx, tt.cls, 0)
			require.False(t, found)
		})
	}
}

func TestManager_UnpublishMissing(t *testing.T) {
	m := newTestManager(t, Options{})
	_, found, err := m.Unpublish(context.Background(), providermap.ClassID{Package: "p", Class: "p.C"}, 0)
	require.NoError(t, err)
	require.False(t, found)
}

func TestManager_RemovePackageForOneUser(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	user0 := newRecord(t, "com.example.notes", 10020, "notes")
	user1 := newRecord(t, "com.example.notes", 110020, "notes")
	global := newRecord(t, "com.android.notes", 1000, "notes")
	require.NoError(t, m.Publish(ctx, user0))
	require.NoError(t, m.Publish(ctx, user1))
	require.NoError(t, m.Publish(ctx, global))

	removed, err := m.RemovePackage(ctx, "com.example.notes", 1)
	require.NoError(t, err)
	require.Equal(t, []*provider.Record{user1}, removed)

	m.WithLock(func(providers *providermap.Map[*provider.Record]) {
		_, ok := providers.NameAt("notes", false, 1)
		require.False(t, ok, "user 1 binding removed despite the shadowing global one")
		got, ok := providers.NameAt("notes", false, 0)
		require.True(t, ok)
		require.Same(t, user0, got)
		got, ok = providers.NameAt("notes", true, 0)
		require.True(t, ok)
		require.Same(t, global, got)
	})
}

func TestManager_RemovePackageEverywhere(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	user0 := newRecord(t, "com.example.notes", 10020, "notes")
	user2 := newRecord(t, "com.example.notes", 210020, "notes", "memo")
	other := newRecord(t, "com.example.photos", 10050, "photos")
	for _, rec := range []*provider.Record{user0, user2, other} {
		require.NoError(t, m.Publish(ctx, rec))
	}

	removed, err := m.RemovePackage(ctx, "com.example.notes")
	require.NoError(t, err)
	require.ElementsMatch(t, []*provider.Record{user0, user2}, removed)

	m.WithLock(func(providers *providermap.Map[*provider.Record]) {
		names, classes := providers.Len()
		require.Equal(t, 1, names)
		require.Equal(t, 1, classes)
	})

	removed, err = m.RemovePackage(ctx, "com.example.notes")
	require.NoError(t, err)
	require.Empty(t, removed)
}

// === Acquire ===

func TestManager_AcquireStartsOnce(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	var starts atomic.Int32

	start := func(ctx context.Context) (*provider.Record, error) {
		starts.Add(1)
		return newRecord(t, "com.example.photos", 10050, "photos"), nil
	}

	var wg sync.WaitGroup
	results := make([]*provider.Record, 16)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			rec, err := m.Acquire(ctx, "photos", 0, start)
			if err == nil {
				results[i] = rec
			}
		}(i)
	}
	wg.Wait()

	require.Equal(t, int32(1), starts.Load())
	for _, rec := range results {
		require.NotNil(t, rec)
		require.Same(t, results[0], rec)
	}
}

func TestManager_AcquireErrors(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	boom := errors.New("process crashed")

	_, err := m.Acquire(ctx, "photos", 0, func(context.Context) (*provider.Record, error) { return nil, boom })
	require.ErrorIs(t, err, boom)

	_, err = m.Acquire(ctx, "photos", 0, func(context.Context) (*provider.Record, error) { return nil, nil })
	require.ErrorIs(t, err, provider.ErrInvalidRecord)

	_, err = m.Acquire(ctx, "photos", 0, func(context.Context) (*provider.Record, error) {
		return newRecord(t, "com.example.media", 10070, "media"), nil
	})
	require.ErrorIs(t, err, provider.ErrInvalidRecord)
	require.Contains(t, err.Error(), "does not serve")

	_, found := m.Resolve(ctx, "media", 0)
	require.False(t, found, "rejected provider is not published")
}

// === Dump / Check ===

func TestManager_DumpListsRecentlyRemoved(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{Retention: time.Minute})
	rec := newRecord(t, "com.example.photos", 10050, "photos")
	require.NoError(t, m.Publish(ctx, rec))

	var before bytes.Buffer
	require.NoError(t, m.Dump(ctx, &before, false))
	require.Equal(t, "  * com.example.photos/.Provider\n", before.String())

	_, _, err := m.Unpublish(ctx, rec.Class, 0)
	require.NoError(t, err)

	var after bytes.Buffer
	require.NoError(t, m.Dump(ctx, &after, false))
	require.Contains(t, after.String(), "  Recently removed providers:\n")
	require.Contains(t, after.String(), rec.String()+" (died at ")
}

func TestManager_DumpEmpty(t *testing.T) {
	m := newTestManager(t, Options{Retention: time.Minute})
	var buf bytes.Buffer
	require.NoError(t, m.Dump(context.Background(), &buf, false))
	require.Empty(t, buf.String())
}

func TestManager_CheckReportsDivergence(t *testing.T) {
	ctx := context.Background()
	m := newTestManager(t, Options{})
	media := newRecord(t, "com.example.media", 10070, "media", "audio")
	require.NoError(t, m.Publish(ctx, media))
	require.Empty(t, m.Check())

	m.WithLock(func(providers *providermap.Map[*provider.Record]) {
		providers.RemoveByName("audio", 0)
	})

	problems := m.Check()
	require.Len(t, problems, 1)
	require.Equal(t, provider.KindClass, problems[0].Kind)
	require.Contains(t, problems[0].Problem, `authority "audio" is not bound`)
	require.Contains(t, problems[0].String(), "(user 0)")

	orphan := newRecord(t, "com.example.orphan", 10090, "orphan")
	m.WithLock(func(providers *providermap.Map[*provider.Record]) {
		providers.PutByName("orphan", orphan)
	})
	problems = m.Check()
	require.Len(t, problems, 2)
	require.Equal(t, provider.KindAuthority, problems[1].Kind)
	require.Contains(t, problems[1].Problem, "is not bound")
}

// === Tracing ===

func TestManager_SpansCarryAttributes(t *testing.T) {
	ctx := context.Background()
	recorder := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(recorder))
	m := newTestManager(t, Options{Tracer: tp.Tracer("test")})

	rec := newRecord(t, "com.example.photos", 10050, "photos")
	require.NoError(t, m.Publish(ctx, rec))
	m.Resolve(ctx, "photos", 1)

	spans := recorder.Ended()
	require.Len(t, spans, 2)
	require.Equal(t, tracing.SpanPublish, spans[0].Name())
	require.Equal(t, tracing.SpanResolve, spans[1].Name())

	attrs := map[string]any{}
	for _, kv := range spans[1].Attributes() {
		attrs[string(kv.Key)] = kv.Value.AsInterface()
	}
	require.Equal(t, "photos", attrs[tracing.AttrAuthority])
	require.Equal(t, int64(1), attrs[tracing.AttrUserID])
	require.Equal(t, false, attrs[tracing.AttrFound])
}

func TestManager_RestoreReplacesUnpersistedChanges(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "providers.db")
	m := newTestManager(t, Options{Store: newSQLiteStore(t, path)})
	photos := newRecord(t, "com.example.photos", 10050, "photos")
	require.NoError(t, m.Publish(ctx, photos))

	m.WithLock(func(providers *providermap.Map[*provider.Record]) {
		providers.PutByName("scratch", newRecord(t, "com.example.scratch", 10060, "scratch"))
	})
	require.NoError(t, m.Restore(ctx))

	_, found := m.Resolve(ctx, "scratch", 0)
	require.False(t, found)
	got, found := m.Resolve(ctx, "photos", 0)
	require.True(t, found)
	require.Equal(t, photos.ID, got.ID)
}

func TestManager_SubscribeReportsChanges(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	m := newTestManager(t, Options{})
	defer m.Close()
	events := m.Subscribe(ctx)

	media := newRecord(t, "com.example.media", 10070, "media", "audio")
	require.NoError(t, m.Publish(ctx, media))
	_, _, err := m.RemoveAuthority(ctx, "audio", 0)
	require.NoError(t, err)
	_, _, err = m.Unpublish(ctx, media.Class, 0)
	require.NoError(t, err)

	want := []struct {
		typ    pubsub.EventType
		reason string
	}{
		{pubsub.PublishedEvent, ""},
		{pubsub.RemovedEvent, ReasonAuthorityRemoved},
		{pubsub.RemovedEvent, ReasonDied},
	}
	for _, w := range want {
		select {
		case ev := <-events:
			require.Equal(t, w.typ, ev.Type)
			require.Equal(t, w.reason, ev.Payload.Reason)
			require.Same(t, media, ev.Payload.Record)
		case <-time.After(time.Second):
			t.Fatalf("timed out waiting for %s event", w.typ)
		}
	}

	m.Close()
	_, ok := <-events
	require.False(t, ok, "closing the manager closes subscriptions")
}

func TestManager_MetricsTrackOperationsAndSize(t *testing.T) {
	ctx := context.Background()
	reg := metrics.New()
	m := newTestManager(t, Options{Metrics: reg, Store: failingStore{err: errors.New("read only")}})

	rec := newRecord(t, "com.example.media", 10070, "media", "audio")
	require.Error(t, m.Publish(ctx, rec))

	m.WithLock(func(providers *providermap.Map[*provider.Record]) {
		providers.PutByClass(rec.Class, rec)
	})
	m.Resolve(ctx, "media", 0)

	srv := httptest.NewServer(reg.Handler())
	defer srv.Close()
	resp, err := srv.Client().Get(srv.URL)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)

	text := string(body)
	require.Contains(t, text, `provmap_operations_total{operation="manager.publish",outcome="error"} 1`)
	require.Contains(t, text, `provmap_operations_total{operation="manager.resolve",outcome="ok"} 1`)

	ok := newTestManager(t, Options{Metrics: metrics.New()})
	require.NoError(t, ok.Publish(ctx, rec))
	srv2 := httptest.NewServer(ok.metrics.Handler())
	defer srv2.Close()
	resp2, err := srv2.Client().Get(srv2.URL)
	require.NoError(t, err)
	defer resp2.Body.Close()
	body, err = io.ReadAll(resp2.Body)
	require.NoError(t, err)
	require.Contains(t, string(body), `provmap_bindings{kind="authority"} 2`)
	require.Contains(t, string(body), `provmap_bindings{kind="class"} 1`)
	require.Contains(t, string(body), "provmap_events_dropped_total 0")
}
