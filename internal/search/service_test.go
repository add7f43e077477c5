package search

import (
	"context"
	"errors"
	"sort"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leavn/api/internal/store"
)

type fakeBackend struct {
	mu        sync.Mutex
	healthy   bool
	refs      []string
	refsErr   error
	indexed   []Record
	deleted   []string
	batches   int
	indexedCh chan struct{}
}

func (f *fakeBackend) Healthy() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.healthy
}

func (f *fakeBackend) ClearRecords(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.indexed = nil
	return nil
}

func (f *fakeBackend) IndexRecords(_ context.Context, records []Record) error {
	f.mu.Lock()
	f.indexed = append(f.indexed, records...)
	f.batches++
	f.mu.Unlock()
	if f.indexedCh != nil {
		f.indexedCh <- struct{}{}
	}
	return nil
}

func (f *fakeBackend) DeleteRecords(_ context.Context, ids []string) error {
	f.mu.Lock()
	f.deleted = append(f.deleted, ids...)
	f.mu.Unlock()
	if f.indexedCh != nil {
		f.indexedCh <- struct{}{}
	}
	return nil
}

func (f *fakeBackend) References(context.Context, Query) ([]string, error) {
	return f.refs, f.refsErr
}

type fakeFallback struct {
	refs    []string
	records []store.AssociationRecord
	calls   int
}

func (f *fakeFallback) ListReferencesByTag(context.Context, string, string, int) ([]string, error) {
	f.calls++
	return f.refs, nil
}

func (f *fakeFallback) ListAllAssociations(context.Context) ([]store.AssociationRecord, error) {
	return f.records, nil
}

func waitSignal(t *testing.T, ch chan struct{}) {
	t.Helper()
	select {
	case <-ch:
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for background index write")
	}
}

func TestReferencesPrefersHealthyBackend(t *testing.T) {
	backend := &fakeBackend{healthy: true, refs: []string{"John 3:16"}}
	fallback := &fakeFallback{refs: []string{"Rom 5:8"}}
	svc := NewService(backend, fallback, nil)

	refs, err := svc.References(context.Background(), "love", "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"John 3:16"}, refs)
	assert.Zero(t, fallback.calls)
}

func TestReferencesFallsBack(t *testing.T) {
	fallback := &fakeFallback{refs: []string{"Rom 5:8"}}

	unhealthy := NewService(&fakeBackend{healthy: false, refs: []string{"x"}}, fallback, nil)
	refs, err := unhealthy.References(context.Background(), "love", "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"Rom 5:8"}, refs)

	failing := NewService(&fakeBackend{healthy: true, refsErr: errors.New("breaker open")}, fallback, nil)
	refs, err = failing.References(context.Background(), "love", "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"Rom 5:8"}, refs)

	none := NewService(nil, fallback, nil)
	_, err = none.References(context.Background(), "love", "", 10)
	require.NoError(t, err)
	assert.Equal(t, 3, fallback.calls)
}

func TestIndexAndDeleteAreAsync(t *testing.T) {
	backend := &fakeBackend{healthy: true, indexedCh: make(chan struct{}, 2)}
	svc := NewService(backend, &fakeFallback{}, nil)

	created := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)
	svc.IndexAssociation(store.AssociationRecord{ID: "asc_1", Reference: "Gen 1:1", TagName: "light", Category: "theme", OwnerID: "usr_a", CreatedAt: created})
	waitSignal(t, backend.indexedCh)
	svc.DeleteAssociations([]string{"asc_1"})
	waitSignal(t, backend.indexedCh)

	backend.mu.Lock()
	defer backend.mu.Unlock()
	require.Len(t, backend.indexed, 1)
	assert.Equal(t, VisibilityPersonal, backend.indexed[0].Visibility)
	assert.Equal(t, created, backend.indexed[0].Time())
	assert.Equal(t, []string{"asc_1"}, backend.deleted)
}

func TestIndexSkipsUnhealthyBackend(t *testing.T) {
	backend := &fakeBackend{healthy: false}
	svc := NewService(backend, &fakeFallback{}, nil)
	svc.IndexAssociation(store.AssociationRecord{ID: "asc_1"})
	svc.DeleteAssociations([]string{"asc_1"})
	assert.Empty(t, backend.indexed)
	assert.Empty(t, backend.deleted)
	assert.True(t, svc.stale.Load(), "dropped writes must mark the index stale")
}

func TestReindexAllBatches(t *testing.T) {
	records := make([]store.AssociationRecord, reindexBatchSize+3)
	for i := range records {
		records[i] = store.AssociationRecord{ID: "asc", Reference: "Ps 1:1", TagName: "blessed"}
	}
	backend := &fakeBackend{healthy: true}
	svc := NewService(backend, &fakeFallback{records: records}, nil)

	n, err := svc.ReindexAll(context.Background())
	require.NoError(t, err)
	assert.Equal(t, len(records), n)
	assert.Equal(t, 2, backend.batches)
	assert.Equal(t, VisibilityPublic, backend.indexed[0].Visibility)

	_, err = NewService(nil, &fakeFallback{}, nil).ReindexAll(context.Background())
	assert.Error(t, err)
}

func TestVisibilityFilter(t *testing.T) {
	assert.Equal(t, []string{`tag = "light"`, `visibility = "public"`}, visibilityFilter(Query{Tag: "light"}))
	assert.Equal(t,
		[]string{`tag = "light"`, `(visibility = "public" OR ownerId = "usr_a")`},
		visibilityFilter(Query{Tag: "light", ViewerID: "usr_a"}),
	)
}

// memBackend is an in-memory index with the same visibility rules as the
// Meilisearch filter.
type memBackend struct {
	mu         sync.Mutex
	healthy    bool
	failWrites bool
	docs       map[string]Record
	clears     int
}

func newMemBackend() *memBackend {
	return &memBackend{healthy: true, docs: map[string]Record{}}
}

func (b *memBackend) Healthy() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.healthy
}

func (b *memBackend) setHealthy(healthy bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.healthy = healthy
}

func (b *memBackend) setFailWrites(fail bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.failWrites = fail
}

func (b *memBackend) has(id string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	_, ok := b.docs[id]
	return ok
}

func (b *memBackend) IndexRecords(_ context.Context, records []Record) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrites {
		return errors.New("index write rejected")
	}
	for _, r := range records {
		b.docs[r.ID] = r
	}
	return nil
}

func (b *memBackend) DeleteRecords(_ context.Context, ids []string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.failWrites {
		return errors.New("index delete rejected")
	}
	for _, id := range ids {
		delete(b.docs, id)
	}
	return nil
}

func (b *memBackend) ClearRecords(context.Context) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.docs = map[string]Record{}
	b.clears++
	return nil
}

func (b *memBackend) References(_ context.Context, q Query) ([]string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	records := make([]Record, 0, len(b.docs))
	for _, r := range b.docs {
		records = append(records, r)
	}
	return matchReferences(records, q), nil
}

type memStore struct {
	mu   sync.Mutex
	rows map[string]store.AssociationRecord
}

func newMemStore() *memStore {
	return &memStore{rows: map[string]store.AssociationRecord{}}
}

func (m *memStore) add(row store.AssociationRecord) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.rows[row.ID] = row
}

func (m *memStore) remove(id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.rows, id)
}

func (m *memStore) ListReferencesByTag(_ context.Context, tagName, viewerID string, limit int) ([]string, error) {
	all, _ := m.ListAllAssociations(context.Background())
	records := make([]Record, 0, len(all))
	for _, row := range all {
		records = append(records, RecordFrom(row))
	}
	return matchReferences(records, Query{Tag: tagName, ViewerID: viewerID, Limit: limit}), nil
}

func (m *memStore) ListAllAssociations(context.Context) ([]store.AssociationRecord, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	rows := make([]store.AssociationRecord, 0, len(m.rows))
	for _, row := range m.rows {
		rows = append(rows, row)
	}
	return rows, nil
}

func matchReferences(records []Record, q Query) []string {
	sort.Slice(records, func(i, j int) bool { return records[i].CreatedAt < records[j].CreatedAt })
	refs := []string{}
	seen := map[string]bool{}
	for _, r := range records {
		if r.Tag != q.Tag || seen[r.Reference] {
			continue
		}
		if r.Visibility != VisibilityPublic && r.OwnerID != q.ViewerID {
			continue
		}
		seen[r.Reference] = true
		refs = append(refs, r.Reference)
		if len(refs) == q.Limit {
			break
		}
	}
	return refs
}

func lightAt(id, reference string, at time.Time) store.AssociationRecord {
	return store.AssociationRecord{ID: id, Reference: reference, TagName: "light", Category: "theme", CreatedAt: at}
}

func TestReferencesMatchDatabaseAfterBackendOutage(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	db := newMemStore()
	svc := NewService(backend, db, nil)
	base := time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

	kept := lightAt("asc_2", "Gen 1:2", base)
	db.add(kept)
	svc.IndexAssociation(kept)
	require.Eventually(t, func() bool { return backend.has("asc_2") }, 2*time.Second, 5*time.Millisecond)

	backend.setHealthy(false)
	added := lightAt("asc_1", "Gen 1:1", base.Add(time.Second))
	db.add(added)
	svc.IndexAssociation(added)
	db.remove("asc_2")
	svc.DeleteAssociations([]string{"asc_2"})
	assert.False(t, backend.has("asc_1"))
	assert.True(t, backend.has("asc_2"))

	backend.setHealthy(true)
	want := []string{"Gen 1:1"}

	// Served from the database while the index is rebuilt.
	refs, err := svc.References(ctx, "light", "", 10)
	require.NoError(t, err)
	assert.Equal(t, want, refs)

	require.Eventually(t, func() bool {
		return backend.has("asc_1") && !backend.has("asc_2") && !svc.resyncing.Load()
	}, 2*time.Second, 5*time.Millisecond)

	refs, err = svc.References(ctx, "light", "", 10)
	require.NoError(t, err)
	assert.Equal(t, want, refs)
	assert.False(t, svc.stale.Load())
	assert.Equal(t, 1, backend.clears)
}

func TestFailedIndexWriteRebuildsIndex(t *testing.T) {
	ctx := context.Background()
	backend := newMemBackend()
	db := newMemStore()
	svc := NewService(backend, db, nil)

	backend.setFailWrites(true)
	row := lightAt("asc_1", "Gen 1:3", time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC))
	db.add(row)
	svc.IndexAssociation(row)
	require.Eventually(t, func() bool { return svc.stale.Load() }, 2*time.Second, 5*time.Millisecond)

	backend.setFailWrites(false)
	refs, err := svc.References(ctx, "light", "", 10)
	require.NoError(t, err)
	assert.Equal(t, []string{"Gen 1:3"}, refs)

	require.Eventually(t, func() bool { return backend.has("asc_1") && !svc.resyncing.Load() }, 2*time.Second, 5*time.Millisecond)
	assert.False(t, svc.stale.Load())
}

func TestUnhealthyAtStartupIsStale(t *testing.T) {
	backend := newMemBackend()
	backend.setHealthy(false)
	svc := NewService(backend, newMemStore(), nil)
	assert.True(t, svc.stale.Load())

	assert.False(t, NewService(newMemBackend(), newMemStore(), nil).stale.Load())
}

func TestResyncDropsDeletedRecords(t *testing.T) {
	backend := newMemBackend()
	backend.docs["asc_gone"] = Record{ID: "asc_gone", Tag: "light", Reference: "Gen 1:9", Visibility: VisibilityPublic}
	db := newMemStore()
	db.add(lightAt("asc_1", "Gen 1:1", time.Now()))
	svc := NewService(backend, db, nil)

	n, err := svc.Resync(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	assert.False(t, backend.has("asc_gone"))
	assert.True(t, backend.has("asc_1"))
}
