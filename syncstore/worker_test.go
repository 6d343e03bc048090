package syncstore

import (
	"context"
	"path/filepath"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localforge/fabric/core"
)

type stubFetcher struct {
	calls   int32
	records []core.SyncedRecord
	err     error
}

func (f *stubFetcher) Fetch(ctx context.Context, collection string, since time.Time, limit int) ([]core.SyncedRecord, error) {
	atomic.AddInt32(&f.calls, 1)
	if f.err != nil {
		return nil, f.err
	}
	return f.records, nil
}

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(filepath.Join(t.TempDir(), "sync.db"))
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func TestForceSyncWritesRecordsAndStatus(t *testing.T) {
	store := newTestStore(t)
	fetcher := &stubFetcher{records: []core.SyncedRecord{
		{SourceID: "m1", SourceCollection: "Inbox", Payload: []byte(`{"subject":"hi"}`), ReceivedAt: time.Now()},
	}}
	worker := NewWorker(Config{Collections: []string{"Inbox"}}, store, fetcher)

	require.NoError(t, worker.ForceSync(context.Background(), "Inbox"))

	records, err := store.GetRecords("Inbox", 10, 0, nil)
	require.NoError(t, err)
	require.Len(t, records, 1)
	assert.Equal(t, "m1", records[0].SourceID)

	status, ok := store.LastSyncStatus("Inbox")
	require.True(t, ok)
	assert.True(t, status.LastSuccess)
	assert.Equal(t, 1, status.RecordCount)
}

func TestForceSyncTwiceWithNoUpstreamChangesIsIdempotent(t *testing.T) {
	store := newTestStore(t)
	fetcher := &stubFetcher{records: []core.SyncedRecord{
		{SourceID: "m1", SourceCollection: "Inbox", Payload: []byte(`{}`), ReceivedAt: time.Now()},
	}}
	worker := NewWorker(Config{Collections: []string{"Inbox"}}, store, fetcher)

	require.NoError(t, worker.ForceSync(context.Background(), "Inbox"))
	first, err := store.GetRecords("Inbox", 10, 0, nil)
	require.NoError(t, err)

	require.NoError(t, worker.ForceSync(context.Background(), "Inbox"))
	second, err := store.GetRecords("Inbox", 10, 0, nil)
	require.NoError(t, err)

	assert.Equal(t, len(first), len(second))
	assert.Equal(t, first[0].SourceID, second[0].SourceID)
}

func TestSyncCollectionFailureIsolatesOtherCollections(t *testing.T) {
	store := newTestStore(t)
	worker := NewWorker(Config{Collections: []string{"Inbox", "Sent"}}, store, &stubFetcher{
		records: []core.SyncedRecord{{SourceID: "m1", SourceCollection: "Sent", Payload: []byte(`{}`), ReceivedAt: time.Now()}},
	})

	// Force a failure on Inbox only by giving each collection its own fetcher via composition.
	failing := &failingOnCollection{ok: worker.fetcher, failCollection: "Inbox"}
	worker.fetcher = failing

	worker.runCycle(context.Background(), true)

	_, inboxOK := store.LastSyncStatus("Inbox")
	sentStatus, sentOK := store.LastSyncStatus("Sent")
	require.True(t, inboxOK)
	require.True(t, sentOK)
	assert.True(t, sentStatus.LastSuccess)
}

type failingOnCollection struct {
	ok             Fetcher
	failCollection string
}

func (f *failingOnCollection) Fetch(ctx context.Context, collection string, since time.Time, limit int) ([]core.SyncedRecord, error) {
	if collection == f.failCollection {
		return nil, assertError{}
	}
	return f.ok.Fetch(ctx, collection, since, limit)
}

type assertError struct{}

func (assertError) Error() string { return "simulated fetch failure" }

func TestStartRunsInitialBackfillSynchronously(t *testing.T) {
	store := newTestStore(t)
	fetcher := &stubFetcher{records: []core.SyncedRecord{
		{SourceID: "m1", SourceCollection: "Inbox", Payload: []byte(`{}`), ReceivedAt: time.Now()},
	}}
	worker := NewWorker(Config{IntervalS: 3600, Collections: []string{"Inbox"}}, store, fetcher)

	ctx, cancel := context.WithCancel(context.Background())
	worker.Start(ctx)
	defer func() { cancel(); worker.Stop() }()

	assert.GreaterOrEqual(t, int(atomic.LoadInt32(&fetcher.calls)), 1)
	records, err := store.GetRecords("Inbox", 10, 0, nil)
	require.NoError(t, err)
	assert.Len(t, records, 1)
}

func TestStopReturnsPromptlyWhenLoopIdle(t *testing.T) {
	store := newTestStore(t)
	worker := NewWorker(Config{IntervalS: 3600, Collections: []string{}}, store, &stubFetcher{})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)

	done := make(chan struct{})
	go func() { worker.Stop(); close(done) }()

	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatal("Stop did not return within grace period")
	}

	assert.Equal(t, StateStopped, worker.GetStatus().State)
}

func TestGetStatusReportsPerCollectionWatermark(t *testing.T) {
	store := newTestStore(t)
	fetcher := &stubFetcher{records: []core.SyncedRecord{
		{SourceID: "m1", SourceCollection: "Inbox", Payload: []byte(`{}`), ReceivedAt: time.Now()},
	}}
	worker := NewWorker(Config{Collections: []string{"Inbox"}}, store, fetcher)
	require.NoError(t, worker.ForceSync(context.Background(), "Inbox"))

	status := worker.GetStatus()
	cs, ok := status.Collections["Inbox"]
	require.True(t, ok)
	assert.True(t, cs.LastSuccess)
	assert.Empty(t, cs.LastError)
}
