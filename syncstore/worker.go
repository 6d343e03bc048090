package syncstore

import (
	"context"
	"sync"
	"time"

	"github.com/localforge/fabric/core"
)

// errorCooldown is the fixed pause after any cycle error before the
// worker retries, matching the source bridge's time.sleep(60) between
// failed sync attempts.
const errorCooldown = 60 * time.Second

// stopGrace bounds how long Stop waits for an in-flight cycle to finish
// before returning anyway.
const stopGrace = 10 * time.Second

// WorkerState is the worker's externally observable lifecycle state.
type WorkerState string

const (
	StateIdle    WorkerState = "idle"
	StateSyncing WorkerState = "syncing"
	StateStopped WorkerState = "stopped"
)

// Fetcher retrieves records for one collection received since the given
// watermark (zero value meaning "no watermark, fetch everything within
// the configured backfill window"). Agents implement this against their
// actual upstream; the worker only knows how to schedule and persist.
type Fetcher interface {
	Fetch(ctx context.Context, collection string, since time.Time, limit int) ([]core.SyncedRecord, error)
}

// Config configures a Worker.
type Config struct {
	IntervalS             int
	InitialBackfillWindow time.Duration
	MaxRecordsPerCycle    int
	Collections           []string
	Logger                core.Logger
}

func (c Config) withDefaults() Config {
	if c.IntervalS <= 0 {
		c.IntervalS = 300
	}
	if c.InitialBackfillWindow <= 0 {
		c.InitialBackfillWindow = 24 * time.Hour
	}
	if c.MaxRecordsPerCycle <= 0 {
		c.MaxRecordsPerCycle = 500
	}
	if c.Logger == nil {
		c.Logger = &core.NoOpLogger{}
	}
	return c
}

// Worker runs the initial backfill and then periodic incremental sync
// cycles against Store, isolating each collection's failures from every
// other collection's, per the source bridge's per-mailbox try/except.
type Worker struct {
	cfg     Config
	store   *Store
	fetcher Fetcher
	logger  core.Logger

	mu       sync.RWMutex
	state    WorkerState
	current  string
	lastErr  map[string]error
	stopCh   chan struct{}
	doneCh   chan struct{}
}

// NewWorker builds a Worker. It does not start the background loop;
// call Start explicitly.
func NewWorker(cfg Config, store *Store, fetcher Fetcher) *Worker {
	cfg = cfg.withDefaults()
	return &Worker{
		cfg:     cfg,
		store:   store,
		fetcher: fetcher,
		logger:  cfg.Logger,
		state:   StateIdle,
		lastErr: make(map[string]error),
	}
}

// Start performs the initial backfill synchronously, then launches the
// incremental sync loop as a background goroutine tied to ctx.
func (w *Worker) Start(ctx context.Context) {
	w.mu.Lock()
	w.stopCh = make(chan struct{})
	w.doneCh = make(chan struct{})
	w.mu.Unlock()

	w.runCycle(ctx, true)

	go w.loop(ctx)
}

// Stop signals the background loop to exit and waits up to a bounded
// grace period for any in-flight cycle to finish, matching the source
// bridge's thread.join(timeout=10).
func (w *Worker) Stop() {
	w.mu.Lock()
	stopCh := w.stopCh
	doneCh := w.doneCh
	w.mu.Unlock()

	if stopCh == nil {
		return
	}
	close(stopCh)

	select {
	case <-doneCh:
	case <-time.After(stopGrace):
	}

	w.mu.Lock()
	w.state = StateStopped
	w.mu.Unlock()
}

func (w *Worker) loop(ctx context.Context) {
	defer close(w.doneCh)

	interval := time.Duration(w.cfg.IntervalS) * time.Second
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.runCycle(ctx, false)
		}
	}
}

// runCycle performs one sync pass over every configured collection,
// isolating failures per collection. On any error it sleeps the fixed
// cooldown before returning control to the caller (the initial
// synchronous call, or the next tick of loop).
func (w *Worker) runCycle(ctx context.Context, isInitial bool) {
	anyErr := false

	for _, collection := range w.cfg.Collections {
		select {
		case <-w.stopCh:
			return
		default:
		}

		if err := w.syncCollection(ctx, collection, isInitial); err != nil {
			anyErr = true
			w.mu.Lock()
			w.lastErr[collection] = err
			w.mu.Unlock()
			w.logger.Warn("sync cycle failed", map[string]interface{}{"collection": collection, "error": err.Error()})
		}
	}

	w.mu.Lock()
	w.state = StateIdle
	w.current = ""
	w.mu.Unlock()

	if anyErr {
		select {
		case <-time.After(errorCooldown):
		case <-w.stopCh:
		case <-ctx.Done():
		}
	}
}

func (w *Worker) syncCollection(ctx context.Context, collection string, isInitial bool) error {
	w.mu.Lock()
	w.state = StateSyncing
	w.current = collection
	w.mu.Unlock()

	since := time.Time{}
	if isInitial {
		since = time.Now().Add(-w.cfg.InitialBackfillWindow)
	} else if status, ok := w.store.LastSyncStatus(collection); ok {
		since = status.LastSyncAt
	} else {
		since = time.Now().Add(-24 * time.Hour)
	}

	records, err := w.fetcher.Fetch(ctx, collection, since, w.cfg.MaxRecordsPerCycle)
	if err != nil {
		_ = w.store.UpdateSyncStatus(core.SyncStatus{Collection: collection, LastSyncAt: time.Now(), LastSuccess: false})
		return err
	}

	now := time.Now()
	for _, rec := range records {
		rec.SyncedAt = now
		if err := w.store.Upsert(rec); err != nil {
			_ = w.store.UpdateSyncStatus(core.SyncStatus{Collection: collection, LastSyncAt: now, LastSuccess: false})
			return err
		}
	}

	return w.store.UpdateSyncStatus(core.SyncStatus{
		Collection:  collection,
		LastSyncAt:  now,
		LastSuccess: true,
		RecordCount: len(records),
	})
}

// ForceSync runs one cycle immediately, optionally scoped to a single
// collection, bypassing the ticker. If collection is empty every
// configured collection is synced. It is idempotent: a force sync with
// no upstream changes since the last cycle performs no writes beyond
// refreshing the sync_status watermark.
func (w *Worker) ForceSync(ctx context.Context, collection string) error {
	collections := w.cfg.Collections
	if collection != "" {
		collections = []string{collection}
	}

	var firstErr error
	for _, c := range collections {
		if err := w.syncCollection(ctx, c, false); err != nil && firstErr == nil {
			firstErr = err
		}
	}

	w.mu.Lock()
	w.state = StateIdle
	w.current = ""
	w.mu.Unlock()

	return firstErr
}

// Status reports the worker's current lifecycle state and, for each
// collection, its last recorded sync status and any error from the
// most recent attempt.
type Status struct {
	State       WorkerState
	Current     string
	Collections map[string]CollectionStatus
}

// CollectionStatus summarizes one collection's sync history.
type CollectionStatus struct {
	core.SyncStatus
	LastError string
}

// GetStatus assembles a Status snapshot across all configured
// collections.
func (w *Worker) GetStatus() Status {
	w.mu.RLock()
	defer w.mu.RUnlock()

	out := Status{State: w.state, Current: w.current, Collections: make(map[string]CollectionStatus)}
	for _, c := range w.cfg.Collections {
		status, _ := w.store.LastSyncStatus(c)
		cs := CollectionStatus{SyncStatus: status}
		if err, ok := w.lastErr[c]; ok {
			cs.LastError = err.Error()
		}
		out.Collections[c] = cs
	}
	return out
}
