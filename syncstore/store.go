// Package syncstore implements the background sync worker and local
// durable store pattern used by agents whose upstream data source is
// slow or rate-limited: a single-file embedded database plus a
// background worker that performs an initial backfill and then
// incremental cycles, decoupling upstream latency from read-path API
// calls.
package syncstore

import (
	"database/sql"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/localforge/fabric/core"
)

const schema = `
CREATE TABLE IF NOT EXISTS records (
	source_id  TEXT NOT NULL,
	collection TEXT NOT NULL,
	payload    BLOB,
	received_at DATETIME,
	synced_at   DATETIME,
	PRIMARY KEY (source_id, collection)
);
CREATE TABLE IF NOT EXISTS sync_status (
	collection   TEXT PRIMARY KEY,
	last_sync_at DATETIME,
	last_success BOOLEAN,
	record_count INTEGER
);
`

// Store is the single-file embedded database backing one agent's sync
// worker. It is safe for concurrent use; writes are serialized through a
// short critical section.
type Store struct {
	mu sync.Mutex
	db *sql.DB
}

// Open opens (creating if necessary) the sync database at path.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, core.NewError("syncstore.Open", core.KindInternal, err)
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, core.NewError("syncstore.Open", core.KindInternal, err)
	}
	return &Store{db: db}, nil
}

// Close releases the database handle.
func (s *Store) Close() error { return s.db.Close() }

// Upsert writes or replaces one record for (sourceID, collection).
func (s *Store) Upsert(rec core.SyncedRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO records (source_id, collection, payload, received_at, synced_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(source_id, collection) DO UPDATE SET
			payload = excluded.payload,
			received_at = excluded.received_at,
			synced_at = excluded.synced_at
	`, rec.SourceID, rec.SourceCollection, rec.Payload, rec.ReceivedAt.Format(time.RFC3339Nano), rec.SyncedAt.Format(time.RFC3339Nano))
	return err
}

// UpdateSyncStatus records the outcome of one sync cycle for collection.
func (s *Store) UpdateSyncStatus(status core.SyncStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO sync_status (collection, last_sync_at, last_success, record_count)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(collection) DO UPDATE SET
			last_sync_at = excluded.last_sync_at,
			last_success = excluded.last_success,
			record_count = excluded.record_count
	`, status.Collection, status.LastSyncAt.Format(time.RFC3339Nano), status.LastSuccess, status.RecordCount)
	return err
}

// LastSyncStatus returns the stored watermark for collection, or the
// zero value with ok=false if the collection has never synced.
func (s *Store) LastSyncStatus(collection string) (core.SyncStatus, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var status core.SyncStatus
	var lastSyncAt string
	row := s.db.QueryRow(`SELECT collection, last_sync_at, last_success, record_count FROM sync_status WHERE collection = ?`, collection)
	if err := row.Scan(&status.Collection, &lastSyncAt, &status.LastSuccess, &status.RecordCount); err != nil {
		return core.SyncStatus{}, false
	}
	status.LastSyncAt, _ = time.Parse(time.RFC3339Nano, lastSyncAt)
	return status, true
}

// GetRecords returns records for collection ordered by received_at
// descending, paginated by limit*page, optionally filtered to records
// received after since.
func (s *Store) GetRecords(collection string, limit, page int, since *time.Time) ([]core.SyncedRecord, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if limit <= 0 {
		limit = 100
	}
	if page < 0 {
		page = 0
	}

	query := `SELECT source_id, collection, payload, received_at, synced_at FROM records WHERE collection = ?`
	args := []interface{}{collection}
	if since != nil {
		query += ` AND received_at > ?`
		args = append(args, since.Format(time.RFC3339Nano))
	}
	query += ` ORDER BY received_at DESC LIMIT ? OFFSET ?`
	args = append(args, limit, limit*page)

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []core.SyncedRecord
	for rows.Next() {
		var rec core.SyncedRecord
		var receivedAt, syncedAt string
		if err := rows.Scan(&rec.SourceID, &rec.SourceCollection, &rec.Payload, &receivedAt, &syncedAt); err != nil {
			continue
		}
		rec.ReceivedAt, _ = time.Parse(time.RFC3339Nano, receivedAt)
		rec.SyncedAt, _ = time.Parse(time.RFC3339Nano, syncedAt)
		out = append(out, rec)
	}
	return out, nil
}

// Cleanup deletes records received more than daysToKeep days ago.
func (s *Store) Cleanup(daysToKeep int) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	cutoff := time.Now().AddDate(0, 0, -daysToKeep).Format(time.RFC3339Nano)
	res, err := s.db.Exec(`DELETE FROM records WHERE received_at < ?`, cutoff)
	if err != nil {
		return 0, err
	}
	return res.RowsAffected()
}
