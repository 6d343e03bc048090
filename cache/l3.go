package cache

import (
	"database/sql"
	"encoding/json"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/localforge/fabric/core"
)

// l3Store is the durable single-file tier backing both the interpretation
// cache and the cross-agent relationship cache. Writes are serialized
// through a short critical section; SQLite itself additionally enforces
// single-writer semantics at the file level.
type l3Store struct {
	mu sync.Mutex
	db *sql.DB
	ttl time.Duration
}

const l3Schema = `
CREATE TABLE IF NOT EXISTS query_cache (
	query_hash TEXT PRIMARY KEY,
	agent_id   TEXT NOT NULL,
	query_text TEXT NOT NULL,
	blob       BLOB,
	confidence REAL,
	stored_at  DATETIME,
	hits       INTEGER DEFAULT 0
);
CREATE TABLE IF NOT EXISTS relationship_cache (
	entity_type   TEXT NOT NULL,
	entity_id     TEXT NOT NULL,
	related_type  TEXT NOT NULL,
	related_id    TEXT NOT NULL,
	blob          BLOB,
	confidence    REAL,
	stored_at     DATETIME,
	PRIMARY KEY (entity_type, entity_id, related_type, related_id)
);
`

func newL3Store(path string, ttl time.Duration) (*l3Store, error) {
	db, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, core.NewError("cache.newL3Store", core.KindInternal, err)
	}
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(l3Schema); err != nil {
		db.Close()
		return nil, core.NewError("cache.newL3Store", core.KindInternal, err)
	}

	if ttl <= 0 {
		ttl = 6 * time.Hour
	}
	return &l3Store{db: db, ttl: ttl}, nil
}

func (s *l3Store) close() error {
	return s.db.Close()
}

func (s *l3Store) get(key, queryText string) (Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT blob, confidence, stored_at, hits FROM query_cache WHERE query_hash = ?`, key)

	var entry Entry
	var storedAt string
	var hits int64
	if err := row.Scan(&entry.Blob, &entry.Confidence, &storedAt, &hits); err != nil {
		return Entry{}, false
	}

	entry.StoredAt, _ = time.Parse(time.RFC3339Nano, storedAt)
	if time.Since(entry.StoredAt) > s.ttl {
		return Entry{}, false
	}
	entry.Hits = hits + 1

	_, _ = s.db.Exec(`UPDATE query_cache SET hits = hits + 1 WHERE query_hash = ?`, key)
	return entry, true
}

func (s *l3Store) set(key, agentID, queryText string, entry Entry) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(`
		INSERT INTO query_cache (query_hash, agent_id, query_text, blob, confidence, stored_at, hits)
		VALUES (?, ?, ?, ?, ?, ?, 0)
		ON CONFLICT(query_hash) DO UPDATE SET
			blob = excluded.blob,
			confidence = excluded.confidence,
			stored_at = excluded.stored_at
	`, key, agentID, queryText, entry.Blob, entry.Confidence, entry.StoredAt.Format(time.RFC3339Nano))
	return err
}

// invalidatePattern deletes every row whose query_text contains pattern
// (case-insensitive substring), returning the deleted query_hash values
// so the caller can evict the matching L1/L2 keys too.
func (s *l3Store) invalidatePattern(pattern, agentID string) ([]string, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	pattern = strings.ToLower(pattern)
	rows, err := s.db.Query(`SELECT query_hash, query_text FROM query_cache WHERE agent_id = ?`, agentID)
	if err != nil {
		return nil, err
	}
	var victims []string
	for rows.Next() {
		var hash, text string
		if err := rows.Scan(&hash, &text); err != nil {
			continue
		}
		if strings.Contains(strings.ToLower(text), pattern) {
			victims = append(victims, hash)
		}
	}
	rows.Close()

	for _, hash := range victims {
		if _, err := s.db.Exec(`DELETE FROM query_cache WHERE query_hash = ?`, hash); err != nil {
			return victims, err
		}
	}
	return victims, nil
}

func (s *l3Store) size() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	var n int
	_ = s.db.QueryRow(`SELECT COUNT(*) FROM query_cache`).Scan(&n)
	return n
}

// setRelationship upserts one relationship edge.
func (s *l3Store) setRelationship(edge core.RelationshipEdge) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	blob, err := json.Marshal(edge.Attributes)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(`
		INSERT INTO relationship_cache (entity_type, entity_id, related_type, related_id, blob, confidence, stored_at)
		VALUES (?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT(entity_type, entity_id, related_type, related_id) DO UPDATE SET
			blob = excluded.blob,
			confidence = excluded.confidence,
			stored_at = excluded.stored_at
	`, edge.EntityType, edge.EntityID, edge.RelatedEntityType, edge.RelatedEntityID, blob, edge.Confidence, edge.StoredAt.Format(time.RFC3339Nano))
	return err
}

// getRelationships returns edges for (entityType, entityID), optionally
// filtered by relatedType.
func (s *l3Store) getRelationships(entityType, entityID, relatedType string) ([]core.RelationshipEdge, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	query := `SELECT entity_type, entity_id, related_type, related_id, blob, confidence, stored_at
		FROM relationship_cache WHERE entity_type = ? AND entity_id = ?`
	args := []interface{}{entityType, entityID}
	if relatedType != "" {
		query += ` AND related_type = ?`
		args = append(args, relatedType)
	}

	rows, err := s.db.Query(query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var edges []core.RelationshipEdge
	for rows.Next() {
		var e core.RelationshipEdge
		var blob []byte
		var storedAt string
		if err := rows.Scan(&e.EntityType, &e.EntityID, &e.RelatedEntityType, &e.RelatedEntityID, &blob, &e.Confidence, &storedAt); err != nil {
			continue
		}
		_ = json.Unmarshal(blob, &e.Attributes)
		e.StoredAt, _ = time.Parse(time.RFC3339Nano, storedAt)
		edges = append(edges, e)
	}
	return edges, nil
}
