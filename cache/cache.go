package cache

import (
	"path/filepath"
	"sync"
	"time"

	"github.com/localforge/fabric/core"
)

// Stats reports tier sizes, hit rates, and totals across the cache hierarchy.
type Stats struct {
	L1Size       int     `json:"l1_size"`
	L1Hits       int64   `json:"l1_hits"`
	L1Misses     int64   `json:"l1_misses"`
	L1HitRate    float64 `json:"l1_hit_rate"`
	L2Available  bool    `json:"l2_available"`
	L3Size       int     `json:"l3_size"`
	TotalHits    int64   `json:"total_hits"`
	TotalMisses  int64   `json:"total_misses"`
	MemoryBytes  int64   `json:"approx_memory_bytes"`
}

// Config configures a SemanticCache. L1 is always present; L2 and L3 are
// enabled when their respective URL/dir fields are non-empty.
type Config struct {
	AgentID  string
	CacheDir string // root for the L3 file; file is "<CacheDir>/agent_cache.db"
	L2URL    string

	L1MaxSize int
	L1TTL     time.Duration
	L2TTL     time.Duration
	L3TTL     time.Duration

	Logger core.Logger
}

// SemanticCache composes the three tiers described in the component
// design: an in-process map (L1, required), an optional remote KV (L2),
// and a durable embedded database (L3). Reads fall through the tiers in
// order and promote a lower-tier hit back up to every higher tier;
// writes fan out best-effort to all available tiers.
type SemanticCache struct {
	agentID string
	logger  core.Logger

	l1 *l1Cache
	l2 *l2Tier
	l3 *l3Store

	// keyIndex maps a query_hash to its normalized plaintext so
	// invalidate_pattern can substring-match L1 entries, which are
	// otherwise keyed only by digest.
	mu       sync.RWMutex
	keyIndex map[string]string

	totalHits   int64
	totalMisses int64
}

// New constructs a SemanticCache from cfg. L3 failures are fatal (the
// durable tier is expected to be available whenever CacheDir is set);
// L2 failures degrade to L1/L3-only operation with a logged warning.
func New(cfg Config) (*SemanticCache, error) {
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}

	sc := &SemanticCache{
		agentID:  cfg.AgentID,
		logger:   cfg.Logger,
		l1:       newL1Cache(cfg.L1MaxSize, cfg.L1TTL),
		keyIndex: make(map[string]string),
	}

	if cfg.L2URL != "" {
		l2, err := newL2Tier(cfg.L2URL, cfg.L2TTL, cfg.Logger)
		if err != nil {
			cfg.Logger.Warn("l2 cache unavailable, continuing without it", map[string]interface{}{"error": err.Error()})
		} else {
			sc.l2 = l2
		}
	}

	if cfg.CacheDir != "" {
		path := filepath.Join(cfg.CacheDir, "agent_cache.db")
		l3, err := newL3Store(path, cfg.L3TTL)
		if err != nil {
			return nil, err
		}
		sc.l3 = l3
	}

	return sc, nil
}

// Close releases the L3 database handle, if any.
func (sc *SemanticCache) Close() error {
	if sc.l3 != nil {
		return sc.l3.close()
	}
	return nil
}

// Get looks up query for agentID, falling through L1 -> L2 -> L3 and
// promoting a lower-tier hit to every higher tier. The bool return is
// false on a full miss across all tiers.
func (sc *SemanticCache) Get(query, agentID string) (Entry, bool) {
	key := queryHash(query, agentID)

	if entry, ok := sc.l1.get(key); ok {
		sc.recordHit()
		return entry, true
	}

	if entry, ok := sc.l2.get(key); ok {
		sc.promoteToL1(key, query, entry)
		sc.recordHit()
		return entry, true
	}

	if sc.l3 != nil {
		if entry, ok := sc.l3.get(key, normalize(query)); ok {
			sc.promoteToL1(key, query, entry)
			sc.l2.set(key, entry)
			sc.recordHit()
			return entry, true
		}
	}

	sc.recordMiss()
	return Entry{}, false
}

func (sc *SemanticCache) promoteToL1(key, query string, entry Entry) {
	sc.l1.set(key, entry)
	sc.mu.Lock()
	sc.keyIndex[key] = normalize(query)
	sc.mu.Unlock()
}

func (sc *SemanticCache) recordHit() {
	sc.mu.Lock()
	sc.totalHits++
	sc.mu.Unlock()
	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
		registry.Counter("cache.lookup", "agent_id", sc.agentID, "result", "hit")
	}
}

func (sc *SemanticCache) recordMiss() {
	sc.mu.Lock()
	sc.totalMisses++
	sc.mu.Unlock()
	if registry := core.GetGlobalMetricsRegistry(); registry != nil {
		registry.Counter("cache.lookup", "agent_id", sc.agentID, "result", "miss")
	}
}

// Set writes (query, agentID) -> (blob, confidence) to every available
// tier. The L1 write must succeed; L2/L3 write failures are logged but
// never fail the call.
func (sc *SemanticCache) Set(query, agentID string, blob []byte, confidence float64) {
	key := queryHash(query, agentID)
	entry := Entry{Blob: blob, Confidence: confidence, StoredAt: time.Now()}

	sc.l1.set(key, entry)
	sc.mu.Lock()
	sc.keyIndex[key] = normalize(query)
	sc.mu.Unlock()

	sc.l2.set(key, entry)

	if sc.l3 != nil {
		if err := sc.l3.set(key, agentID, normalize(query), entry); err != nil {
			sc.logger.Warn("l3 cache write failed", map[string]interface{}{"error": err.Error()})
		}
	}
}

// InvalidatePattern deletes every entry at every tier whose normalized
// query contains pattern (case-insensitive substring).
func (sc *SemanticCache) InvalidatePattern(pattern, agentID string) {
	pattern = normalize(pattern)

	var victims []string
	sc.mu.RLock()
	for key, query := range sc.keyIndex {
		if contains(query, pattern) {
			victims = append(victims, key)
		}
	}
	sc.mu.RUnlock()

	if sc.l3 != nil {
		if fromL3, err := sc.l3.invalidatePattern(pattern, agentID); err == nil {
			victims = append(victims, fromL3...)
		} else {
			sc.logger.Warn("l3 invalidate_pattern failed", map[string]interface{}{"error": err.Error()})
		}
	}

	victims = dedupe(victims)
	sc.l1.invalidate(victims)
	sc.l2.delete(victims)

	sc.mu.Lock()
	for _, key := range victims {
		delete(sc.keyIndex, key)
	}
	sc.mu.Unlock()
}

func contains(haystack, needle string) bool {
	if needle == "" {
		return true
	}
	return len(haystack) >= len(needle) && indexOf(haystack, needle) >= 0
}

func indexOf(s, substr string) int {
	for i := 0; i+len(substr) <= len(s); i++ {
		if s[i:i+len(substr)] == substr {
			return i
		}
	}
	return -1
}

func dedupe(in []string) []string {
	seen := make(map[string]struct{}, len(in))
	out := in[:0]
	for _, v := range in {
		if _, ok := seen[v]; ok {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	return out
}

// Stats reports current tier sizes, hit rates, and totals.
func (sc *SemanticCache) Stats() Stats {
	l1Hits, l1Misses, l1Size := sc.l1.statsSnapshot()

	sc.mu.RLock()
	totalHits, totalMisses := sc.totalHits, sc.totalMisses
	sc.mu.RUnlock()

	var l1HitRate float64
	if total := l1Hits + l1Misses; total > 0 {
		l1HitRate = float64(l1Hits) / float64(total)
	}

	l3Size := 0
	if sc.l3 != nil {
		l3Size = sc.l3.size()
	}

	return Stats{
		L1Size:      l1Size,
		L1Hits:      l1Hits,
		L1Misses:    l1Misses,
		L1HitRate:   l1HitRate,
		L2Available: sc.l2.available(),
		L3Size:      l3Size,
		TotalHits:   totalHits,
		TotalMisses: totalMisses,
		MemoryBytes: int64(l1Size) * 512,
	}
}

// CacheRelationship stores a relationship edge in the L3 relationship
// table. The relationship cache has no dedicated L1/L2 tier; it is used
// for enrichment lookups, not hot-path interpretation dispatch.
func (sc *SemanticCache) CacheRelationship(edge core.RelationshipEdge) error {
	if sc.l3 == nil {
		return core.NewError("cache.CacheRelationship", core.KindInternal, core.ErrNotInitialized)
	}
	if edge.StoredAt.IsZero() {
		edge.StoredAt = time.Now()
	}
	return sc.l3.setRelationship(edge)
}

// GetRelationships returns edges for (entityType, entityID), optionally
// filtered by relatedType.
func (sc *SemanticCache) GetRelationships(entityType, entityID, relatedType string) ([]core.RelationshipEdge, error) {
	if sc.l3 == nil {
		return nil, nil
	}
	return sc.l3.getRelationships(entityType, entityID, relatedType)
}
