package cache

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localforge/fabric/core"
)

func newTestCache(t *testing.T) *SemanticCache {
	t.Helper()
	sc, err := New(Config{
		AgentID:  "mail",
		CacheDir: t.TempDir(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = sc.Close() })
	return sc
}

func TestSetThenGetReturnsValueWithFullConfidence(t *testing.T) {
	sc := newTestCache(t)

	sc.Set("find emails about project X", "mail", []byte(`{"capability":"mail.search"}`), 0.9)

	entry, ok := sc.Get("find emails about project X", "mail")
	require.True(t, ok)
	assert.Equal(t, []byte(`{"capability":"mail.search"}`), entry.Blob)
	// L1 hits are always reported at full confidence regardless of the
	// originally stored value.
	assert.Equal(t, 1.0, entry.Confidence)
}

func TestGetMissReturnsFalse(t *testing.T) {
	sc := newTestCache(t)

	_, ok := sc.Get("nothing cached", "mail")
	assert.False(t, ok)
}

func TestGetIsCaseAndWhitespaceInsensitive(t *testing.T) {
	sc := newTestCache(t)

	sc.Set("Find   Emails about   Project X", "mail", []byte("blob"), 0.8)

	_, ok := sc.Get("find emails about project x", "mail")
	assert.True(t, ok)
}

func TestL3SurvivesL1Eviction(t *testing.T) {
	sc := newTestCache(t)
	sc.l1 = newL1Cache(1, time.Hour)

	sc.Set("query one", "mail", []byte("one"), 0.8)
	sc.Set("query two", "mail", []byte("two"), 0.8)

	// query one was evicted from L1 by the size bound, but must still be
	// retrievable via L3 and re-promoted.
	entry, ok := sc.Get("query one", "mail")
	require.True(t, ok)
	assert.Equal(t, []byte("one"), entry.Blob)
}

func TestInvalidatePatternRemovesOnlyMatching(t *testing.T) {
	sc := newTestCache(t)

	sc.Set("events today", "mail", []byte("today"), 0.8)
	sc.Set("events tomorrow", "mail", []byte("tomorrow"), 0.8)

	sc.InvalidatePattern("today", "mail")

	_, ok := sc.Get("events today", "mail")
	assert.False(t, ok)

	entry, ok := sc.Get("events tomorrow", "mail")
	require.True(t, ok)
	assert.Equal(t, []byte("tomorrow"), entry.Blob)
}

func TestStatsReportsHitsAndMisses(t *testing.T) {
	sc := newTestCache(t)

	sc.Set("q", "mail", []byte("v"), 0.8)
	_, _ = sc.Get("q", "mail")
	_, _ = sc.Get("unknown", "mail")

	stats := sc.Stats()
	assert.Equal(t, int64(1), stats.TotalHits)
	assert.Equal(t, int64(1), stats.TotalMisses)
	assert.False(t, stats.L2Available)
}

func TestCacheRelationshipRoundTrip(t *testing.T) {
	sc := newTestCache(t)

	edge := core.RelationshipEdge{
		EntityType:        "contact",
		EntityID:          "c1",
		RelatedEntityType: "email",
		RelatedEntityID:   "alice@example.com",
		Attributes:        map[string]interface{}{"observed_in": "mail"},
		Confidence:        0.95,
	}
	require.NoError(t, sc.CacheRelationship(edge))

	edges, err := sc.GetRelationships("contact", "c1", "")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, "alice@example.com", edges[0].RelatedEntityID)
}

func TestCacheRelationshipOverwritesOnDuplicateKey(t *testing.T) {
	sc := newTestCache(t)

	edge := core.RelationshipEdge{EntityType: "contact", EntityID: "c1", RelatedEntityType: "email", RelatedEntityID: "a@b.com", Confidence: 0.5}
	require.NoError(t, sc.CacheRelationship(edge))

	edge.Confidence = 0.99
	require.NoError(t, sc.CacheRelationship(edge))

	edges, err := sc.GetRelationships("contact", "c1", "")
	require.NoError(t, err)
	require.Len(t, edges, 1)
	assert.Equal(t, 0.99, edges[0].Confidence)
}

func TestQueryHashIncludesAgentID(t *testing.T) {
	assert.NotEqual(t, queryHash("q", "mail"), queryHash("q", "calendar"))
}
