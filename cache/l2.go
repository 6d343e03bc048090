package cache

import (
	"context"
	"encoding/json"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/localforge/fabric/core"
)

// l2Tier is the optional remote key/value tier. Its absence is never an
// error; every operation is best-effort and bounded by a short timeout
// so a slow or unreachable Redis never stalls a hot read.
type l2Tier struct {
	client  *redis.Client
	ttl     time.Duration
	timeout time.Duration
	logger  core.Logger
}

const defaultL2Timeout = 50 * time.Millisecond

func newL2Tier(url string, ttl time.Duration, logger core.Logger) (*l2Tier, error) {
	if url == "" {
		return nil, nil
	}
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, core.NewError("cache.newL2Tier", core.KindBadRequest, err)
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &l2Tier{
		client:  redis.NewClient(opts),
		ttl:     ttl,
		timeout: defaultL2Timeout,
		logger:  logger,
	}, nil
}

type l2Payload struct {
	Blob       []byte    `json:"blob"`
	Confidence float64   `json:"confidence"`
	StoredAt   time.Time `json:"stored_at"`
}

func (l *l2Tier) get(key string) (Entry, bool) {
	if l == nil {
		return Entry{}, false
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	raw, err := l.client.Get(ctx, key).Bytes()
	if err != nil {
		// Timeout, miss, or connection error are all treated as a miss.
		return Entry{}, false
	}

	var payload l2Payload
	if err := json.Unmarshal(raw, &payload); err != nil {
		return Entry{}, false
	}
	return Entry{Blob: payload.Blob, Confidence: payload.Confidence, StoredAt: payload.StoredAt}, true
}

func (l *l2Tier) set(key string, entry Entry) {
	if l == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()

	payload, err := json.Marshal(l2Payload{Blob: entry.Blob, Confidence: entry.Confidence, StoredAt: entry.StoredAt})
	if err != nil {
		return
	}
	if err := l.client.Set(ctx, key, payload, l.ttl).Err(); err != nil {
		l.logger.Warn("l2 cache write failed", map[string]interface{}{"error": err.Error()})
	}
}

func (l *l2Tier) delete(keys []string) {
	if l == nil || len(keys) == 0 {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), l.timeout)
	defer cancel()
	if err := l.client.Del(ctx, keys...).Err(); err != nil {
		l.logger.Warn("l2 cache delete failed", map[string]interface{}{"error": err.Error()})
	}
}

func (l *l2Tier) available() bool { return l != nil }
