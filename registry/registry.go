// Package registry implements the Agent Registry (C6): the single
// source of truth for which agents are live, what they can do, and how
// healthy they currently are. It aggregates each agent's own /metrics
// dashboard into a system-wide view and runs the liveness prober that
// downgrades unresponsive agents before client requests ever reach
// them.
package registry

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"sync"
	"time"

	"github.com/go-redis/redis/v8"

	"github.com/localforge/fabric/core"
)

// defaultTTL bounds how long a registration survives in Redis without a
// heartbeat refresh.
const defaultTTL = 30 * time.Second

// Store persists agent registrations. Redis-backed in live mode, an
// in-memory MockStore in demo mode — both satisfy this interface so the
// Registry's business logic never branches on deployment mode.
type Store interface {
	Put(ctx context.Context, reg core.AgentRegistration) error
	Delete(ctx context.Context, agentID string) error
	Get(ctx context.Context, agentID string) (core.AgentRegistration, bool, error)
	List(ctx context.Context) ([]core.AgentRegistration, error)
	IndexCapability(ctx context.Context, verb, agentID string) error
	DeindexCapability(ctx context.Context, verb, agentID string) error
	AgentsForCapability(ctx context.Context, verb string) ([]string, error)
}

// Registry is the registration table plus the liveness prober that
// keeps it honest.
type Registry struct {
	store     Store
	namespace string
	logger    core.Logger

	probeN int
	probeM int

	mu      sync.RWMutex
	probers map[string]context.CancelFunc
}

// Config configures a Registry.
type Config struct {
	Namespace             string
	UnhealthyAfterFailures int // N
	UnreachableAfterFailures int // M
	Logger                core.Logger
}

func (c Config) withDefaults() Config {
	if c.Namespace == "" {
		c.Namespace = "fabric"
	}
	if c.UnhealthyAfterFailures <= 0 {
		c.UnhealthyAfterFailures = 3
	}
	if c.UnreachableAfterFailures <= 0 {
		c.UnreachableAfterFailures = 10
	}
	if c.Logger == nil {
		c.Logger = &core.NoOpLogger{}
	}
	return c
}

// New builds a Registry over store.
func New(store Store, cfg Config) *Registry {
	cfg = cfg.withDefaults()
	return &Registry{
		store:     store,
		namespace: cfg.Namespace,
		logger:    cfg.Logger,
		probeN:    cfg.UnhealthyAfterFailures,
		probeM:    cfg.UnreachableAfterFailures,
		probers:   make(map[string]context.CancelFunc),
	}
}

// Register adds or replaces an agent's registration and (re)indexes its
// capabilities, then starts its liveness prober.
func (r *Registry) Register(ctx context.Context, manifest core.AgentManifest, healthEndpoint string) error {
	reg := core.AgentRegistration{
		Manifest:        manifest,
		HealthEndpoint:  healthEndpoint,
		RegisteredAt:    time.Now(),
		LastHeartbeatAt: time.Now(),
		Status:          core.StatusRegistered,
	}

	if err := r.store.Put(ctx, reg); err != nil {
		return core.NewError("registry.Register", core.KindInternal, err)
	}

	for _, cap := range manifest.Capabilities {
		if err := r.store.IndexCapability(ctx, cap.Verb, manifest.AgentID); err != nil {
			r.logger.Warn("failed to index capability", map[string]interface{}{"verb": cap.Verb, "agent_id": manifest.AgentID, "error": err.Error()})
		}
	}

	r.startProber(manifest.AgentID, healthEndpoint, manifest.HealthCheck)
	return nil
}

// Unregister removes an agent and its capability index entries, and
// stops its prober. Registering the same agent again afterward leaves
// the registry in the same state as if it had never been unregistered.
func (r *Registry) Unregister(ctx context.Context, agentID string) error {
	reg, ok, err := r.store.Get(ctx, agentID)
	if err != nil {
		return core.NewError("registry.Unregister", core.KindInternal, err)
	}
	if ok {
		for _, cap := range reg.Manifest.Capabilities {
			_ = r.store.DeindexCapability(ctx, cap.Verb, agentID)
		}
	}

	r.stopProber(agentID)
	if err := r.store.Delete(ctx, agentID); err != nil {
		return core.NewError("registry.Unregister", core.KindInternal, err)
	}
	return nil
}

// ListAgents returns every currently registered agent.
func (r *Registry) ListAgents(ctx context.Context) ([]core.AgentRegistration, error) {
	return r.store.List(ctx)
}

// GetAgent returns one registration by id.
func (r *Registry) GetAgent(ctx context.Context, agentID string) (core.AgentRegistration, error) {
	reg, ok, err := r.store.Get(ctx, agentID)
	if err != nil {
		return core.AgentRegistration{}, core.NewError("registry.GetAgent", core.KindInternal, err)
	}
	if !ok {
		return core.AgentRegistration{}, core.NewError("registry.GetAgent", core.KindNotFound, core.ErrAgentNotFound)
	}
	return reg, nil
}

// FindAgentsForCapability returns every currently registered agent
// advertising verb.
func (r *Registry) FindAgentsForCapability(ctx context.Context, verb string) ([]core.AgentRegistration, error) {
	ids, err := r.store.AgentsForCapability(ctx, verb)
	if err != nil {
		return nil, core.NewError("registry.FindAgentsForCapability", core.KindInternal, err)
	}

	var out []core.AgentRegistration
	for _, id := range ids {
		reg, ok, err := r.store.Get(ctx, id)
		if err != nil || !ok {
			continue
		}
		out = append(out, reg)
	}
	return out, nil
}

// SystemHealth is the simple-counts summary from get_system_health().
type SystemHealth struct {
	Total       int            `json:"total"`
	ByStatus    map[string]int `json:"by_status"`
}

// GetSystemHealth returns simple counts of agents by status.
func (r *Registry) GetSystemHealth(ctx context.Context) (SystemHealth, error) {
	agents, err := r.store.List(ctx)
	if err != nil {
		return SystemHealth{}, core.NewError("registry.GetSystemHealth", core.KindInternal, err)
	}

	health := SystemHealth{Total: len(agents), ByStatus: make(map[string]int)}
	for _, a := range agents {
		health.ByStatus[string(a.Status)]++
	}
	return health, nil
}

// httpGetJSON is overridable in tests.
var httpGetJSON = func(ctx context.Context, url string, timeout time.Duration) (map[string]interface{}, error) {
	return fetchJSON(ctx, url, timeout)
}

// Dashboard is the aggregated view returned by get_enhanced_dashboard().
type Dashboard struct {
	Agents          map[string]interface{} `json:"agents"`
	SLAViolations   []string                `json:"sla_violations"`
	DegradingAgents []string                `json:"degrading_agents"`
	Recommendations []string                `json:"recommendations"`
}

// GetEnhancedDashboard fans out to each agent's /metrics endpoint and
// aggregates SLA violations and degrading agents. An unreachable agent
// contributes {error} for its entry and does not abort the aggregate.
func (r *Registry) GetEnhancedDashboard(ctx context.Context) (Dashboard, error) {
	agents, err := r.store.List(ctx)
	if err != nil {
		return Dashboard{}, core.NewError("registry.GetEnhancedDashboard", core.KindInternal, err)
	}

	dash := Dashboard{Agents: make(map[string]interface{})}
	for _, a := range agents {
		if a.HealthEndpoint == "" {
			dash.Agents[a.Manifest.AgentID] = map[string]interface{}{"error": "no health endpoint configured"}
			continue
		}
		metricsURL := baseURLFromHealthEndpoint(a.HealthEndpoint) + "/metrics"

		metrics, err := httpGetJSON(ctx, metricsURL, 3*time.Second)
		if err != nil {
			dash.Agents[a.Manifest.AgentID] = map[string]interface{}{"error": err.Error()}
			continue
		}
		dash.Agents[a.Manifest.AgentID] = metrics

		if compliance, ok := metrics["performance_summary"].(map[string]interface{}); ok {
			if trendAnalysis, ok := compliance["trend_analysis"].(string); ok && trendAnalysis == "degrading" {
				dash.DegradingAgents = append(dash.DegradingAgents, a.Manifest.AgentID)
			}
		}
		if alerts, ok := metrics["alerts"].(map[string]interface{}); ok {
			if counts, ok := alerts["counts"].(map[string]interface{}); ok {
				if v, ok := counts["sla_violation"].(float64); ok && v > 0 {
					dash.SLAViolations = append(dash.SLAViolations, a.Manifest.AgentID)
				}
			}
		}
	}

	dash.Recommendations = recommendationsFor(dash)
	return dash, nil
}

func recommendationsFor(dash Dashboard) []string {
	var recs []string
	if len(dash.SLAViolations) > 0 {
		recs = append(recs, fmt.Sprintf("%d agent(s) currently in SLA violation", len(dash.SLAViolations)))
	}
	if len(dash.DegradingAgents) > 0 {
		recs = append(recs, fmt.Sprintf("%d agent(s) showing a degrading performance trend", len(dash.DegradingAgents)))
	}
	if len(recs) == 0 {
		recs = append(recs, "system operating within normal parameters")
	}
	return recs
}

var httpClient = &http.Client{}

func fetchJSON(ctx context.Context, url string, timeout time.Duration) (map[string]interface{}, error) {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, err
	}

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d from %s", resp.StatusCode, url)
	}

	var out map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}

// redisStore is the live Store implementation, generalized from the
// teacher's RedisDiscovery to AgentManifest-shaped registrations.
type redisStore struct {
	client    *redis.Client
	namespace string
	ttl       time.Duration
}

// NewRedisStore connects to redisURL and returns a live Store.
func NewRedisStore(redisURL, namespace string) (Store, error) {
	opt, err := redis.ParseURL(redisURL)
	if err != nil {
		return nil, core.NewError("registry.NewRedisStore", core.KindBadRequest, err)
	}
	client := redis.NewClient(opt)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := client.Ping(ctx).Err(); err != nil {
		return nil, core.NewError("registry.NewRedisStore", core.KindUpstreamUnavailable, err)
	}

	if namespace == "" {
		namespace = "fabric"
	}
	return &redisStore{client: client, namespace: namespace, ttl: defaultTTL}, nil
}

func (s *redisStore) agentKey(id string) string { return fmt.Sprintf("%s:agents:%s", s.namespace, id) }
func (s *redisStore) capKey(verb string) string  { return fmt.Sprintf("%s:capabilities:%s", s.namespace, verb) }

func (s *redisStore) Put(ctx context.Context, reg core.AgentRegistration) error {
	data, err := json.Marshal(reg)
	if err != nil {
		return err
	}
	return s.client.Set(ctx, s.agentKey(reg.Manifest.AgentID), data, s.ttl).Err()
}

func (s *redisStore) Delete(ctx context.Context, agentID string) error {
	return s.client.Del(ctx, s.agentKey(agentID)).Err()
}

func (s *redisStore) Get(ctx context.Context, agentID string) (core.AgentRegistration, bool, error) {
	data, err := s.client.Get(ctx, s.agentKey(agentID)).Result()
	if err == redis.Nil {
		return core.AgentRegistration{}, false, nil
	}
	if err != nil {
		return core.AgentRegistration{}, false, err
	}
	var reg core.AgentRegistration
	if err := json.Unmarshal([]byte(data), &reg); err != nil {
		return core.AgentRegistration{}, false, err
	}
	return reg, true, nil
}

func (s *redisStore) List(ctx context.Context) ([]core.AgentRegistration, error) {
	var out []core.AgentRegistration
	iter := s.client.Scan(ctx, 0, s.namespace+":agents:*", 0).Iterator()
	for iter.Next(ctx) {
		data, err := s.client.Get(ctx, iter.Val()).Result()
		if err != nil {
			continue
		}
		var reg core.AgentRegistration
		if json.Unmarshal([]byte(data), &reg) == nil {
			out = append(out, reg)
		}
	}
	return out, iter.Err()
}

func (s *redisStore) IndexCapability(ctx context.Context, verb, agentID string) error {
	if err := s.client.SAdd(ctx, s.capKey(verb), agentID).Err(); err != nil {
		return err
	}
	return s.client.Expire(ctx, s.capKey(verb), s.ttl*2).Err()
}

func (s *redisStore) DeindexCapability(ctx context.Context, verb, agentID string) error {
	return s.client.SRem(ctx, s.capKey(verb), agentID).Err()
}

func (s *redisStore) AgentsForCapability(ctx context.Context, verb string) ([]string, error) {
	return s.client.SMembers(ctx, s.capKey(verb)).Result()
}
