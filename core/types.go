package core

import (
	"regexp"
	"time"
)

var capabilityVerbPattern = regexp.MustCompile(`^[a-z]+\.[a-z_]+$`)

// ValidVerb reports whether verb matches the required domain.action form.
func ValidVerb(verb string) bool {
	return capabilityVerbPattern.MatchString(verb)
}

// Schema is a JSON-schema-like descriptor used for documentation and
// input validation. It intentionally stays loose (map-shaped) rather than
// modeling full JSON Schema, matching how the framework's capability
// descriptors are declared inline by each agent.
type Schema map[string]interface{}

// CapabilityDescriptor is the wire-level description of a capability,
// as returned by GET /capabilities and embedded in an AgentManifest.
type CapabilityDescriptor struct {
	Verb              string   `json:"verb"`
	InputSchema       Schema   `json:"input_schema,omitempty"`
	OutputSchema      Schema   `json:"output_schema,omitempty"`
	Description       string   `json:"description"`
	SafetyAnnotations []string `json:"safety_annotations,omitempty"`
}

// HealthCheckConfig describes how a registry should probe an agent.
type HealthCheckConfig struct {
	Endpoint   string `json:"endpoint"`
	IntervalS  int    `json:"interval_s"`
	TimeoutS   int    `json:"timeout_s"`
}

// AgentManifest is an agent's self-description advertised to the registry.
type AgentManifest struct {
	AgentID       string                 `json:"agent_id"`
	Version       string                 `json:"version"`
	DisplayName   string                 `json:"display_name"`
	Description   string                 `json:"description"`
	Capabilities  []CapabilityDescriptor `json:"capabilities"`
	DataScopes    []string               `json:"data_scopes,omitempty"`
	ToolAccess    []string               `json:"tool_access,omitempty"`
	EgressDomains []string               `json:"egress_domains,omitempty"`
	HealthCheck   HealthCheckConfig      `json:"health_check"`
}

// RegistrationStatus tracks an agent's observed liveness.
type RegistrationStatus string

const (
	StatusRegistered RegistrationStatus = "registered"
	StatusHealthy    RegistrationStatus = "healthy"
	StatusDegraded   RegistrationStatus = "degraded"
	StatusUnhealthy  RegistrationStatus = "unhealthy"
	StatusUnreachable RegistrationStatus = "unreachable"
)

// AgentRegistration is the registry's stored record for one agent.
type AgentRegistration struct {
	Manifest        AgentManifest      `json:"manifest"`
	HealthEndpoint  string             `json:"health_endpoint_url"`
	RegisteredAt    time.Time          `json:"registered_at"`
	LastHeartbeatAt time.Time          `json:"last_heartbeat_at"`
	Status          RegistrationStatus `json:"status"`

	// consecutive failed liveness probes; not wire-visible. Unused: the
	// registry's prober keeps its own failure count inside probeLoop.
	consecutiveFailures int
}

// ConfidenceResult is returned from an agent's natural-language query path.
type ConfidenceResult struct {
	Result      interface{} `json:"result"`
	Confidence  float64     `json:"confidence"`
	FallbackUsed bool       `json:"fallback_used"`
	DurationMS  int64       `json:"duration_ms"`
	Error       string      `json:"error,omitempty"`
}

// Interpretation is the structured verdict produced by the LLM interpreter.
type Interpretation struct {
	Capability string                 `json:"capability"`
	Parameters map[string]interface{} `json:"parameters"`
	Confidence float64                `json:"confidence"`
	Reasoning  string                 `json:"reasoning,omitempty"`
}

// UnparseableCapability is the sentinel capability name used when the
// interpreter's raw output cannot be parsed as JSON.
const UnparseableCapability = "__unparseable__"

// RelationshipEdge links one entity to another with a confidence score.
type RelationshipEdge struct {
	EntityType        string                 `json:"entity_type"`
	EntityID          string                 `json:"entity_id"`
	RelatedEntityType string                 `json:"related_entity_type"`
	RelatedEntityID   string                 `json:"related_entity_id"`
	Attributes        map[string]interface{} `json:"attributes"`
	Confidence        float64                `json:"confidence"`
	StoredAt          time.Time              `json:"stored_at"`
}

// PerformanceSample is one recorded operation outcome.
type PerformanceSample struct {
	Timestamp  time.Time
	DurationMS float64
	Success    bool
	Capability string
}

// Trend classifies the direction of recent latency movement.
type Trend string

const (
	TrendImproving        Trend = "improving"
	TrendStable           Trend = "stable"
	TrendDegrading        Trend = "degrading"
	TrendInsufficientData Trend = "insufficient_data"
)

// AggregatedMetrics is derived from the performance ring buffer on demand;
// never persisted.
type AggregatedMetrics struct {
	SuccessRatePercent  float64 `json:"success_rate_percent"`
	P50MS               float64 `json:"p50_ms"`
	P95MS               float64 `json:"p95_ms"`
	P99MS               float64 `json:"p99_ms"`
	ThroughputOpsPerMin float64 `json:"throughput_ops_per_min"`
	Trend               Trend   `json:"trend"`
	SampleCount         int     `json:"sample_count"`
}

// SyncedRecord is a generic upstream record cached by the background sync
// worker and local store.
type SyncedRecord struct {
	SourceID         string    `json:"source_id"`
	SourceCollection string    `json:"source_collection"`
	Payload          []byte    `json:"payload"`
	ReceivedAt       time.Time `json:"received_at"`
	SyncedAt         time.Time `json:"synced_at"`
}

// SyncStatus tracks the watermark and outcome of the last sync cycle for
// one collection.
type SyncStatus struct {
	Collection    string    `json:"collection"`
	LastSyncAt    time.Time `json:"last_sync_at"`
	LastSuccess   bool      `json:"last_success"`
	RecordCount   int       `json:"record_count"`
}
