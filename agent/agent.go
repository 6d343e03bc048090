// Package agent implements the Agent Service Base: the composition of
// the semantic cache, LLM interpreter, and performance monitor that
// every concrete agent specializes, plus the uniform HTTP capability
// surface it exposes.
package agent

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	"github.com/localforge/fabric/cache"
	"github.com/localforge/fabric/core"
	"github.com/localforge/fabric/llm"
	"github.com/localforge/fabric/monitor"
	"github.com/localforge/fabric/resilience"
)

// CapabilityHandler executes one capability's business logic.
type CapabilityHandler func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

// ToolHandler executes a tool invocation, distinct from a capability in
// that tools are not advertised to the LLM interpreter or the registry.
type ToolHandler func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error)

type registeredCapability struct {
	descriptor core.CapabilityDescriptor
	handler    CapabilityHandler
}

type registeredTool struct {
	schema  core.Schema
	handler ToolHandler
}

// DependencyConfig declares another agent this agent may call.
type DependencyConfig struct {
	AgentID      string
	Capabilities []string
	Required     bool
	TimeoutMS    int
}

// Base is the type every concrete agent specializes. It composes the
// cache, LLM interpreter, and performance monitor and is safe for
// concurrent use by HTTP handlers.
type Base struct {
	AgentID       string
	DisplayName   string
	Description   string
	MinConfidence float64
	Fallback      string // fallback capability verb, empty if none

	Cache   *cache.SemanticCache
	LLM     *llm.Client
	Monitor *monitor.Monitor
	Logger  core.Logger

	resolver core.AgentResolver
	breakers map[string]*resilience.CircuitBreaker
	metrics  resilience.MetricsCollector

	mu           sync.RWMutex
	capabilities map[string]registeredCapability
	tools        map[string]registeredTool
	dependencies map[string]DependencyConfig

	contextFn func() string
}

// Config bundles everything needed to construct a Base.
type Config struct {
	AgentID       string
	DisplayName   string
	Description   string
	MinConfidence float64
	Fallback      string

	Cache    *cache.SemanticCache
	LLM      *llm.Client
	Monitor  *monitor.Monitor
	Logger   core.Logger
	Resolver core.AgentResolver

	// Metrics receives circuit breaker events for every dependency this
	// agent calls. Left nil, breakers report to a no-op collector.
	Metrics resilience.MetricsCollector

	ContextFn func() string
}

// New constructs a Base from cfg.
func New(cfg Config) *Base {
	if cfg.MinConfidence == 0 {
		cfg.MinConfidence = 0.7
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	if cfg.ContextFn == nil {
		cfg.ContextFn = func() string { return cfg.Description }
	}

	return &Base{
		AgentID:       cfg.AgentID,
		DisplayName:   cfg.DisplayName,
		Description:   cfg.Description,
		MinConfidence: cfg.MinConfidence,
		Fallback:      cfg.Fallback,
		Cache:         cfg.Cache,
		LLM:           cfg.LLM,
		Monitor:       cfg.Monitor,
		Logger:        cfg.Logger,
		resolver:      cfg.Resolver,
		breakers:      make(map[string]*resilience.CircuitBreaker),
		metrics:       cfg.Metrics,
		capabilities:  make(map[string]registeredCapability),
		tools:         make(map[string]registeredTool),
		dependencies:  make(map[string]DependencyConfig),
		contextFn:     cfg.ContextFn,
	}
}

// RegisterCapability adds a verb to the agent's handler table. It fails
// if verb is malformed or already registered.
func (b *Base) RegisterCapability(verb string, input, output core.Schema, description string, handler CapabilityHandler, safety ...string) error {
	if !core.ValidVerb(verb) {
		return core.NewError("agent.RegisterCapability", core.KindBadRequest, core.ErrCapabilityMalformed)
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	if _, exists := b.capabilities[verb]; exists {
		return core.NewError("agent.RegisterCapability", core.KindConflict, core.ErrCapabilityDuplicate)
	}

	b.capabilities[verb] = registeredCapability{
		descriptor: core.CapabilityDescriptor{
			Verb:              verb,
			InputSchema:       input,
			OutputSchema:      output,
			Description:       description,
			SafetyAnnotations: safety,
		},
		handler: handler,
	}
	return nil
}

// RegisterTool adds a named tool handler, distinct from the verb
// capability table and not advertised to the interpreter or registry.
func (b *Base) RegisterTool(name string, schema core.Schema, handler ToolHandler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.tools[name] = registeredTool{schema: schema, handler: handler}
}

// RegisterAgentDependency declares another agent this agent may call via
// CallDependency, with a dedicated circuit breaker per dependency.
func (b *Base) RegisterAgentDependency(agentID string, capabilities []string, required bool, timeoutMS int) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.dependencies[agentID] = DependencyConfig{
		AgentID:      agentID,
		Capabilities: capabilities,
		Required:     required,
		TimeoutMS:    timeoutMS,
	}
	breakerCfg := resilience.DefaultBreakerConfig(agentID)
	if b.metrics != nil {
		breakerCfg.Metrics = b.metrics
	}
	breaker, _ := resilience.NewCircuitBreaker(breakerCfg)
	b.breakers[agentID] = breaker
}

// Capabilities returns a snapshot of advertised capability descriptors.
func (b *Base) Capabilities() []core.CapabilityDescriptor {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]core.CapabilityDescriptor, 0, len(b.capabilities))
	for _, c := range b.capabilities {
		out = append(out, c.descriptor)
	}
	return out
}

// GetAgentContext returns the one-paragraph description supplied to the
// LLM interpreter; subclasses override via Config.ContextFn.
func (b *Base) GetAgentContext() string {
	return b.contextFn()
}

// HandleQuery implements the seven-step primary operation: cache lookup,
// LLM interpretation on miss, confidence/fallback gating, cache write,
// handler invocation, and performance recording.
func (b *Base) HandleQuery(ctx context.Context, query string) core.ConfidenceResult {
	start := time.Now()

	if query == "" {
		return core.ConfidenceResult{Error: "bad_request", Confidence: 0}
	}

	interpretation, fromCache := b.interpretationFor(ctx, query)
	fallbackUsed := false

	if !fromCache {
		if interpretation.Confidence < b.MinConfidence {
			if b.Fallback != "" {
				interpretation.Capability = b.Fallback
				fallbackUsed = true
			} else {
				b.Monitor.RecordOperation(float64(time.Since(start).Milliseconds()), false, interpretation.Capability)
				return core.ConfidenceResult{
					Result:       nil,
					Confidence:   interpretation.Confidence,
					FallbackUsed: false,
					DurationMS:   time.Since(start).Milliseconds(),
					Error:        string(core.KindLowConfidence),
				}
			}
		}

		if blob, err := encodeInterpretation(interpretation); err == nil {
			b.Cache.Set(query, b.AgentID, blob, interpretation.Confidence)
		}
	}

	b.mu.RLock()
	cap, found := b.capabilities[interpretation.Capability]
	b.mu.RUnlock()

	if !found {
		b.Monitor.RecordOperation(float64(time.Since(start).Milliseconds()), false, interpretation.Capability)
		return core.ConfidenceResult{
			Confidence: interpretation.Confidence,
			DurationMS: time.Since(start).Milliseconds(),
			Error:      string(core.KindNotFound),
		}
	}

	result, err := cap.handler(ctx, interpretation.Parameters)
	success := err == nil
	b.Monitor.RecordOperation(float64(time.Since(start).Milliseconds()), success, interpretation.Capability)

	if err != nil {
		return core.ConfidenceResult{
			Confidence:   interpretation.Confidence,
			FallbackUsed: fallbackUsed,
			DurationMS:   time.Since(start).Milliseconds(),
			Error:        string(core.KindOf(err)),
		}
	}

	return core.ConfidenceResult{
		Result:       result,
		Confidence:   interpretation.Confidence,
		FallbackUsed: fallbackUsed,
		DurationMS:   time.Since(start).Milliseconds(),
	}
}

// interpretationFor consults the cache first; on a confident hit it is
// used as-is, otherwise the LLM interpreter is invoked. The bool return
// reports whether the result came from cache (and therefore should not
// be re-written).
func (b *Base) interpretationFor(ctx context.Context, query string) (core.Interpretation, bool) {
	if entry, ok := b.Cache.Get(query, b.AgentID); ok && entry.Confidence >= b.MinConfidence {
		if interp, err := decodeInterpretation(entry.Blob); err == nil {
			interp.Confidence = entry.Confidence
			return interp, true
		}
	}

	interp := b.LLM.Interpret(ctx, query, b.GetAgentContext(), b.Capabilities())
	return interp, false
}

// ExecuteCapability bypasses the cache/LLM path entirely: it invokes verb
// directly with the given parameters and records timing. params is
// validated against the verb's registered input schema before the handler
// runs, since this path has no LLM interpreter upstream to have already
// shaped the arguments.
func (b *Base) ExecuteCapability(ctx context.Context, verb string, params map[string]interface{}) (map[string]interface{}, error) {
	start := time.Now()

	b.mu.RLock()
	cap, found := b.capabilities[verb]
	b.mu.RUnlock()

	if !found {
		b.Monitor.RecordOperation(float64(time.Since(start).Milliseconds()), false, verb)
		return nil, core.NewError("agent.ExecuteCapability", core.KindNotFound, core.ErrCapabilityNotFound)
	}

	if err := core.ValidateSchema(cap.descriptor.InputSchema, params); err != nil {
		b.Monitor.RecordOperation(float64(time.Since(start).Milliseconds()), false, verb)
		return nil, core.NewError("agent.ExecuteCapability", core.KindBadRequest, fmt.Errorf("%w: %v", core.ErrSchemaViolation, err))
	}

	result, err := cap.handler(ctx, params)
	b.Monitor.RecordOperation(float64(time.Since(start).Milliseconds()), err == nil, verb)
	if err != nil {
		return nil, core.NewError("agent.ExecuteCapability", core.KindOf(err), err)
	}
	return result, nil
}

// CallDependency invokes verb on another agent resolved through the
// registry, through a dedicated circuit breaker, enforcing timeoutMS. If
// the dependency is not required, failures are swallowed and a nil
// result is returned instead of an error.
func (b *Base) CallDependency(ctx context.Context, agentID, verb string, params map[string]interface{}, timeoutMS int) (map[string]interface{}, error) {
	b.mu.RLock()
	dep, found := b.dependencies[agentID]
	breaker := b.breakers[agentID]
	b.mu.RUnlock()

	if !found {
		return nil, core.NewError("agent.CallDependency", core.KindNotFound, core.ErrAgentNotFound)
	}
	if timeoutMS <= 0 {
		timeoutMS = dep.TimeoutMS
	}

	var result map[string]interface{}
	callErr := breaker.Execute(ctx, func() error {
		if b.resolver == nil {
			return core.NewError("agent.CallDependency", core.KindUpstreamUnavailable, core.ErrDiscoveryUnavailable)
		}
		handle, err := b.resolver.Resolve(ctx, agentID)
		if err != nil {
			return err
		}
		r, err := handle.Call(ctx, verb, params, timeoutMS)
		if err != nil {
			return err
		}
		result = r
		return nil
	})

	if callErr != nil {
		if !dep.Required {
			b.Logger.Warn("optional dependency call failed", map[string]interface{}{
				"agent_id": agentID, "verb": verb, "error": callErr.Error(),
			})
			return nil, nil
		}
		return nil, core.NewError("agent.CallDependency", core.KindOf(callErr), callErr)
	}
	return result, nil
}

// CacheRelationship stores a relationship edge via the semantic cache's
// L3 tier.
func (b *Base) CacheRelationship(entityType, entityID, relatedType, relatedID string, attrs map[string]interface{}, confidence float64) error {
	return b.Cache.CacheRelationship(core.RelationshipEdge{
		EntityType:        entityType,
		EntityID:          entityID,
		RelatedEntityType: relatedType,
		RelatedEntityID:   relatedID,
		Attributes:        attrs,
		Confidence:        confidence,
		StoredAt:          time.Now(),
	})
}

// GetRelationships returns edges for (entityType, entityID), optionally
// filtered by relatedType.
func (b *Base) GetRelationships(entityType, entityID, relatedType string) ([]core.RelationshipEdge, error) {
	return b.Cache.GetRelationships(entityType, entityID, relatedType)
}

// GenerateManifest assembles the agent's self-description for the
// registry.
func (b *Base) GenerateManifest(version string, healthCheck core.HealthCheckConfig) core.AgentManifest {
	return core.AgentManifest{
		AgentID:      b.AgentID,
		Version:      version,
		DisplayName:  b.DisplayName,
		Description:  b.Description,
		Capabilities: b.Capabilities(),
		HealthCheck:  healthCheck,
		// EgressDomains deliberately left empty: the local-first invariant
		// forbids core agents from advertising third-party egress.
	}
}

func encodeInterpretation(i core.Interpretation) ([]byte, error) {
	return json.Marshal(i)
}

func decodeInterpretation(blob []byte) (core.Interpretation, error) {
	var i core.Interpretation
	err := json.Unmarshal(blob, &i)
	return i, err
}

// ValidateVerb exposes the verb-form check for callers outside this
// package (e.g. HTTP handlers validating a path parameter).
func ValidateVerb(verb string) error {
	if !core.ValidVerb(verb) {
		return fmt.Errorf("capability verb %q is malformed", verb)
	}
	return nil
}
