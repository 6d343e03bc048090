// Package gateway implements the thin front door (C8): intent
// classification deciding between a direct agent call and a full
// coordinator orchestration, capability/agent listing, per-agent
// passthrough, and a streaming query endpoint.
package gateway

import (
	"context"
	"strings"
	"time"

	"github.com/localforge/fabric/core"
	"github.com/localforge/fabric/coordinator"
	"github.com/localforge/fabric/llm"
)

// classifyBudget bounds how long intent classification may take before
// falling back to the keyword matcher.
const classifyBudget = 500 * time.Millisecond

// Route is the chosen dispatch path for one query.
type Route string

const (
	RouteDirect      Route = "direct"
	RouteCoordinator Route = "coordinator"
)

// Decision is classify_intent's output.
type Decision struct {
	Route      Route
	AgentID    string
	Capability string
	Parameters map[string]interface{}
	Intent     string
	Confidence float64
}

// DirectRule maps a keyword set straight to one agent capability,
// bypassing the coordinator entirely, for intents simple enough not to
// need a multi-step plan.
type DirectRule struct {
	Keywords   []string
	Intent     string
	AgentID    string
	Capability string
}

// Classifier decides direct-vs-coordinator routing for a query. It
// tries the LLM first within classifyBudget, falling back to a
// deterministic keyword matcher if the LLM does not answer in time or
// fails to parse.
type Classifier struct {
	llmClient   *llm.Client
	directRules []DirectRule
}

// NewClassifier builds a Classifier.
func NewClassifier(llmClient *llm.Client, directRules []DirectRule) *Classifier {
	return &Classifier{llmClient: llmClient, directRules: directRules}
}

// Classify produces a Decision for query, honoring classifyBudget.
func (c *Classifier) Classify(ctx context.Context, query string) Decision {
	if c.llmClient != nil {
		ctx, cancel := context.WithTimeout(ctx, classifyBudget)
		defer cancel()

		result := make(chan core.Interpretation, 1)
		go func() {
			result <- c.llmClient.Interpret(ctx, query, "gateway intent classification", nil)
		}()

		select {
		case interp := <-result:
			if interp.Capability != core.UnparseableCapability && interp.Confidence > 0 {
				return c.decisionFromInterpretation(interp)
			}
		case <-ctx.Done():
		}
	}

	return c.keywordFallback(query)
}

func (c *Classifier) decisionFromInterpretation(interp core.Interpretation) Decision {
	parts := strings.SplitN(interp.Capability, ".", 2)
	agentID := ""
	if len(parts) > 0 {
		agentID = parts[0]
	}
	return Decision{
		Route:      RouteDirect,
		AgentID:    agentID,
		Capability: interp.Capability,
		Parameters: interp.Parameters,
		Intent:     interp.Capability,
		Confidence: interp.Confidence,
	}
}

func (c *Classifier) keywordFallback(query string) Decision {
	lower := strings.ToLower(query)
	for _, rule := range c.directRules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				return Decision{
					Route:      RouteDirect,
					AgentID:    rule.AgentID,
					Capability: rule.Capability,
					Intent:     rule.Intent,
					Confidence: 0.5,
				}
			}
		}
	}
	return Decision{Route: RouteCoordinator, Intent: "unknown", Confidence: 0}
}

// Gateway composes a Classifier, a core.AgentResolver for direct
// dispatch, and a coordinator.Coordinator for orchestrated dispatch.
type Gateway struct {
	classifier  *Classifier
	resolver    core.AgentResolver
	coordinator *coordinator.Coordinator
	logger      core.Logger
}

// Config wires a Gateway.
type Config struct {
	Classifier  *Classifier
	Resolver    core.AgentResolver
	Coordinator *coordinator.Coordinator
	Logger      core.Logger
}

// New builds a Gateway.
func New(cfg Config) *Gateway {
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	return &Gateway{classifier: cfg.Classifier, resolver: cfg.Resolver, coordinator: cfg.Coordinator, logger: cfg.Logger}
}

// QueryResult is what POST /query returns.
type QueryResult struct {
	Route         Route                  `json:"route"`
	Result        map[string]interface{} `json:"result,omitempty"`
	Confidence    float64                `json:"confidence"`
	ExecutionPath []string               `json:"execution_path,omitempty"`
	Errors        []string               `json:"errors,omitempty"`
}

// HandleQuery implements the POST /query dispatch described in §4.8.
func (g *Gateway) HandleQuery(ctx context.Context, query string, requestContext map[string]interface{}) QueryResult {
	decision := g.classifier.Classify(ctx, query)

	if decision.Route == RouteDirect && decision.AgentID != "" {
		handle, err := g.resolver.Resolve(ctx, decision.AgentID)
		if err != nil {
			g.logger.Warn("direct route resolve failed, falling back to coordinator", map[string]interface{}{"agent_id": decision.AgentID, "error": err.Error()})
		} else {
			output, err := handle.Call(ctx, decision.Capability, decision.Parameters, 0)
			if err != nil {
				return QueryResult{Route: RouteDirect, Confidence: decision.Confidence, Errors: []string{err.Error()}}
			}
			return QueryResult{Route: RouteDirect, Result: output, Confidence: decision.Confidence}
		}
	}

	state := g.coordinator.Run(ctx, query, requestContext)
	result := map[string]interface{}{"summary": state.Summary, "intent": state.Intent}
	return QueryResult{
		Route:         RouteCoordinator,
		Result:        result,
		Confidence:    decision.Confidence,
		ExecutionPath: state.ExecutionPath,
		Errors:        state.Errors,
	}
}
