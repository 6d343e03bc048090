package coordinator

import (
	"context"

	"github.com/localforge/fabric/core"
)

// Coordinator composes the four fixed pipeline nodes and the policy
// engine gating execution.
type Coordinator struct {
	router   *Router
	planner  *Planner
	executor *Executor
	reviewer *Reviewer
	policy   *PolicyEngine
	logger   core.Logger
}

// Config wires a Coordinator together.
type Config struct {
	Rules    []IntentRule
	Resolver core.AgentResolver
	Review   ReviewFunc
	Policy   *PolicyEngine
	Logger   core.Logger
}

// New builds a Coordinator.
func New(cfg Config) *Coordinator {
	if cfg.Policy == nil {
		cfg.Policy = NewPolicyEngine()
	}
	if cfg.Logger == nil {
		cfg.Logger = &core.NoOpLogger{}
	}
	return &Coordinator{
		router:   NewRouter(cfg.Rules),
		planner:  NewPlanner(cfg.Rules),
		executor: NewExecutor(cfg.Resolver, cfg.Logger),
		reviewer: NewReviewer(cfg.Review),
		policy:   cfg.Policy,
		logger:   cfg.Logger,
	}
}

// Policy exposes the coordinator's policy engine for rule administration.
func (c *Coordinator) Policy() *PolicyEngine { return c.policy }

// Run drives the fixed router -> planner -> executor -> reviewer
// pipeline for one query. Before the executor's first step, the
// policy engine evaluates the routed intent; a deny decision halts the
// pipeline immediately, and require_approval is surfaced back to the
// caller via state.Errors without running the executor.
func (c *Coordinator) Run(ctx context.Context, query string, requestContext map[string]interface{}) *State {
	state := NewState(query, requestContext)

	c.router.Route(ctx, state)
	c.planner.Plan(ctx, state)

	decision := c.policy.Evaluate(map[string]interface{}{"op": state.Intent})
	switch decision.Action {
	case ActionDeny:
		state.Errors = append(state.Errors, "denied by policy rule: "+decision.Rule)
		state.recordStep("reviewer")
		state.Summary = "request denied by policy"
		return state
	case ActionRequireApproval:
		state.Errors = append(state.Errors, "requires approval: "+decision.Rule)
		state.recordStep("reviewer")
		state.Summary = "request requires approval"
		return state
	}

	c.executor.Execute(ctx, state)
	c.reviewer.Review(ctx, state)
	return state
}
