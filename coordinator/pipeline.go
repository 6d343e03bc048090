package coordinator

import (
	"context"
	"strconv"
	"strings"
	"time"

	"github.com/localforge/fabric/core"
)

// IntentRule maps a domain-coarse intent label to the ordered plan of
// capability calls it expands into, and the keywords that trigger it
// when no richer classifier is available. This mirrors the spec's
// worked example: "check my email" -> intent "mail_operation" -> plan
// ["mail.search", "process_results"].
type IntentRule struct {
	Intent   string
	Keywords []string
	Plan     []PlannedStep
}

// Router classifies a query into a domain-coarse intent label.
type Router struct {
	rules []IntentRule
}

// NewRouter builds a Router over a fixed intent table.
func NewRouter(rules []IntentRule) *Router {
	return &Router{rules: rules}
}

// Route assigns state.Intent from the query stashed in state.Context.
func (r *Router) Route(ctx context.Context, state *State) {
	state.recordStep("router")

	query, _ := state.Context["query"].(string)
	lower := strings.ToLower(query)

	for _, rule := range r.rules {
		for _, kw := range rule.Keywords {
			if strings.Contains(lower, kw) {
				state.Intent = rule.Intent
				return
			}
		}
	}
	state.Intent = "unknown"
}

// Planner expands an intent into an ordered list of capability calls.
type Planner struct {
	rules map[string][]PlannedStep
}

// NewPlanner builds a Planner from the same intent table the Router
// uses, so router and planner never disagree about what an intent means.
func NewPlanner(rules []IntentRule) *Planner {
	m := make(map[string][]PlannedStep, len(rules))
	for _, rule := range rules {
		m[rule.Intent] = rule.Plan
	}
	return &Planner{rules: m}
}

// Plan fills state.Plan from state.Intent.
func (p *Planner) Plan(ctx context.Context, state *State) {
	state.recordStep("planner")
	state.Plan = p.rules[state.Intent]
}

// Executor invokes each planned step via a core.AgentResolver, in
// declared order. Parallelization is not permitted: a step failure
// marked Required aborts the remaining plan; an optional step's
// failure is recorded and execution continues.
type Executor struct {
	resolver core.AgentResolver
	logger   core.Logger
}

// NewExecutor builds an Executor over resolver.
func NewExecutor(resolver core.AgentResolver, logger core.Logger) *Executor {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	return &Executor{resolver: resolver, logger: logger}
}

// Execute runs state.Plan in order, appending to state.Results and
// state.Errors.
func (e *Executor) Execute(ctx context.Context, state *State) {
	state.recordStep("executor")

	for _, step := range state.Plan {
		start := time.Now()
		output, err := e.invoke(ctx, step)
		duration := time.Since(start).Milliseconds()

		result := StepResult{Step: step, Output: output, Duration: duration}
		if err != nil {
			result.Error = err.Error()
			state.Errors = append(state.Errors, err.Error())
			e.logger.Warn("step failed", map[string]interface{}{"verb": step.Verb, "agent_id": step.AgentID, "error": err.Error()})
		}
		state.Results = append(state.Results, result)

		if err != nil && step.Required {
			return
		}
	}
}

func (e *Executor) invoke(ctx context.Context, step PlannedStep) (map[string]interface{}, error) {
	handle, err := e.resolver.Resolve(ctx, step.AgentID)
	if err != nil {
		return nil, err
	}
	return handle.Call(ctx, step.Verb, step.Parameters, 0)
}

// Reviewer optionally post-processes and summarizes the executor's
// results. The default implementation is deliberately simple: it
// reports how many steps succeeded versus failed. Agents needing a
// richer synthesis (e.g. an LLM-written summary) can supply a
// ReviewFunc.
type ReviewFunc func(ctx context.Context, state *State) string

// Reviewer is the pipeline's final node.
type Reviewer struct {
	review ReviewFunc
}

// NewReviewer builds a Reviewer. With review == nil, DefaultReview is used.
func NewReviewer(review ReviewFunc) *Reviewer {
	if review == nil {
		review = DefaultReview
	}
	return &Reviewer{review: review}
}

// Review fills state.Summary.
func (r *Reviewer) Review(ctx context.Context, state *State) {
	state.recordStep("reviewer")
	state.Summary = r.review(ctx, state)
}

// DefaultReview summarizes success/failure counts across state.Results.
func DefaultReview(ctx context.Context, state *State) string {
	succeeded := 0
	for _, res := range state.Results {
		if res.Error == "" {
			succeeded++
		}
	}
	return "completed " + strconv.Itoa(succeeded) + "/" + strconv.Itoa(len(state.Results)) + " planned steps"
}
