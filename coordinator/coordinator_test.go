package coordinator

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localforge/fabric/core"
)

type stubHandle struct {
	manifest core.AgentManifest
	output   map[string]interface{}
	err      error
}

func (h *stubHandle) Manifest() core.AgentManifest { return h.manifest }
func (h *stubHandle) Call(ctx context.Context, verb string, params map[string]interface{}, timeout int) (map[string]interface{}, error) {
	return h.output, h.err
}

type stubResolver struct {
	handles map[string]*stubHandle
}

func (r *stubResolver) Resolve(ctx context.Context, agentID string) (core.AgentHandle, error) {
	h, ok := r.handles[agentID]
	if !ok {
		return nil, core.NewError("stubResolver.Resolve", core.KindNotFound, core.ErrAgentNotFound)
	}
	return h, nil
}
func (r *stubResolver) ResolveForCapability(ctx context.Context, verb string) ([]core.AgentHandle, error) {
	return nil, nil
}

var mailRules = []IntentRule{
	{
		Intent:   "mail_operation",
		Keywords: []string{"email", "mail"},
		Plan: []PlannedStep{
			{AgentID: "mail", Verb: "mail.search", Required: true},
			{AgentID: "mail", Verb: "mail.process_results", Required: false},
		},
	},
}

func TestRunSuccessfulPipelineProducesExactExecutionPath(t *testing.T) {
	resolver := &stubResolver{handles: map[string]*stubHandle{
		"mail": {output: map[string]interface{}{"ok": true}},
	}}
	coord := New(Config{Rules: mailRules, Resolver: resolver})

	state := coord.Run(context.Background(), "check my email", nil)

	assert.Equal(t, "mail_operation", state.Intent)
	assert.Equal(t, []string{"router", "planner", "executor", "reviewer"}, state.ExecutionPath)
	assert.Empty(t, state.Errors)
	require.Len(t, state.Results, 2)
}

func TestRunRequiredStepFailureHaltsRemainingPlan(t *testing.T) {
	resolver := &stubResolver{handles: map[string]*stubHandle{}}
	coord := New(Config{Rules: mailRules, Resolver: resolver})

	state := coord.Run(context.Background(), "check my email", nil)

	require.Len(t, state.Results, 1)
	assert.NotEmpty(t, state.Results[0].Error)
	assert.NotEmpty(t, state.Errors)
}

func TestRunUnknownIntentProducesEmptyPlan(t *testing.T) {
	resolver := &stubResolver{handles: map[string]*stubHandle{}}
	coord := New(Config{Rules: mailRules, Resolver: resolver})

	state := coord.Run(context.Background(), "what time is it", nil)

	assert.Equal(t, "unknown", state.Intent)
	assert.Empty(t, state.Plan)
	assert.Empty(t, state.Results)
}

func TestPolicyDenyHaltsBeforeExecutor(t *testing.T) {
	resolver := &stubResolver{handles: map[string]*stubHandle{
		"mail": {output: map[string]interface{}{"ok": true}},
	}}
	policy := NewPolicyEngine()
	policy.Add("block-mail", ActionDeny, Conditions{Op: "mail_operation"}, 10)

	coord := New(Config{Rules: mailRules, Resolver: resolver, Policy: policy})
	state := coord.Run(context.Background(), "check my email", nil)

	assert.Empty(t, state.Results)
	require.NotEmpty(t, state.Errors)
}

func TestPolicyEvaluatePrefersHigherPriority(t *testing.T) {
	p := NewPolicyEngine()
	p.Add("low", ActionAllow, Conditions{Op: "x"}, 1)
	p.Add("high", ActionDeny, Conditions{Op: "x"}, 10)

	decision := p.Evaluate(map[string]interface{}{"op": "x"})
	assert.Equal(t, ActionDeny, decision.Action)
	assert.Equal(t, "high", decision.Rule)
}

func TestPolicyEvaluateTiesBreakByEarliestAdded(t *testing.T) {
	p := NewPolicyEngine()
	p.Add("first", ActionAllow, Conditions{Op: "x"}, 5)
	p.Add("second", ActionDeny, Conditions{Op: "x"}, 5)

	decision := p.Evaluate(map[string]interface{}{"op": "x"})
	assert.Equal(t, "first", decision.Rule)
}

func TestPolicyDisableRemovesRuleFromConsideration(t *testing.T) {
	p := NewPolicyEngine()
	p.Add("block", ActionDeny, Conditions{Op: "x"}, 10)
	p.Disable("block")

	decision := p.Evaluate(map[string]interface{}{"op": "x"})
	assert.Equal(t, ActionAllow, decision.Action)
}

func TestPolicyRemoveDeletesRule(t *testing.T) {
	p := NewPolicyEngine()
	p.Add("block", ActionDeny, Conditions{Op: "x"}, 10)
	p.Remove("block")

	decision := p.Evaluate(map[string]interface{}{"op": "x"})
	assert.Equal(t, ActionAllow, decision.Action)
}
