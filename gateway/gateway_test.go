package gateway

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localforge/fabric/core"
	"github.com/localforge/fabric/coordinator"
)

type stubHandle struct {
	output map[string]interface{}
	err    error
}

func (h *stubHandle) Manifest() core.AgentManifest { return core.AgentManifest{} }
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

func TestClassifyFallsBackToKeywordMatcherWithNoLLM(t *testing.T) {
	classifier := NewClassifier(nil, []DirectRule{
		{Keywords: []string{"email"}, Intent: "mail_operation", AgentID: "mail", Capability: "mail.search"},
	})

	decision := classifier.Classify(context.Background(), "check my email")
	assert.Equal(t, RouteDirect, decision.Route)
	assert.Equal(t, "mail", decision.AgentID)
}

func TestClassifyWithNoMatchRoutesToCoordinator(t *testing.T) {
	classifier := NewClassifier(nil, []DirectRule{
		{Keywords: []string{"email"}, Intent: "mail_operation", AgentID: "mail", Capability: "mail.search"},
	})

	decision := classifier.Classify(context.Background(), "what's the weather")
	assert.Equal(t, RouteCoordinator, decision.Route)
}

func TestHandleQueryDirectRouteCallsResolvedAgent(t *testing.T) {
	resolver := &stubResolver{handles: map[string]*stubHandle{
		"mail": {output: map[string]interface{}{"found": 3}},
	}}
	classifier := NewClassifier(nil, []DirectRule{
		{Keywords: []string{"email"}, Intent: "mail_operation", AgentID: "mail", Capability: "mail.search"},
	})
	gw := New(Config{Classifier: classifier, Resolver: resolver})

	result := gw.HandleQuery(context.Background(), "check my email", nil)
	assert.Equal(t, RouteDirect, result.Route)
	assert.Equal(t, 3, result.Result["found"])
}

func TestHandleQueryFallsBackToCoordinatorWhenDirectResolveFails(t *testing.T) {
	resolver := &stubResolver{handles: map[string]*stubHandle{}}
	classifier := NewClassifier(nil, []DirectRule{
		{Keywords: []string{"email"}, Intent: "mail_operation", AgentID: "mail", Capability: "mail.search"},
	})
	coord := coordinator.New(coordinator.Config{Resolver: resolver})
	gw := New(Config{Classifier: classifier, Resolver: resolver, Coordinator: coord})

	result := gw.HandleQuery(context.Background(), "check my email", nil)
	assert.Equal(t, RouteCoordinator, result.Route)
	require.Equal(t, []string{"router", "planner", "executor", "reviewer"}, result.ExecutionPath)
}
