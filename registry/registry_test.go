package registry

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/localforge/fabric/core"
)

func testManifest(id string, verbs ...string) core.AgentManifest {
	var caps []core.CapabilityDescriptor
	for _, v := range verbs {
		caps = append(caps, core.CapabilityDescriptor{Verb: v, Description: v})
	}
	return core.AgentManifest{AgentID: id, DisplayName: id, Capabilities: caps}
}

func TestRegisterThenFindAgentsForCapabilityContainsAgent(t *testing.T) {
	reg := New(NewMockStore(), Config{})
	require.NoError(t, reg.Register(context.Background(), testManifest("mail", "mail.search"), ""))

	found, err := reg.FindAgentsForCapability(context.Background(), "mail.search")
	require.NoError(t, err)
	require.Len(t, found, 1)
	assert.Equal(t, "mail", found[0].Manifest.AgentID)
}

func TestUnregisterRemovesFromCapabilityIndex(t *testing.T) {
	reg := New(NewMockStore(), Config{})
	require.NoError(t, reg.Register(context.Background(), testManifest("mail", "mail.search"), ""))
	require.NoError(t, reg.Unregister(context.Background(), "mail"))

	found, err := reg.FindAgentsForCapability(context.Background(), "mail.search")
	require.NoError(t, err)
	assert.Empty(t, found)
}

func TestRegisterUnregisterRegisterMatchesSingleRegister(t *testing.T) {
	storeA := NewMockStore()
	regA := New(storeA, Config{})
	require.NoError(t, regA.Register(context.Background(), testManifest("mail", "mail.search"), ""))

	storeB := NewMockStore()
	regB := New(storeB, Config{})
	require.NoError(t, regB.Register(context.Background(), testManifest("mail", "mail.search"), ""))
	require.NoError(t, regB.Unregister(context.Background(), "mail"))
	require.NoError(t, regB.Register(context.Background(), testManifest("mail", "mail.search"), ""))

	agentsA, _ := regA.ListAgents(context.Background())
	agentsB, _ := regB.ListAgents(context.Background())
	assert.Equal(t, len(agentsA), len(agentsB))

	capA, _ := regA.FindAgentsForCapability(context.Background(), "mail.search")
	capB, _ := regB.FindAgentsForCapability(context.Background(), "mail.search")
	assert.Equal(t, len(capA), len(capB))
}

func TestGetAgentNotFoundReturnsNotFoundKind(t *testing.T) {
	reg := New(NewMockStore(), Config{})
	_, err := reg.GetAgent(context.Background(), "missing")
	require.Error(t, err)
	assert.Equal(t, core.KindNotFound, core.KindOf(err))
}

func TestGetSystemHealthCountsByStatus(t *testing.T) {
	reg := New(NewMockStore(), Config{})
	require.NoError(t, reg.Register(context.Background(), testManifest("mail"), ""))
	require.NoError(t, reg.Register(context.Background(), testManifest("calendar"), ""))

	health, err := reg.GetSystemHealth(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 2, health.Total)
	assert.Equal(t, 2, health.ByStatus[string(core.StatusRegistered)])
}

func TestGetEnhancedDashboardToleratesUnreachableAgent(t *testing.T) {
	healthyServer := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"performance_summary":{}}`))
	}))
	defer healthyServer.Close()

	reg := New(NewMockStore(), Config{})
	require.NoError(t, reg.Register(context.Background(), testManifest("mail"), healthyServer.URL+"/metrics"))
	require.NoError(t, reg.Register(context.Background(), testManifest("unreachable"), "http://127.0.0.1:1/metrics"))

	dash, err := reg.GetEnhancedDashboard(context.Background())
	require.NoError(t, err)
	require.Len(t, dash.Agents, 2)

	unreachable, ok := dash.Agents["unreachable"].(map[string]interface{})
	require.True(t, ok)
	assert.Contains(t, unreachable, "error")
}

func TestLivenessProbeMarksUnhealthyAfterNFailures(t *testing.T) {
	original := probe
	defer func() { probe = original }()

	calls := 0
	probe = func(ctx context.Context, endpoint string, timeout time.Duration) bool {
		calls++
		return false
	}

	reg := New(NewMockStore(), Config{UnhealthyAfterFailures: 2, UnreachableAfterFailures: 4})
	manifest := testManifest("mail")
	manifest.HealthCheck = core.HealthCheckConfig{Endpoint: "/health", IntervalS: 1, TimeoutS: 1}
	require.NoError(t, reg.Register(context.Background(), manifest, "http://example.invalid/health"))

	reg.mu.Lock()
	cancel, ok := reg.probers["mail"]
	reg.mu.Unlock()
	require.True(t, ok)
	defer cancel()

	require.Eventually(t, func() bool {
		r, found, _ := reg.store.Get(context.Background(), "mail")
		return found && r.Status == core.StatusUnhealthy
	}, 5*time.Second, 50*time.Millisecond)
	assert.GreaterOrEqual(t, calls, 2)
}
