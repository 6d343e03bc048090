package registry

import (
	"context"
	"sync"

	"github.com/localforge/fabric/core"
)

// MockStore is an in-memory Store for AGENT_MODE=demo, where no Redis
// instance is assumed to be available. It implements the same Store
// interface as the Redis-backed store so Registry's behavior is
// identical in both modes.
type MockStore struct {
	mu           sync.RWMutex
	agents       map[string]core.AgentRegistration
	capabilities map[string]map[string]struct{}
}

// NewMockStore builds an empty in-memory Store.
func NewMockStore() *MockStore {
	return &MockStore{
		agents:       make(map[string]core.AgentRegistration),
		capabilities: make(map[string]map[string]struct{}),
	}
}

func (m *MockStore) Put(ctx context.Context, reg core.AgentRegistration) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.agents[reg.Manifest.AgentID] = reg
	return nil
}

func (m *MockStore) Delete(ctx context.Context, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.agents, agentID)
	return nil
}

func (m *MockStore) Get(ctx context.Context, agentID string) (core.AgentRegistration, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	reg, ok := m.agents[agentID]
	return reg, ok, nil
}

func (m *MockStore) List(ctx context.Context) ([]core.AgentRegistration, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	out := make([]core.AgentRegistration, 0, len(m.agents))
	for _, reg := range m.agents {
		out = append(out, reg)
	}
	return out, nil
}

func (m *MockStore) IndexCapability(ctx context.Context, verb, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.capabilities[verb] == nil {
		m.capabilities[verb] = make(map[string]struct{})
	}
	m.capabilities[verb][agentID] = struct{}{}
	return nil
}

func (m *MockStore) DeindexCapability(ctx context.Context, verb, agentID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.capabilities[verb], agentID)
	return nil
}

func (m *MockStore) AgentsForCapability(ctx context.Context, verb string) ([]string, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []string
	for id := range m.capabilities[verb] {
		out = append(out, id)
	}
	return out, nil
}
