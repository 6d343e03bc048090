package registry

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/localforge/fabric/core"
)

// Resolver implements core.AgentResolver against a Registry, turning a
// resolved AgentRegistration into a remoteHandle that calls the agent's
// HTTP capability-invocation endpoint.
type Resolver struct {
	registry *Registry
}

// NewResolver builds a Resolver over registry.
func NewResolver(registry *Registry) *Resolver {
	return &Resolver{registry: registry}
}

func (r *Resolver) Resolve(ctx context.Context, agentID string) (core.AgentHandle, error) {
	reg, err := r.registry.GetAgent(ctx, agentID)
	if err != nil {
		return nil, err
	}
	if reg.Status == core.StatusUnreachable {
		return nil, core.NewError("registry.Resolve", core.KindUpstreamUnavailable, core.ErrDiscoveryUnavailable)
	}
	return &remoteHandle{manifest: reg.Manifest, baseURL: baseURLFromHealthEndpoint(reg.HealthEndpoint)}, nil
}

func (r *Resolver) ResolveForCapability(ctx context.Context, verb string) ([]core.AgentHandle, error) {
	regs, err := r.registry.FindAgentsForCapability(ctx, verb)
	if err != nil {
		return nil, err
	}

	var handles []core.AgentHandle
	for _, reg := range regs {
		if reg.Status == core.StatusUnreachable {
			continue
		}
		handles = append(handles, &remoteHandle{manifest: reg.Manifest, baseURL: baseURLFromHealthEndpoint(reg.HealthEndpoint)})
	}
	return handles, nil
}

// baseURLFromHealthEndpoint derives an agent's capability-invocation
// base URL from its registered health endpoint, which is always
// "<base>/health" per the common HTTP surface.
func baseURLFromHealthEndpoint(healthEndpoint string) string {
	const suffix = "/health"
	if len(healthEndpoint) >= len(suffix) && healthEndpoint[len(healthEndpoint)-len(suffix):] == suffix {
		return healthEndpoint[:len(healthEndpoint)-len(suffix)]
	}
	return healthEndpoint
}

// remoteHandle is the live core.AgentHandle implementation: it calls
// the agent's POST /capabilities/{verb} endpoint over HTTP.
type remoteHandle struct {
	manifest core.AgentManifest
	baseURL  string
}

func (h *remoteHandle) Manifest() core.AgentManifest { return h.manifest }

func (h *remoteHandle) Call(ctx context.Context, verb string, params map[string]interface{}, timeoutMS int) (map[string]interface{}, error) {
	if timeoutMS <= 0 {
		timeoutMS = 5000
	}
	ctx, cancel := context.WithTimeout(ctx, time.Duration(timeoutMS)*time.Millisecond)
	defer cancel()

	body, err := json.Marshal(map[string]interface{}{"input": params})
	if err != nil {
		return nil, core.NewError("remoteHandle.Call", core.KindInternal, err)
	}

	url := fmt.Sprintf("%s/capabilities/%s", h.baseURL, verb)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, core.NewError("remoteHandle.Call", core.KindInternal, err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := httpClient.Do(req)
	if err != nil {
		return nil, core.NewError("remoteHandle.Call", core.KindUpstreamUnavailable, err)
	}
	defer resp.Body.Close()

	var decoded struct {
		Output map[string]interface{} `json:"output"`
		Error  *struct {
			Kind    string `json:"kind"`
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&decoded); err != nil {
		return nil, core.NewError("remoteHandle.Call", core.KindInternal, err)
	}

	if decoded.Error != nil {
		return nil, core.NewError("remoteHandle.Call", core.Kind(decoded.Error.Kind), fmt.Errorf("%s", decoded.Error.Message))
	}
	return decoded.Output, nil
}
