package registry

import (
	"context"
	"net/http"
	"time"

	"github.com/localforge/fabric/core"
)

// startProber launches a goroutine that periodically probes agentID's
// health endpoint and downgrades its status after repeated failures,
// per the configured N/M thresholds. Any existing prober for this
// agent is stopped first, so re-registering an agent never leaks a
// duplicate goroutine.
func (r *Registry) startProber(agentID, healthEndpoint string, health core.HealthCheckConfig) {
	r.stopProber(agentID)

	if healthEndpoint == "" {
		return
	}

	interval := time.Duration(health.IntervalS) * time.Second
	if interval <= 0 {
		interval = 10 * time.Second
	}
	timeout := time.Duration(health.TimeoutS) * time.Second
	if timeout <= 0 {
		timeout = 3 * time.Second
	}

	ctx, cancel := context.WithCancel(context.Background())
	r.mu.Lock()
	r.probers[agentID] = cancel
	r.mu.Unlock()

	go r.probeLoop(ctx, agentID, healthEndpoint, interval, timeout)
}

func (r *Registry) stopProber(agentID string) {
	r.mu.Lock()
	cancel, ok := r.probers[agentID]
	delete(r.probers, agentID)
	r.mu.Unlock()

	if ok {
		cancel()
	}
}

func (r *Registry) probeLoop(ctx context.Context, agentID, endpoint string, interval, timeout time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	consecutiveFailures := 0

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			ok := probe(ctx, endpoint, timeout)
			reg, found, err := r.store.Get(context.Background(), agentID)
			if err != nil || !found {
				return
			}

			if ok {
				recovered := consecutiveFailures >= r.probeN
				consecutiveFailures = 0
				reg.LastHeartbeatAt = time.Now()
				if recovered || reg.Status != core.StatusHealthy {
					reg.Status = core.StatusHealthy
					r.logger.Info("agent recovered", map[string]interface{}{"agent_id": agentID})
				}
			} else {
				consecutiveFailures++
				switch {
				case consecutiveFailures >= r.probeM:
					reg.Status = core.StatusUnreachable
				case consecutiveFailures >= r.probeN:
					reg.Status = core.StatusUnhealthy
				}
			}

			_ = r.store.Put(context.Background(), reg)
		}
	}
}

// probe is overridable in tests.
var probe = func(ctx context.Context, endpoint string, timeout time.Duration) bool {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return false
	}
	resp, err := httpClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}
