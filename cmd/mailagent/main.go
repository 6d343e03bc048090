// Command mailagent is a composition root for a sample agent (C4) that
// searches and summarizes locally-synced mail, demonstrating the full
// cache + LLM dispatch + sync-store wiring described by the rest of
// this module.
package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/localforge/fabric/agent"
	"github.com/localforge/fabric/cache"
	"github.com/localforge/fabric/core"
	"github.com/localforge/fabric/llm"
	"github.com/localforge/fabric/monitor"
	"github.com/localforge/fabric/resilience"
	"github.com/localforge/fabric/syncstore"
	"github.com/localforge/fabric/telemetry"
)

// demoFetcher produces deterministic fixture records for AGENT_MODE=demo,
// so the agent is runnable end-to-end without a real mail backend.
type demoFetcher struct{}

func (demoFetcher) Fetch(ctx context.Context, collection string, since time.Time, limit int) ([]core.SyncedRecord, error) {
	now := time.Now()
	return []core.SyncedRecord{
		{SourceID: fmt.Sprintf("demo-%s", collection), SourceCollection: collection, Payload: []byte(`{"subject":"demo message"}`), ReceivedAt: now},
	}, nil
}

func main() {
	cfg, err := core.NewConfig("mail-agent")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger.WithComponent("mailagent")

	core.SetMetricsRegistry(telemetry.NewOTelRegistry("fabric/mailagent"))

	if err := os.MkdirAll(cfg.CacheDir, 0o755); err != nil {
		log.Fatalf("cache dir: %v", err)
	}

	semanticCache, err := cache.New(cache.Config{
		AgentID:  "mail",
		CacheDir: cfg.CacheDir,
		L2URL:    cfg.CacheL2URL,
		Logger:   cfg.Logger,
	})
	if err != nil {
		log.Fatalf("cache: %v", err)
	}
	defer semanticCache.Close()

	llmClient := llm.NewClient(
		llm.WithBaseURL(cfg.LLMBaseURL),
		llm.WithModel(cfg.LLMModel),
		llm.WithTimeout(time.Duration(cfg.LLMTimeoutMS)*time.Millisecond),
		llm.WithLogger(cfg.Logger),
	)

	perfMonitor := monitor.New(monitor.SLAConfig{ResponseTimeSLAMS: 500, MinSuccessRatePercent: 95})

	store, err := syncstore.Open(filepath.Join(cfg.CacheDir, "mail_sync.db"))
	if err != nil {
		log.Fatalf("sync store: %v", err)
	}
	defer store.Close()

	worker := syncstore.NewWorker(syncstore.Config{
		Collections: []string{"Inbox", "Sent"},
		Logger:      cfg.Logger,
	}, store, demoFetcher{})

	breakerMetrics, err := resilience.NewOTelMetricsCollector("fabric/mailagent")
	if err != nil {
		log.Fatalf("metrics collector: %v", err)
	}

	base := agent.New(agent.Config{
		AgentID:       "mail",
		DisplayName:   "Mail Agent",
		Description:   "searches and summarizes locally-synced mail",
		MinConfidence: cfg.MinConfidence,
		Cache:         semanticCache,
		LLM:           llmClient,
		Monitor:       perfMonitor,
		Logger:        cfg.Logger,
		Metrics:       breakerMetrics,
	})

	base.RegisterCapability(
		"mail.search",
		core.Schema{"query": "string"},
		core.Schema{"results": "array"},
		"search locally-synced mail by free-text query",
		func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			query, _ := params["query"].(string)
			records, err := store.GetRecords("Inbox", 20, 0, nil)
			if err != nil {
				return nil, core.NewError("mail.search", core.KindInternal, err)
			}
			return map[string]interface{}{"query": query, "results": records}, nil
		},
	)

	base.RegisterCapability(
		"mail.process_results",
		nil, nil,
		"post-process a prior search's results",
		func(ctx context.Context, params map[string]interface{}) (map[string]interface{}, error) {
			return map[string]interface{}{"processed": true}, nil
		},
	)

	server := agent.NewServer(base, "v1", core.HealthCheckConfig{Endpoint: "/health", IntervalS: 10, TimeoutS: 3})

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	worker.Start(ctx)
	defer worker.Stop()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		logger.Info("shutting down", nil)
		cancel()
	}()

	addr := fmt.Sprintf(":%d", 8100)
	logger.Info("mail agent listening", map[string]interface{}{"addr": addr})
	if err := server.Start(ctx, addr); err != nil {
		log.Fatalf("server: %v", err)
	}
}
