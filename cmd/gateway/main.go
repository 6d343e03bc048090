// Command gateway is the composition root for the thin front door (C8):
// intent classification and routing between direct agent calls and
// full coordinator orchestration.
package main

import (
	"fmt"
	"log"
	"net/http"
	"time"

	"github.com/localforge/fabric/core"
	"github.com/localforge/fabric/coordinator"
	"github.com/localforge/fabric/gateway"
	"github.com/localforge/fabric/llm"
	"github.com/localforge/fabric/registry"
)

var directRules = []gateway.DirectRule{
	{Keywords: []string{"email", "mail", "inbox"}, Intent: "mail_operation", AgentID: "mail", Capability: "mail.search"},
}

var mailRules = []coordinator.IntentRule{
	{
		Intent:   "mail_operation",
		Keywords: []string{"email", "mail", "inbox"},
		Plan: []coordinator.PlannedStep{
			{AgentID: "mail", Verb: "mail.search", Required: true},
			{AgentID: "mail", Verb: "mail.process_results", Required: false},
		},
	},
}

func main() {
	cfg, err := core.NewConfig("gateway")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger.WithComponent("gateway")

	var store registry.Store
	if cfg.Mode == core.ModeLive {
		store, err = registry.NewRedisStore(cfg.CacheL2URL, cfg.Namespace)
		if err != nil {
			log.Fatalf("redis store: %v", err)
		}
	} else {
		store = registry.NewMockStore()
	}
	reg := registry.New(store, registry.Config{Namespace: cfg.Namespace, Logger: cfg.Logger})
	resolver := registry.NewResolver(reg)

	llmClient := llm.NewClient(
		llm.WithBaseURL(cfg.LLMBaseURL),
		llm.WithModel(cfg.LLMModel),
		llm.WithTimeout(time.Duration(cfg.LLMTimeoutMS)*time.Millisecond),
		llm.WithLogger(cfg.Logger),
	)
	classifier := gateway.NewClassifier(llmClient, directRules)

	coord := coordinator.New(coordinator.Config{Rules: mailRules, Resolver: resolver, Logger: cfg.Logger})

	gw := gateway.New(gateway.Config{Classifier: classifier, Resolver: resolver, Coordinator: coord, Logger: cfg.Logger})
	server := gateway.NewServer(gw, reg, cfg.Logger)

	addr := fmt.Sprintf(":%d", cfg.GatewayPort)
	logger.Info("gateway listening", map[string]interface{}{"addr": addr})
	if err := http.ListenAndServe(addr, server.Handler()); err != nil {
		log.Fatalf("server: %v", err)
	}
}
