// Command coordinator is the composition root for the fixed
// router/planner/executor/reviewer pipeline (C7), exposed over HTTP so
// the gateway can hand off orchestrated queries to it.
package main

import (
	"encoding/json"
	"fmt"
	"log"
	"net/http"

	"github.com/localforge/fabric/core"
	"github.com/localforge/fabric/coordinator"
	"github.com/localforge/fabric/registry"
)

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
	cfg, err := core.NewConfig("coordinator")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger.WithComponent("coordinator")

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

	coord := coordinator.New(coordinator.Config{
		Rules:    mailRules,
		Resolver: resolver,
		Logger:   cfg.Logger,
	})

	mux := http.NewServeMux()
	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		var body struct {
			Query   string                 `json:"query"`
			Context map[string]interface{} `json:"context,omitempty"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			w.WriteHeader(http.StatusBadRequest)
			return
		}
		state := coord.Run(r.Context(), body.Query, body.Context)
		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(state)
	})

	addr := fmt.Sprintf(":%d", cfg.CoordinatorPort)
	logger.Info("coordinator listening", map[string]interface{}{"addr": addr})
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Fatalf("server: %v", err)
	}
}
