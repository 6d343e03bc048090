// Command registry is the composition root for the Agent Registry (C6).
package main

import (
	"fmt"
	"log"
	"net/http"

	"github.com/localforge/fabric/core"
	"github.com/localforge/fabric/registry"
)

func main() {
	cfg, err := core.NewConfig("registry")
	if err != nil {
		log.Fatalf("config: %v", err)
	}
	logger := cfg.Logger.WithComponent("registry")

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
	server := registry.NewServer(reg)

	addr := fmt.Sprintf(":%d", 8500)
	logger.Info("registry listening", map[string]interface{}{"addr": addr})
	if err := http.ListenAndServe(addr, server.Handler()); err != nil {
		log.Fatalf("server: %v", err)
	}
}
