package agent

import (
	"context"
	"encoding/json"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/localforge/fabric/core"
)

// Server exposes a Base over the uniform HTTP capability surface common
// to every agent: health, manifest, capability listing and invocation,
// the natural-language query entrypoint, and the metrics dashboard.
type Server struct {
	base    *Base
	mux     *http.ServeMux
	version string
	health  core.HealthCheckConfig

	httpServer *http.Server
}

// NewServer builds a Server around base, registering every endpoint.
func NewServer(base *Base, version string, health core.HealthCheckConfig) *Server {
	s := &Server{base: base, mux: http.NewServeMux(), version: version, health: health}
	s.registerRoutes()
	return s
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/health", s.handleHealth)
	s.mux.HandleFunc("/manifest", s.handleManifest)
	s.mux.HandleFunc("/capabilities", s.handleCapabilities)
	s.mux.HandleFunc("/capabilities/", s.handleCapabilityInvoke)
	s.mux.HandleFunc("/query", s.handleQuery)
	s.mux.HandleFunc("/metrics", s.handleMetrics)
}

// Handler returns the underlying http.Handler for embedding or testing,
// wrapped with request-id assignment so every log line emitted while
// handling a request can be correlated back to it.
func (s *Server) Handler() http.Handler { return withRequestID(s.mux) }

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		ctx := core.WithRequestID(r.Context(), id)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// Start begins serving on addr, blocking until ctx is cancelled.
func (s *Server) Start(ctx context.Context, addr string) error {
	s.httpServer = &http.Server{
		Addr:         addr,
		Handler:      s.Handler(),
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() { errCh <- s.httpServer.ListenAndServe() }()

	select {
	case <-ctx.Done():
		return s.Stop(context.Background())
	case err := <-errCh:
		if err == http.ErrServerClosed {
			return nil
		}
		return err
	}
}

// Stop gracefully shuts the server down.
func (s *Server) Stop(ctx context.Context) error {
	if s.httpServer == nil {
		return nil
	}
	return s.httpServer.Shutdown(ctx)
}

func writeJSON(w http.ResponseWriter, status int, body interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(body)
}

func writeError(w http.ResponseWriter, kind core.Kind, message string) {
	writeJSON(w, core.HTTPStatusForKind(kind), map[string]interface{}{
		"error": map[string]interface{}{"kind": string(kind), "message": message},
	})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	dash := s.base.Monitor.BuildDashboard()
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"status":             "healthy",
		"details":            map[string]interface{}{"agent_id": s.base.AgentID},
		"performance_summary": dash.PerformanceSummary,
	})
}

func (s *Server) handleManifest(w http.ResponseWriter, r *http.Request) {
	manifest := s.base.GenerateManifest(s.version, s.health)
	writeJSON(w, http.StatusOK, manifest)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]interface{}{"capabilities": s.base.Capabilities()})
}

func (s *Server) handleCapabilityInvoke(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, core.KindBadRequest, "capability invocation requires POST")
		return
	}

	verb := strings.TrimPrefix(r.URL.Path, "/capabilities/")
	if err := ValidateVerb(verb); err != nil {
		writeError(w, core.KindBadRequest, err.Error())
		return
	}

	var body struct {
		Input map[string]interface{} `json:"input"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, core.KindBadRequest, "invalid JSON body")
		return
	}

	start := time.Now()
	output, err := s.base.ExecuteCapability(r.Context(), verb, body.Input)
	duration := time.Since(start).Milliseconds()
	if err != nil {
		writeError(w, core.KindOf(err), err.Error())
		return
	}

	writeJSON(w, http.StatusOK, map[string]interface{}{"output": output, "duration_ms": duration})
}

func (s *Server) handleQuery(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, core.KindBadRequest, "query requires POST")
		return
	}

	var body struct {
		Query   string                 `json:"query"`
		Context map[string]interface{} `json:"context,omitempty"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		writeError(w, core.KindBadRequest, "invalid JSON body")
		return
	}

	result := s.base.HandleQuery(r.Context(), body.Query)
	if result.Error != "" && result.Result == nil {
		writeError(w, core.Kind(result.Error), "query could not be fulfilled")
		return
	}
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleMetrics(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.base.Monitor.BuildDashboard())
}
