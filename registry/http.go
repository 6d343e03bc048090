package registry

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"

	"github.com/localforge/fabric/core"
)

// Server exposes a Registry over its HTTP surface.
type Server struct {
	registry *Registry
	mux      *http.ServeMux
}

// NewServer builds a Server around registry.
func NewServer(registry *Registry) *Server {
	s := &Server{registry: registry, mux: http.NewServeMux()}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler, wrapped with request-id
// assignment so registry operations can be correlated in logs.
func (s *Server) Handler() http.Handler { return withRequestID(s.mux) }

func withRequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id := r.Header.Get("X-Request-ID")
		if id == "" {
			id = uuid.New().String()
		}
		w.Header().Set("X-Request-ID", id)
		next.ServeHTTP(w, r.WithContext(core.WithRequestID(r.Context(), id)))
	})
}

func (s *Server) registerRoutes() {
	s.mux.HandleFunc("/agents", s.handleAgents)
	s.mux.HandleFunc("/agents/", s.handleAgentByID)
	s.mux.HandleFunc("/capabilities/", s.handleCapabilityAgents)
	s.mux.HandleFunc("/system/health", s.handleSystemHealth)
	s.mux.HandleFunc("/system/dashboard", s.handleSystemDashboard)
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

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodPost:
		var body struct {
			Manifest       core.AgentManifest `json:"manifest"`
			HealthEndpoint string              `json:"health_endpoint_url"`
		}
		if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
			writeError(w, core.KindBadRequest, "invalid JSON body")
			return
		}
		if err := s.registry.Register(r.Context(), body.Manifest, body.HealthEndpoint); err != nil {
			writeError(w, core.KindOf(err), err.Error())
			return
		}
		writeJSON(w, http.StatusCreated, map[string]interface{}{"agent_id": body.Manifest.AgentID})
	case http.MethodGet:
		agents, err := s.registry.ListAgents(r.Context())
		if err != nil {
			writeError(w, core.KindOf(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"agents": agents})
	default:
		writeError(w, core.KindBadRequest, "method not allowed")
	}
}

func (s *Server) handleAgentByID(w http.ResponseWriter, r *http.Request) {
	id := strings.TrimPrefix(r.URL.Path, "/agents/")
	if id == "" {
		writeError(w, core.KindBadRequest, "agent id required")
		return
	}

	switch r.Method {
	case http.MethodDelete:
		if err := s.registry.Unregister(r.Context(), id); err != nil {
			writeError(w, core.KindOf(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, map[string]interface{}{"unregistered": id})
	case http.MethodGet:
		reg, err := s.registry.GetAgent(r.Context(), id)
		if err != nil {
			writeError(w, core.KindOf(err), err.Error())
			return
		}
		writeJSON(w, http.StatusOK, reg)
	default:
		writeError(w, core.KindBadRequest, "method not allowed")
	}
}

func (s *Server) handleCapabilityAgents(w http.ResponseWriter, r *http.Request) {
	verb := strings.TrimSuffix(strings.TrimPrefix(r.URL.Path, "/capabilities/"), "/agents")
	agents, err := s.registry.FindAgentsForCapability(r.Context(), verb)
	if err != nil {
		writeError(w, core.KindOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": agents})
}

func (s *Server) handleSystemHealth(w http.ResponseWriter, r *http.Request) {
	health, err := s.registry.GetSystemHealth(r.Context())
	if err != nil {
		writeError(w, core.KindOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, health)
}

func (s *Server) handleSystemDashboard(w http.ResponseWriter, r *http.Request) {
	dash, err := s.registry.GetEnhancedDashboard(r.Context())
	if err != nil {
		writeError(w, core.KindOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, dash)
}
