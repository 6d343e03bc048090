package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/localforge/fabric/core"
	"github.com/localforge/fabric/registry"
)

// Server exposes a Gateway over its HTTP and WebSocket surface.
type Server struct {
	gw       *Gateway
	registry *registry.Registry
	upgrader websocket.Upgrader
	mux      *http.ServeMux
	logger   core.Logger
}

// NewServer builds a Server.
func NewServer(gw *Gateway, reg *registry.Registry, logger core.Logger) *Server {
	if logger == nil {
		logger = &core.NoOpLogger{}
	}
	s := &Server{
		gw:       gw,
		registry: reg,
		logger:   logger,
		upgrader: websocket.Upgrader{ReadBufferSize: 1024, WriteBufferSize: 1024, CheckOrigin: func(r *http.Request) bool { return true }},
		mux:      http.NewServeMux(),
	}
	s.registerRoutes()
	return s
}

// Handler returns the underlying http.Handler, wrapped with request-id
// assignment so a query's path through classification and orchestration
// can be traced back to a single incoming request.
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
	s.mux.HandleFunc("/query", s.handleQuery)
	s.mux.HandleFunc("/capabilities", s.handleCapabilities)
	s.mux.HandleFunc("/agents", s.handleAgents)
	s.mux.HandleFunc("/agents/", s.handleAgentPassthrough)
	s.mux.HandleFunc("/stream", s.handleStream)
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
	if strings.TrimSpace(body.Query) == "" {
		writeError(w, core.KindBadRequest, "query must not be empty")
		return
	}

	result := s.gw.HandleQuery(r.Context(), body.Query, body.Context)
	writeJSON(w, http.StatusOK, result)
}

func (s *Server) handleCapabilities(w http.ResponseWriter, r *http.Request) {
	agents, err := s.registry.ListAgents(r.Context())
	if err != nil {
		writeError(w, core.KindOf(err), err.Error())
		return
	}

	var union []core.CapabilityDescriptor
	for _, a := range agents {
		union = append(union, a.Manifest.Capabilities...)
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"capabilities": union})
}

func (s *Server) handleAgents(w http.ResponseWriter, r *http.Request) {
	agents, err := s.registry.ListAgents(r.Context())
	if err != nil {
		writeError(w, core.KindOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"agents": agents})
}

// handleAgentPassthrough implements POST /agents/{id}/{verb}: resolve
// the agent through the registry-backed resolver and forward the call.
func (s *Server) handleAgentPassthrough(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeError(w, core.KindBadRequest, "passthrough requires POST")
		return
	}

	path := strings.TrimPrefix(r.URL.Path, "/agents/")
	parts := strings.SplitN(path, "/", 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		writeError(w, core.KindBadRequest, "expected /agents/{id}/{verb}")
		return
	}
	agentID, verb := parts[0], parts[1]

	var body struct {
		Input map[string]interface{} `json:"input"`
	}
	_ = json.NewDecoder(r.Body).Decode(&body)

	handle, err := s.gw.resolver.Resolve(r.Context(), agentID)
	if err != nil {
		writeError(w, core.KindOf(err), err.Error())
		return
	}
	output, err := handle.Call(r.Context(), verb, body.Input, 0)
	if err != nil {
		writeError(w, core.KindOf(err), err.Error())
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"output": output})
}

// streamEvent is one incremental update sent over /stream, per the
// status -> intent -> partial* -> result progression.
type streamEvent struct {
	Stage string      `json:"stage"`
	Data  interface{} `json:"data,omitempty"`
}

func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", map[string]interface{}{"error": err.Error()})
		return
	}
	defer conn.Close()

	for {
		var req struct {
			Query   string                 `json:"query"`
			Context map[string]interface{} `json:"context,omitempty"`
		}
		if err := conn.ReadJSON(&req); err != nil {
			return
		}

		_ = conn.WriteJSON(streamEvent{Stage: "status", Data: "processing"})

		decision := s.gw.classifier.Classify(r.Context(), req.Query)
		_ = conn.WriteJSON(streamEvent{Stage: "intent", Data: decision.Intent})

		result := s.gw.HandleQuery(r.Context(), req.Query, req.Context)
		_ = conn.WriteJSON(streamEvent{Stage: "result", Data: result})
	}
}
