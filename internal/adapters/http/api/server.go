// Package api declares HTTP contracts and route registration helpers for
// the pipeline's outward surfaces: agent reads, registration intake, and
// the attested scoring endpoints.
package api

import (
	"context"
	"encoding/json"
	"net/http"

	"github.com/veyralabs/agentrank/internal/domain/model"
)

// Dependencies bundles what the read and intake handlers need. Keeping it
// an interface decouples the handler layer from the app package.
type Dependencies interface {
	// TopScores returns the n best-scored agents in rank order.
	TopScores(ctx context.Context, n int) ([]model.ScoredAgent, error)

	// AgentDetail returns an agent with its score, if one exists.
	AgentDetail(ctx context.Context, handle string) (AgentDetail, error)

	// EnqueueSeed pushes a registration for the next cycle.
	// Returns false on backpressure.
	EnqueueSeed(seed model.DiscoveredAgent) bool

	// ValidAPIKey checks a registration credential against the store.
	ValidAPIKey(ctx context.Context, key string) (bool, error)
}

// AgentDetail is the read shape for GET /agents/{handle}.
type AgentDetail struct {
	Handle         string      `json:"handle"`
	Wallet         string      `json:"wallet,omitempty"`
	LastActivityAt string      `json:"last_activity_at,omitempty"`
	Score          *ScoreEntry `json:"score,omitempty"`
}

// Server wires HTTP routes for the pipeline API.
type Server struct {
	healthHandler *HealthHandler
	agentsHandler *AgentsHandler
}

// NewServer creates an API server with all handlers.
func NewServer(deps Dependencies, maxLimit int) *Server {
	return &Server{
		healthHandler: NewHealthHandler(),
		agentsHandler: NewAgentsHandler(deps, maxLimit),
	}
}

// Register attaches all routes to mux.
func (s *Server) Register(mux *http.ServeMux) {
	mux.HandleFunc("/healthz", MetricsMiddleware(s.healthHandler.HandleHealth, "healthz"))
	mux.HandleFunc("/metrics", s.healthHandler.HandleMetrics)
	mux.HandleFunc("/agents", MetricsMiddleware(s.agentsHandler.HandleAgents, "agents"))
	mux.HandleFunc("/agents/", MetricsMiddleware(s.agentsHandler.HandleAgentDetail, "agent_detail"))
}

type errorResponse struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json; charset=utf-8")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, code string, err error) {
	msg := http.StatusText(status)
	if err != nil {
		msg = err.Error()
	}
	writeJSON(w, status, errorResponse{Code: code, Message: msg})
}
