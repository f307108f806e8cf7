package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veyralabs/agentrank/internal/adapters/repository"
	"github.com/veyralabs/agentrank/internal/domain/model"
)

// ScoreEntry mirrors the read shape returned for scored agents.
type ScoreEntry struct {
	Rank           int                   `json:"rank,omitempty"`
	Handle         string                `json:"handle"`
	Wallet         string                `json:"wallet,omitempty"`
	Score          int                   `json:"score"`
	Tier           string                `json:"tier"`
	Components     model.ScoreComponents `json:"components"`
	CompletionRate float64               `json:"completion_rate"`
	Completeness   float64               `json:"completeness"`
	Delta          int                   `json:"delta"`
	ComputedAt     time.Time             `json:"computed_at"`
}

// NewScoreEntry converts a stored score into its read shape. rank is
// 1-based; pass 0 to omit it.
func NewScoreEntry(a model.ScoredAgent, rank int) ScoreEntry {
	delta := 0
	if a.PrevScore > 0 {
		delta = a.Score - a.PrevScore
	}
	return ScoreEntry{
		Rank:           rank,
		Handle:         a.Handle,
		Wallet:         a.Wallet,
		Score:          a.Score,
		Tier:           a.Tier,
		Components:     a.Components,
		CompletionRate: a.CompletionRate,
		Completeness:   a.Completeness,
		Delta:          delta,
		ComputedAt:     a.ComputedAt,
	}
}

// AgentsHandler serves the agent read surface and the registration intake.
type AgentsHandler struct {
	deps     Dependencies
	maxLimit int
}

// NewAgentsHandler creates a handler for /agents routes.
func NewAgentsHandler(deps Dependencies, maxLimit int) *AgentsHandler {
	return &AgentsHandler{deps: deps, maxLimit: maxLimit}
}

// HandleAgents dispatches /agents: GET lists top scored agents,
// POST registers a new agent seed.
func (h *AgentsHandler) HandleAgents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		h.handleList(w, r)
	case http.MethodPost:
		h.handleRegister(w, r)
	default:
		http.NotFound(w, r)
	}
}

func (h *AgentsHandler) handleList(w http.ResponseWriter, r *http.Request) {
	n := h.maxLimit
	if limitStr := r.URL.Query().Get("limit"); limitStr != "" {
		parsed, err := strconv.Atoi(limitStr)
		if err != nil || parsed < 1 {
			writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
			return
		}
		if parsed > h.maxLimit {
			writeError(w, http.StatusBadRequest, "limit_exceeded", ErrBadRequest)
			return
		}
		n = parsed
	}

	scores, err := h.deps.TopScores(r.Context(), n)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	entries := make([]ScoreEntry, 0, len(scores))
	for i, s := range scores {
		entries = append(entries, NewScoreEntry(s, i+1))
	}
	writeJSON(w, http.StatusOK, entries)
}

// HandleAgentDetail handles GET /agents/{handle}.
func (h *AgentsHandler) HandleAgentDetail(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	handle := strings.TrimPrefix(r.URL.Path, "/agents/")
	if handle == "" || strings.Contains(handle, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	detail, err := h.deps.AgentDetail(r.Context(), handle)
	if errors.Is(err, repository.ErrNotFound) {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, detail)
}

// registerRequest is the POST /agents payload.
type registerRequest struct {
	Handle string `json:"handle"`
	Wallet string `json:"wallet,omitempty"`
}

func (req registerRequest) validate() error {
	if strings.TrimSpace(req.Handle) == "" {
		return errors.New("missing handle")
	}
	if req.Wallet != "" && !common.IsHexAddress(req.Wallet) {
		return errors.New("invalid wallet address")
	}
	return nil
}

type registerResponse struct {
	Status string `json:"status"`
}

func (h *AgentsHandler) handleRegister(w http.ResponseWriter, r *http.Request) {
	key := bearerToken(r)
	if key == "" {
		writeError(w, http.StatusUnauthorized, "unauthorized", ErrUnauthorized)
		return
	}
	valid, err := h.deps.ValidAPIKey(r.Context(), key)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	if !valid {
		writeError(w, http.StatusUnauthorized, "unauthorized", ErrUnauthorized)
		return
	}

	var req registerRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	if err := req.validate(); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", err)
		return
	}

	seed := model.DiscoveredAgent{Handle: strings.TrimSpace(req.Handle)}
	if req.Wallet != "" {
		seed.Wallet = strings.ToLower(common.HexToAddress(req.Wallet).Hex())
	}
	if !h.deps.EnqueueSeed(seed) {
		writeError(w, http.StatusServiceUnavailable, "backpressure", ErrBackpressure)
		return
	}
	writeJSON(w, http.StatusAccepted, registerResponse{Status: "queued"})
}

func bearerToken(r *http.Request) string {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}
