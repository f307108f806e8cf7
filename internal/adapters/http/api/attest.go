package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strings"

	"github.com/veyralabs/agentrank/internal/attest"
	"github.com/veyralabs/agentrank/internal/domain/scoring"
)

// AttestServer wires the attested scoring routes. It runs in its own
// process, separate from the pipeline API.
type AttestServer struct {
	svc *attest.Service
}

// NewAttestServer creates the attestation API server.
func NewAttestServer(svc *attest.Service) *AttestServer {
	return &AttestServer{svc: svc}
}

// Register attaches attestation routes to mux.
func (s *AttestServer) Register(mux *http.ServeMux) {
	mux.HandleFunc("/health", MetricsMiddleware(s.handleHealth, "health"))
	mux.HandleFunc("/score/", MetricsMiddleware(s.handleScoreByID, "score_by_id"))
	mux.HandleFunc("/score", MetricsMiddleware(s.handleScoreInput, "score_input"))
	mux.HandleFunc("/verify", MetricsMiddleware(s.handleVerify, "verify"))
}

func (s *AttestServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
		"signer": s.svc.SignerAddress(),
	})
}

// handleScoreByID handles GET /score/{id}, where id is a handle or a
// wallet address.
func (s *AttestServer) handleScoreByID(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.NotFound(w, r)
		return
	}
	id := strings.TrimPrefix(r.URL.Path, "/score/")
	if id == "" || strings.Contains(id, "/") {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}

	signed, err := s.svc.ScoreAgent(r.Context(), id)
	if errors.Is(err, attest.ErrUnknownAgent) {
		writeError(w, http.StatusNotFound, "not_found", err)
		return
	}
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, signed)
}

// handleScoreInput handles POST /score with a caller-supplied metrics
// snapshot.
func (s *AttestServer) handleScoreInput(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var in scoring.AttestInput
	if err := json.NewDecoder(r.Body).Decode(&in); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	if strings.TrimSpace(in.ID) == "" {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("missing id"))
		return
	}

	signed, err := s.svc.ScoreInput(r.Context(), in)
	if err != nil {
		writeError(w, http.StatusInternalServerError, "internal_error", err)
		return
	}
	writeJSON(w, http.StatusOK, signed)
}

// verifyRequest is the POST /verify payload.
type verifyRequest struct {
	Message   string `json:"message"`
	Signature string `json:"signature"`
}

type verifyResponse struct {
	Valid     bool   `json:"valid"`
	Recovered string `json:"recovered_address,omitempty"`
	Signer    string `json:"signer_address"`
}

func (s *AttestServer) handleVerify(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.NotFound(w, r)
		return
	}
	var req verifyRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "bad_request", ErrBadRequest)
		return
	}
	if req.Message == "" || req.Signature == "" {
		writeError(w, http.StatusBadRequest, "bad_request", errors.New("missing message or signature"))
		return
	}

	valid, recovered, err := s.svc.VerifyAttestation(r.Context(), []byte(req.Message), req.Signature)
	if err != nil {
		// A malformed signature is a client problem, not a server one.
		writeError(w, http.StatusBadRequest, "malformed_signature", err)
		return
	}
	writeJSON(w, http.StatusOK, verifyResponse{
		Valid:     valid,
		Recovered: recovered,
		Signer:    s.svc.SignerAddress(),
	})
}
