package attest

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veyralabs/agentrank/internal/adapters/repository"
	"github.com/veyralabs/agentrank/internal/domain/model"
	"github.com/veyralabs/agentrank/internal/domain/scoring"
	"github.com/veyralabs/agentrank/pkg/cache"
	"github.com/veyralabs/agentrank/pkg/logger"
	"github.com/veyralabs/agentrank/pkg/metrics"
)

// Version identifies the scoring code path bound into each attestation.
const Version = "attest-1"

const financeSnapshotTTL = 15 * time.Minute

// ErrUnknownAgent marks lookups for ids the store has never seen. Known
// agents without a wallet are not an error: they score through the
// identity-only path with zero counters.
var ErrUnknownAgent = errors.New("unknown agent")

// FinanceSource supplies the cached financial snapshot used for the
// economic-activity component. A nil result means the signal is absent.
type FinanceSource interface {
	Activity(ctx context.Context, wallet string) (*model.FinancialActivity, error)
}

// SignedScore binds a deterministic score to the service signing key.
// Attestations are ephemeral: recomputed per request, never persisted.
type SignedScore struct {
	Score         scoring.AttestedScore `json:"score"`
	SignerAddress string                `json:"signer_address"`
	Signature     string                `json:"signature"`
	Message       string                `json:"message"`
	SignedAt      time.Time             `json:"signed_at"`
}

// Service computes and signs attested scores.
type Service struct {
	signer  *Signer
	store   repository.Store
	finance FinanceSource
	snap    *cache.Cache[string, *model.FinancialActivity]
	now     func() time.Time
	log     logger.Logger
}

// Option applies a configuration option to the Service.
type Option func(*Service)

// WithFinanceSource wires the optional financial-activity snapshot.
func WithFinanceSource(src FinanceSource) Option {
	return func(s *Service) { s.finance = src }
}

// WithClock injects a clock for deterministic tests.
func WithClock(now func() time.Time) Option {
	return func(s *Service) {
		if now != nil {
			s.now = now
		}
	}
}

// NewService creates the attested scoring service.
func NewService(signer *Signer, store repository.Store, opts ...Option) *Service {
	s := &Service{
		signer: signer,
		store:  store,
		snap: cache.New[string, *model.FinancialActivity](
			cache.WithTTL[string, *model.FinancialActivity](financeSnapshotTTL),
		),
		now: time.Now,
		log: logger.Get().Named("attest"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// SignerAddress returns the service's known signing address as 0x-hex.
func (s *Service) SignerAddress() string {
	return s.signer.Address().Hex()
}

// ScoreAgent computes and signs the score for an agent identified by handle
// or wallet address.
func (s *Service) ScoreAgent(ctx context.Context, id string) (SignedScore, error) {
	in, err := s.buildInput(ctx, id)
	if err != nil {
		return SignedScore{}, err
	}
	return s.ScoreInput(ctx, in)
}

// ScoreInput computes and signs the score for a caller-supplied snapshot.
func (s *Service) ScoreInput(ctx context.Context, in scoring.AttestInput) (SignedScore, error) {
	score, components := scoring.Attested(in)
	now := s.now().UTC()

	out := scoring.AttestedScore{
		ID:         in.ID,
		Score:      score,
		Components: components,
		Timestamp:  now.Unix(),
		Version:    Version,
	}

	message, err := CanonicalMessage(out)
	if err != nil {
		return SignedScore{}, err
	}
	sig, err := s.signer.SignMessage(message)
	if err != nil {
		return SignedScore{}, err
	}

	metrics.RecordAttestationIssued()
	return SignedScore{
		Score:         out,
		SignerAddress: s.signer.Address().Hex(),
		Signature:     sig,
		Message:       string(message),
		SignedAt:      now,
	}, nil
}

// VerifyAttestation recovers the signer of (message, signature) and reports
// whether it matches the service's known signing address.
func (s *Service) VerifyAttestation(_ context.Context, message []byte, sigHex string) (bool, string, error) {
	recovered, err := RecoverSigner(message, sigHex)
	if err != nil {
		metrics.RecordVerification("malformed")
		return false, "", err
	}
	ok := recovered == s.signer.Address()
	if ok {
		metrics.RecordVerification("valid")
	} else {
		metrics.RecordVerification("mismatch")
	}
	return ok, recovered.Hex(), nil
}

// buildInput assembles the on-chain snapshot for id from pipeline state plus
// the cached financial snapshot.
func (s *Service) buildInput(ctx context.Context, id string) (scoring.AttestInput, error) {
	in := scoring.AttestInput{ID: id}

	wallet := ""
	if common.IsHexAddress(id) {
		wallet = strings.ToLower(id)
		in.HasWallet = true
	} else {
		agent, err := s.store.Agent(ctx, id)
		if errors.Is(err, repository.ErrNotFound) {
			return scoring.AttestInput{}, fmt.Errorf("%w: %s", ErrUnknownAgent, id)
		}
		if err != nil {
			return scoring.AttestInput{}, fmt.Errorf("load agent %q: %w", id, err)
		}
		in.HasHandle = true
		if agent.HasWallet() {
			wallet = agent.Wallet
			in.HasWallet = true
		}
	}

	if wallet == "" {
		// Scored via the identity-only path; all counters stay zero.
		return in, nil
	}

	m, ok, err := s.store.WalletMetrics(ctx, wallet)
	if err != nil {
		return scoring.AttestInput{}, fmt.Errorf("load wallet metrics: %w", err)
	}
	if ok {
		in.HasMetrics = true
		in.TasksCompleted = m.TasksCompleted
		in.TasksFailed = m.TasksFailed
		in.Disputes = m.Disputes
		in.Slashes = m.Slashes
	}

	if s.finance != nil {
		snapshot, err := s.snap.GetOrFetch(ctx, wallet, func(ctx context.Context) (*model.FinancialActivity, error) {
			return s.finance.Activity(ctx, wallet)
		})
		if err != nil {
			// Absent economic signal; the component falls to zero.
			metrics.RecordSourceError("finance")
			s.log.Warn(ctx, "financial snapshot unavailable", logger.String("wallet", wallet), logger.Error(err))
		} else if snapshot != nil {
			in.EscrowVolume = snapshot.VolumeUSD
		}
	}
	return in, nil
}

// CanonicalMessage serializes a score for signing. Struct field order is
// fixed, so encoding/json yields stable bytes for identical scores.
func CanonicalMessage(score scoring.AttestedScore) ([]byte, error) {
	b, err := json.Marshal(score)
	if err != nil {
		return nil, fmt.Errorf("marshal attestation message: %w", err)
	}
	return b, nil
}
