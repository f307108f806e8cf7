package repository

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/veyralabs/agentrank/internal/domain/model"
)

// MemoryStore is a mutex-guarded, map-backed Store. It backs tests and the
// explicit non-durable mode used when no database URL is configured.
type MemoryStore struct {
	mu          sync.RWMutex
	agents      map[string]model.DiscoveredAgent // keyed by handle
	checkpoints map[string]uint64                // keyed by source key
	metrics     map[string]model.WalletMetrics   // keyed by lowercase wallet
	scores      map[string]model.ScoredAgent     // keyed by handle
	replies     map[string]time.Time             // keyed by handle
	apiKeys     map[string]bool
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		agents:      make(map[string]model.DiscoveredAgent),
		checkpoints: make(map[string]uint64),
		metrics:     make(map[string]model.WalletMetrics),
		scores:      make(map[string]model.ScoredAgent),
		replies:     make(map[string]time.Time),
		apiKeys:     make(map[string]bool),
	}
}

func (s *MemoryStore) UpsertAgent(_ context.Context, a model.DiscoveredAgent) error {
	if a.Handle == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()

	existing, ok := s.agents[a.Handle]
	if !ok {
		if a.FirstSeenAt.IsZero() {
			a.FirstSeenAt = time.Now()
		}
		a.Wallet = strings.ToLower(a.Wallet)
		s.agents[a.Handle] = a
		return nil
	}
	// Upsert semantics: fill in what the caller knows, never regress.
	if a.Wallet != "" {
		existing.Wallet = strings.ToLower(a.Wallet)
	}
	if a.LastActivityAt.After(existing.LastActivityAt) {
		existing.LastActivityAt = a.LastActivityAt
		if a.LastPostID != "" {
			existing.LastPostID = a.LastPostID
		}
	}
	if existing.LastPostID == "" {
		existing.LastPostID = a.LastPostID
	}
	if a.WalletRequested {
		existing.WalletRequested = true
	}
	s.agents[a.Handle] = existing
	return nil
}

func (s *MemoryStore) Agent(_ context.Context, handle string) (model.DiscoveredAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	a, ok := s.agents[handle]
	if !ok {
		return model.DiscoveredAgent{}, ErrNotFound
	}
	return a, nil
}

func (s *MemoryStore) Agents(_ context.Context) ([]model.DiscoveredAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.DiscoveredAgent, 0, len(s.agents))
	for _, a := range s.agents {
		out = append(out, a)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Handle < out[j].Handle })
	return out, nil
}

func (s *MemoryStore) SetAgentWallet(_ context.Context, handle, wallet string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[handle]
	if !ok {
		return ErrNotFound
	}
	a.Wallet = strings.ToLower(wallet)
	a.WalletRequested = false
	s.agents[handle] = a
	return nil
}

func (s *MemoryStore) MarkWalletRequested(_ context.Context, handle string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	a, ok := s.agents[handle]
	if !ok {
		return ErrNotFound
	}
	a.WalletRequested = true
	s.agents[handle] = a
	return nil
}

func (s *MemoryStore) Checkpoint(_ context.Context, sourceKey string) (uint64, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	h, ok := s.checkpoints[sourceKey]
	return h, ok, nil
}

// AdvanceCheckpoint never lets the persisted height decrease.
func (s *MemoryStore) AdvanceCheckpoint(_ context.Context, sourceKey string, height uint64) error {
	if sourceKey == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if current, ok := s.checkpoints[sourceKey]; ok && current >= height {
		return nil
	}
	s.checkpoints[sourceKey] = height
	return nil
}

func (s *MemoryStore) MergeWalletMetrics(_ context.Context, d model.EventDelta) error {
	if d.Wallet == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	key := strings.ToLower(d.Wallet)
	m := s.metrics[key]
	m.Wallet = key
	m.Merge(d)
	s.metrics[key] = m
	return nil
}

func (s *MemoryStore) WalletMetrics(_ context.Context, wallet string) (model.WalletMetrics, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	m, ok := s.metrics[strings.ToLower(wallet)]
	return m, ok, nil
}

func (s *MemoryStore) SaveScore(_ context.Context, sc model.ScoredAgent) error {
	if sc.Handle == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.scores[sc.Handle]; ok {
		sc.PrevScore = prev.Score
	}
	s.scores[sc.Handle] = sc
	return nil
}

func (s *MemoryStore) Score(_ context.Context, handle string) (model.ScoredAgent, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	sc, ok := s.scores[handle]
	if !ok {
		return model.ScoredAgent{}, ErrNotFound
	}
	return sc, nil
}

func (s *MemoryStore) TopScores(_ context.Context, n int) ([]model.ScoredAgent, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]model.ScoredAgent, 0, len(s.scores))
	for _, sc := range s.scores {
		out = append(out, sc)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Handle < out[j].Handle
	})
	if len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (s *MemoryStore) LastReply(_ context.Context, handle string) (time.Time, bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	at, ok := s.replies[handle]
	return at, ok, nil
}

func (s *MemoryStore) RecordReply(_ context.Context, handle string, at time.Time) error {
	if handle == "" {
		return ErrEmptyKey
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.replies[handle] = at
	return nil
}

func (s *MemoryStore) RepliesSince(_ context.Context, since time.Time) (int, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	count := 0
	for _, at := range s.replies {
		if !at.Before(since) {
			count++
		}
	}
	return count, nil
}

func (s *MemoryStore) ValidAPIKey(_ context.Context, key string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.apiKeys[key], nil
}

// AddAPIKey registers a key; used by tests and the non-durable mode.
func (s *MemoryStore) AddAPIKey(key string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.apiKeys[key] = true
}

func (s *MemoryStore) Close() {}
