// Package debate reads a public debate-ranking leaderboard and matches
// agents against it by handle. The leaderboard is fetched at most once per
// cache window; rows are parsed defensively since the provider's field
// names are not stable.
package debate

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"github.com/veyralabs/agentrank/internal/domain/model"
	"github.com/veyralabs/agentrank/pkg/cache"
	"github.com/veyralabs/agentrank/pkg/logger"
)

const (
	defaultTimeout = 6 * time.Second
	defaultTTL     = 10 * time.Minute
	maxBodyBytes   = 4 << 20
	boardCacheKey  = "leaderboard"
)

// Client fetches and caches the debate leaderboard.
type Client struct {
	baseURL string
	http    *http.Client
	board   *cache.Cache[string, []model.DebateRecord]
	log     logger.Logger
}

// Option applies a configuration option to the Client.
type Option func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) Option {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithCacheTTL sets how long a fetched leaderboard stays fresh.
func WithCacheTTL(d time.Duration) Option {
	return func(c *Client) {
		if d > 0 {
			c.board = cache.New(cache.WithTTL[string, []model.DebateRecord](d))
		}
	}
}

// New creates a leaderboard client for the given base URL.
func New(baseURL string, opts ...Option) *Client {
	c := &Client{
		baseURL: baseURL,
		http:    &http.Client{Timeout: defaultTimeout},
		board:   cache.New(cache.WithTTL[string, []model.DebateRecord](defaultTTL)),
		log:     logger.Get().Named("debate"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Record returns the leaderboard entry for handle, matched
// case-insensitively, or ok=false when the handle is unranked.
func (c *Client) Record(ctx context.Context, handle string) (*model.DebateRecord, bool, error) {
	rows, err := c.board.GetOrFetch(ctx, boardCacheKey, c.fetch)
	if err != nil {
		return nil, false, err
	}
	want := strings.ToLower(handle)
	for i := range rows {
		if strings.ToLower(rows[i].Handle) == want {
			rec := rows[i]
			return &rec, true, nil
		}
	}
	return nil, false, nil
}

func (c *Client) fetch(ctx context.Context) ([]model.DebateRecord, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/v1/leaderboard", nil)
	if err != nil {
		return nil, fmt.Errorf("building leaderboard request: %w", err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching leaderboard: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("leaderboard returned %d", resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading leaderboard: %w", err)
	}
	rows := parseBoard(data)
	c.log.Debug(ctx, "leaderboard refreshed", logger.Int("rows", len(rows)))
	return rows, nil
}

// parseBoard accepts a bare array or an envelope with a "leaderboard" /
// "rows" / "data" list. Rows without a handle are dropped. Rank falls back
// to the row's 1-based position when the provider omits it.
func parseBoard(raw []byte) []model.DebateRecord {
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		var envelope map[string]any
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil
		}
		for _, key := range []string{"leaderboard", "rows", "data"} {
			if list, ok := envelope[key].([]any); ok {
				for _, item := range list {
					if m, ok := item.(map[string]any); ok {
						rows = append(rows, m)
					}
				}
				break
			}
		}
	}

	out := make([]model.DebateRecord, 0, len(rows))
	for i, m := range rows {
		handle := stringField(m, "handle", "username", "agent", "name")
		if handle == "" {
			continue
		}
		rec := model.DebateRecord{
			Handle:    handle,
			Wins:      uintField(m, "wins", "win_count"),
			Losses:    uintField(m, "losses", "loss_count"),
			WinRate:   floatField(m, "win_rate", "winRate"),
			JuryScore: floatField(m, "jury_score", "juryScore", "score"),
			Rank:      int(uintField(m, "rank", "position")),
			Debates:   uintField(m, "debates", "total_debates", "matches"),
		}
		if rec.Rank == 0 {
			rec.Rank = i + 1
		}
		if rec.WinRate == 0 && rec.Wins+rec.Losses > 0 {
			rec.WinRate = float64(rec.Wins) / float64(rec.Wins+rec.Losses)
		}
		if rec.Debates == 0 {
			rec.Debates = rec.Wins + rec.Losses
		}
		out = append(out, rec)
	}
	return out
}

func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

func floatField(m map[string]any, keys ...string) float64 {
	for _, k := range keys {
		if v, ok := m[k].(float64); ok {
			return v
		}
	}
	return 0
}

func uintField(m map[string]any, keys ...string) uint64 {
	for _, k := range keys {
		if v, ok := m[k].(float64); ok && v >= 0 {
			return uint64(v)
		}
	}
	return 0
}
