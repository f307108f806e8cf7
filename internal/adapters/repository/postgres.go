package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/veyralabs/agentrank/internal/domain/model"
)

// PostgresStore persists pipeline state in Postgres via pgx. The schema is
// provisioned externally (see the ops repo); this store only issues
// upserts and reads against the fixed tables.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and verifies the connection.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) UpsertAgent(ctx context.Context, a model.DiscoveredAgent) error {
	if a.Handle == "" {
		return ErrEmptyKey
	}
	const q = `
INSERT INTO discovered_agents (handle, wallet, last_activity_at, last_post_id, wallet_requested, first_seen_at)
VALUES ($1, NULLIF($2, ''), $3, NULLIF($4, ''), $5, COALESCE($6, now()))
ON CONFLICT (handle) DO UPDATE SET
  wallet           = COALESCE(NULLIF(EXCLUDED.wallet, ''), discovered_agents.wallet),
  last_activity_at = GREATEST(discovered_agents.last_activity_at, EXCLUDED.last_activity_at),
  last_post_id     = CASE
                       WHEN EXCLUDED.last_activity_at > discovered_agents.last_activity_at
                       THEN COALESCE(NULLIF(EXCLUDED.last_post_id, ''), discovered_agents.last_post_id)
                       ELSE COALESCE(discovered_agents.last_post_id, NULLIF(EXCLUDED.last_post_id, ''))
                     END,
  wallet_requested = discovered_agents.wallet_requested OR EXCLUDED.wallet_requested`
	_, err := s.pool.Exec(ctx, q,
		a.Handle, strings.ToLower(a.Wallet), nullableTime(a.LastActivityAt), a.LastPostID,
		a.WalletRequested, nullableTime(a.FirstSeenAt))
	if err != nil {
		return fmt.Errorf("upsert agent %q: %w", a.Handle, err)
	}
	return nil
}

func (s *PostgresStore) Agent(ctx context.Context, handle string) (model.DiscoveredAgent, error) {
	const q = `
SELECT handle, COALESCE(wallet, ''), last_activity_at, COALESCE(last_post_id, ''), wallet_requested, first_seen_at
FROM discovered_agents WHERE handle = $1`
	a, err := scanAgent(s.pool.QueryRow(ctx, q, handle))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.DiscoveredAgent{}, ErrNotFound
	}
	if err != nil {
		return model.DiscoveredAgent{}, fmt.Errorf("load agent %q: %w", handle, err)
	}
	return a, nil
}

func (s *PostgresStore) Agents(ctx context.Context) ([]model.DiscoveredAgent, error) {
	const q = `
SELECT handle, COALESCE(wallet, ''), last_activity_at, COALESCE(last_post_id, ''), wallet_requested, first_seen_at
FROM discovered_agents ORDER BY handle`
	rows, err := s.pool.Query(ctx, q)
	if err != nil {
		return nil, fmt.Errorf("list agents: %w", err)
	}
	defer rows.Close()

	var out []model.DiscoveredAgent
	for rows.Next() {
		a, err := scanAgent(rows)
		if err != nil {
			return nil, fmt.Errorf("scan agent row: %w", err)
		}
		out = append(out, a)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate agents: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) SetAgentWallet(ctx context.Context, handle, wallet string) error {
	const q = `
UPDATE discovered_agents SET wallet = $2, wallet_requested = FALSE WHERE handle = $1`
	tag, err := s.pool.Exec(ctx, q, handle, strings.ToLower(wallet))
	if err != nil {
		return fmt.Errorf("set wallet for %q: %w", handle, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) MarkWalletRequested(ctx context.Context, handle string) error {
	const q = `UPDATE discovered_agents SET wallet_requested = TRUE WHERE handle = $1`
	tag, err := s.pool.Exec(ctx, q, handle)
	if err != nil {
		return fmt.Errorf("mark wallet requested for %q: %w", handle, err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) Checkpoint(ctx context.Context, sourceKey string) (uint64, bool, error) {
	const q = `SELECT last_processed_height FROM scan_checkpoints WHERE source_key = $1`
	var height int64
	err := s.pool.QueryRow(ctx, q, sourceKey).Scan(&height)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, fmt.Errorf("load checkpoint %q: %w", sourceKey, err)
	}
	return uint64(height), true, nil
}

// AdvanceCheckpoint is monotonic at the SQL level: GREATEST guards against
// a stale writer ever lowering the persisted height.
func (s *PostgresStore) AdvanceCheckpoint(ctx context.Context, sourceKey string, height uint64) error {
	if sourceKey == "" {
		return ErrEmptyKey
	}
	const q = `
INSERT INTO scan_checkpoints (source_key, last_processed_height)
VALUES ($1, $2)
ON CONFLICT (source_key) DO UPDATE SET
  last_processed_height = GREATEST(scan_checkpoints.last_processed_height, EXCLUDED.last_processed_height)`
	if _, err := s.pool.Exec(ctx, q, sourceKey, int64(height)); err != nil {
		return fmt.Errorf("advance checkpoint %q to %d: %w", sourceKey, height, err)
	}
	return nil
}

func (s *PostgresStore) MergeWalletMetrics(ctx context.Context, d model.EventDelta) error {
	if d.Wallet == "" {
		return ErrEmptyKey
	}
	const q = `
INSERT INTO wallet_metrics (wallet, tasks_completed, tasks_failed, disputes, slashes, first_seen_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (wallet) DO UPDATE SET
  tasks_completed = wallet_metrics.tasks_completed + EXCLUDED.tasks_completed,
  tasks_failed    = wallet_metrics.tasks_failed    + EXCLUDED.tasks_failed,
  disputes        = wallet_metrics.disputes        + EXCLUDED.disputes,
  slashes         = wallet_metrics.slashes         + EXCLUDED.slashes,
  first_seen_at   = LEAST(wallet_metrics.first_seen_at, EXCLUDED.first_seen_at)`
	_, err := s.pool.Exec(ctx, q,
		strings.ToLower(d.Wallet),
		int64(d.Completed), int64(d.Failed), int64(d.Disputes), int64(d.Slashes),
		firstSeenOrNow(d.EarliestAt))
	if err != nil {
		return fmt.Errorf("merge wallet metrics %q: %w", d.Wallet, err)
	}
	return nil
}

func (s *PostgresStore) WalletMetrics(ctx context.Context, wallet string) (model.WalletMetrics, bool, error) {
	const q = `
SELECT wallet, tasks_completed, tasks_failed, disputes, slashes, first_seen_at
FROM wallet_metrics WHERE wallet = $1`
	var (
		m                                    model.WalletMetrics
		completed, failed, disputes, slashes int64
	)
	err := s.pool.QueryRow(ctx, q, strings.ToLower(wallet)).
		Scan(&m.Wallet, &completed, &failed, &disputes, &slashes, &m.FirstSeenAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.WalletMetrics{}, false, nil
	}
	if err != nil {
		return model.WalletMetrics{}, false, fmt.Errorf("load wallet metrics %q: %w", wallet, err)
	}
	m.TasksCompleted = uint64(completed)
	m.TasksFailed = uint64(failed)
	m.Disputes = uint64(disputes)
	m.Slashes = uint64(slashes)
	return m, true, nil
}

func (s *PostgresStore) SaveScore(ctx context.Context, sc model.ScoredAgent) error {
	if sc.Handle == "" {
		return ErrEmptyKey
	}
	components, err := json.Marshal(sc.Components)
	if err != nil {
		return fmt.Errorf("marshal components for %q: %w", sc.Handle, err)
	}
	const q = `
INSERT INTO scored_agents (handle, wallet, score, tier, components, completion_rate, completeness, computed_at, prev_score)
VALUES ($1, NULLIF($2, ''), $3, $4, $5, $6, $7, $8, 0)
ON CONFLICT (handle) DO UPDATE SET
  wallet          = COALESCE(NULLIF(EXCLUDED.wallet, ''), scored_agents.wallet),
  prev_score      = scored_agents.score,
  score           = EXCLUDED.score,
  tier            = EXCLUDED.tier,
  components      = EXCLUDED.components,
  completion_rate = EXCLUDED.completion_rate,
  completeness    = EXCLUDED.completeness,
  computed_at     = EXCLUDED.computed_at`
	_, err = s.pool.Exec(ctx, q,
		sc.Handle, strings.ToLower(sc.Wallet), sc.Score, sc.Tier, components,
		sc.CompletionRate, sc.Completeness, sc.ComputedAt)
	if err != nil {
		return fmt.Errorf("save score for %q: %w", sc.Handle, err)
	}
	return nil
}

func (s *PostgresStore) Score(ctx context.Context, handle string) (model.ScoredAgent, error) {
	const q = scoredAgentColumns + ` WHERE handle = $1`
	sc, err := scanScore(s.pool.QueryRow(ctx, q, handle))
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ScoredAgent{}, ErrNotFound
	}
	if err != nil {
		return model.ScoredAgent{}, fmt.Errorf("load score %q: %w", handle, err)
	}
	return sc, nil
}

func (s *PostgresStore) TopScores(ctx context.Context, n int) ([]model.ScoredAgent, error) {
	if n < 1 {
		return nil, ErrInvalidLimit
	}
	const q = scoredAgentColumns + ` ORDER BY score DESC, handle LIMIT $1`
	rows, err := s.pool.Query(ctx, q, n)
	if err != nil {
		return nil, fmt.Errorf("top scores: %w", err)
	}
	defer rows.Close()

	var out []model.ScoredAgent
	for rows.Next() {
		sc, err := scanScore(rows)
		if err != nil {
			return nil, fmt.Errorf("scan score row: %w", err)
		}
		out = append(out, sc)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate scores: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) LastReply(ctx context.Context, handle string) (time.Time, bool, error) {
	const q = `SELECT replied_at FROM reply_records WHERE handle = $1`
	var at time.Time
	err := s.pool.QueryRow(ctx, q, handle).Scan(&at)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("load reply record %q: %w", handle, err)
	}
	return at, true, nil
}

func (s *PostgresStore) RecordReply(ctx context.Context, handle string, at time.Time) error {
	if handle == "" {
		return ErrEmptyKey
	}
	const q = `
INSERT INTO reply_records (handle, replied_at) VALUES ($1, $2)
ON CONFLICT (handle) DO UPDATE SET replied_at = EXCLUDED.replied_at`
	if _, err := s.pool.Exec(ctx, q, handle, at); err != nil {
		return fmt.Errorf("record reply for %q: %w", handle, err)
	}
	return nil
}

func (s *PostgresStore) RepliesSince(ctx context.Context, since time.Time) (int, error) {
	const q = `SELECT COUNT(*) FROM reply_records WHERE replied_at >= $1`
	var n int
	if err := s.pool.QueryRow(ctx, q, since).Scan(&n); err != nil {
		return 0, fmt.Errorf("count replies: %w", err)
	}
	return n, nil
}

func (s *PostgresStore) ValidAPIKey(ctx context.Context, key string) (bool, error) {
	const q = `SELECT EXISTS (SELECT 1 FROM api_keys WHERE key = $1 AND revoked_at IS NULL)`
	var ok bool
	if err := s.pool.QueryRow(ctx, q, key).Scan(&ok); err != nil {
		return false, fmt.Errorf("look up api key: %w", err)
	}
	return ok, nil
}

func (s *PostgresStore) Close() {
	s.pool.Close()
}

const scoredAgentColumns = `
SELECT handle, COALESCE(wallet, ''), score, tier, components, completion_rate, completeness, computed_at, prev_score
FROM scored_agents`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanAgent(row rowScanner) (model.DiscoveredAgent, error) {
	var (
		a        model.DiscoveredAgent
		activity *time.Time
	)
	if err := row.Scan(&a.Handle, &a.Wallet, &activity, &a.LastPostID, &a.WalletRequested, &a.FirstSeenAt); err != nil {
		return model.DiscoveredAgent{}, err
	}
	if activity != nil {
		a.LastActivityAt = *activity
	}
	return a, nil
}

func scanScore(row rowScanner) (model.ScoredAgent, error) {
	var (
		sc         model.ScoredAgent
		components []byte
	)
	err := row.Scan(&sc.Handle, &sc.Wallet, &sc.Score, &sc.Tier, &components,
		&sc.CompletionRate, &sc.Completeness, &sc.ComputedAt, &sc.PrevScore)
	if err != nil {
		return model.ScoredAgent{}, err
	}
	if len(components) > 0 {
		if err := json.Unmarshal(components, &sc.Components); err != nil {
			return model.ScoredAgent{}, fmt.Errorf("unmarshal components: %w", err)
		}
	}
	return sc, nil
}

func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func firstSeenOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}
