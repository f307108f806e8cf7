// Package finance queries an external financial-activity service through
// its asynchronous job API: submit a job for a wallet, then poll until the
// result is ready. Access requires a per-integration API key; without one
// the client reports itself disabled and the aggregator leaves the
// financial block absent.
package finance

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"

	"github.com/veyralabs/agentrank/internal/domain/model"
	"github.com/veyralabs/agentrank/pkg/logger"
)

const (
	defaultTimeout      = 10 * time.Second
	defaultPollInterval = 2 * time.Second
	defaultPollBudget   = 15
	tokenTTL            = 5 * time.Minute
	maxBodyBytes        = 1 << 20
)

var (
	// ErrDisabled is returned when no API key is configured.
	ErrDisabled = errors.New("finance: no api key configured")
	// ErrJobFailed is returned when the service reports a failed job.
	ErrJobFailed = errors.New("finance: job failed")
	// ErrJobTimeout is returned when the poll budget runs out.
	ErrJobTimeout = errors.New("finance: job did not complete in time")
)

// Client submits and polls financial-activity jobs.
type Client struct {
	baseURL string
	apiKey  string
	http    *http.Client
	log     logger.Logger
	now     func() time.Time

	pollInterval time.Duration
	pollBudget   int
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

// WithPollInterval sets the delay between result polls.
func WithPollInterval(d time.Duration) Option {
	return func(c *Client) {
		if d >= 0 {
			c.pollInterval = d
		}
	}
}

// WithPollBudget caps how many polls a single job gets.
func WithPollBudget(n int) Option {
	return func(c *Client) {
		if n > 0 {
			c.pollBudget = n
		}
	}
}

// New creates a finance client. An empty apiKey yields a disabled client;
// all lookups return ErrDisabled.
func New(baseURL, apiKey string, opts ...Option) *Client {
	c := &Client{
		baseURL:      baseURL,
		apiKey:       apiKey,
		http:         &http.Client{Timeout: defaultTimeout},
		log:          logger.Get().Named("finance"),
		now:          time.Now,
		pollInterval: defaultPollInterval,
		pollBudget:   defaultPollBudget,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Enabled reports whether the client holds a credential.
func (c *Client) Enabled() bool { return c.apiKey != "" }

// Activity submits a wallet-activity job and polls for its result.
func (c *Client) Activity(ctx context.Context, wallet string) (*model.FinancialActivity, error) {
	if !c.Enabled() {
		return nil, ErrDisabled
	}

	jobID, err := c.submit(ctx, wallet)
	if err != nil {
		return nil, err
	}
	c.log.Debug(ctx, "wallet activity job submitted",
		logger.String("job_id", jobID), logger.String("wallet", wallet))

	for i := 0; i < c.pollBudget; i++ {
		activity, done, err := c.poll(ctx, jobID, wallet)
		if err != nil {
			return nil, err
		}
		if done {
			return activity, nil
		}
		if err := sleepCtx(ctx, c.pollInterval); err != nil {
			return nil, err
		}
	}
	return nil, fmt.Errorf("job %s for wallet %s: %w", jobID, wallet, ErrJobTimeout)
}

func (c *Client) submit(ctx context.Context, wallet string) (string, error) {
	payload, err := json.Marshal(map[string]string{
		"type":       "wallet_activity",
		"wallet":     wallet,
		"request_id": uuid.NewString(),
	})
	if err != nil {
		return "", fmt.Errorf("encoding job request: %w", err)
	}
	raw, err := c.do(ctx, http.MethodPost, "/v1/jobs", payload)
	if err != nil {
		return "", fmt.Errorf("submitting job for %s: %w", wallet, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", fmt.Errorf("decoding job response: %w", err)
	}
	jobID := stringField(m, "id", "job_id", "jobId")
	if jobID == "" {
		return "", errors.New("finance: job response carried no id")
	}
	return jobID, nil
}

// poll returns (result, done, err). done is false while the job is still
// queued or running.
func (c *Client) poll(ctx context.Context, jobID, wallet string) (*model.FinancialActivity, bool, error) {
	raw, err := c.do(ctx, http.MethodGet, "/v1/jobs/"+jobID, nil)
	if err != nil {
		return nil, false, fmt.Errorf("polling job %s: %w", jobID, err)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, false, fmt.Errorf("decoding job %s: %w", jobID, err)
	}

	switch stringField(m, "status", "state") {
	case "completed", "done", "succeeded":
		return parseActivity(m, wallet), true, nil
	case "failed", "error":
		return nil, false, fmt.Errorf("job %s: %w", jobID, ErrJobFailed)
	default:
		return nil, false, nil
	}
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	token, err := c.bearerToken()
	if err != nil {
		return nil, err
	}

	var reader io.Reader
	if body != nil {
		reader = bytes.NewReader(body)
	}
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reader)
	if err != nil {
		return nil, fmt.Errorf("building %s %s: %w", method, path, err)
	}
	req.Header.Set("Authorization", "Bearer "+token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s returned %d", method, path, resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
}

// bearerToken mints a short-lived HS256 token signed with the integration
// API key, per the provider's auth scheme.
func (c *Client) bearerToken() (string, error) {
	now := c.now()
	claims := jwt.MapClaims{
		"iss": "agentrank",
		"iat": now.Unix(),
		"exp": now.Add(tokenTTL).Unix(),
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(c.apiKey))
	if err != nil {
		return "", fmt.Errorf("signing auth token: %w", err)
	}
	return token, nil
}

// parseActivity reads the job result defensively; missing fields default
// to zero. Reliability is clamped into [0,1].
func parseActivity(m map[string]any, wallet string) *model.FinancialActivity {
	if inner, ok := m["result"].(map[string]any); ok {
		m = inner
	}
	reliability := floatField(m, "reliability", "reliability_score")
	if reliability < 0 {
		reliability = 0
	}
	if reliability > 1 {
		reliability = 1
	}
	return &model.FinancialActivity{
		Wallet:      wallet,
		VolumeUSD:   floatField(m, "volume_usd", "volumeUsd", "volume"),
		TxCount:     uint64(floatField(m, "tx_count", "txCount", "transactions")),
		Reliability: reliability,
	}
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

func sleepCtx(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
