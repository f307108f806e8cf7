// Package social talks to the agent feed provider: feed listing, profile
// lookup and post/comment creation. The provider enforces strict rate
// limits, so every request goes through a shared limiter and payloads are
// parsed defensively since field names vary between provider versions.
package social

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"golang.org/x/time/rate"

	"github.com/veyralabs/agentrank/pkg/logger"
)

const (
	defaultTimeout     = 8 * time.Second
	defaultRequestRate = rate.Limit(0.5) // one request per 2s
	maxBodyBytes       = 4 << 20
)

// Post is a feed post or a reply.
type Post struct {
	ID        string
	Author    string
	Body      string
	CreatedAt time.Time
}

// Profile is an agent's public profile.
type Profile struct {
	Handle      string
	DisplayName string
	Wallet      string
}

// Client is a feed API client.
type Client struct {
	baseURL string
	token   string
	http    *http.Client
	limiter *rate.Limiter
	log     logger.Logger
}

// ClientOption applies a configuration option to the Client.
type ClientOption func(*Client)

// WithHTTPClient replaces the underlying HTTP client.
func WithHTTPClient(h *http.Client) ClientOption {
	return func(c *Client) {
		if h != nil {
			c.http = h
		}
	}
}

// WithRequestRate sets the sustained request rate against the provider.
func WithRequestRate(r rate.Limit) ClientOption {
	return func(c *Client) {
		if r > 0 {
			c.limiter = rate.NewLimiter(r, 1)
		}
	}
}

// WithTimeout bounds each request.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.http.Timeout = d
		}
	}
}

// NewClient creates a feed client for the given base URL and bearer token.
func NewClient(baseURL, token string, opts ...ClientOption) *Client {
	c := &Client{
		baseURL: baseURL,
		token:   token,
		http:    &http.Client{Timeout: defaultTimeout},
		limiter: rate.NewLimiter(defaultRequestRate, 1),
		log:     logger.Get().Named("social"),
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// RecentPosts returns the latest feed posts, newest first.
func (c *Client) RecentPosts(ctx context.Context, limit int) ([]Post, error) {
	raw, err := c.get(ctx, "/v1/posts?limit="+strconv.Itoa(limit))
	if err != nil {
		return nil, err
	}
	return parsePosts(raw), nil
}

// Replies returns the replies to a post.
func (c *Client) Replies(ctx context.Context, postID string) ([]Post, error) {
	raw, err := c.get(ctx, "/v1/posts/"+url.PathEscape(postID)+"/replies")
	if err != nil {
		return nil, err
	}
	return parsePosts(raw), nil
}

// PostsBy returns the latest posts authored by a handle, newest first.
func (c *Client) PostsBy(ctx context.Context, handle string, limit int) ([]Post, error) {
	if handle == "" {
		return nil, ErrEmptyHandle
	}
	raw, err := c.get(ctx, "/v1/agents/"+url.PathEscape(handle)+"/posts?limit="+strconv.Itoa(limit))
	if err != nil {
		return nil, err
	}
	return parsePosts(raw), nil
}

// Profile looks up an agent's public profile.
func (c *Client) Profile(ctx context.Context, handle string) (Profile, error) {
	if handle == "" {
		return Profile{}, ErrEmptyHandle
	}
	raw, err := c.get(ctx, "/v1/agents/"+url.PathEscape(handle))
	if err != nil {
		return Profile{}, err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return Profile{}, fmt.Errorf("decoding profile for %q: %w", handle, err)
	}
	p := parseProfile(m)
	if p.Handle == "" {
		p.Handle = handle
	}
	return p, nil
}

// CreateComment posts a reply under an existing post.
func (c *Client) CreateComment(ctx context.Context, postID, body string) error {
	payload := map[string]string{"body": body}
	_, err := c.post(ctx, "/v1/posts/"+url.PathEscape(postID)+"/replies", payload)
	return err
}

// CreatePost publishes a new top-level post and returns its ID.
func (c *Client) CreatePost(ctx context.Context, body string) (string, error) {
	raw, err := c.post(ctx, "/v1/posts", map[string]string{"body": body})
	if err != nil {
		return "", err
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return "", fmt.Errorf("decoding create-post response: %w", err)
	}
	return stringField(m, "id", "post_id", "postId"), nil
}

func (c *Client) get(ctx context.Context, path string) ([]byte, error) {
	return c.do(ctx, http.MethodGet, path, nil)
}

func (c *Client) post(ctx context.Context, path string, payload any) ([]byte, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("encoding request body: %w", err)
	}
	return c.do(ctx, http.MethodPost, path, body)
}

func (c *Client) do(ctx context.Context, method, path string, body []byte) ([]byte, error) {
	if err := c.limiter.Wait(ctx); err != nil {
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
	req.Header.Set("Authorization", "Bearer "+c.token)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", method, path, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusTooManyRequests {
		c.log.Debug(ctx, "rate limited by feed API", logger.String("path", path))
		return nil, ErrRateLimited
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("%s %s returned %d: %w", method, path, resp.StatusCode, ErrUnexpectedStatus)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return nil, fmt.Errorf("reading %s %s response: %w", method, path, err)
	}
	return data, nil
}

// parsePosts accepts either a bare JSON array or an envelope object with a
// "posts" / "replies" / "data" list. Rows that cannot be parsed at all
// (no author) are dropped rather than failing the batch.
func parsePosts(raw []byte) []Post {
	var rows []map[string]any
	if err := json.Unmarshal(raw, &rows); err != nil {
		var envelope map[string]any
		if err := json.Unmarshal(raw, &envelope); err != nil {
			return nil
		}
		for _, key := range []string{"posts", "replies", "data", "items"} {
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

	out := make([]Post, 0, len(rows))
	for _, m := range rows {
		p := Post{
			ID:        stringField(m, "id", "post_id", "postId"),
			Author:    stringField(m, "author", "handle", "username", "author_handle"),
			Body:      stringField(m, "body", "text", "content"),
			CreatedAt: timeField(m, "created_at", "createdAt", "timestamp"),
		}
		if p.Author == "" {
			continue
		}
		out = append(out, p)
	}
	return out
}

func parseProfile(m map[string]any) Profile {
	if inner, ok := m["profile"].(map[string]any); ok {
		m = inner
	}
	return Profile{
		Handle:      stringField(m, "handle", "username", "name"),
		DisplayName: stringField(m, "display_name", "displayName"),
		Wallet:      stringField(m, "wallet", "wallet_address", "walletAddress", "address"),
	}
}

// stringField returns the first present non-empty string among keys.
func stringField(m map[string]any, keys ...string) string {
	for _, k := range keys {
		if v, ok := m[k].(string); ok && v != "" {
			return v
		}
	}
	return ""
}

// timeField parses the first present timestamp among keys, accepting
// RFC 3339 strings or unix seconds. Returns the zero time when absent.
func timeField(m map[string]any, keys ...string) time.Time {
	for _, k := range keys {
		switch v := m[k].(type) {
		case string:
			if ts, err := time.Parse(time.RFC3339, v); err == nil {
				return ts.UTC()
			}
		case float64:
			if v > 0 {
				return time.Unix(int64(v), 0).UTC()
			}
		}
	}
	return time.Time{}
}
