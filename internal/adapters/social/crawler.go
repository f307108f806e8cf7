package social

import (
	"context"
	"errors"
	"fmt"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/veyralabs/agentrank/internal/adapters/repository"
	"github.com/veyralabs/agentrank/internal/domain/model"
	"github.com/veyralabs/agentrank/pkg/cache"
	"github.com/veyralabs/agentrank/pkg/logger"
	"github.com/veyralabs/agentrank/pkg/metrics"
)

const (
	defaultCooldown     = 30 * time.Second
	defaultOwnPostLimit = 20
	defaultProfileTTL   = time.Hour
	walletRequestMarker = "wallet"
	sourceSocial        = "social"
)

var walletPattern = regexp.MustCompile(`0x[0-9a-fA-F]{40}`)

// Crawler discovers recently active agents from the feed and resolves
// their wallets from profiles and from replies to our own outreach posts.
type Crawler struct {
	client     *Client
	store      repository.Store
	profiles   *cache.Cache[string, Profile]
	log        logger.Logger
	selfHandle string

	cooldown     time.Duration
	ownPostLimit int
}

// CrawlerOption applies a configuration option to the Crawler.
type CrawlerOption func(*Crawler)

// WithCooldown sets the back-off window after a 429 before the single retry.
func WithCooldown(d time.Duration) CrawlerOption {
	return func(c *Crawler) {
		if d >= 0 {
			c.cooldown = d
		}
	}
}

// WithOwnPostLimit caps how many of our own posts the reply scan walks.
func WithOwnPostLimit(n int) CrawlerOption {
	return func(c *Crawler) {
		if n > 0 {
			c.ownPostLimit = n
		}
	}
}

// WithProfileTTL sets how long profile lookups are cached.
func WithProfileTTL(d time.Duration) CrawlerOption {
	return func(c *Crawler) {
		if d > 0 {
			c.profiles = cache.New(cache.WithTTL[string, Profile](d))
		}
	}
}

// NewCrawler creates a Crawler. selfHandle is the handle this service
// posts under; its posts are the targets of the wallet reply scan.
func NewCrawler(client *Client, store repository.Store, selfHandle string, opts ...CrawlerOption) *Crawler {
	c := &Crawler{
		client:       client,
		store:        store,
		profiles:     cache.New(cache.WithTTL[string, Profile](defaultProfileTTL)),
		log:          logger.Get().Named("crawler"),
		selfHandle:   selfHandle,
		cooldown:     defaultCooldown,
		ownPostLimit: defaultOwnPostLimit,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// Discover fetches the latest feed posts and returns one DiscoveredAgent per
// unique author, carrying the id and timestamp of the author's most recent
// post. Wallets are resolved from profiles for handles the store does not
// already know a wallet for; lookup failures leave the wallet empty and never
// fail the run.
func (c *Crawler) Discover(ctx context.Context, limit int) ([]model.DiscoveredAgent, error) {
	posts, err := c.client.RecentPosts(ctx, limit)
	if err != nil {
		return nil, fmt.Errorf("fetching feed: %w", err)
	}

	type lastPost struct {
		id string
		at time.Time
	}
	latest := make(map[string]lastPost)
	for _, p := range posts {
		if p.Author == c.selfHandle {
			continue
		}
		if cur, ok := latest[p.Author]; !ok || p.CreatedAt.After(cur.at) {
			latest[p.Author] = lastPost{id: p.ID, at: p.CreatedAt}
		}
	}

	handles := make([]string, 0, len(latest))
	for h := range latest {
		handles = append(handles, h)
	}
	sort.Strings(handles)

	out := make([]model.DiscoveredAgent, 0, len(handles))
	for _, handle := range handles {
		agent := model.DiscoveredAgent{
			Handle:         handle,
			LastActivityAt: latest[handle].at,
			LastPostID:     latest[handle].id,
		}
		if !c.knownWallet(ctx, handle) {
			agent.Wallet = c.lookupWallet(ctx, handle)
		}
		out = append(out, agent)
	}

	metrics.RecordAgentsDiscovered(len(out))
	return out, nil
}

// ScanWalletReplies walks replies to our own recent wallet-request posts
// looking for inline wallet addresses, and fills in the replying agent's
// wallet. Returns how many wallets were resolved. Malformed candidates are
// dropped individually.
func (c *Crawler) ScanWalletReplies(ctx context.Context) (int, error) {
	own, err := c.client.PostsBy(ctx, c.selfHandle, c.ownPostLimit)
	if err != nil {
		return 0, fmt.Errorf("fetching own posts: %w", err)
	}

	resolved := 0
	for _, post := range own {
		if !strings.Contains(strings.ToLower(post.Body), walletRequestMarker) {
			continue
		}
		replies, err := c.client.Replies(ctx, post.ID)
		if err != nil {
			c.log.Warn(ctx, "skipping reply scan for post",
				logger.String("post_id", post.ID), logger.Error(err))
			metrics.RecordSourceError(sourceSocial)
			continue
		}
		for _, reply := range replies {
			wallet, ok := extractWallet(reply.Body)
			if !ok {
				continue
			}
			if c.adoptWallet(ctx, reply.Author, wallet) {
				resolved++
			}
		}
	}
	return resolved, nil
}

// knownWallet reports whether the store already holds a wallet for handle.
func (c *Crawler) knownWallet(ctx context.Context, handle string) bool {
	agent, err := c.store.Agent(ctx, handle)
	if errors.Is(err, repository.ErrNotFound) {
		return false
	}
	if err != nil {
		c.log.Warn(ctx, "agent lookup failed", logger.String("handle", handle), logger.Error(err))
		return false
	}
	return agent.HasWallet()
}

// lookupWallet fetches the handle's profile, retrying once after the
// cooldown window when the provider rate-limits us. Returns "" on any
// failure or when the profile carries no valid wallet.
func (c *Crawler) lookupWallet(ctx context.Context, handle string) string {
	fetch := func(ctx context.Context) (Profile, error) {
		return c.client.Profile(ctx, handle)
	}
	profile, err := c.profiles.GetOrFetch(ctx, handle, fetch)
	if errors.Is(err, ErrRateLimited) {
		c.log.Warn(ctx, "profile lookup rate limited, backing off",
			logger.String("handle", handle))
		if sleepErr := sleepCtx(ctx, c.cooldown); sleepErr != nil {
			return ""
		}
		profile, err = c.profiles.GetOrFetch(ctx, handle, fetch)
	}
	if err != nil {
		c.log.Warn(ctx, "profile lookup failed", logger.String("handle", handle), logger.Error(err))
		metrics.RecordSourceError(sourceSocial)
		return ""
	}
	if !common.IsHexAddress(profile.Wallet) {
		return ""
	}
	return strings.ToLower(common.HexToAddress(profile.Wallet).Hex())
}

// adoptWallet records a wallet found in a reply, provided the replying
// handle is a known agent that does not already have one.
func (c *Crawler) adoptWallet(ctx context.Context, handle, wallet string) bool {
	agent, err := c.store.Agent(ctx, handle)
	if err != nil || agent.HasWallet() {
		return false
	}
	if err := c.store.SetAgentWallet(ctx, handle, wallet); err != nil {
		c.log.Warn(ctx, "storing resolved wallet failed",
			logger.String("handle", handle), logger.Error(err))
		return false
	}
	c.log.Info(ctx, "wallet resolved from reply",
		logger.String("handle", handle), logger.String("wallet", wallet))
	metrics.RecordWalletResolved()
	return true
}

// extractWallet returns the first syntactically valid wallet address in
// body, lowercased.
func extractWallet(body string) (string, bool) {
	candidate := walletPattern.FindString(body)
	if candidate == "" || !common.IsHexAddress(candidate) {
		return "", false
	}
	return strings.ToLower(common.HexToAddress(candidate).Hex()), true
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
