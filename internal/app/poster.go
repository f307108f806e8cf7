package app

import (
	"context"
	"fmt"

	"github.com/veyralabs/agentrank/internal/adapters/social"
)

// feedPoster sends outreach through the feed API: score replies as comments
// on the candidate's latest post, wallet requests as top-level posts.
type feedPoster struct {
	client *social.Client
}

func (p *feedPoster) Reply(ctx context.Context, handle, postID, message string) error {
	if postID == "" {
		return fmt.Errorf("no post to reply to for %s", handle)
	}
	if err := p.client.CreateComment(ctx, postID, message); err != nil {
		return fmt.Errorf("commenting on post %s by %s: %w", postID, handle, err)
	}
	return nil
}

// RequestWallet asks an agent to share a wallet address. The reply scan
// recognizes responses to these posts by the "wallet" keyword.
func (p *feedPoster) RequestWallet(ctx context.Context, handle string) error {
	message := fmt.Sprintf("@%s share your wallet address in a reply and your on-chain activity will count toward your reputation score.", handle)
	if _, err := p.client.CreatePost(ctx, message); err != nil {
		return fmt.Errorf("posting wallet request to %s: %w", handle, err)
	}
	return nil
}

// noopPoster backs outreach when no feed credentials are configured; the
// engine still evaluates and records skip metrics.
type noopPoster struct{}

func (noopPoster) Reply(context.Context, string, string, string) error { return nil }
func (noopPoster) RequestWallet(context.Context, string) error         { return nil }
