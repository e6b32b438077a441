package identity

import (
	"context"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// LoginThrottle rate-limits failed password authentications per username
// using Redis counters. A nil throttle disables limiting.
type LoginThrottle struct {
	client *redis.Client
	max    int
	window time.Duration
}

// NewLoginThrottle constructs a throttle allowing max failures per window.
func NewLoginThrottle(client *redis.Client, max int, window time.Duration) *LoginThrottle {
	return &LoginThrottle{client: client, max: max, window: window}
}

func (t *LoginThrottle) key(username string) string {
	return "login_fail:" + username
}

// Blocked reports whether the username has exhausted its failure budget.
func (t *LoginThrottle) Blocked(ctx context.Context, username string) (bool, error) {
	if t == nil || t.client == nil {
		return false, nil
	}
	count, err := t.client.Get(ctx, t.key(username)).Int()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, fmt.Errorf("identity: throttle read: %w", err)
	}
	return count >= t.max, nil
}

// RecordFailure counts a failed authentication attempt.
func (t *LoginThrottle) RecordFailure(ctx context.Context, username string) error {
	if t == nil || t.client == nil {
		return nil
	}
	pipe := t.client.TxPipeline()
	pipe.Incr(ctx, t.key(username))
	pipe.Expire(ctx, t.key(username), t.window)
	if _, err := pipe.Exec(ctx); err != nil {
		return fmt.Errorf("identity: throttle write: %w", err)
	}
	return nil
}

// Reset clears the failure counter after a successful authentication.
func (t *LoginThrottle) Reset(ctx context.Context, username string) error {
	if t == nil || t.client == nil {
		return nil
	}
	if err := t.client.Del(ctx, t.key(username)).Err(); err != nil && err != redis.Nil {
		return fmt.Errorf("identity: throttle reset: %w", err)
	}
	return nil
}
