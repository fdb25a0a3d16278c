package ratelimit

import (
	"context"
	"time"
)

type Result struct {
	Allowed           bool `json:"allowed"`
	Remaining         int  `json:"remaining"`
	RetryAfterSeconds int  `json:"retryAfterSeconds"`
}

// Store performs an atomic increment-and-check for one key.
type Store interface {
	Hit(ctx context.Context, key string, limit int, window time.Duration) (Result, error)
}

// Policy is a limit/window pair for an action key.
type Policy struct {
	Key    string
	Limit  int
	Window time.Duration
}

var (
	ReportsPolicy        = Policy{Key: "reports", Limit: 5, Window: 10 * time.Minute}
	ModerationScanPolicy = Policy{Key: "moderation_scan", Limit: 5, Window: 10 * time.Minute}
	CommentsPolicy       = Policy{Key: "comments", Limit: 20, Window: time.Minute}
)

type Limiter struct {
	store Store
}

func NewLimiter(store Store) *Limiter {
	return &Limiter{store: store}
}

// Consume records a hit for actor under actionKey.
func (l *Limiter) Consume(ctx context.Context, actor, actionKey string, limit int, window time.Duration) (Result, error) {
	return l.store.Hit(ctx, actionKey+":"+actor, limit, window)
}

func (l *Limiter) ConsumePolicy(ctx context.Context, actor string, p Policy) (Result, error) {
	return l.Consume(ctx, actor, p.Key, p.Limit, p.Window)
}

func retryAfterSeconds(oldestMs, nowMs int64, window time.Duration) int {
	waitMs := oldestMs + window.Milliseconds() - nowMs
	secs := int((waitMs + 999) / 1000)
	if secs < 1 {
		secs = 1
	}
	return secs
}
