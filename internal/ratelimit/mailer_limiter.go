package ratelimit

import (
	"context"
	"time"

	redis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/smallbiznis/reconciler/internal/config"
)

const (
	keyMailerSend      = "mailer:send"
	keyMailerBatchLock = "mailer:batch:lock"
)

// MailerLimiter caps the outbound email rate across all mailer instances and
// serialises batches. Without Redis every call is allowed.
type MailerLimiter struct {
	bucket  *TokenBucket
	locker  *Locker
	rate    float64
	burst   int
	lockTTL time.Duration
}

func NewMailerLimiter(cfg config.Config, client redis.UniversalClient, log *zap.Logger) *MailerLimiter {
	if client == nil {
		log.Warn("redis not configured, mailer runs without rate limit or batch lease")
		return &MailerLimiter{}
	}
	return &MailerLimiter{
		bucket:  NewTokenBucket(client),
		locker:  NewLocker(client),
		rate:    cfg.Email.SendRate,
		burst:   cfg.Email.SendBurst,
		lockTTL: time.Minute,
	}
}

func (l *MailerLimiter) Enabled() bool {
	return l != nil && l.bucket != nil
}

func (l *MailerLimiter) AllowSend(ctx context.Context) (Decision, error) {
	if !l.Enabled() {
		return Decision{Allowed: true}, nil
	}
	return l.bucket.Allow(ctx, keyMailerSend, l.rate, l.burst)
}

// LockBatch takes the batch lease. The empty token with ok=true means no
// lease is in use.
func (l *MailerLimiter) LockBatch(ctx context.Context) (string, bool, error) {
	if !l.Enabled() {
		return "", true, nil
	}
	return l.locker.TryLock(ctx, keyMailerBatchLock, l.lockTTL)
}

func (l *MailerLimiter) ReleaseBatch(ctx context.Context, token string) error {
	if !l.Enabled() {
		return nil
	}
	return l.locker.Release(ctx, keyMailerBatchLock, token)
}
