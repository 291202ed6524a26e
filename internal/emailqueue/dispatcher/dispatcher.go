// Package dispatcher drains the email queue through the email provider.
package dispatcher

import (
	"context"
	"time"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/config"
	"github.com/smallbiznis/reconciler/internal/emailqueue/domain"
	"github.com/smallbiznis/reconciler/internal/observability/metrics"
	"github.com/smallbiznis/reconciler/internal/providers/email"
	"github.com/smallbiznis/reconciler/internal/ratelimit"
	"github.com/smallbiznis/reconciler/pkg/db"
)

const (
	defaultInterval = 5 * time.Second
	maxErrorLen     = 1000
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	Config        config.Config
	Clock         clock.Clock
	Repo          domain.Repository
	Provider      email.Provider
	Limiter       *ratelimit.MailerLimiter
	MailerMetrics *metrics.MailerMetrics `optional:"true"`
	Metrics       *metrics.Metrics       `optional:"true"`
}

type Dispatcher struct {
	db            *gorm.DB
	log           *zap.Logger
	clock         clock.Clock
	repo          domain.Repository
	provider      email.Provider
	limiter       *ratelimit.MailerLimiter
	mailerMetrics *metrics.MailerMetrics
	metrics       *metrics.Metrics
	batchSize     int
	maxAttempts   int
	interval      time.Duration
}

func New(p Params) *Dispatcher {
	return &Dispatcher{
		db:            p.DB,
		log:           p.Log.Named("emailqueue.dispatcher"),
		clock:         p.Clock,
		repo:          p.Repo,
		provider:      p.Provider,
		limiter:       p.Limiter,
		mailerMetrics: p.MailerMetrics,
		metrics:       p.Metrics,
		batchSize:     p.Config.Email.BatchSize,
		maxAttempts:   p.Config.Email.MaxAttempts,
		interval:      defaultInterval,
	}
}

// Run drains the queue every interval until ctx is done.
func (d *Dispatcher) Run(ctx context.Context) {
	ticker := time.NewTicker(d.interval)
	defer ticker.Stop()

	for {
		if _, err := d.RunOnce(ctx); err != nil && ctx.Err() == nil {
			d.log.Error("email batch failed", zap.Error(err))
		}
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}
	}
}

// RunOnce sends one batch and returns the number of entries it attempted.
func (d *Dispatcher) RunOnce(ctx context.Context) (int, error) {
	start := d.clock.Now()
	defer func() { d.mailerMetrics.ObserveBatch(d.clock.Now().Sub(start)) }()

	token, ok, err := d.limiter.LockBatch(ctx)
	if err != nil {
		d.mailerMetrics.IncBatchError(err)
		return 0, err
	}
	if !ok {
		d.mailerMetrics.IncBatchDeferred(metrics.MailerReasonLockNotAcquired)
		return 0, nil
	}
	defer func() {
		releaseCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 2*time.Second)
		defer cancel()
		if err := d.limiter.ReleaseBatch(releaseCtx, token); err != nil {
			d.log.Warn("failed to release batch lease", zap.Error(err))
		}
	}()

	attempted := 0
	err = db.Transaction(ctx, d.db, func(ctx context.Context) error {
		conn := db.Conn(ctx, d.db)
		entries, err := d.repo.ClaimPending(ctx, conn, d.batchSize, d.maxAttempts)
		if err != nil {
			return err
		}

		for _, entry := range entries {
			decision, err := d.limiter.AllowSend(ctx)
			if err != nil {
				return err
			}
			if !decision.Allowed {
				d.mailerMetrics.IncBatchDeferred(metrics.MailerReasonRateLimited)
				d.log.Debug("send rate reached, deferring rest of batch", zap.Duration("retry_after", decision.RetryAfter))
				break
			}

			attempted++
			if err := d.deliver(ctx, conn, entry); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		d.mailerMetrics.IncBatchError(err)
		return attempted, err
	}
	return attempted, nil
}

// deliver returns an error only when the queue row could not be updated.
func (d *Dispatcher) deliver(ctx context.Context, conn *gorm.DB, entry domain.Entry) error {
	log := d.log.With(
		zap.Int64("email_id", entry.ID.Int64()),
		zap.String("email_type", entry.EmailType),
	)

	sendErr := d.provider.SendTemplate(ctx, []string{entry.Recipient}, entry.EmailType, map[string]any(entry.TemplateData))
	if sendErr == nil {
		now := d.clock.Now()
		if err := d.repo.MarkSent(ctx, conn, entry.ID, now); err != nil {
			return err
		}
		d.mailerMetrics.AddProcessed(domain.StatusSent, 1)
		d.mailerMetrics.ObserveQueueLag(entry.CreatedAt, now)
		d.metrics.RecordEmailDelivery(ctx, entry.EmailType, domain.StatusSent)
		log.Info("email sent")
		return nil
	}

	terminal := entry.Attempts+1 >= d.maxAttempts
	msg := sendErr.Error()
	if len(msg) > maxErrorLen {
		msg = msg[:maxErrorLen]
	}
	if err := d.repo.MarkFailed(ctx, conn, entry.ID, msg, terminal); err != nil {
		return err
	}

	status := "retry"
	if terminal {
		status = domain.StatusFailed
	}
	d.mailerMetrics.AddProcessed(status, 1)
	d.metrics.RecordEmailDelivery(ctx, entry.EmailType, status)
	log.Warn("email send failed",
		zap.Int("attempt", entry.Attempts+1),
		zap.Bool("terminal", terminal),
		zap.Error(sendErr),
	)
	return nil
}
