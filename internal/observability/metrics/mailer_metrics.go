package metrics

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/jackc/pgerrcode"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"gorm.io/gorm"
)

const (
	MailerReasonDeadlineExceeded = "deadline_exceeded"
	MailerReasonLockNotAcquired  = "lock_not_acquired"
	MailerReasonRateLimited      = "rate_limited"
	MailerReasonDBLockTimeout    = "db_lock_timeout"
	MailerReasonUniqueViolation  = "unique_violation"
	MailerReasonUnknown          = "unknown"
)

// MailerMetrics captures email dispatcher health for the mailer process.
type MailerMetrics struct {
	batchRuns      prometheus.Counter
	batchDuration  prometheus.Histogram
	batchDeferred  *prometheus.CounterVec
	batchErrors    *prometheus.CounterVec
	itemsProcessed *prometheus.CounterVec
	queueLag       prometheus.Histogram
}

func NewMailerMetrics(cfg Config) (*MailerMetrics, error) {
	return newMailerMetrics(prometheus.DefaultRegisterer, cfg)
}

func newMailerMetrics(registerer prometheus.Registerer, cfg Config) (*MailerMetrics, error) {
	if registerer == nil {
		registerer = prometheus.DefaultRegisterer
	}
	constLabels := constLabelsFor(cfg)

	m := &MailerMetrics{
		batchRuns: prometheus.NewCounter(prometheus.CounterOpts{
			Name:        "reconciler_mailer_batch_runs_total",
			Help:        "Email dispatcher batch runs.",
			ConstLabels: constLabels,
		}),
		batchDuration: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "reconciler_mailer_batch_duration_seconds",
			Help:        "Email dispatcher batch latency.",
			Buckets:     []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30, 60},
			ConstLabels: constLabels,
		}),
		batchDeferred: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reconciler_mailer_batch_deferred_total",
			Help:        "Email dispatcher batches skipped by low-cardinality reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		batchErrors: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reconciler_mailer_batch_errors_total",
			Help:        "Email dispatcher batch errors by reason.",
			ConstLabels: constLabels,
		}, []string{"reason"}),
		itemsProcessed: prometheus.NewCounterVec(prometheus.CounterOpts{
			Name:        "reconciler_mailer_items_processed_total",
			Help:        "Queued emails processed by final status.",
			ConstLabels: constLabels,
		}, []string{"status"}),
		queueLag: prometheus.NewHistogram(prometheus.HistogramOpts{
			Name:        "reconciler_mailer_queue_lag_seconds",
			Help:        "Delay between queueing an email and delivering it.",
			Buckets:     []float64{1, 5, 15, 30, 60, 120, 300, 900, 1800, 3600},
			ConstLabels: constLabels,
		}),
	}

	for _, c := range []prometheus.Collector{m.batchRuns, m.batchDuration, m.batchDeferred, m.batchErrors, m.itemsProcessed, m.queueLag} {
		if err := registerer.Register(c); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func (m *MailerMetrics) ObserveBatch(elapsed time.Duration) {
	if m == nil {
		return
	}
	m.batchRuns.Inc()
	m.batchDuration.Observe(elapsed.Seconds())
}

func (m *MailerMetrics) IncBatchDeferred(reason string) {
	if m == nil {
		return
	}
	m.batchDeferred.WithLabelValues(strings.TrimSpace(reason)).Inc()
}

func (m *MailerMetrics) IncBatchError(err error) {
	if m == nil {
		return
	}
	m.batchErrors.WithLabelValues(ClassifyMailerReason(err)).Inc()
}

func (m *MailerMetrics) AddProcessed(status string, count int) {
	if m == nil || count <= 0 {
		return
	}
	m.itemsProcessed.WithLabelValues(strings.TrimSpace(status)).Add(float64(count))
}

func (m *MailerMetrics) ObserveQueueLag(queuedAt, sentAt time.Time) {
	if m == nil || queuedAt.IsZero() || sentAt.Before(queuedAt) {
		return
	}
	m.queueLag.Observe(sentAt.Sub(queuedAt).Seconds())
}

// ClassifyMailerReason maps an error to a low-cardinality label value.
func ClassifyMailerReason(err error) string {
	if err == nil {
		return MailerReasonUnknown
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
		return MailerReasonDeadlineExceeded
	}
	if errors.Is(err, gorm.ErrDuplicatedKey) || hasPGCode(err, pgerrcode.UniqueViolation) {
		return MailerReasonUniqueViolation
	}
	if hasPGCode(err, pgerrcode.LockNotAvailable) {
		return MailerReasonDBLockTimeout
	}
	return MailerReasonUnknown
}

func hasPGCode(err error, code string) bool {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == code
	}
	return false
}
