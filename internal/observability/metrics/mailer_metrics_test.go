package metrics

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestClassifyMailerReason(t *testing.T) {
	cases := []struct {
		name string
		err  error
		want string
	}{
		{name: "deadline", err: context.DeadlineExceeded, want: MailerReasonDeadlineExceeded},
		{name: "wrapped_cancel", err: fmt.Errorf("claim: %w", context.Canceled), want: MailerReasonDeadlineExceeded},
		{name: "lock_timeout", err: &pgconn.PgError{Code: "55P03"}, want: MailerReasonDBLockTimeout},
		{name: "unique_violation_pg", err: &pgconn.PgError{Code: "23505"}, want: MailerReasonUniqueViolation},
		{name: "unique_violation_gorm", err: gorm.ErrDuplicatedKey, want: MailerReasonUniqueViolation},
		{name: "unknown", err: errors.New("boom"), want: MailerReasonUnknown},
		{name: "nil", err: nil, want: MailerReasonUnknown},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.want, ClassifyMailerReason(tc.err))
		})
	}
}

func TestMailerMetricsCounters(t *testing.T) {
	registry := prometheus.NewRegistry()
	m, err := newMailerMetrics(registry, Config{ServiceName: "reconciler", Environment: "test"})
	require.NoError(t, err)

	m.AddProcessed("sent", 3)
	m.AddProcessed("failed", 0)
	m.IncBatchDeferred(MailerReasonLockNotAcquired)
	m.ObserveBatch(20 * time.Millisecond)

	assert.Equal(t, float64(3), testutil.ToFloat64(m.itemsProcessed.WithLabelValues("sent")))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.batchDeferred.WithLabelValues(MailerReasonLockNotAcquired)))
	assert.Equal(t, float64(1), testutil.ToFloat64(m.batchRuns))
}

func TestHTTPMetricsRegisterTwiceFails(t *testing.T) {
	registry := prometheus.NewRegistry()
	_, err := newHTTPMetrics(registry, Config{})
	require.NoError(t, err)

	_, err = newHTTPMetrics(registry, Config{})
	assert.Error(t, err)
}
