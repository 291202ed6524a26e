package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/emailqueue/domain"
	"github.com/smallbiznis/reconciler/internal/observability/logger"
	"github.com/smallbiznis/reconciler/internal/observability/metrics"
	"github.com/smallbiznis/reconciler/pkg/db"
)

type Params struct {
	fx.In

	DB      *gorm.DB
	Log     *zap.Logger
	GenID   *snowflake.Node
	Clock   clock.Clock
	Repo    domain.Repository
	Metrics *metrics.Metrics `optional:"true"`
}

type Service struct {
	db      *gorm.DB
	log     *zap.Logger
	genID   *snowflake.Node
	clock   clock.Clock
	repo    domain.Repository
	metrics *metrics.Metrics
}

func New(p Params) domain.Queue {
	return &Service{
		db:      p.DB,
		log:     p.Log.Named("emailqueue.service"),
		genID:   p.GenID,
		clock:   p.Clock,
		repo:    p.Repo,
		metrics: p.Metrics,
	}
}

// Enqueue writes through the transaction carried by ctx, if any.
func (s *Service) Enqueue(ctx context.Context, req domain.EnqueueRequest) (bool, error) {
	recipient := strings.TrimSpace(req.Recipient)
	if recipient == "" {
		return false, domain.ErrMissingRecipient
	}
	key := strings.TrimSpace(req.DedupeKey)
	if key == "" {
		return false, domain.ErrMissingDedupeKey
	}
	switch req.EmailType {
	case domain.TypeOrderConfirmation, domain.TypeSubscriptionConfirmation:
	default:
		return false, domain.ErrUnknownEmailType
	}

	data := datatypes.JSONMap{}
	for k, v := range req.Data {
		data[k] = v
	}

	queued, err := s.repo.Enqueue(ctx, db.Conn(ctx, s.db), &domain.Entry{
		ID:           s.genID.Generate(),
		EmailType:    req.EmailType,
		Recipient:    recipient,
		TemplateData: data,
		DedupeKey:    key,
		Status:       domain.StatusPending,
		CreatedAt:    s.clock.Now(),
	})
	if err != nil {
		return false, err
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("email_type", req.EmailType),
		zap.String("dedupe_key", key),
	)
	if !queued {
		log.Debug("email already queued")
		return false, nil
	}
	s.metrics.RecordEmailQueued(ctx, req.EmailType)
	log.Info("email queued")
	return true, nil
}
