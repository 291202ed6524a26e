package webhook

import (
	"context"
	"fmt"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/reconciler/internal/clock"
	obscontext "github.com/smallbiznis/reconciler/internal/observability/context"
	"github.com/smallbiznis/reconciler/internal/observability/logger"
	"github.com/smallbiznis/reconciler/internal/observability/metrics"
	paymentdomain "github.com/smallbiznis/reconciler/internal/payment/domain"
	"github.com/smallbiznis/reconciler/pkg/db"
	"github.com/smallbiznis/reconciler/pkg/telemetry/correlation"
)

const maxErrorMessageLen = 2000

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     paymentdomain.Repository
	Verifier paymentdomain.Verifier
	Router   paymentdomain.Dispatcher
	Metrics  *metrics.Metrics `optional:"true"`
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     paymentdomain.Repository
	verifier paymentdomain.Verifier
	router   paymentdomain.Dispatcher
	metrics  *metrics.Metrics
	tracer   trace.Tracer
}

func NewService(p Params) paymentdomain.Service {
	clk := p.Clock
	if clk == nil {
		clk = clock.SystemClock{}
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("payment.webhook"),
		genID:    p.GenID,
		clock:    clk,
		repo:     p.Repo,
		verifier: p.Verifier,
		router:   p.Router,
		metrics:  p.Metrics,
		tracer:   otel.Tracer("reconciler/payment.webhook"),
	}
}

func (s *Service) Ingest(ctx context.Context, payload []byte, signature string) (*paymentdomain.IngestResult, error) {
	event, err := s.verifier.Verify(payload, signature)
	if err != nil {
		return nil, err
	}
	return s.process(ctx, event)
}

// Replay re-runs a recorded failure. The payload was verified when it was
// first received, so only its structure is checked here.
func (s *Service) Replay(ctx context.Context, eventID string) (*paymentdomain.IngestResult, error) {
	failure, err := s.repo.FindLatestFailure(ctx, s.db, eventID)
	if err != nil {
		return nil, err
	}
	if failure == nil {
		return nil, paymentdomain.ErrFailureNotFound
	}

	event, err := s.verifier.Parse(failure.Payload)
	if err != nil {
		return nil, err
	}

	result, err := s.process(ctx, event)
	if err != nil {
		return nil, err
	}
	if err := s.repo.MarkReplayed(ctx, s.db, failure.ID, s.clock.Now()); err != nil {
		return nil, fmt.Errorf("mark replayed: %w", err)
	}
	s.log.Info("failure replayed",
		zap.String("event_id", event.ID),
		zap.String("outcome", result.Outcome.String()),
		zap.Bool("duplicate", result.Duplicate),
	)
	return result, nil
}

// process runs the ledger insert and the handler in one transaction so a
// failed delivery leaves no ledger row behind and the sender's retry runs again.
func (s *Service) process(ctx context.Context, event *paymentdomain.InboundEvent) (*paymentdomain.IngestResult, error) {
	start := s.clock.Now()
	ctx = obscontext.WithEvent(ctx, event.ID, event.Type)
	ctx, _ = correlation.EnsureCorrelationID(ctx)
	ctx, span := s.tracer.Start(ctx, "payment.webhook.process", trace.WithAttributes(
		attribute.String("event.type", event.Type),
		attribute.String("event.id", event.ID),
	))
	defer span.End()

	log := logger.WithContext(ctx, s.log)
	result := &paymentdomain.IngestResult{EventID: event.ID, EventType: event.Type}

	err := db.Transaction(ctx, s.db, func(ctx context.Context) error {
		isNew, err := s.repo.RecordEvent(ctx, db.Conn(ctx, s.db), &paymentdomain.EventRecord{
			ID:          s.genID.Generate(),
			EventID:     event.ID,
			EventType:   event.Type,
			FirstSeenAt: event.ReceivedAt,
		})
		if err != nil {
			return fmt.Errorf("record event: %w", err)
		}
		if !isNew {
			result.Duplicate = true
			return nil
		}

		outcome, err := s.router.Dispatch(ctx, event)
		if err != nil {
			return err
		}
		result.Outcome = outcome
		return nil
	})
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "handler failed")
		s.metrics.RecordWebhookFailure(ctx, event.Type)
		log.Error("event processing failed", zap.Error(err))
		s.recordFailure(ctx, event, err)
		return nil, fmt.Errorf("%w: %w", paymentdomain.ErrHandlerFailed, err)
	}

	if result.Duplicate {
		s.metrics.RecordWebhookDuplicate(ctx, event.Type)
		log.Info("duplicate event skipped")
		return result, nil
	}

	s.metrics.RecordWebhookEvent(ctx, event.Type, string(result.Outcome.Status), s.clock.Now().Sub(start))
	span.SetAttributes(attribute.String("event.outcome", result.Outcome.String()))
	switch result.Outcome.Status {
	case paymentdomain.OutcomeSkipped:
		log.Warn("event skipped", zap.String("reason", result.Outcome.Reason))
	default:
		log.Info("event processed", zap.String("outcome", result.Outcome.String()))
	}
	return result, nil
}

// recordFailure runs outside the event transaction, which has already been
// rolled back. A failure here is logged; the 500 still reaches the sender.
func (s *Service) recordFailure(ctx context.Context, event *paymentdomain.InboundEvent, cause error) {
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 5*time.Second)
	defer cancel()

	msg := cause.Error()
	if len(msg) > maxErrorMessageLen {
		msg = msg[:maxErrorMessageLen]
	}

	err := s.repo.RecordFailure(ctx, s.db, &paymentdomain.FailureRecord{
		ID:           s.genID.Generate(),
		EventID:      event.ID,
		EventType:    event.Type,
		Payload:      datatypes.JSON(event.Payload),
		ErrorMessage: msg,
		RecordedAt:   s.clock.Now(),
	})
	if err != nil {
		logger.WithContext(ctx, s.log).Error("failed to persist failure record",
			zap.Error(err),
			zap.NamedError("cause", cause),
		)
	}
}
