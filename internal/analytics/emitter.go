// Package analytics publishes product analytics events raised while
// reconciling payments. Emission is best effort.
package analytics

import (
	"context"
	"encoding/json"
	"time"

	"github.com/segmentio/kafka-go"
	"go.uber.org/zap"

	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/observability/logger"
)

const EventPartnershipTierUpgraded = "partnership_tier_upgraded"

const defaultEmitTimeout = 2 * time.Second

type Event struct {
	Name       string         `json:"event"`
	UserID     string         `json:"user_id"`
	Properties map[string]any `json:"properties"`
	OccurredAt time.Time      `json:"occurred_at"`
}

type Emitter interface {
	Emit(ctx context.Context, event Event) error
}

type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaEmitter writes one JSON message per event, keyed by user id. The
// writer is async, so delivery errors surface in the log, not from Emit.
type KafkaEmitter struct {
	w       messageWriter
	clock   clock.Clock
	timeout time.Duration
}

func NewKafkaEmitter(brokers []string, topic string, clk clock.Clock, log *zap.Logger) *KafkaEmitter {
	log = log.Named("analytics.kafka")
	return newKafkaEmitter(&kafka.Writer{
		Addr:         kafka.TCP(brokers...),
		Topic:        topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		Async:        true,
		MaxAttempts:  3,
		WriteTimeout: 5 * time.Second,
		ReadTimeout:  5 * time.Second,
		BatchTimeout: 50 * time.Millisecond,
		Completion: func(messages []kafka.Message, err error) {
			if err != nil {
				log.Warn("analytics delivery failed", zap.Int("messages", len(messages)), zap.Error(err))
			}
		},
	}, clk, defaultEmitTimeout)
}

func newKafkaEmitter(w messageWriter, clk clock.Clock, timeout time.Duration) *KafkaEmitter {
	if clk == nil {
		clk = clock.SystemClock{}
	}
	if timeout <= 0 {
		timeout = defaultEmitTimeout
	}
	return &KafkaEmitter{w: w, clock: clk, timeout: timeout}
}

func (e *KafkaEmitter) Emit(ctx context.Context, event Event) error {
	if event.OccurredAt.IsZero() {
		event.OccurredAt = e.clock.Now()
	}
	b, err := json.Marshal(event)
	if err != nil {
		return err
	}
	ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), e.timeout)
	defer cancel()
	return e.w.WriteMessages(ctx, kafka.Message{
		Key:   []byte(event.UserID),
		Value: b,
	})
}

func (e *KafkaEmitter) Close() error { return e.w.Close() }

// LogEmitter records events in the service log when no broker is configured.
type LogEmitter struct {
	log *zap.Logger
}

func NewLogEmitter(log *zap.Logger) *LogEmitter {
	return &LogEmitter{log: log.Named("analytics")}
}

func (e *LogEmitter) Emit(ctx context.Context, event Event) error {
	logger.WithContext(ctx, e.log).Info("analytics event",
		zap.String("event", event.Name),
		zap.String("user_id", event.UserID),
		zap.Any("properties", event.Properties),
	)
	return nil
}

var (
	_ Emitter = (*KafkaEmitter)(nil)
	_ Emitter = (*LogEmitter)(nil)
)
