package analytics

import (
	"context"

	"go.uber.org/fx"
	"go.uber.org/zap"

	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/config"
)

var Module = fx.Module("analytics",
	fx.Provide(NewEmitter),
)

func NewEmitter(lc fx.Lifecycle, cfg config.Config, clk clock.Clock, log *zap.Logger) Emitter {
	if len(cfg.Kafka.Brokers) == 0 || cfg.Kafka.AnalyticsTopic == "" {
		log.Info("analytics brokers not configured, logging events instead")
		return NewLogEmitter(log)
	}

	emitter := NewKafkaEmitter(cfg.Kafka.Brokers, cfg.Kafka.AnalyticsTopic, clk, log)
	lc.Append(fx.Hook{
		OnStop: func(context.Context) error {
			return emitter.Close()
		},
	})
	return emitter
}
