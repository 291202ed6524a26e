package service

import (
	"context"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/config"
	"github.com/smallbiznis/reconciler/internal/observability/logger"
	stripeadapter "github.com/smallbiznis/reconciler/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/reconciler/internal/payment/domain"
	profiledomain "github.com/smallbiznis/reconciler/internal/profile/domain"
	"github.com/smallbiznis/reconciler/internal/purchase/domain"
	"github.com/smallbiznis/reconciler/pkg/db"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Profiles profiledomain.Repository
	Catalog  *config.CatalogHolder
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	profiles profiledomain.Repository
	catalog  *config.CatalogHolder
}

func New(p Params) domain.Service {
	catalog := p.Catalog
	if catalog == nil {
		catalog = config.NewStaticCatalogHolder(config.Catalog{})
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("purchase.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		profiles: p.Profiles,
		catalog:  catalog,
	}
}

func (s *Service) HandlePaymentIntentSucceeded(ctx context.Context, event *paymentdomain.InboundEvent) (paymentdomain.Outcome, error) {
	pi, err := stripeadapter.DecodePaymentIntent(event.Object)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	if pi.Status == "" {
		pi.Status = domain.StatusSucceeded
	}
	return s.Record(ctx, domain.RecordRequest{PaymentIntent: pi})
}

func (s *Service) Record(ctx context.Context, req domain.RecordRequest) (paymentdomain.Outcome, error) {
	pi := req.PaymentIntent
	conn := db.Conn(ctx, s.db)
	log := logger.WithContext(ctx, s.log).With(zap.String("payment_intent_id", pi.ID))

	userID := firstNonEmpty(req.UserID, pi.Metadata["user_id"])
	if userID == "" {
		if pi.CustomerID == "" {
			return paymentdomain.Skipped(paymentdomain.ReasonMissingCustomer), nil
		}
		profile, err := s.profiles.FindByCustomerID(ctx, conn, pi.CustomerID)
		if err != nil {
			return paymentdomain.Outcome{}, err
		}
		if profile == nil {
			log.Warn("no profile linked to customer", zap.String("customer_id", pi.CustomerID))
			return paymentdomain.Skipped(paymentdomain.ReasonUnknownCustomer), nil
		}
		userID = profile.ID
	}

	priceID := firstNonEmpty(pi.Metadata["price_id"], req.Fallback.PriceID)
	entry, _ := s.catalog.Get().Lookup(priceID)
	status := firstNonEmpty(pi.Status, domain.StatusSucceeded)

	now := s.clock.Now()
	result, err := s.repo.Upsert(ctx, conn, &domain.Purchase{
		ID:                    s.genID.Generate(),
		UserID:                userID,
		StripePriceID:         optional(priceID),
		StripeProductID:       optional(firstNonEmpty(pi.Metadata["product_id"], req.Fallback.ProductID)),
		SizeKey:               optional(firstNonEmpty(pi.Metadata["size_key"], req.Fallback.SizeKey, entry.SizeKey)),
		Amount:                pi.Amount,
		Currency:              firstNonEmpty(pi.Currency, "usd"),
		Status:                status,
		StripePaymentIntentID: pi.ID,
		CreatedAt:             now,
		UpdatedAt:             now,
	})
	if err != nil {
		return paymentdomain.Outcome{}, err
	}

	log.Info("purchase recorded",
		zap.String("user_id", userID),
		zap.String("status", status),
		zap.String("write", string(result)),
	)
	return paymentdomain.Applied(), nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			return v
		}
	}
	return ""
}

func optional(v string) *string {
	if v == "" {
		return nil
	}
	return &v
}
