package service

import (
	"context"
	"errors"
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
	"github.com/smallbiznis/reconciler/internal/subscription/domain"
	"github.com/smallbiznis/reconciler/pkg/db"
)

const (
	metadataTierKey = "tier_key"
	metadataSizeKey = "size_key"
)

type Params struct {
	fx.In

	DB       *gorm.DB
	Log      *zap.Logger
	GenID    *snowflake.Node
	Clock    clock.Clock
	Repo     domain.Repository
	Profiles profiledomain.Repository
	Platform domain.Platform
	Catalog  *config.CatalogHolder
}

type Service struct {
	db       *gorm.DB
	log      *zap.Logger
	genID    *snowflake.Node
	clock    clock.Clock
	repo     domain.Repository
	profiles profiledomain.Repository
	platform domain.Platform
	catalog  *config.CatalogHolder
}

func New(p Params) domain.Service {
	catalog := p.Catalog
	if catalog == nil {
		catalog = config.NewStaticCatalogHolder(config.Catalog{})
	}
	return &Service{
		db:       p.DB,
		log:      p.Log.Named("subscription.service"),
		genID:    p.GenID,
		clock:    p.Clock,
		repo:     p.Repo,
		profiles: p.Profiles,
		platform: p.Platform,
		catalog:  catalog,
	}
}

func (s *Service) Reconcile(ctx context.Context, sub *stripeadapter.Subscription) (paymentdomain.Outcome, error) {
	log := logger.WithContext(ctx, s.log).With(zap.String("subscription_id", sub.ID))
	if sub.CustomerID == "" {
		return paymentdomain.Skipped(paymentdomain.ReasonMissingCustomer), nil
	}

	conn := db.Conn(ctx, s.db)
	profile, err := s.profiles.FindByCustomerID(ctx, conn, sub.CustomerID)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	if profile == nil {
		log.Warn("no profile linked to customer", zap.String("customer_id", sub.CustomerID))
		return paymentdomain.Skipped(paymentdomain.ReasonUnknownCustomer), nil
	}
	if !domain.IsKnownStatus(sub.Status) {
		log.Warn("unrecognised subscription status", zap.String("status", sub.Status))
	}

	entry, _ := s.catalog.Get().Lookup(sub.PriceID)
	tierKey := firstNonEmpty(sub.PriceMetadata[metadataTierKey], sub.Metadata[metadataTierKey], entry.TierKey)
	sizeKey := firstNonEmpty(sub.PriceMetadata[metadataSizeKey], sub.Metadata[metadataSizeKey], entry.SizeKey)

	now := s.clock.Now()
	row := &domain.Subscription{
		ID:                   s.genID.Generate(),
		StripeSubscriptionID: sub.ID,
		UserID:               profile.ID,
		StripeCustomerID:     optional(sub.CustomerID),
		StripePriceID:        optional(sub.PriceID),
		StripeProductID:      optional(sub.ProductID),
		TierKey:              optional(tierKey),
		SizeKey:              optional(sizeKey),
		Status:               sub.Status,
		CurrentPeriodStart:   sub.CurrentPeriodStart,
		CurrentPeriodEnd:     sub.CurrentPeriodEnd,
		CancelAtPeriodEnd:    sub.CancelAtPeriodEnd,
		CanceledAt:           sub.CanceledAt,
		CreatedAt:            now,
		UpdatedAt:            now,
	}
	if err := s.repo.Upsert(ctx, conn, row); err != nil {
		return paymentdomain.Outcome{}, err
	}

	if !isLive(sub.Status) {
		// another live subscription keeps the profile in its current state
		others, err := s.repo.CountLiveForUserExcluding(ctx, conn, profile.ID, sub.ID)
		if err != nil {
			return paymentdomain.Outcome{}, err
		}
		if others > 0 {
			log.Info("profile kept on other live subscription", zap.String("status", sub.Status))
			return paymentdomain.Applied(), nil
		}
	}

	plan := firstNonEmpty(s.productName(ctx, sub.ProductID), entry.PlanName, tierKey)
	if err := s.profiles.SetSubscriptionProjection(ctx, conn, profile.ID, sub.Status, plan, now); err != nil {
		return paymentdomain.Outcome{}, err
	}

	log.Info("subscription reconciled",
		zap.String("user_id", profile.ID),
		zap.String("status", sub.Status),
		zap.String("tier_key", tierKey),
	)
	return paymentdomain.Applied(), nil
}

// productName is best effort; the catalog covers a failed lookup.
func (s *Service) productName(ctx context.Context, productID string) string {
	if productID == "" || s.platform == nil {
		return ""
	}
	product, err := s.platform.GetProduct(ctx, productID)
	if err != nil {
		if !errors.Is(err, paymentdomain.ErrPlatformDisabled) {
			logger.WithContext(ctx, s.log).Warn("product lookup failed",
				zap.String("product_id", productID),
				zap.Error(err),
			)
		}
		return ""
	}
	return strings.TrimSpace(product.Name)
}

func (s *Service) HandleSubscriptionChanged(ctx context.Context, event *paymentdomain.InboundEvent) (paymentdomain.Outcome, error) {
	sub, err := stripeadapter.DecodeSubscription(event.Object)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	return s.Reconcile(ctx, sub)
}

func (s *Service) HandleSubscriptionDeleted(ctx context.Context, event *paymentdomain.InboundEvent) (paymentdomain.Outcome, error) {
	sub, err := stripeadapter.DecodeSubscription(event.Object)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}

	conn := db.Conn(ctx, s.db)
	existing, err := s.repo.FindByStripeID(ctx, conn, sub.ID)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	if existing == nil {
		// never seen locally; record it from the payload as canceled
		sub.Status = domain.StatusCanceled
		return s.Reconcile(ctx, sub)
	}

	now := s.clock.Now()
	canceledAt := now
	if sub.CanceledAt != nil {
		canceledAt = *sub.CanceledAt
	}
	if _, err := s.repo.MarkCanceled(ctx, conn, sub.ID, canceledAt, now); err != nil {
		return paymentdomain.Outcome{}, err
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("subscription_id", sub.ID),
		zap.String("user_id", existing.UserID),
	)
	others, err := s.repo.CountLiveForUserExcluding(ctx, conn, existing.UserID, sub.ID)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	if others > 0 {
		log.Info("subscription canceled, profile kept on other live subscription", zap.Int64("live", others))
		return paymentdomain.Applied(), nil
	}

	err = s.profiles.SetSubscriptionStatus(ctx, conn, existing.UserID, domain.StatusCanceled, now)
	if errors.Is(err, profiledomain.ErrProfileNotFound) {
		log.Warn("subscription owner has no profile")
		return paymentdomain.Applied(), nil
	}
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	log.Info("subscription canceled")
	return paymentdomain.Applied(), nil
}

func (s *Service) HandleInvoicePaid(ctx context.Context, event *paymentdomain.InboundEvent) (paymentdomain.Outcome, error) {
	invoice, err := stripeadapter.DecodeInvoice(event.Object)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	if invoice.SubscriptionID == "" {
		return paymentdomain.Ignored(), nil
	}

	sub, err := s.platform.GetSubscription(ctx, invoice.SubscriptionID)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	return s.Reconcile(ctx, sub)
}

func (s *Service) HandleInvoicePaymentFailed(ctx context.Context, event *paymentdomain.InboundEvent) (paymentdomain.Outcome, error) {
	invoice, err := stripeadapter.DecodeInvoice(event.Object)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	if invoice.SubscriptionID == "" {
		return paymentdomain.Ignored(), nil
	}

	updated, err := s.repo.MarkPastDue(ctx, db.Conn(ctx, s.db), invoice.SubscriptionID, s.clock.Now())
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	if !updated {
		return paymentdomain.Skipped(paymentdomain.ReasonUnknownSubscription), nil
	}
	logger.WithContext(ctx, s.log).Info("subscription past due",
		zap.String("subscription_id", invoice.SubscriptionID),
		zap.String("invoice_id", invoice.ID),
	)
	return paymentdomain.Applied(), nil
}

func isLive(status string) bool {
	return status == domain.StatusActive || status == domain.StatusTrialing
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
