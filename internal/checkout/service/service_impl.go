package service

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/smallbiznis/reconciler/internal/analytics"
	"github.com/smallbiznis/reconciler/internal/checkout/domain"
	"github.com/smallbiznis/reconciler/internal/clock"
	emaildomain "github.com/smallbiznis/reconciler/internal/emailqueue/domain"
	inventorydomain "github.com/smallbiznis/reconciler/internal/inventory/domain"
	"github.com/smallbiznis/reconciler/internal/observability/logger"
	"github.com/smallbiznis/reconciler/internal/observability/metrics"
	orderdomain "github.com/smallbiznis/reconciler/internal/order/domain"
	stripeadapter "github.com/smallbiznis/reconciler/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/reconciler/internal/payment/domain"
	profiledomain "github.com/smallbiznis/reconciler/internal/profile/domain"
	purchasedomain "github.com/smallbiznis/reconciler/internal/purchase/domain"
	referraldomain "github.com/smallbiznis/reconciler/internal/referral/domain"
	subscriptiondomain "github.com/smallbiznis/reconciler/internal/subscription/domain"
	"github.com/smallbiznis/reconciler/pkg/db"
)

type Params struct {
	fx.In

	DB            *gorm.DB
	Log           *zap.Logger
	GenID         *snowflake.Node
	Clock         clock.Clock
	Platform      domain.Platform
	Profiles      profiledomain.Repository
	Orders        orderdomain.Repository
	Inventory     inventorydomain.Repository
	Referrals     referraldomain.Repository
	Subscriptions subscriptiondomain.Service
	SubRepo       subscriptiondomain.Repository
	Purchases     purchasedomain.Service
	Emails        emaildomain.Queue
	Analytics     analytics.Emitter
	Metrics       *metrics.Metrics `optional:"true"`
}

type Service struct {
	db            *gorm.DB
	log           *zap.Logger
	genID         *snowflake.Node
	clock         clock.Clock
	platform      domain.Platform
	profiles      profiledomain.Repository
	orders        orderdomain.Repository
	inventory     inventorydomain.Repository
	referrals     referraldomain.Repository
	subscriptions subscriptiondomain.Service
	subRepo       subscriptiondomain.Repository
	purchases     purchasedomain.Service
	emails        emaildomain.Queue
	analytics     analytics.Emitter
	metrics       *metrics.Metrics
}

func New(p Params) domain.Service {
	return &Service{
		db:            p.DB,
		log:           p.Log.Named("checkout.service"),
		genID:         p.GenID,
		clock:         p.Clock,
		platform:      p.Platform,
		profiles:      p.Profiles,
		orders:        p.Orders,
		inventory:     p.Inventory,
		referrals:     p.Referrals,
		subscriptions: p.Subscriptions,
		subRepo:       p.SubRepo,
		purchases:     p.Purchases,
		emails:        p.Emails,
		analytics:     p.Analytics,
		metrics:       p.Metrics,
	}
}

func (s *Service) HandleCheckoutCompleted(ctx context.Context, event *paymentdomain.InboundEvent) (paymentdomain.Outcome, error) {
	session, err := stripeadapter.DecodeCheckoutSession(event.Object)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	if session.CustomerID == "" {
		return paymentdomain.Skipped(paymentdomain.ReasonMissingCustomer), nil
	}

	log := logger.WithContext(ctx, s.log).With(
		zap.String("session_id", session.ID),
		zap.String("mode", session.Mode),
	)

	userID, err := s.resolveUser(ctx, log, session)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	if userID != "" {
		log = log.With(zap.String("user_id", userID))
	}

	switch {
	case session.IsTierUpgrade():
		return s.applyTierUpgrade(ctx, log, session, userID)
	case session.Mode == domain.ModeSubscription:
		return s.applySubscription(ctx, log, session, userID)
	case session.Mode == domain.ModePayment:
		return s.applyPayment(ctx, log, session, userID)
	default:
		log.Warn("checkout mode not handled")
		return paymentdomain.Skipped(paymentdomain.ReasonUnsupportedMode), nil
	}
}

// resolveUser links the session's user to its customer, or finds the user
// already linked to the customer. It returns "" for a guest checkout.
func (s *Service) resolveUser(ctx context.Context, log *zap.Logger, session *stripeadapter.CheckoutSession) (string, error) {
	userID := session.UserID()
	if userID == "" {
		profile, err := s.profiles.FindByCustomerID(ctx, db.Conn(ctx, s.db), session.CustomerID)
		if err != nil {
			return "", err
		}
		if profile == nil {
			return "", nil
		}
		return profile.ID, nil
	}

	err := db.Nested(ctx, s.db, func(ctx context.Context) error {
		return s.profiles.LinkCustomer(ctx, db.Conn(ctx, s.db), userID, session.CustomerID, s.clock.Now())
	})
	switch {
	case err == nil:
	case errors.Is(err, profiledomain.ErrProfileNotFound):
		log.Warn("checkout user has no profile", zap.String("user_id", userID))
	case db.IsDuplicateKeyErr(err):
		log.Warn("customer already linked to another profile",
			zap.String("user_id", userID),
			zap.String("customer_id", session.CustomerID),
		)
	default:
		return "", fmt.Errorf("link customer: %w", err)
	}
	return userID, nil
}

func (s *Service) applyTierUpgrade(ctx context.Context, log *zap.Logger, session *stripeadapter.CheckoutSession, userID string) (paymentdomain.Outcome, error) {
	if userID == "" {
		return paymentdomain.Skipped(paymentdomain.ReasonUnknownCustomer), nil
	}
	newTier := strings.TrimSpace(session.Metadata["new_tier"])
	if newTier == "" {
		log.Warn("tier upgrade without new_tier")
		return paymentdomain.Skipped(paymentdomain.ReasonMissingTier), nil
	}

	conn := db.Conn(ctx, s.db)
	profile, err := s.profiles.FindByID(ctx, conn, userID)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	if profile == nil {
		return paymentdomain.Skipped(paymentdomain.ReasonUnknownCustomer), nil
	}
	oldTier := profile.Tier()

	if err := s.profiles.SetPartnershipTier(ctx, conn, userID, newTier, s.clock.Now()); err != nil {
		return paymentdomain.Outcome{}, err
	}

	event := analytics.Event{
		Name:   analytics.EventPartnershipTierUpgraded,
		UserID: userID,
		Properties: map[string]any{
			"user_id":    userID,
			"old_tier":   oldTier,
			"new_tier":   newTier,
			"session_id": session.ID,
		},
	}
	// emitted only once the event transaction, and its ledger row lock, are gone
	db.AfterCommit(ctx, func(ctx context.Context) {
		if err := s.analytics.Emit(ctx, event); err != nil {
			log.Warn("analytics emit failed", zap.Error(err))
		}
	})

	log.Info("partnership tier upgraded", zap.String("old_tier", oldTier), zap.String("new_tier", newTier))
	return paymentdomain.Applied(), nil
}

func (s *Service) applySubscription(ctx context.Context, log *zap.Logger, session *stripeadapter.CheckoutSession, userID string) (paymentdomain.Outcome, error) {
	if session.SubscriptionID == "" {
		return paymentdomain.Skipped(paymentdomain.ReasonMissingSubscription), nil
	}

	sub, err := s.platform.GetSubscription(ctx, session.SubscriptionID)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	outcome, err := s.subscriptions.Reconcile(ctx, sub)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	if outcome.Status != paymentdomain.OutcomeApplied {
		return outcome, nil
	}

	s.enqueueEmail(ctx, log, session.CustomerEmail, emaildomain.EnqueueRequest{
		EmailType: emaildomain.TypeSubscriptionConfirmation,
		DedupeKey: emaildomain.SubscriptionConfirmationKey(sub.ID),
		Data: map[string]any{
			"subscription_id": sub.ID,
			"session_id":      session.ID,
			"plan":            session.Metadata["plan_name"],
		},
	})

	if userID != "" {
		s.completeReferralIfFirst(ctx, log, userID, "", sub.ID)
	}
	log.Info("subscription checkout reconciled", zap.String("subscription_id", sub.ID))
	return paymentdomain.Applied(), nil
}

func (s *Service) applyPayment(ctx context.Context, log *zap.Logger, session *stripeadapter.CheckoutSession, userID string) (paymentdomain.Outcome, error) {
	now := s.clock.Now()
	metadata := datatypes.JSONMap{}
	for k, v := range session.Metadata {
		metadata[k] = v
	}

	orderID, err := s.orders.Upsert(ctx, db.Conn(ctx, s.db), &orderdomain.Order{
		ID:                    s.genID.Generate(),
		StripeSessionID:       session.ID,
		StripePaymentIntentID: optional(session.PaymentIntentID),
		CustomerEmail:         optional(session.CustomerEmail),
		AmountTotal:           session.AmountTotal,
		AmountSubtotal:        session.AmountSubtotal,
		Currency:              firstNonEmpty(session.Currency, "usd"),
		Status:                orderdomain.StatusProcessing,
		PaymentStatus:         optional(session.PaymentStatus),
		UserID:                optional(userID),
		ShippingAddress:       datatypes.JSON(session.ShippingDetails),
		Metadata:              metadata,
		FulfillmentStatus:     "unfulfilled",
		CreatedAt:             now,
		UpdatedAt:             now,
	})
	if err != nil {
		return paymentdomain.Outcome{}, fmt.Errorf("upsert order: %w", err)
	}

	items, err := s.platform.ListLineItems(ctx, session.ID)
	if err != nil {
		return paymentdomain.Outcome{}, err
	}
	failed := s.decrementItems(ctx, log, orderID, session.ID, items)

	s.enqueueEmail(ctx, log, session.CustomerEmail, emaildomain.EnqueueRequest{
		EmailType: emaildomain.TypeOrderConfirmation,
		DedupeKey: emaildomain.OrderConfirmationKey(session.ID),
		Data: map[string]any{
			"session_id":    session.ID,
			"order_id":      orderID.String(),
			"amount_total":  formatAmount(session.AmountTotal),
			"currency":      strings.ToUpper(firstNonEmpty(session.Currency, "usd")),
			"item_count":    len(items),
			"customer_name": session.Metadata["customer_name"],
		},
	})

	err = db.Nested(ctx, s.db, func(ctx context.Context) error {
		_, err := s.inventory.ReleaseReservation(ctx, db.Conn(ctx, s.db), session.ID)
		return err
	})
	if err != nil {
		log.Warn("reservation release failed", zap.Error(err))
	}

	if session.PaymentIntentID != "" {
		pi, err := s.platform.GetPaymentIntent(ctx, session.PaymentIntentID)
		if err != nil {
			return paymentdomain.Outcome{}, err
		}
		var fallback purchasedomain.Item
		if len(items) > 0 {
			fallback = purchasedomain.Item{PriceID: items[0].PriceID, ProductID: items[0].ProductID}
		}
		outcome, err := s.purchases.Record(ctx, purchasedomain.RecordRequest{
			PaymentIntent: pi,
			UserID:        userID,
			Fallback:      fallback,
		})
		if err != nil {
			return paymentdomain.Outcome{}, fmt.Errorf("record purchase: %w", err)
		}
		if outcome.Status == paymentdomain.OutcomeSkipped {
			log.Info("purchase not attributed", zap.String("reason", outcome.Reason))
		}
	}

	if userID != "" && session.PaymentStatus == orderdomain.PaymentStatusPaid {
		s.completeReferralIfFirst(ctx, log, userID, session.ID, "")
	}

	log.Info("payment checkout reconciled",
		zap.Int64("order_id", orderID.Int64()),
		zap.Int("line_items", len(items)),
		zap.Int("inventory_failures", failed),
	)
	return paymentdomain.Applied(), nil
}

// decrementItems applies each line item in its own savepoint and returns the
// number of items that failed.
func (s *Service) decrementItems(ctx context.Context, log *zap.Logger, orderID snowflake.ID, sessionID string, items []stripeadapter.LineItem) int {
	failed := 0
	for i, item := range items {
		itemLog := log.With(
			zap.Int("line", i+1),
			zap.String("price_id", item.PriceID),
			zap.Int64("quantity", item.Quantity),
		)
		if item.PriceID == "" || item.Quantity <= 0 {
			failed++
			s.metrics.RecordInventoryItemFailure(ctx, domain.ItemFailureNoPrice)
			itemLog.Warn("line item has no price or quantity")
			continue
		}

		var applied bool
		err := db.Nested(ctx, s.db, func(ctx context.Context) error {
			conn := db.Conn(ctx, s.db)
			variant, err := s.inventory.FindVariantByPriceID(ctx, conn, item.PriceID)
			if err != nil {
				return err
			}
			applied, err = s.inventory.Decrement(ctx, conn, variant.ID, item.Quantity, orderID, sessionID)
			return err
		})
		if err != nil {
			failed++
			reason := domain.ItemFailureDecrement
			if errors.Is(err, inventorydomain.ErrVariantNotFound) {
				reason = domain.ItemFailureVariantNotFound
			}
			s.metrics.RecordInventoryItemFailure(ctx, reason)
			itemLog.Error("inventory decrement failed", zap.String("reason", reason), zap.Error(err))
			continue
		}
		if !applied {
			itemLog.Debug("inventory already decremented for session")
		}
	}
	return failed
}

func (s *Service) enqueueEmail(ctx context.Context, log *zap.Logger, recipient string, req emaildomain.EnqueueRequest) {
	if strings.TrimSpace(recipient) == "" {
		log.Warn("no recipient for confirmation email", zap.String("email_type", req.EmailType))
		return
	}
	req.Recipient = recipient
	err := db.Nested(ctx, s.db, func(ctx context.Context) error {
		_, err := s.emails.Enqueue(ctx, req)
		return err
	})
	if err != nil {
		log.Error("email enqueue failed", zap.String("email_type", req.EmailType), zap.Error(err))
	}
}

// completeReferralIfFirst completes the user's referral when this checkout
// is their first completed action. Failures are logged.
func (s *Service) completeReferralIfFirst(ctx context.Context, log *zap.Logger, userID, sessionID, subscriptionID string) {
	err := db.Nested(ctx, s.db, func(ctx context.Context) error {
		conn := db.Conn(ctx, s.db)
		orders, err := s.orders.CountPaidForUserExcluding(ctx, conn, userID, sessionID)
		if err != nil {
			return err
		}
		subs, err := s.subRepo.CountForUserExcluding(ctx, conn, userID, subscriptionID)
		if err != nil {
			return err
		}
		if orders > 0 || subs > 0 {
			return nil
		}

		completed, err := s.referrals.CompleteForUser(ctx, conn, userID, s.clock.Now())
		if err != nil {
			return err
		}
		if completed {
			log.Info("referral completed")
		}
		return nil
	})
	if err != nil {
		log.Error("referral completion failed", zap.Error(err))
	}
}

func formatAmount(minor int64) string {
	return fmt.Sprintf("%d.%02d", minor/100, abs(minor%100))
}

func abs(v int64) int64 {
	if v < 0 {
		return -v
	}
	return v
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
