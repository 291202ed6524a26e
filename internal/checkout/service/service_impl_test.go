package service_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/smallbiznis/reconciler/internal/analytics"
	"github.com/smallbiznis/reconciler/internal/checkout/domain"
	"github.com/smallbiznis/reconciler/internal/checkout/service"
	"github.com/smallbiznis/reconciler/internal/clock"
	"github.com/smallbiznis/reconciler/internal/config"
	emailrepo "github.com/smallbiznis/reconciler/internal/emailqueue/repository"
	emailservice "github.com/smallbiznis/reconciler/internal/emailqueue/service"
	inventorydomain "github.com/smallbiznis/reconciler/internal/inventory/domain"
	inventoryrepo "github.com/smallbiznis/reconciler/internal/inventory/repository"
	orderrepo "github.com/smallbiznis/reconciler/internal/order/repository"
	stripeadapter "github.com/smallbiznis/reconciler/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/reconciler/internal/payment/domain"
	profilerepo "github.com/smallbiznis/reconciler/internal/profile/repository"
	purchaserepo "github.com/smallbiznis/reconciler/internal/purchase/repository"
	purchaseservice "github.com/smallbiznis/reconciler/internal/purchase/service"
	referralrepo "github.com/smallbiznis/reconciler/internal/referral/repository"
	subscriptionrepo "github.com/smallbiznis/reconciler/internal/subscription/repository"
	subscriptionservice "github.com/smallbiznis/reconciler/internal/subscription/service"
	"github.com/smallbiznis/reconciler/internal/testutil"
	pkgdb "github.com/smallbiznis/reconciler/pkg/db"
)

type platformMock struct {
	mock.Mock
}

func (m *platformMock) GetSubscription(ctx context.Context, id string) (*stripeadapter.Subscription, error) {
	args := m.Called(ctx, id)
	sub, _ := args.Get(0).(*stripeadapter.Subscription)
	return sub, args.Error(1)
}

func (m *platformMock) GetPaymentIntent(ctx context.Context, id string) (*stripeadapter.PaymentIntent, error) {
	args := m.Called(ctx, id)
	pi, _ := args.Get(0).(*stripeadapter.PaymentIntent)
	return pi, args.Error(1)
}

func (m *platformMock) ListLineItems(ctx context.Context, sessionID string) ([]stripeadapter.LineItem, error) {
	args := m.Called(ctx, sessionID)
	items, _ := args.Get(0).([]stripeadapter.LineItem)
	return items, args.Error(1)
}

func (m *platformMock) GetProduct(ctx context.Context, id string) (*stripeadapter.Product, error) {
	args := m.Called(ctx, id)
	product, _ := args.Get(0).(*stripeadapter.Product)
	return product, args.Error(1)
}

// fakeInventory keeps variant lookups on the database and records the stored
// procedure calls, which sqlite cannot run. Like decrement_inventory, it
// applies a (session, variant) pair once.
type fakeInventory struct {
	inventorydomain.Repository
	failVariant string
	decremented map[string]int64
	released    []string
	ledger      map[string]bool
}

func (f *fakeInventory) Decrement(ctx context.Context, db *gorm.DB, variantID string, quantity int64, orderID snowflake.ID, sessionID string) (bool, error) {
	if variantID == f.failVariant {
		return false, errors.New("stock row locked")
	}
	if f.ledger == nil {
		f.ledger = map[string]bool{}
	}
	key := sessionID + "/" + variantID
	if f.ledger[key] {
		return false, nil
	}
	f.ledger[key] = true
	f.decremented[variantID] += quantity
	return true, nil
}

func (f *fakeInventory) ReleaseReservation(ctx context.Context, db *gorm.DB, sessionID string) (int64, error) {
	f.released = append(f.released, sessionID)
	return 1, nil
}

// recordingEmitter waits on release, when set, before recording an event.
type recordingEmitter struct {
	release chan struct{}
	events  []analytics.Event
}

func (e *recordingEmitter) Emit(ctx context.Context, event analytics.Event) error {
	if e.release != nil {
		select {
		case <-e.release:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	e.events = append(e.events, event)
	return nil
}

type fixture struct {
	db        *gorm.DB
	svc       domain.Service
	platform  *platformMock
	inventory *fakeInventory
	emitter   *recordingEmitter
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewDB(t)
	node := testutil.NewNode(t)
	clk := clock.NewFakeClock(time.Date(2026, 8, 1, 15, 0, 0, 0, time.UTC))
	log := zap.NewNop()
	platform := &platformMock{}
	catalog := config.NewStaticCatalogHolder(config.Catalog{Prices: []config.CatalogEntry{
		{PriceID: "price_gold", TierKey: "gold", SizeKey: "case_12", PlanName: "Gold Club"},
	}})

	profiles := profilerepo.Provide()
	subRepo := subscriptionrepo.Provide()
	f := &fixture{
		db:        db,
		platform:  platform,
		inventory: &fakeInventory{Repository: inventoryrepo.Provide(), decremented: map[string]int64{}},
		emitter:   &recordingEmitter{},
	}
	f.svc = service.New(service.Params{
		DB:        db,
		Log:       log,
		GenID:     node,
		Clock:     clk,
		Platform:  platform,
		Profiles:  profiles,
		Orders:    orderrepo.Provide(),
		Inventory: f.inventory,
		Referrals: referralrepo.Provide(),
		Subscriptions: subscriptionservice.New(subscriptionservice.Params{
			DB:       db,
			Log:      log,
			GenID:    node,
			Clock:    clk,
			Repo:     subRepo,
			Profiles: profiles,
			Platform: platform,
			Catalog:  catalog,
		}),
		SubRepo: subRepo,
		Purchases: purchaseservice.New(purchaseservice.Params{
			DB:       db,
			Log:      log,
			GenID:    node,
			Clock:    clk,
			Repo:     purchaserepo.Provide(),
			Profiles: profiles,
			Catalog:  catalog,
		}),
		Emails: emailservice.New(emailservice.Params{
			DB:    db,
			Log:   log,
			GenID: node,
			Clock: clk,
			Repo:  emailrepo.Provide(),
		}),
		Analytics: f.emitter,
	})
	return f
}

func seedVariant(t *testing.T, db *gorm.DB, id, priceID string) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO product_variants (id, product_id, sku, stripe_price_id, stock_quantity) VALUES (?, 'prod_lager', ?, ?, 100)`,
		id, id, priceID,
	).Error)
}

func seedReferral(t *testing.T, db *gorm.DB, referredUserID string) {
	t.Helper()
	require.NoError(t, db.Exec(
		`INSERT INTO referrals (id, referrer_user_id, referred_user_id, status) VALUES (?, 'user_referrer', ?, 'pending')`,
		time.Now().UnixNano(), referredUserID,
	).Error)
}

func checkoutEvent(object string) *paymentdomain.InboundEvent {
	return &paymentdomain.InboundEvent{
		ID:     "evt_checkout",
		Type:   paymentdomain.EventCheckoutSessionCompleted,
		Object: []byte(object),
	}
}

const paidSession = `{
	"id": "cs_1",
	"mode": "payment",
	"customer": "cus_1",
	"customer_details": {"email": "buyer@example.com"},
	"payment_intent": "pi_1",
	"payment_status": "paid",
	"currency": "usd",
	"amount_total": 4200,
	"amount_subtotal": 4000,
	"shipping_details": {"address": {"city": "Austin"}},
	"metadata": {"user_id": "user_1"}
}`

func expectPaidSession(f *fixture, items []stripeadapter.LineItem) {
	f.platform.On("ListLineItems", mock.Anything, "cs_1").Return(items, nil)
	f.platform.On("GetPaymentIntent", mock.Anything, "pi_1").Return(&stripeadapter.PaymentIntent{
		ID: "pi_1", CustomerID: "cus_1", Status: "succeeded", Amount: 4200, Currency: "usd",
	}, nil)
}

func TestPaymentCheckoutContinuesPastFailedLineItem(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.db, "user_1", "")
	seedReferral(t, f.db, "user_1")
	seedVariant(t, f.db, "var_a", "price_a")
	seedVariant(t, f.db, "var_b", "price_b")
	seedVariant(t, f.db, "var_c", "price_c")
	f.inventory.failVariant = "var_b"
	expectPaidSession(f, []stripeadapter.LineItem{
		{ID: "li_1", PriceID: "price_a", ProductID: "prod_lager", Quantity: 2},
		{ID: "li_2", PriceID: "price_b", ProductID: "prod_lager", Quantity: 1},
		{ID: "li_3", PriceID: "price_c", ProductID: "prod_lager", Quantity: 1},
	})

	outcome, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent(paidSession))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.Applied(), outcome)

	assert.Equal(t, map[string]int64{"var_a": 2, "var_c": 1}, f.inventory.decremented)
	assert.Equal(t, []string{"cs_1"}, f.inventory.released)

	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM orders WHERE stripe_session_id = 'cs_1' AND user_id = 'user_1' AND status = 'processing'`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM email_queue WHERE dedupe_key = 'order_confirmation:cs_1' AND recipient = 'buyer@example.com'`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM purchases WHERE stripe_payment_intent_id = 'pi_1' AND user_id = 'user_1' AND stripe_price_id = 'price_a'`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM profiles WHERE id = 'user_1' AND stripe_customer_id = 'cus_1'`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM referrals WHERE referred_user_id = 'user_1' AND status = 'completed'`, 1)
}

func TestPaymentCheckoutRerunKeepsSingleRows(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.db, "user_1", "")
	seedVariant(t, f.db, "var_a", "price_a")
	expectPaidSession(f, []stripeadapter.LineItem{
		{ID: "li_1", PriceID: "price_a", ProductID: "prod_lager", Quantity: 1},
	})

	ctx := context.Background()
	for i := 0; i < 2; i++ {
		_, err := f.svc.HandleCheckoutCompleted(ctx, checkoutEvent(paidSession))
		require.NoError(t, err)
	}

	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM orders`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM email_queue`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM purchases`, 1)
}

func TestPaymentCheckoutUnknownVariantIsNotFatal(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.db, "user_1", "")
	seedVariant(t, f.db, "var_a", "price_a")
	expectPaidSession(f, []stripeadapter.LineItem{
		{ID: "li_1", PriceID: "price_missing", Quantity: 1},
		{ID: "li_2", PriceID: "price_a", Quantity: 3},
	})

	outcome, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent(paidSession))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.Applied(), outcome)
	assert.Equal(t, map[string]int64{"var_a": 3}, f.inventory.decremented)
}

func TestPaymentCheckoutSkipsReferralWhenNotFirstOrder(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.db, "user_1", "")
	seedReferral(t, f.db, "user_1")
	require.NoError(t, f.db.Exec(
		`INSERT INTO orders (id, stripe_session_id, payment_status, user_id, created_at, updated_at) VALUES (99, 'cs_old', 'paid', 'user_1', ?, ?)`,
		time.Now(), time.Now(),
	).Error)
	expectPaidSession(f, nil)

	_, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent(paidSession))
	require.NoError(t, err)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM referrals WHERE status = 'pending'`, 1)
}

func TestPaymentCheckoutFreeSessionLeavesReferralPending(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.db, "user_1", "")
	seedReferral(t, f.db, "user_1")
	f.platform.On("ListLineItems", mock.Anything, "cs_free").Return([]stripeadapter.LineItem(nil), nil)

	outcome, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent(`{
		"id": "cs_free",
		"mode": "payment",
		"customer": "cus_1",
		"payment_status": "no_payment_required",
		"currency": "usd",
		"amount_total": 0,
		"metadata": {"user_id": "user_1"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.Applied(), outcome)

	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM orders WHERE stripe_session_id = 'cs_free'`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM referrals WHERE referred_user_id = 'user_1' AND status = 'pending'`, 1)
	f.platform.AssertNotCalled(t, "GetPaymentIntent", mock.Anything, mock.Anything)
}

func TestPaymentCheckoutRepeatedVariantDecrementsOnce(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.db, "user_1", "")
	seedVariant(t, f.db, "var_a", "price_a")
	expectPaidSession(f, []stripeadapter.LineItem{
		{ID: "li_1", PriceID: "price_a", ProductID: "prod_lager", Quantity: 2},
		{ID: "li_2", PriceID: "price_a", ProductID: "prod_lager", Quantity: 5},
	})

	outcome, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent(paidSession))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.Applied(), outcome)
	assert.Equal(t, map[string]int64{"var_a": 2}, f.inventory.decremented)
}

func TestPaymentCheckoutPlatformErrorIsFatal(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.db, "user_1", "")
	f.platform.On("ListLineItems", mock.Anything, "cs_1").Return(nil, errors.New("platform timeout"))

	_, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent(paidSession))
	require.Error(t, err)
}

func TestSubscriptionCheckout(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.db, "user_2", "")
	seedReferral(t, f.db, "user_2")
	f.platform.On("GetSubscription", mock.Anything, "sub_1").Return(&stripeadapter.Subscription{
		ID:            "sub_1",
		CustomerID:    "cus_2",
		Status:        "active",
		PriceID:       "price_gold",
		ProductID:     "prod_club",
		Metadata:      map[string]string{},
		PriceMetadata: map[string]string{},
	}, nil)
	f.platform.On("GetProduct", mock.Anything, "prod_club").Return(&stripeadapter.Product{ID: "prod_club", Name: "Founders Club"}, nil)

	outcome, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent(`{
		"id": "cs_sub",
		"mode": "subscription",
		"customer": "cus_2",
		"customer_email": "member@example.com",
		"subscription": "sub_1",
		"metadata": {"user_id": "user_2"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.Applied(), outcome)

	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM subscriptions WHERE stripe_subscription_id = 'sub_1' AND user_id = 'user_2' AND tier_key = 'gold'`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM profiles WHERE id = 'user_2' AND subscription_status = 'active' AND current_plan = 'Founders Club'`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM email_queue WHERE dedupe_key = 'subscription_confirmation:sub_1'`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM referrals WHERE referred_user_id = 'user_2' AND status = 'completed'`, 1)
}

func TestSubscriptionCheckoutWithoutSubscriptionSkips(t *testing.T) {
	f := newFixture(t)

	outcome, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent(
		`{"id":"cs_sub","mode":"subscription","customer":"cus_2","metadata":{}}`))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.Skipped(paymentdomain.ReasonMissingSubscription), outcome)
}

func TestTierUpgradeCheckout(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.db, "user_3", "cus_3")
	require.NoError(t, f.db.Exec(`UPDATE profiles SET partnership_tier = 'silver' WHERE id = 'user_3'`).Error)

	outcome, err := f.svc.HandleCheckoutCompleted(context.Background(), checkoutEvent(`{
		"id": "cs_tier",
		"mode": "payment",
		"customer": "cus_3",
		"payment_status": "paid",
		"metadata": {"user_id": "user_3", "purchase_type": "tier_upgrade", "new_tier": "gold"}
	}`))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.Applied(), outcome)

	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM profiles WHERE id = 'user_3' AND partnership_tier = 'gold'`, 1)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM orders`, 0)

	require.Len(t, f.emitter.events, 1)
	event := f.emitter.events[0]
	assert.Equal(t, analytics.EventPartnershipTierUpgraded, event.Name)
	assert.Equal(t, "silver", event.Properties["old_tier"])
	assert.Equal(t, "gold", event.Properties["new_tier"])
	assert.Equal(t, "cs_tier", event.Properties["session_id"])
}

func TestTierUpgradeEmitsAfterCommit(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.db, "user_3", "cus_3")
	f.emitter.release = make(chan struct{})

	session := `{
		"id": "cs_tier",
		"mode": "payment",
		"customer": "cus_3",
		"metadata": {"user_id": "user_3", "purchase_type": "tier_upgrade", "new_tier": "gold"}
	}`

	err := pkgdb.Transaction(context.Background(), f.db, func(ctx context.Context) error {
		start := time.Now()
		outcome, err := f.svc.HandleCheckoutCompleted(ctx, checkoutEvent(session))
		require.NoError(t, err)
		assert.Equal(t, paymentdomain.Applied(), outcome)
		// a stalled broker must not hold the handler or its transaction
		assert.Less(t, time.Since(start), time.Second)
		assert.Empty(t, f.emitter.events)

		close(f.emitter.release)
		return nil
	})
	require.NoError(t, err)
	require.Len(t, f.emitter.events, 1)
	assert.Equal(t, "gold", f.emitter.events[0].Properties["new_tier"])
}

func TestTierUpgradeRollbackDropsEmit(t *testing.T) {
	f := newFixture(t)
	testutil.SeedProfile(t, f.db, "user_3", "cus_3")

	err := pkgdb.Transaction(context.Background(), f.db, func(ctx context.Context) error {
		_, err := f.svc.HandleCheckoutCompleted(ctx, checkoutEvent(`{
			"id": "cs_tier",
			"mode": "payment",
			"customer": "cus_3",
			"metadata": {"user_id": "user_3", "purchase_type": "tier_upgrade", "new_tier": "gold"}
		}`))
		require.NoError(t, err)
		return errors.New("later handler step failed")
	})
	require.Error(t, err)
	assert.Empty(t, f.emitter.events)
	testutil.AssertCount(t, f.db, `SELECT COUNT(1) FROM profiles WHERE id = 'user_3' AND partnership_tier = 'gold'`, 0)
}

func TestCheckoutUnattributable(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	outcome, err := f.svc.HandleCheckoutCompleted(ctx, checkoutEvent(`{"id":"cs_x","mode":"payment","metadata":{}}`))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.Skipped(paymentdomain.ReasonMissingCustomer), outcome)

	outcome, err = f.svc.HandleCheckoutCompleted(ctx, checkoutEvent(`{"id":"cs_y","mode":"setup","customer":"cus_9","metadata":{}}`))
	require.NoError(t, err)
	assert.Equal(t, paymentdomain.Skipped(paymentdomain.ReasonUnsupportedMode), outcome)
}
