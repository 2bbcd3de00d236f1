package stripewebhooks

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"finchart-app/database"
	"finchart-app/internal/domain/billing"
	"finchart-app/internal/domain/subscriptions"
	"finchart-app/internal/domain/users"
	"finchart-app/internal/kafka"
	"finchart-app/internal/metrics"

	"github.com/gin-gonic/gin"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/stripe/stripe-go/v75/webhook"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const testSecret = "whsec_test_secret"

type testEnv struct {
	db      *gorm.DB
	store   *subscriptions.Store
	seen    *SeenCache
	handler *Handler
	router  *gin.Engine
}

func newTestEnv(t *testing.T, async bool) *testEnv {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db, err := gorm.Open(sqlite.Open(filepath.Join(t.TempDir(), "test.db")), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		t.Fatalf("open database: %v", err)
	}
	if err := database.Migrate(db); err != nil {
		t.Fatalf("migrate: %v", err)
	}

	store := subscriptions.NewStore(db)
	seen := NewSeenCache(nil)
	t.Cleanup(seen.Stop)

	h := NewHandler(
		NewProjector(db, store),
		seen,
		metrics.NewWebhookMetrics(prometheus.NewRegistry()),
		kafka.NewNopProducer(),
		testSecret,
		async,
	)
	t.Cleanup(h.Stop)

	r := gin.New()
	r.POST("/api/stripe-webhook", h.HandleWebhook)
	r.GET("/api/stripe-webhook", h.MethodNotAllowed)

	return &testEnv{db: db, store: store, seen: seen, handler: h, router: r}
}

func signPayload(payload []byte) string {
	ts := time.Now()
	sig := webhook.ComputeSignature(ts, payload, testSecret)
	return fmt.Sprintf("t=%d,v1=%s", ts.Unix(), hex.EncodeToString(sig))
}

func (e *testEnv) deliver(t *testing.T, payload string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(http.MethodPost, "/api/stripe-webhook", strings.NewReader(payload))
	req.Header.Set("Stripe-Signature", signPayload([]byte(payload)))
	w := httptest.NewRecorder()
	e.router.ServeHTTP(w, req)
	return w
}

func (e *testEnv) subscriptionCount(t *testing.T) int64 {
	t.Helper()
	var count int64
	if err := e.db.Model(&subscriptions.Subscription{}).Count(&count).Error; err != nil {
		t.Fatalf("count subscriptions: %v", err)
	}
	return count
}

func event(eventID, eventType, objectJSON string) string {
	return fmt.Sprintf(`{"id": %q, "object": "event", "type": %q, "data": {"object": %s}}`, eventID, eventType, objectJSON)
}

func subscriptionObject(subID, customerID, status, userID string, periodStart, periodEnd int64, cancelAtPeriodEnd bool) string {
	metadata := "{}"
	if userID != "" {
		metadata = fmt.Sprintf(`{"user_id": %q}`, userID)
	}
	return fmt.Sprintf(`{
		"id": %q,
		"object": "subscription",
		"customer": %q,
		"status": %q,
		"metadata": %s,
		"current_period_start": %d,
		"current_period_end": %d,
		"cancel_at_period_end": %t,
		"items": {"object": "list", "data": [{"id": "si_1", "object": "subscription_item", "price": {"id": "price_premium_monthly", "object": "price"}}]}
	}`, subID, customerID, status, metadata, periodStart, periodEnd, cancelAtPeriodEnd)
}

func assertReceived(t *testing.T, w *httptest.ResponseRecorder) {
	t.Helper()
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
	var body map[string]interface{}
	if err := json.Unmarshal(w.Body.Bytes(), &body); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if body["received"] != true {
		t.Errorf("body = %s, want received: true", w.Body.String())
	}
}

func TestWebhookRejectsMissingSignature(t *testing.T) {
	env := newTestEnv(t, false)

	payload := event("evt_1", "customer.subscription.created",
		subscriptionObject("sub_1", "cus_1", "active", "u1", 1700000000, 1702592000, false))

	req := httptest.NewRequest(http.MethodPost, "/api/stripe-webhook", strings.NewReader(payload))
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if got := env.subscriptionCount(t); got != 0 {
		t.Errorf("store mutated: %d rows", got)
	}
}

func TestWebhookRejectsTamperedPayload(t *testing.T) {
	env := newTestEnv(t, false)

	payload := event("evt_1", "customer.subscription.created",
		subscriptionObject("sub_1", "cus_1", "active", "u1", 1700000000, 1702592000, false))
	header := signPayload([]byte(payload))

	// Alter the body after signing.
	tampered := strings.Replace(payload, `"active"`, `"trialing"`, 1)
	req := httptest.NewRequest(http.MethodPost, "/api/stripe-webhook", strings.NewReader(tampered))
	req.Header.Set("Stripe-Signature", header)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", w.Code)
	}
	if got := env.subscriptionCount(t); got != 0 {
		t.Errorf("store mutated: %d rows", got)
	}
}

func TestWebhookGetMethodNotAllowed(t *testing.T) {
	env := newTestEnv(t, false)

	req := httptest.NewRequest(http.MethodGet, "/api/stripe-webhook", nil)
	w := httptest.NewRecorder()
	env.router.ServeHTTP(w, req)

	if w.Code != http.StatusMethodNotAllowed {
		t.Errorf("status = %d, want 405", w.Code)
	}
}

func TestWebhookAcknowledgesUnknownEventTypes(t *testing.T) {
	env := newTestEnv(t, false)

	w := env.deliver(t, event("evt_1", "customer.created", `{"id": "cus_1", "object": "customer"}`))
	assertReceived(t, w)

	if got := env.subscriptionCount(t); got != 0 {
		t.Errorf("unknown event mutated the store: %d rows", got)
	}
	var audits int64
	env.db.Model(&billing.WebhookEvent{}).Count(&audits)
	if audits != 0 {
		t.Errorf("unknown event was audited: %d rows", audits)
	}
}

func TestWebhookSubscriptionCreated(t *testing.T) {
	env := newTestEnv(t, false)

	start := int64(1700000000)
	end := int64(1702592000)
	w := env.deliver(t, event("evt_1", "customer.subscription.created",
		subscriptionObject("sub_1", "cus_1", "active", "u1", start, end, false)))
	assertReceived(t, w)

	sub, err := env.store.GetByUserID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("row not created: %v", err)
	}
	if sub.Status != "active" {
		t.Errorf("status = %q", sub.Status)
	}
	if sub.StripeSubscriptionID != "sub_1" || sub.StripeCustomerID != "cus_1" {
		t.Errorf("ids = %q/%q", sub.StripeSubscriptionID, sub.StripeCustomerID)
	}
	if sub.PriceID != "price_premium_monthly" {
		t.Errorf("price id = %q", sub.PriceID)
	}
	if sub.CurrentPeriodStart == nil || sub.CurrentPeriodStart.Unix() != start {
		t.Errorf("period start = %v, want epoch %d", sub.CurrentPeriodStart, start)
	}
	if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.Unix() != end {
		t.Errorf("period end = %v, want epoch %d", sub.CurrentPeriodEnd, end)
	}
	if sub.CancelAtPeriodEnd {
		t.Error("cancel_at_period_end should be false")
	}

	var audit billing.WebhookEvent
	if err := env.db.Where("provider_event_id = ?", "evt_1").First(&audit).Error; err != nil {
		t.Fatalf("audit row missing: %v", err)
	}
	if audit.ProcessedAt == nil || audit.ProcessingError != "" {
		t.Errorf("audit = %+v, want processed", audit)
	}
}

func TestWebhookRedeliveryIsIdempotent(t *testing.T) {
	env := newTestEnv(t, false)

	payload := event("evt_1", "customer.subscription.created",
		subscriptionObject("sub_1", "cus_1", "active", "u1", 1700000000, 1702592000, false))

	assertReceived(t, env.deliver(t, payload))

	// Second delivery with the seen cache warm: fast-path ack.
	assertReceived(t, env.deliver(t, payload))
	if got := env.subscriptionCount(t); got != 1 {
		t.Fatalf("duplicate created rows: %d", got)
	}

	// Third delivery with the cache cold, as after a restart: the upsert
	// keeps the final state identical.
	env.seen.Clear()
	assertReceived(t, env.deliver(t, payload))
	if got := env.subscriptionCount(t); got != 1 {
		t.Fatalf("reprojection created rows: %d", got)
	}
}

func TestWebhookUpdatedOverwritesRow(t *testing.T) {
	env := newTestEnv(t, false)

	assertReceived(t, env.deliver(t, event("evt_1", "customer.subscription.created",
		subscriptionObject("sub_1", "cus_1", "active", "u1", 1700000000, 1702592000, false))))

	newEnd := int64(1705270400)
	assertReceived(t, env.deliver(t, event("evt_2", "customer.subscription.updated",
		subscriptionObject("sub_1", "cus_1", "active", "u1", 1702592000, newEnd, true))))

	sub, err := env.store.GetByUserID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("row missing: %v", err)
	}
	if sub.CurrentPeriodEnd.Unix() != newEnd {
		t.Errorf("period end = %v, want epoch %d", sub.CurrentPeriodEnd, newEnd)
	}
	if !sub.CancelAtPeriodEnd {
		t.Error("cancel_at_period_end not updated")
	}
	if got := env.subscriptionCount(t); got != 1 {
		t.Errorf("update duplicated the row: %d", got)
	}
}

func TestWebhookSubscriptionDeleted(t *testing.T) {
	env := newTestEnv(t, false)

	assertReceived(t, env.deliver(t, event("evt_1", "customer.subscription.created",
		subscriptionObject("sub_1", "cus_1", "active", "u1", 1700000000, 1702592000, false))))

	deleted := fmt.Sprintf(`{
		"id": "sub_1",
		"object": "subscription",
		"customer": "cus_1",
		"status": "canceled",
		"metadata": {"user_id": "u1"},
		"canceled_at": %d
	}`, 1701000000)
	assertReceived(t, env.deliver(t, event("evt_2", "customer.subscription.deleted", deleted)))

	sub, err := env.store.GetByUserID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("row vanished: %v", err)
	}
	if sub.Status != subscriptions.StatusCanceled {
		t.Errorf("status = %q, want canceled", sub.Status)
	}
	if sub.CanceledAt == nil || sub.CanceledAt.Unix() != 1701000000 {
		t.Errorf("canceled_at = %v", sub.CanceledAt)
	}
	// The patch must leave the rest of the row intact.
	if sub.PriceID != "price_premium_monthly" {
		t.Errorf("price id lost: %q", sub.PriceID)
	}
	if sub.CurrentPeriodEnd == nil || sub.CurrentPeriodEnd.Unix() != 1702592000 {
		t.Errorf("period end lost: %v", sub.CurrentPeriodEnd)
	}
}

func TestWebhookDeletedWithoutRowIsAcked(t *testing.T) {
	env := newTestEnv(t, false)

	deleted := `{"id": "sub_ghost", "object": "subscription", "status": "canceled", "metadata": {"user_id": "u9"}}`
	assertReceived(t, env.deliver(t, event("evt_1", "customer.subscription.deleted", deleted)))

	if got := env.subscriptionCount(t); got != 0 {
		t.Errorf("deletion created rows: %d", got)
	}
	var audit billing.WebhookEvent
	if err := env.db.Where("provider_event_id = ?", "evt_1").First(&audit).Error; err != nil {
		t.Fatalf("audit row missing: %v", err)
	}
	if audit.ProcessingError == "" {
		t.Error("audit row should record why the event was skipped")
	}
}

func TestWebhookInvoicePaymentFailed(t *testing.T) {
	env := newTestEnv(t, false)

	assertReceived(t, env.deliver(t, event("evt_1", "customer.subscription.created",
		subscriptionObject("sub_1", "cus_1", "active", "u1", 1700000000, 1702592000, false))))

	invoice := `{
		"id": "in_1",
		"object": "invoice",
		"subscription": "sub_1",
		"amount_due": 1500,
		"amount_paid": 0,
		"currency": "usd",
		"hosted_invoice_url": "https://pay.example.com/in_1"
	}`
	assertReceived(t, env.deliver(t, event("evt_2", "invoice.payment_failed", invoice)))

	sub, err := env.store.GetByUserID(context.Background(), "u1")
	if err != nil {
		t.Fatalf("row missing: %v", err)
	}
	if sub.Status != subscriptions.StatusPastDue {
		t.Errorf("status = %q, want past_due", sub.Status)
	}

	var payment billing.Payment
	if err := env.db.Where("stripe_invoice_id = ?", "in_1").First(&payment).Error; err != nil {
		t.Fatalf("payment row missing: %v", err)
	}
	if payment.UserID != "u1" || payment.Status != "failed" {
		t.Errorf("payment = %+v", payment)
	}
	if payment.AmountUSD != 15 {
		t.Errorf("amount = %v, want 15", payment.AmountUSD)
	}
}

func TestWebhookInvoicePaidRecordsPayment(t *testing.T) {
	env := newTestEnv(t, false)

	assertReceived(t, env.deliver(t, event("evt_1", "customer.subscription.created",
		subscriptionObject("sub_1", "cus_1", "active", "u1", 1700000000, 1702592000, false))))

	invoice := `{
		"id": "in_2",
		"object": "invoice",
		"subscription": "sub_1",
		"amount_due": 1500,
		"amount_paid": 1500,
		"currency": "usd"
	}`
	assertReceived(t, env.deliver(t, event("evt_2", "invoice.paid", invoice)))

	var payment billing.Payment
	if err := env.db.Where("stripe_invoice_id = ?", "in_2").First(&payment).Error; err != nil {
		t.Fatalf("payment row missing: %v", err)
	}
	if payment.Status != "paid" || payment.AmountUSD != 15 {
		t.Errorf("payment = %+v", payment)
	}

	// The paid invoice must not flip the subscription status.
	sub, _ := env.store.GetByUserID(context.Background(), "u1")
	if sub.Status != "active" {
		t.Errorf("status = %q, want active", sub.Status)
	}
}

func TestWebhookUnresolvableUserIsDroppedButAcked(t *testing.T) {
	env := newTestEnv(t, false)

	// No metadata, no known subscription row, no customer binding.
	w := env.deliver(t, event("evt_1", "customer.subscription.created",
		subscriptionObject("sub_unknown", "cus_unknown", "active", "", 1700000000, 1702592000, false)))
	assertReceived(t, w)

	if got := env.subscriptionCount(t); got != 0 {
		t.Errorf("unattributable event created rows: %d", got)
	}
	var audit billing.WebhookEvent
	if err := env.db.Where("provider_event_id = ?", "evt_1").First(&audit).Error; err != nil {
		t.Fatalf("audit row missing: %v", err)
	}
	if !strings.Contains(audit.ProcessingError, "no resolvable user") {
		t.Errorf("processing error = %q", audit.ProcessingError)
	}
}

func TestWebhookResolvesUserByCustomerBinding(t *testing.T) {
	env := newTestEnv(t, false)

	customerID := "cus_bound"
	user := users.User{ID: "u7", Email: "u7@example.com", StripeCustomerID: &customerID}
	if err := env.db.Create(&user).Error; err != nil {
		t.Fatalf("seed user: %v", err)
	}

	// Metadata-less event; attribution works through the binding we wrote
	// at checkout time.
	assertReceived(t, env.deliver(t, event("evt_1", "customer.subscription.updated",
		subscriptionObject("sub_7", "cus_bound", "active", "", 1700000000, 1702592000, false))))

	sub, err := env.store.GetByUserID(context.Background(), "u7")
	if err != nil {
		t.Fatalf("row not created via binding: %v", err)
	}
	if sub.StripeSubscriptionID != "sub_7" {
		t.Errorf("subscription id = %q", sub.StripeSubscriptionID)
	}
}

func TestWebhookSyncModeSurfacesPersistenceFailures(t *testing.T) {
	env := newTestEnv(t, false)

	// Make the upsert fail underneath the handler.
	if err := env.db.Migrator().DropTable(&subscriptions.Subscription{}); err != nil {
		t.Fatalf("drop table: %v", err)
	}

	w := env.deliver(t, event("evt_1", "customer.subscription.created",
		subscriptionObject("sub_1", "cus_1", "active", "u1", 1700000000, 1702592000, false)))

	if w.Code != http.StatusInternalServerError {
		t.Fatalf("status = %d, want 500", w.Code)
	}
	// A transient failure must not poison the dedup cache, or the
	// provider's redelivery would be swallowed.
	if env.seen.Seen(context.Background(), "evt_1") {
		t.Error("failed event marked as seen")
	}
}

func TestWebhookAsyncAcksImmediately(t *testing.T) {
	env := newTestEnv(t, true)

	w := env.deliver(t, event("evt_1", "customer.subscription.created",
		subscriptionObject("sub_1", "cus_1", "active", "u1", 1700000000, 1702592000, false)))
	assertReceived(t, w)

	deadline := time.Now().Add(2 * time.Second)
	for {
		if sub, err := env.store.GetByUserID(context.Background(), "u1"); err == nil {
			if sub.Status != "active" {
				t.Errorf("status = %q", sub.Status)
			}
			return
		}
		if time.Now().After(deadline) {
			t.Fatal("projection did not land after async ack")
		}
		time.Sleep(10 * time.Millisecond)
	}
}
