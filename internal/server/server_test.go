package server

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/smallbiznis/reconciler/internal/observability"
	stripeadapter "github.com/smallbiznis/reconciler/internal/payment/adapters/stripe"
	paymentdomain "github.com/smallbiznis/reconciler/internal/payment/domain"
)

type fakeWebhookService struct {
	calls     int
	signature string
	payload   []byte
	result    *paymentdomain.IngestResult
	err       error
}

func (f *fakeWebhookService) Ingest(ctx context.Context, payload []byte, signature string) (*paymentdomain.IngestResult, error) {
	f.calls++
	f.payload = payload
	f.signature = signature
	return f.result, f.err
}

func (f *fakeWebhookService) Replay(ctx context.Context, eventID string) (*paymentdomain.IngestResult, error) {
	return nil, paymentdomain.ErrFailureNotFound
}

func newTestServer(svc paymentdomain.Service) *gin.Engine {
	gin.SetMode(gin.TestMode)
	engine := NewEngine(observability.Config{LogLevel: "info"}, nil)
	s := NewServer(ServerParams{Gin: engine, WebhookSvc: svc})
	s.RegisterRoutes()
	return engine
}

func postWebhook(engine *gin.Engine, body []byte, signature string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader(body))
	if signature != "" {
		req.Header.Set(stripeadapter.SignatureHeader, signature)
	}
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)
	return rec
}

func decodeBody(t *testing.T, rec *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var body map[string]any
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &body))
	return body
}

func TestWebhookAcknowledgesProcessedEvent(t *testing.T) {
	svc := &fakeWebhookService{result: &paymentdomain.IngestResult{
		EventID:   "evt_123",
		EventType: paymentdomain.EventCheckoutSessionCompleted,
		Outcome:   paymentdomain.Applied(),
	}}
	engine := newTestServer(svc)

	rec := postWebhook(engine, []byte(`{"id":"evt_123"}`), "t=1,v1=abc")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"received": true}, decodeBody(t, rec))
	assert.Equal(t, "t=1,v1=abc", svc.signature)
	assert.Equal(t, []byte(`{"id":"evt_123"}`), svc.payload)
}

func TestWebhookReportsDuplicate(t *testing.T) {
	svc := &fakeWebhookService{result: &paymentdomain.IngestResult{EventID: "evt_123", Duplicate: true}}
	engine := newTestServer(svc)

	rec := postWebhook(engine, []byte(`{}`), "t=1,v1=abc")

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"received": true, "duplicate": true}, decodeBody(t, rec))
}

func TestWebhookErrorMapping(t *testing.T) {
	cases := []struct {
		name   string
		err    error
		status int
		kind   string
	}{
		{"missing signature", paymentdomain.ErrMissingSignature, http.StatusBadRequest, "missing_signature"},
		{"invalid signature", fmt.Errorf("%w: no secret matched", paymentdomain.ErrInvalidSignature), http.StatusBadRequest, "invalid_signature"},
		{"invalid payload", paymentdomain.ErrInvalidPayload, http.StatusBadRequest, "invalid_request"},
		{"handler failure", fmt.Errorf("%w: %w", paymentdomain.ErrHandlerFailed, paymentdomain.ErrInvalidEvent), http.StatusInternalServerError, "handler_failed"},
		{"unexpected", fmt.Errorf("connection reset"), http.StatusInternalServerError, "internal_error"},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			engine := newTestServer(&fakeWebhookService{err: tc.err})
			rec := postWebhook(engine, []byte(`{}`), "t=1,v1=abc")

			require.Equal(t, tc.status, rec.Code)
			body := decodeBody(t, rec)
			errBody, ok := body["error"].(map[string]any)
			require.True(t, ok)
			assert.Equal(t, tc.kind, errBody["type"])
		})
	}
}

func TestClassifyErrorForLog(t *testing.T) {
	cases := []struct {
		err       error
		wantClass string
		wantCode  string
	}{
		{paymentdomain.ErrMissingSignature, "client_error", "missing_signature"},
		{fmt.Errorf("%w: stale", paymentdomain.ErrInvalidSignature), "client_error", "invalid_signature"},
		{ErrPayloadTooLarge, "client_error", "payload_too_large"},
		{fmt.Errorf("%w: %w", paymentdomain.ErrHandlerFailed, paymentdomain.ErrInvalidEvent), "server_error", "handler_failed"},
		{fmt.Errorf("connection reset"), "server_error", "internal_error"},
	}

	for _, tc := range cases {
		class, code := classifyErrorForLog(tc.err)
		assert.Equal(t, tc.wantClass, class, tc.err.Error())
		assert.Equal(t, tc.wantCode, code, tc.err.Error())
		assert.NotEqual(t, class, code)
	}
}

func TestWebhookReadsSignatureHeader(t *testing.T) {
	svc := &fakeWebhookService{result: &paymentdomain.IngestResult{EventID: "evt_1", Outcome: paymentdomain.Ignored()}}
	engine := newTestServer(svc)

	req := httptest.NewRequest(http.MethodPost, "/api/stripe/webhook", bytes.NewReader([]byte(`{}`)))
	req.Header.Set("stripe-signature", "t=2,v1=def")
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "t=2,v1=def", svc.signature)
}

func TestWebhookRejectsOversizedBody(t *testing.T) {
	svc := &fakeWebhookService{}
	engine := newTestServer(svc)

	rec := postWebhook(engine, bytes.Repeat([]byte("a"), maxWebhookBodyBytes+1), "t=1,v1=abc")

	assert.Equal(t, http.StatusRequestEntityTooLarge, rec.Code)
	assert.Equal(t, 0, svc.calls)
}

func TestHealth(t *testing.T) {
	engine := newTestServer(&fakeWebhookService{})

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	rec := httptest.NewRecorder()
	engine.ServeHTTP(rec, req)

	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, map[string]any{"status": "ok"}, decodeBody(t, rec))
}
