package handlers

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"

	"paybridge/internal/billing"
	"paybridge/internal/external"
	"paybridge/internal/types"
)

// =============================================================================
// Mock Implementations
// =============================================================================

type mockVerifier struct {
	verifyFn func(payload []byte, header, secret string) error
	calls    int
}

func (m *mockVerifier) Verify(payload []byte, header, secret string) error {
	m.calls++
	if m.verifyFn != nil {
		return m.verifyFn(payload, header, secret)
	}
	return nil
}

type syncStateCall struct {
	processorSubID    string
	status            types.SubscriptionStatus
	cancelAtPeriodEnd bool
	periodStart       *time.Time
	periodEnd         *time.Time
	eventTime         time.Time
}

type refreshCall struct {
	processorSubID string
	eventTime      time.Time
}

type mockSyncer struct {
	syncFn    func(ctx context.Context, processorSubID string, status types.SubscriptionStatus, cancelAtPeriodEnd bool, periodStart, periodEnd *time.Time, eventTime time.Time) error
	refreshFn func(ctx context.Context, processorSubID string, eventTime time.Time) error

	syncCalls    []syncStateCall
	refreshCalls []refreshCall
}

func (m *mockSyncer) SyncProcessorState(ctx context.Context, processorSubID string, status types.SubscriptionStatus, cancelAtPeriodEnd bool, periodStart, periodEnd *time.Time, eventTime time.Time) error {
	m.syncCalls = append(m.syncCalls, syncStateCall{processorSubID, status, cancelAtPeriodEnd, periodStart, periodEnd, eventTime})
	if m.syncFn != nil {
		return m.syncFn(ctx, processorSubID, status, cancelAtPeriodEnd, periodStart, periodEnd, eventTime)
	}
	return nil
}

func (m *mockSyncer) RefreshFromProcessor(ctx context.Context, processorSubID string, eventTime time.Time) error {
	m.refreshCalls = append(m.refreshCalls, refreshCall{processorSubID, eventTime})
	if m.refreshFn != nil {
		return m.refreshFn(ctx, processorSubID, eventTime)
	}
	return nil
}

// Compile-time interface assertions for mocks.
var (
	_ external.WebhookVerifier = (*mockVerifier)(nil)
	_ SubscriptionSyncer       = (*mockSyncer)(nil)
)

// =============================================================================
// Test Helpers
// =============================================================================

const testWebhookSecret = "whsec_test_secret"

func newWebhookTestRouter(verifier external.WebhookVerifier, recorder RecordingService, syncer SubscriptionSyncer) http.Handler {
	h := NewStripeWebhookHandler(verifier, recorder, syncer, testWebhookSecret, slog.Default())

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return r
}

func makeWebhookRequest(payload string, signature string) *http.Request {
	req := httptest.NewRequest(http.MethodPost, "/v1/webhooks/stripe", bytes.NewBufferString(payload))
	req.Header.Set("Content-Type", "application/json")
	if signature != "" {
		req.Header.Set("Stripe-Signature", signature)
	}
	return req
}

// =============================================================================
// Signature Verification Tests
// =============================================================================

func TestWebhook_MissingSignatureRejected(t *testing.T) {
	verifier := &mockVerifier{}
	recorder := &mockRecordingService{}
	router := newWebhookTestRouter(verifier, recorder, &mockSyncer{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeWebhookRequest(`{"id":"evt_1","type":"payment_intent.succeeded"}`, ""))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d: %s", rr.Code, rr.Body.String())
	}
	assertErrorCode(t, rr, types.ErrCodeWebhookSignatureMissing)
	if verifier.calls != 0 {
		t.Error("verifier must not run without a signature header")
	}
	if len(recorder.calls) != 0 {
		t.Error("no event processing without a signature")
	}
}

func TestWebhook_InvalidSignatureRejected(t *testing.T) {
	verifier := &mockVerifier{
		verifyFn: func(payload []byte, header, secret string) error {
			return errors.New("signature mismatch")
		},
	}
	recorder := &mockRecordingService{}
	router := newWebhookTestRouter(verifier, recorder, &mockSyncer{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeWebhookRequest(`{"id":"evt_1","type":"payment_intent.succeeded"}`, "t=1,v1=bad"))

	if rr.Code != http.StatusUnauthorized {
		t.Fatalf("expected status 401, got %d: %s", rr.Code, rr.Body.String())
	}
	assertErrorCode(t, rr, types.ErrCodeWebhookSignatureInvalid)
	if len(recorder.calls) != 0 {
		t.Error("no event processing with an invalid signature")
	}
}

func TestWebhook_VerifierReceivesPayloadAndSecret(t *testing.T) {
	payload := `{"id":"evt_1","type":"something.ignored"}`
	var gotPayload []byte
	var gotHeader, gotSecret string
	verifier := &mockVerifier{
		verifyFn: func(p []byte, header, secret string) error {
			gotPayload, gotHeader, gotSecret = p, header, secret
			return nil
		},
	}
	router := newWebhookTestRouter(verifier, &mockRecordingService{}, &mockSyncer{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeWebhookRequest(payload, "t=123,v1=abc"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if string(gotPayload) != payload {
		t.Errorf("verifier got payload %q, want %q", gotPayload, payload)
	}
	if gotHeader != "t=123,v1=abc" {
		t.Errorf("verifier got header %q", gotHeader)
	}
	if gotSecret != testWebhookSecret {
		t.Errorf("verifier got secret %q", gotSecret)
	}
}

func TestWebhook_MalformedJSONRejected(t *testing.T) {
	router := newWebhookTestRouter(&mockVerifier{}, &mockRecordingService{}, &mockSyncer{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeWebhookRequest(`{not json`, "t=1,v1=sig"))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
	assertErrorCode(t, rr, types.ErrCodeValidationInvalidField)
}

// =============================================================================
// Event Routing Tests
// =============================================================================

func TestWebhook_PaymentIntentSucceededRecordsPayment(t *testing.T) {
	recorder := &mockRecordingService{}
	router := newWebhookTestRouter(&mockVerifier{}, recorder, &mockSyncer{})

	payload := `{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"created": 1767225600,
		"data": {"object": {"id": "pi_webhook_1", "status": "succeeded"}}
	}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeWebhookRequest(payload, "t=1,v1=sig"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(recorder.calls) != 1 || recorder.calls[0] != "pi_webhook_1" {
		t.Errorf("expected recorder call with pi_webhook_1, got %v", recorder.calls)
	}
}

func TestWebhook_RecorderErrorStillAcknowledged(t *testing.T) {
	recorder := &mockRecordingService{
		processFn: func(ctx context.Context, intentID string) (*billing.RecordResult, error) {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "insert failed", nil)
		},
	}
	router := newWebhookTestRouter(&mockVerifier{}, recorder, &mockSyncer{})

	payload := `{
		"id": "evt_1",
		"type": "payment_intent.succeeded",
		"data": {"object": {"id": "pi_webhook_1"}}
	}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeWebhookRequest(payload, "t=1,v1=sig"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 even on processing failure, got %d", rr.Code)
	}
}

func TestWebhook_SubscriptionUpdatedSyncsState(t *testing.T) {
	syncer := &mockSyncer{}
	router := newWebhookTestRouter(&mockVerifier{}, &mockRecordingService{}, syncer)

	payload := `{
		"id": "evt_2",
		"type": "customer.subscription.updated",
		"created": 1767225600,
		"data": {"object": {
			"id": "sub_1",
			"status": "past_due",
			"cancel_at_period_end": true,
			"current_period_start": 1764547200,
			"current_period_end": 1767225600
		}}
	}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeWebhookRequest(payload, "t=1,v1=sig"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(syncer.syncCalls) != 1 {
		t.Fatalf("expected 1 sync call, got %d", len(syncer.syncCalls))
	}
	call := syncer.syncCalls[0]
	if call.processorSubID != "sub_1" {
		t.Errorf("expected sub_1, got %s", call.processorSubID)
	}
	if call.status != types.SubStatusPastDue {
		t.Errorf("expected status past_due, got %s", call.status)
	}
	if !call.cancelAtPeriodEnd {
		t.Error("expected cancel_at_period_end true")
	}
	wantStart := time.Unix(1764547200, 0).UTC()
	if call.periodStart == nil || !call.periodStart.Equal(wantStart) {
		t.Errorf("expected period start %v, got %v", wantStart, call.periodStart)
	}
	wantEvent := time.Unix(1767225600, 0).UTC()
	if !call.eventTime.Equal(wantEvent) {
		t.Errorf("expected event time %v, got %v", wantEvent, call.eventTime)
	}
}

func TestWebhook_SubscriptionDeletedSyncsState(t *testing.T) {
	syncer := &mockSyncer{}
	router := newWebhookTestRouter(&mockVerifier{}, &mockRecordingService{}, syncer)

	payload := `{
		"id": "evt_3",
		"type": "customer.subscription.deleted",
		"created": 1767225600,
		"data": {"object": {"id": "sub_1", "status": "canceled"}}
	}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeWebhookRequest(payload, "t=1,v1=sig"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(syncer.syncCalls) != 1 {
		t.Fatalf("expected 1 sync call, got %d", len(syncer.syncCalls))
	}
	call := syncer.syncCalls[0]
	if call.status != types.SubStatusCanceled {
		t.Errorf("expected status canceled, got %s", call.status)
	}
	if call.periodStart != nil || call.periodEnd != nil {
		t.Errorf("expected nil periods for absent timestamps, got %v / %v", call.periodStart, call.periodEnd)
	}
}

func TestWebhook_InvoicePaymentFailedRefreshesSubscription(t *testing.T) {
	syncer := &mockSyncer{}
	router := newWebhookTestRouter(&mockVerifier{}, &mockRecordingService{}, syncer)

	payload := `{
		"id": "evt_4",
		"type": "invoice.payment_failed",
		"created": 1767225600,
		"data": {"object": {"id": "in_1", "subscription": "sub_1"}}
	}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeWebhookRequest(payload, "t=1,v1=sig"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(syncer.refreshCalls) != 1 {
		t.Fatalf("expected 1 refresh call, got %d", len(syncer.refreshCalls))
	}
	call := syncer.refreshCalls[0]
	if call.processorSubID != "sub_1" {
		t.Errorf("expected sub_1, got %s", call.processorSubID)
	}
	if !call.eventTime.Equal(time.Unix(1767225600, 0).UTC()) {
		t.Errorf("unexpected event time %v", call.eventTime)
	}
}

func TestWebhook_InvoiceWithoutSubscriptionIgnored(t *testing.T) {
	syncer := &mockSyncer{}
	router := newWebhookTestRouter(&mockVerifier{}, &mockRecordingService{}, syncer)

	payload := `{
		"id": "evt_5",
		"type": "invoice.paid",
		"data": {"object": {"id": "in_oneoff"}}
	}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeWebhookRequest(payload, "t=1,v1=sig"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(syncer.refreshCalls) != 0 {
		t.Errorf("expected no refresh calls for one-off invoice, got %d", len(syncer.refreshCalls))
	}
}

func TestWebhook_UnknownEventTypeAcknowledged(t *testing.T) {
	recorder := &mockRecordingService{}
	syncer := &mockSyncer{}
	router := newWebhookTestRouter(&mockVerifier{}, recorder, syncer)

	payload := `{
		"id": "evt_6",
		"type": "charge.refunded",
		"data": {"object": {"id": "ch_1"}}
	}`
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeWebhookRequest(payload, "t=1,v1=sig"))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d", rr.Code)
	}
	if len(recorder.calls) != 0 || len(syncer.syncCalls) != 0 || len(syncer.refreshCalls) != 0 {
		t.Error("expected no processing for unhandled event type")
	}
}
