package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/shopspring/decimal"

	"paybridge/internal/billing"
	"paybridge/internal/core"
	"paybridge/internal/types"
)

// =============================================================================
// Mock Implementations
// =============================================================================

type mockIntentService struct {
	createIntentFn func(ctx context.Context, in billing.CreateIntentInput) (*billing.IntentResult, error)
	calls          []billing.CreateIntentInput
}

func (m *mockIntentService) CreateIntent(ctx context.Context, in billing.CreateIntentInput) (*billing.IntentResult, error) {
	m.calls = append(m.calls, in)
	if m.createIntentFn != nil {
		return m.createIntentFn(ctx, in)
	}
	return &billing.IntentResult{
		IntentID:     "pi_test",
		ClientSecret: "pi_test_secret",
		AmountMinor:  12550,
		Currency:     "usd",
		Amount:       decimal.RequireFromString("125.50"),
	}, nil
}

type mockRecordingService struct {
	processFn func(ctx context.Context, intentID string) (*billing.RecordResult, error)
	calls     []string
}

func (m *mockRecordingService) ProcessSuccessfulPayment(ctx context.Context, intentID string) (*billing.RecordResult, error) {
	m.calls = append(m.calls, intentID)
	if m.processFn != nil {
		return m.processFn(ctx, intentID)
	}
	return &billing.RecordResult{Payment: testRecordedPayment()}, nil
}

type mockRefundService struct {
	refundFn func(ctx context.Context, in billing.RefundInput) *billing.RefundResult
	calls    []billing.RefundInput
}

func (m *mockRefundService) ProcessRefund(ctx context.Context, in billing.RefundInput) *billing.RefundResult {
	m.calls = append(m.calls, in)
	if m.refundFn != nil {
		return m.refundFn(ctx, in)
	}
	return &billing.RefundResult{
		Success:  true,
		RefundID: "re_test",
		Amount:   decimal.RequireFromString("125.50"),
		Status:   "succeeded",
	}
}

type mockPaymentLister struct {
	listFn func(ctx context.Context, orgID string, limit int) ([]*types.Payment, error)
	getFn  func(ctx context.Context, reference string) (*types.Payment, error)
}

func (m *mockPaymentLister) ListByOrganization(ctx context.Context, orgID string, limit int) ([]*types.Payment, error) {
	if m.listFn != nil {
		return m.listFn(ctx, orgID, limit)
	}
	return []*types.Payment{testRecordedPayment()}, nil
}

func (m *mockPaymentLister) GetByReference(ctx context.Context, reference string) (*types.Payment, error) {
	if m.getFn != nil {
		return m.getFn(ctx, reference)
	}
	return testRecordedPayment(), nil
}

// Compile-time interface assertions for mocks.
var (
	_ IntentService    = (*mockIntentService)(nil)
	_ RecordingService = (*mockRecordingService)(nil)
	_ RefundService    = (*mockRefundService)(nil)
	_ PaymentLister    = (*mockPaymentLister)(nil)
)

// =============================================================================
// Test Helpers
// =============================================================================

func testRecordedPayment() *types.Payment {
	return &types.Payment{
		ID:             "pay_1",
		OrganizationID: "org_1",
		BranchID:       "branch_1",
		Amount:         decimal.RequireFromString("125.50"),
		Currency:       "usd",
		Method:         "card",
		Source:         types.SourceSale,
		SourceID:       "sale_9",
		Reference:      "pi_test",
		Status:         types.PaymentCompleted,
		CreatedAt:      time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}
}

func newPaymentsTestRouter(
	intents IntentService,
	recorder RecordingService,
	refunds RefundService,
	payments PaymentLister,
) http.Handler {
	logger := slog.Default()
	h := NewPaymentsHandler(intents, recorder, refunds, payments, core.NewValidator(logger), logger)

	r := chi.NewRouter()
	r.Route("/v1", func(r chi.Router) {
		h.RegisterRoutes(r)
	})
	return r
}

// makeRequest creates an HTTP request with the given method, path, body, and context.
func makeRequest(method, path string, body interface{}, ctx context.Context) *http.Request {
	var reqBody *bytes.Buffer
	if body != nil {
		data, _ := json.Marshal(body)
		reqBody = bytes.NewBuffer(data)
	} else {
		reqBody = bytes.NewBuffer(nil)
	}

	req := httptest.NewRequest(method, path, reqBody)
	req.Header.Set("Content-Type", "application/json")
	if ctx != nil {
		req = req.WithContext(ctx)
	}
	return req
}

// parseJSONResponse decodes the response body into the given target.
func parseJSONResponse(t *testing.T, rr *httptest.ResponseRecorder, target interface{}) {
	t.Helper()
	if err := json.Unmarshal(rr.Body.Bytes(), target); err != nil {
		t.Fatalf("failed to parse response body: %v\nbody: %s", err, rr.Body.String())
	}
}

// assertErrorCode checks that the response body carries the expected error code.
func assertErrorCode(t *testing.T, rr *httptest.ResponseRecorder, expected types.ErrorCode) {
	t.Helper()
	var resp core.APIErrorResponse
	parseJSONResponse(t, rr, &resp)
	if resp.Error.Code != string(expected) {
		t.Errorf("expected error code %s, got %s", expected, resp.Error.Code)
	}
}

// =============================================================================
// CreateIntent Tests
// =============================================================================

func TestCreateIntentEndpoint_Success(t *testing.T) {
	intents := &mockIntentService{}
	router := newPaymentsTestRouter(intents, &mockRecordingService{}, &mockRefundService{}, &mockPaymentLister{})

	body := map[string]interface{}{
		"amount":          "125.50",
		"currency":        "usd",
		"organization_id": "org_1",
		"branch_id":       "branch_1",
		"sale_id":         "sale_9",
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest(http.MethodPost, "/v1/payments/intents", body, nil))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}

	var resp struct {
		Data billing.IntentResult `json:"data"`
	}
	parseJSONResponse(t, rr, &resp)

	if resp.Data.IntentID != "pi_test" {
		t.Errorf("expected intent ID pi_test, got %s", resp.Data.IntentID)
	}
	if resp.Data.ClientSecret != "pi_test_secret" {
		t.Errorf("expected client secret pi_test_secret, got %s", resp.Data.ClientSecret)
	}

	if len(intents.calls) != 1 {
		t.Fatalf("expected 1 service call, got %d", len(intents.calls))
	}
	in := intents.calls[0]
	if in.OrganizationID != "org_1" || in.BranchID != "branch_1" || in.SaleID != "sale_9" {
		t.Errorf("unexpected service input: %+v", in)
	}
	if !in.Amount.Equal(decimal.RequireFromString("125.50")) {
		t.Errorf("expected amount 125.50, got %s", in.Amount)
	}
}

func TestCreateIntentEndpoint_MissingFields(t *testing.T) {
	intents := &mockIntentService{}
	router := newPaymentsTestRouter(intents, &mockRecordingService{}, &mockRefundService{}, &mockPaymentLister{})

	// No organization_id or branch_id.
	body := map[string]interface{}{
		"amount":   "125.50",
		"currency": "usd",
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest(http.MethodPost, "/v1/payments/intents", body, nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(intents.calls) != 0 {
		t.Errorf("expected no service calls on validation failure, got %d", len(intents.calls))
	}
}

func TestCreateIntentEndpoint_InvalidJSON(t *testing.T) {
	router := newPaymentsTestRouter(&mockIntentService{}, &mockRecordingService{}, &mockRefundService{}, &mockPaymentLister{})

	req := httptest.NewRequest(http.MethodPost, "/v1/payments/intents", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, req)

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d: %s", rr.Code, rr.Body.String())
	}
}

func TestCreateIntentEndpoint_ServiceError(t *testing.T) {
	intents := &mockIntentService{
		createIntentFn: func(ctx context.Context, in billing.CreateIntentInput) (*billing.IntentResult, error) {
			return nil, types.NewProcessorError(types.ErrCodePaymentDeclined, nil)
		},
	}
	router := newPaymentsTestRouter(intents, &mockRecordingService{}, &mockRefundService{}, &mockPaymentLister{})

	body := map[string]interface{}{
		"amount":          "125.50",
		"currency":        "usd",
		"organization_id": "org_1",
		"branch_id":       "branch_1",
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest(http.MethodPost, "/v1/payments/intents", body, nil))

	if rr.Code != http.StatusPaymentRequired {
		t.Fatalf("expected status 402, got %d: %s", rr.Code, rr.Body.String())
	}
	assertErrorCode(t, rr, types.ErrCodePaymentDeclined)
}

// =============================================================================
// RecordPayment Tests
// =============================================================================

func TestRecordPaymentEndpoint_Created(t *testing.T) {
	recorder := &mockRecordingService{
		processFn: func(ctx context.Context, intentID string) (*billing.RecordResult, error) {
			return &billing.RecordResult{
				Payment: testRecordedPayment(),
				Sale: &types.Sale{
					ID:      "sale_9",
					Balance: decimal.RequireFromString("74.50"),
					Status:  types.SalePartial,
				},
			}, nil
		},
	}
	router := newPaymentsTestRouter(&mockIntentService{}, recorder, &mockRefundService{}, &mockPaymentLister{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest(http.MethodPost, "/v1/payments/pi_test/record", nil, nil))

	if rr.Code != http.StatusCreated {
		t.Fatalf("expected status 201, got %d: %s", rr.Code, rr.Body.String())
	}
	if len(recorder.calls) != 1 || recorder.calls[0] != "pi_test" {
		t.Errorf("expected recorder call with pi_test, got %v", recorder.calls)
	}

	var resp struct {
		Data struct {
			Duplicate bool `json:"duplicate"`
			Sale      *struct {
				ID      string `json:"id"`
				Balance string `json:"balance"`
				Status  string `json:"status"`
			} `json:"sale"`
		} `json:"data"`
	}
	parseJSONResponse(t, rr, &resp)

	if resp.Data.Duplicate {
		t.Error("expected duplicate false")
	}
	if resp.Data.Sale == nil {
		t.Fatal("expected sale state in response")
	}
	if resp.Data.Sale.Status != "partial" {
		t.Errorf("expected sale status partial, got %s", resp.Data.Sale.Status)
	}
}

func TestRecordPaymentEndpoint_DuplicateReturnsOK(t *testing.T) {
	recorder := &mockRecordingService{
		processFn: func(ctx context.Context, intentID string) (*billing.RecordResult, error) {
			return &billing.RecordResult{Payment: testRecordedPayment(), Duplicate: true}, nil
		},
	}
	router := newPaymentsTestRouter(&mockIntentService{}, recorder, &mockRefundService{}, &mockPaymentLister{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest(http.MethodPost, "/v1/payments/pi_test/record", nil, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for duplicate, got %d", rr.Code)
	}
}

func TestRecordPaymentEndpoint_NotSucceededConflict(t *testing.T) {
	recorder := &mockRecordingService{
		processFn: func(ctx context.Context, intentID string) (*billing.RecordResult, error) {
			return nil, types.NewAppError(types.ErrCodeConflictPaymentState, "payment intent is processing, not succeeded", nil)
		},
	}
	router := newPaymentsTestRouter(&mockIntentService{}, recorder, &mockRefundService{}, &mockPaymentLister{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest(http.MethodPost, "/v1/payments/pi_pending/record", nil, nil))

	if rr.Code != http.StatusConflict {
		t.Fatalf("expected status 409, got %d: %s", rr.Code, rr.Body.String())
	}
	assertErrorCode(t, rr, types.ErrCodeConflictPaymentState)
}

// =============================================================================
// Refund Tests
// =============================================================================

func TestRefundEndpoint_Success(t *testing.T) {
	refunds := &mockRefundService{}
	router := newPaymentsTestRouter(&mockIntentService{}, &mockRecordingService{}, refunds, &mockPaymentLister{})

	body := map[string]interface{}{
		"amount": "25.50",
		"reason": "requested_by_customer",
	}
	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest(http.MethodPost, "/v1/payments/pi_test/refund", body, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}

	if len(refunds.calls) != 1 {
		t.Fatalf("expected 1 refund call, got %d", len(refunds.calls))
	}
	in := refunds.calls[0]
	if in.IntentID != "pi_test" {
		t.Errorf("expected intent pi_test, got %s", in.IntentID)
	}
	if in.Amount == nil || !in.Amount.Equal(decimal.RequireFromString("25.50")) {
		t.Errorf("expected amount 25.50, got %v", in.Amount)
	}
	if in.Reason != "requested_by_customer" {
		t.Errorf("expected reason requested_by_customer, got %s", in.Reason)
	}
}

func TestRefundEndpoint_FailureStillReturnsOK(t *testing.T) {
	refunds := &mockRefundService{
		refundFn: func(ctx context.Context, in billing.RefundInput) *billing.RefundResult {
			return &billing.RefundResult{
				Success: false,
				Error:   types.NewProcessorError(types.ErrCodeUpstreamUnavailable, nil),
			}
		},
	}
	router := newPaymentsTestRouter(&mockIntentService{}, &mockRecordingService{}, refunds, &mockPaymentLister{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest(http.MethodPost, "/v1/payments/pi_test/refund", map[string]interface{}{}, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200 for structured refund failure, got %d", rr.Code)
	}

	var resp struct {
		Data billing.RefundResult `json:"data"`
	}
	parseJSONResponse(t, rr, &resp)
	if resp.Data.Success {
		t.Error("expected success false")
	}
	if resp.Data.Error == nil {
		t.Error("expected structured error in result")
	}
}

// =============================================================================
// List/Get Payment Tests
// =============================================================================

func TestListPaymentsEndpoint_Success(t *testing.T) {
	var capturedOrg string
	var capturedLimit int
	lister := &mockPaymentLister{
		listFn: func(ctx context.Context, orgID string, limit int) ([]*types.Payment, error) {
			capturedOrg = orgID
			capturedLimit = limit
			return []*types.Payment{testRecordedPayment()}, nil
		},
	}
	router := newPaymentsTestRouter(&mockIntentService{}, &mockRecordingService{}, &mockRefundService{}, lister)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest(http.MethodGet, "/v1/payments/?organization_id=org_1&limit=10", nil, nil))

	if rr.Code != http.StatusOK {
		t.Fatalf("expected status 200, got %d: %s", rr.Code, rr.Body.String())
	}
	if capturedOrg != "org_1" {
		t.Errorf("expected organization org_1, got %s", capturedOrg)
	}
	if capturedLimit != 10 {
		t.Errorf("expected limit 10, got %d", capturedLimit)
	}

	var resp struct {
		Data []paymentResponse `json:"data"`
	}
	parseJSONResponse(t, rr, &resp)
	if len(resp.Data) != 1 {
		t.Fatalf("expected 1 payment, got %d", len(resp.Data))
	}
	if resp.Data[0].Reference != "pi_test" {
		t.Errorf("expected reference pi_test, got %s", resp.Data[0].Reference)
	}
}

func TestListPaymentsEndpoint_MissingOrganization(t *testing.T) {
	router := newPaymentsTestRouter(&mockIntentService{}, &mockRecordingService{}, &mockRefundService{}, &mockPaymentLister{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest(http.MethodGet, "/v1/payments/", nil, nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
	assertErrorCode(t, rr, types.ErrCodeValidationMissingField)
}

func TestListPaymentsEndpoint_InvalidLimit(t *testing.T) {
	router := newPaymentsTestRouter(&mockIntentService{}, &mockRecordingService{}, &mockRefundService{}, &mockPaymentLister{})

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest(http.MethodGet, "/v1/payments/?organization_id=org_1&limit=abc", nil, nil))

	if rr.Code != http.StatusBadRequest {
		t.Fatalf("expected status 400, got %d", rr.Code)
	}
}

func TestGetPaymentEndpoint_NotFound(t *testing.T) {
	lister := &mockPaymentLister{
		getFn: func(ctx context.Context, reference string) (*types.Payment, error) {
			return nil, types.NewAppError(types.ErrCodeNotFoundPayment, "payment not found", nil)
		},
	}
	router := newPaymentsTestRouter(&mockIntentService{}, &mockRecordingService{}, &mockRefundService{}, lister)

	rr := httptest.NewRecorder()
	router.ServeHTTP(rr, makeRequest(http.MethodGet, "/v1/payments/pi_missing", nil, nil))

	if rr.Code != http.StatusNotFound {
		t.Fatalf("expected status 404, got %d", rr.Code)
	}
	assertErrorCode(t, rr, types.ErrCodeNotFoundPayment)
}
