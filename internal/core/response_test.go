package core

import (
	"bytes"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"paybridge/internal/types"
)

func TestJSONWritesEnvelope(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	JSON(rr, req, http.StatusOK, APIResponse{Data: map[string]string{"hello": "world"}})

	if rr.Code != http.StatusOK {
		t.Errorf("status = %d, want 200", rr.Code)
	}
	if ct := rr.Header().Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}

	var resp struct {
		Data map[string]string `json:"data"`
	}
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if resp.Data["hello"] != "world" {
		t.Errorf("data = %v", resp.Data)
	}
}

func TestJSONUnmarshalableFallsBackTo500(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	// Channels cannot be marshaled.
	JSON(rr, req, http.StatusOK, map[string]any{"ch": make(chan int)})

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
	var resp APIErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("fallback body is not JSON: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %q", resp.Error.Code)
	}
}

func TestErrorWithAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)
	req = req.WithContext(types.WithRequestID(req.Context(), "req-1"))

	Error(rr, req, types.NewAppErrorWithDetails(
		types.ErrCodeValidationBelowMinimum,
		"amount below minimum",
		nil,
		map[string]any{"minimum": "0.50"},
	))

	if rr.Code != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", rr.Code)
	}
	var resp APIErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if resp.Error.Code != "validation_amount_below_minimum" {
		t.Errorf("code = %q", resp.Error.Code)
	}
	if resp.Error.Details["minimum"] != "0.50" {
		t.Errorf("details = %v", resp.Error.Details)
	}
	if resp.Error.RequestID != "req-1" {
		t.Errorf("request_id = %q, want req-1", resp.Error.RequestID)
	}
}

func TestErrorWithPlainErrorIsOpaque500(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	Error(rr, req, errors.New("pgx: connection reset by peer"))

	if rr.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rr.Code)
	}
	if strings.Contains(rr.Body.String(), "pgx") {
		t.Error("internal error detail leaked to client")
	}
	var resp APIErrorResponse
	if err := json.Unmarshal(rr.Body.Bytes(), &resp); err != nil {
		t.Fatalf("invalid JSON body: %v", err)
	}
	if resp.Error.Code != string(types.ErrCodeInternalUnexpected) {
		t.Errorf("code = %q", resp.Error.Code)
	}
}

func TestErrorWithWrappedAppError(t *testing.T) {
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/", nil)

	inner := types.NewAppError(types.ErrCodeNotFoundPlan, "plan not found", nil)
	Error(rr, req, &wrapError{inner})

	if rr.Code != http.StatusNotFound {
		t.Errorf("status = %d, want 404 from wrapped AppError", rr.Code)
	}
}

type wrapError struct{ err error }

func (w *wrapError) Error() string { return "wrapped: " + w.err.Error() }
func (w *wrapError) Unwrap() error { return w.err }

func decodeRequest(t *testing.T, body string, dst interface{}) error {
	t.Helper()
	rr := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	return DecodeJSON(rr, req, dst)
}

func TestDecodeJSONValid(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	if err := decodeRequest(t, `{"name":"acme"}`, &dst); err != nil {
		t.Fatalf("DecodeJSON error: %v", err)
	}
	if dst.Name != "acme" {
		t.Errorf("name = %q", dst.Name)
	}
}

func TestDecodeJSONMalformed(t *testing.T) {
	var dst struct{}
	err := decodeRequest(t, `{broken`, &dst)

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %v", err)
	}
	if appErr.Code != errCodeValidationInvalidJSON {
		t.Errorf("code = %q", appErr.Code)
	}
	if appErr.HTTPStatus() != http.StatusBadRequest {
		t.Errorf("status = %d, want 400", appErr.HTTPStatus())
	}
}

func TestDecodeJSONUnknownField(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	err := decodeRequest(t, `{"name":"a","extra":true}`, &dst)

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %v", err)
	}
	if !strings.Contains(appErr.Message, "unknown field") {
		t.Errorf("message = %q, want unknown field mention", appErr.Message)
	}
}

func TestDecodeJSONEmptyBody(t *testing.T) {
	var dst struct{}
	err := decodeRequest(t, ``, &dst)

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %v", err)
	}
	if !strings.Contains(appErr.Message, "empty") {
		t.Errorf("message = %q, want empty-body mention", appErr.Message)
	}
}

func TestDecodeJSONTrailingValues(t *testing.T) {
	var dst struct {
		Name string `json:"name"`
	}
	err := decodeRequest(t, `{"name":"a"}{"name":"b"}`, &dst)

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %v", err)
	}
	if !strings.Contains(appErr.Message, "single JSON object") {
		t.Errorf("message = %q", appErr.Message)
	}
}

func TestDecodeJSONWrongFieldType(t *testing.T) {
	var dst struct {
		Count int `json:"count"`
	}
	err := decodeRequest(t, `{"count":"ten"}`, &dst)

	var appErr *types.AppError
	if !errors.As(err, &appErr) {
		t.Fatalf("expected *types.AppError, got %v", err)
	}
	if appErr.Details["field"] != "count" {
		t.Errorf("details = %v, want field=count", appErr.Details)
	}
}
