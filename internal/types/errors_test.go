package types

import (
	"errors"
	"fmt"
	"net/http"
	"testing"
)

// TestAppErrorImplementsError verifies that *AppError satisfies the error interface.
func TestAppErrorImplementsError(t *testing.T) {
	var _ error = (*AppError)(nil)
}

// TestAppErrorErrorFormat verifies the Error() method produces "code: message".
func TestAppErrorErrorFormat(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeValidationAmount,
		Message: "Amount must be greater than zero",
	}

	expected := "validation_invalid_amount: Amount must be greater than zero"
	if appErr.Error() != expected {
		t.Errorf("Error() = %q, want %q", appErr.Error(), expected)
	}
}

// TestAppErrorUnwrap verifies the error chain support via Unwrap.
func TestAppErrorUnwrap(t *testing.T) {
	underlying := errors.New("database connection failed")
	appErr := &AppError{
		Code:    ErrCodeInternalDB,
		Message: "failed to query payments",
		Err:     underlying,
	}

	if appErr.Unwrap() != underlying {
		t.Errorf("Unwrap() returned unexpected error: got %v, want %v", appErr.Unwrap(), underlying)
	}
}

// TestAppErrorUnwrapNil verifies Unwrap returns nil when no underlying error exists.
func TestAppErrorUnwrapNil(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodeNotFoundPayment,
		Message: "payment not found",
	}

	if appErr.Unwrap() != nil {
		t.Errorf("Unwrap() should return nil when Err is nil, got %v", appErr.Unwrap())
	}
}

// TestAppErrorErrorsAs verifies that errors.As can extract AppError from an error chain.
func TestAppErrorErrorsAs(t *testing.T) {
	appErr := &AppError{
		Code:    ErrCodePaymentDeclined,
		Message: "card declined",
	}
	wrappedErr := fmt.Errorf("handler failed: %w", appErr)

	var target *AppError
	if !errors.As(wrappedErr, &target) {
		t.Fatal("errors.As should find AppError in the chain")
	}
	if target.Code != ErrCodePaymentDeclined {
		t.Errorf("extracted Code = %q, want %q", target.Code, ErrCodePaymentDeclined)
	}
}

// TestAppErrorErrorsIs verifies that errors.Is works through the AppError chain.
func TestAppErrorErrorsIs(t *testing.T) {
	sentinel := errors.New("sentinel")
	appErr := &AppError{
		Code:    ErrCodeInternalUnexpected,
		Message: "unexpected failure",
		Err:     sentinel,
	}

	if !errors.Is(appErr, sentinel) {
		t.Error("errors.Is should find the sentinel error through Unwrap")
	}
}

// TestNewAppError verifies the basic constructor.
func TestNewAppError(t *testing.T) {
	underlying := errors.New("connection refused")
	appErr := NewAppError(ErrCodeUpstreamUnavailable, "processor unavailable", underlying)

	if appErr.Code != ErrCodeUpstreamUnavailable {
		t.Errorf("Code = %q, want %q", appErr.Code, ErrCodeUpstreamUnavailable)
	}
	if appErr.Message != "processor unavailable" {
		t.Errorf("Message = %q, want %q", appErr.Message, "processor unavailable")
	}
	if appErr.Err != underlying {
		t.Errorf("Err = %v, want %v", appErr.Err, underlying)
	}
	if appErr.Details != nil {
		t.Errorf("Details should be nil, got %v", appErr.Details)
	}
}

// TestNewAppErrorWithDetails verifies the detailed constructor.
func TestNewAppErrorWithDetails(t *testing.T) {
	details := map[string]any{
		"field": "currency",
		"value": "usdd",
	}
	appErr := NewAppErrorWithDetails(
		ErrCodeValidationCurrency,
		"unsupported currency",
		nil,
		details,
	)

	if appErr.Code != ErrCodeValidationCurrency {
		t.Errorf("Code = %q, want %q", appErr.Code, ErrCodeValidationCurrency)
	}
	if appErr.Details == nil {
		t.Fatal("Details should not be nil")
	}
	if appErr.Details["field"] != "currency" {
		t.Errorf("Details[\"field\"] = %v, want \"currency\"", appErr.Details["field"])
	}
}

// TestNewProcessorError verifies the fixed-message constructor for processor
// failure categories.
func TestNewProcessorError(t *testing.T) {
	underlying := errors.New("stripe: card_declined")
	appErr := NewProcessorError(ErrCodePaymentDeclined, underlying)

	if appErr.Code != ErrCodePaymentDeclined {
		t.Errorf("Code = %q, want %q", appErr.Code, ErrCodePaymentDeclined)
	}
	if appErr.Message != ProcessorMessages[ErrCodePaymentDeclined] {
		t.Errorf("Message = %q, want fixed message %q", appErr.Message, ProcessorMessages[ErrCodePaymentDeclined])
	}
	if !errors.Is(appErr, underlying) {
		t.Error("raw processor error should stay in the chain")
	}
}

// TestNewProcessorErrorUnknownCode verifies that codes outside the processor
// message table collapse to the generic processor error.
func TestNewProcessorErrorUnknownCode(t *testing.T) {
	appErr := NewProcessorError(ErrCodeInternalDB, nil)

	if appErr.Code != ErrCodeUpstreamProcessor {
		t.Errorf("Code = %q, want %q", appErr.Code, ErrCodeUpstreamProcessor)
	}
	if appErr.Message != ProcessorMessages[ErrCodeUpstreamProcessor] {
		t.Errorf("Message = %q, want generic processor message", appErr.Message)
	}
}

// TestAppErrorHTTPStatus verifies the convenience method on AppError.
func TestAppErrorHTTPStatus(t *testing.T) {
	appErr := NewAppError(ErrCodeNotFoundSubscription, "not found", nil)
	if appErr.HTTPStatus() != http.StatusNotFound {
		t.Errorf("HTTPStatus() = %d, want %d", appErr.HTTPStatus(), http.StatusNotFound)
	}
}

// TestErrorCodeHTTPStatusMapping verifies the mapping from error codes to HTTP
// statuses across every category.
func TestErrorCodeHTTPStatusMapping(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		// Validation (400)
		{ErrCodeValidationAmount, http.StatusBadRequest},
		{ErrCodeValidationCurrency, http.StatusBadRequest},
		{ErrCodeValidationBelowMinimum, http.StatusBadRequest},
		{ErrCodeValidationMissingField, http.StatusBadRequest},
		{ErrCodeValidationInvalidField, http.StatusBadRequest},

		// Not Found (404)
		{ErrCodeNotFoundPlan, http.StatusNotFound},
		{ErrCodeNotFoundCustomer, http.StatusNotFound},
		{ErrCodeNotFoundSubscription, http.StatusNotFound},
		{ErrCodeNotFoundPayment, http.StatusNotFound},
		{ErrCodeNotFoundSale, http.StatusNotFound},
		{ErrCodeNotFoundInvoice, http.StatusNotFound},

		// Conflict (409)
		{ErrCodeConflictPaymentState, http.StatusConflict},
		{ErrCodeConflictConcurrent, http.StatusConflict},

		// Webhook (401)
		{ErrCodeWebhookSignatureMissing, http.StatusUnauthorized},
		{ErrCodeWebhookSignatureInvalid, http.StatusUnauthorized},

		// Processor/upstream failures
		{ErrCodePaymentDeclined, http.StatusPaymentRequired},
		{ErrCodeProcessorInvalidRequest, http.StatusUnprocessableEntity},
		{ErrCodeProcessorAuth, http.StatusBadGateway},
		{ErrCodeUpstreamRateLimited, http.StatusBadGateway},
		{ErrCodeUpstreamUnavailable, http.StatusBadGateway},
		{ErrCodeUpstreamConnection, http.StatusBadGateway},
		{ErrCodeUpstreamProcessor, http.StatusBadGateway},

		// Internal (500)
		{ErrCodeInternalDB, http.StatusInternalServerError},
		{ErrCodeInternalUnexpected, http.StatusInternalServerError},
	}

	for _, tt := range tests {
		t.Run(string(tt.code), func(t *testing.T) {
			got := tt.code.HTTPStatus()
			if got != tt.wantStatus {
				t.Errorf("ErrorCode(%q).HTTPStatus() = %d, want %d", tt.code, got, tt.wantStatus)
			}
		})
	}
}

// TestErrorCodeHTTPStatusUnknown verifies that unrecognized codes default to 500.
func TestErrorCodeHTTPStatusUnknown(t *testing.T) {
	unknown := ErrorCode("totally_unknown_error")
	if unknown.HTTPStatus() != http.StatusInternalServerError {
		t.Errorf("unknown ErrorCode.HTTPStatus() = %d, want %d", unknown.HTTPStatus(), http.StatusInternalServerError)
	}
}

// TestProcessorMessagesCoverAllProcessorCodes verifies every processor failure
// category has a fixed user-facing message.
func TestProcessorMessagesCoverAllProcessorCodes(t *testing.T) {
	codes := []ErrorCode{
		ErrCodePaymentDeclined,
		ErrCodeProcessorInvalidRequest,
		ErrCodeProcessorAuth,
		ErrCodeUpstreamRateLimited,
		ErrCodeUpstreamUnavailable,
		ErrCodeUpstreamConnection,
		ErrCodeUpstreamProcessor,
	}
	for _, code := range codes {
		if msg, ok := ProcessorMessages[code]; !ok || msg == "" {
			t.Errorf("ProcessorMessages missing entry for %q", code)
		}
	}
}

// TestAppErrorFmtStringer verifies that AppError produces readable output in fmt functions.
func TestAppErrorFmtStringer(t *testing.T) {
	appErr := NewAppError(ErrCodeConflictPaymentState, "payment already recorded", nil)
	result := fmt.Sprintf("got error: %v", appErr)
	expected := "got error: conflict_payment_state: payment already recorded"
	if result != expected {
		t.Errorf("fmt.Sprintf(\"%%v\") = %q, want %q", result, expected)
	}
}
