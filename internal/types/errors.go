package types

import (
	"fmt"
	"net/http"
	"strings"
)

// ErrorCode is a typed string for categorizing application errors.
type ErrorCode string

// Complete error code constants.
// All handlers MUST use these constants instead of hardcoded strings.
const (
	// Validation (400) -- raised locally, before any processor call.
	ErrCodeValidationAmount       ErrorCode = "validation_invalid_amount"
	ErrCodeValidationCurrency     ErrorCode = "validation_invalid_currency"
	ErrCodeValidationBelowMinimum ErrorCode = "validation_amount_below_minimum"
	ErrCodeValidationMissingField ErrorCode = "validation_missing_required_field"
	ErrCodeValidationInvalidField ErrorCode = "validation_invalid_field"

	// Not Found (404)
	ErrCodeNotFoundPlan         ErrorCode = "not_found_plan"
	ErrCodeNotFoundCustomer     ErrorCode = "not_found_customer"
	ErrCodeNotFoundSubscription ErrorCode = "not_found_subscription"
	ErrCodeNotFoundPayment      ErrorCode = "not_found_payment"
	ErrCodeNotFoundSale         ErrorCode = "not_found_sale"
	ErrCodeNotFoundInvoice      ErrorCode = "not_found_invoice"

	// State Conflicts (409)
	ErrCodeConflictPaymentState ErrorCode = "conflict_payment_state"
	ErrCodeConflictConcurrent   ErrorCode = "conflict_concurrent_modification"

	// Processor failures, each with a fixed user-facing message (402/422/502).
	ErrCodePaymentDeclined           ErrorCode = "payment_declined"
	ErrCodeProcessorInvalidRequest   ErrorCode = "processor_invalid_request"
	ErrCodeProcessorAuth             ErrorCode = "processor_authentication_failed"
	ErrCodeUpstreamRateLimited       ErrorCode = "upstream_rate_limited"
	ErrCodeUpstreamUnavailable       ErrorCode = "upstream_unavailable"
	ErrCodeUpstreamConnection        ErrorCode = "upstream_connection_error"
	ErrCodeUpstreamProcessor         ErrorCode = "upstream_processor_error"

	// Webhook (401)
	ErrCodeWebhookSignatureMissing ErrorCode = "webhook_signature_missing"
	ErrCodeWebhookSignatureInvalid ErrorCode = "webhook_signature_invalid"

	// Internal (500)
	ErrCodeInternalDB         ErrorCode = "internal_database_error"
	ErrCodeInternalUnexpected ErrorCode = "internal_unexpected_error"
)

// ProcessorMessages maps processor failure codes to the fixed user-facing
// message surfaced to clients, independent of whatever the processor reported.
var ProcessorMessages = map[ErrorCode]string{
	ErrCodePaymentDeclined:         "Your card was declined. Please try a different payment method.",
	ErrCodeProcessorInvalidRequest: "The payment request was invalid. Please review the details and try again.",
	ErrCodeProcessorAuth:           "Payment service authentication failed. Please contact support.",
	ErrCodeUpstreamRateLimited:     "Too many payment requests. Please wait a moment and try again.",
	ErrCodeUpstreamUnavailable:     "The payment service is temporarily unavailable. Please try again later.",
	ErrCodeUpstreamConnection:      "Could not reach the payment service. Please check your connection and retry.",
	ErrCodeUpstreamProcessor:       "An unexpected payment error occurred. Please try again.",
}

// HTTPStatus maps an ErrorCode to its corresponding HTTP status code.
// Returns 500 for unrecognized error codes as a safe default.
func (c ErrorCode) HTTPStatus() int {
	s := string(c)
	switch {
	case strings.HasPrefix(s, "validation_"):
		return http.StatusBadRequest // 400
	case strings.HasPrefix(s, "not_found_"):
		return http.StatusNotFound // 404
	case strings.HasPrefix(s, "conflict_"):
		return http.StatusConflict // 409
	case strings.HasPrefix(s, "webhook_"):
		return http.StatusUnauthorized // 401
	case c == ErrCodePaymentDeclined:
		return http.StatusPaymentRequired // 402
	case c == ErrCodeProcessorInvalidRequest:
		return http.StatusUnprocessableEntity // 422
	case strings.HasPrefix(s, "upstream_"), c == ErrCodeProcessorAuth:
		return http.StatusBadGateway // 502
	case strings.HasPrefix(s, "internal_"):
		return http.StatusInternalServerError // 500
	default:
		return http.StatusInternalServerError // 500
	}
}

// AppError is the standard application error type used throughout the platform.
// All domain and handler errors should be expressed as AppError to enable
// consistent error formatting, HTTP status mapping, and error chain support.
type AppError struct {
	Code    ErrorCode      `json:"code"`
	Message string         `json:"message"`
	Err     error          `json:"-"`
	Details map[string]any `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *AppError) Error() string {
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap returns the underlying error for errors.Is/errors.As support.
func (e *AppError) Unwrap() error {
	return e.Err
}

// HTTPStatus returns the HTTP status code corresponding to this error's code.
func (e *AppError) HTTPStatus() int {
	return e.Code.HTTPStatus()
}

// NewAppError creates a new AppError with the given code, message, and optional
// underlying error. This is the standard constructor for domain errors.
func NewAppError(code ErrorCode, message string, err error) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
	}
}

// NewAppErrorWithDetails creates a new AppError with the given code, message,
// underlying error, and structured details.
func NewAppErrorWithDetails(code ErrorCode, message string, err error, details map[string]any) *AppError {
	return &AppError{
		Code:    code,
		Message: message,
		Err:     err,
		Details: details,
	}
}

// NewProcessorError creates an AppError for a processor failure category using
// the fixed user-facing message table. The raw processor message is preserved
// in the error chain for logging but never shown to clients.
func NewProcessorError(code ErrorCode, err error) *AppError {
	msg, ok := ProcessorMessages[code]
	if !ok {
		msg = ProcessorMessages[ErrCodeUpstreamProcessor]
		code = ErrCodeUpstreamProcessor
	}
	return &AppError{
		Code:    code,
		Message: msg,
		Err:     err,
	}
}
