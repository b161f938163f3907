package external

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"time"

	"paybridge/internal/types"

	"github.com/google/uuid"
	stripe "github.com/stripe/stripe-go/v82"
)

// stripeAPIBase is the default Stripe API base URL.
// Overridable in tests via StripeClientConfig.BaseURL.
const stripeAPIBase = "https://api.stripe.com"

// StripeClientConfig holds the configuration for creating a StripeClient.
type StripeClientConfig struct {
	SecretKey string
	BaseURL   string // Override for testing; defaults to stripeAPIBase
	Logger    *slog.Logger
}

// StripeClient implements the processor gateway by making direct HTTP calls to
// the Stripe REST API through BaseClient. This routes all requests through the
// platform's resilience infrastructure (circuit breaker, retries, error
// mapping) and makes testing with httptest straightforward.
//
// Every create/mutate call carries an Idempotency-Key header so transport
// retries cannot duplicate side effects.
type StripeClient struct {
	base      *BaseClient
	secretKey string
	baseURL   string
	logger    *slog.Logger
}

// NewStripeClient creates a new StripeClient. The httpClient timeout should be
// set from BillingConfig.RequestTimeout (20 seconds by default).
func NewStripeClient(httpClient *http.Client, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	base := NewBaseClient(
		httpClient,
		"stripe",
		DefaultRetryPolicy(),
		"PayBridge/1.0",
	)

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// NewStripeClientWithBase creates a StripeClient with a pre-configured
// BaseClient. This is useful for testing when you want to control the
// BaseClient configuration.
func NewStripeClientWithBase(base *BaseClient, cfg StripeClientConfig) *StripeClient {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = stripeAPIBase
	}

	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}

	return &StripeClient{
		base:      base,
		secretKey: cfg.SecretKey,
		baseURL:   strings.TrimSuffix(baseURL, "/"),
		logger:    logger,
	}
}

// ---------------------------------------------------------------------------
// Processor DTOs
// ---------------------------------------------------------------------------

// PaymentIntent is the processor-side charge attempt.
type PaymentIntent struct {
	ID           string
	ClientSecret string
	Status       string
	AmountMinor  int64
	Currency     string
	Metadata     map[string]string
}

// Refund is the processor-side refund object.
type Refund struct {
	ID          string
	Status      string
	AmountMinor int64
	Currency    string
}

// Customer is the processor-side customer object.
type Customer struct {
	ID       string
	Email    string
	Name     string
	Metadata map[string]string
}

// CardInfo describes the card behind a payment method.
type CardInfo struct {
	Brand    string
	Last4    string
	ExpMonth int
	ExpYear  int
}

// PaymentMethod is an attached payment instrument.
type PaymentMethod struct {
	ID   string
	Type string
	Card *CardInfo
}

// SubscriptionItem is a single line item on a processor subscription.
type SubscriptionItem struct {
	ID      string
	PriceID string
}

// Subscription is the processor-side subscription state. Status is passed
// through unchanged; PayBridge keeps no state machine of its own.
type Subscription struct {
	ID                 string
	CustomerID         string
	Status             string
	CancelAtPeriodEnd  bool
	TrialEnd           *time.Time
	CurrentPeriodStart *time.Time
	CurrentPeriodEnd   *time.Time
	Items              []SubscriptionItem
	// PaymentClientSecret is populated when the first payment requires
	// additional client-side authentication.
	PaymentClientSecret string
	PaymentStatus       string
}

// SetupIntent is a processor object for collecting a payment method for
// future off-session charges.
type SetupIntent struct {
	ID           string
	ClientSecret string
	Status       string
}

// CustomerInvoice is a processor-hosted invoice summary.
type CustomerInvoice struct {
	ID          string
	AmountDue   int64
	Status      string
	PeriodStart time.Time
	PeriodEnd   time.Time
	PDFURL      string
	PaidAt      *time.Time
}

// Price is a processor price object.
type Price struct {
	ID        string
	ProductID string
	LookupKey string
}

// ---------------------------------------------------------------------------
// Payment Intents
// ---------------------------------------------------------------------------

// CreateIntentRequest carries the parameters for creating a charge intent.
// Metadata must embed the organization/branch/linkage identifiers so that
// confirmation can be processed without a second database lookup.
type CreateIntentRequest struct {
	AmountMinor    int64
	Currency       string
	Description    string
	CustomerID     string
	Metadata       map[string]string
	IdempotencyKey string
}

// CreatePaymentIntent creates a processor charge intent.
func (s *StripeClient) CreatePaymentIntent(ctx context.Context, req CreateIntentRequest) (*PaymentIntent, error) {
	params := url.Values{}
	params.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	params.Set("currency", strings.ToLower(req.Currency))
	params.Set("automatic_payment_methods[enabled]", "true")
	if req.Description != "" {
		params.Set("description", req.Description)
	}
	if req.CustomerID != "" {
		params.Set("customer", req.CustomerID)
	}
	for k, v := range req.Metadata {
		params.Set("metadata["+k+"]", v)
	}

	resp, err := s.doPost(ctx, "/v1/payment_intents", params, req.IdempotencyKey)
	if err != nil {
		return nil, s.wrapTransportError("CreatePaymentIntent", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreatePaymentIntent")
	}

	var intent stripePaymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, decodeError("payment intent", err)
	}
	return mapPaymentIntent(&intent), nil
}

// GetPaymentIntent retrieves a charge intent by ID.
func (s *StripeClient) GetPaymentIntent(ctx context.Context, intentID string) (*PaymentIntent, error) {
	resp, err := s.doGet(ctx, "/v1/payment_intents/"+url.PathEscape(intentID), nil)
	if err != nil {
		return nil, s.wrapTransportError("GetPaymentIntent", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "GetPaymentIntent")
	}

	var intent stripePaymentIntent
	if err := json.NewDecoder(resp.Body).Decode(&intent); err != nil {
		return nil, decodeError("payment intent", err)
	}
	return mapPaymentIntent(&intent), nil
}

// ---------------------------------------------------------------------------
// Refunds
// ---------------------------------------------------------------------------

// RefundRequest carries the parameters for a full or partial refund.
// AmountMinor of zero means a full refund.
type RefundRequest struct {
	IntentID       string
	AmountMinor    int64
	Reason         string
	Metadata       map[string]string
	IdempotencyKey string
}

// CreateRefund issues a refund against a prior charge intent.
func (s *StripeClient) CreateRefund(ctx context.Context, req RefundRequest) (*Refund, error) {
	params := url.Values{}
	params.Set("payment_intent", req.IntentID)
	if req.AmountMinor > 0 {
		params.Set("amount", strconv.FormatInt(req.AmountMinor, 10))
	}
	if req.Reason != "" {
		params.Set("reason", req.Reason)
	}
	for k, v := range req.Metadata {
		params.Set("metadata["+k+"]", v)
	}

	resp, err := s.doPost(ctx, "/v1/refunds", params, req.IdempotencyKey)
	if err != nil {
		return nil, s.wrapTransportError("CreateRefund", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreateRefund")
	}

	var refund stripeRefund
	if err := json.NewDecoder(resp.Body).Decode(&refund); err != nil {
		return nil, decodeError("refund", err)
	}
	return &Refund{
		ID:          refund.ID,
		Status:      refund.Status,
		AmountMinor: refund.Amount,
		Currency:    refund.Currency,
	}, nil
}

// ---------------------------------------------------------------------------
// Customers
// ---------------------------------------------------------------------------

// FindCustomerByEmail searches for an existing customer by email.
// Returns (nil, nil) when no customer matches.
func (s *StripeClient) FindCustomerByEmail(ctx context.Context, email string) (*Customer, error) {
	params := url.Values{}
	params.Set("query", fmt.Sprintf("email:'%s'", email))

	resp, err := s.doGet(ctx, "/v1/customers/search", params)
	if err != nil {
		return nil, s.wrapTransportError("FindCustomerByEmail", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "FindCustomerByEmail")
	}

	var result stripeCustomerSearch
	if err := json.NewDecoder(resp.Body).Decode(&result); err != nil {
		return nil, decodeError("customer search", err)
	}
	if len(result.Data) == 0 {
		return nil, nil
	}
	return mapCustomer(&result.Data[0]), nil
}

// CreateCustomer creates a new processor customer.
func (s *StripeClient) CreateCustomer(ctx context.Context, email, name string, metadata map[string]string) (*Customer, error) {
	params := url.Values{}
	params.Set("email", email)
	if name != "" {
		params.Set("name", name)
	}
	for k, v := range metadata {
		params.Set("metadata["+k+"]", v)
	}

	resp, err := s.doPost(ctx, "/v1/customers", params, uuid.NewString())
	if err != nil {
		return nil, s.wrapTransportError("CreateCustomer", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreateCustomer")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(resp.Body).Decode(&customer); err != nil {
		return nil, decodeError("customer", err)
	}
	return mapCustomer(&customer), nil
}

// UpdateCustomerMetadata merges the given metadata keys into an existing customer.
func (s *StripeClient) UpdateCustomerMetadata(ctx context.Context, customerID string, metadata map[string]string) (*Customer, error) {
	params := url.Values{}
	for k, v := range metadata {
		params.Set("metadata["+k+"]", v)
	}

	resp, err := s.doPost(ctx, "/v1/customers/"+url.PathEscape(customerID), params, uuid.NewString())
	if err != nil {
		return nil, s.wrapTransportError("UpdateCustomerMetadata", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "UpdateCustomerMetadata")
	}

	var customer stripeCustomer
	if err := json.NewDecoder(resp.Body).Decode(&customer); err != nil {
		return nil, decodeError("customer", err)
	}
	return mapCustomer(&customer), nil
}

// ---------------------------------------------------------------------------
// Payment Methods
// ---------------------------------------------------------------------------

// AttachPaymentMethod attaches a payment method to a customer.
func (s *StripeClient) AttachPaymentMethod(ctx context.Context, paymentMethodID, customerID string) error {
	params := url.Values{}
	params.Set("customer", customerID)

	resp, err := s.doPost(ctx, "/v1/payment_methods/"+url.PathEscape(paymentMethodID)+"/attach", params, uuid.NewString())
	if err != nil {
		return s.wrapTransportError("AttachPaymentMethod", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, "AttachPaymentMethod")
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// SetDefaultPaymentMethod marks a payment method as the customer's default
// for invoice payments.
func (s *StripeClient) SetDefaultPaymentMethod(ctx context.Context, customerID, paymentMethodID string) error {
	params := url.Values{}
	params.Set("invoice_settings[default_payment_method]", paymentMethodID)

	resp, err := s.doPost(ctx, "/v1/customers/"+url.PathEscape(customerID), params, uuid.NewString())
	if err != nil {
		return s.wrapTransportError("SetDefaultPaymentMethod", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, "SetDefaultPaymentMethod")
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// ListPaymentMethods lists the card payment methods attached to a customer.
func (s *StripeClient) ListPaymentMethods(ctx context.Context, customerID string) ([]*PaymentMethod, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("type", "card")

	resp, err := s.doGet(ctx, "/v1/payment_methods", params)
	if err != nil {
		return nil, s.wrapTransportError("ListPaymentMethods", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "ListPaymentMethods")
	}

	var list stripePaymentMethodList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, decodeError("payment method list", err)
	}

	methods := make([]*PaymentMethod, 0, len(list.Data))
	for i := range list.Data {
		methods = append(methods, mapPaymentMethod(&list.Data[i]))
	}
	return methods, nil
}

// DetachPaymentMethod removes a payment method from its customer.
func (s *StripeClient) DetachPaymentMethod(ctx context.Context, paymentMethodID string) error {
	resp, err := s.doPost(ctx, "/v1/payment_methods/"+url.PathEscape(paymentMethodID)+"/detach", url.Values{}, uuid.NewString())
	if err != nil {
		return s.wrapTransportError("DetachPaymentMethod", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return s.handleErrorResponse(resp, "DetachPaymentMethod")
	}
	io.Copy(io.Discard, resp.Body)
	return nil
}

// ---------------------------------------------------------------------------
// Subscriptions
// ---------------------------------------------------------------------------

// CreateSubscriptionRequest carries the parameters for creating a processor
// subscription. Exactly one of the trial/immediate branches applies:
//   - TrialDays > 0: permissive payment behavior, no payment method required.
//   - TrialDays == 0: DefaultPaymentMethod must be set; payment_behavior
//     allow_incomplete surfaces a client secret when SCA is required instead
//     of failing outright.
type CreateSubscriptionRequest struct {
	CustomerID           string
	PriceID              string
	TrialDays            int
	DefaultPaymentMethod string
	Metadata             map[string]string
	IdempotencyKey       string
}

// CreateSubscription creates a subscription for the customer with a single
// price item. The latest invoice's payment intent is expanded so the caller
// can surface a client secret for SCA confirmation.
func (s *StripeClient) CreateSubscription(ctx context.Context, req CreateSubscriptionRequest) (*Subscription, error) {
	params := url.Values{}
	params.Set("customer", req.CustomerID)
	params.Set("items[0][price]", req.PriceID)
	params.Set("expand[]", "latest_invoice.payment_intent")
	for k, v := range req.Metadata {
		params.Set("metadata["+k+"]", v)
	}

	if req.TrialDays > 0 {
		params.Set("trial_period_days", strconv.Itoa(req.TrialDays))
		params.Set("payment_behavior", "default_incomplete")
		params.Set("payment_settings[save_default_payment_method]", "on_subscription")
	} else {
		params.Set("default_payment_method", req.DefaultPaymentMethod)
		params.Set("payment_behavior", "allow_incomplete")
	}

	resp, err := s.doPost(ctx, "/v1/subscriptions", params, req.IdempotencyKey)
	if err != nil {
		return nil, s.wrapTransportError("CreateSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreateSubscription")
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, decodeError("subscription", err)
	}
	return mapSubscription(&sub), nil
}

// GetSubscription retrieves a subscription with its items.
func (s *StripeClient) GetSubscription(ctx context.Context, subscriptionID string) (*Subscription, error) {
	resp, err := s.doGet(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), nil)
	if err != nil {
		return nil, s.wrapTransportError("GetSubscription", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "GetSubscription")
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, decodeError("subscription", err)
	}
	return mapSubscription(&sub), nil
}

// UpdateSubscriptionPrice swaps the subscription's single line item to a new
// price with proration enabled.
func (s *StripeClient) UpdateSubscriptionPrice(ctx context.Context, subscriptionID, itemID, newPriceID string, idempotencyKey string) (*Subscription, error) {
	params := url.Values{}
	params.Set("items[0][id]", itemID)
	params.Set("items[0][price]", newPriceID)
	params.Set("proration_behavior", "create_prorations")

	resp, err := s.doPost(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), params, idempotencyKey)
	if err != nil {
		return nil, s.wrapTransportError("UpdateSubscriptionPrice", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "UpdateSubscriptionPrice")
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, decodeError("subscription", err)
	}
	return mapSubscription(&sub), nil
}

// SetCancelAtPeriodEnd flags (or clears) cancellation at the end of the
// current billing period. The subscription remains active until then.
func (s *StripeClient) SetCancelAtPeriodEnd(ctx context.Context, subscriptionID string, cancel bool) (*Subscription, error) {
	params := url.Values{}
	params.Set("cancel_at_period_end", strconv.FormatBool(cancel))

	resp, err := s.doPost(ctx, "/v1/subscriptions/"+url.PathEscape(subscriptionID), params, uuid.NewString())
	if err != nil {
		return nil, s.wrapTransportError("SetCancelAtPeriodEnd", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "SetCancelAtPeriodEnd")
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, decodeError("subscription", err)
	}
	return mapSubscription(&sub), nil
}

// CancelSubscriptionNow cancels a subscription immediately.
func (s *StripeClient) CancelSubscriptionNow(ctx context.Context, subscriptionID string) (*Subscription, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodDelete,
		s.baseURL+"/v1/subscriptions/"+url.PathEscape(subscriptionID), nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	resp, err := s.base.Do(req)
	if err != nil {
		return nil, s.wrapTransportError("CancelSubscriptionNow", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CancelSubscriptionNow")
	}

	var sub stripeSubscription
	if err := json.NewDecoder(resp.Body).Decode(&sub); err != nil {
		return nil, decodeError("subscription", err)
	}
	return mapSubscription(&sub), nil
}

// ---------------------------------------------------------------------------
// Products and Prices (dynamic enterprise quotes)
// ---------------------------------------------------------------------------

// FindPriceByLookupKey returns the active price with the given lookup key.
// Returns (nil, nil) when no price matches. Enterprise quote prices carry a
// deterministic lookup key derived from the configuration, so repeated quotes
// for the same configuration reuse the same processor objects.
func (s *StripeClient) FindPriceByLookupKey(ctx context.Context, lookupKey string) (*Price, error) {
	params := url.Values{}
	params.Set("lookup_keys[]", lookupKey)
	params.Set("active", "true")
	params.Set("limit", "1")

	resp, err := s.doGet(ctx, "/v1/prices", params)
	if err != nil {
		return nil, s.wrapTransportError("FindPriceByLookupKey", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "FindPriceByLookupKey")
	}

	var list stripePriceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, decodeError("price list", err)
	}
	if len(list.Data) == 0 {
		return nil, nil
	}
	p := list.Data[0]
	return &Price{ID: p.ID, ProductID: p.Product, LookupKey: p.LookupKey}, nil
}

// CreateProductRequest carries the parameters for creating a quote product.
type CreateProductRequest struct {
	Name           string
	Metadata       map[string]string
	IdempotencyKey string
}

// CreateProduct creates a processor product, typically for an enterprise quote.
func (s *StripeClient) CreateProduct(ctx context.Context, req CreateProductRequest) (string, error) {
	params := url.Values{}
	params.Set("name", req.Name)
	for k, v := range req.Metadata {
		params.Set("metadata["+k+"]", v)
	}

	resp, err := s.doPost(ctx, "/v1/products", params, req.IdempotencyKey)
	if err != nil {
		return "", s.wrapTransportError("CreateProduct", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreateProduct")
	}

	var product struct {
		ID string `json:"id"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&product); err != nil {
		return "", decodeError("product", err)
	}
	return product.ID, nil
}

// CreatePriceRequest carries the parameters for creating a recurring price.
type CreatePriceRequest struct {
	ProductID      string
	AmountMinor    int64
	Currency       string
	Interval       string // "month" or "year"
	LookupKey      string
	Metadata       map[string]string
	IdempotencyKey string
}

// CreatePrice creates a recurring processor price tagged with a lookup key
// for later reuse.
func (s *StripeClient) CreatePrice(ctx context.Context, req CreatePriceRequest) (*Price, error) {
	params := url.Values{}
	params.Set("product", req.ProductID)
	params.Set("unit_amount", strconv.FormatInt(req.AmountMinor, 10))
	params.Set("currency", strings.ToLower(req.Currency))
	params.Set("recurring[interval]", req.Interval)
	if req.LookupKey != "" {
		params.Set("lookup_key", req.LookupKey)
	}
	for k, v := range req.Metadata {
		params.Set("metadata["+k+"]", v)
	}

	resp, err := s.doPost(ctx, "/v1/prices", params, req.IdempotencyKey)
	if err != nil {
		return nil, s.wrapTransportError("CreatePrice", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreatePrice")
	}

	var price stripePrice
	if err := json.NewDecoder(resp.Body).Decode(&price); err != nil {
		return nil, decodeError("price", err)
	}
	return &Price{ID: price.ID, ProductID: price.Product, LookupKey: price.LookupKey}, nil
}

// ---------------------------------------------------------------------------
// Setup Intents, Portal, Invoices
// ---------------------------------------------------------------------------

// CreateSetupIntent creates a setup intent for collecting a payment method
// for future off-session charges.
func (s *StripeClient) CreateSetupIntent(ctx context.Context, customerID string) (*SetupIntent, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("usage", "off_session")

	resp, err := s.doPost(ctx, "/v1/setup_intents", params, uuid.NewString())
	if err != nil {
		return nil, s.wrapTransportError("CreateSetupIntent", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, s.handleErrorResponse(resp, "CreateSetupIntent")
	}

	var si struct {
		ID           string `json:"id"`
		ClientSecret string `json:"client_secret"`
		Status       string `json:"status"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&si); err != nil {
		return nil, decodeError("setup intent", err)
	}
	return &SetupIntent{ID: si.ID, ClientSecret: si.ClientSecret, Status: si.Status}, nil
}

// CreatePortalSession generates a billing portal URL for self-serve management.
func (s *StripeClient) CreatePortalSession(ctx context.Context, customerID, returnURL string) (string, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	params.Set("return_url", returnURL)

	resp, err := s.doPost(ctx, "/v1/billing_portal/sessions", params, uuid.NewString())
	if err != nil {
		return "", s.wrapTransportError("CreatePortalSession", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return "", s.handleErrorResponse(resp, "CreatePortalSession")
	}

	var session struct {
		ID  string `json:"id"`
		URL string `json:"url"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&session); err != nil {
		return "", decodeError("portal session", err)
	}
	return session.URL, nil
}

// ListInvoices retrieves processor invoices for a customer with cursor-based
// pagination. The cursor maps to Stripe's starting_after parameter.
func (s *StripeClient) ListInvoices(ctx context.Context, customerID string, limit int, cursor string) ([]*CustomerInvoice, string, error) {
	params := url.Values{}
	params.Set("customer", customerID)
	if limit <= 0 {
		limit = 20
	}
	params.Set("limit", strconv.Itoa(limit))
	if cursor != "" {
		params.Set("starting_after", cursor)
	}

	resp, err := s.doGet(ctx, "/v1/invoices", params)
	if err != nil {
		return nil, "", s.wrapTransportError("ListInvoices", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, "", s.handleErrorResponse(resp, "ListInvoices")
	}

	var list stripeInvoiceList
	if err := json.NewDecoder(resp.Body).Decode(&list); err != nil {
		return nil, "", decodeError("invoice list", err)
	}

	invoices := make([]*CustomerInvoice, 0, len(list.Data))
	for i := range list.Data {
		invoices = append(invoices, mapInvoice(&list.Data[i]))
	}

	nextCursor := ""
	if list.HasMore && len(list.Data) > 0 {
		nextCursor = list.Data[len(list.Data)-1].ID
	}
	return invoices, nextCursor, nil
}

// ---------------------------------------------------------------------------
// HTTP Helpers
// ---------------------------------------------------------------------------

// doGet performs an authenticated GET request to the Stripe API.
func (s *StripeClient) doGet(ctx context.Context, path string, params url.Values) (*http.Response, error) {
	reqURL := s.baseURL + path
	if len(params) > 0 {
		reqURL += "?" + params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return nil, err
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// doPost performs an authenticated POST request with a form-encoded body.
// A non-empty idempotencyKey is sent as the Idempotency-Key header.
func (s *StripeClient) doPost(ctx context.Context, path string, params url.Values, idempotencyKey string) (*http.Response, error) {
	reqURL := s.baseURL + path
	body := params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, strings.NewReader(body))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	if idempotencyKey != "" {
		req.Header.Set("Idempotency-Key", idempotencyKey)
	}
	s.setAuthHeaders(req)

	return s.base.Do(req)
}

// setAuthHeaders sets the Stripe API authentication and version headers.
func (s *StripeClient) setAuthHeaders(req *http.Request) {
	req.Header.Set("Authorization", "Bearer "+s.secretKey)
	req.Header.Set("Stripe-Version", stripe.APIVersion)
}

// ---------------------------------------------------------------------------
// Error Handling
// ---------------------------------------------------------------------------

// stripeErrorResponse represents the JSON error body returned by the Stripe API.
type stripeErrorResponse struct {
	Error stripeErrorBody `json:"error"`
}

type stripeErrorBody struct {
	Type        string `json:"type"`
	Code        string `json:"code"`
	DeclineCode string `json:"decline_code"`
	Message     string `json:"message"`
	Param       string `json:"param"`
}

// handleErrorResponse reads a Stripe error response and maps it to the fixed
// processor error variant set.
func (s *StripeClient) handleErrorResponse(resp *http.Response, operation string) error {
	body, readErr := io.ReadAll(resp.Body)
	if readErr != nil {
		return types.NewProcessorError(types.ErrCodeUpstreamProcessor,
			fmt.Errorf("%s: status %d with unreadable body: %w", operation, resp.StatusCode, readErr))
	}

	var stripeErr stripeErrorResponse
	if jsonErr := json.Unmarshal(body, &stripeErr); jsonErr != nil {
		return types.NewProcessorError(types.ErrCodeUpstreamProcessor,
			fmt.Errorf("%s: status %d with non-JSON body: %w", operation, resp.StatusCode, jsonErr))
	}

	return s.mapStripeError(operation, resp.StatusCode, &stripeErr.Error)
}

// mapStripeError translates a Stripe error into the processor error variant
// set {CardError, RateLimited, InvalidRequest, ApiUnavailable, ConnectionError,
// AuthError, Unknown}, each carrying a fixed user-facing message.
func (s *StripeClient) mapStripeError(operation string, statusCode int, stripeErr *stripeErrorBody) error {
	raw := fmt.Errorf("%s: stripe %s (%d): %s", operation, stripeErr.Type, statusCode, stripeErr.Message)

	switch {
	case stripeErr.Type == "card_error" || stripeErr.Code == "card_declined" || stripeErr.DeclineCode != "":
		appErr := types.NewProcessorError(types.ErrCodePaymentDeclined, raw)
		appErr.Details = map[string]any{
			"decline_code": stripeErr.DeclineCode,
			"stripe_code":  stripeErr.Code,
		}
		return appErr
	case statusCode == http.StatusTooManyRequests:
		return types.NewProcessorError(types.ErrCodeUpstreamRateLimited, raw)
	case statusCode == http.StatusUnauthorized || stripeErr.Type == "authentication_error":
		return types.NewProcessorError(types.ErrCodeProcessorAuth, raw)
	case statusCode >= 500:
		return types.NewProcessorError(types.ErrCodeUpstreamUnavailable, raw)
	case stripeErr.Type == "invalid_request_error":
		return types.NewProcessorError(types.ErrCodeProcessorInvalidRequest, raw)
	default:
		return types.NewProcessorError(types.ErrCodeUpstreamProcessor, raw)
	}
}

// wrapTransportError wraps a BaseClient transport error with operation context.
func (s *StripeClient) wrapTransportError(operation string, err error) error {
	// AppErrors from BaseClient (circuit breaker, retries exhausted) already
	// carry the right code; return them as-is.
	var appErr *types.AppError
	if errors.As(err, &appErr) {
		return err
	}
	return types.NewProcessorError(types.ErrCodeUpstreamConnection,
		fmt.Errorf("%s: %w", operation, err))
}

func decodeError(what string, err error) error {
	return types.NewAppError(
		types.ErrCodeInternalUnexpected,
		fmt.Sprintf("failed to decode Stripe %s response", what),
		err,
	)
}

// ---------------------------------------------------------------------------
// Stripe Response Types (for JSON deserialization)
// ---------------------------------------------------------------------------

type stripePaymentIntent struct {
	ID           string            `json:"id"`
	ClientSecret string            `json:"client_secret"`
	Status       string            `json:"status"`
	Amount       int64             `json:"amount"`
	Currency     string            `json:"currency"`
	Metadata     map[string]string `json:"metadata"`
}

type stripeRefund struct {
	ID       string `json:"id"`
	Status   string `json:"status"`
	Amount   int64  `json:"amount"`
	Currency string `json:"currency"`
}

type stripeCustomer struct {
	ID       string            `json:"id"`
	Email    string            `json:"email"`
	Name     string            `json:"name"`
	Metadata map[string]string `json:"metadata"`
}

type stripeCustomerSearch struct {
	Data    []stripeCustomer `json:"data"`
	HasMore bool             `json:"has_more"`
}

type stripeCardInfo struct {
	Brand    string `json:"brand"`
	Last4    string `json:"last4"`
	ExpMonth int    `json:"exp_month"`
	ExpYear  int    `json:"exp_year"`
}

type stripePaymentMethod struct {
	ID   string          `json:"id"`
	Type string          `json:"type"`
	Card *stripeCardInfo `json:"card"`
}

type stripePaymentMethodList struct {
	Data    []stripePaymentMethod `json:"data"`
	HasMore bool                  `json:"has_more"`
}

type stripePrice struct {
	ID        string `json:"id"`
	Product   string `json:"product"`
	LookupKey string `json:"lookup_key"`
}

type stripePriceList struct {
	Data    []stripePrice `json:"data"`
	HasMore bool          `json:"has_more"`
}

type stripeSubscriptionItem struct {
	ID    string      `json:"id"`
	Price stripePrice `json:"price"`
}

type stripeSubscriptionItems struct {
	Data []stripeSubscriptionItem `json:"data"`
}

type stripeLatestInvoice struct {
	ID            string               `json:"id"`
	PaymentIntent *stripePaymentIntent `json:"payment_intent"`
}

type stripeSubscription struct {
	ID                 string                  `json:"id"`
	Customer           string                  `json:"customer"`
	Status             string                  `json:"status"`
	CancelAtPeriodEnd  bool                    `json:"cancel_at_period_end"`
	TrialEnd           int64                   `json:"trial_end"`
	CurrentPeriodStart int64                   `json:"current_period_start"`
	CurrentPeriodEnd   int64                   `json:"current_period_end"`
	Items              stripeSubscriptionItems `json:"items"`
	LatestInvoice      *stripeLatestInvoice    `json:"latest_invoice"`
}

type stripeStatusTransitions struct {
	PaidAt int64 `json:"paid_at"`
}

type stripeInvoice struct {
	ID                string                  `json:"id"`
	AmountDue         int64                   `json:"amount_due"`
	Status            string                  `json:"status"`
	PeriodStart       int64                   `json:"period_start"`
	PeriodEnd         int64                   `json:"period_end"`
	InvoicePDF        string                  `json:"invoice_pdf"`
	StatusTransitions stripeStatusTransitions `json:"status_transitions"`
}

type stripeInvoiceList struct {
	Data    []stripeInvoice `json:"data"`
	HasMore bool            `json:"has_more"`
}

// ---------------------------------------------------------------------------
// Mapping Functions
// ---------------------------------------------------------------------------

func mapPaymentIntent(pi *stripePaymentIntent) *PaymentIntent {
	return &PaymentIntent{
		ID:           pi.ID,
		ClientSecret: pi.ClientSecret,
		Status:       pi.Status,
		AmountMinor:  pi.Amount,
		Currency:     pi.Currency,
		Metadata:     pi.Metadata,
	}
}

func mapCustomer(c *stripeCustomer) *Customer {
	return &Customer{
		ID:       c.ID,
		Email:    c.Email,
		Name:     c.Name,
		Metadata: c.Metadata,
	}
}

func mapPaymentMethod(pm *stripePaymentMethod) *PaymentMethod {
	method := &PaymentMethod{
		ID:   pm.ID,
		Type: pm.Type,
	}
	if pm.Card != nil {
		method.Card = &CardInfo{
			Brand:    pm.Card.Brand,
			Last4:    pm.Card.Last4,
			ExpMonth: pm.Card.ExpMonth,
			ExpYear:  pm.Card.ExpYear,
		}
	}
	return method
}

func mapSubscription(sub *stripeSubscription) *Subscription {
	out := &Subscription{
		ID:                sub.ID,
		CustomerID:        sub.Customer,
		Status:            sub.Status,
		CancelAtPeriodEnd: sub.CancelAtPeriodEnd,
	}

	if sub.TrialEnd > 0 {
		t := time.Unix(sub.TrialEnd, 0).UTC()
		out.TrialEnd = &t
	}
	if sub.CurrentPeriodStart > 0 {
		t := time.Unix(sub.CurrentPeriodStart, 0).UTC()
		out.CurrentPeriodStart = &t
	}
	if sub.CurrentPeriodEnd > 0 {
		t := time.Unix(sub.CurrentPeriodEnd, 0).UTC()
		out.CurrentPeriodEnd = &t
	}

	for _, item := range sub.Items.Data {
		out.Items = append(out.Items, SubscriptionItem{
			ID:      item.ID,
			PriceID: item.Price.ID,
		})
	}

	if sub.LatestInvoice != nil && sub.LatestInvoice.PaymentIntent != nil {
		pi := sub.LatestInvoice.PaymentIntent
		out.PaymentStatus = pi.Status
		// requires_action means the first payment needs client-side
		// authentication; surface the secret instead of failing.
		if pi.Status == "requires_action" || pi.Status == "requires_confirmation" {
			out.PaymentClientSecret = pi.ClientSecret
		}
	}

	return out
}

func mapInvoice(si *stripeInvoice) *CustomerInvoice {
	inv := &CustomerInvoice{
		ID:          si.ID,
		AmountDue:   si.AmountDue,
		Status:      si.Status,
		PeriodStart: time.Unix(si.PeriodStart, 0).UTC(),
		PeriodEnd:   time.Unix(si.PeriodEnd, 0).UTC(),
		PDFURL:      si.InvoicePDF,
	}
	if si.StatusTransitions.PaidAt > 0 {
		paidAt := time.Unix(si.StatusTransitions.PaidAt, 0).UTC()
		inv.PaidAt = &paidAt
	}
	return inv
}
