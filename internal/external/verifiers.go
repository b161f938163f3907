package external

import (
	stripe "github.com/stripe/stripe-go/v82"
)

// Webhook event types PayBridge reacts to. Anything else is acknowledged
// and ignored.
const (
	EventPaymentIntentSucceeded = "payment_intent.succeeded"
	EventPaymentIntentFailed    = "payment_intent.payment_failed"
	EventSubscriptionUpdated    = "customer.subscription.updated"
	EventSubscriptionDeleted    = "customer.subscription.deleted"
	EventInvoicePaymentFailed   = "invoice.payment_failed"
	EventInvoicePaid            = "invoice.paid"
)

// WebhookVerifier authenticates inbound webhook payloads before any event
// processing happens.
type WebhookVerifier interface {
	// Verify checks the payload against the signature header and signing
	// secret. A nil return means the payload is authentic.
	Verify(payload []byte, header string, secret string) error
}

// StripeVerifier implements WebhookVerifier using stripe-go's webhook
// signature validation (HMAC-SHA256 with timestamp tolerance).
type StripeVerifier struct{}

// Verify validates a Stripe webhook payload against the signature header
// and signing secret.
func (v *StripeVerifier) Verify(payload []byte, header string, secret string) error {
	return stripe.ValidatePayload(payload, header, secret)
}
