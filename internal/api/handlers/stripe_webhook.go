package handlers

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"paybridge/internal/core"
	"paybridge/internal/external"
	"paybridge/internal/types"
)

// maxWebhookBodySize caps Stripe webhook payloads (64 KB); real events are
// far smaller.
const maxWebhookBodySize = 64 * 1024

// SubscriptionSyncer mirrors processor-reported subscription state into the
// local record.
type SubscriptionSyncer interface {
	SyncProcessorState(ctx context.Context, processorSubID string, status types.SubscriptionStatus, cancelAtPeriodEnd bool, periodStart, periodEnd *time.Time, eventTime time.Time) error
	RefreshFromProcessor(ctx context.Context, processorSubID string, eventTime time.Time) error
}

// StripeWebhookHandler handles asynchronous events from Stripe. It is not
// behind auth middleware; security comes from verifying the Stripe-Signature
// header against the signing secret. Unverified events are never processed.
type StripeWebhookHandler struct {
	verifier external.WebhookVerifier
	recorder RecordingService
	syncer   SubscriptionSyncer
	secret   string
	logger   *slog.Logger
}

// NewStripeWebhookHandler creates a StripeWebhookHandler.
func NewStripeWebhookHandler(
	verifier external.WebhookVerifier,
	recorder RecordingService,
	syncer SubscriptionSyncer,
	secret string,
	logger *slog.Logger,
) *StripeWebhookHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &StripeWebhookHandler{
		verifier: verifier,
		recorder: recorder,
		syncer:   syncer,
		secret:   secret,
		logger:   logger,
	}
}

// RegisterRoutes mounts the webhook endpoint. Separate from the other
// handlers' RegisterRoutes because webhook routes are public.
func (h *StripeWebhookHandler) RegisterRoutes(r chi.Router) {
	r.Post("/webhooks/stripe", h.Handle)
}

// Handle processes an incoming Stripe webhook: read the raw body, verify the
// signature, parse the event, route by type, and acknowledge. Processing
// failures after verification are logged but still acknowledged with 200 so
// Stripe does not retry forever; the recorder's idempotency makes the retry
// we do want (delivery-level) safe.
func (h *StripeWebhookHandler) Handle(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxWebhookBodySize)
	payload, err := io.ReadAll(r.Body)
	if err != nil {
		h.logger.WarnContext(r.Context(), "failed to read webhook body", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationMissingField,
			"failed to read request body",
			err,
		))
		return
	}

	sigHeader := r.Header.Get("Stripe-Signature")
	if sigHeader == "" {
		h.logger.WarnContext(r.Context(), "missing Stripe-Signature header")
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookSignatureMissing,
			"missing Stripe-Signature header",
			nil,
		))
		return
	}

	if err := h.verifier.Verify(payload, sigHeader, h.secret); err != nil {
		h.logger.WarnContext(r.Context(), "webhook signature verification failed", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeWebhookSignatureInvalid,
			"webhook signature verification failed",
			err,
		))
		return
	}

	var event stripeWebhookEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		h.logger.ErrorContext(r.Context(), "failed to parse webhook event JSON", "error", err)
		core.Error(w, r, types.NewAppError(
			types.ErrCodeValidationInvalidField,
			"invalid webhook event JSON",
			err,
		))
		return
	}

	h.logger.InfoContext(r.Context(), "processing stripe webhook event",
		slog.String("event_id", event.ID),
		slog.String("event_type", event.Type),
	)

	if err := h.routeEvent(r.Context(), &event); err != nil {
		h.logger.ErrorContext(r.Context(), "webhook event processing failed",
			slog.String("event_id", event.ID),
			slog.String("event_type", event.Type),
			slog.Any("error", err),
		)
	}

	w.WriteHeader(http.StatusOK)
}

func (h *StripeWebhookHandler) routeEvent(ctx context.Context, event *stripeWebhookEvent) error {
	switch event.Type {
	case external.EventPaymentIntentSucceeded:
		return h.handlePaymentIntentSucceeded(ctx, event)

	case external.EventSubscriptionUpdated, external.EventSubscriptionDeleted:
		return h.handleSubscriptionChanged(ctx, event)

	case external.EventInvoicePaymentFailed, external.EventInvoicePaid:
		return h.handleInvoiceEvent(ctx, event)

	default:
		h.logger.InfoContext(ctx, "ignoring unhandled webhook event type",
			slog.String("event_type", event.Type),
		)
		return nil
	}
}

// handlePaymentIntentSucceeded records the payment for a confirmed intent.
// This races the client-side confirmation call; the payment store's
// reference uniqueness makes whichever arrives second a no-op.
func (h *StripeWebhookHandler) handlePaymentIntentSucceeded(ctx context.Context, event *stripeWebhookEvent) error {
	var intent struct {
		ID string `json:"id"`
	}
	if err := json.Unmarshal(event.Data.Object, &intent); err != nil {
		return fmt.Errorf("parse payment intent object: %w", err)
	}
	if intent.ID == "" {
		return fmt.Errorf("%s: missing intent id in event %s", event.Type, event.ID)
	}

	result, err := h.recorder.ProcessSuccessfulPayment(ctx, intent.ID)
	if err != nil {
		return err
	}
	if result.Duplicate {
		h.logger.InfoContext(ctx, "webhook payment already recorded",
			slog.String("intent_id", intent.ID),
		)
	}
	return nil
}

// handleSubscriptionChanged mirrors updated/deleted subscription state.
func (h *StripeWebhookHandler) handleSubscriptionChanged(ctx context.Context, event *stripeWebhookEvent) error {
	var sub struct {
		ID                 string `json:"id"`
		Status             string `json:"status"`
		CancelAtPeriodEnd  bool   `json:"cancel_at_period_end"`
		CurrentPeriodStart int64  `json:"current_period_start"`
		CurrentPeriodEnd   int64  `json:"current_period_end"`
	}
	if err := json.Unmarshal(event.Data.Object, &sub); err != nil {
		return fmt.Errorf("parse subscription object: %w", err)
	}
	if sub.ID == "" {
		return fmt.Errorf("%s: missing subscription id in event %s", event.Type, event.ID)
	}

	return h.syncer.SyncProcessorState(ctx, sub.ID,
		types.SubscriptionStatus(sub.Status), sub.CancelAtPeriodEnd,
		unixTimePtr(sub.CurrentPeriodStart), unixTimePtr(sub.CurrentPeriodEnd),
		event.eventTimestamp())
}

// handleInvoiceEvent refreshes the subscription behind a paid or failed
// invoice. The invoice object does not carry full subscription state, so the
// current state is re-read from the processor.
func (h *StripeWebhookHandler) handleInvoiceEvent(ctx context.Context, event *stripeWebhookEvent) error {
	var invoice struct {
		Subscription string `json:"subscription"`
	}
	if err := json.Unmarshal(event.Data.Object, &invoice); err != nil {
		return fmt.Errorf("parse invoice object: %w", err)
	}
	if invoice.Subscription == "" {
		// One-off invoices have no subscription; nothing to sync.
		h.logger.InfoContext(ctx, "invoice event without subscription ignored",
			slog.String("event_id", event.ID),
		)
		return nil
	}

	return h.syncer.RefreshFromProcessor(ctx, invoice.Subscription, event.eventTimestamp())
}

// stripeWebhookEvent is the envelope of a Stripe webhook payload.
type stripeWebhookEvent struct {
	ID      string `json:"id"`
	Type    string `json:"type"`
	Created int64  `json:"created"`
	Data    struct {
		Object json.RawMessage `json:"object"`
	} `json:"data"`
}

// eventTimestamp returns the event creation time, falling back to now for
// malformed events so stale-event guards still get a usable value.
func (e *stripeWebhookEvent) eventTimestamp() time.Time {
	if e.Created > 0 {
		return time.Unix(e.Created, 0).UTC()
	}
	return time.Now().UTC()
}

func unixTimePtr(ts int64) *time.Time {
	if ts <= 0 {
		return nil
	}
	t := time.Unix(ts, 0).UTC()
	return &t
}
