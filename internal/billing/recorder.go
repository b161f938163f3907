package billing

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/shopspring/decimal"

	"paybridge/internal/external"
	"paybridge/internal/types"
)

// IntentFetcher retrieves a charge intent from the processor.
type IntentFetcher interface {
	GetPaymentIntent(ctx context.Context, intentID string) (*external.PaymentIntent, error)
}

// PaymentStore persists payment rows with reference-level idempotency.
type PaymentStore interface {
	Insert(ctx context.Context, p *types.Payment) (*types.Payment, bool, error)
}

// LedgerStore applies settlements to the sale and invoice ledgers and reads
// back account receivables.
type LedgerStore interface {
	ApplySaleSettlement(ctx context.Context, saleID string, amount decimal.Decimal) (*types.Sale, error)
	ApplyInvoiceSettlement(ctx context.Context, invoiceID string, amount decimal.Decimal) (*types.Invoice, error)
	GetAccountReceivable(ctx context.Context, receivableID string) (*types.AccountReceivable, error)
}

// PaymentRecorder confirms succeeded charge intents and records them in the
// payment ledger, cascading sale and invoice balances.
//
// Recording is idempotent: a webhook and a client-side confirmation racing on
// the same intent produce exactly one payment row, and the cascade runs only
// for the invocation that actually created the row.
//
// The cascade is best-effort by policy: once the payment row exists, a failed
// balance update is logged and the recorded payment stands.
type PaymentRecorder struct {
	processor IntentFetcher
	payments  PaymentStore
	ledger    LedgerStore
	logger    *slog.Logger
}

// NewPaymentRecorder creates a PaymentRecorder.
func NewPaymentRecorder(processor IntentFetcher, payments PaymentStore, ledger LedgerStore, logger *slog.Logger) *PaymentRecorder {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentRecorder{
		processor: processor,
		payments:  payments,
		ledger:    ledger,
		logger:    logger,
	}
}

// RecordResult describes the outcome of processing a succeeded intent.
type RecordResult struct {
	Payment *types.Payment
	// Duplicate is true when the intent was already recorded and this
	// invocation was a no-op.
	Duplicate bool
	Sale      *types.Sale
	Invoice   *types.Invoice
}

// ProcessSuccessfulPayment records the payment for a succeeded charge intent.
// The intent's metadata, written at creation time, supplies the organization,
// branch, and ledger linkage; no second database lookup is needed.
func (r *PaymentRecorder) ProcessSuccessfulPayment(ctx context.Context, intentID string) (*RecordResult, error) {
	intent, err := r.processor.GetPaymentIntent(ctx, intentID)
	if err != nil {
		return nil, err
	}

	if intent.Status != "succeeded" {
		return nil, types.NewAppErrorWithDetails(
			types.ErrCodeConflictPaymentState,
			fmt.Sprintf("payment intent %s is %s, not succeeded", intentID, intent.Status),
			nil,
			map[string]any{"intent_status": intent.Status},
		)
	}

	orgID := intent.Metadata[metaOrganizationID]
	branchID := intent.Metadata[metaBranchID]
	if orgID == "" || branchID == "" {
		return nil, types.NewAppError(
			types.ErrCodeValidationMissingField,
			fmt.Sprintf("payment intent %s is missing organization/branch metadata", intentID),
			nil,
		)
	}

	source, sourceID := resolveSource(intent.Metadata)
	amount := FromMinorUnits(intent.AmountMinor, intent.Currency)

	payment, created, err := r.payments.Insert(ctx, &types.Payment{
		OrganizationID: orgID,
		BranchID:       branchID,
		Amount:         amount,
		Currency:       intent.Currency,
		Method:         "card",
		Source:         source,
		SourceID:       sourceID,
		Reference:      intentID,
		Status:         types.PaymentCompleted,
	})
	if err != nil {
		return nil, err
	}

	result := &RecordResult{Payment: payment, Duplicate: !created}
	if !created {
		// A concurrent confirmation already recorded this intent and ran
		// the cascade; running it again would double-settle.
		return result, nil
	}

	r.logger.InfoContext(ctx, "payment recorded",
		slog.String("payment_id", payment.ID),
		slog.String("reference", intentID),
		slog.String("org_id", orgID),
		slog.String("source", string(source)),
		slog.String("amount", amount.String()),
	)

	r.cascade(ctx, intent.Metadata, amount, result)
	return result, nil
}

// cascade applies the ledger updates linked to the intent. Failures are
// logged, never returned: the payment row is already committed.
func (r *PaymentRecorder) cascade(ctx context.Context, metadata map[string]string, amount decimal.Decimal, result *RecordResult) {
	if saleID := metadata[metaSaleID]; saleID != "" {
		sale, err := r.ledger.ApplySaleSettlement(ctx, saleID, amount)
		if err != nil {
			r.logger.ErrorContext(ctx, "sale settlement failed after recorded payment",
				slog.String("sale_id", saleID),
				slog.String("payment_id", result.Payment.ID),
				slog.Any("error", err),
			)
		} else {
			result.Sale = sale
		}
	}

	if invoiceID := metadata[metaInvoiceID]; invoiceID != "" {
		invoice, err := r.ledger.ApplyInvoiceSettlement(ctx, invoiceID, amount)
		if err != nil {
			r.logger.ErrorContext(ctx, "invoice settlement failed after recorded payment",
				slog.String("invoice_id", invoiceID),
				slog.String("payment_id", result.Payment.ID),
				slog.Any("error", err),
			)
		} else {
			result.Invoice = invoice
		}
	}

	// The receivable balance is maintained by a trigger in the accounting
	// schema. Read it back so drift shows up in the logs instead of staying
	// an unverified assumption.
	if receivableID := metadata[metaAccountReceivableID]; receivableID != "" {
		ar, err := r.ledger.GetAccountReceivable(ctx, receivableID)
		if err != nil {
			r.logger.ErrorContext(ctx, "account receivable read-back failed after recorded payment",
				slog.String("receivable_id", receivableID),
				slog.String("payment_id", result.Payment.ID),
				slog.Any("error", err),
			)
			return
		}
		r.logger.InfoContext(ctx, "account receivable balance after payment",
			slog.String("receivable_id", ar.ID),
			slog.String("payment_id", result.Payment.ID),
			slog.String("balance", ar.Balance.String()),
		)
	}
}

// resolveSource picks the payment source by precedence: sale, then account
// receivable, then manual.
func resolveSource(metadata map[string]string) (types.PaymentSource, string) {
	if saleID := metadata[metaSaleID]; saleID != "" {
		return types.SourceSale, saleID
	}
	if receivableID := metadata[metaAccountReceivableID]; receivableID != "" {
		return types.SourceAccountReceivable, receivableID
	}
	return types.SourceManual, ""
}
