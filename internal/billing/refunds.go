package billing

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paybridge/internal/external"
	"paybridge/internal/types"
)

// RefundGateway is the subset of the processor client used by the
// RefundProcessor.
type RefundGateway interface {
	IntentFetcher
	CreateRefund(ctx context.Context, req external.RefundRequest) (*external.Refund, error)
}

// RefundInput carries a refund request. A nil Amount means a full refund.
// Amounts are in major currency units of the original charge.
type RefundInput struct {
	IntentID string
	Amount   *decimal.Decimal
	Reason   string
	Metadata map[string]string
}

// RefundResult is a structured outcome: refund failures are reported in the
// result rather than raised as errors, so a caller can render an inline
// failure without an error boundary.
type RefundResult struct {
	Success  bool            `json:"success"`
	RefundID string          `json:"refund_id,omitempty"`
	Amount   decimal.Decimal `json:"amount"`
	Status   string          `json:"status,omitempty"`
	Error    *types.AppError `json:"error,omitempty"`
}

// RefundProcessor issues full and partial refunds against prior charge
// intents. It deliberately does not reverse any ledger row; ledger reversal
// is the caller's concern.
type RefundProcessor struct {
	processor RefundGateway
	logger    *slog.Logger
}

// NewRefundProcessor creates a RefundProcessor.
func NewRefundProcessor(processor RefundGateway, logger *slog.Logger) *RefundProcessor {
	if logger == nil {
		logger = slog.Default()
	}
	return &RefundProcessor{processor: processor, logger: logger}
}

// ProcessRefund issues the refund and returns a structured result. The
// original intent is fetched first to resolve the charge currency for
// minor-unit conversion of partial amounts.
func (p *RefundProcessor) ProcessRefund(ctx context.Context, in RefundInput) *RefundResult {
	intent, err := p.processor.GetPaymentIntent(ctx, in.IntentID)
	if err != nil {
		return refundFailure(err)
	}

	var amountMinor int64
	if in.Amount != nil {
		if !in.Amount.IsPositive() {
			return refundFailure(types.NewAppError(
				types.ErrCodeValidationAmount,
				"refund amount must be greater than zero",
				nil,
			))
		}
		amountMinor = ToMinorUnits(*in.Amount, intent.Currency)
	}

	refund, err := p.processor.CreateRefund(ctx, external.RefundRequest{
		IntentID:       in.IntentID,
		AmountMinor:    amountMinor,
		Reason:         in.Reason,
		Metadata:       in.Metadata,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		p.logger.WarnContext(ctx, "refund failed",
			slog.String("intent_id", in.IntentID),
			slog.Any("error", err),
		)
		return refundFailure(err)
	}

	p.logger.InfoContext(ctx, "refund issued",
		slog.String("intent_id", in.IntentID),
		slog.String("refund_id", refund.ID),
		slog.Int64("amount_minor", refund.AmountMinor),
		slog.String("status", refund.Status),
	)

	return &RefundResult{
		Success:  true,
		RefundID: refund.ID,
		Amount:   FromMinorUnits(refund.AmountMinor, refund.Currency),
		Status:   refund.Status,
	}
}

func refundFailure(err error) *RefundResult {
	appErr, ok := err.(*types.AppError)
	if !ok {
		appErr = types.NewAppError(types.ErrCodeInternalUnexpected, "refund failed", err)
	}
	return &RefundResult{Success: false, Error: appErr}
}
