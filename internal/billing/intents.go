package billing

import (
	"context"
	"log/slog"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"paybridge/internal/external"
	"paybridge/internal/types"
)

// Metadata keys written at intent creation and read back at confirmation.
// They embed everything the recorder needs so confirmation does not require
// a second database lookup.
const (
	metaOrganizationID      = "organizationId"
	metaBranchID            = "branchId"
	metaCustomerID          = "customerId"
	metaSaleID              = "saleId"
	metaInvoiceID           = "invoiceId"
	metaAccountReceivableID = "accountReceivableId"
)

// IntentCreator is the subset of the processor client used by the gateway.
type IntentCreator interface {
	CreatePaymentIntent(ctx context.Context, req external.CreateIntentRequest) (*external.PaymentIntent, error)
}

// CreateIntentInput carries a one-time charge request. Amount is in major
// currency units. The linkage identifiers are optional except organization
// and branch; whichever are present are embedded in the intent metadata.
type CreateIntentInput struct {
	Amount         decimal.Decimal
	Currency       string
	OrganizationID string
	BranchID       string
	Description    string
	Metadata       map[string]string

	CustomerID          string
	SaleID              string
	InvoiceID           string
	AccountReceivableID string
}

// IntentResult is returned to the caller for client-side confirmation.
type IntentResult struct {
	IntentID     string          `json:"intent_id"`
	ClientSecret string          `json:"client_secret"`
	AmountMinor  int64           `json:"amount_minor"`
	Currency     string          `json:"currency"`
	Amount       decimal.Decimal `json:"amount"`
}

// PaymentIntentGateway validates one-time charges and creates processor
// charge intents.
type PaymentIntentGateway struct {
	processor IntentCreator
	logger    *slog.Logger
}

// NewPaymentIntentGateway creates a PaymentIntentGateway.
func NewPaymentIntentGateway(processor IntentCreator, logger *slog.Logger) *PaymentIntentGateway {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentIntentGateway{processor: processor, logger: logger}
}

// CreateIntent validates the amount against the per-currency minimum,
// converts it to minor units, and creates the processor intent. Validation
// failures happen before any network call.
func (g *PaymentIntentGateway) CreateIntent(ctx context.Context, in CreateIntentInput) (*IntentResult, error) {
	if in.OrganizationID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "organization id is required", nil)
	}
	if in.BranchID == "" {
		return nil, types.NewAppError(types.ErrCodeValidationMissingField, "branch id is required", nil)
	}

	minor, err := ValidateChargeAmount(in.Amount, in.Currency)
	if err != nil {
		return nil, err
	}

	metadata := make(map[string]string, len(in.Metadata)+6)
	for k, v := range in.Metadata {
		metadata[k] = v
	}
	// Linkage identifiers always win over caller-supplied keys.
	metadata[metaOrganizationID] = in.OrganizationID
	metadata[metaBranchID] = in.BranchID
	if in.CustomerID != "" {
		metadata[metaCustomerID] = in.CustomerID
	}
	if in.SaleID != "" {
		metadata[metaSaleID] = in.SaleID
	}
	if in.InvoiceID != "" {
		metadata[metaInvoiceID] = in.InvoiceID
	}
	if in.AccountReceivableID != "" {
		metadata[metaAccountReceivableID] = in.AccountReceivableID
	}

	intent, err := g.processor.CreatePaymentIntent(ctx, external.CreateIntentRequest{
		AmountMinor:    minor,
		Currency:       in.Currency,
		Description:    in.Description,
		CustomerID:     in.CustomerID,
		Metadata:       metadata,
		IdempotencyKey: uuid.NewString(),
	})
	if err != nil {
		return nil, err
	}

	g.logger.InfoContext(ctx, "payment intent created",
		slog.String("intent_id", intent.ID),
		slog.String("org_id", in.OrganizationID),
		slog.String("branch_id", in.BranchID),
		slog.Int64("amount_minor", intent.AmountMinor),
		slog.String("currency", intent.Currency),
	)

	return &IntentResult{
		IntentID:     intent.ID,
		ClientSecret: intent.ClientSecret,
		AmountMinor:  intent.AmountMinor,
		Currency:     intent.Currency,
		Amount:       FromMinorUnits(intent.AmountMinor, intent.Currency),
	}, nil
}
