package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"paybridge/internal/types"
)

// LedgerRepo applies payment settlements to the sale and invoice ledger
// entities. Both follow the same rule: the balance is reduced by the payment
// amount but never goes below zero, and the status becomes paid exactly when
// the balance reaches zero, partial otherwise.
type LedgerRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewLedgerRepo creates a new LedgerRepo backed by the given database
// connection (pool or transaction).
func NewLedgerRepo(db DBTX, logger *slog.Logger) *LedgerRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &LedgerRepo{db: db, logger: logger}
}

// ApplySaleSettlement reduces the sale balance by amount, clamped at zero,
// and derives the new status in the same statement so the computation is
// atomic under concurrent settlements.
func (r *LedgerRepo) ApplySaleSettlement(ctx context.Context, saleID string, amount decimal.Decimal) (*types.Sale, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE sales
		 SET balance = GREATEST(0, balance - $1),
		     status = CASE WHEN GREATEST(0, balance - $1) = 0 THEN 'paid' ELSE 'partial' END,
		     updated_at = NOW()
		 WHERE id = $2
		 RETURNING id, organization_id, balance, status, updated_at`,
		amount, saleID,
	)

	var s types.Sale
	err := row.Scan(&s.ID, &s.OrganizationID, &s.Balance, &s.Status, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(
				types.ErrCodeNotFoundSale,
				fmt.Sprintf("sale %s not found", saleID),
				nil,
			)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to settle sale", err)
	}
	return &s, nil
}

// ApplyInvoiceSettlement applies the same clamp-and-derive rule to an invoice.
func (r *LedgerRepo) ApplyInvoiceSettlement(ctx context.Context, invoiceID string, amount decimal.Decimal) (*types.Invoice, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE invoices
		 SET balance = GREATEST(0, balance - $1),
		     status = CASE WHEN GREATEST(0, balance - $1) = 0 THEN 'paid' ELSE 'partial' END,
		     updated_at = NOW()
		 WHERE id = $2
		 RETURNING id, organization_id, balance, status, updated_at`,
		amount, invoiceID,
	)

	var inv types.Invoice
	err := row.Scan(&inv.ID, &inv.OrganizationID, &inv.Balance, &inv.Status, &inv.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(
				types.ErrCodeNotFoundInvoice,
				fmt.Sprintf("invoice %s not found", invoiceID),
				nil,
			)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to settle invoice", err)
	}
	return &inv, nil
}

// GetAccountReceivable reads back a receivable. The receivable balance itself
// is maintained by a database trigger owned by the accounting schema; PayBridge
// only reads it after a payment to verify the trigger applied the expected
// change, logging drift instead of failing.
func (r *LedgerRepo) GetAccountReceivable(ctx context.Context, receivableID string) (*types.AccountReceivable, error) {
	row := r.db.QueryRow(ctx,
		`SELECT id, organization_id, balance, updated_at
		 FROM account_receivables
		 WHERE id = $1`,
		receivableID,
	)

	var ar types.AccountReceivable
	err := row.Scan(&ar.ID, &ar.OrganizationID, &ar.Balance, &ar.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(
				types.ErrCodeNotFoundInvoice,
				fmt.Sprintf("account receivable %s not found", receivableID),
				nil,
			)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch account receivable", err)
	}
	return &ar, nil
}
