package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"paybridge/internal/types"
)

// PaymentRepo persists payment ledger rows. Payments are immutable after
// insertion; the reference column (the processor intent ID) carries a unique
// constraint so a webhook and a client-side confirmation racing on the same
// intent produce exactly one row.
type PaymentRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewPaymentRepo creates a new PaymentRepo backed by the given database
// connection (pool or transaction).
func NewPaymentRepo(db DBTX, logger *slog.Logger) *PaymentRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &PaymentRepo{db: db, logger: logger}
}

const paymentColumns = `id, organization_id, branch_id, amount, currency, method, source, source_id, reference, status, created_at`

// Insert records a payment. If a row with the same reference already exists
// the insert is a no-op and the existing row is returned with created=false.
// This is the idempotency guarantee for duplicate confirmation paths.
func (r *PaymentRepo) Insert(ctx context.Context, p *types.Payment) (*types.Payment, bool, error) {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}

	tag, err := r.db.Exec(ctx,
		`INSERT INTO payments (id, organization_id, branch_id, amount, currency, method, source, source_id, reference, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		 ON CONFLICT (reference) DO NOTHING`,
		p.ID, p.OrganizationID, p.BranchID, p.Amount, p.Currency,
		p.Method, p.Source, p.SourceID, p.Reference, p.Status,
	)
	if err != nil {
		return nil, false, types.NewAppError(types.ErrCodeInternalDB, "failed to insert payment", err)
	}

	if tag.RowsAffected() == 0 {
		existing, err := r.GetByReference(ctx, p.Reference)
		if err != nil {
			return nil, false, err
		}
		r.logger.InfoContext(ctx, "duplicate payment recording ignored",
			slog.String("reference", p.Reference),
			slog.String("payment_id", existing.ID),
		)
		return existing, false, nil
	}

	return r.getByID(ctx, p.ID)
}

// GetByReference returns the payment recorded for the given processor intent ID.
func (r *PaymentRepo) GetByReference(ctx context.Context, reference string) (*types.Payment, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE reference = $1`,
		reference,
	)
	return scanPayment(row, reference)
}

func (r *PaymentRepo) getByID(ctx context.Context, id string) (*types.Payment, bool, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+paymentColumns+` FROM payments WHERE id = $1`,
		id,
	)
	p, err := scanPayment(row, id)
	if err != nil {
		return nil, false, err
	}
	return p, true, nil
}

// ListByOrganization returns payments for an organization, newest first.
func (r *PaymentRepo) ListByOrganization(ctx context.Context, orgID string, limit int) ([]*types.Payment, error) {
	if limit <= 0 || limit > 100 {
		limit = 50
	}
	rows, err := r.db.Query(ctx,
		`SELECT `+paymentColumns+` FROM payments
		 WHERE organization_id = $1
		 ORDER BY created_at DESC
		 LIMIT $2`,
		orgID, limit,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list payments", err)
	}
	defer rows.Close()

	var payments []*types.Payment
	for rows.Next() {
		var p types.Payment
		if err := rows.Scan(&p.ID, &p.OrganizationID, &p.BranchID, &p.Amount,
			&p.Currency, &p.Method, &p.Source, &p.SourceID,
			&p.Reference, &p.Status, &p.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan payment row", err)
		}
		payments = append(payments, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate payment rows", err)
	}
	return payments, nil
}

func scanPayment(row pgx.Row, key string) (*types.Payment, error) {
	var p types.Payment
	err := row.Scan(&p.ID, &p.OrganizationID, &p.BranchID, &p.Amount,
		&p.Currency, &p.Method, &p.Source, &p.SourceID,
		&p.Reference, &p.Status, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(
				types.ErrCodeNotFoundPayment,
				fmt.Sprintf("payment %s not found", key),
				nil,
			)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch payment", err)
	}
	return &p, nil
}
