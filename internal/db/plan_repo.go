package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5"

	"paybridge/internal/types"
)

// PlanRepo reads the plan catalog. Plan rows are immutable reference data
// seeded out-of-band; there are no write operations.
type PlanRepo struct {
	db     DBTX
	logger *slog.Logger
}

// NewPlanRepo creates a new PlanRepo backed by the given database connection
// (pool or transaction).
func NewPlanRepo(db DBTX, logger *slog.Logger) *PlanRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &PlanRepo{db: db, logger: logger}
}

const planColumns = `id, code, processor_product_id, monthly_price_id, yearly_price_id, trial_days, created_at`

// GetByCode returns the plan with the given code.
func (r *PlanRepo) GetByCode(ctx context.Context, code types.PlanCode) (*types.Plan, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE code = $1`,
		code,
	)
	return scanPlan(row, string(code))
}

// GetByID returns the plan with the given ID.
func (r *PlanRepo) GetByID(ctx context.Context, id string) (*types.Plan, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+planColumns+` FROM plans WHERE id = $1`,
		id,
	)
	return scanPlan(row, id)
}

// List returns all plans ordered by code.
func (r *PlanRepo) List(ctx context.Context) ([]*types.Plan, error) {
	rows, err := r.db.Query(ctx,
		`SELECT `+planColumns+` FROM plans ORDER BY code`,
	)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to list plans", err)
	}
	defer rows.Close()

	var plans []*types.Plan
	for rows.Next() {
		var p types.Plan
		if err := rows.Scan(&p.ID, &p.Code, &p.ProcessorProductID,
			&p.MonthlyPriceID, &p.YearlyPriceID, &p.TrialDays, &p.CreatedAt); err != nil {
			return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to scan plan row", err)
		}
		plans = append(plans, &p)
	}
	if err := rows.Err(); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to iterate plan rows", err)
	}
	return plans, nil
}

func scanPlan(row pgx.Row, key string) (*types.Plan, error) {
	var p types.Plan
	err := row.Scan(&p.ID, &p.Code, &p.ProcessorProductID,
		&p.MonthlyPriceID, &p.YearlyPriceID, &p.TrialDays, &p.CreatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(
				types.ErrCodeNotFoundPlan,
				fmt.Sprintf("plan %s not found", key),
				nil,
			)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch plan", err)
	}
	return &p, nil
}
