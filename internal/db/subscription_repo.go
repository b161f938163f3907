package db

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"

	"paybridge/internal/types"
)

// SubscriptionRepo persists the authoritative billing record per organization.
//
// Key invariants:
//   - A uniqueness constraint on organization_id guarantees a single
//     authoritative row; lifecycle events update it in place.
//   - Upsert serializes concurrent writers for the same organization with a
//     transaction-scoped advisory lock, so a plan change racing a trial
//     creation cannot silently discard either write.
//   - SyncFromProcessor guards against out-of-order webhook delivery with a
//     last_event_at comparison; stale events are an idempotent no-op.
type SubscriptionRepo struct {
	db     TxStarter
	logger *slog.Logger
}

// NewSubscriptionRepo creates a new SubscriptionRepo backed by the given pool.
func NewSubscriptionRepo(db TxStarter, logger *slog.Logger) *SubscriptionRepo {
	if logger == nil {
		logger = slog.Default()
	}
	return &SubscriptionRepo{db: db, logger: logger}
}

const subscriptionColumns = `id, organization_id, processor_subscription_id, processor_customer_id,
	plan_id, status, trial_end, current_period_start, current_period_end,
	cancel_at_period_end, metadata, version, created_at, updated_at`

// Upsert creates or replaces the organization's subscription record. An
// existing row is updated in place: processor ids, plan, status, trial end,
// period bounds, and metadata are rewritten, cancel_at_period_end is reset to
// false, and the version counter is incremented.
func (r *SubscriptionRepo) Upsert(ctx context.Context, sub *types.Subscription) (*types.Subscription, error) {
	if sub.ID == "" {
		sub.ID = uuid.NewString()
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to begin transaction", err)
	}
	defer tx.Rollback(ctx)

	// Serialize writers per organization for the duration of the transaction.
	if _, err := tx.Exec(ctx,
		`SELECT pg_advisory_xact_lock(hashtext($1))`,
		sub.OrganizationID,
	); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to acquire subscription lock", err)
	}

	row := tx.QueryRow(ctx,
		`INSERT INTO subscriptions (id, organization_id, processor_subscription_id, processor_customer_id,
		                            plan_id, status, trial_end, current_period_start, current_period_end,
		                            cancel_at_period_end, metadata, version)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, FALSE, $10, 1)
		 ON CONFLICT (organization_id) DO UPDATE
		 SET processor_subscription_id = EXCLUDED.processor_subscription_id,
		     processor_customer_id = EXCLUDED.processor_customer_id,
		     plan_id = EXCLUDED.plan_id,
		     status = EXCLUDED.status,
		     trial_end = EXCLUDED.trial_end,
		     current_period_start = EXCLUDED.current_period_start,
		     current_period_end = EXCLUDED.current_period_end,
		     cancel_at_period_end = FALSE,
		     metadata = EXCLUDED.metadata,
		     version = subscriptions.version + 1,
		     updated_at = NOW()
		 RETURNING `+subscriptionColumns,
		sub.ID, sub.OrganizationID, sub.ProcessorSubscription, sub.ProcessorCustomer,
		sub.PlanID, sub.Status, sub.TrialEnd, sub.CurrentPeriodStart, sub.CurrentPeriodEnd,
		sub.Metadata,
	)

	saved, err := scanSubscription(row, sub.OrganizationID)
	if err != nil {
		return nil, err
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to commit subscription upsert", err)
	}
	return saved, nil
}

// GetByOrganization returns the organization's subscription record.
func (r *SubscriptionRepo) GetByOrganization(ctx context.Context, orgID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE organization_id = $1`,
		orgID,
	)
	return scanSubscription(row, orgID)
}

// GetByID returns the subscription with the given local ID.
func (r *SubscriptionRepo) GetByID(ctx context.Context, id string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE id = $1`,
		id,
	)
	return scanSubscription(row, id)
}

// GetByProcessorID returns the subscription mirroring the given processor
// subscription ID. Webhook handlers resolve events through this.
func (r *SubscriptionRepo) GetByProcessorID(ctx context.Context, processorSubID string) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`SELECT `+subscriptionColumns+` FROM subscriptions WHERE processor_subscription_id = $1`,
		processorSubID,
	)
	return scanSubscription(row, processorSubID)
}

// UpdateFields rewrites the mutable lifecycle fields of the subscription
// identified by its local ID. Used by plan changes and cancel/reactivate,
// which operate on an already-resolved row.
func (r *SubscriptionRepo) UpdateFields(
	ctx context.Context,
	id string,
	planID string,
	status types.SubscriptionStatus,
	cancelAtPeriodEnd bool,
	metadata types.SubscriptionMetadata,
) (*types.Subscription, error) {
	row := r.db.QueryRow(ctx,
		`UPDATE subscriptions
		 SET plan_id = $1,
		     status = $2,
		     cancel_at_period_end = $3,
		     metadata = $4,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE id = $5
		 RETURNING `+subscriptionColumns,
		planID, status, cancelAtPeriodEnd, metadata, id,
	)
	return scanSubscription(row, id)
}

// SyncFromProcessor mirrors processor-reported subscription state delivered by
// a webhook. Events older than the newest one already applied are ignored.
func (r *SubscriptionRepo) SyncFromProcessor(
	ctx context.Context,
	processorSubID string,
	status types.SubscriptionStatus,
	cancelAtPeriodEnd bool,
	periodStart, periodEnd *time.Time,
	eventTime time.Time,
) error {
	tag, err := r.db.Exec(ctx,
		`UPDATE subscriptions
		 SET status = $1,
		     cancel_at_period_end = $2,
		     current_period_start = COALESCE($3, current_period_start),
		     current_period_end = COALESCE($4, current_period_end),
		     last_event_at = $5,
		     version = version + 1,
		     updated_at = NOW()
		 WHERE processor_subscription_id = $6
		   AND (last_event_at IS NULL OR last_event_at < $5)`,
		status, cancelAtPeriodEnd, periodStart, periodEnd, eventTime, processorSubID,
	)
	if err != nil {
		return types.NewAppError(types.ErrCodeInternalDB, "failed to sync subscription status", err)
	}

	if tag.RowsAffected() == 0 {
		// Either the subscription is unknown or the event is stale. Check
		// which so unknown subscriptions surface as an error while stale
		// events stay an idempotent no-op.
		var exists bool
		if err := r.db.QueryRow(ctx,
			`SELECT EXISTS (SELECT 1 FROM subscriptions WHERE processor_subscription_id = $1)`,
			processorSubID,
		).Scan(&exists); err != nil {
			return types.NewAppError(types.ErrCodeInternalDB, "failed to check subscription existence", err)
		}
		if !exists {
			return types.NewAppError(
				types.ErrCodeNotFoundSubscription,
				fmt.Sprintf("no subscription mirrors processor subscription %s", processorSubID),
				nil,
			)
		}
		r.logger.InfoContext(ctx, "stale subscription event ignored",
			slog.String("processor_subscription_id", processorSubID),
			slog.Time("event_time", eventTime),
		)
	}

	return nil
}

func scanSubscription(row pgx.Row, key string) (*types.Subscription, error) {
	var s types.Subscription
	err := row.Scan(&s.ID, &s.OrganizationID, &s.ProcessorSubscription, &s.ProcessorCustomer,
		&s.PlanID, &s.Status, &s.TrialEnd, &s.CurrentPeriodStart, &s.CurrentPeriodEnd,
		&s.CancelAtPeriodEnd, &s.Metadata, &s.Version, &s.CreatedAt, &s.UpdatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, types.NewAppError(
				types.ErrCodeNotFoundSubscription,
				fmt.Sprintf("subscription %s not found", key),
				nil,
			)
		}
		return nil, types.NewAppError(types.ErrCodeInternalDB, "failed to fetch subscription", err)
	}
	return &s, nil
}
