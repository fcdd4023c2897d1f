package repository

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/algomatic/decision-service/pkg/risk"
)

// EvaluationRepo stores the audit trail of admission decisions.
type EvaluationRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewEvaluationRepo creates a new EvaluationRepo.
func NewEvaluationRepo(pool *pgxpool.Pool, logger *slog.Logger) *EvaluationRepo {
	return &EvaluationRepo{pool: pool, logger: logger}
}

// InsertEvaluation records one admission decision for a signal.
func (r *EvaluationRepo) InsertEvaluation(ctx context.Context, accountID, signalID string, ev risk.Evaluation, at time.Time) error {
	checks, err := json.Marshal(ev.Checks)
	if err != nil {
		return fmt.Errorf("marshalling checks: %w", err)
	}

	_, err = r.pool.Exec(ctx, `
		INSERT INTO risk_evaluations (
			account_id, signal_id, decision, reason, warnings, checks,
			quantity, order_value, evaluated_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
	`,
		accountID, signalID, string(ev.Decision), ev.Reason, ev.Warnings, checks,
		ev.Quantity, ev.OrderValue, at,
	)
	if err != nil {
		return fmt.Errorf("inserting evaluation for signal %s: %w", signalID, err)
	}

	r.logger.Debug("Stored risk evaluation",
		"account_id", accountID, "signal_id", signalID, "decision", string(ev.Decision),
	)
	return nil
}
