package repository

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/algomatic/decision-service/pkg/risk"
)

// ErrVersionConflict is returned when a save loses an optimistic
// concurrency race. The caller should reload and retry.
var ErrVersionConflict = errors.New("risk state version conflict")

// RiskStateRepo persists the singleton risk ledger per account. Writes
// are version-checked so an unserialized concurrent writer fails
// instead of silently clobbering state.
type RiskStateRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewRiskStateRepo creates a new RiskStateRepo.
func NewRiskStateRepo(pool *pgxpool.Pool, logger *slog.Logger) *RiskStateRepo {
	return &RiskStateRepo{pool: pool, logger: logger}
}

// Load fetches the ledger for an account. A missing row seeds a fresh
// ledger from the given starting equity and persists it.
func (r *RiskStateRepo) Load(ctx context.Context, accountID string, startingEquity string, now time.Time) (*risk.State, error) {
	s := &risk.State{}
	var breakerType string
	err := r.pool.QueryRow(ctx, `
		SELECT current_equity, peak_equity, start_of_day_equity, start_of_week_equity,
		       daily_pnl, daily_pnl_percent, weekly_pnl, weekly_pnl_percent,
		       max_drawdown, max_drawdown_percent,
		       consecutive_losses, consecutive_wins,
		       breaker_triggered, breaker_type, breaker_reason, breaker_until,
		       day_trades_used, day_trades_remaining,
		       version, updated_at
		FROM risk_states
		WHERE account_id = $1
	`, accountID).Scan(
		&s.CurrentEquity, &s.PeakEquity, &s.StartOfDayEquity, &s.StartOfWeekEquity,
		&s.DailyPnL, &s.DailyPnLPercent, &s.WeeklyPnL, &s.WeeklyPnLPercent,
		&s.MaxDrawdown, &s.MaxDrawdownPercent,
		&s.ConsecutiveLosses, &s.ConsecutiveWins,
		&s.CircuitBreakerTriggered, &breakerType, &s.CircuitBreakerReason, &s.CircuitBreakerUntil,
		&s.DayTradesUsed, &s.DayTradesRemaining,
		&s.Version, &s.LastUpdated,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return r.seed(ctx, accountID, startingEquity, now)
	}
	if err != nil {
		return nil, fmt.Errorf("loading risk state for %s: %w", accountID, err)
	}
	s.CircuitBreakerType = risk.BreakerType(breakerType)
	return s, nil
}

// Save writes the ledger back, failing with ErrVersionConflict when
// another writer got there first. On success the in-memory version is
// advanced to match the row.
func (r *RiskStateRepo) Save(ctx context.Context, accountID string, s *risk.State) error {
	tag, err := r.pool.Exec(ctx, `
		UPDATE risk_states SET
			current_equity = $3, peak_equity = $4,
			start_of_day_equity = $5, start_of_week_equity = $6,
			daily_pnl = $7, daily_pnl_percent = $8,
			weekly_pnl = $9, weekly_pnl_percent = $10,
			max_drawdown = $11, max_drawdown_percent = $12,
			consecutive_losses = $13, consecutive_wins = $14,
			breaker_triggered = $15, breaker_type = $16,
			breaker_reason = $17, breaker_until = $18,
			day_trades_used = $19, day_trades_remaining = $20,
			version = version + 1, updated_at = $21
		WHERE account_id = $1 AND version = $2
	`,
		accountID, s.Version,
		s.CurrentEquity, s.PeakEquity,
		s.StartOfDayEquity, s.StartOfWeekEquity,
		s.DailyPnL, s.DailyPnLPercent,
		s.WeeklyPnL, s.WeeklyPnLPercent,
		s.MaxDrawdown, s.MaxDrawdownPercent,
		s.ConsecutiveLosses, s.ConsecutiveWins,
		s.CircuitBreakerTriggered, string(s.CircuitBreakerType),
		s.CircuitBreakerReason, s.CircuitBreakerUntil,
		s.DayTradesUsed, s.DayTradesRemaining,
		s.LastUpdated,
	)
	if err != nil {
		return fmt.Errorf("saving risk state for %s: %w", accountID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("saving risk state for %s: %w", accountID, ErrVersionConflict)
	}
	s.Version++
	return nil
}

func (r *RiskStateRepo) seed(ctx context.Context, accountID string, startingEquity string, now time.Time) (*risk.State, error) {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO risk_states (
			account_id, current_equity, peak_equity,
			start_of_day_equity, start_of_week_equity,
			daily_pnl, daily_pnl_percent, weekly_pnl, weekly_pnl_percent,
			max_drawdown, max_drawdown_percent,
			consecutive_losses, consecutive_wins,
			breaker_triggered, breaker_type, breaker_reason, breaker_until,
			day_trades_used, day_trades_remaining,
			version, updated_at
		) VALUES ($1, $2, $2, $2, $2, 0, 0, 0, 0, 0, 0, 0, 0, false, '', '', NULL, 0, 3, 0, $3)
		ON CONFLICT (account_id) DO NOTHING
	`, accountID, startingEquity, now)
	if err != nil {
		return nil, fmt.Errorf("seeding risk state for %s: %w", accountID, err)
	}

	r.logger.Info("Seeded risk state", "account_id", accountID, "starting_equity", startingEquity)
	return r.Load(ctx, accountID, startingEquity, now)
}
