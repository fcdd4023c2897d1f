package repository

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/algomatic/decision-service/pkg/types"
)

// SignalRepo provides database access for generated signals.
type SignalRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewSignalRepo creates a new SignalRepo.
func NewSignalRepo(pool *pgxpool.Pool, logger *slog.Logger) *SignalRepo {
	return &SignalRepo{pool: pool, logger: logger}
}

// InsertSignal stores a generated signal with its audit trail. The
// indicator results are flattened to their summary strings.
func (r *SignalRepo) InsertSignal(ctx context.Context, s *types.Signal) error {
	indicators := make([]string, len(s.Indicators))
	for i, ind := range s.Indicators {
		indicators[i] = ind.Summary()
	}

	_, err := r.pool.Exec(ctx, `
		INSERT INTO signals (
			id, symbol, asset_class, timeframe, direction, strength,
			entry_price, stop_loss, take_profit, risk_reward_ratio,
			source, regime, reasons, indicators,
			generated_at, expires_at, status
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
	`,
		s.ID, s.Symbol, string(s.AssetClass), string(s.Timeframe), string(s.Direction), s.Strength,
		s.EntryPrice, s.StopLoss, s.TakeProfit, s.RiskRewardRatio,
		s.Source, string(s.Regime), s.Reasons, indicators,
		s.Timestamp, s.ExpiresAt, string(s.Status),
	)
	if err != nil {
		return fmt.Errorf("inserting signal %s: %w", s.ID, err)
	}

	r.logger.Info("Stored signal",
		"signal_id", s.ID, "symbol", s.Symbol, "direction", string(s.Direction),
		"strength", s.Strength, "source", s.Source,
	)
	return nil
}

// UpdateStatus records a lifecycle transition for a stored signal.
func (r *SignalRepo) UpdateStatus(ctx context.Context, id string, status types.SignalStatus) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE signals SET status = $2, updated_at = now() WHERE id = $1
	`, id, string(status))
	if err != nil {
		return fmt.Errorf("updating signal %s status: %w", id, err)
	}
	return nil
}

// ExpireStale marks every active signal past its expiry as expired and
// returns how many rows changed.
func (r *SignalRepo) ExpireStale(ctx context.Context, now time.Time) (int64, error) {
	tag, err := r.pool.Exec(ctx, `
		UPDATE signals SET status = 'expired', updated_at = now()
		WHERE status = 'active' AND expires_at < $1
	`, now)
	if err != nil {
		return 0, fmt.Errorf("expiring stale signals: %w", err)
	}
	return tag.RowsAffected(), nil
}

// ListActive returns active signals for a symbol ordered by strength.
func (r *SignalRepo) ListActive(ctx context.Context, symbol string) ([]types.Signal, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, symbol, asset_class, timeframe, direction, strength,
		       entry_price, stop_loss, take_profit, risk_reward_ratio,
		       source, regime, reasons, generated_at, expires_at, status
		FROM signals
		WHERE symbol = $1 AND status = 'active'
		ORDER BY strength DESC
	`, symbol)
	if err != nil {
		return nil, fmt.Errorf("listing active signals for %s: %w", symbol, err)
	}
	defer rows.Close()

	var out []types.Signal
	for rows.Next() {
		var s types.Signal
		var assetClass, timeframe, direction, regime, status string
		if err := rows.Scan(
			&s.ID, &s.Symbol, &assetClass, &timeframe, &direction, &s.Strength,
			&s.EntryPrice, &s.StopLoss, &s.TakeProfit, &s.RiskRewardRatio,
			&s.Source, &regime, &s.Reasons, &s.Timestamp, &s.ExpiresAt, &status,
		); err != nil {
			return nil, fmt.Errorf("scanning signal row: %w", err)
		}
		s.AssetClass = types.AssetClass(assetClass)
		s.Timeframe = types.Timeframe(timeframe)
		s.Direction = types.Direction(direction)
		s.Regime = types.MarketRegime(regime)
		s.Status = types.SignalStatus(status)
		out = append(out, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating signal rows: %w", err)
	}
	return out, nil
}
