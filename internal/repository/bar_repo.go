package repository

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/algomatic/decision-service/pkg/types"
)

// BarRepo reads OHLCV windows from the market-data tables.
type BarRepo struct {
	pool   *pgxpool.Pool
	logger *slog.Logger
}

// NewBarRepo creates a new BarRepo.
func NewBarRepo(pool *pgxpool.Pool, logger *slog.Logger) *BarRepo {
	return &BarRepo{pool: pool, logger: logger}
}

// RecentBars returns the newest `limit` bars for a symbol and
// timeframe, oldest first.
func (r *BarRepo) RecentBars(ctx context.Context, symbol string, timeframe types.Timeframe, limit int) ([]types.PriceBar, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT ts, open, high, low, close, volume
		FROM (
			SELECT ts, open, high, low, close, volume
			FROM ohlcv_bars
			WHERE symbol = $1 AND timeframe = $2
			ORDER BY ts DESC
			LIMIT $3
		) recent
		ORDER BY ts ASC
	`, symbol, string(timeframe), limit)
	if err != nil {
		return nil, fmt.Errorf("querying bars for %s/%s: %w", symbol, timeframe, err)
	}
	defer rows.Close()

	var bars []types.PriceBar
	for rows.Next() {
		var b types.PriceBar
		if err := rows.Scan(&b.Timestamp, &b.Open, &b.High, &b.Low, &b.Close, &b.Volume); err != nil {
			return nil, fmt.Errorf("scanning bar row: %w", err)
		}
		bars = append(bars, b)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating bar rows: %w", err)
	}
	return bars, nil
}
