// Package db owns the PostgreSQL pool shared by the repositories.
package db

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
)

// Connections are recycled well inside typical LB/firewall idle limits;
// the evaluation cadence never needs long-lived sessions.
const (
	connLifetime = 30 * time.Minute
	connIdleTime = 5 * time.Minute
)

// NewPool opens the pgx pool backing the signal, evaluation and
// risk-state repositories, failing fast when the database is
// unreachable rather than at the first evaluation cycle.
func NewPool(ctx context.Context, connStr string, maxConns, minConns int32, logger *slog.Logger) (*pgxpool.Pool, error) {
	config, err := pgxpool.ParseConfig(connStr)
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	config.MaxConns = maxConns
	config.MinConns = minConns
	config.MaxConnLifetime = connLifetime
	config.MaxConnIdleTime = connIdleTime

	pool, err := pgxpool.NewWithConfig(ctx, config)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	logger.Info("Connected to PostgreSQL",
		"max_conns", maxConns,
		"min_conns", minConns,
	)

	return pool, nil
}
