// Package trailing maintains ratcheting protective stops for open
// positions. Stops only ever tighten: a long stop moves up, a short
// stop moves down, and any candidate that would loosen the stop is
// discarded.
package trailing

import (
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/algomatic/decision-service/pkg/types"
)

// Config controls trail behaviour. Every field is validated at
// construction and on UpdateConfig; there is no silent correction.
type Config struct {
	// TrailPercent is the stop distance from the current price.
	TrailPercent float64
	// ActivationPercent is the favorable move required before the
	// trail engages. Zero activates immediately.
	ActivationPercent float64
	// MinTrailPercent is the floor TrailPercent may be reconfigured to.
	MinTrailPercent float64
	// UpdateIntervalSeconds is the cadence the owner should call
	// UpdateStops at.
	UpdateIntervalSeconds int
}

// Validate rejects unusable trail parameters.
func (c Config) Validate() error {
	if c.TrailPercent <= 0 {
		return fmt.Errorf("trail_percent must be > 0, got %v", c.TrailPercent)
	}
	if c.ActivationPercent < 0 {
		return fmt.Errorf("activation_percent must be >= 0, got %v", c.ActivationPercent)
	}
	if c.MinTrailPercent <= 0 {
		return fmt.Errorf("min_trail_percent must be > 0, got %v", c.MinTrailPercent)
	}
	if c.TrailPercent < c.MinTrailPercent {
		return fmt.Errorf("trail_percent %v below min_trail_percent %v",
			c.TrailPercent, c.MinTrailPercent)
	}
	if c.UpdateIntervalSeconds <= 0 {
		return fmt.Errorf("update_interval_seconds must be > 0, got %d", c.UpdateIntervalSeconds)
	}
	return nil
}

// Entry is the tracked state for one position.
type Entry struct {
	PositionID  string
	Symbol      string
	Side        types.Direction
	EntryPrice  float64
	CurrentStop float64
	Activated   bool
	UpdatedAt   time.Time
}

// Manager tracks trailing stops for a set of open positions. Safe for
// concurrent use.
type Manager struct {
	mu      sync.Mutex
	cfg     Config
	entries map[string]*Entry
	logger  *slog.Logger
}

// NewManager validates the configuration and returns an empty manager.
func NewManager(cfg Config, logger *slog.Logger) (*Manager, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("validating trailing config: %w", err)
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Manager{
		cfg:     cfg,
		entries: make(map[string]*Entry),
		logger:  logger,
	}, nil
}

// UpdateConfig swaps the trail parameters. Invalid parameters leave
// the existing configuration untouched.
func (m *Manager) UpdateConfig(cfg Config) error {
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating trailing config: %w", err)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cfg = cfg
	return nil
}

// Config returns the active trail parameters.
func (m *Manager) Config() Config {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.cfg
}

// AddPosition starts tracking a position with its initial protective
// stop. The trail stays dormant until the activation threshold is met.
func (m *Manager) AddPosition(positionID, symbol string, side types.Direction, entryPrice, initialStop float64) error {
	if positionID == "" {
		return fmt.Errorf("empty position id")
	}
	if side != types.Long && side != types.Short {
		return fmt.Errorf("side must be long or short, got %q", side)
	}
	if entryPrice <= 0 {
		return fmt.Errorf("entry price must be > 0, got %v", entryPrice)
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries[positionID] = &Entry{
		PositionID:  positionID,
		Symbol:      symbol,
		Side:        side,
		EntryPrice:  entryPrice,
		CurrentStop: initialStop,
		UpdatedAt:   time.Now(),
	}
	m.logger.Debug("tracking trailing stop",
		"position_id", positionID, "symbol", symbol, "side", string(side),
		"entry", entryPrice, "initial_stop", initialStop)
	return nil
}

// RemovePosition stops tracking a position. Unknown ids are a no-op.
func (m *Manager) RemovePosition(positionID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.entries, positionID)
}

// UpdateStops folds fresh prices into every tracked position and
// returns the ids whose stop actually moved. Positions without a
// usable price this round are skipped unchanged.
func (m *Manager) UpdateStops(prices map[string]float64) []string {
	m.mu.Lock()
	defer m.mu.Unlock()

	var changed []string
	now := time.Now()
	for id, e := range m.entries {
		price, ok := prices[e.Symbol]
		if !ok || price <= 0 {
			continue
		}

		move := favorableMovePercent(e.Side, e.EntryPrice, price)
		if !e.Activated {
			if move < m.cfg.ActivationPercent {
				continue
			}
			e.Activated = true
			e.CurrentStop = m.stopFrom(price, e.Side)
			e.UpdatedAt = now
			changed = append(changed, id)
			m.logger.Debug("trailing stop activated",
				"position_id", id, "symbol", e.Symbol, "stop", e.CurrentStop)
			continue
		}

		candidate := m.stopFrom(price, e.Side)
		if tightens(e.Side, e.CurrentStop, candidate) {
			e.CurrentStop = candidate
			e.UpdatedAt = now
			changed = append(changed, id)
		}
	}
	return changed
}

// CheckTrigger reports whether the price has crossed the stop. Unknown
// positions never trigger.
func (m *Manager) CheckTrigger(positionID string, price float64) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[positionID]
	if !ok {
		return false
	}
	if e.Side == types.Long {
		return price <= e.CurrentStop
	}
	return price >= e.CurrentStop
}

// GetStopLevel returns the current stop for a position, or false if it
// is not tracked.
func (m *Manager) GetStopLevel(positionID string) (float64, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	e, ok := m.entries[positionID]
	if !ok {
		return 0, false
	}
	return e.CurrentStop, true
}

// GetAllStops returns a snapshot of every tracked entry.
func (m *Manager) GetAllStops() map[string]Entry {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make(map[string]Entry, len(m.entries))
	for id, e := range m.entries {
		out[id] = *e
	}
	return out
}

func (m *Manager) stopFrom(price float64, side types.Direction) float64 {
	if side == types.Long {
		return price * (1 - m.cfg.TrailPercent/100)
	}
	return price * (1 + m.cfg.TrailPercent/100)
}

func favorableMovePercent(side types.Direction, entry, price float64) float64 {
	if side == types.Long {
		return (price - entry) / entry * 100
	}
	return (entry - price) / entry * 100
}

// tightens reports whether the candidate improves on the current stop:
// up for longs, down for shorts.
func tightens(side types.Direction, current, candidate float64) bool {
	if side == types.Long {
		return candidate > current
	}
	return candidate < current
}
