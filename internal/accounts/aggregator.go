// Package accounts merges account state from the upstream funding
// sources into a single snapshot for risk evaluation. A source that
// fails to answer contributes zero and a warning rather than failing
// the whole snapshot; the risk checks then run against the reduced
// equity, which errs on the conservative side.
package accounts

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/algomatic/decision-service/pkg/risk"
)

// SourceSnapshot is one funding source's contribution.
type SourceSnapshot struct {
	Equity           float64         `json:"equity"`
	Cash             float64         `json:"cash"`
	BuyingPower      float64         `json:"buying_power"`
	Positions        []SourcePosition `json:"positions"`
	PatternDayTrader bool            `json:"pattern_day_trader"`
}

// SourcePosition is an open holding as reported by a source.
type SourcePosition struct {
	Symbol      string  `json:"symbol"`
	AssetClass  string  `json:"asset_class"`
	Side        string  `json:"side"`
	Quantity    float64 `json:"quantity"`
	EntryPrice  float64 `json:"entry_price"`
	MarketValue float64 `json:"market_value"`
}

// Source fetches account state from one upstream.
type Source interface {
	Name() string
	Fetch(ctx context.Context) (SourceSnapshot, error)
}

// Aggregator fans out to every source concurrently and merges the
// answers.
type Aggregator struct {
	sources []Source
	timeout time.Duration
	logger  *slog.Logger
}

// NewAggregator creates an aggregator over the given sources.
func NewAggregator(sources []Source, timeout time.Duration, logger *slog.Logger) *Aggregator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Aggregator{sources: sources, timeout: timeout, logger: logger}
}

// Snapshot fetches and merges all sources. It only fails outright when
// every source fails; partial answers come back with warnings.
func (a *Aggregator) Snapshot(ctx context.Context) (risk.AccountSnapshot, error) {
	ctx, cancel := context.WithTimeout(ctx, a.timeout)
	defer cancel()

	type result struct {
		name string
		snap SourceSnapshot
		err  error
	}

	results := make([]result, len(a.sources))
	var wg sync.WaitGroup
	for i, src := range a.sources {
		wg.Add(1)
		go func(i int, src Source) {
			defer wg.Done()
			snap, err := src.Fetch(ctx)
			results[i] = result{name: src.Name(), snap: snap, err: err}
		}(i, src)
	}
	wg.Wait()

	merged := risk.AccountSnapshot{}
	failures := 0
	for _, res := range results {
		if res.err != nil {
			failures++
			warning := fmt.Sprintf("account source %s unavailable: %v", res.name, res.err)
			merged.Warnings = append(merged.Warnings, warning)
			a.logger.Warn("Account source failed", "source", res.name, "error", res.err)
			continue
		}
		mergeSource(&merged, res.snap)
	}

	if failures == len(a.sources) {
		return risk.AccountSnapshot{}, fmt.Errorf("all %d account sources failed", failures)
	}

	merged.Exposure = risk.ComputeExposure(merged.Positions)
	return merged, nil
}

func mergeSource(into *risk.AccountSnapshot, snap SourceSnapshot) {
	into.TotalEquity = into.TotalEquity.Add(dec(snap.Equity))
	into.TotalCash = into.TotalCash.Add(dec(snap.Cash))
	into.TotalBuyingPower = into.TotalBuyingPower.Add(dec(snap.BuyingPower))
	if snap.PatternDayTrader {
		into.PatternDayTrader = true
	}
	for _, p := range snap.Positions {
		into.Positions = append(into.Positions, convertPosition(p))
	}
}
