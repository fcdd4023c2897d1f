package risk

import (
	"github.com/shopspring/decimal"

	"github.com/algomatic/decision-service/pkg/types"
)

// Position is an open holding as reported by the account aggregator.
type Position struct {
	Symbol     string
	AssetClass types.AssetClass
	Side       types.Direction
	Quantity   decimal.Decimal
	EntryPrice decimal.Decimal
	// MarketValue is the absolute notional at the latest mark.
	MarketValue decimal.Decimal
}

// Exposure breaks current notional down by asset class.
type Exposure struct {
	Total    decimal.Decimal
	Futures  decimal.Decimal
	Equities decimal.Decimal
}

// AccountSnapshot is a point-in-time view of everything the risk checks
// need, merged across funding sources by the aggregator.
type AccountSnapshot struct {
	TotalEquity      decimal.Decimal
	TotalCash        decimal.Decimal
	TotalBuyingPower decimal.Decimal

	Positions []Position
	Exposure  Exposure

	RealizedPnL   decimal.Decimal
	UnrealizedPnL decimal.Decimal

	// PatternDayTrader marks accounts subject to day-trade quotas.
	PatternDayTrader bool

	// Warnings carries aggregator degradation notes (an unreachable
	// source, stale marks). They pass through to evaluation results.
	Warnings []string
}

// ComputeExposure rebuilds the exposure rollup from the position list.
func ComputeExposure(positions []Position) Exposure {
	var e Exposure
	for _, p := range positions {
		e.Total = e.Total.Add(p.MarketValue)
		switch p.AssetClass {
		case types.AssetFutures:
			e.Futures = e.Futures.Add(p.MarketValue)
		case types.AssetEquities:
			e.Equities = e.Equities.Add(p.MarketValue)
		}
	}
	return e
}
