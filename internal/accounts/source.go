package accounts

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/shopspring/decimal"

	"github.com/algomatic/decision-service/pkg/risk"
	"github.com/algomatic/decision-service/pkg/types"
)

// HTTPSource pulls a SourceSnapshot from a broker-gateway endpoint.
type HTTPSource struct {
	name       string
	url        string
	httpClient *http.Client
}

// NewHTTPSource creates a source for the given gateway URL.
func NewHTTPSource(name, url string) *HTTPSource {
	return &HTTPSource{
		name: name,
		url:  url,
		httpClient: &http.Client{
			Timeout: 15 * time.Second,
		},
	}
}

// Name identifies the source in warnings and logs.
func (s *HTTPSource) Name() string { return s.name }

// Fetch retrieves and decodes the account snapshot.
func (s *HTTPSource) Fetch(ctx context.Context) (SourceSnapshot, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.url, nil)
	if err != nil {
		return SourceSnapshot{}, fmt.Errorf("building request: %w", err)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return SourceSnapshot{}, fmt.Errorf("fetching account from %s: %w", s.url, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return SourceSnapshot{}, fmt.Errorf("account endpoint returned %d: %s", resp.StatusCode, body)
	}

	var snap SourceSnapshot
	if err := json.NewDecoder(resp.Body).Decode(&snap); err != nil {
		return SourceSnapshot{}, fmt.Errorf("decoding account snapshot: %w", err)
	}
	return snap, nil
}

func convertPosition(p SourcePosition) risk.Position {
	return risk.Position{
		Symbol:      p.Symbol,
		AssetClass:  types.AssetClass(p.AssetClass),
		Side:        types.Direction(p.Side),
		Quantity:    dec(p.Quantity),
		EntryPrice:  dec(p.EntryPrice),
		MarketValue: dec(p.MarketValue),
	}
}

func dec(v float64) decimal.Decimal { return decimal.NewFromFloat(v) }
