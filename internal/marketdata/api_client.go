package marketdata

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/shopspring/decimal"
	"golang.org/x/time/rate"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

// APIClient fetches authoritative market prices over HTTP. It is the
// slowest source and sits last in the aggregator's priority order, so
// requests are rate limited defensively.
type APIClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

func NewAPIClient(baseURL string, requestsPerSec float64) *APIClient {
	if requestsPerSec <= 0 {
		requestsPerSec = 5
	}
	burst := int(requestsPerSec)
	if burst < 1 {
		burst = 1
	}
	return &APIClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: 10 * time.Second},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSec), burst),
	}
}

type marketPriceResponse struct {
	MarketID      string   `json:"market_id"`
	BestBid       string   `json:"best_bid"`
	BestAsk       string   `json:"best_ask"`
	Mid           string   `json:"mid"`
	OutcomePrices []string `json:"outcome_prices"`
}

// FetchPrice queries the markets API for one market.
func (c *APIClient) FetchPrice(ctx context.Context, marketID string) (model.PriceSnapshot, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return model.PriceSnapshot{}, err
	}

	url := fmt.Sprintf("%s/markets/%s/price", c.baseURL, marketID)
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("fetch price: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return model.PriceSnapshot{}, fmt.Errorf("markets api status %d", resp.StatusCode)
	}

	var payload marketPriceResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("decode price response: %w", err)
	}

	return buildSnapshot(marketID, payload)
}

func buildSnapshot(marketID string, payload marketPriceResponse) (model.PriceSnapshot, error) {
	bid, err := parsePrice(payload.BestBid)
	if err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("best_bid: %w", err)
	}
	ask, err := parsePrice(payload.BestAsk)
	if err != nil {
		return model.PriceSnapshot{}, fmt.Errorf("best_ask: %w", err)
	}

	mid := bid.Add(ask).Div(decimal.NewFromInt(2))
	if payload.Mid != "" {
		mid, err = parsePrice(payload.Mid)
		if err != nil {
			return model.PriceSnapshot{}, fmt.Errorf("mid: %w", err)
		}
	}

	outcomes := make([]decimal.Decimal, 0, len(payload.OutcomePrices))
	for i, raw := range payload.OutcomePrices {
		price, err := parsePrice(raw)
		if err != nil {
			return model.PriceSnapshot{}, fmt.Errorf("outcome_prices[%d]: %w", i, err)
		}
		outcomes = append(outcomes, price)
	}

	return model.PriceSnapshot{
		MarketID:      marketID,
		Source:        model.SourceAPI,
		BestBid:       bid,
		BestAsk:       ask,
		Mid:           mid,
		OutcomePrices: outcomes,
		UpdatedAt:     time.Now().UTC(),
	}, nil
}

// parsePrice is the single strict normalization step for price fields:
// a decimal string parses or the whole payload is rejected, no
// per-call-site string surgery.
func parsePrice(raw string) (decimal.Decimal, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return decimal.Decimal{}, fmt.Errorf("empty price")
	}
	price, err := decimal.NewFromString(trimmed)
	if err != nil {
		return decimal.Decimal{}, fmt.Errorf("parse %q: %w", raw, err)
	}
	return price, nil
}
