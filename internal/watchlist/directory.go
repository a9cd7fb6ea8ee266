package watchlist

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

// DirectoryClient fetches the current address set from the external
// directory service. The directory is advisory: callers keep their
// last-known-good set when a fetch fails.
type DirectoryClient struct {
	baseURL    string
	httpClient *http.Client
	limiter    *rate.Limiter
}

// NewDirectoryClient builds a client for the directory endpoint. The
// timeout floor is 10s; shorter values are raised to it.
func NewDirectoryClient(baseURL string, timeout time.Duration, requestsPerSec float64) *DirectoryClient {
	if timeout < 10*time.Second {
		timeout = 10 * time.Second
	}
	if requestsPerSec <= 0 {
		requestsPerSec = 2
	}
	burst := int(requestsPerSec)
	if burst < 1 {
		burst = 1
	}
	return &DirectoryClient{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: &http.Client{Timeout: timeout},
		limiter:    rate.NewLimiter(rate.Limit(requestsPerSec), burst),
	}
}

type directoryEntry struct {
	Address string `json:"address"`
	Type    string `json:"type"`
	UserID  string `json:"user_id"`
}

type directoryResponse struct {
	Addresses []directoryEntry `json:"addresses"`
	Total     int              `json:"total"`
	Timestamp int64            `json:"timestamp"`
}

// FetchAddresses returns the directory's current watched addresses.
func (c *DirectoryClient) FetchAddresses(ctx context.Context) ([]model.WatchedAddress, error) {
	if err := c.limiter.Wait(ctx); err != nil {
		return nil, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+"/addresses", nil)
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch addresses: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("directory status %d", resp.StatusCode)
	}

	var payload directoryResponse
	if err := json.NewDecoder(resp.Body).Decode(&payload); err != nil {
		return nil, fmt.Errorf("decode directory response: %w", err)
	}

	seenAt := time.Unix(payload.Timestamp, 0).UTC()
	if payload.Timestamp == 0 {
		seenAt = time.Now().UTC()
	}

	addresses := make([]model.WatchedAddress, 0, len(payload.Addresses))
	for _, entry := range payload.Addresses {
		address := strings.TrimSpace(entry.Address)
		if address == "" {
			continue
		}
		addresses = append(addresses, model.WatchedAddress{
			Address:    address,
			Kind:       parseAddressKind(entry.Type),
			LastSeenAt: seenAt,
		})
	}
	return addresses, nil
}

func parseAddressKind(value string) model.AddressKind {
	switch strings.ToUpper(strings.TrimSpace(value)) {
	case "SMART_WALLET":
		return model.AddressSmartWallet
	default:
		return model.AddressLeader
	}
}
