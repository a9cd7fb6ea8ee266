package marketdata

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

func TestAPIClientFetchPrice(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/markets/42/price", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{"market_id":"42","best_bid":"0.55","best_ask":"0.57","outcome_prices":["0.56","0.44"]}`))
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, 100)

	snapshot, err := client.FetchPrice(context.Background(), "42")
	require.NoError(t, err)
	require.Equal(t, model.SourceAPI, snapshot.Source)
	require.Equal(t, "0.55", snapshot.BestBid.String())
	require.Equal(t, "0.57", snapshot.BestAsk.String())
	require.Equal(t, "0.56", snapshot.Mid.String())
	require.Len(t, snapshot.OutcomePrices, 2)
	require.False(t, snapshot.UpdatedAt.IsZero())
}

func TestAPIClientRejectsBadPayload(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Write([]byte(`{"market_id":"42","best_bid":"not a number","best_ask":"0.57"}`))
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, 100)

	_, err := client.FetchPrice(context.Background(), "42")
	require.Error(t, err)
}

func TestAPIClientErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	client := NewAPIClient(server.URL, 100)

	_, err := client.FetchPrice(context.Background(), "42")
	require.Error(t, err)
}

func TestParsePrice(t *testing.T) {
	price, err := parsePrice(" 0.55 ")
	require.NoError(t, err)
	require.Equal(t, "0.55", price.String())

	_, err = parsePrice("")
	require.Error(t, err)

	_, err = parsePrice("abc")
	require.Error(t, err)
}
