package watchlist

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

func TestDirectoryClientFetchAddresses(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "/addresses", r.URL.Path)
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"addresses": [
				{"address": "0x0000000000000000000000000000000000000001", "type": "LEADER", "user_id": "u1"},
				{"address": "0x0000000000000000000000000000000000000002", "type": "SMART_WALLET", "user_id": "u2"},
				{"address": "  ", "type": "LEADER", "user_id": "u3"}
			],
			"total": 3,
			"timestamp": 1756700000
		}`))
	}))
	defer server.Close()

	client := NewDirectoryClient(server.URL, 0, 100)

	addresses, err := client.FetchAddresses(context.Background())
	require.NoError(t, err)
	require.Len(t, addresses, 2)
	require.Equal(t, model.AddressLeader, addresses[0].Kind)
	require.Equal(t, model.AddressSmartWallet, addresses[1].Kind)
	require.False(t, addresses[0].LastSeenAt.IsZero())
}

func TestDirectoryClientErrorStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusInternalServerError)
	}))
	defer server.Close()

	client := NewDirectoryClient(server.URL, 0, 100)

	_, err := client.FetchAddresses(context.Background())
	require.Error(t, err)
}
