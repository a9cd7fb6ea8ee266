package model

import "time"

// AddressKind is the directory's classification of a watched address.
type AddressKind string

const (
	AddressLeader      AddressKind = "LEADER"
	AddressSmartWallet AddressKind = "SMART_WALLET"
)

// WatchedAddress is an address the directory flagged for ingestion.
// Entries are created by the external directory and only read here.
type WatchedAddress struct {
	Address    string
	Kind       AddressKind
	LastSeenAt time.Time
}

// WatchedMarket tracks a market with open copy positions. It is created
// on the first trade against a market and pruned once the market
// resolves or the last dependent position closes.
type WatchedMarket struct {
	MarketID            string
	ConditionID         string
	ActivePositionCount int
	LastPositionAt      time.Time
}
