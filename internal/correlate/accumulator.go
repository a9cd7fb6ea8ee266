package correlate

import (
	"strings"

	"github.com/shopspring/decimal"

	"github.com/skudskud/polycool-copy-sub003/internal/model"
)

// stablecoin legs carry 6 decimal places on chain.
const usdcDecimals = 6

// flowKey scopes an accumulated stablecoin flow to one address inside
// one transaction.
type flowKey struct {
	TxHash  string
	Address string
}

// Flow is the running stablecoin total for one (tx, address) pair.
// Sent and Received accumulate separately; Total combines both for
// diagnostics. A single transaction can order its transfer logs
// arbitrarily, which is why the whole block is accumulated before any
// correlation happens.
type Flow struct {
	Sent     decimal.Decimal
	Received decimal.Decimal
	Total    decimal.Decimal
}

// FlowSet accumulates stablecoin transfers for one block pass.
type FlowSet struct {
	flows map[flowKey]*Flow
}

func NewFlowSet() *FlowSet {
	return &FlowSet{flows: make(map[flowKey]*Flow)}
}

// Add records a stablecoin transfer against both of its parties.
func (s *FlowSet) Add(transfer model.StablecoinTransfer) {
	amount := decimal.NewFromBigInt(transfer.Amount, -usdcDecimals)

	sent := s.flow(transfer.TxHash, transfer.From)
	sent.Sent = sent.Sent.Add(amount)
	sent.Total = sent.Total.Add(amount)

	received := s.flow(transfer.TxHash, transfer.To)
	received.Received = received.Received.Add(amount)
	received.Total = received.Total.Add(amount)
}

// Lookup returns the accumulated flow for (txHash, address), or nil.
func (s *FlowSet) Lookup(txHash, address string) *Flow {
	return s.flows[flowKey{TxHash: txHash, Address: normalizeAddress(address)}]
}

// Len returns the number of (tx, address) pairs accumulated.
func (s *FlowSet) Len() int {
	return len(s.flows)
}

func (s *FlowSet) flow(txHash, address string) *Flow {
	key := flowKey{TxHash: txHash, Address: normalizeAddress(address)}
	f := s.flows[key]
	if f == nil {
		f = &Flow{}
		s.flows[key] = f
	}
	return f
}

func normalizeAddress(address string) string {
	return strings.ToLower(address)
}
