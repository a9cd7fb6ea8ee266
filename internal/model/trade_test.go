package model

import "testing"

func TestTradeID(t *testing.T) {
	txHash := "0xabc"

	single := TradeID(txHash, 12, -1)
	if single != "0xabc:12" {
		t.Fatalf("single id mismatch: %s", single)
	}

	first := TradeID(txHash, 12, 0)
	second := TradeID(txHash, 12, 1)
	if first != "0xabc:12:0" || second != "0xabc:12:1" {
		t.Fatalf("batch id mismatch: %s, %s", first, second)
	}
	if first == second {
		t.Fatalf("batch entries must have distinct ids")
	}
	if single == first {
		t.Fatalf("single and batch ids must not collide")
	}
}

func TestTradeIDDeterministic(t *testing.T) {
	a := TradeID("0xdef", 3, 2)
	b := TradeID("0xdef", 3, 2)
	if a != b {
		t.Fatalf("same coordinates must yield the same id: %s != %s", a, b)
	}
}
