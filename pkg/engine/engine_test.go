package engine

import (
	"testing"

	"github.com/ethereum/go-ethereum/common"
)

var (
	traderA = common.HexToHash("0xaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaaa")
	traderB = common.HexToHash("0xbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbbb")
	traderC = common.HexToHash("0xcccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccccc")
	traderD = common.HexToHash("0xdddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddddd")
)

// newTestMarket builds a market with equal decimals so price arithmetic in
// the tests maps one-to-one onto quote-atoms-per-base-atom.
func newTestMarket(t *testing.T, blocks uint32) *Market {
	t.Helper()
	m, err := CreateMarket(Params{
		BaseMint:       common.HexToHash("0x01"),
		QuoteMint:      common.HexToHash("0x02"),
		BaseDecimals:   6,
		QuoteDecimals:  6,
		MaintenanceBps: 500,
		Blocks:         blocks,
	})
	if err != nil {
		t.Fatalf("create market: %v", err)
	}
	return m
}

// claimAndFund claims a seat and credits both balances.
func claimAndFund(t *testing.T, m *Market, trader TraderID, base, quote uint64) {
	t.Helper()
	if err := m.ClaimSeat(trader); err != nil {
		t.Fatalf("claim seat %s: %v", trader.Hex(), err)
	}
	if base > 0 {
		if err := m.Deposit(trader, true, base); err != nil {
			t.Fatalf("deposit base: %v", err)
		}
	}
	if quote > 0 {
		if err := m.Deposit(trader, false, quote); err != nil {
			t.Fatalf("deposit quote: %v", err)
		}
	}
}

// mustSeat fetches a seat snapshot.
func mustSeat(t *testing.T, m *Market, trader TraderID) Seat {
	t.Helper()
	s, err := m.SeatByTrader(trader)
	if err != nil {
		t.Fatalf("seat %s: %v", trader.Hex(), err)
	}
	return s
}

// mustPlace places an order and fails the test on error.
func mustPlace(t *testing.T, m *Market, p PlaceOrderParams) PlaceResult {
	t.Helper()
	res, err := m.PlaceOrder(p)
	if err != nil {
		t.Fatalf("place %s %d @ %v: %v", p.Side, p.BaseAtoms, p.Price, err)
	}
	return res
}

// checkInvariants fails the test if the buffer drifted.
func checkInvariants(t *testing.T, m *Market) {
	t.Helper()
	if err := m.CheckInvariants(); err != nil {
		t.Fatalf("invariants: %v", err)
	}
}
