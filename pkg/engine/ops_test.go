package engine

import (
	"errors"
	"testing"
)

func TestClaimSeat(t *testing.T) {
	m := newTestMarket(t, 4)
	if err := m.ClaimSeat(traderA); err != nil {
		t.Fatalf("claim: %v", err)
	}
	if err := m.ClaimSeat(traderA); !errors.Is(err, ErrInvalidArgument) {
		t.Errorf("second claim: %v, want invalid argument", err)
	}
	if m.TraderIndex(traderA) == NIL {
		t.Error("claimed trader not found")
	}
	if m.TraderIndex(traderB) != NIL {
		t.Error("unclaimed trader found")
	}
	if _, err := m.SeatByTrader(traderB); !errors.Is(err, ErrNotFound) {
		t.Errorf("seat query: %v, want not found", err)
	}
}

func TestDepositWithdrawRoundTrip(t *testing.T) {
	m := newTestMarket(t, 4)
	claimAndFund(t, m, traderA, 0, 0)

	// deposit(x); withdraw(x) is a no-op on the balance.
	if err := m.Deposit(traderA, false, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := m.Withdraw(traderA, false, 1000); err != nil {
		t.Fatalf("withdraw: %v", err)
	}
	s := mustSeat(t, m, traderA)
	if s.QuoteWithdrawable != 0 || s.BaseWithdrawable != 0 {
		t.Errorf("balances after round trip: base=%d quote=%d, want 0/0", s.BaseWithdrawable, s.QuoteWithdrawable)
	}

	if err := m.Withdraw(traderA, false, 1); !errors.Is(err, ErrInsufficientFunds) {
		t.Errorf("overdraw: %v, want insufficient funds", err)
	}
	if err := m.Deposit(traderB, false, 1); !errors.Is(err, ErrNotFound) {
		t.Errorf("deposit without seat: %v, want not found", err)
	}
}

func TestPlaceCancelRefundsExactly(t *testing.T) {
	m := newTestMarket(t, 8)
	claimAndFund(t, m, traderA, 50, 100)

	// Bid 4 @ 5.00000001 locks ceil(20.00000004) = 21.
	res := mustPlace(t, m, PlaceOrderParams{
		Trader: traderA, Side: Bid, BaseAtoms: 4,
		Price: Price{Mantissa: 500000001, Exponent: -8}, Type: Limit,
	})
	if !res.Rested {
		t.Fatal("bid did not rest on an empty book")
	}
	s := mustSeat(t, m, traderA)
	if s.QuoteWithdrawable != 79 {
		t.Fatalf("quote after lock = %d, want 79", s.QuoteWithdrawable)
	}

	// Ask 7 locks 7 base atoms.
	askRes := mustPlace(t, m, PlaceOrderParams{
		Trader: traderA, Side: Ask, BaseAtoms: 7,
		Price: Price{Mantissa: 6, Exponent: 0}, Type: Limit,
	})
	s = mustSeat(t, m, traderA)
	if s.BaseWithdrawable != 43 {
		t.Fatalf("base after lock = %d, want 43", s.BaseWithdrawable)
	}

	// Cancelling returns every locked atom.
	if err := m.CancelOrder(traderA, res.Sequence); err != nil {
		t.Fatalf("cancel bid: %v", err)
	}
	if err := m.CancelOrder(traderA, askRes.Sequence); err != nil {
		t.Fatalf("cancel ask: %v", err)
	}
	s = mustSeat(t, m, traderA)
	if s.QuoteWithdrawable != 100 || s.BaseWithdrawable != 50 {
		t.Errorf("after cancels: base=%d quote=%d, want 50/100", s.BaseWithdrawable, s.QuoteWithdrawable)
	}
	if err := m.CancelOrder(traderA, res.Sequence); !errors.Is(err, ErrNotFound) {
		t.Errorf("cancel of cancelled order: %v, want not found", err)
	}
	checkInvariants(t, m)
}

func TestPlaceInsufficientFunds(t *testing.T) {
	m := newTestMarket(t, 4)
	claimAndFund(t, m, traderA, 0, 10)
	_, err := m.PlaceOrder(PlaceOrderParams{
		Trader: traderA, Side: Bid, BaseAtoms: 4,
		Price: Price{Mantissa: 500000001, Exponent: -8}, Type: Limit,
	})
	if !errors.Is(err, ErrInsufficientFunds) {
		t.Fatalf("place: %v, want insufficient funds", err)
	}
	s := mustSeat(t, m, traderA)
	if s.QuoteWithdrawable != 10 {
		t.Errorf("quote after failed place = %d, want 10 (unchanged)", s.QuoteWithdrawable)
	}
	if got := len(m.Orders(Bid)); got != 0 {
		t.Errorf("%d orders rested on failed place", got)
	}
}

func TestPlaceValidation(t *testing.T) {
	m := newTestMarket(t, 4)
	claimAndFund(t, m, traderA, 10, 10)

	cases := []struct {
		name string
		p    PlaceOrderParams
		want error
	}{
		{"zero base", PlaceOrderParams{Trader: traderA, Side: Bid, Price: Price{Mantissa: 1}}, ErrInvalidArgument},
		{"zero price", PlaceOrderParams{Trader: traderA, Side: Bid, BaseAtoms: 1}, ErrInvalidArgument},
		{"wide reverse spread", PlaceOrderParams{Trader: traderA, Side: Bid, BaseAtoms: 1,
			Price: Price{Mantissa: 1}, Type: Reverse, Spread: spreadDenominator}, ErrInvalidArgument},
		{"already expired", PlaceOrderParams{Trader: traderA, Side: Bid, BaseAtoms: 1,
			Price: Price{Mantissa: 1}, LastValidSlot: 5, Slot: 10}, ErrExpired},
		{"no seat", PlaceOrderParams{Trader: traderB, Side: Bid, BaseAtoms: 1,
			Price: Price{Mantissa: 1}}, ErrNotFound},
	}
	for _, c := range cases {
		if _, err := m.PlaceOrder(c.p); !errors.Is(err, c.want) {
			t.Errorf("%s: got %v, want %v", c.name, err, c.want)
		}
	}
}

func TestPostOnlyRejectsCross(t *testing.T) {
	m := newTestMarket(t, 8)
	claimAndFund(t, m, traderA, 10, 100)
	claimAndFund(t, m, traderB, 10, 100)
	mustPlace(t, m, PlaceOrderParams{
		Trader: traderB, Side: Ask, BaseAtoms: 1, Price: Price{Mantissa: 10}, Type: Limit,
	})

	// Post-only at the touch would cross: rejected, nothing matched.
	_, err := m.PlaceOrder(PlaceOrderParams{
		Trader: traderA, Side: Bid, BaseAtoms: 1, Price: Price{Mantissa: 10}, Type: PostOnly,
	})
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("crossing post-only: %v, want invalid argument", err)
	}

	// One tick below rests without matching.
	res := mustPlace(t, m, PlaceOrderParams{
		Trader: traderA, Side: Bid, BaseAtoms: 1, Price: Price{Mantissa: 9}, Type: PostOnly,
	})
	if !res.Rested || len(res.Fills) != 0 {
		t.Fatalf("post-only below touch: rested=%v fills=%d", res.Rested, len(res.Fills))
	}
	checkInvariants(t, m)
}

func TestImmediateOrCancelDiscardsResidue(t *testing.T) {
	m := newTestMarket(t, 8)
	claimAndFund(t, m, traderA, 0, 100)
	claimAndFund(t, m, traderB, 10, 0)
	mustPlace(t, m, PlaceOrderParams{
		Trader: traderB, Side: Ask, BaseAtoms: 2, Price: Price{Mantissa: 10}, Type: Limit,
	})

	// IOC bid for 5: fills 2 at 10 (pays 20), drops the other 3.
	res := mustPlace(t, m, PlaceOrderParams{
		Trader: traderA, Side: Bid, BaseAtoms: 5, Price: Price{Mantissa: 10}, Type: ImmediateOrCancel,
	})
	if res.Rested {
		t.Error("IOC residue rested")
	}
	if res.BaseTraded != 2 || res.QuoteTraded != 20 {
		t.Errorf("traded %d base / %d quote, want 2 / 20", res.BaseTraded, res.QuoteTraded)
	}
	a := mustSeat(t, m, traderA)
	if a.BaseWithdrawable != 2 || a.QuoteWithdrawable != 80 {
		t.Errorf("taker: base=%d quote=%d, want 2/80", a.BaseWithdrawable, a.QuoteWithdrawable)
	}
	b := mustSeat(t, m, traderB)
	if b.QuoteWithdrawable != 20 || b.BaseWithdrawable != 8 {
		t.Errorf("maker: base=%d quote=%d, want 8/20", b.BaseWithdrawable, b.QuoteWithdrawable)
	}
	// Positions: taker long 2, maker short 2.
	if a.PositionSize != 2 || b.PositionSize != -2 {
		t.Errorf("positions %d/%d, want 2/-2", a.PositionSize, b.PositionSize)
	}
	if m.TotalLongBase() != 2 || m.TotalShortBase() != 2 {
		t.Errorf("totals long=%d short=%d, want 2/2", m.TotalLongBase(), m.TotalShortBase())
	}
	checkInvariants(t, m)
}

func TestFillOrKillRollsBack(t *testing.T) {
	m := newTestMarket(t, 8)
	claimAndFund(t, m, traderA, 0, 100)
	claimAndFund(t, m, traderB, 10, 0)
	mustPlace(t, m, PlaceOrderParams{
		Trader: traderB, Side: Ask, BaseAtoms: 2, Price: Price{Mantissa: 10}, Type: Limit,
	})

	_, err := m.PlaceOrder(PlaceOrderParams{
		Trader: traderA, Side: Bid, BaseAtoms: 5, Price: Price{Mantissa: 10}, Type: FillOrKill,
	})
	if !errors.Is(err, ErrSlippage) {
		t.Fatalf("unfillable FoK: %v, want slippage", err)
	}
	// Nothing moved: maker still rests 2, balances untouched.
	a := mustSeat(t, m, traderA)
	if a.BaseWithdrawable != 0 || a.QuoteWithdrawable != 100 {
		t.Errorf("taker balances changed: base=%d quote=%d", a.BaseWithdrawable, a.QuoteWithdrawable)
	}
	if got := m.Orders(Ask); len(got) != 1 || got[0].Remaining != 2 {
		t.Errorf("maker book changed: %+v", got)
	}

	// A fillable FoK goes through whole.
	res := mustPlace(t, m, PlaceOrderParams{
		Trader: traderA, Side: Bid, BaseAtoms: 2, Price: Price{Mantissa: 10}, Type: FillOrKill,
	})
	if res.BaseTraded != 2 || res.Rested {
		t.Errorf("FoK full fill: traded=%d rested=%v", res.BaseTraded, res.Rested)
	}
	checkInvariants(t, m)
}

func TestSequenceNumbersStrictlyIncrease(t *testing.T) {
	m := newTestMarket(t, 16)
	claimAndFund(t, m, traderA, 100, 1000)
	var last uint64
	for i := 0; i < 5; i++ {
		res := mustPlace(t, m, PlaceOrderParams{
			Trader: traderA, Side: Ask, BaseAtoms: 1,
			Price: Price{Mantissa: uint32(100 + i)}, Type: Limit,
		})
		if res.Sequence <= last {
			t.Fatalf("sequence %d after %d", res.Sequence, last)
		}
		last = res.Sequence
	}
	if m.NextSequence() <= last {
		t.Errorf("next sequence %d not beyond last %d", m.NextSequence(), last)
	}
}

func TestBatchUpdateIsAtomic(t *testing.T) {
	m := newTestMarket(t, 8)
	claimAndFund(t, m, traderA, 10, 100)
	res := mustPlace(t, m, PlaceOrderParams{
		Trader: traderA, Side: Bid, BaseAtoms: 1, Price: Price{Mantissa: 10}, Type: Limit,
	})

	// Second cancel targets a foreign sequence: the whole batch, including
	// the place, must roll back.
	_, err := m.BatchUpdate(traderA, []uint64{res.Sequence, 9999}, []PlaceOrderParams{
		{Side: Ask, BaseAtoms: 1, Price: Price{Mantissa: 20}, Type: Limit},
	})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("batch: %v, want not found", err)
	}
	if got := len(m.Orders(Bid)); got != 1 {
		t.Errorf("bid book has %d orders after failed batch, want 1", got)
	}
	if got := len(m.Orders(Ask)); got != 0 {
		t.Errorf("ask book has %d orders after failed batch, want 0", got)
	}

	// A valid batch replaces the bid with an ask.
	results, err := m.BatchUpdate(traderA, []uint64{res.Sequence}, []PlaceOrderParams{
		{Side: Ask, BaseAtoms: 2, Price: Price{Mantissa: 20}, Type: Limit},
	})
	if err != nil {
		t.Fatalf("batch: %v", err)
	}
	if len(results) != 1 || !results[0].Rested {
		t.Fatalf("batch results: %+v", results)
	}
	if got := len(m.Orders(Bid)); got != 0 {
		t.Errorf("bid not cancelled by batch")
	}
	s := mustSeat(t, m, traderA)
	if s.QuoteWithdrawable != 100 {
		t.Errorf("quote = %d, want 100 (bid lock refunded)", s.QuoteWithdrawable)
	}
	checkInvariants(t, m)
}
