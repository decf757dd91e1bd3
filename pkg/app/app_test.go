package app

import (
	"encoding/binary"
	"errors"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/zap"

	"github.com/perpbook/perpbook/params"
	"github.com/perpbook/perpbook/pkg/engine"
	"github.com/perpbook/perpbook/pkg/util"
)

var (
	alice = common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000a1")
	bob   = common.HexToHash("0x00000000000000000000000000000000000000000000000000000000000000b2")
)

func testMarketCfg() params.Market {
	return params.Market{
		Symbol:         "TEST-USDC",
		BaseDecimals:   6,
		QuoteDecimals:  6,
		MaintenanceBps: 500,
		InitialBlocks:  64,
	}
}

func newTestExchange(t *testing.T) (*Exchange, *util.FixedClock) {
	t.Helper()
	clock := &util.FixedClock{T: time.Unix(1_700_000_000, 0)}
	e := NewExchange(nil, zap.NewNop(), clock)
	if err := e.OpenMarket(testMarketCfg()); err != nil {
		t.Fatalf("open market: %v", err)
	}
	return e, clock
}

func TestExchangeTradeFlow(t *testing.T) {
	e, _ := newTestExchange(t)
	const sym = "TEST-USDC"

	if err := e.ClaimSeat(sym, alice); err != nil {
		t.Fatalf("claim alice: %v", err)
	}
	if err := e.ClaimSeat(sym, bob); err != nil {
		t.Fatalf("claim bob: %v", err)
	}
	if err := e.Deposit(sym, alice, false, 1000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := e.Deposit(sym, bob, true, 100); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	var broadcast []engine.FillEvent
	e.OnFill = func(symbol string, f engine.FillEvent, unix int64) {
		broadcast = append(broadcast, f)
	}

	// Bob offers 10 at 7; Alice lifts it.
	if _, err := e.PlaceOrder(sym, engine.PlaceOrderParams{
		Trader: bob, Side: engine.Ask, BaseAtoms: 10,
		Price: engine.Price{Mantissa: 7}, Type: engine.Limit,
	}); err != nil {
		t.Fatalf("bob ask: %v", err)
	}
	res, err := e.PlaceOrder(sym, engine.PlaceOrderParams{
		Trader: alice, Side: engine.Bid, BaseAtoms: 10,
		Price: engine.Price{Mantissa: 7}, Type: engine.Limit,
	})
	if err != nil {
		t.Fatalf("alice bid: %v", err)
	}
	if res.BaseTraded != 10 || res.QuoteTraded != 70 {
		t.Fatalf("traded %d/%d, want 10/70", res.BaseTraded, res.QuoteTraded)
	}
	if len(broadcast) != 1 || broadcast[0].BaseAtoms != 10 {
		t.Errorf("broadcast fills: %+v, want one fill of 10", broadcast)
	}

	seat, err := e.Seat(sym, alice)
	if err != nil {
		t.Fatalf("seat: %v", err)
	}
	if seat.BaseWithdrawable != 10 || seat.QuoteWithdrawable != 930 {
		t.Errorf("alice base=%d quote=%d, want 10/930", seat.BaseWithdrawable, seat.QuoteWithdrawable)
	}
	if err := e.Withdraw(sym, alice, true, 10); err != nil {
		t.Fatalf("withdraw: %v", err)
	}

	info, err := e.MarketInfo(sym)
	if err != nil {
		t.Fatalf("info: %v", err)
	}
	if info.TotalLongBase != 10 || info.TotalShortBase != 10 {
		t.Errorf("totals %d/%d, want 10/10", info.TotalLongBase, info.TotalShortBase)
	}
}

func TestExchangeFundingAndLiquidation(t *testing.T) {
	e, clock := newTestExchange(t)
	const sym = "TEST-USDC"

	for _, tr := range []common.Hash{alice, bob} {
		if err := e.ClaimSeat(sym, tr); err != nil {
			t.Fatalf("claim: %v", err)
		}
	}
	if err := e.Deposit(sym, alice, false, 10_000); err != nil {
		t.Fatalf("deposit: %v", err)
	}
	if err := e.Deposit(sym, bob, true, 101); err != nil {
		t.Fatalf("deposit: %v", err)
	}

	// Cross 100 base at 10: Alice long, Bob short.
	if _, err := e.PlaceOrder(sym, engine.PlaceOrderParams{
		Trader: bob, Side: engine.Ask, BaseAtoms: 100,
		Price: engine.Price{Mantissa: 10}, Type: engine.Limit,
	}); err != nil {
		t.Fatalf("ask: %v", err)
	}
	if _, err := e.PlaceOrder(sym, engine.PlaceOrderParams{
		Trader: alice, Side: engine.Bid, BaseAtoms: 100,
		Price: engine.Price{Mantissa: 10}, Type: engine.Limit,
	}); err != nil {
		t.Fatalf("bid: %v", err)
	}

	// Keep a two-sided book for the funding mark.
	if _, err := e.PlaceOrder(sym, engine.PlaceOrderParams{
		Trader: alice, Side: engine.Bid, BaseAtoms: 1,
		Price: engine.Price{Mantissa: 10}, Type: engine.Limit,
	}); err != nil {
		t.Fatalf("mark bid: %v", err)
	}
	if _, err := e.PlaceOrder(sym, engine.PlaceOrderParams{
		Trader: bob, Side: engine.Ask, BaseAtoms: 1,
		Price: engine.Price{Mantissa: 12}, Type: engine.Limit,
	}); err != nil {
		t.Fatalf("mark ask: %v", err)
	}

	oracle := make([]byte, 240)
	binary.LittleEndian.PutUint32(oracle, 0xa1b2c3d4)
	binary.LittleEndian.PutUint64(oracle[208:], 10) // price 10, expo 0
	binary.LittleEndian.PutUint32(oracle[224:], 1)  // trading

	// First crank stamps the clock; an hour later the book mark 11 vs
	// oracle 10 accrues a positive rate and the long pays.
	if _, settled, err := e.CrankFunding(sym, oracle); err != nil || settled {
		t.Fatalf("first crank settled=%v err=%v", settled, err)
	}
	clock.T = clock.T.Add(time.Hour)
	_, settled, err := e.CrankFunding(sym, oracle)
	if err != nil {
		t.Fatalf("crank: %v", err)
	}
	if !settled {
		t.Fatal("crank did not settle")
	}

	info, _ := e.MarketInfo(sym)
	if info.CumulativeFunding <= 0 {
		t.Errorf("cumulative funding = %d, want positive (mark above oracle)", info.CumulativeFunding)
	}

	// Bob is short 100 from 10 with slim margin; mark his book against a
	// much higher oracle and he goes under maintenance.
	binary.LittleEndian.PutUint64(oracle[208:], 100)
	if _, _, err := e.CrankFunding(sym, oracle); err != nil {
		t.Fatalf("oracle update: %v", err)
	}
	ev, err := e.Liquidate(sym, alice, bob)
	if err != nil {
		t.Fatalf("liquidate: %v", err)
	}
	if ev.PositionSize != -100 {
		t.Errorf("liquidated position %d, want -100", ev.PositionSize)
	}
	seat, _ := e.Seat(sym, bob)
	if seat.PositionSize != 0 {
		t.Errorf("bob position %d after liquidation", seat.PositionSize)
	}
}

func TestExchangeUnknownMarket(t *testing.T) {
	e, _ := newTestExchange(t)
	if err := e.ClaimSeat("NOPE", alice); !errors.Is(err, engine.ErrNotFound) {
		t.Errorf("unknown market: %v, want not found", err)
	}
}
