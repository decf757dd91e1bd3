package api

import (
	"fmt"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/common/hexutil"
	"github.com/shopspring/decimal"

	"github.com/perpbook/perpbook/pkg/engine"
)

// PriceJSON carries a price both in wire form and as a human-readable
// decimal string ("5.00000001").
type PriceJSON struct {
	Mantissa uint32 `json:"mantissa"`
	Exponent int8   `json:"exponent"`
	Display  string `json:"display"`
}

func priceJSON(p engine.Price) PriceJSON {
	return PriceJSON{
		Mantissa: p.Mantissa,
		Exponent: p.Exponent,
		Display:  decimal.New(int64(p.Mantissa), int32(p.Exponent)).String(),
	}
}

// MarketInfoResponse summarizes one market.
type MarketInfoResponse struct {
	Symbol            string     `json:"symbol"`
	BaseDecimals      uint8      `json:"base_decimals"`
	QuoteDecimals     uint8      `json:"quote_decimals"`
	MaintenanceBps    uint32     `json:"maintenance_bps"`
	NextSequence      uint64     `json:"next_sequence"`
	TotalLongBase     uint64     `json:"total_long_base"`
	TotalShortBase    uint64     `json:"total_short_base"`
	CumulativeFunding int64      `json:"cumulative_funding"`
	LastFundingTs     int64      `json:"last_funding_ts"`
	NumBlocks         uint32     `json:"num_blocks"`
	FreeBlocks        uint32     `json:"free_blocks"`
	BestBid           *PriceJSON `json:"best_bid,omitempty"`
	BestAsk           *PriceJSON `json:"best_ask,omitempty"`
}

// LevelEntry is one aggregated price level.
type LevelEntry struct {
	Price PriceJSON `json:"price"`
	Base  uint64    `json:"base_atoms"`
}

// OrderbookResponse is both sides, best first.
type OrderbookResponse struct {
	Symbol string       `json:"symbol"`
	Bids   []LevelEntry `json:"bids"`
	Asks   []LevelEntry `json:"asks"`
}

// SeatResponse is a trader's balances and position on one market.
type SeatResponse struct {
	Trader            string `json:"trader"`
	BaseWithdrawable  uint64 `json:"base_withdrawable"`
	QuoteWithdrawable uint64 `json:"quote_withdrawable"`
	PositionSize      int64  `json:"position_size"`
	QuoteCostBasis    uint64 `json:"quote_cost_basis"`
}

// FillInfo is one fill in an order or swap response and on the fills feed.
type FillInfo struct {
	MakerSequence uint64    `json:"maker_sequence"`
	Maker         string    `json:"maker"`
	Taker         string    `json:"taker"`
	Price         PriceJSON `json:"price"`
	BaseAtoms     uint64    `json:"base_atoms"`
	QuoteAtoms    uint64    `json:"quote_atoms"`
	TakerSide     string    `json:"taker_side"`
}

func fillInfo(f engine.FillEvent) FillInfo {
	return FillInfo{
		MakerSequence: f.MakerSequence,
		Maker:         f.Maker.Hex(),
		Taker:         f.Taker.Hex(),
		Price:         priceJSON(f.Price),
		BaseAtoms:     f.BaseAtoms,
		QuoteAtoms:    f.QuoteAtoms,
		TakerSide:     f.TakerSide.String(),
	}
}

// ClaimSeatRequest claims a seat for a trader on a market.
type ClaimSeatRequest struct {
	Symbol string `json:"symbol"`
	Trader string `json:"trader"`
}

// SubmitOrderRequest places an order.
type SubmitOrderRequest struct {
	Symbol        string `json:"symbol"`
	Trader        string `json:"trader"`
	Side          string `json:"side"` // "bid" | "ask"
	BaseAtoms     uint64 `json:"base_atoms"`
	PriceMantissa uint32 `json:"price_mantissa"`
	PriceExponent int8   `json:"price_exponent"`
	Type          string `json:"type"` // limit|ioc|fok|post_only|global|reverse
	LastValidSlot uint64 `json:"last_valid_slot,omitempty"`
	Spread        uint32 `json:"spread,omitempty"`
}

// SubmitOrderResponse reports fills and the rested sequence, if any.
type SubmitOrderResponse struct {
	Sequence    uint64     `json:"sequence,omitempty"`
	Rested      bool       `json:"rested"`
	BaseTraded  uint64     `json:"base_traded"`
	QuoteTraded uint64     `json:"quote_traded"`
	Fills       []FillInfo `json:"fills"`
}

// CancelOrderRequest cancels by sequence number.
type CancelOrderRequest struct {
	Symbol   string `json:"symbol"`
	Trader   string `json:"trader"`
	Sequence uint64 `json:"sequence"`
}

// TransferRequest covers deposit and withdraw.
type TransferRequest struct {
	Symbol string `json:"symbol"`
	Trader string `json:"trader"`
	Asset  string `json:"asset"` // "base" | "quote"
	Amount uint64 `json:"amount"`
}

// SwapRequest is the seatless taker instruction.
type SwapRequest struct {
	Symbol    string `json:"symbol"`
	Trader    string `json:"trader"`
	AmountIn  uint64 `json:"amount_in"`
	AmountOut uint64 `json:"amount_out"`
	IsBaseIn  bool   `json:"is_base_in"`
	IsExactIn bool   `json:"is_exact_in"`
}

// SwapResponse reports the atoms actually exchanged.
type SwapResponse struct {
	In    uint64     `json:"in"`
	Out   uint64     `json:"out"`
	Fills []FillInfo `json:"fills"`
}

// LiquidateRequest liquidates a target trader; the caller is the bounty
// recipient.
type LiquidateRequest struct {
	Symbol     string `json:"symbol"`
	Liquidator string `json:"liquidator"`
	Trader     string `json:"trader"`
}

// LiquidateResponse echoes the settlement.
type LiquidateResponse struct {
	PositionSize    int64  `json:"position_size"`
	SettlementValue uint64 `json:"settlement_value"`
	Pnl             int64  `json:"pnl"`
	Reward          uint64 `json:"reward"`
}

// CrankFundingRequest carries the raw oracle feed account, hex-encoded.
type CrankFundingRequest struct {
	Symbol string        `json:"symbol"`
	Oracle hexutil.Bytes `json:"oracle"`
}

// CrankFundingResponse reports what the crank did.
type CrankFundingResponse struct {
	Settled        bool   `json:"settled"`
	RateScaled     int64  `json:"rate_scaled"`
	OracleMantissa uint64 `json:"oracle_mantissa"`
	OracleExponent int32  `json:"oracle_exponent"`
	Timestamp      int64  `json:"timestamp"`
}

// ExpandRequest grows a market's free pool.
type ExpandRequest struct {
	Symbol string `json:"symbol"`
	Blocks uint32 `json:"blocks"`
}

// WSSubscribeRequest is the only inbound WebSocket message.
type WSSubscribeRequest struct {
	Op       string   `json:"op"` // "subscribe" | "unsubscribe"
	Channels []string `json:"channels"`
}

// WSFillEvent is broadcast on the "fills:<symbol>" channel.
type WSFillEvent struct {
	Type   string   `json:"type"` // "fill"
	Symbol string   `json:"symbol"`
	Unix   int64    `json:"unix"`
	Fill   FillInfo `json:"fill"`
}

// ErrorResponse is the uniform error envelope.
type ErrorResponse struct {
	Error string `json:"error"`
}

func parseTrader(s string) (engine.TraderID, error) {
	raw, err := hexutil.Decode(s)
	if err != nil || len(raw) != common.HashLength {
		return engine.TraderID{}, fmt.Errorf("trader must be a 0x-prefixed 32-byte hex string")
	}
	return common.BytesToHash(raw), nil
}

func parseSide(s string) (engine.Side, error) {
	switch strings.ToLower(s) {
	case "bid", "buy":
		return engine.Bid, nil
	case "ask", "sell":
		return engine.Ask, nil
	default:
		return 0, fmt.Errorf("unknown side %q", s)
	}
}

func parseOrderType(s string) (engine.OrderType, error) {
	switch strings.ToLower(s) {
	case "", "limit":
		return engine.Limit, nil
	case "ioc", "immediate_or_cancel":
		return engine.ImmediateOrCancel, nil
	case "fok", "fill_or_kill":
		return engine.FillOrKill, nil
	case "post_only":
		return engine.PostOnly, nil
	case "global":
		return engine.Global, nil
	case "reverse":
		return engine.Reverse, nil
	default:
		return 0, fmt.Errorf("unknown order type %q", s)
	}
}
