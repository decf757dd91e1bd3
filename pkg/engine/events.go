package engine

// Event records returned by ops, in emit order. The host republishes them
// (log, websocket, metrics); the engine itself never logs.

// FillEvent is one maker/taker trade.
type FillEvent struct {
	MakerSequence uint64
	Maker         TraderID
	Taker         TraderID
	Price         Price
	BaseAtoms     uint64
	QuoteAtoms    uint64
	TakerSide     Side
}

// LiquidateEvent records a completed liquidation.
type LiquidateEvent struct {
	Trader          TraderID
	Liquidator      TraderID
	PositionSize    int64
	SettlementValue uint64
	Pnl             int64
	Reward          uint64
}

// FundingEvent records one funding crank, whether or not it settled
// positions; RateScaled is zero when nothing was settled.
type FundingEvent struct {
	OracleMantissa uint64
	OracleExponent int32
	RateScaled     int64
	Timestamp      int64
}
