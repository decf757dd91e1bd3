package engine

import (
	"math"
	"math/big"
)

const (
	// fundingPeriodSecs is the funding period the rate is normalized to.
	fundingPeriodSecs = 3600
	// fundingScale scales the dimensionless rate: 1e9 = 100%.
	fundingScale = 1_000_000_000
	// fundingRefBase is the reference base size both mark and oracle are
	// quoted against, for precision.
	fundingRefBase = 1_000_000_000
)

// CrankFunding reads the oracle feed, caches its price, accrues the funding
// rate for the elapsed time against the book's mark, and settles every open
// position. Permissionless; callers cranking at high frequency accrue
// proportionally smaller steps. The boolean is false when the crank only
// advanced bookkeeping (first crank, zero elapsed time, empty book, or
// unusable oracle scale) and no positions were touched.
func (m *Market) CrankFunding(oracleData []byte, now int64) (FundingEvent, bool, error) {
	reading, err := ReadOracle(oracleData)
	if err != nil {
		return FundingEvent{}, false, err
	}

	h := m.header()
	h.setOraclePrice(uint64(reading.Price), reading.Exponent)

	ev := FundingEvent{
		OracleMantissa: uint64(reading.Price),
		OracleExponent: reading.Exponent,
		Timestamp:      now,
	}

	last := h.lastFundingTs()
	if last == 0 {
		h.setLastFundingTs(now)
		return ev, false, nil
	}
	elapsed := now - last
	if elapsed <= 0 {
		return ev, false, nil
	}

	// Mark comes from the book: mid of best bid and ask, or whichever side
	// exists. With no book there is nothing to fund against.
	markQuote, ok, err := m.bookMarkQuote()
	if err != nil {
		return FundingEvent{}, false, err
	}
	if !ok {
		h.setLastFundingTs(now)
		return ev, false, nil
	}

	// Oracle price rescaled to quote atoms per fundingRefBase base atoms:
	// price * 10^(expo + quoteDecimals - baseDecimals + 9).
	adjExpo := int64(reading.Exponent) + int64(h.quoteDecimals()) - int64(h.baseDecimals()) + 9
	oracleQuote := new(big.Int).SetInt64(reading.Price)
	if adjExpo >= 0 {
		oracleQuote.Mul(oracleQuote, pow10Big(adjExpo))
	} else {
		oracleQuote.Quo(oracleQuote, pow10Big(-adjExpo))
	}
	if oracleQuote.Sign() <= 0 {
		h.setLastFundingTs(now)
		return ev, false, nil
	}

	// rate = (mark - oracle) * scale * elapsed / (oracle * period),
	// truncated toward zero, saturated to int64. Positive means longs pay.
	num := new(big.Int).SetUint64(markQuote)
	num.Sub(num, oracleQuote)
	num.Mul(num, big.NewInt(fundingScale))
	num.Mul(num, big.NewInt(elapsed))
	den := new(big.Int).Mul(oracleQuote, big.NewInt(fundingPeriodSecs))
	num.Quo(num, den)
	rate := saturateI64(num)

	h.setCumulativeFunding(satAddI64(h.cumulativeFunding(), rate))
	h.setLastFundingTs(now)
	ev.RateScaled = rate

	// Settle every seat with a position. Indices are snapshotted before
	// the mutation pass.
	st := m.seatTree()
	var seatIdxs []uint32
	for idx := st.min(h.seatsRoot()); idx != NIL; idx = st.successor(idx) {
		seatIdxs = append(seatIdxs, idx)
	}
	rateBig := big.NewInt(rate)
	for _, idx := range seatIdxs {
		position := m.seatPosition(idx)
		if position == 0 {
			continue
		}
		// payment = position * rate / scale; longs pay a positive rate,
		// shorts receive it.
		p := new(big.Int).SetInt64(position)
		p.Mul(p, rateBig)
		p.Quo(p, big.NewInt(fundingScale))
		payment := saturateI64(p)

		margin := m.seatQuote(idx)
		if payment >= 0 {
			margin = satSubU64(margin, uint64(payment))
		} else {
			margin = satAddU64(margin, absU64(payment))
		}
		m.setSeatQuote(idx, margin)
	}
	return ev, true, nil
}

// bookMarkQuote returns the book's mark as quote atoms per fundingRefBase
// base atoms. ok is false when the book is empty.
func (m *Market) bookMarkQuote() (uint64, bool, error) {
	bid, hasBid := m.BestBid()
	ask, hasAsk := m.BestAsk()
	switch {
	case hasBid && hasAsk:
		qb, err := bid.Price.QuoteForBase(fundingRefBase, false)
		if err != nil {
			return 0, false, err
		}
		qa, err := ask.Price.QuoteForBase(fundingRefBase, false)
		if err != nil {
			return 0, false, err
		}
		// Overflow-safe midpoint.
		return qb/2 + qa/2 + (qb&qa)&1, true, nil
	case hasBid:
		q, err := bid.Price.QuoteForBase(fundingRefBase, false)
		return q, err == nil, err
	case hasAsk:
		q, err := ask.Price.QuoteForBase(fundingRefBase, false)
		return q, err == nil, err
	default:
		return 0, false, nil
	}
}

func pow10Big(n int64) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(n), nil)
}

func saturateI64(v *big.Int) int64 {
	if v.IsInt64() {
		return v.Int64()
	}
	if v.Sign() > 0 {
		return math.MaxInt64
	}
	return math.MinInt64
}

func satAddI64(a, b int64) int64 {
	s := a + b
	switch {
	case a > 0 && b > 0 && s < 0:
		return math.MaxInt64
	case a < 0 && b < 0 && s >= 0:
		return math.MinInt64
	default:
		return s
	}
}
