package engine

import (
	"fmt"
	"math/bits"
)

// liquidatorRewardBps is the bounty carved out of the settled margin, 2.5%.
const liquidatorRewardBps = 250

// Liquidate closes an underwater trader's position at the mark price.
// Open orders are cancelled first so their locks count toward margin, then
// equity (margin + unrealized PnL) is checked against the maintenance
// requirement. The liquidator's bounty is credited to their seat if they
// have one.
func (m *Market) Liquidate(liquidator, target TraderID) (LiquidateEvent, error) {
	seatIdx := m.TraderIndex(target)
	if seatIdx == NIL {
		return LiquidateEvent{}, fmt.Errorf("trader %s not on market: %w", target.Hex(), ErrNotFound)
	}
	position := m.seatPosition(seatIdx)
	if position == 0 {
		return LiquidateEvent{}, fmt.Errorf("trader %s has no position: %w", target.Hex(), ErrNotLiquidatable)
	}

	cp := m.checkpoint()

	// Cancel every open order first: the released locks are margin.
	// Indices are collected before any removal mutates the trees.
	for _, orderIdx := range m.ordersOwnedBy(seatIdx) {
		if err := m.removeRestingOrder(orderIdx); err != nil {
			m.restore(cp)
			return LiquidateEvent{}, err
		}
	}

	margin := m.seatQuote(seatIdx)
	costBasis := m.seatCostBasis(seatIdx)

	mark, err := m.markPrice()
	if err != nil {
		m.restore(cp)
		return LiquidateEvent{}, err
	}

	absPosition := absU64(position)
	currentValue, err := mark.QuoteForBase(absPosition, false)
	if err != nil {
		m.restore(cp)
		return LiquidateEvent{}, err
	}

	var unrealizedPnl int64
	if position > 0 {
		unrealizedPnl = int64(currentValue) - int64(costBasis)
	} else {
		unrealizedPnl = int64(costBasis) - int64(currentValue)
	}

	// required = currentValue * maintenanceBps / 10000, saturating.
	required := mulBpsSaturating(currentValue, uint64(m.header().maintenanceBps()))

	if !equityBelow(margin, unrealizedPnl, required) {
		m.restore(cp)
		return LiquidateEvent{}, fmt.Errorf("equity covers maintenance %d: %w", required, ErrNotLiquidatable)
	}

	var settled uint64
	if unrealizedPnl >= 0 {
		settled = satAddU64(margin, uint64(unrealizedPnl))
	} else {
		settled = satSubU64(margin, absU64(unrealizedPnl))
	}

	reward := settled
	if hi, lo := bits.Mul64(settled, liquidatorRewardBps); hi == 0 {
		reward = lo / 10_000
	} else {
		reward = 0
	}

	m.setSeatPosition(seatIdx, 0)
	m.setSeatCostBasis(seatIdx, 0)
	m.setSeatQuote(seatIdx, settled-reward)

	if reward > 0 {
		if liqIdx := m.TraderIndex(liquidator); liqIdx != NIL {
			m.setSeatQuote(liqIdx, satAddU64(m.seatQuote(liqIdx), reward))
		}
	}

	h := m.header()
	if position > 0 {
		h.setTotalLong(satSubU64(h.totalLong(), absPosition))
	} else {
		h.setTotalShort(satSubU64(h.totalShort(), absPosition))
	}

	return LiquidateEvent{
		Trader:          target,
		Liquidator:      liquidator,
		PositionSize:    position,
		SettlementValue: currentValue,
		Pnl:             unrealizedPnl,
		Reward:          reward,
	}, nil
}

// equityBelow reports margin + pnl < required without overflowing.
func equityBelow(margin uint64, pnl int64, required uint64) bool {
	if pnl < 0 {
		loss := absU64(pnl)
		if loss > margin {
			return true // negative equity
		}
		return margin-loss < required
	}
	return satAddU64(margin, uint64(pnl)) < required
}

// markPrice prefers the cached oracle price, converted to the on-book
// quote-per-base scale; it falls back to the book when no oracle is cached
// or the conversion cannot be normalized.
func (m *Market) markPrice() (Price, error) {
	h := m.header()
	if mant := h.oracleMantissa(); mant > 0 {
		expo := int64(h.oracleExponent()) + int64(h.quoteDecimals()) - int64(h.baseDecimals())
		for mant > 0xFFFF_FFFF && expo < 127 {
			mant /= 10
			expo++
		}
		if mant <= 0xFFFF_FFFF && expo >= -128 && expo <= 127 {
			return Price{Mantissa: uint32(mant), Exponent: int8(expo)}, nil
		}
	}
	bidBest := h.bidsBest()
	askBest := h.asksBest()
	switch {
	case bidBest == NIL && askBest == NIL:
		return Price{}, fmt.Errorf("no oracle and empty book: %w", ErrInvalidArgument)
	case bidBest != NIL && askBest != NIL:
		bid := m.orderPrice(bidBest)
		ask := m.orderPrice(askBest)
		if bid.Cmp(ask) <= 0 {
			return bid, nil
		}
		return ask, nil
	case bidBest != NIL:
		return m.orderPrice(bidBest), nil
	default:
		return m.orderPrice(askBest), nil
	}
}

func mulBpsSaturating(v, bps uint64) uint64 {
	hi, lo := bits.Mul64(v, bps)
	if hi != 0 {
		return maxU64 / 10_000
	}
	return lo / 10_000
}

func satAddU64(a, b uint64) uint64 {
	if s := a + b; s >= a {
		return s
	}
	return maxU64
}

func satSubU64(a, b uint64) uint64 {
	if a < b {
		return 0
	}
	return a - b
}
