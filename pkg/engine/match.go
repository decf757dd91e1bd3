package engine

import (
	"fmt"
	"math"
)

// takerCtx describes the incoming side of one matching pass. seatIdx is NIL
// for swaps, which settle against the caller's wallet instead of a seat.
// swap also flips the per-fill rounding: limit takers bear the dust, swap
// takers take it, so an exact-in swap never undersells.
type takerCtx struct {
	side     Side
	seatIdx  uint32
	trader   TraderID
	limit    Price
	hasLimit bool
	swap     bool
	slot     uint64
}

// matchResult accumulates what one pass traded. For a bid taker BaseTraded
// is what the taker received and QuoteTraded what it paid; for an ask taker
// the directions swap.
type matchResult struct {
	Fills       []FillEvent
	BaseTraded  uint64
	QuoteTraded uint64
}

// matchLoop walks the opposing book from its best and fills until a budget
// runs out, the price gate stops the walk, or the book empties.
//
// maxBase bounds the base traded. maxQuote, when quoteBounded, bounds the
// quote side: for a bid taker it is the spendable quote budget, for an ask
// taker the quote still wanted.
//
// ErrCapacity is a graceful early stop: fills made before the failing step
// stay committed and are returned alongside the error.
func (m *Market) matchLoop(tk takerCtx, maxBase, maxQuote uint64, quoteBounded bool) (matchResult, error) {
	var res matchResult
	makerSide := tk.side.Opposite()
	// Limit takers pay rounded-up and receive rounded-down quote; swap
	// takers the reverse.
	roundUp := (tk.side == Bid) != tk.swap

	for maxBase > 0 && (!quoteBounded || maxQuote > 0) {
		makerIdx := m.bookBest(makerSide)
		if makerIdx == NIL {
			break
		}

		// Expiration gate: lazily drop dead makers and keep walking.
		if lvs := m.orderLastValidSlot(makerIdx); lvs != NoExpiration && tk.slot > lvs {
			if err := m.removeRestingOrder(makerIdx); err != nil {
				return res, err
			}
			continue
		}

		price := m.orderPrice(makerIdx)

		// Price gate: the book is sorted best-first, so the first maker
		// beyond the limit ends the walk.
		if tk.hasLimit {
			if tk.side == Bid && price.Cmp(tk.limit) > 0 {
				break
			}
			if tk.side == Ask && price.Cmp(tk.limit) < 0 {
				break
			}
		}

		makerRem := m.orderRemaining(makerIdx)
		fillBase := maxBase
		if makerRem < fillBase {
			fillBase = makerRem
		}
		if quoteBounded {
			// Bid takers can only afford so much base from the remaining
			// quote budget; ask takers stop once the wanted quote is
			// covered, rounding the base up so the target is met.
			afford, err := price.BaseForQuote(maxQuote, tk.side == Ask)
			if err != nil {
				return res, err
			}
			if afford < fillBase {
				fillBase = afford
			}
		}
		if fillBase == 0 {
			break
		}

		fillQuote, err := price.QuoteForBase(fillBase, roundUp)
		if err != nil {
			return res, err
		}
		if fillQuote == 0 {
			// A fill that rounds to zero quote moves nothing; stop rather
			// than emit it.
			break
		}

		makerType := m.orderType(makerIdx)
		makerSeat := m.orderSeat(makerIdx)
		makerTrader := m.seatTrader(makerSeat)

		// Global gate: the maker's funds live in the shared reservation.
		// An unbacked maker is removed, not matched.
		if makerType == Global {
			needBase := makerSide == Ask
			need := fillBase
			if !needBase {
				need = fillQuote
			}
			if m.backing == nil || !m.backing.Backed(makerTrader, needBase, need) {
				if err := m.removeRestingOrder(makerIdx); err != nil {
					return res, err
				}
				continue
			}
		}

		// A partially filled reverse maker keeps its block and the flip
		// needs a fresh one. Check before touching balances so the step
		// can stop cleanly with everything before it committed.
		if makerType == Reverse && fillBase < makerRem && m.header().freeHead() == NIL {
			return res, ErrCapacity
		}

		if tk.side == Bid {
			err = m.settleTakerBuy(tk, makerSeat, makerTrader, makerType, fillBase, fillQuote)
		} else {
			fillQuote, err = m.settleTakerSell(tk, makerIdx, makerSeat, makerTrader, makerType, price, fillBase, fillQuote)
		}
		if err != nil {
			return res, err
		}

		makerSeq := m.orderSeq(makerIdx)
		makerSpread := m.orderSpread(makerIdx)
		makerSlot := m.orderLastValidSlot(makerIdx)
		newRem := makerRem - fillBase
		m.setOrderRemaining(makerIdx, newRem)

		if newRem == 0 {
			// Fully consumed: the block goes back to the pool (and may be
			// reused immediately by a reverse flip).
			if err := m.removeOrderBlock(makerIdx); err != nil {
				return res, err
			}
		}
		if makerType == Reverse {
			if err := m.flipReverse(makerSeat, makerSide, price, fillBase, fillQuote, makerSpread, makerSlot); err != nil {
				return res, err
			}
		}

		res.Fills = append(res.Fills, FillEvent{
			MakerSequence: makerSeq,
			Maker:         makerTrader,
			Taker:         tk.trader,
			Price:         price,
			BaseAtoms:     fillBase,
			QuoteAtoms:    fillQuote,
			TakerSide:     tk.side,
		})
		res.BaseTraded += fillBase
		res.QuoteTraded += fillQuote
		maxBase -= fillBase
		if quoteBounded {
			if fillQuote >= maxQuote {
				maxQuote = 0
			} else {
				maxQuote -= fillQuote
			}
		}
	}
	return res, nil
}

// settleTakerBuy moves fillBase to the buying taker and fillQuote to the
// selling maker. The maker's base comes out of its order lock (or the
// global reservation); the taker's quote comes from its seat, or is simply
// accounted against the swap budget when there is no seat.
func (m *Market) settleTakerBuy(tk takerCtx, makerSeat uint32, makerTrader TraderID,
	makerType OrderType, fillBase, fillQuote uint64) error {
	if tk.seatIdx != NIL {
		q := m.seatQuote(tk.seatIdx)
		if q < fillQuote {
			return fmt.Errorf("taker quote %d < fill %d: %w", q, fillQuote, ErrInsufficientFunds)
		}
		m.setSeatQuote(tk.seatIdx, q-fillQuote)
		m.setSeatBase(tk.seatIdx, m.seatBase(tk.seatIdx)+fillBase)
		if err := m.applyFill(tk.seatIdx, int64(fillBase), fillQuote); err != nil {
			return err
		}
	}
	if makerType == Global {
		if err := m.backing.Withdraw(makerTrader, true, fillBase); err != nil {
			return fmt.Errorf("global backing: %w", err)
		}
	}
	if makerType != Reverse {
		// A reverse ask keeps the proceeds to fund its flipped bid.
		m.setSeatQuote(makerSeat, m.seatQuote(makerSeat)+fillQuote)
	}
	return m.applyFill(makerSeat, -int64(fillBase), fillQuote)
}

// settleTakerSell moves quote to the selling taker and fillBase to the
// buying maker. A plain bid maker's quote comes out of its lock: the fill
// releases ceil(price*before)-ceil(price*after). A limit taker receives the
// rounded-down quote and the maker keeps the release dust; a swap taker
// receives the rounded-up quote, with any one-atom shortfall beyond the
// release taken from the maker's withdrawable balance. If the maker cannot
// cover even that, the payout is clipped to what the lock released; funds
// never appear from nowhere. Returns the quote actually paid to the taker.
func (m *Market) settleTakerSell(tk takerCtx, makerIdx, makerSeat uint32, makerTrader TraderID,
	makerType OrderType, price Price, fillBase, fillQuote uint64) (uint64, error) {
	payout := fillQuote
	switch makerType {
	case Global:
		if err := m.backing.Withdraw(makerTrader, false, payout); err != nil {
			return 0, fmt.Errorf("global backing: %w", err)
		}
	default:
		rem := m.orderRemaining(makerIdx)
		lockBefore, err := price.QuoteForBase(rem, true)
		if err != nil {
			return 0, err
		}
		lockAfter, err := price.QuoteForBase(rem-fillBase, true)
		if err != nil {
			return 0, err
		}
		released := lockBefore - lockAfter
		switch {
		case payout < released:
			m.setSeatQuote(makerSeat, m.seatQuote(makerSeat)+(released-payout))
		case payout > released:
			short := payout - released
			if mq := m.seatQuote(makerSeat); mq >= short {
				m.setSeatQuote(makerSeat, mq-short)
			} else {
				payout = released
			}
		}
	}
	if tk.seatIdx != NIL {
		b := m.seatBase(tk.seatIdx)
		if b < fillBase {
			return 0, fmt.Errorf("taker base %d < fill %d: %w", b, fillBase, ErrInsufficientFunds)
		}
		m.setSeatBase(tk.seatIdx, b-fillBase)
		m.setSeatQuote(tk.seatIdx, m.seatQuote(tk.seatIdx)+payout)
		if err := m.applyFill(tk.seatIdx, -int64(fillBase), payout); err != nil {
			return 0, err
		}
	}
	if makerType != Reverse {
		m.setSeatBase(makerSeat, m.seatBase(makerSeat)+fillBase)
	}
	if err := m.applyFill(makerSeat, int64(fillBase), payout); err != nil {
		return 0, err
	}
	return payout, nil
}

// flipReverse re-posts the filled size of a reverse maker on the opposite
// side at the spread-adjusted price. A filled bid funds the new ask with
// the base it just bought; a filled ask funds the new bid with the quote it
// just received, locking the rounded-up amount and crediting any surplus
// back to the seat so the flipped inventory reconciles exactly. In the
// corner where the new lock exceeds the proceeds and the seat cannot cover
// the difference, the flip is skipped and the proceeds credited instead.
func (m *Market) flipReverse(seatIdx uint32, oldSide Side, oldPrice Price,
	fillBase, fillQuote uint64, spread uint32, lastValidSlot uint64) error {
	newPrice, err := oldPrice.flip(spread, oldSide == Bid)
	if err != nil {
		return err
	}
	newSide := oldSide.Opposite()
	var surplus uint64
	if newSide == Bid {
		lock, err := newPrice.QuoteForBase(fillBase, true)
		if err != nil {
			return err
		}
		if lock > fillQuote {
			short := lock - fillQuote
			q := m.seatQuote(seatIdx)
			if q < short {
				m.setSeatQuote(seatIdx, q+fillQuote)
				return nil
			}
			m.setSeatQuote(seatIdx, q-short)
		} else {
			surplus = fillQuote - lock
		}
	}
	idx, err := m.alloc(blockOrder)
	if err != nil {
		return err
	}
	if surplus > 0 {
		m.setSeatQuote(seatIdx, m.seatQuote(seatIdx)+surplus)
	}
	h := m.header()
	seq := h.nextSeq()
	h.setNextSeq(seq + 1)
	m.writeOrder(idx, seq, seatIdx, newPrice, fillBase, newSide, Reverse, lastValidSlot, spread)
	m.insertOrder(idx)
	return nil
}

// removeRestingOrder unlinks an order, refunds whatever its seat still has
// locked for it, and frees the block. Global orders hold no seat lock.
func (m *Market) removeRestingOrder(idx uint32) error {
	seatIdx := m.orderSeat(idx)
	if m.orderType(idx) != Global {
		rem := m.orderRemaining(idx)
		if m.orderSide(idx) == Bid {
			lock, err := m.orderPrice(idx).QuoteForBase(rem, true)
			if err != nil {
				return err
			}
			m.setSeatQuote(seatIdx, m.seatQuote(seatIdx)+lock)
		} else {
			m.setSeatBase(seatIdx, m.seatBase(seatIdx)+rem)
		}
	}
	return m.removeOrderBlock(idx)
}

// removeOrderBlock unlinks an order from its tree and frees the block with
// no refund. Used when the lock was fully consumed by fills.
func (m *Market) removeOrderBlock(idx uint32) error {
	m.unlinkOrder(idx)
	return m.free(idx, blockOrder)
}

const maxU64 = math.MaxUint64
