package engine

import "fmt"

// PlaceOrderParams is the deserialized place instruction.
type PlaceOrderParams struct {
	Trader        TraderID
	Side          Side
	BaseAtoms     uint64
	Price         Price
	Type          OrderType
	LastValidSlot uint64
	Spread        uint32
	Slot          uint64
}

// PlaceResult reports what a place did: fills from crossing, and the
// sequence number of the rested residue if any. Sequence numbers are
// assigned at book insertion, so a fully filled taker has none.
type PlaceResult struct {
	Sequence    uint64
	Rested      bool
	Fills       []FillEvent
	BaseTraded  uint64
	QuoteTraded uint64
}

// PlaceOrder locks the appropriate asset, matches what crosses, and rests
// the residue according to the order type.
//
// On ErrCapacity the match stopped early at a reverse flip with no free
// block: fills already made stay committed (fill-or-kill still restores).
// Every other error leaves the buffer unchanged.
func (m *Market) PlaceOrder(p PlaceOrderParams) (PlaceResult, error) {
	if p.BaseAtoms == 0 {
		return PlaceResult{}, fmt.Errorf("zero base atoms: %w", ErrInvalidArgument)
	}
	if p.Price.IsZero() {
		return PlaceResult{}, fmt.Errorf("zero price: %w", ErrInvalidArgument)
	}
	if p.Type == Reverse && p.Spread >= spreadDenominator {
		return PlaceResult{}, fmt.Errorf("reverse spread %d too wide: %w", p.Spread, ErrInvalidArgument)
	}
	if p.LastValidSlot != NoExpiration && p.Slot > p.LastValidSlot {
		return PlaceResult{}, fmt.Errorf("order expired at slot %d: %w", p.LastValidSlot, ErrExpired)
	}
	seatIdx := m.TraderIndex(p.Trader)
	if seatIdx == NIL {
		return PlaceResult{}, fmt.Errorf("trader %s has no seat: %w", p.Trader.Hex(), ErrNotFound)
	}

	if p.Type == PostOnly {
		if best := m.bookBest(p.Side.Opposite()); best != NIL {
			bp := m.orderPrice(best)
			crossed := (p.Side == Bid && bp.Cmp(p.Price) <= 0) ||
				(p.Side == Ask && bp.Cmp(p.Price) >= 0)
			if crossed {
				return PlaceResult{}, fmt.Errorf("post-only would cross at %v: %w", bp, ErrInvalidArgument)
			}
		}
	}

	cp := m.checkpoint()
	var res PlaceResult

	if p.Type != PostOnly {
		tk := takerCtx{
			side:     p.Side,
			seatIdx:  seatIdx,
			trader:   p.Trader,
			limit:    p.Price,
			hasLimit: true,
			slot:     p.Slot,
		}
		mr, err := m.matchLoop(tk, p.BaseAtoms, 0, false)
		res.Fills = mr.Fills
		res.BaseTraded = mr.BaseTraded
		res.QuoteTraded = mr.QuoteTraded
		if err != nil {
			if err == ErrCapacity && p.Type != FillOrKill {
				return res, err
			}
			m.restore(cp)
			return PlaceResult{}, err
		}
	}

	residue := p.BaseAtoms - res.BaseTraded
	switch {
	case residue == 0:
		return res, nil
	case p.Type == ImmediateOrCancel:
		return res, nil
	case p.Type == FillOrKill:
		m.restore(cp)
		return PlaceResult{}, fmt.Errorf("fill-or-kill filled %d of %d: %w",
			res.BaseTraded, p.BaseAtoms, ErrSlippage)
	}

	seq, err := m.restOrder(seatIdx, p, residue)
	if err != nil {
		m.restore(cp)
		return PlaceResult{}, err
	}
	res.Sequence = seq
	res.Rested = true
	return res, nil
}

// restOrder debits the lock for the residue and inserts it into the book.
func (m *Market) restOrder(seatIdx uint32, p PlaceOrderParams, residue uint64) (uint64, error) {
	if p.Type != Global {
		if p.Side == Bid {
			lock, err := p.Price.QuoteForBase(residue, true)
			if err != nil {
				return 0, err
			}
			q := m.seatQuote(seatIdx)
			if q < lock {
				return 0, fmt.Errorf("quote %d < lock %d: %w", q, lock, ErrInsufficientFunds)
			}
			m.setSeatQuote(seatIdx, q-lock)
		} else {
			b := m.seatBase(seatIdx)
			if b < residue {
				return 0, fmt.Errorf("base %d < lock %d: %w", b, residue, ErrInsufficientFunds)
			}
			m.setSeatBase(seatIdx, b-residue)
		}
	}
	idx, err := m.alloc(blockOrder)
	if err != nil {
		return 0, err
	}
	h := m.header()
	seq := h.nextSeq()
	h.setNextSeq(seq + 1)
	m.writeOrder(idx, seq, seatIdx, p.Price, residue, p.Side, p.Type, p.LastValidSlot, p.Spread)
	m.insertOrder(idx)
	return seq, nil
}

// CancelOrder removes the trader's order and refunds the unfilled lock.
func (m *Market) CancelOrder(trader TraderID, sequence uint64) error {
	seatIdx := m.TraderIndex(trader)
	if seatIdx == NIL {
		return fmt.Errorf("trader %s has no seat: %w", trader.Hex(), ErrNotFound)
	}
	idx, ok := m.findOrder(sequence)
	if !ok || m.orderSeat(idx) != seatIdx {
		return fmt.Errorf("order %d: %w", sequence, ErrNotFound)
	}
	return m.removeRestingOrder(idx)
}

// Deposit credits a seat balance. The host has already performed the token
// transfer into the vault.
func (m *Market) Deposit(trader TraderID, base bool, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("zero deposit: %w", ErrInvalidArgument)
	}
	seatIdx := m.TraderIndex(trader)
	if seatIdx == NIL {
		return fmt.Errorf("trader %s has no seat: %w", trader.Hex(), ErrNotFound)
	}
	if base {
		cur := m.seatBase(seatIdx)
		if cur+amount < cur {
			return fmt.Errorf("base balance: %w", ErrOverflow)
		}
		m.setSeatBase(seatIdx, cur+amount)
	} else {
		cur := m.seatQuote(seatIdx)
		if cur+amount < cur {
			return fmt.Errorf("quote balance: %w", ErrOverflow)
		}
		m.setSeatQuote(seatIdx, cur+amount)
	}
	return nil
}

// Withdraw debits a seat balance. Locked funds are not withdrawable; only
// the withdrawable balance is checked.
func (m *Market) Withdraw(trader TraderID, base bool, amount uint64) error {
	if amount == 0 {
		return fmt.Errorf("zero withdraw: %w", ErrInvalidArgument)
	}
	seatIdx := m.TraderIndex(trader)
	if seatIdx == NIL {
		return fmt.Errorf("trader %s has no seat: %w", trader.Hex(), ErrNotFound)
	}
	if base {
		cur := m.seatBase(seatIdx)
		if cur < amount {
			return fmt.Errorf("base %d < %d: %w", cur, amount, ErrInsufficientFunds)
		}
		m.setSeatBase(seatIdx, cur-amount)
	} else {
		cur := m.seatQuote(seatIdx)
		if cur < amount {
			return fmt.Errorf("quote %d < %d: %w", cur, amount, ErrInsufficientFunds)
		}
		m.setSeatQuote(seatIdx, cur-amount)
	}
	return nil
}

// BatchUpdate applies cancels then places as one atomic instruction: any
// failure, including a capacity stop, rolls the whole batch back.
func (m *Market) BatchUpdate(trader TraderID, cancels []uint64, places []PlaceOrderParams) ([]PlaceResult, error) {
	cp := m.checkpoint()
	for _, seq := range cancels {
		if err := m.CancelOrder(trader, seq); err != nil {
			m.restore(cp)
			return nil, fmt.Errorf("batch cancel %d: %w", seq, err)
		}
	}
	results := make([]PlaceResult, 0, len(places))
	for i, p := range places {
		p.Trader = trader
		r, err := m.PlaceOrder(p)
		if err != nil {
			m.restore(cp)
			return nil, fmt.Errorf("batch place %d: %w", i, err)
		}
		results = append(results, r)
	}
	return results, nil
}

// SwapParams is the deserialized swap instruction. Swaps need no seat: the
// taker side settles against the caller's wallet through the host.
type SwapParams struct {
	Trader    TraderID
	AmountIn  uint64 // exact-in: exact input; exact-out: input cap
	AmountOut uint64 // exact-in: minimum output; exact-out: exact output
	IsBaseIn  bool
	IsExactIn bool
	Slot      uint64
}

// SwapResult reports the atoms actually moved. In is what the host must
// collect from the swapper, Out what it must pay.
type SwapResult struct {
	In    uint64
	Out   uint64
	Fills []FillEvent
}

// Swap matches against the book with no limit price and no resting residue.
// Exact-in swaps that cannot meet AmountOut, and exact-out swaps that would
// exceed AmountIn or exhaust the book, fail with ErrSlippage and change
// nothing.
func (m *Market) Swap(p SwapParams) (SwapResult, error) {
	if p.AmountIn == 0 {
		return SwapResult{}, fmt.Errorf("zero amount in: %w", ErrInvalidArgument)
	}
	if !p.IsExactIn && p.AmountOut == 0 {
		return SwapResult{}, fmt.Errorf("exact-out swap with zero amount out: %w", ErrInvalidArgument)
	}
	cp := m.checkpoint()
	tk := takerCtx{seatIdx: NIL, trader: p.Trader, swap: true, slot: p.Slot}

	var (
		mr  matchResult
		err error
	)
	if p.IsBaseIn {
		tk.side = Ask
		if p.IsExactIn {
			mr, err = m.matchLoop(tk, p.AmountIn, 0, false)
		} else {
			mr, err = m.matchLoop(tk, p.AmountIn, p.AmountOut, true)
		}
	} else {
		tk.side = Bid
		if p.IsExactIn {
			mr, err = m.matchLoop(tk, maxU64, p.AmountIn, true)
		} else {
			mr, err = m.matchLoop(tk, p.AmountOut, p.AmountIn, true)
		}
	}
	res := SwapResult{Fills: mr.Fills}
	if p.IsBaseIn {
		res.In, res.Out = mr.BaseTraded, mr.QuoteTraded
	} else {
		res.In, res.Out = mr.QuoteTraded, mr.BaseTraded
	}
	if err != nil {
		if err == ErrCapacity && p.IsExactIn {
			// Early stop with fills committed; the output check below
			// still applies to what was traded.
			if res.Out < p.AmountOut {
				m.restore(cp)
				return SwapResult{}, fmt.Errorf("capacity stop under min out: %w", ErrSlippage)
			}
			return res, err
		}
		m.restore(cp)
		return SwapResult{}, err
	}
	if res.Out < p.AmountOut {
		m.restore(cp)
		return SwapResult{}, fmt.Errorf("out %d < required %d: %w", res.Out, p.AmountOut, ErrSlippage)
	}
	return res, nil
}
