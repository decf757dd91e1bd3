package engine

import (
	"bytes"
	"encoding/binary"
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// TraderID identifies a trader on a market. One claimed seat per id.
type TraderID = common.Hash

// Claimed-seat payload offsets (relative to the block payload).
const (
	seatOffTrader    = 0  // 32 bytes
	seatOffBase      = 32 // u64 base withdrawable atoms
	seatOffQuote     = 40 // u64 quote withdrawable atoms
	seatOffPosition  = 48 // i64 signed position, positive = long
	seatOffCostBasis = 56 // u64 quote cost basis
)

func (m *Market) seatTrader(idx uint32) TraderID {
	p := m.payload(idx)
	return common.BytesToHash(p[seatOffTrader : seatOffTrader+32])
}

func (m *Market) seatBase(idx uint32) uint64 {
	return binary.LittleEndian.Uint64(m.payload(idx)[seatOffBase:])
}
func (m *Market) setSeatBase(idx uint32, v uint64) {
	binary.LittleEndian.PutUint64(m.payload(idx)[seatOffBase:], v)
}
func (m *Market) seatQuote(idx uint32) uint64 {
	return binary.LittleEndian.Uint64(m.payload(idx)[seatOffQuote:])
}
func (m *Market) setSeatQuote(idx uint32, v uint64) {
	binary.LittleEndian.PutUint64(m.payload(idx)[seatOffQuote:], v)
}
func (m *Market) seatPosition(idx uint32) int64 {
	return int64(binary.LittleEndian.Uint64(m.payload(idx)[seatOffPosition:]))
}
func (m *Market) setSeatPosition(idx uint32, v int64) {
	binary.LittleEndian.PutUint64(m.payload(idx)[seatOffPosition:], uint64(v))
}
func (m *Market) seatCostBasis(idx uint32) uint64 {
	return binary.LittleEndian.Uint64(m.payload(idx)[seatOffCostBasis:])
}
func (m *Market) setSeatCostBasis(idx uint32, v uint64) {
	binary.LittleEndian.PutUint64(m.payload(idx)[seatOffCostBasis:], v)
}

// seatTree orders seats by trader id bytes.
func (m *Market) seatTree() tree {
	return tree{m: m, less: func(a, b uint32) bool {
		pa := m.payload(a)
		pb := m.payload(b)
		return bytes.Compare(pa[seatOffTrader:seatOffTrader+32], pb[seatOffTrader:seatOffTrader+32]) < 0
	}}
}

// TraderIndex returns the seat block index for a trader, or NIL.
func (m *Market) TraderIndex(trader TraderID) uint32 {
	idx := m.header().seatsRoot()
	for idx != NIL {
		cur := m.seatTrader(idx)
		cmp := bytes.Compare(trader[:], cur[:])
		switch {
		case cmp == 0:
			return idx
		case cmp < 0:
			idx = m.nodeLeft(idx)
		default:
			idx = m.nodeRight(idx)
		}
	}
	return NIL
}

// ClaimSeat creates a seat for the trader. Seats are never destroyed, so a
// second claim for the same id fails.
func (m *Market) ClaimSeat(trader TraderID) error {
	if m.TraderIndex(trader) != NIL {
		return fmt.Errorf("trader %s already has a seat: %w", trader.Hex(), ErrInvalidArgument)
	}
	idx, err := m.alloc(blockSeat)
	if err != nil {
		return err
	}
	copy(m.payload(idx)[seatOffTrader:], trader[:])
	h := m.header()
	h.setSeatsRoot(m.seatTree().insert(h.seatsRoot(), idx))
	return nil
}

// Seat is a read-only snapshot of a claimed seat, for queries and events.
type Seat struct {
	Trader            TraderID
	BaseWithdrawable  uint64
	QuoteWithdrawable uint64
	PositionSize      int64
	QuoteCostBasis    uint64
}

// SeatByTrader returns a snapshot of the trader's seat.
func (m *Market) SeatByTrader(trader TraderID) (Seat, error) {
	idx := m.TraderIndex(trader)
	if idx == NIL {
		return Seat{}, fmt.Errorf("trader %s: %w", trader.Hex(), ErrNotFound)
	}
	return m.seatSnapshot(idx), nil
}

func (m *Market) seatSnapshot(idx uint32) Seat {
	return Seat{
		Trader:            m.seatTrader(idx),
		BaseWithdrawable:  m.seatBase(idx),
		QuoteWithdrawable: m.seatQuote(idx),
		PositionSize:      m.seatPosition(idx),
		QuoteCostBasis:    m.seatCostBasis(idx),
	}
}

// Seats returns snapshots of every claimed seat in trader-id order.
func (m *Market) Seats() []Seat {
	t := m.seatTree()
	var out []Seat
	for idx := t.min(m.header().seatsRoot()); idx != NIL; idx = t.successor(idx) {
		out = append(out, m.seatSnapshot(idx))
	}
	return out
}

// applyFill moves the seat's position by baseDelta at a cost of quoteDelta
// and keeps the cost basis and the header's long/short totals consistent
// with invariant: sum of positions == total long - total short.
func (m *Market) applyFill(seatIdx uint32, baseDelta int64, quoteDelta uint64) error {
	old := m.seatPosition(seatIdx)
	next := old + baseDelta
	if (baseDelta > 0 && next < old) || (baseDelta < 0 && next > old) {
		return fmt.Errorf("position size: %w", ErrOverflow)
	}

	// Header totals track each seat's long/short contribution.
	h := m.header()
	oldLong, oldShort := positionSplit(old)
	newLong, newShort := positionSplit(next)
	h.setTotalLong(h.totalLong() - oldLong + newLong)
	h.setTotalShort(h.totalShort() - oldShort + newShort)

	basis := m.seatCostBasis(seatIdx)
	absOld := absU64(old)
	absNext := absU64(next)
	switch {
	case next == 0:
		basis = 0
	case old == 0 || (old > 0) == (next > 0):
		if absNext > absOld {
			basis += quoteDelta
		} else if basis > quoteDelta {
			basis -= quoteDelta
		} else {
			basis = 0
		}
	default:
		// Position flipped through zero: the basis of the new side is the
		// share of this fill that opened it.
		prod := mul64(quoteDelta, absNext)
		q, _ := prod.div64(absU64(baseDelta))
		if q.hi != 0 {
			return fmt.Errorf("cost basis: %w", ErrOverflow)
		}
		basis = q.lo
	}
	m.setSeatPosition(seatIdx, next)
	m.setSeatCostBasis(seatIdx, basis)
	return nil
}

func positionSplit(pos int64) (long, short uint64) {
	if pos > 0 {
		return uint64(pos), 0
	}
	return 0, absU64(pos)
}

func absU64(v int64) uint64 {
	if v < 0 {
		return uint64(-v)
	}
	return uint64(v)
}
