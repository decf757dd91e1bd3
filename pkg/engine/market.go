package engine

import (
	"fmt"

	"github.com/ethereum/go-ethereum/common"
)

// Market is one CLOB market. All state lives in a single contiguous byte
// buffer: a fixed header followed by equal-size blocks holding the seat
// tree, both book trees, and the free list. The buffer is the persisted
// form; LoadMarket over the same bytes reconstructs the market exactly.
//
// A Market is not safe for concurrent use. The host serializes instructions
// per market, mirroring the single-threaded invocation model.
type Market struct {
	buf     []byte
	backing GlobalBacking
}

// GlobalBacking is the shared reservation account that funds Global orders.
// Its accounting lives outside the market buffer; the engine only asks
// whether a maker is still backed and withdraws the maker-side asset on a
// fill. With no backing configured every global maker is unbacked and gets
// removed when the matcher reaches it.
type GlobalBacking interface {
	// Backed reports whether the trader can deliver amount atoms of the
	// asset (base=true for base atoms, false for quote atoms).
	Backed(trader TraderID, base bool, amount uint64) bool
	// Withdraw moves amount atoms out of the trader's reservation to fund
	// a fill.
	Withdraw(trader TraderID, base bool, amount uint64) error
}

// Params configures a new market. The immutable fields are fixed at
// creation; Blocks is the initial free pool and can grow via Expand.
type Params struct {
	BaseMint       common.Hash
	QuoteMint      common.Hash
	BaseDecimals   uint8
	QuoteDecimals  uint8
	MaintenanceBps uint32
	Blocks         uint32
}

// CreateMarket builds an empty market: header initialized, trees empty,
// every block on the free list.
func CreateMarket(p Params) (*Market, error) {
	if p.MaintenanceBps >= 10_000 {
		return nil, fmt.Errorf("maintenance bps %d: %w", p.MaintenanceBps, ErrInvalidArgument)
	}
	m := &Market{buf: make([]byte, HeaderSize)}
	h := m.header()
	h.setU32(offMagic, marketMagic)
	m.buf[offVersion] = marketVersion
	m.buf[offBaseDecimals] = p.BaseDecimals
	m.buf[offQuoteDecimals] = p.QuoteDecimals
	copy(m.buf[offBaseMint:], p.BaseMint[:])
	copy(m.buf[offQuoteMint:], p.QuoteMint[:])
	h.setBidsRoot(NIL)
	h.setAsksRoot(NIL)
	h.setBidsBest(NIL)
	h.setAsksBest(NIL)
	h.setSeatsRoot(NIL)
	h.setFreeHead(NIL)
	h.setU32(offMaintBps, p.MaintenanceBps)
	h.setNextSeq(1)
	m.Expand(p.Blocks)
	return m, nil
}

// LoadMarket wraps an existing market buffer. The buffer is used in place,
// not copied.
func LoadMarket(buf []byte) (*Market, error) {
	if len(buf) < HeaderSize {
		return nil, fmt.Errorf("buffer too small (%d bytes): %w", len(buf), ErrInvalidArgument)
	}
	m := &Market{buf: buf}
	h := m.header()
	if h.magic() != marketMagic {
		return nil, fmt.Errorf("bad market magic %#x: %w", h.magic(), ErrInvalidArgument)
	}
	if h.version() != marketVersion {
		return nil, fmt.Errorf("unsupported market version %d: %w", h.version(), ErrInvalidArgument)
	}
	want := HeaderSize + int(h.numBlocks())*BlockSize
	if len(buf) != want {
		return nil, fmt.Errorf("buffer length %d, header expects %d: %w", len(buf), want, ErrInvalidArgument)
	}
	// The oracle feed price field is i64 and reads reject non-positive
	// values, so a cached mantissa at or above 2^63 cannot have come from a
	// valid crank.
	if h.oracleMantissa() >= 1<<63 {
		return nil, fmt.Errorf("cached oracle mantissa out of range: %w", ErrInvalidArgument)
	}
	return m, nil
}

// SetBacking installs the global-order reservation hook.
func (m *Market) SetBacking(b GlobalBacking) { m.backing = b }

func (m *Market) header() header { return header{b: m.buf[:HeaderSize]} }

// Bytes returns the live buffer. It remains owned by the market and is
// invalidated by Expand; callers persisting it should use Snapshot.
func (m *Market) Bytes() []byte { return m.buf }

// Snapshot returns a copy of the buffer, suitable for persistence.
func (m *Market) Snapshot() []byte {
	return append([]byte(nil), m.buf...)
}

// checkpoint and restore give ops the all-or-nothing boundary the host's
// transactional account writes would otherwise provide.
func (m *Market) checkpoint() []byte {
	return append([]byte(nil), m.buf...)
}

func (m *Market) restore(cp []byte) { m.buf = cp }

// Exported header reads.

func (m *Market) BaseMint() common.Hash { return m.header().baseMint() }
func (m *Market) QuoteMint() common.Hash { return m.header().quoteMint() }
func (m *Market) BaseDecimals() uint8 { return m.header().baseDecimals() }
func (m *Market) QuoteDecimals() uint8 { return m.header().quoteDecimals() }
func (m *Market) MaintenanceBps() uint32 { return m.header().maintenanceBps() }
func (m *Market) NextSequence() uint64 { return m.header().nextSeq() }
func (m *Market) TotalLongBase() uint64 { return m.header().totalLong() }
func (m *Market) TotalShortBase() uint64 { return m.header().totalShort() }
func (m *Market) LastFundingTs() int64 { return m.header().lastFundingTs() }
func (m *Market) CumulativeFunding() int64 {
	return m.header().cumulativeFunding()
}
func (m *Market) NumBlocks() uint32 { return m.header().numBlocks() }
func (m *Market) FreeBlocks() uint32 { return m.freeBlockCount() }

// OraclePrice returns the cached oracle price and whether one is set.
func (m *Market) OraclePrice() (mantissa uint64, exponent int32, ok bool) {
	h := m.header()
	return h.oracleMantissa(), h.oracleExponent(), h.oracleMantissa() > 0
}

// SetOraclePrice caches an oracle price on the header. The funding crank
// does this from the feed; it is exported for fixtures and recovery tooling.
func (m *Market) SetOraclePrice(mantissa uint64, exponent int32) {
	m.header().setOraclePrice(mantissa, exponent)
}

// usedBlockCount walks both book trees and the seat tree.
func (m *Market) usedBlockCount() uint32 {
	var count uint32
	for _, side := range []Side{Bid, Ask} {
		t := m.bookTree(side)
		for idx := t.min(m.bookRoot(side)); idx != NIL; idx = t.successor(idx) {
			count++
		}
	}
	st := m.seatTree()
	for idx := st.min(m.header().seatsRoot()); idx != NIL; idx = st.successor(idx) {
		count++
	}
	return count
}

// CheckInvariants verifies the buffer's structural invariants: no block
// leaks, an uncrossed book, and position totals that agree with the header
// counters. Used by tests and the seedbook fixture.
func (m *Market) CheckInvariants() error {
	if got, want := m.freeBlockCount()+m.usedBlockCount(), m.header().numBlocks(); got != want {
		return fmt.Errorf("block leak: free+used=%d, total=%d: %w", got, want, ErrInvalidArgument)
	}
	bb, hasBid := m.BestBid()
	ba, hasAsk := m.BestAsk()
	if hasBid && hasAsk && bb.Price.Cmp(ba.Price) > 0 {
		return fmt.Errorf("crossed book: bid %v > ask %v: %w", bb.Price, ba.Price, ErrInvalidArgument)
	}
	var sum int64
	st := m.seatTree()
	for idx := st.min(m.header().seatsRoot()); idx != NIL; idx = st.successor(idx) {
		sum += m.seatPosition(idx)
	}
	if sum != int64(m.header().totalLong())-int64(m.header().totalShort()) {
		return fmt.Errorf("position totals drift: %w", ErrInvalidArgument)
	}
	return nil
}
