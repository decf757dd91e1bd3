package engine

import (
	"encoding/binary"

	"github.com/ethereum/go-ethereum/common"
)

// The market buffer is a fixed header followed by equal-size blocks. All
// scalars are little-endian; all cross-references are 32-bit block indices
// so the whole buffer is relocatable.
const (
	// HeaderSize is the byte length of the fixed header region.
	HeaderSize = 160
	// BlockSize is the byte length of one dynamic block. Large enough for a
	// tree node embedding the biggest payload variant.
	BlockSize = 80
	// NIL is the index sentinel for "no block".
	NIL uint32 = 0xFFFF_FFFF

	// marketMagic guards against loading something that is not a market.
	marketMagic   uint32 = 0x504b_424b // "PKBK"
	marketVersion byte   = 1
)

// Fixed header field offsets.
const (
	offMagic         = 0   // u32
	offVersion       = 4   // u8
	offBaseDecimals  = 5   // u8
	offQuoteDecimals = 6   // u8
	offBaseMint      = 8   // 32 bytes
	offQuoteMint     = 40  // 32 bytes
	offBidsRoot      = 72  // u32
	offAsksRoot      = 76  // u32
	offBidsBest      = 80  // u32
	offAsksBest      = 84  // u32
	offSeatsRoot     = 88  // u32
	offFreeHead      = 92  // u32
	offNumBlocks     = 96  // u32
	offMaintBps      = 100 // u32
	offNextSeq       = 104 // u64
	offTotalLong     = 112 // u64
	offTotalShort    = 120 // u64
	offOracleMant    = 128 // u64
	offOracleExpo    = 136 // i32
	offLastFunding   = 144 // i64
	offCumFunding    = 152 // i64
)

// header is a typed view over the fixed region of the market buffer.
type header struct {
	b []byte
}

func (h header) u32(off int) uint32 { return binary.LittleEndian.Uint32(h.b[off:]) }
func (h header) setU32(off int, v uint32) {
	binary.LittleEndian.PutUint32(h.b[off:], v)
}
func (h header) u64(off int) uint64 { return binary.LittleEndian.Uint64(h.b[off:]) }
func (h header) setU64(off int, v uint64) {
	binary.LittleEndian.PutUint64(h.b[off:], v)
}
func (h header) i64(off int) int64 { return int64(h.u64(off)) }
func (h header) setI64(off int, v int64) { h.setU64(off, uint64(v)) }

func (h header) magic() uint32 { return h.u32(offMagic) }
func (h header) version() byte { return h.b[offVersion] }
func (h header) baseDecimals() uint8 { return h.b[offBaseDecimals] }
func (h header) quoteDecimals() uint8 { return h.b[offQuoteDecimals] }

func (h header) baseMint() common.Hash { return common.BytesToHash(h.b[offBaseMint : offBaseMint+32]) }
func (h header) quoteMint() common.Hash { return common.BytesToHash(h.b[offQuoteMint : offQuoteMint+32]) }

func (h header) bidsRoot() uint32 { return h.u32(offBidsRoot) }
func (h header) setBidsRoot(v uint32) { h.setU32(offBidsRoot, v) }
func (h header) asksRoot() uint32 { return h.u32(offAsksRoot) }
func (h header) setAsksRoot(v uint32) { h.setU32(offAsksRoot, v) }
func (h header) bidsBest() uint32 { return h.u32(offBidsBest) }
func (h header) setBidsBest(v uint32) { h.setU32(offBidsBest, v) }
func (h header) asksBest() uint32 { return h.u32(offAsksBest) }
func (h header) setAsksBest(v uint32) { h.setU32(offAsksBest, v) }
func (h header) seatsRoot() uint32 { return h.u32(offSeatsRoot) }
func (h header) setSeatsRoot(v uint32) { h.setU32(offSeatsRoot, v) }
func (h header) freeHead() uint32 { return h.u32(offFreeHead) }
func (h header) setFreeHead(v uint32) { h.setU32(offFreeHead, v) }
func (h header) numBlocks() uint32 { return h.u32(offNumBlocks) }
func (h header) setNumBlocks(v uint32) { h.setU32(offNumBlocks, v) }
func (h header) maintenanceBps() uint32 { return h.u32(offMaintBps) }

func (h header) nextSeq() uint64 { return h.u64(offNextSeq) }
func (h header) setNextSeq(v uint64) { h.setU64(offNextSeq, v) }
func (h header) totalLong() uint64 { return h.u64(offTotalLong) }
func (h header) setTotalLong(v uint64) {
	h.setU64(offTotalLong, v)
}
func (h header) totalShort() uint64 { return h.u64(offTotalShort) }
func (h header) setTotalShort(v uint64) {
	h.setU64(offTotalShort, v)
}

func (h header) oracleMantissa() uint64 { return h.u64(offOracleMant) }
func (h header) oracleExponent() int32 { return int32(h.u32(offOracleExpo)) }
func (h header) setOraclePrice(mantissa uint64, exponent int32) {
	h.setU64(offOracleMant, mantissa)
	h.setU32(offOracleExpo, uint32(exponent))
}

func (h header) lastFundingTs() int64 { return h.i64(offLastFunding) }
func (h header) setLastFundingTs(v int64) { h.setI64(offLastFunding, v) }
func (h header) cumulativeFunding() int64 { return h.i64(offCumFunding) }
func (h header) setCumulativeFunding(v int64) {
	h.setI64(offCumFunding, v)
}
