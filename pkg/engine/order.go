package engine

import "encoding/binary"

// Side of the book an order rests on.
type Side uint8

const (
	Bid Side = iota
	Ask
)

func (s Side) String() string {
	if s == Bid {
		return "bid"
	}
	return "ask"
}

// Opposite returns the other side.
func (s Side) Opposite() Side {
	if s == Bid {
		return Ask
	}
	return Bid
}

// OrderType selects matching and resting behavior.
type OrderType uint8

const (
	// Limit matches what crosses and rests the residue.
	Limit OrderType = iota
	// ImmediateOrCancel matches what crosses and discards the residue.
	ImmediateOrCancel
	// FillOrKill matches fully or not at all.
	FillOrKill
	// PostOnly rests without matching; placement fails if it would cross.
	PostOnly
	// Global rests with funds in a shared external reservation instead of
	// the seat. Unbacked global makers are removed during matching.
	Global
	// Reverse re-posts the filled size on the opposite side at a
	// spread-adjusted price.
	Reverse
)

func (t OrderType) String() string {
	switch t {
	case Limit:
		return "limit"
	case ImmediateOrCancel:
		return "ioc"
	case FillOrKill:
		return "fok"
	case PostOnly:
		return "post_only"
	case Global:
		return "global"
	case Reverse:
		return "reverse"
	default:
		return "unknown"
	}
}

// NoExpiration means the order never expires by slot.
const NoExpiration uint64 = 0

// Resting-order payload offsets (relative to the block payload).
const (
	orderOffSeq       = 0  // u64, unique within market
	orderOffRemaining = 8  // u64 base atoms
	orderOffLastSlot  = 16 // u64, 0 = never expires
	orderOffSeat      = 24 // u32 owning seat block index
	orderOffMantissa  = 28 // u32 price mantissa
	orderOffExponent  = 32 // i8 price exponent
	orderOffSide      = 33 // u8
	orderOffType      = 34 // u8
	orderOffSpread    = 36 // u32, 1/100_000 units, reverse orders only
)

func (m *Market) orderSeq(idx uint32) uint64 {
	return binary.LittleEndian.Uint64(m.payload(idx)[orderOffSeq:])
}
func (m *Market) orderRemaining(idx uint32) uint64 {
	return binary.LittleEndian.Uint64(m.payload(idx)[orderOffRemaining:])
}
func (m *Market) setOrderRemaining(idx uint32, v uint64) {
	binary.LittleEndian.PutUint64(m.payload(idx)[orderOffRemaining:], v)
}
func (m *Market) orderLastValidSlot(idx uint32) uint64 {
	return binary.LittleEndian.Uint64(m.payload(idx)[orderOffLastSlot:])
}
func (m *Market) orderSeat(idx uint32) uint32 {
	return binary.LittleEndian.Uint32(m.payload(idx)[orderOffSeat:])
}
func (m *Market) orderPrice(idx uint32) Price {
	p := m.payload(idx)
	return Price{
		Mantissa: binary.LittleEndian.Uint32(p[orderOffMantissa:]),
		Exponent: int8(p[orderOffExponent]),
	}
}
func (m *Market) orderSide(idx uint32) Side {
	return Side(m.payload(idx)[orderOffSide])
}
func (m *Market) orderType(idx uint32) OrderType {
	return OrderType(m.payload(idx)[orderOffType])
}
func (m *Market) orderSpread(idx uint32) uint32 {
	return binary.LittleEndian.Uint32(m.payload(idx)[orderOffSpread:])
}

// writeOrder fills a freshly allocated order block's payload.
func (m *Market) writeOrder(idx uint32, seq uint64, seatIdx uint32, price Price,
	remaining uint64, side Side, typ OrderType, lastValidSlot uint64, spread uint32) {
	p := m.payload(idx)
	binary.LittleEndian.PutUint64(p[orderOffSeq:], seq)
	binary.LittleEndian.PutUint64(p[orderOffRemaining:], remaining)
	binary.LittleEndian.PutUint64(p[orderOffLastSlot:], lastValidSlot)
	binary.LittleEndian.PutUint32(p[orderOffSeat:], seatIdx)
	binary.LittleEndian.PutUint32(p[orderOffMantissa:], price.Mantissa)
	p[orderOffExponent] = byte(price.Exponent)
	p[orderOffSide] = byte(side)
	p[orderOffType] = byte(typ)
	binary.LittleEndian.PutUint32(p[orderOffSpread:], spread)
}

// Order is a read-only snapshot of a resting order.
type Order struct {
	Sequence      uint64
	Trader        TraderID
	Price         Price
	Remaining     uint64
	Side          Side
	Type          OrderType
	LastValidSlot uint64
	Spread        uint32
}

func (m *Market) orderSnapshot(idx uint32) Order {
	return Order{
		Sequence:      m.orderSeq(idx),
		Trader:        m.seatTrader(m.orderSeat(idx)),
		Price:         m.orderPrice(idx),
		Remaining:     m.orderRemaining(idx),
		Side:          m.orderSide(idx),
		Type:          m.orderType(idx),
		LastValidSlot: m.orderLastValidSlot(idx),
		Spread:        m.orderSpread(idx),
	}
}
