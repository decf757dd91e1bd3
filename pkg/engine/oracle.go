package engine

import (
	"encoding/binary"
	"fmt"
)

// Oracle price accounts use a fixed little-endian layout. Only the fields
// below are read; everything else is ignored.
const (
	oracleMagic        uint32 = 0xa1b2c3d4
	oracleMinLen              = 240
	oracleOffExponent         = 20  // i32
	oracleOffPrice            = 208 // i64 aggregate price
	oracleOffConf             = 216 // u64 aggregate confidence
	oracleOffStatus           = 224 // u32
	oracleStatusTrading uint32 = 1
)

// OracleReading is a validated price sample from a feed account.
type OracleReading struct {
	Price      int64
	Exponent   int32
	Confidence uint64
}

// ReadOracle validates and extracts a price from feed account bytes. The
// sanity checks are magic, trading status, and a positive price; anything
// else about the feed is the oracle operator's problem.
func ReadOracle(data []byte) (OracleReading, error) {
	if len(data) < oracleMinLen {
		return OracleReading{}, fmt.Errorf("oracle account %d bytes, need %d: %w", len(data), oracleMinLen, ErrInvalidOracle)
	}
	if magic := binary.LittleEndian.Uint32(data); magic != oracleMagic {
		return OracleReading{}, fmt.Errorf("oracle magic %#x: %w", magic, ErrInvalidOracle)
	}
	if status := binary.LittleEndian.Uint32(data[oracleOffStatus:]); status != oracleStatusTrading {
		return OracleReading{}, fmt.Errorf("oracle status %d not trading: %w", status, ErrInvalidOracle)
	}
	price := int64(binary.LittleEndian.Uint64(data[oracleOffPrice:]))
	if price <= 0 {
		return OracleReading{}, fmt.Errorf("oracle price %d not positive: %w", price, ErrInvalidOracle)
	}
	return OracleReading{
		Price:      price,
		Exponent:   int32(binary.LittleEndian.Uint32(data[oracleOffExponent:])),
		Confidence: binary.LittleEndian.Uint64(data[oracleOffConf:]),
	}, nil
}
