package engine

import (
	"math"
	"math/bits"
)

// Price is quote atoms per base atom, represented as Mantissa * 10^Exponent.
// The mantissa fits in 32 bits so a price survives the packed block layout;
// the exponent covers both very small (e.g. 1e-18) and very large quotes.
type Price struct {
	Mantissa uint32
	Exponent int8
}

// pow10 holds the uint64 powers of ten. 10^19 is the largest that fits.
var pow10 = [20]uint64{
	1, 10, 100, 1000, 10000, 100000, 1000000, 10000000, 100000000,
	1000000000, 10000000000, 100000000000, 1000000000000, 10000000000000,
	100000000000000, 1000000000000000, 10000000000000000, 100000000000000000,
	1000000000000000000, 10000000000000000000,
}

// u128 is an unsigned 128-bit intermediate for price conversions.
type u128 struct {
	hi, lo uint64
}

func mul64(a, b uint64) u128 {
	hi, lo := bits.Mul64(a, b)
	return u128{hi: hi, lo: lo}
}

func (x u128) isZero() bool {
	return x.hi == 0 && x.lo == 0
}

func (x u128) cmp(y u128) int {
	if x.hi != y.hi {
		if x.hi < y.hi {
			return -1
		}
		return 1
	}
	if x.lo != y.lo {
		if x.lo < y.lo {
			return -1
		}
		return 1
	}
	return 0
}

// mulPow10 multiplies x by 10^n. The second return is false when the result
// does not fit in 128 bits.
func (x u128) mulPow10(n int) (u128, bool) {
	for n > 0 {
		if x.isZero() {
			return x, true
		}
		chunk := n
		if chunk > 19 {
			chunk = 19
		}
		d := pow10[chunk]
		hihi, hilo := bits.Mul64(x.hi, d)
		if hihi != 0 {
			return u128{}, false
		}
		lohi, lolo := bits.Mul64(x.lo, d)
		newHi := hilo + lohi
		if newHi < hilo {
			return u128{}, false
		}
		x = u128{hi: newHi, lo: lolo}
		n -= chunk
	}
	return x, true
}

// divPow10 divides x by 10^n, reporting whether any nonzero remainder was
// discarded along the way.
func (x u128) divPow10(n int) (u128, bool) {
	sticky := false
	for n > 0 && !x.isZero() {
		chunk := n
		if chunk > 19 {
			chunk = 19
		}
		var rem uint64
		x, rem = x.div64(pow10[chunk])
		if rem != 0 {
			sticky = true
		}
		n -= chunk
	}
	return x, sticky
}

// div64 divides x by d (d > 0), returning the 128-bit quotient and remainder.
func (x u128) div64(d uint64) (u128, uint64) {
	qhi := x.hi / d
	r := x.hi % d
	qlo, rem := bits.Div64(r, x.lo, d)
	return u128{hi: qhi, lo: qlo}, rem
}

// QuoteForBase converts base atoms to quote atoms at price p. The product is
// carried in 128 bits; roundUp selects the dust direction when the decimal
// shift discards a remainder. Fails with ErrOverflow past 2^64-1.
func (p Price) QuoteForBase(base uint64, roundUp bool) (uint64, error) {
	prod := mul64(uint64(p.Mantissa), base)
	e := int(p.Exponent)
	if e >= 0 {
		scaled, ok := prod.mulPow10(e)
		if !ok || scaled.hi != 0 {
			return 0, ErrOverflow
		}
		return scaled.lo, nil
	}
	q, sticky := prod.divPow10(-e)
	if q.hi != 0 {
		return 0, ErrOverflow
	}
	v := q.lo
	if roundUp && sticky {
		if v == math.MaxUint64 {
			return 0, ErrOverflow
		}
		v++
	}
	return v, nil
}

// BaseForQuote converts quote atoms to base atoms at price p, the inverse of
// QuoteForBase with the reciprocal rounding direction.
func (p Price) BaseForQuote(quote uint64, roundUp bool) (uint64, error) {
	if p.Mantissa == 0 {
		return 0, ErrOverflow
	}
	var (
		q   uint64
		rem bool
	)
	e := int(p.Exponent)
	if e >= 0 {
		divisor, ok := u128{lo: uint64(p.Mantissa)}.mulPow10(e)
		if !ok || divisor.hi != 0 {
			// Divisor exceeds any possible quote amount.
			q = 0
			rem = quote != 0
		} else {
			q = quote / divisor.lo
			rem = quote%divisor.lo != 0
		}
	} else {
		numerator, ok := u128{lo: quote}.mulPow10(-e)
		if !ok {
			return 0, ErrOverflow
		}
		q128, r := numerator.div64(uint64(p.Mantissa))
		if q128.hi != 0 {
			return 0, ErrOverflow
		}
		q = q128.lo
		rem = r != 0
	}
	if roundUp && rem {
		if q == math.MaxUint64 {
			return 0, ErrOverflow
		}
		q++
	}
	return q, nil
}

// Cmp compares two prices exactly, without loss from normalization.
// Returns -1, 0, or 1.
func (p Price) Cmp(o Price) int {
	if p.Mantissa == 0 || o.Mantissa == 0 {
		switch {
		case p.Mantissa == 0 && o.Mantissa == 0:
			return 0
		case p.Mantissa == 0:
			return -1
		default:
			return 1
		}
	}
	diff := int(p.Exponent) - int(o.Exponent)
	switch {
	case diff == 0:
		switch {
		case p.Mantissa < o.Mantissa:
			return -1
		case p.Mantissa > o.Mantissa:
			return 1
		default:
			return 0
		}
	case diff > 0:
		scaled, ok := u128{lo: uint64(p.Mantissa)}.mulPow10(diff)
		if !ok {
			return 1
		}
		return scaled.cmp(u128{lo: uint64(o.Mantissa)})
	default:
		scaled, ok := u128{lo: uint64(o.Mantissa)}.mulPow10(-diff)
		if !ok {
			return -1
		}
		return u128{lo: uint64(p.Mantissa)}.cmp(scaled)
	}
}

// IsZero reports a zero mantissa, which no resting order may carry.
func (p Price) IsZero() bool {
	return p.Mantissa == 0
}

// flip returns the price adjusted by spread hundred-thousandths: up=true for
// the ask leg after a bid fill, up=false for the bid leg after an ask fill.
// The mantissa is renormalized into 32 bits by shifting the exponent.
func (p Price) flip(spread uint32, up bool) (Price, error) {
	var scale uint64
	if up {
		scale = uint64(spreadDenominator) + uint64(spread)
	} else {
		if spread >= spreadDenominator {
			return Price{}, ErrInvalidArgument
		}
		scale = uint64(spreadDenominator) - uint64(spread)
	}
	// Shift the exponent instead of dividing by the denominator so the
	// adjusted price stays exact; spreadDenominator is 10^5.
	m := uint64(p.Mantissa) * scale
	e := int(p.Exponent) - 5
	for m > 0 && m%10 == 0 && e < math.MaxInt8 {
		m /= 10
		e++
	}
	for m > math.MaxUint32 {
		m /= 10
		e++
	}
	if m == 0 || e > math.MaxInt8 || e < math.MinInt8 {
		return Price{}, ErrOverflow
	}
	return Price{Mantissa: uint32(m), Exponent: int8(e)}, nil
}

// spreadDenominator scales reverse-order spreads: a spread of 10_000 is 10%.
const spreadDenominator uint32 = 100_000
