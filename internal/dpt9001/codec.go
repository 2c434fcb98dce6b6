package dpt9001

import (
	"fmt"
	"math"

	"github.com/shopspring/decimal"
)

// Format limits.
const (
	// MaxExponent is the largest 4-bit exponent.
	MaxExponent = 15

	// MinMantissa and MaxMantissa bound the 12-bit signed mantissa.
	MinMantissa = -2048
	MaxMantissa = 2047

	// Max is the largest encodable value (0x7FFF).
	Max = 670760.96

	// Min is the most negative encodable value (0xF800).
	Min = -671088.64

	signBit      = 0x8000
	exponentMask = 0x0F
	exponentBits = 11
	mantissaMask = 0x07FF
	mantissaSign = 0x0800
)

// maxCents is a coarse bound applied before the exponent search so that the
// integer conversion below can never overflow.
var maxCents = decimal.New(1, 9)

// pow5 holds 5^e. Dividing by 2^e is multiplying by 5^e and shifting the
// decimal point e places left, which keeps the quotient exact.
var pow5 = func() [MaxExponent + 1]decimal.Decimal {
	var p [MaxExponent + 1]decimal.Decimal
	v := int64(1)
	for e := range p {
		p[e] = decimal.NewFromInt(v)
		v *= 5
	}
	return p
}()

// Pack encodes v into its 16-bit DPT 9.001 form.
//
// The smallest exponent whose rounded mantissa fits in [-2048, 2047] is
// chosen. The sign bit follows the rounded mantissa, so a negative input that
// rounds to zero packs as 0x0000.
func Pack(v float64) (uint16, error) {
	if math.IsNaN(v) || math.IsInf(v, 0) {
		return 0, fmt.Errorf("%w: %v", ErrEncodingRange, v)
	}

	cents := decimal.NewFromFloat(v).Shift(2)
	if cents.Abs().GreaterThan(maxCents) {
		return 0, fmt.Errorf("%w: %v", ErrEncodingRange, v)
	}

	for e := 0; e <= MaxExponent; e++ {
		m := cents.Mul(pow5[e]).Shift(int32(-e)).RoundBank(0).IntPart()
		if m < MinMantissa || m > MaxMantissa {
			continue
		}
		return compose(int(m), e), nil
	}

	return 0, fmt.Errorf("%w: %v", ErrEncodingRange, v)
}

// MustPack is Pack for constants known to be in range. It panics otherwise.
func MustPack(v float64) uint16 {
	raw, err := Pack(v)
	if err != nil {
		panic(err)
	}
	return raw
}

// Unpack decodes a 16-bit DPT 9.001 value. Every bit pattern decodes,
// including 0x7FFF which KNX devices use as "invalid".
func Unpack(raw uint16) float64 {
	m, e := split(raw)
	return decimal.New(int64(m)<<e, -2).InexactFloat64()
}

// Step returns the resolution of the exponent raw was packed with, that is
// 0.01 * 2^e. A round trip through Pack and Unpack is exact to half a step.
func Step(raw uint16) float64 {
	_, e := split(raw)
	return decimal.New(int64(1)<<e, -2).InexactFloat64()
}

func compose(m, e int) uint16 {
	raw := uint16(e&exponentMask)<<exponentBits | uint16(m)&mantissaMask
	if m < 0 {
		raw |= signBit
	}
	return raw
}

func split(raw uint16) (m int, e uint) {
	m = int(raw & mantissaMask)
	if raw&signBit != 0 {
		m -= mantissaSign
	}
	e = uint(raw>>exponentBits) & exponentMask
	return m, e
}
