package vlbi

import "math/bits"

// CRC computes cyclic redundancy checks over MSB-first bit streams. The
// register starts at zero and the message is followed by width zero bits,
// i.e. plain polynomial division without reflection or final xor.
type CRC struct {
	poly  uint64
	width int
}

func NewCRC(poly uint64) *CRC {
	return &CRC{poly: poly, width: bits.Len64(poly) - 1}
}

func (c *CRC) Width() int { return c.width }

func (c *CRC) Poly() uint64 { return c.poly }

// Compute returns the width check bits of stream, most significant first.
func (c *CRC) Compute(stream []bool) []bool {
	rem := c.remainder(stream, c.width)
	return Bits(rem, c.width)
}

// Check reports whether stream, which ends in its own check bits, divides
// cleanly by the polynomial.
func (c *CRC) Check(stream []bool) bool {
	return c.remainder(stream, 0) == 0
}

// Checksum is Compute for streams that fit in a single integer.
func (c *CRC) Checksum(value uint64, nbits int) uint64 {
	return c.remainder(Bits(value, nbits), c.width)
}

func (c *CRC) remainder(stream []bool, pad int) uint64 {
	top := uint64(1) << uint(c.width)
	mask := top - 1
	var reg uint64
	step := func(bit bool) {
		reg <<= 1
		if bit {
			reg |= 1
		}
		if reg&top != 0 {
			reg ^= c.poly
		}
		reg &= mask
	}
	for _, b := range stream {
		step(b)
	}
	for i := 0; i < pad; i++ {
		step(false)
	}
	return reg
}

// Bits expands the low n bits of v, most significant first.
func Bits(v uint64, n int) []bool {
	out := make([]bool, n)
	for i := 0; i < n; i++ {
		out[i] = v>>uint(n-1-i)&1 == 1
	}
	return out
}

// BitsValue packs an MSB-first bit stream of at most 64 bits.
func BitsValue(stream []bool) uint64 {
	var v uint64
	for _, b := range stream {
		v <<= 1
		if b {
			v |= 1
		}
	}
	return v
}
