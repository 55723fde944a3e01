package vlbi

import "fmt"

// Optimal2BitHigh is the magnitude of the outer 2-bit levels that minimises
// quantisation error for Gaussian input when the inner levels are +/-1.
const Optimal2BitHigh = 3.316505

// InvalidPattern fills the words of payloads written as invalid.
const InvalidPattern = 0xFFFFFFFF

// LUTCodec decodes through a 256-entry table: each byte maps to 8/bps levels,
// the lowest bits first. Encoding runs every value through quantize and packs
// the codes back in the same order. Tables are built once and never modified.
type LUTCodec struct {
	bps      int
	perByte  int
	table    []float32
	quantize func(float32) uint8
}

// NewLUTCodec panics if bps does not divide 8 or levels has the wrong length;
// codecs are package-level tables built at init.
func NewLUTCodec(bps int, levels []float32, quantize func(float32) uint8) *LUTCodec {
	if bps <= 0 || 8%bps != 0 {
		panic(fmt.Sprintf("vlbi: lookup table for %d bits per sample", bps))
	}
	if len(levels) != 1<<uint(bps) {
		panic(fmt.Sprintf("vlbi: %d levels for %d bits per sample", len(levels), bps))
	}
	per := 8 / bps
	mask := 1<<uint(bps) - 1
	table := make([]float32, 256*per)
	for b := 0; b < 256; b++ {
		for j := 0; j < per; j++ {
			table[b*per+j] = levels[b>>(uint(j*bps))&mask]
		}
	}
	return &LUTCodec{bps: bps, perByte: per, table: table, quantize: quantize}
}

func (c *LUTCodec) BPS() int { return c.bps }

// Levels returns the decoded values of one byte.
func (c *LUTCodec) Levels(b byte) []float32 {
	i := int(b) * c.perByte
	return append([]float32(nil), c.table[i:i+c.perByte]...)
}

func (c *LUTCodec) Decode(words []uint32) []float32 {
	per := c.perByte
	out := make([]float32, len(words)*4*per)
	for i, w := range words {
		for k := 0; k < 4; k++ {
			b := int(byte(w >> uint(8*k)))
			copy(out[(4*i+k)*per:], c.table[b*per:(b+1)*per])
		}
	}
	return out
}

func (c *LUTCodec) Encode(values []float32) ([]uint32, error) {
	perWord := 32 / c.bps
	if len(values)%perWord != 0 {
		return nil, fmt.Errorf("%w: %d values do not fill whole words of %d", ErrShape, len(values), perWord)
	}
	words := make([]uint32, len(values)/perWord)
	for i := range words {
		var w uint32
		for j, v := range values[i*perWord : (i+1)*perWord] {
			w |= uint32(c.quantize(v)) << uint(j*c.bps)
		}
		words[i] = w
	}
	return words, nil
}
