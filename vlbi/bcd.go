package vlbi

import "fmt"

// BCDDecode interprets every nibble of v as a decimal digit.
func BCDDecode(v uint64) (uint64, error) {
	var out uint64
	factor := uint64(1)
	for x := v; x != 0; x >>= 4 {
		digit := x & 0xf
		if digit > 9 {
			return 0, fmt.Errorf("%w: %#x", ErrBCD, v)
		}
		out += digit * factor
		factor *= 10
	}
	return out, nil
}

func BCDDecodeAll(vs []uint64) ([]uint64, error) {
	out := make([]uint64, len(vs))
	for i, v := range vs {
		d, err := BCDDecode(v)
		if err != nil {
			return nil, fmt.Errorf("element %d: %w", i, err)
		}
		out[i] = d
	}
	return out, nil
}

// BCDEncode packs the decimal digits of v into nibbles.
func BCDEncode(v int64) (uint64, error) {
	if v < 0 {
		return 0, fmt.Errorf("%w: negative value %d", ErrBCD, v)
	}
	var out uint64
	shift := uint(0)
	for x := v; x != 0; x /= 10 {
		if shift >= 64 {
			return 0, fmt.Errorf("%w: %d has too many digits", ErrBCD, v)
		}
		out |= uint64(x%10) << shift
		shift += 4
	}
	return out, nil
}
