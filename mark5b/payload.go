package mark5b

import (
	"fmt"
	"io"

	"example.com/baseband/vlbi"
)

var (
	lut1bit = vlbi.NewLUTCodec(1, []float32{-1, 1}, quantize1Bit)
	lut2bit = vlbi.NewLUTCodec(2, []float32{
		-vlbi.Optimal2BitHigh, 1, -1, vlbi.Optimal2BitHigh,
	}, quantize2Bit)

	codecs = vlbi.NewCodecSet().
		Register(1, false, lut1bit).
		Register(2, false, lut2bit)
)

func quantize1Bit(v float32) uint8 {
	if v >= 0 {
		return 1
	}
	return 0
}

// quantize2Bit maps to codes 0..3 = -H, +1, -1, +H.
func quantize2Bit(v float32) uint8 {
	switch {
	case v >= 2:
		return 3
	case v >= 0:
		return 1
	case v >= -2:
		return 2
	}
	return 0
}

// Codecs is the set of Mark5B sample encodings.
func Codecs() *vlbi.CodecSet { return codecs }

// Levels decodes one payload byte.
func Levels(bps int, b byte) ([]float32, error) {
	switch bps {
	case 1:
		return lut1bit.Levels(b), nil
	case 2:
		return lut2bit.Levels(b), nil
	}
	return nil, fmt.Errorf("%w: bps=%d", vlbi.ErrUnsupportedCodec, bps)
}

func validateFormat(nchan, bps int) error {
	switch nchan {
	case 1, 2, 4, 8, 16, 32:
	default:
		return fmt.Errorf("%w: %d channels", ErrOptions, nchan)
	}
	if bps != 1 && bps != 2 {
		return fmt.Errorf("%w: %d bits per sample", ErrOptions, bps)
	}
	return nil
}

// SamplesPerFrame is the number of complete samples in one payload.
func SamplesPerFrame(nchan, bps int) int {
	return PayloadSize * 8 / (nchan * bps)
}

// Payload is a Mark5B payload of real samples for nchan channels.
type Payload struct {
	*vlbi.Payload
}

func NewPayload(words []uint32, nchan, bps int) (*Payload, error) {
	if err := validateFormat(nchan, bps); err != nil {
		return nil, err
	}
	if 4*len(words) != PayloadSize {
		return nil, fmt.Errorf("%w: payload of %d bytes, want %d", vlbi.ErrValidation, 4*len(words), PayloadSize)
	}
	p, err := vlbi.NewPayload(codecs, words, bps, []int{nchan}, false)
	if err != nil {
		return nil, err
	}
	return &Payload{Payload: p}, nil
}

func ReadPayload(r io.Reader, nchan, bps int) (*Payload, error) {
	words, err := vlbi.ReadWords(r, PayloadSize/4)
	if err != nil {
		return nil, err
	}
	return NewPayload(words, nchan, bps)
}

// PayloadFromData encodes a (samples, nchan) array.
func PayloadFromData(data *vlbi.Array, bps int) (*Payload, error) {
	if data.IsComplex() {
		return nil, fmt.Errorf("%w: Mark5B does not store complex data", vlbi.ErrValidation)
	}
	shape := data.Shape()
	if len(shape) != 2 {
		return nil, fmt.Errorf("%w: payload data must be (samples, channels), got %v", vlbi.ErrShape, shape)
	}
	if err := validateFormat(shape[1], bps); err != nil {
		return nil, err
	}
	if want := SamplesPerFrame(shape[1], bps); shape[0] != want {
		return nil, fmt.Errorf("%w: %d samples, a payload holds %d", vlbi.ErrShape, shape[0], want)
	}
	p, err := vlbi.PayloadFromData(codecs, data, bps)
	if err != nil {
		return nil, err
	}
	return &Payload{Payload: p}, nil
}

func (p *Payload) NChan() int { return p.SampleShape()[0] }

func (p *Payload) Equal(o *Payload) bool {
	if p == nil || o == nil {
		return p == o
	}
	return p.Payload.Equal(o.Payload)
}
