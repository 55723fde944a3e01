package vlbi

import (
	"fmt"
	"io"
)

// FrameHeader is what a frame needs from a format's header.
type FrameHeader interface {
	Get(name string) (uint64, error)
	Set(name string, v uint64) error
	Has(name string) bool
	Size() int
	Words() []uint32
	WriteTo(w io.Writer) (int64, error)
}

// Frame pairs a header with its payload. Samples of an invalid frame read
// as the fill value; the payload words are left alone.
type Frame struct {
	header  FrameHeader
	payload *Payload
	valid   bool
	fill    float32
}

func NewFrame(header FrameHeader, payload *Payload, valid bool) *Frame {
	return &Frame{header: header, payload: payload, valid: valid}
}

// FrameFromData encodes data into a new payload. An invalid frame gets its
// words overwritten with InvalidPattern.
func FrameFromData(header FrameHeader, data *Array, codecs *CodecSet, bps int, valid bool) (*Frame, error) {
	payload, err := PayloadFromData(codecs, data, bps)
	if err != nil {
		return nil, err
	}
	if !valid {
		payload.FillWords(InvalidPattern)
	}
	return NewFrame(header, payload, valid), nil
}

func (f *Frame) Header() FrameHeader { return f.header }

func (f *Frame) Payload() *Payload { return f.payload }

func (f *Frame) Valid() bool { return f.valid }

func (f *Frame) SetValid(v bool) { f.valid = v }

func (f *Frame) FillValue() float32 { return f.fill }

func (f *Frame) SetFillValue(v float32) { f.fill = v }

func (f *Frame) Shape() []int { return f.payload.Shape() }

func (f *Frame) IsComplex() bool { return f.payload.IsComplex() }

func (f *Frame) Size() int { return f.header.Size() + f.payload.Size() }

func (f *Frame) filled() *Array {
	shape := f.payload.Shape()
	a := NewArray(shape...)
	if f.payload.IsComplex() {
		a = NewComplexArray(shape...)
	}
	a.Fill(f.fill)
	return a
}

func (f *Frame) Data() (*Array, error) {
	if !f.valid {
		return f.filled(), nil
	}
	return f.payload.Data()
}

func (f *Frame) Get(sels ...Sel) (*Array, error) {
	if !f.valid {
		return f.filled().Index(sels...)
	}
	return f.payload.Get(sels...)
}

func (f *Frame) Set(value *Array, sels ...Sel) error {
	return f.payload.Set(value, sels...)
}

// Field reads a header field.
func (f *Frame) Field(name string) (uint64, error) { return f.header.Get(name) }

func (f *Frame) SetField(name string, v uint64) error { return f.header.Set(name, v) }

func (f *Frame) Has(name string) bool { return f.header.Has(name) }

func (f *Frame) WriteTo(w io.Writer) (int64, error) {
	n, err := f.header.WriteTo(w)
	if err != nil {
		return n, fmt.Errorf("write frame header: %w", err)
	}
	m, err := f.payload.WriteTo(w)
	n += m
	if err != nil {
		return n, fmt.Errorf("write frame payload: %w", err)
	}
	return n, nil
}

func (f *Frame) Equal(o *Frame) bool {
	if f == nil || o == nil {
		return f == o
	}
	return f.valid == o.valid &&
		wordsEqual(f.header.Words(), o.header.Words()) &&
		f.payload.Equal(o.payload)
}
