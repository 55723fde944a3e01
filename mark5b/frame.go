package mark5b

import (
	"errors"
	"fmt"
	"io"

	"example.com/baseband/vlbi"
)

// Frame is a Mark5B header with its payload.
type Frame struct {
	*vlbi.Frame
	header  *Header
	payload *Payload
}

func NewFrame(header *Header, payload *Payload, valid bool) *Frame {
	return &Frame{
		Frame:   vlbi.NewFrame(header, payload.Payload, valid),
		header:  header,
		payload: payload,
	}
}

// ReadFrame reads a header and payload. A payload made entirely of the
// invalid fill pattern gives an invalid frame.
func ReadFrame(r io.Reader, ref Reference, nchan, bps int) (*Frame, error) {
	header, err := ReadHeader(r, ref)
	if err != nil {
		return nil, err
	}
	payload, err := ReadPayload(r, nchan, bps)
	if err != nil {
		if errors.Is(err, io.EOF) {
			err = io.ErrUnexpectedEOF
		}
		return nil, fmt.Errorf("read payload: %w", err)
	}
	return NewFrame(header, payload, !payload.AllWords(vlbi.InvalidPattern)), nil
}

// FrameFromData encodes data under header. An invalid frame is written with
// the fill pattern instead of the samples.
func FrameFromData(data *vlbi.Array, header *Header, bps int, valid bool) (*Frame, error) {
	payload, err := PayloadFromData(data, bps)
	if err != nil {
		return nil, err
	}
	if !valid {
		payload.FillWords(vlbi.InvalidPattern)
	}
	return NewFrame(header, payload, valid), nil
}

func (f *Frame) Header() *Header { return f.header }

func (f *Frame) Payload() *Payload { return f.payload }

func (f *Frame) NChan() int { return f.payload.NChan() }

func (f *Frame) Equal(o *Frame) bool {
	if f == nil || o == nil {
		return f == o
	}
	return f.Frame.Equal(o.Frame)
}
