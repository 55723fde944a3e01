package mark5b

import (
	"fmt"
	"io"
	"time"

	"example.com/baseband/internal/common"
	"example.com/baseband/vlbi"
)

type WriterOptions struct {
	NChan      int
	BPS        int
	SampleRate float64
	// Header0 is the template of the first frame. Without it one is built
	// from Time, User and InternalTVG.
	Header0     *Header
	Time        time.Time
	User        uint64
	InternalTVG bool
	Metrics     *common.Metrics
}

// StreamWriter encodes (samples, nchan) arrays into consecutive frames.
type StreamWriter struct {
	fw      *FileWriter
	format  streamFormat
	header0 *Header
	time0   time.Time
	nr0     int
	metrics *common.Metrics

	buf     *vlbi.Array
	filled  int
	invalid bool
	offset  int64
	frames  int64
}

func CreateStream(w io.Writer, opts WriterOptions) (*StreamWriter, error) {
	format, err := newStreamFormat(opts.NChan, opts.BPS, opts.SampleRate)
	if err != nil {
		return nil, err
	}
	h0 := opts.Header0
	if h0 == nil {
		if opts.Time.IsZero() {
			return nil, fmt.Errorf("%w: either Header0 or Time is required", ErrOptions)
		}
		sub := opts.Time.Sub(opts.Time.Truncate(time.Second))
		nr := int(format.samplesIn(sub) / int64(format.spf))
		h0, err = HeaderFromValues(Values{
			Time:        opts.Time,
			User:        opts.User,
			InternalTVG: opts.InternalTVG,
			FrameNr:     nr,
		})
		if err != nil {
			return nil, err
		}
	} else {
		h0 = h0.Copy()
	}
	time0, err := h0.TimeAtRate(float64(format.fps))
	if err != nil {
		return nil, fmt.Errorf("first frame time: %w", err)
	}
	return &StreamWriter{
		fw:      NewFileWriter(w),
		format:  format,
		header0: h0,
		time0:   time0,
		nr0:     h0.FrameNr(),
		metrics: opts.Metrics,
		buf:     vlbi.NewArray(format.spf, format.nchan),
	}, nil
}

func (w *StreamWriter) Header0() *Header { return w.header0.Copy() }

func (w *StreamWriter) Time0() time.Time { return w.time0 }

func (w *StreamWriter) SamplesPerFrame() int { return w.format.spf }

func (w *StreamWriter) FramesPerSecond() int { return w.format.fps }

// Tell is the number of samples written, including any pending in the
// partial frame.
func (w *StreamWriter) Tell() int64 { return w.offset }

func (w *StreamWriter) TellTime() time.Time {
	return w.time0.Add(w.format.offsetDuration(w.offset))
}

// Frames counts complete frames written.
func (w *StreamWriter) Frames() int64 { return w.frames }

// Write appends data, shaped (samples, nchan) or (nchan) for a single
// sample. Marking data invalid marks every frame it touches invalid.
func (w *StreamWriter) Write(data *vlbi.Array, invalid bool) error {
	shape := data.Shape()
	nchan := w.format.nchan
	switch {
	case data.IsComplex():
		return fmt.Errorf("%w: Mark5B does not store complex data", vlbi.ErrValidation)
	case len(shape) == 1 && shape[0] == nchan:
	case len(shape) == 2 && shape[1] == nchan:
	default:
		return fmt.Errorf("%w: data %v, want (n, %d)", vlbi.ErrShape, shape, nchan)
	}
	src := data.Values()
	dst := w.buf.Values()
	for len(src) > 0 {
		room := (w.format.spf - w.filled) * nchan
		n := copy(dst[w.filled*nchan:w.filled*nchan+room], src)
		src = src[n:]
		w.filled += n / nchan
		w.offset += int64(n / nchan)
		w.invalid = w.invalid || invalid
		if w.filled == w.format.spf {
			if err := w.flush(); err != nil {
				return err
			}
		}
	}
	return nil
}

// frameHeader derives frame k's header from the first one.
func (w *StreamWriter) frameHeader(k int64) (*Header, error) {
	h := w.header0.Copy()
	t := w.time0.Add(w.format.offsetDuration(k * int64(w.format.spf)))
	if err := h.SetTime(t); err != nil {
		return nil, err
	}
	if err := h.SetFrameNr(int((int64(w.nr0) + k) % int64(w.format.fps))); err != nil {
		return nil, err
	}
	if err := h.UpdateCRC(); err != nil {
		return nil, err
	}
	return h, nil
}

func (w *StreamWriter) flush() error {
	h, err := w.frameHeader(w.frames)
	if err != nil {
		return err
	}
	frame, err := FrameFromData(w.buf, h, w.format.bps, !w.invalid)
	if err != nil {
		return err
	}
	if err := w.fw.WriteFrame(frame); err != nil {
		return err
	}
	if w.invalid {
		w.metrics.IncInvalid()
	}
	w.metrics.AddFrame(FrameSize)
	w.frames++
	w.filled, w.invalid = 0, false
	return nil
}

// Close closes the underlying writer. Samples short of a full frame are
// dropped and reported with ErrIncompleteFrame.
func (w *StreamWriter) Close() error {
	err := w.fw.Close()
	if w.filled > 0 {
		common.Logf("mark5b: closing with %d samples short of a frame", w.format.spf-w.filled)
		return fmt.Errorf("%w: %d of %d samples", ErrIncompleteFrame, w.filled, w.format.spf)
	}
	return err
}
