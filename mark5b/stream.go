package mark5b

import (
	"errors"
	"fmt"
	"io"
	"math"
	"time"

	"example.com/baseband/internal/common"
	"example.com/baseband/vlbi"
)

// maxLocateSteps bounds how many headers are inspected to find one frame.
const maxLocateSteps = 16

type ReaderOptions struct {
	NChan      int
	BPS        int
	SampleRate float64 // complete samples per second
	// One of RefMJD or KDay must be set to resolve header times.
	RefMJD    float64
	KDay      int
	ThreadIDs []int
	FillValue float32
	Index     FrameIndex
	Metrics   *common.Metrics
}

// Reference is the epoch reference the options select.
func (o ReaderOptions) Reference() Reference {
	if o.KDay > 0 {
		return KDay(o.KDay)
	}
	return RefMJD(o.RefMJD)
}

// streamFormat holds what readers and writers derive from the options.
type streamFormat struct {
	nchan int
	bps   int
	rate  float64
	spf   int
	fps   int
}

func newStreamFormat(nchan, bps int, rate float64) (streamFormat, error) {
	if err := validateFormat(nchan, bps); err != nil {
		return streamFormat{}, err
	}
	if rate <= 0 || math.IsInf(rate, 0) || math.IsNaN(rate) {
		return streamFormat{}, fmt.Errorf("%w: sample rate %v", ErrOptions, rate)
	}
	spf := SamplesPerFrame(nchan, bps)
	fps := rate / float64(spf)
	if fps != math.Trunc(fps) || fps < 1 {
		return streamFormat{}, fmt.Errorf("%w: sample rate %v Hz is not a whole number of %d-sample frames per second", ErrOptions, rate, spf)
	}
	return streamFormat{nchan: nchan, bps: bps, rate: rate, spf: spf, fps: int(fps)}, nil
}

// FramesPerSecond validates a stream format and gives its frame rate.
func FramesPerSecond(nchan, bps int, sampleRate float64) (int, error) {
	f, err := newStreamFormat(nchan, bps, sampleRate)
	return f.fps, err
}

// offsetDuration converts a sample count to a duration.
func (f streamFormat) offsetDuration(samples int64) time.Duration {
	return time.Duration(math.Round(float64(samples) * 1e9 / f.rate))
}

func (f streamFormat) samplesIn(d time.Duration) int64 {
	return int64(math.Round(float64(d) * f.rate / 1e9))
}

// StreamReader presents a recording as a continuous (samples, threads)
// array with sample and time addressing. It is not safe for concurrent use.
type StreamReader struct {
	raw     *FileReader
	format  streamFormat
	threads []int
	fill    float32
	index   FrameIndex
	metrics *common.Metrics

	header0 *Header
	offset0 int64
	time0   time.Time
	header1 *Header
	nframes int64

	offset    int64
	frameNum  int64
	frameData *vlbi.Array
}

// OpenStream finds the first and last frames of rs and positions the
// stream at sample 0 with the first frame decoded.
func OpenStream(rs io.ReadSeeker, opts ReaderOptions) (*StreamReader, error) {
	format, err := newStreamFormat(opts.NChan, opts.BPS, opts.SampleRate)
	if err != nil {
		return nil, err
	}
	if opts.RefMJD <= 0 && opts.KDay <= 0 {
		return nil, fmt.Errorf("%w: one of RefMJD or KDay is required", ErrOptions)
	}
	if opts.KDay > 0 && opts.KDay%1000 != 0 {
		return nil, fmt.Errorf("%w: kday %d is not a multiple of 1000", ErrOptions, opts.KDay)
	}
	threads := opts.ThreadIDs
	if len(threads) == 0 {
		threads = make([]int, opts.NChan)
		for i := range threads {
			threads[i] = i
		}
	}
	for _, id := range threads {
		if id < 0 || id >= opts.NChan {
			return nil, fmt.Errorf("%w: thread %d outside 0..%d", ErrOptions, id, opts.NChan-1)
		}
	}
	index := opts.Index
	if index == nil {
		index = NewMemIndex()
	}
	r := &StreamReader{
		raw:      NewFileReader(rs, opts.Reference()),
		format:   format,
		threads:  append([]int(nil), threads...),
		fill:     opts.FillValue,
		index:    index,
		metrics:  opts.Metrics,
		frameNum: -1,
	}
	if err := r.findEnds(); err != nil {
		return nil, err
	}
	if _, err := r.loadFrame(0); err != nil {
		return nil, err
	}
	return r, nil
}

func (r *StreamReader) findEnds() error {
	if _, err := r.raw.Seek(0, io.SeekStart); err != nil {
		return err
	}
	h0, err := r.raw.ReadHeader()
	if err != nil {
		if !isCorrupt(err) {
			return fmt.Errorf("read first header: %w", err)
		}
		if _, err := r.raw.Seek(0, io.SeekStart); err != nil {
			return err
		}
		if h0, err = r.raw.FindHeaderWithin(nil, true, 4*FrameSize); err != nil {
			return fmt.Errorf("first header: %w", err)
		}
		pos, err := r.raw.Tell()
		if err != nil {
			return err
		}
		common.Logf("mark5b: first header found at byte %d", pos)
	} else if _, err := r.raw.Seek(-HeaderSize, io.SeekCurrent); err != nil {
		return err
	}
	if r.offset0, err = r.raw.Tell(); err != nil {
		return err
	}
	r.header0 = h0
	if r.time0, err = h0.TimeAtRate(float64(r.format.fps)); err != nil {
		return fmt.Errorf("first header time: %w", err)
	}
	if err := r.index.Record(0, r.offset0); err != nil {
		return err
	}

	size, err := r.raw.Size()
	if err != nil {
		return err
	}
	r.header1 = h0
	pos1 := r.offset0
	if last := size - FrameSize; last > r.offset0 {
		if _, err := r.raw.Seek(last, io.SeekStart); err != nil {
			return err
		}
		h1, err := r.raw.FindHeader(h0, false)
		switch {
		case err == nil:
			r.header1 = h1
			if pos1, err = r.raw.Tell(); err != nil {
				return err
			}
		case errors.Is(err, ErrNoSync):
			common.Logf("mark5b: no header within %d bytes of the end; walking frames from byte %d", DefaultSearchWindow, r.offset0)
		default:
			return fmt.Errorf("last header: %w", err)
		}
	}
	last, err := r.frameNumber(r.header1)
	if err != nil {
		return fmt.Errorf("last header time: %w", err)
	}
	// Trailing bytes can hide complete frames from the backward search.
	for next := pos1 + FrameSize; next+FrameSize <= size; next += FrameSize {
		h, j, ok, err := r.headerAt(next)
		if err != nil {
			return err
		}
		if !ok || j <= last {
			break
		}
		r.header1, pos1, last = h, next, j
	}
	if pos1 > r.offset0 {
		if err := r.index.Record(last, pos1); err != nil {
			return err
		}
	}
	r.nframes = last + 1
	return nil
}

// headerAt reads the header at pos; ok is false when there is no header of
// this recording there.
func (r *StreamReader) headerAt(pos int64) (*Header, int64, bool, error) {
	if _, err := r.raw.Seek(pos, io.SeekStart); err != nil {
		return nil, 0, false, err
	}
	h, err := r.raw.ReadHeader()
	if err != nil {
		if isCorrupt(err) || errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, 0, false, nil
		}
		return nil, 0, false, err
	}
	if !h.Matches(r.header0) {
		return nil, 0, false, nil
	}
	if _, ok := h.KDay(); !ok {
		if err := r.raw.adoptEpoch(h, r.header0); err != nil {
			return nil, 0, false, nil
		}
	}
	j, err := r.frameNumber(h)
	if err != nil {
		return nil, 0, false, nil
	}
	return h, j, true, nil
}

// frameNumber places h relative to the first frame.
func (r *StreamReader) frameNumber(h *Header) (int64, error) {
	t, err := h.TimeAtRate(float64(r.format.fps))
	if err != nil {
		return 0, err
	}
	return int64(math.Round(float64(t.Sub(r.time0)) * float64(r.format.fps) / 1e9)), nil
}

func (r *StreamReader) guessOffset(k int64) (int64, error) {
	if off, ok, err := r.index.Offset(k); err != nil || ok {
		return off, err
	}
	j, off, ok, err := r.index.Floor(k)
	if err != nil {
		return 0, err
	}
	if !ok {
		j, off = 0, r.offset0
	}
	return off + (k-j)*FrameSize, nil
}

// readFrame locates frame k and reads it. A nil frame means the recording
// has no frame k.
func (r *StreamReader) readFrame(k int64) (*Frame, error) {
	pos, err := r.guessOffset(k)
	if err != nil {
		return nil, err
	}
	for step := 0; step < maxLocateSteps; step++ {
		if _, err := r.raw.Seek(pos, io.SeekStart); err != nil {
			return nil, err
		}
		h, err := r.raw.ReadHeader()
		if err != nil && !isCorrupt(err) && !errors.Is(err, io.EOF) && !errors.Is(err, io.ErrUnexpectedEOF) {
			return nil, err
		}
		if err != nil || !h.Matches(r.header0) {
			from, err := r.searchStart(k, pos)
			if err != nil {
				return nil, err
			}
			if _, err := r.raw.Seek(from, io.SeekStart); err != nil {
				return nil, err
			}
			h, err = r.raw.FindHeader(r.header0, true)
			if errors.Is(err, ErrNoSync) {
				return nil, nil
			}
			if err != nil {
				return nil, err
			}
			found, err := r.raw.Tell()
			if err != nil {
				return nil, err
			}
			common.Logf("mark5b: frame %d expected at byte %d, resynchronised at %d", k, pos, found)
			r.metrics.IncResync()
			pos = found
			if _, err := r.raw.Seek(pos+HeaderSize, io.SeekStart); err != nil {
				return nil, err
			}
		}
		j, err := r.frameNumber(h)
		if err != nil {
			return nil, err
		}
		if j >= 0 {
			if err := r.index.Record(j, pos); err != nil {
				return nil, err
			}
		}
		switch {
		case j == k:
			payload, err := ReadPayload(r.raw, r.format.nchan, r.format.bps)
			if err != nil {
				if errors.Is(err, io.EOF) {
					err = io.ErrUnexpectedEOF
				}
				return nil, fmt.Errorf("frame %d payload: %w", k, err)
			}
			r.metrics.AddFrame(FrameSize)
			return NewFrame(h, payload, !payload.AllWords(vlbi.InvalidPattern)), nil
		case j > k:
			return nil, nil
		}
		pos += (k - j) * FrameSize
	}
	return nil, nil
}

// searchStart is where a resync for frame k starts: just past the last
// known frame before it, but no more than one frame before pos.
func (r *StreamReader) searchStart(k, pos int64) (int64, error) {
	from := pos - FrameSize
	if _, off, ok, err := r.index.Floor(k - 1); err != nil {
		return 0, err
	} else if ok && off+1 > from && off < pos {
		from = off + 1
	}
	if from < 0 {
		from = 0
	}
	return from, nil
}

// loadFrame decodes frame k into the cache.
func (r *StreamReader) loadFrame(k int64) (*vlbi.Array, error) {
	if k == r.frameNum && r.frameData != nil {
		return r.frameData, nil
	}
	frame, err := r.readFrame(k)
	if err != nil {
		return nil, err
	}
	var data *vlbi.Array
	switch {
	case frame == nil:
		common.Logf("mark5b: frame %d missing, filling with %v", k, r.fill)
		r.metrics.AddMissing(1)
		data = vlbi.Full(r.fill, r.format.spf, r.format.nchan)
	default:
		if !frame.Valid() {
			r.metrics.IncInvalid()
		}
		frame.SetFillValue(r.fill)
		if data, err = frame.Data(); err != nil {
			return nil, err
		}
	}
	r.frameNum, r.frameData = k, data
	return data, nil
}

func (r *StreamReader) Header0() *Header { return r.header0.Copy() }

func (r *StreamReader) Header1() *Header { return r.header1.Copy() }

func (r *StreamReader) NChan() int { return r.format.nchan }

func (r *StreamReader) BPS() int { return r.format.bps }

func (r *StreamReader) SampleRate() float64 { return r.format.rate }

func (r *StreamReader) SamplesPerFrame() int { return r.format.spf }

func (r *StreamReader) FramesPerSecond() int { return r.format.fps }

func (r *StreamReader) ThreadIDs() []int { return append([]int(nil), r.threads...) }

// Size is the number of samples from the first to the end of the last frame.
func (r *StreamReader) Size() int64 { return r.nframes * int64(r.format.spf) }

func (r *StreamReader) Time0() time.Time { return r.time0 }

// StopTime is the time just past the last sample.
func (r *StreamReader) StopTime() time.Time {
	return r.time0.Add(r.format.offsetDuration(r.Size()))
}

func (r *StreamReader) Tell() int64 { return r.offset }

func (r *StreamReader) TellTime() time.Time {
	return r.time0.Add(r.format.offsetDuration(r.offset))
}

// RawTell is the byte position in the underlying stream.
func (r *StreamReader) RawTell() (int64, error) { return r.raw.Tell() }

func (r *StreamReader) Seek(offset int64, whence int) (int64, error) {
	switch whence {
	case io.SeekStart:
	case io.SeekCurrent:
		offset += r.offset
	case io.SeekEnd:
		offset += r.Size()
	default:
		return r.offset, fmt.Errorf("%w: whence %d", vlbi.ErrValidation, whence)
	}
	if offset < 0 {
		return r.offset, fmt.Errorf("%w: seek to negative sample %d", vlbi.ErrValidation, offset)
	}
	r.offset = offset
	return offset, nil
}

// SeekTime moves to the sample nearest t.
func (r *StreamReader) SeekTime(t time.Time) (int64, error) {
	return r.Seek(r.format.samplesIn(t.Sub(r.time0)), io.SeekStart)
}

// Read returns up to n samples of the selected threads; n < 0 reads to the
// end. At the end of the recording it returns io.EOF.
func (r *StreamReader) Read(n int) (*vlbi.Array, error) {
	remaining := r.Size() - r.offset
	if remaining <= 0 && n != 0 {
		return nil, io.EOF
	}
	if n < 0 || int64(n) > remaining {
		n = int(remaining)
	}
	out := vlbi.NewArray(n, len(r.threads))
	if err := r.ReadInto(out); err != nil {
		return nil, err
	}
	return out, nil
}

// ReadInto fills out, which must be (samples, threads), from the current
// position.
func (r *StreamReader) ReadInto(out *vlbi.Array) error {
	shape := out.Shape()
	if len(shape) != 2 || shape[1] != len(r.threads) || out.IsComplex() {
		return fmt.Errorf("%w: output %v, want (n, %d)", vlbi.ErrShape, shape, len(r.threads))
	}
	rows := int64(shape[0])
	if r.offset+rows > r.Size() {
		return fmt.Errorf("read %d samples at %d: %w", rows, r.offset, io.ErrUnexpectedEOF)
	}
	dst := out.Values()
	ncol := len(r.threads)
	nchan := r.format.nchan
	spf := int64(r.format.spf)
	for done := int64(0); done < rows; {
		k, in := r.offset/spf, r.offset%spf
		data, err := r.loadFrame(k)
		if err != nil {
			return err
		}
		take := spf - in
		if take > rows-done {
			take = rows - done
		}
		src := data.Values()
		for i := int64(0); i < take; i++ {
			row := (in + i) * int64(nchan)
			for j, c := range r.threads {
				dst[(done+i)*int64(ncol)+int64(j)] = src[row+int64(c)]
			}
		}
		done += take
		r.offset += take
	}
	return nil
}

func (r *StreamReader) Close() error { return r.raw.Close() }
