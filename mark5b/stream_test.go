package mark5b

import (
	"bytes"
	"io"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"example.com/baseband/internal/common"
	"example.com/baseband/internal/samples"
	"example.com/baseband/vlbi"
)

func sampleOptions() ReaderOptions {
	return ReaderOptions{
		NChan:      samples.NChan,
		BPS:        samples.BPS,
		SampleRate: samples.SampleRate,
		RefMJD:     57000,
	}
}

func openSample(t *testing.T, data []byte, opts ReaderOptions) *StreamReader {
	t.Helper()
	r, err := OpenStream(bytes.NewReader(data), opts)
	require.NoError(t, err)
	t.Cleanup(func() { r.Close() })
	return r
}

func readAll(t *testing.T, r *StreamReader) *vlbi.Array {
	t.Helper()
	_, err := r.Seek(0, io.SeekStart)
	require.NoError(t, err)
	all, err := r.Read(-1)
	require.NoError(t, err)
	return all
}

func TestStreamOpen(t *testing.T) {
	r := openSample(t, samples.Default(), sampleOptions())
	require.Equal(t, 5000, r.SamplesPerFrame())
	require.Equal(t, 6400, r.FramesPerSecond())
	require.Equal(t, int64(20000), r.Size())
	require.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7}, r.ThreadIDs())
	require.Equal(t, 0, r.Header0().FrameNr())
	require.Equal(t, 3, r.Header1().FrameNr())
	require.True(t, r.Time0().Equal(sampleTime0))
	require.True(t, r.StopTime().Equal(sampleTime0.Add(625*time.Microsecond)))
	require.Equal(t, int64(0), r.Tell())
	raw, err := r.RawTell()
	require.NoError(t, err)
	require.Equal(t, int64(FrameSize), raw)

	first, err := r.Read(12)
	require.NoError(t, err)
	require.Equal(t, []int{12, 8}, first.Shape())
	require.Equal(t, int64(12), r.Tell())
}

func TestStreamOptions(t *testing.T) {
	data := samples.Default()
	for _, mutate := range []func(*ReaderOptions){
		func(o *ReaderOptions) { o.NChan = 3 },
		func(o *ReaderOptions) { o.BPS = 4 },
		func(o *ReaderOptions) { o.SampleRate = 0 },
		func(o *ReaderOptions) { o.SampleRate = 32e6 + 1 },
		func(o *ReaderOptions) { o.RefMJD = 0 },
		func(o *ReaderOptions) { o.RefMJD, o.KDay = 0, 56500 },
		func(o *ReaderOptions) { o.ThreadIDs = []int{8} },
	} {
		opts := sampleOptions()
		mutate(&opts)
		_, err := OpenStream(bytes.NewReader(data), opts)
		require.ErrorIs(t, err, ErrOptions, "%+v", opts)
	}

	opts := sampleOptions()
	opts.RefMJD, opts.KDay = 0, 56000
	r := openSample(t, data, opts)
	require.True(t, r.Time0().Equal(sampleTime0))
}

func TestStreamReadAndSeek(t *testing.T) {
	data := samples.Default()
	r := openSample(t, data, sampleOptions())
	all := readAll(t, r)
	require.Equal(t, []int{20000, 8}, all.Shape())
	require.Equal(t, int64(20000), r.Tell())
	_, err := r.Read(1)
	require.ErrorIs(t, err, io.EOF)

	frame, err := ReadFrame(bytes.NewReader(data[FrameSize:]), Reference{}, 8, 2)
	require.NoError(t, err)
	want, err := frame.Data()
	require.NoError(t, err)
	got, err := all.Index(vlbi.Span(5000, 10000))
	require.NoError(t, err)
	require.True(t, got.Equal(want))

	pos, err := r.Seek(10000, io.SeekStart)
	require.NoError(t, err)
	require.Equal(t, int64(10000), pos)
	two, err := r.Read(2)
	require.NoError(t, err)
	require.Equal(t, int64(10002), r.Tell())
	raw, err := r.RawTell()
	require.NoError(t, err)
	require.Equal(t, int64(30048), raw)
	want, err = all.Index(vlbi.Span(10000, 10002))
	require.NoError(t, err)
	require.True(t, two.Equal(want))

	pos, err = r.Seek(-3, io.SeekEnd)
	require.NoError(t, err)
	require.Equal(t, int64(19997), pos)
	tail, err := r.Read(10)
	require.NoError(t, err)
	require.Equal(t, []int{3, 8}, tail.Shape())

	pos, err = r.Seek(-4997, io.SeekCurrent)
	require.NoError(t, err)
	require.Equal(t, int64(15003), pos)
	_, err = r.Seek(-1, io.SeekStart)
	require.ErrorIs(t, err, vlbi.ErrValidation)
	_, err = r.Seek(0, 7)
	require.ErrorIs(t, err, vlbi.ErrValidation)

	// Spans a frame boundary.
	_, err = r.Seek(4990, io.SeekStart)
	require.NoError(t, err)
	across := vlbi.NewArray(20, 8)
	require.NoError(t, r.ReadInto(across))
	want, err = all.Index(vlbi.Span(4990, 5010))
	require.NoError(t, err)
	require.True(t, across.Equal(want))
	require.ErrorIs(t, r.ReadInto(vlbi.NewArray(20, 3)), vlbi.ErrShape)
	_, err = r.Seek(19990, io.SeekStart)
	require.NoError(t, err)
	require.ErrorIs(t, r.ReadInto(across), io.ErrUnexpectedEOF)
}

func TestStreamSeekTime(t *testing.T) {
	r := openSample(t, samples.Default(), sampleOptions())
	pos, err := r.SeekTime(sampleTime0.Add(156250 * time.Nanosecond))
	require.NoError(t, err)
	require.Equal(t, int64(5000), pos)
	require.True(t, r.TellTime().Equal(sampleTime0.Add(156250*time.Nanosecond)))

	pos, err = r.SeekTime(sampleTime0.Add(time.Microsecond))
	require.NoError(t, err)
	require.Equal(t, int64(32), pos)
	_, err = r.SeekTime(sampleTime0.Add(-time.Millisecond))
	require.ErrorIs(t, err, vlbi.ErrValidation)
}

func TestStreamThreadSelection(t *testing.T) {
	data := samples.Default()
	all := readAll(t, openSample(t, data, sampleOptions()))

	opts := sampleOptions()
	opts.ThreadIDs = []int{4, 5}
	r := openSample(t, data, opts)
	require.Equal(t, []int{4, 5}, r.ThreadIDs())
	got := readAll(t, r)
	want, err := all.Take(1, []int{4, 5})
	require.NoError(t, err)
	require.True(t, got.Equal(want))
}

func TestStreamRoundTrip(t *testing.T) {
	data := samples.Default()
	r := openSample(t, data, sampleOptions())
	all := readAll(t, r)

	var buf bytes.Buffer
	w, err := CreateStream(&buf, WriterOptions{
		NChan:      8,
		BPS:        2,
		SampleRate: samples.SampleRate,
		Time:       r.Time0(),
		User:       samples.User,
	})
	require.NoError(t, err)
	require.NoError(t, w.Write(all, false))
	require.Equal(t, int64(20000), w.Tell())
	require.Equal(t, int64(4), w.Frames())
	require.True(t, w.TellTime().Equal(r.StopTime()))
	require.NoError(t, w.Close())
	require.Equal(t, data, buf.Bytes())

	// Same again from a template header, in uneven pieces.
	buf.Reset()
	w, err = CreateStream(&buf, WriterOptions{
		NChan:      8,
		BPS:        2,
		SampleRate: samples.SampleRate,
		Header0:    r.Header0(),
	})
	require.NoError(t, err)
	for _, span := range [][2]int{{0, 1234}, {1234, 9999}, {9999, 20000}} {
		part, err := all.Index(vlbi.Span(span[0], span[1]))
		require.NoError(t, err)
		require.NoError(t, w.Write(part, false))
	}
	require.NoError(t, w.Close())
	require.Equal(t, data, buf.Bytes())
}

func TestStreamWriterInvalidAndPartial(t *testing.T) {
	path := filepath.Join(t.TempDir(), "written.m5b")
	metrics := common.NewMetrics()
	w, err := CreateStreamFile(path, WriterOptions{
		NChan:      8,
		BPS:        2,
		SampleRate: samples.SampleRate,
		Time:       sampleTime0,
		User:       samples.User,
		Metrics:    metrics,
	})
	require.NoError(t, err)
	require.NoError(t, w.Write(vlbi.Full(1, 5000, 8), false))
	require.NoError(t, w.Write(vlbi.Full(1, 5000, 8), true))
	require.NoError(t, w.Close())
	snap := metrics.Snapshot()
	require.Equal(t, int64(2), snap.Frames)
	require.Equal(t, int64(1), snap.Invalid)

	r, err := OpenStreamFile(path, sampleOptions())
	require.NoError(t, err)
	defer r.Close()
	got, err := r.Read(-1)
	require.NoError(t, err)
	first, err := got.Index(vlbi.Span(0, 5000))
	require.NoError(t, err)
	require.True(t, first.Equal(vlbi.Full(1, 5000, 8)))
	second, err := got.Index(vlbi.Span(5000, 10000))
	require.NoError(t, err)
	require.True(t, second.Equal(vlbi.NewArray(5000, 8)))

	w, err = CreateStream(io.Discard, WriterOptions{NChan: 8, BPS: 2, SampleRate: samples.SampleRate, Time: sampleTime0})
	require.NoError(t, err)
	require.NoError(t, w.Write(vlbi.Full(1, 8), false))
	require.Equal(t, int64(1), w.Tell())
	require.ErrorIs(t, w.Write(vlbi.Full(1, 2, 4), false), vlbi.ErrShape)
	require.ErrorIs(t, w.Write(vlbi.NewComplexArray(2, 8), false), vlbi.ErrValidation)
	require.ErrorIs(t, w.Close(), ErrIncompleteFrame)

	_, err = CreateStream(io.Discard, WriterOptions{NChan: 8, BPS: 2, SampleRate: samples.SampleRate})
	require.ErrorIs(t, err, ErrOptions)
}

func TestStreamMissingFrame(t *testing.T) {
	data := samples.Default()
	gapped := append(append([]byte{}, data[:2*FrameSize]...), data[3*FrameSize:]...)
	all := readAll(t, openSample(t, data, sampleOptions()))

	metrics := common.NewMetrics()
	opts := sampleOptions()
	opts.FillValue = 7
	opts.Metrics = metrics
	r := openSample(t, gapped, opts)
	require.Equal(t, int64(20000), r.Size())
	got := readAll(t, r)

	gap, err := got.Index(vlbi.Span(10000, 15000))
	require.NoError(t, err)
	require.True(t, gap.Equal(vlbi.Full(7, 5000, 8)))
	for _, span := range [][2]int{{0, 10000}, {15000, 20000}} {
		a, err := got.Index(vlbi.Span(span[0], span[1]))
		require.NoError(t, err)
		b, err := all.Index(vlbi.Span(span[0], span[1]))
		require.NoError(t, err)
		require.True(t, a.Equal(b), "samples %v", span)
	}
	require.Equal(t, int64(1), metrics.Snapshot().Missing)
}

func TestStreamInvalidFrame(t *testing.T) {
	cfg := samples.DefaultConfig()
	cfg.Invalid = []int{2}
	data, err := samples.Build(cfg)
	require.NoError(t, err)
	metrics := common.NewMetrics()
	opts := sampleOptions()
	opts.Metrics = metrics
	got := readAll(t, openSample(t, data, opts))
	zeros, err := got.Index(vlbi.Span(10000, 15000))
	require.NoError(t, err)
	require.True(t, zeros.Equal(vlbi.NewArray(5000, 8)))
	require.Equal(t, int64(1), metrics.Snapshot().Invalid)
}

func TestStreamResync(t *testing.T) {
	data := samples.Default()
	all := readAll(t, openSample(t, data, sampleOptions()))

	metrics := common.NewMetrics()
	opts := sampleOptions()
	opts.Metrics = metrics
	index := NewMemIndex()
	opts.Index = index
	r := openSample(t, samples.Corrupt(data), opts)
	require.Equal(t, int64(20000), r.Size())
	got := readAll(t, r)

	tail, err := got.Index(vlbi.SpanFrom(10000))
	require.NoError(t, err)
	want, err := all.Index(vlbi.SpanFrom(10000))
	require.NoError(t, err)
	require.True(t, tail.Equal(want))
	require.Equal(t, int64(1), metrics.Snapshot().Resyncs)

	off, ok, err := index.Offset(2)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(10072), off)
}

func TestStreamTrailingBytes(t *testing.T) {
	data := samples.Default()
	all := readAll(t, openSample(t, data, sampleOptions()))
	for _, n := range []int{15, 16, 100, FrameSize, 3 * FrameSize} {
		padded := append(append([]byte{}, data...), make([]byte, n)...)
		r := openSample(t, padded, sampleOptions())
		require.Equal(t, int64(20000), r.Size(), "padding %d", n)
		require.Equal(t, 3, r.Header1().FrameNr(), "padding %d", n)
		require.True(t, readAll(t, r).Equal(all), "padding %d", n)
	}
}

func TestMemIndex(t *testing.T) {
	m := NewMemIndex()
	for _, rec := range [][2]int64{{5, 500}, {1, 100}, {3, 300}, {3, 301}} {
		require.NoError(t, m.Record(rec[0], rec[1]))
	}
	require.Equal(t, 3, m.Len())
	off, ok, err := m.Offset(3)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, int64(301), off)
	_, ok, err = m.Offset(2)
	require.NoError(t, err)
	require.False(t, ok)

	frame, off, ok, err := m.Floor(4)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, []int64{3, 301}, []int64{frame, off})
	_, _, ok, err = m.Floor(0)
	require.NoError(t, err)
	require.False(t, ok)
}
