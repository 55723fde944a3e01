package mark5b

import (
	"errors"
	"fmt"
	"io"

	"example.com/baseband/vlbi"
)

// DefaultSearchWindow is how far FindHeader looks by default.
const DefaultSearchWindow = 2 * FrameSize

// FileReader reads frames from a seekable byte stream.
type FileReader struct {
	rs     io.ReadSeeker
	ref    Reference
	closer io.Closer
}

func NewFileReader(rs io.ReadSeeker, ref Reference) *FileReader {
	fr := &FileReader{rs: rs, ref: ref}
	if c, ok := rs.(io.Closer); ok {
		fr.closer = c
	}
	return fr
}

func (r *FileReader) Reference() Reference { return r.ref }

func (r *FileReader) Read(p []byte) (int, error) { return r.rs.Read(p) }

func (r *FileReader) Seek(offset int64, whence int) (int64, error) {
	return r.rs.Seek(offset, whence)
}

func (r *FileReader) Tell() (int64, error) {
	return r.rs.Seek(0, io.SeekCurrent)
}

// Size is the total stream length; the position is preserved.
func (r *FileReader) Size() (int64, error) {
	cur, err := r.Tell()
	if err != nil {
		return 0, err
	}
	end, err := r.rs.Seek(0, io.SeekEnd)
	if err != nil {
		return 0, err
	}
	if _, err := r.rs.Seek(cur, io.SeekStart); err != nil {
		return 0, err
	}
	return end, nil
}

func (r *FileReader) ReadHeader() (*Header, error) {
	return ReadHeader(r.rs, r.ref)
}

func (r *FileReader) ReadFrame(nchan, bps int) (*Frame, error) {
	return ReadFrame(r.rs, r.ref, nchan, bps)
}

func (r *FileReader) Close() error {
	if r.closer == nil {
		return nil
	}
	return r.closer.Close()
}

// FindHeader searches DefaultSearchWindow bytes from the current position.
func (r *FileReader) FindHeader(template *Header, forward bool) (*Header, error) {
	return r.FindHeaderWithin(template, forward, DefaultSearchWindow)
}

// FindHeaderWithin looks byte by byte, forward or backward from the current
// position, for a header consistent with template (nil matches any valid
// header). A candidate is accepted when the header one frame further on is
// also valid; when that one lies past the end of the stream, the header one
// frame back must be valid instead, if there is room for one. On success the
// position is left at the header; otherwise it is restored and ErrNoSync
// returned.
func (r *FileReader) FindHeaderWithin(template *Header, forward bool, maximum int64) (*Header, error) {
	start, err := r.Tell()
	if err != nil {
		return nil, err
	}
	size, err := r.Size()
	if err != nil {
		return nil, err
	}
	lo, hi := start, start+maximum
	if !forward {
		lo, hi = start-maximum, start
	}
	if lo < 0 {
		lo = 0
	}
	if last := size - HeaderSize; hi > last {
		hi = last
	}
	if hi < lo {
		return nil, ErrNoSync
	}

	winLo := lo - FrameSize
	if winLo < 0 {
		winLo = 0
	}
	winHi := hi + FrameSize + HeaderSize
	if winHi > size {
		winHi = size
	}
	buf := make([]byte, winHi-winLo)
	if _, err := r.rs.Seek(winLo, io.SeekStart); err != nil {
		return nil, err
	}
	if _, err := io.ReadFull(r.rs, buf); err != nil {
		if _, serr := r.rs.Seek(start, io.SeekStart); serr != nil {
			return nil, fmt.Errorf("read search window: %w (restore: %v)", err, serr)
		}
		return nil, fmt.Errorf("read search window: %w", err)
	}

	at := func(pos int64) *Header {
		i := pos - winLo
		h, err := NewHeader(vlbi.DecodeWords(buf[i:i+HeaderSize]), Reference{}, false)
		if err != nil {
			return nil
		}
		return h
	}
	valid := func(pos int64) bool {
		h := at(pos)
		return h != nil && h.Matches(template)
	}
	accept := func(pos int64) *Header {
		h := at(pos)
		if h == nil || !h.Matches(template) {
			return nil
		}
		switch next := pos + FrameSize; {
		case next+HeaderSize <= size:
			if !valid(next) {
				return nil
			}
		case pos >= FrameSize:
			if !valid(pos - FrameSize) {
				return nil
			}
		}
		return h
	}

	step := int64(1)
	pos := lo
	if !forward {
		step, pos = -1, hi
	}
	for ; pos >= lo && pos <= hi; pos += step {
		h := accept(pos)
		if h == nil {
			continue
		}
		if err := r.adoptEpoch(h, template); err != nil {
			continue
		}
		if _, err := r.rs.Seek(pos, io.SeekStart); err != nil {
			return nil, err
		}
		return h, nil
	}
	if _, err := r.rs.Seek(start, io.SeekStart); err != nil {
		return nil, err
	}
	return nil, ErrNoSync
}

func (r *FileReader) adoptEpoch(h, template *Header) error {
	if template != nil && template.hasKDay && r.ref.IsZero() {
		// Same recording, so the template's epoch is a good reference.
		tmjd, err := template.MJD()
		if err != nil {
			return err
		}
		return h.InferKDay(float64(tmjd))
	}
	return r.ref.apply(h)
}

// FileWriter writes frames to a byte stream.
type FileWriter struct {
	w      io.Writer
	closer io.Closer
	frames int64
}

func NewFileWriter(w io.Writer) *FileWriter {
	fw := &FileWriter{w: w}
	if c, ok := w.(io.Closer); ok {
		fw.closer = c
	}
	return fw
}

func (w *FileWriter) WriteFrame(f *Frame) error {
	if _, err := f.WriteTo(w.w); err != nil {
		return fmt.Errorf("write frame %d: %w", w.frames, err)
	}
	w.frames++
	return nil
}

func (w *FileWriter) Write(p []byte) (int, error) { return w.w.Write(p) }

// Frames counts frames written so far.
func (w *FileWriter) Frames() int64 { return w.frames }

func (w *FileWriter) Close() error {
	if w.closer == nil {
		return nil
	}
	return w.closer.Close()
}

// isCorrupt reports whether err came from bad header content rather than I/O.
func isCorrupt(err error) bool {
	return errors.Is(err, vlbi.ErrValidation) || errors.Is(err, vlbi.ErrBCD)
}
