package scan

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"os"
	"time"

	"golang.org/x/sync/errgroup"

	"example.com/baseband/internal/common"
	"example.com/baseband/mark5b"
	"example.com/baseband/vlbi"
)

type Options struct {
	NChan      int
	BPS        int
	SampleRate float64
	Ref        mark5b.Reference
	// Window bounds each resync search; zero means the reader default.
	Window  int64
	Index   mark5b.FrameIndex
	Metrics *common.Metrics
	// Progress, with Metrics, receives a progress line per second from
	// ScanFiles.
	Progress io.Writer
}

// Result describes one scanned recording.
type Result struct {
	File        string       `json:"file"`
	Digest      string       `json:"sha256,omitempty"`
	Size        int64        `json:"size"`
	Frames      int64        `json:"frames"`
	Invalid     int64        `json:"invalid"`
	Missing     int64        `json:"missing"`
	Resyncs     int64        `json:"resyncs"`
	CRCErrors   int64        `json:"crcErrors"`
	Start       time.Time    `json:"start"`
	Stop        time.Time    `json:"stop"`
	User        uint64       `json:"user"`
	Diagnostics []Diagnostic `json:"diagnostics,omitempty"`
}

func (r *Result) Summary() Summary { return Summarize(r.Diagnostics) }

type scanner struct {
	ctx    context.Context
	opts   Options
	fps    int
	fr     *mark5b.FileReader
	size   int64
	res    *Result
	time0  time.Time
	window int64
}

func (s *scanner) add(sev Severity, code string, frame, offset int64, format string, args ...interface{}) {
	d := Diagnostic{
		Ts:       time.Now(),
		File:     s.res.File,
		Code:     code,
		Severity: sev,
		Frame:    frame,
		Offset:   offset,
		Message:  fmt.Sprintf(format, args...),
	}
	if sev != INFO {
		common.Logf("scan %s: %s at byte %d: %s", s.res.File, code, offset, d.Message)
	}
	s.res.Diagnostics = append(s.res.Diagnostics, d)
}

// Scan walks every frame header of rs and reports damage: lost sync, bad
// CRCs, gaps in time, invalid payloads and a truncated tail. Located frames
// are recorded in opts.Index.
func Scan(ctx context.Context, rs io.ReadSeeker, opts Options) (*Result, error) {
	return scanNamed(ctx, rs, "", opts)
}

func scanNamed(ctx context.Context, rs io.ReadSeeker, name string, opts Options) (*Result, error) {
	fps, err := mark5b.FramesPerSecond(opts.NChan, opts.BPS, opts.SampleRate)
	if err != nil {
		return nil, err
	}
	if opts.Ref.IsZero() {
		return nil, fmt.Errorf("%w: an epoch reference is required", mark5b.ErrOptions)
	}
	s := &scanner{
		ctx:    ctx,
		opts:   opts,
		fps:    fps,
		fr:     mark5b.NewFileReader(rs, opts.Ref),
		res:    &Result{File: name},
		window: opts.Window,
	}
	if s.window <= 0 {
		s.window = mark5b.DefaultSearchWindow
	}
	if s.size, err = s.fr.Size(); err != nil {
		return nil, err
	}
	s.res.Size = s.size
	if err := s.run(); err != nil {
		return s.res, err
	}
	return s.res, nil
}

func (s *scanner) frameNumber(h *mark5b.Header) (int64, time.Time, error) {
	t, err := h.TimeAtRate(float64(s.fps))
	if err != nil {
		return 0, t, err
	}
	return int64(math.Round(t.Sub(s.time0).Seconds() * float64(s.fps))), t, nil
}

func (s *scanner) first() (*mark5b.Header, int64, error) {
	if _, err := s.fr.Seek(0, io.SeekStart); err != nil {
		return nil, 0, err
	}
	h, err := s.fr.ReadHeader()
	if err == nil {
		return h, 0, nil
	}
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) {
		return nil, 0, mark5b.ErrNoSync
	}
	if _, err := s.fr.Seek(0, io.SeekStart); err != nil {
		return nil, 0, err
	}
	h, err = s.fr.FindHeaderWithin(nil, true, s.window)
	if err != nil {
		return nil, 0, err
	}
	pos, err := s.fr.Tell()
	return h, pos, err
}

func (s *scanner) run() error {
	h, pos, err := s.first()
	if errors.Is(err, mark5b.ErrNoSync) {
		s.add(ERROR, CodeNoSync, 0, 0, "no Mark5B header in the first %d bytes", s.window)
		return nil
	}
	if err != nil {
		return err
	}
	if pos > 0 {
		s.add(WARN, CodeResync, 0, pos, "skipped %d leading bytes", pos)
		s.res.Resyncs++
		s.opts.Metrics.IncResync()
	}
	template := h
	if s.time0, err = h.TimeAtRate(float64(s.fps)); err != nil {
		return fmt.Errorf("first header time: %w", err)
	}
	s.res.Start = s.time0
	s.res.User = h.User()

	expected := int64(0)
	frameDuration := time.Duration(float64(time.Second) / float64(s.fps))
	for {
		if err := s.ctx.Err(); err != nil {
			return err
		}
		if pos+mark5b.FrameSize > s.size {
			s.add(WARN, CodeTruncated, expected, pos, "%d bytes after the last complete frame", s.size-pos)
			return nil
		}
		j, t, err := s.frameNumber(h)
		if err != nil {
			return err
		}
		switch {
		case j > expected:
			s.add(ERROR, CodeMissing, expected, pos, "%d frames missing before frame %d", j-expected, j)
			s.res.Missing += j - expected
			s.opts.Metrics.AddMissing(j - expected)
		case j < expected:
			s.add(WARN, CodeTimeBackward, j, pos, "frame time %s precedes the previous frame", t.Format(time.RFC3339Nano))
		}
		if !h.CRCValid() {
			s.add(WARN, CodeCRC, j, pos, "header CRC %#04x, computed %#04x", h.CRC(), h.ComputeCRC())
			s.res.CRCErrors++
		}
		if s.opts.Index != nil {
			if err := s.opts.Index.Record(j, pos); err != nil {
				return fmt.Errorf("record frame %d: %w", j, err)
			}
		}
		if _, err := s.fr.Seek(pos+mark5b.HeaderSize, io.SeekStart); err != nil {
			return err
		}
		words, err := vlbi.ReadWords(s.fr, mark5b.PayloadSize/4)
		if err != nil {
			return fmt.Errorf("frame %d payload: %w", j, err)
		}
		if allInvalid(words) {
			s.add(INFO, CodeInvalid, j, pos, "payload is fill pattern")
			s.res.Invalid++
			s.opts.Metrics.IncInvalid()
		}
		s.res.Frames++
		s.res.Stop = t.Add(frameDuration)
		s.opts.Metrics.AddFrame(mark5b.FrameSize)
		if j >= expected {
			expected = j + 1
		}
		pos += mark5b.FrameSize

		if pos == s.size {
			return nil
		}
		if pos+mark5b.HeaderSize > s.size {
			s.add(WARN, CodeTruncated, expected, pos, "%d bytes after the last complete frame", s.size-pos)
			return nil
		}
		next, err := s.fr.ReadHeader()
		if err == nil && next.Matches(template) {
			h = next
			continue
		}
		if err != nil && !errors.Is(err, vlbi.ErrValidation) && !errors.Is(err, vlbi.ErrBCD) {
			return err
		}
		if _, err := s.fr.Seek(pos, io.SeekStart); err != nil {
			return err
		}
		found, err := s.fr.FindHeaderWithin(template, true, s.window)
		if errors.Is(err, mark5b.ErrNoSync) {
			s.add(ERROR, CodeSyncLost, expected, pos, "no header within %d bytes; %d bytes unread", s.window, s.size-pos)
			return nil
		}
		if err != nil {
			return err
		}
		at, err := s.fr.Tell()
		if err != nil {
			return err
		}
		s.add(WARN, CodeResync, expected, pos, "skipped %d bytes to the next header", at-pos)
		s.res.Resyncs++
		s.opts.Metrics.IncResync()
		h, pos = found, at
	}
}

func allInvalid(words []uint32) bool {
	for _, w := range words {
		if w != vlbi.InvalidPattern {
			return false
		}
	}
	return true
}

// ScanFile scans the recording at path and fills in its digest.
func ScanFile(ctx context.Context, path string, opts Options) (*Result, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	res, err := scanNamed(ctx, f, path, opts)
	if err != nil {
		return res, fmt.Errorf("scan %s: %w", path, err)
	}
	if res.Digest, _, err = common.Sha256OfFile(path); err != nil {
		return res, err
	}
	return res, nil
}

// ScanFiles scans paths with at most concurrency scans at once. Frame
// numbers restart in every recording, so opts.Index is not shared: indexFor,
// if set, supplies the frame index of each path. Results keep the order of
// paths; the first error cancels the rest.
func ScanFiles(ctx context.Context, paths []string, opts Options, concurrency int, indexFor func(path string) mark5b.FrameIndex) ([]*Result, error) {
	results := make([]*Result, len(paths))
	if m := opts.Metrics; m != nil {
		var total int64
		for _, p := range paths {
			if fi, err := os.Stat(p); err == nil {
				total += fi.Size()
			}
		}
		m.SetTotalBytes(total)
		m.Start()
		defer m.Stop()
		if opts.Progress != nil {
			stop := common.StartProgressPrinter(opts.Progress, m, time.Second)
			defer stop()
		}
	}
	g, ctx := errgroup.WithContext(ctx)
	if concurrency > 0 {
		g.SetLimit(concurrency)
	}
	for i, path := range paths {
		i, path := i, path
		g.Go(func() error {
			o := opts
			o.Index = nil
			if indexFor != nil {
				o.Index = indexFor(path)
			}
			res, err := ScanFile(ctx, path, o)
			results[i] = res
			return err
		})
	}
	if err := g.Wait(); err != nil {
		return results, err
	}
	return results, nil
}
