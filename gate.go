package baseband

import (
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"example.com/baseband/config"
	"example.com/baseband/frameindex"
	"example.com/baseband/internal/common"
	"example.com/baseband/mark5b"
	"example.com/baseband/report"
	"example.com/baseband/scan"
)

// Gate opens, writes and scans Mark5B recordings with the settings of one
// configuration. Streams and scans share a pebble frame index keyed by the
// recording's absolute path.
type Gate struct {
	cfg     config.Config
	store   *frameindex.Store
	logs    io.Closer
	metrics *common.Metrics
}

// Open loads the YAML configuration at path and starts a Gate on it.
func Open(path string) (*Gate, error) {
	cfg, err := config.Load(path)
	if err != nil {
		return nil, err
	}
	return New(cfg)
}

// New starts a Gate. An empty log directory keeps logging on stderr and an
// empty index directory keeps the frame index in memory.
func New(cfg config.Config) (*Gate, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	g := &Gate{cfg: cfg, metrics: common.NewMetrics()}
	if cfg.Logs.Directory != "" {
		logs, err := common.SetupLogging(cfg.Logs)
		if err != nil {
			return nil, err
		}
		g.logs = logs
	}
	var err error
	if cfg.Index.Directory != "" {
		g.store, err = frameindex.Open(cfg.Index.Directory)
	} else {
		g.store, err = frameindex.OpenInMemory()
	}
	if err != nil {
		g.closeLogs()
		return nil, fmt.Errorf("open frame index: %w", err)
	}
	common.Logf("gate: index %q, reports %q", cfg.Index.Directory, cfg.Scan.ReportDir)
	return g, nil
}

func (g *Gate) Config() config.Config { return g.cfg }

// Metrics reports the totals of every stream and scan of this Gate.
func (g *Gate) Metrics() common.MetricsSnapshot { return g.metrics.Snapshot() }

func recordingName(path string) string {
	if abs, err := filepath.Abs(path); err == nil {
		return abs
	}
	return filepath.Clean(path)
}

// Index is the frame index kept for the recording at path.
func (g *Gate) Index(path string) *frameindex.Index {
	return g.store.For(recordingName(path))
}

// OpenStream opens the recording at path with the configured format.
func (g *Gate) OpenStream(path string) (*mark5b.StreamReader, error) {
	opts := g.cfg.ReaderOptions()
	opts.Index = g.Index(path)
	opts.Metrics = g.metrics
	return mark5b.OpenStreamFile(path, opts)
}

// CreateStream creates a recording at path. Format fields left zero in opts
// come from the configuration; any index kept for path is dropped.
func (g *Gate) CreateStream(path string, opts mark5b.WriterOptions) (*mark5b.StreamWriter, error) {
	if opts.NChan == 0 {
		opts.NChan = g.cfg.Stream.NChan
	}
	if opts.BPS == 0 {
		opts.BPS = g.cfg.Stream.BPS
	}
	if opts.SampleRate == 0 {
		opts.SampleRate = g.cfg.Stream.SampleRateHz
	}
	if opts.Metrics == nil {
		opts.Metrics = g.metrics
	}
	if err := g.Index(path).Reset(); err != nil {
		return nil, fmt.Errorf("reset index of %s: %w", path, err)
	}
	return mark5b.CreateStreamFile(path, opts)
}

// Scan scans paths, rebuilding their frame indices, and writes the JSON,
// PDF and NDJSON reports to the report directory when one is configured.
// progress, if set, receives progress lines while the scan runs.
func (g *Gate) Scan(ctx context.Context, paths []string, progress io.Writer) (*report.ScanReport, error) {
	ropts := g.cfg.ReaderOptions()
	opts := scan.Options{
		NChan:      ropts.NChan,
		BPS:        ropts.BPS,
		SampleRate: ropts.SampleRate,
		Ref:        ropts.Reference(),
		Window:     g.cfg.Scan.Window,
		Metrics:    g.metrics,
		Progress:   progress,
	}
	for _, p := range paths {
		if err := g.Index(p).Reset(); err != nil {
			return nil, fmt.Errorf("reset index of %s: %w", p, err)
		}
	}
	indexFor := func(path string) mark5b.FrameIndex { return g.Index(path) }
	results, err := scan.ScanFiles(ctx, paths, opts, g.cfg.Scan.Concurrency, indexFor)
	if err != nil {
		return nil, err
	}
	rep := report.New(results)
	common.Logf("gate: scanned %d recordings, %d errors, %d warnings", len(rep.Recordings), rep.Summary.Errors, rep.Summary.Warnings)
	if g.cfg.Scan.ReportDir == "" {
		return rep, nil
	}
	if _, err := g.WriteReports(rep); err != nil {
		return rep, err
	}
	return rep, nil
}

// WriteReports saves rep as <id>.json, <id>.pdf and <id>.jsonl in the report
// directory and returns the paths written.
func (g *Gate) WriteReports(rep *report.ScanReport) ([]string, error) {
	dir := g.cfg.Scan.ReportDir
	if dir == "" {
		return nil, fmt.Errorf("%w: no report directory", config.ErrConfig)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("create report dir: %w", err)
	}
	base := filepath.Join(dir, rep.ID)
	jsonPath, pdfPath, ndjsonPath := base+".json", base+".pdf", base+".jsonl"
	if err := report.SaveJSON(rep, jsonPath); err != nil {
		return nil, err
	}
	if err := report.SavePDF(rep, pdfPath); err != nil {
		return nil, err
	}
	if err := scan.WriteNDJSON(ndjsonPath, rep.Findings()); err != nil {
		return nil, err
	}
	return []string{jsonPath, pdfPath, ndjsonPath}, nil
}

func (g *Gate) closeLogs() error {
	if g.logs == nil {
		return nil
	}
	common.SetLogOutput(os.Stderr)
	err := g.logs.Close()
	g.logs = nil
	return err
}

// Close flushes the frame index and releases the log file.
func (g *Gate) Close() error {
	err := g.store.Close()
	if lerr := g.closeLogs(); err == nil {
		err = lerr
	}
	return err
}
