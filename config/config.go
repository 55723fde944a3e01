package config

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"

	"gopkg.in/yaml.v3"

	"example.com/baseband/internal/common"
	"example.com/baseband/mark5b"
)

var ErrConfig = errors.New("invalid configuration")

type StreamConfig struct {
	NChan        int     `yaml:"nchan"`
	BPS          int     `yaml:"bps"`
	SampleRateHz float64 `yaml:"sampleRateHz"`
	RefMJD       float64 `yaml:"refMJD"`
	KDay         int     `yaml:"kday"`
	ThreadIDs    []int   `yaml:"threadIDs"`
	FillValue    float32 `yaml:"fillValue"`
}

type IndexConfig struct {
	// Directory of the pebble frame index; empty keeps indices in memory.
	Directory string `yaml:"directory"`
}

type ScanConfig struct {
	Concurrency int    `yaml:"concurrency"`
	Window      int64  `yaml:"window"`
	ReportDir   string `yaml:"reportDir"`
}

type Config struct {
	Stream StreamConfig     `yaml:"stream"`
	Index  IndexConfig      `yaml:"index"`
	Scan   ScanConfig       `yaml:"scan"`
	Logs   common.LogConfig `yaml:"logs"`
}

// Load reads a YAML file; relative paths in it are taken relative to the
// file's directory.
func Load(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, err
	}
	defer f.Close()
	cfg, err := Parse(f, filepath.Dir(path))
	if err != nil {
		return cfg, fmt.Errorf("%s: %w", path, err)
	}
	return cfg, nil
}

// Parse decodes YAML from r, fills in defaults and validates.
func Parse(r io.Reader, baseDir string) (Config, error) {
	var cfg Config
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&cfg); err != nil && !errors.Is(err, io.EOF) {
		return cfg, fmt.Errorf("%w: %v", ErrConfig, err)
	}
	resolvePath := func(p string) string {
		p = strings.TrimSpace(p)
		if p == "" || filepath.IsAbs(p) {
			return filepath.Clean(p)
		}
		return filepath.Clean(filepath.Join(baseDir, p))
	}

	if cfg.Stream.NChan == 0 {
		cfg.Stream.NChan = 8
	}
	if cfg.Stream.BPS == 0 {
		cfg.Stream.BPS = 2
	}
	if cfg.Stream.SampleRateHz == 0 {
		cfg.Stream.SampleRateHz = 32e6
	}
	if cfg.Index.Directory != "" {
		cfg.Index.Directory = resolvePath(cfg.Index.Directory)
	}
	if cfg.Scan.Concurrency <= 0 {
		cfg.Scan.Concurrency = runtime.NumCPU()
	}
	if cfg.Scan.Window <= 0 {
		cfg.Scan.Window = mark5b.DefaultSearchWindow
	}
	if cfg.Scan.ReportDir == "" {
		cfg.Scan.ReportDir = "reports"
	}
	cfg.Scan.ReportDir = resolvePath(cfg.Scan.ReportDir)
	if cfg.Logs.Directory == "" {
		cfg.Logs.Directory = "logs"
	}
	cfg.Logs.Directory = resolvePath(cfg.Logs.Directory)
	if cfg.Logs.MaxSizeMB <= 0 {
		cfg.Logs.MaxSizeMB = 25
	}
	if cfg.Logs.MaxAgeDays <= 0 {
		cfg.Logs.MaxAgeDays = 7
	}
	if cfg.Logs.MaxBackups <= 0 {
		cfg.Logs.MaxBackups = 5
	}
	return cfg, cfg.Validate()
}

func (c Config) Validate() error {
	s := c.Stream
	if s.RefMJD <= 0 && s.KDay <= 0 {
		return fmt.Errorf("%w: stream.refMJD or stream.kday is required", ErrConfig)
	}
	if s.KDay%1000 != 0 {
		return fmt.Errorf("%w: stream.kday %d is not a multiple of 1000", ErrConfig, s.KDay)
	}
	if s.SampleRateHz < 0 {
		return fmt.Errorf("%w: negative stream.sampleRateHz", ErrConfig)
	}
	for _, id := range s.ThreadIDs {
		if id < 0 || id >= s.NChan {
			return fmt.Errorf("%w: thread %d outside 0..%d", ErrConfig, id, s.NChan-1)
		}
	}
	return nil
}

// ReaderOptions converts the stream section; index and metrics are left to
// the caller.
func (c Config) ReaderOptions() mark5b.ReaderOptions {
	return mark5b.ReaderOptions{
		NChan:      c.Stream.NChan,
		BPS:        c.Stream.BPS,
		SampleRate: c.Stream.SampleRateHz,
		RefMJD:     c.Stream.RefMJD,
		KDay:       c.Stream.KDay,
		ThreadIDs:  append([]int(nil), c.Stream.ThreadIDs...),
		FillValue:  c.Stream.FillValue,
	}
}
