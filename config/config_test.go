package config

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/baseband/mark5b"
)

func TestLoadDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "baseband.yaml")
	content := "stream:\n  refMJD: 57000\n  threadIDs: [4, 5]\nindex:\n  directory: idx\nlogs:\n  compress: true\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}
	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if cfg.Stream.NChan != 8 || cfg.Stream.BPS != 2 || cfg.Stream.SampleRateHz != 32e6 {
		t.Fatalf("stream defaults = %+v", cfg.Stream)
	}
	if cfg.Index.Directory != filepath.Join(dir, "idx") {
		t.Fatalf("index dir = %q", cfg.Index.Directory)
	}
	if cfg.Logs.Directory != filepath.Join(dir, "logs") || !cfg.Logs.Compress || cfg.Logs.MaxSizeMB != 25 {
		t.Fatalf("logs = %+v", cfg.Logs)
	}
	if cfg.Scan.Window != mark5b.DefaultSearchWindow || cfg.Scan.Concurrency <= 0 {
		t.Fatalf("scan = %+v", cfg.Scan)
	}

	opts := cfg.ReaderOptions()
	if opts.RefMJD != 57000 || len(opts.ThreadIDs) != 2 || opts.ThreadIDs[1] != 5 {
		t.Fatalf("ReaderOptions = %+v", opts)
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		yaml string
	}{
		{"no epoch", "stream:\n  nchan: 8\n"},
		{"bad kday", "stream:\n  kday: 56500\n"},
		{"thread out of range", "stream:\n  refMJD: 57000\n  nchan: 4\n  threadIDs: [4]\n"},
		{"unknown key", "stream:\n  refMJD: 57000\n  channels: 4\n"},
		{"not yaml", "stream: [\n"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse(strings.NewReader(tt.yaml), ".")
			if !errors.Is(err, ErrConfig) {
				t.Fatalf("err = %v, want ErrConfig", err)
			}
		})
	}
}

func TestParseKDay(t *testing.T) {
	cfg, err := Parse(strings.NewReader("stream:\n  kday: 56000\n  bps: 1\n  nchan: 32\n"), "/data")
	if err != nil {
		t.Fatalf("Parse: %v", err)
	}
	if cfg.Scan.ReportDir != filepath.Join("/data", "reports") {
		t.Fatalf("report dir = %q", cfg.Scan.ReportDir)
	}
	opts := cfg.ReaderOptions()
	if opts.KDay != 56000 || opts.BPS != 1 || opts.NChan != 32 {
		t.Fatalf("ReaderOptions = %+v", opts)
	}
}

func TestLoadMissingFile(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "nope.yaml")); !errors.Is(err, os.ErrNotExist) {
		t.Fatalf("err = %v, want not exist", err)
	}
}
