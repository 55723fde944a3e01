package report

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"example.com/baseband/internal/samples"
	"example.com/baseband/mark5b"
	"example.com/baseband/scan"
)

func scanResults(t *testing.T) []*scan.Result {
	t.Helper()
	dir := t.TempDir()
	data := samples.Default()
	clean := filepath.Join(dir, "clean.m5b")
	broken := filepath.Join(dir, "broken.m5b")
	if err := samples.WriteFile(clean, data); err != nil {
		t.Fatal(err)
	}
	if err := samples.WriteFile(broken, samples.Corrupt(data)); err != nil {
		t.Fatal(err)
	}
	opts := scan.Options{
		NChan:      samples.NChan,
		BPS:        samples.BPS,
		SampleRate: samples.SampleRate,
		Ref:        mark5b.KDay(56000),
	}
	results, err := scan.ScanFiles(context.Background(), []string{clean, broken}, opts, 2, nil)
	if err != nil {
		t.Fatalf("ScanFiles: %v", err)
	}
	return results
}

func TestNewReport(t *testing.T) {
	rep := New(append(scanResults(t), nil))
	if len(rep.Recordings) != 2 {
		t.Fatalf("recordings = %d, want 2", len(rep.Recordings))
	}
	if rep.Summary.Pass || rep.Summary.Errors != 1 || rep.Summary.Warnings != 1 {
		t.Fatalf("summary = %+v", rep.Summary)
	}
	if got := len(rep.Findings()); got != 2 {
		t.Fatalf("findings = %d, want 2", got)
	}
	ts, err := rep.Timestamp()
	if err != nil {
		t.Fatalf("Timestamp: %v", err)
	}
	if d := time.Since(ts); d < -time.Minute || d > time.Minute {
		t.Fatalf("report id time %v is not recent", ts)
	}
	if other := New(nil); other.ID == rep.ID || !other.Summary.Pass {
		t.Fatalf("empty report = %+v", other)
	}
}

func TestSaveLoadJSON(t *testing.T) {
	rep := New(scanResults(t))
	path := filepath.Join(t.TempDir(), "report.json")
	if err := SaveJSON(rep, path); err != nil {
		t.Fatalf("SaveJSON: %v", err)
	}
	got, err := LoadJSON(path)
	if err != nil {
		t.Fatalf("LoadJSON: %v", err)
	}
	if got.ID != rep.ID || got.Summary != rep.Summary || len(got.Recordings) != 2 {
		t.Fatalf("loaded = %+v", got)
	}
	if got.Recordings[1].Missing != 1 || got.Recordings[0].Digest != rep.Recordings[0].Digest {
		t.Fatalf("recordings = %+v", got.Recordings)
	}
	if _, err := LoadJSON(filepath.Join(t.TempDir(), "none.json")); err == nil {
		t.Fatalf("expected error for missing report")
	}
}

func TestSavePDF(t *testing.T) {
	rep := New(scanResults(t))
	path := filepath.Join(t.TempDir(), "report.pdf")
	if err := SavePDF(rep, path); err != nil {
		t.Fatalf("SavePDF: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF-")) {
		t.Fatalf("not a PDF: %q", data[:8])
	}

	rep.Recordings[0].Digest = "not-a-digest"
	if err := SavePDF(rep, path); err == nil || !strings.Contains(err.Error(), "SHA-256") {
		t.Fatalf("err = %v, want digest error", err)
	}
}

func TestDigestQR(t *testing.T) {
	digest := strings.Repeat("ab", 32)
	tests := []struct {
		in string
		ok bool
	}{
		{digest, true},
		{"SHA256:" + strings.ToUpper(digest), true},
		{" " + digest + " ", true},
		{"", false},
		{digest[:10], false},
		{strings.Repeat("zz", 32), false},
	}
	for _, tt := range tests {
		png, err := DigestQR(tt.in, 0)
		if (err == nil) != tt.ok {
			t.Fatalf("DigestQR(%q) err = %v, want ok=%v", tt.in, err, tt.ok)
		}
		if tt.ok && !bytes.HasPrefix(png, []byte("\x89PNG")) {
			t.Fatalf("DigestQR(%q) is not a PNG", tt.in)
		}
	}
}
