package baseband

import (
	"bytes"
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"example.com/baseband/internal/samples"
	"example.com/baseband/mark5b"
	"example.com/baseband/report"
)

func writeGateConfig(t *testing.T, dir string) string {
	t.Helper()
	cfg := strings.Join([]string{
		"stream:",
		"  refMJD: 57000",
		"index:",
		"  directory: index",
		"scan:",
		"  concurrency: 2",
		"  reportDir: reports",
		"logs:",
		"  directory: logs",
	}, "\n")
	path := filepath.Join(dir, "gate.yaml")
	if err := os.WriteFile(path, []byte(cfg), 0o644); err != nil {
		t.Fatal(err)
	}
	return path
}

func writeRecordings(t *testing.T, dir string) (string, string) {
	t.Helper()
	data := samples.Default()
	clean := filepath.Join(dir, "clean.m5b")
	gapped := filepath.Join(dir, "gapped.m5b")
	if err := samples.WriteFile(clean, data); err != nil {
		t.Fatal(err)
	}
	if err := samples.WriteFile(gapped, append(append([]byte{}, data[:mark5b.FrameSize]...), data[2*mark5b.FrameSize:]...)); err != nil {
		t.Fatal(err)
	}
	return clean, gapped
}

func TestGateScanWritesReportsAndIndex(t *testing.T) {
	dir := t.TempDir()
	clean, gapped := writeRecordings(t, dir)
	g, err := Open(writeGateConfig(t, dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}

	rep, err := g.Scan(context.Background(), []string{clean, gapped}, nil)
	if err != nil {
		t.Fatalf("Scan: %v", err)
	}
	if len(rep.Recordings) != 2 || rep.Summary.Pass || rep.Summary.Errors != 1 {
		t.Fatalf("report = %+v", rep.Summary)
	}
	for _, ext := range []string{".json", ".pdf", ".jsonl"} {
		if _, err := os.Stat(filepath.Join(dir, "reports", rep.ID+ext)); err != nil {
			t.Fatalf("missing %s report: %v", ext, err)
		}
	}
	loaded, err := report.LoadJSON(filepath.Join(dir, "reports", rep.ID+".json"))
	if err != nil {
		t.Fatal(err)
	}
	if loaded.ID != rep.ID || len(loaded.Recordings) != 2 {
		t.Fatalf("loaded report = %+v", loaded)
	}
	if _, err := os.Stat(filepath.Join(dir, "logs", "baseband.log")); err != nil {
		t.Fatalf("log file: %v", err)
	}
	if snap := g.Metrics(); snap.Frames != 7 || snap.Missing != 1 {
		t.Fatalf("metrics = %+v", snap)
	}
	if err := g.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	// The index outlives the Gate.
	g, err = Open(writeGateConfig(t, dir))
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer g.Close()
	for path, want := range map[string]int{clean: 4, gapped: 3} {
		n, err := g.Index(path).Len()
		if err != nil || n != want {
			t.Fatalf("%s index has %d frames (%v), want %d", filepath.Base(path), n, err, want)
		}
	}
}

func TestGateStreamRoundTrip(t *testing.T) {
	dir := t.TempDir()
	clean, _ := writeRecordings(t, dir)
	g, err := Open(writeGateConfig(t, dir))
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	defer g.Close()

	r, err := g.OpenStream(clean)
	if err != nil {
		t.Fatalf("OpenStream: %v", err)
	}
	defer r.Close()
	if r.Size() != 20000 {
		t.Fatalf("Size = %d, want 20000", r.Size())
	}
	all, err := r.Read(-1)
	if err != nil {
		t.Fatal(err)
	}

	out := filepath.Join(dir, "copy.m5b")
	w, err := g.CreateStream(out, mark5b.WriterOptions{Time: r.Time0(), User: samples.User})
	if err != nil {
		t.Fatalf("CreateStream: %v", err)
	}
	if err := w.Write(all, false); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := w.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	want, err := os.ReadFile(clean)
	if err != nil {
		t.Fatal(err)
	}
	got, err := os.ReadFile(out)
	if err != nil {
		t.Fatal(err)
	}
	if !bytes.Equal(got, want) {
		t.Fatalf("copy differs from the original")
	}
}

func TestGateConfigErrors(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "bad.yaml")
	if err := os.WriteFile(path, []byte("stream:\n  nchan: 8\n"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Open(path); err == nil {
		t.Fatalf("Open without an epoch reference succeeded")
	}
	if _, err := Open(filepath.Join(dir, "missing.yaml")); err == nil {
		t.Fatalf("Open of a missing file succeeded")
	}
}
