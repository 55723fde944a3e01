package scan

import (
	"bufio"
	"encoding/json"
	"os"
	"time"
)

type Severity string

const (
	ERROR Severity = "ERROR"
	WARN  Severity = "WARN"
	INFO  Severity = "INFO"
)

// Diagnostic codes.
const (
	CodeNoSync       = "no-sync"
	CodeResync       = "resync"
	CodeSyncLost     = "sync-lost"
	CodeCRC          = "crc-mismatch"
	CodeMissing      = "missing-frames"
	CodeTimeBackward = "time-backward"
	CodeInvalid      = "invalid-frame"
	CodeTruncated    = "truncated-tail"
)

type Diagnostic struct {
	Ts       time.Time `json:"ts"`
	File     string    `json:"file"`
	Code     string    `json:"code"`
	Severity Severity  `json:"severity"`
	Frame    int64     `json:"frame"`
	Offset   int64     `json:"offset"`
	Message  string    `json:"message"`
}

type Summary struct {
	Total    int  `json:"total"`
	Errors   int  `json:"errors"`
	Warnings int  `json:"warnings"`
	Pass     bool `json:"pass"`
}

// Summarize counts diagnostics by severity; any ERROR fails the recording.
func Summarize(diags []Diagnostic) Summary {
	var s Summary
	for _, d := range diags {
		switch d.Severity {
		case ERROR:
			s.Errors++
		case WARN:
			s.Warnings++
		}
	}
	s.Total = len(diags)
	s.Pass = s.Errors == 0
	return s
}

// WriteNDJSON writes one JSON diagnostic per line.
func WriteNDJSON(path string, diags []Diagnostic) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	w := bufio.NewWriter(f)
	enc := json.NewEncoder(w)
	for _, d := range diags {
		if err := enc.Encode(d); err != nil {
			f.Close()
			return err
		}
	}
	if err := w.Flush(); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}
