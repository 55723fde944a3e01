package report

import (
	"encoding/json"
	"os"
	"time"

	"github.com/segmentio/ksuid"

	"example.com/baseband/scan"
)

// ScanReport gathers the scan results of one or more recordings.
type ScanReport struct {
	ID         string         `json:"id"`
	Generated  time.Time      `json:"generated"`
	Summary    scan.Summary   `json:"summary"`
	Recordings []*scan.Result `json:"recordings"`
}

func New(results []*scan.Result) *ScanReport {
	rep := &ScanReport{
		ID:        ksuid.New().String(),
		Generated: time.Now().UTC(),
	}
	var diags []scan.Diagnostic
	for _, r := range results {
		if r == nil {
			continue
		}
		rep.Recordings = append(rep.Recordings, r)
		diags = append(diags, r.Diagnostics...)
	}
	rep.Summary = scan.Summarize(diags)
	return rep
}

// Findings lists every diagnostic across recordings.
func (r *ScanReport) Findings() []scan.Diagnostic {
	var out []scan.Diagnostic
	for _, rec := range r.Recordings {
		out = append(out, rec.Diagnostics...)
	}
	return out
}

// Timestamp is when the report ID was minted.
func (r *ScanReport) Timestamp() (time.Time, error) {
	id, err := ksuid.Parse(r.ID)
	if err != nil {
		return time.Time{}, err
	}
	return id.Time(), nil
}

func SaveJSON(rep *ScanReport, out string) error {
	b, err := json.MarshalIndent(rep, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(out, b, 0644)
}

func LoadJSON(path string) (*ScanReport, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var rep ScanReport
	if err := json.Unmarshal(b, &rep); err != nil {
		return nil, err
	}
	return &rep, nil
}
