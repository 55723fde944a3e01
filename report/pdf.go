package report

import (
	"bytes"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jung-kurt/gofpdf"

	"example.com/baseband/scan"
)

const qrSizeMM = 28

// SavePDF renders rep as an A4 document with a QR code of each recording's
// digest.
func SavePDF(rep *ScanReport, out string) error {
	pdf := gofpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Mark5B Scan Report", false)
	pdf.SetAuthor("baseband", false)
	pdf.SetCreator("baseband", false)
	pdf.SetMargins(15, 20, 15)
	pdf.SetAutoPageBreak(true, 20)
	pdf.AddPage()

	addPDFTitle(pdf, "Mark5B Scan Report")
	addSummarySection(pdf, rep)
	addRecordingsSection(pdf, rep.Recordings)
	if err := addDigestSection(pdf, rep.Recordings); err != nil {
		return err
	}
	addFindingsSection(pdf, rep.Findings())

	if pdf.Err() {
		return pdf.Error()
	}
	return pdf.OutputFileAndClose(out)
}

func addPDFTitle(pdf *gofpdf.Fpdf, title string) {
	pdf.SetFont("Helvetica", "B", 18)
	pdf.Cell(0, 10, title)
	pdf.Ln(12)
}

func addSummarySection(pdf *gofpdf.Fpdf, rep *ScanReport) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Summary")
	pdf.Ln(8)

	pdf.SetFont("Helvetica", "", 11)
	items := []struct {
		label string
		value string
	}{
		{label: "Report", value: rep.ID},
		{label: "Generated", value: rep.Generated.Format(time.RFC3339)},
		{label: "Recordings", value: strconv.Itoa(len(rep.Recordings))},
		{label: "Total Findings", value: strconv.Itoa(rep.Summary.Total)},
		{label: "Errors", value: strconv.Itoa(rep.Summary.Errors)},
		{label: "Warnings", value: strconv.Itoa(rep.Summary.Warnings)},
		{label: "Overall", value: passLabel(rep.Summary.Pass)},
	}
	for _, item := range items {
		pdf.CellFormat(50, 6, item.label, "", 0, "L", false, 0, "")
		pdf.CellFormat(0, 6, item.value, "", 1, "L", false, 0, "")
	}
	pdf.Ln(4)
}

func addRecordingsSection(pdf *gofpdf.Fpdf, recs []*scan.Result) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Recordings")
	pdf.Ln(9)

	headers := []string{"File", "Start", "Frames", "Missing", "Invalid", "Resyncs", "Pass"}
	widths := []float64{46, 44, 18, 18, 18, 18, 18}

	pdf.SetFillColor(240, 240, 240)
	pdf.SetFont("Helvetica", "B", 10)
	for i, h := range headers {
		pdf.CellFormat(widths[i], 7, h, "1", 0, "L", true, 0, "")
	}
	pdf.Ln(-1)

	pdf.SetFont("Helvetica", "", 9)
	for _, r := range recs {
		start := "-"
		if !r.Start.IsZero() {
			start = r.Start.Format("2006-01-02 15:04:05.000000")
		}
		values := []string{
			emptyFallback(filepath.Base(r.File), "-"),
			start,
			strconv.FormatInt(r.Frames, 10),
			strconv.FormatInt(r.Missing, 10),
			strconv.FormatInt(r.Invalid, 10),
			strconv.FormatInt(r.Resyncs, 10),
			passLabel(r.Summary().Pass),
		}
		renderTableRow(pdf, widths, values, 5)
	}
	pdf.Ln(4)
}

func addDigestSection(pdf *gofpdf.Fpdf, recs []*scan.Result) error {
	var withDigest []*scan.Result
	for _, r := range recs {
		if r.Digest != "" {
			withDigest = append(withDigest, r)
		}
	}
	if len(withDigest) == 0 {
		return nil
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Digests")
	pdf.Ln(9)
	opts := gofpdf.ImageOptions{ImageType: "PNG"}
	for i, r := range withDigest {
		png, err := DigestQR(r.Digest, 256)
		if err != nil {
			return fmt.Errorf("qr for %s: %w", r.File, err)
		}
		name := fmt.Sprintf("digest-%d", i)
		pdf.RegisterImageOptionsReader(name, opts, bytes.NewReader(png))
		_, pageHeight := pdf.GetPageSize()
		if pdf.GetY()+qrSizeMM > pageHeight-20 {
			pdf.AddPage()
		}
		x, y := pdf.GetX(), pdf.GetY()
		pdf.ImageOptions(name, x, y, qrSizeMM, qrSizeMM, false, opts, 0, "")
		pdf.SetXY(x+qrSizeMM+4, y+4)
		pdf.SetFont("Helvetica", "B", 10)
		pdf.MultiCell(0, 5, filepath.Base(r.File), "", "L", false)
		pdf.SetX(x + qrSizeMM + 4)
		pdf.SetFont("Courier", "", 8)
		pdf.MultiCell(0, 4, r.Digest, "", "L", false)
		pdf.SetXY(x, y+qrSizeMM+3)
	}
	return nil
}

func addFindingsSection(pdf *gofpdf.Fpdf, findings []scan.Diagnostic) {
	pdf.SetFont("Helvetica", "B", 12)
	pdf.Cell(0, 8, "Findings")
	pdf.Ln(9)

	if len(findings) == 0 {
		pdf.SetFont("Helvetica", "", 11)
		pdf.MultiCell(0, 6, "No findings recorded.", "", "L", false)
		return
	}

	for i, d := range findings {
		pdf.SetFont("Helvetica", "B", 10)
		header := fmt.Sprintf("%d. %s (%s)", i+1, d.Code, severityLabel(d.Severity))
		pdf.MultiCell(0, 5, header, "", "L", false)

		if msg := strings.TrimSpace(d.Message); msg != "" {
			pdf.SetFont("Helvetica", "", 10)
			pdf.MultiCell(0, 5, msg, "", "L", false)
		}

		pdf.SetFont("Helvetica", "", 9)
		pdf.MultiCell(0, 4, findingMetadata(d), "", "L", false)
		pdf.Ln(2)
	}
}

func renderTableRow(pdf *gofpdf.Fpdf, widths []float64, values []string, lineHeight float64) {
	xStart := pdf.GetX()
	yStart := pdf.GetY()
	maxLines := 1
	splitCols := make([][]string, len(values))
	for i, val := range values {
		text := strings.TrimSpace(val)
		if text == "" {
			text = "-"
		}
		lines := pdf.SplitText(text, widths[i]-2)
		if len(lines) == 0 {
			lines = []string{""}
		}
		splitCols[i] = lines
		if len(lines) > maxLines {
			maxLines = len(lines)
		}
	}
	rowHeight := float64(maxLines) * lineHeight
	x := xStart
	for i, lines := range splitCols {
		pdf.SetXY(x, yStart)
		cellText := strings.Join(lines, "\n")
		pdf.MultiCell(widths[i], lineHeight, cellText, "1", "L", false)
		x += widths[i]
	}
	pdf.SetXY(xStart, yStart+rowHeight)
}

func passLabel(pass bool) string {
	if pass {
		return "PASS"
	}
	return "FAIL"
}

func severityLabel(sev scan.Severity) string {
	if s := strings.TrimSpace(string(sev)); s != "" {
		return s
	}
	return "UNKNOWN"
}

func emptyFallback(val, fallback string) string {
	if strings.TrimSpace(val) == "" {
		return fallback
	}
	return val
}

func findingMetadata(d scan.Diagnostic) string {
	parts := []string{fmt.Sprintf("Frame %d", d.Frame), fmt.Sprintf("Offset %d", d.Offset)}
	if d.File != "" {
		parts = append([]string{filepath.Base(d.File)}, parts...)
	}
	if !d.Ts.IsZero() {
		parts = append([]string{d.Ts.Format(time.RFC3339)}, parts...)
	}
	return strings.Join(parts, " · ")
}
