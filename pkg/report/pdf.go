package report

import (
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/bountyscan/bountyscan/pkg/finding"
)

// maxPDFFindings bounds how many findings the PDF summary details.
// The markdown report always carries the full set.
const maxPDFFindings = 25

// WritePDF renders a one-document PDF summary of the run to path.
func WritePDF(path string, data *Data) error {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Security Assessment Report", false)
	pdf.AddPage()

	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "Security Assessment Report", "", 1, "L", false, 0, "")
	pdf.Ln(2)

	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("Target: %s", data.Target), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Run: %s (%s)", data.RunID, data.Mode), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Status: %s", data.Status), "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Generated: %s", data.GeneratedAt.Format("2006-01-02 15:04:05 MST")), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, "Summary", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 11)
	pdf.CellFormat(0, 6, fmt.Sprintf("%d finding(s) after triage, %d excluded as likely false positive(s)",
		data.TotalKept(), len(data.FalsePositives)), "", 1, "L", false, 0, "")
	pdf.Ln(2)

	if rows := data.SeverityRows(); len(rows) > 0 {
		pdf.SetFont("Helvetica", "B", 11)
		pdf.CellFormat(50, 7, "Severity", "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 7, "Count", "1", 1, "R", false, 0, "")
		pdf.SetFont("Helvetica", "", 11)
		for _, row := range rows {
			pdf.CellFormat(50, 7, row.Label, "1", 0, "L", false, 0, "")
			pdf.CellFormat(30, 7, fmt.Sprintf("%d", row.Count), "1", 1, "R", false, 0, "")
		}
		pdf.Ln(4)
	}

	pdf.SetFont("Helvetica", "B", 14)
	pdf.CellFormat(0, 8, "Findings", "", 1, "L", false, 0, "")

	if len(data.Findings) == 0 {
		pdf.SetFont("Helvetica", "I", 11)
		pdf.CellFormat(0, 6, "No findings survived triage.", "", 1, "L", false, 0, "")
	}

	for i, f := range data.Findings {
		if i >= maxPDFFindings {
			pdf.SetFont("Helvetica", "I", 10)
			pdf.CellFormat(0, 6, fmt.Sprintf("... and %d more (see markdown report)", len(data.Findings)-i), "", 1, "L", false, 0, "")
			break
		}
		writePDFFinding(pdf, i+1, f)
	}

	if len(data.FalsePositives) > 0 {
		pdf.Ln(4)
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, "Appendix: excluded as likely false positives", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 10)
		for _, f := range data.FalsePositives {
			line := fmt.Sprintf("- %s (%s)", f.Name, f.Target)
			if f.Triage != nil {
				line = fmt.Sprintf("%s, score %.2f", line, f.Triage.FinalScore)
			}
			pdf.CellFormat(0, 5, line, "", 1, "L", false, 0, "")
		}
	}

	if err := pdf.OutputFileAndClose(path); err != nil {
		return fmt.Errorf("write pdf report: %w", err)
	}
	return nil
}

func writePDFFinding(pdf *fpdf.Fpdf, n int, f *finding.Record) {
	pdf.SetFont("Helvetica", "B", 11)
	pdf.CellFormat(0, 7, fmt.Sprintf("%d. %s", n, f.Name), "", 1, "L", false, 0, "")

	pdf.SetFont("Helvetica", "", 10)
	sev := string(f.EffectiveSeverity())
	if f.EffectiveSeverity() != f.Severity {
		sev = fmt.Sprintf("%s (reported %s)", sev, f.Severity)
	}
	pdf.CellFormat(0, 5, fmt.Sprintf("Severity: %s    Target: %s    Scanner: %s", sev, f.Target, f.ScannerKind), "", 1, "L", false, 0, "")
	if f.Triage != nil {
		pdf.CellFormat(0, 5, fmt.Sprintf("Score: %.2f (confidence %.2f)", f.Triage.FinalScore, f.Triage.Confidence), "", 1, "L", false, 0, "")
	}
	if f.Description != "" {
		pdf.MultiCell(0, 5, f.Description, "", "L", false)
	}
	pdf.Ln(2)
}
