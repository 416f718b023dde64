// Package report renders completed audit reports into downloadable formats.
package report

import (
	"bytes"
	"fmt"

	"github.com/go-pdf/fpdf"

	"github.com/Rorqualx/prodready-go/internal/types"
)

// maxPDFFindings bounds the per-category finding lists rendered into the PDF.
const maxPDFFindings = 10

// GeneratePDF renders the scored report as a PDF document.
func GeneratePDF(r types.AuditReport) ([]byte, error) {
	pdf := fpdf.New("P", "mm", "A4", "")
	pdf.SetTitle("Production Readiness Audit", false)
	pdf.AddPage()

	// Header
	pdf.SetFont("Helvetica", "B", 18)
	pdf.CellFormat(0, 10, "Production Readiness Audit", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.CellFormat(0, 6, r.URL, "", 1, "L", false, 0, "")
	pdf.CellFormat(0, 6, fmt.Sprintf("Audit %s", r.AuditID), "", 1, "L", false, 0, "")
	pdf.Ln(4)

	// Score block
	pdf.SetFont("Helvetica", "B", 28)
	pdf.CellFormat(0, 14, fmt.Sprintf("%d/100  (Grade %s)", r.Score, r.Grade), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 10)
	pdf.MultiCell(0, 5, r.Summary, "", "L", false)
	pdf.Ln(4)

	// Category table
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, "Category Scores", "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "B", 9)
	pdf.CellFormat(70, 6, "Category", "1", 0, "L", false, 0, "")
	pdf.CellFormat(30, 6, "Score", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Max", "1", 0, "C", false, 0, "")
	pdf.CellFormat(30, 6, "Issues", "1", 1, "C", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	for _, c := range r.CategoryScores {
		pdf.CellFormat(70, 6, c.Category, "1", 0, "L", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", c.Score), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", c.MaxScore), "1", 0, "C", false, 0, "")
		pdf.CellFormat(30, 6, fmt.Sprintf("%d", c.IssuesCount), "1", 1, "C", false, 0, "")
	}
	pdf.Ln(4)

	// Findings
	writeSection(pdf, "Console Errors", consoleLines(r.ConsoleErrors))
	writeSection(pdf, "Network Failures", networkLines(r.NetworkFailures))
	writeSection(pdf, "UI Flow Issues", flowLines(r.UIFlows))
	writeSection(pdf, "Security", securityLines(r.SecurityHygiene))
	writeSection(pdf, "Accessibility", accessibilityLines(r.AccessibilityViolations))

	// Recommendations
	if len(r.RecommendedFixes) > 0 {
		pdf.SetFont("Helvetica", "B", 12)
		pdf.CellFormat(0, 8, "Recommendations", "", 1, "L", false, 0, "")
		pdf.SetFont("Helvetica", "", 9)
		for _, fix := range r.RecommendedFixes {
			pdf.SetFont("Helvetica", "B", 9)
			pdf.MultiCell(0, 5, fmt.Sprintf("[%s] %s", fix.Category, fix.Issue), "", "L", false)
			pdf.SetFont("Helvetica", "", 9)
			pdf.MultiCell(0, 5, fix.Recommendation, "", "L", false)
			pdf.Ln(2)
		}
	}

	var buf bytes.Buffer
	if err := pdf.Output(&buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// writeSection renders a titled list of finding lines, skipping empty sections.
func writeSection(pdf *fpdf.Fpdf, title string, lines []string) {
	if len(lines) == 0 {
		return
	}
	pdf.SetFont("Helvetica", "B", 12)
	pdf.CellFormat(0, 8, fmt.Sprintf("%s (%d)", title, len(lines)), "", 1, "L", false, 0, "")
	pdf.SetFont("Helvetica", "", 9)
	for i, line := range lines {
		if i >= maxPDFFindings {
			pdf.MultiCell(0, 5, fmt.Sprintf("... and %d more", len(lines)-maxPDFFindings), "", "L", false)
			break
		}
		pdf.MultiCell(0, 5, "- "+line, "", "L", false)
	}
	pdf.Ln(3)
}

func consoleLines(errors []types.ConsoleError) []string {
	lines := make([]string, 0, len(errors))
	for _, e := range errors {
		lines = append(lines, fmt.Sprintf("[%s] %s (%s)", e.Severity, e.Message, e.PageURL))
	}
	return lines
}

func networkLines(failures []types.NetworkFailure) []string {
	lines := make([]string, 0, len(failures))
	for _, f := range failures {
		if f.Status > 0 {
			lines = append(lines, fmt.Sprintf("%s %s -> HTTP %d", f.Method, f.URL, f.Status))
		} else {
			lines = append(lines, fmt.Sprintf("%s %s -> %s", f.Method, f.URL, f.Error))
		}
	}
	return lines
}

func flowLines(flows []types.UIFlowResult) []string {
	var lines []string
	for _, f := range flows {
		if f.Status == types.FlowOK {
			continue
		}
		lines = append(lines, fmt.Sprintf("[%s] %s %s", f.Status, f.PageURL, f.Notes))
	}
	return lines
}

func securityLines(h types.SecurityHygiene) []string {
	var lines []string
	if !h.HTTPSOk {
		lines = append(lines, "Site not served over HTTPS")
	}
	for _, m := range h.HeadersMissing {
		lines = append(lines, "Missing header: "+m)
	}
	for _, c := range h.CookieFlagsIssues {
		for _, issue := range c.Issues {
			lines = append(lines, fmt.Sprintf("Cookie %s: %s", c.Name, issue))
		}
	}
	return lines
}

func accessibilityLines(violations []types.AccessibilityViolation) []string {
	lines := make([]string, 0, len(violations))
	for _, v := range violations {
		lines = append(lines, fmt.Sprintf("%s (%s): %s [%d nodes]", v.ID, v.Impact, v.Description, v.NodesCount))
	}
	return lines
}
