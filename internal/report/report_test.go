package report

import (
	"archive/zip"
	"bytes"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Rorqualx/prodready-go/internal/types"
)

func sampleReport() types.AuditReport {
	finished := time.Now()
	return types.AuditReport{
		AuditID:    "audit-1",
		SessionID:  "session-1",
		URL:        "https://example.test/",
		StartedAt:  finished.Add(-time.Minute),
		FinishedAt: &finished,
		Score:      88,
		Grade:      "B",
		Summary:    "Production readiness audit completed with good results.",
		CategoryScores: []types.CategoryScore{
			{Category: "Console Errors", Score: 14, MaxScore: 20, IssuesCount: 3},
			{Category: "Network/API", Score: 14, MaxScore: 20, IssuesCount: 2},
		},
		ConsoleErrors: []types.ConsoleError{
			{Message: "TypeError", PageURL: "https://example.test/", Severity: types.SeverityError},
		},
		NetworkFailures: []types.NetworkFailure{
			{URL: "https://example.test/api", Method: "GET", Status: 500},
			{URL: "https://example.test/ws", Method: "GET", Error: "net::ERR_FAILED"},
		},
		UIFlows: []types.UIFlowResult{
			{PageURL: "https://example.test/", Status: types.FlowOK},
			{PageURL: "https://example.test/x", Status: types.FlowError, Notes: "HTTP 500"},
		},
		SecurityHygiene: types.SecurityHygiene{
			HTTPSOk:        false,
			HeadersMissing: []string{"X-Frame-Options"},
			CookieFlagsIssues: []types.CookieFlagIssue{
				{Name: "sid", Domain: "example.test", Issues: []string{"Missing Secure flag"}},
			},
		},
		RecommendedFixes: []types.RecommendedFix{
			{Category: "Security", Severity: types.SeverityError, Issue: "Site not using HTTPS", Recommendation: "Enable HTTPS."},
		},
		PagesAudited: 2,
	}
}

func TestGeneratePDF(t *testing.T) {
	data, err := GeneratePDF(sampleReport())
	if err != nil {
		t.Fatalf("GeneratePDF error: %v", err)
	}
	if len(data) == 0 {
		t.Fatal("empty PDF output")
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Errorf("output does not start with PDF magic: %q", data[:8])
	}
}

func TestGeneratePDFEmptyReport(t *testing.T) {
	finished := time.Now()
	data, err := GeneratePDF(types.AuditReport{
		AuditID:    "audit-2",
		URL:        "https://example.test/",
		FinishedAt: &finished,
		Score:      100,
		Grade:      "A",
		SecurityHygiene: types.SecurityHygiene{HTTPSOk: true},
	})
	if err != nil {
		t.Fatalf("GeneratePDF error on empty report: %v", err)
	}
	if !bytes.HasPrefix(data, []byte("%PDF")) {
		t.Error("invalid PDF output")
	}
}

func TestCreateEvidenceZip(t *testing.T) {
	dir := t.TempDir()
	if err := os.WriteFile(filepath.Join(dir, "preview_latest.jpg"), []byte("jpegdata"), 0o644); err != nil {
		t.Fatal(err)
	}
	shot := filepath.Join(dir, "screenshot_0.png")
	if err := os.WriteFile(shot, []byte("pngdata"), 0o644); err != nil {
		t.Fatal(err)
	}

	data, err := CreateEvidenceZip(dir, []string{shot})
	if err != nil {
		t.Fatalf("CreateEvidenceZip error: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatalf("output is not a zip: %v", err)
	}

	names := map[string]bool{}
	for _, f := range zr.File {
		names[f.Name] = true
	}
	if !names["screenshots/screenshot_0.png"] {
		t.Errorf("screenshot missing from bundle: %v", names)
	}
	if !names["preview_latest.jpg"] {
		t.Errorf("preview missing from bundle: %v", names)
	}
}

func TestCreateEvidenceZipMissingFilesSkipped(t *testing.T) {
	dir := t.TempDir()

	data, err := CreateEvidenceZip(dir, []string{filepath.Join(dir, "gone.png")})
	if err != nil {
		t.Fatalf("CreateEvidenceZip error: %v", err)
	}

	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		t.Fatal(err)
	}
	if len(zr.File) != 0 {
		t.Errorf("bundle has %d entries, want 0", len(zr.File))
	}
}
