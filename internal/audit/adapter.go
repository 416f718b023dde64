package audit

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/Rorqualx/prodready-go/internal/types"
)

// The result endpoint serves a flattened shape tailored for report viewers:
// a single findings list with normalized severities plus a per-category
// breakdown with severity counts.

// Finding is one adapted finding entry.
type Finding struct {
	ID             string `json:"id"`
	Category       string `json:"category"`
	Severity       string `json:"severity"`
	Title          string `json:"title"`
	Description    string `json:"description"`
	AffectedURL    string `json:"affected_url"`
	Evidence       string `json:"evidence,omitempty"`
	ScreenshotURL  string `json:"screenshot_url,omitempty"`
	RecommendedFix string `json:"recommended_fix"`
	Timestamp      string `json:"timestamp"`
}

// CategoryBreakdown is the adapted per-category entry.
type CategoryBreakdown struct {
	Category      string `json:"category"`
	Score         int    `json:"score"`
	Weight        int    `json:"weight"`
	FindingsCount int    `json:"findings_count"`
	CriticalCount int    `json:"critical_count"`
	HighCount     int    `json:"high_count"`
	MediumCount   int    `json:"medium_count"`
	LowCount      int    `json:"low_count"`
}

// Result is the adapted report shape served by the result endpoint.
type Result struct {
	AuditID         string              `json:"audit_id"`
	SessionID       string              `json:"session_id"`
	TargetURL       string              `json:"target_url"`
	OverallScore    int                 `json:"overall_score"`
	Grade           string              `json:"grade"`
	CategoryScores  []CategoryBreakdown `json:"category_scores"`
	Findings        []Finding           `json:"findings"`
	PagesCrawled    []string            `json:"pages_crawled"`
	StartedAt       string              `json:"started_at"`
	CompletedAt     string              `json:"completed_at"`
	DurationSeconds float64             `json:"duration_seconds"`
}

// categoryKeys maps report category names to adapted category keys.
var categoryKeys = map[string]string{
	"Console Errors": "console",
	"Network/API":    "network",
	"UI Flows":       "ui_flow",
	"Security":       "security",
	"Performance":    "performance",
	"Accessibility":  "accessibility",
}

// AdaptReport reshapes an AuditReport into the adapted result contract.
func AdaptReport(report types.AuditReport) Result {
	findings := collectFindings(report)

	categories := make([]CategoryBreakdown, 0, len(report.CategoryScores))
	for _, c := range report.CategoryScores {
		key, ok := categoryKeys[c.Category]
		if !ok {
			key = strings.ReplaceAll(strings.ToLower(c.Category), " ", "_")
		}
		var critical, high, medium, low, info int
		for _, f := range findings {
			if f.Category != key {
				continue
			}
			switch f.Severity {
			case "critical":
				critical++
			case "high":
				high++
			case "medium":
				medium++
			case "low":
				low++
			case "info":
				info++
			}
		}
		categories = append(categories, CategoryBreakdown{
			Category:      key,
			Score:         c.Score,
			Weight:        c.MaxScore,
			FindingsCount: c.IssuesCount,
			CriticalCount: critical,
			HighCount:     high,
			MediumCount:   medium,
			LowCount:      low + info,
		})
	}

	pages := make([]string, 0, len(report.UIFlows))
	for _, f := range report.UIFlows {
		if f.PageURL != "" {
			pages = append(pages, f.PageURL)
		}
	}
	if len(pages) == 0 {
		pages = []string{report.URL}
	}

	completedAt := time.Now().UTC().Format(time.RFC3339)
	if report.FinishedAt != nil {
		completedAt = report.FinishedAt.UTC().Format(time.RFC3339)
	}

	return Result{
		AuditID:         report.AuditID,
		SessionID:       report.SessionID,
		TargetURL:       report.URL,
		OverallScore:    report.Score,
		Grade:           report.Grade,
		CategoryScores:  categories,
		Findings:        findings,
		PagesCrawled:    pages,
		StartedAt:       report.StartedAt.UTC().Format(time.RFC3339),
		CompletedAt:     completedAt,
		DurationSeconds: report.DurationSeconds,
	}
}

// mapSeverity converts a backend severity to the adapted scale.
func mapSeverity(sev types.Severity) string {
	switch sev {
	case types.SeverityError:
		return "high"
	case types.SeverityWarning:
		return "medium"
	case types.SeverityInfo:
		return "info"
	default:
		return "low"
	}
}

// impactToSeverity converts an accessibility impact to the adapted scale.
func impactToSeverity(impact string) string {
	switch strings.ToLower(impact) {
	case "critical", "serious":
		return "high"
	case "moderate":
		return "medium"
	case "":
		return "medium"
	default:
		return "low"
	}
}

func newFinding(category, severity, title, description, affectedURL, fix string) Finding {
	return Finding{
		ID:             uuid.NewString(),
		Category:       category,
		Severity:       severity,
		Title:          title,
		Description:    description,
		AffectedURL:    affectedURL,
		RecommendedFix: fix,
		Timestamp:      time.Now().UTC().Format(time.RFC3339),
	}
}

// collectFindings flattens every report category into adapted findings.
func collectFindings(report types.AuditReport) []Finding {
	findings := []Finding{}

	for _, e := range report.ConsoleErrors {
		f := newFinding(
			"console",
			mapSeverity(e.Severity),
			"Console issue",
			orDefault(e.Message, "Console error/warning captured."),
			orDefault(e.PageURL, report.URL),
			"Fix the error at the source. Check stack trace and ensure proper exception handling.",
		)
		if e.Stack != "" {
			f.Evidence = e.Stack
		} else {
			f.Evidence = e.Location
		}
		if e.Timestamp != "" {
			f.Timestamp = e.Timestamp
		}
		findings = append(findings, f)
	}

	for _, n := range report.NetworkFailures {
		severity := "medium"
		if n.Status >= 500 {
			severity = "high"
		}
		desc := fmt.Sprintf("%s %s", n.Method, n.URL)
		if n.Status > 0 {
			desc += fmt.Sprintf(" -> HTTP %d", n.Status)
		}
		if n.Error != "" {
			desc += " | error=" + n.Error
		}
		if n.DurationMs > 0 {
			desc += fmt.Sprintf(" | %.0fms", n.DurationMs)
		}
		f := newFinding(
			"network",
			severity,
			"Network/API failure",
			desc,
			n.URL,
			"Fix API errors (4xx/5xx), CORS, timeouts. Add retries and proper error handling.",
		)
		f.Evidence = "resource_type=" + n.ResourceType
		findings = append(findings, f)
	}

	for _, u := range report.UIFlows {
		if u.Status == types.FlowOK {
			continue
		}
		severity := "medium"
		if u.Status == types.FlowError {
			severity = "high"
		}
		f := newFinding(
			"ui_flow",
			severity,
			"UI flow issue",
			orDefault(u.Notes, "UI flow warning/error detected."),
			orDefault(u.PageURL, report.URL),
			"Fix routing/render errors, ensure required API calls succeed, and handle empty/error states gracefully.",
		)
		f.ScreenshotURL = u.ScreenshotPath
		findings = append(findings, f)
	}

	sh := report.SecurityHygiene
	if !sh.HTTPSOk {
		findings = append(findings, newFinding(
			"security", "high", "HTTPS not enabled",
			"Target URL is not using HTTPS.",
			report.URL,
			"Enable HTTPS (TLS) and redirect HTTP to HTTPS.",
		))
	}
	if len(sh.HeadersMissing) > 0 {
		findings = append(findings, newFinding(
			"security", "medium", "Missing security headers",
			"Missing: "+strings.Join(sh.HeadersMissing, ", "),
			report.URL,
			"Add recommended security headers in your server/reverse-proxy configuration (CSP, X-Frame-Options, etc.).",
		))
	}
	for _, c := range sh.CookieFlagsIssues {
		findings = append(findings, newFinding(
			"security", "medium", "Cookie flags issue",
			fmt.Sprintf("Cookie '%s' (%s) issues: %s", c.Name, c.Domain, strings.Join(c.Issues, ", ")),
			report.URL,
			"Set Secure, HttpOnly, and SameSite appropriately for auth/session cookies.",
		))
	}

	for _, a := range report.Performance.LargestAssets {
		severity := "low"
		if a.SizeBytes > 2_000_000 {
			severity = "medium"
		}
		findings = append(findings, newFinding(
			"performance", severity, "Large asset",
			fmt.Sprintf("%s size=%d bytes type=%s", a.URL, a.SizeBytes, a.Type),
			a.URL,
			"Compress/optimize images, enable caching, consider lazy loading, and use modern formats (webp/avif).",
		))
	}
	for _, s := range report.Performance.SlowEndpoints {
		severity := "low"
		if s.DurationMs > 3000 {
			severity = "medium"
		}
		findings = append(findings, newFinding(
			"performance", severity, "Slow endpoint",
			fmt.Sprintf("%s %s took %.0fms (status %d)", s.Method, s.URL, s.DurationMs, s.Status),
			s.URL,
			"Optimize slow resources/endpoints, add caching/CDN, reduce payload size, and improve server response time.",
		))
	}

	for _, v := range report.AccessibilityViolations {
		f := newFinding(
			"accessibility",
			impactToSeverity(v.Impact),
			"A11y violation: "+v.ID,
			fmt.Sprintf("%s (nodes: %d)", v.Description, v.NodesCount),
			orDefault(v.PageURL, report.URL),
			"Fix contrast/labels/landmarks. Use semantic HTML, aria-labels, and check with an accessibility scanner.",
		)
		f.Evidence = v.HelpURL
		findings = append(findings, f)
	}

	return findings
}

func orDefault(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
