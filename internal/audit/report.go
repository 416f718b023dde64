package audit

import (
	"fmt"
	"strings"

	"github.com/Rorqualx/prodready-go/internal/types"
)

// Report list caps.
const (
	maxReportAssets    = 10
	maxReportEndpoints = 10
	maxAffectedURLs    = 5
)

// BuildReport aggregates a finished audit's findings into the scored report.
// Pure aggregation over the snapshot: no driver or network access.
func BuildReport(snap Snapshot) types.AuditReport {
	uiErrors := countUIErrors(snap.UIFlows)
	securityIssues := countSecurityIssues(snap.SecurityHygiene)

	score := CalculateScore(Counters{
		ConsoleErrors:           len(snap.ConsoleErrors),
		NetworkFailures:         len(snap.NetworkFailures),
		UIErrors:                uiErrors,
		SecurityIssues:          securityIssues,
		AccessibilityViolations: len(snap.AccessibilityViolations),
		SlowEndpoints:           len(snap.SlowEndpoints),
	})

	var duration float64
	if snap.FinishedAt != nil {
		duration = snap.FinishedAt.Sub(snap.StartedAt).Seconds()
	}

	hygiene := types.SecurityHygiene{HTTPSOk: true, HeadersPresent: []string{}, HeadersMissing: []string{}, CookieFlagsIssues: []types.CookieFlagIssue{}}
	if snap.SecurityHygiene != nil {
		hygiene = *snap.SecurityHygiene
	}

	return types.AuditReport{
		AuditID:         snap.AuditID,
		SessionID:       snap.SessionID,
		URL:             snap.URL,
		StartedAt:       snap.StartedAt,
		FinishedAt:      snap.FinishedAt,
		DurationSeconds: duration,

		Score:   score,
		Grade:   Grade(score),
		Summary: buildSummary(snap, score),

		CategoryScores: buildCategoryScores(snap, uiErrors, securityIssues),

		ConsoleErrors:   snap.ConsoleErrors,
		NetworkFailures: snap.NetworkFailures,
		UIFlows:         snap.UIFlows,
		Performance: types.PerformanceMetrics{
			PageTimings:   snap.PageTimings,
			LargestAssets: headAssets(snap.LargeAssets, maxReportAssets),
			SlowEndpoints: headEndpoints(snap.SlowEndpoints, maxReportEndpoints),
		},
		SecurityHygiene:         hygiene,
		AccessibilityViolations: snap.AccessibilityViolations,

		RecommendedFixes: buildRecommendations(snap),

		PagesAudited:  snap.PagesVisited,
		TotalRequests: snap.TotalRequests,
	}
}

// countUIErrors counts flow results with error status.
func countUIErrors(flows []types.UIFlowResult) int {
	count := 0
	for _, f := range flows {
		if f.Status == types.FlowError {
			count++
		}
	}
	return count
}

// countSecurityIssues computes the aggregate security counter:
// 2 for missing HTTPS plus one per missing header and per cookie issue.
func countSecurityIssues(h *types.SecurityHygiene) int {
	if h == nil {
		return 0
	}
	count := 0
	if !h.HTTPSOk {
		count += 2
	}
	count += len(h.HeadersMissing)
	count += len(h.CookieFlagsIssues)
	return count
}

// buildCategoryScores computes the per-category scores, each lower-bounded
// at zero.
func buildCategoryScores(snap Snapshot, uiErrors, securityIssues int) []types.CategoryScore {
	perfIssues := len(snap.SlowEndpoints) + len(snap.LargeAssets)

	return []types.CategoryScore{
		{Category: "Console Errors", Score: floorZero(20 - len(snap.ConsoleErrors)*2), MaxScore: 20, IssuesCount: len(snap.ConsoleErrors)},
		{Category: "Network/API", Score: floorZero(20 - len(snap.NetworkFailures)*3), MaxScore: 20, IssuesCount: len(snap.NetworkFailures)},
		{Category: "UI Flows", Score: floorZero(20 - uiErrors*4), MaxScore: 20, IssuesCount: uiErrors},
		{Category: "Security", Score: floorZero(20 - securityIssues*3), MaxScore: 20, IssuesCount: securityIssues},
		{Category: "Performance", Score: floorZero(10 - perfIssues), MaxScore: 10, IssuesCount: perfIssues},
		{Category: "Accessibility", Score: floorZero(10 - len(snap.AccessibilityViolations)), MaxScore: 10, IssuesCount: len(snap.AccessibilityViolations)},
	}
}

func floorZero(v int) int {
	if v < 0 {
		return 0
	}
	return v
}

// buildRecommendations emits one fixed-template recommendation per non-empty
// finding category, carrying the first affected URLs.
func buildRecommendations(snap Snapshot) []types.RecommendedFix {
	fixes := []types.RecommendedFix{}

	if len(snap.ConsoleErrors) > 0 {
		fixes = append(fixes, types.RecommendedFix{
			Category:       "Console Errors",
			Severity:       types.SeverityError,
			Issue:          fmt.Sprintf("Found %d console errors", len(snap.ConsoleErrors)),
			Recommendation: "Review and fix JavaScript errors. Check for null references, API failures, and missing dependencies.",
			AffectedURLs:   uniquePageURLs(snap.ConsoleErrors),
		})
	}

	if len(snap.NetworkFailures) > 0 {
		urls := make([]string, 0, maxAffectedURLs)
		seen := map[string]struct{}{}
		for _, f := range snap.NetworkFailures {
			if len(urls) >= maxAffectedURLs {
				break
			}
			if _, ok := seen[f.URL]; ok {
				continue
			}
			seen[f.URL] = struct{}{}
			urls = append(urls, f.URL)
		}
		fixes = append(fixes, types.RecommendedFix{
			Category:       "Network/API",
			Severity:       types.SeverityError,
			Issue:          fmt.Sprintf("Found %d failing network requests", len(snap.NetworkFailures)),
			Recommendation: "Check API endpoints, verify authentication, and ensure proper error handling for failed requests.",
			AffectedURLs:   urls,
		})
	}

	var uiErrorFlows []types.UIFlowResult
	for _, f := range snap.UIFlows {
		if f.Status == types.FlowError {
			uiErrorFlows = append(uiErrorFlows, f)
		}
	}
	if len(uiErrorFlows) > 0 {
		urls := make([]string, 0, maxAffectedURLs)
		for i, f := range uiErrorFlows {
			if i >= maxAffectedURLs {
				break
			}
			urls = append(urls, f.PageURL)
		}
		fixes = append(fixes, types.RecommendedFix{
			Category:       "UI Flows",
			Severity:       types.SeverityError,
			Issue:          fmt.Sprintf("Found %d broken pages", len(uiErrorFlows)),
			Recommendation: "Review pages for rendering issues, missing content, or error states.",
			AffectedURLs:   urls,
		})
	}

	if snap.SecurityHygiene != nil {
		if !snap.SecurityHygiene.HTTPSOk {
			fixes = append(fixes, types.RecommendedFix{
				Category:       "Security",
				Severity:       types.SeverityError,
				Issue:          "Site not using HTTPS",
				Recommendation: "Enable HTTPS with a valid SSL certificate.",
				AffectedURLs:   []string{snap.URL},
			})
		}
		if len(snap.SecurityHygiene.HeadersMissing) > 0 {
			fixes = append(fixes, types.RecommendedFix{
				Category:       "Security",
				Severity:       types.SeverityWarning,
				Issue:          fmt.Sprintf("Missing security headers: %s", strings.Join(snap.SecurityHygiene.HeadersMissing, ", ")),
				Recommendation: "Add recommended security headers to your server configuration.",
				AffectedURLs:   []string{snap.URL},
			})
		}
	}

	if len(snap.LargeAssets) > 0 {
		urls := make([]string, 0, 3)
		for i, a := range snap.LargeAssets {
			if i >= 3 {
				break
			}
			urls = append(urls, a.URL)
		}
		fixes = append(fixes, types.RecommendedFix{
			Category:       "Performance",
			Severity:       types.SeverityWarning,
			Issue:          fmt.Sprintf("Found %d large assets (>500KB)", len(snap.LargeAssets)),
			Recommendation: "Optimize images, minify JavaScript/CSS, and consider lazy loading for large resources.",
			AffectedURLs:   urls,
		})
	}

	if len(snap.SlowEndpoints) > 0 {
		urls := make([]string, 0, 3)
		for i, e := range snap.SlowEndpoints {
			if i >= 3 {
				break
			}
			urls = append(urls, e.URL)
		}
		fixes = append(fixes, types.RecommendedFix{
			Category:       "Performance",
			Severity:       types.SeverityWarning,
			Issue:          fmt.Sprintf("Found %d slow endpoints (>1s)", len(snap.SlowEndpoints)),
			Recommendation: "Optimize slow API endpoints, add caching, or review database queries.",
			AffectedURLs:   urls,
		})
	}

	var critical []types.AccessibilityViolation
	for _, v := range snap.AccessibilityViolations {
		if v.Impact == "critical" || v.Impact == "serious" {
			critical = append(critical, v)
		}
	}
	if len(critical) > 0 {
		urls := make([]string, 0, 3)
		for i, v := range critical {
			if i >= 3 {
				break
			}
			urls = append(urls, v.PageURL)
		}
		fixes = append(fixes, types.RecommendedFix{
			Category:       "Accessibility",
			Severity:       types.SeverityWarning,
			Issue:          fmt.Sprintf("Found %d critical/serious accessibility violations", len(critical)),
			Recommendation: "Address accessibility issues for better usability and compliance. Focus on color contrast, alt text, and keyboard navigation.",
			AffectedURLs:   urls,
		})
	}

	return fixes
}

// uniquePageURLs returns the distinct page URLs of the first few console errors.
func uniquePageURLs(errors []types.ConsoleError) []string {
	urls := make([]string, 0, maxAffectedURLs)
	seen := map[string]struct{}{}
	for i, e := range errors {
		if i >= maxAffectedURLs {
			break
		}
		if _, ok := seen[e.PageURL]; ok {
			continue
		}
		seen[e.PageURL] = struct{}{}
		urls = append(urls, e.PageURL)
	}
	return urls
}

// buildSummary produces the templated human-readable summary sentence.
func buildSummary(snap Snapshot, score int) string {
	quality := "poor"
	switch {
	case score >= 90:
		quality = "excellent"
	case score >= 75:
		quality = "good"
	case score >= 50:
		quality = "moderate"
	}

	return fmt.Sprintf(
		"Production readiness audit completed with %s results. Score: %d/100 (Grade %s). "+
			"Audited %d pages, found %d console errors and %d network failures.",
		quality, score, Grade(score), snap.PagesVisited,
		len(snap.ConsoleErrors), len(snap.NetworkFailures),
	)
}

func headAssets(in []types.LargeAsset, n int) []types.LargeAsset {
	if len(in) > n {
		in = in[:n]
	}
	return in
}

func headEndpoints(in []types.SlowEndpoint, n int) []types.SlowEndpoint {
	if len(in) > n {
		in = in[:n]
	}
	return in
}
