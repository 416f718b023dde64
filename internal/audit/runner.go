package audit

import (
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"
	"golang.org/x/net/publicsuffix"

	"github.com/Rorqualx/prodready-go/internal/browser"
	"github.com/Rorqualx/prodready-go/internal/config"
	"github.com/Rorqualx/prodready-go/internal/patterns"
	"github.com/Rorqualx/prodready-go/internal/security"
	"github.com/Rorqualx/prodready-go/internal/types"
)

// Fixed crawl pacing.
const (
	interPagePause  = 500 * time.Millisecond
	blankPageChars  = 100 // trimmed content shorter than this is a blank page
	maxViolations   = 20  // accessibility violations collected per audit
)

// Runner drives one audit to completion: it mints the authenticated context,
// attaches telemetry listeners, walks the bounded crawl, runs the security
// and accessibility phases, and finalizes the record.
type Runner struct {
	audits   *Manager
	browsers *browser.Manager
	patterns *patterns.Manager
	config   *config.Config
	state    *State

	ctxBrowser *rod.Browser
	page       *rod.Page
	closed     atomic.Bool

	baseDomain string
	baseScheme string

	// Crawl depth per normalized URL; the target is depth 0 and each BFS
	// layer of discovered links adds one.
	urlDepth map[string]int

	// Request timing keyed by URL plus per-request metadata; written by the
	// network listeners, read when deriving findings.
	timingMu     sync.Mutex
	requestStart map[string]time.Time
	requestMeta  map[proto.NetworkRequestID]requestMeta

	// Latest main-document response status observed by the listeners.
	docStatus atomic.Int64

	// Current main-frame URL, maintained by the framenavigated listener.
	currentURL atomic.Value // string

	// Preview throttle.
	previewMu   sync.Mutex
	lastPreview time.Time
}

// NewRunner builds a runner for an audit record.
func NewRunner(state *State, audits *Manager, browsers *browser.Manager, pats *patterns.Manager, cfg *config.Config) *Runner {
	parsed, _ := url.Parse(state.URL)
	baseDomain := ""
	baseScheme := "https"
	if parsed != nil {
		baseDomain = parsed.Host
		if parsed.Scheme != "" {
			baseScheme = parsed.Scheme
		}
	}

	r := &Runner{
		audits:       audits,
		browsers:     browsers,
		patterns:     pats,
		config:       cfg,
		state:        state,
		baseDomain:   baseDomain,
		baseScheme:   baseScheme,
		urlDepth:     map[string]int{state.URL: 0},
		requestStart: make(map[string]time.Time),
		requestMeta:  make(map[proto.NetworkRequestID]requestMeta),
	}
	r.currentURL.Store(state.URL)
	return r
}

// pageURL returns the current main-frame URL for finding attribution.
func (r *Runner) pageURL() string {
	if u, ok := r.currentURL.Load().(string); ok {
		return u
	}
	return r.state.URL
}

// pageGone reports whether the audit page has been torn down.
func (r *Runner) pageGone() bool {
	return r.closed.Load() || r.page == nil
}

// Run executes the full audit. A failure to mint the authenticated context
// or open the first page is fatal; everything later degrades locally.
func (r *Runner) Run() {
	auditID := r.state.AuditID
	r.state.setStatus(types.AuditRunning)
	r.audits.UpdateProgress(auditID, "starting", 5, "", "")

	var cleanupListeners func()

	defer func() {
		// Teardown runs unconditionally: listeners, page, context.
		r.closed.Store(true)
		if cleanupListeners != nil {
			cleanupListeners()
		}
		if r.page != nil {
			if err := r.page.Close(); err != nil {
				log.Debug().Err(err).Str("audit_id", auditID).Msg("Error closing audit page")
			}
		}
		if r.ctxBrowser != nil {
			r.browsers.DisposeContext(r.ctxBrowser)
		}
	}()

	fail := func(err error) {
		log.Error().Err(err).Str("audit_id", auditID).Msg("Audit failed")
		r.state.setError(err.Error())
		r.audits.UpdateProgress(auditID, "error", 0, "", fmt.Sprintf("Audit failed: %v", err))
	}

	ctxBrowser, err := r.browsers.CreateAuthenticatedContext(r.state.SessionID)
	if err != nil {
		fail(err)
		return
	}
	r.ctxBrowser = ctxBrowser

	page, err := r.browsers.NewAuditPage(ctxBrowser, r.state.SessionID)
	if err != nil {
		fail(err)
		return
	}
	r.page = page

	// Listeners must be attached before the first navigation so the initial
	// page's events are all observed.
	cleanupListeners, err = r.attachListeners()
	if err != nil {
		fail(fmt.Errorf("failed to attach listeners: %w", err))
		return
	}

	r.checkInitialAvailability()
	r.crawlAndAudit()
	r.checkSecurityHygiene()
	r.runAccessibilityChecks()

	r.state.setStatus(types.AuditDone)
	r.audits.UpdateProgress(auditID, "complete", 100, "",
		fmt.Sprintf("Audit complete. Visited %d pages.", r.state.visitedCount()))

	log.Info().
		Str("audit_id", auditID).
		Int("pages", r.state.visitedCount()).
		Msg("Audit completed")
}

// navigate drives the page to a URL and waits for dom-content-loaded, both
// bounded by the navigation timeout. Returns the wall-clock load delta.
func (r *Runner) navigate(target string) (time.Duration, error) {
	timeout := r.config.NavigationTimeout
	start := time.Now()

	p := r.page.Timeout(timeout)
	wait := p.WaitEvent(&proto.PageDomContentEventFired{})
	if err := p.Navigate(target); err != nil {
		return time.Since(start), err
	}
	wait()

	return time.Since(start), nil
}

// checkInitialAvailability loads the target URL, records its timing, emits
// the first flow result, and captures the first preview frame.
func (r *Runner) checkInitialAvailability() {
	target := r.state.URL
	r.audits.UpdateProgress(r.state.AuditID, "checking_availability", 10, target, "")

	loadTime, err := r.navigate(target)
	if err != nil {
		log.Error().Err(err).Str("audit_id", r.state.AuditID).Str("url", target).Msg("Initial availability check failed")
		r.state.addUIFlow(types.UIFlowResult{
			PageURL: target,
			Status:  types.FlowError,
			Notes:   fmt.Sprintf("Failed to load: %v", err),
		})
		return
	}

	r.capturePreview("initial")

	r.state.addPageTiming(types.PageTiming{
		URL:                target,
		DomContentLoadedMs: float64(loadTime.Milliseconds()),
	})

	status := types.FlowOK
	notes := ""
	switch docStatus := int(r.docStatus.Load()); {
	case docStatus >= 400:
		status = types.FlowError
		notes = fmt.Sprintf("HTTP %d", docStatus)
	case docStatus >= 300:
		status = types.FlowWarning
		notes = fmt.Sprintf("Redirect: HTTP %d", docStatus)
	}

	r.state.addUIFlow(types.UIFlowResult{
		PageURL:    target,
		Status:     status,
		Notes:      notes,
		LoadTimeMs: float64(loadTime.Milliseconds()),
	})

	r.state.markVisited(target)
}

// crawlAndAudit discovers same-domain pages and audits them layer by layer,
// bounded by max_pages and max_depth.
func (r *Runner) crawlAndAudit() {
	r.audits.UpdateProgress(r.state.AuditID, "crawling", 20, "", "Discovering pages...")

	r.discoverLinks(0)

	budget := r.state.Options.MaxPages - 1
	if budget <= 0 {
		return
	}

	audited := 0
	for depth := 1; depth <= r.state.Options.MaxDepth; depth++ {
		if audited >= budget {
			break
		}
		batch := r.selectLayer(depth, budget-audited)
		if len(batch) == 0 {
			break
		}

		for _, pageURL := range batch {
			percent := 20 + (audited*60)/progressBudget(budget)
			r.audits.UpdateProgress(
				r.state.AuditID,
				"auditing_pages",
				percent,
				pageURL,
				fmt.Sprintf("Checking page %d/%d", audited+1, budget),
			)

			r.auditPage(pageURL, depth)
			r.state.markVisited(pageURL)
			audited++

			time.Sleep(interPagePause)
		}
	}
}

// selectLayer picks up to limit unvisited discovered URLs at the given depth.
func (r *Runner) selectLayer(depth, limit int) []string {
	candidates := r.state.unvisitedDiscovered(limit * 4)
	selected := make([]string, 0, limit)
	for _, u := range candidates {
		if r.urlDepth[u] != depth {
			continue
		}
		selected = append(selected, u)
		if len(selected) >= limit {
			break
		}
	}
	return selected
}

// discoverLinks enumerates same-origin anchors on the current page and
// unions their normalized form into the discovered set. Failures are logged
// and yield an empty set.
func (r *Runner) discoverLinks(currentDepth int) {
	result, err := r.page.Timeout(r.config.Timeout).Eval(linkCollectScript)
	if err != nil {
		log.Warn().Err(err).Str("audit_id", r.state.AuditID).Msg("Link discovery failed")
		return
	}

	count := 0
	for _, item := range result.Value.Arr() {
		clean := NormalizeURL(item.Str(), r.baseDomain, r.baseScheme)
		if clean == "" || r.state.isVisited(clean) {
			continue
		}
		nextDepth := currentDepth + 1
		if nextDepth > r.state.Options.MaxDepth {
			continue
		}
		if _, known := r.urlDepth[clean]; !known {
			r.urlDepth[clean] = nextDepth
		}
		r.state.addDiscovered(clean)
		count++
	}

	log.Debug().
		Str("audit_id", r.state.AuditID).
		Int("new_links", count).
		Msg("Link discovery completed")
}

// auditPage navigates to one discovered URL and inspects the rendered result.
func (r *Runner) auditPage(pageURL string, depth int) {
	loadTime, err := r.navigate(pageURL)
	if err != nil {
		log.Warn().Err(err).Str("audit_id", r.state.AuditID).Str("url", pageURL).Msg("Failed to audit page")
		r.state.addUIFlow(types.UIFlowResult{
			PageURL: pageURL,
			Status:  types.FlowError,
			Notes:   fmt.Sprintf("Failed: %v", err),
		})
		return
	}

	// Let late XHR and rendering settle before inspecting the page.
	time.Sleep(r.config.PageLoadWait)

	probeNotes := ""
	if r.state.Options.CheckUIFlows {
		probeNotes = r.probeSafeInteractions(maxProbeActions)
	}

	r.state.addPageTiming(types.PageTiming{
		URL:                pageURL,
		DomContentLoadedMs: float64(loadTime.Milliseconds()),
	})

	content, err := r.page.Timeout(r.config.Timeout).HTML()
	if err != nil {
		content = ""
	}

	status := types.FlowOK
	notes := ""
	screenshotPath := ""

	switch docStatus := int(r.docStatus.Load()); {
	case len(strings.TrimSpace(content)) < blankPageChars:
		status = types.FlowError
		notes = "Blank or nearly empty page"
	case r.patterns.Current().MatchesErrorPhrase(content):
		status = types.FlowWarning
		notes = "Page contains error patterns"
	case docStatus >= 400:
		status = types.FlowError
		notes = fmt.Sprintf("HTTP %d", docStatus)
	}

	if status != types.FlowOK && r.state.Options.ScreenshotOnError {
		screenshotPath = r.takeScreenshot()
	}

	if probeNotes != "" {
		if notes != "" {
			notes = notes + " | " + probeNotes
		} else {
			notes = probeNotes
		}
	}

	r.state.addUIFlow(types.UIFlowResult{
		PageURL:        pageURL,
		Status:         status,
		Notes:          notes,
		ScreenshotPath: screenshotPath,
		LoadTimeMs:     float64(loadTime.Milliseconds()),
	})

	r.discoverLinks(depth)
	r.capturePreview("audit_page")
}

// progressBudget avoids division by zero when interpolating crawl progress.
func progressBudget(budget int) int {
	if budget < 1 {
		return 1
	}
	return budget
}

// takeScreenshot captures a viewport PNG into the artifact directory.
// Failures are swallowed and yield an empty path.
func (r *Runner) takeScreenshot() string {
	frame, err := r.page.Timeout(previewTimeout).Screenshot(false, nil)
	if err != nil {
		log.Warn().Err(err).Str("audit_id", r.state.AuditID).Msg("Failed to take screenshot")
		return ""
	}

	path := filepath.Join(r.state.ArtifactsDir(), fmt.Sprintf("screenshot_%d.png", r.state.screenshotCount()))
	if err := os.WriteFile(path, frame, 0o644); err != nil {
		log.Warn().Err(err).Str("audit_id", r.state.AuditID).Msg("Failed to write screenshot")
		return ""
	}

	r.state.addScreenshot(path)
	return path
}

// checkSecurityHygiene records transport security, probes the tracked
// response headers out of band, and derives cookie flag issues.
func (r *Runner) checkSecurityHygiene() {
	r.audits.UpdateProgress(r.state.AuditID, "security_check", 85, "", "Checking security hygiene...")

	httpsOK := strings.HasPrefix(r.state.URL, "https://")

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	present, missing := security.CheckSecurityHeaders(ctx, r.state.URL, r.patterns.Current().SecurityHeaders)

	cookieIssues := r.collectCookieIssues()

	r.state.setSecurityHygiene(types.SecurityHygiene{
		HTTPSOk:           httpsOK,
		HeadersPresent:    present,
		HeadersMissing:    missing,
		CookieFlagsIssues: cookieIssues,
	})
}

// collectCookieIssues enumerates the context's cookies and flags missing
// Secure/HttpOnly, weak SameSite, and public-suffix scoping. Enumeration
// failures yield an empty list.
func (r *Runner) collectCookieIssues() []types.CookieFlagIssue {
	issuesOut := []types.CookieFlagIssue{}

	cookies, err := r.ctxBrowser.GetCookies()
	if err != nil {
		log.Warn().Err(err).Str("audit_id", r.state.AuditID).Msg("Cookie check failed")
		return issuesOut
	}

	for _, c := range cookies {
		var issues []string
		if !c.Secure {
			issues = append(issues, "Missing Secure flag")
		}
		if !c.HTTPOnly {
			issues = append(issues, "Missing HttpOnly flag")
		}
		if c.SameSite == "" || c.SameSite == proto.NetworkCookieSameSiteNone {
			issues = append(issues, "SameSite not set or None")
		}
		if domain := strings.TrimPrefix(c.Domain, "."); domain != "" {
			if suffix, icann := publicsuffix.PublicSuffix(domain); icann && suffix == domain {
				issues = append(issues, "Cookie scoped to a public suffix")
			}
		}

		if len(issues) > 0 {
			issuesOut = append(issuesOut, types.CookieFlagIssue{
				Name:   c.Name,
				Domain: c.Domain,
				Issues: issues,
			})
		}
	}

	return issuesOut
}

// accessibilityRunScript executes the injected scanner and shapes its result.
const accessibilityRunScript = `async () => {
	if (typeof axe === 'undefined') return { violations: [] };
	const results = await axe.run();
	return {
		violations: results.violations.slice(0, 20).map(v => ({
			id: v.id,
			impact: v.impact,
			description: v.description,
			helpUrl: v.helpUrl,
			nodes: v.nodes.length
		}))
	};
}`

// runAccessibilityChecks re-navigates to the target, injects the in-page
// scanner from its fixed URL, and collects up to 20 violations. Injection
// failures are swallowed.
func (r *Runner) runAccessibilityChecks() {
	if !r.state.Options.IncludeAccessibility {
		return
	}

	r.audits.UpdateProgress(r.state.AuditID, "accessibility_check", 90, "", "Running accessibility checks...")

	if _, err := r.navigate(r.state.URL); err != nil {
		log.Warn().Err(err).Str("audit_id", r.state.AuditID).Msg("Accessibility navigation failed")
		return
	}

	scriptURL := r.patterns.Current().AccessibilityScriptURL
	inject := fmt.Sprintf(`() => new Promise((resolve, reject) => {
		const s = document.createElement('script');
		s.src = %q;
		s.onload = () => resolve(true);
		s.onerror = () => reject(new Error('scanner load failed'));
		document.head.appendChild(s);
	})`, scriptURL)

	if _, err := r.page.Timeout(r.config.Timeout).Eval(inject); err != nil {
		log.Warn().Err(err).Str("audit_id", r.state.AuditID).Msg("Accessibility scanner injection failed")
		return
	}

	result, err := r.page.Timeout(r.config.Timeout).Eval(accessibilityRunScript)
	if err != nil {
		log.Warn().Err(err).Str("audit_id", r.state.AuditID).Msg("Accessibility check failed")
		return
	}

	violations := result.Value.Get("violations").Arr()
	for i, v := range violations {
		if i >= maxViolations {
			break
		}
		impact := v.Get("impact").Str()
		if impact == "" {
			impact = "moderate"
		}
		r.state.addAccessibilityViolation(types.AccessibilityViolation{
			ID:          v.Get("id").Str(),
			Impact:      impact,
			Description: v.Get("description").Str(),
			HelpURL:     v.Get("helpUrl").Str(),
			NodesCount:  v.Get("nodes").Int(),
			PageURL:     r.state.URL,
		})
	}
}
