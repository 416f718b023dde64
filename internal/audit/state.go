// Package audit implements the audit orchestration engine: per-audit state,
// the crawl runner with its telemetry listeners, and report assembly.
package audit

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/prodready-go/internal/types"
)

// State holds the mutable record of one audit. All collections are appended
// to by event callbacks firing on the driver's event goroutines and read by
// the HTTP layer, so every access goes through the guarded methods below.
type State struct {
	mu sync.Mutex

	AuditID   string
	SessionID string
	URL       string
	Options   types.AuditOptions

	status     types.AuditStatus
	progress   types.AuditProgress
	startedAt  time.Time
	finishedAt *time.Time
	errMessage string

	consoleErrors           []types.ConsoleError
	networkFailures         []types.NetworkFailure
	uiFlows                 []types.UIFlowResult
	pageTimings             []types.PageTiming
	largeAssets             []types.LargeAsset
	slowEndpoints           []types.SlowEndpoint
	securityHygiene         *types.SecurityHygiene
	accessibilityViolations []types.AccessibilityViolation

	visited       map[string]struct{}
	discovered    map[string]struct{}
	totalRequests int

	artifactsDir     string
	screenshots      []string
	previewPath      string
	previewUpdatedAt time.Time
}

// newState builds an initialized audit record.
func newState(sessionID, url string, options types.AuditOptions, artifactsDir string) *State {
	return &State{
		AuditID:      uuid.NewString(),
		SessionID:    sessionID,
		URL:          url,
		Options:      options,
		status:       types.AuditQueued,
		progress:     types.AuditProgress{Stage: "initializing", Percent: 0},
		startedAt:    time.Now(),
		visited:      make(map[string]struct{}),
		discovered:   make(map[string]struct{}),
		artifactsDir: artifactsDir,
	}
}

// Status returns the current audit status.
func (s *State) Status() types.AuditStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.status
}

// setStatus advances the audit status. Status only moves forward:
// queued -> running -> (done | error).
func (s *State) setStatus(status types.AuditStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.status == types.AuditDone || s.status == types.AuditError {
		return
	}
	if s.status == types.AuditRunning && status == types.AuditQueued {
		return
	}
	s.status = status
	if status == types.AuditDone || status == types.AuditError {
		now := time.Now()
		s.finishedAt = &now
	}
}

// setError records a terminal failure.
func (s *State) setError(message string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.status = types.AuditError
	s.errMessage = message
	now := time.Now()
	s.finishedAt = &now
}

// ErrorMessage returns the terminal failure description, if any.
func (s *State) ErrorMessage() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.errMessage
}

// Progress returns a copy of the current progress.
func (s *State) Progress() types.AuditProgress {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.progress
}

// updateProgress atomically updates the progress fields observed together:
// stage, percent, current URL, derived visit/error counts, and message.
// Percent never decreases while the audit is running.
func (s *State) updateProgress(stage string, percent int, currentURL, message string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if s.status == types.AuditRunning && percent < s.progress.Percent {
		percent = s.progress.Percent
	}
	if percent < 0 {
		percent = 0
	}
	if percent > 100 {
		percent = 100
	}

	s.progress = types.AuditProgress{
		Stage:        stage,
		Percent:      percent,
		CurrentURL:   currentURL,
		PagesVisited: len(s.visited),
		ErrorsFound:  len(s.consoleErrors) + len(s.networkFailures),
		Message:      message,
	}
}

// Guarded appenders used by the runner and its event listeners.

func (s *State) addConsoleError(e types.ConsoleError) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.consoleErrors = append(s.consoleErrors, e)
}

func (s *State) addNetworkFailure(f types.NetworkFailure) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.networkFailures = append(s.networkFailures, f)
}

func (s *State) addUIFlow(f types.UIFlowResult) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.uiFlows = append(s.uiFlows, f)
}

func (s *State) addPageTiming(t types.PageTiming) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.pageTimings = append(s.pageTimings, t)
}

func (s *State) addLargeAsset(a types.LargeAsset) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.largeAssets = append(s.largeAssets, a)
}

func (s *State) addSlowEndpoint(e types.SlowEndpoint) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.slowEndpoints = append(s.slowEndpoints, e)
}

func (s *State) addAccessibilityViolation(v types.AccessibilityViolation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.accessibilityViolations = append(s.accessibilityViolations, v)
}

func (s *State) setSecurityHygiene(h types.SecurityHygiene) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.securityHygiene = &h
}

func (s *State) incTotalRequests() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.totalRequests++
}

// markVisited records a URL as visited.
func (s *State) markVisited(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.visited[url] = struct{}{}
}

// addDiscovered unions a URL into the discovered set unless already visited.
func (s *State) addDiscovered(url string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, seen := s.visited[url]; seen {
		return
	}
	s.discovered[url] = struct{}{}
}

// unvisitedDiscovered returns up to limit discovered-but-unvisited URLs in
// insertion-independent map order.
func (s *State) unvisitedDiscovered(limit int) []string {
	s.mu.Lock()
	defer s.mu.Unlock()

	urls := make([]string, 0, limit)
	for url := range s.discovered {
		if _, seen := s.visited[url]; seen {
			continue
		}
		urls = append(urls, url)
		if len(urls) >= limit {
			break
		}
	}
	return urls
}

func (s *State) visitedCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.visited)
}

func (s *State) isVisited(url string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.visited[url]
	return ok
}

// addScreenshot records a screenshot path.
func (s *State) addScreenshot(path string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.screenshots = append(s.screenshots, path)
}

// screenshotCount returns the number of screenshots taken so far.
func (s *State) screenshotCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.screenshots)
}

// Screenshots returns a copy of the screenshot paths.
func (s *State) Screenshots() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.screenshots))
	copy(out, s.screenshots)
	return out
}

// ArtifactsDir returns the audit artifact directory.
func (s *State) ArtifactsDir() string {
	return s.artifactsDir
}

// setPreview records the latest live-preview frame.
func (s *State) setPreview(path string, at time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.previewPath = path
	s.previewUpdatedAt = at
}

// Preview returns the latest preview path and capture time.
func (s *State) Preview() (string, time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.previewPath, s.previewUpdatedAt
}

// PartialCounts reports running totals for the status endpoint.
func (s *State) PartialCounts() (consoleErrors, networkFailures, pagesVisited int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.consoleErrors), len(s.networkFailures), len(s.visited)
}

// Snapshot copies the collected findings for report assembly.
type Snapshot struct {
	AuditID   string
	SessionID string
	URL       string
	Options   types.AuditOptions

	Status     types.AuditStatus
	StartedAt  time.Time
	FinishedAt *time.Time

	ConsoleErrors           []types.ConsoleError
	NetworkFailures         []types.NetworkFailure
	UIFlows                 []types.UIFlowResult
	PageTimings             []types.PageTiming
	LargeAssets             []types.LargeAsset
	SlowEndpoints           []types.SlowEndpoint
	SecurityHygiene         *types.SecurityHygiene
	AccessibilityViolations []types.AccessibilityViolation

	PagesVisited  int
	TotalRequests int
}

// Snapshot copies all findings under the mutex.
func (s *State) Snapshot() Snapshot {
	s.mu.Lock()
	defer s.mu.Unlock()

	snap := Snapshot{
		AuditID:       s.AuditID,
		SessionID:     s.SessionID,
		URL:           s.URL,
		Options:       s.Options,
		Status:        s.status,
		StartedAt:     s.startedAt,
		FinishedAt:    s.finishedAt,
		PagesVisited:  len(s.visited),
		TotalRequests: s.totalRequests,
	}

	snap.ConsoleErrors = append(snap.ConsoleErrors, s.consoleErrors...)
	snap.NetworkFailures = append(snap.NetworkFailures, s.networkFailures...)
	snap.UIFlows = append(snap.UIFlows, s.uiFlows...)
	snap.PageTimings = append(snap.PageTimings, s.pageTimings...)
	snap.LargeAssets = append(snap.LargeAssets, s.largeAssets...)
	snap.SlowEndpoints = append(snap.SlowEndpoints, s.slowEndpoints...)
	snap.AccessibilityViolations = append(snap.AccessibilityViolations, s.accessibilityViolations...)
	if s.securityHygiene != nil {
		h := *s.securityHygiene
		snap.SecurityHygiene = &h
	}

	return snap
}

// Manager is the in-memory audit store: audit id -> record, guarded by a
// single mutex. Records are retained until process exit.
type Manager struct {
	mu           sync.Mutex
	audits       map[string]*State
	artifactsDir string
}

// NewManager creates the audit store rooted at the artifacts directory.
func NewManager(artifactsDir string) *Manager {
	return &Manager{
		audits:       make(map[string]*State),
		artifactsDir: artifactsDir,
	}
}

// Create registers a new audit and provisions its artifact directory.
func (m *Manager) Create(sessionID, url string, options types.AuditOptions) (*State, error) {
	options.Clamp()

	state := newState(sessionID, url, options, "")
	dir := filepath.Join(m.artifactsDir, "audits", state.AuditID)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, err
	}
	state.artifactsDir = dir

	m.mu.Lock()
	m.audits[state.AuditID] = state
	m.mu.Unlock()

	log.Info().
		Str("audit_id", state.AuditID).
		Str("session_id", sessionID).
		Str("url", url).
		Int("max_pages", options.MaxPages).
		Msg("Audit created")

	return state, nil
}

// Get returns the audit record for an id.
func (m *Manager) Get(auditID string) (*State, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	state, ok := m.audits[auditID]
	if !ok {
		return nil, types.ErrAuditNotFound
	}
	return state, nil
}

// UpdateProgress updates the progress of an audit if it exists.
func (m *Manager) UpdateProgress(auditID, stage string, percent int, currentURL, message string) {
	state, err := m.Get(auditID)
	if err != nil {
		return
	}
	state.updateProgress(stage, percent, currentURL, message)
}
