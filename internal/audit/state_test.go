package audit

import (
	"fmt"
	"sync"
	"testing"

	"github.com/Rorqualx/prodready-go/internal/types"
)

func newTestState(t *testing.T, maxPages int) *State {
	t.Helper()
	m := NewManager(t.TempDir())
	opts := types.DefaultAuditOptions()
	opts.MaxPages = maxPages
	state, err := m.Create("session-1", "https://example.test/", opts)
	if err != nil {
		t.Fatal(err)
	}
	return state
}

func TestManagerCreateAndGet(t *testing.T) {
	m := NewManager(t.TempDir())

	state, err := m.Create("session-1", "https://example.test/", types.DefaultAuditOptions())
	if err != nil {
		t.Fatal(err)
	}
	if state.AuditID == "" {
		t.Fatal("audit id empty")
	}
	if state.Status() != types.AuditQueued {
		t.Errorf("new audit status = %s, want queued", state.Status())
	}

	got, err := m.Get(state.AuditID)
	if err != nil || got != state {
		t.Errorf("Get = %v, %v", got, err)
	}
	if _, err := m.Get("missing"); err != types.ErrAuditNotFound {
		t.Errorf("Get(missing) = %v, want ErrAuditNotFound", err)
	}
}

func TestOptionsClamp(t *testing.T) {
	tests := []struct {
		name      string
		in        types.AuditOptions
		wantPages int
		wantDepth int
	}{
		{"zero gets defaults", types.AuditOptions{}, 20, 2},
		{"below floor", types.AuditOptions{MaxPages: -3, MaxDepth: -1}, 1, 1},
		{"above cap", types.AuditOptions{MaxPages: 500, MaxDepth: 10}, 100, 5},
		{"in range untouched", types.AuditOptions{MaxPages: 7, MaxDepth: 3}, 7, 3},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			tt.in.Clamp()
			if tt.in.MaxPages != tt.wantPages || tt.in.MaxDepth != tt.wantDepth {
				t.Errorf("Clamp() = pages %d depth %d, want %d/%d",
					tt.in.MaxPages, tt.in.MaxDepth, tt.wantPages, tt.wantDepth)
			}
		})
	}
}

func TestProgressMonotoneWhileRunning(t *testing.T) {
	state := newTestState(t, 20)
	state.setStatus(types.AuditRunning)

	state.updateProgress("crawling", 20, "", "")
	state.updateProgress("auditing_pages", 45, "", "")
	// A stale lower value must not move progress backwards
	state.updateProgress("auditing_pages", 30, "", "")

	if got := state.Progress().Percent; got != 45 {
		t.Errorf("percent = %d, want 45 (non-decreasing)", got)
	}
}

func TestProgressResetOnError(t *testing.T) {
	state := newTestState(t, 20)
	state.setStatus(types.AuditRunning)
	state.updateProgress("auditing_pages", 60, "", "")

	state.setError("browser crashed")
	state.updateProgress("error", 0, "", "Audit failed: browser crashed")

	p := state.Progress()
	if p.Percent != 0 || p.Stage != "error" {
		t.Errorf("error progress = %+v", p)
	}
	if state.Status() != types.AuditError {
		t.Errorf("status = %s, want error", state.Status())
	}
	if state.ErrorMessage() != "browser crashed" {
		t.Errorf("error message = %q", state.ErrorMessage())
	}
}

func TestFinishedAtSetOnlyOnTerminal(t *testing.T) {
	state := newTestState(t, 20)

	if snap := state.Snapshot(); snap.FinishedAt != nil {
		t.Error("finished_at set before completion")
	}

	state.setStatus(types.AuditRunning)
	if snap := state.Snapshot(); snap.FinishedAt != nil {
		t.Error("finished_at set while running")
	}

	state.setStatus(types.AuditDone)
	if snap := state.Snapshot(); snap.FinishedAt == nil {
		t.Error("finished_at not set after done")
	}
}

func TestVisitedDiscoveredDisjoint(t *testing.T) {
	state := newTestState(t, 20)

	state.markVisited("https://example.test/")
	state.addDiscovered("https://example.test/") // already visited: ignored
	state.addDiscovered("https://example.test/about")
	state.addDiscovered("https://example.test/about") // set semantics

	urls := state.unvisitedDiscovered(10)
	if len(urls) != 1 || urls[0] != "https://example.test/about" {
		t.Errorf("unvisitedDiscovered = %v", urls)
	}

	state.markVisited("https://example.test/about")
	if urls := state.unvisitedDiscovered(10); len(urls) != 0 {
		t.Errorf("after visiting, unvisitedDiscovered = %v, want empty", urls)
	}
}

func TestUnvisitedDiscoveredLimit(t *testing.T) {
	state := newTestState(t, 20)
	for i := 0; i < 30; i++ {
		state.addDiscovered(fmt.Sprintf("https://example.test/p%d", i))
	}
	if got := len(state.unvisitedDiscovered(5)); got != 5 {
		t.Errorf("limit not honored: got %d", got)
	}
}

func TestProgressDerivedCounts(t *testing.T) {
	state := newTestState(t, 20)
	state.setStatus(types.AuditRunning)

	state.markVisited("https://example.test/")
	state.addConsoleError(types.ConsoleError{Message: "x", PageURL: "https://example.test/", Severity: types.SeverityError})
	state.addNetworkFailure(types.NetworkFailure{URL: "https://example.test/api", Method: "GET", Status: 500, PageURL: "https://example.test/"})

	state.updateProgress("auditing_pages", 40, "https://example.test/", "")

	p := state.Progress()
	if p.PagesVisited != 1 {
		t.Errorf("pages_visited = %d, want 1", p.PagesVisited)
	}
	if p.ErrorsFound != 2 {
		t.Errorf("errors_found = %d, want 2", p.ErrorsFound)
	}
}

func TestConcurrentAppends(t *testing.T) {
	state := newTestState(t, 20)

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(3)
		go func(i int) {
			defer wg.Done()
			state.addConsoleError(types.ConsoleError{Message: fmt.Sprintf("e%d", i)})
		}(i)
		go func(i int) {
			defer wg.Done()
			state.addNetworkFailure(types.NetworkFailure{URL: fmt.Sprintf("u%d", i)})
		}(i)
		go func(i int) {
			defer wg.Done()
			state.incTotalRequests()
		}(i)
	}
	wg.Wait()

	snap := state.Snapshot()
	if len(snap.ConsoleErrors) != 50 || len(snap.NetworkFailures) != 50 || snap.TotalRequests != 50 {
		t.Errorf("concurrent appends lost data: %d/%d/%d",
			len(snap.ConsoleErrors), len(snap.NetworkFailures), snap.TotalRequests)
	}
}

func TestSnapshotIsACopy(t *testing.T) {
	state := newTestState(t, 20)
	state.addConsoleError(types.ConsoleError{Message: "one"})

	snap := state.Snapshot()
	state.addConsoleError(types.ConsoleError{Message: "two"})

	if len(snap.ConsoleErrors) != 1 {
		t.Errorf("snapshot mutated by later append: %d entries", len(snap.ConsoleErrors))
	}
}
