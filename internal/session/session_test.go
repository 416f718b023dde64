package session

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/Rorqualx/prodready-go/internal/config"
	"github.com/Rorqualx/prodready-go/internal/types"
)

func testConfig(t *testing.T, ttl time.Duration) *config.Config {
	t.Helper()
	return &config.Config{
		ArtifactsDir:           t.TempDir(),
		SessionTTL:             ttl,
		SessionCleanupInterval: 10 * time.Millisecond,
	}
}

func TestCreateAndGet(t *testing.T) {
	m := NewManager(testConfig(t, time.Minute))

	sess, err := m.Create("https://example.com")
	if err != nil {
		t.Fatalf("Create error: %v", err)
	}

	if sess.Status != types.SessionStarted {
		t.Errorf("new session status = %s, want started", sess.Status)
	}
	if sess.IsAuthenticated {
		t.Error("new session should not be authenticated")
	}
	if sess.StorageStatePath == "" {
		t.Error("storage state path not set")
	}

	// The artifact directory must exist after creation
	if _, err := os.Stat(filepath.Dir(sess.StorageStatePath)); err != nil {
		t.Errorf("session artifact dir missing: %v", err)
	}

	got, err := m.Get(sess.ID)
	if err != nil {
		t.Fatalf("Get error: %v", err)
	}
	if got.URL != "https://example.com" {
		t.Errorf("session URL = %s", got.URL)
	}
}

func TestGetExpiredDeletesArtifacts(t *testing.T) {
	cfg := testConfig(t, time.Minute)
	m := NewManager(cfg)

	sess, err := m.Create("https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(sess.StorageStatePath)

	// Force expiry
	sess.ExpiresAt = time.Now().Add(-time.Second)

	if _, err := m.Get(sess.ID); err != types.ErrSessionNotFound {
		t.Errorf("Get(expired) = %v, want ErrSessionNotFound", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("expired session artifact dir still exists: %v", err)
	}
}

func TestMarkAuthenticated(t *testing.T) {
	m := NewManager(testConfig(t, time.Minute))

	sess, err := m.Create("https://example.com")
	if err != nil {
		t.Fatal(err)
	}

	if !m.MarkAuthenticated(sess.ID) {
		t.Fatal("MarkAuthenticated returned false for live session")
	}
	got, err := m.Get(sess.ID)
	if err != nil {
		t.Fatal(err)
	}
	if !got.IsAuthenticated || got.Status != types.SessionAuthenticated {
		t.Errorf("session not authenticated: auth=%v status=%s", got.IsAuthenticated, got.Status)
	}
}

func TestMarkAuthenticatedExpiredIsNoOp(t *testing.T) {
	m := NewManager(testConfig(t, time.Minute))

	sess, err := m.Create("https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	sess.ExpiresAt = time.Now().Add(-time.Second)

	if m.MarkAuthenticated(sess.ID) {
		t.Error("MarkAuthenticated on expired session should be a no-op")
	}
}

func TestDelete(t *testing.T) {
	m := NewManager(testConfig(t, time.Minute))

	sess, err := m.Create("https://example.com")
	if err != nil {
		t.Fatal(err)
	}

	if !m.Delete(sess.ID) {
		t.Fatal("Delete returned false")
	}
	if m.Delete(sess.ID) {
		t.Error("second Delete should return false")
	}
	if _, err := m.Get(sess.ID); err != types.ErrSessionNotFound {
		t.Errorf("Get after delete = %v, want ErrSessionNotFound", err)
	}
}

func TestActiveCountAndCleanup(t *testing.T) {
	m := NewManager(testConfig(t, time.Minute))

	live, err := m.Create("https://a.example.com")
	if err != nil {
		t.Fatal(err)
	}
	expired, err := m.Create("https://b.example.com")
	if err != nil {
		t.Fatal(err)
	}
	expired.ExpiresAt = time.Now().Add(-time.Second)

	if got := m.ActiveCount(); got != 1 {
		t.Errorf("ActiveCount = %d, want 1", got)
	}

	if cleaned := m.CleanupExpired(); cleaned != 1 {
		t.Errorf("CleanupExpired = %d, want 1", cleaned)
	}
	if _, err := m.Get(live.ID); err != nil {
		t.Errorf("live session removed by cleanup: %v", err)
	}
}

func TestCleanupLoop(t *testing.T) {
	m := NewManager(testConfig(t, time.Minute))

	sess, err := m.Create("https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	sess.ExpiresAt = time.Now().Add(-time.Second)

	m.StartCleanupLoop()
	defer m.StopCleanupLoop()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		// Inspect the table directly: Get and ActiveCount already treat an
		// expired session as gone, so only the sweep removes the entry here.
		m.mu.Lock()
		_, present := m.sessions[sess.ID]
		m.mu.Unlock()
		if !present {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Error("cleanup loop did not remove expired session")
}

func TestStopCleanupLoopIdempotent(t *testing.T) {
	m := NewManager(testConfig(t, time.Minute))
	m.StartCleanupLoop()
	m.StopCleanupLoop()
	m.StopCleanupLoop() // must not panic
}

func TestClose(t *testing.T) {
	m := NewManager(testConfig(t, time.Minute))
	sess, err := m.Create("https://example.com")
	if err != nil {
		t.Fatal(err)
	}
	dir := filepath.Dir(sess.StorageStatePath)

	if err := m.Close(); err != nil {
		t.Fatalf("Close error: %v", err)
	}
	if _, err := os.Stat(dir); !os.IsNotExist(err) {
		t.Errorf("Close left artifact dir behind: %v", err)
	}
}
