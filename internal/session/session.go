// Package session provides TTL-bounded audit session management.
// A session represents one operator-authenticated browser identity: it owns
// the on-disk artifact directory holding the captured storage state.
package session

import (
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/Rorqualx/prodready-go/internal/config"
	"github.com/Rorqualx/prodready-go/internal/security"
	"github.com/Rorqualx/prodready-go/internal/types"
)

// Session represents an audit session.
// A session transitions started -> authenticated exactly once; expiry is
// terminal and deletes the artifact directory.
type Session struct {
	ID               string
	URL              string
	Status           types.SessionStatus
	CreatedAt        time.Time
	ExpiresAt        time.Time
	StorageStatePath string
	IsAuthenticated  bool
}

// IsExpired reports whether the session has passed its TTL.
func (s *Session) IsExpired() bool {
	return time.Now().After(s.ExpiresAt)
}

// TimeRemaining returns the minutes left before expiry, floored at zero.
func (s *Session) TimeRemaining() int {
	remaining := time.Until(s.ExpiresAt).Minutes()
	if remaining < 0 {
		return 0
	}
	return int(remaining)
}

// Manager handles session lifecycle and cleanup.
// It maintains a map of active sessions and periodically removes expired ones.
// A single mutex protects the whole table so the sweep cannot race deletions.
type Manager struct {
	mu       sync.Mutex
	sessions map[string]*Session
	config   *config.Config
	stopCh   chan struct{}
	wg       sync.WaitGroup
	started  bool
}

// NewManager creates a new session manager. The cleanup loop is started
// separately via StartCleanupLoop so the composition root controls teardown
// order.
func NewManager(cfg *config.Config) *Manager {
	m := &Manager{
		sessions: make(map[string]*Session),
		config:   cfg,
	}

	log.Info().
		Dur("ttl", cfg.SessionTTL).
		Dur("cleanup_interval", cfg.SessionCleanupInterval).
		Msg("Session manager initialized")

	return m
}

// Create creates a new session for the given target URL and provisions its
// artifact directory.
func (m *Manager) Create(url string) (*Session, error) {
	id, err := security.GenerateSessionID()
	if err != nil {
		return nil, err
	}

	sessionDir := filepath.Join(m.config.ArtifactsDir, "sessions", id)
	if err := os.MkdirAll(sessionDir, 0o755); err != nil {
		return nil, err
	}

	now := time.Now()
	session := &Session{
		ID:               id,
		URL:              url,
		Status:           types.SessionStarted,
		CreatedAt:        now,
		ExpiresAt:        now.Add(m.config.SessionTTL),
		StorageStatePath: filepath.Join(sessionDir, "storage_state.json"),
	}

	m.mu.Lock()
	m.sessions[id] = session
	total := len(m.sessions)
	m.mu.Unlock()

	log.Info().
		Str("session_id", id).
		Str("url", url).
		Int("total_sessions", total).
		Msg("Session created")

	return session, nil
}

// Get retrieves a session by ID. Expiration is evaluated on every read: an
// expired session is removed (with its artifact directory) and reported as
// absent.
func (m *Manager) Get(id string) (*Session, error) {
	m.mu.Lock()
	session, exists := m.sessions[id]
	if exists && session.IsExpired() {
		m.removeLocked(id)
		exists = false
	}
	m.mu.Unlock()

	if !exists {
		return nil, types.ErrSessionNotFound
	}
	return session, nil
}

// MarkAuthenticated flips the session into the authenticated state.
// It is a no-op on expired or unknown sessions.
func (m *Manager) MarkAuthenticated(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	session, exists := m.sessions[id]
	if !exists || session.IsExpired() {
		return false
	}

	session.IsAuthenticated = true
	session.Status = types.SessionAuthenticated
	log.Info().Str("session_id", id).Msg("Session marked as authenticated")
	return true
}

// Delete removes a session and its artifact directory.
func (m *Manager) Delete(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.removeLocked(id)
}

// removeLocked removes a session and deletes its on-disk artifacts.
// Caller must hold m.mu.
func (m *Manager) removeLocked(id string) bool {
	session, exists := m.sessions[id]
	if !exists {
		return false
	}
	delete(m.sessions, id)
	session.Status = types.SessionExpired

	sessionDir := filepath.Join(m.config.ArtifactsDir, "sessions", id)
	if err := os.RemoveAll(sessionDir); err != nil {
		log.Error().
			Err(err).
			Str("session_id", id).
			Str("dir", sessionDir).
			Msg("Failed to remove session artifact directory")
	} else {
		log.Debug().
			Str("session_id", id).
			Dur("lifetime", time.Since(session.CreatedAt)).
			Msg("Session removed")
	}
	return true
}

// CleanupExpired removes all expired sessions. Returns the removed count.
func (m *Manager) CleanupExpired() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	var expired []string
	for id, session := range m.sessions {
		if session.IsExpired() {
			expired = append(expired, id)
		}
	}
	for _, id := range expired {
		m.removeLocked(id)
	}

	if len(expired) > 0 {
		log.Info().Int("count", len(expired)).Msg("Cleaned up expired sessions")
	}
	return len(expired)
}

// ActiveCount returns the number of non-expired sessions.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, session := range m.sessions {
		if !session.IsExpired() {
			count++
		}
	}
	return count
}

// StartCleanupLoop launches the periodic expiration sweep.
func (m *Manager) StartCleanupLoop() {
	m.mu.Lock()
	if m.started {
		m.mu.Unlock()
		return
	}
	m.started = true
	m.stopCh = make(chan struct{})
	m.mu.Unlock()

	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		ticker := time.NewTicker(m.config.SessionCleanupInterval)
		defer ticker.Stop()

		for {
			select {
			case <-ticker.C:
				m.CleanupExpired()
			case <-m.stopCh:
				return
			}
		}
	}()

	log.Info().Msg("Started session cleanup loop")
}

// StopCleanupLoop cancels the sweep and waits for it to finish.
func (m *Manager) StopCleanupLoop() {
	m.mu.Lock()
	if !m.started {
		m.mu.Unlock()
		return
	}
	m.started = false
	stopCh := m.stopCh
	m.mu.Unlock()

	close(stopCh)
	m.wg.Wait()
}

// Close stops the cleanup loop and removes all remaining sessions.
// Artifact directories are deleted in parallel.
func (m *Manager) Close() error {
	m.StopCleanupLoop()

	m.mu.Lock()
	ids := make([]string, 0, len(m.sessions))
	for id := range m.sessions {
		ids = append(ids, id)
	}
	m.sessions = make(map[string]*Session)
	m.mu.Unlock()

	eg := new(errgroup.Group)
	eg.SetLimit(4)
	for _, id := range ids {
		dir := filepath.Join(m.config.ArtifactsDir, "sessions", id)
		eg.Go(func() error {
			return os.RemoveAll(dir)
		})
	}
	if err := eg.Wait(); err != nil {
		log.Error().Err(err).Msg("Session shutdown encountered errors")
	}

	log.Info().Msg("Session manager closed")
	return nil
}
