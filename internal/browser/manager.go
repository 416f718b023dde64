// Package browser owns the process-wide automation driver. It launches a
// single headless-capable Chromium and mints per-session login contexts and
// per-audit authenticated contexts seeded from captured storage state.
package browser

import (
	"fmt"
	"os"
	"runtime"
	"sync"

	"github.com/go-rod/rod"
	"github.com/go-rod/rod/lib/launcher"
	"github.com/go-rod/rod/lib/proto"
	"github.com/go-rod/stealth"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/prodready-go/internal/config"
	"github.com/Rorqualx/prodready-go/internal/session"
	"github.com/Rorqualx/prodready-go/internal/types"
)

// desktopUserAgent is the fixed user agent applied to every audit context.
const desktopUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 " +
	"(KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36"

// Viewport applied to every context.
const (
	viewportWidth  = 1280
	viewportHeight = 720
)

// Manager owns the browser process and the per-session context registry.
// The registry is a non-owning association: the session manager owns the
// session records and artifact directories.
//
// Lock ordering: mu protects only the registry maps; never hold it across
// driver I/O.
type Manager struct {
	mu          sync.Mutex
	config      *config.Config
	sessions    *session.Manager
	launcher    *launcher.Launcher
	browser     *rod.Browser
	contexts    map[string]*rod.Browser // incognito context per session id
	pages       map[string]*rod.Page    // login page per session id
	initialized bool
}

// NewManager creates a browser manager. The driver is not started until
// Initialize is called.
func NewManager(cfg *config.Config, sessions *session.Manager) *Manager {
	return &Manager{
		config:   cfg,
		sessions: sessions,
		contexts: make(map[string]*rod.Browser),
		pages:    make(map[string]*rod.Page),
	}
}

// shouldRunHeadless decides headless mode from the host platform:
// Linux servers without a display run headless; interactive workstations run
// headed so the operator can complete the manual login.
func (m *Manager) shouldRunHeadless() bool {
	if m.config.HeadlessOverride {
		return true
	}
	if runtime.GOOS == "linux" {
		return os.Getenv("DISPLAY") == ""
	}
	return false
}

// Initialize starts the driver and launches the browser. Idempotent.
func (m *Manager) Initialize() error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.initialized {
		return nil
	}

	headless := m.shouldRunHeadless()
	log.Info().Bool("headless", headless).Msg("Initializing browser")

	l := launcher.New().
		Headless(headless).
		Set("no-sandbox").
		Set("disable-setuid-sandbox").
		Set("disable-dev-shm-usage").
		Set("disable-gpu").
		Set("no-zygote").
		Set("disable-blink-features", "AutomationControlled")
	l = l.Delete("enable-automation")

	url, err := l.Launch()
	if err != nil {
		return fmt.Errorf("failed to launch browser: %w", err)
	}

	b := rod.New().ControlURL(url)
	if err := b.Connect(); err != nil {
		l.Kill()
		return fmt.Errorf("failed to connect to browser: %w", err)
	}

	// Staging targets often carry self-signed certificates.
	if err := b.IgnoreCertErrors(true); err != nil {
		log.Warn().Err(err).Msg("Failed to set IgnoreCertErrors")
	}

	m.launcher = l
	m.browser = b
	m.initialized = true

	log.Info().Str("control_url", url).Msg("Browser initialized")
	return nil
}

// newContext creates a fresh incognito browser context.
func (m *Manager) newContext() (*rod.Browser, error) {
	m.mu.Lock()
	b := m.browser
	initialized := m.initialized
	m.mu.Unlock()

	if !initialized || b == nil {
		return nil, types.ErrBrowserNotInitialized
	}
	return b.Incognito()
}

// NewPage opens a stealth page in the given context with the standard
// viewport and user agent applied.
func (m *Manager) NewPage(ctxBrowser *rod.Browser) (*rod.Page, error) {
	page, err := stealth.Page(ctxBrowser)
	if err != nil {
		return nil, fmt.Errorf("failed to open page: %w", err)
	}

	if err := page.SetViewport(&proto.EmulationSetDeviceMetricsOverride{
		Width:             viewportWidth,
		Height:            viewportHeight,
		DeviceScaleFactor: 1,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to set viewport")
	}

	if err := page.SetUserAgent(&proto.NetworkSetUserAgentOverride{
		UserAgent: desktopUserAgent,
	}); err != nil {
		log.Warn().Err(err).Msg("Failed to set user agent")
	}

	return page, nil
}

// CreateLoginContext creates a fresh context for a session, opens a page,
// and navigates it to the session's URL so the operator can log in.
// Navigation failures are logged but do not fail the call; the page is still
// usable for manual navigation.
func (m *Manager) CreateLoginContext(sessionID string) (*rod.Page, error) {
	sess, err := m.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}

	ctxBrowser, err := m.newContext()
	if err != nil {
		return nil, err
	}

	page, err := m.NewPage(ctxBrowser)
	if err != nil {
		m.disposeContext(ctxBrowser)
		return nil, err
	}

	if err := page.Timeout(m.config.NavigationTimeout).Navigate(sess.URL); err != nil {
		log.Warn().
			Err(err).
			Str("session_id", sessionID).
			Str("url", sess.URL).
			Msg("Login page navigation failed, page still open")
	}

	m.mu.Lock()
	m.contexts[sessionID] = ctxBrowser
	m.pages[sessionID] = page
	m.mu.Unlock()

	log.Info().
		Str("session_id", sessionID).
		Str("url", sess.URL).
		Msg("Opened login page")

	return page, nil
}

// OpenLoginPage creates the login context for a session. The page handle is
// only needed internally; callers just need success or failure.
func (m *Manager) OpenLoginPage(sessionID string) error {
	_, err := m.CreateLoginContext(sessionID)
	return err
}

// SaveStorageState serializes the session context's cookies and local
// storage to the session's storage-state path.
func (m *Manager) SaveStorageState(sessionID string) error {
	sess, err := m.sessions.Get(sessionID)
	if err != nil {
		return err
	}

	m.mu.Lock()
	ctxBrowser := m.contexts[sessionID]
	page := m.pages[sessionID]
	m.mu.Unlock()

	if ctxBrowser == nil {
		return fmt.Errorf("%w: session %s", types.ErrContextNotFound, sessionID)
	}

	state, err := captureStorageState(ctxBrowser, page)
	if err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorageSaveFailed, err)
	}
	if err := state.Save(sess.StorageStatePath); err != nil {
		return fmt.Errorf("%w: %v", types.ErrStorageSaveFailed, err)
	}

	log.Info().
		Str("session_id", sessionID).
		Int("cookies", len(state.Cookies)).
		Int("origins", len(state.Origins)).
		Msg("Saved storage state")

	return nil
}

// CreateAuthenticatedContext mints a fresh context seeded from the session's
// stored state. Pre-conditions: the session exists, is authenticated, and
// its storage-state file exists.
func (m *Manager) CreateAuthenticatedContext(sessionID string) (*rod.Browser, error) {
	sess, err := m.sessions.Get(sessionID)
	if err != nil {
		return nil, err
	}
	if !sess.IsAuthenticated {
		return nil, fmt.Errorf("%w: session %s", types.ErrSessionNotAuthenticated, sessionID)
	}
	if _, err := os.Stat(sess.StorageStatePath); err != nil {
		return nil, fmt.Errorf("%w: session %s", types.ErrStorageStateMissing, sessionID)
	}

	state, err := LoadStorageState(sess.StorageStatePath)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", types.ErrStorageStateMissing, err)
	}

	ctxBrowser, err := m.newContext()
	if err != nil {
		return nil, err
	}

	if cookies := state.CookieParams(); len(cookies) > 0 {
		if err := ctxBrowser.SetCookies(cookies); err != nil {
			m.disposeContext(ctxBrowser)
			return nil, fmt.Errorf("failed to seed cookies: %w", err)
		}
	}

	log.Info().
		Str("session_id", sessionID).
		Int("cookies", len(state.Cookies)).
		Msg("Created authenticated context")

	return ctxBrowser, nil
}

// NewAuditPage opens a page in an authenticated context with the session's
// local storage installed to seed on every navigation.
func (m *Manager) NewAuditPage(ctxBrowser *rod.Browser, sessionID string) (*rod.Page, error) {
	page, err := m.NewPage(ctxBrowser)
	if err != nil {
		return nil, err
	}

	sess, err := m.sessions.Get(sessionID)
	if err == nil {
		if state, lerr := LoadStorageState(sess.StorageStatePath); lerr == nil {
			if script := state.SeedScript(); script != "" {
				if _, serr := page.EvalOnNewDocument(script); serr != nil {
					log.Warn().Err(serr).Str("session_id", sessionID).Msg("Failed to install storage seed script")
				}
			}
		}
	}

	return page, nil
}

// CloseContext tears down a session's page and context. Idempotent.
func (m *Manager) CloseContext(sessionID string) {
	m.mu.Lock()
	page := m.pages[sessionID]
	ctxBrowser := m.contexts[sessionID]
	delete(m.pages, sessionID)
	delete(m.contexts, sessionID)
	m.mu.Unlock()

	if page != nil {
		if err := page.Close(); err != nil {
			log.Warn().Err(err).Str("session_id", sessionID).Msg("Error closing login page")
		}
	}
	if ctxBrowser != nil {
		m.disposeContext(ctxBrowser)
	}

	if page != nil || ctxBrowser != nil {
		log.Info().Str("session_id", sessionID).Msg("Closed browser context")
	}
}

// DisposeContext tears down a context that is not in the session registry
// (audit contexts are owned by their runner).
func (m *Manager) DisposeContext(ctxBrowser *rod.Browser) {
	m.disposeContext(ctxBrowser)
}

// disposeContext disposes an incognito browser context via CDP.
func (m *Manager) disposeContext(ctxBrowser *rod.Browser) {
	if ctxBrowser == nil || ctxBrowser.BrowserContextID == "" {
		return
	}
	err := proto.TargetDisposeBrowserContext{
		BrowserContextID: ctxBrowser.BrowserContextID,
	}.Call(ctxBrowser)
	if err != nil {
		log.Warn().Err(err).Msg("Error disposing browser context")
	}
}

// Shutdown closes all contexts, then the browser, then the driver.
// Errors during teardown are logged and swallowed.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	pages := m.pages
	contexts := m.contexts
	m.pages = make(map[string]*rod.Page)
	m.contexts = make(map[string]*rod.Browser)
	b := m.browser
	l := m.launcher
	m.browser = nil
	m.launcher = nil
	m.initialized = false
	m.mu.Unlock()

	for id, page := range pages {
		if err := page.Close(); err != nil {
			log.Warn().Err(err).Str("session_id", id).Msg("Error closing page during shutdown")
		}
	}
	for _, ctxBrowser := range contexts {
		m.disposeContext(ctxBrowser)
	}

	if b != nil {
		if err := b.Close(); err != nil {
			log.Warn().Err(err).Msg("Error closing browser during shutdown")
		}
	}
	if l != nil {
		l.Kill()
	}

	log.Info().Msg("Browser manager shutdown complete")
}
