package patterns

import (
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
	"github.com/rs/zerolog/log"
)

// reloadDebounce coalesces editor write bursts into a single reload.
const reloadDebounce = 250 * time.Millisecond

// Manager provides hot-reload capable pattern management.
// It maintains embedded default patterns and optionally watches an external
// file for runtime updates. Reads are lock-free using atomic.Value.
type Manager struct {
	embedded     *Patterns
	current      atomic.Value // *Patterns - atomic swap for lock-free reads
	externalPath string
	watcher      *fsnotify.Watcher
	stopCh       chan struct{}
	wg           sync.WaitGroup
	mu           sync.Mutex // Protects reload operations and close state
	closed       bool
	reloadCount  int64
}

// NewManager creates a new patterns Manager.
// If externalPath is empty, only embedded patterns are used.
// If hotReload is true and externalPath is set, file changes trigger reloads.
func NewManager(externalPath string, hotReload bool) (*Manager, error) {
	m := &Manager{
		embedded:     Get(),
		externalPath: externalPath,
		stopCh:       make(chan struct{}),
	}

	m.current.Store(m.embedded)

	if externalPath != "" {
		if err := m.loadExternal(); err != nil {
			log.Warn().
				Err(err).
				Str("path", externalPath).
				Msg("Failed to load external patterns, using embedded defaults")
		} else {
			log.Info().
				Str("path", externalPath).
				Msg("Loaded external patterns file")
		}

		if hotReload {
			if err := m.startWatcher(); err != nil {
				log.Warn().
					Err(err).
					Str("path", externalPath).
					Msg("Failed to start file watcher, hot-reload disabled")
			} else {
				log.Info().
					Str("path", externalPath).
					Msg("Hot-reload enabled for patterns file")
			}
		}
	}

	return m, nil
}

// Current returns the active patterns. Safe for concurrent use.
func (m *Manager) Current() *Patterns {
	return m.current.Load().(*Patterns)
}

// loadExternal reads and activates the external patterns file.
func (m *Manager) loadExternal() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	data, err := os.ReadFile(m.externalPath)
	if err != nil {
		return err
	}

	p, err := Parse(data)
	if err != nil {
		return err
	}

	m.current.Store(p)
	m.reloadCount++
	return nil
}

// startWatcher begins watching the external file's directory for changes.
// Watching the directory (not the file) survives editors that replace the
// file via rename.
func (m *Manager) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}

	dir := filepath.Dir(m.externalPath)
	if err := watcher.Add(dir); err != nil {
		if cerr := watcher.Close(); cerr != nil {
			log.Debug().Err(cerr).Msg("Error closing watcher after add failure")
		}
		return err
	}

	m.watcher = watcher
	m.wg.Add(1)
	go func() {
		defer m.wg.Done()
		m.watchLoop()
	}()

	return nil
}

// watchLoop handles file events with debouncing.
func (m *Manager) watchLoop() {
	var timer *time.Timer
	var timerC <-chan time.Time

	target := filepath.Clean(m.externalPath)

	for {
		select {
		case <-m.stopCh:
			if timer != nil {
				timer.Stop()
			}
			return

		case event, ok := <-m.watcher.Events:
			if !ok {
				return
			}
			if filepath.Clean(event.Name) != target {
				continue
			}
			if event.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) == 0 {
				continue
			}
			// Debounce: restart the timer on every event in the burst
			if timer == nil {
				timer = time.NewTimer(reloadDebounce)
				timerC = timer.C
			} else {
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				timer.Reset(reloadDebounce)
			}

		case <-timerC:
			timer = nil
			timerC = nil
			if err := m.loadExternal(); err != nil {
				log.Warn().
					Err(err).
					Str("path", m.externalPath).
					Msg("Pattern reload failed, keeping previous patterns")
			} else {
				log.Info().
					Str("path", m.externalPath).
					Msg("Patterns reloaded")
			}

		case err, ok := <-m.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("Pattern watcher error")
		}
	}
}

// Close stops the watcher. Safe to call multiple times.
func (m *Manager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.mu.Unlock()

	close(m.stopCh)
	if m.watcher != nil {
		if err := m.watcher.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing pattern watcher")
		}
	}
	m.wg.Wait()
}
