package audit

import (
	"github.com/Rorqualx/prodready-go/internal/browser"
	"github.com/Rorqualx/prodready-go/internal/config"
	"github.com/Rorqualx/prodready-go/internal/patterns"
)

// Service schedules audit runs. One audit is one background task; audits
// never share a browser context.
type Service struct {
	audits   *Manager
	browsers *browser.Manager
	patterns *patterns.Manager
	config   *config.Config
}

// NewService wires the runner dependencies.
func NewService(audits *Manager, browsers *browser.Manager, pats *patterns.Manager, cfg *config.Config) *Service {
	return &Service{
		audits:   audits,
		browsers: browsers,
		patterns: pats,
		config:   cfg,
	}
}

// Start launches the audit as a background task and returns immediately.
func (s *Service) Start(state *State) {
	runner := NewRunner(state, s.audits, s.browsers, s.patterns, s.config)
	go runner.Run()
}
