// Package patterns provides audit detection pattern loading and management.
package patterns

import (
	"embed"
	"fmt"
	"regexp"
	"strings"
	"sync"

	"github.com/rs/zerolog/log"
	"gopkg.in/yaml.v3"
)

//go:embed audit_patterns.yaml
var defaultPatternsFS embed.FS

// Patterns contains all audit detection patterns.
type Patterns struct {
	ErrorPhrases           []string `yaml:"error_phrases"`
	DestructiveVerbs       []string `yaml:"destructive_verbs"`
	SecurityHeaders        []string `yaml:"security_headers"`
	AccessibilityScriptURL string   `yaml:"accessibility_script_url"`

	errorRegex       *regexp.Regexp
	destructiveRegex *regexp.Regexp
}

var (
	instance *Patterns
	once     sync.Once
	loadErr  error
)

// Get returns the singleton Patterns instance.
// Patterns are loaded from the embedded audit_patterns.yaml file.
func Get() *Patterns {
	once.Do(func() {
		instance, loadErr = load()
		if loadErr != nil {
			log.Error().Err(loadErr).Msg("Failed to load audit patterns, using defaults")
			instance = defaultPatterns()
		}
	})
	return instance
}

// load reads patterns from the embedded YAML file.
func load() (*Patterns, error) {
	data, err := defaultPatternsFS.ReadFile("audit_patterns.yaml")
	if err != nil {
		return nil, err
	}
	return Parse(data)
}

// Parse unmarshals a patterns file and compiles its regexes.
func Parse(data []byte) (*Patterns, error) {
	var p Patterns
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, err
	}
	if err := p.compile(); err != nil {
		return nil, err
	}

	log.Debug().
		Int("error_phrases", len(p.ErrorPhrases)).
		Int("destructive_verbs", len(p.DestructiveVerbs)).
		Int("security_headers", len(p.SecurityHeaders)).
		Msg("Audit patterns loaded")

	return &p, nil
}

// compile builds the case-insensitive matchers from the pattern lists.
func (p *Patterns) compile() error {
	if len(p.ErrorPhrases) > 0 {
		re, err := regexp.Compile("(?i)" + strings.Join(p.ErrorPhrases, "|"))
		if err != nil {
			return fmt.Errorf("error_phrases: %w", err)
		}
		p.errorRegex = re
	}
	if len(p.DestructiveVerbs) > 0 {
		parts := make([]string, len(p.DestructiveVerbs))
		for i, v := range p.DestructiveVerbs {
			parts[i] = `\b` + v + `\b`
		}
		re, err := regexp.Compile("(?i)" + strings.Join(parts, "|"))
		if err != nil {
			return fmt.Errorf("destructive_verbs: %w", err)
		}
		p.destructiveRegex = re
	}
	return nil
}

// MatchesErrorPhrase reports whether rendered page content contains a known
// error phrase.
func (p *Patterns) MatchesErrorPhrase(content string) bool {
	if p.errorRegex == nil {
		return false
	}
	return p.errorRegex.MatchString(content)
}

// IsDestructiveText reports whether a clickable element's visible text names
// a destructive action.
func (p *Patterns) IsDestructiveText(text string) bool {
	if p.destructiveRegex == nil {
		return false
	}
	return p.destructiveRegex.MatchString(text)
}

// defaultPatterns returns hardcoded fallback patterns.
func defaultPatterns() *Patterns {
	p := &Patterns{
		ErrorPhrases: []string{
			"something went wrong",
			"error occurred",
			"page not found",
			"404",
			"500 internal server error",
			"access denied",
			"forbidden",
			"oops",
			"unexpected error",
		},
		DestructiveVerbs: []string{
			"delete", "remove", "logout", `sign\s*out`,
			"pay", "submit", "confirm", "purchase",
			"cancel", "destroy", "clear", "reset",
		},
		SecurityHeaders: []string{
			"Strict-Transport-Security",
			"Content-Security-Policy",
			"X-Content-Type-Options",
			"X-Frame-Options",
			"Referrer-Policy",
			"Permissions-Policy",
		},
		AccessibilityScriptURL: "https://cdnjs.cloudflare.com/ajax/libs/axe-core/4.8.3/axe.min.js",
	}
	if err := p.compile(); err != nil {
		log.Error().Err(err).Msg("Failed to compile fallback patterns")
	}
	return p
}
