package patterns

import (
	"os"
	"path/filepath"
	"testing"
)

func TestEmbeddedPatternsLoad(t *testing.T) {
	p := Get()

	if len(p.ErrorPhrases) == 0 {
		t.Fatal("embedded patterns have no error phrases")
	}
	if len(p.DestructiveVerbs) == 0 {
		t.Fatal("embedded patterns have no destructive verbs")
	}
	if len(p.SecurityHeaders) != 6 {
		t.Errorf("tracked security headers = %d, want 6", len(p.SecurityHeaders))
	}
	if p.AccessibilityScriptURL == "" {
		t.Error("accessibility script URL is empty")
	}
}

func TestMatchesErrorPhrase(t *testing.T) {
	p := Get()

	tests := []struct {
		content string
		want    bool
	}{
		{"<html><body>Something went WRONG</body></html>", true},
		{"page not found", true},
		{"Oops! We hit a snag", true},
		{"HTTP 404", true},
		{"all good here", false},
		{"", false},
	}

	for _, tt := range tests {
		if got := p.MatchesErrorPhrase(tt.content); got != tt.want {
			t.Errorf("MatchesErrorPhrase(%q) = %v, want %v", tt.content, got, tt.want)
		}
	}
}

func TestIsDestructiveText(t *testing.T) {
	p := Get()

	tests := []struct {
		text string
		want bool
	}{
		{"Delete account", true},
		{"Sign out", true},
		{"Sign   Out", true},
		{"LOGOUT", true},
		{"Confirm purchase", true},
		{"Reset password", true},
		{"View profile", false},
		{"Undeleted items", false}, // word boundary: "undeleted" is not "delete"
		{"", false},
	}

	for _, tt := range tests {
		if got := p.IsDestructiveText(tt.text); got != tt.want {
			t.Errorf("IsDestructiveText(%q) = %v, want %v", tt.text, got, tt.want)
		}
	}
}

func TestParseRejectsBadYAML(t *testing.T) {
	if _, err := Parse([]byte("error_phrases: [unclosed")); err == nil {
		t.Error("Parse accepted malformed YAML")
	}
}

func TestParseRejectsBadRegex(t *testing.T) {
	if _, err := Parse([]byte("error_phrases:\n  - \"[unclosed\"")); err == nil {
		t.Error("Parse accepted an invalid regex pattern")
	}
}

func TestManagerExternalOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "audit_patterns.yaml")
	content := "error_phrases:\n  - \"custom failure marker\"\nsecurity_headers:\n  - \"X-Frame-Options\"\n"
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatal(err)
	}

	m, err := NewManager(path, false)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	defer m.Close()

	p := m.Current()
	if !p.MatchesErrorPhrase("a custom failure marker appeared") {
		t.Error("external patterns not active")
	}
	if len(p.SecurityHeaders) != 1 {
		t.Errorf("security headers = %d, want 1 from override", len(p.SecurityHeaders))
	}
}

func TestManagerMissingExternalFallsBack(t *testing.T) {
	m, err := NewManager(filepath.Join(t.TempDir(), "absent.yaml"), false)
	if err != nil {
		t.Fatalf("NewManager error: %v", err)
	}
	defer m.Close()

	if len(m.Current().ErrorPhrases) == 0 {
		t.Error("missing external file should fall back to embedded patterns")
	}
}
