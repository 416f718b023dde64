package audit

import "testing"

func TestNormalizeURL(t *testing.T) {
	const base = "example.test"

	tests := []struct {
		name string
		link string
		want string
	}{
		{"same domain plain", "https://example.test/about", "https://example.test/about"},
		{"drops query", "https://example.test/search?q=1", "https://example.test/search"},
		{"drops fragment", "https://example.test/docs#intro", "https://example.test/docs"},
		{"drops both", "https://example.test/p?a=1#b", "https://example.test/p"},
		{"relative path", "/contact", "https://example.test/contact"},
		{"cross domain excluded", "https://other.test/page", ""},
		{"javascript excluded", "javascript:void(0)", ""},
		{"mailto excluded", "mailto:x@example.test", ""},
		{"empty", "", ""},
		{"root", "https://example.test/", "https://example.test/"},
		{"port is part of netloc", "https://example.test:8443/x", ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := NormalizeURL(tt.link, base, "https"); got != tt.want {
				t.Errorf("NormalizeURL(%q) = %q, want %q", tt.link, got, tt.want)
			}
		})
	}
}

func TestNormalizeURLIdempotent(t *testing.T) {
	const base = "example.test"
	inputs := []string{
		"https://example.test/about",
		"https://example.test/search?q=1#frag",
		"/relative/path",
	}

	for _, in := range inputs {
		once := NormalizeURL(in, base, "https")
		if once == "" {
			continue
		}
		twice := NormalizeURL(once, base, "https")
		if once != twice {
			t.Errorf("normalize not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

func TestSameDomain(t *testing.T) {
	tests := []struct {
		link string
		want bool
	}{
		{"https://example.test/x", true},
		{"/relative", true},
		{"https://evil.test/x", false},
	}
	for _, tt := range tests {
		if got := SameDomain(tt.link, "example.test"); got != tt.want {
			t.Errorf("SameDomain(%q) = %v, want %v", tt.link, got, tt.want)
		}
	}
}
