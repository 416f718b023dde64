package security

import (
	"strings"
	"testing"
)

// FuzzValidateTargetURL verifies the validator never panics and never
// accepts a URL without an http(s) scheme, regardless of input shape.
func FuzzValidateTargetURL(f *testing.F) {
	seeds := []string{
		"https://example.com",
		"http://127.0.0.1/",
		"http://2130706433/",
		"file:///etc/passwd",
		"https://example.com/a/../../b",
		"http://[::1]:8080/x",
		"http://0x7f.0.0.1",
		"",
		"   ",
		"not a url at all",
	}
	for _, s := range seeds {
		f.Add(s)
	}

	f.Fuzz(func(t *testing.T, rawURL string) {
		err := ValidateTargetURL(rawURL, false)
		if err != nil {
			return
		}

		trimmed := strings.TrimSpace(rawURL)
		lower := strings.ToLower(trimmed)
		if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
			t.Errorf("accepted URL without http(s) scheme: %q", rawURL)
		}
	})
}
