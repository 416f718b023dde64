package security

import (
	"errors"
	"testing"
)

func TestValidateTargetURL(t *testing.T) {
	tests := []struct {
		name    string
		url     string
		wantErr error
	}{
		// Valid URLs
		{"valid https", "https://example.com", nil},
		{"valid http", "http://example.com/page", nil},
		{"valid with port", "https://example.com:8080/path", nil},
		{"valid with query", "https://example.com?foo=bar", nil},
		{"surrounding whitespace", "  https://example.com  ", nil},

		// Invalid schemes
		{"file scheme", "file:///etc/passwd", ErrBlockedScheme},
		{"javascript scheme", "javascript:alert(1)", ErrBlockedScheme},
		{"data scheme", "data:text/html,x", ErrBlockedScheme},
		{"ftp scheme", "ftp://example.com", ErrBlockedScheme},
		{"no scheme", "example.com", ErrBlockedScheme},

		// Localhost blocking
		{"localhost", "http://localhost/admin", ErrLocalhostBlocked},
		{"localhost with port", "http://localhost:8080", ErrLocalhostBlocked},
		{"127.0.0.1", "http://127.0.0.1", ErrLocalhostBlocked},
		{"127.0.0.1 with port", "http://127.0.0.1:3000", ErrLocalhostBlocked},
		{"IPv6 loopback", "http://[::1]/", ErrLocalhostBlocked},
		{"localhost subdomain", "http://foo.localhost/", ErrLocalhostBlocked},
		{"ip6-localhost", "http://ip6-localhost/", ErrLocalhostBlocked},

		// Encoding bypass attempts
		{"decimal loopback", "http://2130706433/", ErrLocalhostBlocked},
		{"decimal private", "http://3232235777/", ErrPrivateIPBlocked},
		{"octal loopback", "http://0177.0.0.1/", ErrLocalhostBlocked},
		{"hex loopback", "http://0x7f.0.0.1/", ErrLocalhostBlocked},
		{"shortened loopback", "http://127.1/", ErrLocalhostBlocked},
		{"alt loopback 127.0.0.2", "http://127.0.0.2/", ErrLocalhostBlocked},

		// Private ranges
		{"private 10.x", "http://10.0.0.1", ErrPrivateIPBlocked},
		{"private 172.16.x", "http://172.16.0.1", ErrPrivateIPBlocked},
		{"private 172.31.x", "http://172.31.255.1", ErrPrivateIPBlocked},
		{"private 192.168.x", "http://192.168.1.1", ErrPrivateIPBlocked},
		{"link-local", "http://169.254.169.254/", ErrPrivateIPBlocked},
		{"unspecified", "http://0.0.0.0", ErrPrivateIPBlocked},
		{"ipv6 unique-local", "http://[fd00::1]/", ErrPrivateIPBlocked},
		{"ipv6 link-local", "http://[fe80::1]/", ErrPrivateIPBlocked},

		// Path traversal
		{"dotdot path", "https://example.com/a/../../etc", ErrPathTraversal},

		// Empty/invalid
		{"empty", "", ErrInvalidURL},
		{"whitespace only", "   ", ErrInvalidURL},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTargetURL(tt.url, false)
			if tt.wantErr == nil {
				if err != nil {
					t.Errorf("ValidateTargetURL(%q) = %v, want nil", tt.url, err)
				}
			} else if !errors.Is(err, tt.wantErr) {
				t.Errorf("ValidateTargetURL(%q) = %v, want %v", tt.url, err, tt.wantErr)
			}
		})
	}
}

func TestValidateTargetURLAllowPrivate(t *testing.T) {
	tests := []struct {
		name  string
		url   string
		valid bool
	}{
		{"loopback allowed", "http://127.0.0.1/", true},
		{"localhost allowed", "http://localhost:3000/", true},
		{"private allowed", "http://192.168.1.10/", true},
		{"scheme still enforced", "file:///etc/passwd", false},
		{"traversal still rejected", "http://127.0.0.1/../secret", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidateTargetURL(tt.url, true)
			if tt.valid && err != nil {
				t.Errorf("ValidateTargetURL(%q, true) = %v, want nil", tt.url, err)
			}
			if !tt.valid && err == nil {
				t.Errorf("ValidateTargetURL(%q, true) = nil, want error", tt.url)
			}
		})
	}
}

func TestParseIPWithNormalization(t *testing.T) {
	tests := []struct {
		hostname string
		want     string // empty means nil
	}{
		{"192.168.1.1", "192.168.1.1"},
		{"2130706433", "127.0.0.1"},
		{"0177.0.0.1", "127.0.0.1"},
		{"0x7f.0.0.1", "127.0.0.1"},
		{"127.1", "127.0.0.1"},
		{"example.com", ""},
		{"999.1.1.1", ""},
	}

	for _, tt := range tests {
		t.Run(tt.hostname, func(t *testing.T) {
			ip := parseIPWithNormalization(tt.hostname)
			if tt.want == "" {
				if ip != nil {
					t.Errorf("parseIPWithNormalization(%q) = %v, want nil", tt.hostname, ip)
				}
				return
			}
			if ip == nil {
				t.Fatalf("parseIPWithNormalization(%q) = nil, want %s", tt.hostname, tt.want)
			}
			if got := normalizeIPv4Mapped(ip).String(); got != tt.want {
				t.Errorf("parseIPWithNormalization(%q) = %s, want %s", tt.hostname, got, tt.want)
			}
		})
	}
}
