package security

import (
	"context"
	"crypto/tls"
	"net/http"
	"time"

	"github.com/rs/zerolog/log"
)

// headerProbeTimeout bounds the out-of-band HEAD request.
const headerProbeTimeout = 10 * time.Second

// probeClient is shared across audits. Certificate errors are ignored so
// self-signed staging deployments can still be probed.
var probeClient = &http.Client{
	Timeout: headerProbeTimeout,
	Transport: &http.Transport{
		TLSClientConfig: &tls.Config{InsecureSkipVerify: true},
	},
}

// CheckSecurityHeaders issues a HEAD request to the target URL and reports
// which of the tracked security headers are present and which are missing.
// The probe never fails the audit: on any transport error every tracked
// header is reported missing.
func CheckSecurityHeaders(ctx context.Context, rawURL string, tracked []string) (present, missing []string) {
	present = make([]string, 0, len(tracked))
	missing = make([]string, 0, len(tracked))

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		log.Warn().Err(err).Str("url", rawURL).Msg("Security header probe request build failed")
		return nil, append(missing, tracked...)
	}

	resp, err := probeClient.Do(req)
	if err != nil {
		log.Warn().Err(err).Str("url", rawURL).Msg("Security header probe failed")
		return nil, append(missing, tracked...)
	}
	defer resp.Body.Close()

	for _, header := range tracked {
		// http.Header.Get is case-insensitive
		if resp.Header.Get(header) != "" {
			present = append(present, header)
		} else {
			missing = append(missing, header)
		}
	}

	log.Debug().
		Str("url", rawURL).
		Int("present", len(present)).
		Int("missing", len(missing)).
		Msg("Security header probe completed")

	return present, missing
}

// HeaderRecommendations maps missing tracked headers to remediation advice.
func HeaderRecommendations(missing []string) map[string]string {
	recommendations := make(map[string]string)

	for _, h := range missing {
		switch h {
		case "Strict-Transport-Security":
			recommendations[h] = "Add 'Strict-Transport-Security: max-age=31536000; includeSubDomains'"
		case "Content-Security-Policy":
			recommendations[h] = "Implement a Content Security Policy appropriate for your application"
		case "X-Content-Type-Options":
			recommendations[h] = "Add 'X-Content-Type-Options: nosniff'"
		case "X-Frame-Options":
			recommendations[h] = "Add 'X-Frame-Options: DENY' or 'SAMEORIGIN'"
		case "Referrer-Policy":
			recommendations[h] = "Add 'Referrer-Policy: strict-origin-when-cross-origin'"
		case "Permissions-Policy":
			recommendations[h] = "Consider adding Permissions-Policy to restrict browser features"
		}
	}

	return recommendations
}
