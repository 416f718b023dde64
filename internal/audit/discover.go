package audit

import (
	"net/url"
	"strings"
)

// NormalizeURL reduces a link to scheme://host/path, dropping query and
// fragment. Links without a host take the base scheme and domain and keep
// their path as written (the path is not resolved). Returns an empty
// string for links that are unparsable or outside the base domain.
//
// Normalization is idempotent: normalizing an already-normalized URL yields
// the same string.
func NormalizeURL(link, baseDomain, baseScheme string) string {
	link = strings.TrimSpace(link)
	if link == "" {
		return ""
	}

	lower := strings.ToLower(link)
	if strings.HasPrefix(lower, "javascript:") || strings.HasPrefix(lower, "mailto:") {
		return ""
	}

	parsed, err := url.Parse(link)
	if err != nil {
		return ""
	}

	host := parsed.Host
	scheme := parsed.Scheme
	if host == "" {
		// Relative link: inherit the base
		host = baseDomain
		scheme = baseScheme
	}
	if host != baseDomain {
		return ""
	}
	if scheme == "" {
		scheme = baseScheme
	}

	return scheme + "://" + host + parsed.EscapedPath()
}

// SameDomain reports whether a link's host equals the base domain or is
// empty (relative).
func SameDomain(link, baseDomain string) bool {
	parsed, err := url.Parse(link)
	if err != nil {
		return false
	}
	return parsed.Host == "" || parsed.Host == baseDomain
}

// linkCollectScript enumerates in-page anchors, excluding javascript: and
// mailto: schemes. Filtering to the base domain happens on the Go side.
const linkCollectScript = `() => {
	const links = [];
	document.querySelectorAll('a[href]').forEach(a => {
		const href = a.href;
		if (href && !href.startsWith('javascript:') && !href.startsWith('mailto:')) {
			links.push(href);
		}
	});
	return links;
}`
