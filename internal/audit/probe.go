package audit

import (
	"fmt"
	"net/url"
	"regexp"
	"strings"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/ysmood/gson"
)

// Probe limits.
const (
	maxProbeActions    = 3
	probeClickTimeout  = 2 * time.Second
	probeDCLTimeout    = 2500 * time.Millisecond
	probeIdleTimeout   = 3 * time.Second
	probeReturnTimeout = 4 * time.Second
	interClickPause    = 300 * time.Millisecond
)

// probeCandidateScript collects visible clickable elements with the context
// needed to vet them: kind, visible text, href, button type, and whether the
// element sits inside a form. De-duplicates by (kind, text, href).
const probeCandidateScript = `() => {
	const out = [];
	const isVisible = (el) => {
		const r = el.getBoundingClientRect();
		const s = window.getComputedStyle(el);
		return r.width > 2 && r.height > 2 && s.visibility !== 'hidden' && s.display !== 'none' && s.opacity !== '0';
	};

	const pushEl = (el, kind) => {
		if (!el || !isVisible(el)) return;
		const text = (el.innerText || el.getAttribute('aria-label') || el.getAttribute('title') || '').trim().slice(0, 80);
		const href = kind === 'link' ? (el.href || '') : '';
		const type = kind === 'button' ? (el.getAttribute('type') || '').toLowerCase() : '';
		const inForm = !!el.closest('form');
		out.push({ kind, text, href, type, inForm });
	};

	document.querySelectorAll('a[href]').forEach(a => pushEl(a, 'link'));
	document.querySelectorAll('button, [role="button"]').forEach(b => pushEl(b, 'button'));

	const seen = new Set();
	return out.filter(x => {
		const k = x.kind + '|' + x.text + '|' + x.href;
		if (seen.has(k)) return false;
		seen.add(k);
		return true;
	}).slice(0, 60);
}`

// probeCandidate is one clickable element considered for probing.
type probeCandidate struct {
	kind    string
	text    string
	href    string
	btnType string
	inForm  bool
}

// parseProbeCandidates decodes the candidate list returned by the collector.
func parseProbeCandidates(items []gson.JSON) []probeCandidate {
	out := make([]probeCandidate, 0, len(items))
	for _, item := range items {
		out = append(out, probeCandidate{
			kind:    item.Get("kind").Str(),
			text:    strings.TrimSpace(item.Get("text").Str()),
			href:    strings.TrimSpace(item.Get("href").Str()),
			btnType: strings.ToLower(strings.TrimSpace(item.Get("type").Str())),
			inForm:  item.Get("inForm").Bool(),
		})
	}
	return out
}

// isDestructive is the vetting predicate used to exclude unsafe candidates.
type isDestructive func(text string) bool

// selectProbeActions filters candidates down to at most maxActions safe ones.
// Excluded: destructive text, anything inside a form, submit/reset buttons,
// mailto/tel/javascript links, and cross-domain links.
func selectProbeActions(candidates []probeCandidate, baseDomain string, unsafe isDestructive, maxActions int) []probeCandidate {
	actions := make([]probeCandidate, 0, maxActions)

	for _, c := range candidates {
		if len(actions) >= maxActions {
			break
		}
		if c.text == "" && c.href == "" {
			continue
		}
		if unsafe(c.text) {
			continue
		}
		if c.inForm {
			continue
		}
		if c.kind == "button" && (c.btnType == "submit" || c.btnType == "reset") {
			continue
		}
		if c.kind == "link" {
			lower := strings.ToLower(c.href)
			if strings.HasPrefix(lower, "mailto:") ||
				strings.HasPrefix(lower, "tel:") ||
				strings.HasPrefix(lower, "javascript:") {
				continue
			}
			parsed, err := url.Parse(c.href)
			if err != nil {
				continue
			}
			if parsed.Host != "" && parsed.Host != baseDomain {
				continue
			}
		}
		actions = append(actions, c)
	}

	return actions
}

// probeSafeInteractions clicks a handful of vetted elements to validate that
// basic UI interactions do not break, then returns to the starting page.
// Every failure along the way is swallowed; an empty string means no note.
func (r *Runner) probeSafeInteractions(maxActions int) string {
	if r.pageGone() {
		return ""
	}

	result, err := r.page.Timeout(r.config.Timeout).Eval(probeCandidateScript)
	if err != nil {
		return ""
	}

	unsafe := r.patterns.Current().IsDestructiveText
	actions := selectProbeActions(parseProbeCandidates(result.Value.Arr()), r.baseDomain, unsafe, maxActions)
	if len(actions) == 0 {
		return ""
	}

	startedURL := r.pageURL()
	clicks := 0
	navs := 0
	slowOrLoader := 0

	for _, action := range actions {
		if r.pageGone() {
			break
		}

		beforeURL := r.pageURL()
		if !r.clickCandidate(action) {
			continue
		}

		// Give the page a chance to settle; a network-idle timeout counts as
		// a slow response or a stuck loader.
		r.waitDOMContentLoaded(probeDCLTimeout)
		if r.waitIdleTimedOut() {
			slowOrLoader++
		}

		afterURL := r.pageURL()
		clicks++
		if afterURL != beforeURL {
			navs++
		}

		r.capturePreview("interaction")

		if afterURL != beforeURL {
			if err := r.page.Timeout(probeReturnTimeout).NavigateBack(); err == nil {
				r.waitDOMContentLoaded(probeDCLTimeout)
			}
		}

		time.Sleep(interClickPause)
	}

	// Return to the page under audit if the batch drifted away from it.
	if !r.pageGone() && r.pageURL() != startedURL {
		p := r.page.Timeout(probeReturnTimeout)
		wait := p.WaitEvent(&proto.PageDomContentEventFired{})
		if err := p.Navigate(startedURL); err == nil {
			wait()
		}
	}

	parts := []string{fmt.Sprintf("UI probe: %d clicks", clicks)}
	if navs > 0 {
		parts = append(parts, fmt.Sprintf("%d nav", navs))
	}
	if slowOrLoader > 0 {
		parts = append(parts, fmt.Sprintf("%d slow/loader", slowOrLoader))
	}
	return strings.Join(parts, " | ")
}

// clickCandidate locates and clicks one vetted element. Returns false when
// the element cannot be found or clicked in time.
func (r *Runner) clickCandidate(c probeCandidate) bool {
	p := r.page.Timeout(probeClickTimeout)

	if c.kind == "link" && c.href != "" {
		el, err := p.Element(fmt.Sprintf(`a[href=%q]`, c.href))
		if err != nil {
			return false
		}
		return el.Timeout(probeClickTimeout).Click(proto.InputMouseButtonLeft, 1) == nil
	}

	text := strings.ReplaceAll(c.text, "\n", " ")
	if text == "" {
		return false
	}
	el, err := p.ElementR(`button, [role="button"], a`, "(?i)"+regexp.QuoteMeta(text))
	if err != nil {
		return false
	}
	return el.Timeout(probeClickTimeout).Click(proto.InputMouseButtonLeft, 1) == nil
}

// waitDOMContentLoaded waits up to the timeout for the next DCL event.
// A click that triggers no navigation simply runs the timeout out.
func (r *Runner) waitDOMContentLoaded(timeout time.Duration) {
	r.page.Timeout(timeout).WaitEvent(&proto.PageDomContentEventFired{})()
}

// waitIdleTimedOut waits for the network to go idle and reports whether the
// wait ran into its timeout.
func (r *Runner) waitIdleTimedOut() bool {
	start := time.Now()
	r.page.Timeout(probeIdleTimeout).WaitRequestIdle(300*time.Millisecond, nil, nil, nil)()
	return time.Since(start) >= probeIdleTimeout
}
