package audit

import (
	"context"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-rod/rod/lib/proto"
	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/prodready-go/internal/types"
)

// Telemetry thresholds, both strict.
const (
	largeAssetBytes       = 500_000
	slowEndpointThreshold = 1000 * time.Millisecond
)

// requestMeta remembers what we know about an in-flight request so the
// loading-failed event (which carries only a request id) can be attributed.
type requestMeta struct {
	url          string
	method       string
	resourceType string
}

// attachListeners subscribes to console, exception, network, and page events
// before any navigation so every event for the first page is observed.
// Returns a cleanup function that stops all listener goroutines.
func (r *Runner) attachListeners() (func(), error) {
	// Event domains must be enabled explicitly for the CDP events to flow.
	if err := (proto.NetworkEnable{}).Call(r.page); err != nil {
		return nil, err
	}
	if err := (proto.PageEnable{}).Call(r.page); err != nil {
		return nil, err
	}
	if err := (proto.RuntimeEnable{}).Call(r.page); err != nil {
		return nil, err
	}

	listenerCtx, cancel := context.WithCancel(context.Background())
	pageWithCtx := r.page.Context(listenerCtx)

	var wg sync.WaitGroup

	var cleanupOnce sync.Once
	cleanup := func() {
		cleanupOnce.Do(func() {
			cancel()
			done := make(chan struct{})
			go func() {
				wg.Wait()
				close(done)
			}()
			select {
			case <-done:
				log.Debug().Str("audit_id", r.state.AuditID).Msg("Audit listeners cleaned up")
			case <-time.After(5 * time.Second):
				log.Warn().Str("audit_id", r.state.AuditID).Msg("Timeout waiting for audit listeners to stop")
			}
		})
	}

	stopRequested := func() bool {
		select {
		case <-listenerCtx.Done():
			return true
		default:
			return false
		}
	}

	// Console messages
	wg.Add(1)
	go func() {
		defer wg.Done()
		pageWithCtx.EachEvent(func(e *proto.RuntimeConsoleAPICalled) bool {
			if stopRequested() || r.pageGone() {
				return true
			}
			r.onConsole(e)
			return false
		})()
	}()

	// Uncaught exceptions
	wg.Add(1)
	go func() {
		defer wg.Done()
		pageWithCtx.EachEvent(func(e *proto.RuntimeExceptionThrown) bool {
			if stopRequested() || r.pageGone() {
				return true
			}
			r.onPageError(e)
			return false
		})()
	}()

	// Request start
	wg.Add(1)
	go func() {
		defer wg.Done()
		pageWithCtx.EachEvent(func(e *proto.NetworkRequestWillBeSent) bool {
			if stopRequested() || r.pageGone() {
				return true
			}
			r.onRequest(e)
			return false
		})()
	}()

	// Responses
	wg.Add(1)
	go func() {
		defer wg.Done()
		pageWithCtx.EachEvent(func(e *proto.NetworkResponseReceived) bool {
			if stopRequested() || r.pageGone() {
				return true
			}
			r.onResponse(e)
			return false
		})()
	}()

	// Transport failures
	wg.Add(1)
	go func() {
		defer wg.Done()
		pageWithCtx.EachEvent(func(e *proto.NetworkLoadingFailed) bool {
			if stopRequested() || r.pageGone() {
				return true
			}
			r.onRequestFailed(e)
			return false
		})()
	}()

	// Main-frame navigations drive the preview sampler and page-URL tracking.
	wg.Add(1)
	go func() {
		defer wg.Done()
		pageWithCtx.EachEvent(func(e *proto.PageFrameNavigated) bool {
			if stopRequested() || r.pageGone() {
				return true
			}
			if e.Frame != nil && e.Frame.ParentID == "" {
				r.currentURL.Store(e.Frame.URL)
				r.schedulePreview("nav")
			}
			return false
		})()
	}()

	// Load events also refresh the preview.
	wg.Add(1)
	go func() {
		defer wg.Done()
		pageWithCtx.EachEvent(func(e *proto.PageLoadEventFired) bool {
			if stopRequested() || r.pageGone() {
				return true
			}
			r.schedulePreview("load")
			return false
		})()
	}()

	return cleanup, nil
}

// onConsole records console error and warning messages.
func (r *Runner) onConsole(e *proto.RuntimeConsoleAPICalled) {
	var severity types.Severity
	switch e.Type {
	case proto.RuntimeConsoleAPICalledTypeError:
		severity = types.SeverityError
	case proto.RuntimeConsoleAPICalledTypeWarning:
		severity = types.SeverityWarning
	default:
		return
	}

	location := ""
	if e.StackTrace != nil && len(e.StackTrace.CallFrames) > 0 {
		location = e.StackTrace.CallFrames[0].URL
	}

	r.state.addConsoleError(types.ConsoleError{
		Message:   formatConsoleArgs(e.Args),
		Location:  location,
		PageURL:   r.pageURL(),
		Severity:  severity,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// onPageError records uncaught exceptions as console errors.
func (r *Runner) onPageError(e *proto.RuntimeExceptionThrown) {
	message := ""
	stack := ""
	if e.ExceptionDetails != nil {
		message = e.ExceptionDetails.Text
		if e.ExceptionDetails.Exception != nil && e.ExceptionDetails.Exception.Description != "" {
			message = e.ExceptionDetails.Exception.Description
			stack = e.ExceptionDetails.Exception.Description
		}
	}

	r.state.addConsoleError(types.ConsoleError{
		Message:   message,
		PageURL:   r.pageURL(),
		Severity:  types.SeverityError,
		Stack:     stack,
		Timestamp: time.Now().UTC().Format(time.RFC3339),
	})
}

// onRequest counts the request and remembers its start time keyed by URL
// (last write wins on duplicate URLs).
func (r *Runner) onRequest(e *proto.NetworkRequestWillBeSent) {
	r.state.incTotalRequests()

	r.timingMu.Lock()
	r.requestStart[e.Request.URL] = time.Now()
	r.requestMeta[e.RequestID] = requestMeta{
		url:          e.Request.URL,
		method:       e.Request.Method,
		resourceType: string(e.Type),
	}
	r.timingMu.Unlock()
}

// onResponse derives failure, latency, and size findings from a response.
func (r *Runner) onResponse(e *proto.NetworkResponseReceived) {
	if e.Response == nil {
		return
	}
	url := e.Response.URL
	now := time.Now()

	r.timingMu.Lock()
	start, known := r.requestStart[url]
	meta := r.requestMeta[e.RequestID]
	r.timingMu.Unlock()

	var duration time.Duration
	if known {
		duration = now.Sub(start)
	}

	method := meta.method
	if method == "" {
		method = "GET"
	}

	// The latest main-document status is what navigation outcomes report.
	if e.Type == proto.NetworkResourceTypeDocument {
		r.docStatus.Store(int64(e.Response.Status))
	}

	if e.Response.Status >= 400 {
		r.state.addNetworkFailure(types.NetworkFailure{
			URL:          url,
			Method:       method,
			Status:       e.Response.Status,
			DurationMs:   float64(duration.Milliseconds()),
			PageURL:      r.pageURL(),
			ResourceType: string(e.Type),
		})
	}

	if duration > slowEndpointThreshold {
		r.state.addSlowEndpoint(types.SlowEndpoint{
			URL:        url,
			Method:     method,
			DurationMs: float64(duration.Milliseconds()),
			Status:     e.Response.Status,
		})
	}

	if size, ok := contentLength(e.Response.Headers); ok && size > largeAssetBytes {
		r.state.addLargeAsset(types.LargeAsset{
			URL:       url,
			SizeBytes: size,
			Type:      headerValue(e.Response.Headers, "Content-Type", "unknown"),
			PageURL:   r.pageURL(),
		})
	}
}

// onRequestFailed records transport-level failures (connection, DNS, abort).
func (r *Runner) onRequestFailed(e *proto.NetworkLoadingFailed) {
	r.timingMu.Lock()
	meta := r.requestMeta[e.RequestID]
	r.timingMu.Unlock()

	if meta.url == "" {
		return
	}

	method := meta.method
	if method == "" {
		method = "GET"
	}

	r.state.addNetworkFailure(types.NetworkFailure{
		URL:          meta.url,
		Method:       method,
		Error:        e.ErrorText,
		PageURL:      r.pageURL(),
		ResourceType: meta.resourceType,
	})
}

// formatConsoleArgs renders console call arguments into one message string.
func formatConsoleArgs(args []*proto.RuntimeRemoteObject) string {
	out := ""
	for i, a := range args {
		if i > 0 {
			out += " "
		}
		out += formatRemoteObject(a)
	}
	return out
}

// formatRemoteObject renders a single remote object for logging.
func formatRemoteObject(o *proto.RuntimeRemoteObject) string {
	if o == nil {
		return ""
	}
	if o.Type == proto.RuntimeRemoteObjectTypeString {
		return o.Value.Str()
	}
	if o.Description != "" {
		return o.Description
	}
	return o.Value.String()
}

// contentLength parses the Content-Length response header, if present.
func contentLength(headers proto.NetworkHeaders) (int64, bool) {
	raw := headerValue(headers, "Content-Length", "")
	if raw == "" {
		return 0, false
	}
	size, err := strconv.ParseInt(raw, 10, 64)
	if err != nil {
		return 0, false
	}
	return size, true
}

// headerValue looks up a response header case-insensitively across the
// common casings CDP emits.
func headerValue(headers proto.NetworkHeaders, name, fallback string) string {
	if v, ok := headers[name]; ok {
		return v.Str()
	}
	for k, v := range headers {
		if strings.EqualFold(k, name) {
			return v.Str()
		}
	}
	return fallback
}
