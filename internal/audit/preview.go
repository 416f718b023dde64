package audit

import (
	"os"
	"path/filepath"
	"time"

	"github.com/go-rod/rod/lib/proto"
)

// Preview sampling constants.
const (
	previewFileName = "preview_latest.jpg"
	previewQuality  = 60
	previewThrottle = time.Second
	previewTimeout  = 5 * time.Second
)

// schedulePreview requests a preview capture without blocking the caller.
// Used from event listeners where capture latency must not stall the crawl.
func (r *Runner) schedulePreview(reason string) {
	go r.capturePreview(reason)
}

// capturePreview writes a viewport-sized JPEG frame of the current page to
// the audit's fixed preview path. Best-effort only: throttled to one frame
// per second and every failure is swallowed.
func (r *Runner) capturePreview(reason string) {
	if r.pageGone() {
		return
	}

	r.previewMu.Lock()
	now := time.Now()
	if now.Sub(r.lastPreview) < previewThrottle {
		r.previewMu.Unlock()
		return
	}
	r.lastPreview = now
	r.previewMu.Unlock()

	quality := previewQuality
	frame, err := r.page.Timeout(previewTimeout).Screenshot(false, &proto.PageCaptureScreenshot{
		Format:  proto.PageCaptureScreenshotFormatJpeg,
		Quality: &quality,
	})
	if err != nil {
		return
	}

	// Atomic replace so a concurrent preview read never sees a torn frame.
	dir := r.state.ArtifactsDir()
	finalPath := filepath.Join(dir, previewFileName)
	tmp, err := os.CreateTemp(dir, "preview_*.jpg.tmp")
	if err != nil {
		return
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(frame); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return
	}
	if err := os.Rename(tmpPath, finalPath); err != nil {
		os.Remove(tmpPath)
		return
	}

	r.state.setPreview(finalPath, now)
}
