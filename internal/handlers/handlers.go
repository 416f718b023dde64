// Package handlers provides HTTP request handlers for the audit API.
package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"

	"github.com/rs/zerolog/log"

	"github.com/Rorqualx/prodready-go/internal/audit"
	"github.com/Rorqualx/prodready-go/internal/config"
	"github.com/Rorqualx/prodready-go/internal/report"
	"github.com/Rorqualx/prodready-go/internal/security"
	"github.com/Rorqualx/prodready-go/internal/session"
	"github.com/Rorqualx/prodready-go/internal/types"
)

// maxRequestBody bounds JSON request bodies.
const maxRequestBody = 1 << 20

// BrowserDriver is the browser-manager contract the HTTP layer depends on.
type BrowserDriver interface {
	OpenLoginPage(sessionID string) error
	SaveStorageState(sessionID string) error
	CloseContext(sessionID string)
}

// AuditStarter schedules an audit run as a background task.
type AuditStarter interface {
	Start(state *audit.State)
}

// Handler handles all audit API requests.
type Handler struct {
	config   *config.Config
	sessions *session.Manager
	browsers BrowserDriver
	audits   *audit.Manager
	starter  AuditStarter
}

// New creates a new Handler.
func New(cfg *config.Config, sessions *session.Manager, browsers BrowserDriver, audits *audit.Manager, starter AuditStarter) *Handler {
	return &Handler{
		config:   cfg,
		sessions: sessions,
		browsers: browsers,
		audits:   audits,
		starter:  starter,
	}
}

// Request/response bodies.

type sessionStartRequest struct {
	URL string `json:"url"`
}

type sessionStartResponse struct {
	SessionID  string              `json:"session_id"`
	Status     types.SessionStatus `json:"status"`
	TTLMinutes int                 `json:"ttl_minutes"`
	Message    string              `json:"message"`
}

type okResponse struct {
	OK      bool   `json:"ok"`
	Message string `json:"message"`
}

type auditRunRequest struct {
	SessionID string          `json:"session_id"`
	URL       string          `json:"url"`
	Options   json.RawMessage `json:"options,omitempty"`
}

type auditRunResponse struct {
	AuditID string            `json:"audit_id"`
	Status  types.AuditStatus `json:"status"`
	Message string            `json:"message"`
}

type auditStatusResponse struct {
	AuditID         string              `json:"audit_id"`
	Status          types.AuditStatus   `json:"status"`
	Progress        types.AuditProgress `json:"progress"`
	PartialFindings map[string]int      `json:"partial_findings,omitempty"`
	ErrorMessage    string              `json:"error_message,omitempty"`
}

type healthResponse struct {
	Status         string `json:"status"`
	Version        string `json:"version"`
	ActiveSessions int    `json:"active_sessions"`
}

// writeJSON encodes a JSON response body.
func writeJSON(w http.ResponseWriter, statusCode int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		log.Error().Err(err).Msg("Failed to encode response")
	}
}

// writeError encodes the JSON error envelope.
func writeError(w http.ResponseWriter, statusCode int, kind, message string) {
	writeJSON(w, statusCode, map[string]any{
		"error":   kind,
		"message": message,
	})
}

// decodeBody reads and decodes a bounded JSON request body.
func decodeBody(r *http.Request, into any) error {
	defer func() {
		if err := r.Body.Close(); err != nil {
			log.Debug().Err(err).Msg("Error closing request body")
		}
	}()
	data, err := io.ReadAll(io.LimitReader(r.Body, maxRequestBody))
	if err != nil {
		return err
	}
	return json.Unmarshal(data, into)
}

// handleHealth reports service liveness and the active session count.
func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, healthResponse{
		Status:         "healthy",
		Version:        h.config.AppVersion,
		ActiveSessions: h.sessions.ActiveCount(),
	})
}

// handleSessionStart validates the target URL and creates a session.
func (h *Handler) handleSessionStart(w http.ResponseWriter, r *http.Request) {
	var req sessionStartRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "Invalid request body")
		return
	}

	if err := security.ValidateTargetURL(req.URL, h.config.AllowPrivateIPs); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	sess, err := h.sessions.Create(req.URL)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create session")
		writeError(w, http.StatusInternalServerError, "internal", "Failed to create session")
		return
	}

	writeJSON(w, http.StatusOK, sessionStartResponse{
		SessionID:  sess.ID,
		Status:     sess.Status,
		TTLMinutes: h.config.SessionTTLMinutes(),
		Message:    "Session created. Use /api/sessions/{id}/open-login to start manual login.",
	})
}

// handleOpenLogin opens the session's login context.
func (h *Handler) handleOpenLogin(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if _, err := h.sessions.Get(sessionID); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Session not found or expired")
		return
	}

	if err := h.browsers.OpenLoginPage(sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to open login page")
		writeError(w, http.StatusInternalServerError, "internal", fmt.Sprintf("Failed to open browser: %v", err))
		return
	}

	writeJSON(w, http.StatusOK, okResponse{
		OK:      true,
		Message: "Browser window opened. Complete login and click 'I'm logged in' in the UI.",
	})
}

// handleMarkLoggedIn captures the storage state, marks the session
// authenticated, and closes the login context.
func (h *Handler) handleMarkLoggedIn(w http.ResponseWriter, r *http.Request) {
	sessionID := r.PathValue("id")
	if _, err := h.sessions.Get(sessionID); err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Session not found or expired")
		return
	}

	if err := h.browsers.SaveStorageState(sessionID); err != nil {
		log.Error().Err(err).Str("session_id", sessionID).Msg("Failed to save storage state")
		writeError(w, http.StatusInternalServerError, "internal", fmt.Sprintf("Failed to save session: %v", err))
		return
	}

	h.sessions.MarkAuthenticated(sessionID)
	h.browsers.CloseContext(sessionID)

	writeJSON(w, http.StatusOK, okResponse{
		OK:      true,
		Message: "Session authenticated. Ready to run audit.",
	})
}

// handleAuditRun validates preconditions and schedules a background audit.
func (h *Handler) handleAuditRun(w http.ResponseWriter, r *http.Request) {
	var req auditRunRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "validation", "Invalid request body")
		return
	}

	sess, err := h.sessions.Get(req.SessionID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Session not found or expired")
		return
	}
	if !sess.IsAuthenticated {
		writeError(w, http.StatusBadRequest, "precondition", "Session not authenticated. Complete login first.")
		return
	}

	if err := security.ValidateTargetURL(req.URL, h.config.AllowPrivateIPs); err != nil {
		writeError(w, http.StatusBadRequest, "validation", err.Error())
		return
	}

	// Unmarshal onto the defaults so omitted fields keep them while an
	// explicit false still disables accessibility or screenshots.
	options := types.DefaultAuditOptions()
	if len(req.Options) > 0 {
		if err := json.Unmarshal(req.Options, &options); err != nil {
			writeError(w, http.StatusBadRequest, "validation", "Invalid audit options")
			return
		}
		options.Clamp()
	}

	state, err := h.audits.Create(req.SessionID, req.URL, options)
	if err != nil {
		log.Error().Err(err).Msg("Failed to create audit")
		writeError(w, http.StatusInternalServerError, "internal", "Failed to create audit")
		return
	}

	h.starter.Start(state)

	log.Info().
		Str("audit_id", state.AuditID).
		Str("session_id", req.SessionID).
		Msg("Audit scheduled")

	writeJSON(w, http.StatusOK, auditRunResponse{
		AuditID: state.AuditID,
		Status:  types.AuditQueued,
		Message: "Audit started. Poll /api/audits/{id}/status for progress.",
	})
}

// handleAuditStatus reports audit progress and partial finding counts.
func (h *Handler) handleAuditStatus(w http.ResponseWriter, r *http.Request) {
	state, err := h.audits.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Audit not found")
		return
	}

	resp := auditStatusResponse{
		AuditID:      state.AuditID,
		Status:       state.Status(),
		Progress:     state.Progress(),
		ErrorMessage: state.ErrorMessage(),
	}

	consoleCount, networkCount, pagesVisited := state.PartialCounts()
	if consoleCount > 0 || networkCount > 0 {
		resp.PartialFindings = map[string]int{
			"console_errors_count":   consoleCount,
			"network_failures_count": networkCount,
			"pages_visited":          pagesVisited,
		}
	}

	writeJSON(w, http.StatusOK, resp)
}

// handleAuditPreview streams the latest live-preview frame.
func (h *Handler) handleAuditPreview(w http.ResponseWriter, r *http.Request) {
	state, err := h.audits.Get(r.PathValue("id"))
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Audit not found")
		return
	}

	path, _ := state.Preview()
	if path == "" {
		writeError(w, http.StatusNotFound, "not_found", "Preview not ready")
		return
	}

	f, err := os.Open(path)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Preview not ready")
		return
	}
	defer f.Close()

	w.Header().Set("Content-Type", "image/jpeg")
	// The UI polls a stable URL; never let intermediaries cache a stale frame.
	w.Header().Set("Cache-Control", "no-store, no-cache, must-revalidate, max-age=0")
	w.Header().Set("Pragma", "no-cache")
	if _, err := io.Copy(w, f); err != nil {
		log.Debug().Err(err).Msg("Preview stream interrupted")
	}
}

// completedSnapshot fetches an audit and enforces the done precondition
// shared by the result, pdf, and evidence endpoints.
func (h *Handler) completedSnapshot(w http.ResponseWriter, auditID string) (*audit.State, bool) {
	state, err := h.audits.Get(auditID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Audit not found")
		return nil, false
	}

	switch state.Status() {
	case types.AuditDone:
		return state, true
	case types.AuditError:
		writeError(w, http.StatusInternalServerError, "internal",
			fmt.Sprintf("Audit failed: %s", state.ErrorMessage()))
		return nil, false
	default:
		writeError(w, http.StatusBadRequest, "precondition",
			fmt.Sprintf("Audit not complete. Status: %s", state.Status()))
		return nil, false
	}
}

// handleAuditResult serves the full adapted report.
func (h *Handler) handleAuditResult(w http.ResponseWriter, r *http.Request) {
	state, ok := h.completedSnapshot(w, r.PathValue("id"))
	if !ok {
		return
	}

	full := audit.BuildReport(state.Snapshot())
	writeJSON(w, http.StatusOK, audit.AdaptReport(full))
}

// handleAuditPDF streams the report rendered as PDF.
func (h *Handler) handleAuditPDF(w http.ResponseWriter, r *http.Request) {
	auditID := r.PathValue("id")
	state, err := h.audits.Get(auditID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Audit not found")
		return
	}
	if state.Status() != types.AuditDone {
		writeError(w, http.StatusBadRequest, "precondition", "Audit not complete")
		return
	}

	full := audit.BuildReport(state.Snapshot())
	pdfBytes, err := report.GeneratePDF(full)
	if err != nil {
		log.Error().Err(err).Str("audit_id", auditID).Msg("PDF generation failed")
		writeError(w, http.StatusInternalServerError, "internal", "Failed to generate PDF")
		return
	}

	w.Header().Set("Content-Type", "application/pdf")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=audit-report-%s.pdf", shortID(auditID)))
	if _, err := w.Write(pdfBytes); err != nil {
		log.Debug().Err(err).Msg("PDF stream interrupted")
	}
}

// handleAuditEvidence streams the evidence zip bundle.
func (h *Handler) handleAuditEvidence(w http.ResponseWriter, r *http.Request) {
	auditID := r.PathValue("id")
	state, err := h.audits.Get(auditID)
	if err != nil {
		writeError(w, http.StatusNotFound, "not_found", "Audit not found")
		return
	}
	if state.Status() != types.AuditDone {
		writeError(w, http.StatusBadRequest, "precondition", "Audit not complete")
		return
	}

	zipBytes, err := report.CreateEvidenceZip(state.ArtifactsDir(), state.Screenshots())
	if err != nil {
		log.Error().Err(err).Str("audit_id", auditID).Msg("Evidence bundle failed")
		writeError(w, http.StatusInternalServerError, "internal", "Failed to build evidence bundle")
		return
	}

	w.Header().Set("Content-Type", "application/zip")
	w.Header().Set("Content-Disposition",
		fmt.Sprintf("attachment; filename=evidence-%s.zip", shortID(auditID)))
	if _, err := w.Write(zipBytes); err != nil {
		log.Debug().Err(err).Msg("Evidence stream interrupted")
	}
}

// shortID truncates an id for filenames.
func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

// mapError is used by tests to confirm sentinel-to-status mapping stays stable.
func mapError(err error) int {
	switch {
	case errors.Is(err, types.ErrSessionNotFound), errors.Is(err, types.ErrAuditNotFound):
		return http.StatusNotFound
	case errors.Is(err, types.ErrSessionNotAuthenticated), errors.Is(err, types.ErrAuditNotComplete), errors.Is(err, types.ErrInvalidURL):
		return http.StatusBadRequest
	default:
		return http.StatusInternalServerError
	}
}
