package handlers

import "net/http"

// Routes returns the API mux. Method-qualified patterns keep the routing
// table declarative; rate limiting, CORS, and request ids are layered on by
// the middleware chain in the composition root.
func (h *Handler) Routes() *http.ServeMux {
	mux := http.NewServeMux()

	mux.HandleFunc("GET /health", h.handleHealth)

	mux.HandleFunc("POST /api/sessions/start", h.handleSessionStart)
	mux.HandleFunc("GET /api/sessions/{id}/open-login", h.handleOpenLogin)
	mux.HandleFunc("POST /api/sessions/{id}/mark-logged-in", h.handleMarkLoggedIn)

	mux.HandleFunc("POST /api/audits/run", h.handleAuditRun)
	mux.HandleFunc("GET /api/audits/{id}/status", h.handleAuditStatus)
	mux.HandleFunc("GET /api/audits/{id}/preview.jpg", h.handleAuditPreview)
	mux.HandleFunc("GET /api/audits/{id}/result", h.handleAuditResult)
	mux.HandleFunc("GET /api/audits/{id}/pdf", h.handleAuditPDF)
	mux.HandleFunc("GET /api/audits/{id}/evidence.zip", h.handleAuditEvidence)

	return mux
}
