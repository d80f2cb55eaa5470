package gatehttp

import (
	"net/http"

	core "github.com/open-rails/accessgate/core"
)

// AuditEntriesHandler serves the audit ring as JSON, newest last. The
// caller is responsible for gating it behind admin authentication.
func AuditEntriesHandler(audit *core.AuditLog) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		entries, err := audit.Entries(r.Context())
		if err != nil {
			serverErr(w, "audit_read_failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"entries": entries})
	})
}

// AuditClearHandler empties the audit ring.
func AuditClearHandler(audit *core.AuditLog) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if err := audit.Clear(r.Context()); err != nil {
			serverErr(w, "audit_clear_failed")
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"cleared": true})
	})
}
