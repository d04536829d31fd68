package server

import (
	"log/slog"
	"net/http"
	"strconv"
	"time"

	"github.com/eteran/meshvault/internal/media"

	"github.com/a-h/templ"
)

type reconcileResponse struct {
	Reports []media.ReconcileReport `json:"reports"`
}

// handleReconcile runs a sweep over both kinds. Query parameters: dryRun
// (bool) and grace (a Go duration such as "30m").
func (s *Server) handleReconcile(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()

	var opts media.ReconcileOptions
	if v := q.Get("dryRun"); v != "" {
		dryRun, err := strconv.ParseBool(v)
		if err != nil {
			writeError(w, http.StatusBadRequest, "dryRun must be a boolean")
			return
		}
		opts.DryRun = dryRun
	}
	if v := q.Get("grace"); v != "" {
		grace, err := time.ParseDuration(v)
		if err != nil || grace <= 0 {
			writeError(w, http.StatusBadRequest, "grace must be a positive duration")
			return
		}
		opts.GracePeriod = grace
	}

	reports, err := s.Reconcile(r.Context(), opts)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	writeJSON(w, http.StatusOK, reconcileResponse{Reports: reports})
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	if err := s.db.PingContext(r.Context()); err != nil {
		slog.Error("Health check", "err", err)
		http.Error(w, "database unavailable", http.StatusServiceUnavailable)
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	_, _ = w.Write([]byte("ok"))
}

func render(w http.ResponseWriter, r *http.Request, c templ.Component) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	if err := c.Render(r.Context(), w); err != nil {
		slog.Error("Render page", "url", r.URL.String(), "err", err)
	}
}
