package server

import (
	"net/http"

	"github.com/eteran/meshvault/internal/ledger"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// Handler returns an http.Handler serving the admin console API.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()

	models := s.mediaRoutes(ledger.KindModel)
	thumbnails := s.mediaRoutes(ledger.KindThumbnail)

	for _, m := range []mediaRoutes{models, thumbnails} {
		mux.HandleFunc("POST /"+m.path, m.handleUpload)
		mux.HandleFunc("GET /"+m.path, s.handleList(m))
		mux.HandleFunc("GET /"+m.path+"/upload-form", m.handleUploadForm)
		mux.HandleFunc("GET /"+m.path+"/{id}", m.handleGet)
		mux.HandleFunc("PUT /"+m.path+"/{id}", m.handleReplace)
		mux.HandleFunc("DELETE /"+m.path+"/{id}", m.handleDelete)
		mux.HandleFunc("GET /"+m.path+"/view/{id}", func(w http.ResponseWriter, r *http.Request) {
			m.handleStream(w, r, false)
		})
	}

	mux.HandleFunc("GET /models/download/{id}", func(w http.ResponseWriter, r *http.Request) {
		models.handleStream(w, r, true)
	})
	mux.HandleFunc("GET /models/viewer/{id}", models.handleViewer)

	// Catalog
	mux.HandleFunc("POST /assets", s.handleCreateAsset)
	mux.HandleFunc("GET /assets", s.handleListAssets)
	mux.HandleFunc("GET /assets/{id}", s.handleGetAsset)
	mux.HandleFunc("PUT /assets/{id}", s.handleUpdateAsset)
	mux.HandleFunc("DELETE /assets/{id}", s.handleDeleteAsset)

	// Admin accounts
	mux.HandleFunc("POST /auth/register", s.handleRegister)
	mux.HandleFunc("POST /auth/login", s.handleLogin)

	mux.HandleFunc("POST /admin/reconcile", s.handleReconcile)
	mux.HandleFunc("GET /healthz", s.handleHealth)
	mux.Handle("GET /metrics", promhttp.HandlerFor(s.cfg.Registry, promhttp.HandlerOpts{}))

	return LogRequest(s.metrics, Recoverer(SlashFix(s.RequireAuthentication(mux))))
}
