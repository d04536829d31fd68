package server

import (
	"log/slog"
	"net/http"

	"github.com/eteran/meshvault/internal/catalog"
)

type assetResponse struct {
	Message string        `json:"message,omitempty"`
	Asset   catalog.Asset `json:"asset"`
}

type assetsResponse struct {
	Assets []catalog.Asset `json:"assets"`
}

func (s *Server) handleCreateAsset(w http.ResponseWriter, r *http.Request) {
	var in catalog.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	asset, err := s.catalog.Create(r.Context(), in)
	if err != nil {
		writeServiceError(w, r, err, "Asset not found")
		return
	}

	writeJSON(w, http.StatusCreated, assetResponse{Message: "3D asset created successfully", Asset: asset})
}

func (s *Server) handleListAssets(w http.ResponseWriter, r *http.Request) {
	assets, err := s.catalog.List(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "Asset not found")
		return
	}
	writeJSON(w, http.StatusOK, assetsResponse{Assets: assets})
}

func (s *Server) handleGetAsset(w http.ResponseWriter, r *http.Request) {
	asset, err := s.catalog.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err, "Asset not found")
		return
	}
	writeJSON(w, http.StatusOK, assetResponse{Asset: asset})
}

func (s *Server) handleUpdateAsset(w http.ResponseWriter, r *http.Request) {
	var in catalog.Input
	if !decodeJSON(w, r, &in) {
		return
	}

	asset, err := s.catalog.Update(r.Context(), r.PathValue("id"), in)
	if err != nil {
		writeServiceError(w, r, err, "Asset not found")
		return
	}

	writeJSON(w, http.StatusOK, assetResponse{Message: "3D asset updated successfully", Asset: asset})
}

// handleDeleteAsset removes the catalog entry first so no new uploads can
// attach to it, then deletes every model and thumbnail it owned.
func (s *Server) handleDeleteAsset(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	if err := s.catalog.Delete(r.Context(), id); err != nil {
		writeServiceError(w, r, err, "Asset not found")
		return
	}

	models, err := s.models.DeleteAllForCatalogEntry(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "Asset not found")
		return
	}
	thumbnails, err := s.thumbnails.DeleteAllForCatalogEntry(r.Context(), id)
	if err != nil {
		writeServiceError(w, r, err, "Asset not found")
		return
	}

	slog.Info("Deleted asset", "id", id, "models", models, "thumbnails", thumbnails)
	writeJSON(w, http.StatusOK, messageResponse{Message: "3D asset deleted successfully"})
}
