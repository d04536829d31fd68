package server

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strings"

	"github.com/eteran/meshvault/internal/catalog"
	"github.com/eteran/meshvault/internal/ledger"
	"github.com/eteran/meshvault/internal/media"
	"github.com/eteran/meshvault/internal/ui"
)

// mediaRoutes holds what differs between the model and thumbnail endpoints.
type mediaRoutes struct {
	server     *Server
	service    *media.Service
	path       string
	noun       string
	envelope   string
	fileFields []string
	accept     string
}

func (s *Server) mediaRoutes(kind ledger.Kind) mediaRoutes {
	if kind == ledger.KindThumbnail {
		return mediaRoutes{
			server:     s,
			service:    s.thumbnails,
			path:       "thumbnails",
			noun:       "Thumbnail",
			envelope:   "thumbnail",
			fileFields: []string{"file", "imageFile"},
			accept:     "image/*",
		}
	}

	return mediaRoutes{
		server:     s,
		service:    s.models,
		path:       "models",
		noun:       "Model",
		envelope:   "data",
		fileFields: []string{"file", "modelFile"},
		accept:     ".glb,.gltf",
	}
}

func (m mediaRoutes) notFound() string {
	return m.noun + " not found"
}

// upload is a parsed multipart upload. Close releases any temporary files
// the form spilled to disk.
type upload struct {
	catalogEntryID string
	fileName       string
	file           multipart.File
	form           *multipart.Form
}

func (u *upload) Close() {
	if u.file != nil {
		_ = u.file.Close()
	}
	if u.form != nil {
		if err := u.form.RemoveAll(); err != nil {
			slog.Debug("Remove multipart temp files", "err", err)
		}
	}
}

// parseUpload reads the multipart form. Files beyond the configured memory
// limit are spooled to disk by the standard library, so request size does
// not bound memory use. A missing file leaves u.file nil.
func (m mediaRoutes) parseUpload(r *http.Request) (*upload, error) {
	err := r.ParseMultipartForm(m.server.cfg.MaxUploadMemory)
	if errors.Is(err, http.ErrNotMultipart) {
		return &upload{}, nil
	}
	if err != nil {
		return nil, err
	}

	u := &upload{form: r.MultipartForm}
	for _, field := range []string{"catalogEntryId", "assetId"} {
		if v := r.FormValue(field); v != "" {
			u.catalogEntryID = v
			break
		}
	}

	for _, field := range m.fileFields {
		file, header, err := r.FormFile(field)
		if errors.Is(err, http.ErrMissingFile) {
			continue
		}
		if err != nil {
			u.Close()
			return nil, err
		}
		u.file = file
		u.fileName = header.Filename
		break
	}

	return u, nil
}

func (m mediaRoutes) handleUpload(w http.ResponseWriter, r *http.Request) {
	u, err := m.parseUpload(r)
	if err != nil {
		slog.Warn("Read upload", "kind", m.service.Kind(), "err", err)
		writeError(w, http.StatusBadRequest, "Malformed upload")
		return
	}
	defer u.Close()

	if u.file == nil {
		writeError(w, http.StatusBadRequest, "No file uploaded")
		return
	}

	entry, err := m.service.Upload(r.Context(), media.UploadRequest{
		CatalogEntryID: u.catalogEntryID,
		FileName:       u.fileName,
		Content:        u.file,
	})
	if err != nil {
		writeServiceError(w, r, err, m.notFound())
		return
	}

	writeJSON(w, http.StatusCreated, map[string]any{
		"message":  m.noun + " uploaded successfully",
		m.envelope: entry,
	})
}

func (m mediaRoutes) handleReplace(w http.ResponseWriter, r *http.Request) {
	u, err := m.parseUpload(r)
	if err != nil {
		slog.Warn("Read upload", "kind", m.service.Kind(), "err", err)
		writeError(w, http.StatusBadRequest, "Malformed upload")
		return
	}
	defer u.Close()

	req := media.ReplaceRequest{
		ID:       r.PathValue("id"),
		FileName: u.fileName,
	}
	// A nil io.Reader inside a non-nil interface would slip past validation.
	if u.file != nil {
		req.Content = u.file
	}

	entry, err := m.service.Replace(r.Context(), req)
	if err != nil {
		writeServiceError(w, r, err, m.notFound())
		return
	}

	writeJSON(w, http.StatusOK, map[string]any{
		"message":  m.noun + " replaced successfully",
		m.envelope: entry,
	})
}

func (m mediaRoutes) handleGet(w http.ResponseWriter, r *http.Request) {
	entry, err := m.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err, m.notFound())
		return
	}
	writeJSON(w, http.StatusOK, entry)
}

func (m mediaRoutes) handleDelete(w http.ResponseWriter, r *http.Request) {
	if err := m.service.DeleteByID(r.Context(), r.PathValue("id")); err != nil {
		writeServiceError(w, r, err, m.notFound())
		return
	}
	writeJSON(w, http.StatusOK, messageResponse{Message: m.noun + " deleted successfully"})
}

// expandedEntry is a ledger entry with its owning catalog entry inlined.
type expandedEntry struct {
	ledger.Entry
	CatalogEntry *catalog.Asset `json:"catalogEntry"`
}

func (s *Server) handleList(m mediaRoutes) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()

		catalogEntryID := q.Get("catalogEntryId")
		if catalogEntryID == "" {
			catalogEntryID = q.Get("assetId")
		}

		var (
			entries []ledger.Entry
			err     error
		)
		if catalogEntryID != "" {
			entries, err = m.service.ListByCatalogEntryID(r.Context(), catalogEntryID)
		} else {
			entries, err = m.service.List(r.Context())
		}
		if err != nil {
			writeServiceError(w, r, err, m.notFound())
			return
		}

		if q.Get("expand") != "catalog" {
			writeJSON(w, http.StatusOK, entries)
			return
		}

		ids := make([]string, 0, len(entries))
		for _, entry := range entries {
			ids = append(ids, entry.CatalogEntryID)
		}
		assets, err := s.catalog.GetMany(r.Context(), ids)
		if err != nil {
			writeServiceError(w, r, err, m.notFound())
			return
		}

		expanded := make([]expandedEntry, 0, len(entries))
		for _, entry := range entries {
			e := expandedEntry{Entry: entry}
			if asset, ok := assets[entry.CatalogEntryID]; ok {
				e.CatalogEntry = &asset
			}
			expanded = append(expanded, e)
		}
		writeJSON(w, http.StatusOK, expanded)
	}
}

// attachmentName strips characters that would break out of a quoted
// Content-Disposition parameter.
func attachmentName(name string) string {
	return strings.Map(func(r rune) rune {
		if r == '"' || r == '\\' || r < 0x20 || r == 0x7f {
			return '_'
		}
		return r
	}, name)
}

func (m mediaRoutes) handleStream(w http.ResponseWriter, r *http.Request, download bool) {
	content, err := m.service.StreamByID(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err, m.notFound())
		return
	}
	defer content.Reader.Close()

	if download {
		w.Header().Set("Content-Type", media.ContentTypeBinary)
		w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", attachmentName(content.FileName)))
	} else {
		w.Header().Set("Content-Type", content.ContentType)
	}
	w.Header().Set("Last-Modified", content.Entry.UpdatedAt.UTC().Format(http.TimeFormat))

	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, content.Reader); err != nil {
		// Usually the client went away; there is nothing left to retry.
		slog.Debug("Stream aborted", "kind", m.service.Kind(), "id", content.Entry.ID, "err", err)
	}
}

func (m mediaRoutes) handleUploadForm(w http.ResponseWriter, r *http.Request) {
	target := ui.UploadTarget{
		Title:  "Upload " + strings.ToLower(m.noun),
		Action: "/" + m.path,
		Accept: m.accept,
	}
	render(w, r, ui.UploadForm(target))
}

func (m mediaRoutes) handleViewer(w http.ResponseWriter, r *http.Request) {
	entry, err := m.service.Get(r.Context(), r.PathValue("id"))
	if err != nil {
		writeServiceError(w, r, err, m.notFound())
		return
	}

	render(w, r, ui.ViewerPage(ui.Viewer{
		ID:             entry.ID,
		FileName:       entry.OriginalFileName,
		CatalogEntryID: entry.CatalogEntryID,
		ViewURL:        "/" + m.path + "/view/" + entry.ID,
		DownloadURL:    "/" + m.path + "/download/" + entry.ID,
	}))
}
