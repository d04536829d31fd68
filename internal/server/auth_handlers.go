package server

import (
	"log/slog"
	"net/http"
	"strings"
)

type registerRequest struct {
	Name     string `json:"name"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type tokenResponse struct {
	Message string `json:"message"`
	Token   string `json:"token"`
}

// handleRegister creates an admin account. The first account may be created
// anonymously; after that only an authenticated admin can add more.
func (s *Server) handleRegister(w http.ResponseWriter, r *http.Request) {
	count, err := s.admins.Count(r.Context())
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}
	if count > 0 && !s.authenticated(r) {
		writeError(w, http.StatusUnauthorized, "Unauthorized")
		return
	}

	var req registerRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	admin, err := s.admins.Register(r.Context(), req.Name, req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	token, err := s.tokens.Issue(admin)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	slog.Info("Registered admin", "id", admin.ID, "email", admin.Email)
	writeJSON(w, http.StatusCreated, tokenResponse{Message: "User registered successfully", Token: token})
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	var req loginRequest
	if !decodeJSON(w, r, &req) {
		return
	}

	if strings.TrimSpace(req.Email) == "" || req.Password == "" {
		writeError(w, http.StatusBadRequest, "Email and password are required")
		return
	}

	admin, err := s.admins.Authenticate(r.Context(), req.Email, req.Password)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	token, err := s.tokens.Issue(admin)
	if err != nil {
		writeServiceError(w, r, err, "")
		return
	}

	writeJSON(w, http.StatusOK, tokenResponse{Message: "Login successful", Token: token})
}
