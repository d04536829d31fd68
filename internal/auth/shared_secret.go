package auth

import (
	"context"
	"crypto/subtle"
	"net/http"
)

const (
	AdminSecretHeader = "X-Admin-Secret"
	SharedSecretUser  = "admin"
)

// SharedSecretEngine accepts requests that present the configured secret,
// either as the password of HTTP basic auth or in the X-Admin-Secret header.
// An empty secret disables the engine.
type SharedSecretEngine struct {
	secret string
}

func NewSharedSecretEngine(secret string) *SharedSecretEngine {
	return &SharedSecretEngine{secret: secret}
}

func (e *SharedSecretEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	if e.secret == "" {
		return nil, nil
	}

	candidate := r.Header.Get(AdminSecretHeader)
	if candidate == "" {
		_, pass, ok := r.BasicAuth()
		if !ok {
			return nil, nil
		}
		candidate = pass
	}

	if subtle.ConstantTimeCompare([]byte(candidate), []byte(e.secret)) != 1 {
		return nil, nil
	}

	return &User{ID: SharedSecretUser, Name: SharedSecretUser}, nil
}
