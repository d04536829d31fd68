package auth

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
)

const (
	BearerPrefix    = "Bearer "
	DefaultTokenTTL = time.Hour
	tokenIssuer     = "meshvault"
)

var ErrInvalidToken = errors.New("invalid token")

type tokenClaims struct {
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// TokenEngine issues and verifies HS256 bearer tokens for admins.
type TokenEngine struct {
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

func NewTokenEngine(secret string, ttl time.Duration) *TokenEngine {
	if ttl <= 0 {
		ttl = DefaultTokenTTL
	}
	return &TokenEngine{secret: []byte(secret), ttl: ttl, now: time.Now}
}

// Issue signs a token whose subject is the admin's id.
func (e *TokenEngine) Issue(admin Admin) (string, error) {
	now := e.now().UTC()
	claims := tokenClaims{
		Name:  admin.Name,
		Email: admin.Email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   admin.ID,
			ID:        uuid.NewString(),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(e.ttl)),
		},
	}

	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(e.secret)
}

// Parse validates the signature and expiry of raw.
func (e *TokenEngine) Parse(raw string) (*User, error) {
	var claims tokenClaims
	token, err := jwt.ParseWithClaims(raw, &claims, func(*jwt.Token) (any, error) {
		return e.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithIssuer(tokenIssuer),
		jwt.WithTimeFunc(e.now),
	)
	if err != nil {
		return nil, errors.Join(ErrInvalidToken, err)
	}
	if !token.Valid || claims.Subject == "" {
		return nil, ErrInvalidToken
	}

	return &User{ID: claims.Subject, Name: claims.Name, Email: claims.Email}, nil
}

func (e *TokenEngine) AuthenticateRequest(ctx context.Context, r *http.Request) (*User, error) {
	header := r.Header.Get("Authorization")
	if !strings.HasPrefix(header, BearerPrefix) {
		return nil, nil
	}

	user, err := e.Parse(strings.TrimSpace(header[len(BearerPrefix):]))
	if err != nil {
		return nil, err
	}
	return user, nil
}
