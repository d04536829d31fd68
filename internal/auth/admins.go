package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/eteran/meshvault/internal/database"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"golang.org/x/crypto/bcrypt"
)

var (
	ErrExists             = errors.New("admin already exists")
	ErrInvalid            = errors.New("all fields are required")
	ErrInvalidCredentials = errors.New("invalid credentials")
)

// Admin is a registered console administrator.
type Admin struct {
	ID           string    `db:"id" json:"id"`
	Name         string    `db:"name" json:"name"`
	Email        string    `db:"email" json:"email"`
	PasswordHash string    `db:"password_hash" json:"-"`
	CreatedAt    time.Time `db:"created_at" json:"createdAt"`
}

// Admins stores administrator accounts with bcrypt password hashes.
type Admins struct {
	db   *sqlx.DB
	cost int
}

func NewAdmins(db *sqlx.DB) *Admins {
	return &Admins{db: db, cost: bcrypt.DefaultCost}
}

// WithCost returns a copy using the given bcrypt cost. Tests use
// bcrypt.MinCost to stay fast.
func (a *Admins) WithCost(cost int) *Admins {
	return &Admins{db: a.db, cost: cost}
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}

func (a *Admins) Register(ctx context.Context, name string, email string, password string) (Admin, error) {
	name = strings.TrimSpace(name)
	email = normalizeEmail(email)
	if name == "" || email == "" || password == "" {
		return Admin{}, ErrInvalid
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), a.cost)
	if err != nil {
		return Admin{}, fmt.Errorf("hash password: %w", err)
	}

	admin := Admin{
		ID:           uuid.NewString(),
		Name:         name,
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    time.Now().UTC(),
	}

	err = database.WithTransaction(ctx, a.db, func(tx *sqlx.Tx) error {
		var existing int
		err := tx.GetContext(ctx, &existing, tx.Rebind(`SELECT COUNT(*) FROM admins WHERE email = ?`), email)
		if err != nil {
			return fmt.Errorf("lookup admin: %w", err)
		}
		if existing > 0 {
			return fmt.Errorf("%w: %s", ErrExists, email)
		}

		_, err = tx.NamedExecContext(ctx,
			`INSERT INTO admins(id, name, email, password_hash, created_at)
			 VALUES(:id, :name, :email, :password_hash, :created_at)`,
			admin,
		)
		if err != nil {
			// The unique index still catches a concurrent registration.
			if strings.Contains(strings.ToLower(err.Error()), "unique") {
				return fmt.Errorf("%w: %s", ErrExists, email)
			}
			return fmt.Errorf("insert admin: %w", err)
		}
		return nil
	})
	if err != nil {
		return Admin{}, err
	}

	return admin, nil
}

// Authenticate checks the password and returns the matching admin.
func (a *Admins) Authenticate(ctx context.Context, email string, password string) (Admin, error) {
	var admin Admin
	err := a.db.GetContext(ctx, &admin,
		a.db.Rebind(`SELECT id, name, email, password_hash, created_at FROM admins WHERE email = ?`),
		normalizeEmail(email),
	)
	if errors.Is(err, sql.ErrNoRows) {
		return Admin{}, ErrInvalidCredentials
	}
	if err != nil {
		return Admin{}, fmt.Errorf("lookup admin: %w", err)
	}

	if err := bcrypt.CompareHashAndPassword([]byte(admin.PasswordHash), []byte(password)); err != nil {
		return Admin{}, ErrInvalidCredentials
	}

	return admin, nil
}

// Count returns the number of registered admins.
func (a *Admins) Count(ctx context.Context) (int, error) {
	var n int
	if err := a.db.GetContext(ctx, &n, `SELECT COUNT(*) FROM admins`); err != nil {
		return 0, fmt.Errorf("count admins: %w", err)
	}
	return n, nil
}
