// Package auth provides clinic account management and JWT bearer
// authentication for the API surface.
package auth

import (
	"context"
	"errors"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"

	"github.com/linnemanlabs/go-core/log"
)

// Roles assigned to accounts. Signup creates nurse accounts; admin accounts
// are provisioned out of band.
const (
	RoleNurse = "nurse"
	RoleAdmin = "admin"
)

var (
	// ErrExists is returned when a username is already taken.
	ErrExists = errors.New("username already exists")
	// ErrNotFound is returned when no account matches.
	ErrNotFound = errors.New("user not found")
	// ErrInvalidCredentials is returned on any authentication failure. It
	// deliberately does not distinguish unknown users from wrong passwords.
	ErrInvalidCredentials = errors.New("incorrect credentials")
)

// User is one clinic account. PasswordHash never serializes.
type User struct {
	ID           string    `json:"id"`
	Username     string    `json:"username"`
	ClinicName   string    `json:"clinic_name,omitempty"`
	Role         string    `json:"role"`
	CreatedAt    time.Time `json:"created_at"`
	PasswordHash string    `json:"-"`
}

// Store is the persistence interface for accounts.
type Store interface {
	// Create persists a new account, or returns ErrExists.
	Create(ctx context.Context, u *User) error
	// GetByUsername returns an account, or ErrNotFound.
	GetByUsername(ctx context.Context, username string) (*User, error)
}

// Service handles signup and login. When a username has no account, login
// falls back to the shared clinic password and mints a nurse session; this
// keeps field stations usable before individual accounts exist.
type Service struct {
	store          Store
	issuer         *Issuer
	clinicPassword string
	logger         log.Logger
}

// NewService creates the auth service. clinicPassword may be empty to
// disable the shared-password fallback.
func NewService(store Store, issuer *Issuer, clinicPassword string, logger log.Logger) *Service {
	if logger == nil {
		logger = log.Nop()
	}
	return &Service{store: store, issuer: issuer, clinicPassword: clinicPassword, logger: logger}
}

// Signup creates a nurse account with a bcrypt-hashed password.
func (s *Service) Signup(ctx context.Context, username, password, clinicName string) (*User, error) {
	username = strings.TrimSpace(username)
	if username == "" {
		return nil, errors.New("username is required")
	}
	if len(password) < 8 {
		return nil, errors.New("password must be at least 8 characters")
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcrypt.DefaultCost)
	if err != nil {
		return nil, err
	}
	u := &User{
		Username:     username,
		ClinicName:   strings.TrimSpace(clinicName),
		Role:         RoleNurse,
		CreatedAt:    time.Now().UTC(),
		PasswordHash: string(hash),
	}
	if err := s.store.Create(ctx, u); err != nil {
		return nil, err
	}
	s.logger.Info(ctx, "account created", "username", username)
	return u, nil
}

// Login verifies credentials and returns a signed session token. The users
// table wins; the shared clinic password is consulted only when the username
// has no account.
func (s *Service) Login(ctx context.Context, username, password string) (string, error) {
	username = strings.TrimSpace(username)
	u, err := s.store.GetByUsername(ctx, username)
	switch {
	case err == nil:
		if bcrypt.CompareHashAndPassword([]byte(u.PasswordHash), []byte(password)) != nil {
			return "", ErrInvalidCredentials
		}
		return s.issuer.Issue(u.Username, u.Role)
	case errors.Is(err, ErrNotFound):
		if s.clinicPassword != "" && password == s.clinicPassword {
			s.logger.Info(ctx, "shared clinic password login", "username", username)
			return s.issuer.Issue(username, RoleNurse)
		}
		return "", ErrInvalidCredentials
	default:
		return "", err
	}
}

// Me returns the account for a verified session subject.
func (s *Service) Me(ctx context.Context, username string) (*User, error) {
	return s.store.GetByUsername(ctx, username)
}
