// Package session owns the operator's authentication state. The state lives
// in a Store under fixed keys and is handed to components explicitly.
package session

import (
	"context"
	"errors"
	"fmt"
	"strconv"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog/log"

	"github.com/chrisdamba/venuesim/internal/models"
)

const (
	KeyAuthenticated = "isAuthenticated"
	KeyRole          = "userRole"
	KeyEmail         = "userEmail"
	KeyDutyStatus    = "dutyStatus"
)

var (
	ErrUnauthenticated = errors.New("not authenticated")
	ErrForbidden       = errors.New("insufficient role")
)

type Principal struct {
	Email         string `json:"email"`
	Role          string `json:"role"`
	DutyStatus    string `json:"dutyStatus,omitempty"`
	Authenticated bool   `json:"authenticated"`
}

// Credentials is the login form. Passwords are checked for presence only.
type Credentials struct {
	Email    string `json:"email" validate:"required,email"`
	Password string `json:"password" validate:"required"`
	Role     string `json:"role" validate:"omitempty,oneof=admin security"`
}

type Registration struct {
	Name            string `json:"name" validate:"required"`
	Email           string `json:"email" validate:"required,email"`
	Password        string `json:"password" validate:"required,min=8"`
	ConfirmPassword string `json:"confirmPassword" validate:"required,eqfield=Password"`
	Role            string `json:"role" validate:"omitempty,oneof=admin security"`
}

type DutyUpdate struct {
	Status string `json:"status" validate:"required,oneof=available busy off"`
}

type Options struct {
	DefaultRole       string
	DefaultDutyStatus string
}

type Session struct {
	store    Store
	tokens   *TokenIssuer
	validate *validator.Validate
	opts     Options
}

func New(store Store, tokens *TokenIssuer, opts Options) *Session {
	if opts.DefaultRole == "" {
		opts.DefaultRole = models.RoleSecurity
	}
	if opts.DefaultDutyStatus == "" {
		opts.DefaultDutyStatus = models.DutyAvailable
	}
	return &Session{store: store, tokens: tokens, validate: validator.New(), opts: opts}
}

// Login validates the form, records the principal and returns a bearer token.
// Nothing is written when validation fails.
func (s *Session) Login(ctx context.Context, creds Credentials) (Principal, string, error) {
	if err := s.validate.Struct(creds); err != nil {
		return Principal{}, "", fmt.Errorf("invalid login: %w", err)
	}
	return s.signIn(ctx, creds.Email, creds.Role)
}

// Register behaves like Login once the registration form is valid.
func (s *Session) Register(ctx context.Context, reg Registration) (Principal, string, error) {
	if err := s.validate.Struct(reg); err != nil {
		return Principal{}, "", fmt.Errorf("invalid registration: %w", err)
	}
	return s.signIn(ctx, reg.Email, reg.Role)
}

func (s *Session) signIn(ctx context.Context, email, role string) (Principal, string, error) {
	if role == "" {
		role = s.opts.DefaultRole
	}
	p := Principal{Email: email, Role: role, DutyStatus: s.opts.DefaultDutyStatus, Authenticated: true}

	token, err := s.tokens.Issue(p)
	if err != nil {
		return Principal{}, "", err
	}
	for _, kv := range [][2]string{
		{KeyEmail, p.Email},
		{KeyRole, p.Role},
		{KeyDutyStatus, p.DutyStatus},
		{KeyAuthenticated, strconv.FormatBool(true)},
	} {
		if err := s.store.Set(ctx, kv[0], kv[1]); err != nil {
			return Principal{}, "", err
		}
	}
	log.Info().Str("component", "session").Str("email", p.Email).Str("role", p.Role).Msg("signed in")
	return p, token, nil
}

func (s *Session) Logout(ctx context.Context) error {
	return s.store.Delete(ctx, KeyAuthenticated, KeyRole, KeyEmail, KeyDutyStatus)
}

// Current returns the signed-in principal or ErrUnauthenticated.
func (s *Session) Current(ctx context.Context) (Principal, error) {
	raw, ok, err := s.store.Get(ctx, KeyAuthenticated)
	if err != nil {
		return Principal{}, err
	}
	if authenticated, _ := strconv.ParseBool(raw); !ok || !authenticated {
		return Principal{}, ErrUnauthenticated
	}

	p := Principal{Authenticated: true}
	if p.Email, _, err = s.store.Get(ctx, KeyEmail); err != nil {
		return Principal{}, err
	}
	if p.Role, _, err = s.store.Get(ctx, KeyRole); err != nil {
		return Principal{}, err
	}
	if p.DutyStatus, _, err = s.store.Get(ctx, KeyDutyStatus); err != nil {
		return Principal{}, err
	}
	return p, nil
}

func (s *Session) SetDutyStatus(ctx context.Context, update DutyUpdate) (Principal, error) {
	if err := s.validate.Struct(update); err != nil {
		return Principal{}, fmt.Errorf("invalid duty status: %w", err)
	}
	p, err := s.Current(ctx)
	if err != nil {
		return Principal{}, err
	}
	if err := s.store.Set(ctx, KeyDutyStatus, update.Status); err != nil {
		return Principal{}, err
	}
	p.DutyStatus = update.Status
	return p, nil
}

// Authorize checks a bearer token against the stored session. A token
// outlives neither a logout nor a later sign-in by someone else.
func (s *Session) Authorize(ctx context.Context, token string) (Principal, error) {
	claimed, err := s.tokens.Parse(token)
	if err != nil {
		return Principal{}, err
	}
	current, err := s.Current(ctx)
	if err != nil {
		return Principal{}, err
	}
	if current.Email != claimed.Email || current.Role != claimed.Role {
		return Principal{}, fmt.Errorf("%w: token does not match the active session", ErrUnauthenticated)
	}
	return current, nil
}

// RequireRole returns the current principal if it holds one of roles.
func (s *Session) RequireRole(ctx context.Context, roles ...string) (Principal, error) {
	p, err := s.Current(ctx)
	if err != nil {
		return Principal{}, err
	}
	if err := CheckRole(p, roles...); err != nil {
		return Principal{}, err
	}
	return p, nil
}

func CheckRole(p Principal, roles ...string) error {
	if !p.Authenticated {
		return ErrUnauthenticated
	}
	for _, r := range roles {
		if p.Role == r {
			return nil
		}
	}
	return fmt.Errorf("%w: %s may not perform this action", ErrForbidden, p.Role)
}

func (s *Session) Close() error {
	return s.store.Close()
}
