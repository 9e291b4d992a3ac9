// Package auth signs users in to the comment service and keeps the session.
package auth

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	validation "github.com/go-ozzo/ozzo-validation/v4"
	"github.com/go-ozzo/ozzo-validation/v4/is"

	"github.com/euforicio/docsite/internal/metrics"
	"github.com/euforicio/docsite/internal/waline"
)

var (
	// ErrNotAuthenticated is returned when an operation needs a login.
	ErrNotAuthenticated = errors.New("not authenticated")
	// ErrRefreshUnsupported is always returned by RefreshToken.
	ErrRefreshUnsupported = errors.New("token refresh not supported, please log in again")
)

// Credentials are the email and password of a comment service account.
type Credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
	Remember bool   `json:"remember,omitempty"`
}

// Validate implements validation.Validatable.
func (c Credentials) Validate() error {
	return validation.ValidateStruct(&c,
		validation.Field(&c.Email, validation.Required, is.EmailFormat),
		validation.Field(&c.Password, validation.Required),
	)
}

// ServerConfig identifies the comment service.
type ServerConfig struct {
	ServerURL string `json:"serverURL"`
	Lang      string `json:"lang"`
}

// Client is the part of the comment service client used for login.
type Client interface {
	Login(ctx context.Context, creds waline.Credentials) (waline.User, error)
}

// Service authenticates against the comment service. Logout is local only
// and tokens cannot be refreshed.
type Service struct {
	client  Client
	store   *Store
	metrics *metrics.Metrics
	logger  *slog.Logger
	config  ServerConfig
}

// NewService wires a login client to a session store. m may be nil.
func NewService(client Client, store *Store, cfg ServerConfig, logger *slog.Logger, m *metrics.Metrics) *Service {
	if logger == nil {
		logger = slog.Default()
	}
	return &Service{
		client:  client,
		store:   store,
		metrics: m,
		config:  cfg,
		logger:  logger.With("component", "auth"),
	}
}

// Login signs in once; failures are not retried.
func (s *Service) Login(ctx context.Context, creds Credentials) (waline.User, string, error) {
	user, err := s.login(ctx, creds)
	s.metrics.ObserveLogin(err)
	if err != nil {
		s.logger.Warn("login failed", slog.String("email", creds.Email), slog.Any("err", err))
		return waline.User{}, "", err
	}
	s.logger.Info("logged in", slog.String("email", user.Email), slog.String("role", user.Type))
	return user, user.Token, nil
}

func (s *Service) login(ctx context.Context, creds Credentials) (waline.User, error) {
	if err := creds.Validate(); err != nil {
		return waline.User{}, fmt.Errorf("login failed: %w", err)
	}
	if s.client == nil {
		return waline.User{}, errors.New("login failed: comment server not configured")
	}

	user, err := s.client.Login(ctx, waline.Credentials{
		Email:    creds.Email,
		Password: creds.Password,
		Remember: creds.Remember,
	})
	if err != nil {
		return waline.User{}, fmt.Errorf("login failed: %w", err)
	}
	if user.Token == "" {
		return waline.User{}, fmt.Errorf("login failed: %w", waline.ErrNoToken)
	}
	if err := s.store.SetUser(user, user.Token); err != nil {
		return waline.User{}, fmt.Errorf("login failed: %w", err)
	}
	return user, nil
}

// Logout clears the local session. The comment service is not contacted.
func (s *Service) Logout() error {
	if err := s.store.Clear(); err != nil {
		return fmt.Errorf("logout failed: %w", err)
	}
	s.logger.Info("logged out")
	return nil
}

// ValidateToken reports whether token is usable. The comment service has no
// introspection endpoint, so any non-empty token is accepted.
func (s *Service) ValidateToken(token string) bool {
	return token != ""
}

// RefreshToken always fails with ErrRefreshUnsupported.
func (s *Service) RefreshToken(context.Context) (string, error) {
	return "", ErrRefreshUnsupported
}

// IsAuthenticated reports whether token is present and valid.
func (s *Service) IsAuthenticated(token string) bool {
	return s.ValidateToken(token)
}

// Session returns the stored login.
func (s *Service) Session() State {
	return s.store.State()
}

// Token returns the stored token or ErrNotAuthenticated.
func (s *Service) Token() (string, error) {
	st := s.store.State()
	if !st.LoggedIn || !s.IsAuthenticated(st.Token) {
		return "", ErrNotAuthenticated
	}
	return st.Token, nil
}

// ServerConfig returns a copy of the comment service settings.
func (s *Service) ServerConfig() ServerConfig {
	return s.config
}
