// Package service implements sign-up, login and profile lookup.
package service

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"labtrail/internal/access"
	"labtrail/internal/users/models"
	"labtrail/pkg/domain"
	dErrors "labtrail/pkg/domain-errors"
	"labtrail/pkg/platform/sentinel"
	"labtrail/pkg/requestcontext"
)

// Directory is the part of the user service that auth depends on.
type Directory interface {
	Register(ctx context.Context, p models.Profile) (*models.User, error)
}

// UserStore looks users up by credential or id.
type UserStore interface {
	FindByEmail(ctx context.Context, email string) (*models.User, error)
	FindByID(ctx context.Context, id domain.UserID) (*models.User, error)
}

// TokenIssuer mints access tokens.
type TokenIssuer interface {
	GenerateAccessToken(userID domain.UserID, email string, role domain.Role, expiresIn time.Duration) (string, error)
}

type Authorizer interface {
	Check(ctx context.Context, op access.Operation, identity *domain.Identity) error
}

// Session is what a successful register or login returns.
type Session struct {
	AccessToken string       `json:"access_token"`
	TokenType   string       `json:"token_type"`
	ExpiresIn   int64        `json:"expires_in"`
	User        *models.User `json:"user"`
}

type Service struct {
	directory Directory
	users     UserStore
	tokens    TokenIssuer
	guard     Authorizer
	tokenTTL  time.Duration
	logger    *slog.Logger
}

type Option func(*Service)

func WithLogger(logger *slog.Logger) Option {
	return func(s *Service) {
		s.logger = logger
	}
}

func WithTokenTTL(ttl time.Duration) Option {
	return func(s *Service) {
		if ttl > 0 {
			s.tokenTTL = ttl
		}
	}
}

func New(directory Directory, users UserStore, tokens TokenIssuer, guard Authorizer, opts ...Option) *Service {
	s := &Service{
		directory: directory,
		users:     users,
		tokens:    tokens,
		guard:     guard,
		tokenTTL:  24 * time.Hour,
		logger:    slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Register creates an account and signs the new user in.
func (s *Service) Register(ctx context.Context, p models.Profile) (*Session, error) {
	u, err := s.directory.Register(ctx, p)
	if err != nil {
		return nil, err
	}
	return s.issue(ctx, u)
}

// Login exchanges credentials for a token. Unknown emails, wrong passwords and
// deactivated accounts all produce the same error.
func (s *Service) Login(ctx context.Context, email, password string) (*Session, error) {
	invalid := dErrors.New(dErrors.CodeUnauthorized, "Invalid credentials")

	normalized, err := models.NormalizeEmail(email)
	if err != nil || password == "" {
		return nil, invalid
	}
	u, err := s.users.FindByEmail(ctx, normalized)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, invalid
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load user")
	}
	if !u.PasswordMatches(password) || !u.Active {
		s.logger.WarnContext(ctx, "login rejected",
			"user_id", u.ID.String(),
			"request_id", requestcontext.RequestID(ctx),
		)
		return nil, invalid
	}
	return s.issue(ctx, u)
}

// Profile returns the caller's own directory entry.
func (s *Service) Profile(ctx context.Context, identity *domain.Identity) (*models.User, error) {
	if err := s.guard.Check(ctx, access.OpAuthProfile, identity); err != nil {
		return nil, err
	}
	u, err := s.users.FindByID(ctx, identity.ID)
	if err != nil {
		if errors.Is(err, sentinel.ErrNotFound) {
			return nil, dErrors.New(dErrors.CodeUnauthorized, "User not authenticated")
		}
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to load profile")
	}
	return u, nil
}

func (s *Service) issue(ctx context.Context, u *models.User) (*Session, error) {
	token, err := s.tokens.GenerateAccessToken(u.ID, u.Email, u.Role, s.tokenTTL)
	if err != nil {
		return nil, dErrors.Wrap(err, dErrors.CodeInternal, "failed to issue token")
	}
	s.logger.InfoContext(ctx, "access token issued",
		"user_id", u.ID.String(),
		"role", u.Role.String(),
		"request_id", requestcontext.RequestID(ctx),
	)
	return &Session{
		AccessToken: token,
		TokenType:   "Bearer",
		ExpiresIn:   int64(s.tokenTTL.Seconds()),
		User:        u,
	}, nil
}
