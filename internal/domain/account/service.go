package account

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog"

	"github.com/emr/emr/internal/platform/apperr"
	"github.com/emr/emr/internal/platform/auth"
)

type Service struct {
	users  UserRepository
	tokens TokenIssuer
	logger zerolog.Logger
	nowFn  func() time.Time
}

// NewService builds the account service. tokens may be nil for callers that
// only manage users, such as the CLI.
func NewService(users UserRepository, tokens TokenIssuer, logger zerolog.Logger) *Service {
	return &Service{
		users:  users,
		tokens: tokens,
		logger: logger.With().Str("component", "account").Logger(),
		nowFn:  time.Now,
	}
}

// CreateUser stores a new account with a bcrypt hash of its password.
func (s *Service) CreateUser(ctx context.Context, in NewUser) (*User, error) {
	username := strings.TrimSpace(in.Username)
	if username == "" {
		return nil, apperr.Validation("username is required")
	}
	role := strings.ToLower(strings.TrimSpace(in.Role))
	if !auth.ValidRole(role) {
		return nil, apperr.Validation("unknown role %q", in.Role)
	}
	hash, err := auth.HashPassword(in.Password)
	if err != nil {
		return nil, apperr.Validation("%s", err.Error())
	}
	u := &User{
		Username:     username,
		Email:        in.Email,
		FullName:     in.FullName,
		PasswordHash: hash,
		Role:         role,
		IsActive:     true,
	}
	if err := s.users.Create(ctx, u); err != nil {
		if errors.Is(err, apperr.ErrDuplicate) {
			return nil, apperr.Validation("username or email already in use")
		}
		return nil, err
	}
	s.logger.Info().Str("user_id", u.ID.String()).Str("role", u.Role).Msg("user created")
	return u, nil
}

// Login checks the password and issues an access token.
func (s *Service) Login(ctx context.Context, username, password string) (*Session, error) {
	if s.tokens == nil {
		return nil, errors.New("account: login requires a token issuer")
	}
	u, err := s.users.GetByUsername(ctx, strings.TrimSpace(username))
	if errors.Is(err, apperr.ErrNotFound) {
		return nil, ErrInvalidCredentials
	}
	if err != nil {
		return nil, err
	}
	if err := auth.CheckPassword(u.PasswordHash, password); err != nil {
		if errors.Is(err, auth.ErrPasswordMismatch) {
			s.logger.Warn().Str("user_id", u.ID.String()).Msg("login failed")
			return nil, ErrInvalidCredentials
		}
		return nil, err
	}
	if !u.IsActive {
		return nil, ErrInvalidCredentials
	}

	token, exp, err := s.tokens.IssueToken(u.ID.String(), []string{u.Role})
	if err != nil {
		return nil, err
	}
	now := s.nowFn().UTC()
	if err := s.users.TouchLogin(ctx, u.ID, now); err != nil {
		s.logger.Error().Err(err).Str("user_id", u.ID.String()).Msg("record last login")
	} else {
		u.LastLoginAt = &now
	}
	return &Session{AccessToken: token, TokenType: "Bearer", ExpiresAt: exp, User: u}, nil
}
