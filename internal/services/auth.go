package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/natours/authserver/internal/apperr"
	"github.com/natours/authserver/internal/auth"
	"github.com/natours/authserver/internal/store"
	"github.com/natours/authserver/types"
	"github.com/sirupsen/logrus"
)

// AuthService handles signup and login.
type AuthService struct {
	repo     UserRepository
	notifier Notifier
	hasher   *auth.PasswordHasher
	tokens   *auth.TokenCodec
	opts     options
}

func NewAuthService(repo UserRepository, notifier Notifier, hasher *auth.PasswordHasher, tokens *auth.TokenCodec, opts ...Option) *AuthService {
	return &AuthService{
		repo:     repo,
		notifier: notifier,
		hasher:   hasher,
		tokens:   tokens,
		opts:     newOptions(opts),
	}
}

// Signup creates a user with the default role and logs them in.
// The welcome email is best effort.
func (s *AuthService) Signup(ctx context.Context, in SignupInput, baseURL string) (Session, error) {
	session, err := s.signup(ctx, in, baseURL)
	s.opts.metrics.AuthEvent(EventSignup, outcome(err))
	return session, err
}

func (s *AuthService) signup(ctx context.Context, in SignupInput, baseURL string) (Session, error) {
	user, err := s.create(ctx, in, types.RoleUser)
	if err != nil {
		return Session{}, err
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}

	if err := s.notifier.SendWelcome(ctx, user.Sanitized(), baseURL+"/me"); err != nil {
		s.opts.logger.WithError(err).WithField("user_id", user.ID).Warn("welcome email failed")
	}
	return newSession(user, token), nil
}

// CreateUser creates a user with an explicit role. Only administrators reach it.
func (s *AuthService) CreateUser(ctx context.Context, in SignupInput, role string) (types.User, error) {
	parsed, err := types.ParseRole(role)
	if err != nil {
		return types.User{}, apperr.Validation("invalid input data: role: " + err.Error()).Wrap(err)
	}
	user, err := s.create(ctx, in, parsed)
	if err != nil {
		return types.User{}, err
	}
	return user.Sanitized(), nil
}

func (s *AuthService) create(ctx context.Context, in SignupInput, role types.Role) (types.User, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = types.NormalizeEmail(in.Email)
	if err := in.validate(s.opts.passwordMinLen); err != nil {
		return types.User{}, invalid(err)
	}

	hash, err := hashPassword(s.hasher, in.Password)
	if err != nil {
		return types.User{}, err
	}

	user, err := s.repo.Create(ctx, types.User{
		Name:         in.Name,
		Email:        in.Email,
		Photo:        types.DefaultPhoto,
		Role:         role,
		PasswordHash: hash,
		Active:       true,
	})
	if err != nil {
		if errors.Is(err, store.ErrConflict) {
			return types.User{}, apperr.DuplicateEmail("email address is already in use, please use another value").Wrap(err)
		}
		return types.User{}, fmt.Errorf("create user: %w", err)
	}
	return user, nil
}

// Login verifies the credentials and issues a fresh token.
func (s *AuthService) Login(ctx context.Context, email, password string) (Session, error) {
	session, err := s.login(ctx, email, password)
	s.opts.metrics.AuthEvent(EventLogin, outcome(err))
	return session, err
}

func (s *AuthService) login(ctx context.Context, email, password string) (Session, error) {
	email = types.NormalizeEmail(email)
	if email == "" || password == "" {
		return Session{}, apperr.Validation("please provide email and password")
	}

	user, err := s.repo.FindByEmail(ctx, email)
	if errors.Is(err, store.ErrNotFound) {
		s.hasher.VerifyNothing(password)
		return Session{}, errBadCredentials
	}
	if err != nil {
		return Session{}, fmt.Errorf("find user: %w", err)
	}
	if !s.hasher.Verify(password, user.PasswordHash) {
		s.opts.logger.WithField("user_id", user.ID).Debug("login with wrong password")
		return Session{}, errBadCredentials
	}

	token, err := s.tokens.Issue(user.ID)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	s.opts.logger.WithFields(logrus.Fields{"user_id": user.ID}).Debug("user logged in")
	return newSession(user, token), nil
}

var errBadCredentials = apperr.InvalidCredentials("incorrect email or password")
