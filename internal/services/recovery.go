package services

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/natours/authserver/internal/apperr"
	"github.com/natours/authserver/internal/auth"
	"github.com/natours/authserver/internal/store"
	"github.com/natours/authserver/types"
)

// ResetPasswordPath is the route prefix embedded in reset emails.
const ResetPasswordPath = "/api/v1/users/resetPassword/"

// RecoveryService handles forgotten, reset and changed passwords.
type RecoveryService struct {
	repo     UserRepository
	notifier Notifier
	hasher   *auth.PasswordHasher
	tokens   *auth.TokenCodec
	resets   *auth.ResetTokenGenerator
	opts     options
}

func NewRecoveryService(repo UserRepository, notifier Notifier, hasher *auth.PasswordHasher, tokens *auth.TokenCodec, resets *auth.ResetTokenGenerator, opts ...Option) *RecoveryService {
	return &RecoveryService{
		repo:     repo,
		notifier: notifier,
		hasher:   hasher,
		tokens:   tokens,
		resets:   resets,
		opts:     newOptions(opts),
	}
}

// UpdatePasswordInput is the payload of an authenticated password change.
type UpdatePasswordInput struct {
	PasswordCurrent string `json:"passwordCurrent"`
	PasswordInput
}

// ForgotPassword stores a recovery token for the user and emails it.
// If the email cannot be sent the token is discarded again.
func (s *RecoveryService) ForgotPassword(ctx context.Context, email, baseURL string) error {
	err := s.forgotPassword(ctx, email, baseURL)
	s.opts.metrics.AuthEvent(EventForgotPassword, outcome(err))
	return err
}

func (s *RecoveryService) forgotPassword(ctx context.Context, email, baseURL string) error {
	user, err := s.repo.FindByEmail(ctx, types.NormalizeEmail(email))
	if errors.Is(err, store.ErrNotFound) {
		return apperr.NotFound("there is no user with that email address")
	}
	if err != nil {
		return fmt.Errorf("find user: %w", err)
	}

	reset, err := s.resets.Generate(s.opts.now())
	if err != nil {
		return fmt.Errorf("generate reset token: %w", err)
	}
	user.SetPasswordReset(reset.Hash, reset.ExpiresAt)
	if user, err = s.repo.Save(ctx, user); err != nil {
		return fmt.Errorf("save reset token: %w", err)
	}

	url := baseURL + ResetPasswordPath + reset.Raw
	if err := s.notifier.SendPasswordReset(ctx, user.Sanitized(), url); err != nil {
		user.ClearPasswordReset()
		// The request context may already be done; the rollback must still run.
		if _, rbErr := s.repo.Save(context.WithoutCancel(ctx), user); rbErr != nil {
			s.opts.logger.WithError(rbErr).WithField("user_id", user.ID).Error("rolling back reset token failed")
		}
		return apperr.NotificationFailure("there was an error sending the email, try again later", err)
	}
	return nil
}

// ResetPassword sets a new password using a recovery token and logs the user in.
func (s *RecoveryService) ResetPassword(ctx context.Context, rawToken string, in PasswordInput) (Session, error) {
	session, err := s.resetPassword(ctx, rawToken, in)
	s.opts.metrics.AuthEvent(EventResetPassword, outcome(err))
	return session, err
}

func (s *RecoveryService) resetPassword(ctx context.Context, rawToken string, in PasswordInput) (Session, error) {
	now := auth.Truncate(s.opts.now())
	user, err := s.repo.FindByResetToken(ctx, auth.HashResetToken(rawToken), now)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, apperr.TokenInvalidOrExpired("token is invalid or has expired")
	}
	if err != nil {
		return Session{}, fmt.Errorf("find user by reset token: %w", err)
	}
	if err := in.validate(s.opts.passwordMinLen); err != nil {
		return Session{}, invalid(err)
	}

	user.ClearPasswordReset()
	return s.changePassword(ctx, user, in.Password, now)
}

// UpdatePassword changes the password of an authenticated user. Every token
// issued before the change stops working; the returned one does not.
func (s *RecoveryService) UpdatePassword(ctx context.Context, principal types.User, in UpdatePasswordInput) (Session, error) {
	session, err := s.updatePassword(ctx, principal, in)
	s.opts.metrics.AuthEvent(EventUpdatePassword, outcome(err))
	return session, err
}

func (s *RecoveryService) updatePassword(ctx context.Context, principal types.User, in UpdatePasswordInput) (Session, error) {
	user, err := s.repo.FindByID(ctx, principal.ID)
	if errors.Is(err, store.ErrNotFound) {
		return Session{}, apperr.Unauthenticated("the user belonging to this token no longer exists", "user_gone")
	}
	if err != nil {
		return Session{}, fmt.Errorf("find user: %w", err)
	}
	if in.PasswordCurrent == "" || !s.hasher.Verify(in.PasswordCurrent, user.PasswordHash) {
		return Session{}, apperr.InvalidCredentials("your current password is wrong")
	}
	if err := in.PasswordInput.validate(s.opts.passwordMinLen); err != nil {
		return Session{}, invalid(err)
	}

	return s.changePassword(ctx, user, in.Password, auth.Truncate(s.opts.now()))
}

// changePassword stores the new hash with changedAt as the cutoff and
// issues a token at that same instant.
func (s *RecoveryService) changePassword(ctx context.Context, user types.User, password string, changedAt time.Time) (Session, error) {
	hash, err := hashPassword(s.hasher, password)
	if err != nil {
		return Session{}, err
	}
	user.PasswordHash = hash
	user.PasswordChangedAt = &changedAt

	user, err = s.repo.Save(ctx, user)
	if err != nil {
		return Session{}, fmt.Errorf("save password: %w", err)
	}

	token, err := s.tokens.IssueAt(user.ID, changedAt)
	if err != nil {
		return Session{}, fmt.Errorf("issue token: %w", err)
	}
	return newSession(user, token), nil
}
