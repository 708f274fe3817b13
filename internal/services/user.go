package services

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/natours/authserver/internal/apperr"
	"github.com/natours/authserver/internal/store"
	"github.com/natours/authserver/types"
)

// UserService covers the self-service account operations.
type UserService struct {
	repo UserRepository
	opts options
}

func NewUserService(repo UserRepository, opts ...Option) *UserService {
	return &UserService{repo: repo, opts: newOptions(opts)}
}

// UpdateMeInput is the payload of a profile update. Unknown fields are dropped.
type UpdateMeInput struct {
	Name            *string `json:"name"`
	Email           *string `json:"email"`
	Password        string  `json:"password"`
	PasswordConfirm string  `json:"passwordConfirm"`
}

func (s *UserService) GetMe(_ context.Context, principal types.User) (types.User, error) {
	return principal.Sanitized(), nil
}

// UpdateMe applies name and email changes to the principal.
func (s *UserService) UpdateMe(ctx context.Context, principal types.User, in UpdateMeInput) (types.User, error) {
	if in.Password != "" || in.PasswordConfirm != "" {
		return types.User{}, apperr.Validation("this route is not for password updates, please use /updateMyPassword")
	}

	var patch types.UserPatch
	if in.Name != nil {
		name := strings.TrimSpace(*in.Name)
		if name == "" {
			return types.User{}, apperr.Validation("invalid input data: name: cannot be blank")
		}
		patch.Name = &name
	}
	if in.Email != nil {
		email := types.NormalizeEmail(*in.Email)
		if err := validateEmail(email); err != nil {
			return types.User{}, apperr.Validation("invalid input data: email: " + err.Error()).Wrap(err)
		}
		patch.Email = &email
	}
	if patch.Empty() {
		return principal.Sanitized(), nil
	}

	user, err := s.repo.UpdateByID(ctx, principal.ID, patch)
	switch {
	case errors.Is(err, store.ErrConflict):
		return types.User{}, apperr.DuplicateEmail("email address is already in use, please use another value").Wrap(err)
	case errors.Is(err, store.ErrNotFound):
		return types.User{}, apperr.NotFound("no user found with that id")
	case err != nil:
		return types.User{}, fmt.Errorf("update user: %w", err)
	}
	return user.Sanitized(), nil
}

// DeleteMe deactivates the principal's account.
func (s *UserService) DeleteMe(ctx context.Context, principal types.User) error {
	inactive := false
	if _, err := s.repo.UpdateByID(ctx, principal.ID, types.UserPatch{Active: &inactive}); err != nil {
		if errors.Is(err, store.ErrNotFound) {
			return apperr.NotFound("no user found with that id")
		}
		return fmt.Errorf("deactivate user: %w", err)
	}
	s.opts.logger.WithField("user_id", principal.ID).Info("account deactivated")
	return nil
}
