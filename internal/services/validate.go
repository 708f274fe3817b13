package services

import (
	"errors"
	"strings"

	validation "github.com/go-ozzo/ozzo-validation"
	"github.com/go-ozzo/ozzo-validation/is"
	"github.com/natours/authserver/internal/apperr"
	"github.com/natours/authserver/internal/auth"
)

// DefaultPasswordMinLength is the minimum password length in bytes.
const DefaultPasswordMinLength = 8

// maxPasswordLength is the bcrypt input limit.
const maxPasswordLength = 72

// SignupInput is the payload of a signup or administrative user creation.
type SignupInput struct {
	Name            string `json:"name"`
	Email           string `json:"email"`
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

func (in SignupInput) validate(minLen int) error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Name, validation.Required, validation.Length(1, 200)),
		validation.Field(&in.Email, validation.Required, is.Email),
		validation.Field(&in.Password, passwordRules(minLen)...),
		validation.Field(&in.PasswordConfirm, validation.Required, validation.By(equals(in.Password))),
	)
}

// PasswordInput is a new password together with its confirmation.
type PasswordInput struct {
	Password        string `json:"password"`
	PasswordConfirm string `json:"passwordConfirm"`
}

func (in PasswordInput) validate(minLen int) error {
	return validation.ValidateStruct(&in,
		validation.Field(&in.Password, passwordRules(minLen)...),
		validation.Field(&in.PasswordConfirm, validation.Required, validation.By(equals(in.Password))),
	)
}

func passwordRules(minLen int) []validation.Rule {
	return []validation.Rule{validation.Required, validation.Length(minLen, maxPasswordLength)}
}

func equals(expected string) validation.RuleFunc {
	return func(value interface{}) error {
		s, _ := value.(string)
		if s != expected {
			return errors.New("passwords are not the same")
		}
		return nil
	}
}

func validateEmail(email string) error {
	return validation.Validate(email, validation.Required, is.Email)
}

// invalid converts a validation failure into an operational error.
func invalid(err error) error {
	if err == nil {
		return nil
	}
	message := strings.TrimSuffix(err.Error(), ".")
	return apperr.Validation("invalid input data: " + message).Wrap(err)
}

func hashPassword(hasher *auth.PasswordHasher, password string) (string, error) {
	hash, err := hasher.Hash(password)
	if errors.Is(err, auth.ErrPasswordTooLong) {
		return "", apperr.Validation("password is too long").Wrap(err)
	}
	return hash, err
}
