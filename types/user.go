package types

import (
	"fmt"
	"strings"
	"time"
)

// Role is the authorization level of a user.
type Role string

const (
	RoleUser      Role = "user"
	RoleGuide     Role = "guide"
	RoleLeadGuide Role = "lead-guide"
	RoleAdmin     Role = "admin"
)

// DefaultPhoto is assigned to accounts created without a photo.
const DefaultPhoto = "default.jpg"

var roles = []Role{RoleUser, RoleGuide, RoleLeadGuide, RoleAdmin}

// Roles returns every known role.
func Roles() []Role {
	out := make([]Role, len(roles))
	copy(out, roles)
	return out
}

// Valid reports whether r is one of the enumerated roles.
func (r Role) Valid() bool {
	for _, known := range roles {
		if r == known {
			return true
		}
	}
	return false
}

// ParseRole converts raw input into a Role. Unknown values are rejected,
// an empty value yields RoleUser.
func ParseRole(raw string) (Role, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return RoleUser, nil
	}
	role := Role(raw)
	if !role.Valid() {
		return "", fmt.Errorf("unknown role %q", raw)
	}
	return role, nil
}

// User represents an account in the system.
// It contains identity, role, credential and audit metadata.
type User struct {
	// ID is the opaque unique identifier of the user.
	ID string `json:"id" db:"id" bson:"_id"`

	// Name is the user's display or full name.
	Name string `json:"name" db:"name" bson:"name"`

	// Email is the user's email address, stored lower-cased.
	Email string `json:"email" db:"email" bson:"email"`

	// Photo is the file name of the user's avatar.
	Photo string `json:"photo" db:"photo" bson:"photo"`

	// Role indicates the user's authorization level.
	Role Role `json:"role" db:"role" bson:"role"`

	// PasswordHash stores the bcrypt hash of the user's password.
	// This field is never exposed in API responses.
	PasswordHash string `json:"-" db:"password_hash" bson:"password_hash"`

	// PasswordChangedAt is set whenever the password is changed after creation.
	// Session tokens issued before it are rejected.
	PasswordChangedAt *time.Time `json:"-" db:"password_changed_at" bson:"password_changed_at,omitempty"`

	// PasswordResetToken is the SHA-256 hex digest of the outstanding
	// recovery token. It is set together with PasswordResetExpires.
	PasswordResetToken *string `json:"-" db:"password_reset_token" bson:"password_reset_token,omitempty"`

	// PasswordResetExpires is the instant after which the recovery token is void.
	PasswordResetExpires *time.Time `json:"-" db:"password_reset_expires" bson:"password_reset_expires,omitempty"`

	// Active is false once the user deleted their account.
	Active bool `json:"-" db:"active" bson:"active"`

	// CreatedAt is the timestamp when the user account was created.
	CreatedAt time.Time `json:"created_at" db:"created_at" bson:"created_at"`

	// UpdatedAt is the timestamp of the most recent update to the user account.
	UpdatedAt time.Time `json:"updated_at" db:"updated_at" bson:"updated_at"`
}

// SetPasswordReset records an outstanding recovery token digest.
func (u *User) SetPasswordReset(tokenHash string, expires time.Time) {
	u.PasswordResetToken = &tokenHash
	u.PasswordResetExpires = &expires
}

// ClearPasswordReset drops any outstanding recovery token.
func (u *User) ClearPasswordReset() {
	u.PasswordResetToken = nil
	u.PasswordResetExpires = nil
}

// HasPasswordReset reports whether a recovery token is outstanding at now.
func (u User) HasPasswordReset(now time.Time) bool {
	return u.PasswordResetToken != nil && u.PasswordResetExpires != nil && now.Before(*u.PasswordResetExpires)
}

// Sanitized returns a copy of the user without any credential material.
func (u User) Sanitized() User {
	u.PasswordHash = ""
	u.PasswordResetToken = nil
	u.PasswordResetExpires = nil
	return u
}

// UserPatch is a partial update applied by UpdateByID. Nil fields are left untouched.
type UserPatch struct {
	Name   *string
	Email  *string
	Photo  *string
	Role   *Role
	Active *bool
}

// Empty reports whether the patch changes nothing.
func (p UserPatch) Empty() bool {
	return p.Name == nil && p.Email == nil && p.Photo == nil && p.Role == nil && p.Active == nil
}

// NormalizeEmail lower-cases and trims an email address.
func NormalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
