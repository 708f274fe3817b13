package types

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseRole(t *testing.T) {
	role, err := ParseRole("")
	require.NoError(t, err)
	assert.Equal(t, RoleUser, role)

	role, err = ParseRole(" lead-guide ")
	require.NoError(t, err)
	assert.Equal(t, RoleLeadGuide, role)

	_, err = ParseRole("root")
	assert.Error(t, err)
	assert.Len(t, Roles(), 4)
}

func TestPasswordResetPairing(t *testing.T) {
	now := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	var u User
	assert.False(t, u.HasPasswordReset(now))

	u.SetPasswordReset("digest", now.Add(10*time.Minute))
	assert.True(t, u.HasPasswordReset(now))
	assert.False(t, u.HasPasswordReset(now.Add(10*time.Minute)))

	u.ClearPasswordReset()
	assert.Nil(t, u.PasswordResetToken)
	assert.Nil(t, u.PasswordResetExpires)
}

func TestUserJSONHidesCredentials(t *testing.T) {
	changed := time.Now()
	u := User{ID: "1", Name: "Ana", Email: "ana@example.com", Role: RoleUser, PasswordHash: "$2a$12$secret", PasswordChangedAt: &changed, Active: true}
	u.SetPasswordReset("digest", changed)

	data, err := json.Marshal(u)
	require.NoError(t, err)
	assert.NotContains(t, string(data), "secret")
	assert.NotContains(t, string(data), "digest")
	assert.NotContains(t, string(data), "active")
}

func TestSanitized(t *testing.T) {
	u := User{PasswordHash: "hash"}
	u.SetPasswordReset("digest", time.Now())

	clean := u.Sanitized()
	assert.Empty(t, clean.PasswordHash)
	assert.Nil(t, clean.PasswordResetToken)
	assert.Equal(t, "hash", u.PasswordHash)
}

func TestUserPatchEmpty(t *testing.T) {
	assert.True(t, UserPatch{}.Empty())
	name := "x"
	assert.False(t, UserPatch{Name: &name}.Empty())
}

func TestNormalizeEmail(t *testing.T) {
	assert.Equal(t, "ana@example.com", NormalizeEmail("  Ana@Example.COM "))
}
