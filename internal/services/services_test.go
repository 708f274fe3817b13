package services_test

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/natours/authserver/internal/apperr"
	"github.com/natours/authserver/internal/auth"
	"github.com/natours/authserver/internal/metrics"
	"github.com/natours/authserver/internal/services"
	"github.com/natours/authserver/internal/services/servicestest"
	"github.com/natours/authserver/types"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"
)

const baseURL = "http://127.0.0.1:8000"

type clock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *clock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *clock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

type fixture struct {
	repo     *servicestest.UserRepository
	notifier *servicestest.Notifier
	clock    *clock
	hasher   *auth.PasswordHasher
	tokens   *auth.TokenCodec
	metrics  *metrics.Metrics

	auth     *services.AuthService
	recovery *services.RecoveryService
	users    *services.UserService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	f := &fixture{
		repo:     servicestest.NewUserRepository(),
		notifier: &servicestest.Notifier{},
		clock:    &clock{now: time.Date(2026, 3, 14, 9, 26, 53, 589_793_238, time.UTC)},
		hasher:   auth.NewPasswordHasher(bcrypt.MinCost),
		metrics:  metrics.New(prometheus.NewRegistry()),
	}
	tokens, err := auth.NewTokenCodec([]byte("test-secret"), 90*24*time.Hour, auth.WithClock(f.clock.Now))
	require.NoError(t, err)
	f.tokens = tokens

	opts := []services.Option{services.WithClock(f.clock.Now), services.WithMetrics(f.metrics)}
	f.auth = services.NewAuthService(f.repo, f.notifier, f.hasher, f.tokens, opts...)
	f.recovery = services.NewRecoveryService(f.repo, f.notifier, f.hasher, f.tokens, auth.NewResetTokenGenerator(10*time.Minute), opts...)
	f.users = services.NewUserService(f.repo, opts...)
	return f
}

func (f *fixture) signup(t *testing.T, name, email, password string) services.Session {
	t.Helper()
	session, err := f.auth.Signup(context.Background(), services.SignupInput{
		Name:            name,
		Email:           email,
		Password:        password,
		PasswordConfirm: password,
	}, baseURL)
	require.NoError(t, err)
	return session
}

// stale reports whether the access guard would reject token for its user.
func (f *fixture) stale(t *testing.T, token string) bool {
	t.Helper()
	session, err := f.tokens.Verify(token)
	require.NoError(t, err)
	user, err := f.repo.FindByID(context.Background(), session.PrincipalID)
	require.NoError(t, err)
	return auth.ChangedPasswordAfter(user.PasswordChangedAt, session.IssuedAt)
}

func requireKind(t *testing.T, err error, kind apperr.Kind) *apperr.Error {
	t.Helper()
	require.Error(t, err)
	appErr, ok := apperr.As(err)
	require.True(t, ok, "expected operational error, got %v", err)
	require.Equal(t, kind, appErr.Kind, appErr.Message)
	return appErr
}

func TestSignup(t *testing.T) {
	f := newFixture(t)
	session := f.signup(t, "Jonas Schmedtmann", " Jonas@Example.com ", "pass1234")

	assert.NotEmpty(t, session.User.ID)
	assert.Equal(t, "jonas@example.com", session.User.Email)
	assert.Equal(t, types.RoleUser, session.User.Role)
	assert.Equal(t, types.DefaultPhoto, session.User.Photo)
	assert.Empty(t, session.User.PasswordHash)

	stored, ok := f.repo.Get(session.User.ID)
	require.True(t, ok)
	assert.True(t, stored.Active)
	assert.Nil(t, stored.PasswordChangedAt)
	assert.True(t, f.hasher.Verify("pass1234", stored.PasswordHash))

	claims, err := f.tokens.Verify(session.Token)
	require.NoError(t, err)
	assert.Equal(t, session.User.ID, claims.PrincipalID)
	assert.WithinDuration(t, session.ExpiresAt, claims.ExpiresAt, 0)

	email, ok := f.notifier.Last()
	require.True(t, ok)
	assert.Equal(t, "welcome", email.Kind)
	assert.Equal(t, baseURL+"/me", email.URL)
	assert.Empty(t, email.User.PasswordHash)

	assert.Equal(t, 1.0, testutil.ToFloat64(f.metrics.AuthEvents.WithLabelValues(services.EventSignup, metrics.OutcomeSuccess)))
}

func TestSignupValidation(t *testing.T) {
	cases := map[string]services.SignupInput{
		"missing name":     {Email: "a@example.com", Password: "pass1234", PasswordConfirm: "pass1234"},
		"missing email":    {Name: "A", Password: "pass1234", PasswordConfirm: "pass1234"},
		"invalid email":    {Name: "A", Email: "not-an-email", Password: "pass1234", PasswordConfirm: "pass1234"},
		"missing password": {Name: "A", Email: "a@example.com"},
		"short password":   {Name: "A", Email: "a@example.com", Password: "short", PasswordConfirm: "short"},
		"confirm mismatch": {Name: "A", Email: "a@example.com", Password: "pass1234", PasswordConfirm: "pass1235"},
		"too long":         {Name: "A", Email: "a@example.com", Password: strings.Repeat("x", 73), PasswordConfirm: strings.Repeat("x", 73)},
	}
	for name, in := range cases {
		t.Run(name, func(t *testing.T) {
			f := newFixture(t)
			_, err := f.auth.Signup(context.Background(), in, baseURL)
			requireKind(t, err, apperr.KindValidation)
			_, err = f.repo.FindByEmail(context.Background(), in.Email)
			assert.Error(t, err)
			assert.Empty(t, f.notifier.Sent())
		})
	}
}

func TestSignupDuplicateEmail(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "Ana", "ana@example.com", "pass1234")

	_, err := f.auth.Signup(context.Background(), services.SignupInput{
		Name: "Other Ana", Email: "ANA@example.com", Password: "pass5678", PasswordConfirm: "pass5678",
	}, baseURL)
	appErr := requireKind(t, err, apperr.KindDuplicateEmail)
	assert.Equal(t, 409, appErr.Status())
}

func TestSignupSurvivesNotificationFailure(t *testing.T) {
	f := newFixture(t)
	f.notifier.Err = errors.New("smtp down")

	session := f.signup(t, "Ana", "ana@example.com", "pass1234")
	assert.NotEmpty(t, session.Token)
}

func TestCreateUserWithRole(t *testing.T) {
	f := newFixture(t)
	in := services.SignupInput{Name: "Guide", Email: "guide@example.com", Password: "pass1234", PasswordConfirm: "pass1234"}

	user, err := f.auth.CreateUser(context.Background(), in, "lead-guide")
	require.NoError(t, err)
	assert.Equal(t, types.RoleLeadGuide, user.Role)
	assert.Empty(t, user.PasswordHash)
	assert.Empty(t, f.notifier.Sent())

	in.Email = "root@example.com"
	_, err = f.auth.CreateUser(context.Background(), in, "superuser")
	requireKind(t, err, apperr.KindValidation)
}

func TestLogin(t *testing.T) {
	f := newFixture(t)
	signed := f.signup(t, "Ana", "ana@example.com", "pass1234")

	f.clock.Advance(time.Second)
	session, err := f.auth.Login(context.Background(), "ANA@example.com", "pass1234")
	require.NoError(t, err)
	assert.Equal(t, signed.User.ID, session.User.ID)
	assert.Empty(t, session.User.PasswordHash)
	assert.NotEqual(t, signed.Token, session.Token)
}

func TestLoginFailuresAreIndistinguishable(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "Ana", "ana@example.com", "pass1234")

	_, wrongPassword := f.auth.Login(context.Background(), "ana@example.com", "nope-nope")
	_, unknownEmail := f.auth.Login(context.Background(), "nobody@example.com", "pass1234")

	a := requireKind(t, wrongPassword, apperr.KindInvalidCredentials)
	b := requireKind(t, unknownEmail, apperr.KindInvalidCredentials)
	assert.Equal(t, a.Message, b.Message)
	assert.Equal(t, "incorrect email or password", a.Message)
	assert.Equal(t, 2.0, testutil.ToFloat64(f.metrics.AuthEvents.WithLabelValues(services.EventLogin, metrics.OutcomeFailure)))
}

func TestLoginMissingFields(t *testing.T) {
	f := newFixture(t)
	_, err := f.auth.Login(context.Background(), "", "pass1234")
	appErr := requireKind(t, err, apperr.KindValidation)
	assert.Equal(t, "please provide email and password", appErr.Message)

	_, err = f.auth.Login(context.Background(), "ana@example.com", "")
	requireKind(t, err, apperr.KindValidation)
}

func TestForgotPasswordUnknownEmail(t *testing.T) {
	f := newFixture(t)
	err := f.recovery.ForgotPassword(context.Background(), "ghost@example.com", baseURL)
	appErr := requireKind(t, err, apperr.KindNotFound)
	assert.Equal(t, "there is no user with that email address", appErr.Message)
}

func TestForgotPasswordStoresDigestOnly(t *testing.T) {
	f := newFixture(t)
	signed := f.signup(t, "Ana", "ana@example.com", "pass1234")

	require.NoError(t, f.recovery.ForgotPassword(context.Background(), "ana@example.com", baseURL))

	email, ok := f.notifier.Last()
	require.True(t, ok)
	assert.Equal(t, "password_reset", email.Kind)
	require.True(t, strings.HasPrefix(email.URL, baseURL+services.ResetPasswordPath))
	raw := strings.TrimPrefix(email.URL, baseURL+services.ResetPasswordPath)
	assert.Len(t, raw, 64)

	stored, _ := f.repo.Get(signed.User.ID)
	require.NotNil(t, stored.PasswordResetToken)
	require.NotNil(t, stored.PasswordResetExpires)
	assert.NotEqual(t, raw, *stored.PasswordResetToken)
	assert.Equal(t, auth.HashResetToken(raw), *stored.PasswordResetToken)
	assert.Equal(t, auth.Truncate(f.clock.Now().Add(10*time.Minute)), *stored.PasswordResetExpires)
}

func TestForgotPasswordRollsBackOnNotificationFailure(t *testing.T) {
	f := newFixture(t)
	signed := f.signup(t, "Ana", "ana@example.com", "pass1234")
	f.notifier.Err = errors.New("queue unavailable")

	err := f.recovery.ForgotPassword(context.Background(), "ana@example.com", baseURL)
	appErr := requireKind(t, err, apperr.KindNotificationFailure)
	assert.Equal(t, 500, appErr.Status())
	assert.ErrorIs(t, err, f.notifier.Err)

	stored, _ := f.repo.Get(signed.User.ID)
	assert.Nil(t, stored.PasswordResetToken)
	assert.Nil(t, stored.PasswordResetExpires)
	assert.Equal(t, 2, f.repo.Saves())
}

func TestForgotPasswordRollbackFailureStillReportsNotification(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "Ana", "ana@example.com", "pass1234")
	f.notifier.Err = errors.New("queue unavailable")
	f.repo.SaveHook = func(call int, _ types.User) error {
		if call == 2 {
			return errors.New("db gone")
		}
		return nil
	}

	err := f.recovery.ForgotPassword(context.Background(), "ana@example.com", baseURL)
	requireKind(t, err, apperr.KindNotificationFailure)
}

func TestForgotPasswordRollbackIgnoresCancelledContext(t *testing.T) {
	f := newFixture(t)
	signed := f.signup(t, "Ana", "ana@example.com", "pass1234")
	ctx, cancel := context.WithCancel(context.Background())
	f.notifier.Err = errors.New("deadline")
	f.repo.SaveHook = func(call int, _ types.User) error {
		if call == 1 {
			cancel()
		}
		return nil
	}

	err := f.recovery.ForgotPassword(ctx, "ana@example.com", baseURL)
	requireKind(t, err, apperr.KindNotificationFailure)
	stored, _ := f.repo.Get(signed.User.ID)
	assert.Nil(t, stored.PasswordResetToken)
}

func forgotAndCapture(t *testing.T, f *fixture, email string) string {
	t.Helper()
	require.NoError(t, f.recovery.ForgotPassword(context.Background(), email, baseURL))
	sent, ok := f.notifier.Last()
	require.True(t, ok)
	return strings.TrimPrefix(sent.URL, baseURL+services.ResetPasswordPath)
}

func TestResetPassword(t *testing.T) {
	f := newFixture(t)
	signed := f.signup(t, "Ana", "ana@example.com", "pass1234")
	raw := forgotAndCapture(t, f, "ana@example.com")

	f.clock.Advance(5 * time.Minute)
	session, err := f.recovery.ResetPassword(context.Background(), raw, services.PasswordInput{
		Password: "newpass99", PasswordConfirm: "newpass99",
	})
	require.NoError(t, err)
	assert.Empty(t, session.User.PasswordHash)

	stored, _ := f.repo.Get(signed.User.ID)
	assert.Nil(t, stored.PasswordResetToken)
	assert.Nil(t, stored.PasswordResetExpires)
	require.NotNil(t, stored.PasswordChangedAt)
	assert.Equal(t, auth.Truncate(f.clock.Now()), *stored.PasswordChangedAt)
	assert.True(t, f.hasher.Verify("newpass99", stored.PasswordHash))

	assert.True(t, f.stale(t, signed.Token), "token issued before the reset must be rejected")
	assert.False(t, f.stale(t, session.Token), "token issued by the reset must be accepted")

	_, err = f.recovery.ResetPassword(context.Background(), raw, services.PasswordInput{
		Password: "another99", PasswordConfirm: "another99",
	})
	requireKind(t, err, apperr.KindTokenInvalidOrExpired)
}

func TestResetPasswordExpired(t *testing.T) {
	f := newFixture(t)
	f.signup(t, "Ana", "ana@example.com", "pass1234")
	raw := forgotAndCapture(t, f, "ana@example.com")

	f.clock.Advance(10 * time.Minute)
	_, err := f.recovery.ResetPassword(context.Background(), raw, services.PasswordInput{
		Password: "newpass99", PasswordConfirm: "newpass99",
	})
	appErr := requireKind(t, err, apperr.KindTokenInvalidOrExpired)
	assert.Equal(t, "token is invalid or has expired", appErr.Message)
}

func TestResetPasswordUnknownTokenAndValidation(t *testing.T) {
	f := newFixture(t)
	signed := f.signup(t, "Ana", "ana@example.com", "pass1234")
	raw := forgotAndCapture(t, f, "ana@example.com")
	before, _ := f.repo.Get(signed.User.ID)

	_, err := f.recovery.ResetPassword(context.Background(), strings.Repeat("0", 64), services.PasswordInput{
		Password: "newpass99", PasswordConfirm: "newpass99",
	})
	requireKind(t, err, apperr.KindTokenInvalidOrExpired)

	after, _ := f.repo.Get(signed.User.ID)
	require.NotNil(t, after.PasswordResetToken)
	require.NotNil(t, after.PasswordResetExpires)
	assert.Equal(t, *before.PasswordResetToken, *after.PasswordResetToken)
	assert.True(t, before.PasswordResetExpires.Equal(*after.PasswordResetExpires))
	assert.Equal(t, before.PasswordHash, after.PasswordHash)
	assert.Nil(t, after.PasswordChangedAt)

	_, err = f.recovery.ResetPassword(context.Background(), raw, services.PasswordInput{
		Password: "newpass99", PasswordConfirm: "different",
	})
	requireKind(t, err, apperr.KindValidation)
}

func TestUpdatePassword(t *testing.T) {
	f := newFixture(t)
	signed := f.signup(t, "Ana", "ana@example.com", "pass1234")

	f.clock.Advance(time.Hour)
	session, err := f.recovery.UpdatePassword(context.Background(), signed.User, services.UpdatePasswordInput{
		PasswordCurrent: "pass1234",
		PasswordInput:   services.PasswordInput{Password: "newpass99", PasswordConfirm: "newpass99"},
	})
	require.NoError(t, err)

	assert.True(t, f.stale(t, signed.Token))
	assert.False(t, f.stale(t, session.Token))

	_, err = f.auth.Login(context.Background(), "ana@example.com", "pass1234")
	requireKind(t, err, apperr.KindInvalidCredentials)
	_, err = f.auth.Login(context.Background(), "ana@example.com", "newpass99")
	require.NoError(t, err)
}

func TestUpdatePasswordWrongCurrent(t *testing.T) {
	f := newFixture(t)
	signed := f.signup(t, "Ana", "ana@example.com", "pass1234")

	_, err := f.recovery.UpdatePassword(context.Background(), signed.User, services.UpdatePasswordInput{
		PasswordCurrent: "wrong-one",
		PasswordInput:   services.PasswordInput{Password: "newpass99", PasswordConfirm: "newpass99"},
	})
	appErr := requireKind(t, err, apperr.KindInvalidCredentials)
	assert.Equal(t, "your current password is wrong", appErr.Message)

	stored, _ := f.repo.Get(signed.User.ID)
	assert.Nil(t, stored.PasswordChangedAt)
}

func TestTokenFromEarlierMillisecondIsRejected(t *testing.T) {
	f := newFixture(t)
	signed := f.signup(t, "Ana", "ana@example.com", "pass1234")

	f.clock.Advance(time.Millisecond)
	_, err := f.recovery.UpdatePassword(context.Background(), signed.User, services.UpdatePasswordInput{
		PasswordCurrent: "pass1234",
		PasswordInput:   services.PasswordInput{Password: "newpass99", PasswordConfirm: "newpass99"},
	})
	require.NoError(t, err)
	assert.True(t, f.stale(t, signed.Token))
}

func TestUpdateMe(t *testing.T) {
	f := newFixture(t)
	signed := f.signup(t, "Ana", "ana@example.com", "pass1234")
	name, email := "  Ana Lee ", "Ana.Lee@Example.com"

	user, err := f.users.UpdateMe(context.Background(), signed.User, services.UpdateMeInput{Name: &name, Email: &email})
	require.NoError(t, err)
	assert.Equal(t, "Ana Lee", user.Name)
	assert.Equal(t, "ana.lee@example.com", user.Email)
	assert.Equal(t, types.RoleUser, user.Role)
	assert.Empty(t, user.PasswordHash)
}

func TestUpdateMeRejects(t *testing.T) {
	f := newFixture(t)
	signed := f.signup(t, "Ana", "ana@example.com", "pass1234")
	f.signup(t, "Bo", "bo@example.com", "pass1234")

	_, err := f.users.UpdateMe(context.Background(), signed.User, services.UpdateMeInput{Password: "x"})
	appErr := requireKind(t, err, apperr.KindValidation)
	assert.Contains(t, appErr.Message, "/updateMyPassword")

	bad := "nope"
	_, err = f.users.UpdateMe(context.Background(), signed.User, services.UpdateMeInput{Email: &bad})
	requireKind(t, err, apperr.KindValidation)

	taken := "bo@example.com"
	_, err = f.users.UpdateMe(context.Background(), signed.User, services.UpdateMeInput{Email: &taken})
	requireKind(t, err, apperr.KindDuplicateEmail)

	user, err := f.users.UpdateMe(context.Background(), signed.User, services.UpdateMeInput{})
	require.NoError(t, err)
	assert.Equal(t, signed.User.ID, user.ID)
}

func TestDeleteMe(t *testing.T) {
	f := newFixture(t)
	signed := f.signup(t, "Ana", "ana@example.com", "pass1234")

	require.NoError(t, f.users.DeleteMe(context.Background(), signed.User))

	stored, ok := f.repo.Get(signed.User.ID)
	require.True(t, ok)
	assert.False(t, stored.Active)

	_, err := f.auth.Login(context.Background(), "ana@example.com", "pass1234")
	requireKind(t, err, apperr.KindInvalidCredentials)
	err = f.recovery.ForgotPassword(context.Background(), "ana@example.com", baseURL)
	requireKind(t, err, apperr.KindNotFound)
}

func TestGetMe(t *testing.T) {
	f := newFixture(t)
	signed := f.signup(t, "Ana", "ana@example.com", "pass1234")
	stored, _ := f.repo.Get(signed.User.ID)

	user, err := f.users.GetMe(context.Background(), stored)
	require.NoError(t, err)
	assert.Empty(t, user.PasswordHash)
	assert.Equal(t, stored.Email, user.Email)
}
