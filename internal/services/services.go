package services

import (
	"context"
	"time"

	"github.com/natours/authserver/internal/auth"
	"github.com/natours/authserver/internal/logging"
	"github.com/natours/authserver/internal/metrics"
	"github.com/natours/authserver/types"
	"github.com/sirupsen/logrus"
)

// UserRepository defines persistence operations for users.
// Lookups never return inactive users.
type UserRepository interface {
	FindByID(ctx context.Context, id string) (types.User, error)
	FindByEmail(ctx context.Context, email string) (types.User, error)
	FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (types.User, error)
	Create(ctx context.Context, user types.User) (types.User, error)
	Save(ctx context.Context, user types.User) (types.User, error)
	UpdateByID(ctx context.Context, id string, patch types.UserPatch) (types.User, error)
}

// Notifier sends account emails. Implementations return once the message
// was accepted for delivery.
type Notifier interface {
	SendWelcome(ctx context.Context, user types.User, url string) error
	SendPasswordReset(ctx context.Context, user types.User, url string) error
}

// Session is a user together with a freshly issued token.
type Session struct {
	User      types.User
	Token     string
	ExpiresAt time.Time
}

func newSession(user types.User, token auth.Token) Session {
	return Session{User: user.Sanitized(), Token: token.Value, ExpiresAt: token.ExpiresAt}
}

// Auth event names used for metrics.
const (
	EventSignup         = "signup"
	EventLogin          = "login"
	EventForgotPassword = "forgot_password"
	EventResetPassword  = "reset_password"
	EventUpdatePassword = "update_password"
)

type options struct {
	logger         logrus.FieldLogger
	metrics        *metrics.Metrics
	now            auth.Clock
	passwordMinLen int
}

// Option customizes a service.
type Option func(*options)

func WithLogger(logger logrus.FieldLogger) Option {
	return func(o *options) { o.logger = logger }
}

func WithMetrics(m *metrics.Metrics) Option {
	return func(o *options) { o.metrics = m }
}

// WithClock overrides the time source used for password-change and reset timestamps.
func WithClock(clock auth.Clock) Option {
	return func(o *options) { o.now = clock }
}

func WithPasswordMinLength(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.passwordMinLen = n
		}
	}
}

func newOptions(opts []Option) options {
	o := options{
		logger:         logging.Discard(),
		now:            time.Now,
		passwordMinLen: DefaultPasswordMinLength,
	}
	for _, opt := range opts {
		opt(&o)
	}
	return o
}

func outcome(err error) string {
	if err != nil {
		return metrics.OutcomeFailure
	}
	return metrics.OutcomeSuccess
}
