package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/natours/authserver/internal/apperr"
	"github.com/natours/authserver/internal/auth"
	"github.com/natours/authserver/internal/metrics"
	"github.com/natours/authserver/internal/store"
	"github.com/natours/authserver/types"
	"github.com/sirupsen/logrus"
)

// Guard is one step of request authentication. It returns the request to
// continue with, or an error to reject it.
type Guard func(r *http.Request) (*http.Request, error)

// Chain runs guards in order and stops at the first rejection.
func Chain(guards ...Guard) Guard {
	return func(r *http.Request) (*http.Request, error) {
		var err error
		for _, guard := range guards {
			if r, err = guard(r); err != nil {
				return nil, err
			}
		}
		return r, nil
	}
}

// Rejection reasons. They are logged and counted, never sent to clients.
const (
	ReasonNoToken         = "no_token"
	ReasonTokenInvalid    = "token_invalid"
	ReasonTokenExpired    = "token_expired"
	ReasonUserGone        = "user_gone"
	ReasonPasswordChanged = "password_changed"
)

// TokenCookie is the cookie carrying the session token.
const TokenCookie = "jwt"

// PrincipalLoader loads the user named by a verified token.
type PrincipalLoader interface {
	FindByID(ctx context.Context, id string) (types.User, error)
}

// Authenticator builds the access guards.
type Authenticator struct {
	tokens  *auth.TokenCodec
	users   PrincipalLoader
	metrics *metrics.Metrics
	logger  logrus.FieldLogger
	guard   Guard
}

func NewAuthenticator(tokens *auth.TokenCodec, users PrincipalLoader, m *metrics.Metrics, logger logrus.FieldLogger) *Authenticator {
	a := &Authenticator{tokens: tokens, users: users, metrics: m, logger: logger}
	a.guard = Chain(extractToken, a.verifyToken, a.loadPrincipal, checkPasswordCutoff)
	return a
}

// Protect rejects requests without a valid session and attaches the user otherwise.
func (a *Authenticator) Protect(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		req, err := a.guard(r)
		if err != nil {
			a.reject(w, r, err)
			return
		}
		next.ServeHTTP(w, req)
	})
}

// IsLoggedIn attaches the user when the request carries a valid session and
// passes the request through unchanged otherwise.
func (a *Authenticator) IsLoggedIn(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if req, err := a.guard(r); err == nil {
			r = req
		}
		next.ServeHTTP(w, r)
	})
}

func (a *Authenticator) reject(w http.ResponseWriter, r *http.Request, err error) {
	if appErr, ok := apperr.As(err); ok && appErr.Reason != "" {
		a.metrics.GuardRejection(appErr.Reason)
	}
	writeError(w, r, a.logger, err)
}

func extractToken(r *http.Request) (*http.Request, error) {
	token := bearerToken(r)
	if token == "" {
		if cookie, err := r.Cookie(TokenCookie); err == nil {
			token = strings.TrimSpace(cookie.Value)
		}
	}
	if token == "" {
		return nil, apperr.Unauthenticated("you are not logged in, please log in to get access", ReasonNoToken)
	}
	return r.WithContext(context.WithValue(r.Context(), tokenKey, token)), nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	scheme, token, ok := strings.Cut(header, " ")
	if !ok || !strings.EqualFold(scheme, "Bearer") {
		return ""
	}
	return strings.TrimSpace(token)
}

func (a *Authenticator) verifyToken(r *http.Request) (*http.Request, error) {
	token, _ := r.Context().Value(tokenKey).(string)
	session, err := a.tokens.Verify(token)
	switch {
	case errors.Is(err, auth.ErrTokenExpired):
		return nil, apperr.Unauthenticated("your token has expired, please log in again", ReasonTokenExpired).Wrap(err)
	case err != nil:
		return nil, apperr.Unauthenticated("invalid token, please log in again", ReasonTokenInvalid).Wrap(err)
	}
	return r.WithContext(context.WithValue(r.Context(), sessionKey, session)), nil
}

func (a *Authenticator) loadPrincipal(r *http.Request) (*http.Request, error) {
	session, _ := r.Context().Value(sessionKey).(auth.Session)
	user, err := a.users.FindByID(r.Context(), session.PrincipalID)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperr.Unauthenticated("the user belonging to this token no longer exists", ReasonUserGone)
	}
	if err != nil {
		return nil, fmt.Errorf("load principal: %w", err)
	}
	return r.WithContext(WithCurrentUser(r.Context(), user)), nil
}

func checkPasswordCutoff(r *http.Request) (*http.Request, error) {
	session, _ := r.Context().Value(sessionKey).(auth.Session)
	user, _ := CurrentUser(r.Context())
	if auth.ChangedPasswordAfter(user.PasswordChangedAt, session.IssuedAt) {
		return nil, apperr.Unauthenticated("user recently changed password, please log in again", ReasonPasswordChanged)
	}
	return r, nil
}

// RestrictTo allows only users holding one of roles. It must run after Protect.
func RestrictTo(logger logrus.FieldLogger, roles ...types.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			user, ok := CurrentUser(r.Context())
			if !ok {
				panic("handlers: RestrictTo used without an authenticated user")
			}
			for _, role := range roles {
				if user.Role == role {
					next.ServeHTTP(w, r)
					return
				}
			}
			writeError(w, r, logger, apperr.Forbidden("you do not have permission to perform this action"))
		})
	}
}
