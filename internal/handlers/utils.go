package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/natours/authserver/internal/apperr"
	"github.com/natours/authserver/internal/logging"
	"github.com/natours/authserver/types"
	"github.com/sirupsen/logrus"
)

type contextKey string

const (
	currentUserKey contextKey = "current_user"
	tokenKey       contextKey = "token"
	sessionKey     contextKey = "session"
)

const maxBodyBytes = 1 << 20

// WithCurrentUser attaches the authenticated user to ctx.
func WithCurrentUser(ctx context.Context, user types.User) context.Context {
	return context.WithValue(ctx, currentUserKey, user)
}

// CurrentUser returns the user attached by Protect or IsLoggedIn.
func CurrentUser(ctx context.Context) (types.User, bool) {
	user, ok := ctx.Value(currentUserKey).(types.User)
	return user, ok
}

// MessageResponse is used for errors and for responses without data.
type MessageResponse struct {
	Status  string `json:"status"`
	Message string `json:"message"`
}

type UserData struct {
	User *types.User `json:"user"`
}

type TokenResponse struct {
	Status string   `json:"status"`
	Token  string   `json:"token"`
	Data   UserData `json:"data"`
}

type DataResponse struct {
	Status string   `json:"status"`
	Data   UserData `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, value any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(value)
}

// writeError answers with the operational error in err, or with a generic
// 500 for anything else.
func writeError(w http.ResponseWriter, r *http.Request, logger logrus.FieldLogger, err error) {
	entry := logger.WithFields(logrus.Fields{
		"request_id": middleware.GetReqID(r.Context()),
		"method":     r.Method,
		"route":      logging.RoutePattern(r),
	})

	appErr, ok := apperr.As(err)
	if !ok {
		entry.WithError(err).Error("unexpected error")
		writeJSON(w, http.StatusInternalServerError, MessageResponse{Status: "error", Message: "something went very wrong"})
		return
	}

	status := appErr.Status()
	if status >= http.StatusInternalServerError {
		entry.WithError(err).Error(appErr.Message)
	} else if appErr.Err != nil || appErr.Reason != "" {
		entry.WithError(err).WithField("reason", appErr.Reason).Debug(appErr.Message)
	}

	label := "fail"
	if status >= http.StatusInternalServerError {
		label = "error"
	}
	writeJSON(w, status, MessageResponse{Status: label, Message: appErr.Message})
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return apperr.Validation("request body is required")
		}
		return apperr.Validation("invalid request body").Wrap(err)
	}
	return nil
}

// requestIsSecure reports whether the client reached us over TLS.
func requestIsSecure(r *http.Request, trustForwarding bool) bool {
	if r.TLS != nil {
		return true
	}
	return trustForwarding && strings.EqualFold(r.Header.Get("X-Forwarded-Proto"), "https")
}

// baseURL is the scheme and host the client used, for links in emails.
func baseURL(r *http.Request, trustForwarding bool) string {
	scheme := "http"
	if requestIsSecure(r, trustForwarding) {
		scheme = "https"
	}
	return scheme + "://" + r.Host
}

// Healthz reports liveness.
func Healthz(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, MessageResponse{Status: "success", Message: "ok"})
}
