package handlers

import (
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/natours/authserver/internal/services"
	"github.com/natours/authserver/types"
	"github.com/sirupsen/logrus"
)

const logoutCookieTTL = 10 * time.Second

// LoggedOutValue replaces the session token on logout.
const LoggedOutValue = "loggedout"

// CookieConfig controls the session cookie.
type CookieConfig struct {
	TTL             time.Duration
	TrustForwarding bool
}

// UserHandler serves the authentication and account routes.
type UserHandler struct {
	auth     *services.AuthService
	recovery *services.RecoveryService
	users    *services.UserService
	cookie   CookieConfig
	logger   logrus.FieldLogger
	now      func() time.Time
}

func NewUserHandler(authService *services.AuthService, recovery *services.RecoveryService, users *services.UserService, cookie CookieConfig, logger logrus.FieldLogger) *UserHandler {
	return &UserHandler{
		auth:     authService,
		recovery: recovery,
		users:    users,
		cookie:   cookie,
		logger:   logger,
		now:      time.Now,
	}
}

// UserRouter registers the user routes on r.
func UserRouter(r chi.Router, h *UserHandler, authn *Authenticator) {
	r.Post("/signup", h.Signup)
	r.Post("/login", h.Login)
	r.Get("/logout", h.Logout)
	r.Post("/forgotPassword", h.ForgotPassword)
	r.Patch("/resetPassword/{token}", h.ResetPassword)
	r.With(authn.IsLoggedIn).Get("/session", h.Session)

	r.Group(func(r chi.Router) {
		r.Use(authn.Protect)
		r.Patch("/updateMyPassword", h.UpdatePassword)
		r.Get("/me", h.GetMe)
		r.Patch("/updateMe", h.UpdateMe)
		r.Delete("/deleteMe", h.DeleteMe)
		r.With(RestrictTo(h.logger, types.RoleAdmin)).Post("/", h.CreateUser)
	})
}

type LoginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type ForgotPasswordRequest struct {
	Email string `json:"email"`
}

type CreateUserRequest struct {
	services.SignupInput
	Role string `json:"role"`
}

// Signup creates an account and logs it in.
func (h *UserHandler) Signup(w http.ResponseWriter, r *http.Request) {
	var req services.SignupInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	session, err := h.auth.Signup(r.Context(), req, baseURL(r, h.cookie.TrustForwarding))
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.sendToken(w, r, http.StatusCreated, session)
}

// Login verifies credentials and returns a new token.
func (h *UserHandler) Login(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	session, err := h.auth.Login(r.Context(), req.Email, req.Password)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.sendToken(w, r, http.StatusOK, session)
}

// Logout overwrites the session cookie. Bearer tokens stay valid until they expire.
func (h *UserHandler) Logout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    LoggedOutValue,
		Path:     "/",
		Expires:  h.now().Add(logoutCookieTTL),
		HttpOnly: true,
	})
	writeJSON(w, http.StatusOK, MessageResponse{Status: "success", Message: "logged out"})
}

func (h *UserHandler) ForgotPassword(w http.ResponseWriter, r *http.Request) {
	var req ForgotPasswordRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	if err := h.recovery.ForgotPassword(r.Context(), req.Email, baseURL(r, h.cookie.TrustForwarding)); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, MessageResponse{Status: "success", Message: "token sent to email"})
}

func (h *UserHandler) ResetPassword(w http.ResponseWriter, r *http.Request) {
	var req services.PasswordInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	session, err := h.recovery.ResetPassword(r.Context(), chi.URLParam(r, "token"), req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.sendToken(w, r, http.StatusOK, session)
}

func (h *UserHandler) UpdatePassword(w http.ResponseWriter, r *http.Request) {
	var req services.UpdatePasswordInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	user, _ := CurrentUser(r.Context())
	session, err := h.recovery.UpdatePassword(r.Context(), user, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	h.sendToken(w, r, http.StatusOK, session)
}

func (h *UserHandler) GetMe(w http.ResponseWriter, r *http.Request) {
	current, _ := CurrentUser(r.Context())
	user, err := h.users.GetMe(r.Context(), current)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Status: "success", Data: UserData{User: &user}})
}

func (h *UserHandler) UpdateMe(w http.ResponseWriter, r *http.Request) {
	var req services.UpdateMeInput
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	current, _ := CurrentUser(r.Context())
	user, err := h.users.UpdateMe(r.Context(), current, req)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusOK, DataResponse{Status: "success", Data: UserData{User: &user}})
}

func (h *UserHandler) DeleteMe(w http.ResponseWriter, r *http.Request) {
	current, _ := CurrentUser(r.Context())
	if err := h.users.DeleteMe(r.Context(), current); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

// CreateUser lets an administrator create an account with any role.
func (h *UserHandler) CreateUser(w http.ResponseWriter, r *http.Request) {
	var req CreateUserRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	user, err := h.auth.CreateUser(r.Context(), req.SignupInput, req.Role)
	if err != nil {
		writeError(w, r, h.logger, err)
		return
	}
	writeJSON(w, http.StatusCreated, DataResponse{Status: "success", Data: UserData{User: &user}})
}

// Session reports the user attached by IsLoggedIn, or null.
func (h *UserHandler) Session(w http.ResponseWriter, r *http.Request) {
	var data UserData
	if user, ok := CurrentUser(r.Context()); ok {
		sanitized := user.Sanitized()
		data.User = &sanitized
	}
	writeJSON(w, http.StatusOK, data)
}

func (h *UserHandler) sendToken(w http.ResponseWriter, r *http.Request, status int, session services.Session) {
	http.SetCookie(w, &http.Cookie{
		Name:     TokenCookie,
		Value:    session.Token,
		Path:     "/",
		Expires:  h.now().Add(h.cookie.TTL),
		HttpOnly: true,
		Secure:   requestIsSecure(r, h.cookie.TrustForwarding),
		SameSite: http.SameSiteLaxMode,
	})
	user := session.User
	writeJSON(w, status, TokenResponse{Status: "success", Token: session.Token, Data: UserData{User: &user}})
}
