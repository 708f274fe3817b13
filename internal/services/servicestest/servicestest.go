// Package servicestest provides in-memory collaborators for service and handler tests.
package servicestest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/natours/authserver/internal/store"
	"github.com/natours/authserver/types"
)

// UserRepository is an in-memory store with the same lookup rules as the real adapters.
type UserRepository struct {
	mu    sync.Mutex
	users map[string]types.User
	now   func() time.Time

	// SaveHook, when set, runs before every Save with the 1-based call
	// number. A non-nil result fails that call.
	SaveHook func(call int, user types.User) error
	saves    int
}

func NewUserRepository() *UserRepository {
	return &UserRepository{users: make(map[string]types.User), now: time.Now}
}

// Get returns the stored record regardless of its active flag.
func (r *UserRepository) Get(id string) (types.User, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	return user, ok
}

// Saves returns the number of Save calls so far.
func (r *UserRepository) Saves() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.saves
}

// Put stores user as is.
func (r *UserRepository) Put(user types.User) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.users[user.ID] = user
}

func (r *UserRepository) FindByID(_ context.Context, id string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok || !user.Active {
		return types.User{}, store.ErrNotFound
	}
	return user, nil
}

func (r *UserRepository) FindByEmail(_ context.Context, email string) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	email = types.NormalizeEmail(email)
	for _, user := range r.users {
		if user.Email == email && user.Active {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) FindByResetToken(_ context.Context, tokenHash string, now time.Time) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	for _, user := range r.users {
		if !user.Active || user.PasswordResetToken == nil || *user.PasswordResetToken != tokenHash {
			continue
		}
		if user.HasPasswordReset(now) {
			return user, nil
		}
	}
	return types.User{}, store.ErrNotFound
}

func (r *UserRepository) Create(_ context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user.Email = types.NormalizeEmail(user.Email)
	for _, existing := range r.users {
		if existing.Email == user.Email {
			return types.User{}, store.ErrConflict
		}
	}
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = types.RoleUser
	}
	if user.Photo == "" {
		user.Photo = types.DefaultPhoto
	}
	now := r.now().UTC()
	user.CreatedAt = now
	user.UpdatedAt = now
	r.users[user.ID] = user
	return user, nil
}

func (r *UserRepository) Save(ctx context.Context, user types.User) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saves++
	if err := ctx.Err(); err != nil {
		return types.User{}, err
	}
	if r.SaveHook != nil {
		if err := r.SaveHook(r.saves, user); err != nil {
			return types.User{}, err
		}
	}
	if _, ok := r.users[user.ID]; !ok {
		return types.User{}, store.ErrNotFound
	}
	user.UpdatedAt = r.now().UTC()
	r.users[user.ID] = user
	return user, nil
}

func (r *UserRepository) UpdateByID(_ context.Context, id string, patch types.UserPatch) (types.User, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	user, ok := r.users[id]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	if patch.Email != nil {
		email := types.NormalizeEmail(*patch.Email)
		for otherID, other := range r.users {
			if otherID != id && other.Email == email {
				return types.User{}, store.ErrConflict
			}
		}
		user.Email = email
	}
	if patch.Name != nil {
		user.Name = *patch.Name
	}
	if patch.Photo != nil {
		user.Photo = *patch.Photo
	}
	if patch.Role != nil {
		if !patch.Role.Valid() {
			return types.User{}, errors.New("invalid role")
		}
		user.Role = *patch.Role
	}
	if patch.Active != nil {
		user.Active = *patch.Active
	}
	user.UpdatedAt = r.now().UTC()
	r.users[id] = user
	return user, nil
}

// SentEmail is one notification recorded by Notifier.
type SentEmail struct {
	Kind string
	User types.User
	URL  string
}

// Notifier records notifications instead of sending them.
type Notifier struct {
	mu   sync.Mutex
	sent []SentEmail

	// Err, when set, fails every send.
	Err error
}

func (n *Notifier) SendWelcome(_ context.Context, user types.User, url string) error {
	return n.record("welcome", user, url)
}

func (n *Notifier) SendPasswordReset(_ context.Context, user types.User, url string) error {
	return n.record("password_reset", user, url)
}

func (n *Notifier) record(kind string, user types.User, url string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.Err != nil {
		return n.Err
	}
	n.sent = append(n.sent, SentEmail{Kind: kind, User: user, URL: url})
	return nil
}

// Sent returns the recorded notifications.
func (n *Notifier) Sent() []SentEmail {
	n.mu.Lock()
	defer n.mu.Unlock()
	out := make([]SentEmail, len(n.sent))
	copy(out, n.sent)
	return out
}

// Last returns the most recent notification.
func (n *Notifier) Last() (SentEmail, bool) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if len(n.sent) == 0 {
		return SentEmail{}, false
	}
	return n.sent[len(n.sent)-1], true
}
