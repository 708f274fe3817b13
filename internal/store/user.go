package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/natours/authserver/types"
)

const userColumns = `id, name, email, photo, role, password_hash, password_changed_at,
		password_reset_token, password_reset_expires, active, created_at, updated_at`

// UserRepository handles persistence for users.
type UserRepository struct {
	db  *sql.DB
	now func() time.Time
}

func NewUserRepository(db *sql.DB) *UserRepository {
	return &UserRepository{db: db, now: time.Now}
}

func (r *UserRepository) FindByID(ctx context.Context, id string) (types.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.User{}, ErrNotFound
	}
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE id = $1 AND active = TRUE`
	return r.scanOne(r.db.QueryRowContext(ctx, query, id))
}

func (r *UserRepository) FindByEmail(ctx context.Context, email string) (types.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE email = $1 AND active = TRUE`
	return r.scanOne(r.db.QueryRowContext(ctx, query, types.NormalizeEmail(email)))
}

// FindByResetToken returns the user holding tokenHash as an unexpired recovery token.
func (r *UserRepository) FindByResetToken(ctx context.Context, tokenHash string, now time.Time) (types.User, error) {
	query := `SELECT ` + userColumns + `
		FROM users
		WHERE password_reset_token = $1
			AND password_reset_expires > $2
			AND active = TRUE`
	return r.scanOne(r.db.QueryRowContext(ctx, query, tokenHash, now))
}

func (r *UserRepository) Create(ctx context.Context, user types.User) (types.User, error) {
	now := r.now()
	if user.ID == "" {
		user.ID = uuid.NewString()
	}
	if user.Role == "" {
		user.Role = types.RoleUser
	}
	if user.Photo == "" {
		user.Photo = types.DefaultPhoto
	}
	user.Email = types.NormalizeEmail(user.Email)
	user.Active = true
	user.CreatedAt = now
	user.UpdatedAt = now

	const query = `
		INSERT INTO users (` + userColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)`
	if _, err := r.db.ExecContext(
		ctx,
		query,
		user.ID,
		user.Name,
		user.Email,
		user.Photo,
		user.Role,
		user.PasswordHash,
		user.PasswordChangedAt,
		user.PasswordResetToken,
		user.PasswordResetExpires,
		user.Active,
		user.CreatedAt,
		user.UpdatedAt,
	); err != nil {
		return types.User{}, mapError(err)
	}
	return user, nil
}

// Save writes every mutable column of user.
func (r *UserRepository) Save(ctx context.Context, user types.User) (types.User, error) {
	user.UpdatedAt = r.now()

	const query = `
		UPDATE users
		SET name = $1,
			email = $2,
			photo = $3,
			role = $4,
			password_hash = $5,
			password_changed_at = $6,
			password_reset_token = $7,
			password_reset_expires = $8,
			active = $9,
			updated_at = $10
		WHERE id = $11`
	result, err := r.db.ExecContext(
		ctx,
		query,
		user.Name,
		types.NormalizeEmail(user.Email),
		user.Photo,
		user.Role,
		user.PasswordHash,
		user.PasswordChangedAt,
		user.PasswordResetToken,
		user.PasswordResetExpires,
		user.Active,
		user.UpdatedAt,
		user.ID,
	)
	if err != nil {
		return types.User{}, mapError(err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return types.User{}, err
	}
	if affected == 0 {
		return types.User{}, ErrNotFound
	}
	user.Email = types.NormalizeEmail(user.Email)
	return user, nil
}

// UpdateByID applies patch and returns the updated user. Inactive users are
// still addressable so an account can be reactivated.
func (r *UserRepository) UpdateByID(ctx context.Context, id string, patch types.UserPatch) (types.User, error) {
	if _, err := uuid.Parse(id); err != nil {
		return types.User{}, ErrNotFound
	}
	if patch.Role != nil && !patch.Role.Valid() {
		return types.User{}, fmt.Errorf("invalid role %q", *patch.Role)
	}

	sets := make([]string, 0, 6)
	args := make([]any, 0, 7)
	add := func(column string, value any) {
		args = append(args, value)
		sets = append(sets, fmt.Sprintf("%s = $%d", column, len(args)))
	}
	if patch.Name != nil {
		add("name", *patch.Name)
	}
	if patch.Email != nil {
		add("email", types.NormalizeEmail(*patch.Email))
	}
	if patch.Photo != nil {
		add("photo", *patch.Photo)
	}
	if patch.Role != nil {
		add("role", *patch.Role)
	}
	if patch.Active != nil {
		add("active", *patch.Active)
	}
	add("updated_at", r.now())
	args = append(args, id)

	query := `UPDATE users SET ` + strings.Join(sets, ", ") +
		fmt.Sprintf(` WHERE id = $%d RETURNING `, len(args)) + userColumns
	user, err := r.scanOne(r.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		return types.User{}, mapError(err)
	}
	return user, nil
}

func (r *UserRepository) scanOne(row *sql.Row) (types.User, error) {
	var user types.User
	err := row.Scan(
		&user.ID,
		&user.Name,
		&user.Email,
		&user.Photo,
		&user.Role,
		&user.PasswordHash,
		&user.PasswordChangedAt,
		&user.PasswordResetToken,
		&user.PasswordResetExpires,
		&user.Active,
		&user.CreatedAt,
		&user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return types.User{}, ErrNotFound
		}
		return types.User{}, err
	}
	return user, nil
}
