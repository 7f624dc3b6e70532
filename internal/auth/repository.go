package auth

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
)

var (
	ErrUsernameTaken = errors.New("username already taken")
	ErrUserNotFound  = errors.New("user not found")
)

type Repository struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db}
}

// CreateUser inserts the user and reports ErrUsernameTaken on a duplicate
// username. Uniqueness is observed through the conflict clause's affected-row
// count rather than by inspecting driver error codes.
func (r *Repository) CreateUser(ctx context.Context, user User) error {
	res, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO NOTHING
	`, user.ID, user.Username, user.PasswordHash, user.Role, user.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("insert user: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("insert user rows affected: %w", err)
	}
	if affected == 0 {
		return ErrUsernameTaken
	}

	return nil
}

func (r *Repository) GetUserByUsername(ctx context.Context, username string) (User, error) {
	var user User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, created_at
		FROM users
		WHERE username = $1
	`, username).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by username: %w", err)
	}

	return user, nil
}

func (r *Repository) GetUserByID(ctx context.Context, id string) (User, error) {
	var user User
	err := r.db.QueryRowContext(ctx, `
		SELECT id, username, password_hash, role, created_at
		FROM users
		WHERE id = $1
	`, id).Scan(&user.ID, &user.Username, &user.PasswordHash, &user.Role, &user.CreatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return User{}, ErrUserNotFound
		}
		return User{}, fmt.Errorf("query user by id: %w", err)
	}

	return user, nil
}

// UpsertAdmin provisions the out-of-band admin account: inserted on first
// boot, password and role refreshed on subsequent boots.
func (r *Repository) UpsertAdmin(ctx context.Context, user User) error {
	_, err := r.db.ExecContext(ctx, `
		INSERT INTO users (id, username, password_hash, role, created_at)
		VALUES ($1, $2, $3, $4, $5)
		ON CONFLICT (username) DO UPDATE SET
			password_hash = EXCLUDED.password_hash,
			role = EXCLUDED.role
	`, user.ID, user.Username, user.PasswordHash, RoleAdmin, user.CreatedAt.UTC())
	if err != nil {
		return fmt.Errorf("upsert admin user: %w", err)
	}

	return nil
}

func (r *Repository) CreateRefreshToken(ctx context.Context, userID, rawToken string, expiresAt time.Time) error {
	id, err := uuid.NewV7()
	if err != nil {
		return fmt.Errorf("generate refresh token id: %w", err)
	}

	_, err = r.db.ExecContext(ctx, `
		INSERT INTO auth_refresh_tokens (id, user_id, token_hash, expires_at)
		VALUES ($1, $2, $3, $4)
	`, id.String(), userID, hashToken(rawToken), expiresAt.UTC())
	if err != nil {
		return fmt.Errorf("insert refresh token: %w", err)
	}

	return nil
}

func (r *Repository) RefreshTokenExists(ctx context.Context, userID, rawToken string) (bool, error) {
	var exists bool
	err := r.db.QueryRowContext(ctx, `
		SELECT EXISTS(
			SELECT 1 FROM auth_refresh_tokens
			WHERE user_id = $1 AND token_hash = $2
		)
	`, userID, hashToken(rawToken)).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("query refresh token: %w", err)
	}

	return exists, nil
}

// DeleteRefreshToken is idempotent: deleting a token that was never stored,
// or was already deleted, is not an error.
func (r *Repository) DeleteRefreshToken(ctx context.Context, rawToken string) error {
	_, err := r.db.ExecContext(ctx, `
		DELETE FROM auth_refresh_tokens
		WHERE token_hash = $1
	`, hashToken(rawToken))
	if err != nil {
		return fmt.Errorf("delete refresh token: %w", err)
	}

	return nil
}

func (r *Repository) DeleteExpiredRefreshTokens(ctx context.Context, batchSize int) (int64, error) {
	if batchSize <= 0 {
		batchSize = 500
	}

	res, err := r.db.ExecContext(ctx, `
		WITH stale AS (
			SELECT id
			FROM auth_refresh_tokens
			WHERE expires_at < NOW()
			ORDER BY expires_at ASC
			LIMIT $1
		)
		DELETE FROM auth_refresh_tokens t
		USING stale
		WHERE t.id = stale.id
	`, batchSize)
	if err != nil {
		return 0, fmt.Errorf("delete expired refresh tokens: %w", err)
	}

	affected, err := res.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("expired refresh tokens rows affected: %w", err)
	}

	return affected, nil
}

func hashToken(rawToken string) string {
	hash := sha256.Sum256([]byte(rawToken))
	return hex.EncodeToString(hash[:])
}
