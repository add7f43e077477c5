package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"leavn/api/internal/util"
)

// ErrSessionNotFound is returned for unknown, expired or revoked refresh tokens.
var ErrSessionNotFound = errors.New("refresh session not found")

func (s *SQLStore) EnsureUserByName(ctx context.Context, name string) (User, error) {
	_, err := s.db.ExecContext(ctx, s.db.rebind(`
		INSERT INTO users (id, display_name, role, created_at)
		VALUES (?, ?, 'editor', ?)
		ON CONFLICT (display_name) DO NOTHING
	`), util.NewID("usr"), name, s.now().UnixNano())
	if err != nil {
		return User{}, fmt.Errorf("insert user: %w", err)
	}

	var user User
	var createdAt int64
	err = s.db.QueryRowContext(ctx, s.db.rebind(`
		SELECT id, display_name, role, created_at FROM users WHERE display_name = ?
	`), name).Scan(&user.ID, &user.DisplayName, &user.Role, &createdAt)
	if err != nil {
		return User{}, fmt.Errorf("lookup user: %w", err)
	}
	user.CreatedAt = fromUnixNano(createdAt)
	return user, nil
}

func (s *SQLStore) GetUserByID(ctx context.Context, userID string) (User, error) {
	var user User
	var createdAt int64
	err := s.db.QueryRowContext(ctx, s.db.rebind(`
		SELECT id, display_name, role, created_at FROM users WHERE id = ?
	`), userID).Scan(&user.ID, &user.DisplayName, &user.Role, &createdAt)
	if err != nil {
		return User{}, err
	}
	user.CreatedAt = fromUnixNano(createdAt)
	return user, nil
}

func (s *SQLStore) SetUserRole(ctx context.Context, userID, role string) error {
	_, err := s.db.ExecContext(ctx, s.db.rebind(`UPDATE users SET role = ? WHERE id = ?`), role, userID)
	if err != nil {
		return fmt.Errorf("set user role: %w", err)
	}
	return nil
}

func (s *SQLStore) SaveRefreshSession(ctx context.Context, tokenHash string, user User, expiresAt time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.rebind(`
		INSERT INTO refresh_sessions (token_hash, user_id, expires_at)
		VALUES (?, ?, ?)
		ON CONFLICT (token_hash) DO UPDATE SET user_id = EXCLUDED.user_id, expires_at = EXCLUDED.expires_at, revoked_at = NULL
	`), tokenHash, user.ID, expiresAt.UnixNano())
	if err != nil {
		return fmt.Errorf("save refresh session: %w", err)
	}
	return nil
}

func (s *SQLStore) RevokeRefreshSession(ctx context.Context, tokenHash string) error {
	_, err := s.db.ExecContext(ctx, s.db.rebind(`UPDATE refresh_sessions SET revoked_at = ? WHERE token_hash = ?`), s.now().UnixNano(), tokenHash)
	if err != nil {
		return fmt.Errorf("revoke refresh session: %w", err)
	}
	return nil
}

func (s *SQLStore) LookupRefreshSession(ctx context.Context, tokenHash string) (User, error) {
	var user User
	var createdAt int64
	err := s.db.QueryRowContext(ctx, s.db.rebind(`
		SELECT u.id, u.display_name, u.role, u.created_at
		FROM refresh_sessions rs
		JOIN users u ON u.id = rs.user_id
		WHERE rs.token_hash = ?
			AND rs.revoked_at IS NULL
			AND rs.expires_at > ?
	`), tokenHash, s.now().UnixNano()).Scan(&user.ID, &user.DisplayName, &user.Role, &createdAt)
	if IsNotFound(err) {
		return User{}, ErrSessionNotFound
	}
	if err != nil {
		return User{}, fmt.Errorf("lookup refresh session: %w", err)
	}
	user.CreatedAt = fromUnixNano(createdAt)
	return user, nil
}

func (s *SQLStore) RevokeAccessToken(ctx context.Context, jti string, exp time.Time) error {
	_, err := s.db.ExecContext(ctx, s.db.rebind(`
		INSERT INTO revoked_access_tokens (jti, expires_at)
		VALUES (?, ?)
		ON CONFLICT (jti) DO NOTHING
	`), jti, exp.UnixNano())
	if err != nil {
		return fmt.Errorf("revoke access token: %w", err)
	}
	return nil
}

func (s *SQLStore) IsAccessTokenRevoked(ctx context.Context, jti string) (bool, error) {
	var count int
	err := s.db.QueryRowContext(ctx, s.db.rebind(`SELECT COUNT(*) FROM revoked_access_tokens WHERE jti = ?`), jti).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check revoked token: %w", err)
	}
	return count > 0, nil
}
