package database

import (
	"context"
	"fmt"
	"time"

	"github.com/user/vitrader/backend/internal/apperr"
	"github.com/user/vitrader/backend/internal/models"
)

const userColumns = `id, username, password_hash, email, activated, admin, created_at`

// CreateUser inserts a new, inactive user. A taken username or e-mail
// yields ErrDuplicate.
func (s *Store) CreateUser(ctx context.Context, username, passwordHash, email string) (*models.User, error) {
	user := &models.User{
		Username:  username,
		Password:  passwordHash, // This is the hash
		Email:     email,
		CreatedAt: time.Now().UTC().Truncate(time.Microsecond),
	}

	query := `INSERT INTO users (username, password_hash, email, activated, admin, created_at)
			  VALUES ($1, $2, $3, $4, $5, $6)
			  RETURNING id`

	err := s.db.QueryRow(ctx, query, username, passwordHash, email, false, false, user.CreatedAt).Scan(&user.ID)
	if err != nil {
		if isUniqueViolation(err) {
			return nil, fmt.Errorf("create user %s: %w", username, ErrDuplicate)
		}
		return nil, fmt.Errorf("create user %s: %w", username, err)
	}
	return user, nil
}

func (s *Store) getUser(ctx context.Context, where string, arg any) (*models.User, error) {
	user := &models.User{}
	query := `SELECT ` + userColumns + ` FROM users WHERE ` + where

	err := s.db.QueryRow(ctx, query, arg).Scan(
		&user.ID, &user.Username, &user.Password, &user.Email,
		&user.Activated, &user.Admin, &user.CreatedAt,
	)
	if err != nil {
		if isNoRows(err) {
			return nil, nil // User not found, return nil without error
		}
		return nil, err
	}
	return user, nil
}

// GetUserByUsername retrieves a user by their username. Returns nil, nil if absent.
func (s *Store) GetUserByUsername(ctx context.Context, username string) (*models.User, error) {
	return s.getUser(ctx, `username = $1`, username)
}

func (s *Store) GetUserByEmail(ctx context.Context, email string) (*models.User, error) {
	return s.getUser(ctx, `email = $1`, email)
}

func (s *Store) GetUserByID(ctx context.Context, userID int64) (*models.User, error) {
	return s.getUser(ctx, `id = $1`, userID)
}

// ActivateUser flags the account as activated. Activating twice is not an error.
func (s *Store) ActivateUser(ctx context.Context, userID int64) error {
	n, err := s.db.Exec(ctx, `UPDATE users SET activated = $1 WHERE id = $2`, true, userID)
	if err != nil {
		return fmt.Errorf("activate user %d: %w", userID, err)
	}
	if n != 1 {
		return fmt.Errorf("%w: user %d", apperr.ErrNotFound, userID)
	}
	return nil
}

func (s *Store) SetAdmin(ctx context.Context, userID int64, admin bool) error {
	n, err := s.db.Exec(ctx, `UPDATE users SET admin = $1 WHERE id = $2`, admin, userID)
	if err != nil {
		return fmt.Errorf("set admin for user %d: %w", userID, err)
	}
	if n != 1 {
		return fmt.Errorf("%w: user %d", apperr.ErrNotFound, userID)
	}
	return nil
}

func (s *Store) RenameUser(ctx context.Context, userID int64, username string) error {
	n, err := s.db.Exec(ctx, `UPDATE users SET username = $1 WHERE id = $2`, username, userID)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("rename user %d: %w", userID, ErrDuplicate)
		}
		return fmt.Errorf("rename user %d: %w", userID, err)
	}
	if n != 1 {
		return fmt.Errorf("%w: user %d", apperr.ErrNotFound, userID)
	}
	return nil
}

// DeleteUser removes the user together with its trades and positions.
func (s *Store) DeleteUser(ctx context.Context, userID int64) error {
	tx, err := s.db.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `DELETE FROM trades WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete trades of user %d: %w", userID, err)
	}
	if _, err := tx.Exec(ctx, `DELETE FROM positions WHERE user_id = $1`, userID); err != nil {
		return fmt.Errorf("delete positions of user %d: %w", userID, err)
	}
	n, err := tx.Exec(ctx, `DELETE FROM users WHERE id = $1`, userID)
	if err != nil {
		return fmt.Errorf("delete user %d: %w", userID, err)
	}
	if n != 1 {
		return fmt.Errorf("%w: user %d", apperr.ErrNotFound, userID)
	}
	return tx.Commit(ctx)
}
