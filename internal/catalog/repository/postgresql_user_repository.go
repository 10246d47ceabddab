// Package repository provides data persistence implementations for catalog entities.
package repository

import (
	"context"
	"database/sql"
	"errors"
	"strings"

	"github.com/google/uuid"

	"github.com/hivedb/hivedb/internal/catalog/domain"
	"github.com/hivedb/hivedb/internal/database"

	apperrors "github.com/hivedb/hivedb/internal/errors"
)

// PostgreSQLUserRepository handles user persistence for PostgreSQL
type PostgreSQLUserRepository struct {
	db *sql.DB
}

// NewPostgreSQLUserRepository creates a new PostgreSQLUserRepository
func NewPostgreSQLUserRepository(db *sql.DB) *PostgreSQLUserRepository {
	return &PostgreSQLUserRepository{
		db: db,
	}
}

// Create inserts a new user
func (r *PostgreSQLUserRepository) Create(ctx context.Context, user *domain.User) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO users (id, username, email, password, is_active, is_admin,
				failed_login_attempts, locked_until, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW(), NOW())`

	_, err := querier.ExecContext(ctx, query,
		user.ID, user.Username, user.Email, user.Password,
		user.IsActive, user.IsAdmin, user.FailedLoginAttempts, user.LockedUntil,
	)
	if err != nil {
		// Check for unique constraint violation (duplicate email or username)
		if isUniqueViolation(err) {
			return domain.ErrUserAlreadyExists
		}
		return apperrors.Wrap(err, "failed to create user")
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *PostgreSQLUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, username, email, password, is_active, is_admin,
				failed_login_attempts, locked_until, created_at, updated_at
			  FROM users WHERE id = $1`

	return scanUser(querier.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves a user by email
func (r *PostgreSQLUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, username, email, password, is_active, is_admin,
				failed_login_attempts, locked_until, created_at, updated_at
			  FROM users WHERE email = $1`

	return scanUser(querier.QueryRowContext(ctx, query, email))
}

// Update persists mutable user fields (activity, lockout tracking)
func (r *PostgreSQLUserRepository) Update(ctx context.Context, user *domain.User) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE users SET is_active = $1, is_admin = $2, failed_login_attempts = $3,
				locked_until = $4, updated_at = NOW()
			  WHERE id = $5`

	result, err := querier.ExecContext(ctx, query,
		user.IsActive, user.IsAdmin, user.FailedLoginAttempts, user.LockedUntil, user.ID,
	)
	if err != nil {
		return apperrors.Wrap(err, "failed to update user")
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return domain.ErrUserNotFound
	}
	return nil
}

// Count returns the total number of users
func (r *PostgreSQLUserRepository) Count(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count users")
	}
	return count, nil
}

// rowScanner abstracts *sql.Row for shared scan helpers.
type rowScanner interface {
	Scan(dest ...any) error
}

// scanUser maps one user row, translating sql.ErrNoRows to the domain error.
func scanUser(row rowScanner) (*domain.User, error) {
	var user domain.User
	err := row.Scan(
		&user.ID, &user.Username, &user.Email, &user.Password,
		&user.IsActive, &user.IsAdmin, &user.FailedLoginAttempts, &user.LockedUntil,
		&user.CreatedAt, &user.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrUserNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get user")
	}
	return &user, nil
}

// isUniqueViolation checks if the error is a unique constraint violation for
// any of the supported drivers.
func isUniqueViolation(err error) bool {
	if err == nil {
		return false
	}
	errMsg := strings.ToLower(err.Error())
	// PostgreSQL: "duplicate key value violates unique constraint"
	// MySQL: "duplicate entry"
	// SQLite: "unique constraint failed"
	return strings.Contains(errMsg, "duplicate key") ||
		strings.Contains(errMsg, "duplicate entry") ||
		strings.Contains(errMsg, "unique constraint")
}
