package repository

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"

	"github.com/hivedb/hivedb/internal/catalog/domain"
	"github.com/hivedb/hivedb/internal/database"

	apperrors "github.com/hivedb/hivedb/internal/errors"
)

// SQLiteUserRepository handles user persistence for SQLite. It uses `?`
// placeholders, so it also serves the MySQL driver.
type SQLiteUserRepository struct {
	db *sql.DB
}

// NewSQLiteUserRepository creates a new SQLiteUserRepository
func NewSQLiteUserRepository(db *sql.DB) *SQLiteUserRepository {
	return &SQLiteUserRepository{
		db: db,
	}
}

// Create inserts a new user
func (r *SQLiteUserRepository) Create(ctx context.Context, user *domain.User) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO users (id, username, email, password, is_active, is_admin,
				failed_login_attempts, locked_until, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	_, err := querier.ExecContext(ctx, query,
		user.ID, user.Username, user.Email, user.Password,
		user.IsActive, user.IsAdmin, user.FailedLoginAttempts, user.LockedUntil,
		now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrUserAlreadyExists
		}
		return apperrors.Wrap(err, "failed to create user")
	}
	return nil
}

// GetByID retrieves a user by ID
func (r *SQLiteUserRepository) GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, username, email, password, is_active, is_admin,
				failed_login_attempts, locked_until, created_at, updated_at
			  FROM users WHERE id = ?`

	return scanUser(querier.QueryRowContext(ctx, query, id))
}

// GetByEmail retrieves a user by email
func (r *SQLiteUserRepository) GetByEmail(ctx context.Context, email string) (*domain.User, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, username, email, password, is_active, is_admin,
				failed_login_attempts, locked_until, created_at, updated_at
			  FROM users WHERE email = ?`

	return scanUser(querier.QueryRowContext(ctx, query, email))
}

// Update persists mutable user fields (activity, lockout tracking)
func (r *SQLiteUserRepository) Update(ctx context.Context, user *domain.User) error {
	querier := database.GetTx(ctx, r.db)

	query := `UPDATE users SET is_active = ?, is_admin = ?, failed_login_attempts = ?,
				locked_until = ?, updated_at = ?
			  WHERE id = ?`

	result, err := querier.ExecContext(ctx, query,
		user.IsActive, user.IsAdmin, user.FailedLoginAttempts, user.LockedUntil,
		time.Now().UTC(), user.ID,
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
func (r *SQLiteUserRepository) Count(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx, `SELECT COUNT(*) FROM users`).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count users")
	}
	return count, nil
}
