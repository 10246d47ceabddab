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

// SQLiteCellRepository handles cell and ownership persistence for SQLite. It
// uses `?` placeholders, so it also serves the MySQL driver.
type SQLiteCellRepository struct {
	db *sql.DB
}

// NewSQLiteCellRepository creates a new SQLiteCellRepository
func NewSQLiteCellRepository(db *sql.DB) *SQLiteCellRepository {
	return &SQLiteCellRepository{
		db: db,
	}
}

// Create inserts a new cell
func (r *SQLiteCellRepository) Create(ctx context.Context, cell *domain.Cell) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO cells (id, cell_key, name, password, owner_id, created_at, updated_at)
			  VALUES (?, ?, ?, ?, ?, ?, ?)`

	now := time.Now().UTC()
	_, err := querier.ExecContext(ctx, query,
		cell.ID, cell.Key, cell.Name, cell.Password, cell.OwnerID, now, now,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrCellAlreadyExists
		}
		return apperrors.Wrap(err, "failed to create cell")
	}
	return nil
}

// GetByKey retrieves a cell by its opaque key
func (r *SQLiteCellRepository) GetByKey(ctx context.Context, key string) (*domain.Cell, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, cell_key, name, password, owner_id, created_at, updated_at
			  FROM cells WHERE cell_key = ?`

	return scanCell(querier.QueryRowContext(ctx, query, key))
}

// ListByUser retrieves every cell the user holds a permission on
func (r *SQLiteCellRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Cell, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT c.id, c.cell_key, c.name, c.password, c.owner_id, c.created_at, c.updated_at
			  FROM cells c
			  JOIN cell_ownerships o ON o.cell_id = c.id
			  WHERE o.user_id = ?
			  ORDER BY c.created_at`

	rows, err := querier.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list cells")
	}
	defer rows.Close()

	return collectCells(rows)
}

// Delete removes a cell and, via foreign keys, its ownerships
func (r *SQLiteCellRepository) Delete(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM cells WHERE id = ?`, id)
	if err != nil {
		return apperrors.Wrap(err, "failed to delete cell")
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return domain.ErrCellNotFound
	}
	return nil
}

// Count returns the total number of cells
func (r *SQLiteCellRepository) Count(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx, `SELECT COUNT(*) FROM cells`).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count cells")
	}
	return count, nil
}

// AddOwnership inserts a permission grant on a cell
func (r *SQLiteCellRepository) AddOwnership(ctx context.Context, ownership *domain.CellOwnership) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO cell_ownerships (id, cell_id, user_id, permission, created_at)
			  VALUES (?, ?, ?, ?, ?)`

	_, err := querier.ExecContext(ctx, query,
		ownership.ID, ownership.CellID, ownership.UserID, ownership.Permission,
		time.Now().UTC(),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return domain.ErrOwnershipAlreadyExists
		}
		return apperrors.Wrap(err, "failed to add ownership")
	}
	return nil
}

// GetOwnership retrieves a user's permission on a cell
func (r *SQLiteCellRepository) GetOwnership(
	ctx context.Context,
	cellID, userID uuid.UUID,
) (*domain.CellOwnership, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, cell_id, user_id, permission, created_at
			  FROM cell_ownerships WHERE cell_id = ? AND user_id = ?`

	return scanOwnership(querier.QueryRowContext(ctx, query, cellID, userID))
}
