package repository

import (
	"context"
	"database/sql"
	"errors"

	"github.com/google/uuid"

	"github.com/hivedb/hivedb/internal/catalog/domain"
	"github.com/hivedb/hivedb/internal/database"

	apperrors "github.com/hivedb/hivedb/internal/errors"
)

// PostgreSQLCellRepository handles cell and ownership persistence for PostgreSQL
type PostgreSQLCellRepository struct {
	db *sql.DB
}

// NewPostgreSQLCellRepository creates a new PostgreSQLCellRepository
func NewPostgreSQLCellRepository(db *sql.DB) *PostgreSQLCellRepository {
	return &PostgreSQLCellRepository{
		db: db,
	}
}

// Create inserts a new cell
func (r *PostgreSQLCellRepository) Create(ctx context.Context, cell *domain.Cell) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO cells (id, cell_key, name, password, owner_id, created_at, updated_at)
			  VALUES ($1, $2, $3, $4, $5, NOW(), NOW())`

	_, err := querier.ExecContext(ctx, query,
		cell.ID, cell.Key, cell.Name, cell.Password, cell.OwnerID,
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
func (r *PostgreSQLCellRepository) GetByKey(ctx context.Context, key string) (*domain.Cell, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, cell_key, name, password, owner_id, created_at, updated_at
			  FROM cells WHERE cell_key = $1`

	return scanCell(querier.QueryRowContext(ctx, query, key))
}

// ListByUser retrieves every cell the user holds a permission on
func (r *PostgreSQLCellRepository) ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Cell, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT c.id, c.cell_key, c.name, c.password, c.owner_id, c.created_at, c.updated_at
			  FROM cells c
			  JOIN cell_ownerships o ON o.cell_id = c.id
			  WHERE o.user_id = $1
			  ORDER BY c.created_at`

	rows, err := querier.QueryContext(ctx, query, userID)
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to list cells")
	}
	defer rows.Close()

	return collectCells(rows)
}

// Delete removes a cell and, via foreign keys, its ownerships
func (r *PostgreSQLCellRepository) Delete(ctx context.Context, id uuid.UUID) error {
	querier := database.GetTx(ctx, r.db)

	result, err := querier.ExecContext(ctx, `DELETE FROM cells WHERE id = $1`, id)
	if err != nil {
		return apperrors.Wrap(err, "failed to delete cell")
	}
	if rows, err := result.RowsAffected(); err == nil && rows == 0 {
		return domain.ErrCellNotFound
	}
	return nil
}

// Count returns the total number of cells
func (r *PostgreSQLCellRepository) Count(ctx context.Context) (int64, error) {
	querier := database.GetTx(ctx, r.db)

	var count int64
	err := querier.QueryRowContext(ctx, `SELECT COUNT(*) FROM cells`).Scan(&count)
	if err != nil {
		return 0, apperrors.Wrap(err, "failed to count cells")
	}
	return count, nil
}

// AddOwnership inserts a permission grant on a cell
func (r *PostgreSQLCellRepository) AddOwnership(ctx context.Context, ownership *domain.CellOwnership) error {
	querier := database.GetTx(ctx, r.db)

	query := `INSERT INTO cell_ownerships (id, cell_id, user_id, permission, created_at)
			  VALUES ($1, $2, $3, $4, NOW())`

	_, err := querier.ExecContext(ctx, query,
		ownership.ID, ownership.CellID, ownership.UserID, ownership.Permission,
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
func (r *PostgreSQLCellRepository) GetOwnership(
	ctx context.Context,
	cellID, userID uuid.UUID,
) (*domain.CellOwnership, error) {
	querier := database.GetTx(ctx, r.db)

	query := `SELECT id, cell_id, user_id, permission, created_at
			  FROM cell_ownerships WHERE cell_id = $1 AND user_id = $2`

	return scanOwnership(querier.QueryRowContext(ctx, query, cellID, userID))
}

// scanCell maps one cell row, translating sql.ErrNoRows to the domain error.
func scanCell(row rowScanner) (*domain.Cell, error) {
	var cell domain.Cell
	err := row.Scan(
		&cell.ID, &cell.Key, &cell.Name, &cell.Password, &cell.OwnerID,
		&cell.CreatedAt, &cell.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrCellNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get cell")
	}
	return &cell, nil
}

// scanOwnership maps one ownership row.
func scanOwnership(row rowScanner) (*domain.CellOwnership, error) {
	var ownership domain.CellOwnership
	err := row.Scan(
		&ownership.ID, &ownership.CellID, &ownership.UserID,
		&ownership.Permission, &ownership.CreatedAt,
	)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, domain.ErrOwnershipNotFound
		}
		return nil, apperrors.Wrap(err, "failed to get ownership")
	}
	return &ownership, nil
}

// collectCells drains a cells result set.
func collectCells(rows *sql.Rows) ([]*domain.Cell, error) {
	cells := make([]*domain.Cell, 0)
	for rows.Next() {
		var cell domain.Cell
		err := rows.Scan(
			&cell.ID, &cell.Key, &cell.Name, &cell.Password, &cell.OwnerID,
			&cell.CreatedAt, &cell.UpdatedAt,
		)
		if err != nil {
			return nil, apperrors.Wrap(err, "failed to scan cell")
		}
		cells = append(cells, &cell)
	}
	if err := rows.Err(); err != nil {
		return nil, apperrors.Wrap(err, "failed to iterate cells")
	}
	return cells, nil
}
