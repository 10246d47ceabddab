package repository

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	_ "modernc.org/sqlite"

	"github.com/hivedb/hivedb/internal/catalog/domain"
	apperrors "github.com/hivedb/hivedb/internal/errors"
)

const testSchema = `
CREATE TABLE users (
	id TEXT PRIMARY KEY,
	username TEXT NOT NULL UNIQUE,
	email TEXT NOT NULL UNIQUE,
	password TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT TRUE,
	is_admin BOOLEAN NOT NULL DEFAULT FALSE,
	failed_login_attempts INTEGER NOT NULL DEFAULT 0,
	locked_until TIMESTAMP,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE cells (
	id TEXT PRIMARY KEY,
	cell_key TEXT NOT NULL UNIQUE,
	name TEXT NOT NULL,
	password TEXT NOT NULL,
	owner_id TEXT NOT NULL REFERENCES users (id),
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE TABLE cell_ownerships (
	id TEXT PRIMARY KEY,
	cell_id TEXT NOT NULL REFERENCES cells (id) ON DELETE CASCADE,
	user_id TEXT NOT NULL REFERENCES users (id),
	permission TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	UNIQUE (cell_id, user_id)
);
`

func setupSQLiteDB(t *testing.T) *sql.DB {
	t.Helper()

	db, err := sql.Open("sqlite", "file:"+t.TempDir()+"/catalog.db?_pragma=foreign_keys(1)")
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })

	_, err = db.Exec(testSchema)
	require.NoError(t, err)
	return db
}

func createTestUser(t *testing.T, repo *SQLiteUserRepository, username, email string) *domain.User {
	t.Helper()

	user := &domain.User{
		ID:       uuid.Must(uuid.NewV7()),
		Username: username,
		Email:    email,
		Password: "hashed_password",
		IsActive: true,
	}
	require.NoError(t, repo.Create(context.Background(), user))
	return user
}

func TestSQLiteUserRepository(t *testing.T) {
	t.Run("create and get", func(t *testing.T) {
		db := setupSQLiteDB(t)
		repo := NewSQLiteUserRepository(db)
		ctx := context.Background()

		user := createTestUser(t, repo, "alice", "alice@example.com")

		found, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, user.ID, found.ID)
		assert.Equal(t, "alice", found.Username)
		assert.True(t, found.IsActive)
		assert.False(t, found.CreatedAt.IsZero())

		byEmail, err := repo.GetByEmail(ctx, "alice@example.com")
		require.NoError(t, err)
		assert.Equal(t, user.ID, byEmail.ID)
	})

	t.Run("duplicate email maps to conflict", func(t *testing.T) {
		db := setupSQLiteDB(t)
		repo := NewSQLiteUserRepository(db)

		createTestUser(t, repo, "alice", "alice@example.com")

		err := repo.Create(context.Background(), &domain.User{
			ID:       uuid.Must(uuid.NewV7()),
			Username: "other",
			Email:    "alice@example.com",
			Password: "hashed_password",
		})
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})

	t.Run("get missing user maps to not found", func(t *testing.T) {
		db := setupSQLiteDB(t)
		repo := NewSQLiteUserRepository(db)

		_, err := repo.GetByID(context.Background(), uuid.Must(uuid.NewV7()))
		assert.ErrorIs(t, err, domain.ErrUserNotFound)
	})

	t.Run("update persists lockout fields", func(t *testing.T) {
		db := setupSQLiteDB(t)
		repo := NewSQLiteUserRepository(db)
		ctx := context.Background()

		user := createTestUser(t, repo, "alice", "alice@example.com")

		lockedUntil := time.Now().Add(15 * time.Minute).UTC()
		user.FailedLoginAttempts = 5
		user.LockedUntil = &lockedUntil
		require.NoError(t, repo.Update(ctx, user))

		found, err := repo.GetByID(ctx, user.ID)
		require.NoError(t, err)
		assert.Equal(t, 5, found.FailedLoginAttempts)
		require.NotNil(t, found.LockedUntil)
		assert.WithinDuration(t, lockedUntil, *found.LockedUntil, time.Second)
	})

	t.Run("count", func(t *testing.T) {
		db := setupSQLiteDB(t)
		repo := NewSQLiteUserRepository(db)

		createTestUser(t, repo, "alice", "alice@example.com")
		createTestUser(t, repo, "bob", "bob@example.com")

		count, err := repo.Count(context.Background())
		require.NoError(t, err)
		assert.Equal(t, int64(2), count)
	})
}

func TestSQLiteCellRepository(t *testing.T) {
	t.Run("create get and list", func(t *testing.T) {
		db := setupSQLiteDB(t)
		userRepo := NewSQLiteUserRepository(db)
		cellRepo := NewSQLiteCellRepository(db)
		ctx := context.Background()

		owner := createTestUser(t, userRepo, "alice", "alice@example.com")

		cell := &domain.Cell{
			ID:       uuid.Must(uuid.NewV7()),
			Key:      "cell0000000001",
			Name:     "metrics",
			Password: "hashed_cell_password",
			OwnerID:  owner.ID,
		}
		require.NoError(t, cellRepo.Create(ctx, cell))

		require.NoError(t, cellRepo.AddOwnership(ctx, &domain.CellOwnership{
			ID:         uuid.Must(uuid.NewV7()),
			CellID:     cell.ID,
			UserID:     owner.ID,
			Permission: domain.PermissionOwner,
		}))

		found, err := cellRepo.GetByKey(ctx, "cell0000000001")
		require.NoError(t, err)
		assert.Equal(t, cell.ID, found.ID)
		assert.Equal(t, "metrics", found.Name)

		cells, err := cellRepo.ListByUser(ctx, owner.ID)
		require.NoError(t, err)
		require.Len(t, cells, 1)
		assert.Equal(t, cell.Key, cells[0].Key)
	})

	t.Run("duplicate key maps to conflict", func(t *testing.T) {
		db := setupSQLiteDB(t)
		userRepo := NewSQLiteUserRepository(db)
		cellRepo := NewSQLiteCellRepository(db)
		ctx := context.Background()

		owner := createTestUser(t, userRepo, "alice", "alice@example.com")
		cell := &domain.Cell{
			ID:       uuid.Must(uuid.NewV7()),
			Key:      "cell0000000001",
			Name:     "metrics",
			Password: "h",
			OwnerID:  owner.ID,
		}
		require.NoError(t, cellRepo.Create(ctx, cell))

		err := cellRepo.Create(ctx, &domain.Cell{
			ID:       uuid.Must(uuid.NewV7()),
			Key:      "cell0000000001",
			Name:     "other",
			Password: "h",
			OwnerID:  owner.ID,
		})
		assert.ErrorIs(t, err, apperrors.ErrConflict)
	})

	t.Run("list excludes cells without ownership", func(t *testing.T) {
		db := setupSQLiteDB(t)
		userRepo := NewSQLiteUserRepository(db)
		cellRepo := NewSQLiteCellRepository(db)
		ctx := context.Background()

		owner := createTestUser(t, userRepo, "alice", "alice@example.com")
		stranger := createTestUser(t, userRepo, "bob", "bob@example.com")

		cell := &domain.Cell{
			ID:       uuid.Must(uuid.NewV7()),
			Key:      "cell0000000001",
			Name:     "metrics",
			Password: "h",
			OwnerID:  owner.ID,
		}
		require.NoError(t, cellRepo.Create(ctx, cell))
		require.NoError(t, cellRepo.AddOwnership(ctx, &domain.CellOwnership{
			ID:         uuid.Must(uuid.NewV7()),
			CellID:     cell.ID,
			UserID:     owner.ID,
			Permission: domain.PermissionOwner,
		}))

		cells, err := cellRepo.ListByUser(ctx, stranger.ID)
		require.NoError(t, err)
		assert.Empty(t, cells)
	})

	t.Run("ownership lookup", func(t *testing.T) {
		db := setupSQLiteDB(t)
		userRepo := NewSQLiteUserRepository(db)
		cellRepo := NewSQLiteCellRepository(db)
		ctx := context.Background()

		owner := createTestUser(t, userRepo, "alice", "alice@example.com")
		viewer := createTestUser(t, userRepo, "bob", "bob@example.com")

		cell := &domain.Cell{
			ID:       uuid.Must(uuid.NewV7()),
			Key:      "cell0000000001",
			Name:     "metrics",
			Password: "h",
			OwnerID:  owner.ID,
		}
		require.NoError(t, cellRepo.Create(ctx, cell))
		require.NoError(t, cellRepo.AddOwnership(ctx, &domain.CellOwnership{
			ID:         uuid.Must(uuid.NewV7()),
			CellID:     cell.ID,
			UserID:     viewer.ID,
			Permission: domain.PermissionViewer,
		}))

		ownership, err := cellRepo.GetOwnership(ctx, cell.ID, viewer.ID)
		require.NoError(t, err)
		assert.Equal(t, domain.PermissionViewer, ownership.Permission)

		_, err = cellRepo.GetOwnership(ctx, cell.ID, owner.ID)
		assert.ErrorIs(t, err, domain.ErrOwnershipNotFound)
	})

	t.Run("delete cascades ownerships", func(t *testing.T) {
		db := setupSQLiteDB(t)
		userRepo := NewSQLiteUserRepository(db)
		cellRepo := NewSQLiteCellRepository(db)
		ctx := context.Background()

		owner := createTestUser(t, userRepo, "alice", "alice@example.com")
		cell := &domain.Cell{
			ID:       uuid.Must(uuid.NewV7()),
			Key:      "cell0000000001",
			Name:     "metrics",
			Password: "h",
			OwnerID:  owner.ID,
		}
		require.NoError(t, cellRepo.Create(ctx, cell))
		require.NoError(t, cellRepo.AddOwnership(ctx, &domain.CellOwnership{
			ID:         uuid.Must(uuid.NewV7()),
			CellID:     cell.ID,
			UserID:     owner.ID,
			Permission: domain.PermissionOwner,
		}))

		require.NoError(t, cellRepo.Delete(ctx, cell.ID))

		_, err := cellRepo.GetByKey(ctx, "cell0000000001")
		assert.ErrorIs(t, err, domain.ErrCellNotFound)

		_, err = cellRepo.GetOwnership(ctx, cell.ID, owner.ID)
		assert.ErrorIs(t, err, domain.ErrOwnershipNotFound)
	})
}
