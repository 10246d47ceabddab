package usecase

import (
	"context"
	"math/big"
	"strings"

	validation "github.com/jellydator/validation"

	"github.com/allisson/go-pwdhash"
	"github.com/google/uuid"

	"github.com/hivedb/hivedb/internal/catalog/domain"
	"github.com/hivedb/hivedb/internal/database"
	apperrors "github.com/hivedb/hivedb/internal/errors"
	"github.com/hivedb/hivedb/internal/eventbus"
	appValidation "github.com/hivedb/hivedb/internal/validation"
)

// CreateCellInput contains the input data for cell creation
type CreateCellInput struct {
	Name     string `json:"name"`
	Password string `json:"password"`
}

// CellUseCaseInterface defines the interface for cell business logic operations
type CellUseCaseInterface interface {
	CreateCell(ctx context.Context, ownerID uuid.UUID, input CreateCellInput) (*domain.Cell, error)
	ListCells(ctx context.Context, userID uuid.UUID) ([]*domain.Cell, error)
	GetCell(ctx context.Context, key string) (*domain.Cell, error)
	DeleteCell(ctx context.Context, userID uuid.UUID, key string) error
	CheckAccess(ctx context.Context, userID uuid.UUID, key string, write bool) (*domain.Cell, error)
	AddOwnership(ctx context.Context, actorID uuid.UUID, key string, targetUserID uuid.UUID, permission domain.Permission) error
	VerifyCellPassword(cell *domain.Cell, password string) error
	CountCells(ctx context.Context) (int64, error)
}

// CellRepository interface defines cell repository operations
type CellRepository interface {
	Create(ctx context.Context, cell *domain.Cell) error
	GetByKey(ctx context.Context, key string) (*domain.Cell, error)
	ListByUser(ctx context.Context, userID uuid.UUID) ([]*domain.Cell, error)
	Delete(ctx context.Context, id uuid.UUID) error
	Count(ctx context.Context) (int64, error)
	AddOwnership(ctx context.Context, ownership *domain.CellOwnership) error
	GetOwnership(ctx context.Context, cellID, userID uuid.UUID) (*domain.CellOwnership, error)
}

// CellStore interface defines per-cell storage initialization
type CellStore interface {
	Create(ctx context.Context, cellKey, ownerID string) error
}

// CellUseCase handles cell-related business logic
type CellUseCase struct {
	txManager      database.TxManager
	cellRepo       CellRepository
	cellStore      CellStore
	publisher      *eventbus.Publisher
	passwordHasher *pwdhash.PasswordHasher
}

// NewCellUseCase creates a new CellUseCase
func NewCellUseCase(
	txManager database.TxManager,
	cellRepo CellRepository,
	cellStore CellStore,
	publisher *eventbus.Publisher,
) (*CellUseCase, error) {
	hasher, err := pwdhash.New(pwdhash.WithPolicy(pwdhash.PolicyInteractive))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to create password hasher")
	}

	return &CellUseCase{
		txManager:      txManager,
		cellRepo:       cellRepo,
		cellStore:      cellStore,
		publisher:      publisher,
		passwordHasher: hasher,
	}, nil
}

// newCellKey derives an opaque cell key from the first ten decimal digits of
// a random UUID's integer value.
func newCellKey() string {
	return cellKeyFromUUID(uuid.New())
}

func cellKeyFromUUID(id uuid.UUID) string {
	digits := new(big.Int).SetBytes(id[:]).String()
	// Near-zero UUIDs yield fewer than ten digits; pad instead of slicing
	// out of range.
	if len(digits) < 10 {
		digits = strings.Repeat("0", 10-len(digits)) + digits
	}
	return "cell" + digits[:10]
}

func (uc *CellUseCase) validateCreateCellInput(input CreateCellInput) error {
	err := validation.ValidateStruct(&input,
		validation.Field(&input.Name,
			validation.Length(0, 255).Error("name must be at most 255 characters"),
		),
		validation.Field(&input.Password,
			validation.Required.Error("password is required"),
			validation.Length(8, 128).Error("password must be between 8 and 128 characters"),
		),
	)
	return appValidation.WrapValidationError(err)
}

// CreateCell creates a cell, its owner grant and its backing store
func (uc *CellUseCase) CreateCell(ctx context.Context, ownerID uuid.UUID, input CreateCellInput) (*domain.Cell, error) {
	if err := uc.validateCreateCellInput(input); err != nil {
		return nil, err
	}

	hashedPassword, err := uc.passwordHasher.Hash([]byte(input.Password))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to hash cell password")
	}

	cell := &domain.Cell{
		ID:       uuid.Must(uuid.NewV7()),
		Key:      newCellKey(),
		Name:     strings.TrimSpace(input.Name),
		Password: hashedPassword,
		OwnerID:  ownerID,
	}
	// The name is optional; the opaque key doubles as a display name.
	if cell.Name == "" {
		cell.Name = cell.Key
	}

	err = uc.txManager.WithTx(ctx, func(ctx context.Context) error {
		if err := uc.cellRepo.Create(ctx, cell); err != nil {
			return err
		}
		return uc.cellRepo.AddOwnership(ctx, &domain.CellOwnership{
			ID:         uuid.Must(uuid.NewV7()),
			CellID:     cell.ID,
			UserID:     ownerID,
			Permission: domain.PermissionOwner,
		})
	})
	if err != nil {
		return nil, err
	}

	if err := uc.cellStore.Create(ctx, cell.Key, ownerID.String()); err != nil {
		return nil, apperrors.Wrap(err, "failed to initialize cell storage")
	}

	uc.publisher.CellEvent(ctx, cell.Key, "created", map[string]any{
		"name":     cell.Name,
		"owner_id": ownerID.String(),
	})
	uc.publisher.AuditEvent(ctx, ownerID.String(), "cell_created", "cells/"+cell.Key, map[string]any{
		"name": cell.Name,
	})

	return cell, nil
}

// ListCells returns every cell the user holds a permission on
func (uc *CellUseCase) ListCells(ctx context.Context, userID uuid.UUID) ([]*domain.Cell, error) {
	return uc.cellRepo.ListByUser(ctx, userID)
}

// GetCell retrieves a cell by its opaque key
func (uc *CellUseCase) GetCell(ctx context.Context, key string) (*domain.Cell, error) {
	return uc.cellRepo.GetByKey(ctx, key)
}

// DeleteCell removes the catalog entry for a cell. The per-cell storage file
// is left on disk.
func (uc *CellUseCase) DeleteCell(ctx context.Context, userID uuid.UUID, key string) error {
	cell, err := uc.CheckAccess(ctx, userID, key, true)
	if err != nil {
		return err
	}
	if cell.OwnerID != userID {
		return domain.ErrCellAccessDenied
	}

	if err := uc.cellRepo.Delete(ctx, cell.ID); err != nil {
		return err
	}

	uc.publisher.CellEvent(ctx, cell.Key, "deleted", map[string]any{
		"name": cell.Name,
	})
	uc.publisher.AuditEvent(ctx, userID.String(), "cell_deleted", "cells/"+cell.Key, nil)

	return nil
}

// CheckAccess resolves a cell and verifies the user holds a sufficient
// permission on it. Write access requires the owner or editor permission.
func (uc *CellUseCase) CheckAccess(ctx context.Context, userID uuid.UUID, key string, write bool) (*domain.Cell, error) {
	cell, err := uc.cellRepo.GetByKey(ctx, key)
	if err != nil {
		return nil, err
	}

	ownership, err := uc.cellRepo.GetOwnership(ctx, cell.ID, userID)
	if err != nil {
		if apperrors.Is(err, domain.ErrOwnershipNotFound) {
			return nil, domain.ErrCellAccessDenied
		}
		return nil, err
	}

	if write && !ownership.Permission.CanWrite() {
		return nil, domain.ErrCellAccessDenied
	}

	return cell, nil
}

// AddOwnership grants a permission on a cell to another user. Only the cell
// owner may grant permissions.
func (uc *CellUseCase) AddOwnership(
	ctx context.Context,
	actorID uuid.UUID,
	key string,
	targetUserID uuid.UUID,
	permission domain.Permission,
) error {
	if !permission.Valid() {
		return domain.ErrInvalidPermission
	}

	cell, err := uc.cellRepo.GetByKey(ctx, key)
	if err != nil {
		return err
	}
	if cell.OwnerID != actorID {
		return domain.ErrCellAccessDenied
	}

	err = uc.cellRepo.AddOwnership(ctx, &domain.CellOwnership{
		ID:         uuid.Must(uuid.NewV7()),
		CellID:     cell.ID,
		UserID:     targetUserID,
		Permission: permission,
	})
	if err != nil {
		return err
	}

	uc.publisher.AuditEvent(ctx, actorID.String(), "ownership_granted", "cells/"+cell.Key, map[string]any{
		"user_id":    targetUserID.String(),
		"permission": string(permission),
	})

	return nil
}

// VerifyCellPassword checks a plaintext password against the cell's hash
func (uc *CellUseCase) VerifyCellPassword(cell *domain.Cell, password string) error {
	ok, err := uc.passwordHasher.Verify([]byte(password), cell.Password)
	if err != nil || !ok {
		return domain.ErrCellAccessDenied
	}
	return nil
}

// CountCells returns the total number of cells
func (uc *CellUseCase) CountCells(ctx context.Context) (int64, error) {
	return uc.cellRepo.Count(ctx)
}
