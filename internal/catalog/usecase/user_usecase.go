// Package usecase implements the catalog business logic for users, cells and
// cell ownerships.
package usecase

import (
	"context"
	"strings"
	"time"

	validation "github.com/jellydator/validation"

	"github.com/allisson/go-pwdhash"
	"github.com/google/uuid"

	"github.com/hivedb/hivedb/internal/catalog/domain"
	apperrors "github.com/hivedb/hivedb/internal/errors"
	"github.com/hivedb/hivedb/internal/eventbus"
	appValidation "github.com/hivedb/hivedb/internal/validation"
)

// RegisterUserInput contains the input data for user registration
type RegisterUserInput struct {
	Username string `json:"username"`
	Email    string `json:"email"`
	Password string `json:"password"`
}

// UserUseCaseInterface defines the interface for user business logic operations
type UserUseCaseInterface interface {
	RegisterUser(ctx context.Context, input RegisterUserInput) (*domain.User, error)
	Authenticate(ctx context.Context, email, password string) (*domain.User, error)
	GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	CountUsers(ctx context.Context) (int64, error)
}

// UserRepository interface defines user repository operations
type UserRepository interface {
	Create(ctx context.Context, user *domain.User) error
	GetByID(ctx context.Context, id uuid.UUID) (*domain.User, error)
	GetByEmail(ctx context.Context, email string) (*domain.User, error)
	Update(ctx context.Context, user *domain.User) error
	Count(ctx context.Context) (int64, error)
}

// UserUseCase handles user-related business logic
type UserUseCase struct {
	userRepo        UserRepository
	publisher       *eventbus.Publisher
	passwordHasher  *pwdhash.PasswordHasher
	maxLoginRetries int
	lockoutDuration time.Duration
}

// NewUserUseCase creates a new UserUseCase
func NewUserUseCase(
	userRepo UserRepository,
	publisher *eventbus.Publisher,
	maxLoginRetries int,
	lockoutDuration time.Duration,
) (*UserUseCase, error) {
	// Initialize password hasher with interactive policy for user passwords
	hasher, err := pwdhash.New(pwdhash.WithPolicy(pwdhash.PolicyInteractive))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to create password hasher")
	}

	return &UserUseCase{
		userRepo:        userRepo,
		publisher:       publisher,
		passwordHasher:  hasher,
		maxLoginRetries: maxLoginRetries,
		lockoutDuration: lockoutDuration,
	}, nil
}

// validateRegisterUserInput validates the registration input using jellydator/validation
func (uc *UserUseCase) validateRegisterUserInput(input RegisterUserInput) error {
	err := validation.ValidateStruct(&input,
		validation.Field(&input.Username,
			validation.Required.Error("username is required"),
			appValidation.NotBlank,
			validation.Length(1, 255).Error("username must be between 1 and 255 characters"),
		),
		validation.Field(&input.Email,
			validation.Required.Error("email is required"),
			appValidation.NotBlank,
			appValidation.Email,
			validation.Length(5, 255).Error("email must be between 5 and 255 characters"),
		),
		validation.Field(&input.Password,
			validation.Required.Error("password is required"),
			validation.Length(8, 128).Error("password must be between 8 and 128 characters"),
			appValidation.PasswordStrength{
				MinLength:     8,
				RequireUpper:  true,
				RequireLower:  true,
				RequireNumber: true,
			},
		),
	)
	return appValidation.WrapValidationError(err)
}

// RegisterUser registers a new user and publishes a registration event
func (uc *UserUseCase) RegisterUser(ctx context.Context, input RegisterUserInput) (*domain.User, error) {
	if err := uc.validateRegisterUserInput(input); err != nil {
		return nil, err
	}

	hashedPassword, err := uc.passwordHasher.Hash([]byte(input.Password))
	if err != nil {
		return nil, apperrors.Wrap(err, "failed to hash password")
	}

	user := &domain.User{
		ID:       uuid.Must(uuid.NewV7()),
		Username: strings.TrimSpace(input.Username),
		Email:    strings.TrimSpace(strings.ToLower(input.Email)),
		Password: hashedPassword,
		IsActive: true,
	}

	if err := uc.userRepo.Create(ctx, user); err != nil {
		return nil, err
	}

	uc.publisher.UserEvent(ctx, user.ID.String(), "registered", map[string]any{
		"username": user.Username,
		"email":    user.Email,
	})

	return user, nil
}

// Authenticate verifies credentials and enforces the failed-login lockout.
// After maxLoginRetries consecutive failures the account is locked for
// lockoutDuration; the counter resets on a successful login.
func (uc *UserUseCase) Authenticate(ctx context.Context, email, password string) (*domain.User, error) {
	email = strings.TrimSpace(strings.ToLower(email))

	user, err := uc.userRepo.GetByEmail(ctx, email)
	if err != nil {
		if apperrors.Is(err, domain.ErrUserNotFound) {
			return nil, domain.ErrInvalidCredentials
		}
		return nil, err
	}

	now := time.Now().UTC()
	if user.Locked(now) {
		return nil, domain.ErrUserLocked
	}

	ok, verifyErr := uc.passwordHasher.Verify([]byte(password), user.Password)
	if verifyErr != nil || !ok {
		user.FailedLoginAttempts++
		if user.FailedLoginAttempts >= uc.maxLoginRetries {
			lockedUntil := now.Add(uc.lockoutDuration)
			user.LockedUntil = &lockedUntil
			uc.publisher.AuditEvent(ctx, user.ID.String(), "account_locked", "users/"+user.ID.String(), map[string]any{
				"failed_attempts": user.FailedLoginAttempts,
			})
		}
		if err := uc.userRepo.Update(ctx, user); err != nil {
			return nil, err
		}
		return nil, domain.ErrInvalidCredentials
	}

	if !user.IsActive {
		return nil, domain.ErrUserInactive
	}

	if user.FailedLoginAttempts > 0 || user.LockedUntil != nil {
		user.FailedLoginAttempts = 0
		user.LockedUntil = nil
		if err := uc.userRepo.Update(ctx, user); err != nil {
			return nil, err
		}
	}

	uc.publisher.UserEvent(ctx, user.ID.String(), "authenticated", map[string]any{
		"username": user.Username,
	})

	return user, nil
}

// GetUserByID retrieves a user by ID
func (uc *UserUseCase) GetUserByID(ctx context.Context, id uuid.UUID) (*domain.User, error) {
	return uc.userRepo.GetByID(ctx, id)
}

// CountUsers returns the total number of registered users
func (uc *UserUseCase) CountUsers(ctx context.Context) (int64, error) {
	return uc.userRepo.Count(ctx)
}
