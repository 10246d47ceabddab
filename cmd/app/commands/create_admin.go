package commands

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/hivedb/hivedb/internal/app"
	catalogUseCase "github.com/hivedb/hivedb/internal/catalog/usecase"
	"github.com/hivedb/hivedb/internal/config"
)

// RunCreateAdmin registers a new user and promotes it to administrator.
func RunCreateAdmin(ctx context.Context, username, email, password string) error {
	cfg := config.Load()

	container := app.NewContainer(cfg)
	logger := container.Logger()

	defer closeContainer(container, logger)

	userUseCase, err := container.UserUseCase()
	if err != nil {
		return fmt.Errorf("failed to initialize user use case: %w", err)
	}

	user, err := userUseCase.RegisterUser(ctx, catalogUseCase.RegisterUserInput{
		Username: username,
		Email:    email,
		Password: password,
	})
	if err != nil {
		return fmt.Errorf("failed to register admin user: %w", err)
	}

	userRepo, err := container.UserRepository()
	if err != nil {
		return fmt.Errorf("failed to initialize user repository: %w", err)
	}

	user.IsAdmin = true
	if err := userRepo.Update(ctx, user); err != nil {
		return fmt.Errorf("failed to promote admin user: %w", err)
	}

	logger.Info("admin user created",
		slog.String("id", user.ID.String()),
		slog.String("username", user.Username),
		slog.String("email", user.Email),
	)
	return nil
}
