package commands

import (
	"fmt"
	"log/slog"

	"github.com/hivedb/hivedb/internal/app"
	"github.com/hivedb/hivedb/internal/config"
)

// RunRotateMasterKey replaces the persisted master key with a freshly derived
// one. Envelopes sealed under the old key become unreadable, so this is an
// operator decision, never something the server does on its own.
func RunRotateMasterKey() error {
	cfg := config.Load()

	container := app.NewContainer(cfg)
	logger := container.Logger()

	defer closeContainer(container, logger)

	enclave, err := container.Enclave()
	if err != nil {
		return fmt.Errorf("failed to initialize enclave: %w", err)
	}
	if enclave == nil {
		return fmt.Errorf("crypto is disabled (CRYPTO_ENABLED=false) - nothing to rotate")
	}

	if err := enclave.RotateMasterKey(); err != nil {
		return fmt.Errorf("failed to rotate master key: %w", err)
	}

	logger.Info("master key rotated",
		slog.String("master_key_path", cfg.MasterKeyPath),
	)
	return nil
}
