package app

import (
	"log/slog"

	"github.com/joho/godotenv"

	"marketpipe/internal/domain"
	"marketpipe/internal/infra"
	"marketpipe/internal/infra/storage"
)

// Bootstrap orchestrates the application startup sequence
type Bootstrap struct {
	Config  *infra.Config
	Archive *storage.Storage
}

// NewBootstrap creates a new Bootstrap instance
func NewBootstrap() *Bootstrap {
	return &Bootstrap{}
}

// Initialize performs core system initialization (env, config, logger, DB).
func (b *Bootstrap) Initialize(configPath string) error {
	// .env is optional; environment overrides still apply without it.
	if err := godotenv.Load(); err != nil {
		slog.Debug("no .env file loaded", slog.Any("error", err))
	}

	cfg, err := infra.LoadConfig(configPath)
	if err != nil {
		return err // Let main handle the error
	}
	b.Config = cfg

	logger := infra.NewLogger(cfg)
	slog.SetDefault(logger)

	if cfg.Archive.Enabled {
		store, err := storage.NewStorage(cfg.Archive.Path)
		if err != nil {
			return err
		}
		b.Archive = store
		slog.Info("archive database initialized", slog.String("path", cfg.Archive.Path))
	}

	return nil
}

// ArchiveRepo returns the archive as the repository interface the core
// consumes, nil when archiving is disabled.
func (b *Bootstrap) ArchiveRepo() domain.ArchiveRepository {
	if b.Archive == nil {
		return nil
	}
	return b.Archive
}

// Close releases bootstrap-owned resources.
func (b *Bootstrap) Close() {
	if b.Archive != nil {
		if err := b.Archive.Close(); err != nil {
			slog.Warn("archive close failed", slog.Any("error", err))
		}
	}
}
