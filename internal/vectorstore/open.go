package vectorstore

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"docuchat/internal/apperr"
	"docuchat/internal/logger"
	"docuchat/internal/repository"
)

type Options struct {
	// DB holds the chunk tables. Nil means memory only.
	DB *gorm.DB
	// RequireDurable turns an unusable database into an error instead of a
	// degraded in-memory store.
	RequireDurable bool
}

// Open returns a store backed by the database, or an in-memory store
// reporting degraded health when the chunk tables cannot be prepared.
func Open(ctx context.Context, opts Options) (Store, error) {
	if opts.DB == nil {
		return NewMemory(), nil
	}

	chunks := repository.NewRAGChunkRepository(opts.DB)
	err := chunks.Migrate(ctx)
	if err == nil {
		err = chunks.Ping(ctx)
	}
	if err != nil {
		if opts.RequireDurable {
			return nil, fmt.Errorf("%w: vector store tables are unusable: %v", apperr.ErrConfiguration, err)
		}
		logger.Warn("vector store falling back to memory", "backend", chunks.Dialect(), "error", err)
		return newLocal(Health{
			Mode:     ModeMemory,
			Degraded: true,
			Reason:   fmt.Sprintf("%s vector tables are unusable: %v", chunks.Dialect(), err),
			Backend:  chunks.Dialect(),
		}), nil
	}

	logger.Info("vector store opened", "backend", chunks.Dialect(), "native_search", chunks.Dialect() == "postgres")
	return NewDatabase(chunks), nil
}
