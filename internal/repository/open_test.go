package repository

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"mint/backend/internal/logging"
)

func TestOpen(t *testing.T) {
	ctx := context.Background()

	t.Run("memory", func(t *testing.T) {
		repo, closeFn, err := Open(ctx, "memory", "", logging.Discard())
		require.NoError(t, err)
		defer closeFn()
		assert.IsType(t, &MemoryStore{}, repo)
		_, migrates := repo.(Migrator)
		assert.False(t, migrates)
		assert.NoError(t, repo.Ping(ctx))
	})

	t.Run("unknown driver", func(t *testing.T) {
		_, _, err := Open(ctx, "sqlite", "", logging.Discard())
		assert.ErrorContains(t, err, `unknown database driver "sqlite"`)
	})

	t.Run("bad dsn", func(t *testing.T) {
		_, _, err := Open(ctx, "postgres", "port=notanumber", logging.Discard())
		assert.ErrorContains(t, err, "failed to parse database config")
	})
}
