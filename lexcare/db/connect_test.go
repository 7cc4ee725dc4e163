package db

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/ZanzyTHEbar/lexcare/lexcare/config"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	_ "modernc.org/sqlite"
)

func TestOpen_AppliesMigrations(t *testing.T) {
	ctx := context.Background()
	cfg := config.StoreConfig{
		Driver: "sqlite",
		DSN:    "file:" + filepath.Join(t.TempDir(), "nested", "lexcare.db"),
	}

	conn, err := Open(ctx, cfg, zerolog.Nop())
	require.NoError(t, err)
	defer conn.Close()

	for _, table := range []string{"profiles", "turns", "candidates", "candidates_fts"} {
		var name string
		err := conn.QueryRowContext(ctx, "SELECT name FROM sqlite_master WHERE name = ?", table).Scan(&name)
		require.NoError(t, err, table)
		assert.Equal(t, table, name)
	}

	// re-running is a no-op
	require.NoError(t, Migrate(ctx, conn))
}

func TestFilePath(t *testing.T) {
	assert.Equal(t, "/tmp/a.db", filePath("file:/tmp/a.db?_pragma=foreign_keys(1)"))
	assert.Equal(t, "rel.db", filePath("rel.db"))
	assert.Equal(t, "", filePath("libsql://example.turso.io"))
	assert.Equal(t, "", filePath("file::memory:?cache=shared"))
}
