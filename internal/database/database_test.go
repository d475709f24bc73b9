package database

import (
	"context"
	"database/sql"
	"errors"
	"os"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// Requires PostgreSQL at HEARTLINE_TEST_DATABASE_URL. Tests are skipped if unset.
func testDatabaseURL(t *testing.T) string {
	t.Helper()
	url := os.Getenv("HEARTLINE_TEST_DATABASE_URL")
	if url == "" {
		t.Skip("skipping: HEARTLINE_TEST_DATABASE_URL not set")
	}
	return url
}

func TestMigrateUpIsIdempotent(t *testing.T) {
	db, err := Open(context.Background(), testDatabaseURL(t), 2)
	require.NoError(t, err)
	defer db.Close()

	m, err := NewMigrator(db)
	require.NoError(t, err)
	require.NoError(t, m.Up())
	require.NoError(t, m.Up())

	version, dirty, ok, err := m.Version()
	require.NoError(t, err)
	assert.True(t, ok)
	assert.False(t, dirty)
	assert.GreaterOrEqual(t, version, uint(3))
}

func TestWithTx_RollsBackOnError(t *testing.T) {
	db, err := Open(context.Background(), testDatabaseURL(t), 2)
	require.NoError(t, err)
	defer db.Close()

	ctx := context.Background()
	boom := errors.New("boom")
	err = WithTx(ctx, db, func(tx *sql.Tx) error {
		var one int
		if err := tx.QueryRowContext(ctx, `SELECT 1`).Scan(&one); err != nil {
			return err
		}
		return boom
	})
	assert.ErrorIs(t, err, boom)
}

func TestMigrationsEmbedded(t *testing.T) {
	entries, err := migrationFS.ReadDir("migrations")
	require.NoError(t, err)

	ups, downs := 0, 0
	for _, e := range entries {
		switch {
		case strings.HasSuffix(e.Name(), ".up.sql"):
			ups++
		case strings.HasSuffix(e.Name(), ".down.sql"):
			downs++
		}
	}
	assert.Equal(t, ups, downs, "every migration needs a down step")
	assert.GreaterOrEqual(t, ups, 3)
}
