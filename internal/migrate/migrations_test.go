package migrate

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stratline/internal/db"
)

func TestMigrationsLoadForBothDialects(t *testing.T) {
	lite, err := loadMigrations(db.SQLite)
	require.NoError(t, err)
	pg, err := loadMigrations(db.Postgres)
	require.NoError(t, err)
	require.NotEmpty(t, lite)
	assert.Equal(t, len(lite), len(pg))
	for i := range lite {
		assert.Equal(t, lite[i].Version, pg[i].Version)
	}
}

func TestMigrateIsRepeatable(t *testing.T) {
	conn, dialect, err := db.Open(db.Config{Workspace: t.TempDir()})
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, Migrate(conn, dialect))
	require.NoError(t, Migrate(conn, dialect))

	v, err := Version(conn)
	require.NoError(t, err)
	assert.Equal(t, 1, v)

	var n int
	require.NoError(t, conn.QueryRow(`SELECT count(*) FROM snapshots`).Scan(&n))
	assert.Zero(t, n)
}
