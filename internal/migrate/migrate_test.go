package migrate

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVersionsIn_SortsAndFilters(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/0002_indexes.sql": {Data: []byte("SELECT 1")},
		"migrations/0001_init.sql":    {Data: []byte("SELECT 1")},
		"migrations/README.md":        {Data: []byte("notes")},
	}
	got, err := versionsIn(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"0001_init", "0002_indexes"}, got)
}

func TestEmbeddedMigrations(t *testing.T) {
	latest, err := Latest()
	require.NoError(t, err)
	assert.Equal(t, "0001_init", latest)

	body, err := migrationsFS.ReadFile("migrations/0001_init.sql")
	require.NoError(t, err)
	for _, table := range []string{"resize_jobs", "format_results", "tasks"} {
		assert.Contains(t, string(body), "CREATE TABLE IF NOT EXISTS "+table)
	}
}
