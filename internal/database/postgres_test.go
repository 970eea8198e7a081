package database

import (
	"testing"
	"testing/fstest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMigrationVersion(t *testing.T) {
	tests := []struct {
		name     string
		expected int
	}{
		{"001_kv_store.sql", 1},
		{"012_add_index.sql", 12},
		{"abc_bad.sql", 0},
		{"x.s", 0},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			assert.Equal(t, tc.expected, migrationVersion(tc.name))
		})
	}
}

func TestMigrationNames_SortedAndSkipsDirs(t *testing.T) {
	fsys := fstest.MapFS{
		"migrations/002_second.sql":  {Data: []byte("SELECT 2")},
		"migrations/001_first.sql":   {Data: []byte("SELECT 1")},
		"migrations/archive/old.sql": {Data: []byte("SELECT 0")},
	}

	names, err := migrationNames(fsys)
	require.NoError(t, err)
	assert.Equal(t, []string{"001_first.sql", "002_second.sql"}, names)
}

func TestEmbeddedMigrationsPresent(t *testing.T) {
	names, err := migrationNames(migrationFiles)
	require.NoError(t, err)
	assert.Contains(t, names, "001_kv_store.sql")
}
