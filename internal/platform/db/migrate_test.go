package db

import (
	"io/fs"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestMigrateURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@localhost:5432/covasa", migrateURL("postgres://u:p@localhost:5432/covasa"))
	require.Equal(t, "pgx5://localhost/covasa?sslmode=disable", migrateURL("postgresql://localhost/covasa?sslmode=disable"))
	require.Equal(t, "pgx5://already", migrateURL("pgx5://already"))
}

func TestMigrationsAreEmbeddedInPairs(t *testing.T) {
	ups, err := fs.Glob(migrations, "migrations/*.up.sql")
	require.NoError(t, err)
	downs, err := fs.Glob(migrations, "migrations/*.down.sql")
	require.NoError(t, err)
	require.NotEmpty(t, ups)
	require.Len(t, downs, len(ups))
}
