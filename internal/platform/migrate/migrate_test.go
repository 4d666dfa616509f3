package migrate

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/odyssey-erp/clinic-billing/migrations"
)

func TestDatabaseURL(t *testing.T) {
	require.Equal(t, "pgx5://u:p@db:5432/billing?sslmode=disable", DatabaseURL("postgres://u:p@db:5432/billing?sslmode=disable"))
	require.Equal(t, "pgx5://db/billing", DatabaseURL("postgresql://db/billing"))
	require.Equal(t, "pgx5://db/billing", DatabaseURL("pgx5://db/billing"))
}

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(migrations.FS, ".")
	require.NoError(t, err)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, e := range entries {
		name := e.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		}
	}
	require.NotEmpty(t, ups)
	require.Equal(t, ups, downs)
}
