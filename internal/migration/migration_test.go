package migration

import (
	"io/fs"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEmbeddedMigrationsArePaired(t *testing.T) {
	entries, err := fs.ReadDir(embeddedMigrations, migrationsDir)
	require.NoError(t, err)
	require.NotEmpty(t, entries)

	ups := map[string]bool{}
	downs := map[string]bool{}
	for _, entry := range entries {
		name := entry.Name()
		switch {
		case strings.HasSuffix(name, ".up.sql"):
			ups[strings.TrimSuffix(name, ".up.sql")] = true
		case strings.HasSuffix(name, ".down.sql"):
			downs[strings.TrimSuffix(name, ".down.sql")] = true
		default:
			t.Fatalf("unexpected file %s", name)
		}
	}
	assert.Equal(t, ups, downs)
}

func TestInventoryProceduresPresent(t *testing.T) {
	body, err := fs.ReadFile(embeddedMigrations, migrationsDir+"/0004_inventory.up.sql")
	require.NoError(t, err)

	sql := string(body)
	assert.Contains(t, sql, "FUNCTION decrement_inventory(")
	assert.Contains(t, sql, "FUNCTION release_inventory_reservation(")
	assert.Contains(t, sql, "ON CONFLICT (session_id, variant_id) DO NOTHING")
	assert.Contains(t, sql, "UNIQUE INDEX IF NOT EXISTS ux_inventory_ledger_session_variant ON inventory_ledger (session_id, variant_id)")
}

func TestRunMigrationsRequiresHandle(t *testing.T) {
	assert.Error(t, RunMigrations(nil))
}
