//go:build integration

package testhelpers

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEngineDB_MigrationsApplied(t *testing.T) {
	engineDB := GetEngineDB(t)
	ctx := engineDB.Context(t)

	tables := []string{"raw_events", "incidents", "entities", "entity_aliases",
		"incident_entity_links", "entity_merges", "ingestion_runs"}

	for _, table := range tables {
		var exists bool
		err := engineDB.DB.Pool.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		require.NoError(t, err)
		assert.True(t, exists, "table %s should exist", table)
	}
}
