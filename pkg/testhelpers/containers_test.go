//go:build integration

package testhelpers

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMonitorDB_Migrated(t *testing.T) {
	monitorDB := GetMonitorDB(t)
	ctx := context.Background()

	for _, table := range []string{"monitor_queries", "monitor_checks", "monitor_audits"} {
		var exists bool
		err := monitorDB.DB.QueryRow(ctx, `
			SELECT EXISTS (
				SELECT 1 FROM information_schema.tables
				WHERE table_schema = 'public' AND table_name = $1
			)`, table).Scan(&exists)
		require.NoError(t, err, table)
		assert.True(t, exists, "expected table %s after migrations", table)
	}
}

func TestMonitorDB_Shared(t *testing.T) {
	assert.Same(t, GetMonitorDB(t), GetMonitorDB(t))
}

func TestTestDB_URL(t *testing.T) {
	db := GetTestDB(t)

	url, err := db.URL(context.Background(), "other")
	require.NoError(t, err)
	assert.Contains(t, url, "/other?sslmode=disable")
}
