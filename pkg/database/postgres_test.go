//go:build integration

package database_test

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ekaya-inc/ekaya-monitor/pkg/database"
	"github.com/ekaya-inc/ekaya-monitor/pkg/testhelpers"
)

func countQueriesNamed(t *testing.T, db *database.DB, name string) int {
	t.Helper()
	var n int
	err := db.QueryRow(context.Background(),
		`SELECT COUNT(*) FROM monitor_queries WHERE name = $1`, name).Scan(&n)
	require.NoError(t, err)
	return n
}

func insertQuery(ctx context.Context, db *database.DB, name string) error {
	q := database.QuerierFrom(ctx, db)
	_, err := q.Exec(ctx, `
		INSERT INTO monitor_queries (id, name, statement, data_source_id)
		VALUES ($1, $2, 'SELECT 1', 'main')`, uuid.New(), name)
	return err
}

func TestInTx_CommitsOnSuccess(t *testing.T) {
	monitorDB := testhelpers.GetMonitorDB(t)
	name := "tx-commit-" + uuid.NewString()

	err := monitorDB.DB.InTx(context.Background(), func(ctx context.Context) error {
		return insertQuery(ctx, monitorDB.DB, name)
	})
	require.NoError(t, err)
	assert.Equal(t, 1, countQueriesNamed(t, monitorDB.DB, name))
}

func TestInTx_RollsBackOnError(t *testing.T) {
	monitorDB := testhelpers.GetMonitorDB(t)
	name := "tx-rollback-" + uuid.NewString()
	boom := errors.New("boom")

	err := monitorDB.DB.InTx(context.Background(), func(ctx context.Context) error {
		if err := insertQuery(ctx, monitorDB.DB, name); err != nil {
			return err
		}
		return boom
	})
	require.ErrorIs(t, err, boom)
	assert.Equal(t, 0, countQueriesNamed(t, monitorDB.DB, name))
}

func TestInTx_NestedJoinsOuter(t *testing.T) {
	monitorDB := testhelpers.GetMonitorDB(t)
	name := "tx-nested-" + uuid.NewString()

	err := monitorDB.DB.InTx(context.Background(), func(ctx context.Context) error {
		if err := monitorDB.DB.InTx(ctx, func(inner context.Context) error {
			return insertQuery(inner, monitorDB.DB, name)
		}); err != nil {
			return err
		}
		return errors.New("outer fails")
	})
	require.Error(t, err)
	assert.Equal(t, 0, countQueriesNamed(t, monitorDB.DB, name), "inner write must roll back with the outer transaction")
}

func TestPoolCollector(t *testing.T) {
	monitorDB := testhelpers.GetMonitorDB(t)

	c := database.NewPoolCollector(monitorDB.DB.Stat)
	assert.Equal(t, 4, testutil.CollectAndCount(c))
}
