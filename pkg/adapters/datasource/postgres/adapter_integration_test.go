//go:build integration

package postgres

import (
	"context"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-monitor/pkg/testhelpers"
)

func newTestAdapter(t *testing.T) *Adapter {
	t.Helper()
	db := testhelpers.GetTestDB(t)

	cfg, err := FromMap(db.ConnStr, nil)
	require.NoError(t, err)

	a := NewAdapter("itest", cfg, zap.NewNop())
	t.Cleanup(func() { a.Close() })
	return a
}

func TestAdapter_Run(t *testing.T) {
	a := newTestAdapter(t)

	res := a.Run(context.Background(), "SELECT 1 AS n, 'x' AS s", datasource.RunOptions{Timeout: 5 * time.Second})

	require.False(t, res.Failed(), res.Error)
	assert.Equal(t, "n", res.Columns[0].Name)
	assert.Equal(t, "INT4", res.Columns[0].Type)
	assert.Equal(t, [][]any{{int32(1), "x"}}, res.Rows)
}

func TestAdapter_RunStatementTimeout(t *testing.T) {
	a := newTestAdapter(t)

	res := a.Run(context.Background(), "SELECT pg_sleep(5)", datasource.RunOptions{Timeout: 200 * time.Millisecond})

	assert.True(t, res.TimedOut)
	assert.Equal(t, datasource.TimeoutMessage, res.Error)
	assert.Less(t, res.Runtime, 3*time.Second)
}

func TestAdapter_RunSyntaxError(t *testing.T) {
	a := newTestAdapter(t)

	res := a.Run(context.Background(), "SELEC 1", datasource.RunOptions{})

	assert.Equal(t, datasource.ErrorKindSyntax, res.ErrorKind)
}

func TestAdapter_Cancel(t *testing.T) {
	a := newTestAdapter(t)
	handle := uuid.New()

	done := make(chan *datasource.Result)
	go func() {
		done <- a.Run(context.Background(), "SELECT pg_sleep(10)", datasource.RunOptions{Handle: handle})
	}()

	time.Sleep(300 * time.Millisecond)
	require.NoError(t, a.Cancel(context.Background(), handle))

	select {
	case res := <-done:
		assert.True(t, res.Failed())
		assert.False(t, res.TimedOut)
	case <-time.After(5 * time.Second):
		t.Fatal("run was not cancelled")
	}
}

func TestAdapter_SchemaAndReconnect(t *testing.T) {
	a := newTestAdapter(t)

	_, err := a.Schema(context.Background())
	require.NoError(t, err)

	require.NoError(t, a.Reconnect(context.Background()))
	res := a.Run(context.Background(), "SELECT 1", datasource.RunOptions{})
	assert.False(t, res.Failed(), res.Error)
}
