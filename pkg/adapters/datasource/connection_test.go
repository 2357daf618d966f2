package datasource

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/retry"
)

type fakeConn struct {
	n      int
	closed bool
}

func fastRetry() *retry.Config {
	return &retry.Config{MaxRetries: 2, InitialDelay: time.Millisecond, MaxDelay: time.Millisecond, Multiplier: 1}
}

func TestConnection_LazyOpenAndReuse(t *testing.T) {
	var dials int32
	c := NewConnection("main", func(context.Context) (*fakeConn, error) {
		n := atomic.AddInt32(&dials, 1)
		return &fakeConn{n: int(n)}, nil
	}, func(fc *fakeConn) error { fc.closed = true; return nil }, zap.NewNop())

	assert.Equal(t, int32(0), atomic.LoadInt32(&dials))

	a, err := c.Get(context.Background())
	require.NoError(t, err)
	b, err := c.Get(context.Background())
	require.NoError(t, err)

	assert.Same(t, a, b)
	assert.Equal(t, int32(1), atomic.LoadInt32(&dials))
}

func TestConnection_ReconnectClosesOld(t *testing.T) {
	var dials int
	c := NewConnection("main", func(context.Context) (*fakeConn, error) {
		dials++
		return &fakeConn{n: dials}, nil
	}, func(fc *fakeConn) error { fc.closed = true; return nil }, nil)

	first, err := c.Get(context.Background())
	require.NoError(t, err)

	require.NoError(t, c.Reconnect(context.Background()))
	second, err := c.Get(context.Background())
	require.NoError(t, err)

	assert.True(t, first.closed)
	assert.False(t, second.closed)
	assert.Equal(t, 2, second.n)
}

func TestConnection_GetDoesNotWaitForOldHandleToClose(t *testing.T) {
	var dials int32
	closing := make(chan struct{})
	release := make(chan struct{})
	c := NewConnection("main", func(context.Context) (*fakeConn, error) {
		return &fakeConn{n: int(atomic.AddInt32(&dials, 1))}, nil
	}, func(fc *fakeConn) error {
		if fc.n == 1 {
			close(closing)
			<-release
		}
		return nil
	}, nil)

	_, err := c.Get(context.Background())
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- c.Reconnect(context.Background()) }()
	<-closing

	// The old handle is still draining; Get must hand out the new one.
	got := make(chan *fakeConn, 1)
	go func() {
		fc, _ := c.Get(context.Background())
		got <- fc
	}()
	select {
	case fc := <-got:
		assert.Equal(t, 2, fc.n)
	case <-time.After(time.Second):
		t.Fatal("Get blocked while the replaced handle was closing")
	}

	close(release)
	require.NoError(t, <-done)
}

func TestConnection_RetriesTransientDialErrors(t *testing.T) {
	var dials int
	c := NewConnection("main", func(context.Context) (*fakeConn, error) {
		dials++
		if dials < 3 {
			return nil, errors.New("dial tcp: connection refused")
		}
		return &fakeConn{}, nil
	}, func(*fakeConn) error { return nil }, nil).WithRetry(fastRetry())

	_, err := c.Get(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 3, dials)
}

func TestConnection_PermanentDialErrorNotRetried(t *testing.T) {
	var dials int
	c := NewConnection("main", func(context.Context) (*fakeConn, error) {
		dials++
		return nil, errors.New("password authentication failed")
	}, func(*fakeConn) error { return nil }, nil).WithRetry(fastRetry())

	_, err := c.Get(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, ErrAdapterConnection)
	assert.Equal(t, 1, dials)
}

func TestConnection_GetAfterClose(t *testing.T) {
	c := NewConnection("main", func(context.Context) (*fakeConn, error) {
		return &fakeConn{}, nil
	}, func(fc *fakeConn) error { fc.closed = true; return nil }, nil)

	conn, err := c.Get(context.Background())
	require.NoError(t, err)
	require.NoError(t, c.Close())
	assert.True(t, conn.closed)

	_, err = c.Get(context.Background())
	assert.ErrorIs(t, err, ErrAdapterConnection)
}
