package datasource

import (
	"context"
	"fmt"
	"sync"

	"go.uber.org/zap"

	"github.com/ekaya-inc/ekaya-monitor/pkg/logging"
	"github.com/ekaya-inc/ekaya-monitor/pkg/retry"
)

// Connection lazily opens and holds one backend handle (a *sql.DB, a
// *pgxpool.Pool, a gocql session). Opening is retried for transient
// network failures. Reconnect swaps the handle and closes the old one.
type Connection[T any] struct {
	mu     sync.Mutex
	conn   T
	open   bool
	closed bool

	id     string
	dial   func(ctx context.Context) (T, error)
	close  func(T) error
	retry  *retry.Config
	logger *zap.Logger
}

// NewConnection returns a holder that dials on first Get.
func NewConnection[T any](id string, dial func(ctx context.Context) (T, error), closeFn func(T) error, logger *zap.Logger) *Connection[T] {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Connection[T]{
		id:     id,
		dial:   dial,
		close:  closeFn,
		retry:  retry.DefaultConfig(),
		logger: logger,
	}
}

// WithRetry overrides the dial retry policy.
func (c *Connection[T]) WithRetry(cfg *retry.Config) *Connection[T] {
	c.retry = cfg
	return c
}

// Get returns the open handle, dialing if needed.
func (c *Connection[T]) Get(ctx context.Context) (T, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var zero T
	if c.closed {
		return zero, NewAdapterError(ErrorKindConnection, fmt.Errorf("data source %s is closed", c.id))
	}
	if c.open {
		return c.conn, nil
	}

	conn, err := c.openLocked(ctx)
	if err != nil {
		return zero, err
	}
	c.conn = conn
	c.open = true
	return conn, nil
}

// Reconnect opens a fresh handle and closes the previous one. The old handle
// is closed after the lock is released, since closing waits for in-flight work.
func (c *Connection[T]) Reconnect(ctx context.Context) error {
	old, hadOld, err := c.swap(ctx)
	if err != nil {
		return err
	}

	if hadOld {
		if err := c.close(old); err != nil {
			c.logger.Warn("Failed to close replaced connection",
				zap.String("data_source", c.id),
				zap.String("error", logging.SanitizeError(err)))
		}
	}
	c.logger.Info("Reconnected data source", zap.String("data_source", c.id))
	return nil
}

func (c *Connection[T]) swap(ctx context.Context) (old T, hadOld bool, err error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if c.closed {
		return old, false, NewAdapterError(ErrorKindConnection, fmt.Errorf("data source %s is closed", c.id))
	}

	conn, err := c.openLocked(ctx)
	if err != nil {
		return old, false, err
	}

	old, hadOld = c.conn, c.open
	c.conn = conn
	c.open = true
	return old, hadOld, nil
}

// Close closes the handle if open. Later Gets fail.
func (c *Connection[T]) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.closed = true
	if !c.open {
		return nil
	}
	c.open = false
	return c.close(c.conn)
}

func (c *Connection[T]) openLocked(ctx context.Context) (T, error) {
	conn, err := retry.DoWithResult(ctx, c.retry, func() (T, error) {
		conn, err := c.dial(ctx)
		if err != nil && !retry.IsRetryable(err) {
			return conn, retry.Permanent(err)
		}
		return conn, err
	})
	if err != nil {
		c.logger.Error("Failed to open data source connection",
			zap.String("data_source", c.id),
			zap.String("error", logging.SanitizeError(err)))
		var zero T
		return zero, NewAdapterError(ErrorKindConnection, err)
	}
	return conn, nil
}
