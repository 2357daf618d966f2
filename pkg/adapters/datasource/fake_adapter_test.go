package datasource

import (
	"context"
	"sync"

	"github.com/google/uuid"
)

// fakeAdapter is a scripted Adapter for tests in this package.
type fakeAdapter struct {
	mu          sync.Mutex
	result      *Result
	tables      []TableMeta
	schemaCalls int
	reconnects  int
	closed      bool
	lastOpts    RunOptions
}

func (f *fakeAdapter) Run(_ context.Context, _ string, opts RunOptions) *Result {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lastOpts = opts
	return f.result
}

func (f *fakeAdapter) Cancel(context.Context, uuid.UUID) error { return nil }

func (f *fakeAdapter) Schema(context.Context) ([]TableMeta, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.schemaCalls++
	return f.tables, nil
}

func (f *fakeAdapter) Explain(context.Context, string) (string, error) { return "plan", nil }
func (f *fakeAdapter) QuoteIdentifier(name string) string { return `"` + name + `"` }
func (f *fakeAdapter) QuoteLiteral(v any) (string, error) { return FormatLiteral(v, StandardLiteralStyle) }
func (f *fakeAdapter) ClassifyError(err error) ErrorKind { return ClassifyMessage(err) }
func (f *fakeAdapter) Dialect() Dialect { return ANSIDialect }

func (f *fakeAdapter) Reconnect(context.Context) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.reconnects++
	return nil
}

func (f *fakeAdapter) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = true
	return nil
}
