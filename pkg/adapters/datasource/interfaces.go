package datasource

import (
	"context"
	"time"

	"github.com/google/uuid"
)

// Adapter is the uniform execution contract every backend family implements.
// Implementations must be safe for concurrent use by multiple check workers.
type Adapter interface {
	// Run executes a bound statement. It never returns nil and never panics
	// on backend failures: errors and timeouts are reported on the Result.
	// A non-zero Timeout is enforced server-side where the backend supports
	// it, and the client-side wait is always bounded.
	Run(ctx context.Context, stmt string, opts RunOptions) *Result

	// Cancel abandons the in-flight run started with handle. Unknown handles are a no-op.
	Cancel(ctx context.Context, handle uuid.UUID) error

	// Schema lists the tables visible to the configured credentials.
	Schema(ctx context.Context) ([]TableMeta, error)

	// Explain returns the backend's plan for stmt.
	Explain(ctx context.Context, stmt string) (string, error)

	// QuoteIdentifier quotes a table or column name for this backend.
	QuoteIdentifier(name string) string

	// QuoteLiteral renders a bound value as a literal for this backend.
	QuoteLiteral(v any) (string, error)

	// ClassifyError maps a raw driver error into the shared taxonomy.
	ClassifyError(err error) ErrorKind

	// Dialect describes the lexical rules the variable binder must respect.
	Dialect() Dialect

	// Reconnect replaces the underlying connection without changing identity.
	Reconnect(ctx context.Context) error

	// Close releases the underlying connection.
	Close() error
}

// RunOptions carries per-run execution settings.
type RunOptions struct {
	// Timeout bounds the statement; zero means no limit.
	Timeout time.Duration
	// Handle identifies the run for Cancel; uuid.Nil runs are not cancellable.
	Handle uuid.UUID
}

// QuotePair is an opening and closing delimiter.
type QuotePair struct {
	Open  byte
	Close byte
}

// Dialect describes how a backend's statement text is tokenized, enough for
// the binder to tell literal positions from strings, quoted identifiers and comments.
type Dialect struct {
	// StringQuotes delimit string literals. A doubled close quote is an escaped quote.
	StringQuotes []byte
	// IdentifierQuotes delimit quoted identifiers.
	IdentifierQuotes []QuotePair
	// BackslashEscapes means a backslash escapes the next character inside strings.
	BackslashEscapes bool
	// LineComments start comments running to end of line.
	LineComments []string
	// BlockComments enables /* ... */ comments.
	BlockComments bool
	// DollarQuotes enables PostgreSQL $tag$ ... $tag$ strings.
	DollarQuotes bool
}

// ANSIDialect is standard SQL: '' strings, "" identifiers, -- and /* */ comments.
var ANSIDialect = Dialect{
	StringQuotes:     []byte{'\''},
	IdentifierQuotes: []QuotePair{{'"', '"'}},
	LineComments:     []string{"--"},
	BlockComments:    true,
}
