package sql

import (
	"errors"
	"strings"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
)

var (
	// ErrMultipleStatements indicates the text contains more than one statement.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")

	// ErrEmptyStatement indicates the text has nothing to run.
	ErrEmptyStatement = errors.New("statement is empty")
)

// ValidateSingleStatement strips a trailing semicolon and rejects text that
// still contains a semicolon outside strings, quoted identifiers and comments.
// It returns the normalized statement.
func ValidateSingleStatement(stmt string, d datasource.Dialect) (string, error) {
	normalized := stripTrailingSemicolon(strings.TrimSpace(stmt))
	if normalized == "" {
		return "", ErrEmptyStatement
	}

	if hasCodeSemicolon(normalized, d) {
		return "", ErrMultipleStatements
	}
	return normalized, nil
}

func hasCodeSemicolon(stmt string, d datasource.Dialect) bool {
	found := false
	scan(stmt, d, func(r region, start, end int) {
		if r == regionCode && strings.IndexByte(stmt[start:end], ';') >= 0 {
			found = true
		}
	})
	return found
}

// stripTrailingSemicolon removes trailing semicolons and the whitespace around them.
func stripTrailingSemicolon(stmt string) string {
	for {
		stmt = strings.TrimRight(stmt, " \t\n\r")
		if !strings.HasSuffix(stmt, ";") {
			return stmt
		}
		stmt = strings.TrimSuffix(stmt, ";")
	}
}
