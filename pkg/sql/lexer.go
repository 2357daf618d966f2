// Package sql binds {name} variables into statement text and validates
// statements before they reach an adapter.
package sql

import (
	"regexp"
	"strings"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
)

// region is the lexical context of a span of statement text.
type region int

const (
	regionCode region = iota
	regionString
	regionIdentifier
	regionComment
)

var dollarTagRegex = regexp.MustCompile(`^\$(?:[A-Za-z_][A-Za-z0-9_]*)?\$`)

// scan splits text into regions following the dialect's quoting and comment
// rules and calls visit for each one in order. Unterminated strings,
// identifiers and comments run to the end of the text.
func scan(text string, d datasource.Dialect, visit func(r region, start, end int)) {
	n := len(text)
	codeStart := 0
	emit := func(r region, start, end int) {
		if codeStart < start {
			visit(regionCode, codeStart, start)
		}
		visit(r, start, end)
		codeStart = end
	}

	i := 0
	for i < n {
		rest := text[i:]

		if prefix := matchAny(rest, d.LineComments); prefix != "" {
			end := strings.IndexByte(rest, '\n')
			if end < 0 {
				end = len(rest)
			}
			emit(regionComment, i, i+end)
			i += end
			continue
		}

		if d.BlockComments && strings.HasPrefix(rest, "/*") {
			end := strings.Index(rest[2:], "*/")
			if end < 0 {
				end = len(rest)
			} else {
				end += 4
			}
			emit(regionComment, i, i+end)
			i += end
			continue
		}

		c := text[i]

		if strings.IndexByte(string(d.StringQuotes), c) >= 0 {
			end := scanQuoted(text, i, c, d.BackslashEscapes)
			emit(regionString, i, end)
			i = end
			continue
		}

		if closer, ok := identifierCloser(d, c); ok {
			end := scanQuoted(text, i, closer, false)
			emit(regionIdentifier, i, end)
			i = end
			continue
		}

		if d.DollarQuotes && c == '$' {
			if tag := dollarTagRegex.FindString(rest); tag != "" {
				end := strings.Index(rest[len(tag):], tag)
				if end < 0 {
					end = len(rest)
				} else {
					end += 2 * len(tag)
				}
				emit(regionString, i, i+end)
				i += end
				continue
			}
		}

		i++
	}

	if codeStart < n {
		visit(regionCode, codeStart, n)
	}
}

// scanQuoted returns the index just past the quoted span opened at start.
// A doubled closing quote is an escaped quote.
func scanQuoted(text string, start int, closer byte, backslash bool) int {
	n := len(text)
	for j := start + 1; j < n; j++ {
		switch {
		case backslash && text[j] == '\\':
			j++
		case text[j] == closer:
			if j+1 < n && text[j+1] == closer {
				j++
				continue
			}
			return j + 1
		}
	}
	return n
}

func matchAny(s string, prefixes []string) string {
	for _, p := range prefixes {
		if strings.HasPrefix(s, p) {
			return p
		}
	}
	return ""
}

func identifierCloser(d datasource.Dialect, c byte) (byte, bool) {
	for _, q := range d.IdentifierQuotes {
		if q.Open == c {
			return q.Close, true
		}
	}
	return 0, false
}

func isIdentByte(c byte) bool {
	return c == '_' || c == '.' || c == '$' ||
		('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z') || ('0' <= c && c <= '9')
}
