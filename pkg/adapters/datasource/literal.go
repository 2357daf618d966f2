package datasource

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Date is a calendar date bound as a date literal rather than a timestamp.
type Date struct {
	time.Time
}

// LiteralStyle captures the small differences in how backends spell literals.
type LiteralStyle struct {
	// BackslashEscapes doubles backslashes and escapes quotes with a backslash.
	BackslashEscapes bool
	// UnicodePrefix is prepended to string literals (N for SQL Server).
	UnicodePrefix string
	// QuoteString, when set, replaces the built-in string quoting.
	QuoteString func(string) string
	// True and False spell boolean literals.
	True  string
	False string
}

// decimalRegex is the only number spelling bound unquoted.
var decimalRegex = regexp.MustCompile(`^-?\d+(\.\d+)?$`)

// StandardLiteralStyle suits ANSI SQL backends.
var StandardLiteralStyle = LiteralStyle{True: "TRUE", False: "FALSE"}

// FormatLiteral renders v as a literal. Scalars are strings, numbers, bools,
// times, Date and nil; slices of scalars render as a parenthesized list for IN clauses.
func FormatLiteral(v any, style LiteralStyle) (string, error) {
	switch t := v.(type) {
	case nil:
		return "NULL", nil
	case string:
		return style.quoteString(t), nil
	case []byte:
		return style.quoteString(string(t)), nil
	case bool:
		if t {
			return style.True, nil
		}
		return style.False, nil
	case json.Number:
		if !decimalRegex.MatchString(string(t)) {
			return "", fmt.Errorf("invalid number %q", t)
		}
		return string(t), nil
	case Date:
		return style.quoteString(t.Format("2006-01-02")), nil
	case time.Time:
		return style.quoteString(t.Format("2006-01-02 15:04:05.999999")), nil
	}

	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		f := rv.Float()
		if math.IsNaN(f) || math.IsInf(f, 0) {
			return "", fmt.Errorf("cannot bind non-finite number %v", f)
		}
		return strconv.FormatFloat(f, 'f', -1, 64), nil
	case reflect.Slice, reflect.Array:
		if rv.Len() == 0 {
			return "", fmt.Errorf("cannot bind an empty list")
		}
		parts := make([]string, rv.Len())
		for i := 0; i < rv.Len(); i++ {
			item := rv.Index(i).Interface()
			if k := reflect.ValueOf(item).Kind(); k == reflect.Slice && !isBytes(item) {
				return "", fmt.Errorf("cannot bind nested lists")
			}
			lit, err := FormatLiteral(item, style)
			if err != nil {
				return "", err
			}
			parts[i] = lit
		}
		return "(" + strings.Join(parts, ", ") + ")", nil
	}

	return "", fmt.Errorf("cannot bind value of type %T", v)
}

func isBytes(v any) bool {
	_, ok := v.([]byte)
	return ok
}

func (s LiteralStyle) quoteString(v string) string {
	if s.QuoteString != nil {
		return s.QuoteString(v)
	}
	if s.BackslashEscapes {
		v = strings.ReplaceAll(v, `\`, `\\`)
		v = strings.ReplaceAll(v, `'`, `\'`)
	} else {
		v = strings.ReplaceAll(v, "'", "''")
	}
	return s.UnicodePrefix + "'" + v + "'"
}
