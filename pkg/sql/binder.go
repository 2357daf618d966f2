package sql

import (
	"encoding/json"
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/ekaya-inc/ekaya-monitor/pkg/adapters/datasource"
	"github.com/ekaya-inc/ekaya-monitor/pkg/apperrors"
	"github.com/ekaya-inc/ekaya-monitor/pkg/models"
)

// variableRegex matches {name} placeholders. Names start with a letter or
// underscore followed by letters, digits or underscores.
var variableRegex = regexp.MustCompile(`\{([A-Za-z_]\w*)\}`)

var (
	integerRegex = regexp.MustCompile(`^-?\d+$`)
	floatRegex   = regexp.MustCompile(`^-?\d+\.\d+$`)
)

// Quoter renders a Go value as a backend literal. Every adapter is a Quoter.
type Quoter interface {
	QuoteLiteral(v any) (string, error)
}

// Placeholder is one {name} occurrence in a template.
type Placeholder struct {
	Name  string
	Start int
	End   int
	// Safe reports whether the placeholder sits where a literal may appear:
	// outside strings, quoted identifiers and comments, and not glued to
	// identifier characters.
	Safe bool
}

// FindPlaceholders returns every placeholder in template in order.
func FindPlaceholders(template string, d datasource.Dialect) []Placeholder {
	var found []Placeholder
	scan(template, d, func(r region, start, end int) {
		for _, loc := range variableRegex.FindAllStringSubmatchIndex(template[start:end], -1) {
			p := Placeholder{
				Name:  template[start+loc[2] : start+loc[3]],
				Start: start + loc[0],
				End:   start + loc[1],
			}
			p.Safe = r == regionCode && !glued(template, p.Start, p.End)
			found = append(found, p)
		}
	})
	return found
}

func glued(text string, start, end int) bool {
	return (start > 0 && isIdentByte(text[start-1])) || (end < len(text) && isIdentByte(text[end]))
}

// ExtractVariables returns the unique placeholder names in order of first appearance.
func ExtractVariables(template string) []string {
	seen := make(map[string]bool)
	var names []string
	for _, m := range variableRegex.FindAllStringSubmatch(template, -1) {
		if !seen[m[1]] {
			seen[m[1]] = true
			names = append(names, m[1])
		}
	}
	return names
}

// Bind replaces every {name} placeholder with the quoted literal for its
// variable. A placeholder in an unsafe position fails with
// ErrInvalidVariablePosition; an unbound one fails with ErrMissingVariable.
func Bind(template string, vars map[string]models.Variable, d datasource.Dialect, q Quoter) (string, error) {
	placeholders := FindPlaceholders(template, d)
	if len(placeholders) == 0 {
		return template, nil
	}

	var b strings.Builder
	last := 0
	for _, p := range placeholders {
		if !p.Safe {
			return "", fmt.Errorf("%w: {%s}", apperrors.ErrInvalidVariablePosition, p.Name)
		}

		v, ok := vars[p.Name]
		if !ok {
			return "", fmt.Errorf("%w: %s", apperrors.ErrMissingVariable, p.Name)
		}

		value, err := Coerce(v)
		if err != nil {
			return "", err
		}
		lit, err := q.QuoteLiteral(value)
		if err != nil {
			return "", fmt.Errorf("variable %s: %w", p.Name, err)
		}

		b.WriteString(template[last:p.Start])
		b.WriteString(lit)
		last = p.End
	}
	b.WriteString(template[last:])
	return b.String(), nil
}

// InferType picks a literal type for a value bound without an explicit one.
// Numeric-looking strings are numbers, since runtime values arrive as text.
func InferType(v any) models.VariableType {
	switch t := v.(type) {
	case nil:
		return models.VariableTypeNull
	case bool:
		return models.VariableTypeBoolean
	case datasource.Date:
		return models.VariableTypeDate
	case time.Time:
		return models.VariableTypeTime
	case json.Number:
		return models.VariableTypeNumber
	case string:
		if integerRegex.MatchString(t) || floatRegex.MatchString(t) {
			return models.VariableTypeNumber
		}
		return models.VariableTypeString
	case []byte:
		return models.VariableTypeString
	}

	switch reflect.ValueOf(v).Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64,
		reflect.Float32, reflect.Float64:
		return models.VariableTypeNumber
	case reflect.Slice, reflect.Array:
		return models.VariableTypeList
	}
	return models.VariableTypeString
}

// Coerce converts a variable's value to the Go value its type should bind as.
func Coerce(v models.Variable) (any, error) {
	typ := v.Type
	if typ == "" {
		typ = InferType(v.Value)
	}

	s, isString := v.Value.(string)

	switch typ {
	case models.VariableTypeNull:
		return nil, nil

	case models.VariableTypeNumber:
		if !isString {
			if InferType(v.Value) != models.VariableTypeNumber {
				return nil, fmt.Errorf("variable %s: %v is not a number", v.Name, v.Value)
			}
			return v.Value, nil
		}
		s = strings.TrimSpace(s)
		if !integerRegex.MatchString(s) && !floatRegex.MatchString(s) {
			return nil, fmt.Errorf("variable %s: %q is not a number", v.Name, s)
		}
		return json.Number(s), nil

	case models.VariableTypeBoolean:
		if !isString {
			if b, ok := v.Value.(bool); ok {
				return b, nil
			}
			return nil, fmt.Errorf("variable %s: %v is not a boolean", v.Name, v.Value)
		}
		b, err := strconv.ParseBool(strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("variable %s: %q is not a boolean", v.Name, s)
		}
		return b, nil

	case models.VariableTypeDate:
		switch t := v.Value.(type) {
		case datasource.Date:
			return t, nil
		case time.Time:
			return datasource.Date{Time: t}, nil
		}
		t, err := time.Parse("2006-01-02", strings.TrimSpace(s))
		if err != nil {
			return nil, fmt.Errorf("variable %s: %q is not a date (YYYY-MM-DD)", v.Name, s)
		}
		return datasource.Date{Time: t}, nil

	case models.VariableTypeTime:
		if t, ok := v.Value.(time.Time); ok {
			return t, nil
		}
		return parseTimestamp(v.Name, s)

	case models.VariableTypeList:
		if isString {
			return splitList(s), nil
		}
		if InferType(v.Value) != models.VariableTypeList {
			return []any{v.Value}, nil
		}
		return v.Value, nil
	}

	if isString {
		return s, nil
	}
	return fmt.Sprint(v.Value), nil
}

func parseTimestamp(name, s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02 15:04:05", "2006-01-02T15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, s); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("variable %s: %q is not a timestamp", name, s)
}

// splitList turns "a, b, 3" into list items, each typed as if bound alone.
func splitList(s string) []any {
	parts := strings.Split(s, ",")
	items := make([]any, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		if InferType(p) == models.VariableTypeNumber {
			items = append(items, json.Number(p))
			continue
		}
		items = append(items, p)
	}
	return items
}
