package datasource

import (
	"encoding/json"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatLiteral_Scalars(t *testing.T) {
	ts := time.Date(2024, 3, 5, 14, 30, 0, 0, time.UTC)

	tests := []struct {
		name string
		in   any
		want string
	}{
		{"nil", nil, "NULL"},
		{"string", "abc", "'abc'"},
		{"quote", "O'Brien", "'O''Brien'"},
		{"bytes", []byte("x"), "'x'"},
		{"true", true, "TRUE"},
		{"false", false, "FALSE"},
		{"int", 42, "42"},
		{"negative int64", int64(-7), "-7"},
		{"uint", uint(3), "3"},
		{"float", 1.5, "1.5"},
		{"json number", json.Number("12.50"), "12.50"},
		{"date", Date{ts}, "'2024-03-05'"},
		{"timestamp", ts, "'2024-03-05 14:30:00'"},
		{"list", []any{1, "a"}, "(1, 'a')"},
		{"string list", []string{"x", "y"}, "('x', 'y')"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := FormatLiteral(tt.in, StandardLiteralStyle)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestFormatLiteral_BackslashStyle(t *testing.T) {
	style := LiteralStyle{BackslashEscapes: true, True: "1", False: "0"}

	got, err := FormatLiteral(`O'Brien\`, style)
	require.NoError(t, err)
	assert.Equal(t, `'O\'Brien\\'`, got)

	got, err = FormatLiteral(true, style)
	require.NoError(t, err)
	assert.Equal(t, "1", got)
}

func TestFormatLiteral_UnicodePrefix(t *testing.T) {
	got, err := FormatLiteral("héllo", LiteralStyle{UnicodePrefix: "N"})
	require.NoError(t, err)
	assert.Equal(t, "N'héllo'", got)
}

func TestFormatLiteral_Rejects(t *testing.T) {
	for name, v := range map[string]any{
		"nan":         math.NaN(),
		"inf":         math.Inf(1),
		"empty list":  []int{},
		"nested list": []any{[]int{1}},
		"map":         map[string]int{"a": 1},
		"bad number":  json.Number("1e"),
		"nan number":  json.Number("NaN"),
		"inf number":  json.Number("Infinity"),
		"hex number":  json.Number("0x1p-2"),
	} {
		t.Run(name, func(t *testing.T) {
			_, err := FormatLiteral(v, StandardLiteralStyle)
			assert.Error(t, err)
		})
	}
}
