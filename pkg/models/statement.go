package models

import (
	"crypto/sha256"
	"encoding/hex"
)

// VariableType is the literal form a bound value takes.
type VariableType string

const (
	VariableTypeString  VariableType = "string"
	VariableTypeNumber  VariableType = "number"
	VariableTypeDate    VariableType = "date"
	VariableTypeTime    VariableType = "timestamp"
	VariableTypeList    VariableType = "list"
	VariableTypeBoolean VariableType = "boolean"
	VariableTypeNull    VariableType = "null"
)

// Variable is one runtime value for a {name} placeholder. An empty Type is inferred from Value.
type Variable struct {
	Name  string       `json:"name"`
	Value any          `json:"value"`
	Type  VariableType `json:"type,omitempty"`
}

// Statement is a template plus its variable bindings and target data source.
// It is built per run and never mutated.
type Statement struct {
	Template     string
	Variables    map[string]Variable
	DataSourceID string
}

// Values returns the raw variable values keyed by name.
func (s Statement) Values() map[string]any {
	out := make(map[string]any, len(s.Variables))
	for name, v := range s.Variables {
		out[name] = v.Value
	}
	return out
}

// BoundStatement is adapter-ready statement text for a data source.
type BoundStatement struct {
	Text         string
	DataSourceID string
}

// Fingerprint identifies a bound statement for caching. Equal text against the
// same data source always yields the same fingerprint.
func (b BoundStatement) Fingerprint() string {
	sum := sha256.Sum256([]byte(b.Text))
	return "statement/" + b.DataSourceID + "/" + hex.EncodeToString(sum[:])
}
