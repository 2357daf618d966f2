package models

import (
	"time"

	"github.com/google/uuid"
)

// QueryStatus is the lifecycle status of a saved query.
type QueryStatus string

const (
	QueryStatusActive   QueryStatus = "active"
	QueryStatusArchived QueryStatus = "archived"
)

// QueryParameter declares a {name} placeholder and the value used when a
// run does not supply one (scheduled checks never do).
type QueryParameter struct {
	Name    string       `json:"name"`
	Type    VariableType `json:"type,omitempty"`
	Default any          `json:"default,omitempty"`
}

// Query is a saved statement template bound to a data source.
type Query struct {
	ID           uuid.UUID        `json:"id"`
	Name         string           `json:"name"`
	Description  string           `json:"description,omitempty"`
	Statement    string           `json:"statement"`
	DataSourceID string           `json:"data_source_id"`
	Status       QueryStatus      `json:"status"`
	Parameters   []QueryParameter `json:"parameters,omitempty"`
	CreatedAt    time.Time        `json:"created_at"`
	UpdatedAt    time.Time        `json:"updated_at"`
}

// StatementFor builds the statement for one run of q. Supplied values win
// over parameter defaults.
func (q *Query) StatementFor(values map[string]any) Statement {
	vars := make(map[string]Variable, len(q.Parameters)+len(values))
	types := make(map[string]VariableType, len(q.Parameters))
	for _, p := range q.Parameters {
		types[p.Name] = p.Type
		if p.Default == nil {
			continue
		}
		vars[p.Name] = Variable{Name: p.Name, Value: p.Default, Type: p.Type}
	}
	for name, v := range values {
		vars[name] = Variable{Name: name, Value: v, Type: types[name]}
	}
	return Statement{Template: q.Statement, Variables: vars, DataSourceID: q.DataSourceID}
}
