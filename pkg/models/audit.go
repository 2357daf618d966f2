package models

import (
	"time"

	"github.com/google/uuid"
)

// Audit records one ad-hoc statement execution. Rows are append-only.
type Audit struct {
	ID           uuid.UUID  `json:"id"`
	QueryID      *uuid.UUID `json:"query_id,omitempty"`
	UserID       string     `json:"user_id,omitempty"`
	Statement    string     `json:"statement"`
	DataSourceID string     `json:"data_source_id"`
	CreatedAt    time.Time  `json:"created_at"`
}
