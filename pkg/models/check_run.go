package models

import "github.com/google/uuid"

// CheckRunEvent is emitted once per completed check run.
type CheckRunEvent struct {
	CheckID    uuid.UUID  `json:"checkId"`
	QueryID    uuid.UUID  `json:"queryId"`
	Schedule   string     `json:"schedule,omitempty"`
	PriorState CheckState `json:"priorState"`
	NewState   CheckState `json:"newState"`
	RowCount   int        `json:"rowCount"`
	Error      string     `json:"error,omitempty"`
	Attempts   int        `json:"attempts"`
	DurationMs int64      `json:"durationMs"`
	// Skipped is set when the check vanished or was disabled mid-run and no state was written.
	Skipped bool `json:"skipped,omitempty"`
}

// Transitioned reports whether the run changed the check's state.
func (e CheckRunEvent) Transitioned() bool {
	return e.PriorState != e.NewState
}
