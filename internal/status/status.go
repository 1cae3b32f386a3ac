// Package status fans run progress out to subscribers.
//
// Every key (a run id, or ActiveKey for whichever run is current) carries its own
// monotonically increasing sequence number. A new subscriber receives the latest
// snapshot for its key, then every update published after it attached. Delivery
// never blocks the publisher: a subscriber whose buffer is full misses events and is
// expected to discard anything not newer than what it already accepted (Cursor).
package status

import (
	"time"
)

// ActiveKey addresses whatever run is currently active.
const ActiveKey = "ingest"

// State is a run's position in its lifecycle.
type State string

const (
	StateQueued    State = "queued"
	StateScanning  State = "scanning"
	StateEmbedding State = "embedding"
	StateCompleted State = "completed"
	StateSkipped   State = "skipped"
	StateCancelled State = "cancelled"
	StateError     State = "error"
)

// Terminal reports whether no further transitions can happen.
func (s State) Terminal() bool {
	switch s {
	case StateCompleted, StateSkipped, StateCancelled, StateError:
		return true
	}
	return false
}

// Counts are the progress counters of one run.
type Counts struct {
	Files     int `json:"files"`
	Chunks    int `json:"chunks"`
	Embedded  int `json:"embedded"`
	Supported int `json:"supported"`
	Skipped   int `json:"skipped"`
	Failed    int `json:"failed"`
	Added     int `json:"added"`
	Changed   int `json:"changed"`
	Removed   int `json:"removed"`
	Unchanged int `json:"unchanged"`
}

// Status is the user-visible view of a run.
type Status struct {
	RunID       string    `json:"runId"`
	Root        string    `json:"root"`
	Operation   string    `json:"operation"`
	Model       string    `json:"model"`
	DryRun      bool      `json:"dryRun"`
	State       State     `json:"state"`
	Counts      Counts    `json:"counts"`
	CurrentFile string    `json:"currentFile,omitempty"`
	FileIndex   int       `json:"fileIndex,omitempty"`
	FileTotal   int       `json:"fileTotal,omitempty"`
	Percent     float64   `json:"percent,omitempty"`
	EtaMs       int64     `json:"etaMs,omitempty"`
	Message     string    `json:"message,omitempty"`
	LastError   string    `json:"lastError,omitempty"`
	StartedAt   time.Time `json:"startedAt"`
	FinishedAt  time.Time `json:"finishedAt,omitzero"`
}
