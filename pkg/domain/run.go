// Package domain holds the data types shared by the orchestrator, the
// adapters and the APIs.
package domain

import "time"

// RunStatus represents the lifecycle status of a load run
type RunStatus string

const (
	RunStatusSubmitted RunStatus = "submitted"
	RunStatusRunning   RunStatus = "running"
	RunStatusCompleted RunStatus = "completed"
	RunStatusFailed    RunStatus = "failed"
	RunStatusCancelled RunStatus = "cancelled"
)

// IsTerminal reports whether no further transition can happen
func (s RunStatus) IsTerminal() bool {
	return s == RunStatusCompleted || s == RunStatusFailed || s == RunStatusCancelled
}

// RunState is the persisted record of one load pass of a named composite
type RunState struct {
	RunID       string                 `json:"run_id"`
	Wrap        string                 `json:"wrap"`
	Status      RunStatus              `json:"status"`
	Seed        map[string]interface{} `json:"seed,omitempty"`
	Content     map[string]interface{} `json:"content,omitempty"`
	Error       string                 `json:"error,omitempty"`
	SubmittedAt time.Time              `json:"submitted_at"`
	StartedAt   *time.Time             `json:"started_at,omitempty"`
	CompletedAt *time.Time             `json:"completed_at,omitempty"`
}

// Clone returns a copy that does not share the top-level maps
func (s *RunState) Clone() *RunState {
	if s == nil {
		return nil
	}
	c := *s
	c.Seed = copyMap(s.Seed)
	c.Content = copyMap(s.Content)
	return &c
}

func copyMap(m map[string]interface{}) map[string]interface{} {
	if m == nil {
		return nil
	}
	out := make(map[string]interface{}, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
