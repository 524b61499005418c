package tasks

import (
	"context"
	"encoding/json"
	"time"
)

type RunStatus string

const (
	RunPending   RunStatus = "Pending"
	RunRunning   RunStatus = "Running"
	RunCompleted RunStatus = "Completed"
	RunFailed    RunStatus = "Failed"
	RunCancelled RunStatus = "Cancelled"
)

func (s RunStatus) Finished() bool {
	return s == RunCompleted || s == RunFailed || s == RunCancelled
}

// Run is the observable state of one triggered task.
type Run struct {
	ID         string          `json:"id"`
	Task       string          `json:"task"`
	Status     RunStatus       `json:"status"`
	Attempts   int             `json:"attempts"`
	Output     json.RawMessage `json:"output,omitempty"`
	Error      string          `json:"error,omitempty"`
	CreatedAt  time.Time       `json:"createdAt"`
	StartedAt  *time.Time      `json:"startedAt,omitempty"`
	FinishedAt *time.Time      `json:"finishedAt,omitempty"`
}

// Dispatcher enqueues tasks and reports on their runs.
type Dispatcher interface {
	// Trigger enqueues one run and returns its id without waiting.
	Trigger(ctx context.Context, task string, payload any) (string, error)
	// TriggerAndWait enqueues one run, blocks until it finishes and decodes its
	// output into out when out is not nil.
	TriggerAndWait(ctx context.Context, task string, payload any, out any) error
	// BatchTrigger enqueues up to MaxBatchTrigger runs of the same task.
	BatchTrigger(ctx context.Context, task string, payloads []any) ([]string, error)
	Run(ctx context.Context, id string) (*Run, error)
}
