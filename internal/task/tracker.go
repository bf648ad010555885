// Package task tracks background ingestion tasks so clients can poll their
// progress.
package task

import (
	"errors"
	"time"
)

type Status string

const (
	StatusPending    Status = "pending"
	StatusProcessing Status = "processing"
	StatusCompleted  Status = "completed"
	StatusError      Status = "error"
)

// ErrTaskFinished is returned for writes to a task that already reached a
// terminal state. The task is left unchanged.
var ErrTaskFinished = errors.New("task already finished")

type Meta struct {
	Filename string
	OwnerID  string
}

type Failure struct {
	Kind    string `json:"kind"`
	Message string `json:"message"`
}

// Snapshot is an immutable copy of a task. Trackers replace the whole record
// on every write so readers never see a half-applied update.
type Snapshot struct {
	ID         string     `json:"task_id"`
	Status     Status     `json:"status"`
	Progress   int        `json:"progress"`
	Message    string     `json:"message"`
	Result     any        `json:"result,omitempty"`
	Error      *Failure   `json:"error,omitempty"`
	Filename   string     `json:"filename"`
	OwnerID    string     `json:"owner_id"`
	CreatedAt  time.Time  `json:"created_at"`
	UpdatedAt  time.Time  `json:"updated_at"`
	FinishedAt *time.Time `json:"finished_at,omitempty"`
}

func (s Snapshot) Terminal() bool {
	return s.Status == StatusCompleted || s.Status == StatusError
}

type Tracker interface {
	Submit(meta Meta) Snapshot
	Get(id string) (Snapshot, error)
	Start(id, message string) error
	// Update moves progress forward. A lower percent keeps the recorded
	// progress and only replaces the message.
	Update(id string, percent int, message string) error
	Complete(id string, result any) error
	Fail(id string, err error) error
	List(ownerID string) []Snapshot
	// Watch streams snapshots of one task until it finishes or cancel is called.
	Watch(id string) (<-chan Snapshot, func(), error)
	Sweep(now time.Time) int
}
