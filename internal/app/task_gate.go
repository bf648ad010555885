package app

import (
	"fmt"
	"sync"

	"docuchat/internal/apperr"
	"docuchat/internal/task"
)

// TaskGate admits at most one unfinished task per owner and filename. Uploads
// and reprocessing share one gate so they cannot interleave on a document.
type TaskGate struct {
	mu      sync.Mutex
	tracker task.Tracker
}

func NewTaskGate(tracker task.Tracker) *TaskGate {
	return &TaskGate{tracker: tracker}
}

// Admit runs check and submits a task while holding the gate. check sees a
// state where no other admission for the same document is in progress.
func (g *TaskGate) Admit(meta task.Meta, check func() error) (task.Snapshot, error) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.Busy(meta.OwnerID, meta.Filename) {
		return task.Snapshot{}, fmt.Errorf("%w: %s is already being processed", apperr.ErrConflict, meta.Filename)
	}
	if check != nil {
		if err := check(); err != nil {
			return task.Snapshot{}, err
		}
	}
	return g.tracker.Submit(meta), nil
}

// Hold runs fn while holding the gate, provided no unfinished task exists for
// the document. No task for the document can be admitted until fn returns.
func (g *TaskGate) Hold(ownerID, filename string, fn func() error) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	if g.Busy(ownerID, filename) {
		return fmt.Errorf("%w: %s is being processed", apperr.ErrConflict, filename)
	}
	return fn()
}

// Busy reports whether an unfinished task exists for the document.
func (g *TaskGate) Busy(ownerID, filename string) bool {
	for _, s := range g.tracker.List(ownerID) {
		if s.Filename == filename && !s.Terminal() {
			return true
		}
	}
	return false
}
