package task

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"docuchat/internal/apperr"
)

const (
	DefaultRetention  = time.Hour
	DefaultStaleAfter = 24 * time.Hour
)

type Option func(*Memory)

// WithRetention sets how long finished tasks stay readable.
func WithRetention(d time.Duration) Option {
	return func(m *Memory) {
		if d > 0 {
			m.retention = d
		}
	}
}

// WithStaleAfter sets how long an unfinished task may go without updates.
func WithStaleAfter(d time.Duration) Option {
	return func(m *Memory) {
		if d > 0 {
			m.staleAfter = d
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(m *Memory) { m.now = now }
}

// Memory is a process-local Tracker.
type Memory struct {
	mu       sync.RWMutex
	tasks    map[string]Snapshot
	watchers map[string]map[int]chan Snapshot
	nextW    int

	retention  time.Duration
	staleAfter time.Duration
	now        func() time.Time
}

func NewMemory(opts ...Option) *Memory {
	m := &Memory{
		tasks:      make(map[string]Snapshot),
		watchers:   make(map[string]map[int]chan Snapshot),
		retention:  DefaultRetention,
		staleAfter: DefaultStaleAfter,
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

func (m *Memory) Submit(meta Meta) Snapshot {
	now := m.now().UTC()
	s := Snapshot{
		ID:        uuid.NewString(),
		Status:    StatusPending,
		Message:   "queued",
		Filename:  meta.Filename,
		OwnerID:   meta.OwnerID,
		CreatedAt: now,
		UpdatedAt: now,
	}
	m.mu.Lock()
	m.tasks[s.ID] = s
	m.mu.Unlock()
	return s
}

func (m *Memory) Get(id string) (Snapshot, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	s, ok := m.tasks[id]
	if !ok {
		return Snapshot{}, fmt.Errorf("%w: task %s", apperr.ErrNotFound, id)
	}
	return s, nil
}

func (m *Memory) Start(id, message string) error {
	return m.apply(id, func(s *Snapshot) {
		s.Status = StatusProcessing
		s.Message = message
	})
}

func (m *Memory) Update(id string, percent int, message string) error {
	percent = min(max(percent, 0), 100)
	return m.apply(id, func(s *Snapshot) {
		s.Status = StatusProcessing
		s.Progress = max(s.Progress, percent)
		s.Message = message
	})
}

func (m *Memory) Complete(id string, result any) error {
	return m.apply(id, func(s *Snapshot) {
		now := s.UpdatedAt
		s.Status = StatusCompleted
		s.Progress = 100
		s.Message = "completed"
		s.Result = result
		s.FinishedAt = &now
	})
}

func (m *Memory) Fail(id string, err error) error {
	f := &Failure{Kind: string(apperr.KindOf(err)), Message: err.Error()}
	return m.apply(id, func(s *Snapshot) {
		now := s.UpdatedAt
		s.Status = StatusError
		s.Message = f.Message
		s.Error = f
		s.FinishedAt = &now
	})
}

// apply copies the current record, mutates the copy and stores it back.
func (m *Memory) apply(id string, mutate func(*Snapshot)) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[id]
	if !ok {
		return fmt.Errorf("%w: task %s", apperr.ErrNotFound, id)
	}
	if cur.Terminal() {
		return fmt.Errorf("%w: task %s is %s", ErrTaskFinished, id, cur.Status)
	}
	next := cur
	next.UpdatedAt = m.now().UTC()
	mutate(&next)
	m.tasks[id] = next
	m.publish(next)
	return nil
}

// publish delivers s to every watcher of the task, replacing any snapshot
// the watcher has not consumed yet. Callers hold m.mu.
func (m *Memory) publish(s Snapshot) {
	for _, ch := range m.watchers[s.ID] {
		select {
		case ch <- s:
		default:
			select {
			case <-ch:
			default:
			}
			ch <- s
		}
	}
	if s.Terminal() {
		for _, ch := range m.watchers[s.ID] {
			close(ch)
		}
		delete(m.watchers, s.ID)
	}
}

func (m *Memory) List(ownerID string) []Snapshot {
	m.mu.RLock()
	out := make([]Snapshot, 0, len(m.tasks))
	for _, s := range m.tasks {
		if ownerID == "" || s.OwnerID == ownerID {
			out = append(out, s)
		}
	}
	m.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		if out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].ID < out[j].ID
		}
		return out[i].CreatedAt.Before(out[j].CreatedAt)
	})
	return out
}

// Watch returns a channel that first yields the current snapshot and then
// every later one. The channel is closed after the terminal snapshot.
func (m *Memory) Watch(id string) (<-chan Snapshot, func(), error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.tasks[id]
	if !ok {
		return nil, nil, fmt.Errorf("%w: task %s", apperr.ErrNotFound, id)
	}
	ch := make(chan Snapshot, 1)
	ch <- cur
	if cur.Terminal() {
		close(ch)
		return ch, func() {}, nil
	}

	key := m.nextW
	m.nextW++
	if m.watchers[id] == nil {
		m.watchers[id] = make(map[int]chan Snapshot)
	}
	m.watchers[id][key] = ch

	cancel := func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if ws, ok := m.watchers[id]; ok {
			if c, ok := ws[key]; ok {
				close(c)
				delete(ws, key)
			}
			if len(ws) == 0 {
				delete(m.watchers, id)
			}
		}
	}
	return ch, cancel, nil
}

// Sweep evicts finished tasks past the retention window and unfinished tasks
// that have not been updated within the stale window. It returns the number
// of evicted tasks.
func (m *Memory) Sweep(now time.Time) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	evicted := 0
	for id, s := range m.tasks {
		var expired bool
		if s.Terminal() {
			expired = s.FinishedAt != nil && now.Sub(*s.FinishedAt) > m.retention
		} else {
			expired = now.Sub(s.UpdatedAt) > m.staleAfter
		}
		if !expired {
			continue
		}
		for _, ch := range m.watchers[id] {
			close(ch)
		}
		delete(m.watchers, id)
		delete(m.tasks, id)
		evicted++
	}
	return evicted
}
