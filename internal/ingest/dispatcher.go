package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"docuchat/internal/logger"
)

var ErrDispatcherClosed = errors.New("dispatcher closed")

// Dispatcher hands a job to whatever runs it and returns without waiting.
type Dispatcher interface {
	Dispatch(ctx context.Context, job Job) error
}

type Runner interface {
	Run(ctx context.Context, job Job) error
}

// InProcess runs each job on its own goroutine. Jobs are detached from the
// request that dispatched them and bounded by timeout.
type InProcess struct {
	runner  Runner
	timeout time.Duration
	base    context.Context
	cancel  context.CancelFunc

	mu     sync.Mutex
	closed bool
	wg     sync.WaitGroup
}

func NewInProcess(runner Runner, timeout time.Duration) *InProcess {
	base, cancel := context.WithCancel(context.Background())
	return &InProcess{runner: runner, timeout: timeout, base: base, cancel: cancel}
}

func (d *InProcess) Dispatch(ctx context.Context, job Job) error {
	d.mu.Lock()
	if d.closed {
		d.mu.Unlock()
		return ErrDispatcherClosed
	}
	d.wg.Add(1)
	d.mu.Unlock()

	go func() {
		defer d.wg.Done()
		runCtx, cancel := d.jobContext()
		defer cancel()
		if err := d.runner.Run(runCtx, job); err != nil {
			logger.Debug("in-process job ended with error", "task_id", job.TaskID, "error", err)
		}
	}()
	return nil
}

func (d *InProcess) jobContext() (context.Context, context.CancelFunc) {
	if d.timeout > 0 {
		return context.WithTimeout(d.base, d.timeout)
	}
	return context.WithCancel(d.base)
}

// Close waits for running jobs until ctx expires, then cancels them.
func (d *InProcess) Close(ctx context.Context) error {
	d.mu.Lock()
	d.closed = true
	d.mu.Unlock()

	done := make(chan struct{})
	go func() {
		d.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		d.cancel()
		return nil
	case <-ctx.Done():
		d.cancel()
		<-done
		return ctx.Err()
	}
}
