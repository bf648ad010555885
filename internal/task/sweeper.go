package task

import (
	"time"

	"github.com/go-co-op/gocron"

	"docuchat/internal/logger"
)

const DefaultSweepInterval = time.Minute

// Sweeper runs Tracker.Sweep on a fixed interval.
type Sweeper struct {
	scheduler *gocron.Scheduler
}

func NewSweeper(t Tracker, interval time.Duration) (*Sweeper, error) {
	if interval <= 0 {
		interval = DefaultSweepInterval
	}
	s := gocron.NewScheduler(time.UTC)
	s.TagsUnique()
	_, err := s.Every(interval).Tag("task-sweep").SingletonMode().Do(func() {
		if n := t.Sweep(time.Now()); n > 0 {
			logger.Info("evicted upload tasks", "count", n)
		}
	})
	if err != nil {
		return nil, err
	}
	return &Sweeper{scheduler: s}, nil
}

func (s *Sweeper) Start() {
	s.scheduler.StartAsync()
}

func (s *Sweeper) Stop() {
	s.scheduler.Stop()
}
