// internal/scheduler/scheduler.go
package scheduler

import (
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// Scheduler fires callbacks at future instants, keyed by job id. Scheduling a
// job id that already exists replaces the previous entry; cancellation is
// best-effort only. Entries live in memory: durability comes from the
// deadline descriptors persisted inside session state, so a restart simply
// means callers re-arm what they need. Callbacks must therefore revalidate
// against persisted state before acting — a fired job may be stale.
type Scheduler struct {
	mu     sync.Mutex
	jobs   map[string]*time.Timer
	closed bool
	log    *logrus.Logger
}

// New returns a ready scheduler.
func New(log *logrus.Logger) *Scheduler {
	return &Scheduler{
		jobs: make(map[string]*time.Timer),
		log:  log,
	}
}

// Schedule arms fn to run once at fireAt on its own goroutine, replacing any
// existing job with the same id.
func (s *Scheduler) Schedule(jobID string, fireAt time.Time, fn func()) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		s.log.WithField("job", jobID).Warn("schedule on stopped scheduler ignored")
		return
	}

	if old, ok := s.jobs[jobID]; ok {
		old.Stop()
	}

	d := time.Until(fireAt)
	if d < 0 {
		d = 0
	}

	var timer *time.Timer
	timer = time.AfterFunc(d, func() {
		s.mu.Lock()
		// a replaced job may still fire; only the current registration runs
		if s.jobs[jobID] != timer {
			s.mu.Unlock()
			return
		}
		delete(s.jobs, jobID)
		s.mu.Unlock()
		fn()
	})
	s.jobs[jobID] = timer
}

// Cancel stops a pending job. Returns false when the job was not found or has
// already fired; callers must not rely on this for correctness.
func (s *Scheduler) Cancel(jobID string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	timer, ok := s.jobs[jobID]
	if !ok {
		return false
	}
	delete(s.jobs, jobID)
	return timer.Stop()
}

// Shutdown stops all pending jobs. In-flight callbacks are not interrupted.
func (s *Scheduler) Shutdown() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	for id, timer := range s.jobs {
		timer.Stop()
		delete(s.jobs, id)
	}
}
