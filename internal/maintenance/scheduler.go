// Package maintenance runs periodic housekeeping on a cron schedule:
// clearing drop files orphaned by dead sessions and logging a census of
// live nodes.
package maintenance

import (
	"context"
	"log"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
)

// Result captures one maintenance run.
type Result struct {
	StartTime time.Time
	EndTime   time.Time
	Sessions  int
	Removed   []string
	Error     error
}

// History summarizes runs since start.
type History struct {
	LastRun      time.Time
	LastRemoved  int
	RunCount     int
	RemovedTotal int
	FailureCount int
}

// Scheduler runs the sweep on a cron schedule with a seconds field.
type Scheduler struct {
	schedule string
	sweeper  Sweeper
	census   func() int

	cron    *cron.Cron
	mu      sync.Mutex
	running bool
	history History
}

// NewScheduler returns a scheduler for schedule. census reports the live
// session count for the log line.
func NewScheduler(schedule string, sweeper Sweeper, census func() int) *Scheduler {
	return &Scheduler{schedule: schedule, sweeper: sweeper, census: census}
}

// Start schedules the sweep and blocks until ctx is cancelled. An empty
// schedule disables maintenance.
func (s *Scheduler) Start(ctx context.Context) error {
	if s.schedule == "" {
		log.Printf("INFO: Maintenance disabled (no schedule)")
		return nil
	}

	s.cron = cron.New(cron.WithSeconds())
	if _, err := s.cron.AddFunc(s.schedule, func() { s.RunOnce() }); err != nil {
		return err
	}
	s.cron.Start()
	log.Printf("INFO: Maintenance scheduled: %s", s.schedule)

	<-ctx.Done()
	s.Stop()
	return nil
}

// Stop halts the cron and waits for a running sweep to finish.
func (s *Scheduler) Stop() {
	if s.cron == nil {
		return
	}
	<-s.cron.Stop().Done()
	log.Printf("INFO: Maintenance stopped")
}

// RunOnce performs one sweep and census. Overlapping runs are skipped.
func (s *Scheduler) RunOnce() Result {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		log.Printf("WARN: Maintenance skipped: previous run still active")
		return Result{}
	}
	s.running = true
	s.mu.Unlock()

	result := Result{StartTime: time.Now()}
	if s.census != nil {
		result.Sessions = s.census()
	}
	result.Removed, result.Error = s.sweeper.SweepStaleDropFiles()
	result.EndTime = time.Now()

	if result.Error != nil {
		log.Printf("ERROR: Maintenance sweep failed: %v", result.Error)
	}
	log.Printf("INFO: Maintenance: %d active session(s), %d stale drop file(s) removed",
		result.Sessions, len(result.Removed))

	s.mu.Lock()
	s.running = false
	s.history.LastRun = result.StartTime
	s.history.LastRemoved = len(result.Removed)
	s.history.RunCount++
	s.history.RemovedTotal += len(result.Removed)
	if result.Error != nil {
		s.history.FailureCount++
	}
	s.mu.Unlock()
	return result
}

// History returns a copy of the run summary.
func (s *Scheduler) History() History {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.history
}
