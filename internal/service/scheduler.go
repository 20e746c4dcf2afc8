package service

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/robfig/cron/v3"
	"golang.org/x/sync/singleflight"

	"github.com/MimeLyc/subvert/pkg/icron"
	"github.com/MimeLyc/subvert/pkg/log"
)

// WalkRunner performs one walk.
type WalkRunner interface {
	Run(ctx context.Context, trigger string) (Summary, error)
}

// Scheduler starts walks from cron and on demand. Triggers that arrive while
// a walk is in flight join it instead of starting another.
type Scheduler struct {
	runner   WalkRunner
	cron     *cron.Cron
	cronExpr string

	group    singleflight.Group
	inflight atomic.Bool

	mu      sync.Mutex
	entryID cron.EntryID
}

func NewScheduler(runner WalkRunner, c *cron.Cron, cronExpr string) *Scheduler {
	return &Scheduler{
		runner:   runner,
		cron:     c,
		cronExpr: cronExpr,
	}
}

// Schedule registers the walk with cron. The caller starts and stops the cron.
func (s *Scheduler) Schedule(ctx context.Context) error {
	log.Info("Scheduling subtitle walk with %q", s.cronExpr)

	id, err := s.cron.AddFunc(s.cronExpr, func() {
		if _, _, err := s.Trigger(ctx, "cron"); err != nil {
			log.Error("Scheduled walk failed: %v", err)
		}
	})
	if err != nil {
		return WrapError(err, ErrConfig, "invalid cron expression").WithContext("cron", s.cronExpr)
	}

	s.mu.Lock()
	s.entryID = id
	s.mu.Unlock()

	if info, err := icron.GetTriggerInfo(s.cronExpr, time.Now()); err == nil {
		log.Info("Next walk at %s (in %s)", info.Next.Format(time.RFC3339), info.TimeUntilNext.Round(time.Second))
	}
	return nil
}

// Trigger runs a walk now, or waits for the one in flight. shared reports
// whether the result came from a walk started by another caller.
func (s *Scheduler) Trigger(ctx context.Context, trigger string) (Summary, bool, error) {
	v, err, shared := s.group.Do("walk", func() (any, error) {
		s.inflight.Store(true)
		defer s.inflight.Store(false)
		return s.runner.Run(ctx, trigger)
	})
	summary, _ := v.(Summary)
	return summary, shared, err
}

// TriggerAsync starts a walk in the background. It returns false when a walk
// is already running or another caller has just claimed the start. The walk
// clears the flag when it ends.
func (s *Scheduler) TriggerAsync(ctx context.Context, trigger string) bool {
	if !s.inflight.CompareAndSwap(false, true) {
		return false
	}
	go func() {
		if _, _, err := s.Trigger(ctx, trigger); err != nil {
			log.Error("Walk triggered by %s failed: %v", trigger, err)
		}
	}()
	return true
}

// Running reports whether a walk is in flight.
func (s *Scheduler) Running() bool {
	return s.inflight.Load()
}

// NextRun is the next cron trigger, zero when not scheduled or cron is stopped.
func (s *Scheduler) NextRun() time.Time {
	s.mu.Lock()
	id := s.entryID
	s.mu.Unlock()
	if id == 0 {
		return time.Time{}
	}
	return s.cron.Entry(id).Next
}
