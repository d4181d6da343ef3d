// Package trigger decides when an organization's insight count starts a
// clustering run and keeps runs for the same organization from overlapping.
package trigger

import (
	"context"
	"errors"
	"fmt"
	"sync"

	"insightpipe/internal/domain"

	"github.com/sirupsen/logrus"
)

// BatchSize is the number of new insights between runs.
const BatchSize = 5

// ShouldFire reports whether the n-th insight of an organization starts a run.
func ShouldFire(n int64) bool {
	return n > 0 && n%BatchSize == 0
}

type Runner interface {
	Run(ctx context.Context, orgID string, triggerCount int64) (domain.Run, error)
}

type Options struct {
	// Async runs the pipeline in a goroutine and returns immediately.
	Async      bool
	Guard      RunGuard
	Watermarks Watermarks
	Log        *logrus.Entry
}

type Scheduler struct {
	runner Runner
	guard  RunGuard
	marks  Watermarks
	async  bool
	log    *logrus.Entry
	wg     sync.WaitGroup
}

func NewScheduler(runner Runner, opts Options) *Scheduler {
	s := &Scheduler{
		runner: runner,
		guard:  opts.Guard,
		marks:  opts.Watermarks,
		async:  opts.Async,
		log:    opts.Log,
	}
	if s.guard == nil {
		s.guard = NewMemoryGuard()
	}
	if s.marks == nil {
		s.marks = NewMemoryWatermarks()
	}
	if s.log == nil {
		s.log = logrus.NewEntry(logrus.StandardLogger())
	}
	s.log = s.log.WithField("component", "trigger")
	return s
}

// OnInsightRecorded is called once per recorded insight with the total the
// insight store returned for it. It reports whether a run was started.
// A run already in flight for the org drops this trigger and returns
// domain.ErrConcurrentRunConflict.
func (s *Scheduler) OnInsightRecorded(ctx context.Context, orgID string, n int64) (bool, error) {
	if !ShouldFire(n) {
		return false, nil
	}
	log := s.log.WithFields(logrus.Fields{"org_id": orgID, "count": n})

	fresh, err := s.marks.Advance(ctx, orgID, n)
	if err != nil {
		log.WithError(err).Warn("trigger bookkeeping failed, evaluation skipped")
		return false, fmt.Errorf("advancing trigger watermark: %w", err)
	}
	if !fresh {
		log.Debug("count already evaluated, not firing again")
		return false, nil
	}

	if err := s.start(ctx, orgID, n, log); err != nil {
		return false, err
	}
	return true, nil
}

// RunNow runs the pipeline for the org synchronously under the same guard,
// independent of the insight count. The run outlives a cancelled ctx.
func (s *Scheduler) RunNow(ctx context.Context, orgID string) (domain.Run, error) {
	log := s.log.WithField("org_id", orgID)
	release, err := s.acquire(ctx, orgID, log)
	if err != nil {
		return domain.Run{}, err
	}
	defer release()
	return s.runner.Run(context.WithoutCancel(ctx), orgID, 0)
}

// Wait blocks until every asynchronous run has finished.
func (s *Scheduler) Wait() {
	s.wg.Wait()
}

func (s *Scheduler) start(ctx context.Context, orgID string, n int64, log *logrus.Entry) error {
	release, err := s.acquire(ctx, orgID, log)
	if err != nil {
		return err
	}

	// The watermark has already advanced for n, so a run cut short by the
	// caller would never be retried by this trigger.
	runCtx := context.WithoutCancel(ctx)
	if !s.async {
		defer release()
		s.execute(runCtx, orgID, n, log)
		return nil
	}

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		defer release()
		s.execute(runCtx, orgID, n, log)
	}()
	return nil
}

func (s *Scheduler) acquire(ctx context.Context, orgID string, log *logrus.Entry) (func(), error) {
	release, err := s.guard.TryAcquire(ctx, orgID)
	if err != nil {
		if errors.Is(err, domain.ErrConcurrentRunConflict) {
			log.Warn("run already in flight, trigger dropped")
			return nil, err
		}
		log.WithError(err).Warn("run guard unavailable, trigger dropped")
		return nil, fmt.Errorf("acquiring run guard: %w", err)
	}
	return release, nil
}

func (s *Scheduler) execute(ctx context.Context, orgID string, n int64, log *logrus.Entry) {
	log.Info("clustering run triggered")
	run, err := s.runner.Run(ctx, orgID, n)
	if err != nil {
		log.WithError(err).WithField("run_id", run.ID).Error("clustering run failed")
		return
	}
	log.WithFields(logrus.Fields{
		"run_id":          run.ID,
		"status":          run.Status,
		"clusters":        run.Clusters,
		"significant":     run.Significant,
		"tickets_created": run.TicketsCreated,
	}).Info("clustering run finished")
}
