// Package sweep periodically re-runs organizations whose latest run did not
// complete cleanly.
package sweep

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"insightpipe/internal/config"
	"insightpipe/internal/domain"

	"github.com/sirupsen/logrus"
)

type OrgSource interface {
	DegradedOrgs(ctx context.Context) ([]string, error)
}

type Runner interface {
	RunNow(ctx context.Context, orgID string) (domain.Run, error)
}

// Result tracks separate counters for each way an org can end up.
type Result struct {
	Candidates int
	Completed  int
	Degraded   int
	Busy       int
	Errors     []string
}

func (r Result) Summary() string {
	if r.Candidates == 0 {
		return "no degraded organizations"
	}
	parts := []string{fmt.Sprintf("%d completed", r.Completed)}
	if r.Degraded > 0 {
		parts = append(parts, fmt.Sprintf("%d still degraded", r.Degraded))
	}
	if r.Busy > 0 {
		parts = append(parts, fmt.Sprintf("%d already running", r.Busy))
	}
	if len(r.Errors) > 0 {
		parts = append(parts, fmt.Sprintf("%d failed", len(r.Errors)))
	}
	return fmt.Sprintf("retried %d organizations: %s", r.Candidates, strings.Join(parts, ", "))
}

type Sweeper struct {
	orgs   OrgSource
	runner Runner
	log    *logrus.Entry
}

func New(orgs OrgSource, runner Runner, log *logrus.Entry) *Sweeper {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Sweeper{orgs: orgs, runner: runner, log: log.WithField("component", "sweep")}
}

// RunOnce retries every degraded org once, sequentially. Orgs with a run in
// flight are skipped; the duplicate check keeps a retry from opening a
// second ticket for a cluster that already got one.
func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	orgs, err := s.orgs.DegradedOrgs(ctx)
	if err != nil {
		return Result{}, fmt.Errorf("listing degraded organizations: %w", err)
	}

	result := Result{Candidates: len(orgs)}
	for _, org := range orgs {
		if ctx.Err() != nil {
			return result, ctx.Err()
		}
		run, err := s.runner.RunNow(ctx, org)
		switch {
		case errors.Is(err, domain.ErrConcurrentRunConflict):
			result.Busy++
		case err != nil:
			s.log.WithError(err).WithField("org_id", org).Warn("retry run failed")
			result.Errors = append(result.Errors, fmt.Sprintf("%s: %v", org, err))
		case run.Status == domain.RunCompleted:
			result.Completed++
		default:
			result.Degraded++
		}
	}
	return result, nil
}

// Start parses the 5-field cron expression and runs the sweep on that
// schedule until ctx is done. An empty schedule disables the sweep.
func (s *Sweeper) Start(ctx context.Context, schedule string, loc *time.Location) error {
	schedule = strings.TrimSpace(schedule)
	if schedule == "" {
		s.log.Info("retry sweep disabled (retry_schedule not set)")
		return nil
	}
	sched, err := config.ParseSchedule(schedule)
	if err != nil {
		return fmt.Errorf("invalid retry_schedule %q: %w", schedule, err)
	}
	if loc == nil {
		loc = time.Local
	}
	s.log.WithField("cron", schedule).Info("retry sweep scheduled")

	go func() {
		for {
			now := time.Now().In(loc)
			next := sched.Next(now)
			wait := next.Sub(now)
			s.log.Debugf("next retry sweep at %s (in %s)", next.Format("Mon Jan 2 15:04"), wait.Round(time.Minute))

			timer := time.NewTimer(wait)
			select {
			case <-ctx.Done():
				timer.Stop()
				return
			case <-timer.C:
			}

			result, err := s.RunOnce(ctx)
			if err != nil {
				s.log.WithError(err).Error("retry sweep failed")
				continue
			}
			s.log.Info("retry sweep complete: " + result.Summary())
		}
	}()
	return nil
}
