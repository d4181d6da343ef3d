// Package pipeline runs one clustering pass for an organization: build
// clusters, keep the significant ones, ask for a recommendation per cluster
// and apply the ticket policy.
package pipeline

import (
	"context"
	"errors"
	"fmt"
	"time"

	"insightpipe/internal/cluster"
	"insightpipe/internal/domain"
	"insightpipe/internal/recommend"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
)

const defaultMaxConcurrentClusters = 4

type InsightSource interface {
	ListInsights(ctx context.Context, orgID string, since *time.Time) ([]domain.Insight, error)
}

type Recommender interface {
	Request(ctx context.Context, c domain.Cluster) (domain.Recommendation, error)
}

type Decider interface {
	Decide(ctx context.Context, orgID string, c domain.Cluster, rec domain.Recommendation) (domain.TicketDecision, error)
}

type TicketCreator interface {
	CreateTicket(ctx context.Context, orgID, clusterLabel string, rec domain.Recommendation, sourceInsightIDs []string) (domain.Ticket, error)
}

type RunRecorder interface {
	StartRun(ctx context.Context, run domain.Run) error
	FinishRun(ctx context.Context, run domain.Run) error
	RecordOutcome(ctx context.Context, o domain.Outcome) (int64, error)
}

// Notifier is told about every ticket the pipeline creates. Failures are
// logged and never change the outcome.
type Notifier interface {
	TicketCreated(ctx context.Context, ticket domain.Ticket, outcome domain.Outcome) error
}

type Deps struct {
	Insights    InsightSource
	Recommender Recommender
	Decider     Decider
	Tickets     TicketCreator
	Runs        RunRecorder
	Notifiers   []Notifier
}

type Options struct {
	MaxConcurrentClusters int
	// Lookback limits clustering to insights newer than now-Lookback. Zero means all.
	Lookback time.Duration
	Now      func() time.Time
	Log      *logrus.Entry
}

type Runner struct {
	deps        Deps
	maxParallel int
	lookback    time.Duration
	now         func() time.Time
	log         *logrus.Entry
}

func NewRunner(deps Deps, opts Options) *Runner {
	r := &Runner{
		deps:        deps,
		maxParallel: opts.MaxConcurrentClusters,
		lookback:    opts.Lookback,
		now:         opts.Now,
		log:         opts.Log,
	}
	if r.maxParallel <= 0 {
		r.maxParallel = defaultMaxConcurrentClusters
	}
	if r.now == nil {
		r.now = time.Now
	}
	if r.log == nil {
		r.log = logrus.NewEntry(logrus.StandardLogger())
	}
	r.log = r.log.WithField("component", "pipeline")
	return r
}

// Run executes one pass for the org. The returned error is non-nil only when
// the insights cannot be listed; per-cluster failures degrade the run instead.
func (r *Runner) Run(ctx context.Context, orgID string, triggerCount int64) (domain.Run, error) {
	run := domain.Run{
		ID:           uuid.NewString(),
		OrgID:        orgID,
		TriggerCount: triggerCount,
		Status:       domain.RunRunning,
		StartedAt:    r.now(),
	}
	log := r.log.WithFields(logrus.Fields{"org_id": orgID, "run_id": run.ID})
	bookkeeping := context.WithoutCancel(ctx)

	if err := r.deps.Runs.StartRun(bookkeeping, run); err != nil {
		log.WithError(err).Warn("recording run start failed")
	}

	var since *time.Time
	if r.lookback > 0 {
		t := run.StartedAt.Add(-r.lookback)
		since = &t
	}
	insights, err := r.deps.Insights.ListInsights(ctx, orgID, since)
	if err != nil {
		run.Status = domain.RunFailed
		r.finish(bookkeeping, &run, log)
		return run, fmt.Errorf("listing insights: %w", err)
	}

	built := cluster.Build(insights)
	for _, id := range built.Excluded {
		log.WithField("insight_id", id).Debug("insight excluded from clustering: no usable keywords")
	}
	significant := cluster.Significant(built.Clusters)
	run.Clusters = len(built.Clusters)
	run.Excluded = len(built.Excluded)
	run.Significant = len(significant)
	log.WithFields(logrus.Fields{
		"insights":    len(insights),
		"clusters":    run.Clusters,
		"significant": run.Significant,
		"excluded":    run.Excluded,
	}).Info("clusters built")

	outcomes := make([]domain.Outcome, len(significant))
	var g errgroup.Group
	g.SetLimit(r.maxParallel)
	for i, c := range significant {
		g.Go(func() error {
			outcomes[i] = r.processCluster(ctx, run.ID, orgID, c, log)
			return nil
		})
	}
	_ = g.Wait()

	run.Status = domain.RunCompleted
	for _, o := range outcomes {
		if o.Failure != domain.FailureNone {
			run.Status = domain.RunDegraded
		}
		if o.TicketID != "" {
			run.TicketsCreated++
		}
	}
	run.Outcomes = outcomes
	r.finish(bookkeeping, &run, log)
	return run, nil
}

func (r *Runner) finish(ctx context.Context, run *domain.Run, log *logrus.Entry) {
	run.FinishedAt = r.now()
	if err := r.deps.Runs.FinishRun(ctx, *run); err != nil {
		log.WithError(err).Warn("recording run result failed")
	}
}

// processCluster never returns an error: every failure ends up in the
// outcome as a non-creating decision with its failure kind.
func (r *Runner) processCluster(ctx context.Context, runID, orgID string, c domain.Cluster, runLog *logrus.Entry) domain.Outcome {
	log := runLog.WithFields(logrus.Fields{"cluster_label": c.Label, "cluster_size": c.Size})
	o := domain.Outcome{
		RunID:              runID,
		OrgID:              orgID,
		ClusterLabel:       c.Label,
		ClusterSize:        c.Size,
		NegativePercentage: c.NegativePercentage,
	}

	rec, err := r.deps.Recommender.Request(ctx, c)
	if err != nil {
		return r.record(ctx, degrade(o, err), nil, log)
	}
	o.Recommendation = &rec

	d, err := r.deps.Decider.Decide(ctx, orgID, c, rec)
	if err != nil {
		return r.record(ctx, degrade(o, err), nil, log)
	}
	o.Decision = d
	if !d.ShouldCreateTicket {
		log.WithField("reason", d.Reason).Info("ticket not created")
		return r.record(ctx, o, nil, log)
	}

	ticket, err := r.deps.Tickets.CreateTicket(ctx, orgID, c.Label, rec, c.MemberIDs())
	if err != nil {
		log.WithError(err).Error("creating ticket failed")
		o.Failure = domain.FailureUpstreamUnavailable
		o.Decision.ShouldCreateTicket = false
		o.Decision.Reason = fmt.Sprintf("%s (ticket store unavailable: %v)", d.Reason, err)
		return r.record(ctx, o, nil, log)
	}
	o.TicketID = ticket.ID
	log.WithField("ticket_id", ticket.ID).Info("ticket created")
	return r.record(ctx, o, &ticket, log)
}

func degrade(o domain.Outcome, err error) domain.Outcome {
	o.Failure = domain.FailureKindOf(err)
	o.Decision = domain.TicketDecision{Reason: fmt.Sprintf("%s: %v", o.Failure, err)}
	var malformed *recommend.MalformedError
	if errors.As(err, &malformed) {
		o.RawResponse = malformed.Raw
	}
	return o
}

func (r *Runner) record(ctx context.Context, o domain.Outcome, ticket *domain.Ticket, log *logrus.Entry) domain.Outcome {
	if o.Failure != domain.FailureNone {
		log.WithField("failure", o.Failure).Warn(o.Decision.Reason)
	}
	o.CreatedAt = r.now()

	bookkeeping := context.WithoutCancel(ctx)
	id, err := r.deps.Runs.RecordOutcome(bookkeeping, o)
	if err != nil {
		log.WithError(err).Warn("recording outcome failed")
	}
	o.ID = id

	if ticket != nil {
		for _, n := range r.deps.Notifiers {
			if err := n.TicketCreated(bookkeeping, *ticket, o); err != nil {
				log.WithError(err).WithField("ticket_id", ticket.ID).Warn("ticket notification failed")
			}
		}
	}
	return o
}
