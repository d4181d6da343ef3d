// Package decision applies the ticket policy to a cluster and its
// recommendation.
package decision

import (
	"context"
	"fmt"
	"strings"
	"time"

	"insightpipe/internal/domain"
)

// DuplicateWindow is how far back an open ticket with the same label
// suppresses a new one.
const DuplicateWindow = 7 * 24 * time.Hour

const (
	reasonHighImpact       = "High impact (affects revenue)"
	reasonImmediateUrgency = "Immediate urgency (critical functionality)"
)

type Checks struct {
	ImpactIsHigh       bool
	UrgencyIsImmediate bool
	NoRecentDuplicate  bool
}

// Evaluate is the pure policy: a ticket is created only when all three
// checks hold. A recent duplicate is always named in the reason so that
// "already handled" is distinguishable from "policy not met".
func Evaluate(c Checks) domain.TicketDecision {
	return EvaluateWithin(c, DuplicateWindow)
}

// EvaluateWithin is Evaluate with the duplicate window named in the reason.
func EvaluateWithin(c Checks, window time.Duration) domain.TicketDecision {
	days := int(window.Hours() / 24)
	d := domain.TicketDecision{
		ShouldCreateTicket: c.ImpactIsHigh && c.UrgencyIsImmediate && c.NoRecentDuplicate,
		ImpactIsHigh:       c.ImpactIsHigh,
		UrgencyIsImmediate: c.UrgencyIsImmediate,
		NoRecentDuplicate:  c.NoRecentDuplicate,
	}

	var held, missing []string
	if c.ImpactIsHigh {
		held = append(held, reasonHighImpact)
	} else {
		missing = append(missing, "impact is not high")
	}
	if c.UrgencyIsImmediate {
		held = append(held, reasonImmediateUrgency)
	} else {
		missing = append(missing, "urgency is not immediate")
	}

	switch {
	case d.ShouldCreateTicket:
		d.Reason = strings.Join(held, " + ")
	case !c.NoRecentDuplicate && len(missing) == 0:
		d.Reason = fmt.Sprintf("Recent duplicate: an open ticket for this cluster was created within the last %d days", days)
	case !c.NoRecentDuplicate:
		d.Reason = fmt.Sprintf("Policy not met: %s. Recent duplicate: an open ticket for this cluster was created within the last %d days",
			strings.Join(missing, ", "), days)
	default:
		d.Reason = "Policy not met: " + strings.Join(missing, ", ")
	}
	return d
}

// ChecksFor derives the recommendation-side checks. NoRecentDuplicate is
// filled in by the caller from the ticket lookup.
func ChecksFor(rec domain.Recommendation) Checks {
	return Checks{
		ImpactIsHigh:       rec.Impact == domain.ImpactHigh,
		UrgencyIsImmediate: rec.Urgency == domain.UrgencyImmediate,
	}
}

type TicketLookup interface {
	FindRecentTicket(ctx context.Context, orgID, clusterLabel string, window time.Duration) (*domain.Ticket, error)
}

type Engine struct {
	lookup TicketLookup
	window time.Duration
}

func NewEngine(lookup TicketLookup, window time.Duration) *Engine {
	if window <= 0 {
		window = DuplicateWindow
	}
	return &Engine{lookup: lookup, window: window}
}

// Decide performs the single duplicate lookup for the cluster label and
// applies Evaluate. A lookup failure wraps domain.ErrUpstreamUnavailable and
// is not retried here.
func (e *Engine) Decide(ctx context.Context, orgID string, c domain.Cluster, rec domain.Recommendation) (domain.TicketDecision, error) {
	existing, err := e.lookup.FindRecentTicket(ctx, orgID, c.Label, e.window)
	if err != nil {
		return domain.TicketDecision{}, fmt.Errorf("duplicate ticket lookup: %v: %w", err, domain.ErrUpstreamUnavailable)
	}
	checks := ChecksFor(rec)
	checks.NoRecentDuplicate = existing == nil
	return EvaluateWithin(checks, e.window), nil
}
