package decision

import (
	"context"
	"errors"
	"testing"
	"time"

	"insightpipe/internal/domain"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEvaluateTruthTable(t *testing.T) {
	for _, impact := range []bool{false, true} {
		for _, urgency := range []bool{false, true} {
			for _, noDup := range []bool{false, true} {
				d := Evaluate(Checks{ImpactIsHigh: impact, UrgencyIsImmediate: urgency, NoRecentDuplicate: noDup})
				assert.Equal(t, impact && urgency && noDup, d.ShouldCreateTicket, "impact=%v urgency=%v noDup=%v", impact, urgency, noDup)
				assert.Equal(t, impact, d.ImpactIsHigh)
				assert.Equal(t, urgency, d.UrgencyIsImmediate)
				assert.Equal(t, noDup, d.NoRecentDuplicate)
				assert.NotEmpty(t, d.Reason)
				if !noDup {
					assert.Contains(t, d.Reason, "Recent duplicate", "duplicate must be named: %q", d.Reason)
				} else {
					assert.NotContains(t, d.Reason, "duplicate")
				}
			}
		}
	}
}

func TestEvaluateReasons(t *testing.T) {
	d := Evaluate(Checks{ImpactIsHigh: true, UrgencyIsImmediate: true, NoRecentDuplicate: true})
	assert.Equal(t, "High impact (affects revenue) + Immediate urgency (critical functionality)", d.Reason)

	d = Evaluate(Checks{ImpactIsHigh: true, UrgencyIsImmediate: true, NoRecentDuplicate: false})
	assert.Equal(t, "Recent duplicate: an open ticket for this cluster was created within the last 7 days", d.Reason)

	d = Evaluate(Checks{ImpactIsHigh: false, UrgencyIsImmediate: true, NoRecentDuplicate: true})
	assert.Equal(t, "Policy not met: impact is not high", d.Reason)

	d = Evaluate(Checks{NoRecentDuplicate: true})
	assert.Equal(t, "Policy not met: impact is not high, urgency is not immediate", d.Reason)
}

type fakeLookup struct {
	ticket *domain.Ticket
	err    error
	calls  int
	org    string
	label  string
	window time.Duration
}

func (f *fakeLookup) FindRecentTicket(ctx context.Context, orgID, label string, window time.Duration) (*domain.Ticket, error) {
	f.calls++
	f.org, f.label, f.window = orgID, label, window
	return f.ticket, f.err
}

var urgentRec = domain.Recommendation{
	Recommendation: "Fix checkout",
	Impact:         domain.ImpactHigh,
	Urgency:        domain.UrgencyImmediate,
	ClusterSummary: "Checkout broken",
}

func TestEngineDecideCreatesWithoutDuplicate(t *testing.T) {
	lookup := &fakeLookup{}
	engine := NewEngine(lookup, 0)

	d, err := engine.Decide(context.Background(), "acme", domain.Cluster{Label: "mobile, checkout"}, urgentRec)
	require.NoError(t, err)
	assert.True(t, d.ShouldCreateTicket)
	assert.Equal(t, 1, lookup.calls)
	assert.Equal(t, "acme", lookup.org)
	assert.Equal(t, "mobile, checkout", lookup.label)
	assert.Equal(t, DuplicateWindow, lookup.window)
}

func TestEngineDecideSuppressedByDuplicate(t *testing.T) {
	lookup := &fakeLookup{ticket: &domain.Ticket{ID: "t1", ClusterLabel: "mobile, checkout"}}
	engine := NewEngine(lookup, DuplicateWindow)

	d, err := engine.Decide(context.Background(), "acme", domain.Cluster{Label: "mobile, checkout"}, urgentRec)
	require.NoError(t, err)
	assert.False(t, d.ShouldCreateTicket)
	assert.False(t, d.NoRecentDuplicate)
	assert.Contains(t, d.Reason, "Recent duplicate")
}

func TestEngineDecideLooksUpEvenWhenPolicyFails(t *testing.T) {
	lookup := &fakeLookup{}
	engine := NewEngine(lookup, DuplicateWindow)

	rec := urgentRec
	rec.Impact = domain.ImpactLow
	d, err := engine.Decide(context.Background(), "acme", domain.Cluster{Label: "x"}, rec)
	require.NoError(t, err)
	assert.False(t, d.ShouldCreateTicket)
	assert.True(t, d.NoRecentDuplicate)
	assert.Equal(t, 1, lookup.calls)
}

func TestEngineDecideLookupFailure(t *testing.T) {
	lookup := &fakeLookup{err: errors.New("db down")}
	engine := NewEngine(lookup, DuplicateWindow)

	_, err := engine.Decide(context.Background(), "acme", domain.Cluster{Label: "x"}, urgentRec)
	require.Error(t, err)
	assert.True(t, errors.Is(err, domain.ErrUpstreamUnavailable))
	assert.Equal(t, 1, lookup.calls, "no retry inside the engine")
}
