package domain

import "time"

type Insight struct {
	ID          string
	OrgID       string
	Description string
	Sentiment   Sentiment
	Keywords    []string // as extracted upstream, order preserved
	CreatedAt   time.Time
}

// Cluster is a connected component of insights sharing at least one keyword.
// It only lives for the duration of one pipeline run.
type Cluster struct {
	Members            []Insight
	Label              string
	Size               int
	NegativePercentage int // 0-100
}

// MemberIDs returns the insight ids in member order.
func (c Cluster) MemberIDs() []string {
	ids := make([]string, 0, len(c.Members))
	for _, m := range c.Members {
		ids = append(ids, m.ID)
	}
	return ids
}

type Impact string

const (
	ImpactLow    Impact = "low"
	ImpactMedium Impact = "medium"
	ImpactHigh   Impact = "high"
)

func (i Impact) Valid() bool {
	switch i {
	case ImpactLow, ImpactMedium, ImpactHigh:
		return true
	}
	return false
}

type Urgency string

const (
	UrgencyLater     Urgency = "later"
	UrgencySoon      Urgency = "soon"
	UrgencyImmediate Urgency = "immediate"
)

func (u Urgency) Valid() bool {
	switch u {
	case UrgencyLater, UrgencySoon, UrgencyImmediate:
		return true
	}
	return false
}

type Recommendation struct {
	Recommendation string  `json:"recommendation"`
	Impact         Impact  `json:"impact"`
	Urgency        Urgency `json:"urgency"`
	ClusterSummary string  `json:"cluster_summary"`
}

type TicketDecision struct {
	ShouldCreateTicket bool   `json:"should_create_ticket"`
	Reason             string `json:"reason"`
	ImpactIsHigh       bool   `json:"impact_is_high"`
	UrgencyIsImmediate bool   `json:"urgency_is_immediate"`
	NoRecentDuplicate  bool   `json:"no_recent_duplicate"`
}

const (
	TicketOpen   = "open"
	TicketClosed = "closed"
)

type Ticket struct {
	ID               string
	OrgID            string
	ClusterLabel     string
	Recommendation   Recommendation
	SourceInsightIDs []string
	Status           string // "open" or "closed"
	CreatedAt        time.Time
}

type FailureKind string

const (
	FailureNone                FailureKind = ""
	FailureUpstreamUnavailable FailureKind = "upstream_unavailable"
	FailureMalformedResponse   FailureKind = "malformed_response"
)

// Outcome is the persisted record of one significant cluster in one run,
// whether or not it produced a ticket.
type Outcome struct {
	ID                 int64
	RunID              string
	OrgID              string
	ClusterLabel       string
	ClusterSize        int
	NegativePercentage int
	Recommendation     *Recommendation
	Decision           TicketDecision
	Failure            FailureKind
	RawResponse        string // only kept for malformed replies
	TicketID           string
	CreatedAt          time.Time
}

type RunStatus string

const (
	RunRunning   RunStatus = "running"
	RunCompleted RunStatus = "completed"
	RunDegraded  RunStatus = "degraded"
	RunFailed    RunStatus = "failed"
)

type Run struct {
	ID             string
	OrgID          string
	TriggerCount   int64
	Status         RunStatus
	StartedAt      time.Time
	FinishedAt     time.Time
	Clusters       int
	Significant    int
	Excluded       int
	TicketsCreated int
	Outcomes       []Outcome
}
