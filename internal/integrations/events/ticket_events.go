// Package events publishes ticket-created events for downstream consumers.
package events

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"insightpipe/internal/domain"

	"github.com/google/uuid"
)

const (
	TicketCreatedEvent = "insight.ticket_created"
	schemaVersion      = "1.0"
)

type Publisher interface {
	Publish(ctx context.Context, eventType string, payload []byte, partitionKey string) error
}

type ticketCreatedData struct {
	TicketID           string   `json:"ticket_id"`
	OrgID              string   `json:"org_id"`
	RunID              string   `json:"run_id"`
	ClusterLabel       string   `json:"cluster_label"`
	ClusterSize        int      `json:"cluster_size"`
	NegativePercentage int      `json:"negative_percentage"`
	Recommendation     string   `json:"recommendation"`
	Impact             string   `json:"impact"`
	Urgency            string   `json:"urgency"`
	ClusterSummary     string   `json:"cluster_summary"`
	Reason             string   `json:"reason"`
	SourceInsightIDs   []string `json:"source_insight_ids"`
	CreatedAt          string   `json:"created_at"`
}

type envelope struct {
	EventID          string            `json:"event_id"`
	EventType        string            `json:"event_type"`
	OccurredAt       string            `json:"occurred_at"`
	SourceService    string            `json:"source_service"`
	SchemaVersion    string            `json:"schema_version"`
	PartitionKeyPath string            `json:"partition_key_path"`
	PartitionKey     string            `json:"partition_key"`
	Data             ticketCreatedData `json:"data"`
}

// TicketEvents turns created tickets into events keyed by organization, so
// one org's events stay ordered on a single partition.
type TicketEvents struct {
	publisher Publisher
	source    string
	now       func() time.Time
}

func NewTicketEvents(publisher Publisher, sourceService string) *TicketEvents {
	return &TicketEvents{publisher: publisher, source: sourceService, now: time.Now}
}

func (e *TicketEvents) TicketCreated(ctx context.Context, ticket domain.Ticket, o domain.Outcome) error {
	payload, err := e.payload(ticket, o)
	if err != nil {
		return err
	}
	if err := e.publisher.Publish(ctx, TicketCreatedEvent, payload, ticket.OrgID); err != nil {
		return fmt.Errorf("publishing %s for ticket %s: %w", TicketCreatedEvent, ticket.ID, err)
	}
	return nil
}

func (e *TicketEvents) payload(ticket domain.Ticket, o domain.Outcome) ([]byte, error) {
	env := envelope{
		EventID:          uuid.NewString(),
		EventType:        TicketCreatedEvent,
		OccurredAt:       e.now().UTC().Format(time.RFC3339),
		SourceService:    e.source,
		SchemaVersion:    schemaVersion,
		PartitionKeyPath: "data.org_id",
		PartitionKey:     ticket.OrgID,
		Data: ticketCreatedData{
			TicketID:           ticket.ID,
			OrgID:              ticket.OrgID,
			RunID:              o.RunID,
			ClusterLabel:       ticket.ClusterLabel,
			ClusterSize:        o.ClusterSize,
			NegativePercentage: o.NegativePercentage,
			Recommendation:     ticket.Recommendation.Recommendation,
			Impact:             string(ticket.Recommendation.Impact),
			Urgency:            string(ticket.Recommendation.Urgency),
			ClusterSummary:     ticket.Recommendation.ClusterSummary,
			Reason:             o.Decision.Reason,
			SourceInsightIDs:   ticket.SourceInsightIDs,
			CreatedAt:          ticket.CreatedAt.UTC().Format(time.RFC3339),
		},
	}
	payload, err := json.Marshal(env)
	if err != nil {
		return nil, fmt.Errorf("encoding ticket event: %w", err)
	}
	return payload, nil
}
