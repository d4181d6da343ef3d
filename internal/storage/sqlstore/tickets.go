package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"insightpipe/internal/domain"

	"github.com/google/uuid"
)

// FindRecentTicket returns the newest open ticket for the organization whose
// label matches exactly and that was created within window, or nil.
func (s *Store) FindRecentTicket(ctx context.Context, orgID, clusterLabel string, window time.Duration) (*domain.Ticket, error) {
	cutoff := s.now().Add(-window)
	row := s.db.QueryRowContext(ctx,
		`SELECT id, org_id, cluster_label, recommendation, impact, urgency, cluster_summary, source_insight_ids, status, created_at
		 FROM tickets
		 WHERE org_id = ? AND cluster_label = ? AND status = ? AND created_at >= ?
		 ORDER BY created_at DESC LIMIT 1`,
		orgID, clusterLabel, domain.TicketOpen, toMillis(cutoff),
	)
	ticket, err := scanTicket(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return &ticket, nil
}

// CreateTicket stores a new open ticket embedding the recommendation.
func (s *Store) CreateTicket(ctx context.Context, orgID, clusterLabel string, rec domain.Recommendation, sourceInsightIDs []string) (domain.Ticket, error) {
	if sourceInsightIDs == nil {
		sourceInsightIDs = []string{}
	}
	ids, err := json.Marshal(sourceInsightIDs)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("encoding source insight ids: %w", err)
	}
	ticket := domain.Ticket{
		ID:               uuid.NewString(),
		OrgID:            orgID,
		ClusterLabel:     clusterLabel,
		Recommendation:   rec,
		SourceInsightIDs: sourceInsightIDs,
		Status:           domain.TicketOpen,
		CreatedAt:        fromMillis(toMillis(s.now())),
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tickets (id, org_id, cluster_label, recommendation, impact, urgency, cluster_summary, source_insight_ids, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ticket.ID, orgID, clusterLabel, rec.Recommendation, string(rec.Impact), string(rec.Urgency),
		rec.ClusterSummary, string(ids), ticket.Status, toMillis(ticket.CreatedAt),
	)
	if err != nil {
		return domain.Ticket{}, fmt.Errorf("inserting ticket: %w", err)
	}
	return ticket, nil
}

// ListTickets returns the organization's tickets, newest first.
func (s *Store) ListTickets(ctx context.Context, orgID string, limit int) ([]domain.Ticket, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, org_id, cluster_label, recommendation, impact, urgency, cluster_summary, source_insight_ids, status, created_at
		 FROM tickets WHERE org_id = ? ORDER BY created_at DESC, id LIMIT ?`,
		orgID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var tickets []domain.Ticket
	for rows.Next() {
		ticket, err := scanTicket(rows)
		if err != nil {
			return nil, err
		}
		tickets = append(tickets, ticket)
	}
	return tickets, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTicket(row rowScanner) (domain.Ticket, error) {
	var (
		ticket    domain.Ticket
		impact    string
		urgency   string
		ids       string
		createdAt int64
	)
	err := row.Scan(
		&ticket.ID, &ticket.OrgID, &ticket.ClusterLabel, &ticket.Recommendation.Recommendation,
		&impact, &urgency, &ticket.Recommendation.ClusterSummary, &ids, &ticket.Status, &createdAt,
	)
	if err != nil {
		return domain.Ticket{}, err
	}
	ticket.Recommendation.Impact = domain.Impact(impact)
	ticket.Recommendation.Urgency = domain.Urgency(urgency)
	if err := json.Unmarshal([]byte(ids), &ticket.SourceInsightIDs); err != nil {
		return domain.Ticket{}, fmt.Errorf("decoding source insight ids for ticket %s: %w", ticket.ID, err)
	}
	ticket.CreatedAt = fromMillis(createdAt)
	return ticket, nil
}
