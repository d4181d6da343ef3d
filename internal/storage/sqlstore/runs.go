package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"insightpipe/internal/domain"
)

func (s *Store) StartRun(ctx context.Context, run domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO pipeline_runs (id, org_id, trigger_count, status, started_at)
		 VALUES (?, ?, ?, ?, ?)`,
		run.ID, run.OrgID, run.TriggerCount, string(run.Status), toMillis(run.StartedAt),
	)
	return err
}

func (s *Store) FinishRun(ctx context.Context, run domain.Run) error {
	_, err := s.db.ExecContext(ctx,
		`UPDATE pipeline_runs
		 SET status = ?, clusters = ?, significant = ?, excluded = ?, tickets_created = ?, finished_at = ?
		 WHERE id = ?`,
		string(run.Status), run.Clusters, run.Significant, run.Excluded, run.TicketsCreated,
		toMillis(run.FinishedAt), run.ID,
	)
	return err
}

// RecordOutcome persists the result of one significant cluster.
func (s *Store) RecordOutcome(ctx context.Context, o domain.Outcome) (int64, error) {
	var rec sql.NullString
	if o.Recommendation != nil {
		data, err := json.Marshal(o.Recommendation)
		if err != nil {
			return 0, fmt.Errorf("encoding recommendation: %w", err)
		}
		rec = sql.NullString{String: string(data), Valid: true}
	}
	raw := sql.NullString{String: o.RawResponse, Valid: o.RawResponse != ""}
	if o.CreatedAt.IsZero() {
		o.CreatedAt = s.now()
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO cluster_outcomes (run_id, org_id, cluster_label, cluster_size, negative_percentage, recommendation,
			should_create, reason, impact_is_high, urgency_immediate, no_recent_duplicate, failure, raw_response, ticket_id, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		o.RunID, o.OrgID, o.ClusterLabel, o.ClusterSize, o.NegativePercentage, rec,
		boolInt(o.Decision.ShouldCreateTicket), o.Decision.Reason, boolInt(o.Decision.ImpactIsHigh),
		boolInt(o.Decision.UrgencyIsImmediate), boolInt(o.Decision.NoRecentDuplicate),
		string(o.Failure), raw, o.TicketID, toMillis(o.CreatedAt),
	)
	if err != nil {
		return 0, fmt.Errorf("inserting outcome: %w", err)
	}
	return res.LastInsertId()
}

// ListOutcomes returns the organization's most recent cluster outcomes, newest first.
func (s *Store) ListOutcomes(ctx context.Context, orgID string, limit int) ([]domain.Outcome, error) {
	if limit <= 0 {
		limit = 50
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, run_id, org_id, cluster_label, cluster_size, negative_percentage, recommendation,
			should_create, reason, impact_is_high, urgency_immediate, no_recent_duplicate, failure, raw_response, ticket_id, created_at
		 FROM cluster_outcomes WHERE org_id = ? ORDER BY created_at DESC, id DESC LIMIT ?`,
		orgID, limit,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var outcomes []domain.Outcome
	for rows.Next() {
		var (
			o                                              domain.Outcome
			rec, raw                                       sql.NullString
			shouldCreate, impactHigh, urgencyNow, noRecent int
			failure                                        string
			createdAt                                      int64
		)
		if err := rows.Scan(
			&o.ID, &o.RunID, &o.OrgID, &o.ClusterLabel, &o.ClusterSize, &o.NegativePercentage, &rec,
			&shouldCreate, &o.Decision.Reason, &impactHigh, &urgencyNow, &noRecent, &failure, &raw, &o.TicketID, &createdAt,
		); err != nil {
			return nil, err
		}
		if rec.Valid {
			var r domain.Recommendation
			if err := json.Unmarshal([]byte(rec.String), &r); err != nil {
				return nil, fmt.Errorf("decoding recommendation for outcome %d: %w", o.ID, err)
			}
			o.Recommendation = &r
		}
		o.Decision.ShouldCreateTicket = shouldCreate == 1
		o.Decision.ImpactIsHigh = impactHigh == 1
		o.Decision.UrgencyIsImmediate = urgencyNow == 1
		o.Decision.NoRecentDuplicate = noRecent == 1
		o.Failure = domain.FailureKind(failure)
		o.RawResponse = raw.String
		o.CreatedAt = fromMillis(createdAt)
		outcomes = append(outcomes, o)
	}
	return outcomes, rows.Err()
}

// DegradedOrgs lists organizations whose latest run finished degraded or failed.
func (s *Store) DegradedOrgs(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT r.org_id
		 FROM pipeline_runs r
		 JOIN (SELECT org_id, MAX(started_at) AS started_at FROM pipeline_runs GROUP BY org_id) latest
		   ON r.org_id = latest.org_id AND r.started_at = latest.started_at
		 WHERE r.status IN (?, ?)
		 ORDER BY r.org_id`,
		string(domain.RunDegraded), string(domain.RunFailed),
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var orgs []string
	for rows.Next() {
		var org string
		if err := rows.Scan(&org); err != nil {
			return nil, err
		}
		orgs = append(orgs, org)
	}
	return orgs, rows.Err()
}
