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

// RecordInsight stores the insight and increments the organization's insight
// count in the same transaction. The returned total is the count including
// this insight, so each insight observes a distinct total.
func (s *Store) RecordInsight(ctx context.Context, orgID string, insight domain.Insight) (domain.Insight, int64, error) {
	if orgID == "" {
		return domain.Insight{}, 0, fmt.Errorf("org id is required")
	}
	if !insight.Sentiment.Valid() {
		return domain.Insight{}, 0, fmt.Errorf("invalid sentiment %d", int(insight.Sentiment))
	}
	insight.OrgID = orgID
	if insight.ID == "" {
		insight.ID = uuid.NewString()
	}
	if insight.CreatedAt.IsZero() {
		insight.CreatedAt = s.now()
	}
	if insight.Keywords == nil {
		insight.Keywords = []string{}
	}
	keywords, err := json.Marshal(insight.Keywords)
	if err != nil {
		return domain.Insight{}, 0, fmt.Errorf("encoding keywords: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return domain.Insight{}, 0, err
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx,
		`INSERT INTO insights (id, org_id, description, sentiment, keywords, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		insight.ID, orgID, insight.Description, int(insight.Sentiment), string(keywords), toMillis(insight.CreatedAt),
	); err != nil {
		return domain.Insight{}, 0, fmt.Errorf("inserting insight: %w", err)
	}
	if _, err := tx.ExecContext(ctx, s.dialect.upsertCounter, orgID); err != nil {
		return domain.Insight{}, 0, fmt.Errorf("incrementing insight count: %w", err)
	}
	var total int64
	if err := tx.QueryRowContext(ctx, `SELECT total FROM insight_counters WHERE org_id = ?`, orgID).Scan(&total); err != nil {
		return domain.Insight{}, 0, fmt.Errorf("reading insight count: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return domain.Insight{}, 0, err
	}
	insight.CreatedAt = fromMillis(toMillis(insight.CreatedAt))
	return insight, total, nil
}

// RecordInsights imports a batch in one transaction and returns the running
// totals observed after each insight, in input order.
func (s *Store) RecordInsights(ctx context.Context, orgID string, insights []domain.Insight) ([]int64, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	insertStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO insights (id, org_id, description, sentiment, keywords, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
	)
	if err != nil {
		return nil, err
	}
	defer insertStmt.Close()
	counterStmt, err := tx.PrepareContext(ctx, s.dialect.upsertCounter)
	if err != nil {
		return nil, err
	}
	defer counterStmt.Close()

	totals := make([]int64, 0, len(insights))
	for _, insight := range insights {
		if !insight.Sentiment.Valid() {
			return nil, fmt.Errorf("invalid sentiment %d", int(insight.Sentiment))
		}
		if insight.ID == "" {
			insight.ID = uuid.NewString()
		}
		if insight.CreatedAt.IsZero() {
			insight.CreatedAt = s.now()
		}
		if insight.Keywords == nil {
			insight.Keywords = []string{}
		}
		keywords, err := json.Marshal(insight.Keywords)
		if err != nil {
			return nil, fmt.Errorf("encoding keywords: %w", err)
		}
		if _, err := insertStmt.ExecContext(ctx,
			insight.ID, orgID, insight.Description, int(insight.Sentiment), string(keywords), toMillis(insight.CreatedAt),
		); err != nil {
			return nil, fmt.Errorf("inserting insight: %w", err)
		}
		if _, err := counterStmt.ExecContext(ctx, orgID); err != nil {
			return nil, fmt.Errorf("incrementing insight count: %w", err)
		}
		var total int64
		if err := tx.QueryRowContext(ctx, `SELECT total FROM insight_counters WHERE org_id = ?`, orgID).Scan(&total); err != nil {
			return nil, fmt.Errorf("reading insight count: %w", err)
		}
		totals = append(totals, total)
	}
	return totals, tx.Commit()
}

// InsightCount returns the current total for the organization.
func (s *Store) InsightCount(ctx context.Context, orgID string) (int64, error) {
	var total int64
	err := s.db.QueryRowContext(ctx, `SELECT total FROM insight_counters WHERE org_id = ?`, orgID).Scan(&total)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, nil
	}
	return total, err
}

// ListInsights returns the organization's insights in recording order.
// A nil since returns the full history.
func (s *Store) ListInsights(ctx context.Context, orgID string, since *time.Time) ([]domain.Insight, error) {
	query := `SELECT id, org_id, description, sentiment, keywords, created_at
		FROM insights WHERE org_id = ?`
	args := []any{orgID}
	if since != nil {
		query += ` AND created_at >= ?`
		args = append(args, toMillis(*since))
	}
	query += ` ORDER BY created_at, seq`

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var insights []domain.Insight
	for rows.Next() {
		var (
			insight   domain.Insight
			sentiment int
			keywords  string
			createdAt int64
		)
		if err := rows.Scan(&insight.ID, &insight.OrgID, &insight.Description, &sentiment, &keywords, &createdAt); err != nil {
			return nil, err
		}
		insight.Sentiment = domain.Sentiment(sentiment)
		if err := json.Unmarshal([]byte(keywords), &insight.Keywords); err != nil {
			return nil, fmt.Errorf("decoding keywords for insight %s: %w", insight.ID, err)
		}
		insight.CreatedAt = fromMillis(createdAt)
		insights = append(insights, insight)
	}
	return insights, rows.Err()
}
