package importer

import (
	"context"
	"errors"
	"fmt"

	"insightpipe/internal/domain"

	"github.com/sirupsen/logrus"
)

type BatchRecorder interface {
	RecordInsights(ctx context.Context, orgID string, insights []domain.Insight) ([]int64, error)
}

type Trigger interface {
	OnInsightRecorded(ctx context.Context, orgID string, n int64) (bool, error)
}

type Result struct {
	Imported  map[string]int
	Skipped   []RowError
	Triggered int
	Dropped   int
}

func (r Result) Total() int {
	n := 0
	for _, c := range r.Imported {
		n += c
	}
	return n
}

type Importer struct {
	store   BatchRecorder
	trigger Trigger
	log     *logrus.Entry
}

func New(store BatchRecorder, trigger Trigger, log *logrus.Entry) *Importer {
	if log == nil {
		log = logrus.NewEntry(logrus.StandardLogger())
	}
	return &Importer{store: store, trigger: trigger, log: log.WithField("component", "importer")}
}

// ImportFile loads the spreadsheet and imports its rows.
func (im *Importer) ImportFile(ctx context.Context, path, defaultOrg string) (Result, error) {
	rows, rowErrs, err := Load(path, defaultOrg)
	if err != nil {
		return Result{}, err
	}
	res, err := im.Import(ctx, rows)
	res.Skipped = append(rowErrs, res.Skipped...)
	return res, err
}

// Import records rows grouped by org, one transaction per org, then hands
// every returned total to the trigger in order.
func (im *Importer) Import(ctx context.Context, rows []Row) (Result, error) {
	res := Result{Imported: map[string]int{}}

	var order []string
	byOrg := map[string][]domain.Insight{}
	for _, row := range rows {
		if _, ok := byOrg[row.OrgID]; !ok {
			order = append(order, row.OrgID)
		}
		byOrg[row.OrgID] = append(byOrg[row.OrgID], row.Insight)
	}

	for _, org := range order {
		log := im.log.WithField("org_id", org)
		totals, err := im.store.RecordInsights(ctx, org, byOrg[org])
		if err != nil {
			return res, fmt.Errorf("importing insights for %s: %w", org, err)
		}
		res.Imported[org] = len(totals)
		log.WithField("count", len(totals)).Info("insights imported")

		for _, n := range totals {
			fired, err := im.trigger.OnInsightRecorded(ctx, org, n)
			switch {
			case errors.Is(err, domain.ErrConcurrentRunConflict):
				res.Dropped++
			case err != nil:
				log.WithError(err).WithField("count", n).Warn("trigger evaluation failed")
			case fired:
				res.Triggered++
			}
		}
	}
	return res, nil
}
