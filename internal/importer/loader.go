// Package importer bulk-loads insights from a spreadsheet and feeds the
// resulting counts through the trigger like any other ingestion path.
package importer

import (
	"fmt"
	"io"
	"strings"
	"time"

	"insightpipe/internal/domain"

	"github.com/xuri/excelize/v2"
)

// Row is one parsed data row. Line is the 1-based spreadsheet row.
type Row struct {
	Line    int
	OrgID   string
	Insight domain.Insight
}

type RowError struct {
	Line int
	Err  error
}

func (e RowError) Error() string {
	return fmt.Sprintf("row %d: %v", e.Line, e.Err)
}

type columns struct {
	org, id, description, sentiment, keywords, created int
}

func Load(path, defaultOrg string) ([]Row, []RowError, error) {
	f, err := excelize.OpenFile(path)
	if err != nil {
		return nil, nil, fmt.Errorf("open file: %w", err)
	}
	defer f.Close()
	return loadFile(f, defaultOrg)
}

func LoadReader(r io.Reader, defaultOrg string) ([]Row, []RowError, error) {
	f, err := excelize.OpenReader(r)
	if err != nil {
		return nil, nil, fmt.Errorf("open spreadsheet: %w", err)
	}
	defer f.Close()
	return loadFile(f, defaultOrg)
}

func loadFile(f *excelize.File, defaultOrg string) ([]Row, []RowError, error) {
	sheets := f.GetSheetList()
	if len(sheets) == 0 {
		return nil, nil, fmt.Errorf("no sheets")
	}
	rows, err := f.GetRows(sheets[0])
	if err != nil {
		return nil, nil, fmt.Errorf("read rows: %w", err)
	}
	if len(rows) <= 1 {
		return nil, nil, fmt.Errorf("no data rows")
	}

	cols := detectColumns(rows[0])
	if cols.description == -1 || cols.sentiment == -1 || cols.keywords == -1 {
		return nil, nil, fmt.Errorf("header must name description, sentiment and keywords columns, got %q", rows[0])
	}
	if cols.org == -1 && strings.TrimSpace(defaultOrg) == "" {
		return nil, nil, fmt.Errorf("no org column and no default org given")
	}

	var out []Row
	var rowErrs []RowError
	for i, r := range rows[1:] {
		line := i + 2
		if blank(r) {
			continue
		}
		row, err := parseRow(r, cols, defaultOrg)
		if err != nil {
			rowErrs = append(rowErrs, RowError{Line: line, Err: err})
			continue
		}
		row.Line = line
		out = append(out, row)
	}
	return out, rowErrs, nil
}

func detectColumns(header []string) columns {
	cols := columns{org: -1, id: -1, description: -1, sentiment: -1, keywords: -1, created: -1}
	for i, h := range header {
		l := strings.ToLower(strings.TrimSpace(h))
		switch {
		case strings.Contains(l, "org"):
			if cols.org == -1 {
				cols.org = i
			}
		case strings.Contains(l, "sentiment"):
			if cols.sentiment == -1 {
				cols.sentiment = i
			}
		case strings.Contains(l, "keyword") || strings.Contains(l, "tag"):
			if cols.keywords == -1 {
				cols.keywords = i
			}
		case strings.Contains(l, "description") || strings.Contains(l, "feedback") || strings.Contains(l, "text"):
			if cols.description == -1 {
				cols.description = i
			}
		case strings.Contains(l, "created") || strings.Contains(l, "date"):
			if cols.created == -1 {
				cols.created = i
			}
		case l == "id" || strings.Contains(l, "insight id"):
			if cols.id == -1 {
				cols.id = i
			}
		}
	}
	return cols
}

func parseRow(r []string, cols columns, defaultOrg string) (Row, error) {
	org := strings.TrimSpace(cell(r, cols.org))
	if org == "" {
		org = strings.TrimSpace(defaultOrg)
	}
	if org == "" {
		return Row{}, fmt.Errorf("missing org")
	}

	description := strings.TrimSpace(cell(r, cols.description))
	if description == "" {
		return Row{}, fmt.Errorf("missing description")
	}
	sentiment, err := domain.ParseSentiment(cell(r, cols.sentiment))
	if err != nil {
		return Row{}, err
	}

	insight := domain.Insight{
		ID:          strings.TrimSpace(cell(r, cols.id)),
		Description: description,
		Sentiment:   sentiment,
		Keywords:    splitKeywords(cell(r, cols.keywords)),
	}
	if raw := strings.TrimSpace(cell(r, cols.created)); raw != "" {
		t, err := parseTime(raw)
		if err != nil {
			return Row{}, err
		}
		insight.CreatedAt = t
	}
	return Row{OrgID: org, Insight: insight}, nil
}

// splitKeywords keeps the upstream spelling; normalization happens at
// clustering time.
func splitKeywords(raw string) []string {
	fields := strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == ';' || r == '|' })
	out := make([]string, 0, len(fields))
	for _, f := range fields {
		if s := strings.TrimSpace(f); s != "" {
			out = append(out, s)
		}
	}
	return out
}

func parseTime(raw string) (time.Time, error) {
	for _, layout := range []string{time.RFC3339, "2006-01-02 15:04:05", "2006-01-02"} {
		if t, err := time.Parse(layout, raw); err == nil {
			return t, nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized date %q", raw)
}

func cell(r []string, idx int) string {
	if idx < 0 || idx >= len(r) {
		return ""
	}
	return r[idx]
}

func blank(r []string) bool {
	for _, c := range r {
		if strings.TrimSpace(c) != "" {
			return false
		}
	}
	return true
}
