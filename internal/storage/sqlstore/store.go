package sqlstore

import (
	"database/sql"
	"fmt"
	"strings"
	"time"

	_ "github.com/go-sql-driver/mysql"
	_ "github.com/mattn/go-sqlite3"
)

// Store persists insights, per-org counters, tickets, runs and cluster
// outcomes. It backs the insight store and the ticket store.
type Store struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

type dialect struct {
	driver        string
	schema        []string
	upsertCounter string
}

var sqliteDialect = dialect{
	driver: "sqlite3",
	schema: []string{`
	CREATE TABLE IF NOT EXISTS insights (
		seq         INTEGER PRIMARY KEY AUTOINCREMENT,
		id          VARCHAR(64) NOT NULL UNIQUE,
		org_id      VARCHAR(128) NOT NULL,
		description TEXT NOT NULL,
		sentiment   INTEGER NOT NULL,
		keywords    TEXT NOT NULL DEFAULT '[]',
		created_at  BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_insights_org_created ON insights(org_id, created_at);

	CREATE TABLE IF NOT EXISTS insight_counters (
		org_id VARCHAR(128) PRIMARY KEY,
		total  BIGINT NOT NULL DEFAULT 0
	);

	CREATE TABLE IF NOT EXISTS tickets (
		id                 VARCHAR(64) PRIMARY KEY,
		org_id             VARCHAR(128) NOT NULL,
		cluster_label      VARCHAR(512) NOT NULL,
		recommendation     TEXT NOT NULL,
		impact             VARCHAR(16) NOT NULL,
		urgency            VARCHAR(16) NOT NULL,
		cluster_summary    TEXT NOT NULL,
		source_insight_ids TEXT NOT NULL DEFAULT '[]',
		status             VARCHAR(16) NOT NULL DEFAULT 'open',
		created_at         BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_tickets_org_label ON tickets(org_id, cluster_label, created_at);

	CREATE TABLE IF NOT EXISTS pipeline_runs (
		id              VARCHAR(64) PRIMARY KEY,
		org_id          VARCHAR(128) NOT NULL,
		trigger_count   BIGINT NOT NULL DEFAULT 0,
		status          VARCHAR(16) NOT NULL,
		clusters        INTEGER NOT NULL DEFAULT 0,
		significant     INTEGER NOT NULL DEFAULT 0,
		excluded        INTEGER NOT NULL DEFAULT 0,
		tickets_created INTEGER NOT NULL DEFAULT 0,
		started_at      BIGINT NOT NULL,
		finished_at     BIGINT NOT NULL DEFAULT 0
	);
	CREATE INDEX IF NOT EXISTS idx_runs_org_started ON pipeline_runs(org_id, started_at);

	CREATE TABLE IF NOT EXISTS cluster_outcomes (
		id                  INTEGER PRIMARY KEY AUTOINCREMENT,
		run_id              VARCHAR(64) NOT NULL,
		org_id              VARCHAR(128) NOT NULL,
		cluster_label       VARCHAR(512) NOT NULL,
		cluster_size        INTEGER NOT NULL,
		negative_percentage INTEGER NOT NULL,
		recommendation      TEXT,
		should_create       INTEGER NOT NULL DEFAULT 0,
		reason              TEXT NOT NULL,
		impact_is_high      INTEGER NOT NULL DEFAULT 0,
		urgency_immediate   INTEGER NOT NULL DEFAULT 0,
		no_recent_duplicate INTEGER NOT NULL DEFAULT 0,
		failure             VARCHAR(32) NOT NULL DEFAULT '',
		raw_response        TEXT,
		ticket_id           VARCHAR(64) NOT NULL DEFAULT '',
		created_at          BIGINT NOT NULL
	);
	CREATE INDEX IF NOT EXISTS idx_outcomes_org_created ON cluster_outcomes(org_id, created_at);
	`},
	upsertCounter: `INSERT INTO insight_counters (org_id, total) VALUES (?, 1)
		ON CONFLICT(org_id) DO UPDATE SET total = total + 1`,
}

// MySQL runs statements one at a time and has no IF NOT EXISTS for indexes,
// so indexes are declared inline. Ticket labels use a binary collation so
// duplicate lookups match exactly.
var mysqlDialect = dialect{
	driver: "mysql",
	schema: []string{
		`CREATE TABLE IF NOT EXISTS insights (
			seq         BIGINT PRIMARY KEY AUTO_INCREMENT,
			id          VARCHAR(64) NOT NULL UNIQUE,
			org_id      VARCHAR(128) NOT NULL,
			description TEXT NOT NULL,
			sentiment   INT NOT NULL,
			keywords    TEXT NOT NULL,
			created_at  BIGINT NOT NULL,
			INDEX idx_insights_org_created (org_id, created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS insight_counters (
			org_id VARCHAR(128) PRIMARY KEY,
			total  BIGINT NOT NULL DEFAULT 0
		)`,
		`CREATE TABLE IF NOT EXISTS tickets (
			id                 VARCHAR(64) PRIMARY KEY,
			org_id             VARCHAR(128) NOT NULL,
			cluster_label      VARCHAR(512) CHARACTER SET utf8mb4 COLLATE utf8mb4_bin NOT NULL,
			recommendation     TEXT NOT NULL,
			impact             VARCHAR(16) NOT NULL,
			urgency            VARCHAR(16) NOT NULL,
			cluster_summary    TEXT NOT NULL,
			source_insight_ids TEXT NOT NULL,
			status             VARCHAR(16) NOT NULL DEFAULT 'open',
			created_at         BIGINT NOT NULL,
			INDEX idx_tickets_org_label (org_id, cluster_label(191), created_at)
		)`,
		`CREATE TABLE IF NOT EXISTS pipeline_runs (
			id              VARCHAR(64) PRIMARY KEY,
			org_id          VARCHAR(128) NOT NULL,
			trigger_count   BIGINT NOT NULL DEFAULT 0,
			status          VARCHAR(16) NOT NULL,
			clusters        INT NOT NULL DEFAULT 0,
			significant     INT NOT NULL DEFAULT 0,
			excluded        INT NOT NULL DEFAULT 0,
			tickets_created INT NOT NULL DEFAULT 0,
			started_at      BIGINT NOT NULL,
			finished_at     BIGINT NOT NULL DEFAULT 0,
			INDEX idx_runs_org_started (org_id, started_at)
		)`,
		`CREATE TABLE IF NOT EXISTS cluster_outcomes (
			id                  BIGINT PRIMARY KEY AUTO_INCREMENT,
			run_id              VARCHAR(64) NOT NULL,
			org_id              VARCHAR(128) NOT NULL,
			cluster_label       VARCHAR(512) NOT NULL,
			cluster_size        INT NOT NULL,
			negative_percentage INT NOT NULL,
			recommendation      TEXT,
			should_create       TINYINT NOT NULL DEFAULT 0,
			reason              TEXT NOT NULL,
			impact_is_high      TINYINT NOT NULL DEFAULT 0,
			urgency_immediate   TINYINT NOT NULL DEFAULT 0,
			no_recent_duplicate TINYINT NOT NULL DEFAULT 0,
			failure             VARCHAR(32) NOT NULL DEFAULT '',
			raw_response        TEXT,
			ticket_id           VARCHAR(64) NOT NULL DEFAULT '',
			created_at          BIGINT NOT NULL,
			INDEX idx_outcomes_org_created (org_id, created_at)
		)`,
	},
	upsertCounter: `INSERT INTO insight_counters (org_id, total) VALUES (?, 1)
		ON DUPLICATE KEY UPDATE total = total + 1`,
}

func dialectFor(driver string) (dialect, error) {
	switch strings.ToLower(driver) {
	case "", "sqlite", "sqlite3":
		return sqliteDialect, nil
	case "mysql":
		return mysqlDialect, nil
	}
	return dialect{}, fmt.Errorf("unsupported db driver %q", driver)
}

// Open connects to the database and applies the schema.
// For mysql the DSN is passed through unchanged.
func Open(driver, dsn string) (*Store, error) {
	d, err := dialectFor(driver)
	if err != nil {
		return nil, err
	}
	db, err := sql.Open(d.driver, dsn)
	if err != nil {
		return nil, err
	}
	if d.driver == "sqlite3" {
		// sqlite allows a single writer.
		db.SetMaxOpenConns(1)
	}

	for _, stmt := range d.schema {
		if _, err := db.Exec(stmt); err != nil {
			db.Close()
			return nil, fmt.Errorf("applying schema: %w", err)
		}
	}

	return &Store{db: db, dialect: d, now: time.Now}, nil
}

// SetClock overrides the time source. Used by tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

func (s *Store) DB() *sql.DB {
	return s.db
}

func (s *Store) Close() error {
	return s.db.Close()
}

func toMillis(t time.Time) int64 {
	return t.UTC().UnixMilli()
}

func fromMillis(ms int64) time.Time {
	if ms == 0 {
		return time.Time{}
	}
	return time.UnixMilli(ms).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
