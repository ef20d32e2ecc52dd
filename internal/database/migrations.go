package database

import "database/sql"

// Migration represents a single schema migration step.
type Migration struct {
	Version     int
	Description string
	Up          func(tx *sql.Tx) error
}

// migrations is the ordered list of all schema migrations.
// Append new migrations to the end with incrementing Version numbers.
var migrations = []Migration{
	{
		Version:     1,
		Description: "initial schema",
		Up: func(tx *sql.Tx) error {
			if err := setAsideLegacyTables(tx); err != nil {
				return err
			}

			_, err := tx.Exec(`
CREATE TABLE IF NOT EXISTS papers (
    id TEXT PRIMARY KEY,
    title TEXT NOT NULL,
    abstract TEXT NOT NULL DEFAULT '',
    authors TEXT NOT NULL DEFAULT '[]',
    categories TEXT NOT NULL DEFAULT '[]',
    published_at TEXT,
    updated_at TEXT,
    url TEXT NOT NULL DEFAULT '',
    pdf_url TEXT NOT NULL DEFAULT '',
    fetched_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS analyses (
    paper_id TEXT PRIMARY KEY REFERENCES papers(id),
    summary TEXT NOT NULL,
    technical_summary TEXT NOT NULL,
    business_impact TEXT NOT NULL,
    key_points TEXT NOT NULL DEFAULT '[]',
    keywords TEXT NOT NULL DEFAULT '[]',
    category TEXT NOT NULL,
    model_score INTEGER NOT NULL,
    keyword_bonus INTEGER NOT NULL,
    score INTEGER NOT NULL CHECK (score BETWEEN 0 AND 10),
    model TEXT,
    analyzed_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS deliveries (
    paper_id TEXT PRIMARY KEY,
    sent_date TEXT NOT NULL,
    recorded_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS daily_stats (
    date TEXT PRIMARY KEY,
    seen INTEGER NOT NULL DEFAULT 0,
    analyzed INTEGER NOT NULL DEFAULT 0,
    passed INTEGER NOT NULL DEFAULT 0,
    delivered INTEGER NOT NULL DEFAULT 0,
    categories TEXT NOT NULL DEFAULT '{}',
    keywords TEXT NOT NULL DEFAULT '{}',
    updated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS digests (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    date TEXT NOT NULL,
    title TEXT NOT NULL,
    body_markdown TEXT NOT NULL,
    paper_count INTEGER NOT NULL DEFAULT 0,
    generated_at TEXT DEFAULT (datetime('now'))
);

CREATE TABLE IF NOT EXISTS run_reports (
    run_id TEXT PRIMARY KEY,
    started_at TEXT NOT NULL,
    finished_at TEXT,
    state TEXT NOT NULL,
    status TEXT NOT NULL,
    candidates INTEGER NOT NULL DEFAULT 0,
    fresh INTEGER NOT NULL DEFAULT 0,
    analyzed INTEGER NOT NULL DEFAULT 0,
    passed INTEGER NOT NULL DEFAULT 0,
    selected INTEGER NOT NULL DEFAULT 0,
    delivered INTEGER NOT NULL DEFAULT 0,
    error TEXT
);

CREATE INDEX IF NOT EXISTS idx_deliveries_sent_date ON deliveries(sent_date);
CREATE INDEX IF NOT EXISTS idx_digests_date ON digests(date);
CREATE INDEX IF NOT EXISTS idx_run_reports_started ON run_reports(started_at);
`)
			if err != nil {
				return err
			}
			return importLegacyDeliveries(tx)
		},
	},
}

// setAsideLegacyTables renames tables left by the earlier single-file bot
// (papers/summaries/sent_papers) so the new schema can be created. Their
// papers table has no url column, which is how it is told apart.
func setAsideLegacyTables(tx *sql.Tx) error {
	legacy, err := hasTable(tx, "sent_papers")
	if err != nil || !legacy {
		return err
	}

	hasPapers, err := hasTable(tx, "papers")
	if err != nil {
		return err
	}
	if hasPapers {
		modern, err := hasColumn(tx, "papers", "url")
		if err != nil {
			return err
		}
		if !modern {
			if _, err := tx.Exec("ALTER TABLE papers RENAME TO legacy_papers"); err != nil {
				return err
			}
		}
	}

	hasSummaries, err := hasTable(tx, "summaries")
	if err != nil {
		return err
	}
	if hasSummaries {
		if _, err := tx.Exec("ALTER TABLE summaries RENAME TO legacy_summaries"); err != nil {
			return err
		}
	}
	return nil
}

// importLegacyDeliveries carries delivery history over so papers sent by the
// earlier bot are never sent again. The old table allowed one row per
// (paper, date); the earliest date wins.
func importLegacyDeliveries(tx *sql.Tx) error {
	legacy, err := hasTable(tx, "sent_papers")
	if err != nil || !legacy {
		return err
	}
	_, err = tx.Exec(`
INSERT OR IGNORE INTO deliveries (paper_id, sent_date)
SELECT paper_id, MIN(sent_date) FROM sent_papers GROUP BY paper_id`)
	return err
}

// latestVersion returns the highest migration version.
func latestVersion() int {
	if len(migrations) == 0 {
		return 0
	}
	return migrations[len(migrations)-1].Version
}
