package database

import (
	"context"
	"fmt"
)

// schema is applied on startup. Statements are idempotent; migration tooling
// is intentionally out of scope.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS tickers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		symbol TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		active INTEGER NOT NULL DEFAULT 1,
		priority INTEGER NOT NULL DEFAULT 0,
		current_price REAL NOT NULL DEFAULT 0,
		created_at TEXT NOT NULL,
		updated_at TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS articles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker_id INTEGER NOT NULL REFERENCES tickers(id),
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		url TEXT NOT NULL UNIQUE,
		source TEXT NOT NULL,
		published_at TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		sentiment_score REAL,
		confidence REAL,
		mentions_json TEXT NOT NULL DEFAULT '[]',
		created_at TEXT NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_articles_ticker_published
		ON articles(ticker_id, published_at)`,
	`CREATE TABLE IF NOT EXISTS community_posts (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker_id INTEGER NOT NULL REFERENCES tickers(id),
		external_id TEXT NOT NULL UNIQUE,
		title TEXT NOT NULL DEFAULT '',
		content TEXT NOT NULL,
		content_type TEXT NOT NULL,
		author TEXT NOT NULL DEFAULT '',
		points INTEGER NOT NULL DEFAULT 0,
		num_comments INTEGER NOT NULL DEFAULT 0,
		url TEXT NOT NULL DEFAULT '',
		created_utc TEXT NOT NULL,
		sentiment_score REAL,
		confidence REAL,
		mentions_json TEXT NOT NULL DEFAULT '[]'
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_ticker_created
		ON community_posts(ticker_id, created_utc)`,
	`CREATE TABLE IF NOT EXISTS sentiments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		ticker_id INTEGER NOT NULL REFERENCES tickers(id),
		source TEXT NOT NULL,
		score REAL NOT NULL,
		confidence REAL NOT NULL,
		label TEXT NOT NULL,
		model TEXT NOT NULL DEFAULT '',
		raw_text TEXT NOT NULL DEFAULT '',
		content_hash TEXT NOT NULL,
		created_at TEXT NOT NULL,
		metadata_json TEXT NOT NULL DEFAULT '{}'
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS idx_sentiments_dedup
		ON sentiments(ticker_id, source, content_hash)`,
	`CREATE INDEX IF NOT EXISTS idx_sentiments_created
		ON sentiments(created_at)`,
}

// initSchema creates all tables and indexes if they do not exist.
func (db *DB) initSchema(ctx context.Context) error {
	for _, stmt := range schema {
		if _, err := db.conn.ExecContext(ctx, stmt); err != nil {
			return fmt.Errorf("schema statement failed: %w", err)
		}
	}
	return nil
}
