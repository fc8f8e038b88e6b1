// Package storage persists the delivery ledger in SQLite.
package storage

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"time"

	sq "github.com/Masterminds/squirrel"
	_ "github.com/mattn/go-sqlite3"

	"BidMailer/internal/domain"
	"BidMailer/internal/ports"
)

const schemaSQL = `
CREATE TABLE IF NOT EXISTS items (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    source_id TEXT NOT NULL,
    organization TEXT NOT NULL,
    title TEXT NOT NULL,
    url TEXT NOT NULL,
    url_key TEXT NOT NULL UNIQUE,
    published_at TEXT NULL,
    deadline_at TEXT NULL,
    fetched_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS deliveries (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    run_id TEXT NOT NULL,
    keyword_set_id TEXT NOT NULL,
    item_id INTEGER NOT NULL,
    score INTEGER NOT NULL,
    delivered_at TEXT NOT NULL,
    UNIQUE(keyword_set_id, item_id),
    FOREIGN KEY(item_id) REFERENCES items(id)
);
`

// timeLayout fixes how timestamps are stored; RFC 3339 in UTC sorts
// lexicographically, which the prune queries rely on.
const timeLayout = time.RFC3339

// SQLiteLedger is the persistent record of known items and deliveries.
// The UNIQUE constraints on url_key and (keyword_set_id, item_id) make a
// second overlapping run idempotent rather than corrupting.
type SQLiteLedger struct {
	db *sql.DB
}

var _ ports.DeliveryLedger = (*SQLiteLedger)(nil)

// Open creates the database file (and its parent directory) if needed and
// applies the schema.
func Open(ctx context.Context, path string) (*SQLiteLedger, error) {
	if dir := filepath.Dir(path); dir != "." && dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("create database dir: %w", err)
		}
	}
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}
	ledger := NewSQLiteLedger(db)
	if err := ledger.Init(ctx); err != nil {
		_ = db.Close()
		return nil, err
	}
	return ledger, nil
}

// NewSQLiteLedger wires an existing sql.DB handle.
func NewSQLiteLedger(db *sql.DB) *SQLiteLedger {
	return &SQLiteLedger{db: db}
}

// Init applies the schema. Safe to call on every start.
func (l *SQLiteLedger) Init(ctx context.Context) error {
	if _, err := l.db.ExecContext(ctx, schemaSQL); err != nil {
		return &domain.LedgerError{Op: "init", Err: err}
	}
	return nil
}

// Close releases the database handle.
func (l *SQLiteLedger) Close() error {
	return l.db.Close()
}

// RecordItemIfNew inserts the item on first sighting of its url_key and
// returns the row id. An existing row is left untouched, preserving the
// first sighting's fetched_at.
func (l *SQLiteLedger) RecordItemIfNew(ctx context.Context, item domain.FeedItem) (int64, error) {
	insert := sq.Insert("items").
		Options("OR IGNORE").
		Columns("source_id", "organization", "title", "url", "url_key", "published_at", "deadline_at", "fetched_at").
		Values(
			item.SourceID,
			item.Organization,
			item.Title,
			item.URL,
			item.URLKey,
			nullableTime(item.PublishedAt),
			nullableString(item.DeadlineAt),
			item.FetchedAt.UTC().Format(timeLayout),
		)
	query, args, err := insert.ToSql()
	if err != nil {
		return 0, &domain.LedgerError{Op: "record item", Err: err}
	}
	if _, err := l.db.ExecContext(ctx, query, args...); err != nil {
		return 0, &domain.LedgerError{Op: "record item", Err: err}
	}

	query, args, err = sq.Select("id").From("items").Where(sq.Eq{"url_key": item.URLKey}).ToSql()
	if err != nil {
		return 0, &domain.LedgerError{Op: "record item", Err: err}
	}
	var id int64
	if err := l.db.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		return 0, &domain.LedgerError{Op: "record item", Err: err}
	}
	return id, nil
}

// FilterUndelivered drops ids that already have a delivery row for the
// keyword set, preserving the input order.
func (l *SQLiteLedger) FilterUndelivered(ctx context.Context, setID string, itemIDs []int64) ([]int64, error) {
	if len(itemIDs) == 0 {
		return nil, nil
	}

	query, args, err := sq.Select("item_id").
		From("deliveries").
		Where(sq.Eq{"keyword_set_id": setID, "item_id": itemIDs}).
		ToSql()
	if err != nil {
		return nil, &domain.LedgerError{Op: "filter undelivered", Err: err}
	}

	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, &domain.LedgerError{Op: "filter undelivered", Err: err}
	}
	defer rows.Close()

	delivered := make(map[int64]bool)
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, &domain.LedgerError{Op: "filter undelivered", Err: err}
		}
		delivered[id] = true
	}
	if err := rows.Err(); err != nil {
		return nil, &domain.LedgerError{Op: "filter undelivered", Err: err}
	}

	remaining := make([]int64, 0, len(itemIDs))
	for _, id := range itemIDs {
		if !delivered[id] {
			remaining = append(remaining, id)
		}
	}
	return remaining, nil
}

// CommitDeliveries records one delivery row per candidate in a single
// transaction, after the external send was confirmed. The uniqueness
// constraint absorbs replays.
func (l *SQLiteLedger) CommitDeliveries(ctx context.Context, runID, setID string, records []domain.StoredCandidate, at time.Time) error {
	if len(records) == 0 {
		return nil
	}

	insert := sq.Insert("deliveries").
		Options("OR IGNORE").
		Columns("run_id", "keyword_set_id", "item_id", "score", "delivered_at")
	timestamp := at.UTC().Format(timeLayout)
	for _, record := range records {
		insert = insert.Values(runID, setID, record.ItemID, record.Candidate.Score, timestamp)
	}
	query, args, err := insert.ToSql()
	if err != nil {
		return &domain.LedgerError{Op: "commit deliveries", Err: err}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.LedgerError{Op: "commit deliveries", Err: err}
	}
	if _, err := tx.ExecContext(ctx, query, args...); err != nil {
		_ = tx.Rollback()
		return &domain.LedgerError{Op: "commit deliveries", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &domain.LedgerError{Op: "commit deliveries", Err: err}
	}
	return nil
}

// Prune deletes deliveries older than the retention window, then items
// outside the window with no remaining delivery reference. An item still
// referenced by a retained delivery survives regardless of age.
func (l *SQLiteLedger) Prune(ctx context.Context, retentionDays int, now time.Time) error {
	if retentionDays <= 0 {
		return &domain.LedgerError{Op: "prune", Err: fmt.Errorf("retentionDays must be > 0, got %d", retentionDays)}
	}
	cutoff := now.UTC().AddDate(0, 0, -retentionDays).Format(timeLayout)

	deliveriesSQL, deliveriesArgs, err := sq.Delete("deliveries").
		Where(sq.Lt{"delivered_at": cutoff}).
		ToSql()
	if err != nil {
		return &domain.LedgerError{Op: "prune", Err: err}
	}
	itemsSQL, itemsArgs, err := sq.Delete("items").
		Where(sq.Lt{"fetched_at": cutoff}).
		Where("id NOT IN (SELECT item_id FROM deliveries)").
		ToSql()
	if err != nil {
		return &domain.LedgerError{Op: "prune", Err: err}
	}

	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return &domain.LedgerError{Op: "prune", Err: err}
	}
	if _, err := tx.ExecContext(ctx, deliveriesSQL, deliveriesArgs...); err != nil {
		_ = tx.Rollback()
		return &domain.LedgerError{Op: "prune", Err: err}
	}
	if _, err := tx.ExecContext(ctx, itemsSQL, itemsArgs...); err != nil {
		_ = tx.Rollback()
		return &domain.LedgerError{Op: "prune", Err: err}
	}
	if err := tx.Commit(); err != nil {
		return &domain.LedgerError{Op: "prune", Err: err}
	}
	return nil
}

func nullableTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(timeLayout)
}

func nullableString(s string) any {
	if s == "" {
		return nil
	}
	return s
}
