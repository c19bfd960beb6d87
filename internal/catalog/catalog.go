// Package catalog maintains an optional SQLite catalog of a mailbox tree,
// built by scanning stores and queried for fast message search without
// touching the maildir itself.
package catalog

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/mattn/go-sqlite3"

	"github.com/fenilsonani/mailstore/internal/logging"
	"github.com/fenilsonani/mailstore/internal/maildir"
)

// DB wraps the SQLite database connection.
type DB struct {
	*sql.DB
	logger *logging.Logger
}

const schema = `
CREATE TABLE IF NOT EXISTS messages (
	folder        TEXT NOT NULL,
	key           TEXT NOT NULL,
	subdir        TEXT NOT NULL,
	size          INTEGER NOT NULL,
	flags         TEXT NOT NULL DEFAULT '',
	content_hash  TEXT NOT NULL DEFAULT '',
	delivery_date INTEGER NOT NULL DEFAULT 0,
	mod_time      INTEGER NOT NULL DEFAULT 0,
	PRIMARY KEY (folder, key)
);

CREATE INDEX IF NOT EXISTS idx_messages_flags ON messages(flags);
CREATE INDEX IF NOT EXISTS idx_messages_date ON messages(delivery_date);
`

// Open opens or creates a catalog database at the given path and ensures the
// schema exists.
func Open(path string, logger *logging.Logger) (*DB, error) {
	if logger == nil {
		logger = logging.Discard()
	}

	// WAL mode for better concurrency between an indexer and readers.
	dsn := fmt.Sprintf("%s?_journal_mode=WAL&_busy_timeout=5000", path)
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open catalog: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to ping catalog: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create schema: %w", err)
	}

	return &DB{DB: db, logger: logger.Catalog()}, nil
}

// Entry is one cataloged message.
type Entry struct {
	Folder       string
	Key          string
	Subdir       string
	Size         int64
	Flags        string
	ContentHash  string
	DeliveryDate time.Time
	ModTime      time.Time
}

// IndexStore scans one store and upserts every message into the catalog,
// then prunes rows for messages no longer present in that folder. Returns
// the number of cataloged messages.
func (db *DB) IndexStore(ctx context.Context, store *maildir.Store) (int, error) {
	folder := store.Name()

	msgs, err := store.Enumerate(true)
	if err != nil {
		return 0, fmt.Errorf("enumerate %s: %w", folder, err)
	}

	tx, err := db.BeginTx(ctx, nil)
	if err != nil {
		return 0, err
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (folder, key, subdir, size, flags, content_hash, delivery_date, mod_time)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(folder, key) DO UPDATE SET
		   subdir = excluded.subdir,
		   size = excluded.size,
		   flags = excluded.flags,
		   content_hash = excluded.content_hash,
		   delivery_date = excluded.delivery_date,
		   mod_time = excluded.mod_time`)
	if err != nil {
		return 0, err
	}
	defer stmt.Close()

	seen := make([]any, 0, len(msgs)+1)
	seen = append(seen, folder)
	for _, msg := range msgs {
		_, err := stmt.ExecContext(ctx,
			folder, msg.Key(), string(msg.Subdir()), int64(len(msg.Content())),
			msg.Flags(), msg.ContentHash(), msg.Date().Unix(), msg.ModTime().Unix())
		if err != nil {
			return 0, fmt.Errorf("catalog %s: %w", msg.Key(), err)
		}
		seen = append(seen, msg.Key())
	}

	// Prune rows for messages removed from the folder since the last scan.
	query := "DELETE FROM messages WHERE folder = ?"
	if len(msgs) > 0 {
		query += " AND key NOT IN (?" + repeatPlaceholder(len(msgs)-1) + ")"
	}
	if _, err := tx.ExecContext(ctx, query, seen...); err != nil {
		return 0, fmt.Errorf("prune %s: %w", folder, err)
	}

	if err := tx.Commit(); err != nil {
		return 0, err
	}

	db.logger.Info("folder indexed", "folder", folder, "messages", len(msgs))
	return len(msgs), nil
}

func repeatPlaceholder(n int) string {
	s := ""
	for i := 0; i < n; i++ {
		s += ", ?"
	}
	return s
}

// Query selects cataloged messages. Zero values mean "no constraint".
type Query struct {
	Folder   string
	Flag     string // single flag character that must be present
	NotFlag  string // single flag character that must be absent
	Larger   int64
	Smaller  int64
	Since    time.Time
	Before   time.Time
}

// Search returns catalog entries matching the query, ordered by delivery
// date.
func (db *DB) Search(ctx context.Context, q Query) ([]Entry, error) {
	query := `SELECT folder, key, subdir, size, flags, content_hash, delivery_date, mod_time
	          FROM messages WHERE 1=1`
	var args []any

	if q.Folder != "" {
		query += " AND folder = ?"
		args = append(args, q.Folder)
	}
	if q.Flag != "" {
		query += " AND instr(flags, ?) > 0"
		args = append(args, q.Flag)
	}
	if q.NotFlag != "" {
		query += " AND instr(flags, ?) = 0"
		args = append(args, q.NotFlag)
	}
	if q.Larger > 0 {
		query += " AND size > ?"
		args = append(args, q.Larger)
	}
	if q.Smaller > 0 {
		query += " AND size < ?"
		args = append(args, q.Smaller)
	}
	if !q.Since.IsZero() {
		query += " AND delivery_date >= ?"
		args = append(args, q.Since.Unix())
	}
	if !q.Before.IsZero() {
		query += " AND delivery_date < ?"
		args = append(args, q.Before.Unix())
	}
	query += " ORDER BY delivery_date"

	rows, err := db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var entries []Entry
	for rows.Next() {
		var e Entry
		var date, mtime int64
		if err := rows.Scan(&e.Folder, &e.Key, &e.Subdir, &e.Size, &e.Flags,
			&e.ContentHash, &date, &mtime); err != nil {
			return nil, err
		}
		e.DeliveryDate = time.Unix(date, 0)
		e.ModTime = time.Unix(mtime, 0)
		entries = append(entries, e)
	}
	return entries, rows.Err()
}

// Count returns the number of cataloged messages, optionally for one folder.
func (db *DB) Count(ctx context.Context, folder string) (int, error) {
	var n int
	var err error
	if folder == "" {
		err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages").Scan(&n)
	} else {
		err = db.QueryRowContext(ctx, "SELECT COUNT(*) FROM messages WHERE folder = ?", folder).Scan(&n)
	}
	return n, err
}
