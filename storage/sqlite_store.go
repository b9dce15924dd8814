package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"auction-scraper/models"
)

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS listings (
	id               INTEGER PRIMARY KEY AUTOINCREMENT,
	external_id      TEXT NOT NULL UNIQUE,
	url              TEXT NOT NULL,
	facility_name    TEXT NOT NULL DEFAULT '',
	facility_address TEXT NOT NULL DEFAULT '',
	city             TEXT NOT NULL DEFAULT '',
	state            TEXT NOT NULL DEFAULT '',
	zip_code         TEXT NOT NULL DEFAULT '',
	unit_number      TEXT NOT NULL DEFAULT '',
	unit_size        TEXT NOT NULL DEFAULT '',
	unit_size_sqft   REAL,
	description      TEXT NOT NULL DEFAULT '',
	current_bid      TEXT NOT NULL DEFAULT '0.00',
	bid_count        INTEGER NOT NULL DEFAULT 0,
	auction_end_time TEXT,
	auction_type     TEXT NOT NULL DEFAULT 'unknown',
	scraped_at       TEXT NOT NULL,
	updated_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_listings_state ON listings(state);
CREATE INDEX IF NOT EXISTS idx_listings_end_time ON listings(auction_end_time);

CREATE TABLE IF NOT EXISTS listing_images (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	listing_id  INTEGER NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
	url         TEXT NOT NULL,
	order_index INTEGER NOT NULL DEFAULT 0
);
`

// SQLiteStore persists listings in a local SQLite file.
type SQLiteStore struct {
	db *sql.DB
	q  listingQueries
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path.
// Use ":memory:" for a throwaway database.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	dsn := ":memory:"
	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
			return nil, fmt.Errorf("could not create sqlite dir: %w", err)
		}
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=foreign_keys(1)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open sqlite: %w", err)
	}
	// One connection: a second one would see a different :memory: database,
	// and SQLite only has a single writer anyway.
	db.SetMaxOpenConns(1)

	return &SQLiteStore{
		db: db,
		q: listingQueries{
			sb:        sq.StatementBuilder.PlaceholderFormat(sq.Question),
			bidColumn: "current_bid",
			endColumn: "auction_end_time",
			bindTime:  sqliteTime,
		},
	}, nil
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	if _, err := s.db.ExecContext(ctx, sqliteSchema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func (s *SQLiteStore) FindByExternalID(ctx context.Context, externalID string) (*models.Listing, error) {
	query, args, err := s.q.selectByExternalID(externalID).ToSql()
	if err != nil {
		return nil, err
	}

	var (
		row listingRow
		end sql.NullString
	)
	err = s.db.QueryRowContext(ctx, query, args...).Scan(row.dest(&end)...)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find listing %s: %w", externalID, err)
	}

	var endTime time.Time
	if end.Valid && end.String != "" {
		endTime, err = time.Parse(time.RFC3339Nano, end.String)
		if err != nil {
			return nil, fmt.Errorf("listing %s: bad auction_end_time %q: %w", externalID, end.String, err)
		}
	}
	l, err := row.finish(endTime)
	if err != nil {
		return nil, err
	}

	if l.ImageURLs, err = s.images(ctx, row.id); err != nil {
		return nil, err
	}
	return &l, nil
}

func (s *SQLiteStore) images(ctx context.Context, listingID int64) ([]string, error) {
	query, args, err := s.q.selectImages(listingID).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	defer rows.Close()

	var urls []string
	for rows.Next() {
		var u string
		if err := rows.Scan(&u); err != nil {
			return nil, fmt.Errorf("scan image: %w", err)
		}
		urls = append(urls, u)
	}
	return urls, rows.Err()
}

func (s *SQLiteStore) Insert(ctx context.Context, l models.Listing) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback()

	query, args, err := s.q.insertListing(l, time.Now()).ToSql()
	if err != nil {
		return err
	}
	var id int64
	if err := tx.QueryRowContext(ctx, query, args...).Scan(&id); err != nil {
		if isSQLiteUniqueViolation(err) {
			return fmt.Errorf("insert listing %s: %w", l.ExternalID, ErrDuplicateExternalID)
		}
		return fmt.Errorf("insert listing %s: %w", l.ExternalID, err)
	}

	if len(l.ImageURLs) > 0 {
		query, args, err := s.q.insertImages(id, l.ImageURLs).ToSql()
		if err != nil {
			return err
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			return fmt.Errorf("insert images for %s: %w", l.ExternalID, err)
		}
	}

	return tx.Commit()
}

func (s *SQLiteStore) Update(ctx context.Context, externalID string, u models.ListingUpdate) error {
	query, args, err := s.q.updateListing(externalID, u, time.Now()).ToSql()
	if err != nil {
		return err
	}
	res, err := s.db.ExecContext(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update listing %s: %w", externalID, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update listing %s: %w", externalID, err)
	}
	if n == 0 {
		return fmt.Errorf("update listing %s: %w", externalID, ErrNotFound)
	}
	return nil
}

func sqliteTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC().Format(time.RFC3339Nano)
}

func isSQLiteUniqueViolation(err error) bool {
	var se *sqlite.Error
	if !errors.As(err, &se) {
		return false
	}
	switch se.Code() {
	case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
		return true
	}
	// primary result code only, when extended codes are off
	return se.Code()&0xff == sqlite3.SQLITE_CONSTRAINT && strings.Contains(se.Error(), "UNIQUE")
}
