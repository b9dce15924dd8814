package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"auction-scraper/models"
	"auction-scraper/utils"
)

const postgresSchema = `
CREATE TABLE IF NOT EXISTS listings (
	id               BIGSERIAL PRIMARY KEY,
	external_id      TEXT NOT NULL,
	url              TEXT NOT NULL,
	facility_name    TEXT NOT NULL DEFAULT '',
	facility_address TEXT NOT NULL DEFAULT '',
	city             TEXT NOT NULL DEFAULT '',
	state            TEXT NOT NULL DEFAULT '',
	zip_code         TEXT NOT NULL DEFAULT '',
	unit_number      TEXT NOT NULL DEFAULT '',
	unit_size        TEXT NOT NULL DEFAULT '',
	unit_size_sqft   DOUBLE PRECISION,
	description      TEXT NOT NULL DEFAULT '',
	current_bid      NUMERIC(12,2) NOT NULL DEFAULT 0,
	bid_count        INTEGER NOT NULL DEFAULT 0,
	auction_end_time TIMESTAMPTZ,
	auction_type     TEXT NOT NULL DEFAULT 'unknown',
	scraped_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	updated_at       TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	CONSTRAINT listings_external_id_key UNIQUE (external_id)
);

CREATE INDEX IF NOT EXISTS idx_listings_state ON listings(state);
CREATE INDEX IF NOT EXISTS idx_listings_end_time ON listings(auction_end_time);

CREATE TABLE IF NOT EXISTS listing_images (
	id          BIGSERIAL PRIMARY KEY,
	listing_id  BIGINT NOT NULL REFERENCES listings(id) ON DELETE CASCADE,
	url         TEXT NOT NULL,
	order_index INTEGER NOT NULL DEFAULT 0
);
`

const externalIDConstraint = "listings_external_id_key"

type PostgresStore struct {
	pool *pgxpool.Pool
	q    listingQueries
}

var _ Store = (*PostgresStore)(nil)

// NewPostgresStore connects to dsn, retrying the first ping while the
// database is still starting up.
func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	ctx, cancel := context.WithTimeout(ctx, 30*time.Second)
	defer cancel()

	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to create postgres pool: %w", err)
	}

	err = utils.Retry(ctx, 4, 500*time.Millisecond, nil, func() error {
		return pool.Ping(ctx)
	})
	if err != nil {
		pool.Close()
		return nil, fmt.Errorf("failed to connect postgres: %w", err)
	}

	return &PostgresStore{
		pool: pool,
		q: listingQueries{
			sb:        sq.StatementBuilder.PlaceholderFormat(sq.Dollar),
			bidColumn: "current_bid::text",
			endColumn: "auction_end_time",
			bindTime:  postgresTime,
		},
	}, nil
}

func (s *PostgresStore) Close() {
	if s.pool != nil {
		s.pool.Close()
	}
}

func (s *PostgresStore) EnsureSchema(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, 20*time.Second)
	defer cancel()

	if _, err := s.pool.Exec(ctx, postgresSchema); err != nil {
		return fmt.Errorf("failed to ensure schema: %w", err)
	}
	return nil
}

func (s *PostgresStore) FindByExternalID(ctx context.Context, externalID string) (*models.Listing, error) {
	query, args, err := s.q.selectByExternalID(externalID).ToSql()
	if err != nil {
		return nil, err
	}

	var (
		row listingRow
		end *time.Time
	)
	err = s.pool.QueryRow(ctx, query, args...).Scan(row.dest(&end)...)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("find listing %s: %w", externalID, err)
	}

	var endTime time.Time
	if end != nil {
		endTime = end.UTC()
	}
	l, err := row.finish(endTime)
	if err != nil {
		return nil, err
	}

	query, args, err = s.q.selectImages(row.id).ToSql()
	if err != nil {
		return nil, err
	}
	rows, err := s.pool.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query images: %w", err)
	}
	l.ImageURLs, err = pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("collect images: %w", err)
	}
	if len(l.ImageURLs) == 0 {
		l.ImageURLs = nil
	}
	return &l, nil
}

func (s *PostgresStore) Insert(ctx context.Context, l models.Listing) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin insert: %w", err)
	}
	defer tx.Rollback(ctx)

	query, args, err := s.q.insertListing(l, time.Now()).ToSql()
	if err != nil {
		return err
	}
	var id int64
	if err := tx.QueryRow(ctx, query, args...).Scan(&id); err != nil {
		if isUniqueViolationOnConstraint(err, externalIDConstraint) {
			return fmt.Errorf("insert listing %s: %w", l.ExternalID, ErrDuplicateExternalID)
		}
		return fmt.Errorf("insert listing %s: %w", l.ExternalID, err)
	}

	if len(l.ImageURLs) > 0 {
		batch := &pgx.Batch{}
		for i, u := range l.ImageURLs {
			query, args, err := s.q.insertImage(id, u, i).ToSql()
			if err != nil {
				return err
			}
			batch.Queue(query, args...)
		}
		results := tx.SendBatch(ctx, batch)
		for i := range l.ImageURLs {
			if _, err := results.Exec(); err != nil {
				results.Close()
				return fmt.Errorf("insert image %d for %s: %w", i, l.ExternalID, err)
			}
		}
		if err := results.Close(); err != nil {
			return fmt.Errorf("insert images for %s: %w", l.ExternalID, err)
		}
	}

	return tx.Commit(ctx)
}

func (s *PostgresStore) Update(ctx context.Context, externalID string, u models.ListingUpdate) error {
	query, args, err := s.q.updateListing(externalID, u, time.Now()).ToSql()
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx, query, args...)
	if err != nil {
		return fmt.Errorf("update listing %s: %w", externalID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("update listing %s: %w", externalID, ErrNotFound)
	}
	return nil
}

func postgresTime(t time.Time) any {
	if t.IsZero() {
		return nil
	}
	return t.UTC()
}

func isUniqueViolationOnConstraint(err error, constraint string) bool {
	var pgErr *pgconn.PgError
	if !errors.As(err, &pgErr) {
		return false
	}
	return pgErr.Code == "23505" && pgErr.ConstraintName == constraint
}
