package services

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"auction-scraper/models"
	"auction-scraper/storage"
)

func listing(id, bid string) models.Listing {
	return models.Listing{
		ExternalID:     id,
		URL:            "https://www.storagetreasures.com/auctions/fl/tampa/" + id,
		City:           "Tampa",
		State:          "FL",
		Description:    "boxes",
		CurrentBid:     decimal.RequireFromString(bid),
		BidCount:       2,
		AuctionEndTime: time.Date(2031, 1, 1, 0, 0, 0, 0, time.UTC),
		AuctionType:    models.AuctionTypeLien,
	}
}

func TestUpsertIdempotent(t *testing.T) {
	store := storage.NewMemoryStore()
	c := NewCoordinator(store, nil)
	ctx := context.Background()

	res, err := c.Upsert(ctx, listing("1", "50.00"))
	require.NoError(t, err)
	require.Equal(t, models.Inserted, res)

	res, err = c.Upsert(ctx, listing("1", "50.00"))
	require.NoError(t, err)
	require.Equal(t, models.Skipped, res)
	require.Equal(t, 1, store.Writes())
}

func TestUpsertBidChange(t *testing.T) {
	store := storage.NewMemoryStore()
	c := NewCoordinator(store, nil)
	ctx := context.Background()

	_, err := c.Upsert(ctx, listing("7", "50.00"))
	require.NoError(t, err)

	res, err := c.Upsert(ctx, listing("7", "75.00"))
	require.NoError(t, err)
	require.Equal(t, models.Updated, res)

	res, err = c.Upsert(ctx, listing("7", "75.00"))
	require.NoError(t, err)
	require.Equal(t, models.Skipped, res)

	got, err := store.FindByExternalID(ctx, "7")
	require.NoError(t, err)
	require.Equal(t, "75.00", got.CurrentBid.StringFixed(2))
	require.Equal(t, 2, store.Writes())
}

func TestUpsertEquivalentDecimalSkipped(t *testing.T) {
	store := storage.NewMemoryStore()
	c := NewCoordinator(store, nil)
	ctx := context.Background()

	_, err := c.Upsert(ctx, listing("8", "50"))
	require.NoError(t, err)
	res, err := c.Upsert(ctx, listing("8", "50.00"))
	require.NoError(t, err)
	require.Equal(t, models.Skipped, res)
}

func TestUpsertImmutableFieldsIgnored(t *testing.T) {
	store := storage.NewMemoryStore()
	c := NewCoordinator(store, nil)
	ctx := context.Background()

	_, err := c.Upsert(ctx, listing("9", "10.00"))
	require.NoError(t, err)

	moved := listing("9", "10.00")
	moved.FacilityName = "Renamed Storage"
	res, err := c.Upsert(ctx, moved)
	require.NoError(t, err)
	require.Equal(t, models.Skipped, res)
}

// racingStore reports "absent" on the first lookup, then lets another writer
// win the insert.
type racingStore struct {
	*storage.MemoryStore
	lookups int
}

func (s *racingStore) FindByExternalID(ctx context.Context, id string) (*models.Listing, error) {
	s.lookups++
	if s.lookups == 1 {
		other := listing(id, "40.00")
		if err := s.MemoryStore.Insert(ctx, other); err != nil {
			return nil, err
		}
		return nil, nil
	}
	return s.MemoryStore.FindByExternalID(ctx, id)
}

func TestUpsertConflictBecomesUpdate(t *testing.T) {
	store := &racingStore{MemoryStore: storage.NewMemoryStore()}
	c := NewCoordinator(store, nil)

	res, err := c.Upsert(context.Background(), listing("11", "45.00"))
	require.NoError(t, err)
	require.Equal(t, models.Updated, res)
	require.Equal(t, 1, store.Len())

	got, err := store.MemoryStore.FindByExternalID(context.Background(), "11")
	require.NoError(t, err)
	require.Equal(t, "45.00", got.CurrentBid.StringFixed(2))
}

type failingStore struct {
	storage.Store
	err error
}

func (s failingStore) FindByExternalID(context.Context, string) (*models.Listing, error) {
	return nil, s.err
}

func TestUpsertLookupError(t *testing.T) {
	boom := errors.New("db down")
	c := NewCoordinator(failingStore{err: boom}, nil)

	_, err := c.Upsert(context.Background(), listing("12", "1.00"))
	require.ErrorIs(t, err, boom)
}

func TestUpsertWithSQLite(t *testing.T) {
	store, err := storage.NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()
	require.NoError(t, store.EnsureSchema(context.Background()))

	c := NewCoordinator(store, nil)
	ctx := context.Background()

	for _, tc := range []struct {
		bid  string
		want models.UpsertResult
	}{
		{"50.00", models.Inserted},
		{"50.00", models.Skipped},
		{"75.00", models.Updated},
		{"75.00", models.Skipped},
	} {
		res, err := c.Upsert(ctx, listing("21", tc.bid))
		require.NoError(t, err)
		require.Equal(t, tc.want, res, "bid %s", tc.bid)
	}
}
