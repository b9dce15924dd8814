package storage

import (
	"context"
	"testing"
	"time"

	"github.com/google/go-cmp/cmp"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/require"

	"auction-scraper/models"
)

func sampleListing(id string) models.Listing {
	sqft := 100.0
	return models.Listing{
		ExternalID:     id,
		URL:            "https://www.storagetreasures.com/auctions/fl/tampa/" + id,
		FacilityName:   "Tampa Self Storage",
		Address:        "100 Main St",
		City:           "Tampa",
		State:          "FL",
		ZipCode:        "33601",
		UnitNumber:     "B12",
		UnitSize:       "10x10",
		UnitSizeSqft:   &sqft,
		Description:    "Couch, boxes",
		CurrentBid:     decimal.RequireFromString("50.00"),
		BidCount:       3,
		AuctionEndTime: time.Date(2030, 5, 1, 15, 0, 0, 0, time.UTC),
		AuctionType:    models.AuctionTypeLien,
		ImageURLs: []string{
			"https://media.example/1/thumb.jpg",
			"https://media.example/1/large.jpg",
		},
	}
}

var listingCmp = cmp.Comparer(func(a, b decimal.Decimal) bool { return a.Equal(b) })

// runStoreContract checks the behaviour every Store implementation shares.
func runStoreContract(t *testing.T, store Store) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	got, err := store.FindByExternalID(ctx, "1001")
	require.NoError(t, err)
	require.Nil(t, got)

	want := sampleListing("1001")
	require.NoError(t, store.Insert(ctx, want))

	got, err = store.FindByExternalID(ctx, "1001")
	require.NoError(t, err)
	require.NotNil(t, got)
	if diff := cmp.Diff(want, *got, listingCmp); diff != "" {
		t.Fatalf("stored listing mismatch (-want +got):\n%s", diff)
	}

	err = store.Insert(ctx, sampleListing("1001"))
	require.ErrorIs(t, err, ErrDuplicateExternalID)

	update := models.ListingUpdate{
		CurrentBid:     decimal.RequireFromString("75.50"),
		BidCount:       4,
		Description:    "Couch, boxes, bike",
		AuctionEndTime: want.AuctionEndTime.Add(time.Hour),
	}
	require.NoError(t, store.Update(ctx, "1001", update))

	got, err = store.FindByExternalID(ctx, "1001")
	require.NoError(t, err)
	require.True(t, got.Mutable().Equal(update), "update not applied: %+v", got.Mutable())
	require.Equal(t, want.FacilityName, got.FacilityName)

	err = store.Update(ctx, "missing", update)
	require.ErrorIs(t, err, ErrNotFound)

	bare := models.Listing{
		ExternalID:  "1002",
		URL:         "https://www.storagetreasures.com/auctions/fl/miami/1002",
		AuctionType: models.AuctionTypeUnknown,
	}
	require.NoError(t, store.Insert(ctx, bare))
	got, err = store.FindByExternalID(ctx, "1002")
	require.NoError(t, err)
	require.Nil(t, got.UnitSizeSqft)
	require.True(t, got.AuctionEndTime.IsZero())
	require.Empty(t, got.ImageURLs)
	require.True(t, got.CurrentBid.IsZero())
}

func TestMemoryStore(t *testing.T) {
	store := NewMemoryStore()
	runStoreContract(t, store)
	require.Equal(t, 2, store.Len())
	require.Equal(t, 3, store.Writes())
}

func TestSQLiteStore(t *testing.T) {
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	defer store.Close()

	require.NoError(t, store.EnsureSchema(context.Background()))
	// idempotent
	require.NoError(t, store.EnsureSchema(context.Background()))

	runStoreContract(t, store)
}

func TestSQLiteStoreFile(t *testing.T) {
	path := t.TempDir() + "/nested/auctions.db"
	store, err := NewSQLiteStore(path)
	require.NoError(t, err)
	require.NoError(t, store.EnsureSchema(context.Background()))
	require.NoError(t, store.Insert(context.Background(), sampleListing("2001")))
	require.NoError(t, store.Close())

	reopened, err := NewSQLiteStore(path)
	require.NoError(t, err)
	defer reopened.Close()

	got, err := reopened.FindByExternalID(context.Background(), "2001")
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, "B12", got.UnitNumber)
}
