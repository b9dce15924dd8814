package storage

import (
	"encoding/csv"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"auction-scraper/models"
)

func TestCSVWriter(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out", "listings.csv")
	w := NewCSVWriter(path)

	l := sampleListing("3001")
	bare := models.Listing{ExternalID: "3002", AuctionType: models.AuctionTypeUnknown}
	err := w.Write([]models.UpsertedListing{
		{Listing: l, Result: models.Inserted},
		{Listing: bare, Result: models.Skipped},
	})
	require.NoError(t, err)

	f, err := os.Open(path)
	require.NoError(t, err)
	defer f.Close()

	records, err := csv.NewReader(f).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 3)
	require.Equal(t, csvHeader, records[0])

	require.Equal(t, "3001", records[1][0])
	require.Equal(t, "inserted", records[1][1])
	require.Equal(t, "50.00", records[1][10])
	require.Equal(t, "2030-05-01T15:00:00Z", records[1][12])
	require.Equal(t, "https://media.example/1/thumb.jpg", records[1][14])

	require.Equal(t, "skipped", records[2][1])
	require.Equal(t, "", records[2][9])
	require.Equal(t, "", records[2][12])
}
