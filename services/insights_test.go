package services

import (
	"bytes"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"auction-scraper/models"
)

func TestGenerateReport(t *testing.T) {
	a := listing("1", "50.00")
	a.FacilityName = "Alpha Storage"
	b := listing("2", "125.50")
	b.City = "Orlando"
	b.AuctionType = models.AuctionTypeCharity
	b.AuctionEndTime = a.AuctionEndTime.Add(-time.Hour)
	c := listing("3", "10.00")
	c.City = ""
	c.AuctionEndTime = time.Time{}

	report := GenerateReport(models.RunSummary{NewCount: 2}, []models.UpsertedListing{
		{Listing: a, Result: models.Inserted},
		{Listing: b, Result: models.Inserted},
		{Listing: c, Result: models.Updated},
	})

	require.Equal(t, 3, report.Listings)
	require.Equal(t, "61.83", report.AverageBid.StringFixed(2))
	require.Equal(t, "2", report.HighestBid.ExternalID)
	require.Equal(t, map[string]int{"Tampa, FL": 1, "Orlando, FL": 1, "Unknown": 1}, report.ByCity)
	require.Equal(t, 2, report.ByType[models.AuctionTypeLien])
	require.Len(t, report.EndingSoonest, 2)
	require.Equal(t, "2", report.EndingSoonest[0].ExternalID)
}

func TestPrintReport(t *testing.T) {
	summary := models.RunSummary{
		Scope:   models.StateScope("fl"),
		Outcome: models.OutcomeFailed,
		Err:     errors.New("bootstrap timed out"),
	}
	var buf bytes.Buffer
	PrintReport(&buf, GenerateReport(summary, nil))

	out := buf.String()
	require.Contains(t, out, "state:FL")
	require.Contains(t, out, "failed")
	require.Contains(t, out, "bootstrap timed out")
	require.NotContains(t, out, "ENDING SOONEST")

	buf.Reset()
	PrintReport(&buf, GenerateReport(models.RunSummary{Outcome: models.OutcomeDone}, []models.UpsertedListing{
		{Listing: listing("5", "20.00"), Result: models.Inserted},
	}))
	require.Contains(t, buf.String(), "$20.00")
	require.Contains(t, buf.String(), "Tampa, FL")
}
