package storage

import (
	"encoding/csv"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"time"

	"auction-scraper/models"
)

// CSVWriter saves the listings accepted by one run to a CSV file.
type CSVWriter struct {
	path string
}

func NewCSVWriter(path string) *CSVWriter {
	return &CSVWriter{path: path}
}

var csvHeader = []string{
	"external_id", "result", "auction_type", "state", "city", "zip_code",
	"facility_name", "unit_number", "unit_size", "unit_size_sqft",
	"current_bid", "bid_count", "auction_end_time", "url", "image_url",
}

// Write creates the output directory if needed and replaces the file.
func (w *CSVWriter) Write(entries []models.UpsertedListing) error {
	if err := os.MkdirAll(filepath.Dir(w.path), 0o755); err != nil {
		return fmt.Errorf("could not create output dir: %w", err)
	}

	file, err := os.Create(w.path)
	if err != nil {
		return fmt.Errorf("could not create file: %w", err)
	}
	defer file.Close()

	writer := csv.NewWriter(file)

	if err := writer.Write(csvHeader); err != nil {
		return fmt.Errorf("csv write error: %w", err)
	}
	for _, e := range entries {
		if err := writer.Write(csvRecord(e)); err != nil {
			return fmt.Errorf("csv write error: %w", err)
		}
	}

	writer.Flush()
	if err := writer.Error(); err != nil {
		return fmt.Errorf("csv write error: %w", err)
	}
	return nil
}

func csvRecord(e models.UpsertedListing) []string {
	l := e.Listing

	sqft := ""
	if l.UnitSizeSqft != nil {
		sqft = strconv.FormatFloat(*l.UnitSizeSqft, 'f', -1, 64)
	}
	end := ""
	if !l.AuctionEndTime.IsZero() {
		end = l.AuctionEndTime.UTC().Format(time.RFC3339)
	}
	image := ""
	if len(l.ImageURLs) > 0 {
		image = l.ImageURLs[0]
	}

	return []string{
		l.ExternalID,
		e.Result.String(),
		string(l.AuctionType),
		l.State,
		l.City,
		l.ZipCode,
		l.FacilityName,
		l.UnitNumber,
		l.UnitSize,
		sqft,
		l.CurrentBid.StringFixed(2),
		strconv.Itoa(l.BidCount),
		end,
		l.URL,
		image,
	}
}

// Path is where Write puts the file.
func (w *CSVWriter) Path() string {
	return w.path
}
