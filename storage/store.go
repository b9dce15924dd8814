package storage

import (
	"context"
	"errors"

	"auction-scraper/models"
)

var (
	// ErrDuplicateExternalID is returned by Insert when another writer already
	// stored a listing with the same external id.
	ErrDuplicateExternalID = errors.New("listing external id already exists")
	ErrNotFound            = errors.New("listing not found")
)

// Store is the listing history the acquisition engine upserts into.
// Insert and Update are atomic per listing.
type Store interface {
	// FindByExternalID returns nil, nil when no listing has the id.
	FindByExternalID(ctx context.Context, externalID string) (*models.Listing, error)
	Insert(ctx context.Context, l models.Listing) error
	Update(ctx context.Context, externalID string, u models.ListingUpdate) error
}
