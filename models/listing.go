package models

import (
	"time"

	"github.com/shopspring/decimal"
)

type AuctionType string

const (
	AuctionTypeLien           AuctionType = "lien"
	AuctionTypePrivateSeller  AuctionType = "private_seller"
	AuctionTypeManagerSpecial AuctionType = "manager_special"
	AuctionTypeCharity        AuctionType = "charity"
	AuctionTypeUnknown        AuctionType = "unknown"
)

// Listing is the canonical shape of one storage-unit auction.
// ExternalID is the marketplace identifier and never changes once assigned.
type Listing struct {
	ExternalID     string
	URL            string
	FacilityName   string
	Address        string
	City           string
	State          string
	ZipCode        string
	UnitNumber     string
	UnitSize       string
	UnitSizeSqft   *float64
	Description    string
	CurrentBid     decimal.Decimal
	BidCount       int
	AuctionEndTime time.Time
	AuctionType    AuctionType
	ImageURLs      []string
}

// ListingUpdate carries the fields that may change between two observations
// of the same auction.
type ListingUpdate struct {
	CurrentBid     decimal.Decimal
	BidCount       int
	Description    string
	AuctionEndTime time.Time
}

func (l Listing) Mutable() ListingUpdate {
	return ListingUpdate{
		CurrentBid:     l.CurrentBid,
		BidCount:       l.BidCount,
		Description:    l.Description,
		AuctionEndTime: l.AuctionEndTime,
	}
}

// Equal compares the mutable fields. Bids compare by value so 50 and 50.00 match.
func (u ListingUpdate) Equal(o ListingUpdate) bool {
	return u.CurrentBid.Equal(o.CurrentBid) &&
		u.BidCount == o.BidCount &&
		u.Description == o.Description &&
		u.AuctionEndTime.Equal(o.AuctionEndTime)
}

// Apply returns a copy of l carrying the mutable fields of u.
func (l Listing) Apply(u ListingUpdate) Listing {
	l.CurrentBid = u.CurrentBid
	l.BidCount = u.BidCount
	l.Description = u.Description
	l.AuctionEndTime = u.AuctionEndTime
	return l
}

// RawListing is the marketplace's own loosely typed auction record.
// Numbers are json.Number values.
type RawListing map[string]any

type RawPage struct {
	Records      []RawListing
	TotalRecords int
	Page         int
}

type PageResult struct {
	Listings     []Listing
	TotalRecords int
	Page         int
	Malformed    int
}

type UpsertResult int

const (
	Skipped UpsertResult = iota
	Inserted
	Updated
)

func (r UpsertResult) String() string {
	switch r {
	case Inserted:
		return "inserted"
	case Updated:
		return "updated"
	default:
		return "skipped"
	}
}

// UpsertedListing pairs a live listing with what the upsert did with it.
type UpsertedListing struct {
	Listing Listing
	Result  UpsertResult
}
