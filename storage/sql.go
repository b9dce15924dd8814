package storage

import (
	"fmt"
	"time"

	sq "github.com/Masterminds/squirrel"
	"github.com/shopspring/decimal"

	"auction-scraper/models"
)

// listingQueries builds the listing statements shared by the SQL stores.
// The stores differ in placeholder format and in how money and instants are
// bound and read back.
type listingQueries struct {
	sb        sq.StatementBuilderType
	bidColumn string
	endColumn string
	bindTime  func(time.Time) any
}

func (q listingQueries) selectByExternalID(externalID string) sq.SelectBuilder {
	return q.sb.
		Select(
			"id", "external_id", "url", "facility_name", "facility_address",
			"city", "state", "zip_code", "unit_number", "unit_size", "unit_size_sqft",
			"description", q.bidColumn, "bid_count", q.endColumn, "auction_type",
		).
		From("listings").
		Where(sq.Eq{"external_id": externalID})
}

func (q listingQueries) insertListing(l models.Listing, now time.Time) sq.InsertBuilder {
	return q.sb.
		Insert("listings").
		Columns(
			"external_id", "url", "facility_name", "facility_address",
			"city", "state", "zip_code", "unit_number", "unit_size", "unit_size_sqft",
			"description", "current_bid", "bid_count", "auction_end_time", "auction_type",
			"scraped_at", "updated_at",
		).
		Values(
			l.ExternalID, l.URL, l.FacilityName, l.Address,
			l.City, l.State, l.ZipCode, l.UnitNumber, l.UnitSize, l.UnitSizeSqft,
			l.Description, bindBid(l.CurrentBid), l.BidCount, q.bindTime(l.AuctionEndTime), string(l.AuctionType),
			q.bindTime(now), q.bindTime(now),
		).
		Suffix("RETURNING id")
}

func (q listingQueries) updateListing(externalID string, u models.ListingUpdate, now time.Time) sq.UpdateBuilder {
	return q.sb.
		Update("listings").
		Set("current_bid", bindBid(u.CurrentBid)).
		Set("bid_count", u.BidCount).
		Set("description", u.Description).
		Set("auction_end_time", q.bindTime(u.AuctionEndTime)).
		Set("updated_at", q.bindTime(now)).
		Where(sq.Eq{"external_id": externalID})
}

func (q listingQueries) selectImages(listingID int64) sq.SelectBuilder {
	return q.sb.
		Select("url").
		From("listing_images").
		Where(sq.Eq{"listing_id": listingID}).
		OrderBy("order_index")
}

func (q listingQueries) imageInsert() sq.InsertBuilder {
	return q.sb.Insert("listing_images").Columns("listing_id", "url", "order_index")
}

// insertImages is one multi-row statement for every image of a listing.
func (q listingQueries) insertImages(listingID int64, urls []string) sq.InsertBuilder {
	ins := q.imageInsert()
	for i, u := range urls {
		ins = ins.Values(listingID, u, i)
	}
	return ins
}

// insertImage is a single-row statement, queued once per image in a pgx batch.
func (q listingQueries) insertImage(listingID int64, url string, order int) sq.InsertBuilder {
	return q.imageInsert().Values(listingID, url, order)
}

func bindBid(d decimal.Decimal) string {
	return d.StringFixed(2)
}

// listingRow is the scan target for selectByExternalID.
type listingRow struct {
	id          int64
	listing     models.Listing
	bid         string
	auctionType string
}

func (r *listingRow) dest(endTime any) []any {
	l := &r.listing
	return []any{
		&r.id, &l.ExternalID, &l.URL, &l.FacilityName, &l.Address,
		&l.City, &l.State, &l.ZipCode, &l.UnitNumber, &l.UnitSize, &l.UnitSizeSqft,
		&l.Description, &r.bid, &l.BidCount, endTime, &r.auctionType,
	}
}

func (r *listingRow) finish(endTime time.Time) (models.Listing, error) {
	bid, err := decimal.NewFromString(r.bid)
	if err != nil {
		return models.Listing{}, fmt.Errorf("listing %s: bad current_bid %q: %w", r.listing.ExternalID, r.bid, err)
	}
	r.listing.CurrentBid = bid
	r.listing.AuctionType = models.AuctionType(r.auctionType)
	r.listing.AuctionEndTime = endTime
	return r.listing, nil
}
