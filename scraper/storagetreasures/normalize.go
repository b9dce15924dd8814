package storagetreasures

import (
	"encoding/json"
	"fmt"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"auction-scraper/models"
)

const expireLayout = "2006-01-02 15:04:05"

// maxBid is the first amount the listings table's NUMERIC(12,2) cannot hold.
var maxBid = decimal.New(1, 10)

var auctionTypes = map[int64]models.AuctionType{
	1: models.AuctionTypeLien,
	2: models.AuctionTypePrivateSeller,
	3: models.AuctionTypeManagerSpecial,
	4: models.AuctionTypeCharity,
}

// Normalizer maps raw marketplace records to listings. It has no state
// beyond the two base URLs used to build absolute links.
type Normalizer struct {
	SiteURL  string
	MediaURL string
}

// Normalize is pure. Only a missing auction id or an unreadable bid amount
// fail the record, with ErrMalformedListing; every other field degrades to
// its zero value.
func (n Normalizer) Normalize(raw models.RawListing) (models.Listing, error) {
	id := str(raw["auction_id"])
	if id == "" {
		return models.Listing{}, fmt.Errorf("%w: missing auction_id", ErrMalformedListing)
	}

	bid, err := parseBid(raw["current_bid"])
	if err != nil {
		return models.Listing{}, fmt.Errorf("%w: auction %s: %v", ErrMalformedListing, id, err)
	}

	facility := nested(raw, "facility")
	state := strings.ToUpper(str(raw["state"]))
	city := str(raw["city"])

	l := models.Listing{
		ExternalID:     id,
		URL:            n.listingURL(state, city, id),
		FacilityName:   firstNonEmpty(str(raw["facility_name"]), str(facility["facility_name"])),
		Address:        firstNonEmpty(str(raw["address"]), str(facility["address"])),
		City:           city,
		State:          state,
		ZipCode:        str(raw["zipcode"]),
		UnitNumber:     str(raw["unit_number"]),
		UnitSize:       str(raw["unit_size"]),
		UnitSizeSqft:   parseSqft(raw["unit_volume"]),
		Description:    joinNonEmpty("\n\n", str(raw["unit_contents"]), str(raw["unit_additional"])),
		CurrentBid:     bid,
		BidCount:       parseCount(raw["total_bids"]),
		AuctionEndTime: parseExpiry(nested(nested(raw, "expire_date"), "utc")["datetime"]),
		AuctionType:    DecodeAuctionType(firstPresent(raw, "type", "auction_type_id", "auction_type")),
		ImageURLs:      n.images(nested(raw, "image")),
	}
	return l, nil
}

// NormalizePage normalizes every record of a page, dropping and counting the
// malformed ones.
func (n Normalizer) NormalizePage(page *models.RawPage, onMalformed func(error)) models.PageResult {
	res := models.PageResult{
		Listings:     make([]models.Listing, 0, len(page.Records)),
		TotalRecords: page.TotalRecords,
		Page:         page.Page,
	}
	for _, raw := range page.Records {
		l, err := n.Normalize(raw)
		if err != nil {
			res.Malformed++
			if onMalformed != nil {
				onMalformed(err)
			}
			continue
		}
		res.Listings = append(res.Listings, l)
	}
	return res
}

// DecodeAuctionType maps the marketplace's numeric type code; anything it
// does not recognise is AuctionTypeUnknown.
func DecodeAuctionType(v any) models.AuctionType {
	code, err := strconv.ParseInt(str(v), 10, 64)
	if err != nil {
		return models.AuctionTypeUnknown
	}
	if t, ok := auctionTypes[code]; ok {
		return t
	}
	return models.AuctionTypeUnknown
}

func (n Normalizer) listingURL(state, city, id string) string {
	slug := strings.ReplaceAll(strings.ToLower(strings.TrimSpace(city)), " ", "-")
	return fmt.Sprintf("%s/auctions/%s/%s/%s", strings.TrimRight(n.SiteURL, "/"), strings.ToLower(state), slug, id)
}

func (n Normalizer) images(img map[string]any) []string {
	var urls []string
	for _, key := range []string{"image_path", "image_path_large", "image_path_giant"} {
		p := str(img[key])
		if p == "" {
			continue
		}
		if !strings.HasPrefix(p, "http://") && !strings.HasPrefix(p, "https://") {
			p = strings.TrimRight(n.MediaURL, "/") + "/" + strings.TrimLeft(p, "/")
		}
		urls = append(urls, p)
	}
	return urls
}

func parseBid(v any) (decimal.Decimal, error) {
	if m, ok := asMap(v); ok {
		v = m["amount"]
		if v == nil {
			v = m["formatted"]
		}
	}

	var (
		d   decimal.Decimal
		err error
	)
	switch x := v.(type) {
	case nil:
		return decimal.Zero, nil
	case json.Number:
		d, err = decimal.NewFromString(x.String())
	case float64:
		d = decimal.NewFromFloat(x)
	case string:
		cleaned := strings.NewReplacer("$", "", ",", "", " ", "").Replace(strings.TrimSpace(x))
		if cleaned == "" {
			return decimal.Zero, nil
		}
		d, err = decimal.NewFromString(cleaned)
	default:
		return decimal.Zero, fmt.Errorf("bid amount has type %T", v)
	}
	if err != nil {
		return decimal.Zero, fmt.Errorf("bid amount %v: %w", v, err)
	}
	if d.IsNegative() {
		return decimal.Zero, nil
	}
	// Stored with cent precision; a finer value would never compare equal
	// to what the store reads back.
	d = d.Round(2)
	if d.GreaterThanOrEqual(maxBid) {
		return decimal.Zero, fmt.Errorf("bid amount %s out of range", d)
	}
	return d, nil
}

func parseSqft(v any) *float64 {
	s := str(v)
	if s == "" {
		return nil
	}
	f, err := strconv.ParseFloat(s, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return nil
	}
	return &f
}

func parseCount(v any) int {
	s := str(v)
	if n, err := strconv.Atoi(s); err == nil && n >= 0 {
		return n
	}
	if f, err := strconv.ParseFloat(s, 64); err == nil && f >= 0 {
		return int(f)
	}
	return 0
}

func parseExpiry(v any) time.Time {
	s := str(v)
	if s == "" {
		return time.Time{}
	}
	if t, err := time.ParseInLocation(expireLayout, s, time.UTC); err == nil {
		return t
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t.UTC()
	}
	return time.Time{}
}

// str renders scalar JSON values as trimmed strings.
func str(v any) string {
	switch x := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(x)
	case json.Number:
		return x.String()
	case float64:
		return strconv.FormatFloat(x, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(x)
	default:
		return ""
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case models.RawListing:
		return m, true
	}
	return nil, false
}

// nested returns m[key] as a map, or an empty map.
func nested(m map[string]any, key string) map[string]any {
	if sub, ok := asMap(m[key]); ok {
		return sub
	}
	return map[string]any{}
}

func firstPresent(m map[string]any, keys ...string) any {
	for _, k := range keys {
		if v, ok := m[k]; ok && v != nil {
			return v
		}
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func joinNonEmpty(sep string, values ...string) string {
	parts := values[:0:0]
	for _, v := range values {
		if v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, sep)
}
