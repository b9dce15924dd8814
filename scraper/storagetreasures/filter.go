package storagetreasures

import (
	"strings"
	"time"

	"auction-scraper/models"
)

// IsLive reports whether the auction has not ended at now. A listing with an
// unknown end time is kept.
func IsLive(l models.Listing, now time.Time) bool {
	if l.AuctionEndTime.IsZero() {
		return true
	}
	return !l.AuctionEndTime.Before(now)
}

// TypeSelection is the set of auction types a filter_types value asks for.
// The browser's own search is unfiltered, so listings captured during
// bootstrap are checked against it too.
type TypeSelection map[models.AuctionType]bool

// ParseTypeSelection reads a comma separated list of type codes, e.g. "1,4".
func ParseTypeSelection(codes string) TypeSelection {
	sel := make(TypeSelection)
	for _, part := range strings.Split(codes, ",") {
		if t := DecodeAuctionType(strings.TrimSpace(part)); t != models.AuctionTypeUnknown {
			sel[t] = true
		}
	}
	return sel
}

// Allows reports whether t is selected. An empty selection, or one naming
// every known type, allows everything, including unknown types.
func (s TypeSelection) Allows(t models.AuctionType) bool {
	if len(s) == 0 || len(s) == len(auctionTypes) {
		return true
	}
	return s[t]
}
