package storagetreasures

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"

	"auction-scraper/models"
)

type auctionsEnvelope struct {
	Auctions     []models.RawListing `json:"auctions"`
	TotalRecords json.RawMessage     `json:"total_records"`
}

// DecodePage decodes an auctions API body. Numbers inside records are kept
// as json.Number so ids and money keep their exact text.
func DecodePage(body []byte, page int) (*models.RawPage, error) {
	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()

	var env auctionsEnvelope
	if err := dec.Decode(&env); err != nil {
		return nil, fmt.Errorf("%w: decode page %d: %v", ErrUnexpectedResponse, page, err)
	}
	if env.Auctions == nil && len(env.TotalRecords) == 0 {
		return nil, fmt.Errorf("%w: page %d has no auctions field", ErrUnexpectedResponse, page)
	}

	total, err := decodeTotal(env.TotalRecords)
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrUnexpectedResponse, page, err)
	}

	records := env.Auctions
	if records == nil {
		records = []models.RawListing{}
	}
	return &models.RawPage{Records: records, TotalRecords: total, Page: page}, nil
}

// decodeTotal accepts total_records as a number or a numeric string. Absent
// or null is 0.
func decodeTotal(raw json.RawMessage) (int, error) {
	s := strings.TrimSpace(string(raw))
	if s == "" || s == "null" {
		return 0, nil
	}
	s = strings.Trim(s, `"`)
	if s == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		f, ferr := strconv.ParseFloat(s, 64)
		if ferr != nil {
			return 0, fmt.Errorf("total_records %s is not a number", raw)
		}
		n = int(f)
	}
	if n < 0 {
		n = 0
	}
	return n, nil
}
