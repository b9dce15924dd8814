package services

import (
	"io"
	"sort"
	"strings"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/shopspring/decimal"

	"auction-scraper/models"
)

type Report struct {
	Summary       models.RunSummary
	Listings      int
	AverageBid    decimal.Decimal
	MaxBid        decimal.Decimal
	HighestBid    models.Listing
	EndingSoonest []models.Listing
	ByCity        map[string]int
	ByType        map[models.AuctionType]int
}

// GenerateReport computes the per-run breakdown shown after an acquisition.
func GenerateReport(summary models.RunSummary, entries []models.UpsertedListing) Report {
	report := Report{
		Summary:  summary,
		Listings: len(entries),
		ByCity:   make(map[string]int),
		ByType:   make(map[models.AuctionType]int),
	}
	if len(entries) == 0 {
		return report
	}

	var (
		sum    decimal.Decimal
		timed  []models.Listing
		maxSet bool
	)
	for _, e := range entries {
		l := e.Listing
		report.ByCity[cityLabel(l)]++
		report.ByType[l.AuctionType]++

		sum = sum.Add(l.CurrentBid)
		if !maxSet || l.CurrentBid.GreaterThan(report.MaxBid) {
			report.MaxBid = l.CurrentBid
			report.HighestBid = l
			maxSet = true
		}
		if !l.AuctionEndTime.IsZero() {
			timed = append(timed, l)
		}
	}
	report.AverageBid = sum.Div(decimal.NewFromInt(int64(len(entries)))).Round(2)

	sort.SliceStable(timed, func(i, j int) bool {
		return timed[i].AuctionEndTime.Before(timed[j].AuctionEndTime)
	})
	if len(timed) > 5 {
		timed = timed[:5]
	}
	report.EndingSoonest = timed

	return report
}

func PrintReport(w io.Writer, report Report) {
	s := report.Summary

	t := table.NewWriter()
	t.SetOutputMirror(w)
	t.SetTitle("Acquisition run " + s.Scope.String())
	t.AppendRows([]table.Row{
		{"Outcome", string(s.Outcome)},
		{"Pages visited", s.PagesVisited},
		{"Server total", s.TotalReported},
		{"Raw records", s.RawCount},
		{"Live listings", s.TotalFetched},
		{"New", s.NewCount},
		{"Updated", s.UpdatedCount},
		{"Skipped", s.SkippedCount},
		{"Malformed", s.MalformedCount},
		{"Expired", s.ExpiredCount},
		{"Other auction types", s.FilteredCount},
		{"Re-bootstraps", s.Rebootstraps},
		{"Duration", s.Duration().Round(time.Millisecond).String()},
	})
	if s.Err != nil {
		t.AppendRow(table.Row{"Error", s.Err.Error()})
	}
	t.SetStyle(table.StyleRounded)
	t.Render()

	if report.Listings == 0 {
		return
	}

	bids := table.NewWriter()
	bids.SetOutputMirror(w)
	bids.AppendHeader(table.Row{"Bids", "Amount"})
	bids.AppendRow(table.Row{"Average", "$" + report.AverageBid.StringFixed(2)})
	bids.AppendRow(table.Row{"Highest", "$" + report.MaxBid.StringFixed(2) + " " + report.HighestBid.ExternalID})
	bids.SetStyle(table.StyleRounded)
	bids.Render()

	types := table.NewWriter()
	types.SetOutputMirror(w)
	types.AppendHeader(table.Row{"Auction type", "Count"})
	for _, k := range sortedTypes(report.ByType) {
		types.AppendRow(table.Row{string(k), report.ByType[k]})
	}
	types.SetStyle(table.StyleRounded)
	types.Render()

	cities := table.NewWriter()
	cities.SetOutputMirror(w)
	cities.AppendHeader(table.Row{"City", "Count"})
	for _, k := range sortedKeys(report.ByCity) {
		cities.AppendRow(table.Row{k, report.ByCity[k]})
	}
	cities.SetStyle(table.StyleRounded)
	cities.Render()

	if len(report.EndingSoonest) > 0 {
		soon := table.NewWriter()
		soon.SetOutputMirror(w)
		soon.AppendHeader(table.Row{"#", "Ending soonest", "Ends (UTC)", "Bid"})
		for i, l := range report.EndingSoonest {
			soon.AppendRow(table.Row{
				i + 1,
				truncateText(l.FacilityName+" "+l.UnitNumber, 40),
				l.AuctionEndTime.UTC().Format("2006-01-02 15:04"),
				"$" + l.CurrentBid.StringFixed(2),
			})
		}
		soon.SetStyle(table.StyleRounded)
		soon.Render()
	}
}

func cityLabel(l models.Listing) string {
	city := strings.TrimSpace(l.City)
	if city == "" {
		return "Unknown"
	}
	if l.State != "" {
		return city + ", " + l.State
	}
	return city
}

func sortedKeys(m map[string]int) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

func sortedTypes(m map[models.AuctionType]int) []models.AuctionType {
	keys := make([]models.AuctionType, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Slice(keys, func(i, j int) bool { return keys[i] < keys[j] })
	return keys
}

func truncateText(s string, max int) string {
	s = strings.TrimSpace(s)
	if len(s) <= max {
		return s
	}
	if max <= 3 {
		return s[:max]
	}
	return s[:max-3] + "..."
}
