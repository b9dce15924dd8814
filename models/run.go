package models

import (
	"fmt"
	"regexp"
	"strings"
	"time"
)

type ScopeKind string

const (
	ScopeState   ScopeKind = "state"
	ScopeZipcode ScopeKind = "zipcode"
)

// Scope bounds an acquisition run to one state or to a radius around a zip code.
type Scope struct {
	Kind        ScopeKind
	Value       string
	RadiusMiles int
}

var (
	stateRe = regexp.MustCompile(`^[A-Z]{2}$`)
	zipRe   = regexp.MustCompile(`^[0-9]{5}$`)
)

func StateScope(code string) Scope {
	return Scope{Kind: ScopeState, Value: strings.ToUpper(strings.TrimSpace(code))}
}

func ZipScope(zip string, radiusMiles int) Scope {
	return Scope{Kind: ScopeZipcode, Value: strings.TrimSpace(zip), RadiusMiles: radiusMiles}
}

func (s Scope) Validate() error {
	switch s.Kind {
	case ScopeState:
		if !stateRe.MatchString(s.Value) {
			return fmt.Errorf("invalid state code %q", s.Value)
		}
	case ScopeZipcode:
		if !zipRe.MatchString(s.Value) {
			return fmt.Errorf("invalid zip code %q", s.Value)
		}
		if s.RadiusMiles <= 0 {
			return fmt.Errorf("zip code scope needs a positive radius, got %d", s.RadiusMiles)
		}
	default:
		return fmt.Errorf("unknown scope kind %q", s.Kind)
	}
	return nil
}

func (s Scope) String() string {
	if s.Kind == ScopeZipcode {
		return fmt.Sprintf("zipcode:%s(+%dmi)", s.Value, s.RadiusMiles)
	}
	return fmt.Sprintf("%s:%s", s.Kind, s.Value)
}

type RunOutcome string

const (
	OutcomeDone      RunOutcome = "done"
	OutcomeFailed    RunOutcome = "failed"
	OutcomeCancelled RunOutcome = "cancelled"
)

// RunSummary is produced once per acquisition run, whether it finished or not.
// TotalFetched counts the live listings handed to the upsert step.
type RunSummary struct {
	Scope          Scope
	Outcome        RunOutcome
	NewCount       int
	UpdatedCount   int
	UnchangedCount int
	SkippedCount   int
	MalformedCount int
	ExpiredCount   int
	FilteredCount  int
	RawCount       int
	TotalFetched   int
	TotalReported  int
	PagesVisited   int
	Rebootstraps   int
	Err            error
	StartedAt      time.Time
	FinishedAt     time.Time
}

func (s RunSummary) Failed() bool {
	return s.Outcome == OutcomeFailed
}

func (s RunSummary) Duration() time.Duration {
	if s.FinishedAt.IsZero() {
		return 0
	}
	return s.FinishedAt.Sub(s.StartedAt)
}
