package storagetreasures

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"auction-scraper/models"
	"auction-scraper/utils"
)

type Bootstrapper interface {
	Bootstrap(ctx context.Context, scope models.Scope) (*Session, error)
}

type PageFetcher interface {
	FetchPage(ctx context.Context, recipe *Recipe, scope models.Scope, page int) (*models.RawPage, error)
}

type Upserter interface {
	Upsert(ctx context.Context, l models.Listing) (models.UpsertResult, error)
}

type OrchestratorConfig struct {
	PageSize int
	// MaxPages caps the pages visited; 0 means all of them.
	MaxPages        int
	MaxRetries      int
	RetryBaseDelay  time.Duration
	RequestTimeout  time.Duration
	PageConcurrency int
	// FilterTypes is the filter_types value sent to the API, e.g. "1,4".
	// Listings of other types are dropped.
	FilterTypes string
}

type runState int

const (
	stateStart runState = iota
	stateBootstrapped
	stateFetchNext
	stateDone
	stateFailed
)

func (s runState) String() string {
	switch s {
	case stateStart:
		return "start"
	case stateBootstrapped:
		return "bootstrapped"
	case stateFetchNext:
		return "fetch_next"
	case stateDone:
		return "done"
	default:
		return "failed"
	}
}

// Orchestrator runs one scope through bootstrap, pagination, normalization,
// the expiry filter and upsert. It keeps no state between runs.
type Orchestrator struct {
	bootstrapper Bootstrapper
	fetcher      PageFetcher
	upserter     Upserter
	normalizer   Normalizer
	types        TypeSelection
	cfg          OrchestratorConfig
	logger       *slog.Logger
	now          func() time.Time

	// OnListing, when set, sees every live listing after its upsert.
	OnListing func(models.Listing, models.UpsertResult)
}

func NewOrchestrator(
	bootstrapper Bootstrapper,
	fetcher PageFetcher,
	upserter Upserter,
	normalizer Normalizer,
	cfg OrchestratorConfig,
	logger *slog.Logger,
) *Orchestrator {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 15
	}
	if cfg.MaxRetries < 1 {
		cfg.MaxRetries = 1
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 20 * time.Second
	}
	if cfg.PageConcurrency < 1 {
		cfg.PageConcurrency = 1
	}
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &Orchestrator{
		bootstrapper: bootstrapper,
		fetcher:      fetcher,
		upserter:     upserter,
		normalizer:   normalizer,
		types:        ParseTypeSelection(cfg.FilterTypes),
		cfg:          cfg,
		logger:       logger.With("component", "orchestrator"),
		now:          time.Now,
	}
}

// run is the per-call state of Run.
type run struct {
	scope   models.Scope
	state   runState
	session *Session
	// page is the last page fully processed.
	page     int
	attempts int
	window   []pageFetch
	summary  models.RunSummary
}

// Run always returns a summary. Cancelling ctx stops the run at the next
// state boundary; a page already being fetched or processed is finished
// first, so every counted record has been durably upserted.
func (o *Orchestrator) Run(ctx context.Context, scope models.Scope) models.RunSummary {
	ctx, span := tracer.Start(ctx, "Run", trace.WithAttributes(attribute.String("scope", scope.String())))
	defer span.End()

	r := &run{
		scope:   scope,
		state:   stateStart,
		summary: models.RunSummary{Scope: scope, StartedAt: o.now()},
	}
	logger := o.logger.With("scope", scope.String())
	logger.Info("run started")

	for r.state != stateDone && r.state != stateFailed {
		if err := ctx.Err(); err != nil {
			r.summary.Outcome = models.OutcomeCancelled
			r.summary.Err = err
			break
		}
		switch r.state {
		case stateStart:
			o.bootstrap(ctx, r, logger)
		case stateBootstrapped:
			o.firstPage(ctx, r, logger)
		case stateFetchNext:
			o.fetchNext(ctx, r, logger)
		}
	}

	switch {
	case r.summary.Outcome == models.OutcomeCancelled:
	case r.state == stateFailed:
		r.summary.Outcome = models.OutcomeFailed
	default:
		r.summary.Outcome = models.OutcomeDone
	}
	r.summary.FinishedAt = o.now()

	span.SetAttributes(
		attribute.String("outcome", string(r.summary.Outcome)),
		attribute.Int("pages", r.summary.PagesVisited),
		attribute.Int("new", r.summary.NewCount),
	)
	if r.summary.Err != nil {
		span.RecordError(r.summary.Err)
	}

	logger.Info("run finished",
		"outcome", r.summary.Outcome,
		"pages", r.summary.PagesVisited,
		"new", r.summary.NewCount,
		"updated", r.summary.UpdatedCount,
		"skipped", r.summary.SkippedCount,
		"expired", r.summary.ExpiredCount,
		"err", r.summary.Err,
	)
	return r.summary
}

func (o *Orchestrator) bootstrap(ctx context.Context, r *run, logger *slog.Logger) {
	s, err := o.bootstrapper.Bootstrap(ctx, r.scope)
	if err != nil {
		if ctx.Err() != nil {
			r.summary.Outcome = models.OutcomeCancelled
			r.summary.Err = ctx.Err()
			r.state = stateFailed
			return
		}
		o.fail(r, fmt.Errorf("bootstrap: %w", err), logger)
		return
	}
	if s == nil || s.Recipe == nil || s.FirstPage == nil {
		o.fail(r, fmt.Errorf("bootstrap: %w: incomplete session", ErrUnexpectedResponse), logger)
		return
	}
	r.session = s
	if s.FirstPage.TotalRecords > 0 {
		r.summary.TotalReported = s.FirstPage.TotalRecords
	}

	// After a re-bootstrap the captured first page is stale; resume where the
	// expired recipe stopped.
	if r.summary.Rebootstraps > 0 {
		r.state = stateFetchNext
		return
	}
	r.state = stateBootstrapped
}

func (o *Orchestrator) firstPage(ctx context.Context, r *run, logger *slog.Logger) {
	first := *r.session.FirstPage
	first.Page = 1
	if err := o.processPage(ctx, r, &first, logger); err != nil {
		o.fail(r, err, logger)
		return
	}
	o.advance(r, &first)
}

func (o *Orchestrator) fetchNext(ctx context.Context, r *run, logger *slog.Logger) {
	next := r.page + 1
	raw, err := o.nextPage(ctx, r, next)

	switch {
	case err == nil:
		r.attempts = 0
		if err := o.processPage(ctx, r, raw, logger); err != nil {
			o.fail(r, err, logger)
			return
		}
		o.advance(r, raw)

	case errors.Is(err, ErrRecipeExpired):
		r.window = nil
		if r.summary.Rebootstraps >= 1 {
			o.fail(r, fmt.Errorf("page %d: recipe expired again after re-bootstrap: %w", next, err), logger)
			return
		}
		r.summary.Rebootstraps++
		r.attempts = 0
		logger.Warn("recipe expired, re-bootstrapping", "page", next, "err", err)
		r.state = stateStart

	case errors.Is(err, ErrFetchRetryable):
		r.window = nil
		r.attempts++
		if r.attempts >= o.cfg.MaxRetries {
			o.fail(r, fmt.Errorf("page %d: all %d attempts failed: %w", next, r.attempts, err), logger)
			return
		}
		wait := utils.Backoff(o.cfg.RetryBaseDelay, r.attempts)
		logger.Warn("page fetch failed, retrying",
			"page", next, "attempt", r.attempts, "max", o.cfg.MaxRetries, "wait", wait, "err", err)
		// An interrupted wait surfaces as cancellation at the next boundary.
		_ = utils.Sleep(ctx, wait)

	default:
		r.window = nil
		o.fail(r, fmt.Errorf("page %d: %w", next, err), logger)
	}
}

// nextPage returns page, from the prefetched window when there is one.
// Fetches are detached from ctx so cancellation never cuts a request short;
// the fetcher's own timeout bounds them.
func (o *Orchestrator) nextPage(ctx context.Context, r *run, page int) (*models.RawPage, error) {
	detached := context.WithoutCancel(ctx)

	if o.cfg.PageConcurrency > 1 && len(r.window) == 0 {
		if pages := o.windowPages(r, page); len(pages) > 1 {
			pool := NewWorkerPool(o.fetcher, o.cfg.PageConcurrency)
			r.window = pool.FetchWindow(detached, r.session.Recipe, r.scope, pages)
		}
	}

	if len(r.window) > 0 {
		head := r.window[0]
		r.window = r.window[1:]
		if head.Page != page {
			r.window = nil
			return nil, fmt.Errorf("%w: prefetched page %d, wanted %d", ErrUnexpectedResponse, head.Page, page)
		}
		if head.Err != nil {
			r.window = nil
		}
		return head.Raw, head.Err
	}

	return o.fetcher.FetchPage(detached, r.session.Recipe, r.scope, page)
}

// windowPages lists up to PageConcurrency pages from first that are known to
// exist.
func (o *Orchestrator) windowPages(r *run, first int) []int {
	last := first + o.cfg.PageConcurrency - 1
	if total := r.summary.TotalReported; total > 0 {
		if lastKnown := (total + o.cfg.PageSize - 1) / o.cfg.PageSize; last > lastKnown {
			last = lastKnown
		}
	}
	if o.cfg.MaxPages > 0 && last > o.cfg.MaxPages {
		last = o.cfg.MaxPages
	}
	var pages []int
	for p := first; p <= last; p++ {
		pages = append(pages, p)
	}
	return pages
}

// processPage normalizes, filters and upserts one page. It runs to the end of
// the page even if ctx is cancelled meanwhile.
func (o *Orchestrator) processPage(ctx context.Context, r *run, raw *models.RawPage, logger *slog.Logger) error {
	detached := context.WithoutCancel(ctx)

	res := o.normalizer.NormalizePage(raw, func(err error) {
		logger.Warn("skipping malformed listing", "page", raw.Page, "err", err)
	})
	r.summary.RawCount += len(raw.Records)
	r.summary.MalformedCount += res.Malformed
	r.summary.SkippedCount += res.Malformed
	if raw.TotalRecords > 0 {
		r.summary.TotalReported = raw.TotalRecords
	}

	now := o.now()
	var inserted, updated, expired, filtered int
	for _, l := range res.Listings {
		if !o.types.Allows(l.AuctionType) {
			filtered++
			continue
		}
		if !IsLive(l, now) {
			expired++
			continue
		}
		r.summary.TotalFetched++

		uctx, cancel := context.WithTimeout(detached, o.cfg.RequestTimeout)
		result, err := o.upserter.Upsert(uctx, l)
		cancel()
		if err != nil {
			return fmt.Errorf("page %d: upsert %s: %w", raw.Page, l.ExternalID, err)
		}

		switch result {
		case models.Inserted:
			inserted++
			r.summary.NewCount++
		case models.Updated:
			updated++
			r.summary.UpdatedCount++
		default:
			r.summary.UnchangedCount++
			r.summary.SkippedCount++
		}
		if o.OnListing != nil {
			o.OnListing(l, result)
		}
	}
	r.summary.ExpiredCount += expired
	r.summary.FilteredCount += filtered
	r.summary.PagesVisited++

	logger.Info("page processed",
		"page", raw.Page,
		"records", len(raw.Records),
		"total_records", raw.TotalRecords,
		"new", inserted,
		"updated", updated,
		"expired", expired,
		"filtered", filtered,
		"malformed", res.Malformed,
	)
	return nil
}

// advance records raw as the last processed page and picks the next state.
func (o *Orchestrator) advance(r *run, raw *models.RawPage) {
	r.page = raw.Page
	if o.exhausted(raw, r.summary.TotalReported) {
		r.window = nil
		r.state = stateDone
		return
	}
	r.state = stateFetchNext
}

// exhausted reports whether no page follows raw. total is the latest
// positive count the server reported; 0 leaves the short-page rule alone.
func (o *Orchestrator) exhausted(raw *models.RawPage, total int) bool {
	if o.cfg.MaxPages > 0 && raw.Page >= o.cfg.MaxPages {
		return true
	}
	if len(raw.Records) < o.cfg.PageSize {
		return true
	}
	return total > 0 && raw.Page*o.cfg.PageSize >= total
}

func (o *Orchestrator) fail(r *run, err error, logger *slog.Logger) {
	logger.Error("run failed", "state", r.state.String(), "pages_completed", r.summary.PagesVisited, "err", err)
	r.summary.Err = err
	r.state = stateFailed
}
