package storagetreasures

import (
	"context"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"auction-scraper/models"
	"auction-scraper/utils"
)

var tracer = otel.Tracer("scraper/storagetreasures")

type FetcherConfig struct {
	PageSize         int
	FilterTypes      string
	RequestTimeout   time.Duration
	MinDelay         time.Duration
	MaxDelay         time.Duration
	CloudflareBypass bool
	// UserAgent is sent only when the recipe carries none.
	UserAgent string
}

// Fetcher replays a captured recipe for pages 2..N with a plain HTTP client.
type Fetcher struct {
	client *resty.Client
	cfg    FetcherConfig
	logger *slog.Logger
}

func NewFetcher(cfg FetcherConfig, logger *slog.Logger) *Fetcher {
	if cfg.PageSize <= 0 {
		cfg.PageSize = 15
	}
	if cfg.FilterTypes == "" {
		cfg.FilterTypes = "1,2,3,4"
	}
	if cfg.RequestTimeout <= 0 {
		cfg.RequestTimeout = 20 * time.Second
	}
	if logger == nil {
		logger = utils.DiscardLogger()
	}

	client := resty.New()
	client.SetTimeout(cfg.RequestTimeout)
	if cfg.CloudflareBypass {
		client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	}

	return &Fetcher{
		client: client,
		cfg:    cfg,
		logger: logger.With("component", "fetcher"),
	}
}

// FetchPage requests one page of the scope's results. The error, if any,
// wraps ErrRecipeExpired, ErrFetchRetryable or ErrUnexpectedResponse.
func (f *Fetcher) FetchPage(ctx context.Context, recipe *Recipe, scope models.Scope, page int) (*models.RawPage, error) {
	ctx, span := tracer.Start(ctx, "FetchPage", trace.WithAttributes(
		attribute.Int("page", page),
		attribute.String("scope", scope.String()),
	))
	defer span.End()

	raw, err := f.fetch(ctx, recipe, scope, page)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("records", len(raw.Records)), attribute.Int("total_records", raw.TotalRecords))
	return raw, nil
}

func (f *Fetcher) fetch(ctx context.Context, recipe *Recipe, scope models.Scope, page int) (*models.RawPage, error) {
	if err := utils.RandomDelay(ctx, f.cfg.MinDelay, f.cfg.MaxDelay); err != nil {
		return nil, err
	}

	reqCtx, cancel := context.WithTimeout(ctx, f.cfg.RequestTimeout)
	defer cancel()

	headers := recipe.Headers()
	if headers.Get("User-Agent") == "" && f.cfg.UserAgent != "" {
		headers.Set("User-Agent", f.cfg.UserAgent)
	}

	start := time.Now()
	resp, err := f.client.R().
		SetContext(reqCtx).
		SetHeaderMultiValues(headers).
		SetCookies(recipe.Cookies()).
		SetQueryParamsFromValues(f.pageQuery(recipe, scope, page)).
		Get(recipe.Endpoint())
	if err != nil {
		return nil, fmt.Errorf("%w: page %d: %v", ErrFetchRetryable, page, err)
	}

	f.logger.Debug("page response",
		"page", page, "status", resp.StatusCode(), "bytes", len(resp.Body()), "took", time.Since(start))

	if err := classifyStatus(resp.StatusCode()); err != nil {
		return nil, fmt.Errorf("page %d: %w", page, err)
	}
	return DecodePage(resp.Body(), page)
}

// pageQuery keeps whatever the browser sent and pins the pagination, scope
// and auction type parameters. The sort order must stay stable across pages.
func (f *Fetcher) pageQuery(recipe *Recipe, scope models.Scope, page int) url.Values {
	q := recipe.Query()
	q.Set("page_num", strconv.Itoa(page))
	q.Set("page_count", strconv.Itoa(f.cfg.PageSize))
	q.Set("randStr", utils.CacheBuster())
	q.Set("search_type", string(scope.Kind))
	q.Set("search_term", scope.Value)
	if scope.Kind == models.ScopeState {
		q.Set("search_state", scope.Value)
	}
	q.Set("filter_types", f.cfg.FilterTypes)

	defaults := map[string]string{
		"filter_categories":    "",
		"filter_unit_contents": "",
		"sort_column":          "expire_date",
		"sort_direction":       "asc",
		"filter_public_notice": "",
	}
	for k, v := range defaults {
		if _, ok := q[k]; !ok {
			q.Set(k, v)
		}
	}
	return q
}

func classifyStatus(status int) error {
	switch {
	case status >= 200 && status < 300:
		return nil
	case status == http.StatusUnauthorized || status == http.StatusForbidden:
		return fmt.Errorf("%w: status %d", ErrRecipeExpired, status)
	case status == http.StatusRequestTimeout,
		status == http.StatusTooEarly,
		status == http.StatusTooManyRequests,
		status >= 500:
		return fmt.Errorf("%w: status %d", ErrFetchRetryable, status)
	default:
		return fmt.Errorf("%w: status %d", ErrUnexpectedResponse, status)
	}
}
