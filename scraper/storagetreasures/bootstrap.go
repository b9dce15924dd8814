package storagetreasures

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/PuerkitoBio/goquery"
	"github.com/chromedp/cdproto/network"
	"github.com/chromedp/chromedp"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"

	"auction-scraper/models"
	"auction-scraper/utils"
)

type BootstrapConfig struct {
	SiteURL string
	// APIURL is the prefix that identifies the site's auctions API calls.
	APIURL    string
	Timeout   time.Duration
	Headless  bool
	UserAgent string
}

// Session is what one browser visit yields: the replayable recipe and the
// first page of results the site itself requested.
type Session struct {
	Recipe    *Recipe
	FirstPage *models.RawPage
}

// BrowserBootstrapper opens a disposable Chrome per call. Nothing survives
// between calls except what is returned in the Session.
type BrowserBootstrapper struct {
	cfg    BootstrapConfig
	logger *slog.Logger
}

func NewBrowserBootstrapper(cfg BootstrapConfig, logger *slog.Logger) *BrowserBootstrapper {
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	if logger == nil {
		logger = utils.DiscardLogger()
	}
	return &BrowserBootstrapper{cfg: cfg, logger: logger.With("component", "bootstrap")}
}

func (b *BrowserBootstrapper) Bootstrap(ctx context.Context, scope models.Scope) (*Session, error) {
	ctx, span := tracer.Start(ctx, "Bootstrap", trace.WithAttributes(attribute.String("scope", scope.String())))
	defer span.End()

	s, err := b.bootstrap(ctx, scope)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return nil, err
	}
	span.SetAttributes(attribute.Int("records", len(s.FirstPage.Records)))
	return s, nil
}

func (b *BrowserBootstrapper) bootstrap(ctx context.Context, scope models.Scope) (*Session, error) {
	target := scopeURL(b.cfg.SiteURL, scope)
	b.logger.Info("launching browser", "url", target, "headless", b.cfg.Headless)

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, utils.StealthOpts(b.cfg.Headless, b.cfg.UserAgent)...)
	defer allocCancel()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()
	runCtx, cancel := context.WithTimeout(tabCtx, b.cfg.Timeout)
	defer cancel()

	capt := newCapture(b.cfg.APIURL)
	chromedp.ListenTarget(tabCtx, capt.onEvent)

	if err := chromedp.Run(runCtx, network.Enable(), utils.HideWebDriver()); err != nil {
		return nil, b.interrupted(ctx, runCtx, fmt.Errorf("bootstrap: start browser: %w", err))
	}

	navDone := make(chan error, 1)
	go func() {
		navDone <- chromedp.Run(runCtx, chromedp.Navigate(target))
	}()

	// An empty but valid first page is only used if nothing better shows up.
	var fallback *Session
	for {
		select {
		case <-runCtx.Done():
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			if fallback != nil {
				return fallback, nil
			}
			return nil, fmt.Errorf("%w within %v", ErrBootstrapTimeout, b.cfg.Timeout)

		case status := <-capt.blocked:
			return nil, fmt.Errorf("%w: status %d", ErrBootstrapBlocked, status)

		case err := <-navDone:
			navDone = nil
			if err != nil {
				if runCtx.Err() != nil {
					continue
				}
				return nil, fmt.Errorf("bootstrap: navigate %s: %w", target, err)
			}
			var html string
			if err := chromedp.Run(runCtx, chromedp.OuterHTML("html", &html, chromedp.ByQuery)); err == nil && looksBlocked(html) {
				return nil, fmt.Errorf("%w: challenge page served", ErrBootstrapBlocked)
			}
			b.logger.Debug("page loaded, waiting for auctions API call")

		case ex := <-capt.finished:
			s, err := b.session(runCtx, ex)
			if err != nil {
				b.logger.Debug("ignoring API exchange", "url", ex.url, "err", err)
				continue
			}
			if len(s.FirstPage.Records) == 0 {
				if fallback == nil {
					fallback = s
				}
				continue
			}
			b.logger.Info("captured auctions API call",
				"endpoint", s.Recipe.Endpoint(),
				"records", len(s.FirstPage.Records),
				"total_records", s.FirstPage.TotalRecords)
			return s, nil
		}
	}
}

func (b *BrowserBootstrapper) session(ctx context.Context, ex exchange) (*Session, error) {
	var (
		body    []byte
		cookies []*network.Cookie
	)
	err := chromedp.Run(ctx, chromedp.ActionFunc(func(ctx context.Context) error {
		var err error
		body, err = network.GetResponseBody(ex.id).Do(ctx)
		if err != nil {
			return fmt.Errorf("read body: %w", err)
		}
		cookies, err = network.GetCookies().WithUrls([]string{ex.url}).Do(ctx)
		if err != nil {
			return fmt.Errorf("read cookies: %w", err)
		}
		return nil
	}))
	if err != nil {
		return nil, err
	}

	first, err := DecodePage(body, 1)
	if err != nil {
		return nil, err
	}

	jar := make(map[string]string, len(cookies))
	for _, c := range cookies {
		jar[c.Name] = c.Value
	}
	recipe, err := NewRecipe(ex.url, ex.headers, jar, time.Now().UTC())
	if err != nil {
		return nil, err
	}
	return &Session{Recipe: recipe, FirstPage: first}, nil
}

func (b *BrowserBootstrapper) interrupted(ctx, runCtx context.Context, err error) error {
	if ctx.Err() != nil {
		return ctx.Err()
	}
	if errors.Is(runCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w within %v", ErrBootstrapTimeout, b.cfg.Timeout)
	}
	return err
}

// scopeURL is the public results page the site renders for a scope.
func scopeURL(siteURL string, scope models.Scope) string {
	base := strings.TrimRight(siteURL, "/") + "/auctions"
	q := url.Values{}
	switch scope.Kind {
	case models.ScopeZipcode:
		q.Set("type", "zipcode")
		q.Set("radius", strconv.Itoa(scope.RadiusMiles))
		q.Set("search_term", scope.Value)
	default:
		q.Set("state", scope.Value)
	}
	return base + "?" + q.Encode()
}

func isAPIRequest(rawURL, apiPrefix string) bool {
	return apiPrefix != "" &&
		strings.HasPrefix(rawURL, apiPrefix) &&
		!strings.Contains(rawURL, "upcoming")
}

var blockingStatuses = map[int64]bool{401: true, 403: true, 429: true, 503: true}

var challengeSelectors = []string{
	"#challenge-form",
	"#challenge-running",
	"#cf-challenge-running",
	".cf-browser-verification",
	"#px-captcha",
	"iframe[src*='captcha']",
}

var challengeTitles = []string{"just a moment", "attention required", "access denied", "are you a robot"}

// looksBlocked reports whether html is a bot challenge instead of the site.
func looksBlocked(html string) bool {
	doc, err := goquery.NewDocumentFromReader(strings.NewReader(html))
	if err != nil {
		return false
	}
	title := strings.ToLower(strings.TrimSpace(doc.Find("title").First().Text()))
	for _, t := range challengeTitles {
		if strings.Contains(title, t) {
			return true
		}
	}
	for _, sel := range challengeSelectors {
		if doc.Find(sel).Length() > 0 {
			return true
		}
	}
	return false
}

type exchange struct {
	id      network.RequestID
	url     string
	headers map[string]string
	status  int64
}

// capture follows API exchanges through the network events of one tab.
// onEvent runs on the CDP event goroutine and must not issue CDP commands.
type capture struct {
	apiPrefix string

	mu        sync.Mutex
	exchanges map[network.RequestID]*exchange

	finished chan exchange
	blocked  chan int64
}

func newCapture(apiPrefix string) *capture {
	return &capture{
		apiPrefix: apiPrefix,
		exchanges: make(map[network.RequestID]*exchange),
		finished:  make(chan exchange, 16),
		blocked:   make(chan int64, 1),
	}
}

func (c *capture) onEvent(ev any) {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch ev := ev.(type) {
	case *network.EventRequestWillBeSent:
		if ev.Request == nil || !isAPIRequest(ev.Request.URL, c.apiPrefix) {
			return
		}
		ex := &exchange{id: ev.RequestID, url: ev.Request.URL, headers: map[string]string{}}
		mergeHeaders(ex.headers, ev.Request.Headers)
		c.exchanges[ev.RequestID] = ex

	case *network.EventRequestWillBeSentExtraInfo:
		// Carries the headers Chrome adds on the wire, such as sec-ch-ua.
		if ex, ok := c.exchanges[ev.RequestID]; ok {
			mergeHeaders(ex.headers, ev.Headers)
		}

	case *network.EventResponseReceived:
		if ev.Response == nil {
			return
		}
		status := ev.Response.Status
		if ex, ok := c.exchanges[ev.RequestID]; ok {
			ex.status = status
			if blockingStatuses[status] {
				c.signalBlocked(status)
			}
			return
		}
		if ev.Type == network.ResourceTypeDocument && blockingStatuses[status] {
			c.signalBlocked(status)
		}

	case *network.EventLoadingFinished:
		ex, ok := c.exchanges[ev.RequestID]
		if !ok {
			return
		}
		delete(c.exchanges, ev.RequestID)
		if ex.status != 200 {
			return
		}
		select {
		case c.finished <- *ex:
		default:
		}
	}
}

func (c *capture) signalBlocked(status int64) {
	select {
	case c.blocked <- status:
	default:
	}
}

func mergeHeaders(dst map[string]string, src network.Headers) {
	for k, v := range src {
		dst[strings.ToLower(k)] = fmt.Sprint(v)
	}
}
