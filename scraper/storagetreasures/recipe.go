package storagetreasures

import (
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"time"
)

// perPageParams change on every request and are never part of a recipe.
var perPageParams = []string{"page_num", "page_count", "randStr"}

// Recipe is the request template captured from the browser session: where
// the site's auctions API lives, the query it was called with, and the
// headers and cookies that authenticated it. It is immutable; accessors
// return copies.
type Recipe struct {
	endpoint   string
	query      url.Values
	headers    http.Header
	cookies    []*http.Cookie
	capturedAt time.Time
}

// NewRecipe builds a recipe from an observed request URL, its headers and the
// browser cookies for that URL.
func NewRecipe(rawURL string, headers map[string]string, cookies map[string]string, capturedAt time.Time) (*Recipe, error) {
	u, err := url.Parse(rawURL)
	if err != nil {
		return nil, fmt.Errorf("recipe: parse %q: %w", rawURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("recipe: %q is not an absolute URL", rawURL)
	}

	query := u.Query()
	for _, p := range perPageParams {
		query.Del(p)
	}

	h := make(http.Header, len(headers))
	for k, v := range headers {
		if skipHeader(k) {
			continue
		}
		h.Set(k, v)
	}

	c := make([]*http.Cookie, 0, len(cookies))
	for name, value := range cookies {
		c = append(c, &http.Cookie{Name: name, Value: value})
	}

	u.RawQuery = ""
	u.Fragment = ""
	return &Recipe{
		endpoint:   u.String(),
		query:      query,
		headers:    h,
		cookies:    c,
		capturedAt: capturedAt,
	}, nil
}

// skipHeader drops HTTP/2 pseudo headers, cookies (carried separately) and
// headers the HTTP client computes itself.
func skipHeader(name string) bool {
	if strings.HasPrefix(name, ":") {
		return true
	}
	switch strings.ToLower(name) {
	case "cookie", "content-length", "host", "connection", "accept-encoding":
		return true
	}
	return false
}

func (r *Recipe) Endpoint() string {
	return r.endpoint
}

func (r *Recipe) Query() url.Values {
	q := make(url.Values, len(r.query))
	for k, v := range r.query {
		q[k] = append([]string(nil), v...)
	}
	return q
}

func (r *Recipe) Headers() http.Header {
	return r.headers.Clone()
}

func (r *Recipe) Cookies() []*http.Cookie {
	out := make([]*http.Cookie, len(r.cookies))
	for i, c := range r.cookies {
		cp := *c
		out[i] = &cp
	}
	return out
}

func (r *Recipe) CapturedAt() time.Time {
	return r.capturedAt
}
