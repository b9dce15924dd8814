package storagetreasures

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"auction-scraper/models"
)

func newTestFetcher() *Fetcher {
	return NewFetcher(FetcherConfig{
		PageSize:       15,
		FilterTypes:    "1,2,3,4",
		RequestTimeout: 2 * time.Second,
		UserAgent:      "test-agent",
	}, nil)
}

func testRecipe(t *testing.T, endpoint string) *Recipe {
	t.Helper()
	r, err := NewRecipe(endpoint+"?page_num=1&randStr=old&filter_types=1,2&sort_column=expire_date",
		map[string]string{"X-Api-Key": "k1", ":method": "GET"},
		map[string]string{"st_session": "abc"},
		time.Now())
	require.NoError(t, err)
	return r
}

func TestFetchPageReplaysRecipe(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/p/auctions", r.URL.Path)

		q := r.URL.Query()
		assert.Equal(t, "2", q.Get("page_num"))
		assert.Equal(t, "15", q.Get("page_count"))
		assert.NotEmpty(t, q.Get("randStr"))
		assert.NotEqual(t, "old", q.Get("randStr"))
		assert.Equal(t, "state", q.Get("search_type"))
		assert.Equal(t, "FL", q.Get("search_term"))
		assert.Equal(t, "FL", q.Get("search_state"))
		assert.Equal(t, []string{"1,2,3,4"}, q["filter_types"])
		assert.Equal(t, "asc", q.Get("sort_direction"))

		assert.Equal(t, "k1", r.Header.Get("X-Api-Key"))
		assert.Equal(t, "test-agent", r.Header.Get("User-Agent"))
		c, err := r.Cookie("st_session")
		if assert.NoError(t, err) {
			assert.Equal(t, "abc", c.Value)
		}

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"auctions":[{"auction_id":16},{"auction_id":17}],"total_records":17}`))
	}))
	defer srv.Close()

	page, err := newTestFetcher().FetchPage(context.Background(), testRecipe(t, srv.URL+"/p/auctions"), models.StateScope("FL"), 2)
	require.NoError(t, err)
	require.Len(t, page.Records, 2)
	require.Equal(t, 17, page.TotalRecords)
	require.Equal(t, 2, page.Page)
}

func TestFetchPageZipScope(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		q := r.URL.Query()
		assert.Equal(t, "zipcode", q.Get("search_type"))
		assert.Equal(t, "33101", q.Get("search_term"))
		assert.Empty(t, q.Get("search_state"))
		_, _ = w.Write([]byte(`{"auctions":[],"total_records":0}`))
	}))
	defer srv.Close()

	page, err := newTestFetcher().FetchPage(context.Background(), testRecipe(t, srv.URL), models.ZipScope("33101", 50), 4)
	require.NoError(t, err)
	require.Empty(t, page.Records)
}

func TestFetchPageSendsConfiguredTypes(t *testing.T) {
	var got []string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		got = r.URL.Query()["filter_types"]
		_, _ = w.Write([]byte(`{"auctions":[],"total_records":0}`))
	}))
	defer srv.Close()

	recipe, err := NewRecipe(srv.URL+"/p/auctions?page_num=1&filter_types=1,2,3,4", nil, nil, time.Now())
	require.NoError(t, err)

	f := NewFetcher(FetcherConfig{PageSize: 15, FilterTypes: "1", RequestTimeout: 2 * time.Second}, nil)
	_, err = f.FetchPage(context.Background(), recipe, models.StateScope("FL"), 2)
	require.NoError(t, err)
	require.Equal(t, []string{"1"}, got)
}

func TestFetchPageClassifiesFailures(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   error
	}{
		{"unauthorized", http.StatusUnauthorized, "", ErrRecipeExpired},
		{"forbidden", http.StatusForbidden, "", ErrRecipeExpired},
		{"rate limited", http.StatusTooManyRequests, "", ErrFetchRetryable},
		{"timeout", http.StatusRequestTimeout, "", ErrFetchRetryable},
		{"bad gateway", http.StatusBadGateway, "", ErrFetchRetryable},
		{"unavailable", http.StatusServiceUnavailable, "", ErrFetchRetryable},
		{"not found", http.StatusNotFound, "", ErrUnexpectedResponse},
		{"html body", http.StatusOK, "<html>challenge</html>", ErrUnexpectedResponse},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			_, err := newTestFetcher().FetchPage(context.Background(), testRecipe(t, srv.URL), models.StateScope("FL"), 2)
			require.ErrorIs(t, err, tt.want)
		})
	}
}

func TestFetchPageTransportErrorIsRetryable(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	endpoint := srv.URL
	srv.Close()

	_, err := newTestFetcher().FetchPage(context.Background(), testRecipe(t, endpoint), models.StateScope("FL"), 2)
	require.ErrorIs(t, err, ErrFetchRetryable)
}

func TestFetchPageRequestTimeout(t *testing.T) {
	release := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		select {
		case <-release:
		case <-r.Context().Done():
		}
	}))
	defer srv.Close()
	defer close(release)

	f := NewFetcher(FetcherConfig{RequestTimeout: 100 * time.Millisecond}, nil)
	_, err := f.FetchPage(context.Background(), testRecipe(t, srv.URL), models.StateScope("FL"), 2)
	require.ErrorIs(t, err, ErrFetchRetryable)
}
