package storagetreasures

import (
	"context"
	"errors"
	"os"
	"testing"
	"time"

	"github.com/chromedp/cdproto/network"
	"github.com/stretchr/testify/require"

	"auction-scraper/models"
)

const testAPI = "https://api.st-prd-1.aws.storagetreasures.com/p/auctions"

func TestScopeURL(t *testing.T) {
	require.Equal(t,
		"https://www.storagetreasures.com/auctions?state=FL",
		scopeURL("https://www.storagetreasures.com/", models.StateScope("fl")))
	require.Equal(t,
		"https://www.storagetreasures.com/auctions?radius=25&search_term=33101&type=zipcode",
		scopeURL("https://www.storagetreasures.com", models.ZipScope("33101", 25)))
}

func TestIsAPIRequest(t *testing.T) {
	require.True(t, isAPIRequest(testAPI+"?page_num=1&search_state=FL", testAPI))
	require.False(t, isAPIRequest(testAPI+"/upcoming?state=FL", testAPI))
	require.False(t, isAPIRequest("https://www.storagetreasures.com/auctions?state=FL", testAPI))
	require.False(t, isAPIRequest(testAPI, ""))
}

func TestLooksBlocked(t *testing.T) {
	require.True(t, looksBlocked(`<html><head><title>Just a moment...</title></head><body></body></html>`))
	require.True(t, looksBlocked(`<html><body><form id="challenge-form"></form></body></html>`))
	require.True(t, looksBlocked(`<html><body><div id="px-captcha"></div></body></html>`))
	require.False(t, looksBlocked(`<html><head><title>Storage Auctions in Florida</title></head><body><div class="auction-card"></div></body></html>`))
}

func TestCaptureFollowsAPIExchange(t *testing.T) {
	c := newCapture(testAPI)
	apiURL := testAPI + "?page_num=1&search_state=FL"

	c.onEvent(&network.EventRequestWillBeSent{
		RequestID: "doc",
		Request:   &network.Request{URL: "https://www.storagetreasures.com/auctions?state=FL"},
	})
	c.onEvent(&network.EventRequestWillBeSent{
		RequestID: "api",
		Request: &network.Request{
			URL:     apiURL,
			Headers: network.Headers{"Accept": "application/json", "X-Api-Key": "abc"},
		},
	})
	c.onEvent(&network.EventRequestWillBeSentExtraInfo{
		RequestID: "api",
		Headers:   network.Headers{"sec-ch-ua": `"Chromium";v="122"`},
	})
	c.onEvent(&network.EventResponseReceived{
		RequestID: "api",
		Type:      network.ResourceTypeXHR,
		Response:  &network.Response{URL: apiURL, Status: 200},
	})
	c.onEvent(&network.EventLoadingFinished{RequestID: "doc"})
	c.onEvent(&network.EventLoadingFinished{RequestID: "api"})

	select {
	case ex := <-c.finished:
		require.Equal(t, network.RequestID("api"), ex.id)
		require.Equal(t, apiURL, ex.url)
		require.Equal(t, "abc", ex.headers["x-api-key"])
		require.Equal(t, `"Chromium";v="122"`, ex.headers["sec-ch-ua"])
	default:
		t.Fatal("expected a finished API exchange")
	}
	require.Len(t, c.finished, 0)
}

func TestCaptureIgnoresFailedAPIResponse(t *testing.T) {
	c := newCapture(testAPI)
	c.onEvent(&network.EventRequestWillBeSent{RequestID: "api", Request: &network.Request{URL: testAPI}})
	c.onEvent(&network.EventResponseReceived{RequestID: "api", Response: &network.Response{Status: 500}})
	c.onEvent(&network.EventLoadingFinished{RequestID: "api"})

	require.Len(t, c.finished, 0)
	require.Len(t, c.blocked, 0)
}

func TestCaptureSignalsBlockedDocument(t *testing.T) {
	c := newCapture(testAPI)
	c.onEvent(&network.EventResponseReceived{
		RequestID: "doc",
		Type:      network.ResourceTypeDocument,
		Response:  &network.Response{Status: 403},
	})
	c.onEvent(&network.EventResponseReceived{
		RequestID: "doc2",
		Type:      network.ResourceTypeDocument,
		Response:  &network.Response{Status: 503},
	})

	require.Equal(t, int64(403), <-c.blocked)
	require.Len(t, c.blocked, 0)
}

// Drives a real Chrome against the live site. Opt in with AUCTION_BROWSER_TEST=1.
func TestBrowserBootstrapLive(t *testing.T) {
	if os.Getenv("AUCTION_BROWSER_TEST") != "1" {
		t.Skip("set AUCTION_BROWSER_TEST=1 to run against the live site")
	}

	b := NewBrowserBootstrapper(BootstrapConfig{
		SiteURL:  "https://www.storagetreasures.com",
		APIURL:   testAPI,
		Timeout:  60 * time.Second,
		Headless: true,
	}, nil)

	s, err := b.Bootstrap(context.Background(), models.StateScope("FL"))
	if errors.Is(err, ErrBootstrapBlocked) {
		t.Skipf("site served a challenge: %v", err)
	}
	require.NoError(t, err)
	require.NotEmpty(t, s.Recipe.Endpoint())
	require.NotEmpty(t, s.FirstPage.Records)
	require.Equal(t, 1, s.FirstPage.Page)
}
