package storagetreasures

import "errors"

var (
	// ErrBootstrapTimeout: the site's auctions API call was not observed in time.
	ErrBootstrapTimeout = errors.New("bootstrap: no auctions API call observed")
	// ErrBootstrapBlocked: the browser was served a challenge or was refused.
	ErrBootstrapBlocked = errors.New("bootstrap: browser session blocked")
	// ErrRecipeExpired: captured credentials were rejected; re-bootstrap to recover.
	ErrRecipeExpired = errors.New("recipe expired")
	// ErrFetchRetryable: transient network or server failure.
	ErrFetchRetryable = errors.New("retryable fetch failure")
	// ErrMalformedListing: a single record could not be normalized.
	ErrMalformedListing = errors.New("malformed listing")
	// ErrUnexpectedResponse: the API answered with something we cannot use.
	ErrUnexpectedResponse = errors.New("unexpected API response")
)
