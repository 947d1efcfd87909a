package search

import "errors"

// ErrMissingCredentials indicates a provider was invoked without the API
// key or endpoint it needs. The fan-out counts such providers as failed
// without treating the run as an error.
var ErrMissingCredentials = errors.New("search provider credentials missing")

// ErrRateLimited indicates a provider refused the request due to rate
// limiting and retries within the request budget were exhausted.
var ErrRateLimited = errors.New("search provider rate limited")
