package utils

import (
	"time"

	"github.com/hashicorp/go-retryablehttp"
)

// NewHTTPClient returns an outbound client for page and font fetches.
// Non-2xx responses are handed back to the caller as-is, even after the
// retry budget is spent, so callers can map upstream statuses themselves.
func NewHTTPClient(retryMax int, timeout time.Duration) *retryablehttp.Client {
	client := retryablehttp.NewClient()
	client.RetryMax = retryMax
	client.RetryWaitMin = 200 * time.Millisecond
	client.RetryWaitMax = 2 * time.Second
	client.HTTPClient.Timeout = timeout
	client.ErrorHandler = retryablehttp.PassthroughErrorHandler
	client.Logger = LeveledLogger{}
	return client
}
