package utils

import (
	"context"
	"net/http"
	"time"

	"github.com/frameloom/frameloom/providers/observability"
)

// Defaults for DoGetJSONWithRetry.
const (
	DefaultRetryAttempts = 3
	DefaultRetryBackoff  = 300 * time.Millisecond
)

// retryableStatusCodes are the transient HTTP statuses worth another attempt.
var retryableStatusCodes = map[int]bool{
	http.StatusRequestTimeout:      true, // 408
	http.StatusTooEarly:            true, // 425
	http.StatusTooManyRequests:     true, // 429
	http.StatusInternalServerError: true, // 500
	http.StatusBadGateway:          true, // 502
	http.StatusServiceUnavailable:  true, // 503
	http.StatusGatewayTimeout:      true, // 504
}

// DoGetJSONWithRetry performs DoGetJSON with bounded retries. Transport
// errors and retryable statuses are retried up to maxAttempts times with a
// linear backoff of baseBackoff multiplied by the attempt number; any other
// HTTP error surfaces immediately. The context cancels waiting between
// attempts.
func DoGetJSONWithRetry[OutputStruct any](ctx context.Context, client *http.Client, url string, apiKey string, maxAttempts int, baseBackoff time.Duration) (*http.Response, *OutputStruct, error) {
	if maxAttempts <= 0 {
		maxAttempts = DefaultRetryAttempts
	}
	if baseBackoff <= 0 {
		baseBackoff = DefaultRetryBackoff
	}

	observer := observability.FromContext(ctx)

	var lastResponse *http.Response
	var lastErr error

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		response, output, err := DoGetJSON[OutputStruct](ctx, client, url, apiKey)
		if err == nil {
			return response, output, nil
		}

		lastResponse = response
		lastErr = err

		if ctx.Err() != nil {
			return lastResponse, nil, ctx.Err()
		}
		if response != nil && !retryableStatusCodes[response.StatusCode] {
			return response, nil, err
		}
		if attempt == maxAttempts {
			break
		}

		backoff := time.Duration(attempt) * baseBackoff
		observer.Debug(ctx, "http.request.retry",
			observability.String("http.url", url),
			observability.Int("attempt", attempt),
			observability.Duration("backoff", backoff),
			observability.Error(err),
		)

		select {
		case <-ctx.Done():
			return lastResponse, nil, ctx.Err()
		case <-time.After(backoff):
		}
	}

	return lastResponse, nil, lastErr
}
