package utils

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"github.com/frameloom/frameloom/providers/observability"
)

// DoPostJSON performs a synchronous HTTP POST with a JSON body and decodes a
// JSON response into OutputStruct.
//
// Error handling strategy:
//   - Context errors (timeout, cancellation) are propagated immediately
//   - Transport errors and non-2xx statuses return an error carrying the
//     status and a bounded response preview
//   - Response body close errors are logged but never override the primary error
func DoPostJSON[OutputStruct any](ctx context.Context, client *http.Client, url string, apiKey string, body any) (*http.Response, *OutputStruct, error) {
	jsonBody, err := json.Marshal(body)
	if err != nil {
		return nil, nil, fmt.Errorf("error marshaling body: %w", err)
	}

	request, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(jsonBody))
	if err != nil {
		return nil, nil, fmt.Errorf("error creating request: %w", err)
	}
	request.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+apiKey)
	}

	return doJSON[OutputStruct](ctx, client, request)
}

// DoGetJSON performs a synchronous HTTP GET and decodes a JSON response into
// OutputStruct.
func DoGetJSON[OutputStruct any](ctx context.Context, client *http.Client, url string, apiKey string) (*http.Response, *OutputStruct, error) {
	request, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return nil, nil, fmt.Errorf("error creating request: %w", err)
	}
	if apiKey != "" {
		request.Header.Set("Authorization", "Bearer "+apiKey)
	}

	return doJSON[OutputStruct](ctx, client, request)
}

func doJSON[OutputStruct any](ctx context.Context, client *http.Client, request *http.Request) (*http.Response, *OutputStruct, error) {
	observer := observability.FromContext(ctx)

	httpClient := client
	if httpClient == nil {
		httpClient = http.DefaultClient
	}

	requestStart := time.Now()
	response, err := httpClient.Do(request)
	requestDuration := time.Since(requestStart)

	if err != nil {
		observer.Debug(ctx, "http.request.error",
			observability.String("http.url", request.URL.String()),
			observability.Error(err),
			observability.Duration("http.request.duration", requestDuration),
		)
		return response, nil, fmt.Errorf("error sending request: %w", err)
	}
	defer func(body io.ReadCloser) {
		if closeErr := body.Close(); closeErr != nil {
			observer.Warn(ctx, "failed to close response body",
				observability.String("http.url", request.URL.String()),
				observability.Error(closeErr),
			)
		}
	}(response.Body)

	responseBody, err := io.ReadAll(response.Body)
	if err != nil {
		return response, nil, fmt.Errorf("error reading response body: %w", err)
	}

	observer.Debug(ctx, "http.request.completed",
		observability.String("http.method", request.Method),
		observability.String("http.url", request.URL.String()),
		observability.Int("http.status_code", response.StatusCode),
		observability.Duration("http.request.duration", requestDuration),
	)

	if response.StatusCode < 200 || response.StatusCode > 299 {
		return response, nil, fmt.Errorf("unexpected status code %d: %s",
			response.StatusCode, TruncateString(string(responseBody), 512))
	}

	var output OutputStruct
	if err := json.Unmarshal(responseBody, &output); err != nil {
		return response, nil, fmt.Errorf("error parsing response (preview: %s): %w",
			TruncateString(string(responseBody), 256), err)
	}

	return response, &output, nil
}
