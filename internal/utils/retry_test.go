package utils

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"
	"time"
)

type retryProbe struct {
	Message string `json:"message"`
}

func TestDoGetJSONWithRetryRecoversFromTransientFailures(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		if callCount.Add(1) < 3 {
			writer.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		writer.Header().Set("Content-Type", "application/json")
		_, _ = writer.Write([]byte(`{"message":"recovered"}`))
	}))
	defer server.Close()

	_, output, err := DoGetJSONWithRetry[retryProbe](context.Background(), server.Client(), server.URL, "", 3, time.Millisecond)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if output.Message != "recovered" {
		t.Errorf("expected recovered payload, got %q", output.Message)
	}
	if callCount.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", callCount.Load())
	}
}

func TestDoGetJSONWithRetryStopsOnNonRetryableStatus(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		callCount.Add(1)
		writer.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	response, _, err := DoGetJSONWithRetry[retryProbe](context.Background(), server.Client(), server.URL, "", 3, time.Millisecond)
	if err == nil {
		t.Fatal("expected an error")
	}
	if response == nil || response.StatusCode != http.StatusNotFound {
		t.Fatalf("expected the 404 response to surface, got %v", response)
	}
	if callCount.Load() != 1 {
		t.Errorf("expected a single attempt, got %d", callCount.Load())
	}
}

func TestDoGetJSONWithRetryExhaustsAttempts(t *testing.T) {
	var callCount atomic.Int32
	server := httptest.NewServer(http.HandlerFunc(func(writer http.ResponseWriter, request *http.Request) {
		callCount.Add(1)
		writer.WriteHeader(http.StatusBadGateway)
	}))
	defer server.Close()

	_, _, err := DoGetJSONWithRetry[retryProbe](context.Background(), server.Client(), server.URL, "", 3, time.Millisecond)
	if err == nil {
		t.Fatal("expected an error after exhausting attempts")
	}
	if callCount.Load() != 3 {
		t.Errorf("expected 3 attempts, got %d", callCount.Load())
	}
}
