package babysitter

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strconv"
	"testing"
	"time"
)

func portOf(t *testing.T, rawURL string) int {
	t.Helper()
	parsed, err := url.Parse(rawURL)
	if err != nil {
		t.Fatalf("parse url: %v", err)
	}
	port, err := strconv.Atoi(parsed.Port())
	if err != nil {
		t.Fatalf("parse port from %q: %v", rawURL, err)
	}
	return port
}

func TestWaitForReadySucceedsOnModelsListing(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"data": []map[string]string{{"id": "m-a"}, {"id": "m-b"}, {"id": "m-a"}},
		})
	}))
	defer srv.Close()

	models, err := waitForReady(context.Background(), portOf(t, srv.URL), "/models", 10*time.Millisecond, time.Second, nil)
	if err != nil {
		t.Fatalf("waitForReady() error: %v", err)
	}
	if len(models) != 2 || models[0] != "m-a" || models[1] != "m-b" {
		t.Fatalf("models = %v, want [m-a m-b] deduplicated in first-appearance order", models)
	}
}

func TestWaitForReadyRetriesUntilUp(t *testing.T) {
	attempts := 0
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		attempts++
		if attempts < 3 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		json.NewEncoder(w).Encode(map[string]interface{}{"data": []map[string]string{{"id": "m-a"}}})
	}))
	defer srv.Close()

	models, err := waitForReady(context.Background(), portOf(t, srv.URL), "/models", 5*time.Millisecond, time.Second, nil)
	if err != nil {
		t.Fatalf("waitForReady() error: %v", err)
	}
	if len(models) != 1 || models[0] != "m-a" {
		t.Fatalf("models = %v, want [m-a]", models)
	}
	if attempts < 3 {
		t.Fatalf("attempts = %d, want >= 3", attempts)
	}
}

func TestWaitForReadyTimesOut(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	_, err := waitForReady(context.Background(), portOf(t, srv.URL), "/models", 5*time.Millisecond, 30*time.Millisecond, nil)
	if err == nil {
		t.Fatal("waitForReady() error = nil, want timeout error")
	}
}

func TestWaitForReadyStopsOnChildExit(t *testing.T) {
	child := &childProcess{done: make(chan struct{})}
	close(child.done)

	_, err := waitForReady(context.Background(), 1, "/models", 5*time.Millisecond, time.Second, child)
	if err == nil {
		t.Fatal("waitForReady() error = nil, want error for child exit")
	}
}
