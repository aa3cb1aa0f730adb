package router

import (
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/modelfleet/modelfleet/internal/regclient"
)

func newTestServerWithBackend(t *testing.T, handler http.Handler, model string) (*Server, *httptest.Server) {
	t.Helper()
	upstream := httptest.NewServer(handler)

	host, portStr, err := net.SplitHostPort(strings.TrimPrefix(upstream.URL, "http://"))
	if err != nil {
		t.Fatalf("split %q: %v", upstream.URL, err)
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		t.Fatalf("atoi: %v", err)
	}

	table := NewTable()
	rebuildHealthy(t, table, []regclient.Record{
		{Name: "b1", Host: host, Port: port, Weight: 1, Kind: "backend",
			Meta: regclient.Metadata{Models: []string{model}}},
	})

	proxy := NewProxy(5*time.Second, 30*time.Second)
	return NewServer(table, proxy, 1<<20), upstream
}

func TestHandleDispatchRoutesToMatchingModel(t *testing.T) {
	s, upstream := newTestServerWithBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte(`{"ok":true}`))
	}), "m-a")
	defer upstream.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"m-a","messages":[]}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200, body=%s", rec.Code, rec.Body.String())
	}
}

func TestHandleDispatchUnknownModelIsServiceUnavailable(t *testing.T) {
	s, upstream := newTestServerWithBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), "m-a")
	defer upstream.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions",
		strings.NewReader(`{"model":"m-unknown","messages":[]}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", rec.Code)
	}
}

func TestHandleDispatchMissingModelIsBadRequest(t *testing.T) {
	s, upstream := newTestServerWithBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), "m-a")
	defer upstream.Close()

	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"messages":[]}`))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)

	if rec.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", rec.Code)
	}
}

func TestHandleModelsAggregatesHealthyBackends(t *testing.T) {
	s, upstream := newTestServerWithBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}), "m-a")
	defer upstream.Close()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/models", nil))

	var resp modelsResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &resp); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if len(resp.Data) != 1 || resp.Data[0].ID != "m-a" {
		t.Fatalf("models = %+v, want one entry m-a", resp.Data)
	}
}

func TestHandleHealthAlwaysOK(t *testing.T) {
	s := NewServer(NewTable(), NewProxy(time.Second, time.Second), 1<<20)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}

func TestHandleCatchAllRoutesWithoutModel(t *testing.T) {
	s, upstream := newTestServerWithBackend(t, http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}), "m-a")
	defer upstream.Close()

	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/v1/some/passthrough", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
}
