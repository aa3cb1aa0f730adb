package router

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/modelfleet/modelfleet/internal/fleeterr"
)

func TestPeekModelExtractsModelAndForwardsBody(t *testing.T) {
	payload := `{"model":"m-a","messages":[{"role":"user","content":"hi"}],"stream":true}`
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(payload))

	body, replacement, err := peekModel(req, 1<<20)
	if err != nil {
		t.Fatalf("peekModel() error: %v", err)
	}
	if body.Model != "m-a" || !body.Stream {
		t.Fatalf("body = %+v, want model=m-a stream=true", body)
	}

	forwarded, err := io.ReadAll(replacement)
	if err != nil {
		t.Fatalf("read replacement body: %v", err)
	}
	if string(forwarded) != payload {
		t.Fatalf("forwarded body = %q, want %q", forwarded, payload)
	}
}

func TestPeekModelMissingModelIsBadRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`{"messages":[]}`))
	_, _, err := peekModel(req, 1<<20)
	if !errors.Is(err, fleeterr.BadRequest) {
		t.Fatalf("peekModel() error = %v, want bad_request", err)
	}
}

func TestPeekModelUnparseableBodyIsBadRequest(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/v1/chat/completions", strings.NewReader(`not json`))
	_, _, err := peekModel(req, 1<<20)
	if !errors.Is(err, fleeterr.BadRequest) {
		t.Fatalf("peekModel() error = %v, want bad_request", err)
	}
}

func TestWantsStreamFromBodyOrAcceptHeader(t *testing.T) {
	req := httptest.NewRequest(http.MethodPost, "/", nil)
	if wantsStream(modelBody{Stream: false}, req) {
		t.Fatalf("wantsStream() = true, want false")
	}
	req.Header.Set("Accept", "text/event-stream")
	if !wantsStream(modelBody{Stream: false}, req) {
		t.Fatalf("wantsStream() with Accept header = false, want true")
	}
}
