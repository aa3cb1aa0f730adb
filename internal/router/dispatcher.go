package router

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"github.com/modelfleet/modelfleet/internal/fleeterr"
)

// modelBody is the subset of an OpenAI-shaped request body the dispatcher
// needs to see.
type modelBody struct {
	Model  string
	Stream bool
}

// peekModel scans r's body for the top-level "model" and "stream" fields
// without requiring the whole body to fit in memory: it tees reads
// through a buffer and stops as soon as both fields (or end of object)
// have been seen, then returns a replacement io.ReadCloser that replays
// the buffered prefix followed by whatever of the body was not yet read
// — so the caller can still forward the request byte-for-byte (§4.3:
// "without consuming the body for later proxying"). If the buffered
// prefix alone exceeds maxPeek before the fields are found, or the body
// is not a JSON object, it reports bad_request.
func peekModel(r *http.Request, maxPeek int64) (modelBody, io.ReadCloser, error) {
	if r.Body == nil {
		return modelBody{}, http.NoBody, fmt.Errorf("%w: missing request body", fleeterr.BadRequest)
	}

	var buf bytes.Buffer
	tee := io.TeeReader(io.LimitReader(r.Body, maxPeek), &buf)
	dec := json.NewDecoder(tee)

	body, err := scanModelFields(dec)
	if err != nil {
		r.Body.Close()
		return modelBody{}, nil, fmt.Errorf("%w: %v", fleeterr.BadRequest, err)
	}
	if body.Model == "" {
		r.Body.Close()
		return modelBody{}, nil, fmt.Errorf("%w: missing \"model\" field", fleeterr.BadRequest)
	}

	replacement := struct {
		io.Reader
		io.Closer
	}{
		Reader: io.MultiReader(bytes.NewReader(buf.Bytes()), r.Body),
		Closer: r.Body,
	}
	return body, replacement, nil
}

// scanModelFields walks the top-level JSON object's tokens looking for
// "model" (string) and "stream" (bool), stopping as soon as both are
// found or the object ends.
func scanModelFields(dec *json.Decoder) (modelBody, error) {
	var body modelBody
	var haveModel, haveStream bool

	tok, err := dec.Token()
	if err != nil {
		return body, fmt.Errorf("read body: %w", err)
	}
	if delim, ok := tok.(json.Delim); !ok || delim != '{' {
		return body, fmt.Errorf("request body is not a JSON object")
	}

	for dec.More() {
		keyTok, err := dec.Token()
		if err != nil {
			return body, fmt.Errorf("read body: %w", err)
		}
		key, _ := keyTok.(string)

		switch key {
		case "model":
			if err := dec.Decode(&body.Model); err != nil {
				return body, fmt.Errorf(`decode "model": %w`, err)
			}
			haveModel = true
		case "stream":
			if err := dec.Decode(&body.Stream); err != nil {
				return body, fmt.Errorf(`decode "stream": %w`, err)
			}
			haveStream = true
		default:
			var discard json.RawMessage
			if err := dec.Decode(&discard); err != nil {
				return body, fmt.Errorf("read body: %w", err)
			}
		}
		if haveModel && haveStream {
			break
		}
	}
	return body, nil
}

// wantsStream reports whether the request should be served as SSE: either
// the body says "stream": true, or the client asked for
// text/event-stream.
func wantsStream(body modelBody, r *http.Request) bool {
	if body.Stream {
		return true
	}
	return r.Header.Get("Accept") == "text/event-stream"
}
