package router

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"time"

	"github.com/modelfleet/modelfleet/internal/metrics"
)

// hopByHopHeaders are stripped before forwarding, per RFC 7230 §6.1 and
// §4.3's forwarding rule.
var hopByHopHeaders = []string{
	"Connection", "Keep-Alive", "Transfer-Encoding", "Upgrade",
	"Proxy-Authenticate", "Proxy-Authorization", "Proxy-Connection",
}

// newTransport returns the shared, connection-pooling transport every
// outbound proxy request reuses, grounded on the pack's keystone-gateway
// gateway transport — the teacher never proxies HTTP itself so this has
// no teacher precedent.
func newTransport(connectTimeout time.Duration) *http.Transport {
	dialer := &net.Dialer{Timeout: connectTimeout}
	return &http.Transport{
		DialContext:         dialer.DialContext,
		MaxIdleConns:        100,
		MaxIdleConnsPerHost: 50,
		IdleConnTimeout:     120 * time.Second,
		DisableKeepAlives:   false,
		ForceAttemptHTTP2:   true,
	}
}

func stripHopByHop(h http.Header) {
	for _, name := range hopByHopHeaders {
		h.Del(name)
	}
}

// Proxy forwards requests to backends, non-streaming via
// httputil.ReverseProxy and streaming (SSE) by hand, per §4.3.
type Proxy struct {
	transport       *http.Transport
	requestDeadline time.Duration
}

// NewProxy builds a Proxy with its own shared transport.
func NewProxy(connectTimeout, requestDeadline time.Duration) *Proxy {
	return &Proxy{
		transport:       newTransport(connectTimeout),
		requestDeadline: requestDeadline,
	}
}

func (p *Proxy) backendURL(b *backend) *url.URL {
	return &url.URL{Scheme: "http", Host: net.JoinHostPort(b.Host, itoa(b.Port))}
}

func itoa(n int) string { return fmt.Sprintf("%d", n) }

// ServeNonStreaming forwards r to b and copies the backend's response back
// unchanged, using httputil.ReverseProxy's ErrorHandler to translate
// transport failures into bad_gateway (§4.3).
func (p *Proxy) ServeNonStreaming(w http.ResponseWriter, r *http.Request, b *backend, model string) {
	target := p.backendURL(b)
	ctx, cancel := context.WithTimeout(r.Context(), p.requestDeadline)
	defer cancel()
	r = r.WithContext(ctx)

	start := time.Now()
	rp := &httputil.ReverseProxy{
		Transport: p.transport,
		Director: func(req *http.Request) {
			req.URL.Scheme = target.Scheme
			req.URL.Host = target.Host
			req.Host = target.Host
			stripHopByHop(req.Header)
		},
		ModifyResponse: func(resp *http.Response) error {
			metrics.DispatchTotal.WithLabelValues(model, "ok").Inc()
			metrics.ProxyLatency.WithLabelValues(model).Observe(time.Since(start).Seconds())
			return nil
		},
		ErrorHandler: func(w http.ResponseWriter, r *http.Request, err error) {
			metrics.DispatchTotal.WithLabelValues(model, "bad_gateway").Inc()
			status := http.StatusBadGateway
			if ctx.Err() == context.DeadlineExceeded {
				status = http.StatusGatewayTimeout
			}
			writeError(w, status, fmt.Sprintf("backend %s: %v", b.Name, err))
		},
	}
	rp.ServeHTTP(w, r)
}

// ServeStreaming forwards r to b and relays the SSE response chunk-by-
// chunk, flushing after each line — grounded on the teacher's
// streamChatResponse flush-per-chunk pattern (internal/api/openai.go) —
// because httputil.ReverseProxy's internal buffering cannot be proven to
// flush per-event without disabling its FlushInterval entirely, which the
// spec's "no intermediate buffering" requirement makes an explicit
// design choice.
func (p *Proxy) ServeStreaming(w http.ResponseWriter, r *http.Request, b *backend, model string) {
	target := p.backendURL(b)
	start := time.Now()

	ctx, cancel := context.WithTimeout(r.Context(), p.requestDeadline)
	defer cancel()

	outReq, err := http.NewRequestWithContext(ctx, r.Method, target.String()+r.URL.Path, r.Body)
	if err != nil {
		metrics.DispatchTotal.WithLabelValues(model, "bad_gateway").Inc()
		writeError(w, http.StatusBadGateway, "build backend request: "+err.Error())
		return
	}
	outReq.Header = r.Header.Clone()
	stripHopByHop(outReq.Header)
	outReq.Host = target.Host

	resp, err := p.transport.RoundTrip(outReq)
	if err != nil {
		metrics.DispatchTotal.WithLabelValues(model, "bad_gateway").Inc()
		writeError(w, http.StatusBadGateway, fmt.Sprintf("backend %s: %v", b.Name, err))
		return
	}
	defer resp.Body.Close()

	flusher, ok := w.(http.Flusher)
	if !ok {
		metrics.DispatchTotal.WithLabelValues(model, "bad_gateway").Inc()
		writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	hdr := w.Header()
	for k, vv := range resp.Header {
		if isHopByHop(k) {
			continue
		}
		for _, v := range vv {
			hdr.Add(k, v)
		}
	}
	hdr.Set("Content-Type", "text/event-stream")
	hdr.Set("Cache-Control", "no-cache")
	w.WriteHeader(resp.StatusCode)

	reader := bufio.NewReader(resp.Body)
	writer := bufio.NewWriter(w)
	for {
		line, err := reader.ReadString('\n')
		if len(line) > 0 {
			writer.WriteString(line) //nolint:errcheck
			writer.Flush()           //nolint:errcheck
			flusher.Flush()
			if strings.HasPrefix(line, "data: [DONE]") {
				break
			}
		}
		if err != nil {
			break
		}
		if ctx.Err() != nil {
			// client disconnected or deadline hit: abort the backend
			// connection within one RTT rather than draining it (§4.3).
			break
		}
	}
	metrics.DispatchTotal.WithLabelValues(model, "ok").Inc()
	metrics.ProxyLatency.WithLabelValues(model).Observe(time.Since(start).Seconds())
}

func isHopByHop(name string) bool {
	for _, h := range hopByHopHeaders {
		if strings.EqualFold(h, name) {
			return true
		}
	}
	return false
}
