package babysitter

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"
)

type modelsListing struct {
	Data []struct {
		ID string `json:"id"`
	} `json:"data"`
}

// waitForReady polls GET http://127.0.0.1:{port}{path} at interval until
// it sees a 2xx response with an OpenAI-shaped models listing, returning
// the model ids in order of first appearance (§4.2). It gives up after
// timeout or if child exits first (the backend died while we were
// waiting). child may be nil, in which case only ctx and the timeout are
// observed.
func waitForReady(ctx context.Context, port int, path string, interval, timeout time.Duration, child *childProcess) ([]string, error) {
	deadline := time.Now().Add(timeout)
	client := &http.Client{Timeout: interval}
	url := fmt.Sprintf("http://127.0.0.1:%d%s", port, path)

	var exited <-chan struct{}
	if child != nil {
		exited = child.wait()
	}

	for time.Now().Before(deadline) {
		select {
		case <-exited:
			return nil, fmt.Errorf("backend exited while waiting for readiness: %v", child.exitErr())
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}

		models, ok := tryReady(client, url)
		if ok {
			return models, nil
		}

		select {
		case <-time.After(interval):
		case <-ctx.Done():
			return nil, ctx.Err()
		}
	}
	return nil, fmt.Errorf("backend did not become ready within %v", timeout)
}

func tryReady(client *http.Client, url string) ([]string, bool) {
	resp, err := client.Get(url)
	if err != nil {
		return nil, false
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, false
	}

	var listing modelsListing
	if err := json.NewDecoder(resp.Body).Decode(&listing); err != nil {
		return nil, false
	}

	models := make([]string, 0, len(listing.Data))
	seen := make(map[string]bool)
	for _, item := range listing.Data {
		if item.ID == "" || seen[item.ID] {
			continue
		}
		seen[item.ID] = true
		models = append(models, item.ID)
	}
	return models, true
}
