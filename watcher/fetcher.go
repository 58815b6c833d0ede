package watcher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/ruteri/tee-oracle-bridge/chain"
)

const (
	// maxFetchBytes bounds how much of an upstream response body is read.
	maxFetchBytes = 1 << 20
	// maxResultBytes bounds the result stored on-chain. Larger extracted
	// values are truncated, not rejected.
	maxResultBytes = 2048
)

// Fetcher performs the external HTTP fetch for oracle requests and extracts
// the requested value from the response.
type Fetcher struct {
	client *http.Client
}

// NewFetcher creates a fetcher. A nil client falls back to
// http.DefaultClient.
func NewFetcher(client *http.Client) *Fetcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &Fetcher{client: client}
}

// Fetch performs the request described by the event and returns the result
// bytes to store on-chain: the JSONPath-extracted value when a path is set,
// the raw body otherwise, truncated to the on-chain result cap.
func (f *Fetcher) Fetch(ctx context.Context, ev chain.OracleRequestEvent) ([]byte, error) {
	httpReq, err := http.NewRequestWithContext(ctx, ev.Method, ev.URL, nil)
	if err != nil {
		return nil, fmt.Errorf("invalid oracle request: %w", err)
	}
	for _, h := range ev.Headers {
		httpReq.Header.Set(h.Name, h.Value)
	}

	resp, err := f.client.Do(httpReq)
	if err != nil {
		return nil, fmt.Errorf("oracle fetch failed: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, fmt.Errorf("oracle upstream returned %d", resp.StatusCode)
	}
	body, err := io.ReadAll(io.LimitReader(resp.Body, maxFetchBytes))
	if err != nil {
		return nil, fmt.Errorf("reading oracle response: %w", err)
	}

	result := body
	if ev.JSONPath != "" {
		result, err = extractJSONPath(body, ev.JSONPath)
		if err != nil {
			return nil, err
		}
	}
	if len(result) > maxResultBytes {
		result = result[:maxResultBytes]
	}
	return result, nil
}

// extractJSONPath walks a dotted path through a JSON document. Path segments
// index objects by key and arrays by decimal position, e.g. "data.rates.0".
// String leaves are returned raw; other values are re-serialized as JSON.
func extractJSONPath(body []byte, path string) ([]byte, error) {
	var doc any
	if err := json.Unmarshal(body, &doc); err != nil {
		return nil, fmt.Errorf("oracle response is not JSON: %w", err)
	}
	current := doc
	for _, segment := range strings.Split(path, ".") {
		switch node := current.(type) {
		case map[string]any:
			child, ok := node[segment]
			if !ok {
				return nil, fmt.Errorf("json path %q: no field %q", path, segment)
			}
			current = child
		case []any:
			idx, err := strconv.Atoi(segment)
			if err != nil || idx < 0 || idx >= len(node) {
				return nil, fmt.Errorf("json path %q: bad array index %q", path, segment)
			}
			current = node[idx]
		default:
			return nil, fmt.Errorf("json path %q: cannot descend into %q", path, segment)
		}
	}
	if s, ok := current.(string); ok {
		return []byte(s), nil
	}
	out, err := json.Marshal(current)
	if err != nil {
		return nil, err
	}
	return out, nil
}
