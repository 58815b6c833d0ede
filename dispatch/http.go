package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
)

// DispatchPath is the watcher endpoint the envelope is posted to.
const DispatchPath = "/watcher/dispatch"

// Envelope is the JSON body posted to the watcher. The key's private material
// never leaves the TEE; only the public record travels.
type Envelope struct {
	Request interfaces.Request `json:"request"`
	Key     interfaces.Key     `json:"key"`
}

// EndpointResolver yields the watcher base URLs to try, in order. Resolution
// runs per dispatch so rotated instances are picked up without restarts.
type EndpointResolver interface {
	Resolve(ctx context.Context) ([]string, error)
}

// StaticEndpoints resolves to a fixed list of base URLs.
type StaticEndpoints []string

func (e StaticEndpoints) Resolve(context.Context) ([]string, error) {
	if len(e) == 0 {
		return nil, fmt.Errorf("no watcher endpoints configured")
	}
	return e, nil
}

// HTTPDispatcher posts request envelopes to a watcher instance. Endpoints come
// from the injected resolver; each dispatch tries them in order and succeeds
// on the first 2xx response.
type HTTPDispatcher struct {
	client    *http.Client
	endpoints EndpointResolver
	log       *slog.Logger
}

// NewHTTPDispatcher creates an HTTP dispatcher. A nil client falls back to
// http.DefaultClient; per-attempt deadlines come from the caller's context.
func NewHTTPDispatcher(client *http.Client, endpoints EndpointResolver, log *slog.Logger) *HTTPDispatcher {
	if client == nil {
		client = http.DefaultClient
	}
	return &HTTPDispatcher{client: client, endpoints: endpoints, log: log}
}

// Dispatch posts the envelope to the first reachable watcher endpoint.
func (d *HTTPDispatcher) Dispatch(ctx context.Context, req interfaces.Request, key interfaces.Key) error {
	body, err := json.Marshal(Envelope{Request: req, Key: key})
	if err != nil {
		return err
	}
	endpoints, err := d.endpoints.Resolve(ctx)
	if err != nil {
		return fmt.Errorf("endpoint resolution failed: %w", err)
	}

	var lastErr error
	for _, endpoint := range endpoints {
		if err := d.post(ctx, endpoint, body); err != nil {
			d.log.Warn("watcher endpoint rejected dispatch", "endpoint", endpoint, "err", err, "request_id", req.ID)
			lastErr = err
			continue
		}
		return nil
	}
	return fmt.Errorf("all %d watcher endpoints failed: %w", len(endpoints), lastErr)
}

func (d *HTTPDispatcher) post(ctx context.Context, endpoint string, body []byte) error {
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, endpoint+DispatchPath, bytes.NewReader(body))
	if err != nil {
		return err
	}
	httpReq.Header.Set("Content-Type", "application/json")
	resp, err := d.client.Do(httpReq)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return fmt.Errorf("watcher returned %d: %s", resp.StatusCode, string(msg))
	}
	return nil
}
