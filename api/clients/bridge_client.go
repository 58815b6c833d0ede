package clients

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/ruteri/tee-oracle-bridge/httpserver"
	"github.com/ruteri/tee-oracle-bridge/interfaces"
)

// ErrDispatchFailed is returned by CreateRequest when the record was
// persisted but handing it to the executor failed. The returned request stays
// pending server-side and can be re-dispatched out of band.
type ErrDispatchFailed struct {
	Message string
	Request interfaces.Request
}

func (e *ErrDispatchFailed) Error() string {
	return fmt.Sprintf("request %s persisted but dispatch failed: %s", e.Request.ID, e.Message)
}

// BridgeClient calls the oracle bridge API on behalf of one account.
type BridgeClient struct {
	baseURL    string
	accountID  string
	httpClient *http.Client
}

// NewBridgeClient creates a client for the given base URL and account. The
// optional timeout defaults to 30 seconds.
func NewBridgeClient(baseURL, accountID string, timeout ...time.Duration) *BridgeClient {
	clientTimeout := 30 * time.Second
	if len(timeout) > 0 {
		clientTimeout = timeout[0]
	}
	return &BridgeClient{
		baseURL:    baseURL,
		accountID:  accountID,
		httpClient: &http.Client{Timeout: clientTimeout},
	}
}

// CreateKey registers a TEE signing key.
func (c *BridgeClient) CreateKey(ctx context.Context, req httpserver.CreateKeyRequest) (interfaces.Key, error) {
	var key interfaces.Key
	err := c.do(ctx, http.MethodPost, "/api/v1/keys", req, http.StatusCreated, &key)
	return key, err
}

// UpdateKey updates mutable fields of an existing key.
func (c *BridgeClient) UpdateKey(ctx context.Context, keyID string, req httpserver.CreateKeyRequest) (interfaces.Key, error) {
	var key interfaces.Key
	err := c.do(ctx, http.MethodPut, "/api/v1/keys/"+url.PathEscape(keyID), req, http.StatusOK, &key)
	return key, err
}

// GetKey fetches a key by ID.
func (c *BridgeClient) GetKey(ctx context.Context, keyID string) (interfaces.Key, error) {
	var key interfaces.Key
	err := c.do(ctx, http.MethodGet, "/api/v1/keys/"+url.PathEscape(keyID), nil, http.StatusOK, &key)
	return key, err
}

// ListKeys lists the account's keys.
func (c *BridgeClient) ListKeys(ctx context.Context) ([]interfaces.Key, error) {
	var keys []interfaces.Key
	err := c.do(ctx, http.MethodGet, "/api/v1/keys", nil, http.StatusOK, &keys)
	return keys, err
}

// CreateRequest creates and dispatches a compute request. A dispatch failure
// surfaces as *ErrDispatchFailed carrying the persisted record.
func (c *BridgeClient) CreateRequest(ctx context.Context, req httpserver.CreateRequestRequest) (interfaces.Request, error) {
	body, err := json.Marshal(req)
	if err != nil {
		return interfaces.Request{}, err
	}
	resp, err := c.send(ctx, http.MethodPost, "/api/v1/requests", bytes.NewReader(body))
	if err != nil {
		return interfaces.Request{}, err
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusBadGateway {
		var failed httpserver.DispatchFailedResponse
		if err := json.NewDecoder(resp.Body).Decode(&failed); err != nil {
			return interfaces.Request{}, fmt.Errorf("failed to parse dispatch failure response: %w", err)
		}
		return failed.Request, &ErrDispatchFailed{Message: failed.Error, Request: failed.Request}
	}
	if resp.StatusCode != http.StatusCreated {
		return interfaces.Request{}, readAPIError(resp)
	}
	var created interfaces.Request
	if err := json.NewDecoder(resp.Body).Decode(&created); err != nil {
		return interfaces.Request{}, fmt.Errorf("failed to parse response: %w", err)
	}
	return created, nil
}

// GetRequest fetches a request by ID.
func (c *BridgeClient) GetRequest(ctx context.Context, requestID string) (interfaces.Request, error) {
	var req interfaces.Request
	err := c.do(ctx, http.MethodGet, "/api/v1/requests/"+url.PathEscape(requestID), nil, http.StatusOK, &req)
	return req, err
}

// ListRequests lists the account's requests, newest first. A zero limit uses
// the server default.
func (c *BridgeClient) ListRequests(ctx context.Context, limit int) ([]interfaces.Request, error) {
	path := "/api/v1/requests"
	if limit > 0 {
		path += "?limit=" + strconv.Itoa(limit)
	}
	var requests []interfaces.Request
	err := c.do(ctx, http.MethodGet, path, nil, http.StatusOK, &requests)
	return requests, err
}

func (c *BridgeClient) do(ctx context.Context, method, path string, reqBody any, wantStatus int, out any) error {
	var reader io.Reader
	if reqBody != nil {
		encoded, err := json.Marshal(reqBody)
		if err != nil {
			return err
		}
		reader = bytes.NewReader(encoded)
	}
	resp, err := c.send(ctx, method, path, reader)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode != wantStatus {
		return readAPIError(resp)
	}
	if out == nil {
		return nil
	}
	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("failed to parse response: %w", err)
	}
	return nil
}

func (c *BridgeClient) send(ctx context.Context, method, path string, body io.Reader) (*http.Response, error) {
	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set(httpserver.AccountHeader, c.accountID)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("request to %s failed: %w", path, err)
	}
	return resp, nil
}

func readAPIError(resp *http.Response) error {
	var apiErr struct {
		Error string `json:"error"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&apiErr); err == nil && apiErr.Error != "" {
		return fmt.Errorf("api returned %d: %s", resp.StatusCode, apiErr.Error)
	}
	return fmt.Errorf("api returned %d", resp.StatusCode)
}
