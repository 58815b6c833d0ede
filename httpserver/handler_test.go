package httpserver

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/tee-oracle-bridge/bridge"
	"github.com/ruteri/tee-oracle-bridge/interfaces"
	"github.com/ruteri/tee-oracle-bridge/storage"
)

const testWallet = "0x00000000000000000000000000000000000000d1"

func newTestServer(t *testing.T, dispatcher interfaces.Dispatcher) (*httptest.Server, *bridge.Service) {
	t.Helper()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))

	accounts := bridge.NewStaticAccountRegistry()
	accounts.AddAccount("acc1", testWallet)
	accounts.AddAccount("acc2", testWallet)

	store := storage.NewMemoryStore()
	service := bridge.New(accounts, store, store, log)
	if dispatcher != nil {
		service.WithDispatcher(dispatcher)
	}

	srv, err := New(&HTTPServerConfig{
		ListenAddr:               "127.0.0.1:0",
		Log:                      log,
		DrainDuration:            time.Millisecond,
		GracefulShutdownDuration: time.Second,
	}, NewHandler(service, log))
	require.NoError(t, err)

	ts := httptest.NewServer(srv.getRouter())
	t.Cleanup(ts.Close)
	return ts, service
}

func doJSON(t *testing.T, client *http.Client, method, url, account string, body any) *http.Response {
	t.Helper()
	var reader io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		require.NoError(t, err)
		reader = bytes.NewReader(encoded)
	}
	req, err := http.NewRequest(method, url, reader)
	require.NoError(t, err)
	if account != "" {
		req.Header.Set(AccountHeader, account)
	}
	resp, err := client.Do(req)
	require.NoError(t, err)
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	defer resp.Body.Close()
	var out T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&out))
	return out
}

func TestKeyEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	client := ts.Client()

	resp := doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/keys", "acc1", CreateKeyRequest{
		PublicKey:     "03aabb",
		WalletAddress: testWallet,
		Label:         "primary",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[interfaces.Key](t, resp)
	assert.NotEmpty(t, created.ID)
	assert.Equal(t, interfaces.KeyStatusInactive, created.Status)

	resp = doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/keys/"+created.ID, "acc1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	got := decode[interfaces.Key](t, resp)
	assert.Equal(t, created.ID, got.ID)

	// Another account sees the same response as for a missing key.
	resp = doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/keys/"+created.ID, "acc2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
	resp = doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/keys/does-not-exist", "acc1", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodPut, ts.URL+"/api/v1/keys/"+created.ID, "acc1", CreateKeyRequest{
		PublicKey:     "03aabb",
		WalletAddress: testWallet,
		Status:        "active",
	})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	updated := decode[interfaces.Key](t, resp)
	assert.Equal(t, interfaces.KeyStatusActive, updated.Status)

	resp = doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/keys", "acc1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	keys := decode[[]interfaces.Key](t, resp)
	assert.Len(t, keys, 1)

	resp = doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/keys", "acc2", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Empty(t, decode[[]interfaces.Key](t, resp))
}

func TestKeyValidationAndAuth(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	client := ts.Client()

	resp := doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/keys", "acc1", CreateKeyRequest{WalletAddress: testWallet})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/keys", "acc1", CreateKeyRequest{
		PublicKey:     "03aabb",
		WalletAddress: "0x0000000000000000000000000000000000000099",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "unowned wallet")
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/keys", "", CreateKeyRequest{PublicKey: "03aabb", WalletAddress: testWallet})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/keys", "unknown-account", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()
}

func createKeyForRequests(t *testing.T, ts *httptest.Server) interfaces.Key {
	t.Helper()
	resp := doJSON(t, ts.Client(), http.MethodPost, ts.URL+"/api/v1/keys", "acc1", CreateKeyRequest{
		PublicKey:     "03aabb",
		WalletAddress: testWallet,
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	return decode[interfaces.Key](t, resp)
}

func TestRequestEndpoints(t *testing.T) {
	ts, _ := newTestServer(t, nil)
	client := ts.Client()
	key := createKeyForRequests(t, ts)

	resp := doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/requests", "acc1", CreateRequestRequest{
		KeyID:    key.ID,
		Consumer: "0x00000000000000000000000000000000000000c1",
		Seed:     "entropy",
	})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	created := decode[interfaces.Request](t, resp)
	assert.Equal(t, interfaces.RequestStatusPending, created.Status)

	resp = doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/requests/"+created.ID, "acc1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/requests/"+created.ID, "acc2", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/requests?limit=10", "acc1", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]interfaces.Request](t, resp), 1)

	resp = doJSON(t, client, http.MethodGet, ts.URL+"/api/v1/requests?limit=abc", "acc1", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	resp.Body.Close()

	resp = doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/requests", "acc1", CreateRequestRequest{
		KeyID:    key.ID,
		Consumer: "0x00000000000000000000000000000000000000c1",
	})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, "missing seed")
	resp.Body.Close()
}

func TestCreateRequestDispatchFailure(t *testing.T) {
	failing := interfaces.DispatcherFunc(func(context.Context, interfaces.Request, interfaces.Key) error {
		return errors.New("executor unreachable")
	})
	ts, service := newTestServer(t, failing)
	client := ts.Client()
	key := createKeyForRequests(t, ts)

	resp := doJSON(t, client, http.MethodPost, ts.URL+"/api/v1/requests", "acc1", CreateRequestRequest{
		KeyID:    key.ID,
		Consumer: "0x00000000000000000000000000000000000000c1",
		Seed:     "entropy",
	})
	require.Equal(t, http.StatusBadGateway, resp.StatusCode)
	failed := decode[DispatchFailedResponse](t, resp)
	require.NotEmpty(t, failed.Request.ID)
	assert.Contains(t, failed.Error, "executor unreachable")

	// The record was persisted despite the dispatch failure.
	stored, err := service.GetRequest(context.Background(), "acc1", failed.Request.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestStatusPending, stored.Status)
}

func TestHealthAndDrain(t *testing.T) {
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	accounts := bridge.NewStaticAccountRegistry()
	store := storage.NewMemoryStore()
	service := bridge.New(accounts, store, store, log)
	srv, err := New(&HTTPServerConfig{
		ListenAddr:    "127.0.0.1:0",
		Log:           log,
		DrainDuration: time.Millisecond,
	}, NewHandler(service, log))
	require.NoError(t, err)
	ts := httptest.NewServer(srv.getRouter())
	defer ts.Close()

	get := func(path string) int {
		resp, err := ts.Client().Get(ts.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		return resp.StatusCode
	}

	assert.Equal(t, http.StatusOK, get("/livez"))
	assert.Equal(t, http.StatusOK, get("/readyz"))
	assert.Equal(t, http.StatusOK, get("/drain"))
	assert.Equal(t, http.StatusServiceUnavailable, get("/readyz"))
	assert.Equal(t, http.StatusOK, get("/undrain"))
	assert.Equal(t, http.StatusOK, get("/readyz"))
}
