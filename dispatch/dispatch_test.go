package dispatch

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/tee-oracle-bridge/chain"
	"github.com/ruteri/tee-oracle-bridge/interfaces"
	"github.com/ruteri/tee-oracle-bridge/storage"
)

var discardLogger = slog.New(slog.NewTextHandler(io.Discard, nil))

func TestHTTPDispatcherPostsEnvelope(t *testing.T) {
	var received Envelope
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, DispatchPath, r.URL.Path)
		require.Equal(t, "application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&received))
		w.WriteHeader(http.StatusAccepted)
	}))
	defer server.Close()

	d := NewHTTPDispatcher(nil, StaticEndpoints{server.URL}, discardLogger)
	req := interfaces.Request{ID: "req-1", AccountID: "acc1", Seed: "abc"}
	key := interfaces.Key{ID: "key-1", PublicKey: "03aa"}
	require.NoError(t, d.Dispatch(context.Background(), req, key))
	assert.Equal(t, "req-1", received.Request.ID)
	assert.Equal(t, "03aa", received.Key.PublicKey)
}

func TestHTTPDispatcherFailsOver(t *testing.T) {
	bad := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "draining", http.StatusServiceUnavailable)
	}))
	defer bad.Close()
	var hits int
	good := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits++
		w.WriteHeader(http.StatusOK)
	}))
	defer good.Close()

	d := NewHTTPDispatcher(nil, StaticEndpoints{bad.URL, good.URL}, discardLogger)
	require.NoError(t, d.Dispatch(context.Background(), interfaces.Request{ID: "req-1"}, interfaces.Key{}))
	assert.Equal(t, 1, hits)

	onlyBad := NewHTTPDispatcher(nil, StaticEndpoints{bad.URL}, discardLogger)
	err := onlyBad.Dispatch(context.Background(), interfaces.Request{ID: "req-2"}, interfaces.Key{})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "503")
}

func TestHTTPDispatcherNoEndpoints(t *testing.T) {
	d := NewHTTPDispatcher(nil, StaticEndpoints{}, discardLogger)
	err := d.Dispatch(context.Background(), interfaces.Request{ID: "req-1"}, interfaces.Key{})
	assert.Error(t, err)
}

func newChainFixture(t *testing.T) (*chain.Ledger, *chain.Gateway) {
	t.Helper()
	gatewayAddr := common.HexToAddress("0x00000000000000000000000000000000000000a1")
	gateway := chain.NewGateway(gatewayAddr)

	teeKey, err := crypto.GenerateKey()
	require.NoError(t, err)
	gateway.RegisterVRF(chain.NewVRFContract(gatewayAddr, crypto.CompressPubkey(&teeKey.PublicKey)))
	gateway.RegisterOracle(chain.NewOracleContract(gatewayAddr))
	return chain.NewLedger(), gateway
}

func TestChainDispatcherVRF(t *testing.T) {
	ledger, gateway := newChainFixture(t)
	store := storage.NewMemoryStore()
	ctx := context.Background()

	created, err := store.CreateRequest(ctx, interfaces.Request{
		AccountID: "acc1",
		Consumer:  "0x00000000000000000000000000000000000000c1",
		Seed:      "entropy",
		Status:    interfaces.RequestStatusPending,
		Metadata:  map[string]string{MetadataNumWords: "3"},
	})
	require.NoError(t, err)

	from := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	d := NewChainDispatcher(ledger, gateway, store, from, discardLogger)
	require.NoError(t, d.Dispatch(ctx, created, interfaces.Key{}))

	stored, err := store.GetRequest(ctx, created.ID)
	require.NoError(t, err)
	assert.Equal(t, "1", stored.Metadata[interfaces.MetadataOnchainRequestID])

	events := ledger.EventsSince(0)
	require.Len(t, events, 1)
	request, ok := events[0].Event.(chain.VRFRequestEvent)
	require.True(t, ok)
	assert.Equal(t, uint8(3), request.NumWords)
	assert.Equal(t, common.HexToAddress(created.Consumer), request.UserContract)
}

func TestChainDispatcherOracle(t *testing.T) {
	ledger, gateway := newChainFixture(t)
	store := storage.NewMemoryStore()
	ctx := context.Background()

	created, err := store.CreateRequest(ctx, interfaces.Request{
		AccountID: "acc1",
		Consumer:  "0x00000000000000000000000000000000000000c1",
		Seed:      "unused",
		Status:    interfaces.RequestStatusPending,
		Metadata: map[string]string{
			MetadataService:  "oracle",
			MetadataURL:      "https://api.example.com/price",
			MetadataJSONPath: "data.price",
		},
	})
	require.NoError(t, err)

	from := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	d := NewChainDispatcher(ledger, gateway, store, from, discardLogger)
	require.NoError(t, d.Dispatch(ctx, created, interfaces.Key{}))

	events := ledger.EventsSince(0)
	require.Len(t, events, 1)
	request, ok := events[0].Event.(chain.OracleRequestEvent)
	require.True(t, ok)
	assert.Equal(t, "https://api.example.com/price", request.URL)
	assert.Equal(t, "GET", request.Method)
}

func TestChainDispatcherValidation(t *testing.T) {
	ledger, gateway := newChainFixture(t)
	store := storage.NewMemoryStore()
	from := common.HexToAddress("0x00000000000000000000000000000000000000b1")
	d := NewChainDispatcher(ledger, gateway, store, from, discardLogger)
	ctx := context.Background()

	var validationErr *interfaces.ValidationError

	err := d.Dispatch(ctx, interfaces.Request{ID: "x", Consumer: "not-an-address", Seed: "s"}, interfaces.Key{})
	require.Error(t, err)
	assert.ErrorAs(t, err, &validationErr)

	err = d.Dispatch(ctx, interfaces.Request{
		ID:       "x",
		Consumer: "0x00000000000000000000000000000000000000c1",
		Seed:     "s",
		Metadata: map[string]string{MetadataService: "weather"},
	}, interfaces.Key{})
	require.Error(t, err)
	assert.ErrorAs(t, err, &validationErr)

	err = d.Dispatch(ctx, interfaces.Request{
		ID:       "x",
		Consumer: "0x00000000000000000000000000000000000000c1",
		Seed:     "s",
		Metadata: map[string]string{MetadataNumWords: "many"},
	}, interfaces.Key{})
	require.Error(t, err)
	assert.ErrorAs(t, err, &validationErr)

	// Oracle dispatch without a URL aborts the transaction on-chain.
	err = d.Dispatch(ctx, interfaces.Request{
		ID:       "x",
		Consumer: "0x00000000000000000000000000000000000000c1",
		Seed:     "s",
		Metadata: map[string]string{MetadataService: "oracle"},
	}, interfaces.Key{})
	require.Error(t, err)
	assert.ErrorIs(t, err, chain.ErrAborted)
	assert.Empty(t, ledger.EventsSince(0))
}
