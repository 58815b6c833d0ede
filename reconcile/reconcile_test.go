package reconcile

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
	"github.com/ruteri/tee-oracle-bridge/storage"
)

type fakeChainReader struct {
	stored  map[interfaces.RequestID]bool
	results map[interfaces.RequestID]bool
	err     error
}

func (f *fakeChainReader) HasStoredRequest(_ context.Context, id interfaces.RequestID) (bool, error) {
	return f.stored[id], f.err
}

func (f *fakeChainReader) HasResult(_ context.Context, id interfaces.RequestID) (bool, error) {
	return f.results[id], f.err
}

type recordingSink struct {
	archived []interfaces.Request
	err      error
}

func (s *recordingSink) Archive(_ context.Context, req interfaces.Request) error {
	if s.err != nil {
		return s.err
	}
	s.archived = append(s.archived, req)
	return nil
}

func (s *recordingSink) LocationURI() string { return "test://sink" }

func create(t *testing.T, store interfaces.RequestStore, status interfaces.RequestStatus, onchainID string) interfaces.Request {
	t.Helper()
	metadata := map[string]string{}
	if onchainID != "" {
		metadata[interfaces.MetadataOnchainRequestID] = onchainID
	}
	req, err := store.CreateRequest(context.Background(), interfaces.Request{
		AccountID: "acc1",
		KeyID:     "key1",
		Consumer:  "consumer",
		Seed:      "seed",
		Status:    status,
		Metadata:  metadata,
	})
	require.NoError(t, err)
	return req
}

func TestReconcileAdvancesStatuses(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	submitted := create(t, store, interfaces.RequestStatusPending, "1")
	executing := create(t, store, interfaces.RequestStatusDispatched, "2")
	uncorrelated := create(t, store, interfaces.RequestStatusPending, "")

	reader := &fakeChainReader{
		stored:  map[interfaces.RequestID]bool{1: true},
		results: map[interfaces.RequestID]bool{2: true},
	}
	sink := &recordingSink{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(store, reader, []interfaces.ArchiveSink{sink}, log)

	require.NoError(t, r.ReconcileOnce(ctx))

	got, err := store.GetRequest(ctx, submitted.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestStatusDispatched, got.Status)

	got, err = store.GetRequest(ctx, executing.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestStatusFulfilled, got.Status)

	got, err = store.GetRequest(ctx, uncorrelated.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestStatusPending, got.Status)

	require.Len(t, sink.archived, 1)
	assert.Equal(t, executing.ID, sink.archived[0].ID)

	// A second sweep moves the now-dispatched record no further (no result
	// yet) and archives nothing new.
	require.NoError(t, r.ReconcileOnce(ctx))
	assert.Len(t, sink.archived, 1)
}

func TestReconcileFulfillsStraightFromPending(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	// The watcher fulfilled before the reconciler ever saw the dispatched
	// state; pending jumps straight to fulfilled.
	req := create(t, store, interfaces.RequestStatusPending, "7")
	reader := &fakeChainReader{results: map[interfaces.RequestID]bool{7: true}}
	sink := &recordingSink{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(store, reader, []interfaces.ArchiveSink{sink}, log)

	require.NoError(t, r.ReconcileOnce(ctx))

	got, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestStatusFulfilled, got.Status)
	assert.Len(t, sink.archived, 1)
}

func TestReconcileSkipsBadRecords(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	create(t, store, interfaces.RequestStatusPending, "not-a-number")
	good := create(t, store, interfaces.RequestStatusPending, "3")

	reader := &fakeChainReader{stored: map[interfaces.RequestID]bool{3: true}}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(store, reader, nil, log)

	// The malformed record is logged and skipped; the good one advances.
	require.NoError(t, r.ReconcileOnce(ctx))
	got, err := store.GetRequest(ctx, good.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestStatusDispatched, got.Status)
}

func TestReconcileArchiveFailureDoesNotBlock(t *testing.T) {
	store := storage.NewMemoryStore()
	ctx := context.Background()

	req := create(t, store, interfaces.RequestStatusDispatched, "5")
	reader := &fakeChainReader{results: map[interfaces.RequestID]bool{5: true}}
	broken := &recordingSink{err: errors.New("sink offline")}
	working := &recordingSink{}
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(store, reader, []interfaces.ArchiveSink{broken, working}, log)

	require.NoError(t, r.ReconcileOnce(ctx))

	got, err := store.GetRequest(ctx, req.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestStatusFulfilled, got.Status)
	assert.Len(t, working.archived, 1)
}

func TestRunStopsOnCancel(t *testing.T) {
	store := storage.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	r := New(store, &fakeChainReader{}, nil, log).WithInterval(time.Millisecond)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- r.Run(ctx) }()
	time.Sleep(10 * time.Millisecond)
	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
