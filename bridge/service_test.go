package bridge

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
	"github.com/ruteri/tee-oracle-bridge/storage"
)

const testWallet = "0x00000000000000000000000000000000000000D1"

func newTestService(t *testing.T) (*Service, *storage.MemoryStore) {
	t.Helper()
	registry := NewStaticAccountRegistry()
	registry.AddAccount("acc1", testWallet)
	registry.AddAccount("acc2", testWallet)
	store := storage.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	return New(registry, store, store, log), store
}

func createTestKey(t *testing.T, s *Service, accountID string) interfaces.Key {
	t.Helper()
	key, err := s.CreateKey(context.Background(), interfaces.Key{
		AccountID:     accountID,
		PublicKey:     "03aabb",
		WalletAddress: testWallet,
	})
	require.NoError(t, err)
	return key
}

func TestCreateKeyNormalization(t *testing.T) {
	s, _ := newTestService(t)

	key, err := s.CreateKey(context.Background(), interfaces.Key{
		AccountID:     "acc1",
		PublicKey:     "  03aabb  ",
		WalletAddress: "  " + testWallet + "  ",
		Metadata:      map[string]string{" env ": " prod ", "empty": "  "},
	})
	require.NoError(t, err)
	assert.Equal(t, "03aabb", key.PublicKey)
	assert.Equal(t, "0x00000000000000000000000000000000000000d1", key.WalletAddress)
	assert.Equal(t, interfaces.KeyStatusInactive, key.Status)
	assert.Equal(t, map[string]string{"env": "prod"}, key.Metadata)
}

func TestCreateKeyValidationBeforePersistence(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()

	cases := []interfaces.Key{
		{AccountID: "acc1", WalletAddress: testWallet},
		{AccountID: "acc1", PublicKey: "03aabb"},
		{AccountID: "acc1", PublicKey: "03aabb", WalletAddress: testWallet, Status: "frozen"},
		{AccountID: "missing-account", PublicKey: "03aabb", WalletAddress: testWallet},
	}
	for _, key := range cases {
		_, err := s.CreateKey(ctx, key)
		require.Error(t, err)
	}

	keys, err := store.ListKeys(ctx, "acc1")
	require.NoError(t, err)
	assert.Empty(t, keys, "no store write on validation failure")
}

func TestCreateKeyUnownedWallet(t *testing.T) {
	s, _ := newTestService(t)
	_, err := s.CreateKey(context.Background(), interfaces.Key{
		AccountID:     "acc1",
		PublicKey:     "03aabb",
		WalletAddress: "0x0000000000000000000000000000000000000099",
	})
	var validationErr *interfaces.ValidationError
	require.ErrorAs(t, err, &validationErr)
}

func TestUpdateKeyAccountImmutable(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	key := createTestKey(t, s, "acc1")

	key.AccountID = "acc2"
	key.Status = interfaces.KeyStatusActive
	updated, err := s.UpdateKey(ctx, "acc1", key)
	require.NoError(t, err)
	assert.Equal(t, "acc1", updated.AccountID)
	assert.Equal(t, interfaces.KeyStatusActive, updated.Status)
}

func TestKeyOwnershipScoping(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	key := createTestKey(t, s, "acc1")

	var ownershipErr *interfaces.OwnershipError

	_, err := s.GetKey(ctx, "acc2", key.ID)
	require.ErrorAs(t, err, &ownershipErr)

	_, err = s.UpdateKey(ctx, "acc2", key)
	require.ErrorAs(t, err, &ownershipErr)

	_, err = s.GetKey(ctx, "acc1", "missing")
	assert.ErrorIs(t, err, interfaces.ErrNotFound)
}

func TestCreateRequestDispatches(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	key := createTestKey(t, s, "acc1")

	dispatcher := new(MockDispatcher)
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	s.WithDispatcher(dispatcher)

	created, err := s.CreateRequest(ctx, "acc1", key.ID, "consumer-contract", "entropy", map[string]string{"num_words": "3"})
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestStatusPending, created.Status)
	assert.NotEmpty(t, created.ID)

	dispatcher.AssertExpectations(t)
	dispatched := dispatcher.Calls[0].Arguments.Get(1).(interfaces.Request)
	assert.Equal(t, created.ID, dispatched.ID, "dispatcher sees the persisted record")
}

func TestCreateRequestValidation(t *testing.T) {
	s, store := newTestService(t)
	ctx := context.Background()
	key := createTestKey(t, s, "acc1")

	dispatcher := new(MockDispatcher)
	s.WithDispatcher(dispatcher)

	_, err := s.CreateRequest(ctx, "acc1", key.ID, "  ", "entropy", nil)
	require.Error(t, err)
	_, err = s.CreateRequest(ctx, "acc1", key.ID, "consumer", "  ", nil)
	require.Error(t, err)
	_, err = s.CreateRequest(ctx, "acc1", "missing-key", "consumer", "entropy", nil)
	assert.ErrorIs(t, err, interfaces.ErrNotFound)

	// Cross-tenant key reference is rejected before any write.
	otherKey := createTestKey(t, s, "acc2")
	var ownershipErr *interfaces.OwnershipError
	_, err = s.CreateRequest(ctx, "acc1", otherKey.ID, "consumer", "entropy", nil)
	require.ErrorAs(t, err, &ownershipErr)

	requests, err := store.ListByStatus(ctx, interfaces.RequestStatusPending, 10)
	require.NoError(t, err)
	assert.Empty(t, requests)
	dispatcher.AssertNotCalled(t, "Dispatch", mock.Anything, mock.Anything, mock.Anything)
}

func TestCreateRequestAtLeastOnce(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	key := createTestKey(t, s, "acc1")

	dispatcher := new(MockDispatcher)
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("executor unreachable"))
	s.WithDispatcher(dispatcher)

	created, err := s.CreateRequest(ctx, "acc1", key.ID, "consumer", "entropy", nil)
	var dispatchErr *interfaces.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, created.ID, dispatchErr.RequestID)
	assert.Equal(t, 1, dispatchErr.Attempts)

	// The record survives the dispatch failure, still pending.
	stored, err := s.GetRequest(ctx, "acc1", created.ID)
	require.NoError(t, err)
	assert.Equal(t, interfaces.RequestStatusPending, stored.Status)
}

func TestCreateRequestRetriesPerPolicy(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	key := createTestKey(t, s, "acc1")

	dispatcher := new(MockDispatcher)
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("flaky")).Twice()
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	s.WithDispatcher(dispatcher)
	s.WithDispatcherRetry(interfaces.RetryPolicy{MaxAttempts: 3, InitialInterval: 1, MaxInterval: 1})

	_, err := s.CreateRequest(ctx, "acc1", key.ID, "consumer", "entropy", nil)
	require.NoError(t, err)
	dispatcher.AssertNumberOfCalls(t, "Dispatch", 3)
}

func TestCreateRequestExhaustedRetries(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	key := createTestKey(t, s, "acc1")

	dispatcher := new(MockDispatcher)
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("down"))
	s.WithDispatcher(dispatcher)
	s.WithDispatcherRetry(interfaces.RetryPolicy{MaxAttempts: 3, InitialInterval: 1, MaxInterval: 1})

	_, err := s.CreateRequest(ctx, "acc1", key.ID, "consumer", "entropy", nil)
	var dispatchErr *interfaces.DispatchError
	require.ErrorAs(t, err, &dispatchErr)
	assert.Equal(t, 3, dispatchErr.Attempts)
}

type recordingTracer struct {
	names []string
	attrs []map[string]string
	errs  []error
}

func (r *recordingTracer) StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, interfaces.SpanFinish) {
	r.names = append(r.names, name)
	r.attrs = append(r.attrs, attrs)
	return ctx, func(err error) { r.errs = append(r.errs, err) }
}

func TestDispatchTracingAndHooks(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	key := createTestKey(t, s, "acc1")

	tracer := &recordingTracer{}
	s.WithTracer(tracer)

	var before, after int
	s.WithDispatcherHooks(interfaces.DispatchHooks{
		BeforeDispatch: func(context.Context, interfaces.Request, interfaces.Key) { before++ },
		AfterDispatch:  func(_ context.Context, _ interfaces.Request, _ interfaces.Key, err error) { after++; assert.NoError(t, err) },
	})

	dispatcher := new(MockDispatcher)
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(errors.New("flaky")).Once()
	dispatcher.On("Dispatch", mock.Anything, mock.Anything, mock.Anything).Return(nil).Once()
	s.WithDispatcher(dispatcher)
	s.WithDispatcherRetry(interfaces.RetryPolicy{MaxAttempts: 2, InitialInterval: 1})

	created, err := s.CreateRequest(ctx, "acc1", key.ID, "consumer", "entropy", nil)
	require.NoError(t, err)

	// Hooks and span fire once per request, not per attempt.
	assert.Equal(t, 1, before)
	assert.Equal(t, 1, after)
	require.Len(t, tracer.names, 1)
	assert.Equal(t, "vrf.dispatch", tracer.names[0])
	assert.Equal(t, created.ID, tracer.attrs[0]["request_id"])
	assert.Equal(t, key.ID, tracer.attrs[0]["key_id"])
	require.Len(t, tracer.errs, 1)
	assert.NoError(t, tracer.errs[0])
}

func TestListRequestsClamped(t *testing.T) {
	s, _ := newTestService(t)
	ctx := context.Background()
	key := createTestKey(t, s, "acc1")

	for i := 0; i < 5; i++ {
		_, err := s.CreateRequest(ctx, "acc1", key.ID, "consumer", "entropy", nil)
		require.NoError(t, err)
	}

	list, err := s.ListRequests(ctx, "acc1", 3)
	require.NoError(t, err)
	assert.Len(t, list, 3)

	// Zero and negative limits fall back to the default instead of erroring.
	list, err = s.ListRequests(ctx, "acc1", 0)
	require.NoError(t, err)
	assert.Len(t, list, 5)
	list, err = s.ListRequests(ctx, "acc1", -1)
	require.NoError(t, err)
	assert.Len(t, list, 5)

	// Identical consecutive reads.
	first, err := s.ListRequests(ctx, "acc1", 10)
	require.NoError(t, err)
	second, err := s.ListRequests(ctx, "acc1", 10)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestAccountRegistryErrorsPropagate(t *testing.T) {
	registry := new(MockAccountRegistry)
	registry.On("EnsureAccount", mock.Anything, "acc1").Return(errors.New("registry offline"))
	store := storage.NewMemoryStore()
	log := slog.New(slog.NewTextHandler(io.Discard, nil))
	s := New(registry, store, store, log)

	_, err := s.CreateKey(context.Background(), interfaces.Key{AccountID: "acc1", PublicKey: "03", WalletAddress: testWallet})
	require.Error(t, err)
	_, err = s.ListRequests(context.Background(), "acc1", 10)
	require.Error(t, err)
	registry.AssertExpectations(t)
}
