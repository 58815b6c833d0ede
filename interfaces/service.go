package interfaces

import (
	"context"
	"time"
)

// KeyStore persists TEE signing key records. Implementations provide their own
// synchronization and must be safe for concurrent use.
type KeyStore interface {
	CreateKey(ctx context.Context, key Key) (Key, error)
	UpdateKey(ctx context.Context, key Key) (Key, error)
	GetKey(ctx context.Context, keyID string) (Key, error)
	ListKeys(ctx context.Context, accountID string) ([]Key, error)
}

// RequestStore persists request lifecycle records. ListRequests returns
// records newest-first with a stable order for equal timestamps.
type RequestStore interface {
	CreateRequest(ctx context.Context, req Request) (Request, error)
	UpdateRequestStatus(ctx context.Context, requestID string, status RequestStatus, errMsg string) (Request, error)
	// UpdateRequestMetadata merges the given fields into the request's
	// metadata. Used by dispatchers to record correlation identifiers.
	UpdateRequestMetadata(ctx context.Context, requestID string, fields map[string]string) (Request, error)
	GetRequest(ctx context.Context, requestID string) (Request, error)
	ListRequests(ctx context.Context, accountID string, limit int) ([]Request, error)
	// ListByStatus returns up to limit requests in the given status across all
	// accounts. Used by the background reconciler, not by the public API.
	ListByStatus(ctx context.Context, status RequestStatus, limit int) ([]Request, error)
}

// AccountRegistry is the external account and wallet-ownership authority.
type AccountRegistry interface {
	// EnsureAccount returns an error when the account does not exist.
	EnsureAccount(ctx context.Context, accountID string) error
	// EnsureSignersOwned returns an error when any of the given wallet
	// addresses is not owned by the account.
	EnsureSignersOwned(ctx context.Context, accountID string, wallets []string) error
}

// Dispatcher hands a created request to the off-chain executor channel. The
// orchestration service never knows whether dispatch is an HTTP call, a queue
// publish or a direct on-chain submission.
type Dispatcher interface {
	Dispatch(ctx context.Context, req Request, key Key) error
}

// DispatcherFunc allows a plain function to satisfy Dispatcher.
type DispatcherFunc func(ctx context.Context, req Request, key Key) error

func (f DispatcherFunc) Dispatch(ctx context.Context, req Request, key Key) error {
	return f(ctx, req, key)
}

// SpanFinish completes a span, recording the operation outcome.
type SpanFinish func(err error)

// Tracer creates observability spans around dispatch operations. All span
// state is attached to the call's context, never to shared globals.
type Tracer interface {
	StartSpan(ctx context.Context, name string, attrs map[string]string) (context.Context, SpanFinish)
}

// NoopTracer discards all spans.
var NoopTracer Tracer = noopTracer{}

type noopTracer struct{}

func (noopTracer) StartSpan(ctx context.Context, _ string, _ map[string]string) (context.Context, SpanFinish) {
	return ctx, func(error) {}
}

// RetryPolicy bounds dispatch attempts. The zero value means a single attempt
// with no backoff.
type RetryPolicy struct {
	// MaxAttempts is the total number of attempts including the first.
	// Values below 1 are treated as 1.
	MaxAttempts int
	// InitialInterval is the backoff before the second attempt.
	InitialInterval time.Duration
	// MaxInterval caps the growing backoff interval.
	MaxInterval time.Duration
	// Multiplier scales the interval between attempts. Values below 1 fall
	// back to 2.
	Multiplier float64
}

// Attempts normalizes MaxAttempts.
func (p RetryPolicy) Attempts() int {
	if p.MaxAttempts < 1 {
		return 1
	}
	return p.MaxAttempts
}

// DispatchHooks are optional callbacks around each dispatch operation,
// invoked once per request (not per attempt).
type DispatchHooks struct {
	BeforeDispatch func(ctx context.Context, req Request, key Key)
	AfterDispatch  func(ctx context.Context, req Request, key Key, err error)
}

// ChainReader is a read-only view of on-chain request state, consumed by the
// reconciler. The on-chain stored request's presence is the authoritative
// pending marker; a stored result marks fulfillment.
type ChainReader interface {
	HasStoredRequest(ctx context.Context, id RequestID) (bool, error)
	HasResult(ctx context.Context, id RequestID) (bool, error)
}

// ArchiveSink receives terminal request records for long-term audit storage.
type ArchiveSink interface {
	Archive(ctx context.Context, req Request) error
	// LocationURI returns the canonical URI of this sink for logging.
	LocationURI() string
}

// MetadataOnchainRequestID is the request metadata field correlating the
// off-chain record with its on-chain request ID. Set by dispatchers that
// submit through the gateway; read by the reconciler.
const MetadataOnchainRequestID = "onchain_request_id"
