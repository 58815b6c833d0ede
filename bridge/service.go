package bridge

import (
	"context"
	"log/slog"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
	"github.com/ruteri/tee-oracle-bridge/metrics"
)

// Service orchestrates TEE key and request management. Construct with New and
// configure the dispatch path with the With* setters before serving traffic.
type Service struct {
	accounts interfaces.AccountRegistry
	keys     interfaces.KeyStore
	requests interfaces.RequestStore
	log      *slog.Logger

	dispatcher interfaces.Dispatcher
	dispatch   dispatchOptions
}

// New creates a bridge service. The default dispatcher is a no-op so the
// service is usable in read-only deployments; production wiring injects one
// of the dispatch package implementations.
func New(accounts interfaces.AccountRegistry, keys interfaces.KeyStore, requests interfaces.RequestStore, log *slog.Logger) *Service {
	return &Service{
		accounts: accounts,
		keys:     keys,
		requests: requests,
		log:      log,
		dispatcher: interfaces.DispatcherFunc(func(context.Context, interfaces.Request, interfaces.Key) error {
			return nil
		}),
		dispatch: newDispatchOptions(),
	}
}

// WithDispatcher overrides the dispatcher implementation.
func (s *Service) WithDispatcher(d interfaces.Dispatcher) {
	if d != nil {
		s.dispatcher = d
	}
}

// WithDispatcherRetry configures retry behavior for dispatcher calls.
func (s *Service) WithDispatcherRetry(policy interfaces.RetryPolicy) {
	s.dispatch.retry = policy
}

// WithTracer configures a tracer for dispatcher operations.
func (s *Service) WithTracer(t interfaces.Tracer) {
	if t == nil {
		t = interfaces.NoopTracer
	}
	s.dispatch.tracer = t
}

// WithDispatcherHooks configures optional observability hooks invoked around
// each dispatch.
func (s *Service) WithDispatcherHooks(h interfaces.DispatchHooks) {
	s.dispatch.hooks = h
}

func (s *Service) countKeyCreated() {
	metrics.KeysCreatedTotal.Inc()
}

func (s *Service) countRequestCreated() {
	metrics.RequestsCreatedTotal.Inc()
}
