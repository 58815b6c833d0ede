package bridge

import (
	"context"

	"github.com/cenkalti/backoff/v4"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
	"github.com/ruteri/tee-oracle-bridge/metrics"
)

// dispatchOptions bundles the injected strategy pieces of the dispatch path:
// retry policy, tracer and hooks. The orchestration logic stays free of any
// concrete transport.
type dispatchOptions struct {
	retry  interfaces.RetryPolicy
	tracer interfaces.Tracer
	hooks  interfaces.DispatchHooks
}

func newDispatchOptions() dispatchOptions {
	return dispatchOptions{tracer: interfaces.NoopTracer}
}

// run executes fn inside a span, invoking hooks once per request and retrying
// per the configured policy. Cancelling the caller's context aborts
// outstanding retries. Exhausted retries surface as a DispatchError.
func (o dispatchOptions) run(ctx context.Context, spanName string, attrs map[string]string, req interfaces.Request, key interfaces.Key, fn func(ctx context.Context) error) error {
	spanCtx, finish := o.tracer.StartSpan(ctx, spanName, attrs)

	if o.hooks.BeforeDispatch != nil {
		o.hooks.BeforeDispatch(spanCtx, req, key)
	}

	attempts := 0
	operation := func() error {
		attempts++
		return fn(spanCtx)
	}

	err := backoff.Retry(operation, backoff.WithContext(o.backoff(), spanCtx))
	if err != nil {
		err = &interfaces.DispatchError{RequestID: req.ID, Attempts: attempts, Err: err}
		metrics.DispatchFailuresTotal.Inc()
	}

	if o.hooks.AfterDispatch != nil {
		o.hooks.AfterDispatch(spanCtx, req, key, err)
	}
	finish(err)
	return err
}

func (o dispatchOptions) backoff() backoff.BackOff {
	policy := o.retry
	b := backoff.NewExponentialBackOff()
	if policy.InitialInterval > 0 {
		b.InitialInterval = policy.InitialInterval
	}
	if policy.MaxInterval > 0 {
		b.MaxInterval = policy.MaxInterval
	}
	if policy.Multiplier >= 1 {
		b.Multiplier = policy.Multiplier
	}
	b.MaxElapsedTime = 0 // bounded by attempt count and caller context
	b.Reset()

	attempts := policy.Attempts()
	if attempts <= 1 {
		return &backoff.StopBackOff{}
	}
	return backoff.WithMaxRetries(b, uint64(attempts-1))
}
