package watcher

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/ethereum/go-ethereum/common"
	"go.uber.org/atomic"

	"github.com/ruteri/tee-oracle-bridge/chain"
	"github.com/ruteri/tee-oracle-bridge/metrics"
)

// Watcher follows the gateway's event feed and fulfills pending requests. One
// watcher instance handles both service kinds; a request that fails to
// fulfill is logged and skipped, its stored request stays pending for a later
// instance or a manual retry.
type Watcher struct {
	ledger  *chain.Ledger
	gateway *chain.Gateway
	relayer common.Address
	prover  *Prover
	fetcher *Fetcher
	log     *slog.Logger

	lastSeq *atomic.Uint64
}

// New creates a watcher submitting fulfillments as the given relayer address.
func New(ledger *chain.Ledger, gateway *chain.Gateway, relayer common.Address, prover *Prover, fetcher *Fetcher, log *slog.Logger) *Watcher {
	return &Watcher{
		ledger:  ledger,
		gateway: gateway,
		relayer: relayer,
		prover:  prover,
		fetcher: fetcher,
		log:     log,
		lastSeq: atomic.NewUint64(0),
	}
}

// LastSeq returns the highest event sequence number the watcher has
// processed.
func (w *Watcher) LastSeq() uint64 {
	return w.lastSeq.Load()
}

// Run follows the event feed until the context is canceled. Request events
// are fulfilled in feed order; fulfillment events are ignored.
func (w *Watcher) Run(ctx context.Context) error {
	w.log.Info("watcher started", "relayer", w.relayer.Hex())
	for {
		events, err := w.ledger.WaitForEvents(ctx, w.lastSeq.Load())
		if err != nil {
			w.log.Info("watcher stopped", "err", err)
			return err
		}
		for _, rec := range events {
			w.handle(ctx, rec)
			w.lastSeq.Store(rec.Seq)
		}
	}
}

// Drain processes everything currently in the feed and returns. Used by tests
// and one-shot tooling; Run is the production loop.
func (w *Watcher) Drain(ctx context.Context) {
	for _, rec := range w.ledger.EventsSince(w.lastSeq.Load()) {
		w.handle(ctx, rec)
		w.lastSeq.Store(rec.Seq)
	}
}

func (w *Watcher) handle(ctx context.Context, rec chain.EventRecord) {
	switch ev := rec.Event.(type) {
	case chain.VRFRequestEvent:
		if err := w.fulfillVRF(ev); err != nil {
			w.log.Error("vrf fulfillment failed", "err", err, "onchain_request_id", ev.RequestID)
		}
	case chain.OracleRequestEvent:
		if err := w.fulfillOracle(ctx, ev); err != nil {
			w.log.Error("oracle fulfillment failed", "err", err, "onchain_request_id", ev.RequestID)
		}
	}
}

func (w *Watcher) fulfillVRF(ev chain.VRFRequestEvent) error {
	result, err := w.prover.Fulfill(ev.Seed, ev.NumWords)
	if err != nil {
		return err
	}
	encoded, err := chain.EncodeVRFResult(result)
	if err != nil {
		return err
	}
	if err := w.submit(ev.RequestID, encoded); err != nil {
		return err
	}
	w.log.Info("vrf request fulfilled", "onchain_request_id", ev.RequestID, "num_words", ev.NumWords)
	return nil
}

func (w *Watcher) fulfillOracle(ctx context.Context, ev chain.OracleRequestEvent) error {
	result, err := w.fetcher.Fetch(ctx, ev)
	if err != nil {
		return err
	}
	if err := w.submit(ev.RequestID, result); err != nil {
		return err
	}
	w.log.Info("oracle request fulfilled", "onchain_request_id", ev.RequestID, "url", ev.URL, "result_bytes", len(result))
	return nil
}

func (w *Watcher) submit(requestID uint64, result []byte) error {
	err := w.ledger.Submit(w.relayer, func(rt chain.Runtime) error {
		return w.gateway.Fulfill(rt, requestID, result)
	})
	if err != nil {
		return fmt.Errorf("fulfillment transaction failed: %w", err)
	}
	metrics.FulfillmentsSubmittedTotal.Inc()
	return nil
}
