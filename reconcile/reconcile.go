// Package reconcile converges the off-chain request records with on-chain
// state. The two sides are separate sources of truth correlated by the
// on-chain request ID; this background job advances record statuses from
// chain reads and archives records that reach a terminal status. It never
// runs on the request hot path.
package reconcile

import (
	"context"
	"log/slog"
	"strconv"
	"time"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
	"github.com/ruteri/tee-oracle-bridge/metrics"
)

const (
	// DefaultInterval is the sweep period.
	DefaultInterval = 15 * time.Second
	// DefaultBatchSize bounds how many records per status a sweep examines.
	DefaultBatchSize = 100
)

// Reconciler sweeps non-terminal request records and advances them from
// on-chain state: pending becomes dispatched once the stored request exists,
// and either becomes fulfilled once a result is stored. Fulfilled records are
// written to the configured archive sinks.
type Reconciler struct {
	requests interfaces.RequestStore
	reader   interfaces.ChainReader
	archives []interfaces.ArchiveSink
	log      *slog.Logger

	interval time.Duration
	batch    int
}

// New creates a reconciler with the default interval and batch size.
func New(requests interfaces.RequestStore, reader interfaces.ChainReader, archives []interfaces.ArchiveSink, log *slog.Logger) *Reconciler {
	return &Reconciler{
		requests: requests,
		reader:   reader,
		archives: archives,
		log:      log,
		interval: DefaultInterval,
		batch:    DefaultBatchSize,
	}
}

// WithInterval overrides the sweep period.
func (r *Reconciler) WithInterval(d time.Duration) *Reconciler {
	r.interval = d
	return r
}

// WithBatchSize overrides the per-status batch bound.
func (r *Reconciler) WithBatchSize(n int) *Reconciler {
	r.batch = n
	return r
}

// Run sweeps periodically until the context is canceled.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			if err := r.ReconcileOnce(ctx); err != nil {
				r.log.Error("reconciliation sweep failed", "err", err)
			}
		}
	}
}

// ReconcileOnce performs a single sweep over pending and dispatched records.
// Per-record failures are logged and skipped; the sweep continues.
func (r *Reconciler) ReconcileOnce(ctx context.Context) error {
	for _, status := range []interfaces.RequestStatus{interfaces.RequestStatusPending, interfaces.RequestStatusDispatched} {
		batch, err := r.requests.ListByStatus(ctx, status, r.batch)
		if err != nil {
			return err
		}
		for _, req := range batch {
			if err := r.reconcileRequest(ctx, req); err != nil {
				r.log.Warn("failed to reconcile request", "err", err, "request_id", req.ID, "status", string(req.Status))
			}
		}
	}
	return nil
}

func (r *Reconciler) reconcileRequest(ctx context.Context, req interfaces.Request) error {
	raw, ok := req.Metadata[interfaces.MetadataOnchainRequestID]
	if !ok {
		// Not yet correlated with an on-chain request; nothing to read.
		return nil
	}
	onchainID, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return err
	}

	fulfilled, err := r.reader.HasResult(ctx, interfaces.RequestID(onchainID))
	if err != nil {
		return err
	}
	if fulfilled {
		updated, err := r.requests.UpdateRequestStatus(ctx, req.ID, interfaces.RequestStatusFulfilled, "")
		if err != nil {
			return err
		}
		metrics.RequestsReconciledTotal.Inc()
		r.log.Info("request fulfilled", "request_id", req.ID, "onchain_request_id", onchainID)
		r.archive(ctx, updated)
		return nil
	}

	if req.Status == interfaces.RequestStatusPending {
		stored, err := r.reader.HasStoredRequest(ctx, interfaces.RequestID(onchainID))
		if err != nil {
			return err
		}
		if stored {
			if _, err := r.requests.UpdateRequestStatus(ctx, req.ID, interfaces.RequestStatusDispatched, ""); err != nil {
				return err
			}
			metrics.RequestsReconciledTotal.Inc()
			r.log.Info("request dispatched on-chain", "request_id", req.ID, "onchain_request_id", onchainID)
		}
	}
	return nil
}

// archive writes a terminal record to every configured sink. Sink failures
// are logged, never propagated; terminal records are not revisited by later
// sweeps.
func (r *Reconciler) archive(ctx context.Context, req interfaces.Request) {
	for _, sink := range r.archives {
		if err := sink.Archive(ctx, req); err != nil {
			r.log.Error("failed to archive request", "err", err, "request_id", req.ID, "sink", sink.LocationURI())
		}
	}
}
