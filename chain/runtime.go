package chain

import (
	"context"
	"encoding/binary"
	"errors"
	"sync"

	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
)

// ErrAborted wraps a contract assertion failure. The transaction is rolled
// back: no state is changed and no events are published.
var ErrAborted = errors.New("transaction aborted")

// Runtime is the execution context a contract sees during one call. Nested
// contract calls derive a new Runtime whose calling script hash is the
// invoking contract's address.
type Runtime interface {
	// CallingScriptHash returns the address of the immediate caller: the
	// transaction sender for a top-level call, the invoking contract for a
	// nested call.
	CallingScriptHash() common.Address

	// BlockHeight returns the height of the block containing the transaction.
	BlockHeight() uint64

	// BlockHash returns the hash of the block containing the transaction.
	BlockHash() common.Hash

	// Notify queues an event for publication. Events are published only if
	// the whole transaction succeeds.
	Notify(event Event)

	// WithCaller derives a runtime for a nested call made by the contract at
	// the given address.
	WithCaller(addr common.Address) Runtime
}

// EventRecord is a published event together with its position in the feed.
type EventRecord struct {
	Seq    uint64
	Height uint64
	Event  Event
}

// Ledger is a deterministic in-process chain: it serializes transaction
// execution, advances one block per transaction and records events emitted by
// successful transactions. It stands in for the real chain in tests and local
// deployments; the contract semantics are identical either way.
type Ledger struct {
	mu      sync.Mutex
	height  uint64
	hash    common.Hash
	nextSeq uint64
	events  []EventRecord
}

// NewLedger creates an empty ledger at height zero.
func NewLedger() *Ledger {
	return &Ledger{hash: crypto.Keccak256Hash([]byte("genesis"))}
}

// Submit executes fn as a single transaction sent by from. The ledger advances
// one block, runs fn with a fresh runtime and, when fn succeeds, publishes the
// events it queued. On error nothing is published and the error is returned
// wrapped in ErrAborted semantics via errors.Join-free wrapping at the caller.
func (l *Ledger) Submit(from common.Address, fn func(rt Runtime) error) error {
	l.mu.Lock()
	defer l.mu.Unlock()

	l.height++
	var heightBytes [8]byte
	binary.BigEndian.PutUint64(heightBytes[:], l.height)
	l.hash = crypto.Keccak256Hash(l.hash.Bytes(), heightBytes[:])

	rt := &txRuntime{caller: from, height: l.height, blockHash: l.hash}
	if err := fn(rt); err != nil {
		return err
	}
	for _, ev := range rt.pending {
		l.nextSeq++
		l.events = append(l.events, EventRecord{Seq: l.nextSeq, Height: l.height, Event: ev})
	}
	return nil
}

// Height returns the current block height.
func (l *Ledger) Height() uint64 {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.height
}

// EventsSince returns all published events with a sequence number strictly
// greater than seq. Pass zero for the full feed.
func (l *Ledger) EventsSince(seq uint64) []EventRecord {
	l.mu.Lock()
	defer l.mu.Unlock()
	idx := len(l.events)
	for i, rec := range l.events {
		if rec.Seq > seq {
			idx = i
			break
		}
	}
	out := make([]EventRecord, len(l.events)-idx)
	copy(out, l.events[idx:])
	return out
}

// WaitForEvents blocks until at least one event newer than seq is available
// or the context is done. Polling is intentionally simple; the feed models a
// chain RPC, not an in-process queue.
func (l *Ledger) WaitForEvents(ctx context.Context, seq uint64) ([]EventRecord, error) {
	for {
		if evs := l.EventsSince(seq); len(evs) > 0 {
			return evs, nil
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		default:
		}
		if err := sleepCtx(ctx, eventPollInterval); err != nil {
			return nil, err
		}
	}
}

type txRuntime struct {
	caller    common.Address
	height    uint64
	blockHash common.Hash
	pending   []Event
	root      *txRuntime
}

func (r *txRuntime) CallingScriptHash() common.Address { return r.caller }
func (r *txRuntime) BlockHeight() uint64               { return r.height }
func (r *txRuntime) BlockHash() common.Hash            { return r.blockHash }

func (r *txRuntime) Notify(event Event) {
	if r.root != nil {
		r.root.pending = append(r.root.pending, event)
		return
	}
	r.pending = append(r.pending, event)
}

func (r *txRuntime) WithCaller(addr common.Address) Runtime {
	root := r.root
	if root == nil {
		root = r
	}
	return &txRuntime{caller: addr, height: r.height, blockHash: r.blockHash, root: root}
}
