package chain

import (
	"context"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// eventPollInterval is how often WaitForEvents re-checks the feed.
const eventPollInterval = 250 * time.Millisecond

// Event is a notification published by a contract. Each event carries every
// field the TEE executor needs to act without further on-chain reads.
type Event interface {
	EventName() string
}

// Event names as they appear on the wire, shared with deployed consumers.
const (
	EventOracleRequest   = "OracleRequest"
	EventOracleFulfilled = "OracleFulfilled"
	EventVRFRequest      = "VRFRequest"
	EventVRFFulfilled    = "VRFFulfilled"
)

// OracleRequestEvent announces a pending oracle fetch.
type OracleRequestEvent struct {
	RequestID    uint64
	UserContract common.Address
	URL          string
	Method       string
	Headers      []Header
	JSONPath     string
}

func (OracleRequestEvent) EventName() string { return EventOracleRequest }

// OracleFulfilledEvent announces a stored oracle result.
type OracleFulfilledEvent struct {
	RequestID uint64
	Result    []byte
}

func (OracleFulfilledEvent) EventName() string { return EventOracleFulfilled }

// VRFRequestEvent announces a pending randomness request. Seed is the
// enhanced seed: the caller-supplied entropy bound to the block hash and the
// request ID, so identical caller seeds never collide across requests.
type VRFRequestEvent struct {
	RequestID    uint64
	UserContract common.Address
	Seed         []byte
	NumWords     uint8
}

func (VRFRequestEvent) EventName() string { return EventVRFRequest }

// VRFFulfilledEvent announces stored randomness and its proof.
type VRFFulfilledEvent struct {
	RequestID   uint64
	RandomWords [][]byte
	Proof       []byte
}

func (VRFFulfilledEvent) EventName() string { return EventVRFFulfilled }

func sleepCtx(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
