package chain

import (
	"fmt"
	"sync"

	"github.com/ethereum/go-ethereum/common"
)

// OracleStoredRequest is the ephemeral on-chain record of a pending oracle
// fetch. Its presence is the authoritative pending marker; it is written by
// OnRequest and deleted by OnFulfill.
type OracleStoredRequest struct {
	URL          string
	Method       string
	Headers      []Header
	JSONPath     string
	UserContract common.Address
}

// OracleContract stores pending oracle requests and fulfilled results. Only
// the registered gateway may create or fulfill requests; results carry no
// contract-level verification. Trust is placed in the gateway plus the TEE
// attestation chain.
type OracleContract struct {
	// mu serializes off-chain reads against transaction execution. Within a
	// transaction execution is already single-threaded.
	mu      sync.RWMutex
	gateway common.Address
	stored  map[uint64]OracleStoredRequest
	results map[uint64][]byte
}

// NewOracleContract deploys an oracle contract with the given gateway as the
// registered single writer.
func NewOracleContract(gateway common.Address) *OracleContract {
	return &OracleContract{
		gateway: gateway,
		stored:  make(map[uint64]OracleStoredRequest),
		results: make(map[uint64][]byte),
	}
}

// SetGateway updates the registered gateway. Only the current gateway may
// rotate it.
func (c *OracleContract) SetGateway(rt Runtime, gateway common.Address) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt.CallingScriptHash() != c.gateway {
		return fmt.Errorf("%w: unauthorized", ErrAborted)
	}
	c.gateway = gateway
	return nil
}

// OnRequest stores a pending oracle request and emits the request event. The
// payload must decode to an OracleRequestPayload with a non-empty URL.
func (c *OracleContract) OnRequest(rt Runtime, requestID uint64, userContract common.Address, payload []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt.CallingScriptHash() != c.gateway {
		return fmt.Errorf("%w: unauthorized", ErrAborted)
	}
	if _, exists := c.stored[requestID]; exists {
		return fmt.Errorf("%w: request %d already pending", ErrAborted, requestID)
	}
	p, err := DecodeOracleRequest(payload)
	if err != nil {
		return fmt.Errorf("%w: %v", ErrAborted, err)
	}
	c.stored[requestID] = OracleStoredRequest{
		URL:          p.URL,
		Method:       p.Method,
		Headers:      p.Headers,
		JSONPath:     p.JSONPath,
		UserContract: userContract,
	}
	rt.Notify(OracleRequestEvent{
		RequestID:    requestID,
		UserContract: userContract,
		URL:          p.URL,
		Method:       p.Method,
		Headers:      p.Headers,
		JSONPath:     p.JSONPath,
	})
	return nil
}

// OnFulfill stores the result, deletes the pending request and emits the
// fulfillment event. A missing stored request aborts the transaction so a
// corrected fulfillment can be retried.
func (c *OracleContract) OnFulfill(rt Runtime, requestID uint64, result []byte) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if rt.CallingScriptHash() != c.gateway {
		return fmt.Errorf("%w: unauthorized", ErrAborted)
	}
	if _, exists := c.stored[requestID]; !exists {
		return fmt.Errorf("%w: no pending request %d", ErrAborted, requestID)
	}
	c.results[requestID] = result
	delete(c.stored, requestID)
	rt.Notify(OracleFulfilledEvent{RequestID: requestID, Result: result})
	return nil
}

// GetResult returns the stored result bytes, or nil when the request has not
// been fulfilled. Read-only, callable by anyone.
func (c *OracleContract) GetResult(requestID uint64) []byte {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.results[requestID]
}

// StoredRequest returns the pending request record, if present. Read-only.
func (c *OracleContract) StoredRequest(requestID uint64) (OracleStoredRequest, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	req, ok := c.stored[requestID]
	return req, ok
}
