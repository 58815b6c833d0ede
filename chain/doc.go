// Package chain models the on-chain half of the oracle bridge: the gateway
// contract, the oracle and VRF service contracts, and a deterministic ledger
// that executes transactions against them.
//
// # Execution Model
//
// On-chain execution is single-threaded and deterministic per transaction.
// The Ledger serializes transaction execution; each submitted transaction runs
// in its own block. A transaction either completes fully or aborts with an
// error, in which case none of its emitted events are published.
//
// # Gateway Pattern
//
// The gateway is the single authorized entry and exit point between user
// contracts and the service contracts. Service contracts reject any caller
// other than their registered gateway, so arbitrary contracts cannot spoof
// requests or fulfillments. The registered-gateway cell on a service contract
// is mutable only by the current gateway.
//
// # Event Feed
//
// Events published by successful transactions form the message channel to the
// TEE executor. The executor watches the feed, performs the computation and
// submits the result back through the gateway in a later transaction; no
// synchronous call path between the two sides exists.
package chain
