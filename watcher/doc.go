// Package watcher is the reference TEE executor. It follows the event feed of
// the on-chain gateway, produces randomness with proofs for VRF requests and
// fetches external data for oracle requests, and submits fulfillments back
// through the gateway as an authorized relayer. It is a peer of the off-chain
// service, never called by it synchronously.
package watcher
