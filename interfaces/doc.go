// Package interfaces defines the core interfaces and types of the oracle
// bridge, separating interface definitions from implementations.
//
// The package provides the contracts between the main components:
//
// # Domain Types
//
// Key: a registered TEE signing key scoped to an account, carrying the public
// key, the owning wallet address and an attestation blob.
//
// Request: the durable off-chain record of a compute request. The row is the
// record of intent; the on-chain stored request is an independent source of
// truth correlated by request ID, and the two are only eventually consistent.
//
// # Collaborator Interfaces
//
// KeyStore, RequestStore: persistence for key and request records. Stores
// provide their own synchronization; callers never hold locks across store I/O.
//
// AccountRegistry: external authority answering whether an account exists and
// whether it owns a given set of wallet addresses. Consumed, never implemented
// here.
//
// Dispatcher: hands a validated request to whatever channel ultimately reaches
// the TEE executor (HTTP call to a watcher, direct on-chain submission, queue).
// The orchestration service is written purely against this interface.
//
// Tracer, DispatchHooks, RetryPolicy: observability and retry strategy injected
// into the dispatch path.
//
// ChainReader: read-only view of the on-chain request state, used by the
// background reconciler.
//
// ArchiveSink: write-only sink for terminal request records (file, S3, IPFS).
//
// # Error Taxonomy
//
// ValidationError, OwnershipError and DispatchError let API callers distinguish
// fix-your-input failures from cross-tenant violations from retryable transport
// failures.
package interfaces
