// Package bridge implements the off-chain orchestration service of the
// oracle bridge: TEE key registration and compute request lifecycle
// management.
//
// The service validates and persists keys and requests, enforcing the
// ownership invariants (wallet addresses owned by the registering account,
// keys and requests readable only by their owning account), and hands created
// requests to an injected Dispatcher under a configurable retry policy with
// tracing hooks.
//
// Create-and-dispatch is at-least-once: a dispatcher failure surfaces to the
// caller, but the persisted request stays queryable in pending status so an
// out-of-band re-dispatch or the background reconciler can recover it. The
// request row is the durable record of intent; the on-chain event stream is
// the actual trigger for TEE action.
//
// All methods are safe for concurrent use. The service holds no locks across
// store I/O and keeps no global mutable state; per-call observability is
// attached to the call's context.
package bridge
