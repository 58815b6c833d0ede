// Package dispatch provides Dispatcher implementations that hand created
// requests to the TEE executor channel: an HTTP dispatcher posting to the
// watcher's attested endpoint (with optional DNS SRV endpoint discovery) and a
// chain dispatcher submitting directly through the on-chain gateway.
package dispatch
