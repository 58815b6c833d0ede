// Package storage provides the persistence backends of the oracle bridge.
//
// Two families of backends exist, both created from location URIs by the
// Factory:
//
// Record stores implement interfaces.KeyStore and interfaces.RequestStore:
//
//   - memory://                       in-process, for tests and development
//   - file:///var/lib/bridge         JSON records on the local filesystem
//   - postgres://user@host/db        PostgreSQL via pgx
//   - vault://host:8200/secret/path  HashiCorp Vault KV v2 (key records only)
//
// Archive sinks implement interfaces.ArchiveSink and receive terminal request
// records from the reconciler:
//
//   - file:///var/lib/bridge/archive
//   - s3://bucket/prefix?region=us-east-1
//   - ipfs://127.0.0.1:5001
//
// All stores provide their own synchronization; callers may invoke them from
// any goroutine.
package storage
