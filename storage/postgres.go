package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
)

// PostgresStore persists key and request records in PostgreSQL. It is the
// production record store; the database provides the synchronization and
// ordering guarantees the store interfaces require.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore connects to the database and ensures the schema exists.
func NewPostgresStore(ctx context.Context, connString string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, connString)
	if err != nil {
		return nil, fmt.Errorf("failed to create connection pool: %w", err)
	}
	s := &PostgresStore{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		pool.Close()
		return nil, err
	}
	return s, nil
}

// Close releases the connection pool.
func (s *PostgresStore) Close() {
	s.pool.Close()
}

func (s *PostgresStore) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS bridge_keys (
	id             TEXT PRIMARY KEY,
	account_id     TEXT NOT NULL,
	public_key     TEXT NOT NULL,
	wallet_address TEXT NOT NULL,
	label          TEXT NOT NULL DEFAULT '',
	status         TEXT NOT NULL,
	attestation    TEXT NOT NULL DEFAULT '',
	metadata       JSONB,
	created_at     TIMESTAMPTZ NOT NULL,
	updated_at     TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS bridge_keys_account_idx ON bridge_keys (account_id);

CREATE TABLE IF NOT EXISTS bridge_requests (
	id         TEXT PRIMARY KEY,
	account_id TEXT NOT NULL,
	key_id     TEXT NOT NULL,
	consumer   TEXT NOT NULL,
	seed       TEXT NOT NULL,
	status     TEXT NOT NULL,
	metadata   JSONB,
	error      TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS bridge_requests_account_idx ON bridge_requests (account_id, created_at DESC);
CREATE INDEX IF NOT EXISTS bridge_requests_status_idx ON bridge_requests (status, created_at DESC);
`)
	return err
}

func marshalMetadata(metadata map[string]string) ([]byte, error) {
	if len(metadata) == 0 {
		return nil, nil
	}
	return json.Marshal(metadata)
}

func unmarshalMetadata(data []byte) (map[string]string, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var metadata map[string]string
	if err := json.Unmarshal(data, &metadata); err != nil {
		return nil, err
	}
	return metadata, nil
}

// CreateKey assigns an ID and timestamps and inserts the key row.
func (s *PostgresStore) CreateKey(ctx context.Context, key interfaces.Key) (interfaces.Key, error) {
	now := time.Now().UTC()
	key.ID = uuid.NewString()
	key.CreatedAt = now
	key.UpdatedAt = now
	metadata, err := marshalMetadata(key.Metadata)
	if err != nil {
		return interfaces.Key{}, err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO bridge_keys (id, account_id, public_key, wallet_address, label, status, attestation, metadata, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		key.ID, key.AccountID, key.PublicKey, key.WalletAddress, key.Label, string(key.Status), key.Attestation, metadata, key.CreatedAt, key.UpdatedAt)
	if err != nil {
		return interfaces.Key{}, err
	}
	return key, nil
}

// UpdateKey rewrites the mutable columns of an existing key row.
func (s *PostgresStore) UpdateKey(ctx context.Context, key interfaces.Key) (interfaces.Key, error) {
	metadata, err := marshalMetadata(key.Metadata)
	if err != nil {
		return interfaces.Key{}, err
	}
	key.UpdatedAt = time.Now().UTC()
	tag, err := s.pool.Exec(ctx, `
UPDATE bridge_keys
SET public_key = $2, wallet_address = $3, label = $4, status = $5, attestation = $6, metadata = $7, updated_at = $8
WHERE id = $1`,
		key.ID, key.PublicKey, key.WalletAddress, key.Label, string(key.Status), key.Attestation, metadata, key.UpdatedAt)
	if err != nil {
		return interfaces.Key{}, err
	}
	if tag.RowsAffected() == 0 {
		return interfaces.Key{}, interfaces.ErrNotFound
	}
	return s.GetKey(ctx, key.ID)
}

const keyColumns = `id, account_id, public_key, wallet_address, label, status, attestation, metadata, created_at, updated_at`

func scanKey(row pgx.Row) (interfaces.Key, error) {
	var key interfaces.Key
	var status string
	var metadata []byte
	err := row.Scan(&key.ID, &key.AccountID, &key.PublicKey, &key.WalletAddress, &key.Label, &status, &key.Attestation, &metadata, &key.CreatedAt, &key.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return interfaces.Key{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.Key{}, err
	}
	key.Status = interfaces.KeyStatus(status)
	if key.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return interfaces.Key{}, err
	}
	return key, nil
}

// GetKey fetches a key row by ID.
func (s *PostgresStore) GetKey(ctx context.Context, keyID string) (interfaces.Key, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+keyColumns+` FROM bridge_keys WHERE id = $1`, keyID)
	return scanKey(row)
}

// ListKeys fetches an account's keys, newest first.
func (s *PostgresStore) ListKeys(ctx context.Context, accountID string) ([]interfaces.Key, error) {
	rows, err := s.pool.Query(ctx, `SELECT `+keyColumns+` FROM bridge_keys WHERE account_id = $1 ORDER BY created_at DESC, id DESC`, accountID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []interfaces.Key
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

// CreateRequest assigns an ID and timestamps and inserts the request row.
func (s *PostgresStore) CreateRequest(ctx context.Context, req interfaces.Request) (interfaces.Request, error) {
	now := time.Now().UTC()
	req.ID = uuid.NewString()
	req.CreatedAt = now
	req.UpdatedAt = now
	metadata, err := marshalMetadata(req.Metadata)
	if err != nil {
		return interfaces.Request{}, err
	}
	_, err = s.pool.Exec(ctx, `
INSERT INTO bridge_requests (id, account_id, key_id, consumer, seed, status, metadata, error, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)`,
		req.ID, req.AccountID, req.KeyID, req.Consumer, req.Seed, string(req.Status), metadata, req.Error, req.CreatedAt, req.UpdatedAt)
	if err != nil {
		return interfaces.Request{}, err
	}
	return req, nil
}

// UpdateRequestStatus advances a request's status and error message.
func (s *PostgresStore) UpdateRequestStatus(ctx context.Context, requestID string, status interfaces.RequestStatus, errMsg string) (interfaces.Request, error) {
	tag, err := s.pool.Exec(ctx, `
UPDATE bridge_requests SET status = $2, error = $3, updated_at = $4 WHERE id = $1`,
		requestID, string(status), errMsg, time.Now().UTC())
	if err != nil {
		return interfaces.Request{}, err
	}
	if tag.RowsAffected() == 0 {
		return interfaces.Request{}, interfaces.ErrNotFound
	}
	return s.GetRequest(ctx, requestID)
}

// UpdateRequestMetadata merges fields into the request row's metadata column.
func (s *PostgresStore) UpdateRequestMetadata(ctx context.Context, requestID string, fields map[string]string) (interfaces.Request, error) {
	patch, err := json.Marshal(fields)
	if err != nil {
		return interfaces.Request{}, err
	}
	tag, err := s.pool.Exec(ctx, `
UPDATE bridge_requests SET metadata = COALESCE(metadata, '{}'::jsonb) || $2::jsonb, updated_at = $3 WHERE id = $1`,
		requestID, patch, time.Now().UTC())
	if err != nil {
		return interfaces.Request{}, err
	}
	if tag.RowsAffected() == 0 {
		return interfaces.Request{}, interfaces.ErrNotFound
	}
	return s.GetRequest(ctx, requestID)
}

const requestColumns = `id, account_id, key_id, consumer, seed, status, metadata, error, created_at, updated_at`

func scanRequest(row pgx.Row) (interfaces.Request, error) {
	var req interfaces.Request
	var status string
	var metadata []byte
	err := row.Scan(&req.ID, &req.AccountID, &req.KeyID, &req.Consumer, &req.Seed, &status, &metadata, &req.Error, &req.CreatedAt, &req.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return interfaces.Request{}, interfaces.ErrNotFound
	}
	if err != nil {
		return interfaces.Request{}, err
	}
	req.Status = interfaces.RequestStatus(status)
	if req.Metadata, err = unmarshalMetadata(metadata); err != nil {
		return interfaces.Request{}, err
	}
	return req, nil
}

// GetRequest fetches a request row by ID.
func (s *PostgresStore) GetRequest(ctx context.Context, requestID string) (interfaces.Request, error) {
	row := s.pool.QueryRow(ctx, `SELECT `+requestColumns+` FROM bridge_requests WHERE id = $1`, requestID)
	return scanRequest(row)
}

// ListRequests fetches an account's requests, newest first, up to limit.
func (s *PostgresStore) ListRequests(ctx context.Context, accountID string, limit int) ([]interfaces.Request, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+requestColumns+` FROM bridge_requests
WHERE account_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, accountID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

// ListByStatus fetches requests in the given status across accounts.
func (s *PostgresStore) ListByStatus(ctx context.Context, status interfaces.RequestStatus, limit int) ([]interfaces.Request, error) {
	rows, err := s.pool.Query(ctx, `
SELECT `+requestColumns+` FROM bridge_requests
WHERE status = $1 ORDER BY created_at DESC, id DESC LIMIT $2`, string(status), limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return collectRequests(rows)
}

func collectRequests(rows pgx.Rows) ([]interfaces.Request, error) {
	var out []interfaces.Request
	for rows.Next() {
		req, err := scanRequest(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, req)
	}
	return out, rows.Err()
}
