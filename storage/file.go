package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
)

// FileStore persists key and request records as JSON files on the local
// filesystem, one file per record. It suits single-node deployments where a
// database is overkill but records must survive restarts.
type FileStore struct {
	baseDir string
	log     *slog.Logger
	// mu serializes multi-file operations (list-then-read).
	mu sync.RWMutex
}

// NewFileStore creates a file store rooted at baseDir, creating the keys and
// requests subdirectories if needed.
func NewFileStore(baseDir string, log *slog.Logger) (*FileStore, error) {
	for _, sub := range []string{"keys", "requests"} {
		if err := os.MkdirAll(filepath.Join(baseDir, sub), 0o755); err != nil {
			return nil, fmt.Errorf("failed to create %s directory: %w", sub, err)
		}
	}
	return &FileStore{baseDir: baseDir, log: log}, nil
}

func (s *FileStore) keyPath(id string) string {
	return filepath.Join(s.baseDir, "keys", id+".json")
}

func (s *FileStore) requestPath(id string) string {
	return filepath.Join(s.baseDir, "requests", id+".json")
}

func writeRecord(path string, record any) error {
	data, err := json.MarshalIndent(record, "", "  ")
	if err != nil {
		return err
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return err
	}
	return os.Rename(tmp, path)
}

func readRecord(path string, record any) error {
	data, err := os.ReadFile(path)
	if os.IsNotExist(err) {
		return interfaces.ErrNotFound
	}
	if err != nil {
		return err
	}
	return json.Unmarshal(data, record)
}

// CreateKey assigns an ID and timestamps and writes the key record.
func (s *FileStore) CreateKey(_ context.Context, key interfaces.Key) (interfaces.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	key.ID = uuid.NewString()
	key.CreatedAt = now
	key.UpdatedAt = now
	if err := writeRecord(s.keyPath(key.ID), key); err != nil {
		return interfaces.Key{}, err
	}
	return key, nil
}

// UpdateKey rewrites an existing key record, preserving CreatedAt.
func (s *FileStore) UpdateKey(_ context.Context, key interfaces.Key) (interfaces.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var stored interfaces.Key
	if err := readRecord(s.keyPath(key.ID), &stored); err != nil {
		return interfaces.Key{}, err
	}
	key.CreatedAt = stored.CreatedAt
	key.UpdatedAt = time.Now().UTC()
	if err := writeRecord(s.keyPath(key.ID), key); err != nil {
		return interfaces.Key{}, err
	}
	return key, nil
}

// GetKey reads a key record by ID.
func (s *FileStore) GetKey(_ context.Context, keyID string) (interfaces.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var key interfaces.Key
	if err := readRecord(s.keyPath(keyID), &key); err != nil {
		return interfaces.Key{}, err
	}
	return key, nil
}

// ListKeys scans the keys directory for an account's records, newest first.
func (s *FileStore) ListKeys(_ context.Context, accountID string) ([]interfaces.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "keys"))
	if err != nil {
		return nil, err
	}
	var out []interfaces.Key
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var key interfaces.Key
		if err := readRecord(filepath.Join(s.baseDir, "keys", entry.Name()), &key); err != nil {
			s.log.Warn("skipping unreadable key record", "file", entry.Name(), "err", err)
			continue
		}
		if key.AccountID == accountID {
			out = append(out, key)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

// CreateRequest assigns an ID and timestamps and writes the request record.
func (s *FileStore) CreateRequest(_ context.Context, req interfaces.Request) (interfaces.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	req.ID = uuid.NewString()
	req.CreatedAt = now
	req.UpdatedAt = now
	if err := writeRecord(s.requestPath(req.ID), req); err != nil {
		return interfaces.Request{}, err
	}
	return req, nil
}

// UpdateRequestStatus advances a request's status and error message.
func (s *FileStore) UpdateRequestStatus(_ context.Context, requestID string, status interfaces.RequestStatus, errMsg string) (interfaces.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var req interfaces.Request
	if err := readRecord(s.requestPath(requestID), &req); err != nil {
		return interfaces.Request{}, err
	}
	req.Status = status
	req.Error = errMsg
	req.UpdatedAt = time.Now().UTC()
	if err := writeRecord(s.requestPath(requestID), req); err != nil {
		return interfaces.Request{}, err
	}
	return req, nil
}

// UpdateRequestMetadata merges fields into a request's metadata.
func (s *FileStore) UpdateRequestMetadata(_ context.Context, requestID string, fields map[string]string) (interfaces.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var req interfaces.Request
	if err := readRecord(s.requestPath(requestID), &req); err != nil {
		return interfaces.Request{}, err
	}
	if req.Metadata == nil {
		req.Metadata = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		req.Metadata[k] = v
	}
	req.UpdatedAt = time.Now().UTC()
	if err := writeRecord(s.requestPath(requestID), req); err != nil {
		return interfaces.Request{}, err
	}
	return req, nil
}

// GetRequest reads a request record by ID.
func (s *FileStore) GetRequest(_ context.Context, requestID string) (interfaces.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var req interfaces.Request
	if err := readRecord(s.requestPath(requestID), &req); err != nil {
		return interfaces.Request{}, err
	}
	return req, nil
}

// ListRequests scans the requests directory, newest first, up to limit.
func (s *FileStore) ListRequests(ctx context.Context, accountID string, limit int) ([]interfaces.Request, error) {
	return s.scanRequests(ctx, func(req interfaces.Request) bool {
		return req.AccountID == accountID
	}, limit)
}

// ListByStatus scans the requests directory for records in the given status.
func (s *FileStore) ListByStatus(ctx context.Context, status interfaces.RequestStatus, limit int) ([]interfaces.Request, error) {
	return s.scanRequests(ctx, func(req interfaces.Request) bool {
		return req.Status == status
	}, limit)
}

func (s *FileStore) scanRequests(_ context.Context, match func(interfaces.Request) bool, limit int) ([]interfaces.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	entries, err := os.ReadDir(filepath.Join(s.baseDir, "requests"))
	if err != nil {
		return nil, err
	}
	var out []interfaces.Request
	for _, entry := range entries {
		if !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		var req interfaces.Request
		if err := readRecord(filepath.Join(s.baseDir, "requests", entry.Name()), &req); err != nil {
			s.log.Warn("skipping unreadable request record", "file", entry.Name(), "err", err)
			continue
		}
		if match(req) {
			out = append(out, req)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// FileArchive writes terminal request records to a directory, one JSON file
// per record.
type FileArchive struct {
	dir string
}

// NewFileArchive creates an archive sink rooted at dir.
func NewFileArchive(dir string) (*FileArchive, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create archive directory: %w", err)
	}
	return &FileArchive{dir: dir}, nil
}

// Archive writes the request record. Re-archiving the same request replaces
// the previous record, keeping the operation idempotent.
func (a *FileArchive) Archive(_ context.Context, req interfaces.Request) error {
	return writeRecord(filepath.Join(a.dir, req.ID+".json"), req)
}

// LocationURI returns the sink's canonical URI.
func (a *FileArchive) LocationURI() string {
	return "file://" + a.dir
}
