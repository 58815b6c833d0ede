package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
)

// MemoryStore is an in-process implementation of both KeyStore and
// RequestStore. It backs tests and single-node development deployments.
type MemoryStore struct {
	mu       sync.RWMutex
	keys     map[string]interfaces.Key
	requests map[string]interfaces.Request
	// seq disambiguates ordering for records created within the same
	// timestamp granularity.
	seq    uint64
	reqSeq map[string]uint64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		keys:     make(map[string]interfaces.Key),
		requests: make(map[string]interfaces.Request),
		reqSeq:   make(map[string]uint64),
	}
}

// CreateKey assigns an ID and timestamps and persists the key.
func (s *MemoryStore) CreateKey(_ context.Context, key interfaces.Key) (interfaces.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	key.ID = uuid.NewString()
	key.CreatedAt = now
	key.UpdatedAt = now
	s.keys[key.ID] = key
	return key, nil
}

// UpdateKey replaces a stored key, preserving CreatedAt.
func (s *MemoryStore) UpdateKey(_ context.Context, key interfaces.Key) (interfaces.Key, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	stored, ok := s.keys[key.ID]
	if !ok {
		return interfaces.Key{}, interfaces.ErrNotFound
	}
	key.CreatedAt = stored.CreatedAt
	key.UpdatedAt = time.Now().UTC()
	s.keys[key.ID] = key
	return key, nil
}

// GetKey fetches a key by ID.
func (s *MemoryStore) GetKey(_ context.Context, keyID string) (interfaces.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	key, ok := s.keys[keyID]
	if !ok {
		return interfaces.Key{}, interfaces.ErrNotFound
	}
	return key, nil
}

// ListKeys returns an account's keys ordered by creation time, newest first.
func (s *MemoryStore) ListKeys(_ context.Context, accountID string) ([]interfaces.Key, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []interfaces.Key
	for _, key := range s.keys {
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

// CreateRequest assigns an ID and timestamps and persists the request.
func (s *MemoryStore) CreateRequest(_ context.Context, req interfaces.Request) (interfaces.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	now := time.Now().UTC()
	req.ID = uuid.NewString()
	req.CreatedAt = now
	req.UpdatedAt = now
	s.seq++
	s.reqSeq[req.ID] = s.seq
	s.requests[req.ID] = req
	return req, nil
}

// UpdateRequestStatus advances a request's status and error message.
func (s *MemoryStore) UpdateRequestStatus(_ context.Context, requestID string, status interfaces.RequestStatus, errMsg string) (interfaces.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return interfaces.Request{}, interfaces.ErrNotFound
	}
	req.Status = status
	req.Error = errMsg
	req.UpdatedAt = time.Now().UTC()
	s.requests[requestID] = req
	return req, nil
}

// UpdateRequestMetadata merges fields into a request's metadata.
func (s *MemoryStore) UpdateRequestMetadata(_ context.Context, requestID string, fields map[string]string) (interfaces.Request, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	req, ok := s.requests[requestID]
	if !ok {
		return interfaces.Request{}, interfaces.ErrNotFound
	}
	if req.Metadata == nil {
		req.Metadata = make(map[string]string, len(fields))
	}
	for k, v := range fields {
		req.Metadata[k] = v
	}
	req.UpdatedAt = time.Now().UTC()
	s.requests[requestID] = req
	return req, nil
}

// GetRequest fetches a request by ID.
func (s *MemoryStore) GetRequest(_ context.Context, requestID string) (interfaces.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	req, ok := s.requests[requestID]
	if !ok {
		return interfaces.Request{}, interfaces.ErrNotFound
	}
	return req, nil
}

// ListRequests returns up to limit of an account's requests, newest first.
// Repeated calls with no intervening writes return identical ordered results.
func (s *MemoryStore) ListRequests(_ context.Context, accountID string, limit int) ([]interfaces.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []interfaces.Request
	for _, req := range s.requests {
		if req.AccountID == accountID {
			out = append(out, req)
		}
	}
	s.sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ListByStatus returns up to limit requests in the given status, across all
// accounts, newest first.
func (s *MemoryStore) ListByStatus(_ context.Context, status interfaces.RequestStatus, limit int) ([]interfaces.Request, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	var out []interfaces.Request
	for _, req := range s.requests {
		if req.Status == status {
			out = append(out, req)
		}
	}
	s.sortNewestFirst(out)
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) sortNewestFirst(reqs []interfaces.Request) {
	sort.Slice(reqs, func(i, j int) bool {
		return s.reqSeq[reqs[i].ID] > s.reqSeq[reqs[j].ID]
	})
}
