package bridge

import (
	"context"
	"strings"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
)

// CreateRequest validates and persists a new compute request, then hands it
// to the dispatcher inside a traced, retried dispatch operation.
//
// On dispatcher failure the error is returned together with the created
// request: the persisted row stays in pending status and is not rolled back,
// making the operation at-least-once from the caller's perspective.
func (s *Service) CreateRequest(ctx context.Context, accountID, keyID, consumer, seed string, metadata map[string]string) (interfaces.Request, error) {
	if err := s.accounts.EnsureAccount(ctx, accountID); err != nil {
		return interfaces.Request{}, err
	}
	key, err := s.keys.GetKey(ctx, keyID)
	if err != nil {
		return interfaces.Request{}, err
	}
	if err := interfaces.EnsureOwnership(key.AccountID, accountID, "key", keyID); err != nil {
		return interfaces.Request{}, err
	}
	consumer = strings.TrimSpace(consumer)
	seed = strings.TrimSpace(seed)
	if consumer == "" {
		return interfaces.Request{}, interfaces.RequiredError("consumer")
	}
	if seed == "" {
		return interfaces.Request{}, interfaces.RequiredError("seed")
	}

	created, err := s.requests.CreateRequest(ctx, interfaces.Request{
		AccountID: accountID,
		KeyID:     keyID,
		Consumer:  consumer,
		Seed:      seed,
		Status:    interfaces.RequestStatusPending,
		Metadata:  interfaces.NormalizeMetadata(metadata),
	})
	if err != nil {
		return interfaces.Request{}, err
	}
	s.log.Info("request created", "request_id", created.ID, "key_id", key.ID, "account_id", accountID)
	s.countRequestCreated()

	attrs := map[string]string{"request_id": created.ID, "key_id": key.ID}
	if err := s.dispatch.run(ctx, "vrf.dispatch", attrs, created, key, func(spanCtx context.Context) error {
		if err := s.dispatcher.Dispatch(spanCtx, created, key); err != nil {
			s.log.Warn("dispatcher error", "err", err, "request_id", created.ID, "key_id", key.ID)
			return err
		}
		return nil
	}); err != nil {
		return created, err
	}
	return created, nil
}

// GetRequest fetches a request, enforcing ownership.
func (s *Service) GetRequest(ctx context.Context, accountID, requestID string) (interfaces.Request, error) {
	req, err := s.requests.GetRequest(ctx, requestID)
	if err != nil {
		return interfaces.Request{}, err
	}
	if err := interfaces.EnsureOwnership(req.AccountID, accountID, "request", requestID); err != nil {
		return interfaces.Request{}, err
	}
	return req, nil
}

// ListRequests lists an account's requests, newest first. The limit is
// clamped to [1, MaxListLimit]; out-of-range values are never rejected.
func (s *Service) ListRequests(ctx context.Context, accountID string, limit int) ([]interfaces.Request, error) {
	if err := s.accounts.EnsureAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.requests.ListRequests(ctx, accountID, interfaces.ClampLimit(limit))
}
