package bridge

import (
	"context"
	"fmt"
	"strings"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
)

// CreateKey registers a TEE signing key for an account. The wallet address
// must be owned by the account per the external ownership authority.
func (s *Service) CreateKey(ctx context.Context, key interfaces.Key) (interfaces.Key, error) {
	if err := s.accounts.EnsureAccount(ctx, key.AccountID); err != nil {
		return interfaces.Key{}, err
	}
	if err := normalizeKey(&key); err != nil {
		return interfaces.Key{}, err
	}
	if err := s.ensureWalletOwned(ctx, key.AccountID, key.WalletAddress); err != nil {
		return interfaces.Key{}, err
	}

	created, err := s.keys.CreateKey(ctx, key)
	if err != nil {
		return interfaces.Key{}, err
	}
	s.log.Info("key created", "key_id", created.ID, "account_id", created.AccountID)
	s.countKeyCreated()
	return created, nil
}

// UpdateKey updates mutable fields on a key. AccountID is immutable; a caller
// attempting to update another account's key gets an ownership error.
func (s *Service) UpdateKey(ctx context.Context, accountID string, key interfaces.Key) (interfaces.Key, error) {
	if err := s.accounts.EnsureAccount(ctx, accountID); err != nil {
		return interfaces.Key{}, err
	}
	stored, err := s.keys.GetKey(ctx, key.ID)
	if err != nil {
		return interfaces.Key{}, err
	}
	if err := interfaces.EnsureOwnership(stored.AccountID, accountID, "key", key.ID); err != nil {
		return interfaces.Key{}, err
	}
	key.AccountID = stored.AccountID
	if err := normalizeKey(&key); err != nil {
		return interfaces.Key{}, err
	}
	if err := s.ensureWalletOwned(ctx, accountID, key.WalletAddress); err != nil {
		return interfaces.Key{}, err
	}

	updated, err := s.keys.UpdateKey(ctx, key)
	if err != nil {
		return interfaces.Key{}, err
	}
	s.log.Info("key updated", "key_id", key.ID, "account_id", key.AccountID)
	return updated, nil
}

// GetKey fetches a key, enforcing ownership.
func (s *Service) GetKey(ctx context.Context, accountID, keyID string) (interfaces.Key, error) {
	key, err := s.keys.GetKey(ctx, keyID)
	if err != nil {
		return interfaces.Key{}, err
	}
	if err := interfaces.EnsureOwnership(key.AccountID, accountID, "key", keyID); err != nil {
		return interfaces.Key{}, err
	}
	return key, nil
}

// ListKeys lists all keys registered for an account.
func (s *Service) ListKeys(ctx context.Context, accountID string) ([]interfaces.Key, error) {
	if err := s.accounts.EnsureAccount(ctx, accountID); err != nil {
		return nil, err
	}
	return s.keys.ListKeys(ctx, accountID)
}

func normalizeKey(key *interfaces.Key) error {
	key.PublicKey = strings.TrimSpace(key.PublicKey)
	key.Label = strings.TrimSpace(key.Label)
	key.WalletAddress = strings.ToLower(strings.TrimSpace(key.WalletAddress))
	key.Attestation = strings.TrimSpace(key.Attestation)
	key.Metadata = interfaces.NormalizeMetadata(key.Metadata)
	if key.PublicKey == "" {
		return interfaces.RequiredError("public_key")
	}
	if key.WalletAddress == "" {
		return interfaces.RequiredError("wallet_address")
	}
	status := interfaces.KeyStatus(strings.ToLower(strings.TrimSpace(string(key.Status))))
	if status == "" {
		status = interfaces.KeyStatusInactive
	}
	if !interfaces.ValidKeyStatus(status) {
		return &interfaces.ValidationError{Field: "status", Reason: fmt.Sprintf("unknown status %q", status)}
	}
	key.Status = status
	return nil
}

func (s *Service) ensureWalletOwned(ctx context.Context, accountID, wallet string) error {
	if strings.TrimSpace(wallet) == "" {
		return interfaces.RequiredError("wallet_address")
	}
	return s.accounts.EnsureSignersOwned(ctx, accountID, []string{wallet})
}
