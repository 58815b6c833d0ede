package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"
	vault "github.com/hashicorp/vault/api"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
)

// VaultKeyStore persists key records in HashiCorp Vault's KV v2 engine.
// Records live under <mount>/data/<basePath>/<accountID>/<keyID>. Only key
// records belong in Vault; request records are high-churn and go to a
// database store.
type VaultKeyStore struct {
	client   *vault.Client
	mount    string
	basePath string
	log      *slog.Logger
}

// NewVaultKeyStore creates a key store against the given Vault server. The
// token (or other auth) must already be configured on the environment.
func NewVaultKeyStore(address, mount, basePath string, log *slog.Logger) (*VaultKeyStore, error) {
	config := vault.DefaultConfig()
	config.Address = address
	client, err := vault.NewClient(config)
	if err != nil {
		return nil, fmt.Errorf("failed to create Vault client: %w", err)
	}
	return &VaultKeyStore{
		client:   client,
		mount:    strings.Trim(mount, "/"),
		basePath: strings.Trim(basePath, "/"),
		log:      log,
	}, nil
}

func (s *VaultKeyStore) recordPath(accountID, keyID string) string {
	return fmt.Sprintf("%s/%s/%s", s.basePath, accountID, keyID)
}

// indexPath maps a key ID to its owning account so GetKey does not need the
// account up front.
func (s *VaultKeyStore) indexPath(keyID string) string {
	return fmt.Sprintf("%s/index/%s", s.basePath, keyID)
}

func keyToSecret(key interfaces.Key) (map[string]any, error) {
	data, err := json.Marshal(key)
	if err != nil {
		return nil, err
	}
	var out map[string]any
	if err := json.Unmarshal(data, &out); err != nil {
		return nil, err
	}
	return out, nil
}

func secretToKey(data map[string]any) (interfaces.Key, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return interfaces.Key{}, err
	}
	var key interfaces.Key
	if err := json.Unmarshal(raw, &key); err != nil {
		return interfaces.Key{}, err
	}
	return key, nil
}

// CreateKey assigns an ID and timestamps and writes the record plus its
// account index entry.
func (s *VaultKeyStore) CreateKey(ctx context.Context, key interfaces.Key) (interfaces.Key, error) {
	now := time.Now().UTC()
	key.ID = uuid.NewString()
	key.CreatedAt = now
	key.UpdatedAt = now

	secret, err := keyToSecret(key)
	if err != nil {
		return interfaces.Key{}, err
	}
	kv := s.client.KVv2(s.mount)
	if _, err := kv.Put(ctx, s.recordPath(key.AccountID, key.ID), secret); err != nil {
		return interfaces.Key{}, fmt.Errorf("vault put: %w", err)
	}
	if _, err := kv.Put(ctx, s.indexPath(key.ID), map[string]any{"account_id": key.AccountID}); err != nil {
		return interfaces.Key{}, fmt.Errorf("vault put index: %w", err)
	}
	return key, nil
}

// UpdateKey rewrites an existing record, preserving CreatedAt.
func (s *VaultKeyStore) UpdateKey(ctx context.Context, key interfaces.Key) (interfaces.Key, error) {
	stored, err := s.GetKey(ctx, key.ID)
	if err != nil {
		return interfaces.Key{}, err
	}
	key.CreatedAt = stored.CreatedAt
	key.UpdatedAt = time.Now().UTC()

	secret, err := keyToSecret(key)
	if err != nil {
		return interfaces.Key{}, err
	}
	if _, err := s.client.KVv2(s.mount).Put(ctx, s.recordPath(key.AccountID, key.ID), secret); err != nil {
		return interfaces.Key{}, fmt.Errorf("vault put: %w", err)
	}
	return key, nil
}

// GetKey resolves the key's account through the index and reads the record.
func (s *VaultKeyStore) GetKey(ctx context.Context, keyID string) (interfaces.Key, error) {
	kv := s.client.KVv2(s.mount)
	idx, err := kv.Get(ctx, s.indexPath(keyID))
	if err != nil {
		if isVaultNotFound(err) {
			return interfaces.Key{}, interfaces.ErrNotFound
		}
		return interfaces.Key{}, fmt.Errorf("vault get index: %w", err)
	}
	accountID, _ := idx.Data["account_id"].(string)
	secret, err := kv.Get(ctx, s.recordPath(accountID, keyID))
	if err != nil {
		if isVaultNotFound(err) {
			return interfaces.Key{}, interfaces.ErrNotFound
		}
		return interfaces.Key{}, fmt.Errorf("vault get: %w", err)
	}
	return secretToKey(secret.Data)
}

// ListKeys lists an account's key records, newest first.
func (s *VaultKeyStore) ListKeys(ctx context.Context, accountID string) ([]interfaces.Key, error) {
	listPath := fmt.Sprintf("%s/metadata/%s/%s", s.mount, s.basePath, accountID)
	secret, err := s.client.Logical().ListWithContext(ctx, listPath)
	if err != nil {
		return nil, fmt.Errorf("vault list: %w", err)
	}
	if secret == nil || secret.Data == nil {
		return nil, nil
	}
	rawKeys, _ := secret.Data["keys"].([]any)
	var out []interfaces.Key
	for _, raw := range rawKeys {
		keyID, ok := raw.(string)
		if !ok {
			continue
		}
		key, err := s.GetKey(ctx, strings.TrimSuffix(keyID, "/"))
		if err != nil {
			s.log.Warn("skipping unreadable vault key record", "key_id", keyID, "err", err)
			continue
		}
		out = append(out, key)
	}
	sort.Slice(out, func(i, j int) bool {
		if !out[i].CreatedAt.Equal(out[j].CreatedAt) {
			return out[i].CreatedAt.After(out[j].CreatedAt)
		}
		return out[i].ID > out[j].ID
	})
	return out, nil
}

func isVaultNotFound(err error) bool {
	if errors.Is(err, vault.ErrSecretNotFound) {
		return true
	}
	var respErr *vault.ResponseError
	return errors.As(err, &respErr) && respErr.StatusCode == 404
}
