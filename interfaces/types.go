package interfaces

import (
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
)

// KeyStatus is the lifecycle status of a registered TEE signing key.
type KeyStatus string

const (
	KeyStatusInactive        KeyStatus = "inactive"
	KeyStatusPendingApproval KeyStatus = "pending_approval"
	KeyStatusActive          KeyStatus = "active"
	KeyStatusRevoked         KeyStatus = "revoked"
)

// ValidKeyStatus reports whether s is one of the enumerated key statuses.
func ValidKeyStatus(s KeyStatus) bool {
	switch s {
	case KeyStatusInactive, KeyStatusPendingApproval, KeyStatusActive, KeyStatusRevoked:
		return true
	}
	return false
}

// RequestStatus is the lifecycle status of an off-chain request record.
type RequestStatus string

const (
	RequestStatusPending    RequestStatus = "pending"
	RequestStatusDispatched RequestStatus = "dispatched"
	RequestStatusFulfilled  RequestStatus = "fulfilled"
	RequestStatusFailed     RequestStatus = "failed"
)

// Terminal reports whether the status admits no further transitions.
func (s RequestStatus) Terminal() bool {
	return s == RequestStatusFulfilled || s == RequestStatusFailed
}

// Key is a TEE signing key registered for an account. Keys are never deleted;
// revocation is a status transition.
type Key struct {
	ID            string            `json:"id"`
	AccountID     string            `json:"account_id"`
	PublicKey     string            `json:"public_key"`
	WalletAddress string            `json:"wallet_address"`
	Label         string            `json:"label,omitempty"`
	Status        KeyStatus         `json:"status"`
	Attestation   string            `json:"attestation,omitempty"`
	Metadata      map[string]string `json:"metadata,omitempty"`
	CreatedAt     time.Time         `json:"created_at"`
	UpdatedAt     time.Time         `json:"updated_at"`
}

// Request is the durable off-chain record of a compute request. It is created
// once and afterwards only advances its status; the row remains queryable in
// pending state even when dispatch fails, so out-of-band re-dispatch can
// recover it.
type Request struct {
	ID        string            `json:"id"`
	AccountID string            `json:"account_id"`
	KeyID     string            `json:"key_id"`
	Consumer  string            `json:"consumer"`
	Seed      string            `json:"seed"`
	Status    RequestStatus     `json:"status"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Error     string            `json:"error,omitempty"`
	CreatedAt time.Time         `json:"created_at"`
	UpdatedAt time.Time         `json:"updated_at"`
}

// ContractAddress is a 20-byte on-chain contract address.
type ContractAddress = common.Address

// RequestID identifies a request on-chain. The gateway assigns request IDs
// monotonically.
type RequestID uint64

// NormalizeMetadata trims keys and values and drops empty pairs. Returns nil
// for an effectively empty map so stored records stay compact.
func NormalizeMetadata(metadata map[string]string) map[string]string {
	if len(metadata) == 0 {
		return nil
	}
	out := make(map[string]string, len(metadata))
	for k, v := range metadata {
		k = strings.TrimSpace(k)
		v = strings.TrimSpace(v)
		if k == "" || v == "" {
			continue
		}
		out[k] = v
	}
	if len(out) == 0 {
		return nil
	}
	return out
}

// List pagination bounds for ListRequests. Limits outside [1, MaxListLimit]
// are clamped, never rejected.
const (
	DefaultListLimit = 50
	MaxListLimit     = 200
)

// ClampLimit normalizes a caller-supplied list limit.
func ClampLimit(limit int) int {
	if limit <= 0 {
		return DefaultListLimit
	}
	if limit > MaxListLimit {
		return MaxListLimit
	}
	return limit
}
