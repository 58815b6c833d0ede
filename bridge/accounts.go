package bridge

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/ruteri/tee-oracle-bridge/interfaces"
)

// StaticAccountRegistry is an in-process account and wallet-ownership
// authority backed by a fixed table. Production deployments point the service
// at the platform's account system instead; this one backs tests and
// single-tenant deployments.
type StaticAccountRegistry struct {
	mu sync.RWMutex
	// wallets maps accountID to the set of owned wallet addresses,
	// lowercased.
	wallets map[string]map[string]bool
}

// NewStaticAccountRegistry creates an empty registry.
func NewStaticAccountRegistry() *StaticAccountRegistry {
	return &StaticAccountRegistry{wallets: make(map[string]map[string]bool)}
}

// AddAccount registers an account owning the given wallet addresses.
func (r *StaticAccountRegistry) AddAccount(accountID string, wallets ...string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	owned, ok := r.wallets[accountID]
	if !ok {
		owned = make(map[string]bool)
		r.wallets[accountID] = owned
	}
	for _, w := range wallets {
		owned[strings.ToLower(w)] = true
	}
}

// EnsureAccount returns ErrNotFound-wrapped errors for unknown accounts so
// handlers can map them to a missing-resource response.
func (r *StaticAccountRegistry) EnsureAccount(_ context.Context, accountID string) error {
	r.mu.RLock()
	defer r.mu.RUnlock()
	if _, ok := r.wallets[accountID]; !ok {
		return fmt.Errorf("account %s: %w", accountID, interfaces.ErrNotFound)
	}
	return nil
}

// EnsureSignersOwned checks every wallet against the account's owned set.
func (r *StaticAccountRegistry) EnsureSignersOwned(ctx context.Context, accountID string, wallets []string) error {
	if err := r.EnsureAccount(ctx, accountID); err != nil {
		return err
	}
	r.mu.RLock()
	defer r.mu.RUnlock()
	owned := r.wallets[accountID]
	for _, w := range wallets {
		if !owned[strings.ToLower(w)] {
			return &interfaces.ValidationError{Field: "wallet_address", Reason: fmt.Sprintf("wallet %s is not owned by account %s", w, accountID)}
		}
	}
	return nil
}

// AllowAllAccounts accepts every account and wallet. Development only.
type AllowAllAccounts struct{}

func (AllowAllAccounts) EnsureAccount(context.Context, string) error { return nil }

func (AllowAllAccounts) EnsureSignersOwned(context.Context, string, []string) error { return nil }
