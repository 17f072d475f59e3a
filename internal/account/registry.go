package account

import (
	"context"
	"sync"

	"github.com/jonboulle/clockwork"

	apperrors "github.com/calyxmail/calyx/internal/errors"
)

// Persistence is the slice of the credential store the registry needs.
type Persistence interface {
	LoadAccounts(ctx context.Context) ([]Account, error)
	SaveAccounts(ctx context.Context, accounts []Account) error
}

// Registry is the CRUD façade over the credential store. It enforces id
// uniqueness and field validation; every mutation is a load-modify-save of
// the whole list, serialized by an internal mutex.
type Registry struct {
	mu    sync.Mutex
	store Persistence
	clock clockwork.Clock
}

// NewRegistry creates a Registry backed by the given store.
func NewRegistry(store Persistence, clock clockwork.Clock) *Registry {
	return &Registry{store: store, clock: clock}
}

// List returns the decrypted, ready-to-use account list.
func (r *Registry) List(ctx context.Context) ([]Account, error) {
	return r.store.LoadAccounts(ctx)
}

// Get returns the account with the given id.
func (r *Registry) Get(ctx context.Context, id string) (*Account, error) {
	accounts, err := r.store.LoadAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].ID == id {
			return &accounts[i], nil
		}
	}
	return nil, apperrors.NotFoundError("account not found").WithField("account_id", id)
}

// ResolveByEmail returns the account with the given email address.
func (r *Registry) ResolveByEmail(ctx context.Context, email string) (*Account, error) {
	accounts, err := r.store.LoadAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for i := range accounts {
		if accounts[i].Email == email {
			return &accounts[i], nil
		}
	}
	return nil, apperrors.NotFoundError("account not found").WithField("email", email)
}

// Add validates and stores a new account, stamping CreatedAt/LastUpdated.
// A duplicate id is a conflict and leaves the store unchanged.
func (r *Registry) Add(ctx context.Context, candidate Account) (*Account, error) {
	if err := candidate.Validate(); err != nil {
		return nil, err
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	accounts, err := r.store.LoadAccounts(ctx)
	if err != nil {
		return nil, err
	}
	for _, existing := range accounts {
		if existing.ID == candidate.ID {
			return nil, apperrors.ConflictError("account already exists").WithField("account_id", candidate.ID)
		}
	}

	now := r.clock.Now()
	candidate.CreatedAt = now
	candidate.LastUpdated = now
	if candidate.Status == "" {
		candidate.Status = StatusActive
	}

	accounts = append(accounts, candidate)
	if err := r.store.SaveAccounts(ctx, accounts); err != nil {
		return nil, err
	}
	return &candidate, nil
}

// Remove hard-deletes an account and returns the removed record so the
// caller can evict any cached OAuth client for it.
func (r *Registry) Remove(ctx context.Context, id string) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts, err := r.store.LoadAccounts(ctx)
	if err != nil {
		return nil, err
	}

	idx := -1
	for i := range accounts {
		if accounts[i].ID == id {
			idx = i
			break
		}
	}
	if idx < 0 {
		return nil, apperrors.NotFoundError("account not found").WithField("account_id", id)
	}

	removed := accounts[idx]
	accounts = append(accounts[:idx], accounts[idx+1:]...)
	if err := r.store.SaveAccounts(ctx, accounts); err != nil {
		return nil, err
	}
	return &removed, nil
}

// UpdateTokens merges the incoming token fields over the stored set, stamps
// LastUpdated and persists. Preserving the refresh token across a merge that
// omits it is the token manager's responsibility.
func (r *Registry) UpdateTokens(ctx context.Context, id string, incoming TokenSet) (*Account, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts, err := r.store.LoadAccounts(ctx)
	if err != nil {
		return nil, err
	}

	for i := range accounts {
		if accounts[i].ID != id {
			continue
		}

		current := TokenSet{}
		if accounts[i].Tokens != nil {
			current = *accounts[i].Tokens
		}
		merged := current.Merge(incoming)
		accounts[i].Tokens = &merged
		accounts[i].LastUpdated = r.clock.Now()
		accounts[i].Status = StatusActive

		if err := r.store.SaveAccounts(ctx, accounts); err != nil {
			return nil, err
		}
		return &accounts[i], nil
	}

	return nil, apperrors.NotFoundError("account not found").WithField("account_id", id)
}

// ClearTokens drops the stored token set of an account and marks it revoked.
func (r *Registry) ClearTokens(ctx context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	accounts, err := r.store.LoadAccounts(ctx)
	if err != nil {
		return err
	}

	for i := range accounts {
		if accounts[i].ID != id {
			continue
		}
		accounts[i].Tokens = nil
		accounts[i].Status = StatusRevoked
		accounts[i].LastUpdated = r.clock.Now()
		return r.store.SaveAccounts(ctx, accounts)
	}

	return apperrors.NotFoundError("account not found").WithField("account_id", id)
}
