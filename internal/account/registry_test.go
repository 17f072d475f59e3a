package account

import (
	"context"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "github.com/calyxmail/calyx/internal/errors"
)

// memStore is an in-memory Persistence double.
type memStore struct {
	accounts []Account
	saves    int
	saveErr  error
}

func (m *memStore) LoadAccounts(ctx context.Context) ([]Account, error) {
	out := make([]Account, len(m.accounts))
	copy(out, m.accounts)
	return out, nil
}

func (m *memStore) SaveAccounts(ctx context.Context, accounts []Account) error {
	if m.saveErr != nil {
		return m.saveErr
	}
	m.saves++
	m.accounts = make([]Account, len(accounts))
	copy(m.accounts, accounts)
	return nil
}

func newTestRegistry() (*Registry, *memStore, *clockwork.FakeClock) {
	store := &memStore{}
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	return NewRegistry(store, clock), store, clock
}

func TestRegistry_AddAndList(t *testing.T) {
	registry, _, clock := newTestRegistry()
	ctx := context.Background()

	stored, err := registry.Add(ctx, Account{ID: "u1", Email: "a@b.com"})
	require.NoError(t, err)
	assert.Equal(t, "u1", stored.ID)
	assert.Equal(t, clock.Now(), stored.CreatedAt)
	assert.Equal(t, clock.Now(), stored.LastUpdated)
	assert.Equal(t, StatusActive, stored.Status)

	accounts, err := registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "u1", accounts[0].ID)
	assert.False(t, accounts[0].LastUpdated.IsZero())
}

func TestRegistry_AddDuplicateIDConflicts(t *testing.T) {
	registry, store, _ := newTestRegistry()
	ctx := context.Background()

	_, err := registry.Add(ctx, Account{ID: "u1", Email: "a@b.com"})
	require.NoError(t, err)
	savesBefore := store.saves

	_, err = registry.Add(ctx, Account{ID: "u1", Email: "other@b.com"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeConflict))

	// The store must be left unchanged.
	assert.Equal(t, savesBefore, store.saves)
	accounts, err := registry.List(ctx)
	require.NoError(t, err)
	require.Len(t, accounts, 1)
	assert.Equal(t, "a@b.com", accounts[0].Email)
}

func TestRegistry_AddValidation(t *testing.T) {
	registry, _, _ := newTestRegistry()
	ctx := context.Background()

	tests := []struct {
		name      string
		candidate Account
		wantField string
	}{
		{"missing id", Account{Email: "a@b.com"}, "id"},
		{"missing email", Account{ID: "u1"}, "email"},
		{"email without at", Account{ID: "u1", Email: "not-an-email"}, "email"},
		{"email without domain dot", Account{ID: "u1", Email: "a@b"}, "email"},
		{"email with spaces", Account{ID: "u1", Email: "a b@c.com"}, "email"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := registry.Add(ctx, tt.candidate)
			require.Error(t, err)
			assert.True(t, apperrors.IsType(err, apperrors.TypeValidation))

			structured := apperrors.AsStructuredError(err)
			assert.Equal(t, tt.wantField, structured.Context["field"])
		})
	}
}

func TestRegistry_RemoveReturnsRecord(t *testing.T) {
	registry, _, _ := newTestRegistry()
	ctx := context.Background()

	_, err := registry.Add(ctx, Account{ID: "u1", Email: "a@b.com"})
	require.NoError(t, err)

	removed, err := registry.Remove(ctx, "u1")
	require.NoError(t, err)
	assert.Equal(t, "u1", removed.ID)

	accounts, err := registry.List(ctx)
	require.NoError(t, err)
	assert.Empty(t, accounts)
}

func TestRegistry_RemoveMissingNotFound(t *testing.T) {
	registry, store, _ := newTestRegistry()
	ctx := context.Background()

	_, err := registry.Add(ctx, Account{ID: "u1", Email: "a@b.com"})
	require.NoError(t, err)
	savesBefore := store.saves

	_, err = registry.Remove(ctx, "missing")
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeNotFound))

	assert.Equal(t, savesBefore, store.saves, "a failed remove must not rewrite the store")
	accounts, err := registry.List(ctx)
	require.NoError(t, err)
	assert.Len(t, accounts, 1)
}

func TestRegistry_UpdateTokensMerges(t *testing.T) {
	registry, _, clock := newTestRegistry()
	ctx := context.Background()

	_, err := registry.Add(ctx, Account{
		ID:    "u1",
		Email: "a@b.com",
		Tokens: &TokenSet{
			AccessToken:  "old-access",
			RefreshToken: "original-refresh",
			TokenType:    "Bearer",
			Scope:        "mail",
		},
	})
	require.NoError(t, err)

	clock.Advance(time.Minute)
	updated, err := registry.UpdateTokens(ctx, "u1", TokenSet{
		AccessToken: "new-access",
		Expiry:      clock.Now().Add(time.Hour),
	})
	require.NoError(t, err)

	require.NotNil(t, updated.Tokens)
	assert.Equal(t, "new-access", updated.Tokens.AccessToken)
	assert.Equal(t, "original-refresh", updated.Tokens.RefreshToken, "merge omitting the refresh token keeps the stored one")
	assert.Equal(t, "Bearer", updated.Tokens.TokenType)
	assert.Equal(t, "mail", updated.Tokens.Scope)
	assert.Equal(t, clock.Now(), updated.LastUpdated)
}

func TestRegistry_UpdateTokensMissingNotFound(t *testing.T) {
	registry, _, _ := newTestRegistry()

	_, err := registry.UpdateTokens(context.Background(), "missing", TokenSet{AccessToken: "x"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeNotFound))
}

func TestRegistry_GetAndResolveByEmail(t *testing.T) {
	registry, _, _ := newTestRegistry()
	ctx := context.Background()

	_, err := registry.Add(ctx, Account{ID: "subject-123", Email: "a@b.com"})
	require.NoError(t, err)

	byID, err := registry.Get(ctx, "subject-123")
	require.NoError(t, err)
	assert.Equal(t, "a@b.com", byID.Email)

	byEmail, err := registry.ResolveByEmail(ctx, "a@b.com")
	require.NoError(t, err)
	assert.Equal(t, "subject-123", byEmail.ID)

	_, err = registry.Get(ctx, "nope")
	assert.True(t, apperrors.IsType(err, apperrors.TypeNotFound))
	_, err = registry.ResolveByEmail(ctx, "nope@b.com")
	assert.True(t, apperrors.IsType(err, apperrors.TypeNotFound))
}

func TestRegistry_ClearTokens(t *testing.T) {
	registry, _, _ := newTestRegistry()
	ctx := context.Background()

	_, err := registry.Add(ctx, Account{
		ID:     "u1",
		Email:  "a@b.com",
		Tokens: &TokenSet{AccessToken: "access", RefreshToken: "refresh"},
	})
	require.NoError(t, err)

	require.NoError(t, registry.ClearTokens(ctx, "u1"))

	acc, err := registry.Get(ctx, "u1")
	require.NoError(t, err)
	assert.Nil(t, acc.Tokens)
	assert.Equal(t, StatusRevoked, acc.Status)
}

func TestRegistry_SaveFailurePropagates(t *testing.T) {
	store := &memStore{saveErr: apperrors.StorageError("disk full", nil)}
	registry := NewRegistry(store, clockwork.NewFakeClock())

	_, err := registry.Add(context.Background(), Account{ID: "u1", Email: "a@b.com"})
	require.Error(t, err)
	assert.True(t, apperrors.IsType(err, apperrors.TypeStorage))
}

func TestTokenSet_Merge(t *testing.T) {
	current := TokenSet{
		AccessToken:  "a1",
		RefreshToken: "r1",
		TokenType:    "Bearer",
		Scope:        "mail",
		Expiry:       time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC),
	}

	merged := current.Merge(TokenSet{AccessToken: "a2"})
	assert.Equal(t, "a2", merged.AccessToken)
	assert.Equal(t, "r1", merged.RefreshToken)
	assert.Equal(t, "Bearer", merged.TokenType)
	assert.Equal(t, current.Expiry, merged.Expiry)

	merged = current.Merge(TokenSet{RefreshToken: "r2", Expiry: current.Expiry.Add(time.Hour)})
	assert.Equal(t, "a1", merged.AccessToken)
	assert.Equal(t, "r2", merged.RefreshToken)
	assert.Equal(t, current.Expiry.Add(time.Hour), merged.Expiry)
}
