package store

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/jonboulle/clockwork"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/calyxmail/calyx/internal/account"
	"github.com/calyxmail/calyx/internal/crypto"
)

func countBackups(t *testing.T, dir string) int {
	t.Helper()
	entries, err := os.ReadDir(dir)
	require.NoError(t, err)
	count := 0
	for _, e := range entries {
		if strings.HasPrefix(e.Name(), backupPrefix) && strings.HasSuffix(e.Name(), ".json") {
			count++
		}
	}
	return count
}

func TestBackup_WrittenOnEverySave(t *testing.T) {
	s, dir := newTestStore(t)
	ctx := context.Background()

	require.NoError(t, s.SaveAccounts(ctx, []account.Account{testAccount("u1", "one@example.com")}))

	backupDir := filepath.Join(dir, "backups")
	assert.Equal(t, 1, countBackups(t, backupDir))
}

func TestBackup_RetainsAtMostTenSnapshots(t *testing.T) {
	dir := t.TempDir()
	sealer, err := crypto.NewAesGcmSealer("test-secret")
	require.NoError(t, err)

	// A fake clock advanced per save keeps every snapshot name unique.
	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	backupDir := filepath.Join(dir, "backups")
	s := New(sealer, filepath.Join(dir, "accounts.json"), backupDir, 10, clock)

	ctx := context.Background()
	for i := 0; i < 15; i++ {
		require.NoError(t, s.SaveAccounts(ctx, []account.Account{testAccount("u1", "one@example.com")}))
		clock.Advance(time.Second)
	}

	assert.LessOrEqual(t, countBackups(t, backupDir), 10, "backup rotation must cap retained snapshots")
}

func TestBackup_DeletesOldestFirst(t *testing.T) {
	dir := t.TempDir()
	sealer, err := crypto.NewAesGcmSealer("test-secret")
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC))
	backupDir := filepath.Join(dir, "backups")
	s := New(sealer, filepath.Join(dir, "accounts.json"), backupDir, 3, clock)

	ctx := context.Background()
	for i := 0; i < 5; i++ {
		require.NoError(t, s.SaveAccounts(ctx, []account.Account{testAccount("u1", "one@example.com")}))
		clock.Advance(time.Minute)
	}

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, entries, 3)

	// The first two snapshots (12:00, 12:01) are gone; the newest survive.
	var names []string
	for _, e := range entries {
		names = append(names, e.Name())
	}
	assert.NotContains(t, names, backupPrefix+"2026-03-01T12-00-00.000Z.json")
	assert.NotContains(t, names, backupPrefix+"2026-03-01T12-01-00.000Z.json")
	assert.Contains(t, names, backupPrefix+"2026-03-01T12-04-00.000Z.json")
}

func TestBackup_NameCarriesTimestamp(t *testing.T) {
	dir := t.TempDir()
	sealer, err := crypto.NewAesGcmSealer("test-secret")
	require.NoError(t, err)

	clock := clockwork.NewFakeClockAt(time.Date(2026, 3, 1, 12, 30, 45, 0, time.UTC))
	backupDir := filepath.Join(dir, "backups")
	s := New(sealer, filepath.Join(dir, "accounts.json"), backupDir, 10, clock)

	require.NoError(t, s.SaveAccounts(context.Background(), []account.Account{testAccount("u1", "one@example.com")}))

	entries, err := os.ReadDir(backupDir)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, "accounts_2026-03-01T12-30-45.000Z.json", entries[0].Name())
}
