package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/jonboulle/clockwork"

	"github.com/calyxmail/calyx/internal/account"
	"github.com/calyxmail/calyx/internal/crypto"
	apperrors "github.com/calyxmail/calyx/internal/errors"
	"github.com/calyxmail/calyx/internal/metrics"
)

const accountFileMode = 0o600

// storedAccount is the on-disk shape of an account: the token set is
// replaced by its sealed blob (or omitted entirely).
type storedAccount struct {
	ID          string         `json:"id"`
	Email       string         `json:"email"`
	Tokens      *crypto.Blob   `json:"tokens,omitempty"`
	CreatedAt   time.Time      `json:"createdAt"`
	LastUpdated time.Time      `json:"lastUpdated"`
	Status      account.Status `json:"status,omitempty"`
}

// Store persists the account list as a single JSON file with sealed token
// blobs, snapshotting a rotating backup after every save.
type Store struct {
	sealer     crypto.Sealer
	path       string
	backupDir  string
	maxBackups int
	clock      clockwork.Clock
}

// New creates a Store writing the account file at path and backups under
// backupDir, retaining at most maxBackups snapshots.
func New(sealer crypto.Sealer, path, backupDir string, maxBackups int, clock clockwork.Clock) *Store {
	return &Store{
		sealer:     sealer,
		path:       path,
		backupDir:  backupDir,
		maxBackups: maxBackups,
		clock:      clock,
	}
}

// SaveAccounts seals each token set and rewrites the whole account file
// atomically, then writes a backup snapshot. Save failures propagate as
// storage errors; silent write loss is unacceptable.
func (s *Store) SaveAccounts(ctx context.Context, accounts []account.Account) error {
	stored := make([]storedAccount, 0, len(accounts))
	for _, acc := range accounts {
		rec := storedAccount{
			ID:          acc.ID,
			Email:       acc.Email,
			CreatedAt:   acc.CreatedAt,
			LastUpdated: acc.LastUpdated,
			Status:      acc.Status,
		}
		if acc.Tokens != nil {
			plaintext, err := json.Marshal(acc.Tokens)
			if err != nil {
				metrics.StoreSavesTotal.WithLabelValues("failure").Inc()
				return apperrors.StorageError("failed to serialize token set", err).WithField("account_id", acc.ID)
			}
			blob, err := s.sealer.Seal(plaintext)
			if err != nil {
				metrics.StoreSavesTotal.WithLabelValues("failure").Inc()
				return apperrors.StorageError("failed to seal token set", err).WithField("account_id", acc.ID)
			}
			rec.Tokens = &blob
		}
		stored = append(stored, rec)
	}

	data, err := json.MarshalIndent(stored, "", "  ")
	if err != nil {
		metrics.StoreSavesTotal.WithLabelValues("failure").Inc()
		return apperrors.StorageError("failed to serialize account list", err)
	}

	if err := s.writeAtomic(data); err != nil {
		metrics.StoreSavesTotal.WithLabelValues("failure").Inc()
		return err
	}
	metrics.StoreSavesTotal.WithLabelValues("success").Inc()

	if err := s.writeBackup(ctx, data); err != nil {
		// The primary write succeeded; a failed backup is a warning, not a
		// save failure.
		slog.WarnContext(ctx, "Failed to write account backup", "error", err)
	}

	return nil
}

// writeAtomic rewrites the account file via a temp file and rename so a
// crash mid-write never leaves a truncated account list.
func (s *Store) writeAtomic(data []byte) error {
	dir := filepath.Dir(s.path)
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return apperrors.StorageError("failed to create data directory", err).WithField("dir", dir)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(s.path)+".tmp-*")
	if err != nil {
		return apperrors.StorageError("failed to create temp file", err)
	}
	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)
		return apperrors.StorageError("failed to write account file", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return apperrors.StorageError("failed to close account file", err)
	}
	if err := os.Chmod(tmpName, accountFileMode); err != nil {
		os.Remove(tmpName)
		return apperrors.StorageError("failed to set account file permissions", err)
	}
	if err := os.Rename(tmpName, s.path); err != nil {
		os.Remove(tmpName)
		return apperrors.StorageError("failed to replace account file", err)
	}
	return nil
}

// LoadAccounts reads and decrypts the account list. A missing or unreadable
// file yields an empty list (fail open for availability). An account whose
// blob fails to decrypt is kept with cleared tokens and status "error" so one
// corrupted entry cannot take every account down.
func (s *Store) LoadAccounts(ctx context.Context) ([]account.Account, error) {
	return s.load(ctx, false)
}

// LoadStrict behaves like LoadAccounts but propagates the first decryption
// failure instead of isolating the affected account.
func (s *Store) LoadStrict(ctx context.Context) ([]account.Account, error) {
	return s.load(ctx, true)
}

func (s *Store) load(ctx context.Context, strict bool) ([]account.Account, error) {
	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			slog.WarnContext(ctx, "Account file unreadable, starting empty", "path", s.path, "error", err)
		}
		return []account.Account{}, nil
	}

	var stored []storedAccount
	if err := json.Unmarshal(data, &stored); err != nil {
		slog.WarnContext(ctx, "Account file malformed, starting empty", "path", s.path, "error", err)
		return []account.Account{}, nil
	}

	accounts := make([]account.Account, 0, len(stored))
	for _, rec := range stored {
		acc := account.Account{
			ID:          rec.ID,
			Email:       rec.Email,
			CreatedAt:   rec.CreatedAt,
			LastUpdated: rec.LastUpdated,
			Status:      rec.Status,
		}
		if rec.Tokens != nil {
			plaintext, err := s.sealer.Open(*rec.Tokens)
			if err != nil {
				if strict {
					return nil, fmt.Errorf("account %s: %w", rec.ID, err)
				}
				slog.WarnContext(ctx, "Failed to decrypt account tokens, marking account as errored",
					"account_id", rec.ID, "error", err)
				acc.Tokens = nil
				acc.Status = account.StatusError
				accounts = append(accounts, acc)
				continue
			}
			var tokens account.TokenSet
			if err := json.Unmarshal(plaintext, &tokens); err != nil {
				if strict {
					return nil, apperrors.DecryptionError("decrypted token set is malformed", err).WithField("account_id", rec.ID)
				}
				slog.WarnContext(ctx, "Decrypted token set malformed, marking account as errored",
					"account_id", rec.ID, "error", err)
				acc.Status = account.StatusError
				accounts = append(accounts, acc)
				continue
			}
			acc.Tokens = &tokens
		}
		accounts = append(accounts, acc)
	}

	return accounts, nil
}
