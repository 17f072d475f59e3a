package store

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"

	apperrors "github.com/calyxmail/calyx/internal/errors"
	"github.com/calyxmail/calyx/internal/metrics"
)

const backupPrefix = "accounts_"

// backupTimestampLayout is ISO 8601 with colons replaced by hyphens so the
// name stays filesystem-safe everywhere.
const backupTimestampLayout = "2006-01-02T15-04-05.000Z"

// writeBackup snapshots the serialized account list into the backup
// directory and prunes snapshots beyond the retention limit.
func (s *Store) writeBackup(ctx context.Context, data []byte) error {
	if err := os.MkdirAll(s.backupDir, 0o700); err != nil {
		return apperrors.StorageError("failed to create backup directory", err).WithField("dir", s.backupDir)
	}

	name := backupPrefix + s.clock.Now().UTC().Format(backupTimestampLayout) + ".json"
	path := filepath.Join(s.backupDir, name)
	if err := os.WriteFile(path, data, accountFileMode); err != nil {
		return apperrors.StorageError("failed to write backup snapshot", err).WithField("path", path)
	}

	if err := s.rotateBackups(ctx); err != nil {
		slog.WarnContext(ctx, "Backup rotation failed", "error", err)
	}
	return nil
}

// rotateBackups deletes all but the maxBackups most-recently-modified
// snapshots.
func (s *Store) rotateBackups(ctx context.Context) error {
	entries, err := os.ReadDir(s.backupDir)
	if err != nil {
		return fmt.Errorf("failed to read backup directory: %w", err)
	}

	type snapshot struct {
		name    string
		modTime int64
	}

	var snapshots []snapshot
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasPrefix(entry.Name(), backupPrefix) || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		info, err := entry.Info()
		if err != nil {
			continue
		}
		snapshots = append(snapshots, snapshot{name: entry.Name(), modTime: info.ModTime().UnixNano()})
	}

	// Newest first; the timestamped name breaks mtime ties.
	sort.Slice(snapshots, func(i, j int) bool {
		if snapshots[i].modTime != snapshots[j].modTime {
			return snapshots[i].modTime > snapshots[j].modTime
		}
		return snapshots[i].name > snapshots[j].name
	})

	for _, old := range snapshots[min(len(snapshots), s.maxBackups):] {
		path := filepath.Join(s.backupDir, old.name)
		if err := os.Remove(path); err != nil {
			slog.WarnContext(ctx, "Failed to delete old backup snapshot", "path", path, "error", err)
		}
	}

	metrics.BackupSnapshots.Set(float64(min(len(snapshots), s.maxBackups)))
	return nil
}
