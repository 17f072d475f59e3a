package store

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"os"
)

// IntegrityReport is the result of a VerifyIntegrity pass.
type IntegrityReport struct {
	Valid       bool     `json:"valid"`
	Diagnostics []string `json:"diagnostics"`
}

// VerifyIntegrity checks the structural health of the persisted account
// list: every account has a non-empty id and every present blob carries all
// three hex-decodable sub-fields. It reports findings rather than failing;
// a missing file is a valid empty store.
func (s *Store) VerifyIntegrity(ctx context.Context) IntegrityReport {
	report := IntegrityReport{Valid: true, Diagnostics: []string{}}

	data, err := os.ReadFile(s.path)
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			report.Valid = false
			report.Diagnostics = append(report.Diagnostics, fmt.Sprintf("account file unreadable: %v", err))
		}
		return report
	}

	var stored []storedAccount
	if err := json.Unmarshal(data, &stored); err != nil {
		report.Valid = false
		report.Diagnostics = append(report.Diagnostics, fmt.Sprintf("account file is not valid JSON: %v", err))
		return report
	}

	seen := make(map[string]bool, len(stored))
	for i, rec := range stored {
		if rec.ID == "" {
			report.Valid = false
			report.Diagnostics = append(report.Diagnostics, fmt.Sprintf("account at index %d has an empty id", i))
			continue
		}
		if seen[rec.ID] {
			report.Valid = false
			report.Diagnostics = append(report.Diagnostics, fmt.Sprintf("account id %q appears more than once", rec.ID))
		}
		seen[rec.ID] = true

		if rec.Tokens == nil {
			continue
		}
		if !rec.Tokens.Complete() {
			report.Valid = false
			report.Diagnostics = append(report.Diagnostics, fmt.Sprintf("account %q has an incomplete token blob", rec.ID))
			continue
		}
		for field, value := range map[string]string{
			"encrypted": rec.Tokens.Encrypted,
			"iv":        rec.Tokens.IV,
			"authTag":   rec.Tokens.AuthTag,
		} {
			if _, err := hex.DecodeString(value); err != nil {
				report.Valid = false
				report.Diagnostics = append(report.Diagnostics, fmt.Sprintf("account %q: %s is not valid hex", rec.ID, field))
			}
		}
	}

	return report
}
