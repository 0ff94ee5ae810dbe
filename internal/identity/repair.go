package identity

import (
	"context"
	"fmt"
	"log/slog"
)

// StoredNames is the raw persisted alternate-names text of one registry record.
type StoredNames struct {
	Name string
	Raw  string
}

// NameStore reads and rewrites persisted alternate names.
type NameStore interface {
	ListStoredAlternateNames(ctx context.Context) ([]StoredNames, error)
	SetStoredAlternateNames(ctx context.Context, name, encoded string) error
}

// RepairSummary reports the outcome of a repair pass.
type RepairSummary struct {
	Scanned int      `json:"scanned"`
	Updated int      `json:"updated"`
	Skipped int      `json:"skipped"`
	Failed  []string `json:"failed"`
}

// RepairStoredAlternateNames rewrites every stored alternate-names value that
// is not already in canonical form. Records that cannot be repaired are logged
// and skipped. Running it twice changes nothing the second time.
func RepairStoredAlternateNames(ctx context.Context, store NameStore) (RepairSummary, error) {
	summary := RepairSummary{Failed: []string{}}

	stored, err := store.ListStoredAlternateNames(ctx)
	if err != nil {
		return summary, fmt.Errorf("listing alternate names: %w", err)
	}

	for _, s := range stored {
		summary.Scanned++
		if s.Raw == "" || s.Raw == "[]" {
			continue
		}

		normalized := NormalizeAlternateNames(s.Raw)
		if len(normalized) == 0 {
			slog.Warn("alternate names normalized to nothing, leaving as is", "coin", s.Name, "raw", s.Raw)
			summary.Skipped++
			continue
		}

		encoded := EncodeAlternateNames(normalized)
		if encoded == s.Raw {
			continue
		}

		if err := store.SetStoredAlternateNames(ctx, s.Name, encoded); err != nil {
			slog.Error("failed to repair alternate names", "coin", s.Name, "error", err)
			summary.Failed = append(summary.Failed, s.Name)
			continue
		}
		slog.Info("repaired alternate names", "coin", s.Name, "from", s.Raw, "to", encoded)
		summary.Updated++
	}

	return summary, nil
}
