package identity

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode/utf8"

	"github.com/cryptofolio/tracker/internal/domain"
)

// minSubstringLen keeps very short provider names from matching by substring.
const minSubstringLen = 4

// Index resolves raw provider token names to registry records. Lookup order is
// canonical name, then display name, then alternate-name membership (all
// case-insensitive), then a substring match inside alternate names for names of
// at least minSubstringLen runes. Candidates are visited in rank order so ties
// resolve deterministically.
type Index struct {
	mu      sync.RWMutex
	records []domain.CoinRecord
}

// NewIndex builds an index over records.
func NewIndex(records []domain.CoinRecord) *Index {
	idx := &Index{records: make([]domain.CoinRecord, len(records))}
	copy(idx.records, records)
	sortRecords(idx.records)
	return idx
}

func sortRecords(records []domain.CoinRecord) {
	sort.SliceStable(records, func(i, j int) bool {
		ri, rj := records[i].MarketCapRank, records[j].MarketCapRank
		if (ri == 0) != (rj == 0) {
			return rj == 0
		}
		if ri != rj {
			return ri < rj
		}
		return records[i].Name < records[j].Name
	})
}

// Len returns the number of indexed records.
func (idx *Index) Len() int {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	return len(idx.records)
}

// Resolve returns the registry record raw refers to, or an error wrapping
// domain.ErrNotFound. It never creates records.
func (idx *Index) Resolve(raw string) (domain.CoinRecord, error) {
	name := CleanName(raw)
	if name == "" {
		return domain.CoinRecord{}, fmt.Errorf("resolving empty name: %w", domain.ErrNotFound)
	}

	idx.mu.RLock()
	defer idx.mu.RUnlock()

	for _, rec := range idx.records {
		if strings.EqualFold(rec.Name, name) {
			return rec, nil
		}
	}
	for _, rec := range idx.records {
		if rec.DisplayName != "" && strings.EqualFold(rec.DisplayName, name) {
			return rec, nil
		}
	}
	for _, rec := range idx.records {
		for _, alt := range rec.AlternateNames {
			if strings.EqualFold(alt, name) {
				return rec, nil
			}
		}
	}
	if utf8.RuneCountInString(name) < minSubstringLen {
		return domain.CoinRecord{}, fmt.Errorf("resolving %q: %w", name, domain.ErrNotFound)
	}
	lower := strings.ToLower(name)
	for _, rec := range idx.records {
		for _, alt := range rec.AlternateNames {
			if strings.Contains(strings.ToLower(alt), lower) {
				return rec, nil
			}
		}
	}
	return domain.CoinRecord{}, fmt.Errorf("resolving %q: %w", name, domain.ErrNotFound)
}

// Put inserts or replaces the record with the same canonical name.
func (idx *Index) Put(rec domain.CoinRecord) {
	idx.mu.Lock()
	defer idx.mu.Unlock()
	for i := range idx.records {
		if idx.records[i].Name == rec.Name {
			idx.records[i] = rec
			return
		}
	}
	idx.records = append(idx.records, rec)
	sortRecords(idx.records)
}

// MergeRegistry folds freshly fetched market data into a stored record. The
// stored canonical name wins, and the stored display name and external id win
// unless empty. Alternate names are the union of the stored and fetched sets
// plus the resulting canonical and display names.
func MergeRegistry(stored, fetched domain.CoinRecord) domain.CoinRecord {
	merged := fetched
	merged.Name = stored.Name
	if stored.DisplayName != "" {
		merged.DisplayName = stored.DisplayName
	}
	if stored.ExternalID != "" {
		merged.ExternalID = stored.ExternalID
	}
	names := NormalizeAlternateNames(stored.AlternateNames)
	for _, name := range fetched.AlternateNames {
		names, _ = MergeAlternateName(names, name)
	}
	merged.AlternateNames = WithIdentityNames(names, merged.Name, merged.DisplayName)
	return merged
}

// WithIdentityNames returns names extended with the canonical and display
// names when they are missing.
func WithIdentityNames(names []string, name, displayName string) []string {
	if names == nil {
		names = []string{}
	}
	names, _ = MergeAlternateName(names, name)
	names, _ = MergeAlternateName(names, displayName)
	return names
}

// WithAlias records raw as an alternate name of rec. Labels are compared by
// exact string after cleaning.
func WithAlias(rec domain.CoinRecord, raw string) (domain.CoinRecord, bool) {
	names, changed := MergeAlternateName(rec.AlternateNames, raw)
	if !changed {
		return rec, false
	}
	rec.AlternateNames = names
	return rec, true
}
