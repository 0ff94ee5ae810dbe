package metadata

import (
	"context"
	"fmt"
	"strings"

	"github.com/cryptofolio/tracker/internal/domain"
	"github.com/cryptofolio/tracker/internal/store"
)

// Repository persists position metadata.
type Repository interface {
	UpsertMetadata(ctx context.Context, m domain.PositionMetadata) error
	GetMetadata(ctx context.Context, posType domain.PositionType, id string) (domain.PositionMetadata, error)
	RenameMetadata(ctx context.Context, posType domain.PositionType, oldID, newID string) error
	ChainDistribution(ctx context.Context) ([]store.DistributionEntry, error)
	ProtocolDistribution(ctx context.Context) ([]store.DistributionEntry, error)
}

// TxRunner runs fn inside a transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// Service manages descriptive metadata attached to positions.
type Service struct {
	repo Repository
	tx   TxRunner
}

// NewService creates a metadata Service.
func NewService(repo Repository, tx TxRunner) *Service {
	return &Service{repo: repo, tx: tx}
}

// Upsert inserts or replaces the metadata of one position. When ctx already
// carries a transaction the write joins it.
func (s *Service) Upsert(ctx context.Context, m domain.PositionMetadata) (domain.PositionMetadata, error) {
	if !m.PositionType.Valid() {
		return domain.PositionMetadata{}, domain.NewValidationError("positionType", "unknown position type %q", m.PositionType)
	}
	m.PositionID = strings.TrimSpace(m.PositionID)
	if m.PositionID == "" {
		return domain.PositionMetadata{}, domain.NewValidationError("positionId", "must not be empty")
	}
	m.Chain = strings.TrimSpace(m.Chain)
	m.Protocol = strings.TrimSpace(m.Protocol)

	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.repo.UpsertMetadata(ctx, m)
	})
	if err != nil {
		return domain.PositionMetadata{}, fmt.Errorf("saving metadata: %w", err)
	}
	return m, nil
}

// Get returns the metadata of one position.
func (s *Service) Get(ctx context.Context, posType domain.PositionType, id string) (domain.PositionMetadata, error) {
	if !posType.Valid() {
		return domain.PositionMetadata{}, domain.NewValidationError("positionType", "unknown position type %q", posType)
	}
	return s.repo.GetMetadata(ctx, posType, id)
}

// Rename moves metadata to a new position id.
func (s *Service) Rename(ctx context.Context, posType domain.PositionType, oldID, newID string) error {
	return s.tx.WithinTx(ctx, func(ctx context.Context) error {
		return s.repo.RenameMetadata(ctx, posType, oldID, newID)
	})
}

// Distribution groups positions by "chain" or "protocol".
func (s *Service) Distribution(ctx context.Context, by string) ([]store.DistributionEntry, error) {
	var entries []store.DistributionEntry
	var err error
	switch by {
	case "chain":
		entries, err = s.repo.ChainDistribution(ctx)
	case "protocol":
		entries, err = s.repo.ProtocolDistribution(ctx)
	default:
		return nil, domain.NewValidationError("by", "must be chain or protocol, got %q", by)
	}
	if err != nil {
		return nil, err
	}
	if entries == nil {
		entries = []store.DistributionEntry{}
	}
	return entries, nil
}
