package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/cryptofolio/tracker/internal/database"
	"github.com/cryptofolio/tracker/internal/domain"
)

// DistributionEntry is one group of a chain or protocol breakdown.
type DistributionEntry struct {
	Key           string          `json:"key"`
	Positions     int             `json:"positions"`
	PositionTypes int             `json:"positionTypes"`
	Value         decimal.Decimal `json:"value"`
}

// PgMetadataRepository persists position metadata.
type PgMetadataRepository struct {
	tm *database.TxManager
}

// NewPgMetadataRepository creates a metadata repository.
func NewPgMetadataRepository(tm *database.TxManager) *PgMetadataRepository {
	return &PgMetadataRepository{tm: tm}
}

// UpsertMetadata inserts or replaces the metadata of one position.
func (r *PgMetadataRepository) UpsertMetadata(ctx context.Context, m domain.PositionMetadata) error {
	_, err := r.tm.Querier(ctx).Exec(ctx,
		`INSERT INTO position_metadata (position_type, position_id, chain, protocol, notes, updated_at)
		 VALUES ($1, $2, $3, $4, $5, NOW())
		 ON CONFLICT (position_type, position_id) DO UPDATE SET
			chain = $3, protocol = $4, notes = $5, updated_at = NOW()`,
		string(m.PositionType), m.PositionID, m.Chain, m.Protocol, m.Notes)
	if err != nil {
		return fmt.Errorf("upserting metadata %s/%s: %w", m.PositionType, m.PositionID, err)
	}
	return nil
}

// GetMetadata returns the metadata of one position.
func (r *PgMetadataRepository) GetMetadata(ctx context.Context, posType domain.PositionType, id string) (domain.PositionMetadata, error) {
	var m domain.PositionMetadata
	var t string
	err := r.tm.Querier(ctx).QueryRow(ctx,
		`SELECT position_type, position_id, chain, protocol, notes, updated_at
		 FROM position_metadata WHERE position_type = $1 AND position_id = $2`,
		string(posType), id).Scan(&t, &m.PositionID, &m.Chain, &m.Protocol, &m.Notes, &m.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.PositionMetadata{}, fmt.Errorf("metadata %s/%s: %w", posType, id, domain.ErrNotFound)
	}
	if err != nil {
		return domain.PositionMetadata{}, fmt.Errorf("getting metadata %s/%s: %w", posType, id, err)
	}
	m.PositionType = domain.PositionType(t)
	return m, nil
}

// RenameMetadata moves the metadata of a position to a new id.
func (r *PgMetadataRepository) RenameMetadata(ctx context.Context, posType domain.PositionType, oldID, newID string) error {
	_, err := r.tm.Querier(ctx).Exec(ctx,
		`UPDATE position_metadata SET position_id = $3, updated_at = NOW()
		 WHERE position_type = $1 AND position_id = $2`,
		string(posType), oldID, newID)
	if err != nil {
		return fmt.Errorf("renaming metadata %s/%s: %w", posType, oldID, err)
	}
	return nil
}

// ChainDistribution groups positions by chain.
func (r *PgMetadataRepository) ChainDistribution(ctx context.Context) ([]DistributionEntry, error) {
	return r.distribution(ctx, "m.chain")
}

// ProtocolDistribution groups positions by protocol.
func (r *PgMetadataRepository) ProtocolDistribution(ctx context.Context) ([]DistributionEntry, error) {
	return r.distribution(ctx, "m.protocol")
}

// distribution is only called with the fixed column fragments above.
func (r *PgMetadataRepository) distribution(ctx context.Context, column string) ([]DistributionEntry, error) {
	rows, err := r.tm.Querier(ctx).Query(ctx,
		`SELECT `+column+` AS key, COUNT(DISTINCT (m.position_type, m.position_id)),
			COUNT(DISTINCT m.position_type), COALESCE(SUM(COALESCE(w.value, s.value, 0)), 0)
		 FROM position_metadata m
		 LEFT JOIN wallet w ON m.position_type = 'wallet' AND w.token = m.position_id
		 LEFT JOIN staking s ON m.position_type = 'staking' AND s.pool = m.position_id
		 GROUP BY key
		 ORDER BY 2 DESC, key ASC`)
	if err != nil {
		return nil, fmt.Errorf("querying distribution: %w", err)
	}
	defer rows.Close()

	var entries []DistributionEntry
	for rows.Next() {
		var e DistributionEntry
		if err := rows.Scan(&e.Key, &e.Positions, &e.PositionTypes, &e.Value); err != nil {
			return nil, fmt.Errorf("scanning distribution: %w", err)
		}
		entries = append(entries, e)
	}
	return entries, rows.Err()
}
