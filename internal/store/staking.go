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

const stakingColumns = `id, pool, token, price, holdings, value, deposited_amount, project, chain, notes, updated_at`

// PgStakingRepository persists staked positions.
type PgStakingRepository struct {
	tm *database.TxManager
}

// NewPgStakingRepository creates a staking repository.
func NewPgStakingRepository(tm *database.TxManager) *PgStakingRepository {
	return &PgStakingRepository{tm: tm}
}

func scanStaked(row pgx.Row) (domain.StakedPosition, error) {
	var p domain.StakedPosition
	err := row.Scan(&p.ID, &p.Pool, &p.Token, &p.Price, &p.Holdings, &p.Value, &p.DepositedAmount,
		&p.Project, &p.Chain, &p.Notes, &p.UpdatedAt)
	return p, err
}

// InsertStaked stores a new position and returns its id.
func (r *PgStakingRepository) InsertStaked(ctx context.Context, p domain.StakedPosition) (int64, error) {
	var id int64
	err := r.tm.Querier(ctx).QueryRow(ctx,
		`INSERT INTO staking (pool, token, price, holdings, deposited_amount, project, chain, notes, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, NOW())
		 RETURNING id`,
		p.Pool, p.Token, p.Price, p.Holdings, p.DepositedAmount, p.Project, p.Chain, p.Notes).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("inserting staked position %s/%s: %w", p.Pool, p.Token, err)
	}
	return id, nil
}

// UpdateStaked overwrites the mutable fields of position p.ID.
func (r *PgStakingRepository) UpdateStaked(ctx context.Context, p domain.StakedPosition) error {
	tag, err := r.tm.Querier(ctx).Exec(ctx,
		`UPDATE staking SET pool = $2, token = $3, price = $4, holdings = $5, deposited_amount = $6,
			project = $7, chain = $8, notes = $9, updated_at = NOW()
		 WHERE id = $1`,
		p.ID, p.Pool, p.Token, p.Price, p.Holdings, p.DepositedAmount, p.Project, p.Chain, p.Notes)
	if err != nil {
		return fmt.Errorf("updating staked position %d: %w", p.ID, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("staked position %d: %w", p.ID, domain.ErrNotFound)
	}
	return nil
}

// GetStakedByPool returns the position identified by pool.
func (r *PgStakingRepository) GetStakedByPool(ctx context.Context, pool string) (domain.StakedPosition, error) {
	p, err := scanStaked(r.tm.Querier(ctx).QueryRow(ctx,
		`SELECT `+stakingColumns+` FROM staking WHERE pool = $1`, pool))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.StakedPosition{}, fmt.Errorf("staked position %q: %w", pool, domain.ErrNotFound)
	}
	if err != nil {
		return domain.StakedPosition{}, fmt.Errorf("getting staked position %q: %w", pool, err)
	}
	return p, nil
}

// ListStaked returns all staked positions in the requested order.
func (r *PgStakingRepository) ListStaked(ctx context.Context, sort Sort) ([]domain.StakedPosition, error) {
	rows, err := r.tm.Querier(ctx).Query(ctx, `SELECT `+stakingColumns+` FROM staking`+stakingSorts.orderBy(sort))
	if err != nil {
		return nil, fmt.Errorf("listing staking: %w", err)
	}
	defer rows.Close()

	var positions []domain.StakedPosition
	for rows.Next() {
		p, err := scanStaked(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning staked position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating staking: %w", err)
	}
	return positions, nil
}

// StakingTotal returns the summed value of all staked positions.
func (r *PgStakingRepository) StakingTotal(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := r.tm.Querier(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(value), 0) FROM staking`).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("summing staking: %w", err)
	}
	return total, nil
}

// SyncStakingPrices copies current registry prices onto staked positions of
// known tokens and returns the number of rows changed.
func (r *PgStakingRepository) SyncStakingPrices(ctx context.Context) (int64, error) {
	tag, err := r.tm.Querier(ctx).Exec(ctx,
		`UPDATE staking s SET price = c.current_price, updated_at = NOW()
		 FROM coins c
		 WHERE s.token = c.name AND c.current_price > 0 AND s.price <> c.current_price`)
	if err != nil {
		return 0, fmt.Errorf("syncing staking prices: %w", err)
	}
	return tag.RowsAffected(), nil
}
