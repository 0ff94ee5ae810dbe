package store

import (
	"context"
	"fmt"

	"github.com/shopspring/decimal"

	"github.com/cryptofolio/tracker/internal/database"
	"github.com/cryptofolio/tracker/internal/domain"
)

// PgWalletRepository persists aggregated wallet positions.
type PgWalletRepository struct {
	tm *database.TxManager
}

// NewPgWalletRepository creates a wallet repository.
func NewPgWalletRepository(tm *database.TxManager) *PgWalletRepository {
	return &PgWalletRepository{tm: tm}
}

// UpsertWalletPosition replaces the stored row for pos.Token. Value is derived
// by the database from price and holdings.
func (r *PgWalletRepository) UpsertWalletPosition(ctx context.Context, pos domain.WalletPosition) error {
	chains := pos.Chains
	if chains == nil {
		chains = []string{}
	}
	_, err := r.tm.Querier(ctx).Exec(ctx,
		`INSERT INTO wallet (token, price, holdings, chains, updated_at)
		 VALUES ($1, $2, $3, $4, NOW())
		 ON CONFLICT (token) DO UPDATE SET price = $2, holdings = $3, chains = $4, updated_at = NOW()`,
		pos.Token, pos.Price, pos.Holdings, chains)
	if err != nil {
		return fmt.Errorf("upserting wallet position %q: %w", pos.Token, err)
	}
	return nil
}

// ListWallet returns all wallet positions in the requested order.
func (r *PgWalletRepository) ListWallet(ctx context.Context, sort Sort) ([]domain.WalletPosition, error) {
	rows, err := r.tm.Querier(ctx).Query(ctx,
		`SELECT token, price, holdings, value, chains, updated_at FROM wallet`+walletSorts.orderBy(sort))
	if err != nil {
		return nil, fmt.Errorf("listing wallet: %w", err)
	}
	defer rows.Close()

	var positions []domain.WalletPosition
	for rows.Next() {
		var p domain.WalletPosition
		if err := rows.Scan(&p.Token, &p.Price, &p.Holdings, &p.Value, &p.Chains, &p.UpdatedAt); err != nil {
			return nil, fmt.Errorf("scanning wallet position: %w", err)
		}
		positions = append(positions, p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating wallet: %w", err)
	}
	return positions, nil
}

// WalletTotal returns the summed value of all wallet positions.
func (r *PgWalletRepository) WalletTotal(ctx context.Context) (decimal.Decimal, error) {
	var total decimal.Decimal
	if err := r.tm.Querier(ctx).QueryRow(ctx,
		`SELECT COALESCE(SUM(value), 0) FROM wallet`).Scan(&total); err != nil {
		return decimal.Zero, fmt.Errorf("summing wallet: %w", err)
	}
	return total, nil
}
