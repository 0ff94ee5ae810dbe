package store

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/cryptofolio/tracker/internal/database"
	"github.com/cryptofolio/tracker/internal/domain"
	"github.com/cryptofolio/tracker/internal/identity"
)

const coinColumns = `name, display_name, alternate_names, external_id, current_price, market_cap,
	market_cap_rank, total_volume, high_24h, low_24h, price_change_24h, price_change_pct_24h,
	price_change_pct_1h, market_cap_change_24h, market_cap_change_pct_24h, updated_at`

// PgCoinRepository persists registry records in the coins table.
type PgCoinRepository struct {
	tm *database.TxManager
}

// NewPgCoinRepository creates a coin repository.
func NewPgCoinRepository(tm *database.TxManager) *PgCoinRepository {
	return &PgCoinRepository{tm: tm}
}

func scanCoin(row pgx.Row) (domain.CoinRecord, error) {
	var c domain.CoinRecord
	var altNames string
	err := row.Scan(&c.Name, &c.DisplayName, &altNames, &c.ExternalID, &c.CurrentPrice, &c.MarketCap,
		&c.MarketCapRank, &c.TotalVolume, &c.High24h, &c.Low24h, &c.PriceChange24h, &c.PriceChangePct24h,
		&c.PriceChangePct1h, &c.MarketCapChange24h, &c.MarketCapChangePct24h, &c.UpdatedAt)
	if err != nil {
		return domain.CoinRecord{}, err
	}
	c.AlternateNames = identity.NormalizeAlternateNames(altNames)
	return c, nil
}

// ListCoins returns all registry records in the requested order.
func (r *PgCoinRepository) ListCoins(ctx context.Context, sort Sort) ([]domain.CoinRecord, error) {
	rows, err := r.tm.Querier(ctx).Query(ctx, `SELECT `+coinColumns+` FROM coins`+coinSorts.orderBy(sort))
	if err != nil {
		return nil, fmt.Errorf("listing coins: %w", err)
	}
	defer rows.Close()

	var coins []domain.CoinRecord
	for rows.Next() {
		c, err := scanCoin(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning coin: %w", err)
		}
		coins = append(coins, c)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating coins: %w", err)
	}
	return coins, nil
}

// AllCoins returns every registry record in default order.
func (r *PgCoinRepository) AllCoins(ctx context.Context) ([]domain.CoinRecord, error) {
	return r.ListCoins(ctx, DefaultCoinSort)
}

// GetCoin returns the record with the given canonical name.
func (r *PgCoinRepository) GetCoin(ctx context.Context, name string) (domain.CoinRecord, error) {
	c, err := scanCoin(r.tm.Querier(ctx).QueryRow(ctx,
		`SELECT `+coinColumns+` FROM coins WHERE name = $1`, name))
	if errors.Is(err, pgx.ErrNoRows) {
		return domain.CoinRecord{}, fmt.Errorf("coin %q: %w", name, domain.ErrNotFound)
	}
	if err != nil {
		return domain.CoinRecord{}, fmt.Errorf("getting coin %q: %w", name, err)
	}
	return c, nil
}

// UpsertCoin writes rec as-is. Callers merge identity fields before calling.
func (r *PgCoinRepository) UpsertCoin(ctx context.Context, c domain.CoinRecord) error {
	_, err := r.tm.Querier(ctx).Exec(ctx,
		`INSERT INTO coins (`+coinColumns+`)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, NOW())
		 ON CONFLICT (name) DO UPDATE SET
			display_name = $2, alternate_names = $3, external_id = $4, current_price = $5,
			market_cap = $6, market_cap_rank = $7, total_volume = $8, high_24h = $9, low_24h = $10,
			price_change_24h = $11, price_change_pct_24h = $12, price_change_pct_1h = $13,
			market_cap_change_24h = $14, market_cap_change_pct_24h = $15, updated_at = NOW()`,
		c.Name, c.DisplayName, identity.EncodeAlternateNames(c.AlternateNames), c.ExternalID,
		c.CurrentPrice, c.MarketCap, c.MarketCapRank, c.TotalVolume, c.High24h, c.Low24h,
		c.PriceChange24h, c.PriceChangePct24h, c.PriceChangePct1h, c.MarketCapChange24h,
		c.MarketCapChangePct24h)
	if err != nil {
		return fmt.Errorf("upserting coin %q: %w", c.Name, err)
	}
	return nil
}

// UpdateCoinPrice sets the current price of an existing record.
func (r *PgCoinRepository) UpdateCoinPrice(ctx context.Context, name string, price decimal.Decimal) error {
	tag, err := r.tm.Querier(ctx).Exec(ctx,
		`UPDATE coins SET current_price = $2, updated_at = NOW() WHERE name = $1`, name, price)
	if err != nil {
		return fmt.Errorf("updating price of %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("coin %q: %w", name, domain.ErrNotFound)
	}
	return nil
}

// UpdateCoinNames replaces the display name and alternate names of an existing record.
func (r *PgCoinRepository) UpdateCoinNames(ctx context.Context, name, displayName string, alternateNames []string) error {
	tag, err := r.tm.Querier(ctx).Exec(ctx,
		`UPDATE coins SET display_name = $2, alternate_names = $3, updated_at = NOW() WHERE name = $1`,
		name, displayName, identity.EncodeAlternateNames(alternateNames))
	if err != nil {
		return fmt.Errorf("updating names of %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("coin %q: %w", name, domain.ErrNotFound)
	}
	return nil
}

// SetAlternateNames replaces the alternate names of an existing record.
func (r *PgCoinRepository) SetAlternateNames(ctx context.Context, name string, names []string) error {
	return r.SetStoredAlternateNames(ctx, name, identity.EncodeAlternateNames(names))
}

// ListStoredAlternateNames returns the raw alternate_names text of every record.
func (r *PgCoinRepository) ListStoredAlternateNames(ctx context.Context) ([]identity.StoredNames, error) {
	rows, err := r.tm.Querier(ctx).Query(ctx, `SELECT name, alternate_names FROM coins ORDER BY name`)
	if err != nil {
		return nil, fmt.Errorf("listing alternate names: %w", err)
	}
	defer rows.Close()

	var out []identity.StoredNames
	for rows.Next() {
		var s identity.StoredNames
		if err := rows.Scan(&s.Name, &s.Raw); err != nil {
			return nil, fmt.Errorf("scanning alternate names: %w", err)
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// SetStoredAlternateNames writes already-encoded alternate names text.
func (r *PgCoinRepository) SetStoredAlternateNames(ctx context.Context, name, encoded string) error {
	tag, err := r.tm.Querier(ctx).Exec(ctx,
		`UPDATE coins SET alternate_names = $2 WHERE name = $1`, name, encoded)
	if err != nil {
		return fmt.Errorf("writing alternate names of %q: %w", name, err)
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("coin %q: %w", name, domain.ErrNotFound)
	}
	return nil
}
