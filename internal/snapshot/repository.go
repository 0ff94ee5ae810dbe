package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/shopspring/decimal"

	"github.com/cryptofolio/tracker/internal/database"
	"github.com/cryptofolio/tracker/internal/domain"
)

// Snapshot is a stored daily portfolio snapshot.
type Snapshot struct {
	SnapshotDate time.Time       `json:"snapshotDate"`
	Total        decimal.Decimal `json:"total"`
	Data         json.RawMessage `json:"data"`
	CreatedAt    time.Time       `json:"createdAt"`
}

// Repository defines persistent storage for snapshots.
type Repository interface {
	Save(ctx context.Context, date time.Time, total decimal.Decimal, data json.RawMessage) error
	GetLatest(ctx context.Context) (*Snapshot, error)
	GetByDate(ctx context.Context, date time.Time) (*Snapshot, error)
	List(ctx context.Context, limit int) ([]Snapshot, error)
}

// PgRepository implements Repository with PostgreSQL.
type PgRepository struct {
	tm *database.TxManager
}

// NewPgRepository creates a new PostgreSQL snapshot repository.
func NewPgRepository(tm *database.TxManager) *PgRepository {
	return &PgRepository{tm: tm}
}

const snapshotColumns = `snapshot_date, total, data, created_at`

func scanSnapshot(row pgx.Row) (*Snapshot, error) {
	var s Snapshot
	if err := row.Scan(&s.SnapshotDate, &s.Total, &s.Data, &s.CreatedAt); err != nil {
		return nil, err
	}
	return &s, nil
}

// Save stores the snapshot for date, replacing any earlier one from the same day.
func (r *PgRepository) Save(ctx context.Context, date time.Time, total decimal.Decimal, data json.RawMessage) error {
	_, err := r.tm.Querier(ctx).Exec(ctx,
		`INSERT INTO portfolio_snapshots (snapshot_date, total, data)
		 VALUES ($1, $2, $3::jsonb)
		 ON CONFLICT (snapshot_date)
		 DO UPDATE SET total = $2, data = $3::jsonb, created_at = NOW()`,
		date, total, data)
	if err != nil {
		return fmt.Errorf("saving snapshot: %w", err)
	}
	return nil
}

func (r *PgRepository) GetLatest(ctx context.Context) (*Snapshot, error) {
	s, err := scanSnapshot(r.tm.Querier(ctx).QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM portfolio_snapshots
		 ORDER BY snapshot_date DESC
		 LIMIT 1`))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("latest snapshot: %w", domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting latest snapshot: %w", err)
	}
	return s, nil
}

func (r *PgRepository) GetByDate(ctx context.Context, date time.Time) (*Snapshot, error) {
	s, err := scanSnapshot(r.tm.Querier(ctx).QueryRow(ctx,
		`SELECT `+snapshotColumns+` FROM portfolio_snapshots
		 WHERE snapshot_date = $1`, date))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, fmt.Errorf("snapshot %s: %w", date.Format(time.DateOnly), domain.ErrNotFound)
		}
		return nil, fmt.Errorf("getting snapshot by date: %w", err)
	}
	return s, nil
}

// List returns the most recent snapshots without their data payload.
func (r *PgRepository) List(ctx context.Context, limit int) ([]Snapshot, error) {
	if limit <= 0 {
		limit = 30
	}

	rows, err := r.tm.Querier(ctx).Query(ctx,
		`SELECT snapshot_date, total, created_at FROM portfolio_snapshots
		 ORDER BY snapshot_date DESC
		 LIMIT $1`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing snapshots: %w", err)
	}
	defer rows.Close()

	var snapshots []Snapshot
	for rows.Next() {
		var s Snapshot
		if err := rows.Scan(&s.SnapshotDate, &s.Total, &s.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning snapshot: %w", err)
		}
		snapshots = append(snapshots, s)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating snapshots: %w", err)
	}
	return snapshots, nil
}
