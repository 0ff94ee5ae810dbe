package staking

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/shopspring/decimal"

	"github.com/cryptofolio/tracker/internal/domain"
	"github.com/cryptofolio/tracker/internal/identity"
	"github.com/cryptofolio/tracker/internal/store"
)

// Repository persists staked positions.
type Repository interface {
	InsertStaked(ctx context.Context, p domain.StakedPosition) (int64, error)
	UpdateStaked(ctx context.Context, p domain.StakedPosition) error
	GetStakedByPool(ctx context.Context, pool string) (domain.StakedPosition, error)
	ListStaked(ctx context.Context, sort store.Sort) ([]domain.StakedPosition, error)
	StakingTotal(ctx context.Context) (decimal.Decimal, error)
}

// CoinSource supplies the coin registry used to resolve staked tokens.
type CoinSource interface {
	AllCoins(ctx context.Context) ([]domain.CoinRecord, error)
}

// MetadataWriter records position metadata.
type MetadataWriter interface {
	Upsert(ctx context.Context, m domain.PositionMetadata) (domain.PositionMetadata, error)
	Rename(ctx context.Context, posType domain.PositionType, oldID, newID string) error
}

// TxRunner runs fn inside a transaction.
type TxRunner interface {
	WithinTx(ctx context.Context, fn func(ctx context.Context) error) error
}

// AddRequest describes a new staked position.
type AddRequest struct {
	Pool      string          `json:"pool"`
	Token     string          `json:"token"`
	Holdings  decimal.Decimal `json:"holdings"`
	Deposited decimal.Decimal `json:"depositedAmount"`
	Project   string          `json:"project"`
	Chain     string          `json:"chain"`
	Notes     string          `json:"notes,omitempty"`
}

// UpdateRequest changes an existing position. A nil Deposited keeps the
// stored deposit and an empty NewPool keeps the pool name.
type UpdateRequest struct {
	CurrentPool string           `json:"currentPool"`
	NewPool     string           `json:"newPool,omitempty"`
	Holdings    decimal.Decimal  `json:"holdings"`
	Deposited   *decimal.Decimal `json:"depositedAmount,omitempty"`
}

// Service manages manually tracked staking positions.
type Service struct {
	repo     Repository
	coins    CoinSource
	metadata MetadataWriter
	tx       TxRunner
}

// NewService creates a staking Service.
func NewService(repo Repository, coins CoinSource, metadata MetadataWriter, tx TxRunner) *Service {
	return &Service{repo: repo, coins: coins, metadata: metadata, tx: tx}
}

func (s *Service) resolve(ctx context.Context, token string) (domain.CoinRecord, error) {
	records, err := s.coins.AllCoins(ctx)
	if err != nil {
		return domain.CoinRecord{}, fmt.Errorf("loading coin registry: %w", err)
	}
	rec, err := identity.NewIndex(records).Resolve(token)
	if err != nil {
		return domain.CoinRecord{}, domain.NewValidationError("token", "unknown token %q", token)
	}
	return rec, nil
}

// AddPosition stores a new staked position priced from the registry together
// with its staking metadata.
func (s *Service) AddPosition(ctx context.Context, req AddRequest) (domain.StakedPosition, error) {
	req.Pool = strings.TrimSpace(req.Pool)
	if req.Pool == "" {
		return domain.StakedPosition{}, domain.NewValidationError("pool", "must not be empty")
	}
	if strings.TrimSpace(req.Token) == "" {
		return domain.StakedPosition{}, domain.NewValidationError("token", "must not be empty")
	}
	if req.Holdings.IsNegative() {
		return domain.StakedPosition{}, domain.NewValidationError("holdings", "must not be negative")
	}
	if req.Deposited.IsNegative() {
		return domain.StakedPosition{}, domain.NewValidationError("depositedAmount", "must not be negative")
	}

	coin, err := s.resolve(ctx, req.Token)
	if err != nil {
		return domain.StakedPosition{}, err
	}

	pos := domain.StakedPosition{
		Pool:            req.Pool,
		Token:           coin.Name,
		Price:           coin.CurrentPrice,
		Holdings:        req.Holdings,
		Value:           domain.PositionValue(coin.CurrentPrice, req.Holdings),
		DepositedAmount: req.Deposited,
		Project:         strings.TrimSpace(req.Project),
		Chain:           strings.TrimSpace(req.Chain),
		Notes:           req.Notes,
	}

	err = s.tx.WithinTx(ctx, func(ctx context.Context) error {
		if err := s.ensurePoolFree(ctx, pos.Pool); err != nil {
			return err
		}
		id, err := s.repo.InsertStaked(ctx, pos)
		if err != nil {
			return err
		}
		pos.ID = id
		_, err = s.metadata.Upsert(ctx, domain.PositionMetadata{
			PositionType: domain.PositionStaking,
			PositionID:   pos.Pool,
			Chain:        pos.Chain,
			Protocol:     pos.Project,
			Notes:        pos.Notes,
		})
		return err
	})
	if err != nil {
		return domain.StakedPosition{}, fmt.Errorf("adding staked position %q: %w", pos.Pool, err)
	}

	slog.Info("staked position added", "pool", pos.Pool, "token", pos.Token, "value", pos.Value.StringFixed(2))
	return pos, nil
}

// UpdatePosition changes holdings, optionally the deposit and pool name, and
// reprices the position from the registry.
func (s *Service) UpdatePosition(ctx context.Context, req UpdateRequest) (domain.StakedPosition, error) {
	req.CurrentPool = strings.TrimSpace(req.CurrentPool)
	req.NewPool = strings.TrimSpace(req.NewPool)
	if req.CurrentPool == "" {
		return domain.StakedPosition{}, domain.NewValidationError("currentPool", "must not be empty")
	}
	if req.Holdings.IsNegative() {
		return domain.StakedPosition{}, domain.NewValidationError("holdings", "must not be negative")
	}
	if req.Deposited != nil && req.Deposited.IsNegative() {
		return domain.StakedPosition{}, domain.NewValidationError("depositedAmount", "must not be negative")
	}

	var pos domain.StakedPosition
	err := s.tx.WithinTx(ctx, func(ctx context.Context) error {
		var err error
		pos, err = s.repo.GetStakedByPool(ctx, req.CurrentPool)
		if err != nil {
			return err
		}

		if coin, err := s.resolve(ctx, pos.Token); err == nil {
			pos.Price = coin.CurrentPrice
		} else if !errors.Is(err, domain.ErrValidation) {
			return err
		}

		renamed := req.NewPool != "" && req.NewPool != pos.Pool
		if renamed {
			if err := s.ensurePoolFree(ctx, req.NewPool); err != nil {
				return err
			}
			pos.Pool = req.NewPool
		}
		pos.Holdings = req.Holdings
		if req.Deposited != nil {
			pos.DepositedAmount = *req.Deposited
		}
		pos.Value = domain.PositionValue(pos.Price, pos.Holdings)

		if err := s.repo.UpdateStaked(ctx, pos); err != nil {
			return err
		}
		if renamed {
			return s.metadata.Rename(ctx, domain.PositionStaking, req.CurrentPool, pos.Pool)
		}
		return nil
	})
	if err != nil {
		return domain.StakedPosition{}, fmt.Errorf("updating staked position %q: %w", req.CurrentPool, err)
	}
	return pos, nil
}

func (s *Service) ensurePoolFree(ctx context.Context, pool string) error {
	_, err := s.repo.GetStakedByPool(ctx, pool)
	switch {
	case err == nil:
		return domain.NewValidationError("pool", "pool %q already exists", pool)
	case errors.Is(err, domain.ErrNotFound):
		return nil
	default:
		return err
	}
}

// ListPositions returns staked positions in the requested order.
func (s *Service) ListPositions(ctx context.Context, sort store.Sort) ([]domain.StakedPosition, error) {
	positions, err := s.repo.ListStaked(ctx, sort)
	if err != nil {
		return nil, err
	}
	if positions == nil {
		positions = []domain.StakedPosition{}
	}
	return positions, nil
}

// TotalValue returns the summed value of all staked positions.
func (s *Service) TotalValue(ctx context.Context) (decimal.Decimal, error) {
	return s.repo.StakingTotal(ctx)
}
