package staking

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/shopspring/decimal"

	"github.com/cryptofolio/tracker/internal/domain"
	"github.com/cryptofolio/tracker/internal/store"
)

type mockRepo struct {
	byPool map[string]domain.StakedPosition
	nextID int64
}

func newMockRepo() *mockRepo {
	return &mockRepo{byPool: map[string]domain.StakedPosition{}}
}

func (m *mockRepo) InsertStaked(_ context.Context, p domain.StakedPosition) (int64, error) {
	m.nextID++
	p.ID = m.nextID
	m.byPool[p.Pool] = p
	return p.ID, nil
}

func (m *mockRepo) UpdateStaked(_ context.Context, p domain.StakedPosition) error {
	for pool, existing := range m.byPool {
		if existing.ID == p.ID {
			delete(m.byPool, pool)
			m.byPool[p.Pool] = p
			return nil
		}
	}
	return domain.ErrNotFound
}

func (m *mockRepo) GetStakedByPool(_ context.Context, pool string) (domain.StakedPosition, error) {
	p, ok := m.byPool[pool]
	if !ok {
		return domain.StakedPosition{}, fmt.Errorf("staked position %q: %w", pool, domain.ErrNotFound)
	}
	return p, nil
}

func (m *mockRepo) ListStaked(_ context.Context, _ store.Sort) ([]domain.StakedPosition, error) {
	var out []domain.StakedPosition
	for _, p := range m.byPool {
		out = append(out, p)
	}
	return out, nil
}

func (m *mockRepo) StakingTotal(_ context.Context) (decimal.Decimal, error) {
	total := decimal.Zero
	for _, p := range m.byPool {
		total = total.Add(p.Value)
	}
	return total, nil
}

type mockCoins struct {
	records []domain.CoinRecord
}

func (m *mockCoins) AllCoins(_ context.Context) ([]domain.CoinRecord, error) {
	return m.records, nil
}

type mockMetadata struct {
	upserts []domain.PositionMetadata
	renames [][2]string
	err     error
}

func (m *mockMetadata) Upsert(_ context.Context, md domain.PositionMetadata) (domain.PositionMetadata, error) {
	if m.err != nil {
		return domain.PositionMetadata{}, m.err
	}
	m.upserts = append(m.upserts, md)
	return md, nil
}

func (m *mockMetadata) Rename(_ context.Context, _ domain.PositionType, oldID, newID string) error {
	m.renames = append(m.renames, [2]string{oldID, newID})
	return nil
}

type countingTx struct {
	calls int
}

func (c *countingTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	c.calls++
	return fn(ctx)
}

func newTestService() (*Service, *mockRepo, *mockMetadata, *mockCoins) {
	repo := newMockRepo()
	coins := &mockCoins{records: []domain.CoinRecord{
		{Name: "ethereum", DisplayName: "Ethereum", AlternateNames: []string{"ETH"}, CurrentPrice: decimal.NewFromInt(2000), MarketCapRank: 2},
		{Name: "aave", DisplayName: "Aave", CurrentPrice: decimal.NewFromInt(100), MarketCapRank: 40},
	}}
	md := &mockMetadata{}
	return NewService(repo, coins, md, &countingTx{}), repo, md, coins
}

func TestAddPosition(t *testing.T) {
	svc, repo, md, _ := newTestService()

	pos, err := svc.AddPosition(context.Background(), AddRequest{
		Pool: "lido-steth", Token: "eth", Holdings: decimal.NewFromFloat(1.5),
		Deposited: decimal.NewFromInt(1), Project: "Lido", Chain: "eth",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.Token != "ethereum" {
		t.Errorf("Token = %q, want ethereum", pos.Token)
	}
	if !pos.Value.Equal(decimal.NewFromInt(3000)) {
		t.Errorf("Value = %s, want 3000", pos.Value)
	}
	if pos.ID == 0 {
		t.Error("ID not assigned")
	}
	if _, ok := repo.byPool["lido-steth"]; !ok {
		t.Error("position not stored")
	}
	if len(md.upserts) != 1 {
		t.Fatalf("metadata upserts = %d, want 1", len(md.upserts))
	}
	if md.upserts[0].PositionType != domain.PositionStaking || md.upserts[0].PositionID != "lido-steth" || md.upserts[0].Protocol != "Lido" {
		t.Errorf("metadata = %+v", md.upserts[0])
	}
}

func TestAddPositionValidation(t *testing.T) {
	svc, repo, _, _ := newTestService()
	repo.byPool["taken"] = domain.StakedPosition{ID: 9, Pool: "taken"}

	tests := []struct {
		name string
		req  AddRequest
	}{
		{"empty pool", AddRequest{Token: "aave"}},
		{"empty token", AddRequest{Pool: "p"}},
		{"unknown token", AddRequest{Pool: "p", Token: "nonexistentcoin"}},
		{"negative holdings", AddRequest{Pool: "p", Token: "aave", Holdings: decimal.NewFromInt(-1)}},
		{"duplicate pool", AddRequest{Pool: "taken", Token: "aave"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.AddPosition(context.Background(), tt.req); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestAddPositionMetadataFailure(t *testing.T) {
	svc, _, md, _ := newTestService()
	md.err = errors.New("disk full")

	_, err := svc.AddPosition(context.Background(), AddRequest{Pool: "p", Token: "aave", Holdings: decimal.NewFromInt(1)})
	if err == nil {
		t.Fatal("expected error when metadata write fails")
	}
}

func TestUpdatePositionRenamesAndReprices(t *testing.T) {
	svc, repo, md, coins := newTestService()
	if _, err := svc.AddPosition(context.Background(), AddRequest{Pool: "old", Token: "aave", Holdings: decimal.NewFromInt(2)}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	coins.records[1].CurrentPrice = decimal.NewFromInt(150)

	deposited := decimal.NewFromInt(5)
	pos, err := svc.UpdatePosition(context.Background(), UpdateRequest{
		CurrentPool: "old", NewPool: "new", Holdings: decimal.NewFromInt(3), Deposited: &deposited,
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if pos.Pool != "new" {
		t.Errorf("Pool = %q, want new", pos.Pool)
	}
	if !pos.Value.Equal(decimal.NewFromInt(450)) {
		t.Errorf("Value = %s, want 450", pos.Value)
	}
	if !pos.DepositedAmount.Equal(deposited) {
		t.Errorf("DepositedAmount = %s, want 5", pos.DepositedAmount)
	}
	if _, ok := repo.byPool["old"]; ok {
		t.Error("old pool still present")
	}
	if len(md.renames) != 1 || md.renames[0] != [2]string{"old", "new"} {
		t.Errorf("renames = %v", md.renames)
	}
}

func TestUpdatePositionKeepsDeposit(t *testing.T) {
	svc, _, md, _ := newTestService()
	if _, err := svc.AddPosition(context.Background(), AddRequest{
		Pool: "p", Token: "aave", Holdings: decimal.NewFromInt(1), Deposited: decimal.NewFromInt(7),
	}); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	pos, err := svc.UpdatePosition(context.Background(), UpdateRequest{CurrentPool: "p", Holdings: decimal.NewFromInt(4)})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !pos.DepositedAmount.Equal(decimal.NewFromInt(7)) {
		t.Errorf("DepositedAmount = %s, want 7", pos.DepositedAmount)
	}
	if len(md.renames) != 0 {
		t.Errorf("unexpected rename: %v", md.renames)
	}
}

func TestUpdatePositionConflicts(t *testing.T) {
	svc, _, _, _ := newTestService()
	for _, pool := range []string{"a", "b"} {
		if _, err := svc.AddPosition(context.Background(), AddRequest{Pool: pool, Token: "aave"}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	_, err := svc.UpdatePosition(context.Background(), UpdateRequest{CurrentPool: "a", NewPool: "b"})
	if !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}

	_, err = svc.UpdatePosition(context.Background(), UpdateRequest{CurrentPool: "missing"})
	if !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestTotalValueAndList(t *testing.T) {
	svc, _, _, _ := newTestService()
	for _, pool := range []string{"a", "b"} {
		if _, err := svc.AddPosition(context.Background(), AddRequest{Pool: pool, Token: "aave", Holdings: decimal.NewFromInt(1)}); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	}

	total, err := svc.TotalValue(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !total.Equal(decimal.NewFromInt(200)) {
		t.Errorf("total = %s, want 200", total)
	}

	list, err := svc.ListPositions(context.Background(), store.DefaultStakingSort)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(list) != 2 {
		t.Errorf("len = %d, want 2", len(list))
	}
}
