package metadata

import (
	"context"
	"errors"
	"testing"

	"github.com/cryptofolio/tracker/internal/domain"
	"github.com/cryptofolio/tracker/internal/store"
)

type mockRepo struct {
	rows   map[string]domain.PositionMetadata
	chains []store.DistributionEntry
}

func key(t domain.PositionType, id string) string { return string(t) + "/" + id }

func (m *mockRepo) UpsertMetadata(_ context.Context, md domain.PositionMetadata) error {
	m.rows[key(md.PositionType, md.PositionID)] = md
	return nil
}

func (m *mockRepo) GetMetadata(_ context.Context, t domain.PositionType, id string) (domain.PositionMetadata, error) {
	md, ok := m.rows[key(t, id)]
	if !ok {
		return domain.PositionMetadata{}, domain.ErrNotFound
	}
	return md, nil
}

func (m *mockRepo) RenameMetadata(_ context.Context, t domain.PositionType, oldID, newID string) error {
	md, ok := m.rows[key(t, oldID)]
	if !ok {
		return nil
	}
	delete(m.rows, key(t, oldID))
	md.PositionID = newID
	m.rows[key(t, newID)] = md
	return nil
}

func (m *mockRepo) ChainDistribution(_ context.Context) ([]store.DistributionEntry, error) {
	return m.chains, nil
}

func (m *mockRepo) ProtocolDistribution(_ context.Context) ([]store.DistributionEntry, error) {
	return nil, nil
}

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService() (*Service, *mockRepo) {
	repo := &mockRepo{rows: map[string]domain.PositionMetadata{}}
	return NewService(repo, passthroughTx{}), repo
}

func TestUpsert(t *testing.T) {
	svc, repo := newTestService()

	got, err := svc.Upsert(context.Background(), domain.PositionMetadata{
		PositionType: domain.PositionStaking, PositionID: " aave-pool ", Chain: " eth ", Protocol: "Aave",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.PositionID != "aave-pool" || got.Chain != "eth" {
		t.Errorf("got = %+v", got)
	}
	if _, ok := repo.rows["staking/aave-pool"]; !ok {
		t.Error("metadata not stored")
	}

	_, err = svc.Upsert(context.Background(), domain.PositionMetadata{
		PositionType: domain.PositionStaking, PositionID: "aave-pool", Protocol: "Aave v3",
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(repo.rows) != 1 || repo.rows["staking/aave-pool"].Protocol != "Aave v3" {
		t.Errorf("upsert did not replace: %+v", repo.rows)
	}
}

func TestUpsertValidation(t *testing.T) {
	svc, _ := newTestService()

	tests := []struct {
		name string
		md   domain.PositionMetadata
	}{
		{"unknown type", domain.PositionMetadata{PositionType: "yield_farm", PositionID: "x"}},
		{"empty id", domain.PositionMetadata{PositionType: domain.PositionWallet, PositionID: "  "}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := svc.Upsert(context.Background(), tt.md); !errors.Is(err, domain.ErrValidation) {
				t.Errorf("err = %v, want ErrValidation", err)
			}
		})
	}
}

func TestRename(t *testing.T) {
	svc, repo := newTestService()
	repo.rows["staking/old"] = domain.PositionMetadata{PositionType: domain.PositionStaking, PositionID: "old", Chain: "eth"}

	if err := svc.Rename(context.Background(), domain.PositionStaking, "old", "new"); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	got, err := svc.Get(context.Background(), domain.PositionStaking, "new")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if got.Chain != "eth" {
		t.Errorf("Chain = %q, want eth", got.Chain)
	}
}

func TestDistribution(t *testing.T) {
	svc, repo := newTestService()
	repo.chains = []store.DistributionEntry{{Key: "eth", Positions: 3, PositionTypes: 2}}

	chains, err := svc.Distribution(context.Background(), "chain")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(chains) != 1 || chains[0].Positions != 3 {
		t.Errorf("chains = %+v", chains)
	}

	protocols, err := svc.Distribution(context.Background(), "protocol")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if protocols == nil {
		t.Error("empty distribution should be a non-nil slice")
	}

	if _, err := svc.Distribution(context.Background(), "color"); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("err = %v, want ErrValidation", err)
	}
}
