package market

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"sort"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptofolio/tracker/internal/domain"
	"github.com/cryptofolio/tracker/internal/identity"
	"github.com/cryptofolio/tracker/internal/store"
)

type mockClient struct {
	bulk       []domain.MarketQuote
	bulkErr    error
	single     map[string]domain.MarketQuote
	singleErr  map[string]error
	singleHits map[string]int
}

func (m *mockClient) FetchBulkPrices(_ context.Context, _ int) ([]domain.MarketQuote, error) {
	return m.bulk, m.bulkErr
}

func (m *mockClient) FetchSingleCoin(_ context.Context, id string) (domain.MarketQuote, error) {
	if m.singleHits == nil {
		m.singleHits = map[string]int{}
	}
	m.singleHits[id]++
	if err := m.singleErr[id]; err != nil {
		return domain.MarketQuote{}, err
	}
	q, ok := m.single[id]
	if !ok {
		return domain.MarketQuote{}, fmt.Errorf("coin %s: %w", id, domain.ErrNotFound)
	}
	return q, nil
}

type mockRepo struct {
	coins     map[string]domain.CoinRecord
	raw       map[string]string
	upsertErr error
}

func newMockRepo(coins ...domain.CoinRecord) *mockRepo {
	r := &mockRepo{coins: map[string]domain.CoinRecord{}, raw: map[string]string{}}
	for _, c := range coins {
		r.coins[c.Name] = c
	}
	return r
}

func (r *mockRepo) AllCoins(_ context.Context) ([]domain.CoinRecord, error) {
	out := make([]domain.CoinRecord, 0, len(r.coins))
	for _, c := range r.coins {
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Name < out[j].Name })
	return out, nil
}

func (r *mockRepo) ListCoins(ctx context.Context, _ store.Sort) ([]domain.CoinRecord, error) {
	return r.AllCoins(ctx)
}

func (r *mockRepo) GetCoin(_ context.Context, name string) (domain.CoinRecord, error) {
	c, ok := r.coins[name]
	if !ok {
		return domain.CoinRecord{}, fmt.Errorf("coin %q: %w", name, domain.ErrNotFound)
	}
	return c, nil
}

func (r *mockRepo) UpsertCoin(_ context.Context, c domain.CoinRecord) error {
	if r.upsertErr != nil {
		return r.upsertErr
	}
	r.coins[c.Name] = c
	return nil
}

func (r *mockRepo) UpdateCoinPrice(_ context.Context, name string, price decimal.Decimal) error {
	c, ok := r.coins[name]
	if !ok {
		return fmt.Errorf("coin %q: %w", name, domain.ErrNotFound)
	}
	c.CurrentPrice = price
	r.coins[name] = c
	return nil
}

func (r *mockRepo) UpdateCoinNames(_ context.Context, name, displayName string, alternateNames []string) error {
	c, ok := r.coins[name]
	if !ok {
		return fmt.Errorf("coin %q: %w", name, domain.ErrNotFound)
	}
	c.DisplayName = displayName
	c.AlternateNames = alternateNames
	r.coins[name] = c
	return nil
}

func (r *mockRepo) ListStoredAlternateNames(_ context.Context) ([]identity.StoredNames, error) {
	var out []identity.StoredNames
	for name, raw := range r.raw {
		out = append(out, identity.StoredNames{Name: name, Raw: raw})
	}
	return out, nil
}

func (r *mockRepo) SetStoredAlternateNames(_ context.Context, name, encoded string) error {
	r.raw[name] = encoded
	return nil
}

type mockStaking struct{ calls int }

func (m *mockStaking) SyncStakingPrices(_ context.Context) (int64, error) {
	m.calls++
	return 2, nil
}

type passthroughTx struct{}

func (passthroughTx) WithinTx(ctx context.Context, fn func(ctx context.Context) error) error {
	return fn(ctx)
}

func newTestService(client *mockClient, repo *mockRepo, staking StakingPriceSyncer) *Service {
	return NewService(client, repo, staking, passthroughTx{}, 500, time.Minute, nil)
}

func quote(id, name, price string) domain.MarketQuote {
	return domain.MarketQuote{ExternalID: id, Name: name, CurrentPrice: decimal.RequireFromString(price)}
}

func TestRefreshPricesRegistryWins(t *testing.T) {
	repo := newMockRepo(domain.CoinRecord{
		Name:           "Ethereum",
		DisplayName:    "Ether",
		AlternateNames: []string{"ETH"},
		ExternalID:     "ethereum",
		CurrentPrice:   decimal.NewFromInt(1000),
	})
	client := &mockClient{bulk: []domain.MarketQuote{
		quote("ethereum", "Ethereum Upstream Rename", "1850"),
		quote("bitcoin", "Bitcoin", "60000"),
	}}
	staking := &mockStaking{}

	summary, err := newTestService(client, repo, staking).RefreshPrices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	eth := repo.coins["Ethereum"]
	if eth.DisplayName != "Ether" || eth.ExternalID != "ethereum" {
		t.Errorf("identity fields overwritten: %+v", eth)
	}
	wantNames := []string{"ETH", "Ethereum Upstream Rename", "Ethereum", "Ether"}
	if !slices.Equal(eth.AlternateNames, wantNames) {
		t.Errorf("AlternateNames = %q, want %q", eth.AlternateNames, wantNames)
	}
	if !eth.CurrentPrice.Equal(decimal.NewFromInt(1850)) {
		t.Errorf("price = %s, want 1850", eth.CurrentPrice)
	}
	if _, ok := repo.coins["Ethereum Upstream Rename"]; ok {
		t.Error("upstream name created a duplicate record")
	}
	if _, ok := repo.coins["Bitcoin"]; !ok {
		t.Error("new bulk coin was not inserted")
	}
	if summary.BulkUpdated != 1 || summary.BulkInserted != 1 {
		t.Errorf("summary = %+v", summary)
	}
	if staking.calls != 1 || summary.StakingSynced != 2 {
		t.Errorf("staking sync calls = %d, synced = %d", staking.calls, summary.StakingSynced)
	}
}

func TestRefreshPricesKeepsIdentityNames(t *testing.T) {
	repo := newMockRepo(domain.CoinRecord{
		Name:           "Ethereum",
		AlternateNames: []string{"ETH"},
		ExternalID:     "ethereum",
	})
	client := &mockClient{bulk: []domain.MarketQuote{
		quote("ethereum", "Ethereum", "1850"),
		quote("bitcoin", "Bitcoin", "60000"),
	}}

	if _, err := newTestService(client, repo, nil).RefreshPrices(context.Background()); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	for name, rec := range repo.coins {
		if rec.DisplayName == "" {
			t.Errorf("%s: empty display name", name)
		}
		if !slices.Contains(rec.AlternateNames, rec.Name) || !slices.Contains(rec.AlternateNames, rec.DisplayName) {
			t.Errorf("%s: AlternateNames = %q, missing canonical or display name", name, rec.AlternateNames)
		}
	}
	if eth := repo.coins["Ethereum"]; eth.DisplayName != "Ethereum" || eth.AlternateNames[0] != "ETH" {
		t.Errorf("Ethereum = %+v", eth)
	}
}

func TestRefreshPricesSingleFetchForUncovered(t *testing.T) {
	repo := newMockRepo(
		domain.CoinRecord{Name: "Niche", DisplayName: "Niche Token", ExternalID: "niche"},
		domain.CoinRecord{Name: "Gone", ExternalID: "gone-coin"},
		domain.CoinRecord{Name: "Manual", CurrentPrice: decimal.NewFromInt(3)},
	)
	client := &mockClient{
		bulk:   []domain.MarketQuote{quote("bitcoin", "Bitcoin", "60000")},
		single: map[string]domain.MarketQuote{"niche": quote("niche", "Niche", "0.42")},
	}

	summary, err := newTestService(client, repo, nil).RefreshPrices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.SingleUpdated != 1 {
		t.Errorf("SingleUpdated = %d, want 1", summary.SingleUpdated)
	}
	if len(summary.Failed) != 1 || summary.Failed[0].Reason != "not_found" {
		t.Errorf("Failed = %+v", summary.Failed)
	}
	if got := repo.coins["Niche"]; !got.CurrentPrice.Equal(decimal.RequireFromString("0.42")) || got.DisplayName != "Niche Token" {
		t.Errorf("Niche = %+v", got)
	}
	if !repo.coins["Manual"].CurrentPrice.Equal(decimal.NewFromInt(3)) {
		t.Error("coin without external id should keep its manual price")
	}
	if client.singleHits["bitcoin"] != 0 {
		t.Error("bulk-covered coin fetched individually")
	}
}

func TestRefreshPricesBulkFailureFallsBack(t *testing.T) {
	repo := newMockRepo(domain.CoinRecord{Name: "Ethereum", ExternalID: "ethereum"})
	client := &mockClient{
		bulkErr: fmt.Errorf("%w: HTTP 500", domain.ErrProvider),
		single:  map[string]domain.MarketQuote{"ethereum": quote("ethereum", "Ethereum", "1850")},
	}

	summary, err := newTestService(client, repo, nil).RefreshPrices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.SingleUpdated != 1 {
		t.Errorf("SingleUpdated = %d, want 1", summary.SingleUpdated)
	}
}

func TestRefreshPricesRateLimitedReason(t *testing.T) {
	repo := newMockRepo(domain.CoinRecord{Name: "Ethereum", ExternalID: "ethereum"})
	client := &mockClient{singleErr: map[string]error{"ethereum": domain.ErrRateLimited}}

	summary, err := newTestService(client, repo, nil).RefreshPrices(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summary.Failed) != 1 || summary.Failed[0].Reason != "rate_limited" {
		t.Errorf("Failed = %+v", summary.Failed)
	}
}

func TestAddCoinUsesCache(t *testing.T) {
	repo := newMockRepo()
	client := &mockClient{single: map[string]domain.MarketQuote{"solana": quote("solana", "Solana", "150")}}
	svc := newTestService(client, repo, nil)

	rec, err := svc.AddCoin(context.Background(), "solana", "['SOL']")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Name != "Solana" || rec.DisplayName != "SOL" || rec.ExternalID != "solana" {
		t.Errorf("rec = %+v", rec)
	}
	if _, err := svc.AddCoin(context.Background(), "solana", ""); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if client.singleHits["solana"] != 1 {
		t.Errorf("single fetches = %d, want 1 (cached)", client.singleHits["solana"])
	}
	if repo.coins["Solana"].DisplayName != "SOL" {
		t.Error("re-adding a coin overwrote its display name")
	}
	wantNames := []string{"Solana", "SOL"}
	if got := repo.coins["Solana"].AlternateNames; !slices.Equal(got, wantNames) {
		t.Errorf("AlternateNames = %q, want %q", got, wantNames)
	}
}

func TestAddCoinErrors(t *testing.T) {
	svc := newTestService(&mockClient{}, newMockRepo(), nil)

	if _, err := svc.AddCoin(context.Background(), "  ", ""); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("empty id err = %v, want ErrValidation", err)
	}
	if _, err := svc.AddCoin(context.Background(), "missing", ""); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown id err = %v, want ErrNotFound", err)
	}
}

func TestSetManualPrice(t *testing.T) {
	repo := newMockRepo(domain.CoinRecord{Name: "Ethereum"})
	svc := newTestService(&mockClient{}, repo, nil)

	if err := svc.SetManualPrice(context.Background(), "Ethereum", decimal.NewFromInt(2000)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !repo.coins["Ethereum"].CurrentPrice.Equal(decimal.NewFromInt(2000)) {
		t.Errorf("price = %s", repo.coins["Ethereum"].CurrentPrice)
	}
	if err := svc.SetManualPrice(context.Background(), "Ethereum", decimal.NewFromInt(-1)); !errors.Is(err, domain.ErrValidation) {
		t.Errorf("negative price err = %v, want ErrValidation", err)
	}
	if err := svc.SetManualPrice(context.Background(), "Nope", decimal.NewFromInt(1)); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("unknown coin err = %v, want ErrNotFound", err)
	}
}

func TestUpdateCoinNames(t *testing.T) {
	repo := newMockRepo(domain.CoinRecord{Name: "Ethereum", DisplayName: "Ether", AlternateNames: []string{"ETH"}})
	svc := newTestService(&mockClient{}, repo, nil)

	rec, err := svc.UpdateCoinNames(context.Background(), "Ethereum", "", []string{"WETH']", "['Ether", "WETH"})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if rec.Name != "Ethereum" || rec.DisplayName != "Ether" {
		t.Errorf("rec = %+v", rec)
	}
	stored := repo.coins["Ethereum"]
	wantNames := []string{"WETH", "Ether", "Ethereum"}
	if !slices.Equal(stored.AlternateNames, wantNames) {
		t.Errorf("AlternateNames = %q, want %q", stored.AlternateNames, wantNames)
	}

	if _, err := svc.UpdateCoinNames(context.Background(), "Missing", "x", nil); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}

func TestRepairNames(t *testing.T) {
	repo := newMockRepo()
	repo.raw["Curve DAO Token"] = "['Curve DAO Token']"
	svc := newTestService(&mockClient{}, repo, nil)

	summary, err := svc.RepairNames(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Updated != 1 || repo.raw["Curve DAO Token"] != `["Curve DAO Token"]` {
		t.Errorf("summary = %+v, raw = %q", summary, repo.raw["Curve DAO Token"])
	}
}
