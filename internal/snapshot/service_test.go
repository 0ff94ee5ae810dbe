package snapshot

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptofolio/tracker/internal/domain"
	"github.com/cryptofolio/tracker/internal/reconcile"
	"github.com/cryptofolio/tracker/internal/valuation"
)

type mockPortfolio struct {
	snap valuation.Snapshot
	err  error
}

func (m *mockPortfolio) Snapshot(_ context.Context) (valuation.Snapshot, error) {
	return m.snap, m.err
}

type mockRepo struct {
	saveErr    error
	savedData  json.RawMessage
	savedDate  time.Time
	savedTotal decimal.Decimal
	byDateArg  time.Time
	list       []Snapshot
}

func (m *mockRepo) Save(_ context.Context, date time.Time, total decimal.Decimal, data json.RawMessage) error {
	m.savedData = data
	m.savedDate = date
	m.savedTotal = total
	return m.saveErr
}

func (m *mockRepo) GetLatest(_ context.Context) (*Snapshot, error) {
	return nil, domain.ErrNotFound
}

func (m *mockRepo) GetByDate(_ context.Context, date time.Time) (*Snapshot, error) {
	m.byDateArg = date
	return &Snapshot{SnapshotDate: date}, nil
}

func (m *mockRepo) List(_ context.Context, _ int) ([]Snapshot, error) {
	return m.list, nil
}

func newTestService(portfolio *mockPortfolio, repo *mockRepo) *Service {
	svc := NewService(portfolio, repo)
	svc.now = func() time.Time { return time.Date(2026, 3, 1, 23, 30, 0, 0, time.FixedZone("UTC-2", -2*3600)) }
	return svc
}

func TestGenerateSuccess(t *testing.T) {
	portfolio := &mockPortfolio{snap: valuation.Snapshot{
		Totals: valuation.PortfolioTotals{Total: decimal.NewFromInt(10000)},
		Wallet: []valuation.WalletRow{{Token: "ethereum"}},
	}}
	repo := &mockRepo{}
	svc := newTestService(portfolio, repo)

	result, err := svc.Generate(context.Background())
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(result.Wallet) != 1 {
		t.Errorf("wallet rows = %d, want 1", len(result.Wallet))
	}
	if repo.savedData == nil {
		t.Error("expected data to be saved")
	}
	if !repo.savedTotal.Equal(decimal.NewFromInt(10000)) {
		t.Errorf("total = %s, want 10000", repo.savedTotal)
	}
	// 23:30 at UTC-2 is already the next day in UTC
	if want := time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC); !repo.savedDate.Equal(want) {
		t.Errorf("date = %v, want %v", repo.savedDate, want)
	}

	var decoded valuation.Snapshot
	if err := json.Unmarshal(repo.savedData, &decoded); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if decoded.Wallet[0].Token != "ethereum" {
		t.Errorf("stored token = %q, want ethereum", decoded.Wallet[0].Token)
	}
}

func TestGeneratePortfolioError(t *testing.T) {
	repo := &mockRepo{}
	svc := newTestService(&mockPortfolio{err: errors.New("db down")}, repo)

	if _, err := svc.Generate(context.Background()); err == nil {
		t.Fatal("expected error from portfolio source")
	}
	if repo.savedData != nil {
		t.Error("nothing should be saved on failure")
	}
}

func TestAfterPassPropagatesSaveError(t *testing.T) {
	repo := &mockRepo{saveErr: errors.New("save failed")}
	svc := newTestService(&mockPortfolio{}, repo)

	if err := svc.AfterPass(context.Background(), reconcile.Summary{}); err == nil {
		t.Fatal("expected error from repo save")
	}
}

func TestGetByDateNormalizes(t *testing.T) {
	repo := &mockRepo{}
	svc := newTestService(&mockPortfolio{}, repo)

	if _, err := svc.GetByDate(context.Background(), time.Date(2026, 3, 1, 15, 4, 5, 0, time.UTC)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if want := time.Date(2026, 3, 1, 0, 0, 0, 0, time.UTC); !repo.byDateArg.Equal(want) {
		t.Errorf("date = %v, want %v", repo.byDateArg, want)
	}
}

func TestListEmpty(t *testing.T) {
	svc := newTestService(&mockPortfolio{}, &mockRepo{})

	list, err := svc.List(context.Background(), 10)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if list == nil {
		t.Error("List should return an empty slice, not nil")
	}
	if _, err := svc.GetLatest(context.Background()); !errors.Is(err, domain.ErrNotFound) {
		t.Errorf("err = %v, want ErrNotFound", err)
	}
}
