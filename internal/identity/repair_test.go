package identity

import (
	"context"
	"errors"
	"testing"
)

type mockNameStore struct {
	rows     map[string]string
	order    []string
	failFor  string
	listErr  error
	setCalls int
}

func newMockNameStore(rows ...StoredNames) *mockNameStore {
	m := &mockNameStore{rows: make(map[string]string)}
	for _, r := range rows {
		m.rows[r.Name] = r.Raw
		m.order = append(m.order, r.Name)
	}
	return m
}

func (m *mockNameStore) ListStoredAlternateNames(_ context.Context) ([]StoredNames, error) {
	if m.listErr != nil {
		return nil, m.listErr
	}
	out := make([]StoredNames, 0, len(m.order))
	for _, name := range m.order {
		out = append(out, StoredNames{Name: name, Raw: m.rows[name]})
	}
	return out, nil
}

func (m *mockNameStore) SetStoredAlternateNames(_ context.Context, name, encoded string) error {
	m.setCalls++
	if name == m.failFor {
		return errors.New("write failed")
	}
	m.rows[name] = encoded
	return nil
}

func TestRepairStoredAlternateNames(t *testing.T) {
	store := newMockNameStore(
		StoredNames{Name: "Curve DAO Token", Raw: "['Curve DAO Token']"},
		StoredNames{Name: "Ethereum", Raw: `["WETH']", "['Ether"]`},
		StoredNames{Name: "Bitcoin", Raw: `["BTC"]`},
		StoredNames{Name: "Empty", Raw: "[]"},
		StoredNames{Name: "Blank", Raw: ""},
		StoredNames{Name: "Garbage", Raw: `['']`},
	)

	summary, err := RepairStoredAlternateNames(context.Background(), store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if summary.Scanned != 6 {
		t.Errorf("Scanned = %d, want 6", summary.Scanned)
	}
	if summary.Updated != 2 {
		t.Errorf("Updated = %d, want 2", summary.Updated)
	}
	if summary.Skipped != 1 {
		t.Errorf("Skipped = %d, want 1", summary.Skipped)
	}
	if got := store.rows["Curve DAO Token"]; got != `["Curve DAO Token"]` {
		t.Errorf("Curve DAO Token = %q", got)
	}
	if got := store.rows["Ethereum"]; got != `["WETH","Ether"]` {
		t.Errorf("Ethereum = %q", got)
	}
	if got := store.rows["Bitcoin"]; got != `["BTC"]` {
		t.Errorf("Bitcoin = %q", got)
	}
}

func TestRepairIsIdempotent(t *testing.T) {
	store := newMockNameStore(
		StoredNames{Name: "Curve DAO Token", Raw: "['Curve DAO Token']"},
		StoredNames{Name: "Ethereum", Raw: `"[\"WETH\", \"Ether\"]"`},
	)

	if _, err := RepairStoredAlternateNames(context.Background(), store); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	first := store.setCalls

	summary, err := RepairStoredAlternateNames(context.Background(), store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if summary.Updated != 0 {
		t.Errorf("second pass Updated = %d, want 0", summary.Updated)
	}
	if store.setCalls != first {
		t.Errorf("second pass wrote %d times", store.setCalls-first)
	}
}

func TestRepairSkipsFailedWrites(t *testing.T) {
	store := newMockNameStore(
		StoredNames{Name: "A", Raw: "['a']"},
		StoredNames{Name: "B", Raw: "['b']"},
	)
	store.failFor = "A"

	summary, err := RepairStoredAlternateNames(context.Background(), store)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(summary.Failed) != 1 || summary.Failed[0] != "A" {
		t.Errorf("Failed = %q, want [A]", summary.Failed)
	}
	if store.rows["B"] != `["b"]` {
		t.Errorf("B = %q, want repaired", store.rows["B"])
	}
}

func TestRepairListError(t *testing.T) {
	store := newMockNameStore()
	store.listErr = errors.New("db down")

	if _, err := RepairStoredAlternateNames(context.Background(), store); err == nil {
		t.Fatal("expected error")
	}
}
