package reconcile

import (
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptofolio/tracker/internal/domain"
)

// Category classifies a per-record or per-chain problem.
type Category string

const (
	CategoryParse     Category = "parse_error"
	CategoryUpdate    Category = "update_error"
	CategoryProvider  Category = "provider_error"
	CategoryZeroPrice Category = "zero_price"
)

// Issue is one problem encountered during a pass.
type Issue struct {
	Category Category `json:"category"`
	Chain    string   `json:"chain,omitempty"`
	Token    string   `json:"token,omitempty"`
	Detail   string   `json:"detail,omitempty"`
}

// Discovery is a provider token that did not resolve to any registry record.
type Discovery struct {
	Chain  string          `json:"chain"`
	Token  string          `json:"token"`
	Symbol string          `json:"symbol,omitempty"`
	Price  decimal.Decimal `json:"price"`
}

// Summary is the outcome of one reconciliation pass.
type Summary struct {
	StartedAt    time.Time               `json:"startedAt"`
	Duration     time.Duration           `json:"duration"`
	Chains       int                     `json:"chains"`
	ChainsFailed int                     `json:"chainsFailed"`
	Records      int                     `json:"records"`
	Denied       int                     `json:"denied"`
	Updated      int                     `json:"updated"`
	TotalValue   decimal.Decimal         `json:"totalValue"`
	Positions    []domain.WalletPosition `json:"positions"`
	Discoveries  []Discovery             `json:"discoveries"`
	ZeroPrice    []Issue                 `json:"zeroPrice"`
	Failures     map[Category][]Issue    `json:"failures"`
}

func newSummary(started time.Time) Summary {
	return Summary{
		StartedAt:   started,
		Positions:   []domain.WalletPosition{},
		Discoveries: []Discovery{},
		ZeroPrice:   []Issue{},
		Failures:    make(map[Category][]Issue),
	}
}

func (s *Summary) fail(cat Category, chain, token string, err error) {
	s.Failures[cat] = append(s.Failures[cat], Issue{Category: cat, Chain: chain, Token: token, Detail: err.Error()})
}

// FailureCount returns the number of failures across all categories.
func (s Summary) FailureCount() int {
	n := 0
	for _, issues := range s.Failures {
		n += len(issues)
	}
	return n
}
