package store

import (
	"fmt"
	"strings"

	"github.com/cryptofolio/tracker/internal/domain"
)

// Direction is a sort direction.
type Direction string

const (
	Asc  Direction = "asc"
	Desc Direction = "desc"
)

// Sort is a validated sort request: Column is a key of the table's allow-list.
type Sort struct {
	Column    string    `json:"column"`
	Direction Direction `json:"direction"`
}

// sortSpec maps request column names to fixed SQL fragments. Request values
// are never interpolated into SQL.
type sortSpec struct {
	table    string
	columns  map[string]string
	def      Sort
	tiebreak string
}

var (
	coinSorts = sortSpec{
		table: "coins",
		columns: map[string]string{
			"name":                 "name",
			"display_name":         "display_name",
			"current_price":        "current_price",
			"market_cap":           "market_cap",
			"market_cap_rank":      "market_cap_rank",
			"total_volume":         "total_volume",
			"price_change_pct_24h": "price_change_pct_24h",
			"price_change_pct_1h":  "price_change_pct_1h",
			"updated_at":           "updated_at",
		},
		def:      Sort{Column: "market_cap", Direction: Desc},
		tiebreak: "name",
	}
	walletSorts = sortSpec{
		table: "wallet",
		columns: map[string]string{
			"token":      "token",
			"price":      "price",
			"holdings":   "holdings",
			"value":      "value",
			"updated_at": "updated_at",
		},
		def:      Sort{Column: "value", Direction: Desc},
		tiebreak: "token",
	}
	stakingSorts = sortSpec{
		table: "staking",
		columns: map[string]string{
			"pool":             "pool",
			"token":            "token",
			"price":            "price",
			"holdings":         "holdings",
			"value":            "value",
			"deposited_amount": "deposited_amount",
			"project":          "project",
			"chain":            "chain",
			"updated_at":       "updated_at",
		},
		def:      Sort{Column: "value", Direction: Desc},
		tiebreak: "id",
	}
)

// DefaultCoinSort, DefaultWalletSort and DefaultStakingSort are used when no
// (or an invalid) sort is requested.
var (
	DefaultCoinSort    = coinSorts.def
	DefaultWalletSort  = walletSorts.def
	DefaultStakingSort = stakingSorts.def
)

// ParseCoinSort validates a coin list sort request.
func ParseCoinSort(column, direction string) (Sort, error) {
	return coinSorts.parse(column, direction)
}

// ParseWalletSort validates a wallet view sort request.
func ParseWalletSort(column, direction string) (Sort, error) {
	return walletSorts.parse(column, direction)
}

// ParseStakingSort validates a staking view sort request.
func ParseStakingSort(column, direction string) (Sort, error) {
	return stakingSorts.parse(column, direction)
}

// parse returns the table default together with a validation error when the
// request names an unknown column or direction. Empty input is not an error.
func (s sortSpec) parse(column, direction string) (Sort, error) {
	column = strings.ToLower(strings.TrimSpace(column))
	direction = strings.ToLower(strings.TrimSpace(direction))

	if column == "" {
		column = s.def.Column
	}
	if _, ok := s.columns[column]; !ok {
		return s.def, domain.NewValidationError("sort", "unknown %s column %q", s.table, column)
	}

	dir := s.def.Direction
	switch Direction(direction) {
	case "":
	case Asc, Desc:
		dir = Direction(direction)
	default:
		return s.def, domain.NewValidationError("direction", "must be asc or desc, got %q", direction)
	}
	return Sort{Column: column, Direction: dir}, nil
}

func (s sortSpec) orderBy(sort Sort) string {
	col, ok := s.columns[sort.Column]
	if !ok {
		sort = s.def
		col = s.columns[sort.Column]
	}
	dir := "DESC"
	if sort.Direction == Asc {
		dir = "ASC"
	}
	return fmt.Sprintf(" ORDER BY %s %s NULLS LAST, %s ASC", col, dir, s.tiebreak)
}
