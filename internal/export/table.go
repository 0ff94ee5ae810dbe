package export

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/cryptofolio/tracker/internal/reconcile"
	"github.com/cryptofolio/tracker/internal/valuation"
)

// Sheet names shared by every writer.
const (
	SheetSummary     = "SUMMARY"
	SheetWallet      = "WALLET"
	SheetStaking     = "STAKING"
	SheetDiscoveries = "DISCOVERIES"
	SheetHistory     = "HISTORY"
)

// Report is everything an export writes.
type Report struct {
	Snapshot    valuation.Snapshot
	Discoveries []reconcile.Discovery
}

// Table is one named sheet of rows, header first.
type Table struct {
	Name string
	Rows [][]any
}

// Tables lays out a report as sheets in a fixed order.
func Tables(r Report) []Table {
	return []Table{
		{Name: SheetSummary, Rows: buildSummary(r.Snapshot)},
		{Name: SheetWallet, Rows: buildWallet(r.Snapshot.Wallet)},
		{Name: SheetStaking, Rows: buildStaking(r.Snapshot.Staking)},
		{Name: SheetDiscoveries, Rows: buildDiscoveries(r.Discoveries)},
	}
}

// buildSummary builds the SUMMARY sheet.
// Columns: Bucket | Value USD
func buildSummary(s valuation.Snapshot) [][]any {
	return [][]any{
		{"Bucket", "Value USD"},
		{"Wallet", toFloat(s.Totals.Wallet)},
		{"Staking", toFloat(s.Totals.Staking)},
		{"Total", toFloat(s.Totals.Total)},
		{"Generated", s.GeneratedAt.UTC().Format(time.RFC3339)},
	}
}

// buildWallet builds the WALLET sheet.
// Columns: Token | Name | Price | Holdings | Value | % of total | Chains
func buildWallet(rows []valuation.WalletRow) [][]any {
	data := make([][]any, 0, len(rows)+1)
	data = append(data, []any{"Token", "Name", "Price", "Holdings", "Value", "% of total", "Chains"})
	for _, r := range rows {
		data = append(data, []any{
			r.Token, r.DisplayName,
			toFloat(r.Price), toFloat(r.Holdings), toFloat(r.Value),
			toFloat(r.PercentOfTotal.Round(2)),
			strings.Join(r.Chains, ", "),
		})
	}
	return data
}

// buildStaking builds the STAKING sheet.
// Columns: Pool | Token | Project | Chain | Price | Holdings | Deposited | Value | % of total
func buildStaking(rows []valuation.StakingRow) [][]any {
	data := make([][]any, 0, len(rows)+1)
	data = append(data, []any{"Pool", "Token", "Project", "Chain", "Price", "Holdings", "Deposited", "Value", "% of total"})
	for _, r := range rows {
		data = append(data, []any{
			r.Pool, r.Token, r.Project, r.Chain,
			toFloat(r.Price), toFloat(r.Holdings), toFloat(r.DepositedAmount), toFloat(r.Value),
			toFloat(r.PercentOfTotal.Round(2)),
		})
	}
	return data
}

// buildDiscoveries builds the DISCOVERIES sheet.
// Columns: Chain | Token | Symbol | Provider price
func buildDiscoveries(discoveries []reconcile.Discovery) [][]any {
	data := make([][]any, 0, len(discoveries)+1)
	data = append(data, []any{"Chain", "Token", "Symbol", "Provider price"})
	for _, d := range discoveries {
		data = append(data, []any{d.Chain, d.Token, d.Symbol, toFloat(d.Price)})
	}
	return data
}

// historyRow is the single row appended to HISTORY on each export.
// Columns: Date | Wallet | Staking | Total
func historyRow(s valuation.Snapshot) []any {
	return []any{
		s.GeneratedAt.UTC().Format("2006-01-02 15:04"),
		toFloat(s.Totals.Wallet),
		toFloat(s.Totals.Staking),
		toFloat(s.Totals.Total),
	}
}

var historyHeader = []any{"Date", "Wallet", "Staking", "Total"}

func toFloat(d decimal.Decimal) float64 {
	f, _ := d.Float64()
	return f
}
