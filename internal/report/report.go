package report

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/Rhymond/go-money"
	"github.com/charmbracelet/glamour"
	"github.com/shopspring/decimal"

	"github.com/cryptofolio/tracker/internal/reconcile"
	"github.com/cryptofolio/tracker/internal/valuation"
)

// StylePlain returns markdown unrendered.
const StylePlain = "plain"

// FormatUSD formats d as US dollars with cents, e.g. "$1,234.50".
func FormatUSD(d decimal.Decimal) string {
	cur := *money.New(0, money.USD).Currency()
	return cur.Formatter().Format(d.Shift(int32(cur.Fraction)).Round(0).IntPart())
}

// formatPrice keeps sub-cent precision for small token prices.
func formatPrice(d decimal.Decimal) string {
	if d.Abs().LessThan(decimal.NewFromInt(1)) && !d.IsZero() {
		return "$" + d.StringFixed(6)
	}
	return FormatUSD(d)
}

// Totals renders the portfolio totals.
func Totals(t valuation.PortfolioTotals) string {
	var b strings.Builder
	b.WriteString("| Bucket | Value |\n|---|---:|\n")
	fmt.Fprintf(&b, "| Wallet | %s |\n", FormatUSD(t.Wallet))
	fmt.Fprintf(&b, "| Staking | %s |\n", FormatUSD(t.Staking))
	fmt.Fprintf(&b, "| **Total** | **%s** |\n", FormatUSD(t.Total))
	return b.String()
}

// Wallet renders wallet rows with their portfolio share.
func Wallet(rows []valuation.WalletRow, totals valuation.PortfolioTotals) string {
	var b strings.Builder
	b.WriteString("# Wallet\n\n")
	if len(rows) == 0 {
		b.WriteString("_No wallet positions._\n\n")
	} else {
		b.WriteString("| Token | Price | Holdings | Value | Share | Chains |\n|---|---:|---:|---:|---:|---|\n")
		for _, r := range rows {
			fmt.Fprintf(&b, "| %s | %s | %s | %s | %s%% | %s |\n",
				escape(r.DisplayName), formatPrice(r.Price), r.Holdings.String(),
				FormatUSD(r.Value), r.PercentOfTotal.StringFixed(2), strings.Join(r.Chains, ", "))
		}
		b.WriteString("\n")
	}
	b.WriteString(Totals(totals))
	return b.String()
}

// Pass renders the outcome of a reconciliation pass.
func Pass(s reconcile.Summary) string {
	var b strings.Builder
	b.WriteString("# Reconciliation\n\n")
	fmt.Fprintf(&b, "- Chains: %d (%d failed)\n", s.Chains, s.ChainsFailed)
	fmt.Fprintf(&b, "- Records: %d (%d denied)\n", s.Records, s.Denied)
	fmt.Fprintf(&b, "- Positions updated: %d\n", s.Updated)
	fmt.Fprintf(&b, "- Wallet value: %s\n", FormatUSD(s.TotalValue))
	fmt.Fprintf(&b, "- Duration: %s\n\n", s.Duration.Round(time.Millisecond))

	if len(s.Discoveries) > 0 {
		b.WriteString("## New tokens\n\n| Chain | Token | Symbol | Provider price |\n|---|---|---|---:|\n")
		for _, d := range s.Discoveries {
			fmt.Fprintf(&b, "| %s | %s | %s | %s |\n", d.Chain, escape(d.Token), escape(d.Symbol), formatPrice(d.Price))
		}
		b.WriteString("\n")
	}

	if len(s.ZeroPrice) > 0 {
		b.WriteString("## Zero price\n\n")
		for _, i := range s.ZeroPrice {
			fmt.Fprintf(&b, "- %s on %s\n", escape(i.Token), i.Chain)
		}
		b.WriteString("\n")
	}

	if n := s.FailureCount(); n > 0 {
		fmt.Fprintf(&b, "## Failures (%d)\n\n", n)
		cats := make([]string, 0, len(s.Failures))
		for c := range s.Failures {
			cats = append(cats, string(c))
		}
		sort.Strings(cats)
		for _, c := range cats {
			for _, i := range s.Failures[reconcile.Category(c)] {
				fmt.Fprintf(&b, "- `%s` %s %s: %s\n", c, i.Chain, escape(i.Token), i.Detail)
			}
		}
	}
	return b.String()
}

// Render formats markdown for a terminal. style is a glamour style name, ""
// for auto-detection, or StylePlain.
func Render(markdown, style string) (string, error) {
	if style == StylePlain {
		return markdown, nil
	}
	opt := glamour.WithAutoStyle()
	if style != "" {
		opt = glamour.WithStandardStyle(style)
	}
	r, err := glamour.NewTermRenderer(opt, glamour.WithWordWrap(120))
	if err != nil {
		return "", fmt.Errorf("creating renderer: %w", err)
	}
	out, err := r.Render(markdown)
	if err != nil {
		return "", fmt.Errorf("rendering markdown: %w", err)
	}
	return out, nil
}

func escape(s string) string {
	return strings.ReplaceAll(s, "|", `\|`)
}
