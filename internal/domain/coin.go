package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// CoinRecord is a registry entry for a known token. Name is the canonical key
// and never changes once stored; DisplayName and AlternateNames are the
// presentation and matching aliases.
type CoinRecord struct {
	Name                  string          `json:"name"`
	DisplayName           string          `json:"displayName"`
	AlternateNames        []string        `json:"alternateNames"`
	ExternalID            string          `json:"externalId,omitempty"`
	CurrentPrice          decimal.Decimal `json:"currentPrice"`
	MarketCap             decimal.Decimal `json:"marketCap"`
	MarketCapRank         int             `json:"marketCapRank"`
	TotalVolume           decimal.Decimal `json:"totalVolume"`
	High24h               decimal.Decimal `json:"high24h"`
	Low24h                decimal.Decimal `json:"low24h"`
	PriceChange24h        decimal.Decimal `json:"priceChange24h"`
	PriceChangePct24h     decimal.Decimal `json:"priceChangePct24h"`
	PriceChangePct1h      decimal.Decimal `json:"priceChangePct1h"`
	MarketCapChange24h    decimal.Decimal `json:"marketCapChange24h"`
	MarketCapChangePct24h decimal.Decimal `json:"marketCapChangePct24h"`
	UpdatedAt             time.Time       `json:"updatedAt"`
}

// Label returns the display name, falling back to the canonical name.
func (c CoinRecord) Label() string {
	if c.DisplayName != "" {
		return c.DisplayName
	}
	return c.Name
}

// MarketQuote is a market snapshot for one coin as reported by the market data provider.
type MarketQuote struct {
	ExternalID            string          `json:"id"`
	Name                  string          `json:"name"`
	Symbol                string          `json:"symbol"`
	CurrentPrice          decimal.Decimal `json:"current_price"`
	MarketCap             decimal.Decimal `json:"market_cap"`
	MarketCapRank         int             `json:"market_cap_rank"`
	TotalVolume           decimal.Decimal `json:"total_volume"`
	High24h               decimal.Decimal `json:"high_24h"`
	Low24h                decimal.Decimal `json:"low_24h"`
	PriceChange24h        decimal.Decimal `json:"price_change_24h"`
	PriceChangePct24h     decimal.Decimal `json:"price_change_percentage_24h"`
	PriceChangePct1h      decimal.Decimal `json:"price_change_percentage_1h_in_currency"`
	MarketCapChange24h    decimal.Decimal `json:"market_cap_change_24h"`
	MarketCapChangePct24h decimal.Decimal `json:"market_cap_change_percentage_24h"`
}

// ToCoinRecord converts a quote into a fresh registry record keyed by the quote's
// name. The quote's name doubles as display name and first alternate name.
func (q MarketQuote) ToCoinRecord() CoinRecord {
	names := []string{}
	if q.Name != "" {
		names = append(names, q.Name)
	}
	return CoinRecord{
		Name:                  q.Name,
		DisplayName:           q.Name,
		AlternateNames:        names,
		ExternalID:            q.ExternalID,
		CurrentPrice:          q.CurrentPrice,
		MarketCap:             q.MarketCap,
		MarketCapRank:         q.MarketCapRank,
		TotalVolume:           q.TotalVolume,
		High24h:               q.High24h,
		Low24h:                q.Low24h,
		PriceChange24h:        q.PriceChange24h,
		PriceChangePct24h:     q.PriceChangePct24h,
		PriceChangePct1h:      q.PriceChangePct1h,
		MarketCapChange24h:    q.MarketCapChange24h,
		MarketCapChangePct24h: q.MarketCapChangePct24h,
	}
}
