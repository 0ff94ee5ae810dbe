package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// WalletPosition is the aggregated holding of one token across all chains.
// Token is the canonical registry name, or the raw provider label for tokens
// not yet in the registry.
type WalletPosition struct {
	Token     string          `json:"token"`
	Price     decimal.Decimal `json:"price"`
	Holdings  decimal.Decimal `json:"holdings"`
	Value     decimal.Decimal `json:"value"`
	Chains    []string        `json:"chains"`
	UpdatedAt time.Time       `json:"updatedAt"`
}

// StakedPosition is a manually tracked position in a staking pool.
type StakedPosition struct {
	ID              int64           `json:"id"`
	Pool            string          `json:"pool"`
	Token           string          `json:"token"`
	Price           decimal.Decimal `json:"price"`
	Holdings        decimal.Decimal `json:"holdings"`
	Value           decimal.Decimal `json:"value"`
	DepositedAmount decimal.Decimal `json:"depositedAmount"`
	Project         string          `json:"project"`
	Chain           string          `json:"chain"`
	Notes           string          `json:"notes,omitempty"`
	UpdatedAt       time.Time       `json:"updatedAt"`
}

// PositionType discriminates the kind of position a metadata record describes.
type PositionType string

const (
	PositionWallet           PositionType = "wallet"
	PositionStaking          PositionType = "staking"
	PositionFarming          PositionType = "farming"
	PositionLeveragedFarming PositionType = "leveraged_farming"
	PositionLendingBorrowing PositionType = "lending_borrowing"
)

// Valid reports whether t is one of the known position types.
func (t PositionType) Valid() bool {
	switch t {
	case PositionWallet, PositionStaking, PositionFarming, PositionLeveragedFarming, PositionLendingBorrowing:
		return true
	}
	return false
}

// PositionMetadata is auxiliary descriptive data attached to a position.
type PositionMetadata struct {
	PositionType PositionType `json:"positionType"`
	PositionID   string       `json:"positionId"`
	Chain        string       `json:"chain"`
	Protocol     string       `json:"protocol"`
	Notes        string       `json:"notes,omitempty"`
	UpdatedAt    time.Time    `json:"updatedAt"`
}

// ChainBalance is a single token balance on one chain as reported by the
// balance provider. Balance and USDPrice are the provider's raw text.
type ChainBalance struct {
	Chain        string `json:"chain"`
	TokenAddress string `json:"tokenAddress"`
	Name         string `json:"name"`
	Symbol       string `json:"symbol"`
	Balance      string `json:"balance"`
	USDPrice     string `json:"usdPrice"`
}
