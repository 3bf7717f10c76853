package chains

import (
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
)

// Currency is the closed set of payment chains the treasury accepts.
type Currency string

const (
	CurrencyBSV Currency = "BSV" // UTXO chain, amounts in satoshis
	CurrencyETH Currency = "ETH" // account chain, amounts in wei
	CurrencySOL Currency = "SOL" // account chain, amounts in lamports
)

// SupportedCurrencies in display order.
var SupportedCurrencies = []Currency{CurrencyBSV, CurrencyETH, CurrencySOL}

// ParseCurrency normalizes user input into a Currency.
func ParseCurrency(s string) (Currency, error) {
	switch Currency(strings.ToUpper(strings.TrimSpace(s))) {
	case CurrencyBSV:
		return CurrencyBSV, nil
	case CurrencyETH:
		return CurrencyETH, nil
	case CurrencySOL:
		return CurrencySOL, nil
	default:
		return "", fmt.Errorf("unsupported currency %q", s)
	}
}

// MinConfirmations is the chain-specific confirmation floor.
// ETH needs more headroom due to reorg risk; BSV and SOL finalize fast.
func (c Currency) MinConfirmations() int {
	switch c {
	case CurrencyETH:
		return 3
	default:
		return 1
	}
}

// unitFactor is the number of smallest units per whole coin.
func (c Currency) unitFactor() decimal.Decimal {
	switch c {
	case CurrencyBSV:
		return decimal.New(1, 8) // 1e8 satoshis
	case CurrencyETH:
		return decimal.New(1, 18) // 1e18 wei
	case CurrencySOL:
		return decimal.New(1, 9) // 1e9 lamports
	default:
		return decimal.New(1, 0)
	}
}

// ToSmallestUnit converts a whole-coin amount to the chain's integer smallest
// unit, rounding to the nearest unit. Rounding (rather than truncating) keeps
// the quote from drifting below what the buyer is actually asked to pay.
func ToSmallestUnit(amount decimal.Decimal, c Currency) int64 {
	return amount.Mul(c.unitFactor()).Round(0).IntPart()
}

// FromSmallestUnit converts an integer smallest-unit amount back to whole coins.
func FromSmallestUnit(amount int64, c Currency) decimal.Decimal {
	return decimal.New(amount, 0).Div(c.unitFactor())
}
