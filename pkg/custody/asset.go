package custody

import (
	"fmt"
	"math"
	"strings"
)

// Asset describes the fungible settlement token. Amounts everywhere else are
// integer minor units; Asset only converts for display and input.
type Asset struct {
	Symbol   string `json:"symbol"`
	Decimals int    `json:"decimals"`
}

// DefaultAsset is the 6-decimal test stablecoin.
var DefaultAsset = Asset{Symbol: "mUSDT", Decimals: 6}

// Format renders amount as a decimal string with the asset symbol.
func (a Asset) Format(amount uint64) string {
	return FormatUnits(amount, a.Decimals) + " " + a.Symbol
}

// Parse converts a decimal string into minor units.
func (a Asset) Parse(s string) (uint64, error) {
	return ParseUnits(strings.TrimSuffix(strings.TrimSpace(s), " "+a.Symbol), a.Decimals)
}

// FormatUnits renders amount minor units with the given scale, trimming
// trailing fractional zeros.
func FormatUnits(amount uint64, decimals int) string {
	if decimals <= 0 {
		return fmt.Sprintf("%d", amount)
	}
	s := fmt.Sprintf("%0*d", decimals+1, amount)
	whole, frac := s[:len(s)-decimals], strings.TrimRight(s[len(s)-decimals:], "0")
	if frac == "" {
		return whole
	}
	return whole + "." + frac
}

// ParseUnits converts a non-negative decimal string into minor units.
// ParseUnits("10", 6) == 10_000_000.
func ParseUnits(s string, decimals int) (uint64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, fmt.Errorf("parse units: empty amount")
	}
	whole, frac, hasFrac := strings.Cut(s, ".")
	if hasFrac && frac == "" {
		return 0, fmt.Errorf("parse units: malformed amount %q", s)
	}
	if len(frac) > decimals {
		return 0, fmt.Errorf("parse units: %q has more than %d decimals", s, decimals)
	}
	if whole == "" {
		whole = "0"
	}
	digits := whole + frac + strings.Repeat("0", decimals-len(frac))

	var out uint64
	for _, r := range digits {
		if r < '0' || r > '9' {
			return 0, fmt.Errorf("parse units: malformed amount %q", s)
		}
		d := uint64(r - '0')
		if out > (math.MaxUint64-d)/10 {
			return 0, fmt.Errorf("parse units: %q overflows", s)
		}
		out = out*10 + d
	}
	return out, nil
}
