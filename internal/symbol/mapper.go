// Package symbol canonicalizes pair symbols and translates them to and from
// per-exchange conventions.
package symbol

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/flarenet/ftso-feed-provider/internal/domain"
)

// CaseFormat controls how toExchange renders the base/quote tokens.
type CaseFormat int

const (
	CaseUpper CaseFormat = iota
	CaseLower
	CaseMixed
)

// Conventions describes one exchange's symbol dialect.
type Conventions struct {
	Separator       string
	BaseFirst       bool
	Case            CaseFormat
	SpecialMappings map[string]string // canonical "BASE/QUOTE" -> exchange symbol, wins over generic rules
	InverseMappings map[string]string // exchange token -> canonical token, e.g. "XBT" -> "BTC"
	TokenMap        map[string]string // canonical token -> exchange token, the inverse direction of InverseMappings
}

var tokenPattern = regexp.MustCompile(`^[A-Za-z0-9]+$`)

// Mapper is a stateless symbol translator; all methods are pure functions of
// their arguments.
type Mapper struct{}

// NewMapper constructs a Mapper. It carries no state.
func NewMapper() *Mapper {
	return &Mapper{}
}

// Normalize strips separators from a raw exchange symbol, applies inverse
// mappings token-by-token, and emits "BASE/QUOTE". It fails with
// ErrInvalidSymbol when raw cannot be split into two tokens of length >= 2.
func (m *Mapper) Normalize(raw string, conv Conventions) (string, error) {
	base, quote, err := splitRaw(raw, conv)
	if err != nil {
		return "", err
	}

	base = applyInverse(strings.ToUpper(base), conv.InverseMappings)
	quote = applyInverse(strings.ToUpper(quote), conv.InverseMappings)

	if len(base) < 2 || len(quote) < 2 {
		return "", fmt.Errorf("normalize %q: tokens too short: %w", raw, domain.ErrInvalidSymbol)
	}

	return base + "/" + quote, nil
}

// splitRaw separates a raw exchange symbol into base/quote tokens using the
// exchange's separator and ordering convention. Falls back to a bare
// concatenation split (no separator) by trying known quote suffixes is not
// attempted here — adapters must supply a separator-bearing convention, or
// the raw string must already contain one.
func splitRaw(raw string, conv Conventions) (string, string, error) {
	sep := conv.Separator
	if sep == "" {
		sep = "/"
	}

	parts := strings.SplitN(raw, sep, 2)
	if len(parts) != 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("normalize %q: expected two %q-separated tokens: %w", raw, sep, domain.ErrInvalidSymbol)
	}

	if !tokenPattern.MatchString(parts[0]) || !tokenPattern.MatchString(parts[1]) {
		return "", "", fmt.Errorf("normalize %q: non-alphanumeric token: %w", raw, domain.ErrInvalidSymbol)
	}

	if conv.BaseFirst {
		return parts[0], parts[1], nil
	}
	return parts[1], parts[0], nil
}

func applyInverse(token string, inverse map[string]string) string {
	if mapped, ok := inverse[token]; ok {
		return mapped
	}
	return token
}

// ToExchange renders a canonical "BASE/QUOTE" symbol using conv. Special
// mappings, keyed by the canonical form, win over the generic rules. Fails
// with ErrInvalidSymbol if canonical is malformed.
func (m *Mapper) ToExchange(canonical string, conv Conventions) (string, error) {
	if special, ok := conv.SpecialMappings[canonical]; ok {
		return special, nil
	}

	parts := strings.SplitN(canonical, "/", 2)
	if len(parts) != 2 || len(parts[0]) < 2 || len(parts[1]) < 2 {
		return "", fmt.Errorf("toExchange %q: %w", canonical, domain.ErrInvalidSymbol)
	}
	base, quote := parts[0], parts[1]

	if mapped, ok := conv.TokenMap[base]; ok {
		base = mapped
	}
	if mapped, ok := conv.TokenMap[quote]; ok {
		quote = mapped
	}

	base = formatCase(base, conv.Case)
	quote = formatCase(quote, conv.Case)

	sep := conv.Separator
	if sep == "" {
		sep = ""
	}

	if conv.BaseFirst {
		return base + sep + quote, nil
	}
	return quote + sep + base, nil
}

func formatCase(token string, format CaseFormat) string {
	switch format {
	case CaseLower:
		return strings.ToLower(token)
	case CaseMixed:
		return token
	default:
		return strings.ToUpper(token)
	}
}

// quoteSets enumerates the acceptable quote currencies/assets per category,
// per validateForCategory's rule.
var (
	fiatQuotes = map[string]bool{
		"USD": true, "EUR": true, "GBP": true, "JPY": true, "CHF": true,
		"AUD": true, "CAD": true, "NZD": true, "CNY": true, "SGD": true,
	}
	stablecoinQuotes = map[string]bool{
		"USDT": true, "USDC": true, "DAI": true, "BUSD": true, "TUSD": true,
	}
	cryptoQuotes = map[string]bool{
		"BTC": true, "ETH": true, "BNB": true,
	}
	commodityQuotes = map[string]bool{
		"XAU": true, "XAG": true, "XPT": true, "XPD": true, // metals
		"WTI": true, "BRENT": true, "NG": true, // energy
	}
)

// ValidateForCategory checks the quote asset of a canonical symbol against
// the acceptable quote-currency set for category. Pure function, no side
// effects.
func ValidateForCategory(canonical string, category domain.Category) bool {
	parts := strings.SplitN(canonical, "/", 2)
	if len(parts) != 2 {
		return false
	}
	quote := parts[1]

	switch category {
	case domain.CategoryCrypto:
		return fiatQuotes[quote] || stablecoinQuotes[quote] || cryptoQuotes[quote]
	case domain.CategoryForex:
		return fiatQuotes[quote]
	case domain.CategoryCommodity:
		return commodityQuotes[quote]
	case domain.CategoryStock:
		return fiatQuotes[quote] || quote == "USD"
	default:
		return false
	}
}
