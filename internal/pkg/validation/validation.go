package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"

	"github.com/shopspring/decimal"
)

// Ticker symbols: uppercase letters, digits, dot and hyphen (BRK.B, RDS-A), up to 10 characters.
var symbolRe = regexp.MustCompile(`^[A-Z0-9.\-]{1,10}$`)

const (
	MaxNameLength        = 100
	MaxDescriptionLength = 1000
	MaxQuestionLength    = 500
	MaxHoldings          = 100
)

// NormalizeSymbol upper-cases and trims a ticker.
func NormalizeSymbol(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}

// IsValidSymbol reports whether an already normalized symbol is acceptable.
func IsValidSymbol(symbol string) bool {
	return symbolRe.MatchString(symbol)
}

func IsValidPortfolioName(name string) bool {
	name = strings.TrimSpace(name)
	n := utf8.RuneCountInString(name)
	return n >= 1 && n <= MaxNameLength
}

func IsValidDescription(desc string) bool {
	return utf8.RuneCountInString(desc) <= MaxDescriptionLength
}

func IsNonNegative(d decimal.Decimal) bool {
	return !d.IsNegative()
}

// IsValidQuestion accepts chat questions of 1..500 characters after trimming.
func IsValidQuestion(q string) bool {
	n := utf8.RuneCountInString(strings.TrimSpace(q))
	return n >= 1 && n <= MaxQuestionLength
}
