package domain

import (
	"strings"
	"time"

	"github.com/shopspring/decimal"
)

// eurPrecision is the number of decimal places used for EUR amounts in filings.
const eurPrecision = 2

// SafeParse parses a string into a decimal, returning zero for invalid or empty input.
func SafeParse(value string) decimal.Decimal {
	d, ok := ParseDecimal(value)
	if !ok {
		return decimal.Zero
	}
	return d
}

// ParseDecimal parses a string into a decimal and reports whether the input was valid.
func ParseDecimal(value string) (decimal.Decimal, bool) {
	value = strings.TrimSpace(value)
	if value == "" {
		return decimal.Zero, false
	}
	d, err := decimal.NewFromString(value)
	if err != nil {
		return decimal.Zero, false
	}
	return d, true
}

// RoundEUR rounds a monetary amount to cents using banker's rounding.
func RoundEUR(d decimal.Decimal) decimal.Decimal {
	return d.RoundBank(eurPrecision)
}

// FormatEUR renders an amount with exactly two decimal places.
func FormatEUR(d decimal.Decimal) string {
	return RoundEUR(d).StringFixed(eurPrecision)
}

// FormatQuantity renders a quantity with trailing zeros stripped.
func FormatQuantity(d decimal.Decimal) string {
	s := d.String()
	if !strings.Contains(s, ".") {
		return s
	}
	s = strings.TrimRight(s, "0")
	return strings.TrimRight(s, ".")
}

// HoldingDays returns the number of whole calendar days between acquisition and disposal, in UTC.
func HoldingDays(acquiredAt, soldAt time.Time) int {
	a := utcMidnight(acquiredAt)
	s := utcMidnight(soldAt)
	if s.Before(a) {
		return 0
	}
	return int(s.Sub(a).Hours() / 24)
}

func utcMidnight(t time.Time) time.Time {
	t = t.UTC()
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, time.UTC)
}

// YearBounds returns [1 Jan year, 1 Jan year+1) in UTC.
func YearBounds(year int) (time.Time, time.Time) {
	start := time.Date(year, time.January, 1, 0, 0, 0, 0, time.UTC)
	return start, start.AddDate(1, 0, 0)
}

// YearEnd returns the last instant of the fiscal year, used for year-end valuation.
func YearEnd(year int) time.Time {
	_, end := YearBounds(year)
	return end.Add(-time.Nanosecond)
}
