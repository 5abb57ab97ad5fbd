// Package core provides money parsing and handling utilities.
//
// This file contains functions for parsing monetary amounts from strings
// and converting between cents and euro representations.
package core

import (
	"strings"

	"github.com/shopspring/decimal"
)

var (
	hundred       = decimal.NewFromInt(100)
	maxSafeAmount = decimal.NewFromInt((1<<63 - 1) / 100)
)

// ParseDecimalToCents converts a decimal string to cents with proper rounding.
//
// It accepts both dot (12.34) and comma (12,34) decimal separators and performs
// half-up rounding on the third decimal place. Zero is a valid price; negative
// values, signs and anything that is not a plain decimal are rejected.
//
// Examples:
//
//	ParseDecimalToCents("12.34") -> 1234, nil
//	ParseDecimalToCents("12,34") -> 1234, nil
//	ParseDecimalToCents("12.345") -> 1235, nil (half-up)
//	ParseDecimalToCents("0") -> 0, nil
func ParseDecimalToCents(s string) (int64, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return 0, ErrMissingPrice
	}
	s = strings.ReplaceAll(s, ",", ".")
	if strings.ContainsAny(s, "+-eE") {
		return 0, ErrInvalidPrice
	}
	d, err := decimal.NewFromString(s)
	if err != nil {
		return 0, ErrInvalidPrice
	}
	if d.GreaterThan(maxSafeAmount) {
		return 0, ErrInvalidPrice
	}
	return d.Mul(hundred).Round(0).IntPart(), nil
}

// ParseMoney is ParseDecimalToCents wrapped in a Money.
func ParseMoney(s string) (Money, error) {
	c, err := ParseDecimalToCents(s)
	if err != nil {
		return Money{}, err
	}
	return Money{Cents: c}, nil
}

// Euros returns the euro value as a float64 for display purposes.
// Use cents for calculations.
func (m Money) Euros() float64 {
	return float64(m.Cents) / 100.0
}

// Decimal returns the amount as an exact decimal.
func (m Money) Decimal() decimal.Decimal {
	return decimal.New(m.Cents, -2)
}

// String formats the amount with two decimals, e.g. "187.50".
func (m Money) String() string {
	return m.Decimal().StringFixed(2)
}
