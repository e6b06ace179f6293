package model

import "github.com/shopspring/decimal"

// Currency is the only currency virtual portfolios are denominated in.
const Currency = "USD"

type MoneyValue struct {
	Currency string  `yaml:"currency"`
	Value    float64 `yaml:"value"`
}

func (m MoneyValue) Decimal() decimal.Decimal {
	return decimal.NewFromFloat(m.Value)
}
