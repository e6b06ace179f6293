package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type TradeType string

const (
	Buy  TradeType = "buy"
	Sell TradeType = "sell"
)

type Transaction struct {
	ID        string          `json:"id" db:"id"`
	UserID    string          `json:"userId" db:"user_id"`
	Symbol    string          `json:"symbol" db:"symbol"`
	Name      string          `json:"name" db:"name"`
	Type      TradeType       `json:"type" db:"type"`
	Shares    decimal.Decimal `json:"shares" db:"shares"`
	Price     decimal.Decimal `json:"price" db:"price"`
	Total     decimal.Decimal `json:"total" db:"total"`
	Timestamp time.Time       `json:"timestamp" db:"created_at"`
}
