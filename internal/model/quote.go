package model

import (
	"time"

	"github.com/shopspring/decimal"
)

type Quote struct {
	Symbol        string          `json:"symbol"`
	Name          string          `json:"name"`
	Price         decimal.Decimal `json:"price"`
	Change        decimal.Decimal `json:"change"`
	ChangePercent decimal.Decimal `json:"changePercent"`
	Ts            time.Time       `json:"timestamp"`
}

type Prediction struct {
	Symbol            string  `json:"symbol"`
	ChangePercent     float64 `json:"predictedChangePercent"`
	ConfidencePercent float64 `json:"confidencePercent"`
}
