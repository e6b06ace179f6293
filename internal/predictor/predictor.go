// Package predictor produces demo price-change predictions. It is never
// consulted by the ledger.
package predictor

import (
	"math"
	"strings"
	"unicode/utf16"

	"github.com/STTM-NSU/virtual-trading/internal/model"
)

// Mock derives a stable pseudo prediction from the symbol alone: a change
// within [-15, 5] percent and a confidence within [60, 95] percent.
type Mock struct{}

func NewMock() *Mock {
	return &Mock{}
}

func (m *Mock) Predict(symbol string) model.Prediction {
	symbol = strings.ToUpper(strings.TrimSpace(symbol))

	var hash int
	for _, unit := range utf16.Encode([]rune(symbol)) {
		hash += int(unit)
	}
	seed := float64(hash) / 1000

	confidence := 60 + math.Abs(math.Cos(seed))*35
	return model.Prediction{
		Symbol:            symbol,
		ChangePercent:     math.Sin(seed)*10 - 5,
		ConfidencePercent: math.Round(confidence*10) / 10,
	}
}
