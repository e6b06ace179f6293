package tools

import (
	"github.com/Rhymond/go-money"
	"github.com/shopspring/decimal"
)

// RoundToStep rounds number to the nearest multiple of step. A non-positive
// step leaves number unchanged.
func RoundToStep(number, step decimal.Decimal) decimal.Decimal {
	if !step.IsPositive() {
		return number
	}
	// делим на шаг, округляем до целого и умножаем обратно
	k := number.Div(step).Round(0)
	return k.Mul(step)
}

// FormatMoney renders amount in the given ISO currency, e.g. "$1,234.50".
// Sub-unit remainders are rounded half away from zero. Unknown currencies
// fall back to a plain two-digit amount.
func FormatMoney(amount decimal.Decimal, currency string) string {
	cur := money.GetCurrency(currency)
	if cur == nil {
		return amount.StringFixed(2)
	}

	factor := decimal.New(1, int32(cur.Fraction))
	minor := amount.Mul(factor).Round(0)
	return money.New(minor.IntPart(), currency).Display()
}
