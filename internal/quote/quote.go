// Package quote supplies current trade prices. The ledger treats whatever a
// Quoter returns as authoritative for the trade.
package quote

import (
	"context"
	"errors"
	"strings"

	"github.com/STTM-NSU/virtual-trading/internal/model"
)

var (
	NotFoundError = errors.New("quote not found")
	ProviderError = errors.New("quote provider failed")
)

type Quoter interface {
	Quote(ctx context.Context, symbol string) (model.Quote, error)
}

// Lister is implemented by quoters that know their full universe of symbols.
type Lister interface {
	List(ctx context.Context) ([]model.Quote, error)
}

func normalize(symbol string) string {
	return strings.ToUpper(strings.TrimSpace(symbol))
}
