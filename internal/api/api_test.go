package api

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/STTM-NSU/virtual-trading/internal/leaderboard"
	"github.com/STTM-NSU/virtual-trading/internal/ledger"
	"github.com/STTM-NSU/virtual-trading/internal/logger"
	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/STTM-NSU/virtual-trading/internal/predictor"
	"github.com/STTM-NSU/virtual-trading/internal/quote"
	"github.com/STTM-NSU/virtual-trading/internal/store"
	"github.com/bytedance/sonic"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestAPI(t *testing.T, s store.Store, limit RateLimit) *API {
	t.Helper()
	static := quote.NewStatic(quote.MockQuotes())
	return New(
		ledger.NewEngine(s),
		leaderboard.NewRanker(s, 10),
		static,
		static,
		predictor.NewMock(),
		limit,
		logger.Nop(),
	)
}

func defaultAPI(t *testing.T) *API {
	return newTestAPI(t, store.NewMemory(decimal.NewFromInt(10000)), RateLimit{PerSecond: 1000, Burst: 1000})
}

func do(t *testing.T, h http.Handler, method, path, body string) *httptest.ResponseRecorder {
	t.Helper()
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, sonic.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

func TestAPI_Health(t *testing.T) {
	a := defaultAPI(t)

	rec := do(t, a, http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "healthy")

	rec = do(t, a, http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, rec.Code)
}

func TestAPI_GetPortfolioCreatesLazily(t *testing.T) {
	rec := do(t, defaultAPI(t), http.MethodGet, "/api/portfolios/alice", "")
	require.Equal(t, http.StatusOK, rec.Code)

	resp := decode[portfolioResponse](t, rec)
	assert.Equal(t, "alice", resp.Portfolio.UserID)
	assert.True(t, resp.Portfolio.Cash.Equal(decimal.NewFromInt(10000)))
	assert.True(t, resp.Portfolio.TotalValue.Equal(decimal.NewFromInt(10000)))
	assert.Empty(t, resp.Summary.Items)
}

func TestAPI_BuyAndSell(t *testing.T) {
	a := defaultAPI(t)

	rec := do(t, a, http.MethodPost, "/api/portfolios/alice/buy", `{"symbol":"AAPL","name":"Apple Inc.","shares":10,"price":100}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[tradeResponse](t, rec)
	assert.Equal(t, "Successfully purchased 10 shares of AAPL", resp.Message)
	assert.True(t, resp.Portfolio.Cash.Equal(decimal.NewFromInt(9000)))
	assert.Equal(t, model.Buy, resp.Transaction.Type)

	rec = do(t, a, http.MethodPost, "/api/portfolios/alice/buy", `{"symbol":"AAPL","shares":10,"price":200}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[tradeResponse](t, rec)
	assert.Equal(t, "150", resp.Portfolio.Items["AAPL"].AverageCost.String())

	rec = do(t, a, http.MethodPost, "/api/portfolios/alice/sell", `{"symbol":"AAPL","shares":25,"price":200}`)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	errResp := decode[errorResponse](t, rec)
	assert.Equal(t, ErrCodeRejected, errResp.Error.Code)
	assert.Contains(t, errResp.Error.Message, "you only have 20 shares of AAPL")

	rec = do(t, a, http.MethodPost, "/api/portfolios/alice/sell", `{"symbol":"AAPL","shares":20,"price":210}`)
	require.Equal(t, http.StatusOK, rec.Code)
	resp = decode[tradeResponse](t, rec)
	assert.Equal(t, "Successfully sold 20 shares of AAPL", resp.Message)
	assert.Empty(t, resp.Portfolio.Items)
	assert.True(t, resp.Portfolio.TotalValue.Equal(decimal.NewFromInt(11200)))
}

func TestAPI_BuyAtQuotedPrice(t *testing.T) {
	rec := do(t, defaultAPI(t), http.MethodPost, "/api/portfolios/bob/buy", `{"symbol":"msft","shares":2}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	resp := decode[tradeResponse](t, rec)
	item := resp.Portfolio.Items["MSFT"]
	assert.Equal(t, "Microsoft Corporation", item.Name)
	assert.Equal(t, "420.45", item.AverageCost.String())
	assert.Equal(t, "840.9", resp.Transaction.Total.String())
}

func TestAPI_TradeErrors(t *testing.T) {
	tests := []struct {
		name   string
		path   string
		body   string
		status int
		code   string
	}{
		{"insufficient funds", "/api/portfolios/u/buy", `{"symbol":"AAPL","shares":1000,"price":100}`, http.StatusUnprocessableEntity, ErrCodeRejected},
		{"no position", "/api/portfolios/u/sell", `{"symbol":"TSLA","shares":1,"price":100}`, http.StatusNotFound, ErrCodeNotFound},
		{"zero shares", "/api/portfolios/u/buy", `{"symbol":"AAPL","shares":0,"price":100}`, http.StatusBadRequest, ErrCodeInvalidInput},
		{"negative price", "/api/portfolios/u/buy", `{"symbol":"AAPL","shares":1,"price":-1}`, http.StatusBadRequest, ErrCodeInvalidInput},
		{"empty symbol", "/api/portfolios/u/buy", `{"symbol":" ","shares":1}`, http.StatusBadRequest, ErrCodeInvalidInput},
		{"unknown symbol without price", "/api/portfolios/u/buy", `{"symbol":"ZZZZ","shares":1}`, http.StatusNotFound, ErrCodeNotFound},
		{"malformed json", "/api/portfolios/u/buy", `{"symbol":`, http.StatusBadRequest, ErrCodeInvalidInput},
		{"empty body", "/api/portfolios/u/buy", ``, http.StatusBadRequest, ErrCodeInvalidInput},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := do(t, defaultAPI(t), http.MethodPost, tt.path, tt.body)
			assert.Equal(t, tt.status, rec.Code, rec.Body.String())
			assert.Equal(t, tt.code, decode[errorResponse](t, rec).Error.Code)
		})
	}
}

func TestAPI_Refresh(t *testing.T) {
	a := defaultAPI(t)

	rec := do(t, a, http.MethodPost, "/api/portfolios/carol/buy", `{"symbol":"AAPL","shares":10,"price":100}`)
	require.Equal(t, http.StatusOK, rec.Code)

	rec = do(t, a, http.MethodPost, "/api/portfolios/carol/refresh", `{"updates":[{"symbol":"AAPL","price":120}]}`)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp := decode[portfolioResponse](t, rec)
	assert.True(t, resp.Portfolio.TotalValue.Equal(decimal.NewFromInt(10200)))
	require.Len(t, resp.Summary.Items, 1)
	assert.Equal(t, "20", resp.Summary.Items[0].ProfitLoss.Percent.String())

	rec = do(t, a, http.MethodPost, "/api/portfolios/carol/refresh", "")
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	resp = decode[portfolioResponse](t, rec)
	assert.Equal(t, "187.32", resp.Portfolio.Items["AAPL"].CurrentPrice.String())

	rec = do(t, a, http.MethodPost, "/api/portfolios/carol/refresh", `{"updates":[{"symbol":"AAPL","price":-5}]}`)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestAPI_Transactions(t *testing.T) {
	a := defaultAPI(t)

	rec := do(t, a, http.MethodGet, "/api/portfolios/dave/transactions", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"transactions":[]}`, rec.Body.String())

	for _, body := range []string{
		`{"symbol":"AAPL","shares":1,"price":100}`,
		`{"symbol":"MSFT","shares":1,"price":100}`,
	} {
		require.Equal(t, http.StatusOK, do(t, a, http.MethodPost, "/api/portfolios/dave/buy", body).Code)
	}

	rec = do(t, a, http.MethodGet, "/api/portfolios/dave/transactions", "")
	resp := decode[transactionsResponse](t, rec)
	require.Len(t, resp.Transactions, 2)
	assert.Equal(t, "MSFT", resp.Transactions[0].Symbol)
	assert.Equal(t, "AAPL", resp.Transactions[1].Symbol)
}

func TestAPI_Leaderboard(t *testing.T) {
	a := defaultAPI(t)

	require.Equal(t, http.StatusOK, do(t, a, http.MethodGet, "/api/portfolios/low", "").Code)
	require.Equal(t, http.StatusOK, do(t, a, http.MethodPost, "/api/portfolios/high/buy", `{"symbol":"AAPL","shares":10,"price":0}`).Code)
	require.Equal(t, http.StatusOK, do(t, a, http.MethodPost, "/api/portfolios/high/refresh", `{"updates":[{"symbol":"AAPL","price":50}]}`).Code)

	rec := do(t, a, http.MethodGet, "/api/leaderboard", "")
	require.Equal(t, http.StatusOK, rec.Code)
	resp := decode[leaderboardResponse](t, rec)
	require.Len(t, resp.Entries, 2)
	assert.Equal(t, "high", resp.Entries[0].UserID)
	assert.Equal(t, "$10,500.00", resp.Entries[0].Display)
	assert.Equal(t, 2, resp.Entries[1].Rank)

	rec = do(t, a, http.MethodGet, "/api/leaderboard?limit=1", "")
	assert.Len(t, decode[leaderboardResponse](t, rec).Entries, 1)

	rec = do(t, a, http.MethodGet, "/api/leaderboard?limit=abc", "")
	assert.Equal(t, http.StatusBadRequest, rec.Code)

	rec = do(t, a, http.MethodGet, "/api/leaderboard/low", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 2, decode[leaderboard.Entry](t, rec).Rank)

	rec = do(t, a, http.MethodGet, "/api/leaderboard/ghost", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)
}

func TestAPI_Stocks(t *testing.T) {
	a := defaultAPI(t)

	rec := do(t, a, http.MethodGet, "/api/stocks", "")
	require.Equal(t, http.StatusOK, rec.Code)
	list := decode[struct {
		Stocks []model.Quote `json:"stocks"`
	}](t, rec)
	assert.Len(t, list.Stocks, 6)

	rec = do(t, a, http.MethodGet, "/api/stocks/tsla", "")
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "215.75", decode[model.Quote](t, rec).Price.String())

	rec = do(t, a, http.MethodGet, "/api/stocks/NOPE", "")
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = do(t, a, http.MethodGet, "/api/stocks/AAPL/prediction", "")
	require.Equal(t, http.StatusOK, rec.Code)
	pred := decode[struct {
		Prediction model.Prediction `json:"prediction"`
	}](t, rec)
	assert.Equal(t, "AAPL", pred.Prediction.Symbol)
	assert.Equal(t, 93.6, pred.Prediction.ConfidencePercent)
}

func TestAPI_TradeRateLimit(t *testing.T) {
	a := newTestAPI(t, store.NewMemory(decimal.NewFromInt(10000)), RateLimit{PerSecond: 0.001, Burst: 2})
	body := `{"symbol":"AAPL","shares":1,"price":1}`

	assert.Equal(t, http.StatusOK, do(t, a, http.MethodPost, "/api/portfolios/eve/buy", body).Code)
	assert.Equal(t, http.StatusOK, do(t, a, http.MethodPost, "/api/portfolios/eve/sell", body).Code)

	rec := do(t, a, http.MethodPost, "/api/portfolios/eve/buy", body)
	assert.Equal(t, http.StatusTooManyRequests, rec.Code)
	assert.Equal(t, ErrCodeRateLimited, decode[errorResponse](t, rec).Error.Code)

	assert.Equal(t, http.StatusOK, do(t, a, http.MethodPost, "/api/portfolios/frank/buy", body).Code)
	assert.Equal(t, http.StatusOK, do(t, a, http.MethodGet, "/api/portfolios/eve", "").Code)
}

type downStore struct {
	store.Store
}

func (downStore) Get(context.Context, string) (model.UserPortfolio, error) {
	return model.UserPortfolio{}, errors.New("dial tcp 10.0.0.5:5432: connect: connection refused")
}

func TestAPI_StoreUnavailable(t *testing.T) {
	a := newTestAPI(t, downStore{Store: store.NewMemory(decimal.Zero)}, RateLimit{PerSecond: 10, Burst: 10})

	rec := do(t, a, http.MethodGet, "/api/portfolios/alice", "")
	assert.Equal(t, http.StatusServiceUnavailable, rec.Code)
	resp := decode[errorResponse](t, rec)
	assert.Equal(t, ErrCodeServiceUnavailable, resp.Error.Code)
	assert.NotContains(t, resp.Error.Message, "10.0.0.5")
}
