package api

import (
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/STTM-NSU/virtual-trading/internal/leaderboard"
	"github.com/STTM-NSU/virtual-trading/internal/ledger"
	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/gorilla/mux"
	"github.com/shopspring/decimal"
)

type portfolioView struct {
	model.UserPortfolio
	TotalValue decimal.Decimal `json:"totalValue"`
}

func newPortfolioView(p model.UserPortfolio) portfolioView {
	return portfolioView{UserPortfolio: p, TotalValue: p.TotalValue()}
}

type portfolioResponse struct {
	Portfolio portfolioView          `json:"portfolio"`
	Summary   model.PortfolioSummary `json:"summary"`
}

type tradeRequest struct {
	Symbol string   `json:"symbol"`
	Name   string   `json:"name"`
	Shares float64  `json:"shares"`
	Price  *float64 `json:"price"`
}

type tradeResponse struct {
	Message     string            `json:"message"`
	Portfolio   portfolioView     `json:"portfolio"`
	Transaction model.Transaction `json:"transaction"`
}

type priceUpdateRequest struct {
	Symbol string  `json:"symbol"`
	Price  float64 `json:"price"`
}

type refreshRequest struct {
	Updates []priceUpdateRequest `json:"updates"`
}

type transactionsResponse struct {
	Transactions []model.Transaction `json:"transactions"`
}

type leaderboardResponse struct {
	Entries []leaderboard.Entry `json:"entries"`
}

func (a *API) handleHealth(w http.ResponseWriter, r *http.Request) {
	a.respondJSON(w, http.StatusOK, map[string]string{
		"status":  "healthy",
		"service": "virtual-trading",
	})
}

func (a *API) handleGetPortfolio(w http.ResponseWriter, r *http.Request) {
	p, err := a.engine.Portfolio(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		a.respondErr(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, portfolioResponse{
		Portfolio: newPortfolioView(p),
		Summary:   ledger.Summary(p),
	})
}

func (a *API) handleBuy(w http.ResponseWriter, r *http.Request) {
	a.handleTrade(w, r, model.Buy)
}

func (a *API) handleSell(w http.ResponseWriter, r *http.Request) {
	a.handleTrade(w, r, model.Sell)
}

func (a *API) handleTrade(w http.ResponseWriter, r *http.Request, t model.TradeType) {
	userID := mux.Vars(r)["userID"]

	var req tradeRequest
	ok, err := decodeBody(w, r, &req)
	if err != nil {
		a.respondErr(w, err)
		return
	}
	if !ok {
		a.respondErr(w, fmt.Errorf("%w: empty body", BadRequestError))
		return
	}

	if strings.TrimSpace(req.Symbol) == "" {
		a.respondErr(w, fmt.Errorf("%w: empty symbol", ledger.InvalidSymbolError))
		return
	}
	shares, err := ledger.DecimalFromFloat(req.Shares)
	if err != nil {
		a.respondErr(w, err)
		return
	}

	var price decimal.Decimal
	name := req.Name
	if req.Price != nil {
		if price, err = ledger.DecimalFromFloat(*req.Price); err != nil {
			a.respondErr(w, err)
			return
		}
	} else {
		q, err := a.quoter.Quote(r.Context(), req.Symbol)
		if err != nil {
			a.respondErr(w, err)
			return
		}
		price = q.Price
		if name == "" {
			name = q.Name
		}
	}

	var res ledger.Result
	if t == model.Buy {
		res, err = a.engine.Buy(r.Context(), userID, req.Symbol, name, shares, price)
	} else {
		res, err = a.engine.Sell(r.Context(), userID, req.Symbol, name, shares, price)
	}
	if err != nil {
		a.respondErr(w, err)
		return
	}

	a.respondJSON(w, http.StatusOK, tradeResponse{
		Message:     res.Message,
		Portfolio:   newPortfolioView(res.Portfolio),
		Transaction: res.Transaction,
	})
}

// handleRefresh applies the given updates, or quotes every held symbol when
// the body is empty.
func (a *API) handleRefresh(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]

	var req refreshRequest
	explicit, err := decodeBody(w, r, &req)
	if err != nil {
		a.respondErr(w, err)
		return
	}

	var updates []model.PriceUpdate
	if explicit {
		updates = make([]model.PriceUpdate, 0, len(req.Updates))
		for _, u := range req.Updates {
			price, err := ledger.DecimalFromFloat(u.Price)
			if err != nil {
				a.respondErr(w, err)
				return
			}
			updates = append(updates, model.PriceUpdate{Symbol: u.Symbol, Price: price})
		}
	} else {
		if updates, err = a.quoteHoldings(r, userID); err != nil {
			a.respondErr(w, err)
			return
		}
	}

	p, err := a.engine.RefreshPrices(r.Context(), userID, updates)
	if err != nil {
		a.respondErr(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, portfolioResponse{
		Portfolio: newPortfolioView(p),
		Summary:   ledger.Summary(p),
	})
}

func (a *API) quoteHoldings(r *http.Request, userID string) ([]model.PriceUpdate, error) {
	p, err := a.engine.Portfolio(r.Context(), userID)
	if err != nil {
		return nil, err
	}

	updates := make([]model.PriceUpdate, 0, len(p.Items))
	for _, item := range p.SortedItems() {
		q, err := a.quoter.Quote(r.Context(), item.Symbol)
		if err != nil {
			a.logger.Warnf("%s: can't quote %s, keeping last price", err, item.Symbol)
			continue
		}
		updates = append(updates, model.PriceUpdate{Symbol: item.Symbol, Price: q.Price})
	}
	return updates, nil
}

func (a *API) handleTransactions(w http.ResponseWriter, r *http.Request) {
	txs, err := a.engine.Transactions(r.Context(), mux.Vars(r)["userID"])
	if err != nil {
		a.respondErr(w, err)
		return
	}
	if txs == nil {
		txs = []model.Transaction{}
	}
	a.respondJSON(w, http.StatusOK, transactionsResponse{Transactions: txs})
}

func (a *API) handleLeaderboard(w http.ResponseWriter, r *http.Request) {
	var limit int
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			a.respondErr(w, fmt.Errorf("%w: bad limit %q", BadRequestError, s))
			return
		}
		limit = n
	}

	entries, err := a.ranker.Rank(r.Context(), limit)
	if err != nil {
		a.respondErr(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, leaderboardResponse{Entries: entries})
}

func (a *API) handleLeaderboardPosition(w http.ResponseWriter, r *http.Request) {
	userID := mux.Vars(r)["userID"]
	entry, ok, err := a.ranker.Position(r.Context(), userID)
	if err != nil {
		a.respondErr(w, err)
		return
	}
	if !ok {
		a.respondError(w, http.StatusNotFound, ErrCodeNotFound, fmt.Sprintf("%s is not on the leaderboard", userID))
		return
	}
	a.respondJSON(w, http.StatusOK, entry)
}

func (a *API) handleStocks(w http.ResponseWriter, r *http.Request) {
	quotes, err := a.stocks.List(r.Context())
	if err != nil {
		a.respondErr(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, map[string]any{"stocks": quotes})
}

func (a *API) handleStock(w http.ResponseWriter, r *http.Request) {
	q, err := a.quoter.Quote(r.Context(), mux.Vars(r)["symbol"])
	if err != nil {
		a.respondErr(w, err)
		return
	}
	a.respondJSON(w, http.StatusOK, q)
}

func (a *API) handlePrediction(w http.ResponseWriter, r *http.Request) {
	p := a.predictor.Predict(mux.Vars(r)["symbol"])
	a.respondJSON(w, http.StatusOK, map[string]any{
		"prediction":  p,
		"generatedAt": time.Now().UTC(),
	})
}
