// Package api exposes the ledger, leaderboard, quotes and predictions over
// HTTP with explicit request/response calls.
package api

import (
	"net/http"
	"runtime/debug"
	"time"

	"github.com/STTM-NSU/virtual-trading/internal/leaderboard"
	"github.com/STTM-NSU/virtual-trading/internal/ledger"
	"github.com/STTM-NSU/virtual-trading/internal/logger"
	"github.com/STTM-NSU/virtual-trading/internal/predictor"
	"github.com/STTM-NSU/virtual-trading/internal/quote"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type RateLimit struct {
	PerSecond float64
	Burst     int
}

type API struct {
	router *mux.Router

	engine    *ledger.Engine
	ranker    *leaderboard.Ranker
	quoter    quote.Quoter
	stocks    quote.Lister
	predictor *predictor.Mock
	limiter   *tradeLimiter

	logger logger.Logger
}

// New wires the routes. quoter prices trades that arrive without a price;
// stocks backs the stock listing.
func New(
	engine *ledger.Engine,
	ranker *leaderboard.Ranker,
	quoter quote.Quoter,
	stocks quote.Lister,
	predictor *predictor.Mock,
	limit RateLimit,
	logger logger.Logger,
) *API {
	a := &API{
		router:    mux.NewRouter(),
		engine:    engine,
		ranker:    ranker,
		quoter:    quoter,
		stocks:    stocks,
		predictor: predictor,
		limiter:   newTradeLimiter(limit.PerSecond, limit.Burst),
		logger:    logger,
	}
	a.routes()
	return a
}

func (a *API) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	a.router.ServeHTTP(w, r)
}

func (a *API) routes() {
	a.router.Use(a.recovery, a.logging)

	a.router.HandleFunc("/health", a.handleHealth).Methods(http.MethodGet)
	a.router.Handle("/metrics", promhttp.Handler()).Methods(http.MethodGet)

	api := a.router.PathPrefix("/api").Subrouter()

	api.HandleFunc("/portfolios/{userID}", a.handleGetPortfolio).Methods(http.MethodGet)
	api.HandleFunc("/portfolios/{userID}/buy", a.rateLimited(a.handleBuy)).Methods(http.MethodPost)
	api.HandleFunc("/portfolios/{userID}/sell", a.rateLimited(a.handleSell)).Methods(http.MethodPost)
	api.HandleFunc("/portfolios/{userID}/refresh", a.handleRefresh).Methods(http.MethodPost)
	api.HandleFunc("/portfolios/{userID}/transactions", a.handleTransactions).Methods(http.MethodGet)

	api.HandleFunc("/leaderboard", a.handleLeaderboard).Methods(http.MethodGet)
	api.HandleFunc("/leaderboard/{userID}", a.handleLeaderboardPosition).Methods(http.MethodGet)

	api.HandleFunc("/stocks", a.handleStocks).Methods(http.MethodGet)
	api.HandleFunc("/stocks/{symbol}", a.handleStock).Methods(http.MethodGet)
	api.HandleFunc("/stocks/{symbol}/prediction", a.handlePrediction).Methods(http.MethodGet)
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (a *API) logging(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		a.logger.Debugf("%s %s %d %s", r.Method, r.URL.Path, rec.status, time.Since(start))
	})
}

func (a *API) recovery(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			if p := recover(); p != nil {
				a.logger.Errorf("panic serving %s %s: %v\n%s", r.Method, r.URL.Path, p, debug.Stack())
				a.respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "an internal error occurred")
			}
		}()
		next.ServeHTTP(w, r)
	})
}
