package quote

import (
	"cmp"
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/STTM-NSU/virtual-trading/internal/logger"
	"github.com/STTM-NSU/virtual-trading/internal/metrics"
	"github.com/STTM-NSU/virtual-trading/internal/model"
	"github.com/STTM-NSU/virtual-trading/internal/tools"
	"github.com/shopspring/decimal"
	"go.uber.org/ratelimit"
	"resty.dev/v3"
)

const (
	_httpProvider = "http"
	_queryURL     = "/query"
)

var _priceStep = decimal.New(1, -2)

type HTTPConfig struct {
	BaseURL           string        `yaml:"base_url"`
	APIKey            string        `yaml:"-"`
	RequestsPerMinute int           `yaml:"requests_per_minute"`
	Timeout           time.Duration `yaml:"timeout"`
}

func (c *HTTPConfig) Setup() *HTTPConfig {
	const (
		defaultBaseURL           = "https://www.alphavantage.co"
		defaultRequestsPerMinute = 5
		defaultTimeout           = 10 * time.Second
	)

	c.BaseURL = cmp.Or(c.BaseURL, defaultBaseURL)
	if c.RequestsPerMinute <= 0 {
		c.RequestsPerMinute = defaultRequestsPerMinute
	}
	if c.Timeout <= 0 {
		c.Timeout = defaultTimeout
	}
	return c
}

type globalQuote struct {
	Symbol           string `json:"01. symbol"`
	Price            string `json:"05. price"`
	LatestTradingDay string `json:"07. latest trading day"`
	Change           string `json:"09. change"`
	ChangePercent    string `json:"10. change percent"`
}

// Throttling and bad keys are reported with a 200 and one of the message
// fields set instead of the quote.
type globalQuoteResponse struct {
	GlobalQuote  globalQuote `json:"Global Quote"`
	Note         string      `json:"Note"`
	Information  string      `json:"Information"`
	ErrorMessage string      `json:"Error Message"`
}

type errorResponse struct {
	Message string `json:"message"`
}

// HTTP quotes an Alpha Vantage compatible GLOBAL_QUOTE endpoint.
type HTTP struct {
	c           *resty.Client
	cfg         HTTPConfig
	rateLimiter ratelimit.Limiter
	names       func(symbol string) (string, bool)

	logger logger.Logger
}

// NewHTTP builds the client. names resolves display names, since the quote
// endpoint returns none; it may be nil.
func NewHTTP(cfg HTTPConfig, names func(symbol string) (string, bool), logger logger.Logger) *HTTP {
	client := resty.New().
		SetLogger(logger).
		SetBaseURL(cfg.BaseURL).
		SetTimeout(cfg.Timeout)

	return &HTTP{
		c:           client,
		cfg:         cfg,
		rateLimiter: ratelimit.New(cfg.RequestsPerMinute, ratelimit.Per(time.Minute)),
		names:       names,
		logger:      logger,
	}
}

func (h *HTTP) Close() error {
	return h.c.Close()
}

func (h *HTTP) Quote(ctx context.Context, symbol string) (model.Quote, error) {
	q, err := h.quote(ctx, symbol)
	switch {
	case err == nil:
		metrics.QuoteRequestsTotal.WithLabelValues(_httpProvider, metrics.OutcomeOK).Inc()
	case errors.Is(err, NotFoundError):
		metrics.QuoteRequestsTotal.WithLabelValues(_httpProvider, metrics.OutcomeRejected).Inc()
	default:
		metrics.QuoteRequestsTotal.WithLabelValues(_httpProvider, metrics.OutcomeFailed).Inc()
	}
	return q, err
}

func (h *HTTP) quote(ctx context.Context, symbol string) (model.Quote, error) {
	symbol = normalize(symbol)
	if symbol == "" {
		return model.Quote{}, fmt.Errorf("%w: empty symbol", NotFoundError)
	}

	if err := h.wait(ctx); err != nil {
		return model.Quote{}, fmt.Errorf("%w: waiting for rate limiter: %w", ProviderError, err)
	}

	req := h.c.R().
		SetQueryParams(map[string]string{
			"function": "GLOBAL_QUOTE",
			"symbol":   symbol,
			"apikey":   h.cfg.APIKey,
		}).
		SetResult(&globalQuoteResponse{}).
		SetError(&errorResponse{}).
		SetContext(ctx)

	resp, err := req.Get(_queryURL)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: can't send quote request for %s: %w", ProviderError, symbol, err)
	}
	defer resp.Body.Close()

	h.logger.Debugf("got response %s status: %s, %s", symbol, resp.Status(), resp.Duration())

	if resp.IsError() {
		msg := resp.Status()
		if e, ok := resp.Error().(*errorResponse); ok && e.Message != "" {
			msg = e.Message
		}
		return model.Quote{}, fmt.Errorf("%w: quote request for %s: %s", ProviderError, symbol, msg)
	}
	if !resp.IsSuccess() {
		return model.Quote{}, fmt.Errorf("%w: unexpected quote response: %s", ProviderError, resp.Status())
	}

	body := resp.Result().(*globalQuoteResponse)
	if msg := cmp.Or(body.ErrorMessage, body.Note, body.Information); msg != "" {
		return model.Quote{}, fmt.Errorf("%w: %s", ProviderError, msg)
	}
	if body.GlobalQuote.Symbol == "" || body.GlobalQuote.Price == "" {
		return model.Quote{}, fmt.Errorf("%w: unknown symbol %s", NotFoundError, symbol)
	}

	return h.parse(body.GlobalQuote)
}

// wait blocks until the rate limiter grants a slot or ctx is done. A slot
// granted after ctx is done is spent unused.
func (h *HTTP) wait(ctx context.Context) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	ready := make(chan struct{})
	go func() {
		h.rateLimiter.Take()
		close(ready)
	}()

	select {
	case <-ready:
		return ctx.Err()
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (h *HTTP) parse(g globalQuote) (model.Quote, error) {
	price, err := decimal.NewFromString(g.Price)
	if err != nil {
		return model.Quote{}, fmt.Errorf("%w: bad price %q for %s", ProviderError, g.Price, g.Symbol)
	}
	change, _ := decimal.NewFromString(g.Change)
	changePercent, _ := decimal.NewFromString(strings.TrimSuffix(g.ChangePercent, "%"))

	q := model.Quote{
		Symbol:        normalize(g.Symbol),
		Price:         tools.RoundToStep(price, _priceStep),
		Change:        tools.RoundToStep(change, _priceStep),
		ChangePercent: tools.RoundToStep(changePercent, _priceStep),
		Ts:            time.Now().UTC(),
	}
	if h.names != nil {
		q.Name, _ = h.names(q.Symbol)
	}
	return q, nil
}
