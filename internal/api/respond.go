package api

import (
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/STTM-NSU/virtual-trading/internal/ledger"
	"github.com/STTM-NSU/virtual-trading/internal/quote"
	"github.com/bytedance/sonic"
)

const _maxBodyBytes = 1 << 16

var BadRequestError = errors.New("bad request")

const (
	ErrCodeInvalidInput       = "INVALID_INPUT"
	ErrCodeRejected           = "TRADE_REJECTED"
	ErrCodeNotFound           = "NOT_FOUND"
	ErrCodeRateLimited        = "RATE_LIMIT_EXCEEDED"
	ErrCodeServiceUnavailable = "SERVICE_UNAVAILABLE"
	ErrCodeBadGateway         = "QUOTE_PROVIDER_FAILED"
	ErrCodeInternalError      = "INTERNAL_ERROR"
)

type errorBody struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

type errorResponse struct {
	Error errorBody `json:"error"`
}

func (a *API) respondJSON(w http.ResponseWriter, status int, data any) {
	body, err := sonic.Marshal(data)
	if err != nil {
		a.logger.Errorf("%s: can't encode response", err)
		status = http.StatusInternalServerError
		body = []byte(`{"error":{"code":"INTERNAL_ERROR","message":"can't encode response"}}`)
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if _, err := w.Write(body); err != nil {
		a.logger.Debugf("%s: can't write response", err)
	}
}

func (a *API) respondError(w http.ResponseWriter, status int, code, message string) {
	a.respondJSON(w, status, errorResponse{Error: errorBody{Code: code, Message: message}})
}

// respondErr maps ledger and quote failures onto HTTP statuses. Rejections
// carry their human readable message; infrastructure failures are logged and
// reported generically.
func (a *API) respondErr(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, BadRequestError),
		errors.Is(err, ledger.InvalidQuantityError),
		errors.Is(err, ledger.InvalidSymbolError),
		errors.Is(err, ledger.InvalidUserError):
		a.respondError(w, http.StatusBadRequest, ErrCodeInvalidInput, err.Error())
	case errors.Is(err, ledger.InsufficientFundsError),
		errors.Is(err, ledger.InsufficientSharesError):
		a.respondError(w, http.StatusUnprocessableEntity, ErrCodeRejected, err.Error())
	case errors.Is(err, ledger.NoPositionError),
		errors.Is(err, quote.NotFoundError):
		a.respondError(w, http.StatusNotFound, ErrCodeNotFound, err.Error())
	case errors.Is(err, ledger.StoreUnavailableError):
		a.logger.Errorf("%s: store unavailable", err)
		a.respondError(w, http.StatusServiceUnavailable, ErrCodeServiceUnavailable, "portfolio store unavailable, try again later")
	case errors.Is(err, quote.ProviderError):
		a.logger.Warnf("%s: quote provider failed", err)
		a.respondError(w, http.StatusBadGateway, ErrCodeBadGateway, "can't get a price quote right now")
	default:
		a.logger.Errorf("%s: unexpected error", err)
		a.respondError(w, http.StatusInternalServerError, ErrCodeInternalError, "an internal error occurred")
	}
}

// decodeBody reads a JSON body into v. An empty body leaves v untouched and
// reports false.
func decodeBody(w http.ResponseWriter, r *http.Request, v any) (bool, error) {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, _maxBodyBytes))
	if err != nil {
		return false, fmt.Errorf("%w: can't read body: %w", BadRequestError, err)
	}
	if len(body) == 0 {
		return false, nil
	}
	if err := sonic.Unmarshal(body, v); err != nil {
		return false, fmt.Errorf("%w: malformed json body: %w", BadRequestError, err)
	}
	return true, nil
}
