// Package ledger provides the REST client for the remote transaction
// ledger. The ledger owns quotes, transactions, and rates; this client
// only moves data and maps failures onto the domain error taxonomy.
package ledger

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"

	"github.com/sony/gobreaker"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/domain"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/infra/resilience"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/port"
)

var tracer = otel.Tracer("ledger")

// Client wraps HTTP calls to the ledger's REST API.
type Client struct {
	httpClient *http.Client
	baseURL    string
	apiToken   string
	cb         *gobreaker.CircuitBreaker
	cfg        resilience.Config
	logger     *zap.Logger
}

// NewClient creates a ledger client.
func NewClient(httpClient *http.Client, baseURL, apiToken string, cb *gobreaker.CircuitBreaker, cfg resilience.Config, logger *zap.Logger) *Client {
	return &Client{
		httpClient: httpClient,
		baseURL:    baseURL,
		apiToken:   apiToken,
		cb:         cb,
		cfg:        cfg,
		logger:     logger,
	}
}

// ledgerError is the ledger's rejection envelope.
type ledgerError struct {
	Detail string `json:"detail"`
	Error  string `json:"error"`
}

func (e *ledgerError) message(raw []byte) string {
	if e.Detail != "" {
		return e.Detail
	}
	if e.Error != "" {
		return e.Error
	}
	return string(raw)
}

// doRequest executes one request against the ledger and maps non-2xx
// responses onto domain errors. It performs no retries itself; retry
// policy is decided per endpoint by the caller.
func (c *Client) doRequest(ctx context.Context, method, path string, payload any) ([]byte, error) {
	var reqBody io.Reader
	if payload != nil {
		encoded, err := json.Marshal(payload)
		if err != nil {
			return nil, err
		}
		reqBody = bytes.NewReader(encoded)
	}

	url := fmt.Sprintf("%s/%s", c.baseURL, path)
	req, err := http.NewRequestWithContext(ctx, method, url, reqBody)
	if err != nil {
		c.logger.Error("ledger: failed to create request",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	req.Header.Set("Content-Type", "application/json")
	if c.apiToken != "" {
		req.Header.Set("Authorization", fmt.Sprintf("Bearer %s", c.apiToken))
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		c.logger.Error("ledger: request failed",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		if errors.Is(err, context.DeadlineExceeded) {
			return nil, &domain.ErrTimeout{Operation: fmt.Sprintf("%s %s", method, path)}
		}
		return nil, err
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		c.logger.Error("ledger: failed to read response body",
			zap.String("method", method),
			zap.String("path", path),
			zap.Error(err),
		)
		return nil, err
	}

	switch {
	case resp.StatusCode >= 200 && resp.StatusCode < 300:
		c.logger.Debug("ledger: request OK",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return body, nil

	case resp.StatusCode == http.StatusNotFound:
		return nil, &domain.ErrNotFound{Resource: "ledger resource", ID: path}

	case resp.StatusCode == http.StatusConflict:
		// recibir-efectivo reports rate drift as a 409 carrying the
		// reconfirm shape. Other conflicts keep the ledger's text.
		var check domain.RateCheck
		if jsonErr := json.Unmarshal(body, &check); jsonErr == nil && check.Changed {
			return nil, &domain.ErrDriftPending{Check: &check}
		}
		var le ledgerError
		_ = json.Unmarshal(body, &le)
		return nil, &domain.ErrConflict{Message: le.message(body)}

	case resp.StatusCode >= 400 && resp.StatusCode < 500:
		var le ledgerError
		_ = json.Unmarshal(body, &le)
		c.logger.Warn("ledger: rejection",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
		)
		return nil, &domain.ErrRemoteRejected{Endpoint: path, Status: resp.StatusCode, Message: le.message(body)}

	default:
		c.logger.Warn("ledger: non-2xx response",
			zap.String("method", method),
			zap.String("path", path),
			zap.Int("status", resp.StatusCode),
			zap.String("body", string(body)),
		)
		return nil, fmt.Errorf("ledger returned status %d: %s", resp.StatusCode, string(body))
	}
}

// execute runs fn through the circuit breaker and normalizes breaker
// failures onto the domain taxonomy.
func (c *Client) execute(fn func() error) error {
	_, err := c.cb.Execute(func() (any, error) {
		return nil, fn()
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return &domain.ErrCircuitOpen{Service: "ledger"}
	}
	return err
}

// retryable reports whether an error is worth retrying on an idempotent
// endpoint. Ledger rejections are final; every retry of those is
// user-initiated.
func retryable(err error) bool {
	var rejected *domain.ErrRemoteRejected
	var notFound *domain.ErrNotFound
	var drift *domain.ErrDriftPending
	var conflict *domain.ErrConflict
	return !errors.As(err, &rejected) && !errors.As(err, &notFound) &&
		!errors.As(err, &drift) && !errors.As(err, &conflict)
}

// getWithRetry wraps an idempotent GET in breaker + backoff.
func (c *Client) getWithRetry(ctx context.Context, path string, out any) error {
	return c.execute(func() error {
		var lastErr error
		err := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := c.doRequest(ctx, http.MethodGet, path, nil)
			if err != nil {
				if !retryable(err) {
					lastErr = err
					return nil // stop retrying, surface lastErr below
				}
				return err
			}
			lastErr = nil
			return json.Unmarshal(body, out)
		})
		if err != nil {
			return err
		}
		return lastErr
	})
}

// mutate submits a mutating call exactly once through the breaker.
func (c *Client) mutate(ctx context.Context, method, path string, payload, out any) error {
	return c.execute(func() error {
		body, err := c.doRequest(ctx, method, path, payload)
		if err != nil {
			return err
		}
		if out == nil {
			return nil
		}
		return json.Unmarshal(body, out)
	})
}

// ============================================================
// port.Ledger implementation
// ============================================================

// RequestQuote prices a draft. Quoting is read-shaped and safe to
// retry even though it travels as a POST.
func (c *Client) RequestQuote(ctx context.Context, draft *domain.OperationDraft) (*domain.Quote, error) {
	ctx, span := tracer.Start(ctx, "Ledger.RequestQuote")
	defer span.End()
	span.SetAttributes(
		attribute.String("divisa.origen", draft.OriginCurrency),
		attribute.String("divisa.destino", draft.DestCurrency),
	)

	var quote domain.Quote
	err := c.execute(func() error {
		var lastErr error
		err := resilience.RetryWithBackoff(ctx, c.cfg, func() error {
			body, err := c.doRequest(ctx, http.MethodPost, "cotizaciones/", draft)
			if err != nil {
				if !retryable(err) {
					lastErr = err
					return nil
				}
				return err
			}
			lastErr = nil
			return json.Unmarshal(body, &quote)
		})
		if err != nil {
			return err
		}
		return lastErr
	})
	if err != nil {
		return nil, wrapTransport("cotizaciones", err)
	}
	return &quote, nil
}

// CreateTransaction opens a transaction in state pendiente. Submitted
// exactly once; the idempotency key protects against wire duplicates.
func (c *Client) CreateTransaction(ctx context.Context, req *port.CreateTransactionRequest) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Ledger.CreateTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("cliente.id", req.ClientID))

	var tx domain.Transaction
	if err := c.mutate(ctx, http.MethodPost, "transacciones/", req, &tx); err != nil {
		return nil, wrapTransport("transacciones", err)
	}
	return &tx, nil
}

// GetTransaction refreshes the local read model.
func (c *Client) GetTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Ledger.GetTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaccion.id", id))

	var tx domain.Transaction
	if err := c.getWithRetry(ctx, fmt.Sprintf("transacciones/%s/", id), &tx); err != nil {
		return nil, wrapTransport("transacciones", err)
	}
	return &tx, nil
}

// ReconfirmRate asks the ledger whether the applied rate still holds.
func (c *Client) ReconfirmRate(ctx context.Context, id string) (*domain.RateCheck, error) {
	ctx, span := tracer.Start(ctx, "Ledger.ReconfirmRate")
	defer span.End()
	span.SetAttributes(attribute.String("transaccion.id", id))

	var check domain.RateCheck
	if err := c.getWithRetry(ctx, fmt.Sprintf("transacciones/%s/reconfirmar-tasa/", id), &check); err != nil {
		return nil, wrapTransport("reconfirmar-tasa", err)
	}
	return &check, nil
}

// ConfirmPayment settles the transaction. Never auto-retried: the
// orchestrator must not double-submit a confirm.
func (c *Client) ConfirmPayment(ctx context.Context, id string, termsAccepted, acceptDrift bool) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Ledger.ConfirmPayment")
	defer span.End()
	span.SetAttributes(
		attribute.String("transaccion.id", id),
		attribute.Bool("acepta_cambio", acceptDrift),
	)

	payload := map[string]any{"terminos_aceptados": termsAccepted}
	if acceptDrift {
		payload["acepta_cambio"] = true
	}

	var tx domain.Transaction
	if err := c.mutate(ctx, http.MethodPatch, fmt.Sprintf("transacciones/%s/confirmar-pago/", id), payload, &tx); err != nil {
		return nil, wrapTransport("confirmar-pago", err)
	}
	return &tx, nil
}

// CancelTransaction cancels remotely. The response is authoritative.
func (c *Client) CancelTransaction(ctx context.Context, id string) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Ledger.CancelTransaction")
	defer span.End()
	span.SetAttributes(attribute.String("transaccion.id", id))

	var tx domain.Transaction
	if err := c.mutate(ctx, http.MethodPatch, fmt.Sprintf("transacciones/%s/cancelar/", id), nil, &tx); err != nil {
		return nil, wrapTransport("cancelar", err)
	}
	return &tx, nil
}

// ReceiveCash settles a terminal transaction against a counted cash
// breakdown. A 409 drift conflict surfaces as *domain.ErrDriftPending.
func (c *Client) ReceiveCash(ctx context.Context, id string, req *port.ReceiveCashRequest) (*domain.Transaction, error) {
	ctx, span := tracer.Start(ctx, "Ledger.ReceiveCash")
	defer span.End()
	span.SetAttributes(
		attribute.String("transaccion.id", id),
		attribute.String("tauser", req.TerminalID),
	)

	var tx domain.Transaction
	if err := c.mutate(ctx, http.MethodPost, fmt.Sprintf("transacciones/%s/recibir-efectivo/", id), req, &tx); err != nil {
		return nil, wrapTransport("recibir-efectivo", err)
	}
	return &tx, nil
}

// ListCurrencies fetches the currency catalog.
func (c *Client) ListCurrencies(ctx context.Context) ([]domain.Currency, error) {
	ctx, span := tracer.Start(ctx, "Ledger.ListCurrencies")
	defer span.End()

	var currencies []domain.Currency
	if err := c.getWithRetry(ctx, "divisas/", &currencies); err != nil {
		return nil, wrapTransport("divisas", err)
	}
	return currencies, nil
}

// ListDenominations fetches the denomination catalog for a currency.
func (c *Client) ListDenominations(ctx context.Context, currencyID string) ([]domain.Denomination, error) {
	ctx, span := tracer.Start(ctx, "Ledger.ListDenominations")
	defer span.End()
	span.SetAttributes(attribute.String("divisa.id", currencyID))

	var denominations []domain.Denomination
	if err := c.getWithRetry(ctx, fmt.Sprintf("divisas/%s/denominaciones/", currencyID), &denominations); err != nil {
		return nil, wrapTransport("denominaciones", err)
	}
	return denominations, nil
}

// wrapTransport keeps domain-level errors as they are and tags raw
// transport failures with the service name. Ledger rejections must
// reach the user verbatim, so they are never re-wrapped.
func wrapTransport(endpoint string, err error) error {
	var rejected *domain.ErrRemoteRejected
	var notFound *domain.ErrNotFound
	var drift *domain.ErrDriftPending
	var conflict *domain.ErrConflict
	var circuitOpen *domain.ErrCircuitOpen
	var timeout *domain.ErrTimeout
	if errors.As(err, &rejected) || errors.As(err, &notFound) ||
		errors.As(err, &drift) || errors.As(err, &conflict) ||
		errors.As(err, &circuitOpen) || errors.As(err, &timeout) {
		return err
	}
	return &domain.ErrExternalService{Service: "ledger/" + endpoint, Err: err}
}
