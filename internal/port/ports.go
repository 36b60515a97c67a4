// Package port defines the interfaces (ports) for external dependencies.
// Following hexagonal architecture, these ports decouple the service
// layer from concrete implementations.
package port

import (
	"context"

	"github.com/shopspring/decimal"

	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/domain"
)

// Ledger is the remote transaction ledger. It owns every transaction
// and every rate; the BFF never computes a rate locally.
type Ledger interface {
	// RequestQuote prices a draft. Stateless request/response.
	RequestQuote(ctx context.Context, draft *domain.OperationDraft) (*domain.Quote, error)

	// CreateTransaction opens a transaction in state pendiente.
	CreateTransaction(ctx context.Context, req *CreateTransactionRequest) (*domain.Transaction, error)

	// GetTransaction refreshes the local read model.
	GetTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	// ReconfirmRate asks the ledger whether the applied rate is still
	// current. Idempotent.
	ReconfirmRate(ctx context.Context, id string) (*domain.RateCheck, error)

	// ConfirmPayment settles the transaction. acceptDrift carries the
	// user's explicit consent to a new rate, when one was presented.
	ConfirmPayment(ctx context.Context, id string, termsAccepted, acceptDrift bool) (*domain.Transaction, error)

	// CancelTransaction cancels remotely. The ledger's answer is
	// authoritative; local state is only reset on success.
	CancelTransaction(ctx context.Context, id string) (*domain.Transaction, error)

	// ReceiveCash settles a terminal transaction against a counted cash
	// breakdown. A drift conflict is returned as *domain.ErrDriftPending.
	ReceiveCash(ctx context.Context, id string, req *ReceiveCashRequest) (*domain.Transaction, error)

	// ListCurrencies and ListDenominations are catalog reads.
	ListCurrencies(ctx context.Context) ([]domain.Currency, error)
	ListDenominations(ctx context.Context, currencyID string) ([]domain.Denomination, error)
}

// CreateTransactionRequest is the payload for Ledger.CreateTransaction.
type CreateTransactionRequest struct {
	IdempotencyKey   string             `json:"clave_idempotencia"`
	OperatorID       string             `json:"operador"`
	ClientID         string             `json:"cliente"`
	Perspective      domain.Perspective `json:"perspectiva"`
	InitialRate      decimal.Decimal    `json:"tasa_inicial"`
	AppliedRate      decimal.Decimal    `json:"tasa_aplicada"`
	OriginCurrency   string             `json:"divisa_origen"`
	DestCurrency     string             `json:"divisa_destino"`
	OriginAmount     decimal.Decimal    `json:"monto_origen"`
	DestAmount       decimal.Decimal    `json:"monto_destino"`
	MethodInstanceID string             `json:"instancia_metodo,omitempty"`
	GenericMethodID  string             `json:"metodo_pago,omitempty"`
	TerminalID       string             `json:"tauser,omitempty"`
	State            string             `json:"estado"`
}

// ReceiveCashRequest is the payload for Ledger.ReceiveCash.
type ReceiveCashRequest struct {
	TerminalID  string              `json:"tauser"`
	Details     []domain.CashDetail `json:"detalles"`
	AcceptDrift bool                `json:"acepta_cambio,omitempty"`
}

// ChannelSession is a live subordinate payment context. The bridge owns
// its lifecycle: it reads messages, watches for the context closing,
// and always calls Close.
type ChannelSession interface {
	// Messages yields every message the subordinate context emits,
	// tagged or not. Filtering is the bridge's job.
	Messages() <-chan domain.ChannelMessage

	// Closed is closed when the subordinate context has gone away on
	// its own (the simulated user shut the window).
	Closed() <-chan struct{}

	// Close force-closes the subordinate context. Idempotent.
	Close()
}

// ChannelParams identify the transaction a channel session settles.
// The subordinate context is expected to re-validate them against the
// ledger rather than trust them.
type ChannelParams struct {
	TransactionID string
	Amount        decimal.Decimal
	Currency      string
	MethodKind    domain.MethodKind
}

// ChannelLauncher opens subordinate payment contexts.
type ChannelLauncher interface {
	Launch(ctx context.Context, params ChannelParams) (ChannelSession, error)
}

// Channel runs a payment session to its settle-once outcome. The
// orchestrator consumes this; the bridge implements it on top of a
// ChannelLauncher.
type Channel interface {
	Open(ctx context.Context, params ChannelParams) (domain.ChannelOutcome, error)
}

// Cache provides generic caching with TTL.
type Cache[T any] interface {
	Get(key string) (T, bool)
	Set(key string, value T)
	Delete(key string)
}
