// Package domain defines the core business entities of the exchange
// operations BFF. These models are independent of the remote ledger's
// transport and represent the canonical structures used throughout
// the wizard and terminal flows.
package domain

import (
	"github.com/shopspring/decimal"
)

// ============================================================
// Operation draft (wizard-local, never persisted)
// ============================================================

// Perspective says on which side of the exchange the house stands.
type Perspective string

const (
	PerspectiveCompra Perspective = "compra" // house buys foreign currency
	PerspectiveVenta  Perspective = "venta"  // house sells foreign currency
)

// MethodKind identifies the electronic settlement channel a payment
// method requires, if any.
type MethodKind string

const (
	MethodTransferencia MethodKind = "transferencia"
	MethodBilletera     MethodKind = "billetera"
	MethodEfectivo      MethodKind = "efectivo"
)

// OperationDraft is the client-local description of an intended exchange
// operation. It lives only in memory for the duration of one wizard
// session and is validated before any remote call.
type OperationDraft struct {
	ClientID          string          `json:"cliente"`
	OriginCurrency    string          `json:"divisa_origen"`
	DestCurrency      string          `json:"divisa_destino"`
	Amount            decimal.Decimal `json:"monto"`
	Perspective       Perspective     `json:"perspectiva"`
	MethodInstanceID  string          `json:"instancia_metodo,omitempty"`
	GenericMethodID   string          `json:"metodo_pago,omitempty"`
	TerminalID        string          `json:"tauser,omitempty"`
}

// Validate checks the draft invariants before any remote call is made.
// Validation errors never reach the network layer.
func (d *OperationDraft) Validate() error {
	if d.OriginCurrency == "" {
		return &ErrValidation{Field: "divisa_origen", Message: "requerido"}
	}
	if d.DestCurrency == "" {
		return &ErrValidation{Field: "divisa_destino", Message: "requerido"}
	}
	if d.OriginCurrency == d.DestCurrency {
		return &ErrValidation{Field: "divisa_destino", Message: "debe ser distinta a la divisa de origen"}
	}
	if !d.Amount.IsPositive() {
		return &ErrValidation{Field: "monto", Message: "debe ser positivo"}
	}
	if d.Perspective != PerspectiveCompra && d.Perspective != PerspectiveVenta {
		return &ErrValidation{Field: "perspectiva", Message: "debe ser compra o venta"}
	}
	// Exactly one of the two method references once a method is chosen.
	if d.MethodInstanceID != "" && d.GenericMethodID != "" {
		return &ErrValidation{Field: "metodo_pago", Message: "instancia y método genérico son excluyentes"}
	}
	return nil
}

// HasMethod reports whether a payment method reference has been chosen.
func (d *OperationDraft) HasMethod() bool {
	return d.MethodInstanceID != "" || d.GenericMethodID != ""
}

// ============================================================
// Quote
// ============================================================

// Quote is the immutable priced snapshot the ledger returns for a draft.
// The pricing parameters are carried for display only; the BFF never
// re-derives the rate locally.
type Quote struct {
	Perspective      Perspective     `json:"perspectiva"`
	OriginCurrency   string          `json:"divisa_origen"`
	DestCurrency     string          `json:"divisa_destino"`
	AppliedRate      decimal.Decimal `json:"tasa_aplicada"`
	OriginAmount     decimal.Decimal `json:"monto_origen"`
	DestAmount       decimal.Decimal `json:"monto_destino"`
	CategoryDiscount decimal.Decimal `json:"descuento_categoria"`
	MethodCommission decimal.Decimal `json:"comision_metodo"`
	MethodKind       MethodKind      `json:"tipo_metodo,omitempty"`
}

// RequiresChannel reports whether settling this quote needs the
// electronic payment channel. The house buying foreign currency pays
// out itself, and cash methods settle at a terminal, so neither opens
// a channel.
func (q *Quote) RequiresChannel() bool {
	if q.Perspective == PerspectiveCompra {
		return false
	}
	return q.MethodKind == MethodTransferencia || q.MethodKind == MethodBilletera
}

// ============================================================
// Wizard stages
// ============================================================

// Stage is the orchestrator's position in the wizard state machine.
type Stage string

const (
	StageConfiguration Stage = "configuracion"
	StageQuote         Stage = "cotizacion"
	// StageProcessing is a synchronous micro-stage used only to stagger
	// UI feedback between confirm and receipt. It is never a wait point
	// and never a reconciliation point.
	StageProcessing Stage = "procesando"
	StagePayment    Stage = "pago"
	// StageCounting is the terminal flow's counterpart of the payment
	// stage: physical denominations are counted instead of opening an
	// electronic channel.
	StageCounting Stage = "conteo"
	StageReceipt  Stage = "recibo"
)

// ============================================================
// Rate reconciliation
// ============================================================

// RateCheck is the result of comparing a transaction's applied rate
// against the rate currently in effect. All delta fields are derived,
// present even when Changed is false, so callers never branch on
// missing fields.
type RateCheck struct {
	Changed        bool            `json:"cambio"`
	PreviousRate   decimal.Decimal `json:"tasa_anterior"`
	CurrentRate    decimal.Decimal `json:"tasa_actual"`
	Delta          decimal.Decimal `json:"delta_tc"`
	DeltaPct       decimal.Decimal `json:"delta_pct"`
	PreviousAmount decimal.Decimal `json:"monto_destino_anterior"`
	CurrentAmount  decimal.Decimal `json:"monto_destino_actual"`
}
