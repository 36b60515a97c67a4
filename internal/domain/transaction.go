package domain

import (
	"time"

	"github.com/shopspring/decimal"
)

// ============================================================
// Transaction (ledger-owned, mirrored locally as a read model)
// ============================================================

// Transaction states as the ledger reports them.
const (
	TxPendiente  = "pendiente"
	TxEnProceso  = "en_proceso"
	TxCompletada = "completada"
	TxCancelada  = "cancelada"
)

// Transaction is the ledger's durable record of an accepted operation.
// The BFF only reads it; every mutation goes through a ledger endpoint
// and the local copy is refreshed from the response.
type Transaction struct {
	ID               string          `json:"id"`
	ClientID         string          `json:"cliente"`
	OperatorID       string          `json:"operador"`
	Perspective      Perspective     `json:"perspectiva"`
	InitialRate      decimal.Decimal `json:"tasa_inicial"`
	AppliedRate      decimal.Decimal `json:"tasa_aplicada"`
	OriginCurrency   string          `json:"divisa_origen"`
	DestCurrency     string          `json:"divisa_destino"`
	OriginAmount     decimal.Decimal `json:"monto_origen"`
	DestAmount       decimal.Decimal `json:"monto_destino"`
	State            string          `json:"estado"`
	MethodInstanceID string          `json:"instancia_metodo,omitempty"`
	GenericMethodID  string          `json:"metodo_pago,omitempty"`
	MethodKind       MethodKind      `json:"tipo_metodo,omitempty"`
	TerminalID       string          `json:"tauser,omitempty"`
	CreatedAt        time.Time       `json:"fecha_creacion"`
	UpdatedAt        time.Time       `json:"fecha_actualizacion"`
}

// IsTerminalState reports whether the transaction can no longer change.
func (t *Transaction) IsTerminalState() bool {
	return t.State == TxCompletada || t.State == TxCancelada
}

// CanTransition validates the ledger's legal state transitions.
// pendiente → en_proceso → completada, with cancelada reachable from
// the two non-terminal states. Terminal states absorb.
func CanTransition(from, to string) bool {
	switch from {
	case TxPendiente:
		return to == TxEnProceso || to == TxCancelada
	case TxEnProceso:
		return to == TxCompletada || to == TxCancelada
	default:
		return false
	}
}
