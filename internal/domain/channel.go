package domain

// ============================================================
// Payment channel (cross-context message contract)
// ============================================================

// ChannelMessageKind tags every message the payment simulator emits.
// Messages with any other kind are ignored, not treated as an outcome.
const ChannelMessageKind = "simulador-transferencia-bancaria"

// ChannelOutcome is the settle-once result of a payment channel session.
type ChannelOutcome string

const (
	ChannelSuccess    ChannelOutcome = "success"
	ChannelCancel     ChannelOutcome = "cancel"
	ChannelRateChange ChannelOutcome = "rate-change"
)

// ChannelMessage is the typed message exchanged with the subordinate
// payment context.
type ChannelMessage struct {
	Kind    string         `json:"kind"`
	Status  ChannelOutcome `json:"status"`
	Payload map[string]any `json:"payload,omitempty"`
}

// Valid reports whether the message carries the fixed channel tag and a
// known status. Untagged or malformed messages never settle a session.
func (m *ChannelMessage) Valid() bool {
	if m.Kind != ChannelMessageKind {
		return false
	}
	switch m.Status {
	case ChannelSuccess, ChannelCancel, ChannelRateChange:
		return true
	}
	return false
}
