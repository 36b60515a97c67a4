// Package simulator is the stand-in external payment system. Each
// launched session plays the subordinate context of the payment
// channel: it re-validates the transaction against the ledger rather
// than trusting the parameters it was launched with, and reports its
// verdict through the tagged message protocol.
package simulator

import (
	"context"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/domain"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/port"
)

// Mode selects how launched sessions behave.
type Mode string

const (
	// ModeAuto settles after Delay: success, or rate-change when the
	// ledger reports drift during the session's own validation.
	ModeAuto Mode = "auto"
	// ModeSilent never sends a message; the simulated user closes the
	// window after Delay. The bridge must resolve this as cancel.
	ModeSilent Mode = "silent"
)

// Launcher spawns simulated bank/wallet contexts.
type Launcher struct {
	ledger port.Ledger
	mode   Mode
	delay  time.Duration
	logger *zap.Logger
}

// NewLauncher creates a simulator launcher.
func NewLauncher(ledger port.Ledger, mode Mode, delay time.Duration, logger *zap.Logger) *Launcher {
	return &Launcher{ledger: ledger, mode: mode, delay: delay, logger: logger}
}

// Launch starts a subordinate context for the given transaction.
func (l *Launcher) Launch(ctx context.Context, params port.ChannelParams) (port.ChannelSession, error) {
	s := &session{
		msgs:   make(chan domain.ChannelMessage, 1),
		closed: make(chan struct{}),
		stop:   make(chan struct{}),
	}
	go s.run(ctx, l, params)
	return s, nil
}

// session is one live simulated payment context.
type session struct {
	msgs      chan domain.ChannelMessage
	closed    chan struct{}
	stop      chan struct{}
	closeOnce sync.Once
	stopOnce  sync.Once
}

func (s *session) Messages() <-chan domain.ChannelMessage { return s.msgs }
func (s *session) Closed() <-chan struct{}                { return s.closed }

// Close is the bridge force-closing the context. Idempotent.
func (s *session) Close() {
	s.stopOnce.Do(func() { close(s.stop) })
}

// selfClose is the simulated user shutting the window.
func (s *session) selfClose() {
	s.closeOnce.Do(func() { close(s.closed) })
}

// send delivers a message unless the context was already torn down.
func (s *session) send(msg domain.ChannelMessage) {
	select {
	case s.msgs <- msg:
	case <-s.stop:
	}
}

func (s *session) run(ctx context.Context, l *Launcher, params port.ChannelParams) {
	if l.mode == ModeSilent {
		s.waitThen(l.delay, s.selfClose)
		return
	}

	// Re-validate against the ledger. The launch parameters are not
	// trusted: a mismatch means the counterpart refuses to transfer.
	tx, err := l.ledger.GetTransaction(ctx, params.TransactionID)
	if err != nil {
		l.logger.Warn("simulator: could not load transaction, closing",
			zap.String("transaction_id", params.TransactionID),
			zap.Error(err),
		)
		s.selfClose()
		return
	}
	if !tx.OriginAmount.Equal(params.Amount) || tx.OriginCurrency != params.Currency {
		l.logger.Warn("simulator: launch parameters disagree with ledger, closing",
			zap.String("transaction_id", params.TransactionID),
		)
		s.selfClose()
		return
	}

	check, err := l.ledger.ReconfirmRate(ctx, params.TransactionID)
	if err != nil {
		s.selfClose()
		return
	}
	if check.Changed {
		s.waitThen(l.delay, func() {
			s.send(domain.ChannelMessage{
				Kind:   domain.ChannelMessageKind,
				Status: domain.ChannelRateChange,
				Payload: map[string]any{
					"tasa_anterior": check.PreviousRate.String(),
					"tasa_actual":   check.CurrentRate.String(),
				},
			})
		})
		return
	}

	s.waitThen(l.delay, func() {
		s.send(domain.ChannelMessage{
			Kind:   domain.ChannelMessageKind,
			Status: domain.ChannelSuccess,
		})
	})
}

// waitThen runs fn after d unless the context is force-closed first.
func (s *session) waitThen(d time.Duration, fn func()) {
	timer := time.NewTimer(d)
	defer timer.Stop()
	select {
	case <-timer.C:
		fn()
	case <-s.stop:
	}
}
