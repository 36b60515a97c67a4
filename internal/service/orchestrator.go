// Package service provides the business logic layer (use cases): the
// online operation wizard and the terminal cash flow. Both depend on
// the same rate reconciliation engine, so "changed" means exactly the
// same thing in either flow.
package service

import (
	"context"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/domain"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/infra/observability"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/port"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/reconcile"
)

var opTracer = otel.Tracer("service/operation")

// Orchestrator drives one wizard session through
// configuración → cotización → (procesando) → pago → recibo.
//
// The scheduling model is cooperative: each action disables re-entry
// into itself with a submitting guard while its remote calls are in
// flight, and a late response is applied only if the session has not
// been reset or moved to a different transaction in the meantime.
type Orchestrator struct {
	ID         string
	ClientID   string
	OperatorID string

	mu         sync.Mutex
	stage      domain.Stage
	draft      *domain.OperationDraft
	quote      *domain.Quote
	tx         *domain.Transaction
	drift      *domain.RateCheck
	submitting string
	txCreated  bool
	// agreedRate/agreedAmount are the terms the user last consented to:
	// the quote initially, then each accepted drift. Post-channel
	// reconciliation compares fresh ledger rates against these, so an
	// accepted drift does not re-present itself.
	agreedRate   decimal.Decimal
	agreedAmount decimal.Decimal
	driftAgreed  bool
	generation   int

	ledger  port.Ledger
	channel port.Channel
	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewOrchestrator creates a wizard session in the configuration stage.
func NewOrchestrator(clientID, operatorID string, ledger port.Ledger, channel port.Channel, metrics *observability.Metrics, logger *zap.Logger) *Orchestrator {
	return &Orchestrator{
		ID:         uuid.New().String(),
		ClientID:   clientID,
		OperatorID: operatorID,
		stage:      domain.StageConfiguration,
		ledger:     ledger,
		channel:    channel,
		metrics:    metrics,
		logger:     logger,
	}
}

// OperationView is the read-only snapshot handlers render.
type OperationView struct {
	ID          string                 `json:"id"`
	ClientID    string                 `json:"cliente"`
	Stage       domain.Stage           `json:"etapa"`
	Draft       *domain.OperationDraft `json:"borrador,omitempty"`
	Quote       *domain.Quote          `json:"cotizacion,omitempty"`
	Transaction *domain.Transaction    `json:"transaccion,omitempty"`
	Drift       *domain.RateCheck      `json:"cambio_tasa,omitempty"`
	LastOutcome domain.ChannelOutcome  `json:"resultado_canal,omitempty"`
}

// View returns the current snapshot.
func (o *Orchestrator) View() *OperationView {
	o.mu.Lock()
	defer o.mu.Unlock()
	return o.viewLocked("")
}

func (o *Orchestrator) viewLocked(outcome domain.ChannelOutcome) *OperationView {
	return &OperationView{
		ID:          o.ID,
		ClientID:    o.ClientID,
		Stage:       o.stage,
		Draft:       o.draft,
		Quote:       o.quote,
		Transaction: o.tx,
		Drift:       o.drift,
		LastOutcome: outcome,
	}
}

// begin enforces the re-entry guard and stage legality for an action.
// It returns the generation the action belongs to.
func (o *Orchestrator) begin(action string, legal func() bool) (int, error) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.submitting != "" {
		return 0, &domain.ErrSubmissionInFlight{Action: o.submitting}
	}
	if legal != nil && !legal() {
		return 0, &domain.ErrInvalidStage{Action: action, Current: o.stage}
	}
	o.submitting = action
	return o.generation, nil
}

// end clears the guard. apply runs under the lock only when the session
// generation still matches, i.e. the response is still relevant; stale
// results are silently discarded.
func (o *Orchestrator) end(gen int, apply func()) {
	o.mu.Lock()
	defer o.mu.Unlock()

	o.submitting = ""
	if apply != nil && gen == o.generation {
		apply()
	}
}

// resetLocked discards all wizard-local state and returns the session
// to the configuration stage. Callers hold the lock.
func (o *Orchestrator) resetLocked() {
	o.stage = domain.StageConfiguration
	o.draft = nil
	o.quote = nil
	o.tx = nil
	o.drift = nil
	o.txCreated = false
	o.driftAgreed = false
	o.agreedRate = decimal.Zero
	o.agreedAmount = decimal.Zero
	o.generation++
}

// ============================================================
// configure
// ============================================================

// Configure validates the draft and fetches a quote. On remote failure
// the session stays in configuration and the ledger's message reaches
// the caller unchanged; the draft remains retryable.
func (o *Orchestrator) Configure(ctx context.Context, draft *domain.OperationDraft) (*OperationView, error) {
	ctx, span := opTracer.Start(ctx, "Orchestrator.Configure")
	defer span.End()
	span.SetAttributes(attribute.String("operacion.id", o.ID))

	start := time.Now()
	defer func() { o.metrics.RecordStageDuration("configurar", time.Since(start)) }()

	if err := draft.Validate(); err != nil {
		return nil, err
	}
	draft.ClientID = o.ClientID

	gen, err := o.begin("configurar", func() bool {
		return o.stage == domain.StageConfiguration || o.stage == domain.StageQuote
	})
	if err != nil {
		return nil, err
	}

	quote, qErr := o.ledger.RequestQuote(ctx, draft)

	var view *OperationView
	o.end(gen, func() {
		if qErr == nil {
			o.draft = draft
			o.quote = quote
			o.agreedRate = quote.AppliedRate
			o.agreedAmount = quote.DestAmount
			o.stage = domain.StageQuote
		}
		view = o.viewLocked("")
	})
	if qErr != nil {
		o.metrics.IncrLedgerError("cotizaciones")
		return nil, qErr
	}

	o.logger.Info("operation configured",
		zap.String("operation_id", o.ID),
		zap.String("client_id", o.ClientID),
		zap.String("rate", quote.AppliedRate.String()),
	)
	return view, nil
}

// ============================================================
// confirm and pay
// ============================================================

// ConfirmAndPay creates the transaction (at most once per session) and
// either moves to the payment stage or, when no electronic channel is
// required, settles directly through the processing micro-stage.
func (o *Orchestrator) ConfirmAndPay(ctx context.Context) (*OperationView, error) {
	ctx, span := opTracer.Start(ctx, "Orchestrator.ConfirmAndPay")
	defer span.End()
	span.SetAttributes(attribute.String("operacion.id", o.ID))

	start := time.Now()
	defer func() { o.metrics.RecordStageDuration("confirmar", time.Since(start)) }()

	gen, err := o.begin("confirmar", func() bool {
		return o.stage == domain.StageQuote && !o.txCreated
	})
	if err != nil {
		return nil, err
	}

	quote := o.quote
	draft := o.draft
	req := &port.CreateTransactionRequest{
		IdempotencyKey:   uuid.New().String(),
		OperatorID:       o.OperatorID,
		ClientID:         o.ClientID,
		Perspective:      quote.Perspective,
		InitialRate:      quote.AppliedRate,
		AppliedRate:      quote.AppliedRate,
		OriginCurrency:   draft.OriginCurrency,
		DestCurrency:     draft.DestCurrency,
		OriginAmount:     quote.OriginAmount,
		DestAmount:       quote.DestAmount,
		MethodInstanceID: draft.MethodInstanceID,
		GenericMethodID:  draft.GenericMethodID,
		TerminalID:       draft.TerminalID,
		State:            domain.TxPendiente,
	}

	tx, cErr := o.ledger.CreateTransaction(ctx, req)

	needsChannel := quote.RequiresChannel()
	o.end(gen, func() {
		if cErr == nil {
			o.tx = tx
			o.txCreated = true
			if needsChannel {
				o.stage = domain.StagePayment
			} else {
				o.stage = domain.StageProcessing
			}
		}
	})
	if cErr != nil {
		o.metrics.IncrLedgerError("transacciones")
		return nil, cErr
	}

	o.logger.Info("transaction created",
		zap.String("operation_id", o.ID),
		zap.String("transaction_id", tx.ID),
		zap.Bool("needs_channel", needsChannel),
	)

	if needsChannel {
		return o.View(), nil
	}

	// No electronic channel: settle right away. The processing stage is
	// only passed through so the stage history is observable.
	return o.settle(ctx)
}

// ============================================================
// pay
// ============================================================

// Pay runs the payment channel (when the method requires one) and then
// always reconciles the rate before confirming. A channel cancel leaves
// the stage unchanged so the user may retry or cancel.
func (o *Orchestrator) Pay(ctx context.Context) (*OperationView, error) {
	ctx, span := opTracer.Start(ctx, "Orchestrator.Pay")
	defer span.End()
	span.SetAttributes(attribute.String("operacion.id", o.ID))

	start := time.Now()
	defer func() { o.metrics.RecordStageDuration("pagar", time.Since(start)) }()

	gen, err := o.begin("pagar", func() bool {
		return o.stage == domain.StagePayment && o.drift == nil && o.tx != nil
	})
	if err != nil {
		return nil, err
	}

	return o.payLockedOut(ctx, gen)
}

// payLockedOut runs the channel + reconcile sequence. The guard is held
// (submitting set); gen identifies the session generation.
func (o *Orchestrator) payLockedOut(ctx context.Context, gen int) (*OperationView, error) {
	tx := o.tx
	quote := o.quote

	outcome := domain.ChannelSuccess
	if quote.RequiresChannel() {
		var chErr error
		outcome, chErr = o.channel.Open(ctx, port.ChannelParams{
			TransactionID: tx.ID,
			Amount:        tx.OriginAmount,
			Currency:      tx.OriginCurrency,
			MethodKind:    quote.MethodKind,
		})
		o.metrics.IncrChannelOutcome(string(outcome))
		if chErr != nil {
			// Context could not be created at all: treated as cancel
			// with a distinct, visible message.
			o.end(gen, nil)
			return nil, chErr
		}
		if outcome == domain.ChannelCancel {
			// No reconciliation on cancel; the transaction stays
			// pendiente on the ledger and the stage is unchanged.
			var view *OperationView
			o.end(gen, func() { view = o.viewLocked(domain.ChannelCancel) })
			return view, nil
		}
	}

	// success or rate-change: either way the channel only proves the
	// counterpart transfer; the quoted rate is verified with a fresh
	// reconfirm call (a channel drift report is never trusted as-is).
	return o.reconcileAndConfirm(ctx, gen, outcome)
}

// settle is the no-channel settlement used by ConfirmAndPay. The guard
// was released between the create and this call, so stage and
// transaction are re-checked: a cancel landing in the gap must not
// reach the reconcile step.
func (o *Orchestrator) settle(ctx context.Context) (*OperationView, error) {
	gen, err := o.begin("pagar", func() bool {
		return o.stage == domain.StageProcessing && o.tx != nil
	})
	if err != nil {
		return nil, err
	}
	return o.reconcileAndConfirm(ctx, gen, "")
}

// reconcileAndConfirm performs the mandatory pre-confirm rate check and
// either confirms or presents the drift for an explicit decision.
func (o *Orchestrator) reconcileAndConfirm(ctx context.Context, gen int, outcome domain.ChannelOutcome) (*OperationView, error) {
	tx := o.tx
	agreedRate := o.agreedRate
	agreedAmount := o.agreedAmount

	fresh, rErr := o.ledger.ReconfirmRate(ctx, tx.ID)
	o.metrics.IncrReconfirmCall()
	if rErr != nil {
		o.metrics.IncrLedgerError("reconfirmar-tasa")
		o.end(gen, nil)
		return nil, rErr
	}

	// The verdict is computed locally against the terms the user last
	// agreed to, so an already-accepted drift does not loop.
	check := reconcile.Compare(agreedRate, fresh.CurrentRate, agreedAmount, fresh.CurrentAmount)

	if check.Changed {
		o.metrics.IncrDrift("online")
		var view *OperationView
		o.end(gen, func() {
			o.drift = &check
			view = o.viewLocked(outcome)
		})
		o.logger.Info("rate drift presented",
			zap.String("operation_id", o.ID),
			zap.String("transaction_id", tx.ID),
			zap.String("previous_rate", check.PreviousRate.String()),
			zap.String("current_rate", check.CurrentRate.String()),
		)
		return view, nil
	}

	confirmed, cErr := o.ledger.ConfirmPayment(ctx, tx.ID, true, o.driftAgreed)
	if cErr != nil {
		o.metrics.IncrLedgerError("confirmar-pago")
		// The ledger's reported state stands; nothing is assumed and
		// the confirm is not re-submitted.
		o.end(gen, nil)
		return nil, cErr
	}

	var view *OperationView
	o.end(gen, func() {
		o.tx = confirmed
		o.drift = nil
		o.stage = domain.StageReceipt
		view = o.viewLocked(outcome)
	})
	o.logger.Info("operation completed",
		zap.String("operation_id", o.ID),
		zap.String("transaction_id", confirmed.ID),
		zap.String("state", confirmed.State),
	)
	return view, nil
}

// ============================================================
// drift decision
// ============================================================

// AcceptDrift records the user's consent to the new terms, re-runs the
// channel step when one applies (the counterpart must re-confirm under
// the new terms), and confirms. A further drift repeats the cycle; each
// round requires explicit consent and no artificial cap is imposed.
func (o *Orchestrator) AcceptDrift(ctx context.Context) (*OperationView, error) {
	ctx, span := opTracer.Start(ctx, "Orchestrator.AcceptDrift")
	defer span.End()
	span.SetAttributes(attribute.String("operacion.id", o.ID))

	start := time.Now()
	defer func() { o.metrics.RecordStageDuration("aceptar_cambio", time.Since(start)) }()

	gen, err := o.begin("aceptar-cambio", func() bool {
		return o.drift != nil && o.tx != nil
	})
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	check := o.drift
	o.drift = nil
	o.driftAgreed = true
	o.agreedRate = check.CurrentRate
	o.agreedAmount = check.CurrentAmount
	// Display-only mirror: the ledger rewrites these authoritatively at
	// confirm time.
	o.tx.AppliedRate = check.CurrentRate
	o.tx.DestAmount = check.CurrentAmount
	o.mu.Unlock()

	o.logger.Info("rate drift accepted",
		zap.String("operation_id", o.ID),
		zap.String("transaction_id", o.tx.ID),
		zap.String("accepted_rate", check.CurrentRate.String()),
	)

	return o.payLockedOut(ctx, gen)
}

// RejectDrift cancels the transaction remotely and resets the session.
func (o *Orchestrator) RejectDrift(ctx context.Context) (*OperationView, error) {
	ctx, span := opTracer.Start(ctx, "Orchestrator.RejectDrift")
	defer span.End()

	gen, err := o.begin("rechazar-cambio", func() bool {
		return o.drift != nil && o.tx != nil
	})
	if err != nil {
		return nil, err
	}
	return o.cancelRemote(ctx, gen)
}

// ============================================================
// cancel
// ============================================================

// Cancel abandons the session. Once a transaction exists the remote
// cancel is authoritative: on failure the error is surfaced and local
// state is kept, so the UI cannot diverge from ledger reality.
func (o *Orchestrator) Cancel(ctx context.Context) (*OperationView, error) {
	ctx, span := opTracer.Start(ctx, "Orchestrator.Cancel")
	defer span.End()
	span.SetAttributes(attribute.String("operacion.id", o.ID))

	gen, err := o.begin("cancelar", nil)
	if err != nil {
		return nil, err
	}

	o.mu.Lock()
	hasTx := o.tx != nil && !o.tx.IsTerminalState()
	o.mu.Unlock()

	if !hasTx {
		var view *OperationView
		o.end(gen, func() {
			o.resetLocked()
			view = o.viewLocked("")
		})
		return view, nil
	}
	return o.cancelRemote(ctx, gen)
}

func (o *Orchestrator) cancelRemote(ctx context.Context, gen int) (*OperationView, error) {
	tx := o.tx

	cancelled, err := o.ledger.CancelTransaction(ctx, tx.ID)
	if err != nil {
		o.metrics.IncrLedgerError("cancelar")
		o.end(gen, nil)
		o.logger.Warn("remote cancel failed, local state kept",
			zap.String("operation_id", o.ID),
			zap.String("transaction_id", tx.ID),
			zap.Error(err),
		)
		return nil, err
	}

	var view *OperationView
	o.end(gen, func() {
		o.resetLocked()
		view = o.viewLocked("")
	})
	o.logger.Info("operation cancelled",
		zap.String("operation_id", o.ID),
		zap.String("transaction_id", cancelled.ID),
		zap.String("state", cancelled.State),
	)
	return view, nil
}
