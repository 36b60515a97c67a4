package service

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"
	"golang.org/x/crypto/bcrypt"
	"golang.org/x/sync/errgroup"

	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/domain"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/infra/observability"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/port"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/reconcile"
)

var terminalTracer = otel.Tracer("service/terminal")

// TerminalService owns walk-up kiosk sessions. The flow is the
// structural counterpart of the online wizard: cash counting replaces
// the electronic channel, and the same reconciliation engine decides
// what counts as a rate change.
type TerminalService struct {
	ledger     port.Ledger
	denomCache port.Cache[[]domain.Denomination]
	pinHash    string

	mu       sync.Mutex
	sessions map[string]*TerminalSession

	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewTerminalService creates the kiosk service. pinHash is the bcrypt
// hash the operator PIN is checked against before a session opens.
func NewTerminalService(ledger port.Ledger, denomCache port.Cache[[]domain.Denomination], pinHash string, metrics *observability.Metrics, logger *zap.Logger) *TerminalService {
	return &TerminalService{
		ledger:     ledger,
		denomCache: denomCache,
		pinHash:    pinHash,
		sessions:   make(map[string]*TerminalSession),
		metrics:    metrics,
		logger:     logger,
	}
}

// Start opens a kiosk session after checking the operator PIN.
func (s *TerminalService) Start(ctx context.Context, terminalID, operatorPIN, clientID string) (*TerminalView, error) {
	_, span := terminalTracer.Start(ctx, "TerminalService.Start")
	defer span.End()
	span.SetAttributes(attribute.String("tauser", terminalID))

	if terminalID == "" {
		return nil, &domain.ErrValidation{Field: "tauser", Message: "requerido"}
	}
	if err := bcrypt.CompareHashAndPassword([]byte(s.pinHash), []byte(operatorPIN)); err != nil {
		s.logger.Warn("terminal: PIN rejected", zap.String("tauser", terminalID))
		return nil, &domain.ErrUnauthorized{Message: "PIN de operador inválido"}
	}

	session := &TerminalSession{
		ID:         uuid.New().String(),
		TerminalID: terminalID,
		ClientID:   clientID,
		stage:      domain.StageConfiguration,
		svc:        s,
	}

	s.mu.Lock()
	s.sessions[session.ID] = session
	s.mu.Unlock()

	s.logger.Info("terminal session started",
		zap.String("session_id", session.ID),
		zap.String("tauser", terminalID),
	)
	return session.View(), nil
}

// Get finds a live kiosk session.
func (s *TerminalService) Get(id string) (*TerminalSession, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	session, ok := s.sessions[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "sesión de terminal", ID: id}
	}
	return session, nil
}

// Discard removes a finished or abandoned session.
func (s *TerminalService) Discard(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// Denominations returns the cash denomination catalog for a currency.
func (s *TerminalService) Denominations(ctx context.Context, currencyID string) ([]domain.Denomination, error) {
	return s.denominations(ctx, currencyID)
}

// denominations is a cached read of the ledger catalog per currency.
func (s *TerminalService) denominations(ctx context.Context, currencyID string) ([]domain.Denomination, error) {
	if catalog, ok := s.denomCache.Get(currencyID); ok {
		s.metrics.IncrCacheHit("denominaciones")
		return catalog, nil
	}
	s.metrics.IncrCacheMiss("denominaciones")

	catalog, err := s.ledger.ListDenominations(ctx, currencyID)
	if err != nil {
		s.metrics.IncrLedgerError("denominaciones")
		return nil, err
	}
	s.denomCache.Set(currencyID, catalog)
	return catalog, nil
}

// ============================================================
// Session
// ============================================================

// TerminalSession drives one walk-up operation:
// configuración → cotización → conteo → recibo.
type TerminalSession struct {
	ID         string
	TerminalID string
	ClientID   string

	mu         sync.Mutex
	stage      domain.Stage
	draft      *domain.OperationDraft
	quote      *domain.Quote
	tx         *domain.Transaction
	count      *domain.CashCount
	catalog    []domain.Denomination
	drift      *domain.RateCheck
	submitting string

	agreedRate   decimal.Decimal
	agreedAmount decimal.Decimal
	driftAgreed  bool

	svc *TerminalService
}

// TerminalView is the kiosk snapshot handlers render.
type TerminalView struct {
	ID          string                `json:"id"`
	TerminalID  string                `json:"tauser"`
	Stage       domain.Stage          `json:"etapa"`
	Quote       *domain.Quote         `json:"cotizacion,omitempty"`
	Transaction *domain.Transaction   `json:"transaccion,omitempty"`
	Catalog     []domain.Denomination `json:"denominaciones,omitempty"`
	Total       decimal.Decimal       `json:"total_contado"`
	CanConfirm  bool                  `json:"puede_confirmar"`
	Drift       *domain.RateCheck     `json:"cambio_tasa,omitempty"`
}

// View returns the current snapshot.
func (t *TerminalSession) View() *TerminalView {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.viewLocked()
}

func (t *TerminalSession) viewLocked() *TerminalView {
	view := &TerminalView{
		ID:          t.ID,
		TerminalID:  t.TerminalID,
		Stage:       t.stage,
		Quote:       t.quote,
		Transaction: t.tx,
		Total:       decimal.Zero,
		Drift:       t.drift,
	}
	if t.count != nil {
		view.Total = t.count.Total()
		if t.tx != nil {
			view.CanConfirm = t.count.Matches(t.tx.OriginAmount) && t.drift == nil
		}
	}
	view.Catalog = t.catalog
	return view
}

func (t *TerminalSession) begin(action string, legal func() bool) error {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.submitting != "" {
		return &domain.ErrSubmissionInFlight{Action: t.submitting}
	}
	if legal != nil && !legal() {
		return &domain.ErrInvalidStage{Action: action, Current: t.stage}
	}
	t.submitting = action
	return nil
}

func (t *TerminalSession) end(apply func()) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.submitting = ""
	if apply != nil {
		apply()
	}
}

// Configure validates the draft and quotes it. Terminal operations
// always settle in cash at this kiosk.
func (t *TerminalSession) Configure(ctx context.Context, draft *domain.OperationDraft) (*TerminalView, error) {
	ctx, span := terminalTracer.Start(ctx, "TerminalSession.Configure")
	defer span.End()
	span.SetAttributes(attribute.String("sesion.id", t.ID))

	start := time.Now()
	defer func() { t.svc.metrics.RecordStageDuration("terminal_configurar", time.Since(start)) }()

	draft.TerminalID = t.TerminalID
	draft.ClientID = t.ClientID
	if err := draft.Validate(); err != nil {
		return nil, err
	}

	if err := t.begin("configurar", func() bool {
		return (t.stage == domain.StageConfiguration || t.stage == domain.StageQuote) && t.tx == nil
	}); err != nil {
		return nil, err
	}

	quote, qErr := t.svc.ledger.RequestQuote(ctx, draft)

	var view *TerminalView
	t.end(func() {
		if qErr == nil {
			t.draft = draft
			t.quote = quote
			t.agreedRate = quote.AppliedRate
			t.agreedAmount = quote.DestAmount
			t.stage = domain.StageQuote
		}
		view = t.viewLocked()
	})
	if qErr != nil {
		t.svc.metrics.IncrLedgerError("cotizaciones")
		return nil, qErr
	}
	return view, nil
}

// ConfirmAndPay creates the transaction and enters the counting stage,
// loading the denomination catalog and the transaction detail together.
// When the loads fail the session stays in the quote stage with the
// created transaction; retrying re-runs only the loads.
func (t *TerminalSession) ConfirmAndPay(ctx context.Context) (*TerminalView, error) {
	ctx, span := terminalTracer.Start(ctx, "TerminalSession.ConfirmAndPay")
	defer span.End()
	span.SetAttributes(attribute.String("sesion.id", t.ID))

	start := time.Now()
	defer func() { t.svc.metrics.RecordStageDuration("terminal_confirmar", time.Since(start)) }()

	if err := t.begin("confirmar", func() bool {
		return t.stage == domain.StageQuote
	}); err != nil {
		return nil, err
	}

	quote := t.quote
	draft := t.draft
	tx := t.tx

	if tx == nil {
		req := &port.CreateTransactionRequest{
			IdempotencyKey:  uuid.New().String(),
			ClientID:        t.ClientID,
			Perspective:     quote.Perspective,
			InitialRate:     quote.AppliedRate,
			AppliedRate:     quote.AppliedRate,
			OriginCurrency:  draft.OriginCurrency,
			DestCurrency:    draft.DestCurrency,
			OriginAmount:    quote.OriginAmount,
			DestAmount:      quote.DestAmount,
			GenericMethodID: draft.GenericMethodID,
			TerminalID:      t.TerminalID,
			State:           domain.TxPendiente,
		}

		created, cErr := t.svc.ledger.CreateTransaction(ctx, req)
		if cErr != nil {
			t.svc.metrics.IncrLedgerError("transacciones")
			t.end(nil)
			return nil, cErr
		}
		tx = created
	}

	// Catalog and transaction detail load in parallel; the detail
	// refresh picks up any ledger-side normalization of the amounts.
	var (
		catalog []domain.Denomination
		detail  *domain.Transaction
	)
	g, gCtx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		catalog, err = t.svc.denominations(gCtx, draft.OriginCurrency)
		return err
	})
	g.Go(func() error {
		var err error
		detail, err = t.svc.ledger.GetTransaction(gCtx, tx.ID)
		return err
	})
	if gErr := g.Wait(); gErr != nil {
		// The transaction exists on the ledger; keep it in the quote
		// stage so the next confirm skips the create and re-runs the
		// loads.
		t.end(func() { t.tx = tx })
		return nil, gErr
	}

	var view *TerminalView
	t.end(func() {
		t.tx = detail
		t.catalog = catalog
		t.count = domain.NewCashCount(catalog)
		t.stage = domain.StageCounting
		view = t.viewLocked()
	})

	t.svc.logger.Info("terminal transaction created",
		zap.String("session_id", t.ID),
		zap.String("transaction_id", detail.ID),
		zap.String("expected", detail.OriginAmount.String()),
	)
	return view, nil
}

// SetCount records a quantity for one denomination and returns the
// updated totals.
func (t *TerminalSession) SetCount(denominationID string, quantity int) (*TerminalView, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.stage != domain.StageCounting || t.count == nil {
		return nil, &domain.ErrInvalidStage{Action: "contar", Current: t.stage}
	}
	if err := t.count.Set(denominationID, quantity); err != nil {
		return nil, err
	}
	return t.viewLocked(), nil
}

// Confirm settles the transaction against the counted cash. It is
// unreachable unless the counted total equals the expected amount
// exactly. A drift conflict from the ledger is presented for an
// explicit decision, exactly as the online flow presents its own.
func (t *TerminalSession) Confirm(ctx context.Context) (*TerminalView, error) {
	ctx, span := terminalTracer.Start(ctx, "TerminalSession.Confirm")
	defer span.End()
	span.SetAttributes(attribute.String("sesion.id", t.ID))

	start := time.Now()
	defer func() { t.svc.metrics.RecordStageDuration("terminal_recibir", time.Since(start)) }()

	if err := t.begin("recibir-efectivo", func() bool {
		return t.stage == domain.StageCounting && t.drift == nil && t.tx != nil && t.count != nil
	}); err != nil {
		return nil, err
	}

	t.mu.Lock()
	expected := t.tx.OriginAmount
	matches := t.count.Matches(expected)
	counted := t.count.Total()
	details := t.count.Details()
	txID := t.tx.ID
	t.mu.Unlock()

	if !matches {
		t.end(nil)
		return nil, &domain.ErrCashMismatch{Expected: expected.String(), Counted: counted.String()}
	}

	return t.receive(ctx, txID, details, t.driftAgreed)
}

// receive performs the recibir-efectivo call and routes a 409 drift
// through the shared reconciliation engine.
func (t *TerminalSession) receive(ctx context.Context, txID string, details []domain.CashDetail, acceptDrift bool) (*TerminalView, error) {
	tx, err := t.svc.ledger.ReceiveCash(ctx, txID, &port.ReceiveCashRequest{
		TerminalID:  t.TerminalID,
		Details:     details,
		AcceptDrift: acceptDrift,
	})
	if err != nil {
		var driftErr *domain.ErrDriftPending
		if errors.As(err, &driftErr) {
			return t.presentDrift(ctx, txID, details, driftErr.Check)
		}
		t.svc.metrics.IncrLedgerError("recibir-efectivo")
		t.end(nil)
		return nil, err
	}

	var view *TerminalView
	t.end(func() {
		t.tx = tx
		t.drift = nil
		t.stage = domain.StageReceipt
		view = t.viewLocked()
	})
	t.svc.logger.Info("terminal operation completed",
		zap.String("session_id", t.ID),
		zap.String("transaction_id", tx.ID),
		zap.String("state", tx.State),
	)
	return view, nil
}

// presentDrift decides whether the ledger's conflict is news to the
// user. The verdict comes from the same engine as the online flow: a
// conflict matching already-accepted terms is resent with consent, a
// genuinely new rate is presented.
func (t *TerminalSession) presentDrift(ctx context.Context, txID string, details []domain.CashDetail, check *domain.RateCheck) (*TerminalView, error) {
	verdict := reconcile.Compare(t.agreedRate, check.CurrentRate, t.agreedAmount, check.CurrentAmount)
	if !verdict.Changed && t.driftAgreed {
		return t.receive(ctx, txID, details, true)
	}

	t.svc.metrics.IncrDrift("terminal")
	var view *TerminalView
	t.end(func() {
		t.drift = &verdict
		view = t.viewLocked()
	})
	t.svc.logger.Info("terminal rate drift presented",
		zap.String("session_id", t.ID),
		zap.String("transaction_id", txID),
		zap.String("previous_rate", verdict.PreviousRate.String()),
		zap.String("current_rate", verdict.CurrentRate.String()),
	)
	return view, nil
}

// AcceptDrift consents to the presented rate and retries settlement
// under the new terms.
func (t *TerminalSession) AcceptDrift(ctx context.Context) (*TerminalView, error) {
	ctx, span := terminalTracer.Start(ctx, "TerminalSession.AcceptDrift")
	defer span.End()

	if err := t.begin("aceptar-cambio", func() bool {
		return t.drift != nil && t.tx != nil
	}); err != nil {
		return nil, err
	}

	t.mu.Lock()
	check := t.drift
	t.drift = nil
	t.driftAgreed = true
	t.agreedRate = check.CurrentRate
	t.agreedAmount = check.CurrentAmount
	t.tx.AppliedRate = check.CurrentRate
	t.tx.DestAmount = check.CurrentAmount
	details := t.count.Details()
	txID := t.tx.ID
	t.mu.Unlock()

	t.svc.logger.Info("terminal rate drift accepted",
		zap.String("session_id", t.ID),
		zap.String("transaction_id", txID),
		zap.String("accepted_rate", check.CurrentRate.String()),
	)
	return t.receive(ctx, txID, details, true)
}

// RejectDrift cancels the transaction remotely and discards the count.
func (t *TerminalSession) RejectDrift(ctx context.Context) (*TerminalView, error) {
	ctx, span := terminalTracer.Start(ctx, "TerminalSession.RejectDrift")
	defer span.End()

	if err := t.begin("rechazar-cambio", func() bool {
		return t.drift != nil && t.tx != nil
	}); err != nil {
		return nil, err
	}
	return t.cancelRemote(ctx)
}

// Cancel abandons the session before confirmation. The remote cancel is
// authoritative; on failure the local counts are kept.
func (t *TerminalSession) Cancel(ctx context.Context) (*TerminalView, error) {
	ctx, span := terminalTracer.Start(ctx, "TerminalSession.Cancel")
	defer span.End()

	if err := t.begin("cancelar", nil); err != nil {
		return nil, err
	}

	t.mu.Lock()
	hasTx := t.tx != nil && !t.tx.IsTerminalState()
	t.mu.Unlock()

	if !hasTx {
		var view *TerminalView
		t.end(func() {
			t.resetLocked()
			view = t.viewLocked()
		})
		return view, nil
	}
	return t.cancelRemote(ctx)
}

func (t *TerminalSession) cancelRemote(ctx context.Context) (*TerminalView, error) {
	t.mu.Lock()
	txID := t.tx.ID
	t.mu.Unlock()

	cancelled, err := t.svc.ledger.CancelTransaction(ctx, txID)
	if err != nil {
		t.svc.metrics.IncrLedgerError("cancelar")
		t.end(nil)
		t.svc.logger.Warn("terminal remote cancel failed, local state kept",
			zap.String("session_id", t.ID),
			zap.String("transaction_id", txID),
			zap.Error(err),
		)
		return nil, err
	}

	var view *TerminalView
	t.end(func() {
		t.resetLocked()
		view = t.viewLocked()
	})
	t.svc.logger.Info("terminal operation cancelled",
		zap.String("session_id", t.ID),
		zap.String("transaction_id", cancelled.ID),
	)
	return view, nil
}

func (t *TerminalSession) resetLocked() {
	t.stage = domain.StageConfiguration
	t.draft = nil
	t.quote = nil
	t.tx = nil
	t.count = nil
	t.catalog = nil
	t.drift = nil
	t.driftAgreed = false
	t.agreedRate = decimal.Zero
	t.agreedAmount = decimal.Zero
}
