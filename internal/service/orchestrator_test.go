package service_test

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/domain"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/infra/observability"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/port"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/service"
)

func d(s string) decimal.Decimal {
	v, err := decimal.NewFromString(s)
	if err != nil {
		panic(err)
	}
	return v
}

// --- Mocks ---

type mockLedger struct {
	mu sync.Mutex

	quote    *domain.Quote
	quoteErr error

	createdTx   *domain.Transaction
	createErr   error
	createCalls int

	getTx  *domain.Transaction
	getErr error

	reconfirm      *domain.RateCheck
	reconfirmErr   error
	reconfirmCalls int

	confirmed        *domain.Transaction
	confirmErr       error
	confirmCalls     int
	lastAcceptDrift  bool
	lastTermsAccepts bool

	cancelTx    *domain.Transaction
	cancelErr   error
	cancelCalls int

	receiveTx    *domain.Transaction
	receiveErrs  []error
	receiveCalls int
	lastReceive  *port.ReceiveCashRequest

	currencies    []domain.Currency
	denominations []domain.Denomination
	denomErr      error
}

func (m *mockLedger) RequestQuote(_ context.Context, _ *domain.OperationDraft) (*domain.Quote, error) {
	return m.quote, m.quoteErr
}

func (m *mockLedger) CreateTransaction(_ context.Context, _ *port.CreateTransactionRequest) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.createCalls++
	if m.createErr != nil {
		return nil, m.createErr
	}
	tx := *m.createdTx
	return &tx, nil
}

func (m *mockLedger) GetTransaction(_ context.Context, _ string) (*domain.Transaction, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	if m.getTx != nil {
		tx := *m.getTx
		return &tx, nil
	}
	tx := *m.createdTx
	return &tx, nil
}

func (m *mockLedger) ReconfirmRate(_ context.Context, _ string) (*domain.RateCheck, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.reconfirmCalls++
	if m.reconfirmErr != nil {
		return nil, m.reconfirmErr
	}
	check := *m.reconfirm
	return &check, nil
}

func (m *mockLedger) ConfirmPayment(_ context.Context, _ string, termsAccepted, acceptDrift bool) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.confirmCalls++
	m.lastTermsAccepts = termsAccepted
	m.lastAcceptDrift = acceptDrift
	if m.confirmErr != nil {
		return nil, m.confirmErr
	}
	tx := *m.confirmed
	return &tx, nil
}

func (m *mockLedger) CancelTransaction(_ context.Context, _ string) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.cancelCalls++
	if m.cancelErr != nil {
		return nil, m.cancelErr
	}
	tx := *m.cancelTx
	return &tx, nil
}

func (m *mockLedger) ReceiveCash(_ context.Context, _ string, req *port.ReceiveCashRequest) (*domain.Transaction, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastReceive = req
	idx := m.receiveCalls
	m.receiveCalls++
	if idx < len(m.receiveErrs) && m.receiveErrs[idx] != nil {
		return nil, m.receiveErrs[idx]
	}
	tx := *m.receiveTx
	return &tx, nil
}

func (m *mockLedger) ListCurrencies(_ context.Context) ([]domain.Currency, error) {
	return m.currencies, nil
}

func (m *mockLedger) ListDenominations(_ context.Context, _ string) ([]domain.Denomination, error) {
	return m.denominations, m.denomErr
}

type mockChannel struct {
	mu       sync.Mutex
	outcomes []domain.ChannelOutcome
	err      error
	calls    int
}

func (m *mockChannel) Open(_ context.Context, _ port.ChannelParams) (domain.ChannelOutcome, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	idx := m.calls
	m.calls++
	if m.err != nil {
		return domain.ChannelCancel, m.err
	}
	if idx < len(m.outcomes) {
		return m.outcomes[idx], nil
	}
	return domain.ChannelSuccess, nil
}

// --- Fixtures ---

func ventaQuote() *domain.Quote {
	return &domain.Quote{
		Perspective:    domain.PerspectiveVenta,
		OriginCurrency: "PYG",
		DestCurrency:   "USD",
		AppliedRate:    d("7300"),
		OriginAmount:   d("730000"),
		DestAmount:     d("100"),
		MethodKind:     domain.MethodTransferencia,
	}
}

func ventaDraft() *domain.OperationDraft {
	return &domain.OperationDraft{
		OriginCurrency:  "PYG",
		DestCurrency:    "USD",
		Amount:          d("730000"),
		Perspective:     domain.PerspectiveVenta,
		GenericMethodID: "met-transfer",
	}
}

func pendingTx() *domain.Transaction {
	return &domain.Transaction{
		ID:             "tx-1",
		ClientID:       "cli-1",
		Perspective:    domain.PerspectiveVenta,
		InitialRate:    d("7300"),
		AppliedRate:    d("7300"),
		OriginCurrency: "PYG",
		DestCurrency:   "USD",
		OriginAmount:   d("730000"),
		DestAmount:     d("100"),
		State:          domain.TxPendiente,
	}
}

func completedTx() *domain.Transaction {
	tx := pendingTx()
	tx.State = domain.TxCompletada
	return tx
}

func unchangedCheck() *domain.RateCheck {
	return &domain.RateCheck{
		Changed:        false,
		PreviousRate:   d("7300"),
		CurrentRate:    d("7300"),
		PreviousAmount: d("100"),
		CurrentAmount:  d("100"),
	}
}

func driftedCheck() *domain.RateCheck {
	return &domain.RateCheck{
		Changed:        true,
		PreviousRate:   d("7300"),
		CurrentRate:    d("7350"),
		PreviousAmount: d("100"),
		CurrentAmount:  d("99.32"),
	}
}

func newOrchestrator(ledger port.Ledger, ch port.Channel) *service.Orchestrator {
	return service.NewOrchestrator("cli-1", "op-1", ledger, ch, observability.NewMetrics(), zap.NewNop())
}

// --- Tests ---

func TestOrchestrator_HappyPathWithChannel(t *testing.T) {
	ledger := &mockLedger{
		quote:     ventaQuote(),
		createdTx: pendingTx(),
		reconfirm: unchangedCheck(),
		confirmed: completedTx(),
	}
	ch := &mockChannel{outcomes: []domain.ChannelOutcome{domain.ChannelSuccess}}
	orch := newOrchestrator(ledger, ch)
	ctx := context.Background()

	view, err := orch.Configure(ctx, ventaDraft())
	if err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if view.Stage != domain.StageQuote {
		t.Fatalf("expected stage cotizacion, got %s", view.Stage)
	}

	view, err = orch.ConfirmAndPay(ctx)
	if err != nil {
		t.Fatalf("ConfirmAndPay: %v", err)
	}
	if view.Stage != domain.StagePayment {
		t.Fatalf("expected stage pago, got %s", view.Stage)
	}

	view, err = orch.Pay(ctx)
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if view.Stage != domain.StageReceipt {
		t.Errorf("expected stage recibo, got %s", view.Stage)
	}
	if view.Transaction == nil || view.Transaction.State != domain.TxCompletada {
		t.Errorf("expected completed transaction in view")
	}
	if ch.calls != 1 {
		t.Errorf("expected one channel session, got %d", ch.calls)
	}
	if ledger.reconfirmCalls != 1 {
		t.Errorf("expected exactly one reconfirm before confirm, got %d", ledger.reconfirmCalls)
	}
	if ledger.confirmCalls != 1 {
		t.Errorf("expected one confirm, got %d", ledger.confirmCalls)
	}
	if ledger.lastAcceptDrift {
		t.Error("no drift was presented, confirm must not carry acepta_cambio")
	}
}

func TestOrchestrator_NoChannelSettlesDirectly(t *testing.T) {
	quote := ventaQuote()
	quote.Perspective = domain.PerspectiveCompra // house buys: no channel
	ledger := &mockLedger{
		quote:     quote,
		createdTx: pendingTx(),
		reconfirm: unchangedCheck(),
		confirmed: completedTx(),
	}
	ch := &mockChannel{}
	orch := newOrchestrator(ledger, ch)
	ctx := context.Background()

	draft := ventaDraft()
	draft.Perspective = domain.PerspectiveCompra
	if _, err := orch.Configure(ctx, draft); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	view, err := orch.ConfirmAndPay(ctx)
	if err != nil {
		t.Fatalf("ConfirmAndPay: %v", err)
	}
	if view.Stage != domain.StageReceipt {
		t.Errorf("expected stage recibo, got %s", view.Stage)
	}
	if ch.calls != 0 {
		t.Errorf("no channel expected, got %d sessions", ch.calls)
	}
	if ledger.reconfirmCalls != 1 {
		t.Errorf("reconciliation must still precede confirm, got %d calls", ledger.reconfirmCalls)
	}
}

func TestOrchestrator_DriftIsPresentedNotConfirmed(t *testing.T) {
	ledger := &mockLedger{
		quote:     ventaQuote(),
		createdTx: pendingTx(),
		reconfirm: driftedCheck(),
		confirmed: completedTx(),
	}
	ch := &mockChannel{outcomes: []domain.ChannelOutcome{domain.ChannelSuccess}}
	orch := newOrchestrator(ledger, ch)
	ctx := context.Background()

	if _, err := orch.Configure(ctx, ventaDraft()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if _, err := orch.ConfirmAndPay(ctx); err != nil {
		t.Fatalf("ConfirmAndPay: %v", err)
	}

	view, err := orch.Pay(ctx)
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if view.Drift == nil {
		t.Fatal("expected drift in view")
	}
	if !view.Drift.CurrentRate.Equal(d("7350")) {
		t.Errorf("expected current rate 7350, got %s", view.Drift.CurrentRate)
	}
	if ledger.confirmCalls != 0 {
		t.Errorf("confirm must wait for an explicit decision, got %d calls", ledger.confirmCalls)
	}

	// Every action except accept/reject/cancel is blocked while the
	// drift is pending.
	if _, err := orch.Pay(ctx); err == nil {
		t.Error("Pay should be illegal while a drift is pending")
	}
}

func TestOrchestrator_AcceptDriftReopensChannelAndConfirms(t *testing.T) {
	ledger := &mockLedger{
		quote:     ventaQuote(),
		createdTx: pendingTx(),
		reconfirm: driftedCheck(),
		confirmed: completedTx(),
	}
	ch := &mockChannel{outcomes: []domain.ChannelOutcome{domain.ChannelSuccess, domain.ChannelSuccess}}
	orch := newOrchestrator(ledger, ch)
	ctx := context.Background()

	if _, err := orch.Configure(ctx, ventaDraft()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if _, err := orch.ConfirmAndPay(ctx); err != nil {
		t.Fatalf("ConfirmAndPay: %v", err)
	}
	if _, err := orch.Pay(ctx); err != nil {
		t.Fatalf("Pay: %v", err)
	}

	// The ledger keeps reporting 7350; the user accepts it, so the
	// second reconciliation must treat 7350 as agreed and confirm.
	view, err := orch.AcceptDrift(ctx)
	if err != nil {
		t.Fatalf("AcceptDrift: %v", err)
	}
	if view.Stage != domain.StageReceipt {
		t.Errorf("expected stage recibo after accepting drift, got %s", view.Stage)
	}
	if view.Drift != nil {
		t.Error("accepted drift must not be re-presented")
	}
	if ch.calls != 2 {
		t.Errorf("accepting a drift must re-run the channel, got %d sessions", ch.calls)
	}
	if ledger.confirmCalls != 1 {
		t.Errorf("expected one confirm, got %d", ledger.confirmCalls)
	}
	if !ledger.lastAcceptDrift {
		t.Error("confirm must carry acepta_cambio after an accepted drift")
	}
}

func TestOrchestrator_RejectDriftCancelsAndResets(t *testing.T) {
	cancelled := pendingTx()
	cancelled.State = domain.TxCancelada
	ledger := &mockLedger{
		quote:     ventaQuote(),
		createdTx: pendingTx(),
		reconfirm: driftedCheck(),
		cancelTx:  cancelled,
	}
	ch := &mockChannel{outcomes: []domain.ChannelOutcome{domain.ChannelSuccess}}
	orch := newOrchestrator(ledger, ch)
	ctx := context.Background()

	if _, err := orch.Configure(ctx, ventaDraft()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if _, err := orch.ConfirmAndPay(ctx); err != nil {
		t.Fatalf("ConfirmAndPay: %v", err)
	}
	if _, err := orch.Pay(ctx); err != nil {
		t.Fatalf("Pay: %v", err)
	}

	view, err := orch.RejectDrift(ctx)
	if err != nil {
		t.Fatalf("RejectDrift: %v", err)
	}
	if view.Stage != domain.StageConfiguration {
		t.Errorf("expected reset to configuracion, got %s", view.Stage)
	}
	if view.Transaction != nil || view.Quote != nil {
		t.Error("expected wizard state discarded after reject")
	}
	if ledger.cancelCalls != 1 {
		t.Errorf("expected one remote cancel, got %d", ledger.cancelCalls)
	}
}

func TestOrchestrator_ChannelCancelKeepsPaymentStage(t *testing.T) {
	ledger := &mockLedger{
		quote:     ventaQuote(),
		createdTx: pendingTx(),
		reconfirm: unchangedCheck(),
		confirmed: completedTx(),
	}
	ch := &mockChannel{outcomes: []domain.ChannelOutcome{domain.ChannelCancel}}
	orch := newOrchestrator(ledger, ch)
	ctx := context.Background()

	if _, err := orch.Configure(ctx, ventaDraft()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if _, err := orch.ConfirmAndPay(ctx); err != nil {
		t.Fatalf("ConfirmAndPay: %v", err)
	}

	view, err := orch.Pay(ctx)
	if err != nil {
		t.Fatalf("Pay: %v", err)
	}
	if view.Stage != domain.StagePayment {
		t.Errorf("cancel must leave the payment stage unchanged, got %s", view.Stage)
	}
	if view.LastOutcome != domain.ChannelCancel {
		t.Errorf("expected cancel outcome in view, got %s", view.LastOutcome)
	}
	if ledger.reconfirmCalls != 0 {
		t.Errorf("no reconciliation on cancel, got %d calls", ledger.reconfirmCalls)
	}
	if ledger.confirmCalls != 0 {
		t.Errorf("no confirm on cancel, got %d calls", ledger.confirmCalls)
	}
	if view.Transaction.State != domain.TxPendiente {
		t.Errorf("transaction must stay pendiente, got %s", view.Transaction.State)
	}
}

func TestOrchestrator_ConfirmAndPayIsSingleShot(t *testing.T) {
	ledger := &mockLedger{
		quote:     ventaQuote(),
		createdTx: pendingTx(),
		reconfirm: unchangedCheck(),
		confirmed: completedTx(),
	}
	ch := &mockChannel{outcomes: []domain.ChannelOutcome{domain.ChannelSuccess}}
	orch := newOrchestrator(ledger, ch)
	ctx := context.Background()

	if _, err := orch.Configure(ctx, ventaDraft()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if _, err := orch.ConfirmAndPay(ctx); err != nil {
		t.Fatalf("ConfirmAndPay: %v", err)
	}

	_, err := orch.ConfirmAndPay(ctx)
	if err == nil {
		t.Fatal("expected second ConfirmAndPay to be rejected")
	}
	var stageErr *domain.ErrInvalidStage
	if !errors.As(err, &stageErr) {
		t.Fatalf("expected *ErrInvalidStage, got %T", err)
	}
	if ledger.createCalls != 1 {
		t.Errorf("expected exactly one transaction created, got %d", ledger.createCalls)
	}
}

func TestOrchestrator_ConfigureValidatesBeforeNetwork(t *testing.T) {
	ledger := &mockLedger{quote: ventaQuote()}
	orch := newOrchestrator(ledger, &mockChannel{})

	draft := ventaDraft()
	draft.Amount = decimal.Zero

	_, err := orch.Configure(context.Background(), draft)
	if err == nil {
		t.Fatal("expected validation error")
	}
	var vErr *domain.ErrValidation
	if !errors.As(err, &vErr) {
		t.Fatalf("expected *ErrValidation, got %T", err)
	}
}

func TestOrchestrator_QuoteFailureKeepsConfiguration(t *testing.T) {
	ledger := &mockLedger{quoteErr: &domain.ErrRemoteRejected{Status: 400, Message: "divisa inactiva"}}
	orch := newOrchestrator(ledger, &mockChannel{})

	_, err := orch.Configure(context.Background(), ventaDraft())
	if err == nil {
		t.Fatal("expected quote error")
	}
	if err.Error() != "divisa inactiva" {
		t.Errorf("ledger message must surface verbatim, got %q", err.Error())
	}
	if view := orch.View(); view.Stage != domain.StageConfiguration {
		t.Errorf("expected stage configuracion after failure, got %s", view.Stage)
	}
}

func TestOrchestrator_RemoteCancelFailureKeepsState(t *testing.T) {
	ledger := &mockLedger{
		quote:     ventaQuote(),
		createdTx: pendingTx(),
		cancelErr: &domain.ErrExternalService{Service: "ledger", Err: errors.New("down")},
	}
	ch := &mockChannel{}
	orch := newOrchestrator(ledger, ch)
	ctx := context.Background()

	if _, err := orch.Configure(ctx, ventaDraft()); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	if _, err := orch.ConfirmAndPay(ctx); err != nil {
		t.Fatalf("ConfirmAndPay: %v", err)
	}

	if _, err := orch.Cancel(ctx); err == nil {
		t.Fatal("expected cancel error to surface")
	}
	view := orch.View()
	if view.Stage != domain.StagePayment {
		t.Errorf("failed cancel must keep local state, got stage %s", view.Stage)
	}
	if view.Transaction == nil {
		t.Error("failed cancel must keep the transaction")
	}
}

func TestOrchestrator_CancelWithoutTransactionResetsLocally(t *testing.T) {
	ledger := &mockLedger{quote: ventaQuote()}
	orch := newOrchestrator(ledger, &mockChannel{})
	ctx := context.Background()

	if _, err := orch.Configure(ctx, ventaDraft()); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	view, err := orch.Cancel(ctx)
	if err != nil {
		t.Fatalf("Cancel: %v", err)
	}
	if view.Stage != domain.StageConfiguration {
		t.Errorf("expected reset, got stage %s", view.Stage)
	}
	if ledger.cancelCalls != 0 {
		t.Errorf("no remote cancel without a transaction, got %d", ledger.cancelCalls)
	}
}

// guardErr reports whether err is one of the flow-control rejections a
// concurrent action may legitimately receive.
func guardErr(err error) bool {
	var inFlight *domain.ErrSubmissionInFlight
	var invalidStage *domain.ErrInvalidStage
	return errors.As(err, &inFlight) || errors.As(err, &invalidStage)
}

func TestOrchestrator_CancelDuringNoChannelSettleIsSafe(t *testing.T) {
	for i := 0; i < 200; i++ {
		quote := ventaQuote()
		quote.Perspective = domain.PerspectiveCompra
		cancelled := pendingTx()
		cancelled.State = domain.TxCancelada
		ledger := &mockLedger{
			quote:     quote,
			createdTx: pendingTx(),
			reconfirm: unchangedCheck(),
			confirmed: completedTx(),
			cancelTx:  cancelled,
		}
		orch := newOrchestrator(ledger, &mockChannel{})
		ctx := context.Background()

		draft := ventaDraft()
		draft.Perspective = domain.PerspectiveCompra
		if _, err := orch.Configure(ctx, draft); err != nil {
			t.Fatalf("Configure: %v", err)
		}

		var wg sync.WaitGroup
		wg.Add(2)
		go func() {
			defer wg.Done()
			if _, err := orch.ConfirmAndPay(ctx); err != nil && !guardErr(err) {
				t.Errorf("ConfirmAndPay: unexpected error %v", err)
			}
		}()
		go func() {
			defer wg.Done()
			if _, err := orch.Cancel(ctx); err != nil && !guardErr(err) {
				t.Errorf("Cancel: unexpected error %v", err)
			}
		}()
		wg.Wait()

		stage := orch.View().Stage
		if stage != domain.StageReceipt && stage != domain.StageConfiguration {
			t.Fatalf("expected recibo or configuracion after the race, got %s", stage)
		}
	}
}
