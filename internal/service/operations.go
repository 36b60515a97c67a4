package service

import (
	"context"
	"sync"

	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/domain"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/events"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/infra/observability"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/port"
)

// OperationService owns the live wizard sessions. It subscribes to the
// client-changed bus on construction and discards a client's in-flight
// sessions when that client changes; Close releases the subscription.
type OperationService struct {
	ledger  port.Ledger
	channel port.Channel

	mu       sync.Mutex
	sessions map[string]*Orchestrator

	currencyCache port.Cache[[]domain.Currency]
	release       func()
	done          chan struct{}

	metrics *observability.Metrics
	logger  *zap.Logger
}

// NewOperationService creates the service and starts watching the bus.
func NewOperationService(ledger port.Ledger, channel port.Channel, bus *events.Bus, currencyCache port.Cache[[]domain.Currency], metrics *observability.Metrics, logger *zap.Logger) *OperationService {
	s := &OperationService{
		ledger:        ledger,
		channel:       channel,
		sessions:      make(map[string]*Orchestrator),
		currencyCache: currencyCache,
		done:          make(chan struct{}),
		metrics:       metrics,
		logger:        logger,
	}

	ch, release := bus.Subscribe()
	s.release = release
	go s.watchClientChanges(ch)

	return s
}

// Close releases the bus subscription and stops the watcher.
func (s *OperationService) Close() {
	s.release()
	<-s.done
}

func (s *OperationService) watchClientChanges(ch <-chan string) {
	defer close(s.done)
	for clientID := range ch {
		s.discardClientSessions(clientID)
	}
}

// discardClientSessions drops the in-flight wizards of every client
// except the one that just became active. Their local state is wizard
// memory only; transactions already on the ledger stay pendiente there
// and are handled by back-office expiry, not by this reset.
func (s *OperationService) discardClientSessions(activeClientID string) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, op := range s.sessions {
		if op.ClientID != activeClientID {
			delete(s.sessions, id)
			s.logger.Info("session discarded after client change",
				zap.String("operation_id", id),
				zap.String("client_id", op.ClientID),
				zap.String("active_client_id", activeClientID),
			)
		}
	}
}

// Start opens a new wizard session for the acting client.
func (s *OperationService) Start(ctx context.Context, clientID, operatorID string) *OperationView {
	_, span := opTracer.Start(ctx, "OperationService.Start")
	defer span.End()
	span.SetAttributes(attribute.String("cliente.id", clientID))

	op := NewOrchestrator(clientID, operatorID, s.ledger, s.channel, s.metrics, s.logger)

	s.mu.Lock()
	s.sessions[op.ID] = op
	s.mu.Unlock()

	s.logger.Info("operation session started",
		zap.String("operation_id", op.ID),
		zap.String("client_id", clientID),
	)
	return op.View()
}

// Get finds a live session by id.
func (s *OperationService) Get(id string) (*Orchestrator, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	op, ok := s.sessions[id]
	if !ok {
		return nil, &domain.ErrNotFound{Resource: "operación", ID: id}
	}
	return op, nil
}

// Discard removes a finished or abandoned session.
func (s *OperationService) Discard(id string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.sessions, id)
}

// ListCurrencies is a cached read-through of the ledger's catalog.
func (s *OperationService) ListCurrencies(ctx context.Context) ([]domain.Currency, error) {
	ctx, span := opTracer.Start(ctx, "OperationService.ListCurrencies")
	defer span.End()

	if currencies, ok := s.currencyCache.Get("divisas"); ok {
		s.metrics.IncrCacheHit("divisas")
		return currencies, nil
	}
	s.metrics.IncrCacheMiss("divisas")

	currencies, err := s.ledger.ListCurrencies(ctx)
	if err != nil {
		s.metrics.IncrLedgerError("divisas")
		return nil, err
	}
	s.currencyCache.Set("divisas", currencies)
	return currencies, nil
}
