// Package channel bridges the local confirmation flow to a subordinate
// payment context (a simulated bank or wallet) without trusting that
// context's lifecycle. A session settles exactly once, and both the
// message watcher and the subordinate context are torn down on every
// exit path.
package channel

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.uber.org/zap"

	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/domain"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/infra/resilience"
	"github.com/IS2-GRUPO-2/GlobalExchange-02-sub001/internal/port"
)

var tracer = otel.Tracer("channel")

// Bridge opens subordinate payment contexts and resolves each one to a
// single outcome.
type Bridge struct {
	launcher port.ChannelLauncher
	bulkhead *resilience.Bulkhead
	timeout  time.Duration
	logger   *zap.Logger
}

// NewBridge creates a bridge. maxOpen caps concurrently open sessions;
// timeout bounds how long a session may stay unsettled.
func NewBridge(launcher port.ChannelLauncher, maxOpen int, timeout time.Duration, logger *zap.Logger) *Bridge {
	return &Bridge{
		launcher: launcher,
		bulkhead: resilience.NewBulkhead(maxOpen),
		timeout:  timeout,
		logger:   logger,
	}
}

// Open runs one payment channel session to settlement.
//
// A tagged message with status success or rate-change settles with that
// outcome. The subordinate context closing before any tagged message
// settles as cancel, never as an error. Open returns an error only
// when the subordinate context could not be created at all
// (*domain.ErrChannelUnavailable).
func (b *Bridge) Open(ctx context.Context, params port.ChannelParams) (domain.ChannelOutcome, error) {
	ctx, span := tracer.Start(ctx, "Bridge.Open")
	defer span.End()
	span.SetAttributes(
		attribute.String("transaccion.id", params.TransactionID),
		attribute.String("metodo", string(params.MethodKind)),
	)

	if err := b.bulkhead.Acquire(ctx); err != nil {
		return domain.ChannelCancel, &domain.ErrChannelUnavailable{Err: err}
	}
	defer b.bulkhead.Release()

	session, err := b.launcher.Launch(ctx, params)
	if err != nil {
		b.logger.Warn("channel: subordinate context could not be created",
			zap.String("transaction_id", params.TransactionID),
			zap.Error(err),
		)
		return domain.ChannelCancel, &domain.ErrChannelUnavailable{Err: err}
	}
	// The subordinate context is always closed on the way out, whether
	// it closed itself or not.
	defer session.Close()

	deadline := time.NewTimer(b.timeout)
	defer deadline.Stop()

	for {
		select {
		case msg, ok := <-session.Messages():
			if !ok {
				// Message stream ended without a tagged message.
				return b.settle(params.TransactionID, domain.ChannelCancel), nil
			}
			if !msg.Valid() {
				// Foreign or untagged messages are ignored, not
				// treated as an outcome.
				b.logger.Debug("channel: ignoring untagged message",
					zap.String("transaction_id", params.TransactionID),
					zap.String("kind", msg.Kind),
				)
				continue
			}
			return b.settle(params.TransactionID, msg.Status), nil

		case <-session.Closed():
			// Closed by the user with no prior message.
			return b.settle(params.TransactionID, domain.ChannelCancel), nil

		case <-deadline.C:
			b.logger.Warn("channel: session timed out unsettled",
				zap.String("transaction_id", params.TransactionID),
				zap.Duration("timeout", b.timeout),
			)
			return b.settle(params.TransactionID, domain.ChannelCancel), nil

		case <-ctx.Done():
			return b.settle(params.TransactionID, domain.ChannelCancel), nil
		}
	}
}

func (b *Bridge) settle(transactionID string, outcome domain.ChannelOutcome) domain.ChannelOutcome {
	b.logger.Info("channel: session settled",
		zap.String("transaction_id", transactionID),
		zap.String("outcome", string(outcome)),
	)
	return outcome
}
