package ledger

import (
	"context"

	"go.uber.org/zap"

	"marketledger/internal/model"
	"marketledger/internal/storage"
)

// Emitter enqueues user-facing notices. The store dedups on
// (user, market, type), so emitting the same notice twice is a no-op and
// replayed events cannot double-notify.
type Emitter struct {
	logger *zap.Logger
}

// NewEmitter builds an Emitter.
func NewEmitter(logger *zap.Logger) *Emitter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Emitter{logger: logger}
}

// Notify records one notification through the given store.
func (e *Emitter) Notify(ctx context.Context, store storage.Store, user, market string, typ model.NotificationType, message string) error {
	err := store.InsertNotification(ctx, model.Notification{
		UserAddress:   user,
		MarketAddress: market,
		Type:          typ,
		Message:       message,
	})
	if err != nil {
		return err
	}
	e.logger.Debug("notification emitted",
		zap.String("user", user),
		zap.String("market", market),
		zap.String("type", string(typ)),
	)
	return nil
}
