package publisher

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/Checker-Finance/marketplace-sync/internal/metrics"
)

// Nop drops events after logging them at debug level. Used when EVENT_SINK is "none".
type Nop struct {
	Logger *zap.Logger
}

func (n Nop) Publish(_ context.Context, eventType string, correlation uuid.UUID, _ any) error {
	if n.Logger != nil {
		n.Logger.Debug("publisher.event_dropped",
			zap.String("event_type", eventType),
			zap.Stringer("correlation_id", correlation))
	}
	metrics.IncEvent("none", eventType, "dropped")
	return nil
}
