package realtime

import (
	"encoding/json"
	"sync"

	"go.uber.org/zap"

	"github.com/ruralpay/playcard/internal/models"
)

// Broadcaster fans events out to every registered observer.
//
// Frames are enqueued under a single dispatch mutex, so all observers see
// events in the same order they were published. An observer that cannot
// take a frame is dropped; the publisher never sees the failure.
type Broadcaster struct {
	registry *Registry
	logger   *zap.Logger
	mu       sync.Mutex
}

func NewBroadcaster(registry *Registry, logger *zap.Logger) *Broadcaster {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Broadcaster{
		registry: registry,
		logger:   logger.Named("broadcaster"),
	}
}

func (b *Broadcaster) Publish(event models.Event) {
	frame, err := json.Marshal(event)
	if err != nil {
		b.logger.Error("Failed to encode event", zap.String("type", string(event.Type)), zap.Error(err))
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	for _, o := range b.registry.Snapshot() {
		if err := o.Send(frame); err != nil {
			b.registry.Unregister(o)
			o.Close()
			b.logger.Warn("Dropped observer",
				zap.String("observer_id", o.ID()),
				zap.String("event", string(event.Type)),
				zap.String("card_id", event.CardID()),
				zap.Error(err),
			)
		}
	}
}
