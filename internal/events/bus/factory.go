package bus

import (
	"fmt"

	"github.com/kynetic-ai/kynetic-bot/internal/common/config"
	"github.com/kynetic-ai/kynetic-bot/internal/common/logger"
)

// New builds the EventBus selected by cfg.Backend.
func New(cfg config.EventsConfig, log *logger.Logger) (EventBus, error) {
	switch cfg.Backend {
	case "", "memory":
		return NewMemoryEventBus(log), nil
	case "nats":
		return NewNATSEventBus(cfg.NATSURL, log)
	default:
		return nil, fmt.Errorf("unknown event bus backend %q", cfg.Backend)
	}
}
