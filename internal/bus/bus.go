package bus

import (
	"fmt"

	"github.com/opensource-finance/kestrel/internal/domain"
)

// New picks the event bus for the configured tier: in-process channels
// for Community, NATS for Pro deployments with external consumers.
func New(cfg domain.EventBusConfig) (domain.EventBus, error) {
	switch cfg.Type {
	case "channel":
		return NewChannelBus(cfg.ChannelBufferSize), nil

	case "nats":
		return NewNATSBus(cfg)

	default:
		return nil, fmt.Errorf("unsupported event bus type: %s", cfg.Type)
	}
}
