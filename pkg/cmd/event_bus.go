package cmd

import (
	"fmt"
	"log/slog"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/titleworks/lientrack/pkg/channels/gochannel"
	"github.com/titleworks/lientrack/pkg/channels/kafka"
	"github.com/titleworks/lientrack/pkg/eventbus"
)

// NewEventBus creates an event bus. "kafka" connects to the given brokers;
// any other provider falls back to the in-process channel, which only reaches
// subscribers in the same process.
func NewEventBus(provider, serviceName string, brokers []string, logger *slog.Logger) eventbus.EventBus {
	watermillLogger := watermill.NewSlogLogger(logger)

	switch provider {
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermillLogger, serviceName, brokers)
		if err != nil {
			panic(fmt.Errorf("failed to create Kafka pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	default:
		pub, sub, err := gochannel.CreateChannel(watermillLogger)
		if err != nil {
			panic(fmt.Errorf("failed to create in-process pub/sub: %w", err))
		}

		return eventbus.NewWatermillEventBus(pub, sub)
	}
}
