package cmd

import (
	"fmt"
	"log/slog"
	"strings"

	"github.com/ThreeDotsLabs/watermill"

	"github.com/sentiolabs/sentio/pkg/taskbus"
	"github.com/sentiolabs/sentio/pkg/taskbus/gochannel"
	"github.com/sentiolabs/sentio/pkg/taskbus/kafka"
)

// NewTaskBus creates the task transport from a URL. memory:// wires an
// in-process channel that only reaches workers in the same process;
// kafka://host:port,host:port a Kafka-backed one.
func NewTaskBus(logger *slog.Logger, busURL string) (taskbus.TaskBus, error) {
	provider, rest, found := strings.Cut(busURL, "://")
	if !found {
		return nil, fmt.Errorf("task bus URL %q has no scheme", busURL)
	}

	switch provider {
	case "memory":
		pub, sub, err := gochannel.CreateChannel(watermill.NewSlogLogger(logger))
		if err != nil {
			return nil, fmt.Errorf("failed to create in-process task bus: %w", err)
		}

		return taskbus.NewWatermillTaskBus(pub, sub), nil
	case "kafka":
		pub, sub, err := kafka.CreateChannel(watermill.NewSlogLogger(logger), rest, "sentio")
		if err != nil {
			return nil, fmt.Errorf("failed to create Kafka task bus: %w", err)
		}

		return taskbus.NewWatermillTaskBus(pub, sub), nil
	default:
		return nil, fmt.Errorf("unsupported task bus provider: %s", provider)
	}
}
