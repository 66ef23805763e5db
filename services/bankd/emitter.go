package main

import (
	"fmt"
	"log/slog"

	"leverbank/core/events"
)

// logEmitter forwards domain events to the structured log. A bus or webhook
// fan-out would slot in behind the same events.Emitter interface.
func logEmitter(logger *slog.Logger) events.Emitter {
	return events.EmitterFunc(func(event any) {
		logger.Info("event",
			slog.String("type", fmt.Sprintf("%T", event)),
			slog.Any("payload", event))
	})
}
