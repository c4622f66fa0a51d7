package telemetry

import (
	"log/slog"
	"os"
)

// InitLogger installs a JSON slog logger tagged with the service name as the
// process-wide default.
func InitLogger(service string) {
	handler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	})
	logger := slog.New(handler).With(slog.String("service", service))
	slog.SetDefault(logger)
}
