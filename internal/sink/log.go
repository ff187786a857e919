package sink

import (
	"context"

	"go.uber.org/zap"

	"github.com/Naxetee/oficit-FactuLink/internal/event"
)

// LogSink writes each event as a structured log entry.
type LogSink struct {
	logger *zap.Logger
}

// NewLogSink creates a LogSink writing to logger.
func NewLogSink(logger *zap.Logger) *LogSink {
	return &LogSink{logger: logger}
}

func (s *LogSink) Name() string { return "log" }

func (s *LogSink) Send(_ context.Context, ev event.Event) error {
	s.logger.Info("order event",
		zap.String("business", ev.Business),
		zap.String("order", ev.ID),
		zap.String("customer", ev.CustomerName),
		zap.Time("timestamp", ev.Timestamp))
	return nil
}

func (s *LogSink) Close() error { return nil }
