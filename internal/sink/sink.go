// Package sink delivers events from the funnel to the controller.
//
// The controller itself is outside this repository. A Sink adapts one way of
// reaching it; Drain is the single consumer that moves events from the
// funnel to a Sink.
package sink

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/Naxetee/oficit-FactuLink/internal/event"
	"github.com/Naxetee/oficit-FactuLink/internal/funnel"
	"github.com/Naxetee/oficit-FactuLink/pkg/config"
	"github.com/Naxetee/oficit-FactuLink/pkg/linkerrors"
	"github.com/Naxetee/oficit-FactuLink/pkg/metrics"
)

// Sink receives events for the controller.
type Sink interface {
	// Name identifies the sink in logs and metrics.
	Name() string
	Send(ctx context.Context, ev event.Event) error
	Close() error
}

// Source is the read side of the funnel.
type Source interface {
	Dequeue(ctx context.Context) (event.Event, error)
}

// Drain sends every event from src to s until ctx is done or src is closed
// and empty. A failed send is logged and counted; the event is not retried.
// Drain returns the number of events delivered.
func Drain(ctx context.Context, src Source, s Sink, m *metrics.Collector, log *zap.Logger) int {
	log = log.With(zap.String("sink", s.Name()))
	delivered := 0

	for {
		if ctx.Err() != nil {
			return delivered
		}
		ev, err := src.Dequeue(ctx)
		if err != nil {
			if errors.Is(err, funnel.ErrClosed) {
				log.Info("funnel closed, drain finished", zap.Int("delivered", delivered))
			}
			return delivered
		}

		err = s.Send(ctx, ev)
		m.SinkSent(s.Name(), err)
		if err != nil {
			log.Error("failed to deliver event to controller",
				zap.String("business", ev.Business),
				zap.String("order", ev.ID),
				zap.Error(err))
			continue
		}
		delivered++
	}
}

// Delivery is a Drain running in the background.
type Delivery struct {
	cancel    context.CancelFunc
	done      chan struct{}
	delivered int
}

// Start runs Drain from src to s in its own goroutine.
func Start(src Source, s Sink, m *metrics.Collector, log *zap.Logger) *Delivery {
	ctx, cancel := context.WithCancel(context.Background())
	d := &Delivery{cancel: cancel, done: make(chan struct{})}
	go func() {
		defer close(d.done)
		d.delivered = Drain(ctx, src, s, m, log)
	}()
	return d
}

// Stop waits up to timeout for the drain to finish, which happens once the
// source is closed and empty. On timeout the drain is cancelled and left
// behind, and Stop reports false. A blocked Send is not waited for.
func (d *Delivery) Stop(timeout time.Duration) bool {
	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case <-d.done:
		d.cancel()
		return true
	case <-timer.C:
		d.cancel()
		return false
	}
}

// Delivered returns the number of delivered events. Valid after Stop
// reported true.
func (d *Delivery) Delivered() int {
	return d.delivered
}

// Open builds the sink selected by cfg.
func Open(cfg config.SinkConfig, logger *zap.Logger) (Sink, error) {
	switch cfg.Type {
	case "", config.SinkLog:
		return NewLogSink(logger), nil
	case config.SinkJSONL:
		return OpenJSONLinesSink(cfg.Path)
	case config.SinkKafka:
		return NewKafkaSink(cfg.Brokers, cfg.Topic)
	default:
		return nil, linkerrors.New(linkerrors.ErrorTypeConfig, "unknown sink type "+cfg.Type)
	}
}
