// Package poller implements the per-source listener loop: detect orders
// newer than the watermark, turn each into an event, hand it to the funnel
// and advance the watermark.
//
// A poller never gives up. Connection, query and processing failures are
// logged and retried on the next cycle at the same fixed cadence. An order
// whose event cannot be built or enqueued is retried forever and holds back
// every later order of the same source: nothing is skipped silently.
package poller

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/Naxetee/oficit-FactuLink/internal/event"
	"github.com/Naxetee/oficit-FactuLink/internal/source"
	"github.com/Naxetee/oficit-FactuLink/internal/watermark"
	"github.com/Naxetee/oficit-FactuLink/pkg/linkerrors"
	"github.com/Naxetee/oficit-FactuLink/pkg/metrics"
)

// DefaultInterval is the fixed wait between two poll cycles.
const DefaultInterval = 10 * time.Second

// Source is the read side of one business unit's database.
type Source interface {
	watermark.MaxIDQuerier
	// AllOrders returns every order, ascending by identifier.
	AllOrders(ctx context.Context) ([]source.Order, error)
	// OrdersAfter returns orders with identifier > id, ascending.
	OrdersAfter(ctx context.Context, id int64) ([]source.Order, error)
}

// Enqueuer accepts events for the controller. *funnel.Funnel implements it.
type Enqueuer interface {
	Enqueue(ev event.Event) error
}

// State is the position of a poller in its loop.
type State int32

const (
	StateInitializing State = iota
	StatePolling
	StateIdleWait
	StateStopped
)

func (s State) String() string {
	switch s {
	case StateInitializing:
		return "initializing"
	case StatePolling:
		return "polling"
	case StateIdleWait:
		return "idle_wait"
	case StateStopped:
		return "stopped"
	default:
		return "unknown"
	}
}

// Config holds the loop timing.
type Config struct {
	Interval time.Duration
	Backoff  Backoff
}

// SleepFunc waits for d and reports false if ctx ended first.
type SleepFunc func(ctx context.Context, d time.Duration) bool

// Poller watches one source. It owns its watermark; nothing else reads or
// writes it.
type Poller struct {
	business string
	src      Source
	out      Enqueuer
	cfg      Config

	logger  *zap.Logger
	metrics *metrics.Collector
	now     func() time.Time
	sleep   SleepFunc

	wm           watermark.Watermark
	state        atomic.Int32
	connFailures int
}

// Option configures a Poller.
type Option func(*Poller)

// WithConfig sets the loop timing.
func WithConfig(cfg Config) Option {
	return func(p *Poller) {
		p.cfg = cfg
	}
}

// WithLogger sets the logger. The poller adds its business field.
func WithLogger(l *zap.Logger) Option {
	return func(p *Poller) {
		p.logger = l
	}
}

// WithMetrics sets the metrics collector.
func WithMetrics(m *metrics.Collector) Option {
	return func(p *Poller) {
		p.metrics = m
	}
}

// WithClock sets the event timestamp source.
func WithClock(now func() time.Time) Option {
	return func(p *Poller) {
		p.now = now
	}
}

// WithSleep replaces the idle wait.
func WithSleep(fn SleepFunc) Option {
	return func(p *Poller) {
		p.sleep = fn
	}
}

// New creates a poller for business reading from src and emitting to out.
func New(business string, src Source, out Enqueuer, opts ...Option) *Poller {
	p := &Poller{
		business: business,
		src:      src,
		out:      out,
		cfg:      Config{Interval: DefaultInterval},
		logger:   zap.NewNop(),
		now:      time.Now,
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(p)
	}
	if p.cfg.Interval <= 0 {
		p.cfg.Interval = DefaultInterval
	}
	p.logger = p.logger.With(zap.String("business", business))
	return p
}

// Business returns the business this poller watches.
func (p *Poller) Business() string {
	return p.business
}

// State returns the current loop state. Safe to call from any goroutine.
func (p *Poller) State() State {
	return State(p.state.Load())
}

// Watermark returns the current watermark. It must not be called while Run
// is active.
func (p *Poller) Watermark() watermark.Watermark {
	return p.wm
}

// Run initializes the watermark and polls until ctx is done. Cancellation
// is checked between cycles and during the idle wait only; an in-flight
// query is never interrupted by the poller itself.
func (p *Poller) Run(ctx context.Context) {
	p.logger.Info("listener started", zap.Duration("interval", p.cfg.Interval))
	defer func() {
		p.setState(StateStopped)
		p.logger.Info("listener stopped")
	}()

	p.setState(StateInitializing)
	initErr := p.Initialize(ctx)
	p.trackConnection(initErr)

	for {
		if ctx.Err() != nil {
			return
		}

		p.setState(StatePolling)
		_, err := p.PollOnce(ctx)
		delay := p.cfg.Backoff.Delay(p.cfg.Interval, p.trackConnection(err))

		if ctx.Err() != nil {
			return
		}
		p.setState(StateIdleWait)
		if !p.sleep(ctx, delay) {
			return
		}
	}
}

// Initialize sets the watermark baseline from the source. A failure is
// logged and returned, and leaves the watermark empty: the poller still
// goes on to poll.
func (p *Poller) Initialize(ctx context.Context) error {
	if err := p.wm.Initialize(ctx, p.src); err != nil {
		p.metrics.PollError(p.business, string(linkerrors.TypeOf(err)))
		p.logger.Error("failed to initialize watermark, starting empty", zap.Error(err))
		return err
	}

	if id, ok := p.wm.Value(); ok {
		p.metrics.SetWatermark(p.business, id)
		p.logger.Debug("watermark initialized", zap.Int64("watermark", id))
	} else {
		p.logger.Debug("no orders in source, watermark initialized empty")
	}
	return nil
}

// PollOnce runs one detect-transform-emit cycle and returns how many events
// were enqueued. Orders are handled one at a time in identifier order and
// the watermark advances after each successful enqueue; the first failing
// order ends the cycle with the watermark just before it.
func (p *Poller) PollOnce(ctx context.Context) (int, error) {
	start := time.Now()
	defer func() {
		p.metrics.ObservePoll(p.business, time.Since(start))
	}()

	orders, err := p.fetch(ctx)
	if err != nil {
		p.metrics.PollError(p.business, string(linkerrors.TypeOf(err)))
		p.logger.Error("failed to fetch new orders",
			zap.Error(err),
			zap.Stringer("watermark", p.wm))
		return 0, err
	}

	if len(orders) == 0 {
		p.logger.Debug("no new orders")
		return 0, nil
	}

	p.logger.Info("new orders found", zap.Int("count", len(orders)))

	emitted := 0
	for _, o := range orders {
		if p.wm.Covers(o.ID) {
			continue
		}
		if err := p.emit(o); err != nil {
			p.metrics.PollError(p.business, string(linkerrors.ErrorTypeProcessing))
			p.logger.Error("failed to process order, will retry next cycle",
				zap.Int64("order_id", o.ID),
				zap.Stringer("watermark", p.wm),
				zap.Error(err))
			return emitted, err
		}

		p.wm.Advance(o.ID)
		p.metrics.SetWatermark(p.business, o.ID)
		emitted++
	}

	return emitted, nil
}

func (p *Poller) fetch(ctx context.Context) ([]source.Order, error) {
	if id, ok := p.wm.Value(); ok {
		return p.src.OrdersAfter(ctx, id)
	}
	return p.src.AllOrders(ctx)
}

func (p *Poller) emit(o source.Order) error {
	ev, err := event.New(p.business, o, p.now())
	if err != nil {
		return err
	}

	p.logger.Info("processing order",
		zap.String("order", ev.ID),
		zap.String("customer", ev.CustomerName))

	if err := p.out.Enqueue(ev); err != nil {
		return linkerrors.Wrap(err, linkerrors.ErrorTypeProcessing, "failed to enqueue event").
			WithDetail("order", ev.ID)
	}

	p.metrics.EventEmitted(p.business)
	p.logger.Debug("order sent to controller", zap.String("order", ev.ID))
	return nil
}

// trackConnection updates the consecutive connection failure count and
// returns it.
func (p *Poller) trackConnection(err error) int {
	if linkerrors.IsType(err, linkerrors.ErrorTypeConnection) {
		p.connFailures++
	} else {
		p.connFailures = 0
	}
	return p.connFailures
}

func (p *Poller) setState(s State) {
	p.state.Store(int32(s))
}

func sleepContext(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
