// Package orchestrator starts one poller per business source and stops them
// on shutdown.
package orchestrator

import (
	"context"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/Naxetee/oficit-FactuLink/internal/poller"
	"github.com/Naxetee/oficit-FactuLink/internal/source"
	"github.com/Naxetee/oficit-FactuLink/pkg/config"
	"github.com/Naxetee/oficit-FactuLink/pkg/linkerrors"
	"github.com/Naxetee/oficit-FactuLink/pkg/metrics"
)

// DefaultShutdownTimeout bounds the wait for pollers after cancellation.
const DefaultShutdownTimeout = 5 * time.Second

// SourceFactory builds the source of one business.
type SourceFactory func(sc config.SourceConfig) (poller.Source, error)

// Orchestrator owns the pollers of every non-main business.
type Orchestrator struct {
	pollers         []*poller.Poller
	shutdownTimeout time.Duration
	logger          *zap.Logger
}

// Option configures New.
type Option func(*options)

type options struct {
	logger  *zap.Logger
	metrics *metrics.Collector
	factory SourceFactory
	sleep   poller.SleepFunc
}

// WithLogger sets the logger for the orchestrator, its pollers and
// connectors.
func WithLogger(l *zap.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithMetrics instruments every poller.
func WithMetrics(m *metrics.Collector) Option {
	return func(o *options) { o.metrics = m }
}

// WithSourceFactory replaces the database connectors.
func WithSourceFactory(f SourceFactory) Option {
	return func(o *options) { o.factory = f }
}

// WithSleep replaces the pollers' idle wait.
func WithSleep(fn poller.SleepFunc) Option {
	return func(o *options) { o.sleep = fn }
}

// New builds a poller for every configured source except the main
// business. Each poller enqueues into out.
func New(cfg *config.Config, out poller.Enqueuer, opts ...Option) (*Orchestrator, error) {
	o := options{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(&o)
	}
	if o.factory == nil {
		o.factory = ConnectorFactory(cfg, o.logger)
	}

	pollCfg := poller.Config{
		Interval: cfg.Poll.Interval,
		Backoff: poller.Backoff{
			Enabled:     cfg.Poll.Backoff.Enabled,
			Multiplier:  cfg.Poll.Backoff.Multiplier,
			MaxInterval: cfg.Poll.Backoff.MaxInterval,
		},
	}

	var pollers []*poller.Poller
	for _, sc := range cfg.PolledSources() {
		src, err := o.factory(sc)
		if err != nil {
			return nil, linkerrors.Wrap(err, linkerrors.TypeOf(err), "failed to build source").
				WithDetail("business", sc.Name)
		}

		popts := []poller.Option{
			poller.WithConfig(pollCfg),
			poller.WithLogger(o.logger.With(zap.String("component", "poller"))),
			poller.WithMetrics(o.metrics),
		}
		if o.sleep != nil {
			popts = append(popts, poller.WithSleep(o.sleep))
		}
		pollers = append(pollers, poller.New(sc.Name, src, out, popts...))
	}

	if cfg.MainBusiness != "" {
		o.logger.Info("main business is not polled", zap.String("business", cfg.MainBusiness))
	}

	timeout := cfg.ShutdownTimeout
	if timeout <= 0 {
		timeout = DefaultShutdownTimeout
	}

	return &Orchestrator{
		pollers:         pollers,
		shutdownTimeout: timeout,
		logger:          o.logger,
	}, nil
}

// ConnectorFactory returns a SourceFactory opening read-only database
// connectors as described by cfg.
func ConnectorFactory(cfg *config.Config, logger *zap.Logger) SourceFactory {
	table := cfg.SourceTable()

	return func(sc config.SourceConfig) (poller.Source, error) {
		driver, err := source.LookupDriver(cfg.SourceDriver(sc))
		if err != nil {
			return nil, err
		}
		c, err := source.NewConnector(sc.Name, sc.Path, driver, table,
			logger.With(zap.String("component", "connector"), zap.String("business", sc.Name)))
		if err != nil {
			return nil, err
		}
		return c, nil
	}
}

// Pollers returns the managed pollers in configuration order.
func (o *Orchestrator) Pollers() []*poller.Poller {
	return o.pollers
}

// Run starts every poller in its own goroutine and blocks until ctx is
// done. It then waits up to the shutdown timeout for the pollers to stop
// and reports whether all of them did. Pollers still running after the
// timeout are abandoned.
func (o *Orchestrator) Run(ctx context.Context) bool {
	businesses := make([]string, 0, len(o.pollers))
	for _, p := range o.pollers {
		businesses = append(businesses, p.Business())
	}
	o.logger.Info("starting listeners", zap.Strings("businesses", businesses))

	var g errgroup.Group
	for _, p := range o.pollers {
		p := p
		g.Go(func() error {
			p.Run(ctx)
			return nil
		})
	}

	stopped := make(chan struct{})
	go func() {
		_ = g.Wait()
		close(stopped)
	}()

	<-ctx.Done()
	o.logger.Info("shutdown requested, waiting for listeners",
		zap.Duration("timeout", o.shutdownTimeout))

	timer := time.NewTimer(o.shutdownTimeout)
	defer timer.Stop()

	select {
	case <-stopped:
		o.logger.Info("all listeners stopped")
		return true
	case <-timer.C:
		var running []string
		for _, p := range o.pollers {
			if p.State() != poller.StateStopped {
				running = append(running, p.Business())
			}
		}
		o.logger.Warn("shutdown timeout reached, abandoning listeners", zap.Strings("running", running))
		return false
	}
}
