package orchestrator

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/Naxetee/oficit-FactuLink/internal/event"
	"github.com/Naxetee/oficit-FactuLink/internal/funnel"
	"github.com/Naxetee/oficit-FactuLink/internal/poller"
	"github.com/Naxetee/oficit-FactuLink/internal/source"
	"github.com/Naxetee/oficit-FactuLink/pkg/config"
	"github.com/Naxetee/oficit-FactuLink/pkg/linkerrors"
	"github.com/Naxetee/oficit-FactuLink/pkg/testutil"
)

// staticSource holds a fixed set of orders.
type staticSource struct {
	mu     sync.Mutex
	orders []source.Order
}

func (s *staticSource) add(o source.Order) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.orders = append(s.orders, o)
}

func (s *staticSource) MaxID(context.Context) (int64, bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if len(s.orders) == 0 {
		return 0, false, nil
	}
	return s.orders[len(s.orders)-1].ID, true, nil
}

func (s *staticSource) AllOrders(ctx context.Context) ([]source.Order, error) {
	return s.OrdersAfter(ctx, -1)
}

func (s *staticSource) OrdersAfter(_ context.Context, id int64) ([]source.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []source.Order
	for _, o := range s.orders {
		if o.ID > id {
			out = append(out, o)
		}
	}
	return out, nil
}

// stuckSource blocks in MaxID until release is closed, ignoring ctx.
type stuckSource struct {
	staticSource
	release chan struct{}
}

func (s *stuckSource) MaxID(context.Context) (int64, bool, error) {
	<-s.release
	return 0, false, nil
}

func testConfig(sources ...string) *config.Config {
	cfg := config.Default()
	cfg.MainBusiness = "OFICIT"
	cfg.Poll.Interval = 10 * time.Millisecond
	cfg.ShutdownTimeout = time.Second
	for _, name := range sources {
		cfg.Sources = append(cfg.Sources, config.SourceConfig{Name: name, Path: name + ".db"})
	}
	return cfg
}

func TestNewSkipsMainBusiness(t *testing.T) {
	cfg := testConfig("OFICIT", "NORTE", "SUR")
	var built []string

	o, err := New(cfg, funnel.New(), WithSourceFactory(func(sc config.SourceConfig) (poller.Source, error) {
		built = append(built, sc.Name)
		return &staticSource{}, nil
	}))
	require.NoError(t, err)

	assert.Equal(t, []string{"NORTE", "SUR"}, built)
	require.Len(t, o.Pollers(), 2)
	assert.Equal(t, "NORTE", o.Pollers()[0].Business())
	assert.Equal(t, "SUR", o.Pollers()[1].Business())
}

func TestNewFactoryError(t *testing.T) {
	cfg := testConfig("OFICIT", "NORTE")
	_, err := New(cfg, funnel.New(), WithSourceFactory(func(config.SourceConfig) (poller.Source, error) {
		return nil, linkerrors.New(linkerrors.ErrorTypeConfig, "unknown driver")
	}))
	require.Error(t, err)
	assert.True(t, linkerrors.IsType(err, linkerrors.ErrorTypeConfig))
	assert.Contains(t, err.Error(), "unknown driver")
}

func TestRunEmitsNewOrdersAndStops(t *testing.T) {
	cfg := testConfig("OFICIT", "NORTE", "SUR")
	sources := map[string]*staticSource{
		"NORTE": {orders: []source.Order{{TypeCode: "A", ID: 100, CustomerName: "Old"}}},
		"SUR":   {},
	}
	f := funnel.New()

	o, err := New(cfg, f, WithSourceFactory(func(sc config.SourceConfig) (poller.Source, error) {
		return sources[sc.Name], nil
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, p := range o.Pollers() {
			if p.State() == poller.StateInitializing {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	sources["NORTE"].add(source.Order{TypeCode: "A", ID: 101, CustomerName: "Acme"})
	sources["SUR"].add(source.Order{TypeCode: "B", ID: 1, CustomerName: "Beta"})

	require.Eventually(t, func() bool { return f.Len() == 2 }, 2*time.Second, 5*time.Millisecond)
	cancel()

	select {
	case clean := <-done:
		assert.True(t, clean)
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not return after cancellation")
	}

	ids := map[string]string{}
	for f.Len() > 0 {
		ev, ok := f.TryDequeue()
		require.True(t, ok)
		ids[ev.Business] = ev.ID
	}
	assert.Equal(t, map[string]string{"NORTE": "A-000101", "SUR": "B-000001"}, ids)

	for _, p := range o.Pollers() {
		assert.Equal(t, poller.StateStopped, p.State())
	}
}

// refusingFunnel rejects the listed events of a business and queues the rest.
type refusingFunnel struct {
	*funnel.Funnel

	mu       sync.Mutex
	refuse   map[string]bool
	attempts map[string]int
}

func (f *refusingFunnel) Enqueue(ev event.Event) error {
	key := ev.Business + "/" + ev.ID
	f.mu.Lock()
	f.attempts[key]++
	refused := f.refuse[key]
	f.mu.Unlock()

	if refused {
		return errors.New("controller rejected event")
	}
	return f.Funnel.Enqueue(ev)
}

func (f *refusingFunnel) attemptsOf(key string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.attempts[key]
}

func TestRunPoisonRecordIsolatedPerSource(t *testing.T) {
	cfg := testConfig("OFICIT", "NORTE", "SUR")
	sources := map[string]*staticSource{
		"NORTE": {orders: []source.Order{{TypeCode: "A", ID: 100, CustomerName: "Old"}}},
		"SUR":   {},
	}
	out := &refusingFunnel{
		Funnel:   funnel.New(),
		refuse:   map[string]bool{"NORTE/A-000101": true},
		attempts: map[string]int{},
	}

	o, err := New(cfg, out, WithSourceFactory(func(sc config.SourceConfig) (poller.Source, error) {
		return sources[sc.Name], nil
	}))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan bool)
	go func() { done <- o.Run(ctx) }()

	require.Eventually(t, func() bool {
		for _, p := range o.Pollers() {
			if p.State() == poller.StateInitializing {
				return false
			}
		}
		return true
	}, 2*time.Second, 5*time.Millisecond)

	sources["NORTE"].add(source.Order{TypeCode: "A", ID: 101, CustomerName: "Acme"})
	sources["NORTE"].add(source.Order{TypeCode: "A", ID: 102, CustomerName: "Beta"})
	sources["SUR"].add(source.Order{TypeCode: "B", ID: 1, CustomerName: "Gamma"})

	// NORTE keeps retrying its first order while SUR goes through
	require.Eventually(t, func() bool {
		return out.attemptsOf("NORTE/A-000101") >= 3 && out.Len() == 1
	}, 2*time.Second, 5*time.Millisecond)

	cancel()
	require.True(t, <-done)

	var delivered []string
	for out.Len() > 0 {
		ev, ok := out.TryDequeue()
		require.True(t, ok)
		delivered = append(delivered, ev.Business+"/"+ev.ID)
	}
	assert.Equal(t, []string{"SUR/B-000001"}, delivered)
	assert.Zero(t, out.attemptsOf("NORTE/A-000102"), "later NORTE orders wait behind the stalled one")

	for _, p := range o.Pollers() {
		id, ok := p.Watermark().Value()
		require.True(t, ok)
		switch p.Business() {
		case "NORTE":
			assert.Equal(t, int64(100), id)
		case "SUR":
			assert.Equal(t, int64(1), id)
		}
	}
}

func TestRunAbandonsStuckPollers(t *testing.T) {
	cfg := testConfig("OFICIT", "NORTE")
	cfg.ShutdownTimeout = 50 * time.Millisecond
	stuck := &stuckSource{release: make(chan struct{})}
	defer close(stuck.release)

	log, logs := testutil.ObservedLogger(zapcore.InfoLevel)
	o, err := New(cfg, funnel.New(),
		WithLogger(log),
		WithSourceFactory(func(config.SourceConfig) (poller.Source, error) { return stuck, nil }))
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	start := time.Now()
	assert.False(t, o.Run(ctx))
	assert.Less(t, time.Since(start), time.Second)

	warn := logs.FilterMessage("shutdown timeout reached, abandoning listeners").All()
	require.Len(t, warn, 1)
	assert.Equal(t, poller.StateInitializing, o.Pollers()[0].State())
}

func TestDefaultShutdownTimeout(t *testing.T) {
	cfg := testConfig("OFICIT")
	cfg.ShutdownTimeout = 0
	o, err := New(cfg, funnel.New())
	require.NoError(t, err)
	assert.Equal(t, DefaultShutdownTimeout, o.shutdownTimeout)
	assert.Empty(t, o.Pollers())
}

func TestConnectorFactory(t *testing.T) {
	path := testutil.CreateOrdersDB(t, t.TempDir(), "NOR2025.db",
		testutil.Row{TypeCode: "A", ID: 7, Customer: "Acme"},
		testutil.Row{TypeCode: "A", ID: 9, Customer: "Acme"},
	).Path

	cfg := config.Default()
	src, err := ConnectorFactory(cfg, zap.NewNop())(config.SourceConfig{Name: "NORTE", Path: path})
	require.NoError(t, err)

	maxID, ok, err := src.MaxID(testutil.TestContext(t, 5*time.Second))
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, int64(9), maxID)

	_, err = ConnectorFactory(cfg, zap.NewNop())(config.SourceConfig{Name: "NORTE", Path: path, Driver: "odbc"})
	require.Error(t, err)
	assert.True(t, linkerrors.IsType(err, linkerrors.ErrorTypeConfig))
}
