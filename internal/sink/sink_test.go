package sink

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama"
	"github.com/IBM/sarama/mocks"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/Naxetee/oficit-FactuLink/internal/event"
	"github.com/Naxetee/oficit-FactuLink/internal/funnel"
	"github.com/Naxetee/oficit-FactuLink/pkg/config"
	"github.com/Naxetee/oficit-FactuLink/pkg/json"
	"github.com/Naxetee/oficit-FactuLink/pkg/linkerrors"
	"github.com/Naxetee/oficit-FactuLink/pkg/metrics"
)

var ts = time.Date(2025, 3, 14, 9, 30, 0, 0, time.UTC)

func testEvent(business, id string) event.Event {
	return event.Event{Business: business, ID: id, CustomerName: "Acme", Timestamp: ts}
}

// recordingSink remembers delivered events and fails the IDs in fail.
type recordingSink struct {
	sent   []event.Event
	fail   map[string]bool
	closed bool
}

func (s *recordingSink) Name() string { return "recording" }

func (s *recordingSink) Send(_ context.Context, ev event.Event) error {
	if s.fail[ev.ID] {
		return errors.New("controller unavailable")
	}
	s.sent = append(s.sent, ev)
	return nil
}

func (s *recordingSink) Close() error {
	s.closed = true
	return nil
}

func TestDrainDeliversInOrderUntilClosed(t *testing.T) {
	f := funnel.New()
	for _, id := range []string{"A-000101", "A-000102", "A-000103"} {
		require.NoError(t, f.Enqueue(testEvent("NORTE", id)))
	}
	f.Close()

	s := &recordingSink{}
	n := Drain(context.Background(), f, s, nil, zap.NewNop())

	assert.Equal(t, 3, n)
	require.Len(t, s.sent, 3)
	assert.Equal(t, "A-000101", s.sent[0].ID)
	assert.Equal(t, "A-000103", s.sent[2].ID)
}

func TestDrainDropsFailedSends(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	reg := prometheus.NewRegistry()
	m := metrics.NewCollector(reg)

	f := funnel.New()
	require.NoError(t, f.Enqueue(testEvent("NORTE", "A-000101")))
	require.NoError(t, f.Enqueue(testEvent("NORTE", "A-000102")))
	f.Close()

	s := &recordingSink{fail: map[string]bool{"A-000101": true}}
	n := Drain(context.Background(), f, s, m, zap.New(core))

	assert.Equal(t, 1, n)
	require.Len(t, s.sent, 1)
	assert.Equal(t, "A-000102", s.sent[0].ID)

	failed := logs.FilterMessage("failed to deliver event to controller").All()
	require.Len(t, failed, 1)
	assert.Equal(t, "A-000101", failed[0].ContextMap()["order"])

	expected := `
# HELP factulink_sink_sent_total Events delivered to the controller sink by status
# TYPE factulink_sink_sent_total counter
factulink_sink_sent_total{sink="recording",status="failure"} 1
factulink_sink_sent_total{sink="recording",status="success"} 1
`
	assert.NoError(t, testutil.GatherAndCompare(reg, strings.NewReader(expected), "factulink_sink_sent_total"))
}

func TestDrainStopsOnContext(t *testing.T) {
	f := funnel.New()
	ctx, cancel := context.WithCancel(context.Background())

	done := make(chan int)
	go func() {
		done <- Drain(ctx, f, &recordingSink{}, nil, zap.NewNop())
	}()

	cancel()
	select {
	case n := <-done:
		assert.Equal(t, 0, n)
	case <-time.After(2 * time.Second):
		t.Fatal("drain did not stop after cancellation")
	}
}

func TestLogSink(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewLogSink(zap.New(core))

	require.NoError(t, s.Send(context.Background(), testEvent("NORTE", "A-000101")))
	require.NoError(t, s.Close())

	entries := logs.FilterMessage("order event").All()
	require.Len(t, entries, 1)
	fields := entries[0].ContextMap()
	assert.Equal(t, "NORTE", fields["business"])
	assert.Equal(t, "A-000101", fields["order"])
	assert.Equal(t, "Acme", fields["customer"])
}

func TestJSONLinesSink(t *testing.T) {
	var buf bytes.Buffer
	s := NewJSONLinesSink(&buf)

	require.NoError(t, s.Send(context.Background(), testEvent("NORTE", "A-000101")))
	require.NoError(t, s.Send(context.Background(), testEvent("SUR", "B-000007")))
	require.NoError(t, s.Close())

	scanner := bufio.NewScanner(&buf)
	var lines []string
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}
	require.Len(t, lines, 2)
	assert.JSONEq(t,
		`{"empresa":"NORTE","id":"A-000101","nombre_cliente":"Acme","timestamp":1741944600}`,
		lines[0])

	var ev event.Event
	require.NoError(t, json.Unmarshal([]byte(lines[1]), &ev))
	assert.Equal(t, "B-000007", ev.ID)
}

func TestOpenJSONLinesSinkAppendsToFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "events.jsonl")

	for i := 0; i < 2; i++ {
		s, err := OpenJSONLinesSink(path)
		require.NoError(t, err)
		require.NoError(t, s.Send(context.Background(), testEvent("NORTE", "A-000101")))
		require.NoError(t, s.Close())
		require.NoError(t, s.Close())
	}

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 2, bytes.Count(data, []byte("\n")))
}

func TestOpenJSONLinesSinkBadPath(t *testing.T) {
	_, err := OpenJSONLinesSink(filepath.Join(t.TempDir(), "missing", "events.jsonl"))
	require.Error(t, err)
	assert.True(t, linkerrors.IsType(err, linkerrors.ErrorTypeConfig))
}

func TestKafkaSink(t *testing.T) {
	producer := mocks.NewSyncProducer(t, nil)
	producer.ExpectSendMessageWithMessageCheckerFunctionAndSucceed(func(msg *sarama.ProducerMessage) error {
		assert.Equal(t, "orders", msg.Topic)
		key, err := msg.Key.Encode()
		require.NoError(t, err)
		assert.Equal(t, "NORTE", string(key))
		value, err := msg.Value.Encode()
		require.NoError(t, err)
		assert.JSONEq(t,
			`{"empresa":"NORTE","id":"A-000101","nombre_cliente":"Acme","timestamp":1741944600}`,
			string(value))
		return nil
	})
	producer.ExpectSendMessageAndFail(sarama.ErrOutOfBrokers)

	s := NewKafkaSinkWithProducer(producer, "orders")
	assert.Equal(t, "kafka", s.Name())

	require.NoError(t, s.Send(context.Background(), testEvent("NORTE", "A-000101")))

	err := s.Send(context.Background(), testEvent("NORTE", "A-000102"))
	require.Error(t, err)
	assert.True(t, linkerrors.IsType(err, linkerrors.ErrorTypeConnection))
	assert.ErrorIs(t, err, sarama.ErrOutOfBrokers)

	require.NoError(t, s.Close())
}

func TestOpen(t *testing.T) {
	s, err := Open(config.SinkConfig{Type: config.SinkLog}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "log", s.Name())

	s, err = Open(config.SinkConfig{Type: config.SinkJSONL, Path: "-"}, zap.NewNop())
	require.NoError(t, err)
	assert.Equal(t, "jsonl", s.Name())

	_, err = Open(config.SinkConfig{Type: "smtp"}, zap.NewNop())
	require.Error(t, err)
	assert.True(t, linkerrors.IsType(err, linkerrors.ErrorTypeConfig))
}

// blockingSink never returns from Send until unblock is closed.
type blockingSink struct {
	unblock chan struct{}
}

func (s *blockingSink) Name() string { return "blocking" }

func (s *blockingSink) Send(context.Context, event.Event) error {
	<-s.unblock
	return nil
}

func (s *blockingSink) Close() error { return nil }

func TestDeliveryStopAfterDrain(t *testing.T) {
	f := funnel.New()
	require.NoError(t, f.Enqueue(testEvent("NORTE", "A-000101")))
	require.NoError(t, f.Enqueue(testEvent("SUR", "B-000001")))

	s := &recordingSink{}
	d := Start(f, s, nil, zap.NewNop())
	f.Close()

	assert.True(t, d.Stop(2*time.Second))
	assert.Equal(t, 2, d.Delivered())
	assert.Len(t, s.sent, 2)
}

func TestDeliveryStopIsBoundedByTimeout(t *testing.T) {
	f := funnel.New()
	for _, id := range []string{"A-000101", "A-000102", "A-000103"} {
		require.NoError(t, f.Enqueue(testEvent("NORTE", id)))
	}
	f.Close()

	s := &blockingSink{unblock: make(chan struct{})}
	defer close(s.unblock)

	d := Start(f, s, nil, zap.NewNop())

	start := time.Now()
	assert.False(t, d.Stop(50*time.Millisecond))
	assert.Less(t, time.Since(start), time.Second)
	assert.Equal(t, 2, f.Len(), "events behind the blocked send stay queued")
}

func TestDrainSkipsRemainingEventsAfterCancel(t *testing.T) {
	f := funnel.New()
	require.NoError(t, f.Enqueue(testEvent("NORTE", "A-000101")))
	f.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	s := &recordingSink{}
	assert.Equal(t, 0, Drain(ctx, f, s, nil, zap.NewNop()))
	assert.Empty(t, s.sent)
	assert.Equal(t, 1, f.Len())
}

func TestSinksRefuseCancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	var buf bytes.Buffer
	assert.ErrorIs(t, NewJSONLinesSink(&buf).Send(ctx, testEvent("NORTE", "A-000101")), context.Canceled)
	assert.Zero(t, buf.Len())

	producer := mocks.NewSyncProducer(t, nil)
	k := NewKafkaSinkWithProducer(producer, "orders")
	assert.ErrorIs(t, k.Send(ctx, testEvent("NORTE", "A-000101")), context.Canceled)
	require.NoError(t, k.Close())
}
