package metrics

import (
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCollector(t *testing.T) {
	reg := prometheus.NewRegistry()
	c := NewCollector(reg)

	c.EventEmitted("OFICIT")
	c.EventEmitted("OFICIT")
	c.PollError("OFICIT", "query")
	c.SetWatermark("OFICIT", 103)
	c.ObservePoll("OFICIT", 12*time.Millisecond)
	c.SetFunnelDepth(4)
	c.SinkSent("log", nil)
	c.SinkSent("log", errors.New("down"))

	assert.Equal(t, 2.0, testutil.ToFloat64(c.eventsEmitted.WithLabelValues("OFICIT")))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.pollErrors.WithLabelValues("OFICIT", "query")))
	assert.Equal(t, 103.0, testutil.ToFloat64(c.watermark.WithLabelValues("OFICIT")))
	assert.Equal(t, 4.0, testutil.ToFloat64(c.funnelDepth))
	assert.Equal(t, 1.0, testutil.ToFloat64(c.sinkSent.WithLabelValues("log", "failure")))
	assert.Equal(t, 1, testutil.CollectAndCount(c.pollDuration))
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	assert.NotPanics(t, func() {
		c.EventEmitted("x")
		c.PollError("x", "connection")
		c.SetWatermark("x", 1)
		c.ObservePoll("x", time.Second)
		c.SetFunnelDepth(1)
		c.SinkSent("x", nil)
	})
}

func TestHandler(t *testing.T) {
	reg := prometheus.NewRegistry()
	NewCollector(reg).EventEmitted("OFICIT")

	srv := httptest.NewServer(Handler(reg))
	defer srv.Close()

	resp, err := http.Get(srv.URL + "/metrics")
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, http.StatusOK, resp.StatusCode)

	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `factulink_events_emitted_total{business="OFICIT"} 1`)

	health, err := http.Get(srv.URL + "/healthz")
	require.NoError(t, err)
	health.Body.Close()
	assert.Equal(t, http.StatusOK, health.StatusCode)
}
