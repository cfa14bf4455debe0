package metrics

import (
	"context"
	"io"
	"net"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRecorders(t *testing.T) {
	m := New()
	m.RecordRequest(0, time.Second)
	m.RecordRequest(0, 2*time.Second)
	m.RecordRequest(2, time.Second)
	m.RecordRejected("bad_token")
	m.RecordRejected("")
	m.RecordRebind()
	m.SetWorkers(3)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.Requests.WithLabelValues("0")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Requests.WithLabelValues("2")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejected.WithLabelValues("bad_token")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rejected.WithLabelValues("unknown")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.Rebinds))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.Workers))
}

func TestNilMetricsAreNoops(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.RecordRequest(1, time.Second)
		m.RecordRejected("x")
		m.RecordRebind()
		m.SetWorkers(1)
	})
}

func TestServeListener(t *testing.T) {
	m := New()
	m.RecordRebind()

	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- m.ServeListener(ctx, ln) }()

	resp, err := http.Get("http://" + ln.Addr().String() + "/metrics")
	require.NoError(t, err)
	body, err := io.ReadAll(resp.Body)
	resp.Body.Close()
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), "askd_rebinds_total 1"))

	cancel()
	select {
	case err := <-done:
		assert.NoError(t, err)
	case <-time.After(3 * time.Second):
		t.Fatal("metrics server did not stop")
	}
}
