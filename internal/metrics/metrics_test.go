package metrics

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := New(reg)

	m.Warning("orphan_flow")
	m.Warning("orphan_flow")
	m.PhaseEntered("live")
	m.FlowAdded("inbound")
	m.FlowAdded("inbound")
	m.FlowRemoved("inbound")
	m.SessionStarted()
	m.Handshake("connect", 30*time.Millisecond, nil)
	m.Handshake("produce", time.Second, errors.New("timeout"))

	assert.Equal(t, 2.0, testutil.ToFloat64(m.warnings.WithLabelValues("orphan_flow")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.transitions.WithLabelValues("live")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.flows.WithLabelValues("inbound")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sessions))

	n, err := testutil.GatherAndCount(reg, "meet_handshake_duration_seconds")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	err = testutil.GatherAndCompare(reg, strings.NewReader(`
# HELP meet_warnings_total Recoverable problems by reason.
# TYPE meet_warnings_total counter
meet_warnings_total{reason="orphan_flow"} 2
`), "meet_warnings_total")
	assert.NoError(t, err)
}

func TestMetrics_NilIsNoop(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.Warning("x")
		m.PhaseEntered("live")
		m.Handshake("connect", time.Millisecond, nil)
		m.FlowAdded("outbound")
		m.FlowRemoved("outbound")
		m.SessionStarted()
		m.SessionEnded()
		m.EventDropped()
	})
}
