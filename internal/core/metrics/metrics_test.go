package metrics

import (
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetricsRecorded(t *testing.T) {
	reg := prometheus.NewRegistry()
	m, err := New(reg)
	require.NoError(t, err)

	m.NotificationDropped("/foo", ReasonNotOpen)
	m.NotificationDropped("/foo", ReasonNotOpen)
	m.NotificationSent("/foo", 10)
	m.NotificationReceived("/foo", 4)
	m.SubstreamOpened("/foo")
	m.SubstreamOpened("/foo")
	m.SubstreamClosed("/foo")
	m.SetSlots("0", 2, 3)
	m.SubscriberOverflow()

	assert.Equal(t, 2.0, testutil.ToFloat64(m.dropped.WithLabelValues("/foo", ReasonNotOpen)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.sent.WithLabelValues("/foo")))
	assert.Equal(t, 10.0, testutil.ToFloat64(m.bytes.WithLabelValues("/foo", DirOut)))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.bytes.WithLabelValues("/foo", DirIn)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.open.WithLabelValues("/foo")))
	assert.Equal(t, 3.0, testutil.ToFloat64(m.slots.WithLabelValues("0", DirOut)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.overflows))

	n, err := testutil.GatherAndCount(reg)
	require.NoError(t, err)
	assert.Positive(t, n)
}

func TestDuplicateRegistration(t *testing.T) {
	reg := prometheus.NewRegistry()
	_, err := New(reg)
	require.NoError(t, err)
	_, err = New(reg)
	assert.Error(t, err)

	// 不注册时可以任意创建
	_, err = New(nil)
	assert.NoError(t, err)
}

func TestNilMetricsSafe(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.NotificationDropped("/foo", ReasonTooLarge)
		m.NotificationSent("/foo", 1)
		m.SubstreamOpened("/foo")
		m.SetSlots("0", 1, 1)
		m.ConnectionOpened()
		m.ConnectionClosed()
	})
}
