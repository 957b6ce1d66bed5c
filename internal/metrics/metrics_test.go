package metrics

import (
	"errors"
	"io"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMetrics_Counters(t *testing.T) {
	m := New()

	m.MessageReceived("up")
	m.MessageReceived("up")
	m.MessageDropped("queue_full")
	m.Alarm("HIGH", AlarmFired)
	m.Alarm("HIGH", AlarmDebounced)
	m.Notification("email", nil)
	m.Notification("webhook", errors.New("timeout"))
	m.SetQueueDepth(5)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.messagesReceived.WithLabelValues("up")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.messagesDropped.WithLabelValues("queue_full")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alarms.WithLabelValues("HIGH", AlarmFired)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.alarms.WithLabelValues("HIGH", AlarmDebounced)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("email", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.notifications.WithLabelValues("webhook", ResultError)))
	assert.Equal(t, 5.0, testutil.ToFloat64(m.queueDepth))
}

func TestMetrics_SchedulerRun(t *testing.T) {
	m := New()

	m.SchedulerRun("offline_sweep", ResultSuccess, 20*time.Millisecond)
	m.SchedulerRun("offline_sweep", ResultPanic, time.Millisecond)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.schedulerRuns.WithLabelValues("offline_sweep", ResultSuccess)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.schedulerRuns.WithLabelValues("offline_sweep", ResultPanic)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.schedulerDuration))
}

func TestMetrics_NilReceiver(t *testing.T) {
	var m *Metrics

	assert.NotPanics(t, func() {
		m.MessageReceived("up")
		m.MessageDropped("queue_full")
		m.SetQueueDepth(1)
		m.Alarm("HIGH", AlarmFired)
		m.Notification("sms", nil)
		m.SchedulerRun("health", ResultSuccess, time.Second)
	})
}

func TestMetrics_Handler(t *testing.T) {
	m := New()
	m.MessageReceived("status")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest("GET", "/metrics", nil))

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Equal(t, 200, rec.Code)
	assert.Contains(t, string(body), `mcs_messages_received_total{kind="status"} 1`)
}
