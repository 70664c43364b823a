package metrics

import (
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"

	"github.com/armadaproject/tracelens/internal/queue"
)

func TestMetrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	m := NewMetrics(MetricsPrefix, reg)

	m.RecordEnqueued(queue.KindCreate, 3)
	m.RecordEnqueueFailed(queue.KindUpdate, 2)
	m.RecordRejected(queue.KindCreate, 1)
	m.RecordJobProcessed(queue.KindCreate, "success", 20*time.Millisecond)
	m.RecordJobProcessed(queue.KindCreate, "success", 30*time.Millisecond)
	m.RecordJobDropped(queue.KindUpdate, "exhausted")
	m.RecordRunStored(queue.KindCreate, time.Second)
	m.RecordJobsCleaned(queue.StateCompleted, 4)
	m.RecordJobsRequeued(2)
	m.SetQueueDepth(queue.Counts{queue.StateWaiting: 7})

	assert.Equal(t, 3.0, testutil.ToFloat64(m.jobsEnqueued.WithLabelValues("create")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsEnqueueFailed.WithLabelValues("update")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.eventsRejected.WithLabelValues("create")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsProcessed.WithLabelValues("create", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.jobsDropped.WithLabelValues("update", "exhausted")))
	assert.Equal(t, 4.0, testutil.ToFloat64(m.jobsCleaned.WithLabelValues("completed")))
	assert.Equal(t, 2.0, testutil.ToFloat64(m.jobsRequeued))
	assert.Equal(t, 7.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("waiting")))
	assert.Equal(t, 0.0, testutil.ToFloat64(m.queueDepth.WithLabelValues("failed")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.processingDuration))
}

func TestNewMetrics_SeparateRegistries(t *testing.T) {
	assert.NotPanics(t, func() {
		NewMetrics(MetricsPrefix, prometheus.NewRegistry())
		NewMetrics(MetricsPrefix, prometheus.NewRegistry())
	})
}
