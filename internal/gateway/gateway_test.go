package gateway

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	clocktesting "k8s.io/utils/clock/testing"

	"github.com/armadaproject/tracelens/internal/model"
	"github.com/armadaproject/tracelens/internal/queue"
)

var receivedAt = time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC)

type countingMetrics struct {
	enqueued, failed, rejected map[queue.JobKind]int
}

func newCountingMetrics() *countingMetrics {
	return &countingMetrics{
		enqueued: map[queue.JobKind]int{},
		failed:   map[queue.JobKind]int{},
		rejected: map[queue.JobKind]int{},
	}
}

func (m *countingMetrics) RecordEnqueued(kind queue.JobKind, n int)      { m.enqueued[kind] += n }
func (m *countingMetrics) RecordEnqueueFailed(kind queue.JobKind, n int) { m.failed[kind] += n }
func (m *countingMetrics) RecordRejected(kind queue.JobKind, n int)      { m.rejected[kind] += n }

// failingQueue rejects every enqueue.
type failingQueue struct {
	queue.Queue
	calls int
}

func (q *failingQueue) Enqueue(context.Context, ...*queue.Job) error {
	q.calls++
	return errors.New("redis unavailable")
}

func post(t *testing.T, g *Gateway, body string, apiKey string) *httptest.ResponseRecorder {
	e := echo.New()
	req := httptest.NewRequest(http.MethodPost, "/runs/batch", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	if apiKey != "" {
		req.Header.Set(ApiKeyHeader, apiKey)
	}
	rec := httptest.NewRecorder()
	require.NoError(t, g.HandleBatch(e.NewContext(req, rec)))
	return rec
}

func drain(t *testing.T, q queue.Queue) []*queue.Job {
	var jobs []*queue.Job
	for {
		job, err := q.Reserve(context.Background())
		require.NoError(t, err)
		if job == nil {
			return jobs
		}
		jobs = append(jobs, job)
	}
}

func decode(t *testing.T, job *queue.Job) *model.RunEvent {
	event := &model.RunEvent{}
	require.NoError(t, json.Unmarshal(job.Data, event))
	return event
}

func TestHandleBatch_EnqueuesWithPriorities(t *testing.T) {
	clock := clocktesting.NewFakeClock(receivedAt)
	q := queue.NewMemoryQueue(queue.DefaultOptions(), clock)
	metrics := newCountingMetrics()
	g := New(q, DefaultConfig(), clock, metrics)

	body := `{
		"patch": [{"id": "r1", "error": "boom"}],
		"post": [{"id": "r1", "run_type": "chain", "api_key": "own-key", "inputs": {"z": 1, "a": 2}}, {"id": "r2", "run_type": "tool"}]
	}`
	rec := post(t, g, body, "header-key")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.JSONEq(t, `{"message":"Runs batch ingested"}`, rec.Body.String())

	jobs := drain(t, q)
	require.Len(t, jobs, 3)
	assert.Equal(t, []queue.JobKind{queue.KindCreate, queue.KindCreate, queue.KindUpdate},
		[]queue.JobKind{jobs[0].Kind, jobs[1].Kind, jobs[2].Kind})
	assert.Equal(t, []int{10, 10, 20}, []int{jobs[0].Priority, jobs[1].Priority, jobs[2].Priority})
	assert.Equal(t, "r1", jobs[0].RunId)

	first := decode(t, jobs[0])
	assert.Equal(t, "own-key", first.ApiKey)
	require.NotNil(t, first.ServerCreatedAt)
	assert.True(t, receivedAt.Equal(*first.ServerCreatedAt))
	assert.Equal(t, []string{"z", "a"}, first.Inputs.Keys())

	assert.Equal(t, "header-key", decode(t, jobs[1]).ApiKey)
	assert.Equal(t, "boom", decode(t, jobs[2]).Error)

	assert.Equal(t, 2, metrics.enqueued[queue.KindCreate])
	assert.Equal(t, 1, metrics.enqueued[queue.KindUpdate])
}

func TestHandleBatch_SkipsMalformedEvents(t *testing.T) {
	clock := clocktesting.NewFakeClock(receivedAt)
	q := queue.NewMemoryQueue(queue.DefaultOptions(), clock)
	metrics := newCountingMetrics()
	g := New(q, DefaultConfig(), clock, metrics)

	rec := post(t, g, `{"post": [42, {"id": "r1", "run_type": "chain"}]}`, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Len(t, drain(t, q), 1)
	assert.Equal(t, 1, metrics.rejected[queue.KindCreate])
}

func TestHandleBatch_AcceptsWhenEnqueueFails(t *testing.T) {
	q := &failingQueue{}
	metrics := newCountingMetrics()
	g := New(q, DefaultConfig(), clocktesting.NewFakeClock(receivedAt), metrics)

	rec := post(t, g, `{"post": [{"id": "r1"}], "patch": [{"id": "r1"}]}`, "")
	assert.Equal(t, http.StatusAccepted, rec.Code)
	assert.Equal(t, 2, q.calls)
	assert.Equal(t, 1, metrics.failed[queue.KindCreate])
	assert.Equal(t, 1, metrics.failed[queue.KindUpdate])
}

func TestHandleBatch_MalformedBody(t *testing.T) {
	tests := map[string]string{
		"not json":         `not json`,
		"truncated":        `{"post": [{"id": "r1"}`,
		"array body":       `[{"id": "r1"}]`,
		"post not a list":  `{"post": {"id": "r1"}}`,
		"patch not a list": `{"patch": "r1"}`,
	}
	for name, body := range tests {
		t.Run(name, func(t *testing.T) {
			q := &failingQueue{}
			metrics := newCountingMetrics()
			g := New(q, DefaultConfig(), clocktesting.NewFakeClock(receivedAt), metrics)

			rec := post(t, g, body, "")
			assert.Equal(t, http.StatusAccepted, rec.Code)
			assert.JSONEq(t, `{"message":"Runs batch ingested"}`, rec.Body.String())
			assert.Equal(t, 0, q.calls)
			assert.Equal(t, 1, metrics.rejected[KindBatch])
		})
	}
}

func TestIngest_AggregatesErrors(t *testing.T) {
	g := New(&failingQueue{}, DefaultConfig(), clocktesting.NewFakeClock(receivedAt), nil)
	batch := &Batch{
		Post:  []json.RawMessage{json.RawMessage(`{"id":"r1"}`)},
		Patch: []json.RawMessage{json.RawMessage(`{"id":"r1"}`)},
	}
	err := g.Ingest(context.Background(), batch, "")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "2 errors occurred")

	// nothing to enqueue is not an error
	assert.NoError(t, g.Ingest(context.Background(), &Batch{}, ""))
}

func TestHandleQueueCounts(t *testing.T) {
	clock := clocktesting.NewFakeClock(receivedAt)
	q := queue.NewMemoryQueue(queue.DefaultOptions(), clock)
	require.NoError(t, q.Enqueue(context.Background(), &queue.Job{Kind: queue.KindCreate}, &queue.Job{Kind: queue.KindUpdate}))

	e := echo.New()
	req := httptest.NewRequest(http.MethodGet, "/queue/counts", nil)
	rec := httptest.NewRecorder()
	require.NoError(t, HandleQueueCounts(q)(e.NewContext(req, rec)))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t,
		`{"counts":{"waiting":2,"active":0,"delayed":0,"completed":0,"failed":0},"total":2}`,
		rec.Body.String())
}
