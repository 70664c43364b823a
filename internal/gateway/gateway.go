// Package gateway accepts batches of run events and turns each event into a queued job.
package gateway

import (
	"context"
	"encoding/json"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/tracelens/internal/model"
	"github.com/armadaproject/tracelens/internal/queue"
)

// Batch is the body of an ingestion request. Events are kept raw so that one malformed event does
// not reject the others.
type Batch struct {
	Post  []json.RawMessage `json:"post"`
	Patch []json.RawMessage `json:"patch"`
}

type Config struct {
	// Lower values are dequeued first, so creates should have the lower value.
	CreatePriority int
	UpdatePriority int
}

func DefaultConfig() Config {
	return Config{CreatePriority: 10, UpdatePriority: 20}
}

type Metrics interface {
	RecordEnqueued(kind queue.JobKind, count int)
	RecordEnqueueFailed(kind queue.JobKind, count int)
	RecordRejected(kind queue.JobKind, count int)
}

type Gateway struct {
	queue   queue.Queue
	config  Config
	clock   clock.PassiveClock
	metrics Metrics
}

func New(q queue.Queue, config Config, clock clock.PassiveClock, metrics Metrics) *Gateway {
	return &Gateway{
		queue:   q,
		config:  config,
		clock:   clock,
		metrics: metrics,
	}
}

// Ingest enqueues one create job per post event and one update job per patch event, stamping each
// with the receipt time. Events without an api key get apiKey. Events that are not JSON objects are
// logged and skipped. The returned error aggregates enqueue failures; it is for logging only.
func (g *Gateway) Ingest(ctx context.Context, batch *Batch, apiKey string) error {
	receivedAt := g.clock.Now().UTC()
	var result *multierror.Error
	for _, part := range []struct {
		kind     queue.JobKind
		priority int
		events   []json.RawMessage
	}{
		{queue.KindCreate, g.config.CreatePriority, batch.Post},
		{queue.KindUpdate, g.config.UpdatePriority, batch.Patch},
	} {
		jobs := g.toJobs(part.kind, part.priority, part.events, apiKey, receivedAt)
		if len(jobs) == 0 {
			continue
		}
		if err := g.queue.Enqueue(ctx, jobs...); err != nil {
			g.recordFailed(part.kind, len(jobs))
			result = multierror.Append(result, errors.WithMessagef(err, "enqueueing %d %s jobs", len(jobs), part.kind))
			continue
		}
		if g.metrics != nil {
			g.metrics.RecordEnqueued(part.kind, len(jobs))
		}
	}
	return result.ErrorOrNil()
}

func (g *Gateway) toJobs(kind queue.JobKind, priority int, events []json.RawMessage, apiKey string, receivedAt time.Time) []*queue.Job {
	jobs := make([]*queue.Job, 0, len(events))
	rejected := 0
	for i, raw := range events {
		event := &model.RunEvent{}
		if err := json.Unmarshal(raw, event); err != nil {
			log.WithField("kind", kind).WithError(err).Warnf("Skipping event %d: not a run event", i)
			rejected++
			continue
		}
		if event.ApiKey == "" {
			event.ApiKey = apiKey
		}
		event.ServerCreatedAt = &receivedAt
		data, err := json.Marshal(event)
		if err != nil {
			log.WithField("kind", kind).WithError(err).Warnf("Skipping event %d: cannot be encoded", i)
			rejected++
			continue
		}
		jobs = append(jobs, &queue.Job{
			Kind:     kind,
			RunId:    event.Id,
			Priority: priority,
			Data:     data,
		})
	}
	if rejected > 0 && g.metrics != nil {
		g.metrics.RecordRejected(kind, rejected)
	}
	return jobs
}

func (g *Gateway) recordFailed(kind queue.JobKind, count int) {
	if g.metrics != nil {
		g.metrics.RecordEnqueueFailed(kind, count)
	}
}
