// Package merger turns queued create and update jobs into stored runs.
package merger

import (
	"context"
	"encoding/json"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/tracelens/internal/common/runerrors"
	"github.com/armadaproject/tracelens/internal/model"
	"github.com/armadaproject/tracelens/internal/queue"
	"github.com/armadaproject/tracelens/internal/runstore"
)

type Metrics interface {
	// RecordRunStored is called once a job's run has been written, with the time elapsed since the
	// gateway received the event.
	RecordRunStored(kind queue.JobKind, latency time.Duration)
}

// Processor is the queue.Processor for ingestion jobs.
//
// Two jobs for the same run may be processed at the same time by different slots. Each update is a
// read followed by a full-row replace, so concurrent updates to one run can lose one of the patches.
type Processor struct {
	store runstore.RunStore
	users runstore.UserLookup
	// Used for events that carry no api key. Empty disables the fallback.
	defaultApiKey string
	clock         clock.PassiveClock
	metrics       Metrics
}

func NewProcessor(store runstore.RunStore, users runstore.UserLookup, defaultApiKey string, clock clock.PassiveClock, metrics Metrics) *Processor {
	return &Processor{
		store:         store,
		users:         users,
		defaultApiKey: defaultApiKey,
		clock:         clock,
		metrics:       metrics,
	}
}

func (p *Processor) Process(ctx context.Context, job *queue.Job) error {
	event := &model.RunEvent{}
	if err := json.Unmarshal(job.Data, event); err != nil {
		return errors.WithStack(&runerrors.ErrInvalidArgument{
			Name:    "data",
			Value:   string(job.Data),
			Message: err.Error(),
		})
	}
	if event.Id == "" {
		return errors.WithStack(&runerrors.ErrInvalidArgument{
			Name:    "id",
			Value:   event.Id,
			Message: "run id must be non-empty",
		})
	}

	var err error
	switch job.Kind {
	case queue.KindCreate:
		err = p.create(ctx, event)
	case queue.KindUpdate:
		err = p.update(ctx, event)
	default:
		err = errors.WithStack(&runerrors.ErrInvalidArgument{
			Name:    "kind",
			Value:   job.Kind,
			Message: "job kind must be create or update",
		})
	}
	if err != nil {
		return err
	}

	if p.metrics != nil && event.ServerCreatedAt != nil {
		p.metrics.RecordRunStored(job.Kind, p.clock.Since(*event.ServerCreatedAt))
	}
	return nil
}

func (p *Processor) apiKey(event *model.RunEvent) string {
	if event.ApiKey != "" {
		return event.ApiKey
	}
	return p.defaultApiKey
}

func (p *Processor) create(ctx context.Context, event *model.RunEvent) error {
	apiKey := p.apiKey(event)
	userId, err := p.users.UserIdForApiKey(ctx, apiKey)
	if err != nil {
		return err
	}
	run, err := NewRunFromEvent(event, userId, apiKey, p.clock.Now())
	if err != nil {
		return err
	}
	created, err := p.store.CreateRun(ctx, run)
	if err != nil {
		return err
	}
	log.WithField("run_id", created.RunId).Debugf("Created run with id %d", created.Id)
	return nil
}

func (p *Processor) update(ctx context.Context, event *model.RunEvent) error {
	stored, err := p.storedRun(ctx, event)
	if err != nil {
		return err
	}
	merged, err := MergeRun(stored, event, p.clock.Now())
	if err != nil {
		return err
	}
	if err := p.store.ReplaceRun(ctx, merged); err != nil {
		return err
	}
	log.WithField("run_id", merged.RunId).Debugf("Updated run with id %d", merged.Id)
	return nil
}

// storedRun finds the run a patch applies to. A patch carrying a known api key only ever touches
// the run that key's user owns. Without a resolvable key it matches the oldest run with the same
// client id, so an update never fails on authentication.
func (p *Processor) storedRun(ctx context.Context, event *model.RunEvent) (*model.Run, error) {
	if event.ApiKey == "" {
		return p.store.GetRunByRunId(ctx, event.Id)
	}
	userId, err := p.users.UserIdForApiKey(ctx, event.ApiKey)
	if runerrors.IsAuth(err) {
		log.WithField("run_id", event.Id).Debug("Update carries an unknown api key, matching on run id only")
		return p.store.GetRunByRunId(ctx, event.Id)
	}
	if err != nil {
		return nil, err
	}
	return p.store.GetRun(ctx, userId, event.Id)
}
