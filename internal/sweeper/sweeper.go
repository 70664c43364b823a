// Package sweeper periodically trims finished jobs from the ingestion queue and recovers jobs
// whose consumer died mid-attempt.
package sweeper

import (
	"context"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"k8s.io/utils/clock"

	"github.com/armadaproject/tracelens/internal/common/logging"
	"github.com/armadaproject/tracelens/internal/queue"
)

type Config struct {
	// Time between sweeps.
	Interval time.Duration
	// Completed jobs older than this are removed, at most CompletedLimit per sweep.
	CompletedRetention time.Duration
	CompletedLimit     int
	// Failed jobs older than this are removed, at most FailedLimit per sweep.
	FailedRetention time.Duration
	FailedLimit     int
	// Active jobs reserved longer ago than this are assumed abandoned and requeued.
	StalledAfter time.Duration
}

func DefaultConfig() Config {
	return Config{
		Interval:           5 * time.Second,
		CompletedRetention: time.Hour,
		CompletedLimit:     100,
		FailedRetention:    31 * 24 * time.Hour,
		FailedLimit:        1000,
		StalledAfter:       5 * time.Minute,
	}
}

type Metrics interface {
	RecordJobsCleaned(state queue.JobState, count int)
	RecordJobsRequeued(count int)
	SetQueueDepth(counts queue.Counts)
}

// Result summarises one sweep.
type Result struct {
	CompletedRemoved int
	FailedRemoved    int
	Requeued         int
	Counts           queue.Counts
}

type Sweeper struct {
	queue   queue.Queue
	config  Config
	clock   clock.WithTicker
	metrics Metrics
}

func New(q queue.Queue, config Config, clock clock.WithTicker, metrics Metrics) *Sweeper {
	return &Sweeper{queue: q, config: config, clock: clock, metrics: metrics}
}

// Run sweeps once per Config.Interval until ctx is cancelled.
func (s *Sweeper) Run(ctx context.Context) error {
	log.Infof("Sweeping the job queue every %s", s.config.Interval)
	ticker := s.clock.NewTicker(s.config.Interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C():
			if _, err := s.Sweep(ctx); err != nil {
				logging.WithStacktrace(log.StandardLogger(), err).Warn("Queue sweep did not complete")
			}
		}
	}
}

// Sweep performs a single pass. Every step is attempted even when an earlier one fails.
func (s *Sweeper) Sweep(ctx context.Context) (*Result, error) {
	start := s.clock.Now()
	result := &Result{}
	var errs *multierror.Error

	var err error
	result.CompletedRemoved, err = s.clean(ctx, queue.StateCompleted, s.config.CompletedRetention, s.config.CompletedLimit)
	errs = multierror.Append(errs, err)

	result.FailedRemoved, err = s.clean(ctx, queue.StateFailed, s.config.FailedRetention, s.config.FailedLimit)
	errs = multierror.Append(errs, err)

	if s.config.StalledAfter > 0 {
		result.Requeued, err = s.queue.RequeueStalled(ctx, start.Add(-s.config.StalledAfter))
		if err != nil {
			errs = multierror.Append(errs, errors.WithMessage(err, "requeueing stalled jobs"))
		} else if result.Requeued > 0 {
			log.Warnf("Requeued %d stalled jobs", result.Requeued)
			if s.metrics != nil {
				s.metrics.RecordJobsRequeued(result.Requeued)
			}
		}
	}

	result.Counts, err = s.queue.Counts(ctx)
	if err != nil {
		errs = multierror.Append(errs, errors.WithMessage(err, "counting jobs"))
	} else if s.metrics != nil {
		s.metrics.SetQueueDepth(result.Counts)
	}

	log.WithFields(log.Fields{
		"completedRemoved": result.CompletedRemoved,
		"failedRemoved":    result.FailedRemoved,
		"requeued":         result.Requeued,
		"waiting":          result.Counts[queue.StateWaiting],
		"delayed":          result.Counts[queue.StateDelayed],
		"active":           result.Counts[queue.StateActive],
		"failed":           result.Counts[queue.StateFailed],
	}).Debugf("Swept job queue in %s", s.clock.Since(start))
	return result, errs.ErrorOrNil()
}

func (s *Sweeper) clean(ctx context.Context, state queue.JobState, retention time.Duration, limit int) (int, error) {
	if retention <= 0 {
		return 0, nil
	}
	removed, err := s.queue.Clean(ctx, state, s.clock.Now().Add(-retention), limit)
	if err != nil {
		return removed, errors.WithMessagef(err, "cleaning %s jobs", state)
	}
	if removed > 0 && s.metrics != nil {
		s.metrics.RecordJobsCleaned(state, removed)
	}
	return removed, nil
}
