package queue

import (
	"context"
	"time"

	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"
	"k8s.io/utils/clock"

	"github.com/armadaproject/tracelens/internal/common/logging"
	"github.com/armadaproject/tracelens/internal/common/runerrors"
)

// Processor handles a single job. A returned error fails the attempt.
type Processor interface {
	Process(ctx context.Context, job *Job) error
}

type ProcessorFunc func(ctx context.Context, job *Job) error

func (f ProcessorFunc) Process(ctx context.Context, job *Job) error {
	return f(ctx, job)
}

// ConsumerMetrics receives the outcome of every attempt.
type ConsumerMetrics interface {
	RecordJobProcessed(kind JobKind, outcome string, duration time.Duration)
	RecordJobDropped(kind JobKind, reason string)
}

type ConsumerConfig struct {
	// Number of jobs processed in parallel.
	Concurrency int
	// How long an idle slot waits before polling the queue again.
	PollInterval time.Duration
	// At most RateLimitJobs jobs are started in any RateLimitWindow. Starts are spaced evenly
	// across the window. Zero disables the limit.
	RateLimitJobs   int
	RateLimitWindow time.Duration
}

// Consumer runs a fixed pool of slots, each of which repeatedly reserves a job, processes it and
// reports the result back to the queue.
type Consumer struct {
	queue     Queue
	processor Processor
	config    ConsumerConfig
	limiter   *rate.Limiter
	clock     clock.Clock
	// Errors for which retrying is pointless. Nil means every failure is retried.
	isTerminal func(error) bool
	metrics    ConsumerMetrics
}

func NewConsumer(queue Queue, processor Processor, config ConsumerConfig, isTerminal func(error) bool, metrics ConsumerMetrics) *Consumer {
	if config.Concurrency < 1 {
		config.Concurrency = 1
	}
	if config.PollInterval <= 0 {
		config.PollInterval = 100 * time.Millisecond
	}
	var limiter *rate.Limiter
	if config.RateLimitJobs > 0 && config.RateLimitWindow > 0 {
		every := config.RateLimitWindow / time.Duration(config.RateLimitJobs)
		limiter = rate.NewLimiter(rate.Every(every), 1)
	}
	return &Consumer{
		queue:      queue,
		processor:  processor,
		config:     config,
		limiter:    limiter,
		clock:      clock.RealClock{},
		isTerminal: isTerminal,
		metrics:    metrics,
	}
}

// WithClock replaces the clock used for polling, rate limiting and timing jobs.
func (c *Consumer) WithClock(clock clock.Clock) *Consumer {
	c.clock = clock
	return c
}

// Run processes jobs until ctx is cancelled. A job that is in progress when ctx is cancelled is
// allowed to finish.
func (c *Consumer) Run(ctx context.Context) error {
	log.Infof("Starting consumer with %d slots", c.config.Concurrency)
	g, ctx := errgroup.WithContext(ctx)
	for i := 0; i < c.config.Concurrency; i++ {
		slot := i
		g.Go(func() error {
			c.runSlot(ctx, slot)
			return nil
		})
	}
	err := g.Wait()
	log.Info("Consumer stopped")
	return err
}

func (c *Consumer) runSlot(ctx context.Context, slot int) {
	logger := log.WithField("slot", slot)
	for ctx.Err() == nil {
		processed, err := c.ProcessNext(ctx)
		if err != nil {
			logging.WithStacktrace(logger, err).Warn("Error interacting with the queue")
		}
		if processed && err == nil {
			continue
		}
		select {
		case <-ctx.Done():
		case <-c.clock.After(c.config.PollInterval):
		}
	}
}

// ProcessNext reserves and processes at most one job. It returns false if no job was ready.
// The returned error reports a failure to talk to the queue; failures of the job itself are
// reported to the queue and logged.
func (c *Consumer) ProcessNext(ctx context.Context) (bool, error) {
	start, ok := c.waitForStart(ctx)
	if !ok {
		return false, nil
	}
	job, err := c.queue.Reserve(ctx)
	if err != nil || job == nil {
		// Nothing started, so the slot is handed back.
		if start != nil {
			start.CancelAt(c.clock.Now())
		}
		return false, err
	}

	// The job's own work is not cancelled on shutdown so that a half-applied merge is not retried needlessly.
	jobCtx := context.Background()
	logger := log.WithFields(log.Fields{
		"job_id":  job.Id,
		"kind":    job.Kind,
		"run_id":  job.RunId,
		"attempt": job.AttemptsMade + 1,
	})

	started := c.clock.Now()
	processErr := c.process(jobCtx, job)
	duration := c.clock.Since(started)

	if processErr == nil {
		c.recordProcessed(job.Kind, "completed", duration)
		logger.Debugf("Job completed in %s", duration)
		return true, c.queue.Complete(jobCtx, job)
	}

	logger = logger.WithField("error_kind", runerrors.Kind(processErr))
	terminal := c.isTerminal != nil && c.isTerminal(processErr)
	outcome, err := c.queue.Fail(jobCtx, job, processErr, terminal)
	if err != nil {
		logging.WithStacktrace(logger, processErr).Error("Job failed and the failure could not be recorded")
		return true, err
	}
	c.recordProcessed(job.Kind, string(outcome), duration)

	switch outcome {
	case OutcomeRetry:
		logging.WithStacktrace(logger, processErr).Warnf("Job failed, will retry (attempt %d of %d)", job.AttemptsMade, job.MaxAttempts)
	case OutcomeFailed:
		reason := "attempts_exhausted"
		if terminal {
			reason = "terminal_error"
		}
		if c.metrics != nil {
			c.metrics.RecordJobDropped(job.Kind, reason)
		}
		logging.WithStacktrace(logger, processErr).
			WithField("attempts", job.AttemptsMade).
			Errorf("Dropping %s event for run %s after %d attempts: %s", job.Kind, job.RunId, job.AttemptsMade, job.FailedReason)
	case OutcomeMissing:
		logging.WithStacktrace(logger, processErr).Warn("Job failed but was no longer active")
	}
	return true, nil
}

// waitForStart blocks until the rate limit allows another job to start. It returns false if ctx
// was cancelled first.
func (c *Consumer) waitForStart(ctx context.Context) (*rate.Reservation, bool) {
	if c.limiter == nil {
		return nil, ctx.Err() == nil
	}
	now := c.clock.Now()
	reservation := c.limiter.ReserveN(now, 1)
	delay := reservation.DelayFrom(now)
	if delay <= 0 {
		return reservation, true
	}
	select {
	case <-ctx.Done():
		reservation.CancelAt(c.clock.Now())
		return nil, false
	case <-c.clock.After(delay):
		return reservation, true
	}
}

func (c *Consumer) process(ctx context.Context, job *Job) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = errors.Errorf("panic while processing job: %v", r)
		}
	}()
	return c.processor.Process(ctx, job)
}

func (c *Consumer) recordProcessed(kind JobKind, outcome string, duration time.Duration) {
	if c.metrics != nil {
		c.metrics.RecordJobProcessed(kind, outcome, duration)
	}
}
