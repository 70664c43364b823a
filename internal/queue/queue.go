// Package queue implements the durable ingestion job queue and the pool of consumers that drains it.
//
// Jobs are dequeued lowest priority value first, then in enqueue order. A failed job is retried
// with exponential backoff until it has been attempted Options.MaxAttempts times, after which it is
// moved to the failed state and left for the sweeper to remove.
package queue

import (
	"context"
	"time"
)

type JobKind string

const (
	KindCreate JobKind = "create"
	KindUpdate JobKind = "update"
)

type JobState string

const (
	StateWaiting   JobState = "waiting"
	StateActive    JobState = "active"
	StateDelayed   JobState = "delayed"
	StateCompleted JobState = "completed"
	StateFailed    JobState = "failed"
)

var AllStates = []JobState{StateWaiting, StateActive, StateDelayed, StateCompleted, StateFailed}

// FailureOutcome is what happened to a job after a failed attempt.
type FailureOutcome string

const (
	// The job will be attempted again after a backoff delay.
	OutcomeRetry FailureOutcome = "retry"
	// The job has exhausted its attempts, or was failed as terminal, and will not run again.
	OutcomeFailed FailureOutcome = "failed"
	// The job was no longer active, e.g. because it was requeued as stalled.
	OutcomeMissing FailureOutcome = "missing"
)

type Job struct {
	Id   string
	Kind JobKind
	// Client run id, for logging.
	RunId string
	// Lower values are dequeued first.
	Priority int
	// JSON encoded model.RunEvent.
	Data         []byte
	AttemptsMade int
	MaxAttempts  int
	CreatedAt    time.Time
	FailedReason string
}

// Counts holds the number of jobs in each state.
type Counts map[JobState]int64

func (c Counts) Total() int64 {
	var total int64
	for _, n := range c {
		total += n
	}
	return total
}

type Options struct {
	// Attempts before a job is failed permanently.
	MaxAttempts int
	// Delay before the first retry. Doubles on each subsequent attempt.
	Backoff time.Duration
	// Upper bound on the retry delay. Zero means unbounded.
	MaxBackoff time.Duration
	// Delete jobs as soon as they complete instead of keeping them until swept.
	RemoveOnComplete bool
}

func DefaultOptions() Options {
	return Options{
		MaxAttempts:      5,
		Backoff:          time.Second,
		RemoveOnComplete: true,
	}
}

// BackoffDelay returns the delay before retrying a job that has failed attemptsMade times:
// Backoff, 2*Backoff, 4*Backoff and so on, capped at MaxBackoff.
func (o Options) BackoffDelay(attemptsMade int) time.Duration {
	shift := attemptsMade - 1
	if shift < 0 {
		shift = 0
	}
	if shift > maxBackoffShift {
		shift = maxBackoffShift
	}
	delay := o.Backoff << shift
	if o.MaxBackoff > 0 && delay > o.MaxBackoff {
		return o.MaxBackoff
	}
	return delay
}

const maxBackoffShift = 20

type Queue interface {
	// Enqueue adds jobs in the waiting state. Id, CreatedAt and MaxAttempts are filled in when unset.
	Enqueue(ctx context.Context, jobs ...*Job) error
	// Reserve moves the next ready job to the active state and returns it, or returns nil if no job is ready.
	Reserve(ctx context.Context) (*Job, error)
	// Complete marks an active job as done.
	Complete(ctx context.Context, job *Job) error
	// Fail records a failed attempt. Terminal failures skip any remaining attempts.
	Fail(ctx context.Context, job *Job, cause error, terminal bool) (FailureOutcome, error)
	// Clean removes up to limit jobs that entered state (completed or failed) before olderThan.
	// A limit of zero or less removes all of them.
	Clean(ctx context.Context, state JobState, olderThan time.Time, limit int) (int, error)
	// RequeueStalled moves jobs that became active before olderThan back to waiting.
	RequeueStalled(ctx context.Context, olderThan time.Time) (int, error)
	Counts(ctx context.Context) (Counts, error)
}
