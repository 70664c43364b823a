package queue

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/armadaproject/tracelens/internal/common/util"
)

type memoryJob struct {
	job   Job
	state JobState
	seq   int64
	// When the job entered its current state, or for delayed jobs when it becomes ready.
	stateTime time.Time
}

// MemoryQueue is an in-process Queue with the same ordering, retry and retention rules as RedisQueue.
// Jobs do not survive a restart. Used by tests and the in-memory development mode.
type MemoryQueue struct {
	mu      sync.Mutex
	options Options
	clock   clock.PassiveClock
	seq     int64
	jobs    map[string]*memoryJob
}

func NewMemoryQueue(options Options, c clock.PassiveClock) *MemoryQueue {
	if c == nil {
		c = clock.RealClock{}
	}
	return &MemoryQueue{
		options: options,
		clock:   c,
		jobs:    map[string]*memoryJob{},
	}
}

func (q *MemoryQueue) Enqueue(_ context.Context, jobs ...*Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()
	for _, job := range jobs {
		if job.Id == "" {
			job.Id = util.NewULID()
		}
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
		if job.MaxAttempts <= 0 {
			job.MaxAttempts = q.options.MaxAttempts
		}
		q.seq++
		stored := *job
		stored.Data = append([]byte(nil), job.Data...)
		stored.AttemptsMade = 0
		q.jobs[job.Id] = &memoryJob{job: stored, state: StateWaiting, seq: q.seq, stateTime: now}
	}
	return nil
}

func (q *MemoryQueue) Reserve(_ context.Context) (*Job, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	now := q.clock.Now()

	var next *memoryJob
	for _, j := range q.jobs {
		if j.state == StateDelayed && !j.stateTime.After(now) {
			j.state = StateWaiting
		}
		if j.state != StateWaiting {
			continue
		}
		if next == nil || j.job.Priority < next.job.Priority ||
			(j.job.Priority == next.job.Priority && j.seq < next.seq) {
			next = j
		}
	}
	if next == nil {
		return nil, nil
	}
	next.state = StateActive
	next.stateTime = now
	job := next.job
	job.Data = append([]byte(nil), next.job.Data...)
	return &job, nil
}

func (q *MemoryQueue) Complete(_ context.Context, job *Job) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[job.Id]
	if !ok || j.state != StateActive {
		return nil
	}
	if q.options.RemoveOnComplete {
		delete(q.jobs, job.Id)
		return nil
	}
	j.state = StateCompleted
	j.stateTime = q.clock.Now()
	return nil
}

func (q *MemoryQueue) Fail(_ context.Context, job *Job, cause error, terminal bool) (FailureOutcome, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[job.Id]
	if !ok || j.state != StateActive {
		return OutcomeMissing, nil
	}
	now := q.clock.Now()
	j.job.AttemptsMade++
	if cause != nil {
		j.job.FailedReason = cause.Error()
	}
	job.AttemptsMade = j.job.AttemptsMade
	job.FailedReason = j.job.FailedReason

	if terminal || j.job.AttemptsMade >= j.job.MaxAttempts {
		j.state = StateFailed
		j.stateTime = now
		return OutcomeFailed, nil
	}
	j.state = StateDelayed
	j.stateTime = now.Add(q.options.BackoffDelay(j.job.AttemptsMade))
	return OutcomeRetry, nil
}

func (q *MemoryQueue) Clean(_ context.Context, state JobState, olderThan time.Time, limit int) (int, error) {
	if state != StateCompleted && state != StateFailed {
		return 0, errors.Errorf("cannot clean jobs in state %s", state)
	}
	q.mu.Lock()
	defer q.mu.Unlock()
	removed := 0
	for _, j := range q.oldestFirst(state) {
		if limit > 0 && removed >= limit {
			break
		}
		if !j.stateTime.Before(olderThan) {
			break
		}
		delete(q.jobs, j.job.Id)
		removed++
	}
	return removed, nil
}

func (q *MemoryQueue) RequeueStalled(_ context.Context, olderThan time.Time) (int, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	moved := 0
	for _, j := range q.jobs {
		if j.state == StateActive && j.stateTime.Before(olderThan) {
			j.state = StateWaiting
			j.stateTime = q.clock.Now()
			moved++
		}
	}
	return moved, nil
}

func (q *MemoryQueue) Counts(_ context.Context) (Counts, error) {
	q.mu.Lock()
	defer q.mu.Unlock()
	counts := Counts{}
	for _, state := range AllStates {
		counts[state] = 0
	}
	for _, j := range q.jobs {
		counts[j.state]++
	}
	return counts, nil
}

// Job returns a copy of the job with the given id and its state, for inspection in tests.
func (q *MemoryQueue) Job(id string) (Job, JobState, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()
	j, ok := q.jobs[id]
	if !ok {
		return Job{}, "", false
	}
	return j.job, j.state, true
}

func (q *MemoryQueue) oldestFirst(state JobState) []*memoryJob {
	var out []*memoryJob
	for _, j := range q.jobs {
		if j.state == state {
			out = append(out, j)
		}
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].stateTime.Equal(out[j].stateTime) {
			return out[i].seq < out[j].seq
		}
		return out[i].stateTime.Before(out[j].stateTime)
	})
	return out
}
