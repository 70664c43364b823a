package queue

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/go-redis/redis"
	"github.com/pkg/errors"
	"k8s.io/utils/clock"

	"github.com/armadaproject/tracelens/internal/common/util"
)

// Scores in the waiting set are priority*priorityStride + sequence number, so that jobs are
// ordered by priority first and enqueue order second.
const priorityStride = 1e12

// RedisQueue stores each job as a hash and tracks its state with one sorted set per state.
// Waiting jobs are scored by priority, delayed jobs by the time they become ready, and
// active, completed and failed jobs by the time they entered that state.
// Multi-key state transitions run as Lua scripts so that they are atomic.
type RedisQueue struct {
	db      redis.UniversalClient
	name    string
	options Options
	clock   clock.PassiveClock
}

func NewRedisQueue(db redis.UniversalClient, name string, options Options) *RedisQueue {
	return &RedisQueue{
		db:      db,
		name:    name,
		options: options,
		clock:   clock.RealClock{},
	}
}

// WithClock replaces the clock used to timestamp state transitions.
func (q *RedisQueue) WithClock(c clock.PassiveClock) *RedisQueue {
	q.clock = c
	return q
}

// The queue name is wrapped in braces so that all keys of one queue hash to the same cluster slot.
func (q *RedisQueue) key(suffix string) string {
	return fmt.Sprintf("tracelens:queue:{%s}:%s", q.name, suffix)
}

func (q *RedisQueue) jobKeyPrefix() string {
	return q.key("job:")
}

func (q *RedisQueue) jobKey(id string) string {
	return q.jobKeyPrefix() + id
}

func (q *RedisQueue) stateKey(state JobState) string {
	return q.key(string(state))
}

func (q *RedisQueue) nowMillis() int64 {
	return q.clock.Now().UnixNano() / int64(time.Millisecond)
}

func (q *RedisQueue) Enqueue(ctx context.Context, jobs ...*Job) error {
	if len(jobs) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	// Reserve a block of sequence numbers so that scores can be computed without a round trip per job.
	last, err := q.db.IncrBy(q.key("seq"), int64(len(jobs))).Result()
	if err != nil {
		return errors.WithStack(err)
	}
	first := last - int64(len(jobs)) + 1

	now := q.clock.Now()
	pipe := q.db.TxPipeline()
	for i, job := range jobs {
		if job.Id == "" {
			job.Id = util.NewULID()
		}
		if job.CreatedAt.IsZero() {
			job.CreatedAt = now
		}
		if job.MaxAttempts <= 0 {
			job.MaxAttempts = q.options.MaxAttempts
		}
		score := float64(job.Priority)*priorityStride + float64(first+int64(i))
		pipe.HMSet(q.jobKey(job.Id), map[string]interface{}{
			"kind":          string(job.Kind),
			"run_id":        job.RunId,
			"priority":      job.Priority,
			"score":         strconv.FormatFloat(score, 'f', -1, 64),
			"data":          job.Data,
			"attempts_made": 0,
			"max_attempts":  job.MaxAttempts,
			"created_at":    job.CreatedAt.UnixNano() / int64(time.Millisecond),
			"state":         string(StateWaiting),
		})
		pipe.ZAdd(q.stateKey(StateWaiting), redis.Z{Score: score, Member: job.Id})
	}
	_, err = pipe.Exec()
	return errors.WithStack(err)
}

const reserveScript = `
local due = redis.call('ZRANGEBYSCORE', KEYS[3], '-inf', ARGV[1])
for _, id in ipairs(due) do
	redis.call('ZREM', KEYS[3], id)
	local score = redis.call('HGET', ARGV[2] .. id, 'score')
	if score then
		redis.call('ZADD', KEYS[1], score, id)
		redis.call('HSET', ARGV[2] .. id, 'state', 'waiting')
	end
end
local head = redis.call('ZRANGE', KEYS[1], '0', '0')
if #head == 0 then
	return false
end
local id = head[1]
redis.call('ZREM', KEYS[1], id)
redis.call('ZADD', KEYS[2], ARGV[1], id)
redis.call('HSET', ARGV[2] .. id, 'state', 'active')
return id
`

func (q *RedisQueue) Reserve(ctx context.Context) (*Job, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	id, err := q.db.Eval(
		reserveScript,
		[]string{q.stateKey(StateWaiting), q.stateKey(StateActive), q.stateKey(StateDelayed)},
		q.nowMillis(), q.jobKeyPrefix(),
	).Result()
	if err == redis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, errors.WithStack(err)
	}
	jobId, ok := id.(string)
	if !ok {
		return nil, errors.Errorf("unexpected reply %v from reserve script", id)
	}
	return q.loadJob(jobId)
}

func (q *RedisQueue) loadJob(id string) (*Job, error) {
	fields, err := q.db.HGetAll(q.jobKey(id)).Result()
	if err != nil {
		return nil, errors.WithStack(err)
	}
	if len(fields) == 0 {
		return nil, errors.Errorf("job %s has no stored data", id)
	}
	job := &Job{
		Id:           id,
		Kind:         JobKind(fields["kind"]),
		RunId:        fields["run_id"],
		Data:         []byte(fields["data"]),
		FailedReason: fields["failed_reason"],
	}
	if job.Priority, err = strconv.Atoi(fields["priority"]); err != nil {
		return nil, errors.Wrapf(err, "job %s has invalid priority", id)
	}
	if job.AttemptsMade, err = strconv.Atoi(fields["attempts_made"]); err != nil {
		return nil, errors.Wrapf(err, "job %s has invalid attempts_made", id)
	}
	if job.MaxAttempts, err = strconv.Atoi(fields["max_attempts"]); err != nil {
		return nil, errors.Wrapf(err, "job %s has invalid max_attempts", id)
	}
	createdMillis, err := strconv.ParseInt(fields["created_at"], 10, 64)
	if err != nil {
		return nil, errors.Wrapf(err, "job %s has invalid created_at", id)
	}
	job.CreatedAt = time.Unix(0, createdMillis*int64(time.Millisecond))
	return job, nil
}

const completeScript = `
redis.call('ZREM', KEYS[1], ARGV[2])
if ARGV[4] == '1' then
	redis.call('DEL', ARGV[1])
	return 1
end
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[2])
redis.call('HSET', ARGV[1], 'state', 'completed')
redis.call('HSET', ARGV[1], 'finished_at', ARGV[3])
return 1
`

func (q *RedisQueue) Complete(ctx context.Context, job *Job) error {
	remove := "0"
	if q.options.RemoveOnComplete {
		remove = "1"
	}
	err := q.db.Eval(
		completeScript,
		[]string{q.stateKey(StateActive), q.stateKey(StateCompleted)},
		q.jobKey(job.Id), job.Id, q.nowMillis(), remove,
	).Err()
	return errors.WithStack(err)
}

const failScript = `
if redis.call('ZREM', KEYS[1], ARGV[2]) == 0 then
	return 'missing'
end
local attempts = redis.call('HINCRBY', ARGV[1], 'attempts_made', 1)
local max = tonumber(redis.call('HGET', ARGV[1], 'max_attempts'))
redis.call('HSET', ARGV[1], 'failed_reason', ARGV[5])
if ARGV[6] == '1' or attempts >= max then
	redis.call('ZADD', KEYS[3], ARGV[3], ARGV[2])
	redis.call('HSET', ARGV[1], 'state', 'failed')
	redis.call('HSET', ARGV[1], 'finished_at', ARGV[3])
	return 'failed'
end
redis.call('ZADD', KEYS[2], ARGV[4], ARGV[2])
redis.call('HSET', ARGV[1], 'state', 'delayed')
return 'retry'
`

func (q *RedisQueue) Fail(ctx context.Context, job *Job, cause error, terminal bool) (FailureOutcome, error) {
	now := q.nowMillis()
	retryAt := now + q.options.BackoffDelay(job.AttemptsMade+1).Milliseconds()
	terminalArg := "0"
	if terminal {
		terminalArg = "1"
	}
	reason := ""
	if cause != nil {
		reason = cause.Error()
	}
	result, err := q.db.Eval(
		failScript,
		[]string{q.stateKey(StateActive), q.stateKey(StateDelayed), q.stateKey(StateFailed)},
		q.jobKey(job.Id), job.Id, now, retryAt, reason, terminalArg,
	).Result()
	if err != nil {
		return "", errors.WithStack(err)
	}
	outcome, ok := result.(string)
	if !ok {
		return "", errors.Errorf("unexpected reply %v from fail script", result)
	}
	if FailureOutcome(outcome) != OutcomeMissing {
		job.AttemptsMade++
		job.FailedReason = reason
	}
	return FailureOutcome(outcome), nil
}

const cleanScript = `
local ids
if tonumber(ARGV[3]) > 0 then
	ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2], 'LIMIT', '0', ARGV[3])
else
	ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
end
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	redis.call('DEL', ARGV[1] .. id)
end
return #ids
`

func (q *RedisQueue) Clean(ctx context.Context, state JobState, olderThan time.Time, limit int) (int, error) {
	if state != StateCompleted && state != StateFailed {
		return 0, errors.Errorf("cannot clean jobs in state %s", state)
	}
	// Scores are whole milliseconds; an exclusive bound keeps jobs finished exactly at the cutoff.
	maxScore := "(" + strconv.FormatInt(olderThan.UnixNano()/int64(time.Millisecond), 10)
	removed, err := q.db.Eval(
		cleanScript,
		[]string{q.stateKey(state)},
		q.jobKeyPrefix(), maxScore, limit,
	).Int()
	return removed, errors.WithStack(err)
}

const requeueStalledScript = `
local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[2])
local moved = 0
for _, id in ipairs(ids) do
	redis.call('ZREM', KEYS[1], id)
	local score = redis.call('HGET', ARGV[1] .. id, 'score')
	if score then
		redis.call('ZADD', KEYS[2], score, id)
		redis.call('HSET', ARGV[1] .. id, 'state', 'waiting')
		moved = moved + 1
	end
end
return moved
`

func (q *RedisQueue) RequeueStalled(ctx context.Context, olderThan time.Time) (int, error) {
	maxScore := "(" + strconv.FormatInt(olderThan.UnixNano()/int64(time.Millisecond), 10)
	moved, err := q.db.Eval(
		requeueStalledScript,
		[]string{q.stateKey(StateActive), q.stateKey(StateWaiting)},
		q.jobKeyPrefix(), maxScore,
	).Int()
	return moved, errors.WithStack(err)
}

func (q *RedisQueue) Counts(ctx context.Context) (Counts, error) {
	pipe := q.db.Pipeline()
	cmds := make(map[JobState]*redis.IntCmd, len(AllStates))
	for _, state := range AllStates {
		cmds[state] = pipe.ZCard(q.stateKey(state))
	}
	if _, err := pipe.Exec(); err != nil {
		return nil, errors.WithStack(err)
	}
	counts := Counts{}
	for state, cmd := range cmds {
		counts[state] = cmd.Val()
	}
	return counts, nil
}

// Ping checks that redis is reachable.
func (q *RedisQueue) Ping() error {
	return errors.WithStack(q.db.Ping().Err())
}
