package jobs

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

// DefaultRetention is how long finished job records are kept to suppress
// re-scheduling of the same key.
const DefaultRetention = 7 * 24 * time.Hour

var scheduleScript = redis.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 1 then
  return 0
end
redis.call('HSET', KEYS[1], 'kind', ARGV[1], 'payload', ARGV[2], 'fire_at', ARGV[3], 'attempts', 0, 'status', 'pending')
redis.call('ZADD', KEYS[2], ARGV[3], ARGV[4])
return 1
`)

// claimScript first returns expired leases to the due set, then moves up to
// ARGV[2] due members into the processing set with lease deadline ARGV[3].
var claimScript = redis.NewScript(`
local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', ARGV[1])
for _, member in ipairs(expired) do
  redis.call('ZREM', KEYS[2], member)
  redis.call('ZADD', KEYS[1], ARGV[1], member)
end
local due = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', ARGV[1], 'LIMIT', 0, tonumber(ARGV[2]))
for _, member in ipairs(due) do
  redis.call('ZREM', KEYS[1], member)
  redis.call('ZADD', KEYS[2], ARGV[3], member)
end
return due
`)

// RedisQueue keeps jobs in Redis: one hash per job plus "due", "processing"
// and "failed" sorted sets scored by unix milliseconds.
type RedisQueue struct {
	rdb       *redis.Client
	prefix    string
	lease     time.Duration
	retention time.Duration
}

func NewRedisQueue(rdb *redis.Client, prefix string, lease time.Duration) *RedisQueue {
	if prefix == "" {
		prefix = "skynet:jobs:"
	}
	if lease <= 0 {
		lease = time.Minute
	}
	return &RedisQueue{
		rdb:       rdb,
		prefix:    prefix,
		lease:     lease,
		retention: DefaultRetention,
	}
}

func (q *RedisQueue) jobKey(key string) string { return q.prefix + "job:" + key }
func (q *RedisQueue) dueKey() string           { return q.prefix + "due" }
func (q *RedisQueue) processingKey() string    { return q.prefix + "processing" }
func (q *RedisQueue) failedKey() string        { return q.prefix + "failed" }

func millis(t time.Time) int64 {
	return t.UnixMilli()
}

func (q *RedisQueue) Schedule(ctx context.Context, job Job) (bool, error) {
	res, err := scheduleScript.Run(ctx, q.rdb,
		[]string{q.jobKey(job.Key), q.dueKey()},
		job.Kind, string(job.Payload), millis(job.FireAt), job.Key,
	).Int()
	if err != nil {
		return false, fmt.Errorf("schedule job %s: %w", job.Key, err)
	}
	return res == 1, nil
}

func (q *RedisQueue) ClaimDue(ctx context.Context, now time.Time, limit int) ([]Job, error) {
	if limit <= 0 {
		limit = 100
	}
	keys, err := claimScript.Run(ctx, q.rdb,
		[]string{q.dueKey(), q.processingKey()},
		millis(now), limit, millis(now.Add(q.lease)),
	).StringSlice()
	if err != nil {
		return nil, fmt.Errorf("claim due jobs: %w", err)
	}

	jobs := make([]Job, 0, len(keys))
	for _, key := range keys {
		fields, err := q.rdb.HGetAll(ctx, q.jobKey(key)).Result()
		if err != nil {
			return jobs, fmt.Errorf("load job %s: %w", key, err)
		}
		if len(fields) == 0 {
			// Record expired while queued; nothing left to run.
			q.rdb.ZRem(ctx, q.processingKey(), key)
			continue
		}
		jobs = append(jobs, decodeJob(key, fields))
	}
	return jobs, nil
}

func decodeJob(key string, fields map[string]string) Job {
	job := Job{
		Key:       key,
		Kind:      fields["kind"],
		Payload:   []byte(fields["payload"]),
		LastError: fields["last_error"],
	}
	if ms, err := strconv.ParseInt(fields["fire_at"], 10, 64); err == nil {
		job.FireAt = time.UnixMilli(ms).UTC()
	}
	if n, err := strconv.Atoi(fields["attempts"]); err == nil {
		job.Attempts = n
	}
	return job
}

func (q *RedisQueue) Complete(ctx context.Context, job Job) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.processingKey(), job.Key)
		pipe.HSet(ctx, q.jobKey(job.Key), "status", "done", "attempts", job.Attempts)
		pipe.PExpire(ctx, q.jobKey(job.Key), q.retention)
		return nil
	})
	if err != nil {
		return fmt.Errorf("complete job %s: %w", job.Key, err)
	}
	return nil
}

func (q *RedisQueue) Retry(ctx context.Context, job Job, at time.Time, cause error) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.processingKey(), job.Key)
		pipe.HSet(ctx, q.jobKey(job.Key), "attempts", job.Attempts, "last_error", errString(cause))
		pipe.ZAdd(ctx, q.dueKey(), redis.Z{Score: float64(millis(at)), Member: job.Key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("retry job %s: %w", job.Key, err)
	}
	return nil
}

func (q *RedisQueue) Fail(ctx context.Context, job Job, cause error) error {
	_, err := q.rdb.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.ZRem(ctx, q.processingKey(), job.Key)
		pipe.HSet(ctx, q.jobKey(job.Key), "status", "failed", "attempts", job.Attempts, "last_error", errString(cause))
		pipe.PExpire(ctx, q.jobKey(job.Key), q.retention)
		pipe.ZAdd(ctx, q.failedKey(), redis.Z{Score: float64(millis(time.Now())), Member: job.Key})
		return nil
	})
	if err != nil {
		return fmt.Errorf("fail job %s: %w", job.Key, err)
	}
	return nil
}

// Failed returns the keys of jobs that exhausted their retries, oldest first.
func (q *RedisQueue) Failed(ctx context.Context) ([]string, error) {
	return q.rdb.ZRange(ctx, q.failedKey(), 0, -1).Result()
}

// Ping checks connectivity.
func (q *RedisQueue) Ping(ctx context.Context) error {
	return q.rdb.Ping(ctx).Err()
}

func errString(err error) string {
	if err == nil {
		return ""
	}
	return err.Error()
}
