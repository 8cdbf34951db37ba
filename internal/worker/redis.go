package worker

import (
	"context"
	"encoding/json"
	"fmt"
	"strconv"
	"time"

	"github.com/pkg/errors"
	goredis "github.com/redis/go-redis/v9"

	"smlgpt/internal/redis"
)

const promoteBatch = 100

// reserveScript pops the oldest waiting id and leases it.
var reserveScript = goredis.NewScript(`
local id = redis.call('RPOP', KEYS[1])
if not id then return false end
redis.call('ZADD', KEYS[2], ARGV[1], id)
return id
`)

// claimScript extends an expired lease so only one caller reclaims the id.
var claimScript = goredis.NewScript(`
local score = redis.call('ZSCORE', KEYS[1], ARGV[1])
if score and tonumber(score) <= tonumber(ARGV[2]) then
  redis.call('ZADD', KEYS[1], ARGV[3], ARGV[1])
  return 1
end
return 0
`)

// RedisStore keeps jobs in Redis:
//
//	<prefix>:job:<id>   job JSON
//	<prefix>:wait       LIST of waiting ids, LPUSH in / RPOP out
//	<prefix>:active     ZSET of reserved ids scored by lease deadline (ms)
//	<prefix>:delayed    ZSET of ids scored by run-at (ms)
//	<prefix>:finished   ZSET of ids scored by finished-at (ms)
//
// A reserved id moves from wait to active in one script and leaves active in
// the same transaction that files it elsewhere, so a job is always in exactly
// one set. Several processes can share one queue.
type RedisStore struct {
	client *redis.Client
	prefix string
}

func NewRedisStore(client *redis.Client, queueName string) *RedisStore {
	if queueName == "" {
		queueName = "default"
	}
	return &RedisStore{client: client, prefix: "smlgpt:queue:" + queueName}
}

func (r *RedisStore) jobKey(id string) string { return r.prefix + ":job:" + id }
func (r *RedisStore) waitKey() string         { return r.prefix + ":wait" }
func (r *RedisStore) activeKey() string       { return r.prefix + ":active" }
func (r *RedisStore) delayedKey() string      { return r.prefix + ":delayed" }
func (r *RedisStore) finishedKey() string     { return r.prefix + ":finished" }

func (r *RedisStore) raw() (*goredis.Client, error) {
	raw := r.client.Raw()
	if raw == nil {
		return nil, errors.New("worker: redis client not initialized")
	}
	return raw, nil
}

func (r *RedisStore) Add(ctx context.Context, job *Job) error {
	raw, err := r.raw()
	if err != nil {
		return err
	}
	cp := job.clone()
	cp.State = StateWaiting
	data, err := json.Marshal(cp)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	ok, err := raw.SetNX(ctx, r.jobKey(cp.ID), data, 0).Result()
	if err != nil {
		return errors.Wrap(err, "store job")
	}
	if !ok {
		return fmt.Errorf("worker: duplicate job id %s", cp.ID)
	}
	return errors.Wrap(raw.LPush(ctx, r.waitKey(), cp.ID).Err(), "push job")
}

func (r *RedisStore) Reserve(ctx context.Context, now time.Time, lease time.Duration) (*Job, error) {
	raw, err := r.raw()
	if err != nil {
		return nil, err
	}
	if err := r.promote(ctx, raw, now); err != nil {
		return nil, err
	}
	deadline := now.Add(lease).UnixMilli()
	for {
		id, err := reserveScript.Run(ctx, raw, []string{r.waitKey(), r.activeKey()}, deadline).Text()
		if errors.Is(err, goredis.Nil) {
			return nil, ErrNoJob
		}
		if err != nil {
			return nil, errors.Wrap(err, "pop job")
		}
		job, err := r.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			// purged while still listed
			_ = raw.ZRem(ctx, r.activeKey(), id).Err()
			continue
		}
		if err != nil {
			return nil, err
		}
		job.State = StateActive
		// a failed write leaves the lease in place, Reclaim picks the job up
		if err := r.write(ctx, raw, job); err != nil {
			return nil, err
		}
		return job, nil
	}
}

func (r *RedisStore) Reclaim(ctx context.Context, now time.Time, lease time.Duration) ([]*Job, error) {
	raw, err := r.raw()
	if err != nil {
		return nil, err
	}
	ids, err := raw.ZRangeByScore(ctx, r.activeKey(), &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return nil, errors.Wrap(err, "scan active jobs")
	}
	var out []*Job
	for _, id := range ids {
		claimed, err := claimScript.Run(ctx, raw, []string{r.activeKey()},
			id, now.UnixMilli(), now.Add(lease).UnixMilli()).Int()
		if err != nil {
			return out, errors.Wrap(err, "claim stalled job")
		}
		if claimed == 0 {
			// finished or claimed by another dispatcher
			continue
		}
		job, err := r.Get(ctx, id)
		if errors.Is(err, ErrJobNotFound) {
			_ = raw.ZRem(ctx, r.activeKey(), id).Err()
			continue
		}
		if err != nil {
			return out, err
		}
		job.State = StateActive
		out = append(out, job)
	}
	return out, nil
}

func (r *RedisStore) promote(ctx context.Context, raw *goredis.Client, now time.Time) error {
	ids, err := raw.ZRangeByScore(ctx, r.delayedKey(), &goredis.ZRangeBy{
		Min:   "-inf",
		Max:   strconv.FormatInt(now.UnixMilli(), 10),
		Count: promoteBatch,
	}).Result()
	if err != nil {
		return errors.Wrap(err, "scan delayed jobs")
	}
	for _, id := range ids {
		removed, err := raw.ZRem(ctx, r.delayedKey(), id).Result()
		if err != nil {
			return errors.Wrap(err, "promote delayed job")
		}
		if removed == 0 {
			// another dispatcher promoted it
			continue
		}
		if err := raw.LPush(ctx, r.waitKey(), id).Err(); err != nil {
			return errors.Wrap(err, "promote delayed job")
		}
	}
	return nil
}

func (r *RedisStore) Save(ctx context.Context, job *Job) error {
	raw, err := r.raw()
	if err != nil {
		return err
	}
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	_, err = raw.TxPipelined(ctx, func(pipe goredis.Pipeliner) error {
		pipe.Set(ctx, r.jobKey(job.ID), data, 0)
		pipe.ZRem(ctx, r.activeKey(), job.ID)
		switch job.State {
		case StateWaiting:
			pipe.LPush(ctx, r.waitKey(), job.ID)
		case StateDelayed:
			pipe.ZAdd(ctx, r.delayedKey(), goredis.Z{
				Score:  float64(job.RunAt.UnixMilli()),
				Member: job.ID,
			})
		case StateCompleted, StateFailed:
			at := time.Now()
			if job.FinishedAt != nil {
				at = *job.FinishedAt
			}
			pipe.ZAdd(ctx, r.finishedKey(), goredis.Z{
				Score:  float64(at.UnixMilli()),
				Member: job.ID,
			})
		}
		return nil
	})
	return errors.Wrapf(err, "save job %s", job.State)
}

func (r *RedisStore) write(ctx context.Context, raw *goredis.Client, job *Job) error {
	data, err := json.Marshal(job)
	if err != nil {
		return errors.Wrap(err, "marshal job")
	}
	return errors.Wrap(raw.Set(ctx, r.jobKey(job.ID), data, 0).Err(), "store job")
}

func (r *RedisStore) Get(ctx context.Context, id string) (*Job, error) {
	raw, err := r.raw()
	if err != nil {
		return nil, err
	}
	data, err := raw.Get(ctx, r.jobKey(id)).Bytes()
	if errors.Is(err, goredis.Nil) {
		return nil, ErrJobNotFound
	}
	if err != nil {
		return nil, errors.Wrap(err, "load job")
	}
	var job Job
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, errors.Wrap(err, "decode job")
	}
	return &job, nil
}

func (r *RedisStore) Purge(ctx context.Context, before time.Time) (int, error) {
	raw, err := r.raw()
	if err != nil {
		return 0, err
	}
	ids, err := raw.ZRangeByScore(ctx, r.finishedKey(), &goredis.ZRangeBy{
		Min: "-inf",
		Max: "(" + strconv.FormatInt(before.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return 0, errors.Wrap(err, "scan finished jobs")
	}
	n := 0
	for _, id := range ids {
		if err := raw.Del(ctx, r.jobKey(id)).Err(); err != nil {
			return n, errors.Wrap(err, "delete job")
		}
		if err := raw.ZRem(ctx, r.finishedKey(), id).Err(); err != nil {
			return n, errors.Wrap(err, "delete job")
		}
		n++
	}
	return n, nil
}

func (r *RedisStore) Counts(ctx context.Context) (Counts, error) {
	raw, err := r.raw()
	if err != nil {
		return Counts{}, err
	}
	pipe := raw.Pipeline()
	wait := pipe.LLen(ctx, r.waitKey())
	active := pipe.ZCard(ctx, r.activeKey())
	delayed := pipe.ZCard(ctx, r.delayedKey())
	finished := pipe.ZCard(ctx, r.finishedKey())
	if _, err := pipe.Exec(ctx); err != nil {
		return Counts{}, errors.Wrap(err, "count jobs")
	}
	return Counts{Waiting: wait.Val(), Active: active.Val(), Delayed: delayed.Val(), Finished: finished.Val()}, nil
}
