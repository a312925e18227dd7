package store

import (
	"context"
	"sort"
	"strconv"
	"time"

	"github.com/pkg/errors"
	r "github.com/redis/go-redis/v9"

	"github.com/you/sendlater/internal/domain"
)

// Redis key layout. Every key carries the "sendlater:" prefix.
//
//	sendlater:job:{id}    hash    job record, times as unix milliseconds
//	sendlater:due         zset    pending jobs, score = due_at ms
//	sendlater:leases      zset    claimed jobs, score = claim_expires_at ms
//	sendlater:owner:{id}  set     job ids per owner, for listing
const (
	keyPrefix = "sendlater:"
	jobPrefix = keyPrefix + "job:"
	dueKey    = keyPrefix + "due"
	leasesKey = keyPrefix + "leases"
)

func jobKey(id string) string      { return jobPrefix + id }
func ownerKey(owner string) string { return keyPrefix + "owner:" + owner }

// claimScript returns expired leases to the due index, then claims up to
// ARGV[2] due jobs for ARGV[4]. Running both steps in one script keeps the
// claim the sole serialization point: concurrent claimers execute it one at
// a time and ZRANGEBYSCORE orders by score then member, giving the due_at
// then id ordering.
var claimScript = r.NewScript(`
local now = tonumber(ARGV[1])
local limit = tonumber(ARGV[2])
local expires = ARGV[3]
local worker = ARGV[4]
local prefix = ARGV[5]

local expired = redis.call('ZRANGEBYSCORE', KEYS[2], '-inf', now)
for _, id in ipairs(expired) do
  local due = redis.call('HGET', prefix .. id, 'due_at')
  redis.call('ZADD', KEYS[1], tonumber(due), id)
  redis.call('ZREM', KEYS[2], id)
  redis.call('HSET', prefix .. id, 'status', 'pending', 'claimed_by', '', 'claim_expires_at', '', 'updated_at', ARGV[1])
end

local ids = redis.call('ZRANGEBYSCORE', KEYS[1], '-inf', now, 'LIMIT', 0, limit)
for _, id in ipairs(ids) do
  redis.call('ZREM', KEYS[1], id)
  redis.call('ZADD', KEYS[2], tonumber(expires), id)
  redis.call('HSET', prefix .. id, 'status', 'claimed', 'claimed_by', worker, 'claim_expires_at', expires, 'updated_at', ARGV[1])
end
return ids
`)

// releaseScript verifies the caller still holds a live lease, then applies
// the outcome transition. Returns the resulting status, or "stale".
var releaseScript = r.NewScript(`
local id = ARGV[1]
local worker = ARGV[2]
local now = tonumber(ARGV[3])
local kind = ARGV[4]
local reason = ARGV[5]
local retry_at = ARGV[6]

if redis.call('EXISTS', KEYS[1]) == 0 then return 'notfound' end
if redis.call('HGET', KEYS[1], 'status') ~= 'claimed' then return 'stale' end
if redis.call('HGET', KEYS[1], 'claimed_by') ~= worker then return 'stale' end
local exp = tonumber(redis.call('HGET', KEYS[1], 'claim_expires_at'))
if not exp or exp <= now then return 'stale' end

redis.call('ZREM', KEYS[3], id)
redis.call('HSET', KEYS[1], 'claimed_by', '', 'claim_expires_at', '', 'updated_at', ARGV[3])

if kind == 'success' then
  redis.call('HSET', KEYS[1], 'status', 'sent')
  return 'sent'
end

local attempts = tonumber(redis.call('HGET', KEYS[1], 'attempts')) + 1
redis.call('HSET', KEYS[1], 'attempts', attempts, 'last_error', reason)

local max = tonumber(redis.call('HGET', KEYS[1], 'max_attempts'))
if kind == 'fatal' or attempts >= max then
  redis.call('HSET', KEYS[1], 'status', 'failed')
  return 'failed'
end

redis.call('HSET', KEYS[1], 'status', 'pending', 'due_at', retry_at)
redis.call('ZADD', KEYS[2], tonumber(retry_at), id)
return 'pending'
`)

// cancelScript is a compare-and-set on status: only pending cancels.
var cancelScript = r.NewScript(`
if redis.call('EXISTS', KEYS[1]) == 0 then return 'notfound' end
if redis.call('HGET', KEYS[1], 'status') ~= 'pending' then return 'notcancelable' end
redis.call('HSET', KEYS[1], 'status', 'cancelled', 'updated_at', ARGV[2])
redis.call('ZREM', KEYS[2], ARGV[1])
return 'ok'
`)

// RedisStore implements JobStore on Redis.
type RedisStore struct {
	rdb r.Cmdable
}

var _ JobStore = (*RedisStore)(nil)

// NewRedis creates a Redis-backed job store. The caller owns the client.
func NewRedis(rdb r.Cmdable) *RedisStore { return &RedisStore{rdb: rdb} }

// Ping verifies connectivity.
func (s *RedisStore) Ping(ctx context.Context) error {
	return s.rdb.Ping(ctx).Err()
}

func (s *RedisStore) Create(ctx context.Context, j *domain.Job) error {
	key := jobKey(j.ID)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return errors.Wrap(err, "create: exists")
	}
	if exists > 0 {
		return domain.ErrJobExists
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, jobToFields(j))
	pipe.SAdd(ctx, ownerKey(j.OwnerID), j.ID)
	pipe.ZAdd(ctx, dueKey, r.Z{Score: float64(j.DueAt.UnixMilli()), Member: j.ID})
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "create: pipeline")
	}
	return nil
}

func (s *RedisStore) Get(ctx context.Context, id string) (*domain.Job, error) {
	fields, err := s.rdb.HGetAll(ctx, jobKey(id)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "get")
	}
	if len(fields) == 0 {
		return nil, domain.ErrNotFound
	}
	return fieldsToJob(fields)
}

// Put overwrites the job hash and re-derives its index membership: pending
// jobs live in the due zset, claimed jobs in the leases zset, terminal jobs
// in neither.
func (s *RedisStore) Put(ctx context.Context, j *domain.Job) error {
	key := jobKey(j.ID)
	exists, err := s.rdb.Exists(ctx, key).Result()
	if err != nil {
		return errors.Wrap(err, "put: exists")
	}
	if exists == 0 {
		return domain.ErrNotFound
	}

	pipe := s.rdb.TxPipeline()
	pipe.HSet(ctx, key, jobToFields(j))
	pipe.ZRem(ctx, dueKey, j.ID)
	pipe.ZRem(ctx, leasesKey, j.ID)
	switch j.Status {
	case domain.StatusPending:
		pipe.ZAdd(ctx, dueKey, r.Z{Score: float64(j.DueAt.UnixMilli()), Member: j.ID})
	case domain.StatusClaimed:
		if j.ClaimExpiresAt != nil {
			pipe.ZAdd(ctx, leasesKey, r.Z{Score: float64(j.ClaimExpiresAt.UnixMilli()), Member: j.ID})
		}
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return errors.Wrap(err, "put: pipeline")
	}
	return nil
}

func (s *RedisStore) ClaimDue(ctx context.Context, now time.Time, limit int, lease time.Duration, workerID string) ([]*domain.Job, error) {
	ids, err := claimScript.Run(ctx, s.rdb, []string{dueKey, leasesKey},
		now.UnixMilli(), limit, now.Add(lease).UnixMilli(), workerID, jobPrefix,
	).StringSlice()
	if err != nil {
		return nil, errors.Wrap(err, "claim script")
	}

	jobs := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.Get(ctx, id)
		if err != nil {
			return nil, errors.Wrapf(err, "claim: load %s", id)
		}
		jobs = append(jobs, j)
	}
	return jobs, nil
}

func (s *RedisStore) Release(ctx context.Context, id, workerID string, outcome domain.Outcome, retryAt time.Time) error {
	kind := "retry"
	switch outcome.Kind {
	case domain.OutcomeSuccess:
		kind = "success"
	case domain.OutcomeFatal:
		kind = "fatal"
	}

	res, err := releaseScript.Run(ctx, s.rdb, []string{jobKey(id), dueKey, leasesKey},
		id, workerID, time.Now().UnixMilli(), kind, outcome.Reason, retryAt.UnixMilli(),
	).Text()
	if err != nil {
		return errors.Wrap(err, "release script")
	}
	switch res {
	case "notfound":
		return domain.ErrNotFound
	case "stale":
		return domain.ErrStaleLease
	}
	return nil
}

func (s *RedisStore) Cancel(ctx context.Context, id string) error {
	res, err := cancelScript.Run(ctx, s.rdb, []string{jobKey(id), dueKey},
		id, time.Now().UnixMilli(),
	).Text()
	if err != nil {
		return errors.Wrap(err, "cancel script")
	}
	switch res {
	case "notfound":
		return domain.ErrNotFound
	case "notcancelable":
		return domain.ErrNotCancelable
	}
	return nil
}

func (s *RedisStore) List(ctx context.Context, ownerID string, f ListFilter) ([]*domain.Job, error) {
	ids, err := s.rdb.SMembers(ctx, ownerKey(ownerID)).Result()
	if err != nil {
		return nil, errors.Wrap(err, "list: smembers")
	}

	jobs := make([]*domain.Job, 0, len(ids))
	for _, id := range ids {
		j, err := s.Get(ctx, id)
		if err != nil {
			if errors.Is(err, domain.ErrNotFound) {
				continue
			}
			return nil, err
		}
		if f.Status != "" && j.Status != f.Status {
			continue
		}
		jobs = append(jobs, j)
	}

	sort.Slice(jobs, func(i, k int) bool {
		if jobs[i].CreatedAt.Equal(jobs[k].CreatedAt) {
			return jobs[i].ID < jobs[k].ID
		}
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})
	if f.Limit > 0 && len(jobs) > f.Limit {
		jobs = jobs[:f.Limit]
	}
	return jobs, nil
}

func jobToFields(j *domain.Job) map[string]any {
	fields := map[string]any{
		"id":               j.ID,
		"owner_id":         j.OwnerID,
		"message_id":       j.MessageID,
		"due_at":           j.DueAt.UnixMilli(),
		"status":           string(j.Status),
		"attempts":         j.Attempts,
		"max_attempts":     j.MaxAttempts,
		"last_error":       "",
		"claimed_by":       "",
		"claim_expires_at": "",
		"created_at":       j.CreatedAt.UnixMilli(),
		"updated_at":       j.UpdatedAt.UnixMilli(),
	}
	if j.LastError != nil {
		fields["last_error"] = *j.LastError
	}
	if j.ClaimedBy != nil {
		fields["claimed_by"] = *j.ClaimedBy
	}
	if j.ClaimExpiresAt != nil {
		fields["claim_expires_at"] = j.ClaimExpiresAt.UnixMilli()
	}
	return fields
}

func fieldsToJob(fields map[string]string) (*domain.Job, error) {
	j := &domain.Job{
		ID:        fields["id"],
		OwnerID:   fields["owner_id"],
		MessageID: fields["message_id"],
		Status:    domain.Status(fields["status"]),
	}

	var err error
	if j.DueAt, err = parseMilli(fields["due_at"]); err != nil {
		return nil, errors.Wrap(err, "parse due_at")
	}
	if j.CreatedAt, err = parseMilli(fields["created_at"]); err != nil {
		return nil, errors.Wrap(err, "parse created_at")
	}
	if j.UpdatedAt, err = parseMilli(fields["updated_at"]); err != nil {
		return nil, errors.Wrap(err, "parse updated_at")
	}
	if j.Attempts, err = strconv.Atoi(fields["attempts"]); err != nil {
		return nil, errors.Wrap(err, "parse attempts")
	}
	if j.MaxAttempts, err = strconv.Atoi(fields["max_attempts"]); err != nil {
		return nil, errors.Wrap(err, "parse max_attempts")
	}

	if v := fields["last_error"]; v != "" {
		j.LastError = &v
	}
	if v := fields["claimed_by"]; v != "" {
		j.ClaimedBy = &v
	}
	if v := fields["claim_expires_at"]; v != "" {
		t, err := parseMilli(v)
		if err != nil {
			return nil, errors.Wrap(err, "parse claim_expires_at")
		}
		j.ClaimExpiresAt = &t
	}
	return j, nil
}

func parseMilli(s string) (time.Time, error) {
	ms, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return time.Time{}, err
	}
	return time.UnixMilli(ms).UTC(), nil
}
