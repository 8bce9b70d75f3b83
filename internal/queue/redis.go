package queue

import (
	"context"
	"errors"
	"fmt"

	"github.com/redis/go-redis/v9"
)

// pushScript appends to the list only when the id is not already a member.
var pushScript = redis.NewScript(`
-- KEYS[1] = list key
-- KEYS[2] = members set key
-- ARGV[1] = conversation id
-- ARGV[2] = 'head' or 'tail'
--
-- Returns 1 if queued, 0 if the id was already present.
if redis.call('SADD', KEYS[2], ARGV[1]) == 0 then
  return 0
end
if ARGV[2] == 'head' then
  redis.call('LPUSH', KEYS[1], ARGV[1])
else
  redis.call('RPUSH', KEYS[1], ARGV[1])
end
return 1
`)

// popScript removes the head and its membership in one step.
var popScript = redis.NewScript(`
-- KEYS[1] = list key
-- KEYS[2] = members set key
local id = redis.call('LPOP', KEYS[1])
if not id then
  return false
end
redis.call('SREM', KEYS[2], id)
return id
`)

// Client is the subset of *redis.Client the queue needs.
type Client interface {
	redis.Scripter
	LLen(ctx context.Context, key string) *redis.IntCmd
}

// RedisQueue is a WaitingQueue backed by a Redis list plus a membership set.
type RedisQueue struct {
	rdb        Client
	key        string
	membersKey string
}

// NewRedisQueue returns a queue stored under key (DefaultKey when empty).
func NewRedisQueue(rdb Client, key string) *RedisQueue {
	if key == "" {
		key = DefaultKey
	}
	return &RedisQueue{rdb: rdb, key: key, membersKey: key + ":members"}
}

func (q *RedisQueue) Push(ctx context.Context, conversationID string) (bool, error) {
	return q.push(ctx, conversationID, "tail")
}

func (q *RedisQueue) Requeue(ctx context.Context, conversationID string) (bool, error) {
	return q.push(ctx, conversationID, "head")
}

func (q *RedisQueue) push(ctx context.Context, conversationID, end string) (bool, error) {
	if conversationID == "" {
		return false, ErrEmptyID
	}
	res, err := pushScript.Run(ctx, q.rdb, []string{q.key, q.membersKey}, conversationID, end).Int()
	if err != nil {
		return false, fmt.Errorf("queue push: %w", err)
	}
	return res == 1, nil
}

func (q *RedisQueue) Pop(ctx context.Context) (string, bool, error) {
	id, err := popScript.Run(ctx, q.rdb, []string{q.key, q.membersKey}).Text()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("queue pop: %w", err)
	}
	return id, true, nil
}

func (q *RedisQueue) Count(ctx context.Context) (int64, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return 0, fmt.Errorf("queue count: %w", err)
	}
	return n, nil
}
