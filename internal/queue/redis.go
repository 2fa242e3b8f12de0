package queue

import (
	"context"
	"encoding/json"
	"errors"
	"strings"

	"uploadhook/internal/model"
	"uploadhook/pkg/logger"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

type Stats struct {
	Total int64 `json:"total"`
}

// RedisQueue stores JobRefs as JSON entries of a Redis list. Producers RPUSH,
// the worker pops from the head so entries are consumed in arrival order.
type RedisQueue struct {
	rdb redis.Cmdable
	key string
}

func NewRedisQueue(rdb redis.Cmdable, key string) *RedisQueue {
	return &RedisQueue{rdb: rdb, key: key}
}

func (q *RedisQueue) Dequeue(ctx context.Context, n int) ([]model.JobRef, error) {
	if n <= 0 {
		return nil, nil
	}
	vals, err := q.rdb.LPopCount(ctx, q.key, n).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, classify("dequeue", err)
	}

	refs := make([]model.JobRef, 0, len(vals))
	for _, v := range vals {
		ref, ok := decodeJob(v)
		if !ok {
			logger.Warn("dropping malformed queue entry", zap.String("key", q.key), zap.String("entry", v))
			continue
		}
		refs = append(refs, ref)
	}
	return refs, nil
}

func (q *RedisQueue) Enqueue(ctx context.Context, ids ...string) error {
	if len(ids) == 0 {
		return nil
	}
	entries := make([]any, 0, len(ids))
	for _, id := range ids {
		b, err := json.Marshal(model.JobRef{ID: id})
		if err != nil {
			return err
		}
		entries = append(entries, string(b))
	}
	return classify("enqueue", q.rdb.RPush(ctx, q.key, entries...).Err())
}

func (q *RedisQueue) Stats(ctx context.Context) (Stats, error) {
	n, err := q.rdb.LLen(ctx, q.key).Result()
	if err != nil {
		return Stats{}, classify("stats", err)
	}
	return Stats{Total: n}, nil
}

func (q *RedisQueue) Ping(ctx context.Context) error {
	return classify("ping", q.rdb.Ping(ctx).Err())
}

// decodeJob accepts both the JSON form and a bare id pushed by older producers.
func decodeJob(v string) (model.JobRef, bool) {
	v = strings.TrimSpace(v)
	if v == "" {
		return model.JobRef{}, false
	}
	if strings.HasPrefix(v, "{") {
		var ref model.JobRef
		if err := json.Unmarshal([]byte(v), &ref); err != nil || ref.ID == "" {
			return model.JobRef{}, false
		}
		return ref, true
	}
	return model.JobRef{ID: v}, true
}
