package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"github.com/redis/go-redis/v9"

	"github.com/fleetops/permit-ledger/internal/port"
)

const docKeyPrefix = "doc:"

// Marshaled JSON is never empty, so the empty string doubles as the
// delete marker inside the batch script.
var atomicUpdateScript = redis.NewScript(`
for i = 1, #KEYS do
	local v = ARGV[i]
	if v == '' then
		redis.call('DEL', KEYS[i])
	else
		redis.call('SET', KEYS[i], v)
	end
end
return #KEYS
`)

// RedisStore keeps each document as one JSON string value. Multi-path
// updates run inside one Lua script so the batch is all-or-nothing.
type RedisStore struct {
	client *redis.Client
}

func NewRedisStore(client *redis.Client) *RedisStore {
	return &RedisStore{client: client}
}

func (r *RedisStore) Get(ctx context.Context, path string, out any) error {
	raw, err := r.client.Get(ctx, docKeyPrefix+path).Bytes()
	if errors.Is(err, redis.Nil) {
		return fmt.Errorf("%w: %s", port.ErrNotFound, path)
	}
	if err != nil {
		return fmt.Errorf("get document: %w", err)
	}
	return json.Unmarshal(raw, out)
}

func (r *RedisStore) List(ctx context.Context, prefix string) (map[string]json.RawMessage, error) {
	result := make(map[string]json.RawMessage)

	var cursor uint64
	for {
		keys, next, err := r.client.Scan(ctx, cursor, docKeyPrefix+prefix+"*", 200).Result()
		if err != nil {
			return nil, fmt.Errorf("scan documents: %w", err)
		}
		for _, key := range keys {
			raw, err := r.client.Get(ctx, key).Bytes()
			if errors.Is(err, redis.Nil) {
				continue
			}
			if err != nil {
				return nil, fmt.Errorf("get %s: %w", key, err)
			}
			result[strings.TrimPrefix(key, docKeyPrefix)] = raw
		}
		cursor = next
		if cursor == 0 {
			break
		}
	}
	return result, nil
}

func (r *RedisStore) QueryByField(ctx context.Context, prefix, field string, value any) (map[string]json.RawMessage, error) {
	want, err := json.Marshal(value)
	if err != nil {
		return nil, fmt.Errorf("query value: %w", err)
	}

	docs, err := r.List(ctx, prefix)
	if err != nil {
		return nil, err
	}

	result := make(map[string]json.RawMessage)
	for path, raw := range docs {
		var doc map[string]json.RawMessage
		if err := json.Unmarshal(raw, &doc); err != nil {
			continue
		}
		if got, ok := doc[field]; ok && string(got) == string(want) {
			result[path] = raw
		}
	}
	return result, nil
}

func (r *RedisStore) AtomicUpdate(ctx context.Context, updates map[string]any) error {
	keys := make([]string, 0, len(updates))
	args := make([]any, 0, len(updates))

	for path, value := range updates {
		keys = append(keys, docKeyPrefix+path)
		if value == nil {
			args = append(args, "")
			continue
		}
		raw, err := json.Marshal(value)
		if err != nil {
			return fmt.Errorf("marshal %s: %w", path, err)
		}
		args = append(args, string(raw))
	}

	if len(keys) == 0 {
		return nil
	}
	if err := atomicUpdateScript.Run(ctx, r.client, keys, args...).Err(); err != nil {
		return fmt.Errorf("atomic update: %w", err)
	}
	return nil
}
