package controls

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/aescanero/dago-wrap/pkg/wrap"
	"github.com/redis/go-redis/v9"
)

// RedisReader is the subset of the redis client used by RedisValue
type RedisReader interface {
	Get(ctx context.Context, key string) *redis.StringCmd
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// RedisValue loads a value from Redis. Plain keys are read with GET and
// decoded as JSON when possible; hash keys are read with HGETALL. A missing
// key loads nil.
type RedisValue struct {
	Base
	client RedisReader
	key    string
	hash   bool
}

// NewRedisValue creates a control reading key from client
func NewRedisValue(client RedisReader, key string, hash bool) *RedisValue {
	return &RedisValue{client: client, key: key, hash: hash}
}

// Load reads the key, or all its fields in hash mode. Plain values are
// JSON-decoded when possible and a missing key loads nil.
func (r *RedisValue) Load(ctx context.Context, _ *wrap.Content) (interface{}, error) {
	if r.hash {
		fields, err := r.client.HGetAll(ctx, r.key).Result()
		if err != nil {
			return nil, fmt.Errorf("failed to read hash %s: %w", r.key, err)
		}
		if len(fields) == 0 {
			return nil, nil
		}

		out := make(map[string]interface{}, len(fields))
		for k, v := range fields {
			out[k] = v
		}
		return out, nil
	}

	data, err := r.client.Get(ctx, r.key).Result()
	if errors.Is(err, redis.Nil) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", r.key, err)
	}

	var decoded interface{}
	if err := json.Unmarshal([]byte(data), &decoded); err != nil {
		return data, nil
	}
	return decoded, nil
}
