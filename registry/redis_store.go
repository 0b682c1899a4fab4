package registry

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/redis/go-redis/v9"

	"github.com/satipgo/satip-client/internal/logging"
)

var redisLog = logging.Get("registry/redis")

const serversSetKey = "satip:servers"

// RedisStore persists discovered servers so a client restart doesn't lose
// recently-seen entries before the next discovery probe round completes;
// grounded on edirooss-zmux-server's internal/redis repositories (here a
// single Redis set of JSON-encoded records). The registry works fully
// in-memory without one (see Store in registry.go).
type RedisStore struct {
	client *redis.Client
	ctx    context.Context
}

// NewRedisStore dials a redis client against addr (e.g. "localhost:6379").
// Connectivity is not verified here; Save/Load surface errors per-call so a
// transient Redis outage degrades gracefully rather than blocking startup.
func NewRedisStore(addr string, db int) *RedisStore {
	return &RedisStore{
		client: redis.NewClient(&redis.Options{Addr: addr, DB: db}),
		ctx:    context.Background(),
	}
}

func (s *RedisStore) Save(rec ServerRecord) error {
	payload, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("encode server record: %w", err)
	}
	if err := s.client.SAdd(s.ctx, serversSetKey, payload).Err(); err != nil {
		return fmt.Errorf("sadd: %w", err)
	}
	return nil
}

func (s *RedisStore) Load() ([]ServerRecord, error) {
	members, err := s.client.SMembers(s.ctx, serversSetKey).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("smembers: %w", err)
	}
	out := make([]ServerRecord, 0, len(members))
	for _, m := range members {
		var rec ServerRecord
		if err := json.Unmarshal([]byte(m), &rec); err != nil {
			redisLog.Warn("dropping malformed persisted server record", "err", err)
			continue
		}
		out = append(out, rec)
	}
	return out, nil
}

// Close releases the underlying Redis connection.
func (s *RedisStore) Close() error {
	return s.client.Close()
}
