package config

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"time"

	"github.com/bsm/redislock"
	"github.com/redis/go-redis/v9"
)

// Redis is optional infrastructure: statistics caching, SKU prefix caching,
// best-effort allocation locks and notification fan-out. Every helper
// tolerates a nil client so the engine keeps working without redis.
type Redis struct {
	Client *redis.Client
	Locker *redislock.Client
}

// ConnectRedis dials redis; a failed dial is logged and returns an empty
// handle rather than blocking startup.
func ConnectRedis() *Redis {
	address := os.Getenv("REDIS_ADDRESS")
	if address == "" {
		log.Printf("REDIS_ADDRESS not set; running without redis")
		return &Redis{}
	}

	client := redis.NewClient(&redis.Options{
		Addr:     address,
		Password: os.Getenv("REDIS_PASSWORD"),
	})
	if err := client.Ping(context.Background()).Err(); err != nil {
		log.Printf("redis unreachable (%v); running without redis", err)
		return &Redis{}
	}
	log.Printf("connected to redis")
	return &Redis{
		Client: client,
		Locker: redislock.New(client),
	}
}

func (r *Redis) GetObject(ctx context.Context, key string, dest interface{}) (bool, error) {
	if r == nil || r.Client == nil {
		return false, nil
	}
	val, err := r.Client.Get(ctx, key).Result()
	if err != nil {
		if err == redis.Nil {
			return false, nil
		}
		return false, err
	}
	if err := json.Unmarshal([]byte(val), dest); err != nil {
		return false, err
	}
	return true, nil
}

func (r *Redis) SetObject(ctx context.Context, key string, obj interface{}, exp time.Duration) error {
	if r == nil || r.Client == nil {
		return nil
	}
	objInByte, err := json.Marshal(obj)
	if err != nil {
		return err
	}
	return r.Client.Set(ctx, key, objInByte, exp).Err()
}

func (r *Redis) Delete(ctx context.Context, keys ...string) {
	if r == nil || r.Client == nil || len(keys) == 0 {
		return
	}
	r.Client.Del(ctx, keys...)
}

// Publish is fire-and-forget; callers must not treat a publish failure as an
// operation failure.
func (r *Redis) Publish(ctx context.Context, channel string, payload interface{}) error {
	if r == nil || r.Client == nil {
		return nil
	}
	data, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	return r.Client.Publish(ctx, channel, data).Err()
}

// ObtainLock grabs a best-effort lock. Returns nil when redis is absent or
// the lock is contended; the DB row locks remain the source of correctness.
func (r *Redis) ObtainLock(ctx context.Context, key string, ttl time.Duration) *redislock.Lock {
	if r == nil || r.Locker == nil {
		return nil
	}
	lock, err := r.Locker.Obtain(ctx, key, ttl, nil)
	if err != nil {
		return nil
	}
	return lock
}
