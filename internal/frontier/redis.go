package frontier

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"
)

const defaultRedisPrefix = "FOLLOW_WEAVER"

// claimScript adds ARGV[1] to the set and, if it was new, to the queue.
var claimScript = redis.NewScript(`
if redis.call('SADD', KEYS[1], ARGV[1]) == 1 then
	redis.call('SADD', KEYS[2], ARGV[1])
	return 1
end
return 0
`)

// requeueScript queues ARGV[1] again only if it is a member of the set.
var requeueScript = redis.NewScript(`
if redis.call('SISMEMBER', KEYS[1], ARGV[1]) == 1 then
	return redis.call('SADD', KEYS[2], ARGV[1])
end
return 0
`)

// RedisConfig configures a Redis-backed frontier.
type RedisConfig struct {
	Addr     string
	Password string
	DB       int
	// Prefix namespaces the set, queue and time keys.
	Prefix string
}

// Redis keeps the frontier in two Redis sets and the elapsed time in a
// string key, all durable across process restarts.
type Redis struct {
	client   *redis.Client
	setKey   string
	queueKey string
	timeKey  string
}

// DialRedis connects to Redis and verifies the connection.
func DialRedis(ctx context.Context, cfg RedisConfig) (*Redis, error) {
	client := redis.NewClient(&redis.Options{
		Addr:     cfg.Addr,
		Password: cfg.Password,
		DB:       cfg.DB,
	})
	if err := client.Ping(ctx).Err(); err != nil {
		_ = client.Close()
		return nil, fmt.Errorf("failed to connect to redis at %s: %w", cfg.Addr, err)
	}
	return NewRedis(client, cfg.Prefix), nil
}

// NewRedis wraps an existing client.
func NewRedis(client *redis.Client, prefix string) *Redis {
	if prefix == "" {
		prefix = defaultRedisPrefix
	}
	return &Redis{
		client:   client,
		setKey:   prefix + "_SET",
		queueKey: prefix + "_QUEUE",
		timeKey:  prefix + "_TIME",
	}
}

func (r *Redis) TryClaim(ctx context.Context, id string) (bool, error) {
	n, err := claimScript.Run(ctx, r.client, []string{r.setKey, r.queueKey}, id).Int()
	if err != nil {
		return false, fmt.Errorf("failed to claim %s: %w", id, err)
	}
	return n == 1, nil
}

func (r *Redis) Pop(ctx context.Context) (string, bool, error) {
	id, err := r.client.SPop(ctx, r.queueKey).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to pop queue: %w", err)
	}
	return id, true, nil
}

func (r *Redis) Requeue(ctx context.Context, id string) error {
	if err := requeueScript.Run(ctx, r.client, []string{r.setKey, r.queueKey}, id).Err(); err != nil {
		return fmt.Errorf("failed to requeue %s: %w", id, err)
	}
	return nil
}

func (r *Redis) Contains(ctx context.Context, id string) (bool, error) {
	ok, err := r.client.SIsMember(ctx, r.setKey, id).Result()
	if err != nil {
		return false, fmt.Errorf("failed to check membership of %s: %w", id, err)
	}
	return ok, nil
}

func (r *Redis) QueueSize(ctx context.Context) (int64, error) {
	n, err := r.client.SCard(ctx, r.queueKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read queue size: %w", err)
	}
	return n, nil
}

func (r *Redis) SetSize(ctx context.Context) (int64, error) {
	n, err := r.client.SCard(ctx, r.setKey).Result()
	if err != nil {
		return 0, fmt.Errorf("failed to read set size: %w", err)
	}
	return n, nil
}

// LoadElapsed returns the persisted crawl time, zero if none was saved yet.
func (r *Redis) LoadElapsed(ctx context.Context) (time.Duration, error) {
	seconds, err := r.client.Get(ctx, r.timeKey).Float64()
	if errors.Is(err, redis.Nil) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("failed to load elapsed time: %w", err)
	}
	return time.Duration(seconds * float64(time.Second)), nil
}

// SaveElapsed stores d as float seconds.
func (r *Redis) SaveElapsed(ctx context.Context, d time.Duration) error {
	value := strconv.FormatFloat(d.Seconds(), 'f', -1, 64)
	if err := r.client.Set(ctx, r.timeKey, value, 0).Err(); err != nil {
		return fmt.Errorf("failed to save elapsed time: %w", err)
	}
	return nil
}

func (r *Redis) Close() error {
	return r.client.Close()
}
