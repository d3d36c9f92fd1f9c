package lock

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// releaseScript 只删除自己持有的锁
var releaseScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('DEL', KEYS[1])
	end
	return 0
`)

// refreshScript 只续期自己持有的锁
var refreshScript = redis.NewScript(`
	if redis.call('GET', KEYS[1]) == ARGV[1] then
		return redis.call('PEXPIRE', KEYS[1], ARGV[2])
	end
	return 0
`)

// Redis 跨进程锁：SET NX PX + 令牌校验释放，持有期间自动续期
type Redis struct {
	client *redis.Client
	ttl    time.Duration
	prefix string
}

// NewRedis 创建 Redis 锁
func NewRedis(client *redis.Client, ttl time.Duration) (*Redis, error) {
	if client == nil {
		return nil, errors.New("redis client is required")
	}
	if ttl <= 0 {
		ttl = 10 * time.Minute
	}
	return &Redis{client: client, ttl: ttl, prefix: "lineage:discovery:lock:"}, nil
}

// TryAcquire 尝试获取
func (r *Redis) TryAcquire(ctx context.Context, key string) (Release, error) {
	redisKey := r.prefix + key
	token := uuid.NewString()

	ok, err := r.client.SetNX(ctx, redisKey, token, r.ttl).Result()
	if err != nil {
		return nil, fmt.Errorf("redis lock acquire failed: %w", err)
	}
	if !ok {
		return nil, ErrLocked
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go r.keepAlive(redisKey, token, stop, done)

	var once sync.Once
	return func(ctx context.Context) error {
		var err error
		once.Do(func() {
			close(stop)
			<-done
			err = releaseScript.Run(ctx, r.client, []string{redisKey}, token).Err()
		})
		return err
	}, nil
}

func (r *Redis) keepAlive(key, token string, stop <-chan struct{}, done chan<- struct{}) {
	defer close(done)
	ticker := time.NewTicker(r.ttl / 3)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			ctx, cancel := context.WithTimeout(context.Background(), r.ttl/3)
			n, err := refreshScript.Run(ctx, r.client, []string{key}, token, r.ttl.Milliseconds()).Int()
			cancel()
			// 锁已丢失，停止续期
			if err == nil && n == 0 {
				return
			}
		}
	}
}
