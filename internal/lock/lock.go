package lock

import (
	"context"
	"errors"
	"sync"
	"time"
)

// ErrLocked 锁已被其他运行持有
var ErrLocked = errors.New("lock already held")

// Release 释放锁
type Release func(ctx context.Context) error

// Locker 按数据源加锁，防止同一数据源的发现运行并发
type Locker interface {
	// TryAcquire 立即尝试获取，已被持有时返回 ErrLocked
	TryAcquire(ctx context.Context, key string) (Release, error)
}

// Acquire 轮询等待直到获取锁或 ctx 结束
func Acquire(ctx context.Context, l Locker, key string, poll time.Duration) (Release, error) {
	if poll <= 0 {
		poll = 200 * time.Millisecond
	}
	for {
		release, err := l.TryAcquire(ctx, key)
		if !errors.Is(err, ErrLocked) {
			return release, err
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(poll):
		}
	}
}

// Local 进程内锁
type Local struct {
	mu   sync.Mutex
	held map[string]struct{}
}

// NewLocal 创建进程内锁
func NewLocal() *Local {
	return &Local{held: make(map[string]struct{})}
}

// TryAcquire 尝试获取
func (l *Local) TryAcquire(_ context.Context, key string) (Release, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if _, ok := l.held[key]; ok {
		return nil, ErrLocked
	}
	l.held[key] = struct{}{}

	var once sync.Once
	return func(context.Context) error {
		once.Do(func() {
			l.mu.Lock()
			delete(l.held, key)
			l.mu.Unlock()
		})
		return nil
	}, nil
}
