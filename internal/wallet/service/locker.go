package service

import (
	"context"
	"sync"
	"time"

	"btcwatch.com/pkg/logger"
	"btcwatch.com/pkg/xredis"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"
)

// Locker 分配地址的临界区锁，按 key 互斥
type Locker interface {
	Acquire(ctx context.Context, key string) (unlock func(), err error)
}

// RedisLocker 多实例部署时用
type RedisLocker struct {
	client        redis.Cmdable
	ttl           time.Duration
	retryTimes    int
	retryInterval time.Duration
}

func NewRedisLocker(client redis.Cmdable, ttl time.Duration) *RedisLocker {
	if ttl <= 0 {
		ttl = 10 * time.Second
	}
	return &RedisLocker{
		client:        client,
		ttl:           ttl,
		retryTimes:    200,
		retryInterval: 25 * time.Millisecond,
	}
}

func (l *RedisLocker) Acquire(ctx context.Context, key string) (func(), error) {
	lock := xredis.NewDistLock(l.client, key, l.ttl)
	if err := lock.Lock(ctx, l.retryTimes, l.retryInterval); err != nil {
		return nil, err
	}
	return func() {
		// 解锁不跟随请求 ctx，请求取消了也要把锁放掉
		ctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), time.Second)
		defer cancel()
		ok, err := lock.Unlock(ctx)
		if err != nil || !ok {
			logger.Warn(ctx, "release allocation lock failed",
				zap.String("key", key), zap.Bool("released", ok), zap.Error(err))
		}
	}, nil
}

// LocalLocker 单实例、没配 redis 时的进程内锁
type LocalLocker struct {
	mu    sync.Mutex
	slots map[string]*slot
}

type slot struct {
	ch   chan struct{}
	refs int
}

func NewLocalLocker() *LocalLocker {
	return &LocalLocker{slots: make(map[string]*slot)}
}

func (l *LocalLocker) Acquire(ctx context.Context, key string) (func(), error) {
	l.mu.Lock()
	s, ok := l.slots[key]
	if !ok {
		s = &slot{ch: make(chan struct{}, 1)}
		l.slots[key] = s
	}
	s.refs++
	l.mu.Unlock()

	select {
	case s.ch <- struct{}{}:
		return func() {
			<-s.ch
			l.release(key, s)
		}, nil
	case <-ctx.Done():
		l.release(key, s)
		return nil, ctx.Err()
	}
}

func (l *LocalLocker) release(key string, s *slot) {
	l.mu.Lock()
	s.refs--
	if s.refs == 0 {
		delete(l.slots, key)
	}
	l.mu.Unlock()
}
