package buffer

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/go-redsync/redsync/v4"
	"github.com/go-redsync/redsync/v4/redis/goredis/v9"
	"github.com/redis/go-redis/v9"

	chatredis "sudooom.im.chat/internal/redis"
)

// Locker 会话级互斥，串行化同一会话的刷盘与已读改写
type Locker interface {
	Lock(ctx context.Context, conversationID string) (unlock func(), err error)
}

// LocalLocker 进程内按会话加锁
type LocalLocker struct {
	mu    sync.Mutex
	locks map[string]*refMutex
}

type refMutex struct {
	mu   sync.Mutex
	refs int
}

// NewLocalLocker 创建进程内锁
func NewLocalLocker() *LocalLocker {
	return &LocalLocker{locks: make(map[string]*refMutex)}
}

func (l *LocalLocker) Lock(_ context.Context, conversationID string) (func(), error) {
	l.mu.Lock()
	m, ok := l.locks[conversationID]
	if !ok {
		m = &refMutex{}
		l.locks[conversationID] = m
	}
	m.refs++
	l.mu.Unlock()

	m.mu.Lock()

	return func() {
		m.mu.Unlock()

		l.mu.Lock()
		m.refs--
		if m.refs == 0 {
			delete(l.locks, conversationID)
		}
		l.mu.Unlock()
	}, nil
}

// RedsyncLocker 基于 Redis 的分布式锁，多节点共享缓冲时使用
type RedsyncLocker struct {
	rs     *redsync.Redsync
	expiry time.Duration
	logger *slog.Logger
}

// NewRedsyncLocker 创建分布式锁，expiry 需大于一次刷盘的耗时
func NewRedsyncLocker(client redis.UniversalClient, expiry time.Duration) *RedsyncLocker {
	if expiry <= 0 {
		expiry = 10 * time.Second
	}
	return &RedsyncLocker{
		rs:     redsync.New(goredis.NewPool(client)),
		expiry: expiry,
		logger: slog.Default(),
	}
}

func (l *RedsyncLocker) Lock(ctx context.Context, conversationID string) (func(), error) {
	mutex := l.rs.NewMutex(chatredis.BuildChatBufferLockKey(conversationID),
		redsync.WithExpiry(l.expiry),
		redsync.WithTries(64),
		redsync.WithRetryDelay(25*time.Millisecond),
	)

	if err := mutex.LockContext(ctx); err != nil {
		return nil, fmt.Errorf("lock buffer %s: %w", conversationID, err)
	}

	return func() {
		if _, err := mutex.UnlockContext(context.Background()); err != nil {
			l.logger.Error("Failed to unlock buffer mutex", "conversationId", conversationID, "error", err)
		}
	}, nil
}
