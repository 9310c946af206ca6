package buffer

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"

	"github.com/redis/go-redis/v9"

	"sudooom.im.chat/internal/model"
	chatredis "sudooom.im.chat/internal/redis"
)

// Store 会话消息缓冲，按发送顺序保存
type Store interface {
	Push(ctx context.Context, conversationID string, msg model.Message) error
	ReadAll(ctx context.Context, conversationID string) ([]model.Message, error)
	// Update 按下标原地改写，不改变顺序
	Update(ctx context.Context, conversationID string, updates map[int]model.Message) error
	// Trim 移除最早的 n 条，返回剩余条数
	Trim(ctx context.Context, conversationID string, n int) (int, error)
}

// RedisStore Redis List 实现，RPUSH 追加，下标 0 为最早
type RedisStore struct {
	client redis.UniversalClient
}

// NewRedisStore 创建 Redis 缓冲
func NewRedisStore(client redis.UniversalClient) *RedisStore {
	return &RedisStore{client: client}
}

func (s *RedisStore) Push(ctx context.Context, conversationID string, msg model.Message) error {
	data, err := json.Marshal(msg)
	if err != nil {
		return fmt.Errorf("marshal message %s: %w", msg.ID, err)
	}
	return s.client.RPush(ctx, chatredis.BuildChatBufferKey(conversationID), data).Err()
}

func (s *RedisStore) ReadAll(ctx context.Context, conversationID string) ([]model.Message, error) {
	items, err := s.client.LRange(ctx, chatredis.BuildChatBufferKey(conversationID), 0, -1).Result()
	if err != nil && !errors.Is(err, redis.Nil) {
		return nil, err
	}

	msgs := make([]model.Message, 0, len(items))
	for _, item := range items {
		var m model.Message
		if err := json.Unmarshal([]byte(item), &m); err != nil {
			return nil, fmt.Errorf("unmarshal buffered message: %w", err)
		}
		msgs = append(msgs, m)
	}
	return msgs, nil
}

func (s *RedisStore) Update(ctx context.Context, conversationID string, updates map[int]model.Message) error {
	if len(updates) == 0 {
		return nil
	}
	key := chatredis.BuildChatBufferKey(conversationID)

	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		for idx, msg := range updates {
			data, err := json.Marshal(msg)
			if err != nil {
				return fmt.Errorf("marshal message %s: %w", msg.ID, err)
			}
			pipe.LSet(ctx, key, int64(idx), data)
		}
		return nil
	})
	return err
}

func (s *RedisStore) Trim(ctx context.Context, conversationID string, n int) (int, error) {
	key := chatredis.BuildChatBufferKey(conversationID)

	var llen *redis.IntCmd
	_, err := s.client.TxPipelined(ctx, func(pipe redis.Pipeliner) error {
		pipe.LTrim(ctx, key, int64(n), -1)
		llen = pipe.LLen(ctx, key)
		return nil
	})
	if err != nil {
		return 0, err
	}
	return int(llen.Val()), nil
}

// MemoryStore 单进程缓冲
type MemoryStore struct {
	mu    sync.Mutex
	lists map[string][]model.Message
}

// NewMemoryStore 创建内存缓冲
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{lists: make(map[string][]model.Message)}
}

func cloneMessage(m model.Message) model.Message {
	m.ReadBy = append([]model.ReadReceipt(nil), m.ReadBy...)
	return m
}

func (s *MemoryStore) Push(_ context.Context, conversationID string, msg model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.lists[conversationID] = append(s.lists[conversationID], cloneMessage(msg))
	return nil
}

func (s *MemoryStore) ReadAll(_ context.Context, conversationID string) ([]model.Message, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[conversationID]
	msgs := make([]model.Message, len(list))
	for i, m := range list {
		msgs[i] = cloneMessage(m)
	}
	return msgs, nil
}

func (s *MemoryStore) Update(_ context.Context, conversationID string, updates map[int]model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[conversationID]
	for idx := range updates {
		if idx < 0 || idx >= len(list) {
			return fmt.Errorf("buffer index %d out of range", idx)
		}
	}
	for idx, msg := range updates {
		list[idx] = cloneMessage(msg)
	}
	return nil
}

func (s *MemoryStore) Trim(_ context.Context, conversationID string, n int) (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	list := s.lists[conversationID]
	if n >= len(list) {
		delete(s.lists, conversationID)
		return 0, nil
	}
	rest := append([]model.Message(nil), list[n:]...)
	s.lists[conversationID] = rest
	return len(rest), nil
}
