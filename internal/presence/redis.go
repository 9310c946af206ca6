package presence

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/redis/go-redis/v9"

	chatredis "sudooom.im.chat/internal/redis"
)

// connectScript 原子地写入正向和反向索引，并清理被替换会话的反向记录
// KEYS: online_users, session_users  ARGV: userId, sessionId
var connectScript = redis.NewScript(`
local old = redis.call('HGET', KEYS[1], ARGV[1])
if old and old ~= ARGV[2] then
  redis.call('HDEL', KEYS[2], old)
end
redis.call('HSET', KEYS[1], ARGV[1], ARGV[2])
redis.call('HSET', KEYS[2], ARGV[2], ARGV[1])
return 1
`)

// disconnectScript 通过反向索引 O(1) 找到用户
// 仅当正向记录仍指向该会话时才移除在线状态和当前会话标记
// KEYS: online_users, session_users, user_active_chats  ARGV: sessionId
var disconnectScript = redis.NewScript(`
local user = redis.call('HGET', KEYS[2], ARGV[1])
if not user then
  return ''
end
redis.call('HDEL', KEYS[2], ARGV[1])
if redis.call('HGET', KEYS[1], user) ~= ARGV[1] then
  return ''
end
redis.call('HDEL', KEYS[1], user)
redis.call('HDEL', KEYS[3], user)
return user
`)

// signOffScript KEYS: online_users, session_users, user_active_chats  ARGV: userId
var signOffScript = redis.NewScript(`
local session = redis.call('HGET', KEYS[1], ARGV[1])
if session then
  redis.call('HDEL', KEYS[2], session)
end
redis.call('HDEL', KEYS[1], ARGV[1])
redis.call('HDEL', KEYS[3], ARGV[1])
return 1
`)

// RedisRegistry 基于 Redis Hash 的在线状态，多节点共享
type RedisRegistry struct {
	client redis.UniversalClient
	logger *slog.Logger
}

// NewRedisRegistry 创建 Redis 在线状态注册表
func NewRedisRegistry(client redis.UniversalClient) *RedisRegistry {
	return &RedisRegistry{
		client: client,
		logger: slog.Default(),
	}
}

// Open 检查连接并预加载脚本
func (r *RedisRegistry) Open(ctx context.Context) error {
	if err := r.client.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("presence registry ping: %w", err)
	}
	for _, s := range []*redis.Script{connectScript, disconnectScript, signOffScript} {
		if err := s.Load(ctx, r.client).Err(); err != nil {
			return fmt.Errorf("load presence script: %w", err)
		}
	}
	return nil
}

// Close 客户端由调用方管理
func (r *RedisRegistry) Close() error {
	return nil
}

func (r *RedisRegistry) Connect(ctx context.Context, userID, sessionID string) error {
	keys := []string{chatredis.OnlineUsersKey, chatredis.SessionUsersKey}
	if err := connectScript.Run(ctx, r.client, keys, userID, sessionID).Err(); err != nil {
		return fmt.Errorf("connect %s: %w", userID, err)
	}
	return nil
}

func (r *RedisRegistry) Disconnect(ctx context.Context, sessionID string) (string, error) {
	keys := []string{chatredis.OnlineUsersKey, chatredis.SessionUsersKey, chatredis.ActiveChatsKey}
	userID, err := disconnectScript.Run(ctx, r.client, keys, sessionID).Text()
	if err != nil {
		return "", fmt.Errorf("disconnect session %s: %w", sessionID, err)
	}
	return userID, nil
}

func (r *RedisRegistry) SignOff(ctx context.Context, userID string) error {
	keys := []string{chatredis.OnlineUsersKey, chatredis.SessionUsersKey, chatredis.ActiveChatsKey}
	if err := signOffScript.Run(ctx, r.client, keys, userID).Err(); err != nil {
		return fmt.Errorf("sign off %s: %w", userID, err)
	}
	return nil
}

func (r *RedisRegistry) SessionOf(ctx context.Context, userID string) (string, bool, error) {
	return r.hget(ctx, chatredis.OnlineUsersKey, userID)
}

func (r *RedisRegistry) IsOnline(ctx context.Context, userID string) bool {
	_, ok, err := r.SessionOf(ctx, userID)
	if err != nil {
		r.logger.Warn("presence lookup failed, treating user as offline", "userId", userID, "error", err)
		return false
	}
	return ok
}

func (r *RedisRegistry) SetActiveChat(ctx context.Context, userID, peerID string) error {
	return r.client.HSet(ctx, chatredis.ActiveChatsKey, userID, peerID).Err()
}

func (r *RedisRegistry) ClearActiveChat(ctx context.Context, userID string) error {
	return r.client.HDel(ctx, chatredis.ActiveChatsKey, userID).Err()
}

func (r *RedisRegistry) ActiveChat(ctx context.Context, userID string) (string, bool, error) {
	return r.hget(ctx, chatredis.ActiveChatsKey, userID)
}

func (r *RedisRegistry) IsActivelyViewing(ctx context.Context, userID, peerID string) bool {
	active, ok, err := r.ActiveChat(ctx, userID)
	if err != nil {
		r.logger.Warn("active chat lookup failed", "userId", userID, "error", err)
		return false
	}
	return ok && active == peerID
}

func (r *RedisRegistry) SetLastSeen(ctx context.Context, userID string, at time.Time) error {
	return r.client.HSet(ctx, chatredis.LastSeenKey, userID, at.UnixMilli()).Err()
}

func (r *RedisRegistry) LastSeen(ctx context.Context, userID string) (time.Time, bool, error) {
	v, ok, err := r.hget(ctx, chatredis.LastSeenKey, userID)
	if err != nil || !ok {
		return time.Time{}, false, err
	}
	ms, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return time.Time{}, false, fmt.Errorf("parse last seen of %s: %w", userID, err)
	}
	return time.UnixMilli(ms), true, nil
}

func (r *RedisRegistry) hget(ctx context.Context, key, field string) (string, bool, error) {
	v, err := r.client.HGet(ctx, key, field).Result()
	if errors.Is(err, redis.Nil) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return v, true, nil
}
