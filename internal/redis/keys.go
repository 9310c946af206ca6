package redis

const (
	// OnlineUsersKey 在线用户 Hash: userId -> sessionId
	OnlineUsersKey = "online_users"

	// SessionUsersKey 会话反向索引 Hash: sessionId -> userId
	SessionUsersKey = "session_users"

	// ActiveChatsKey 当前打开的会话 Hash: userId -> peerId
	ActiveChatsKey = "user_active_chats"

	// LastSeenKey 最后在线时间 Hash: userId -> unix 毫秒
	LastSeenKey = "user_last_seen"

	chatBufferKeyPrefix     = "chat_buffer:"
	chatBufferLockKeyPrefix = "chat_buffer_lock:"
)

// BuildChatBufferKey 构建会话消息缓冲 Key
// Key: chat_buffer:{conversationId}
func BuildChatBufferKey(conversationID string) string {
	return chatBufferKeyPrefix + conversationID
}

// BuildChatBufferLockKey 构建会话缓冲分布式锁 Key
func BuildChatBufferLockKey(conversationID string) string {
	return chatBufferLockKeyPrefix + conversationID
}
