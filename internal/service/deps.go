package service

import (
	"context"
	"time"

	"sudooom.im.chat/internal/model"
	"sudooom.im.chat/internal/repository"
	"sudooom.im.chat/internal/task"
)

// ConversationStore 会话持久存储
type ConversationStore interface {
	FindByPair(ctx context.Context, userA, userB string) (*model.Conversation, error)
	GetByID(ctx context.Context, id string) (*model.Conversation, error)
	Create(ctx context.Context, conv *model.Conversation) (*model.Conversation, error)

	AppendMessages(ctx context.Context, conversationID string, msgs []model.Message) error
	ListMessages(ctx context.Context, conversationID string) ([]model.Message, error)
	MarkMessageRead(ctx context.Context, conversationID, messageID, userID string, at time.Time) (bool, error)
	MarkAllRead(ctx context.Context, conversationID, userID string, at time.Time) (int64, error)

	SetLastMessage(ctx context.Context, conversationID string, last model.LastMessage) error
	MarkLastMessageRead(ctx context.Context, conversationID, readerID, messageID string) error
	IncrementUnread(ctx context.Context, conversationID, userID string) error
	ResetUnread(ctx context.Context, conversationID, userID string) error

	ListForUser(ctx context.Context, f repository.ListFilter) ([]*model.Conversation, int, error)
	UnreadTotals(ctx context.Context, userID string) (int, int, error)
	SetPinned(ctx context.Context, conversationID string, pinned bool) error
	SetArchived(ctx context.Context, conversationID string, archived bool) error
	SetMuted(ctx context.Context, conversationID, userID string, muted bool) error
}

// MessageBuffer 消息写回缓冲
type MessageBuffer interface {
	Append(ctx context.Context, conversationID string, msg model.Message) error
	ScheduleFlush(conversationID string) error
	ReadAll(ctx context.Context, conversationID string) ([]model.Message, error)
	MarkRead(ctx context.Context, conversationID, messageID, userID string, at time.Time) (found, changed bool, err error)
	MarkAllRead(ctx context.Context, conversationID, userID string, at time.Time) (int, error)
}

// KindResolver 账号类型识别
type KindResolver interface {
	ResolveKind(ctx context.Context, id string) (model.AccountKind, error)
}

// ProfileStore 账号公开资料
type ProfileStore interface {
	Profile(ctx context.Context, id string) (*model.AccountProfile, error)
	ProfileByHandle(ctx context.Context, handle string) (*model.AccountProfile, error)
	Profiles(ctx context.Context, ids []string) (map[string]model.AccountProfile, error)
}

// NotificationStore 通知与通知设置存储
type NotificationStore interface {
	EnsureSettings(ctx context.Context, userID string) (*model.NotificationSettings, error)
	SaveSettings(ctx context.Context, s *model.NotificationSettings) (*model.NotificationSettings, error)
	Append(ctx context.Context, userID string, n *model.Notification) error
	List(ctx context.Context, userID string, limit, offset int) ([]model.Notification, int, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, userID, id string) error
	DeleteAll(ctx context.Context, userID string) (int64, error)
}

// DelayScheduler 延迟任务调度
type DelayScheduler interface {
	Schedule(id, target string, delay time.Duration, fn task.TaskFunc) error
}

// SessionBinder 本节点会话与用户的绑定
type SessionBinder interface {
	Bind(sessionID, userID string) bool
	Unbind(sessionID string)
}

// Notifier 通知投递
type Notifier interface {
	Notify(ctx context.Context, recipientID string, item model.Notification) (*model.Notification, error)
}
