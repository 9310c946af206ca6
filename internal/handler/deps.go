package handler

import (
	"context"

	"sudooom.im.chat/internal/model"
	"sudooom.im.chat/internal/service"
)

// ChatEvents 实时事件处理
type ChatEvents interface {
	Connect(ctx context.Context, sessionID, userID string) error
	EnterChat(ctx context.Context, userID, chatWith string) error
	LeaveChat(ctx context.Context, userID string) error
	SendPrivateMessage(ctx context.Context, in service.SendInput) (*model.Message, error)
	MarkMessageRead(ctx context.Context, conversationID, messageID, userID string) (bool, error)
	MarkAllMessagesRead(ctx context.Context, conversationID, userID string) (int, error)
	Disconnect(ctx context.Context, sessionID string) error
	SignOff(ctx context.Context, sessionID, userID string) error
	CheckUserStatus(ctx context.Context, sessionID, userID string) error
}

// ChatQueries 会话查询
type ChatQueries interface {
	History(ctx context.Context, userID, peerID string) (*service.History, error)
	ListConversations(ctx context.Context, userID string, page, limit int, search string) (*service.ChatList, error)
	UnreadTotals(ctx context.Context, userID string) (*service.UnreadTotals, error)
	UpdateFlag(ctx context.Context, userID, conversationID, action string, value bool) error
	ProfileByHandle(ctx context.Context, handle string) (*model.AccountProfile, error)
}

// Notifications 通知接口
type Notifications interface {
	Notify(ctx context.Context, recipientID string, item model.Notification) (*model.Notification, error)
	List(ctx context.Context, userID string, page, limit int) (*service.NotificationPage, error)
	MarkRead(ctx context.Context, userID, id string) error
	MarkAllRead(ctx context.Context, userID string) (int64, error)
	Delete(ctx context.Context, userID, id string) error
	DeleteAll(ctx context.Context, userID string) (int64, error)
	Settings(ctx context.Context, userID string) (*model.NotificationSettings, error)
	UpdateSettings(ctx context.Context, userID string, patch service.SettingsPatch) (*model.NotificationSettings, error)
}
