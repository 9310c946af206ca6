package service

import (
	"context"
	"errors"
	"time"

	"sudooom.im.chat/internal/errs"
	"sudooom.im.chat/internal/realtime"
	"sudooom.im.chat/internal/repository"
)

// UserStatusPayload 连接成功后回给客户端
type UserStatusPayload struct {
	Status string `json:"status"`
	UserID string `json:"userId"`
}

// LastSeenPayload 用户下线广播
type LastSeenPayload struct {
	UserID   string    `json:"userId"`
	LastSeen time.Time `json:"lastSeen"`
}

// OnlineStatusPayload 在线状态查询结果
type OnlineStatusPayload struct {
	UserID   string `json:"userId"`
	IsOnline bool   `json:"isOnline"`
}

// Connect 会话登记为 userID 的在线会话
func (s *ChatService) Connect(ctx context.Context, sessionID, userID string) error {
	if sessionID == "" || userID == "" {
		return errs.ErrInvalidParams
	}

	if s.sessions != nil && !s.sessions.Bind(sessionID, userID) {
		s.logger.Warn("Session gone before bind", "sessionId", sessionID, "userId", userID)
		return nil
	}
	if err := s.presence.Connect(ctx, userID, sessionID); err != nil {
		return errs.ErrCacheError.Wrap(err)
	}

	s.logger.Info("User connected", "userId", userID, "sessionId", sessionID)
	return s.publisher.PublishToSession(ctx, sessionID, realtime.EventUserStatus,
		UserStatusPayload{Status: "connected", UserID: userID})
}

// EnterChat 用户打开与 chatWith 的会话，已有会话时全部标记已读
func (s *ChatService) EnterChat(ctx context.Context, userID, chatWith string) error {
	if userID == "" || chatWith == "" {
		return errs.ErrInvalidParams
	}
	if err := s.presence.SetActiveChat(ctx, userID, chatWith); err != nil {
		return errs.ErrCacheError.Wrap(err)
	}

	conv, err := s.store.FindByPair(ctx, userID, chatWith)
	if err != nil {
		if errors.Is(err, repository.ErrConversationNotFound) {
			return nil
		}
		return storeErr(err)
	}
	_, err = s.MarkAllMessagesRead(ctx, conv.ID, userID)
	return err
}

// LeaveChat 用户关闭当前会话
func (s *ChatService) LeaveChat(ctx context.Context, userID string) error {
	if userID == "" {
		return errs.ErrInvalidParams
	}
	if err := s.presence.ClearActiveChat(ctx, userID); err != nil {
		return errs.ErrCacheError.Wrap(err)
	}
	return nil
}

// Disconnect 连接断开，会话已被替换时不做处理
func (s *ChatService) Disconnect(ctx context.Context, sessionID string) error {
	if s.sessions != nil {
		s.sessions.Unbind(sessionID)
	}

	userID, err := s.presence.Disconnect(ctx, sessionID)
	if err != nil {
		return errs.ErrCacheError.Wrap(err)
	}
	if userID == "" {
		return nil
	}
	return s.markLastSeen(ctx, userID)
}

// SignOff 用户主动下线
func (s *ChatService) SignOff(ctx context.Context, sessionID, userID string) error {
	if userID == "" {
		return errs.ErrInvalidParams
	}
	if s.sessions != nil && sessionID != "" {
		s.sessions.Unbind(sessionID)
	}
	if err := s.presence.SignOff(ctx, userID); err != nil {
		return errs.ErrCacheError.Wrap(err)
	}
	return s.markLastSeen(ctx, userID)
}

func (s *ChatService) markLastSeen(ctx context.Context, userID string) error {
	now := s.now()
	if err := s.presence.SetLastSeen(ctx, userID, now); err != nil {
		s.logger.Warn("Failed to store last seen", "userId", userID, "error", err)
	}

	s.logger.Info("User disconnected", "userId", userID)
	return s.publisher.Broadcast(ctx, realtime.EventLastSeen, LastSeenPayload{UserID: userID, LastSeen: now})
}

// CheckUserStatus 查询用户是否在线，结果推送到发起查询的会话
func (s *ChatService) CheckUserStatus(ctx context.Context, sessionID, userID string) error {
	if userID == "" {
		return errs.ErrInvalidParams
	}
	status := OnlineStatusPayload{UserID: userID, IsOnline: s.presence.IsOnline(ctx, userID)}
	return s.publisher.PublishToSession(ctx, sessionID, realtime.UserOnlineStatusEvent(userID), status)
}
