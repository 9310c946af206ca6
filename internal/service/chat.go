package service

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/google/uuid"

	"sudooom.im.chat/internal/errs"
	"sudooom.im.chat/internal/metrics"
	"sudooom.im.chat/internal/model"
	"sudooom.im.chat/internal/presence"
	"sudooom.im.chat/internal/realtime"
	"sudooom.im.chat/internal/repository"
	"sudooom.im.chat/pkg/snowflake"
)

// 消息路由
const (
	routeLive         = "live"
	routeNotification = "notification"
)

// ChatOptions 投递策略参数
type ChatOptions struct {
	AutoReadDelay time.Duration
	PreviewLength int
}

// ChatDeps 私信服务依赖
type ChatDeps struct {
	Store     ConversationStore
	Buffer    MessageBuffer
	Presence  presence.Registry
	Resolver  KindResolver
	Profiles  ProfileStore
	Publisher realtime.Publisher
	Notifier  Notifier
	Scheduler DelayScheduler
	Sessions  SessionBinder
	IDs       *snowflake.Node
}

// ChatService 私信投递与已读回执
type ChatService struct {
	store     ConversationStore
	buffer    MessageBuffer
	presence  presence.Registry
	resolver  KindResolver
	profiles  ProfileStore
	publisher realtime.Publisher
	notifier  Notifier
	scheduler DelayScheduler
	sessions  SessionBinder
	ids       *snowflake.Node
	opts      ChatOptions
	logger    *slog.Logger
	now       func() time.Time
}

// NewChatService 创建私信服务
func NewChatService(deps ChatDeps, opts ChatOptions) *ChatService {
	if opts.PreviewLength <= 0 {
		opts.PreviewLength = 30
	}
	return &ChatService{
		store:     deps.Store,
		buffer:    deps.Buffer,
		presence:  deps.Presence,
		resolver:  deps.Resolver,
		profiles:  deps.Profiles,
		publisher: deps.Publisher,
		notifier:  deps.Notifier,
		scheduler: deps.Scheduler,
		sessions:  deps.Sessions,
		ids:       deps.IDs,
		opts:      opts,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// SendInput 发送私信参数
type SendInput struct {
	SessionID string
	From      string
	To        string
	Message   string
	Timestamp *time.Time
}

// MessagePayload 消息下行载荷
type MessagePayload struct {
	ID             string               `json:"id"`
	ConversationID string               `json:"conversationId"`
	From           model.AccountProfile `json:"from"`
	Message        string               `json:"message"`
	Timestamp      time.Time            `json:"timestamp"`
	Status         model.MessageStatus  `json:"status"`
}

// MessageNotificationPayload 对方未打开会话时的新消息提醒
type MessageNotificationPayload struct {
	MessagePayload
	Type     string `json:"type"`
	FromUser string `json:"fromUser"`
	Preview  string `json:"preview"`
}

// ReadPayload 已读回执载荷
type ReadPayload struct {
	ConversationID string    `json:"conversationId"`
	MessageID      string    `json:"messageId,omitempty"`
	ReadBy         string    `json:"readBy"`
	Timestamp      time.Time `json:"timestamp"`
}

// SendPrivateMessage 发送私信
// 任一步骤失败即中止，已写入缓冲的消息不回滚
func (s *ChatService) SendPrivateMessage(ctx context.Context, in SendInput) (*model.Message, error) {
	// 1. 参数校验
	if in.From == "" || in.To == "" || strings.TrimSpace(in.Message) == "" {
		return nil, errs.ErrInvalidParams
	}
	if in.From == in.To {
		return nil, errs.ErrCannotMessageSelf
	}

	// 2. 查找或创建会话
	conv, err := s.findOrCreate(ctx, in.From, in.To)
	if err != nil {
		return nil, err
	}

	// 3. 构建消息
	now := s.now()
	sentAt := now
	if in.Timestamp != nil && !in.Timestamp.IsZero() {
		sentAt = *in.Timestamp
	}
	msg := model.NewMessage(uuid.NewString(), in.From, in.Message, sentAt, now)

	// 4. 写入缓冲并安排刷盘
	if err := s.buffer.Append(ctx, conv.ID, msg); err != nil {
		return nil, errs.ErrCacheError.Wrap(err)
	}
	if err := s.buffer.ScheduleFlush(conv.ID); err != nil {
		return nil, errs.ErrCacheError.Wrap(err)
	}

	// 5. 更新摘要和接收方未读数
	if err := s.store.SetLastMessage(ctx, conv.ID, msg.Summary()); err != nil {
		return nil, storeErr(err)
	}
	if err := s.store.IncrementUnread(ctx, conv.ID, in.To); err != nil {
		return nil, storeErr(err)
	}

	// 6. 路由：接收方正在看与发送方的会话则直接投递，否则走提醒
	payload := MessagePayload{
		ID:             msg.ID,
		ConversationID: conv.ID,
		From:           s.profileOf(ctx, in.From),
		Message:        msg.Content,
		Timestamp:      msg.Timestamp,
		Status:         msg.Status,
	}

	route := routeNotification
	if s.presence.IsActivelyViewing(ctx, in.To, in.From) {
		route = routeLive
		if err := s.publisher.PublishToUser(ctx, in.To, realtime.EventPrivateMessage, payload); err != nil {
			return nil, errs.ErrServerError.Wrap(err)
		}
		s.scheduleAutoRead(conv.ID, msg.ID, in.To)
	} else {
		preview := Preview(msg.Content, s.opts.PreviewLength)
		notice := MessageNotificationPayload{
			MessagePayload: payload,
			Type:           "new_message",
			FromUser:       in.From,
			Preview:        preview,
		}
		if err := s.publisher.PublishToUser(ctx, in.To, realtime.EventMessageNotification, notice); err != nil {
			return nil, errs.ErrServerError.Wrap(err)
		}
		s.notifyMessage(ctx, in.To, payload.From, preview)
	}

	// 7. 回执给发送方
	if err := s.echo(ctx, in.SessionID, in.From, realtime.EventMessageSent, payload); err != nil {
		return nil, errs.ErrServerError.Wrap(err)
	}

	metrics.MessagesSent.Inc()
	metrics.MessageRoutes.WithLabelValues(route).Inc()

	s.logger.Debug("Private message sent",
		"conversationId", conv.ID,
		"messageId", msg.ID,
		"from", in.From,
		"to", in.To,
		"route", route)
	return &msg, nil
}

// findOrCreate 按参与者对查找会话，不存在时识别双方账号类型后创建
func (s *ChatService) findOrCreate(ctx context.Context, from, to string) (*model.Conversation, error) {
	conv, err := s.store.FindByPair(ctx, from, to)
	if err == nil {
		return conv, nil
	}
	if !errors.Is(err, repository.ErrConversationNotFound) {
		return nil, storeErr(err)
	}

	fromKind, err := s.resolver.ResolveKind(ctx, from)
	if err != nil {
		return nil, errs.ErrDBError.Wrap(err)
	}
	toKind, err := s.resolver.ResolveKind(ctx, to)
	if err != nil {
		return nil, errs.ErrDBError.Wrap(err)
	}
	if !fromKind.Valid() || !toKind.Valid() {
		return nil, errs.ErrUnknownAccount
	}

	conv = model.NewConversation(s.ids.NextString(),
		model.Participant{ID: from, Kind: fromKind},
		model.Participant{ID: to, Kind: toKind},
		s.now())

	created, err := s.store.Create(ctx, conv)
	if err != nil {
		return nil, storeErr(err)
	}
	if created.ID == conv.ID {
		s.logger.Info("Conversation created", "conversationId", created.ID, "from", from, "to", to)
	}
	return created, nil
}

// scheduleAutoRead 接收方正在查看会话时，延迟一段时间后自动标记已读
func (s *ChatService) scheduleAutoRead(conversationID, messageID, readerID string) {
	err := s.scheduler.Schedule("autoread:"+messageID, conversationID, s.opts.AutoReadDelay,
		func(ctx context.Context, target string) error {
			_, err := s.MarkMessageRead(ctx, target, messageID, readerID)
			return err
		})
	if err != nil {
		s.logger.Warn("Failed to schedule auto read", "conversationId", conversationID, "messageId", messageID, "error", err)
	}
}

// notifyMessage 生成新消息通知，失败只记录日志
func (s *ChatService) notifyMessage(ctx context.Context, recipientID string, from model.AccountProfile, preview string) {
	if s.notifier == nil {
		return
	}

	name := from.Name
	if name == "" {
		name = from.ID
	}
	handle := from.Handle
	if handle == "" {
		handle = from.ID
	}

	item := model.Notification{
		Type:    model.NotificationTypeMessage,
		Title:   "New Message",
		Message: fmt.Sprintf("%s sent you a message: \"%s\"", name, preview),
		Avatar:  from.ProfileImage,
		Icon:    "MessageCircle",
		Link:    "/messages?tab=/" + handle,
	}
	if _, err := s.notifier.Notify(ctx, recipientID, item); err != nil {
		s.logger.Error("Failed to notify message", "recipientId", recipientID, "from", from.ID, "error", err)
	}
}

// MarkMessageRead 标记单条消息为 userID 已读
// 先查缓冲再查持久存储，重复标记不产生事件
func (s *ChatService) MarkMessageRead(ctx context.Context, conversationID, messageID, userID string) (bool, error) {
	if conversationID == "" || messageID == "" || userID == "" {
		return false, errs.ErrInvalidParams
	}

	conv, err := s.participantConversation(ctx, conversationID, userID)
	if err != nil {
		return false, err
	}

	now := s.now()
	source := "buffer"
	found, changed, err := s.buffer.MarkRead(ctx, conversationID, messageID, userID, now)
	if err != nil {
		return false, errs.ErrCacheError.Wrap(err)
	}
	if !found {
		source = "store"
		changed, err = s.store.MarkMessageRead(ctx, conversationID, messageID, userID, now)
		if err != nil {
			return false, storeErr(err)
		}
	}
	if !changed {
		return false, nil
	}

	if err := s.store.ResetUnread(ctx, conversationID, userID); err != nil {
		return true, storeErr(err)
	}
	if err := s.store.MarkLastMessageRead(ctx, conversationID, userID, messageID); err != nil {
		s.logger.Warn("Failed to update last message status", "conversationId", conversationID, "error", err)
	}

	metrics.ReadReceipts.WithLabelValues(source).Inc()

	peer, _ := conv.Peer(userID)
	receipt := ReadPayload{
		ConversationID: conversationID,
		MessageID:      messageID,
		ReadBy:         userID,
		Timestamp:      now,
	}
	if err := s.publisher.PublishToUser(ctx, peer.ID, realtime.EventMessageRead, receipt); err != nil {
		s.logger.Warn("Failed to publish read receipt", "conversationId", conversationID, "messageId", messageID, "error", err)
	}
	return true, nil
}

// MarkAllMessagesRead 标记会话中对方发送的全部消息为已读，返回改写条数
func (s *ChatService) MarkAllMessagesRead(ctx context.Context, conversationID, userID string) (int, error) {
	if conversationID == "" || userID == "" {
		return 0, errs.ErrInvalidParams
	}

	conv, err := s.participantConversation(ctx, conversationID, userID)
	if err != nil {
		return 0, err
	}

	now := s.now()
	buffered, err := s.buffer.MarkAllRead(ctx, conversationID, userID, now)
	if err != nil {
		return 0, errs.ErrCacheError.Wrap(err)
	}
	stored, err := s.store.MarkAllRead(ctx, conversationID, userID, now)
	if err != nil {
		return buffered, storeErr(err)
	}
	if err := s.store.ResetUnread(ctx, conversationID, userID); err != nil {
		return buffered + int(stored), storeErr(err)
	}
	if err := s.store.MarkLastMessageRead(ctx, conversationID, userID, ""); err != nil {
		s.logger.Warn("Failed to update last message status", "conversationId", conversationID, "error", err)
	}

	changed := buffered + int(stored)
	if changed > 0 {
		metrics.ReadReceipts.WithLabelValues("bulk").Add(float64(changed))
	}

	peer, _ := conv.Peer(userID)
	receipt := ReadPayload{
		ConversationID: conversationID,
		ReadBy:         userID,
		Timestamp:      now,
	}
	if err := s.publisher.PublishToUser(ctx, peer.ID, realtime.EventAllMessagesRead, receipt); err != nil {
		s.logger.Warn("Failed to publish read receipt", "conversationId", conversationID, "error", err)
	}
	return changed, nil
}

func (s *ChatService) participantConversation(ctx context.Context, conversationID, userID string) (*model.Conversation, error) {
	conv, err := s.store.GetByID(ctx, conversationID)
	if err != nil {
		return nil, storeErr(err)
	}
	if !conv.HasParticipant(userID) {
		return nil, errs.ErrNotParticipant
	}
	return conv, nil
}

// profileOf 查询账号资料，失败时只返回 ID
func (s *ChatService) profileOf(ctx context.Context, id string) model.AccountProfile {
	if s.profiles == nil {
		return model.AccountProfile{ID: id}
	}
	p, err := s.profiles.Profile(ctx, id)
	if err != nil {
		if !errors.Is(err, repository.ErrAccountNotFound) {
			s.logger.Warn("Failed to load profile", "id", id, "error", err)
		}
		return model.AccountProfile{ID: id}
	}
	return *p
}

// echo 优先推送到发起请求的会话
func (s *ChatService) echo(ctx context.Context, sessionID, userID, event string, data any) error {
	if sessionID != "" {
		return s.publisher.PublishToSession(ctx, sessionID, event, data)
	}
	return s.publisher.PublishToUser(ctx, userID, event, data)
}

// Preview 截取前 n 个字符，超出部分用 ... 表示
func Preview(content string, n int) string {
	if utf8.RuneCountInString(content) <= n {
		return content
	}
	return string([]rune(content)[:n]) + "..."
}

// storeErr 持久层错误转换为业务错误
func storeErr(err error) error {
	switch {
	case errors.Is(err, repository.ErrConversationNotFound):
		return errs.ErrConversationNotFound
	case errors.Is(err, repository.ErrNotMember):
		return errs.ErrNotParticipant
	case errors.Is(err, repository.ErrNotificationNotFound):
		return errs.ErrNotificationNotFound
	case errors.Is(err, repository.ErrAccountNotFound):
		return errs.ErrAccountNotFound
	}
	return errs.ErrDBError.Wrap(err)
}
