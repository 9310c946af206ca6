package service

import (
	"context"
	"errors"
	"log/slog"
	"sort"
	"time"

	"sudooom.im.chat/internal/errs"
	"sudooom.im.chat/internal/model"
	"sudooom.im.chat/internal/presence"
	"sudooom.im.chat/internal/repository"
)

// 会话标记操作
const (
	ActionPin     = "pin"
	ActionArchive = "archive"
	ActionMute    = "mute"
)

// QueryService 会话查询与会话设置
type QueryService struct {
	store    ConversationStore
	buffer   MessageBuffer
	presence presence.Registry
	profiles ProfileStore
	logger   *slog.Logger
}

// NewQueryService 创建查询服务
func NewQueryService(store ConversationStore, buffer MessageBuffer, registry presence.Registry, profiles ProfileStore) *QueryService {
	return &QueryService{
		store:    store,
		buffer:   buffer,
		presence: registry,
		profiles: profiles,
		logger:   slog.Default(),
	}
}

// History 会话历史
type History struct {
	ConversationID string             `json:"conversationId"`
	Messages       []model.Message    `json:"messages"`
	UnreadCount    int                `json:"unreadCount"`
	LastMessage    *model.LastMessage `json:"lastMessage"`
}

// History 按参与者对查询历史消息，已落库消息在前，缓冲中的消息在后
func (s *QueryService) History(ctx context.Context, userID, peerID string) (*History, error) {
	if userID == "" || peerID == "" {
		return nil, errs.ErrInvalidParams
	}

	conv, err := s.store.FindByPair(ctx, userID, peerID)
	if err != nil {
		return nil, storeErr(err)
	}

	// 先读缓冲再读库：两次读取之间发生刷盘时，消息至少出现在其中一份结果里
	buffered, err := s.buffer.ReadAll(ctx, conv.ID)
	if err != nil {
		s.logger.Warn("Failed to read buffered messages", "conversationId", conv.ID, "error", err)
	}

	durable, err := s.store.ListMessages(ctx, conv.ID)
	if err != nil {
		return nil, storeErr(err)
	}

	seen := make(map[string]struct{}, len(durable))
	messages := make([]model.Message, 0, len(durable)+len(buffered))
	for _, m := range durable {
		seen[m.ID] = struct{}{}
		messages = append(messages, m)
	}
	for _, m := range buffered {
		if _, ok := seen[m.ID]; ok {
			continue
		}
		messages = append(messages, m)
	}

	return &History{
		ConversationID: conv.ID,
		Messages:       messages,
		UnreadCount:    conv.Unread(userID),
		LastMessage:    conv.LastMessage,
	}, nil
}

// ChatPeer 会话对端
type ChatPeer struct {
	model.AccountProfile
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}

// ChatListItem 会话列表条目
type ChatListItem struct {
	ConversationID string             `json:"conversationId"`
	Peer           ChatPeer           `json:"participant"`
	LastMessage    *model.LastMessage `json:"lastMessage"`
	UnreadCount    int                `json:"unreadCount"`
	IsPinned       bool               `json:"isPinned"`
	IsArchived     bool               `json:"isArchived"`
	IsMuted        bool               `json:"isMuted"`
	CreatedAt      time.Time          `json:"createdAt"`
	UpdatedAt      time.Time          `json:"updatedAt"`
}

// ChatListPaging 会话列表分页信息
type ChatListPaging struct {
	CurrentPage int  `json:"currentPage"`
	TotalPages  int  `json:"totalPages"`
	TotalChats  int  `json:"totalChats"`
	HasNextPage bool `json:"hasNextPage"`
	HasPrevPage bool `json:"hasPrevPage"`
	NextPage    *int `json:"nextPage"`
	PrevPage    *int `json:"prevPage"`
}

// ChatList 会话列表
type ChatList struct {
	Chats      []ChatListItem `json:"chats"`
	Pagination ChatListPaging `json:"pagination"`
}

// ListConversations 按最近活动分页列出会话，本页内置顶的排在前面
func (s *QueryService) ListConversations(ctx context.Context, userID string, page, limit int, search string) (*ChatList, error) {
	if userID == "" {
		return nil, errs.ErrInvalidParams
	}
	page, limit = normalizePage(page, limit)

	convs, total, err := s.store.ListForUser(ctx, repository.ListFilter{
		UserID: userID,
		Search: search,
		Limit:  limit,
		Offset: (page - 1) * limit,
	})
	if err != nil {
		return nil, storeErr(err)
	}

	peerIDs := make([]string, 0, len(convs))
	for _, c := range convs {
		if peer, ok := c.Peer(userID); ok {
			peerIDs = append(peerIDs, peer.ID)
		}
	}
	profiles, err := s.profiles.Profiles(ctx, peerIDs)
	if err != nil {
		s.logger.Warn("Failed to load peer profiles", "userId", userID, "error", err)
		profiles = map[string]model.AccountProfile{}
	}

	items := make([]ChatListItem, 0, len(convs))
	for _, c := range convs {
		peer, ok := c.Peer(userID)
		if !ok {
			continue
		}
		items = append(items, ChatListItem{
			ConversationID: c.ID,
			Peer:           s.peerOf(ctx, peer, profiles),
			LastMessage:    lastMessageOf(c),
			UnreadCount:    c.Unread(userID),
			IsPinned:       c.IsPinned,
			IsArchived:     c.IsArchived,
			IsMuted:        c.MutedBy[userID],
			CreatedAt:      c.CreatedAt,
			UpdatedAt:      c.UpdatedAt,
		})
	}
	sort.SliceStable(items, func(i, j int) bool {
		return items[i].IsPinned && !items[j].IsPinned
	})

	pages := totalPages(total, limit)
	paging := ChatListPaging{
		CurrentPage: page,
		TotalPages:  pages,
		TotalChats:  total,
		HasNextPage: page < pages,
		HasPrevPage: page > 1,
	}
	if paging.HasNextPage {
		next := page + 1
		paging.NextPage = &next
	}
	if paging.HasPrevPage {
		prev := page - 1
		paging.PrevPage = &prev
	}

	return &ChatList{Chats: items, Pagination: paging}, nil
}

func (s *QueryService) peerOf(ctx context.Context, p model.Participant, profiles map[string]model.AccountProfile) ChatPeer {
	profile, ok := profiles[p.ID]
	if !ok {
		profile = model.AccountProfile{ID: p.ID}
	}
	if profile.Kind == model.AccountKindNone {
		profile.Kind = p.Kind
	}

	peer := ChatPeer{AccountProfile: profile, IsOnline: s.presence.IsOnline(ctx, p.ID)}
	if !peer.IsOnline {
		if at, ok, err := s.presence.LastSeen(ctx, p.ID); err == nil && ok {
			peer.LastSeen = &at
		}
	}
	return peer
}

func lastMessageOf(c *model.Conversation) *model.LastMessage {
	if c.LastMessage == nil {
		return nil
	}
	last := *c.LastMessage
	if last.Status == "" {
		last.Status = model.MessageStatusSent
	}
	return &last
}

// UnreadTotals 未读统计
type UnreadTotals struct {
	TotalUnreadMessages int `json:"totalUnreadMessages"`
	UnreadChatsCount    int `json:"unreadChatsCount"`
}

// UnreadTotals 汇总用户所有会话的未读数
func (s *QueryService) UnreadTotals(ctx context.Context, userID string) (*UnreadTotals, error) {
	if userID == "" {
		return nil, errs.ErrInvalidParams
	}
	total, chats, err := s.store.UnreadTotals(ctx, userID)
	if err != nil {
		return nil, storeErr(err)
	}
	return &UnreadTotals{TotalUnreadMessages: total, UnreadChatsCount: chats}, nil
}

// UpdateFlag 置顶、归档或免打扰
func (s *QueryService) UpdateFlag(ctx context.Context, userID, conversationID, action string, value bool) error {
	switch action {
	case ActionPin, ActionArchive, ActionMute:
	default:
		return errs.ErrInvalidAction
	}

	conv, err := s.store.GetByID(ctx, conversationID)
	if err != nil {
		return storeErr(err)
	}
	if !conv.HasParticipant(userID) {
		return errs.ErrConversationNotFound
	}

	switch action {
	case ActionPin:
		err = s.store.SetPinned(ctx, conversationID, value)
	case ActionArchive:
		err = s.store.SetArchived(ctx, conversationID, value)
	case ActionMute:
		err = s.store.SetMuted(ctx, conversationID, userID, value)
	}
	if err != nil {
		return storeErr(err)
	}

	s.logger.Debug("Conversation flag updated", "conversationId", conversationID, "userId", userID, "action", action, "value", value)
	return nil
}

// ProfileByHandle 按公开账号名查询资料
func (s *QueryService) ProfileByHandle(ctx context.Context, handle string) (*model.AccountProfile, error) {
	if handle == "" {
		return nil, errs.ErrInvalidParams
	}
	p, err := s.profiles.ProfileByHandle(ctx, handle)
	if err != nil {
		if errors.Is(err, repository.ErrAccountNotFound) {
			return nil, errs.ErrAccountNotFound
		}
		return nil, errs.ErrDBError.Wrap(err)
	}
	return p, nil
}
