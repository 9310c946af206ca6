package service

import (
	"context"
	"log/slog"
	"time"

	"sudooom.im.chat/internal/errs"
	"sudooom.im.chat/internal/metrics"
	"sudooom.im.chat/internal/model"
	"sudooom.im.chat/internal/presence"
	"sudooom.im.chat/internal/realtime"
	"sudooom.im.chat/pkg/snowflake"
)

// NotificationService 通知路由
type NotificationService struct {
	store     NotificationStore
	presence  presence.Registry
	publisher realtime.Publisher
	ids       *snowflake.Node
	logger    *slog.Logger
	now       func() time.Time
}

// NewNotificationService 创建通知服务
func NewNotificationService(store NotificationStore, registry presence.Registry, publisher realtime.Publisher, ids *snowflake.Node) *NotificationService {
	return &NotificationService{
		store:     store,
		presence:  registry,
		publisher: publisher,
		ids:       ids,
		logger:    slog.Default(),
		now:       time.Now,
	}
}

// Notify 按接收方设置保存并推送通知
// 类别被关闭时返回 nil, nil
func (s *NotificationService) Notify(ctx context.Context, recipientID string, item model.Notification) (*model.Notification, error) {
	if recipientID == "" || item.Type == "" {
		return nil, errs.ErrInvalidParams
	}

	settings, err := s.store.EnsureSettings(ctx, recipientID)
	if err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		return nil, errs.ErrDBError.Wrap(err)
	}
	if !settings.Allows(item.Type) {
		metrics.Notifications.WithLabelValues("muted").Inc()
		s.logger.Debug("Notification disabled by settings", "recipientId", recipientID, "type", item.Type)
		return nil, nil
	}

	item.ID = s.ids.NextString()
	item.Read = false
	if item.Time.IsZero() {
		item.Time = s.now()
	}
	if err := s.store.Append(ctx, recipientID, &item); err != nil {
		metrics.Notifications.WithLabelValues("error").Inc()
		return nil, errs.ErrDBError.Wrap(err)
	}
	metrics.Notifications.WithLabelValues("stored").Inc()

	if s.presence.IsOnline(ctx, recipientID) {
		if err := s.publisher.PublishToUser(ctx, recipientID, realtime.EventNotification, item); err != nil {
			s.logger.Warn("Failed to push notification", "recipientId", recipientID, "notificationId", item.ID, "error", err)
		}
	}
	return &item, nil
}

// NotificationPage 通知分页结果
type NotificationPage struct {
	Notifications []model.Notification `json:"notifications"`
	Pagination    NotificationPaging   `json:"pagination"`
}

// NotificationPaging 通知分页信息
type NotificationPaging struct {
	CurrentPage        int  `json:"currentPage"`
	TotalPages         int  `json:"totalPages"`
	TotalNotifications int  `json:"totalNotifications"`
	HasNextPage        bool `json:"hasNextPage"`
	HasPrevPage        bool `json:"hasPrevPage"`
	Limit              int  `json:"limit"`
}

// List 按时间倒序分页列出通知
func (s *NotificationService) List(ctx context.Context, userID string, page, limit int) (*NotificationPage, error) {
	page, limit = normalizePage(page, limit)

	items, total, err := s.store.List(ctx, userID, limit, (page-1)*limit)
	if err != nil {
		return nil, errs.ErrDBError.Wrap(err)
	}

	pages := totalPages(total, limit)
	return &NotificationPage{
		Notifications: items,
		Pagination: NotificationPaging{
			CurrentPage:        page,
			TotalPages:         pages,
			TotalNotifications: total,
			HasNextPage:        page < pages,
			HasPrevPage:        page > 1,
			Limit:              limit,
		},
	}, nil
}

// MarkRead 标记单条通知已读
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	if err := s.store.MarkRead(ctx, userID, id); err != nil {
		return storeErr(err)
	}
	return nil
}

// MarkAllRead 标记全部通知已读
func (s *NotificationService) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.MarkAllRead(ctx, userID)
	if err != nil {
		return 0, errs.ErrDBError.Wrap(err)
	}
	return n, nil
}

// Delete 删除单条通知
func (s *NotificationService) Delete(ctx context.Context, userID, id string) error {
	if err := s.store.Delete(ctx, userID, id); err != nil {
		return storeErr(err)
	}
	return nil
}

// DeleteAll 清空通知
func (s *NotificationService) DeleteAll(ctx context.Context, userID string) (int64, error) {
	n, err := s.store.DeleteAll(ctx, userID)
	if err != nil {
		return 0, errs.ErrDBError.Wrap(err)
	}
	return n, nil
}

// Settings 获取通知设置，不存在时创建默认设置
func (s *NotificationService) Settings(ctx context.Context, userID string) (*model.NotificationSettings, error) {
	settings, err := s.store.EnsureSettings(ctx, userID)
	if err != nil {
		return nil, errs.ErrDBError.Wrap(err)
	}
	return settings, nil
}

// SettingsPatch 通知设置的部分更新
type SettingsPatch struct {
	Messages         *bool `json:"messages"`
	Likes            *bool `json:"likes"`
	Comments         *bool `json:"comments"`
	Follows          *bool `json:"follows"`
	Posts            *bool `json:"posts"`
	PrivateAccount   *bool `json:"privateAccount"`
	ShowOnlineStatus *bool `json:"showOnlineStatus"`
}

// UpdateSettings 更新通知设置，未提供的字段保持原值
func (s *NotificationService) UpdateSettings(ctx context.Context, userID string, patch SettingsPatch) (*model.NotificationSettings, error) {
	current, err := s.Settings(ctx, userID)
	if err != nil {
		return nil, err
	}

	next := *current
	apply := func(dst *bool, v *bool) {
		if v != nil {
			*dst = *v
		}
	}
	apply(&next.Messages, patch.Messages)
	apply(&next.Likes, patch.Likes)
	apply(&next.Comments, patch.Comments)
	apply(&next.Follows, patch.Follows)
	apply(&next.Posts, patch.Posts)
	apply(&next.PrivateAccount, patch.PrivateAccount)
	apply(&next.ShowOnlineStatus, patch.ShowOnlineStatus)

	saved, err := s.store.SaveSettings(ctx, &next)
	if err != nil {
		return nil, errs.ErrDBError.Wrap(err)
	}
	return saved, nil
}

func normalizePage(page, limit int) (int, int) {
	if page < 1 {
		page = 1
	}
	if limit < 1 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return page, limit
}

func totalPages(total, limit int) int {
	if total == 0 {
		return 0
	}
	return (total + limit - 1) / limit
}
