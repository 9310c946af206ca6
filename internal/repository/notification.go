package repository

import (
	"context"
	"errors"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.chat/internal/model"
)

var ErrNotificationNotFound = errors.New("notification not found")

// NotificationRepository 通知和通知设置
type NotificationRepository struct {
	db *pgxpool.Pool
}

// NewNotificationRepository 创建通知仓库
func NewNotificationRepository(db *pgxpool.Pool) *NotificationRepository {
	return &NotificationRepository{db: db}
}

const settingsColumns = `user_id, messages, likes, comments, follows, posts, private_account, show_online_status, updated_at`

func scanSettings(row pgx.Row) (*model.NotificationSettings, error) {
	var s model.NotificationSettings
	err := row.Scan(&s.UserID, &s.Messages, &s.Likes, &s.Comments, &s.Follows, &s.Posts,
		&s.PrivateAccount, &s.ShowOnlineStatus, &s.UpdatedAt)
	if err != nil {
		return nil, err
	}
	return &s, nil
}

// EnsureSettings 获取设置，不存在时写入默认值（全部开启）
func (r *NotificationRepository) EnsureSettings(ctx context.Context, userID string) (*model.NotificationSettings, error) {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notification_settings (user_id) VALUES ($1)
		ON CONFLICT (user_id) DO NOTHING
	`, userID)
	if err != nil {
		return nil, err
	}
	return scanSettings(r.db.QueryRow(ctx,
		`SELECT `+settingsColumns+` FROM notification_settings WHERE user_id = $1`, userID))
}

// SaveSettings 写入设置
func (r *NotificationRepository) SaveSettings(ctx context.Context, s *model.NotificationSettings) (*model.NotificationSettings, error) {
	return scanSettings(r.db.QueryRow(ctx, `
		INSERT INTO notification_settings (user_id, messages, likes, comments, follows, posts, private_account, show_online_status, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, now())
		ON CONFLICT (user_id) DO UPDATE SET
			messages = EXCLUDED.messages,
			likes = EXCLUDED.likes,
			comments = EXCLUDED.comments,
			follows = EXCLUDED.follows,
			posts = EXCLUDED.posts,
			private_account = EXCLUDED.private_account,
			show_online_status = EXCLUDED.show_online_status,
			updated_at = now()
		RETURNING `+settingsColumns,
		s.UserID, s.Messages, s.Likes, s.Comments, s.Follows, s.Posts, s.PrivateAccount, s.ShowOnlineStatus))
}

// Append 追加通知
func (r *NotificationRepository) Append(ctx context.Context, userID string, n *model.Notification) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO notifications (id, user_id, type, title, message, avatar, icon, link, is_read, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`, n.ID, userID, n.Type, n.Title, n.Message, n.Avatar, n.Icon, n.Link, n.Read, n.Time)
	return err
}

// List 按时间倒序分页列出通知
func (r *NotificationRepository) List(ctx context.Context, userID string, limit, offset int) ([]model.Notification, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) FROM notifications WHERE user_id = $1`, userID).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT id, type, title, message, avatar, icon, link, is_read, created_at
		FROM notifications WHERE user_id = $1
		ORDER BY created_at DESC, id DESC
		LIMIT $2 OFFSET $3
	`, userID, limit, offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	items := make([]model.Notification, 0, limit)
	for rows.Next() {
		var n model.Notification
		if err := rows.Scan(&n.ID, &n.Type, &n.Title, &n.Message, &n.Avatar, &n.Icon, &n.Link, &n.Read, &n.Time); err != nil {
			return nil, 0, err
		}
		items = append(items, n)
	}
	return items, total, rows.Err()
}

// MarkRead 标记单条通知已读
func (r *NotificationRepository) MarkRead(ctx context.Context, userID, id string) error {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// MarkAllRead 标记全部已读
func (r *NotificationRepository) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `UPDATE notifications SET is_read = TRUE WHERE user_id = $1 AND NOT is_read`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// Delete 删除单条通知
func (r *NotificationRepository) Delete(ctx context.Context, userID, id string) error {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE user_id = $1 AND id = $2`, userID, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotificationNotFound
	}
	return nil
}

// DeleteAll 清空通知
func (r *NotificationRepository) DeleteAll(ctx context.Context, userID string) (int64, error) {
	tag, err := r.db.Exec(ctx, `DELETE FROM notifications WHERE user_id = $1`, userID)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
