package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"sudooom.im.chat/internal/model"
)

var (
	ErrConversationNotFound = errors.New("conversation not found")
	ErrNotMember            = errors.New("user is not a member of the conversation")
)

// ConversationRepository 会话与消息的持久化
type ConversationRepository struct {
	db *pgxpool.Pool
}

// NewConversationRepository 创建会话仓库
func NewConversationRepository(db *pgxpool.Pool) *ConversationRepository {
	return &ConversationRepository{db: db}
}

const conversationColumns = `
	c.id, c.participant_a, c.participant_a_kind, c.participant_b, c.participant_b_kind,
	c.last_message_id, c.last_message_content, c.last_message_sender, c.last_message_at, c.last_message_status,
	c.is_pinned, c.is_archived, c.created_at, c.updated_at`

func scanConversation(row pgx.Row, extra ...any) (*model.Conversation, error) {
	var (
		conv                          model.Conversation
		kindA, kindB                  string
		lastID, lastContent, lastFrom *string
		lastStatus                    *string
		lastAt                        *time.Time
	)
	dest := []any{
		&conv.ID,
		&conv.Participants[0].ID, &kindA,
		&conv.Participants[1].ID, &kindB,
		&lastID, &lastContent, &lastFrom, &lastAt, &lastStatus,
		&conv.IsPinned, &conv.IsArchived, &conv.CreatedAt, &conv.UpdatedAt,
	}
	if err := row.Scan(append(dest, extra...)...); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrConversationNotFound
		}
		return nil, err
	}

	conv.Participants[0].Kind = model.AccountKind(kindA)
	conv.Participants[1].Kind = model.AccountKind(kindB)
	conv.UnreadCount = make(map[string]int, 2)
	conv.MutedBy = make(map[string]bool, 2)

	if lastAt != nil {
		conv.LastMessage = &model.LastMessage{
			Timestamp: *lastAt,
			Status:    model.MessageStatusSent,
		}
		if lastID != nil {
			conv.LastMessage.MessageID = *lastID
		}
		if lastContent != nil {
			conv.LastMessage.Content = *lastContent
		}
		if lastFrom != nil {
			conv.LastMessage.Sender = *lastFrom
		}
		if lastStatus != nil && *lastStatus != "" {
			conv.LastMessage.Status = model.MessageStatus(*lastStatus)
		}
	}
	return &conv, nil
}

// loadMembers 填充未读数与免打扰
func (r *ConversationRepository) loadMembers(ctx context.Context, q pgx.Tx, conv *model.Conversation) error {
	query := `SELECT user_id, unread_count, muted FROM conversation_members WHERE conversation_id = $1`

	var (
		rows pgx.Rows
		err  error
	)
	if q != nil {
		rows, err = q.Query(ctx, query, conv.ID)
	} else {
		rows, err = r.db.Query(ctx, query, conv.ID)
	}
	if err != nil {
		return err
	}
	defer rows.Close()

	for rows.Next() {
		var (
			userID string
			unread int
			muted  bool
		)
		if err := rows.Scan(&userID, &unread, &muted); err != nil {
			return err
		}
		conv.UnreadCount[userID] = unread
		if muted {
			conv.MutedBy[userID] = true
		}
	}
	return rows.Err()
}

// FindByPair 按无序参与者对查找会话
func (r *ConversationRepository) FindByPair(ctx context.Context, userA, userB string) (*model.Conversation, error) {
	a, b := model.OrderPair(userA, userB)
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.participant_a = $1 AND c.participant_b = $2`

	conv, err := scanConversation(r.db.QueryRow(ctx, query, a, b))
	if err != nil {
		return nil, err
	}
	if err := r.loadMembers(ctx, nil, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// GetByID 根据 ID 获取会话
func (r *ConversationRepository) GetByID(ctx context.Context, id string) (*model.Conversation, error) {
	query := `SELECT ` + conversationColumns + ` FROM conversations c WHERE c.id = $1`

	conv, err := scanConversation(r.db.QueryRow(ctx, query, id))
	if err != nil {
		return nil, err
	}
	if err := r.loadMembers(ctx, nil, conv); err != nil {
		return nil, err
	}
	return conv, nil
}

// Create 幂等创建会话
// 参与者对已存在时返回已有会话，并发的双向首条消息只会产生一个会话
func (r *ConversationRepository) Create(ctx context.Context, conv *model.Conversation) (*model.Conversation, error) {
	tx, err := r.db.Begin(ctx)
	if err != nil {
		return nil, err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	a, b := conv.Participants[0], conv.Participants[1]
	if b.ID < a.ID {
		a, b = b, a
	}

	_, err = tx.Exec(ctx, `
		INSERT INTO conversations (id, participant_a, participant_a_kind, participant_b, participant_b_kind, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, $6)
		ON CONFLICT (participant_a, participant_b) DO NOTHING
	`, conv.ID, a.ID, string(a.Kind), b.ID, string(b.Kind), conv.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("insert conversation: %w", err)
	}

	stored, err := scanConversation(tx.QueryRow(ctx,
		`SELECT `+conversationColumns+` FROM conversations c WHERE c.participant_a = $1 AND c.participant_b = $2`,
		a.ID, b.ID))
	if err != nil {
		return nil, err
	}

	batch := &pgx.Batch{}
	for _, p := range stored.Participants {
		batch.Queue(`
			INSERT INTO conversation_members (conversation_id, user_id)
			VALUES ($1, $2)
			ON CONFLICT (conversation_id, user_id) DO NOTHING
		`, stored.ID, p.ID)
	}
	if err := tx.SendBatch(ctx, batch).Close(); err != nil {
		return nil, fmt.Errorf("insert members: %w", err)
	}

	if err := r.loadMembers(ctx, tx, stored); err != nil {
		return nil, err
	}
	if err := tx.Commit(ctx); err != nil {
		return nil, err
	}
	return stored, nil
}

// AppendMessages 按给定顺序追加消息
// seq 自增保证顺序，重复 ID 忽略以支持失败后重试
func (r *ConversationRepository) AppendMessages(ctx context.Context, conversationID string, msgs []model.Message) error {
	if len(msgs) == 0 {
		return nil
	}

	tx, err := r.db.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	query := `
		INSERT INTO messages (id, conversation_id, sender, content, sent_at, status, read_by)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (id) DO NOTHING
	`

	batch := &pgx.Batch{}
	for _, m := range msgs {
		readBy, err := json.Marshal(m.ReadBy)
		if err != nil {
			return fmt.Errorf("marshal readBy of %s: %w", m.ID, err)
		}
		batch.Queue(query, m.ID, conversationID, m.Sender, m.Content, m.Timestamp, string(m.Status), string(readBy))
	}

	br := tx.SendBatch(ctx, batch)
	for i := range msgs {
		if _, err := br.Exec(); err != nil {
			_ = br.Close()
			return fmt.Errorf("append message %s: %w", msgs[i].ID, err)
		}
	}
	if err := br.Close(); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

// ListMessages 按发送顺序返回会话的持久化消息
func (r *ConversationRepository) ListMessages(ctx context.Context, conversationID string) ([]model.Message, error) {
	rows, err := r.db.Query(ctx, `
		SELECT id, sender, content, sent_at, status, read_by
		FROM messages WHERE conversation_id = $1
		ORDER BY seq
	`, conversationID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	msgs := make([]model.Message, 0)
	for rows.Next() {
		var (
			m      model.Message
			status string
			readBy []byte
		)
		if err := rows.Scan(&m.ID, &m.Sender, &m.Content, &m.Timestamp, &status, &readBy); err != nil {
			return nil, err
		}
		m.Status = model.MessageStatus(status)
		if err := json.Unmarshal(readBy, &m.ReadBy); err != nil {
			return nil, fmt.Errorf("unmarshal readBy of %s: %w", m.ID, err)
		}
		msgs = append(msgs, m)
	}
	return msgs, rows.Err()
}

// MarkMessageRead 条件更新单条消息的已读状态
// 发送者本人或已读过的用户不更新，返回是否有变更
func (r *ConversationRepository) MarkMessageRead(ctx context.Context, conversationID, messageID, userID string, at time.Time) (bool, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET read_by = read_by || jsonb_build_array(jsonb_build_object('userId', $3::text, 'readAt', $4::text)),
		    status = 'read'
		WHERE conversation_id = $1 AND id = $2 AND sender <> $3
		  AND NOT read_by @> jsonb_build_array(jsonb_build_object('userId', $3::text))
	`, conversationID, messageID, userID, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return false, err
	}
	return tag.RowsAffected() > 0, nil
}

// MarkAllRead 批量标记对方发送的未读消息，返回变更条数
func (r *ConversationRepository) MarkAllRead(ctx context.Context, conversationID, userID string, at time.Time) (int64, error) {
	tag, err := r.db.Exec(ctx, `
		UPDATE messages
		SET read_by = read_by || jsonb_build_array(jsonb_build_object('userId', $2::text, 'readAt', $3::text)),
		    status = 'read'
		WHERE conversation_id = $1 AND sender <> $2
		  AND NOT read_by @> jsonb_build_array(jsonb_build_object('userId', $2::text))
	`, conversationID, userID, at.UTC().Format(time.RFC3339Nano))
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// SetLastMessage 更新最后一条消息摘要
func (r *ConversationRepository) SetLastMessage(ctx context.Context, conversationID string, last model.LastMessage) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE conversations
		SET last_message_id = $2, last_message_content = $3, last_message_sender = $4,
		    last_message_at = $5, last_message_status = $6, updated_at = now()
		WHERE id = $1
	`, conversationID, last.MessageID, last.Content, last.Sender, last.Timestamp, string(last.Status))
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

// MarkLastMessageRead 最后一条消息被对方读后更新摘要状态
// messageID 为空时只要最后一条不是 readerID 发送的就更新
func (r *ConversationRepository) MarkLastMessageRead(ctx context.Context, conversationID, readerID, messageID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversations SET last_message_status = 'read'
		WHERE id = $1 AND last_message_sender <> $2 AND ($3 = '' OR last_message_id = $3)
	`, conversationID, readerID, messageID)
	return err
}

// IncrementUnread 未读数加一
func (r *ConversationRepository) IncrementUnread(ctx context.Context, conversationID, userID string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE conversation_members SET unread_count = unread_count + 1
		WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrNotMember
	}
	return nil
}

// ResetUnread 未读数清零
func (r *ConversationRepository) ResetUnread(ctx context.Context, conversationID, userID string) error {
	_, err := r.db.Exec(ctx, `
		UPDATE conversation_members SET unread_count = 0
		WHERE conversation_id = $1 AND user_id = $2 AND unread_count <> 0
	`, conversationID, userID)
	return err
}

// ListFilter 会话列表查询条件
type ListFilter struct {
	UserID string
	Search string
	Limit  int
	Offset int
}

const listWhere = `
	FROM conversations c
	JOIN conversation_members me ON me.conversation_id = c.id AND me.user_id = $1
	LEFT JOIN users pu ON pu.id = CASE WHEN c.participant_a = $1 THEN c.participant_b ELSE c.participant_a END
	LEFT JOIN organizations po ON po.id = CASE WHEN c.participant_a = $1 THEN c.participant_b ELSE c.participant_a END
	WHERE $2 = ''
	   OR COALESCE(pu.name, po.name, '') ILIKE '%' || $2 || '%'
	   OR COALESCE(pu.userid, po.userid, '') ILIKE '%' || $2 || '%'
	   OR COALESCE(c.last_message_content, '') ILIKE '%' || $2 || '%'`

// ListForUser 按最近活动倒序列出用户的会话，返回当前页和总数
func (r *ConversationRepository) ListForUser(ctx context.Context, f ListFilter) ([]*model.Conversation, int, error) {
	var total int
	if err := r.db.QueryRow(ctx, `SELECT COUNT(*) `+listWhere, f.UserID, f.Search).Scan(&total); err != nil {
		return nil, 0, err
	}

	rows, err := r.db.Query(ctx, `
		SELECT `+conversationColumns+`, me.unread_count, me.muted `+listWhere+`
		ORDER BY COALESCE(c.last_message_at, c.updated_at) DESC, c.id
		LIMIT $3 OFFSET $4
	`, f.UserID, f.Search, f.Limit, f.Offset)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	convs := make([]*model.Conversation, 0, f.Limit)
	for rows.Next() {
		var (
			unread int
			muted  bool
		)
		conv, err := scanConversation(rows, &unread, &muted)
		if err != nil {
			return nil, 0, err
		}
		conv.UnreadCount[f.UserID] = unread
		if muted {
			conv.MutedBy[f.UserID] = true
		}
		convs = append(convs, conv)
	}
	return convs, total, rows.Err()
}

// UnreadTotals 用户所有会话的未读总数和有未读的会话数
func (r *ConversationRepository) UnreadTotals(ctx context.Context, userID string) (int, int, error) {
	var total, chats int
	err := r.db.QueryRow(ctx, `
		SELECT COALESCE(SUM(unread_count), 0), COUNT(*) FILTER (WHERE unread_count > 0)
		FROM conversation_members WHERE user_id = $1
	`, userID).Scan(&total, &chats)
	return total, chats, err
}

// SetPinned 置顶
func (r *ConversationRepository) SetPinned(ctx context.Context, conversationID string, pinned bool) error {
	return r.execFlag(ctx, `UPDATE conversations SET is_pinned = $2, updated_at = now() WHERE id = $1`, conversationID, pinned)
}

// SetArchived 归档
func (r *ConversationRepository) SetArchived(ctx context.Context, conversationID string, archived bool) error {
	return r.execFlag(ctx, `UPDATE conversations SET is_archived = $2, updated_at = now() WHERE id = $1`, conversationID, archived)
}

// SetMuted 按用户设置免打扰
func (r *ConversationRepository) SetMuted(ctx context.Context, conversationID, userID string, muted bool) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE conversation_members SET muted = $3 WHERE conversation_id = $1 AND user_id = $2
	`, conversationID, userID, muted)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}

func (r *ConversationRepository) execFlag(ctx context.Context, query, conversationID string, value bool) error {
	tag, err := r.db.Exec(ctx, query, conversationID, value)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrConversationNotFound
	}
	return nil
}
