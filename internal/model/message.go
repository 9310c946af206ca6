package model

import "time"

// MessageStatus 消息状态
type MessageStatus string

const (
	MessageStatusSent MessageStatus = "sent"
	MessageStatusRead MessageStatus = "read"
)

// ReadReceipt 已读回执
type ReadReceipt struct {
	UserID string    `json:"userId"`
	ReadAt time.Time `json:"readAt"`
}

// Message 私信消息
// 发送者在创建时即计入 ReadBy
type Message struct {
	ID        string        `json:"id"`
	Sender    string        `json:"sender"`
	Content   string        `json:"content"`
	Timestamp time.Time     `json:"timestamp"`
	ReadBy    []ReadReceipt `json:"readBy"`
	Status    MessageStatus `json:"status"`
}

// NewMessage 创建消息，发送者自动标记为已读
func NewMessage(id, sender, content string, timestamp, now time.Time) Message {
	return Message{
		ID:        id,
		Sender:    sender,
		Content:   content,
		Timestamp: timestamp,
		ReadBy:    []ReadReceipt{{UserID: sender, ReadAt: now}},
		Status:    MessageStatusSent,
	}
}

// HasRead 判断用户是否已读
func (m *Message) HasRead(userID string) bool {
	for _, r := range m.ReadBy {
		if r.UserID == userID {
			return true
		}
	}
	return false
}

// MarkReadBy 标记为指定用户已读
// 发送者本人或已读过的用户返回 false，消息保持不变
func (m *Message) MarkReadBy(userID string, at time.Time) bool {
	if userID == "" || m.Sender == userID || m.HasRead(userID) {
		return false
	}
	m.ReadBy = append(m.ReadBy, ReadReceipt{UserID: userID, ReadAt: at})
	m.Status = MessageStatusRead
	return true
}

// Summary 生成会话列表使用的最后一条消息摘要
func (m *Message) Summary() LastMessage {
	return LastMessage{
		MessageID: m.ID,
		Content:   m.Content,
		Sender:    m.Sender,
		Timestamp: m.Timestamp,
		Status:    m.Status,
	}
}
