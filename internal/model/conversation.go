package model

import "time"

// Participant 会话参与者
type Participant struct {
	ID   string      `json:"id"`
	Kind AccountKind `json:"kind"`
}

// LastMessage 最后一条消息摘要（会话列表使用）
type LastMessage struct {
	MessageID string        `json:"messageId,omitempty"`
	Content   string        `json:"content"`
	Sender    string        `json:"sender"`
	Timestamp time.Time     `json:"timestamp"`
	Status    MessageStatus `json:"status"`
}

// Conversation 两人私聊会话
// 参与者对无序且唯一，Participants 按 ID 升序保存
type Conversation struct {
	ID           string          `json:"id"`
	Participants [2]Participant  `json:"participants"`
	LastMessage  *LastMessage    `json:"lastMessage,omitempty"`
	UnreadCount  map[string]int  `json:"unreadCount"`
	MutedBy      map[string]bool `json:"mutedBy,omitempty"`
	IsPinned     bool            `json:"isPinned"`
	IsArchived   bool            `json:"isArchived"`
	CreatedAt    time.Time       `json:"createdAt"`
	UpdatedAt    time.Time       `json:"updatedAt"`
}

// OrderPair 返回有序的参与者对
func OrderPair(a, b string) (string, string) {
	if a <= b {
		return a, b
	}
	return b, a
}

// NewConversation 创建会话，未读数全部为 0
func NewConversation(id string, a, b Participant, now time.Time) *Conversation {
	if b.ID < a.ID {
		a, b = b, a
	}
	return &Conversation{
		ID:           id,
		Participants: [2]Participant{a, b},
		UnreadCount:  map[string]int{a.ID: 0, b.ID: 0},
		MutedBy:      map[string]bool{},
		CreatedAt:    now,
		UpdatedAt:    now,
	}
}

// HasParticipant 判断用户是否为会话成员
func (c *Conversation) HasParticipant(userID string) bool {
	return c.Participants[0].ID == userID || c.Participants[1].ID == userID
}

// Peer 返回另一位参与者，userID 不在会话中时返回 false
func (c *Conversation) Peer(userID string) (Participant, bool) {
	switch userID {
	case c.Participants[0].ID:
		return c.Participants[1], true
	case c.Participants[1].ID:
		return c.Participants[0], true
	}
	return Participant{}, false
}

// Unread 返回用户的未读数
func (c *Conversation) Unread(userID string) int {
	if c.UnreadCount == nil {
		return 0
	}
	return c.UnreadCount[userID]
}
