package model

import "time"

// AccountKind 账号类型
type AccountKind string

const (
	AccountKindNone         AccountKind = ""
	AccountKindIndividual   AccountKind = "user"
	AccountKindOrganization AccountKind = "organization"
)

// Valid 是否为已知账号类型
func (k AccountKind) Valid() bool {
	return k == AccountKindIndividual || k == AccountKindOrganization
}

// AccountProfile 账号公开资料（消息载荷和会话列表使用）
type AccountProfile struct {
	ID           string      `json:"id"`
	Kind         AccountKind `json:"kind,omitempty"`
	Name         string      `json:"name,omitempty"`
	ProfileImage string      `json:"profileImage,omitempty"`
	Handle       string      `json:"userid,omitempty"`
}

// PeerStatus 会话对端在线状态
type PeerStatus struct {
	IsOnline bool       `json:"isOnline"`
	LastSeen *time.Time `json:"lastSeen"`
}
