package nats

import "encoding/json"

// SubjectChatDownstream 所有节点订阅的下行推送主题
const SubjectChatDownstream = "im.chat.downstream"

// 下行推送目标类型
const (
	TargetUser    = "user"
	TargetSession = "session"
	TargetAll     = "all"
)

// Downstream 跨节点转发的下行事件
type Downstream struct {
	Kind   string          `json:"kind"`
	Target string          `json:"target,omitempty"`
	Event  string          `json:"event"`
	Data   json.RawMessage `json:"data,omitempty"`
	Origin string          `json:"origin,omitempty"`
}
