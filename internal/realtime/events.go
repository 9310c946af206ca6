package realtime

import "encoding/json"

// 客户端上行事件
const (
	EventUserConnected       = "user-connected"
	EventEnterChat           = "enter-chat"
	EventLeaveChat           = "leave-chat"
	EventPrivateMessage      = "privateMessage"
	EventMarkMessageRead     = "markMessageRead"
	EventMarkAllMessagesRead = "markAllMessagesRead"
	EventUserDisconnect      = "user-disconnect"
	EventCheckUserStatus     = "check_user_status"
)

// 服务端下行事件
const (
	EventUserStatus          = "user-status"
	EventMessageNotification = "messageNotification"
	EventMessageSent         = "messageSent"
	EventMessageRead         = "messageRead"
	EventAllMessagesRead     = "allMessagesRead"
	EventLastSeen            = "last-seen"
	EventError               = "error"
	EventNotification        = "Notification"
)

// UserOnlineStatusEvent 按用户区分的在线状态事件名
func UserOnlineStatusEvent(userID string) string {
	return "user_online_status_" + userID
}

// Envelope 上行帧
type Envelope struct {
	Event string          `json:"event"`
	Data  json.RawMessage `json:"data,omitempty"`
}

// Outbound 下行帧
type Outbound struct {
	Event string `json:"event"`
	Data  any    `json:"data,omitempty"`
}

// Encode 编码下行帧
func Encode(event string, data any) ([]byte, error) {
	return json.Marshal(Outbound{Event: event, Data: data})
}
