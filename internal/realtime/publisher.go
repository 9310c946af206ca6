package realtime

import (
	"context"
	"fmt"
)

// Publisher 按用户或会话推送事件
// 接收方不在线不视为错误
type Publisher interface {
	PublishToUser(ctx context.Context, userID, event string, data any) error
	PublishToSession(ctx context.Context, sessionID, event string, data any) error
	Broadcast(ctx context.Context, event string, data any) error
}

// LocalPublisher 直接投递到本节点的 Hub
type LocalPublisher struct {
	hub *Hub
}

// NewLocalPublisher 创建单节点推送
func NewLocalPublisher(hub *Hub) *LocalPublisher {
	return &LocalPublisher{hub: hub}
}

func (p *LocalPublisher) PublishToUser(_ context.Context, userID, event string, data any) error {
	payload, err := Encode(event, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	p.hub.SendToUser(userID, payload)
	return nil
}

func (p *LocalPublisher) PublishToSession(_ context.Context, sessionID, event string, data any) error {
	payload, err := Encode(event, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	p.hub.SendToSession(sessionID, payload)
	return nil
}

func (p *LocalPublisher) Broadcast(_ context.Context, event string, data any) error {
	payload, err := Encode(event, data)
	if err != nil {
		return fmt.Errorf("encode %s: %w", event, err)
	}
	p.hub.SendToAll(payload)
	return nil
}
