package nats

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"github.com/nats-io/nats.go"
)

// Publisher 经 NATS 把下行事件发往所有节点，由持有会话的节点投递
type Publisher struct {
	nc     *nats.Conn
	nodeID string
	logger *slog.Logger
}

// NewPublisher 创建跨节点推送
func NewPublisher(nc *nats.Conn, nodeID string) *Publisher {
	return &Publisher{
		nc:     nc,
		nodeID: nodeID,
		logger: slog.Default(),
	}
}

func (p *Publisher) PublishToUser(ctx context.Context, userID, event string, data any) error {
	return p.publish(ctx, TargetUser, userID, event, data)
}

func (p *Publisher) PublishToSession(ctx context.Context, sessionID, event string, data any) error {
	return p.publish(ctx, TargetSession, sessionID, event, data)
}

func (p *Publisher) Broadcast(ctx context.Context, event string, data any) error {
	return p.publish(ctx, TargetAll, "", event, data)
}

func (p *Publisher) publish(_ context.Context, kind, target, event string, data any) error {
	payload, err := encodeDownstream(kind, target, event, p.nodeID, data)
	if err != nil {
		p.logger.Error("Failed to marshal downstream", "event", event, "error", err)
		return err
	}

	if err := p.nc.Publish(SubjectChatDownstream, payload); err != nil {
		p.logger.Error("Failed to publish downstream", "kind", kind, "target", target, "event", event, "error", err)
		return err
	}

	p.logger.Debug("Published downstream", "kind", kind, "target", target, "event", event)
	return nil
}

func encodeDownstream(kind, target, event, origin string, data any) ([]byte, error) {
	msg := Downstream{Kind: kind, Target: target, Event: event, Origin: origin}
	if data != nil {
		raw, err := json.Marshal(data)
		if err != nil {
			return nil, fmt.Errorf("encode %s: %w", event, err)
		}
		msg.Data = raw
	}
	return json.Marshal(msg)
}
