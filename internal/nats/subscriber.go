package nats

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"

	"github.com/nats-io/nats.go"

	"sudooom.im.chat/internal/realtime"
)

// Deliverer 本节点的会话投递
type Deliverer interface {
	SendToUser(userID string, payload []byte) bool
	SendToSession(sessionID string, payload []byte) bool
	SendToAll(payload []byte) int
}

// SubscriberConfig 订阅协程配置
type SubscriberConfig struct {
	WorkerCount int
	BufferSize  int
}

// Subscriber 订阅下行主题并投递到本节点会话
type Subscriber struct {
	nc           *nats.Conn
	deliverer    Deliverer
	config       SubscriberConfig
	logger       *slog.Logger
	subscription *nats.Subscription
	msgChan      chan []byte
	wg           sync.WaitGroup
	cancelFunc   context.CancelFunc
}

// NewSubscriber 创建下行订阅器
func NewSubscriber(nc *nats.Conn, deliverer Deliverer, config SubscriberConfig) *Subscriber {
	if config.WorkerCount <= 0 {
		config.WorkerCount = 4
	}
	if config.BufferSize <= 0 {
		config.BufferSize = 4096
	}

	return &Subscriber{
		nc:        nc,
		deliverer: deliverer,
		config:    config,
		logger:    slog.Default(),
	}
}

// Start 启动订阅，每个节点都收到全部下行消息
func (s *Subscriber) Start(ctx context.Context) error {
	s.msgChan = make(chan []byte, s.config.BufferSize)

	workerCtx, cancel := context.WithCancel(ctx)
	s.cancelFunc = cancel

	for i := 0; i < s.config.WorkerCount; i++ {
		s.wg.Add(1)
		go s.worker(workerCtx)
	}

	sub, err := s.nc.Subscribe(SubjectChatDownstream, func(msg *nats.Msg) {
		select {
		case s.msgChan <- msg.Data:
		default:
			s.logger.Warn("Downstream buffer full, dropping message", "bufferSize", s.config.BufferSize)
		}
	})
	if err != nil {
		cancel()
		return err
	}

	s.subscription = sub
	s.logger.Info("NATS subscriber started",
		"subject", SubjectChatDownstream,
		"workerCount", s.config.WorkerCount,
		"bufferSize", s.config.BufferSize,
	)
	return nil
}

// Stop 取消订阅并等待协程退出
func (s *Subscriber) Stop() {
	if s.subscription != nil {
		_ = s.subscription.Unsubscribe()
	}
	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.wg.Wait()
	s.logger.Info("NATS subscriber stopped")
}

func (s *Subscriber) worker(ctx context.Context) {
	defer s.wg.Done()

	for {
		select {
		case <-ctx.Done():
			return
		case data := <-s.msgChan:
			s.deliver(data)
		}
	}
}

// deliver 解码并投递一条下行消息，返回是否有本地会话收到
func (s *Subscriber) deliver(data []byte) bool {
	var msg Downstream
	if err := json.Unmarshal(data, &msg); err != nil {
		s.logger.Error("Failed to unmarshal downstream", "error", err)
		return false
	}

	var body any
	if len(msg.Data) > 0 {
		body = msg.Data
	}
	payload, err := realtime.Encode(msg.Event, body)
	if err != nil {
		s.logger.Error("Failed to encode frame", "event", msg.Event, "error", err)
		return false
	}

	switch msg.Kind {
	case TargetUser:
		return s.deliverer.SendToUser(msg.Target, payload)
	case TargetSession:
		return s.deliverer.SendToSession(msg.Target, payload)
	case TargetAll:
		return s.deliverer.SendToAll(payload) > 0
	default:
		s.logger.Warn("Unknown downstream kind", "kind", msg.Kind)
		return false
	}
}
