package handler

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"sudooom.im.chat/internal/errs"
	"sudooom.im.chat/internal/metrics"
	"sudooom.im.chat/internal/realtime"
	"sudooom.im.chat/internal/service"
	"sudooom.im.chat/internal/workerpool"
)

const eventTimeout = 10 * time.Second

// SessionHub 本节点会话表
type SessionHub interface {
	Register(conn *realtime.Connection)
	Unregister(conn *realtime.Connection)
}

// WSHandler WebSocket 入口，上行事件按会话分片交给 worker pool 顺序处理
type WSHandler struct {
	events   ChatEvents
	hub      SessionHub
	pool     *workerpool.Pool
	upgrader websocket.Upgrader
	baseCtx  context.Context
	logger   *slog.Logger
}

// NewWSHandler 创建 WebSocket 处理器
// baseCtx 取消后不再处理新事件
func NewWSHandler(baseCtx context.Context, events ChatEvents, hub SessionHub, pool *workerpool.Pool, allowedOrigins []string) *WSHandler {
	return &WSHandler{
		events: events,
		hub:    hub,
		pool:   pool,
		upgrader: websocket.Upgrader{
			ReadBufferSize:  4096,
			WriteBufferSize: 4096,
			CheckOrigin:     originChecker(allowedOrigins),
		},
		baseCtx: baseCtx,
		logger:  slog.Default(),
	}
}

func originChecker(allowed []string) func(r *http.Request) bool {
	return func(r *http.Request) bool {
		origin := r.Header.Get("Origin")
		if origin == "" {
			return true
		}
		for _, o := range allowed {
			if o == "*" || strings.EqualFold(o, origin) {
				return true
			}
		}
		return false
	}
}

// Serve 升级连接并阻塞读取直到断开
// GET /ws
func (h *WSHandler) Serve(c *gin.Context) {
	ws, err := h.upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		h.logger.Warn("WebSocket upgrade failed", "error", err)
		return
	}

	conn := realtime.NewConnection(ws)
	h.hub.Register(conn)
	h.logger.Debug("Session opened", "sessionId", conn.ID, "remote", c.Request.RemoteAddr)

	err = conn.ReadLoop(func(payload []byte) {
		h.Dispatch(conn, payload)
	})
	if err != nil && !websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, realtime.CloseSessionReplaced) {
		h.logger.Debug("Session read ended", "sessionId", conn.ID, "error", err)
	}

	conn.Close(websocket.CloseNormalClosure, "")
	h.hub.Unregister(conn)

	// 断开在同一分片上排队，保证在该会话已提交的事件之后执行
	sessionID := conn.ID
	h.pool.Submit(sessionID, func() {
		ctx, cancel := context.WithTimeout(context.WithoutCancel(h.baseCtx), eventTimeout)
		defer cancel()
		if err := h.events.Disconnect(ctx, sessionID); err != nil {
			h.logger.Warn("Disconnect handling failed", "sessionId", sessionID, "error", err)
		}
	})
}

// Dispatch 解码上行帧并提交到会话所在分片
func (h *WSHandler) Dispatch(conn *realtime.Connection, payload []byte) {
	var env realtime.Envelope
	if err := json.Unmarshal(payload, &env); err != nil || env.Event == "" {
		metrics.Events.WithLabelValues("invalid", "error").Inc()
		h.replyError(conn, "invalid payload")
		return
	}

	ok := h.pool.Submit(conn.ID, func() {
		ctx, cancel := context.WithTimeout(h.baseCtx, eventTimeout)
		defer cancel()
		h.handle(ctx, conn, env)
	})
	if !ok {
		h.logger.Warn("Dispatcher closed, dropping event", "sessionId", conn.ID, "event", env.Event)
	}
}

func (h *WSHandler) handle(ctx context.Context, conn *realtime.Connection, env realtime.Envelope) {
	err := h.route(ctx, conn, env)

	result := "ok"
	if err != nil {
		result = "error"
	}
	metrics.Events.WithLabelValues(env.Event, result).Inc()

	if err == nil {
		return
	}

	switch env.Event {
	case realtime.EventPrivateMessage:
		// 只有发送失败对用户可见
		h.logger.Error("Private message failed", "sessionId", conn.ID, "error", err)
		h.replyError(conn, "Message failed to send")
	case realtime.EventMarkMessageRead, realtime.EventMarkAllMessagesRead:
		h.logger.Warn("Read receipt failed", "sessionId", conn.ID, "event", env.Event, "error", err)
	default:
		if errors.Is(err, errUnknownEvent) {
			h.logger.Warn("Unknown event", "sessionId", conn.ID, "event", env.Event)
			return
		}
		h.logger.Warn("Event handling failed", "sessionId", conn.ID, "event", env.Event, "error", err)
		if errs.GetCode(err) == errs.CodeInvalidParams {
			h.replyError(conn, errs.GetMessage(err))
		}
	}
}

var errUnknownEvent = errors.New("unknown event")

type enterChatData struct {
	UserID   string `json:"userId"`
	ChatWith string `json:"chatWith"`
}

type privateMessageData struct {
	To        string     `json:"to"`
	From      string     `json:"from"`
	Message   string     `json:"message"`
	Timestamp *time.Time `json:"timestamp"`
}

type readData struct {
	ConversationID string `json:"conversationId"`
	MessageID      string `json:"messageId"`
	UserID         string `json:"userId"`
}

func (h *WSHandler) route(ctx context.Context, conn *realtime.Connection, env realtime.Envelope) error {
	switch env.Event {
	case realtime.EventUserConnected:
		userID, err := decodeUserID(env.Data)
		if err != nil {
			return err
		}
		return h.events.Connect(ctx, conn.ID, userID)

	case realtime.EventEnterChat:
		var d enterChatData
		if err := decodeData(env.Data, &d); err != nil {
			return err
		}
		return h.events.EnterChat(ctx, orDefault(d.UserID, conn.UserID()), d.ChatWith)

	case realtime.EventLeaveChat:
		userID, err := decodeUserID(env.Data)
		if err != nil {
			userID = conn.UserID()
		}
		return h.events.LeaveChat(ctx, userID)

	case realtime.EventPrivateMessage:
		var d privateMessageData
		if err := decodeData(env.Data, &d); err != nil {
			return err
		}
		_, err := h.events.SendPrivateMessage(ctx, service.SendInput{
			SessionID: conn.ID,
			From:      orDefault(d.From, conn.UserID()),
			To:        d.To,
			Message:   d.Message,
			Timestamp: d.Timestamp,
		})
		return err

	case realtime.EventMarkMessageRead:
		var d readData
		if err := decodeData(env.Data, &d); err != nil {
			return err
		}
		_, err := h.events.MarkMessageRead(ctx, d.ConversationID, d.MessageID, orDefault(d.UserID, conn.UserID()))
		return err

	case realtime.EventMarkAllMessagesRead:
		var d readData
		if err := decodeData(env.Data, &d); err != nil {
			return err
		}
		_, err := h.events.MarkAllMessagesRead(ctx, d.ConversationID, orDefault(d.UserID, conn.UserID()))
		return err

	case realtime.EventUserDisconnect:
		userID, err := decodeUserID(env.Data)
		if err != nil {
			userID = conn.UserID()
		}
		return h.events.SignOff(ctx, conn.ID, userID)

	case realtime.EventCheckUserStatus:
		userID, err := decodeUserID(env.Data)
		if err != nil {
			return err
		}
		return h.events.CheckUserStatus(ctx, conn.ID, userID)
	}
	return errUnknownEvent
}

func (h *WSHandler) replyError(conn *realtime.Connection, message string) {
	payload, err := realtime.Encode(realtime.EventError, gin.H{"message": message})
	if err != nil {
		return
	}
	_ = conn.Send(payload)
}

func decodeData(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return errs.ErrInvalidParams
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return errs.ErrInvalidParams.Wrap(err)
	}
	return nil
}

// decodeUserID 兼容字符串和 {userId} 两种载荷
func decodeUserID(raw json.RawMessage) (string, error) {
	if len(raw) == 0 {
		return "", errs.ErrInvalidParams
	}

	var id string
	if err := json.Unmarshal(raw, &id); err == nil && id != "" {
		return id, nil
	}

	var obj struct {
		UserID string `json:"userId"`
		Lower  string `json:"userid"`
	}
	if err := json.Unmarshal(raw, &obj); err != nil {
		return "", errs.ErrInvalidParams.Wrap(err)
	}
	if id := orDefault(obj.UserID, obj.Lower); id != "" {
		return id, nil
	}
	return "", errs.ErrInvalidParams
}

func orDefault(v, fallback string) string {
	if v != "" {
		return v
	}
	return fallback
}
