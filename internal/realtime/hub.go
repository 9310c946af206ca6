package realtime

import (
	"log/slog"
	"sync"

	"sudooom.im.chat/internal/metrics"
)

// CloseSessionReplaced 同一用户的新会话替换旧会话
const CloseSessionReplaced = 4001

// Hub 本节点的会话表，每个用户至多一个活动会话
type Hub struct {
	mu           sync.RWMutex
	sessions     map[string]*Connection // sessionID -> connection
	userSessions map[string]string      // userID -> sessionID
	logger       *slog.Logger
}

// NewHub 创建会话表
func NewHub() *Hub {
	return &Hub{
		sessions:     make(map[string]*Connection),
		userSessions: make(map[string]string),
		logger:       slog.Default(),
	}
}

// Register 登记新连接并启动写协程
func (h *Hub) Register(conn *Connection) {
	h.mu.Lock()
	h.sessions[conn.ID] = conn
	h.mu.Unlock()

	metrics.ConnectedSessions.Inc()
	conn.Start()
}

// Bind 把会话绑定到用户，替换并关闭该用户之前的会话
func (h *Hub) Bind(sessionID, userID string) bool {
	var previous *Connection

	h.mu.Lock()
	conn, ok := h.sessions[sessionID]
	if !ok {
		h.mu.Unlock()
		return false
	}
	if old := conn.UserID(); old != "" && old != userID {
		if h.userSessions[old] == sessionID {
			delete(h.userSessions, old)
		}
	}
	if existingID, ok := h.userSessions[userID]; ok && existingID != sessionID {
		previous = h.sessions[existingID]
	}
	h.userSessions[userID] = sessionID
	conn.setUserID(userID)
	h.mu.Unlock()

	if previous != nil {
		h.logger.Info("Replacing previous session", "userId", userID, "oldSession", previous.ID, "newSession", sessionID)
		previous.Close(CloseSessionReplaced, "session replaced")
	}
	return true
}

// Unbind 解除用户绑定，连接保持
func (h *Hub) Unbind(sessionID string) {
	h.mu.Lock()
	defer h.mu.Unlock()

	conn, ok := h.sessions[sessionID]
	if !ok {
		return
	}
	if userID := conn.UserID(); userID != "" && h.userSessions[userID] == sessionID {
		delete(h.userSessions, userID)
	}
	conn.setUserID("")
}

// Unregister 移除连接
func (h *Hub) Unregister(conn *Connection) {
	h.mu.Lock()
	_, ok := h.sessions[conn.ID]
	if ok {
		delete(h.sessions, conn.ID)
		if userID := conn.UserID(); userID != "" && h.userSessions[userID] == conn.ID {
			delete(h.userSessions, userID)
		}
	}
	h.mu.Unlock()

	if ok {
		metrics.ConnectedSessions.Dec()
	}
}

// Session 按会话 ID 查找连接
func (h *Hub) Session(sessionID string) (*Connection, bool) {
	h.mu.RLock()
	defer h.mu.RUnlock()

	conn, ok := h.sessions[sessionID]
	return conn, ok
}

// SendToUser 投递到用户当前会话，用户不在本节点时返回 false
func (h *Hub) SendToUser(userID string, payload []byte) bool {
	h.mu.RLock()
	sessionID, ok := h.userSessions[userID]
	conn := h.sessions[sessionID]
	h.mu.RUnlock()

	if !ok || conn == nil {
		return false
	}
	return conn.Send(payload) == nil
}

// SendToSession 投递到指定会话
func (h *Hub) SendToSession(sessionID string, payload []byte) bool {
	conn, ok := h.Session(sessionID)
	if !ok {
		return false
	}
	return conn.Send(payload) == nil
}

// SendToAll 投递到本节点所有会话，返回成功数
func (h *Hub) SendToAll(payload []byte) int {
	h.mu.RLock()
	conns := make([]*Connection, 0, len(h.sessions))
	for _, conn := range h.sessions {
		conns = append(conns, conn)
	}
	h.mu.RUnlock()

	delivered := 0
	for _, conn := range conns {
		if conn.Send(payload) == nil {
			delivered++
		}
	}
	return delivered
}

// Count 本节点连接数
func (h *Hub) Count() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.sessions)
}

// Close 关闭所有连接
func (h *Hub) Close() {
	h.mu.Lock()
	conns := make([]*Connection, 0, len(h.sessions))
	for _, conn := range h.sessions {
		conns = append(conns, conn)
	}
	h.sessions = make(map[string]*Connection)
	h.userSessions = make(map[string]string)
	h.mu.Unlock()

	metrics.ConnectedSessions.Sub(float64(len(conns)))
	for _, conn := range conns {
		conn.Close(1001, "server shutdown")
	}
}
