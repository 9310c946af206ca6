package presence

import (
	"context"
	"sync"
	"time"
)

// MemoryRegistry 单进程在线状态
type MemoryRegistry struct {
	mu       sync.RWMutex
	sessions map[string]string // userId -> sessionId
	users    map[string]string // sessionId -> userId
	active   map[string]string // userId -> peerId
	lastSeen map[string]time.Time
}

// NewMemoryRegistry 创建内存注册表
func NewMemoryRegistry() *MemoryRegistry {
	return &MemoryRegistry{
		sessions: make(map[string]string),
		users:    make(map[string]string),
		active:   make(map[string]string),
		lastSeen: make(map[string]time.Time),
	}
}

func (m *MemoryRegistry) Open(context.Context) error { return nil }

// Close 清空所有记录
func (m *MemoryRegistry) Close() error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.sessions = make(map[string]string)
	m.users = make(map[string]string)
	m.active = make(map[string]string)
	return nil
}

func (m *MemoryRegistry) Connect(_ context.Context, userID, sessionID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if old, ok := m.sessions[userID]; ok && old != sessionID {
		delete(m.users, old)
	}
	m.sessions[userID] = sessionID
	m.users[sessionID] = userID
	return nil
}

func (m *MemoryRegistry) Disconnect(_ context.Context, sessionID string) (string, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	userID, ok := m.users[sessionID]
	if !ok {
		return "", nil
	}
	delete(m.users, sessionID)
	if m.sessions[userID] != sessionID {
		return "", nil
	}
	delete(m.sessions, userID)
	delete(m.active, userID)
	return userID, nil
}

func (m *MemoryRegistry) SignOff(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if session, ok := m.sessions[userID]; ok {
		delete(m.users, session)
	}
	delete(m.sessions, userID)
	delete(m.active, userID)
	return nil
}

func (m *MemoryRegistry) SessionOf(_ context.Context, userID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	s, ok := m.sessions[userID]
	return s, ok, nil
}

func (m *MemoryRegistry) IsOnline(ctx context.Context, userID string) bool {
	_, ok, _ := m.SessionOf(ctx, userID)
	return ok
}

func (m *MemoryRegistry) SetActiveChat(_ context.Context, userID, peerID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.active[userID] = peerID
	return nil
}

func (m *MemoryRegistry) ClearActiveChat(_ context.Context, userID string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.active, userID)
	return nil
}

func (m *MemoryRegistry) ActiveChat(_ context.Context, userID string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	p, ok := m.active[userID]
	return p, ok, nil
}

func (m *MemoryRegistry) IsActivelyViewing(ctx context.Context, userID, peerID string) bool {
	active, ok, _ := m.ActiveChat(ctx, userID)
	return ok && active == peerID
}

func (m *MemoryRegistry) SetLastSeen(_ context.Context, userID string, at time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.lastSeen[userID] = at
	return nil
}

func (m *MemoryRegistry) LastSeen(_ context.Context, userID string) (time.Time, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	t, ok := m.lastSeen[userID]
	return t, ok, nil
}
