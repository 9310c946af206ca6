package service

import (
	"context"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"sudooom.im.chat/internal/buffer"
	"sudooom.im.chat/internal/model"
	"sudooom.im.chat/internal/presence"
	"sudooom.im.chat/internal/repository"
	"sudooom.im.chat/internal/task"
	"sudooom.im.chat/pkg/snowflake"
)

// memStore 内存会话存储
type memStore struct {
	mu          sync.Mutex
	convs       map[string]*model.Conversation
	pairs       map[string]string
	messages    map[string][]model.Message
	appendCalls int
	failAppend  bool
	// afterList 在 ListMessages 取完快照后调用
	afterList func()
}

func newMemStore() *memStore {
	return &memStore{
		convs:    make(map[string]*model.Conversation),
		pairs:    make(map[string]string),
		messages: make(map[string][]model.Message),
	}
}

func pairKey(a, b string) string {
	a, b = model.OrderPair(a, b)
	return a + "|" + b
}

func cloneConv(c *model.Conversation) *model.Conversation {
	cp := *c
	cp.UnreadCount = make(map[string]int, len(c.UnreadCount))
	for k, v := range c.UnreadCount {
		cp.UnreadCount[k] = v
	}
	cp.MutedBy = make(map[string]bool, len(c.MutedBy))
	for k, v := range c.MutedBy {
		cp.MutedBy[k] = v
	}
	if c.LastMessage != nil {
		last := *c.LastMessage
		cp.LastMessage = &last
	}
	return &cp
}

func (s *memStore) FindByPair(_ context.Context, a, b string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.pairs[pairKey(a, b)]
	if !ok {
		return nil, repository.ErrConversationNotFound
	}
	return cloneConv(s.convs[id]), nil
}

func (s *memStore) GetByID(_ context.Context, id string) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[id]
	if !ok {
		return nil, repository.ErrConversationNotFound
	}
	return cloneConv(c), nil
}

func (s *memStore) Create(_ context.Context, conv *model.Conversation) (*model.Conversation, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := pairKey(conv.Participants[0].ID, conv.Participants[1].ID)
	if id, ok := s.pairs[key]; ok {
		return cloneConv(s.convs[id]), nil
	}
	s.pairs[key] = conv.ID
	s.convs[conv.ID] = cloneConv(conv)
	return cloneConv(conv), nil
}

func (s *memStore) AppendMessages(_ context.Context, conversationID string, msgs []model.Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.appendCalls++
	if s.failAppend {
		return context.DeadlineExceeded
	}
	existing := make(map[string]bool)
	for _, m := range s.messages[conversationID] {
		existing[m.ID] = true
	}
	for _, m := range msgs {
		if !existing[m.ID] {
			s.messages[conversationID] = append(s.messages[conversationID], m)
		}
	}
	return nil
}

func (s *memStore) ListMessages(_ context.Context, conversationID string) ([]model.Message, error) {
	s.mu.Lock()
	out := make([]model.Message, len(s.messages[conversationID]))
	copy(out, s.messages[conversationID])
	hook := s.afterList
	s.mu.Unlock()

	if hook != nil {
		hook()
	}
	return out, nil
}

func (s *memStore) MarkMessageRead(_ context.Context, conversationID, messageID, userID string, at time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].ID == messageID {
			return msgs[i].MarkReadBy(userID, at), nil
		}
	}
	return false, nil
}

func (s *memStore) MarkAllRead(_ context.Context, conversationID, userID string, at time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var n int64
	msgs := s.messages[conversationID]
	for i := range msgs {
		if msgs[i].MarkReadBy(userID, at) {
			n++
		}
	}
	return n, nil
}

func (s *memStore) SetLastMessage(_ context.Context, conversationID string, last model.LastMessage) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return repository.ErrConversationNotFound
	}
	c.LastMessage = &last
	c.UpdatedAt = last.Timestamp
	return nil
}

func (s *memStore) MarkLastMessageRead(_ context.Context, conversationID, readerID, messageID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok || c.LastMessage == nil {
		return nil
	}
	if c.LastMessage.Sender != readerID && (messageID == "" || c.LastMessage.MessageID == messageID) {
		c.LastMessage.Status = model.MessageStatusRead
	}
	return nil
}

func (s *memStore) IncrementUnread(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok || !c.HasParticipant(userID) {
		return repository.ErrNotMember
	}
	c.UnreadCount[userID]++
	return nil
}

func (s *memStore) ResetUnread(_ context.Context, conversationID, userID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if c, ok := s.convs[conversationID]; ok && c.HasParticipant(userID) {
		c.UnreadCount[userID] = 0
	}
	return nil
}

func (s *memStore) ListForUser(_ context.Context, f repository.ListFilter) ([]*model.Conversation, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var all []*model.Conversation
	for _, c := range s.convs {
		if !c.HasParticipant(f.UserID) {
			continue
		}
		if f.Search != "" && (c.LastMessage == nil || !strings.Contains(c.LastMessage.Content, f.Search)) {
			continue
		}
		all = append(all, cloneConv(c))
	}
	sort.Slice(all, func(i, j int) bool {
		if !all[i].UpdatedAt.Equal(all[j].UpdatedAt) {
			return all[i].UpdatedAt.After(all[j].UpdatedAt)
		}
		return all[i].ID < all[j].ID
	})

	total := len(all)
	if f.Offset >= total {
		return nil, total, nil
	}
	end := f.Offset + f.Limit
	if end > total {
		end = total
	}
	return all[f.Offset:end], total, nil
}

func (s *memStore) UnreadTotals(_ context.Context, userID string) (int, int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	total, chats := 0, 0
	for _, c := range s.convs {
		if n := c.UnreadCount[userID]; c.HasParticipant(userID) && n > 0 {
			total += n
			chats++
		}
	}
	return total, chats, nil
}

func (s *memStore) SetPinned(_ context.Context, conversationID string, pinned bool) error {
	return s.update(conversationID, func(c *model.Conversation) { c.IsPinned = pinned })
}

func (s *memStore) SetArchived(_ context.Context, conversationID string, archived bool) error {
	return s.update(conversationID, func(c *model.Conversation) { c.IsArchived = archived })
}

func (s *memStore) SetMuted(_ context.Context, conversationID, userID string, muted bool) error {
	return s.update(conversationID, func(c *model.Conversation) { c.MutedBy[userID] = muted })
}

func (s *memStore) update(conversationID string, fn func(*model.Conversation)) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	c, ok := s.convs[conversationID]
	if !ok {
		return repository.ErrConversationNotFound
	}
	fn(c)
	return nil
}

func (s *memStore) conversationCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.convs)
}

func (s *memStore) appendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appendCalls
}

// fakeAccounts 账号类型与资料
type fakeAccounts struct {
	kinds    map[string]model.AccountKind
	profiles map[string]model.AccountProfile
}

func newFakeAccounts() *fakeAccounts {
	return &fakeAccounts{
		kinds: map[string]model.AccountKind{
			"u1":   model.AccountKindIndividual,
			"u2":   model.AccountKindIndividual,
			"u3":   model.AccountKindIndividual,
			"org1": model.AccountKindOrganization,
		},
		profiles: map[string]model.AccountProfile{
			"u1":   {ID: "u1", Kind: model.AccountKindIndividual, Name: "Alice", Handle: "alice"},
			"u2":   {ID: "u2", Kind: model.AccountKindIndividual, Name: "Bob", Handle: "bob"},
			"org1": {ID: "org1", Kind: model.AccountKindOrganization, Name: "Acme", Handle: "acme"},
		},
	}
}

func (a *fakeAccounts) ResolveKind(_ context.Context, id string) (model.AccountKind, error) {
	return a.kinds[id], nil
}

func (a *fakeAccounts) Profile(_ context.Context, id string) (*model.AccountProfile, error) {
	p, ok := a.profiles[id]
	if !ok {
		return nil, repository.ErrAccountNotFound
	}
	return &p, nil
}

func (a *fakeAccounts) ProfileByHandle(_ context.Context, handle string) (*model.AccountProfile, error) {
	for _, p := range a.profiles {
		if p.Handle == handle {
			p := p
			return &p, nil
		}
	}
	return nil, repository.ErrAccountNotFound
}

func (a *fakeAccounts) Profiles(_ context.Context, ids []string) (map[string]model.AccountProfile, error) {
	out := make(map[string]model.AccountProfile)
	for _, id := range ids {
		if p, ok := a.profiles[id]; ok {
			out[id] = p
		}
	}
	return out, nil
}

// memNotifications 内存通知存储
type memNotifications struct {
	mu       sync.Mutex
	settings map[string]model.NotificationSettings
	items    map[string][]model.Notification
}

func newMemNotifications() *memNotifications {
	return &memNotifications{
		settings: make(map[string]model.NotificationSettings),
		items:    make(map[string][]model.Notification),
	}
}

func (m *memNotifications) EnsureSettings(_ context.Context, userID string) (*model.NotificationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.settings[userID]
	if !ok {
		s = model.DefaultNotificationSettings(userID)
		m.settings[userID] = s
	}
	return &s, nil
}

func (m *memNotifications) SaveSettings(_ context.Context, s *model.NotificationSettings) (*model.NotificationSettings, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.settings[s.UserID] = *s
	saved := *s
	return &saved, nil
}

func (m *memNotifications) Append(_ context.Context, userID string, n *model.Notification) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.items[userID] = append(m.items[userID], *n)
	return nil
}

func (m *memNotifications) List(_ context.Context, userID string, limit, offset int) ([]model.Notification, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	all := m.items[userID]
	total := len(all)
	var out []model.Notification
	for i := total - 1 - offset; i >= 0 && len(out) < limit; i-- {
		out = append(out, all[i])
	}
	return out, total, nil
}

func (m *memNotifications) MarkRead(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for i := range m.items[userID] {
		if m.items[userID][i].ID == id {
			m.items[userID][i].Read = true
			return nil
		}
	}
	return repository.ErrNotificationNotFound
}

func (m *memNotifications) MarkAllRead(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	var n int64
	for i := range m.items[userID] {
		if !m.items[userID][i].Read {
			m.items[userID][i].Read = true
			n++
		}
	}
	return n, nil
}

func (m *memNotifications) Delete(_ context.Context, userID, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	items := m.items[userID]
	for i := range items {
		if items[i].ID == id {
			m.items[userID] = append(items[:i], items[i+1:]...)
			return nil
		}
	}
	return repository.ErrNotificationNotFound
}

func (m *memNotifications) DeleteAll(_ context.Context, userID string) (int64, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	n := int64(len(m.items[userID]))
	delete(m.items, userID)
	return n, nil
}

func (m *memNotifications) count(userID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.items[userID])
}

// published 一次推送记录
type published struct {
	kind   string
	target string
	event  string
	data   any
}

// recordingPublisher 记录所有推送
type recordingPublisher struct {
	mu     sync.Mutex
	events []published
}

func (p *recordingPublisher) add(e published) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return nil
}

func (p *recordingPublisher) PublishToUser(_ context.Context, userID, event string, data any) error {
	return p.add(published{kind: "user", target: userID, event: event, data: data})
}

func (p *recordingPublisher) PublishToSession(_ context.Context, sessionID, event string, data any) error {
	return p.add(published{kind: "session", target: sessionID, event: event, data: data})
}

func (p *recordingPublisher) Broadcast(_ context.Context, event string, data any) error {
	return p.add(published{kind: "all", event: event, data: data})
}

func (p *recordingPublisher) find(target, event string) []published {
	p.mu.Lock()
	defer p.mu.Unlock()

	var out []published
	for _, e := range p.events {
		if e.target == target && e.event == event {
			out = append(out, e)
		}
	}
	return out
}

// fakeBinder 记录会话绑定
type fakeBinder struct {
	mu    sync.Mutex
	bound map[string]string
}

func (b *fakeBinder) Bind(sessionID, userID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.bound == nil {
		b.bound = make(map[string]string)
	}
	b.bound[sessionID] = userID
	return true
}

func (b *fakeBinder) Unbind(sessionID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.bound, sessionID)
}

type harness struct {
	chat     *ChatService
	notify   *NotificationService
	query    *QueryService
	store    *memStore
	buf      *buffer.Buffer
	registry *presence.MemoryRegistry
	notes    *memNotifications
	pub      *recordingPublisher
	binder   *fakeBinder
}

func newHarness(t *testing.T, flushDelay, autoReadDelay time.Duration) *harness {
	t.Helper()

	sched := task.NewScheduler(10*time.Millisecond, 100, 2)
	require.NoError(t, sched.Start())
	t.Cleanup(sched.Stop)

	h := &harness{
		store:    newMemStore(),
		registry: presence.NewMemoryRegistry(),
		notes:    newMemNotifications(),
		pub:      &recordingPublisher{},
		binder:   &fakeBinder{},
	}
	h.buf = buffer.New(buffer.NewMemoryStore(), buffer.NewLocalLocker(),
		buffer.NewDebounceScheduler(sched, flushDelay), h.store)

	ids := snowflake.NewNode(1)
	accounts := newFakeAccounts()
	h.notify = NewNotificationService(h.notes, h.registry, h.pub, ids)
	h.chat = NewChatService(ChatDeps{
		Store:     h.store,
		Buffer:    h.buf,
		Presence:  h.registry,
		Resolver:  accounts,
		Profiles:  accounts,
		Publisher: h.pub,
		Notifier:  h.notify,
		Scheduler: sched,
		Sessions:  h.binder,
		IDs:       ids,
	}, ChatOptions{AutoReadDelay: autoReadDelay, PreviewLength: 30})
	h.query = NewQueryService(h.store, h.buf, h.registry, accounts)
	return h
}

func (h *harness) send(t *testing.T, from, to, text string) *model.Message {
	t.Helper()
	msg, err := h.chat.SendPrivateMessage(context.Background(), SendInput{SessionID: "s-" + from, From: from, To: to, Message: text})
	require.NoError(t, err)
	return msg
}

func (h *harness) conversation(t *testing.T, a, b string) *model.Conversation {
	t.Helper()
	conv, err := h.store.FindByPair(context.Background(), a, b)
	require.NoError(t, err)
	return conv
}
