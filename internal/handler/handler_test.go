package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.chat/internal/errs"
	"sudooom.im.chat/internal/middleware"
	"sudooom.im.chat/internal/model"
	"sudooom.im.chat/internal/service"
	"sudooom.im.chat/pkg/response"
)

type fakeQueries struct {
	lastFlag struct {
		userID, conversationID, action string
		value                          bool
	}
	page, limit int
	search      string
}

func (f *fakeQueries) History(_ context.Context, userID, peerID string) (*service.History, error) {
	if peerID == "nobody" {
		return nil, errs.ErrConversationNotFound
	}
	return &service.History{ConversationID: "c1", UnreadCount: 2}, nil
}

func (f *fakeQueries) ListConversations(_ context.Context, userID string, page, limit int, search string) (*service.ChatList, error) {
	f.page, f.limit, f.search = page, limit, search
	return &service.ChatList{Chats: []service.ChatListItem{{ConversationID: "c1"}}}, nil
}

func (f *fakeQueries) UnreadTotals(_ context.Context, userID string) (*service.UnreadTotals, error) {
	return &service.UnreadTotals{TotalUnreadMessages: 4, UnreadChatsCount: 2}, nil
}

func (f *fakeQueries) UpdateFlag(_ context.Context, userID, conversationID, action string, value bool) error {
	if action != service.ActionPin && action != service.ActionArchive && action != service.ActionMute {
		return errs.ErrInvalidAction
	}
	f.lastFlag.userID, f.lastFlag.conversationID, f.lastFlag.action, f.lastFlag.value = userID, conversationID, action, value
	return nil
}

func (f *fakeQueries) ProfileByHandle(_ context.Context, handle string) (*model.AccountProfile, error) {
	if handle != "alice" {
		return nil, errs.ErrAccountNotFound
	}
	return &model.AccountProfile{ID: "u1", Name: "Alice", Handle: "alice"}, nil
}

func newChatRouter(q ChatQueries) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewChatHandler(q)

	chat := r.Group("/api/v1/chat")
	chat.GET("/user/:userid", h.GetProfile)
	authed := chat.Group("", middleware.UserIdentity())
	authed.GET("/history/:peerId", h.GetHistory)
	authed.GET("/list", h.GetChatList)
	authed.GET("/unread", h.GetUnreadTotals)
	authed.PATCH("/:conversationId/flags", h.UpdateFlag)
	return r
}

func doRequest(r http.Handler, method, path, userID string, body any) (*httptest.ResponseRecorder, response.Response) {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	if userID != "" {
		req.Header.Set(middleware.HeaderUserID, userID)
	}

	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	var resp response.Response
	_ = json.Unmarshal(w.Body.Bytes(), &resp)
	return w, resp
}

func TestHistoryEndpoint(t *testing.T) {
	r := newChatRouter(&fakeQueries{})

	w, resp := doRequest(r, http.MethodGet, "/api/v1/chat/history/u2", "u1", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, errs.CodeSuccess, resp.Code)
	assert.Equal(t, "c1", resp.Data.(map[string]any)["conversationId"])

	w, resp = doRequest(r, http.MethodGet, "/api/v1/chat/history/nobody", "u1", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errs.CodeConversationNotFound, resp.Code)
}

func TestMissingUserHeader(t *testing.T) {
	r := newChatRouter(&fakeQueries{})

	w, resp := doRequest(r, http.MethodGet, "/api/v1/chat/unread", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errs.CodeInvalidParams, resp.Code)
}

func TestChatListPassesPaging(t *testing.T) {
	q := &fakeQueries{}
	r := newChatRouter(q)

	w, _ := doRequest(r, http.MethodGet, "/api/v1/chat/list?page=3&limit=5&search=bob", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 3, q.page)
	assert.Equal(t, 5, q.limit)
	assert.Equal(t, "bob", q.search)

	_, _ = doRequest(r, http.MethodGet, "/api/v1/chat/list", "u1", nil)
	assert.Equal(t, 1, q.page)
	assert.Equal(t, 20, q.limit)
}

func TestUnreadEndpoint(t *testing.T) {
	r := newChatRouter(&fakeQueries{})

	w, resp := doRequest(r, http.MethodGet, "/api/v1/chat/unread", "u1", nil)
	require.Equal(t, http.StatusOK, w.Code)
	data := resp.Data.(map[string]any)
	assert.EqualValues(t, 4, data["totalUnreadMessages"])
	assert.EqualValues(t, 2, data["unreadChatsCount"])
}

func TestUpdateFlagEndpoint(t *testing.T) {
	q := &fakeQueries{}
	r := newChatRouter(q)

	w, _ := doRequest(r, http.MethodPatch, "/api/v1/chat/c1/flags", "u1", gin.H{"action": "mute", "value": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "u1", q.lastFlag.userID)
	assert.Equal(t, "c1", q.lastFlag.conversationID)
	assert.Equal(t, "mute", q.lastFlag.action)
	assert.False(t, q.lastFlag.value)

	w, resp := doRequest(r, http.MethodPatch, "/api/v1/chat/c1/flags", "u1", gin.H{"action": "star", "value": true})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errs.CodeInvalidAction, resp.Code)

	w, resp = doRequest(r, http.MethodPatch, "/api/v1/chat/c1/flags", "u1", gin.H{"action": "pin"})
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Equal(t, errs.CodeInvalidParams, resp.Code)
}

func TestProfileEndpoint(t *testing.T) {
	r := newChatRouter(&fakeQueries{})

	w, resp := doRequest(r, http.MethodGet, "/api/v1/chat/user/alice", "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "Alice", resp.Data.(map[string]any)["name"])

	w, _ = doRequest(r, http.MethodGet, "/api/v1/chat/user/ghost", "", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
}

type fakeNotifications struct {
	notified []model.Notification
	muted    bool
}

func (f *fakeNotifications) Notify(_ context.Context, recipientID string, item model.Notification) (*model.Notification, error) {
	if f.muted {
		return nil, nil
	}
	item.ID = "n1"
	item.Time = time.Now()
	f.notified = append(f.notified, item)
	return &item, nil
}

func (f *fakeNotifications) List(_ context.Context, userID string, page, limit int) (*service.NotificationPage, error) {
	return &service.NotificationPage{
		Notifications: f.notified,
		Pagination:    service.NotificationPaging{CurrentPage: page, Limit: limit, TotalNotifications: len(f.notified)},
	}, nil
}

func (f *fakeNotifications) MarkRead(_ context.Context, userID, id string) error {
	if id != "n1" {
		return errs.ErrNotificationNotFound
	}
	return nil
}

func (f *fakeNotifications) MarkAllRead(context.Context, string) (int64, error) { return 3, nil }

func (f *fakeNotifications) Delete(_ context.Context, userID, id string) error {
	return f.MarkRead(context.Background(), userID, id)
}

func (f *fakeNotifications) DeleteAll(context.Context, string) (int64, error) { return 2, nil }

func (f *fakeNotifications) Settings(_ context.Context, userID string) (*model.NotificationSettings, error) {
	s := model.DefaultNotificationSettings(userID)
	return &s, nil
}

func (f *fakeNotifications) UpdateSettings(_ context.Context, userID string, patch service.SettingsPatch) (*model.NotificationSettings, error) {
	s := model.DefaultNotificationSettings(userID)
	if patch.Likes != nil {
		s.Likes = *patch.Likes
	}
	return &s, nil
}

func newNotificationRouter(n Notifications) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	h := NewNotificationHandler(n)

	r.POST("/api/v1/internal/notifications", h.Notify)
	g := r.Group("/api/v1/notifications", middleware.UserIdentity())
	g.GET("", h.List)
	g.GET("/settings", h.GetSettings)
	g.PUT("/settings", h.UpdateSettings)
	g.PATCH("/read-all", h.MarkAllRead)
	g.PATCH("/:id/read", h.MarkRead)
	g.DELETE("/:id", h.Delete)
	g.DELETE("", h.DeleteAll)
	return r
}

func TestNotificationEndpoints(t *testing.T) {
	n := &fakeNotifications{}
	r := newNotificationRouter(n)

	w, resp := doRequest(r, http.MethodPost, "/api/v1/internal/notifications", "", gin.H{
		"recipientId": "u2", "type": "like", "title": "New Like",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, true, resp.Data.(map[string]any)["delivered"])
	require.Len(t, n.notified, 1)
	assert.Equal(t, "like", n.notified[0].Type)

	w, _ = doRequest(r, http.MethodPost, "/api/v1/internal/notifications", "", gin.H{"type": "like"})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	w, resp = doRequest(r, http.MethodGet, "/api/v1/notifications?page=2&limit=10", "u2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	paging := resp.Data.(map[string]any)["pagination"].(map[string]any)
	assert.EqualValues(t, 2, paging["currentPage"])

	w, _ = doRequest(r, http.MethodPatch, "/api/v1/notifications/n1/read", "u2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, resp = doRequest(r, http.MethodPatch, "/api/v1/notifications/nx/read", "u2", nil)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.Equal(t, errs.CodeNotificationNotFound, resp.Code)

	w, resp = doRequest(r, http.MethodPatch, "/api/v1/notifications/read-all", "u2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 3, resp.Data.(map[string]any)["updated"])

	w, _ = doRequest(r, http.MethodDelete, "/api/v1/notifications/n1", "u2", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	w, resp = doRequest(r, http.MethodDelete, "/api/v1/notifications", "u2", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.EqualValues(t, 2, resp.Data.(map[string]any)["deleted"])

	w, resp = doRequest(r, http.MethodPut, "/api/v1/notifications/settings", "u2", gin.H{"likes": false})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp.Data.(map[string]any)["likes"])
	assert.Equal(t, true, resp.Data.(map[string]any)["messages"])
}

func TestNotifyMutedCategory(t *testing.T) {
	r := newNotificationRouter(&fakeNotifications{muted: true})

	w, resp := doRequest(r, http.MethodPost, "/api/v1/internal/notifications", "", gin.H{
		"recipientId": "u2", "type": "like", "title": "New Like",
	})
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, false, resp.Data.(map[string]any)["delivered"])
}
