package repository

import (
	"context"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sudooom.im.chat/internal/config"
	"sudooom.im.chat/internal/model"
)

func testDBConfig() config.DatabaseConfig {
	cfg := config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "postgres",
		Password: "postgres",
		Name:     "chat_test",
		SSLMode:  "disable",
	}
	if v := os.Getenv("TEST_POSTGRES_HOST"); v != "" {
		cfg.Host = v
	}
	if v := os.Getenv("TEST_POSTGRES_PASSWORD"); v != "" {
		cfg.Password = v
	}
	return cfg
}

// setupDB 连接测试数据库并执行迁移，不可用时跳过
func setupDB(t *testing.T) *pgxpool.Pool {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	cfg := testDBConfig()
	db, err := Connect(ctx, cfg)
	if err != nil {
		t.Skipf("跳过集成测试: 无法连接数据库: %v", err)
	}
	t.Cleanup(db.Close)

	require.NoError(t, Migrate(cfg))
	return db
}

func uniqueID(prefix string) string {
	return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
}

func createConversation(t *testing.T, repo *ConversationRepository, a, b string) *model.Conversation {
	t.Helper()
	conv := model.NewConversation(uniqueID("c"),
		model.Participant{ID: a, Kind: model.AccountKindIndividual},
		model.Participant{ID: b, Kind: model.AccountKindIndividual},
		time.Now())
	stored, err := repo.Create(context.Background(), conv)
	require.NoError(t, err)
	return stored
}

func TestConversationCreateIsIdempotent(t *testing.T) {
	db := setupDB(t)
	repo := NewConversationRepository(db)
	a, b := uniqueID("a"), uniqueID("b")

	var wg sync.WaitGroup
	ids := make([]string, 8)
	for i := range ids {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			from, to := a, b
			if i%2 == 1 {
				from, to = b, a
			}
			conv := model.NewConversation(uniqueID(fmt.Sprintf("c%d", i)),
				model.Participant{ID: from, Kind: model.AccountKindIndividual},
				model.Participant{ID: to, Kind: model.AccountKindIndividual},
				time.Now())
			stored, err := repo.Create(context.Background(), conv)
			if assert.NoError(t, err) {
				ids[i] = stored.ID
			}
		}(i)
	}
	wg.Wait()

	for _, id := range ids {
		assert.Equal(t, ids[0], id)
	}

	found, err := repo.FindByPair(context.Background(), b, a)
	require.NoError(t, err)
	assert.Equal(t, ids[0], found.ID)
	assert.Equal(t, 0, found.Unread(a))
	assert.Equal(t, 0, found.Unread(b))
}

func TestConversationPairUsesByteOrder(t *testing.T) {
	db := setupDB(t)
	repo := NewConversationRepository(db)
	suffix := uniqueID("")

	// 大小写和标点在字节序与语言排序规则下次序不同
	pairs := [][2]string{
		{"B" + suffix, "a" + suffix},
		{"user10" + suffix, "user-2" + suffix},
		{"Zed" + suffix, "alice" + suffix},
	}
	for _, p := range pairs {
		conv := createConversation(t, repo, p[0], p[1])

		found, err := repo.FindByPair(context.Background(), p[1], p[0])
		require.NoError(t, err)
		assert.Equal(t, conv.ID, found.ID)
	}
}

func TestAppendMessagesKeepsOrder(t *testing.T) {
	db := setupDB(t)
	repo := NewConversationRepository(db)
	ctx := context.Background()
	a, b := uniqueID("a"), uniqueID("b")
	conv := createConversation(t, repo, a, b)

	now := time.Now()
	msgs := []model.Message{
		model.NewMessage(uniqueID("m1"), a, "one", now, now),
		model.NewMessage(uniqueID("m2"), b, "two", now, now),
		model.NewMessage(uniqueID("m3"), a, "three", now, now),
	}
	require.NoError(t, repo.AppendMessages(ctx, conv.ID, msgs))
	// 重试不产生重复
	require.NoError(t, repo.AppendMessages(ctx, conv.ID, msgs))

	stored, err := repo.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, stored, 3)
	for i := range msgs {
		assert.Equal(t, msgs[i].ID, stored[i].ID)
		assert.True(t, stored[i].HasRead(msgs[i].Sender))
	}
}

func TestMarkMessageReadIsConditional(t *testing.T) {
	db := setupDB(t)
	repo := NewConversationRepository(db)
	ctx := context.Background()
	a, b := uniqueID("a"), uniqueID("b")
	conv := createConversation(t, repo, a, b)

	now := time.Now()
	msg := model.NewMessage(uniqueID("m"), a, "hi", now, now)
	require.NoError(t, repo.AppendMessages(ctx, conv.ID, []model.Message{msg}))

	changed, err := repo.MarkMessageRead(ctx, conv.ID, msg.ID, a, now)
	require.NoError(t, err)
	assert.False(t, changed, "sender cannot mark own message")

	changed, err = repo.MarkMessageRead(ctx, conv.ID, msg.ID, b, now)
	require.NoError(t, err)
	assert.True(t, changed)

	changed, err = repo.MarkMessageRead(ctx, conv.ID, msg.ID, b, now)
	require.NoError(t, err)
	assert.False(t, changed)

	stored, err := repo.ListMessages(ctx, conv.ID)
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, model.MessageStatusRead, stored[0].Status)
	assert.True(t, stored[0].HasRead(b))
}

func TestUnreadCounters(t *testing.T) {
	db := setupDB(t)
	repo := NewConversationRepository(db)
	ctx := context.Background()
	a, b := uniqueID("a"), uniqueID("b")
	conv := createConversation(t, repo, a, b)

	require.NoError(t, repo.IncrementUnread(ctx, conv.ID, b))
	require.NoError(t, repo.IncrementUnread(ctx, conv.ID, b))
	assert.ErrorIs(t, repo.IncrementUnread(ctx, conv.ID, "stranger"), ErrNotMember)

	total, chats, err := repo.UnreadTotals(ctx, b)
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	assert.Equal(t, 1, chats)

	require.NoError(t, repo.ResetUnread(ctx, conv.ID, b))
	require.NoError(t, repo.ResetUnread(ctx, conv.ID, b))

	stored, err := repo.GetByID(ctx, conv.ID)
	require.NoError(t, err)
	assert.Equal(t, 0, stored.Unread(b))
}

func TestFlagsAndList(t *testing.T) {
	db := setupDB(t)
	repo := NewConversationRepository(db)
	ctx := context.Background()
	a := uniqueID("a")
	c1 := createConversation(t, repo, a, uniqueID("b"))
	c2 := createConversation(t, repo, a, uniqueID("c"))

	now := time.Now()
	require.NoError(t, repo.SetLastMessage(ctx, c1.ID, model.LastMessage{MessageID: "x", Content: "hello there", Sender: a, Timestamp: now, Status: model.MessageStatusSent}))
	require.NoError(t, repo.SetLastMessage(ctx, c2.ID, model.LastMessage{MessageID: "y", Content: "bye", Sender: a, Timestamp: now.Add(time.Second), Status: model.MessageStatusSent}))
	require.NoError(t, repo.SetPinned(ctx, c1.ID, true))
	require.NoError(t, repo.SetMuted(ctx, c1.ID, a, true))
	assert.ErrorIs(t, repo.SetArchived(ctx, "missing", true), ErrConversationNotFound)

	convs, total, err := repo.ListForUser(ctx, ListFilter{UserID: a, Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 2, total)
	require.Len(t, convs, 2)
	assert.Equal(t, c2.ID, convs[0].ID)
	assert.True(t, convs[1].IsPinned)
	assert.True(t, convs[1].MutedBy[a])

	convs, total, err = repo.ListForUser(ctx, ListFilter{UserID: a, Search: "hello", Limit: 10})
	require.NoError(t, err)
	assert.Equal(t, 1, total)
	require.Len(t, convs, 1)
	assert.Equal(t, c1.ID, convs[0].ID)
}

func TestNotificationRepository(t *testing.T) {
	db := setupDB(t)
	repo := NewNotificationRepository(db)
	ctx := context.Background()
	user := uniqueID("u")

	settings, err := repo.EnsureSettings(ctx, user)
	require.NoError(t, err)
	assert.True(t, settings.Messages)

	settings.Messages = false
	saved, err := repo.SaveSettings(ctx, settings)
	require.NoError(t, err)
	assert.False(t, saved.Messages)

	now := time.Now()
	for i := 0; i < 3; i++ {
		require.NoError(t, repo.Append(ctx, user, &model.Notification{
			ID:   uniqueID(fmt.Sprintf("n%d", i)),
			Type: model.NotificationTypeLike,
			Time: now.Add(time.Duration(i) * time.Second),
		}))
	}

	items, total, err := repo.List(ctx, user, 2, 0)
	require.NoError(t, err)
	assert.Equal(t, 3, total)
	require.Len(t, items, 2)
	assert.True(t, items[0].Time.After(items[1].Time))

	require.NoError(t, repo.MarkRead(ctx, user, items[0].ID))
	assert.ErrorIs(t, repo.MarkRead(ctx, user, "missing"), ErrNotificationNotFound)

	n, err := repo.MarkAllRead(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)

	require.NoError(t, repo.Delete(ctx, user, items[1].ID))
	n, err = repo.DeleteAll(ctx, user)
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestAccountRepository(t *testing.T) {
	db := setupDB(t)
	repo := NewAccountRepository(db)
	ctx := context.Background()
	uid, oid := uniqueID("u"), uniqueID("o")

	_, err := db.Exec(ctx, `INSERT INTO users (id, userid, name) VALUES ($1, $2, 'Alice')`, uid, uid+"-h")
	require.NoError(t, err)
	_, err = db.Exec(ctx, `INSERT INTO organizations (id, userid, name) VALUES ($1, $2, 'Acme')`, oid, oid+"-h")
	require.NoError(t, err)

	ok, err := repo.UserExists(ctx, uid)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = repo.OrganizationExists(ctx, uid)
	require.NoError(t, err)
	assert.False(t, ok)

	p, err := repo.ProfileByHandle(ctx, oid+"-h")
	require.NoError(t, err)
	assert.Equal(t, model.AccountKindOrganization, p.Kind)
	assert.Equal(t, "Acme", p.Name)

	_, err = repo.Profile(ctx, "missing")
	assert.ErrorIs(t, err, ErrAccountNotFound)

	profiles, err := repo.Profiles(ctx, []string{uid, oid, "missing"})
	require.NoError(t, err)
	assert.Len(t, profiles, 2)
	assert.Equal(t, model.AccountKindIndividual, profiles[uid].Kind)
}
