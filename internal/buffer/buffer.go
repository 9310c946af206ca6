package buffer

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"sudooom.im.chat/internal/metrics"
	"sudooom.im.chat/internal/model"
)

// Sink 持久存储，刷盘时按顺序追加
type Sink interface {
	AppendMessages(ctx context.Context, conversationID string, msgs []model.Message) error
}

// Buffer 消息写回缓冲
// 新消息先进入缓冲，防抖窗口结束后整批写入持久存储
type Buffer struct {
	store    Store
	locker   Locker
	debounce *DebounceScheduler
	sink     Sink
	logger   *slog.Logger
}

// New 创建写回缓冲
func New(store Store, locker Locker, debounce *DebounceScheduler, sink Sink) *Buffer {
	return &Buffer{
		store:    store,
		locker:   locker,
		debounce: debounce,
		sink:     sink,
		logger:   slog.Default(),
	}
}

// Append 追加消息到会话缓冲末尾
func (b *Buffer) Append(ctx context.Context, conversationID string, msg model.Message) error {
	if err := b.store.Push(ctx, conversationID, msg); err != nil {
		return fmt.Errorf("buffer append %s: %w", conversationID, err)
	}
	return nil
}

// ScheduleFlush 会话没有等待中的定时器时安排一次刷盘
func (b *Buffer) ScheduleFlush(conversationID string) error {
	created, err := b.debounce.ScheduleIfAbsent(conversationID, b.Flush)
	if err != nil {
		return fmt.Errorf("schedule flush %s: %w", conversationID, err)
	}
	if created {
		b.logger.Debug("Flush scheduled", "conversationId", conversationID)
	}
	return nil
}

// Flush 把缓冲中的消息按顺序写入持久存储
// 只有写入成功才移除已写入的前缀，刷盘期间新追加的消息保留在缓冲中
func (b *Buffer) Flush(ctx context.Context, conversationID string) (int, error) {
	start := time.Now()

	unlock, err := b.locker.Lock(ctx, conversationID)
	if err != nil {
		metrics.BufferFlushes.WithLabelValues("error").Inc()
		return 0, err
	}
	defer unlock()

	msgs, err := b.store.ReadAll(ctx, conversationID)
	if err != nil {
		metrics.BufferFlushes.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("buffer read %s: %w", conversationID, err)
	}
	if len(msgs) == 0 {
		return 0, nil
	}

	if err := b.sink.AppendMessages(ctx, conversationID, msgs); err != nil {
		metrics.BufferFlushes.WithLabelValues("error").Inc()
		b.logger.Error("Failed to flush buffered messages",
			"conversationId", conversationID,
			"count", len(msgs),
			"error", err)
		return 0, fmt.Errorf("flush %s: %w", conversationID, err)
	}

	remaining, err := b.store.Trim(ctx, conversationID, len(msgs))
	if err != nil {
		// 已写入的消息会在下次刷盘时按 ID 去重
		metrics.BufferFlushes.WithLabelValues("error").Inc()
		return 0, fmt.Errorf("buffer trim %s: %w", conversationID, err)
	}

	metrics.BufferFlushes.WithLabelValues("success").Inc()
	metrics.BufferFlushedMessages.Add(float64(len(msgs)))
	metrics.BufferFlushDuration.Observe(time.Since(start).Seconds())

	b.logger.Debug("Buffer flushed",
		"conversationId", conversationID,
		"count", len(msgs),
		"remaining", remaining,
		"elapsed", time.Since(start))
	return remaining, nil
}

// ReadAll 按发送顺序读取缓冲中的消息
func (b *Buffer) ReadAll(ctx context.Context, conversationID string) ([]model.Message, error) {
	return b.store.ReadAll(ctx, conversationID)
}

// ReadAndMutate 在会话锁内找到第一条满足 match 的消息并交给 mutate
// mutate 返回 true 时写回缓冲；返回是否找到、是否改写
func (b *Buffer) ReadAndMutate(ctx context.Context, conversationID string,
	match func(*model.Message) bool, mutate func(*model.Message) bool) (found, changed bool, err error) {

	unlock, err := b.locker.Lock(ctx, conversationID)
	if err != nil {
		return false, false, err
	}
	defer unlock()

	msgs, err := b.store.ReadAll(ctx, conversationID)
	if err != nil {
		return false, false, err
	}
	for i := range msgs {
		if !match(&msgs[i]) {
			continue
		}
		if !mutate(&msgs[i]) {
			return true, false, nil
		}
		if err := b.store.Update(ctx, conversationID, map[int]model.Message{i: msgs[i]}); err != nil {
			return true, false, err
		}
		return true, true, nil
	}
	return false, false, nil
}

// MarkRead 标记缓冲中的单条消息为 userID 已读
func (b *Buffer) MarkRead(ctx context.Context, conversationID, messageID, userID string, at time.Time) (found, changed bool, err error) {
	return b.ReadAndMutate(ctx, conversationID,
		func(m *model.Message) bool { return m.ID == messageID },
		func(m *model.Message) bool { return m.MarkReadBy(userID, at) })
}

// MarkAllRead 标记缓冲中所有对方发送的消息为已读，返回改写条数
func (b *Buffer) MarkAllRead(ctx context.Context, conversationID, userID string, at time.Time) (int, error) {
	unlock, err := b.locker.Lock(ctx, conversationID)
	if err != nil {
		return 0, err
	}
	defer unlock()

	msgs, err := b.store.ReadAll(ctx, conversationID)
	if err != nil {
		return 0, err
	}

	updates := make(map[int]model.Message)
	for i := range msgs {
		if msgs[i].MarkReadBy(userID, at) {
			updates[i] = msgs[i]
		}
	}
	if err := b.store.Update(ctx, conversationID, updates); err != nil {
		return 0, err
	}
	return len(updates), nil
}

// DrainAll 同步刷完所有等待中的会话，用于停机
func (b *Buffer) DrainAll(ctx context.Context) error {
	var errs []error
	for _, id := range b.debounce.PendingIDs() {
		b.debounce.Cancel(id)
		if _, err := b.Flush(ctx, id); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// IsFlushPending 会话是否有等待中的刷盘
func (b *Buffer) IsFlushPending(conversationID string) bool {
	return b.debounce.IsPending(conversationID)
}
