package buffer

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"sudooom.im.chat/internal/metrics"
	"sudooom.im.chat/internal/task"
)

// FlushFunc 刷盘回调，返回刷盘后缓冲中剩余的条数
type FlushFunc func(ctx context.Context, conversationID string) (remaining int, err error)

// DebounceScheduler 每个会话至多一个等待中的刷盘定时器
type DebounceScheduler struct {
	scheduler *task.Scheduler
	delay     time.Duration
	mu        sync.Mutex
	pending   map[string]timerState
	logger    *slog.Logger
}

// NewDebounceScheduler 创建防抖调度器
func NewDebounceScheduler(scheduler *task.Scheduler, delay time.Duration) *DebounceScheduler {
	return &DebounceScheduler{
		scheduler: scheduler,
		delay:     delay,
		pending:   make(map[string]timerState),
		logger:    slog.Default(),
	}
}

type timerState int

const (
	timerWaiting timerState = iota
	timerRunning
	// 刷盘执行期间又有新消息请求调度
	timerRunningRequested
)

func flushTaskID(conversationID string) string {
	return "flush:" + conversationID
}

// ScheduleIfAbsent 没有等待中的定时器时创建一个，返回是否新建
// 检查与占位在同一把锁内完成；刷盘执行中收到的请求记下，结束后据此重新调度
func (d *DebounceScheduler) ScheduleIfAbsent(conversationID string, fn FlushFunc) (bool, error) {
	d.mu.Lock()
	if state, ok := d.pending[conversationID]; ok {
		if state == timerRunning {
			d.pending[conversationID] = timerRunningRequested
		}
		d.mu.Unlock()
		return false, nil
	}
	d.pending[conversationID] = timerWaiting
	d.mu.Unlock()
	metrics.PendingFlushes.Inc()

	err := d.scheduler.Schedule(flushTaskID(conversationID), conversationID, d.delay, d.fire(fn))
	if err != nil {
		d.release(conversationID)
		return false, err
	}
	return true, nil
}

// fire 无论刷盘成败都释放占位，失败时缓冲保留
// 缓冲仍有剩余，或刷盘期间有新的调度请求被合并时，重新调度一次
func (d *DebounceScheduler) fire(fn FlushFunc) task.TaskFunc {
	return func(ctx context.Context, conversationID string) error {
		remaining, requested, err := d.run(ctx, conversationID, fn)
		if remaining > 0 || requested {
			if _, err := d.ScheduleIfAbsent(conversationID, fn); err != nil {
				d.logger.Warn("Failed to re-arm flush timer", "conversationId", conversationID, "error", err)
			}
		}
		return err
	}
}

func (d *DebounceScheduler) run(ctx context.Context, conversationID string, fn FlushFunc) (remaining int, requested bool, err error) {
	d.mu.Lock()
	if _, ok := d.pending[conversationID]; ok {
		d.pending[conversationID] = timerRunning
	}
	d.mu.Unlock()

	defer func() { requested = d.release(conversationID) }()
	remaining, err = fn(ctx, conversationID)
	return remaining, false, err
}

// release 释放占位，返回占位期间是否有被合并的调度请求
func (d *DebounceScheduler) release(conversationID string) bool {
	d.mu.Lock()
	state, ok := d.pending[conversationID]
	delete(d.pending, conversationID)
	d.mu.Unlock()

	if ok {
		metrics.PendingFlushes.Dec()
	}
	return state == timerRunningRequested
}

// Cancel 撤销等待中的定时器，返回是否存在
func (d *DebounceScheduler) Cancel(conversationID string) bool {
	d.mu.Lock()
	_, ok := d.pending[conversationID]
	d.mu.Unlock()
	if !ok {
		return false
	}

	if !d.scheduler.RemoveTask(flushTaskID(conversationID)) {
		// 已在执行中，由执行方释放
		return false
	}
	d.release(conversationID)
	return true
}

// IsPending 会话是否有等待中的定时器
func (d *DebounceScheduler) IsPending(conversationID string) bool {
	d.mu.Lock()
	defer d.mu.Unlock()

	_, ok := d.pending[conversationID]
	return ok
}

// PendingIDs 返回所有等待中的会话
func (d *DebounceScheduler) PendingIDs() []string {
	d.mu.Lock()
	defer d.mu.Unlock()

	ids := make([]string, 0, len(d.pending))
	for id := range d.pending {
		ids = append(ids, id)
	}
	return ids
}
