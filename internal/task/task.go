package task

import (
	"context"
	"time"
)

// TaskFunc 任务执行函数类型，target 为操作对象（会话ID等）
type TaskFunc func(ctx context.Context, target string) error

// Task 延迟任务
type Task struct {
	ID        string        // 任务唯一ID
	Target    string        // 操作对象标识
	Delay     time.Duration // 延迟时长
	Fn        TaskFunc      // 执行函数
	CreatedAt time.Time

	// 剩余圈数，超过一圈的延迟在时间轮上多转几圈
	rounds int
}

// NewTask 创建新任务
func NewTask(id, target string, delay time.Duration, fn TaskFunc) *Task {
	return &Task{
		ID:        id,
		Target:    target,
		Delay:     delay,
		Fn:        fn,
		CreatedAt: time.Now(),
	}
}

// Execute 执行任务
func (t *Task) Execute(ctx context.Context) error {
	if t.Fn == nil {
		return nil
	}
	return t.Fn(ctx, t.Target)
}
