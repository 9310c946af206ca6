package task

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"

	"sudooom.im.chat/internal/workerpool"
)

var (
	ErrSchedulerRunning    = errors.New("scheduler already running")
	ErrSchedulerNotRunning = errors.New("scheduler not running")
	ErrInvalidTask         = errors.New("task must have an id")
)

// Scheduler 任务调度器：时间轮 + 按 target 分片的 worker pool
// 同一 target 的到期任务按到期顺序串行执行
type Scheduler struct {
	wheel       *TimeWheel
	workerCount int
	pool        *workerpool.Pool
	ctx         context.Context
	cancel      context.CancelFunc
	execCtx     context.Context
	execCancel  context.CancelFunc
	wg          sync.WaitGroup
	logger      *slog.Logger
	running     bool
	runningMu   sync.RWMutex
}

// NewScheduler 创建任务调度器
func NewScheduler(tick time.Duration, slots, workerCount int) *Scheduler {
	if workerCount <= 0 {
		workerCount = 8
	}

	ctx, cancel := context.WithCancel(context.Background())
	execCtx, execCancel := context.WithCancel(context.Background())

	return &Scheduler{
		wheel:       NewTimeWheel(tick, slots),
		workerCount: workerCount,
		ctx:         ctx,
		cancel:      cancel,
		execCtx:     execCtx,
		execCancel:  execCancel,
		logger:      slog.Default(),
	}
}

// Start 启动调度器
func (s *Scheduler) Start() error {
	s.runningMu.Lock()
	if s.running {
		s.runningMu.Unlock()
		return ErrSchedulerRunning
	}
	s.running = true
	s.pool = workerpool.New(s.workerCount, s.workerCount*2, s.logger)
	s.runningMu.Unlock()

	s.wg.Add(1)
	go s.tickLoop()

	s.logger.Info("Task scheduler started", "tick", s.wheel.Interval(), "workers", s.workerCount)
	return nil
}

func (s *Scheduler) tickLoop() {
	defer s.wg.Done()

	ticker := time.NewTicker(s.wheel.Interval())
	defer ticker.Stop()

	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			for _, task := range s.wheel.Tick() {
				s.dispatch(task)
			}
		}
	}
}

func (s *Scheduler) dispatch(task *Task) {
	key := task.Target
	if key == "" {
		key = task.ID
	}

	ok := s.pool.Submit(key, func() {
		if err := task.Execute(s.execCtx); err != nil {
			s.logger.Error("Task failed",
				"taskId", task.ID,
				"target", task.Target,
				"error", err)
		}
	})
	if !ok {
		s.logger.Warn("Task dropped, scheduler stopping", "taskId", task.ID)
	}
}

// Stop 停止调度器；已到期排队的任务执行完毕，未到期的任务被丢弃
func (s *Scheduler) Stop() {
	s.runningMu.Lock()
	if !s.running {
		s.runningMu.Unlock()
		return
	}
	s.running = false
	s.runningMu.Unlock()

	s.cancel()
	s.wg.Wait()
	s.pool.Shutdown()
	s.execCancel()

	s.logger.Info("Task scheduler stopped", "discarded", s.wheel.GetTotalTaskCount())
}

// AddTask 添加任务
func (s *Scheduler) AddTask(task *Task) error {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()

	if !s.running {
		return ErrSchedulerNotRunning
	}
	if task == nil || task.ID == "" {
		return ErrInvalidTask
	}

	s.wheel.AddTask(task)
	return nil
}

// Schedule 延迟执行 fn
func (s *Scheduler) Schedule(id, target string, delay time.Duration, fn TaskFunc) error {
	return s.AddTask(NewTask(id, target, delay, fn))
}

// RemoveTask 删除任务
func (s *Scheduler) RemoveTask(taskID string) bool {
	return s.wheel.RemoveTask(taskID)
}

// IsRunning 检查调度器是否运行中
func (s *Scheduler) IsRunning() bool {
	s.runningMu.RLock()
	defer s.runningMu.RUnlock()

	return s.running
}

// GetStats 获取调度器统计信息
func (s *Scheduler) GetStats() map[string]any {
	return map[string]any{
		"running":        s.IsRunning(),
		"currentSlot":    s.wheel.GetCurrentSlot(),
		"totalTaskCount": s.wheel.GetTotalTaskCount(),
		"workerCount":    s.workerCount,
	}
}
