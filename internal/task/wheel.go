package task

import (
	"sync"
	"time"
)

// TimeWheel 时间轮
// 每个 tick 推进一个槽位，延迟按 tick 向上取整，至少一个 tick
type TimeWheel struct {
	slots       []*Slot
	tick        time.Duration
	currentSlot int
	slotMu      sync.RWMutex
	index       sync.Map // taskID -> slot index
}

// NewTimeWheel 创建时间轮
func NewTimeWheel(tick time.Duration, slotCount int) *TimeWheel {
	if tick <= 0 {
		tick = 100 * time.Millisecond
	}
	if slotCount <= 0 {
		slotCount = 600
	}

	tw := &TimeWheel{
		slots: make([]*Slot, slotCount),
		tick:  tick,
	}
	for i := range tw.slots {
		tw.slots[i] = NewSlot()
	}
	return tw
}

// ticksFor 计算延迟对应的 tick 数
func (tw *TimeWheel) ticksFor(delay time.Duration) int {
	ticks := int((delay + tw.tick - 1) / tw.tick)
	if ticks < 1 {
		ticks = 1
	}
	return ticks
}

// AddTask 添加任务到时间轮，同 ID 的旧任务被替换
func (tw *TimeWheel) AddTask(task *Task) {
	tw.RemoveTask(task.ID)

	ticks := tw.ticksFor(task.Delay)
	slotCount := len(tw.slots)

	// 读锁覆盖到入槽完成，Tick 不会在计算目标槽位与入槽之间推进
	tw.slotMu.RLock()
	defer tw.slotMu.RUnlock()

	target := (tw.currentSlot + ticks) % slotCount
	// 正好一圈的延迟落在当前槽位之后一整圈，圈数不额外加一
	task.rounds = (ticks - 1) / slotCount

	tw.index.Store(task.ID, target)
	tw.slots[target].AddTask(task)
}

// RemoveTask 从时间轮删除任务
func (tw *TimeWheel) RemoveTask(taskID string) bool {
	v, ok := tw.index.LoadAndDelete(taskID)
	if !ok {
		return false
	}
	return tw.slots[v.(int)].RemoveTask(taskID)
}

// Tick 推进时间轮，返回到期任务
func (tw *TimeWheel) Tick() []*Task {
	tw.slotMu.Lock()
	tw.currentSlot = (tw.currentSlot + 1) % len(tw.slots)
	current := tw.currentSlot
	due := tw.slots[current].CollectDue()
	tw.slotMu.Unlock()

	for _, task := range due {
		tw.index.CompareAndDelete(task.ID, current)
	}
	return due
}

// Interval 时间轮精度
func (tw *TimeWheel) Interval() time.Duration {
	return tw.tick
}

// GetCurrentSlot 获取当前槽位索引
func (tw *TimeWheel) GetCurrentSlot() int {
	tw.slotMu.RLock()
	defer tw.slotMu.RUnlock()

	return tw.currentSlot
}

// GetTotalTaskCount 获取所有槽位的任务总数
func (tw *TimeWheel) GetTotalTaskCount() int {
	total := 0
	for _, slot := range tw.slots {
		total += slot.Count()
	}
	return total
}
