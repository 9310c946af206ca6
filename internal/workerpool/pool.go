package workerpool

import (
	"context"
	"hash/fnv"
	"log/slog"
	"sync"
)

// Task 定义任务函数类型
type Task func()

// Pool 按 key 分片的 Worker Pool
// 同一 key 的任务落在同一个 worker 上，按提交顺序执行
type Pool struct {
	shards []chan Task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	logger *slog.Logger
}

// New 创建 Worker Pool
// workers: worker 数量
// queueSize: 每个 worker 的任务队列大小
func New(workers int, queueSize int, logger *slog.Logger) *Pool {
	if workers <= 0 {
		workers = 1
	}
	if queueSize <= 0 {
		queueSize = 1
	}
	if logger == nil {
		logger = slog.Default()
	}

	ctx, cancel := context.WithCancel(context.Background())
	pool := &Pool{
		shards: make([]chan Task, workers),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	for i := range pool.shards {
		pool.shards[i] = make(chan Task, queueSize)
		pool.wg.Add(1)
		go pool.worker(i, pool.shards[i])
	}

	pool.logger.Info("Worker pool started",
		"workers", workers,
		"queue_size", queueSize)

	return pool
}

func (p *Pool) worker(id int, queue chan Task) {
	defer p.wg.Done()

	for {
		select {
		case <-p.ctx.Done():
			// 退出前执行完已入队的任务
			for {
				select {
				case task := <-queue:
					p.run(id, task)
				default:
					return
				}
			}
		case task := <-queue:
			p.run(id, task)
		}
	}
}

func (p *Pool) run(id int, task Task) {
	defer func() {
		if r := recover(); r != nil {
			p.logger.Error("Task panic recovered",
				"worker_id", id,
				"panic", r)
		}
	}()
	task()
}

func (p *Pool) shard(key string) chan Task {
	h := fnv.New32a()
	_, _ = h.Write([]byte(key))
	return p.shards[h.Sum32()%uint32(len(p.shards))]
}

// Submit 提交任务，队列满时阻塞直到有空位或 pool 关闭
func (p *Pool) Submit(key string, task Task) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}

	select {
	case <-p.ctx.Done():
		return false
	case p.shard(key) <- task:
		return true
	}
}

// TrySubmit 尝试提交任务，队列满时立即返回 false
func (p *Pool) TrySubmit(key string, task Task) bool {
	select {
	case <-p.ctx.Done():
		return false
	default:
	}

	select {
	case p.shard(key) <- task:
		return true
	default:
		return false
	}
}

// Shutdown 优雅关闭，已入队的任务执行完后返回
func (p *Pool) Shutdown() {
	p.once.Do(func() {
		p.cancel()
		p.wg.Wait()
		p.logger.Info("Worker pool shutdown completed")
	})
}
