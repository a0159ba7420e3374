package worker

import (
	"context"
	"log/slog"
	"runtime"
	"runtime/debug"
	"sync"
	"sync/atomic"
)

// Task 异步任务
type Task func()

// Stats 协程池统计
type Stats struct {
	WorkerCount int    `json:"worker_count"`
	QueueLen    int    `json:"queue_len"`
	QueueCap    int    `json:"queue_cap"`
	Running     int64  `json:"running"`
	Submitted   uint64 `json:"submitted"`
	Executed    uint64 `json:"executed"`
	Failed      uint64 `json:"failed"`
	Dropped     uint64 `json:"dropped"`
}

// Pool 固定大小的协程池, 提交不阻塞, 队列满时丢弃
type Pool struct {
	workers int
	queue   chan Task
	wg      sync.WaitGroup
	mu      sync.RWMutex
	closed  bool
	logger  *slog.Logger

	running   atomic.Int64
	submitted atomic.Uint64
	executed  atomic.Uint64
	failed    atomic.Uint64
	dropped   atomic.Uint64
}

// NewPool 创建并启动协程池
func NewPool(workers, queueSize int) *Pool {
	if workers <= 0 {
		workers = runtime.NumCPU() * 2
	}
	if queueSize <= 0 {
		queueSize = 1000
	}

	p := &Pool{
		workers: workers,
		queue:   make(chan Task, queueSize),
		logger:  slog.Default().With("component", "WorkerPool"),
	}

	for i := 0; i < workers; i++ {
		p.wg.Add(1)
		go p.worker()
	}

	p.logger.Info("worker pool started", "workers", workers, "queue_size", queueSize)
	return p
}

// Submit 提交任务 (非阻塞, 队列满或已停止时返回 false)
func (p *Pool) Submit(task Task) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if p.closed {
		return false
	}

	select {
	case p.queue <- task:
		p.submitted.Add(1)
		return true
	default:
		p.dropped.Add(1)
		p.logger.Warn("worker pool queue is full, task dropped", "queue_cap", cap(p.queue))
		return false
	}
}

// Stop 停止接收新任务, 等待队列中的任务执行完毕
func (p *Pool) Stop() {
	if !p.close() {
		return
	}
	p.wg.Wait()
	p.logger.Info("worker pool stopped")
}

// StopContext 同 Stop, ctx 结束时不再等待剩余任务
func (p *Pool) StopContext(ctx context.Context) error {
	if !p.close() {
		return nil
	}

	done := make(chan struct{})
	go func() {
		p.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		p.logger.Info("worker pool stopped")
		return nil
	case <-ctx.Done():
		p.logger.Warn("worker pool stop timed out", "pending", len(p.queue), "running", p.running.Load())
		return ctx.Err()
	}
}

func (p *Pool) close() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return false
	}
	p.closed = true
	close(p.queue)
	return true
}

// Stats 返回统计信息
func (p *Pool) Stats() Stats {
	return Stats{
		WorkerCount: p.workers,
		QueueLen:    len(p.queue),
		QueueCap:    cap(p.queue),
		Running:     p.running.Load(),
		Submitted:   p.submitted.Load(),
		Executed:    p.executed.Load(),
		Failed:      p.failed.Load(),
		Dropped:     p.dropped.Load(),
	}
}

// worker 工作协程, 队列关闭且取空后退出
func (p *Pool) worker() {
	defer p.wg.Done()

	for task := range p.queue {
		if task == nil {
			continue
		}
		p.execute(task)
	}
}

// execute 执行任务并捕获 panic
func (p *Pool) execute(task Task) {
	p.running.Add(1)
	defer func() {
		if r := recover(); r != nil {
			p.failed.Add(1)
			p.logger.Error("panic recovered in task", "panic", r, "stack", string(debug.Stack()))
		}
		p.executed.Add(1)
		p.running.Add(-1)
	}()
	task()
}
