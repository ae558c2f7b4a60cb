package eventloop

import (
	"context"
	"log/slog"
	"sync"
)

// Task 在事件循环上执行的任务
type Task func()

// Loop 单协程串行事件循环
// 推送回调、网络响应和定时器回调都投递到这里按序执行，任务之间不会并发
type Loop struct {
	queue  chan Task
	wg     sync.WaitGroup
	ctx    context.Context
	cancel context.CancelFunc
	once   sync.Once
	logger *slog.Logger
}

// New 创建并启动事件循环
// queueSize: 任务队列大小
func New(queueSize int, logger *slog.Logger) *Loop {
	if queueSize <= 0 {
		queueSize = 1024
	}
	if logger == nil {
		logger = slog.Default()
	}
	ctx, cancel := context.WithCancel(context.Background())

	l := &Loop{
		queue:  make(chan Task, queueSize),
		ctx:    ctx,
		cancel: cancel,
		logger: logger,
	}

	l.wg.Add(1)
	go l.run()

	l.logger.Debug("Event loop started", "queue_size", queueSize)
	return l
}

// run 工作协程
func (l *Loop) run() {
	defer l.wg.Done()

	for {
		select {
		case <-l.ctx.Done():
			// 退出前执行完已入队的任务
			for {
				select {
				case task := <-l.queue:
					l.execute(task)
				default:
					return
				}
			}
		case task := <-l.queue:
			l.execute(task)
		}
	}
}

// execute 执行任务，捕获 panic
func (l *Loop) execute(task Task) {
	defer func() {
		if r := recover(); r != nil {
			l.logger.Error("Event loop task panic recovered", "panic", r)
		}
	}()
	task()
}

// Post 投递任务，队列满时阻塞，循环已关闭返回 false
func (l *Loop) Post(task Task) bool {
	select {
	case <-l.ctx.Done():
		return false
	default:
	}

	select {
	case <-l.ctx.Done():
		return false
	case l.queue <- task:
		return true
	}
}

// TryPost 尝试投递任务，队列满时立即返回 false
func (l *Loop) TryPost(task Task) bool {
	select {
	case <-l.ctx.Done():
		return false
	default:
	}

	select {
	case l.queue <- task:
		return true
	default:
		return false
	}
}

// Call 投递任务并等待其执行完成
func (l *Loop) Call(ctx context.Context, task Task) error {
	done := make(chan struct{})
	if !l.Post(func() {
		defer close(done)
		task()
	}) {
		return context.Canceled
	}

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pending 队列中待执行的任务数（用于监控）
func (l *Loop) Pending() int {
	return len(l.queue)
}

// Shutdown 关闭事件循环，执行完已入队任务后返回
func (l *Loop) Shutdown() {
	l.once.Do(func() {
		l.cancel()
		l.wg.Wait()
		l.logger.Debug("Event loop stopped")
	})
}
