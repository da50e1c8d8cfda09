// Package queue 贡献处理的准入队列，限制同时执行的任务数
package queue

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/crowdfundme/crowdfund-server/internal/logger"
	"github.com/crowdfundme/crowdfund-server/internal/metrics"
	"github.com/panjf2000/ants/v2"
)

// DefaultSize 默认并发上限
const DefaultSize = 2

// ErrClosed 队列已关闭
var ErrClosed = errors.New("admission queue closed")

// Task 在队列中执行的任务
type Task func(ctx context.Context) (any, error)

// Result 任务结果，每个任务只写入一次
type Result struct {
	Value any
	Err   error
}

// Queue 基于 ants 协程池的准入队列
type Queue struct {
	pool *ants.Pool
}

// New 创建大小为 size 的队列，提交超过并发上限时阻塞等待
func New(size int) (*Queue, error) {
	if size <= 0 {
		size = DefaultSize
	}
	pool, err := ants.NewPool(size,
		ants.WithNonblocking(false),
		ants.WithPanicHandler(func(p interface{}) {
			logger.Error("Admission queue worker panic: %v", p)
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create admission pool: %w", err)
	}
	logger.Info("Admission queue created (size: %d)", size)
	return &Queue{pool: pool}, nil
}

// Submit 提交任务并等待其完成
// 调用方在任务开始前取消时任务不会执行
func (q *Queue) Submit(ctx context.Context, task Task) (any, error) {
	if q.pool.IsClosed() {
		return nil, ErrClosed
	}

	slot := make(chan Result, 1)
	err := q.pool.Submit(func() {
		slot <- q.execute(ctx, task)
	})
	if err != nil {
		if errors.Is(err, ants.ErrPoolClosed) {
			return nil, ErrClosed
		}
		return nil, fmt.Errorf("failed to submit task: %w", err)
	}

	select {
	case res := <-slot:
		return res.Value, res.Err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (q *Queue) execute(ctx context.Context, task Task) (res Result) {
	if err := ctx.Err(); err != nil {
		return Result{Err: err}
	}

	metrics.QueueRunning.Inc()
	defer metrics.QueueRunning.Dec()

	defer func() {
		if p := recover(); p != nil {
			logger.Error("Admission task panic: %v", p)
			res = Result{Err: fmt.Errorf("task panic: %v", p)}
		}
	}()

	v, err := task(ctx)
	return Result{Value: v, Err: err}
}

// Run 提交任务并把结果转换为具体类型
func Run[T any](ctx context.Context, q *Queue, fn func(ctx context.Context) (T, error)) (T, error) {
	var zero T
	v, err := q.Submit(ctx, func(ctx context.Context) (any, error) {
		return fn(ctx)
	})
	if err != nil {
		return zero, err
	}
	out, ok := v.(T)
	if !ok {
		return zero, fmt.Errorf("unexpected task result type %T", v)
	}
	return out, nil
}

// Running 正在执行的任务数
func (q *Queue) Running() int {
	return q.pool.Running()
}

// Waiting 等待执行的任务数
func (q *Queue) Waiting() int {
	return q.pool.Waiting()
}

// Cap 并发上限
func (q *Queue) Cap() int {
	return q.pool.Cap()
}

// Shutdown 关闭队列，最多等待 timeout 让正在执行的任务结束
func (q *Queue) Shutdown(timeout time.Duration) error {
	if err := q.pool.ReleaseTimeout(timeout); err != nil {
		return fmt.Errorf("admission queue shutdown: %w", err)
	}
	logger.Info("Admission queue stopped")
	return nil
}
