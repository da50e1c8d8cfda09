// Package lock 提供按活动ID互斥的锁，进程内或基于 Redis
package lock

import (
	"context"
	"fmt"
	"sync"
)

// Locker 按 key 互斥
type Locker interface {
	// Lock 阻塞直到获得 key 的锁或 ctx 结束，返回的 unlock 只能调用一次
	Lock(ctx context.Context, key string) (unlock func(), err error)
}

// cntMutex 带等待者计数的互斥锁，用 channel 实现以便响应 ctx
type cntMutex struct {
	ch  chan struct{}
	cnt int
}

// Local 进程内的按 key 互斥锁
type Local struct {
	mutexes map[string]*cntMutex
	mapMtx  sync.Mutex
}

var _ Locker = (*Local)(nil)

// NewLocal 创建进程内锁
func NewLocal() *Local {
	return &Local{
		mutexes: make(map[string]*cntMutex),
	}
}

// Lock 获取 key 的锁
func (l *Local) Lock(ctx context.Context, key string) (func(), error) {
	l.mapMtx.Lock()
	mtx, ok := l.mutexes[key]
	if ok {
		mtx.cnt++
	} else {
		mtx = &cntMutex{ch: make(chan struct{}, 1), cnt: 1}
		l.mutexes[key] = mtx
	}
	l.mapMtx.Unlock()

	select {
	case mtx.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(key, mtx, false)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() { l.release(key, mtx, true) })
	}, nil
}

func (l *Local) release(key string, mtx *cntMutex, held bool) {
	l.mapMtx.Lock()
	cur, ok := l.mutexes[key]
	if !ok || cur != mtx {
		l.mapMtx.Unlock()
		panic(fmt.Sprintf("double unlock for key %v", key))
	}
	// 计数归零说明没有其他等待者，可以安全删除
	mtx.cnt--
	if mtx.cnt == 0 {
		delete(l.mutexes, key)
	}
	l.mapMtx.Unlock()

	if held {
		<-mtx.ch
	}
}

// Size 当前被持有或等待的 key 数量
func (l *Local) Size() int {
	l.mapMtx.Lock()
	defer l.mapMtx.Unlock()
	return len(l.mutexes)
}
