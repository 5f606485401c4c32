package collector

import (
	"context"
	"sync"

	"golang.org/x/sync/semaphore"
)

// sensorLocks 按传感器ID加锁，保证同一传感器的写入串行
// 每把锁是权重为 1 的 semaphore，等待可以被 ctx 取消
type sensorLocks struct {
	mu    sync.Mutex
	locks map[string]*sensorLock
}

type sensorLock struct {
	sem  *semaphore.Weighted
	refs int
}

func newSensorLocks() *sensorLocks {
	return &sensorLocks{locks: make(map[string]*sensorLock)}
}

// Lock 获取传感器锁，返回解锁函数
func (l *sensorLocks) Lock(ctx context.Context, sensorID string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[sensorID]
	if !ok {
		lock = &sensorLock{sem: semaphore.NewWeighted(1)}
		l.locks[sensorID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	if err := lock.sem.Acquire(ctx, 1); err != nil {
		l.release(sensorID, lock)
		return nil, err
	}

	return func() {
		lock.sem.Release(1)
		l.release(sensorID, lock)
	}, nil
}

// release 最后一个持有者离开时删除条目，map 不随历史传感器增长
func (l *sensorLocks) release(sensorID string, lock *sensorLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, sensorID)
	}
}

func (l *sensorLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
