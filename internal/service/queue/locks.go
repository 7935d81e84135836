package queue

import (
	"context"
	"sync"
)

// shopLocks — набор мьютексов по shopID. Записи удаляются, когда их никто не ждёт.
type shopLocks struct {
	mu    sync.Mutex
	locks map[string]*shopLock
}

type shopLock struct {
	ch   chan struct{}
	refs int
}

func newShopLocks() *shopLocks {
	return &shopLocks{locks: make(map[string]*shopLock)}
}

// acquire блокирует очередь кофейни; ожидание прерывается отменой ctx.
func (l *shopLocks) acquire(ctx context.Context, shopID string) (func(), error) {
	l.mu.Lock()
	lock, ok := l.locks[shopID]
	if !ok {
		lock = &shopLock{ch: make(chan struct{}, 1)}
		l.locks[shopID] = lock
	}
	lock.refs++
	l.mu.Unlock()

	select {
	case lock.ch <- struct{}{}:
	case <-ctx.Done():
		l.release(shopID, lock)
		return nil, ctx.Err()
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-lock.ch
			l.release(shopID, lock)
		})
	}, nil
}

func (l *shopLocks) release(shopID string, lock *shopLock) {
	l.mu.Lock()
	defer l.mu.Unlock()

	lock.refs--
	if lock.refs == 0 {
		delete(l.locks, shopID)
	}
}

func (l *shopLocks) size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}
