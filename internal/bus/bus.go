// Package bus 进程内的通知发布/订阅。
package bus

import (
	"sync"

	"goldlens/pkg/model"
)

// Handler 订阅回调，应尽快返回
type Handler func(model.Notification)

// Bus 按订阅顺序同步分发通知
type Bus struct {
	mu       sync.RWMutex
	handlers map[int]Handler
	order    []int
	next     int
}

func New() *Bus {
	return &Bus{handlers: make(map[int]Handler)}
}

// Subscribe 注册回调，返回取消函数
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.next
	b.next++
	b.handlers[id] = h
	b.order = append(b.order, id)
	b.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			b.mu.Lock()
			defer b.mu.Unlock()
			delete(b.handlers, id)
			for i, v := range b.order {
				if v == id {
					b.order = append(b.order[:i], b.order[i+1:]...)
					break
				}
			}
		})
	}
}

// Publish 分发给当前全部订阅者
func (b *Bus) Publish(n model.Notification) {
	b.mu.RLock()
	hs := make([]Handler, 0, len(b.order))
	for _, id := range b.order {
		hs = append(hs, b.handlers[id])
	}
	b.mu.RUnlock()

	for _, h := range hs {
		h(n)
	}
}

// Len 返回订阅者数量
func (b *Bus) Len() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.order)
}
