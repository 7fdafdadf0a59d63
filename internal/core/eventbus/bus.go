// Package eventbus 实现服务事件总线
//
// 每个订阅者拥有独立的有序积压队列和投递 goroutine。Emit 在同一把锁下
// 把事件追加到所有订阅者的队列，因此所有订阅者看到同一个全序；
// 慢订阅者只会让自己的队列变长，积压超过上限时该订阅被终止，
// 不影响其他订阅者和发射方。
package eventbus

import (
	"errors"
	"sync"

	"github.com/dep2p/go-notifnet/internal/util/logger"
	"github.com/dep2p/go-notifnet/pkg/types"
)

var log = logger.Logger("eventbus")

var (
	// ErrClosed 事件总线或订阅已关闭
	ErrClosed = errors.New("eventbus closed")
	// ErrSubscriberOverflow 订阅者积压超过上限，订阅被终止
	ErrSubscriberOverflow = errors.New("subscriber backlog overflow")
)

// DefaultBacklog 默认每订阅者积压上限
const DefaultBacklog = 1 << 16

// Bus 事件总线
type Bus struct {
	mu     sync.Mutex
	subs   map[*Subscription]struct{}
	closed bool

	backlog    int
	onOverflow func(name string)
}

// Option 总线选项
type Option func(*Bus)

// WithBacklog 设置每订阅者积压上限
func WithBacklog(n int) Option {
	return func(b *Bus) {
		if n > 0 {
			b.backlog = n
		}
	}
}

// WithOverflowHook 订阅因积压被终止时回调（用于指标）
func WithOverflowHook(fn func(name string)) Option {
	return func(b *Bus) { b.onOverflow = fn }
}

// NewBus 创建事件总线
func NewBus(opts ...Option) *Bus {
	b := &Bus{
		subs:    make(map[*Subscription]struct{}),
		backlog: DefaultBacklog,
	}
	for _, opt := range opts {
		opt(b)
	}
	return b
}

// Subscribe 创建新订阅，只接收订阅之后发射的事件
func (b *Bus) Subscribe(name string) (*Subscription, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return nil, ErrClosed
	}
	s := newSubscription(b, name, b.backlog)
	b.subs[s] = struct{}{}
	go s.pump()
	return s, nil
}

// Emit 向所有订阅者发射事件，从不阻塞在订阅者上
func (b *Bus) Emit(ev types.Event) {
	var overflowed []*Subscription

	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return
	}
	for s := range b.subs {
		if !s.push(ev) {
			delete(b.subs, s)
			overflowed = append(overflowed, s)
		}
	}
	b.mu.Unlock()

	for _, s := range overflowed {
		log.Warn("subscriber terminated: backlog overflow", "name", s.name, "backlog", s.capacity)
		s.terminate(ErrSubscriberOverflow)
		if b.onOverflow != nil {
			b.onOverflow(s.name)
		}
	}
}

// NumSubscribers 返回当前订阅者数量
func (b *Bus) NumSubscribers() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.subs)
}

// Close 关闭总线
//
// 已积压的事件仍会投递给订阅者，随后各订阅的通道被关闭。
func (b *Bus) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	subs := b.subs
	b.subs = make(map[*Subscription]struct{})
	b.mu.Unlock()

	for s := range subs {
		s.end()
	}
	return nil
}

func (b *Bus) remove(s *Subscription) {
	b.mu.Lock()
	delete(b.subs, s)
	b.mu.Unlock()
}
