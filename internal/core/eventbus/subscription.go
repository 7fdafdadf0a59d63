package eventbus

import (
	"context"
	"sync"

	"github.com/dep2p/go-notifnet/pkg/types"
)

// Subscription 一个事件订阅
//
// 事件按发射顺序从 Out() 投递；也可以用 Next 阻塞读取或 TryNext 非阻塞读取。
type Subscription struct {
	bus      *Bus
	name     string
	capacity int

	mu     sync.Mutex
	queue  []types.Event
	ended  bool
	err    error
	notify chan struct{}

	out       chan types.Event
	done      chan struct{}
	closeOnce sync.Once
}

func newSubscription(b *Bus, name string, capacity int) *Subscription {
	return &Subscription{
		bus:      b,
		name:     name,
		capacity: capacity,
		notify:   make(chan struct{}, 1),
		out:      make(chan types.Event),
		done:     make(chan struct{}),
	}
}

// Name 返回订阅名称
func (s *Subscription) Name() string {
	return s.name
}

// Out 返回事件通道，订阅结束时被关闭
func (s *Subscription) Out() <-chan types.Event {
	return s.out
}

// Next 阻塞读取下一个事件
func (s *Subscription) Next(ctx context.Context) (types.Event, error) {
	select {
	case ev, ok := <-s.out:
		if !ok {
			return nil, s.closedErr()
		}
		return ev, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// TryNext 非阻塞读取下一个事件
func (s *Subscription) TryNext() (types.Event, bool) {
	select {
	case ev, ok := <-s.out:
		return ev, ok
	default:
		return nil, false
	}
}

// Err 返回订阅被终止的原因，正常订阅返回 nil
func (s *Subscription) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

// Len 返回尚未投递的积压事件数
func (s *Subscription) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.queue)
}

// Close 取消订阅，未投递的事件被丢弃
func (s *Subscription) Close() error {
	s.bus.remove(s)
	s.terminate(nil)
	return nil
}

func (s *Subscription) closedErr() error {
	if err := s.Err(); err != nil {
		return err
	}
	return ErrClosed
}

// push 追加事件，积压已满时返回 false
func (s *Subscription) push(ev types.Event) bool {
	s.mu.Lock()
	if s.ended {
		s.mu.Unlock()
		return true
	}
	if len(s.queue) >= s.capacity {
		s.mu.Unlock()
		return false
	}
	s.queue = append(s.queue, ev)
	s.mu.Unlock()

	select {
	case s.notify <- struct{}{}:
	default:
	}
	return true
}

// end 不再接收新事件，积压投递完后关闭通道
func (s *Subscription) end() {
	s.mu.Lock()
	s.ended = true
	s.mu.Unlock()
	select {
	case s.notify <- struct{}{}:
	default:
	}
}

// terminate 立即结束订阅
func (s *Subscription) terminate(err error) {
	s.closeOnce.Do(func() {
		s.mu.Lock()
		s.ended = true
		s.err = err
		s.queue = nil
		s.mu.Unlock()
		close(s.done)
	})
}

func (s *Subscription) pump() {
	defer close(s.out)
	for {
		s.mu.Lock()
		if len(s.queue) == 0 {
			ended := s.ended
			s.mu.Unlock()
			if ended {
				return
			}
			select {
			case <-s.notify:
				continue
			case <-s.done:
				return
			}
		}
		ev := s.queue[0]
		s.queue[0] = nil
		s.queue = s.queue[1:]
		s.mu.Unlock()

		select {
		case s.out <- ev:
		case <-s.done:
			return
		}
	}
}
