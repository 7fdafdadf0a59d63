package notifications

import "sync"

// mailbox 无界消息队列
//
// post 从不阻塞；关闭后 post 返回 false，消息由调用方自行处理。
type mailbox struct {
	mu     sync.Mutex
	items  []any
	closed bool
	signal chan struct{}
}

func newMailbox() *mailbox {
	return &mailbox{signal: make(chan struct{}, 1)}
}

func (m *mailbox) post(msg any) bool {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return false
	}
	m.items = append(m.items, msg)
	m.mu.Unlock()

	select {
	case m.signal <- struct{}{}:
	default:
	}
	return true
}

func (m *mailbox) drain() []any {
	m.mu.Lock()
	items := m.items
	m.items = nil
	m.mu.Unlock()
	return items
}

// close 关闭邮箱并返回剩余消息
func (m *mailbox) close() []any {
	m.mu.Lock()
	m.closed = true
	items := m.items
	m.items = nil
	m.mu.Unlock()
	return items
}
