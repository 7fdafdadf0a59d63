package peerset

import (
	"fmt"
	"sync"

	"github.com/dep2p/go-notifnet/pkg/types"
)

// ActionKind 动作类型
type ActionKind int

const (
	// ActionConnect 为 (set, peer) 打开子流对，槽位已分配
	ActionConnect ActionKind = iota
	// ActionDrop 关闭 (set, peer) 子流对
	ActionDrop
)

// String 返回动作类型字符串
func (k ActionKind) String() string {
	if k == ActionDrop {
		return "drop"
	}
	return "connect"
}

// Action 交给 swarm 执行的动作
type Action struct {
	Kind ActionKind
	Set  types.SetID
	Peer types.PeerID
}

func (a Action) String() string {
	return fmt.Sprintf("%s(%d, %s)", a.Kind, a.Set, a.Peer.ShortString())
}

// outbox 无界动作队列，保证管理器 goroutine 从不阻塞在消费方上
type outbox struct {
	mu     sync.Mutex
	items  []Action
	signal chan struct{}
	out    chan Action
}

func newOutbox() *outbox {
	return &outbox{
		signal: make(chan struct{}, 1),
		out:    make(chan Action),
	}
}

func (o *outbox) push(a Action) {
	o.mu.Lock()
	o.items = append(o.items, a)
	o.mu.Unlock()
	select {
	case o.signal <- struct{}{}:
	default:
	}
}

func (o *outbox) pop() (Action, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if len(o.items) == 0 {
		return Action{}, false
	}
	a := o.items[0]
	o.items = o.items[1:]
	return a, true
}

// pump 按序投递动作直到 done 关闭
func (o *outbox) pump(done <-chan struct{}) {
	for {
		a, ok := o.pop()
		if !ok {
			select {
			case <-o.signal:
				continue
			case <-done:
				return
			}
		}
		select {
		case o.out <- a:
		case <-done:
			return
		}
	}
}
