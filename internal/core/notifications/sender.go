package notifications

import (
	"context"
	"fmt"
	"sync/atomic"

	"github.com/dep2p/go-notifnet/pkg/types"
)

// Sender 带背压的通知发送句柄
//
// 句柄绑定到创建时打开的那一次子流对；子流对关闭后它不会转移到新的子流。
type Sender struct {
	q *Queue
}

// NewSender 从队列索引创建发送句柄，子流对未打开时返回 ErrNoSuchPeerOrProtocol
func NewSender(table *QueueTable, peer types.PeerID, set types.SetID) (*Sender, error) {
	q := table.Get(peer, set)
	if q == nil {
		return nil, types.ErrNoSuchPeerOrProtocol
	}
	return &Sender{q: q}, nil
}

// Peer 返回远端节点
func (s *Sender) Peer() types.PeerID { return s.q.peer }

// Protocol 返回规范协议名
func (s *Sender) Protocol() types.ProtocolName { return s.q.protocol }

// IsClosed 子流对是否已关闭
func (s *Sender) IsClosed() bool { return s.q.IsClosed() }

// Ready 等待并独占一个队列槽位
//
// 返回的 Ready 必须调用一次 Send 或 Cancel。
func (s *Sender) Ready(ctx context.Context) (*Ready, error) {
	if s.q.IsClosed() {
		return nil, types.ErrSubstreamClosed
	}
	select {
	case s.q.slots <- struct{}{}:
		return &Ready{q: s.q}, nil
	case <-s.q.closed:
		return nil, types.ErrSubstreamClosed
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// Ready 已占用的槽位
type Ready struct {
	q    *Queue
	used atomic.Bool
}

// Send 使用槽位入队
//
// 负载超过协议上限时返回 ErrNotificationTooLarge 并释放槽位，子流状态不受影响。
func (r *Ready) Send(payload []byte) error {
	if !r.used.CompareAndSwap(false, true) {
		return types.ErrReadyConsumed
	}
	if uint64(len(payload)) > r.q.maxSize {
		r.q.release()
		return fmt.Errorf("%w: %d > %d", types.ErrNotificationTooLarge, len(payload), r.q.maxSize)
	}
	if r.q.IsClosed() {
		r.q.release()
		return types.ErrSubstreamClosed
	}
	r.q.pushReserved(payload)
	return nil
}

// Cancel 归还未使用的槽位
func (r *Ready) Cancel() {
	if r.used.CompareAndSwap(false, true) {
		r.q.release()
	}
}
