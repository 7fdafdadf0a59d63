// Package notifications 实现通知子流对的状态机与出站通知队列
//
// 每个对端连接由一个 Handler goroutine 拥有，它串行地驱动该连接上所有
// (peer, protocol) 子流对的状态；协商、握手、读、写都在辅助 goroutine 中
// 进行，结果只以消息形式回到 Handler。
//
// 子流对打开后，其 Queue 被发布到 QueueTable，WriteNotification 与
// NotificationSender 通过它投递出站通知。
package notifications

import (
	"sync"

	"github.com/dep2p/go-notifnet/internal/core/metrics"
	"github.com/dep2p/go-notifnet/internal/util/logger"
	"github.com/dep2p/go-notifnet/pkg/types"
)

var log = logger.Logger("notifications")

// Queue 一个打开的出站子流的有界 FIFO 通知队列
//
// slots 是容量为 N 的信号量：入队前必须先占用一个槽位，写任务把帧写入
// 子流之后才释放它，因此队列长度与在途帧之和永远不超过 N。
type Queue struct {
	peer     types.PeerID
	set      types.SetID
	protocol types.ProtocolName
	maxSize  uint64

	frames chan []byte
	slots  chan struct{}

	closed    chan struct{}
	closeOnce sync.Once

	metrics *metrics.Metrics
}

func newQueue(peer types.PeerID, set types.SetID, protocol types.ProtocolName, maxSize uint64, capacity int, m *metrics.Metrics) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	return &Queue{
		peer:     peer,
		set:      set,
		protocol: protocol,
		maxSize:  maxSize,
		frames:   make(chan []byte, capacity),
		slots:    make(chan struct{}, capacity),
		closed:   make(chan struct{}),
		metrics:  m,
	}
}

// Peer 返回远端节点
func (q *Queue) Peer() types.PeerID { return q.peer }

// Set 返回协议集合
func (q *Queue) Set() types.SetID { return q.set }

// Protocol 返回规范协议名
func (q *Queue) Protocol() types.ProtocolName { return q.protocol }

// Cap 返回队列容量
func (q *Queue) Cap() int { return cap(q.slots) }

// Len 返回已占用的槽位数（排队中与正在写出的帧）
func (q *Queue) Len() int { return len(q.slots) }

// IsClosed 子流对是否已离开 Open
func (q *Queue) IsClosed() bool {
	select {
	case <-q.closed:
		return true
	default:
		return false
	}
}

// TryPush 尽力入队，队列已关闭、已满或负载过大时静默丢弃
func (q *Queue) TryPush(payload []byte) bool {
	if q.IsClosed() {
		q.drop(metrics.ReasonNotOpen, len(payload))
		return false
	}
	if uint64(len(payload)) > q.maxSize {
		q.drop(metrics.ReasonTooLarge, len(payload))
		return false
	}
	select {
	case q.slots <- struct{}{}:
	default:
		q.drop(metrics.ReasonQueueFull, len(payload))
		return false
	}
	q.frames <- payload
	return true
}

func (q *Queue) drop(reason string, size int) {
	q.metrics.NotificationDropped(string(q.protocol), reason)
	log.Debug("notification dropped",
		"peer", q.peer.ShortString(),
		"protocol", q.protocol,
		"reason", reason,
		"size", size)
}

// pushReserved 使用已占用的槽位入队，不会阻塞
func (q *Queue) pushReserved(payload []byte) {
	q.frames <- payload
}

// release 释放一个槽位
func (q *Queue) release() {
	select {
	case <-q.slots:
	default:
	}
}

// Close 关闭队列，唤醒所有等待槽位的发送方
func (q *Queue) Close() {
	q.closeOnce.Do(func() { close(q.closed) })
}

// ============================================================================
//                              QueueTable
// ============================================================================

type queueKey struct {
	peer types.PeerID
	set  types.SetID
}

// QueueTable 已打开子流对的队列索引
//
// 只有处于 Open 的子流对会出现在表中；由各 Handler 发布和撤销。
type QueueTable struct {
	mu     sync.RWMutex
	queues map[queueKey]*Queue
}

// NewQueueTable 创建队列索引
func NewQueueTable() *QueueTable {
	return &QueueTable{queues: make(map[queueKey]*Queue)}
}

// Get 返回 (peer, set) 的队列，子流对未打开时返回 nil
func (t *QueueTable) Get(peer types.PeerID, set types.SetID) *Queue {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.queues[queueKey{peer, set}]
}

// OpenPeers 返回集合中已打开子流对的所有节点
func (t *QueueTable) OpenPeers(set types.SetID) []types.PeerID {
	t.mu.RLock()
	defer t.mu.RUnlock()
	var peers []types.PeerID
	for k := range t.queues {
		if k.set == set {
			peers = append(peers, k.peer)
		}
	}
	return peers
}

// Len 返回已打开的子流对数量
func (t *QueueTable) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return len(t.queues)
}

func (t *QueueTable) publish(q *Queue) {
	t.mu.Lock()
	t.queues[queueKey{q.peer, q.set}] = q
	t.mu.Unlock()
}

// remove 只移除 q 本身，不影响同一键上更新的队列
func (t *QueueTable) remove(q *Queue) {
	t.mu.Lock()
	k := queueKey{q.peer, q.set}
	if t.queues[k] == q {
		delete(t.queues, k)
	}
	t.mu.Unlock()
}
