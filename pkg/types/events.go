package types

// ============================================================================
//                              Event - 服务事件
// ============================================================================

// EventKind 事件类型
type EventKind int

const (
	// KindStreamOpened 子流对进入 Open
	KindStreamOpened EventKind = iota
	// KindStreamClosed 子流对由 Closing 进入 Closed
	KindStreamClosed
	// KindNotificationsReceived 收到通知
	KindNotificationsReceived
	// KindDht DHT 事件透传
	KindDht
)

// String 返回事件类型字符串
func (k EventKind) String() string {
	switch k {
	case KindStreamOpened:
		return "stream-opened"
	case KindStreamClosed:
		return "stream-closed"
	case KindNotificationsReceived:
		return "notifications-received"
	case KindDht:
		return "dht"
	default:
		return "unknown"
	}
}

// Event 上层可观察的服务事件
//
// 具体类型为 StreamOpened、StreamClosed、NotificationsReceived、DhtEvent。
type Event interface {
	Kind() EventKind
}

// StreamOpened 子流对已打开
type StreamOpened struct {
	// Remote 远端节点
	Remote PeerID
	// Protocol 本地规范协议名
	Protocol ProtocolName
	// NegotiatedFallback 本端出站子流协商到的回退名；为空表示协商到规范名
	NegotiatedFallback ProtocolName
	// ReceivedHandshake 远端握手内容
	ReceivedHandshake []byte
}

// Kind 实现 Event
func (StreamOpened) Kind() EventKind { return KindStreamOpened }

// HasFallback 是否协商到了回退名
func (e StreamOpened) HasFallback() bool { return e.NegotiatedFallback != "" }

// StreamClosed 子流对已关闭
type StreamClosed struct {
	Remote   PeerID
	Protocol ProtocolName
}

// Kind 实现 Event
func (StreamClosed) Kind() EventKind { return KindStreamClosed }

// Notification 单条通知
type Notification struct {
	Protocol ProtocolName
	Payload  []byte
}

// NotificationsReceived 收到一批通知
type NotificationsReceived struct {
	Remote   PeerID
	Messages []Notification
}

// Kind 实现 Event
func (NotificationsReceived) Kind() EventKind { return KindNotificationsReceived }

// DhtEvent DHT 事件，不透明透传
type DhtEvent struct {
	// Payload 原始事件内容
	Payload any
	// Peer 可选：事件涉及的节点
	Peer PeerID
	// Addrs 可选：发现的地址
	Addrs []Multiaddr
}

// Kind 实现 Event
func (DhtEvent) Kind() EventKind { return KindDht }
