package types

// ============================================================================
//                              Direction - 方向
// ============================================================================

// Direction 子流或连接的方向
type Direction int

const (
	// DirInbound 入站（远端发起）
	DirInbound Direction = iota
	// DirOutbound 出站（本地发起）
	DirOutbound
)

// String 返回方向字符串
func (d Direction) String() string {
	switch d {
	case DirInbound:
		return "inbound"
	case DirOutbound:
		return "outbound"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              SubstreamState - 子流状态
// ============================================================================

// SubstreamState 一个 (peer, protocol) 子流对的状态
//
// 状态转换：
//
//	Closed → Opening → Open → Closing → Closed
//	         Opening → Closed（失败、超时、拒绝）
type SubstreamState int

const (
	// StateClosed 无子流
	StateClosed SubstreamState = iota
	// StateOpening 协商与握手进行中
	StateOpening
	// StateOpen 双向子流均已建立
	StateOpen
	// StateClosing 正在等待读写任务退出
	StateClosing
)

// String 返回状态字符串
func (s SubstreamState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpening:
		return "opening"
	case StateOpen:
		return "open"
	case StateClosing:
		return "closing"
	default:
		return "unknown"
	}
}

// ============================================================================
//                              SlotKind - 槽位类型
// ============================================================================

// SlotKind 节点在集合中的槽位类型
type SlotKind int

const (
	// SlotRegular 普通槽位，计入 in_peers/out_peers
	SlotRegular SlotKind = iota
	// SlotReserved 保留节点，不计入容量
	SlotReserved
)

// String 返回槽位类型字符串
func (k SlotKind) String() string {
	if k == SlotReserved {
		return "reserved"
	}
	return "regular"
}

// ============================================================================
//                              DropReason - 释放原因
// ============================================================================

// DropReason 子流对离开 Opening/Open 状态的原因
type DropReason int

const (
	// DropLocalDisconnect 本地调用 DisconnectPeer
	DropLocalDisconnect DropReason = iota
	// DropRemoteClosed 远端关闭子流
	DropRemoteClosed
	// DropRefused 远端拒绝或协商失败
	DropRefused
	// DropTimeout 握手超时
	DropTimeout
	// DropProtocolViolation 远端违反协议（如超长帧）
	DropProtocolViolation
	// DropConnectionClosed 底层连接断开
	DropConnectionClosed
	// DropDialFailure 拨号失败
	DropDialFailure
)

// String 返回原因字符串
func (r DropReason) String() string {
	switch r {
	case DropLocalDisconnect:
		return "local-disconnect"
	case DropRemoteClosed:
		return "remote-closed"
	case DropRefused:
		return "refused"
	case DropTimeout:
		return "timeout"
	case DropProtocolViolation:
		return "protocol-violation"
	case DropConnectionClosed:
		return "connection-closed"
	case DropDialFailure:
		return "dial-failure"
	default:
		return "unknown"
	}
}
