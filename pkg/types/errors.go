package types

import "errors"

// ============================================================================
//                              ID 相关错误
// ============================================================================

var (
	// ErrEmptyPeerID 空节点 ID
	ErrEmptyPeerID = errors.New("empty peer ID")

	// ErrInvalidPeerID 无效的节点 ID
	ErrInvalidPeerID = errors.New("invalid peer ID: must be base58 of 32 bytes")

	// ErrEmptyProtocolName 空协议名
	ErrEmptyProtocolName = errors.New("empty protocol name")
)

// ============================================================================
//                              地址相关错误
// ============================================================================

var (
	// ErrInvalidMultiaddr 无效的多地址
	ErrInvalidMultiaddr = errors.New("invalid multiaddr")

	// ErrMissingPeerID 地址缺少 /p2p/<peer-id> 后缀
	ErrMissingPeerID = errors.New("multiaddr is missing /p2p/<peer-id>")
)

// ============================================================================
//                              通知相关错误
// ============================================================================

var (
	// ErrNoSuchPeerOrProtocol 该节点在该协议上没有处于 Open 状态的子流
	ErrNoSuchPeerOrProtocol = errors.New("no such peer or protocol")

	// ErrNotificationTooLarge 通知超过协议的最大尺寸
	ErrNotificationTooLarge = errors.New("notification too large")

	// ErrSubstreamClosed 子流已关闭
	ErrSubstreamClosed = errors.New("substream closed")

	// ErrReadyConsumed 预留的发送槽位已被使用或取消
	ErrReadyConsumed = errors.New("ready slot already consumed")
)

// ============================================================================
//                              服务相关错误
// ============================================================================

var (
	// ErrServiceClosed 服务已关闭
	ErrServiceClosed = errors.New("service closed")

	// ErrServiceNotStarted 服务未启动
	ErrServiceNotStarted = errors.New("service not started")

	// ErrUnknownProtocol 协议未在配置中注册
	ErrUnknownProtocol = errors.New("unknown protocol")
)
