package upgrader

import "errors"

var (
	// ErrNoPeerID 出站连接缺少目标 PeerID
	ErrNoPeerID = errors.New("upgrader: outbound connection requires remote peer ID")

	// ErrPeerIDMismatch 对端 PeerID 与拨号目标不一致
	ErrPeerIDMismatch = errors.New("upgrader: remote peer ID mismatch")

	// ErrSelfConnection 连接到了自己
	ErrSelfConnection = errors.New("upgrader: connected to self")

	// ErrHandshakeFailed 身份交换失败
	ErrHandshakeFailed = errors.New("upgrader: handshake failed")

	// ErrInvalidSignature 对端签名无效
	ErrInvalidSignature = errors.New("upgrader: invalid signature")

	// ErrNegotiationFailed 多路复用器协商失败
	ErrNegotiationFailed = errors.New("upgrader: muxer negotiation failed")
)
