// Package types 定义 notifnet 的基础类型
//
// 这是整个系统的最底层包，不依赖任何其他 notifnet 内部包。
// 所有类型都是纯值类型，用于在各模块间传递数据。
package types

import (
	"bytes"
	"crypto/ed25519"
	"crypto/rand"

	"github.com/minio/sha256-simd"
	"github.com/mr-tron/base58"
)

// ============================================================================
//                              PeerID - 节点标识
// ============================================================================

// PeerID 节点唯一标识符
// 由 ed25519 公钥的 SHA256 哈希派生
//
// 外部表示格式：
//   - String(): Base58 编码（用户可读、可分享）
//   - ShortString(): Base58 前缀（日志简短标识）
type PeerID [32]byte

// EmptyPeerID 空节点ID
var EmptyPeerID PeerID

// String 返回 PeerID 的 Base58 字符串表示
//
// 这是 PeerID 的规范外部表示，用于地址中的 /p2p/<PeerID> 与配置文件。
func (id PeerID) String() string {
	if id.IsEmpty() {
		return ""
	}
	return base58.Encode(id[:])
}

// ShortString 返回 PeerID 的短字符串表示
//
// 格式：Base58 前 8 个字符，用于日志中的简短标识。
func (id PeerID) ShortString() string {
	s := id.String()
	if len(s) > 8 {
		return s[:8]
	}
	return s
}

// Bytes 返回 PeerID 的字节切片
func (id PeerID) Bytes() []byte {
	return id[:]
}

// IsEmpty 检查 PeerID 是否为空
func (id PeerID) IsEmpty() bool {
	return id == EmptyPeerID
}

// Less 按字节序比较，用于重复连接的确定性裁决
func (id PeerID) Less(other PeerID) bool {
	return bytes.Compare(id[:], other[:]) < 0
}

// MarshalText 实现 encoding.TextMarshaler
func (id PeerID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText 实现 encoding.TextUnmarshaler
func (id *PeerID) UnmarshalText(text []byte) error {
	parsed, err := ParsePeerID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// PeerIDFromBytes 从字节切片创建 PeerID
func PeerIDFromBytes(b []byte) (PeerID, error) {
	if len(b) != 32 {
		return EmptyPeerID, ErrInvalidPeerID
	}
	var id PeerID
	copy(id[:], b)
	return id, nil
}

// PeerIDFromPublicKey 从 ed25519 公钥派生 PeerID
func PeerIDFromPublicKey(pub ed25519.PublicKey) PeerID {
	return PeerID(sha256.Sum256(pub))
}

// ParsePeerID 从 Base58 字符串解析 PeerID
func ParsePeerID(s string) (PeerID, error) {
	if s == "" {
		return EmptyPeerID, ErrEmptyPeerID
	}
	b, err := base58.Decode(s)
	if err != nil {
		return EmptyPeerID, ErrInvalidPeerID
	}
	return PeerIDFromBytes(b)
}

// RandomPeerID 生成随机 PeerID（仅用于测试与占位）
func RandomPeerID() PeerID {
	var id PeerID
	_, _ = rand.Read(id[:])
	return id
}

// ============================================================================
//                              SetID - 协议集合标识
// ============================================================================

// SetID 协议集合索引
//
// 每个通知协议对应一个集合，索引为其在配置中的顺序。
type SetID int

// ============================================================================
//                              ProtocolName - 协议名
// ============================================================================

// ProtocolName 通知协议名
// 格式: /name/version，如 /dot/block-announces/1
type ProtocolName string

// String 返回协议名字符串
func (p ProtocolName) String() string {
	return string(p)
}
