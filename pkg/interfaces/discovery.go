package interfaces

import "github.com/dep2p/go-notifnet/pkg/types"

// Discovery 定义外部发现源（如 DHT）
//
// 服务不解释事件内容，只把它们作为 DhtEvent 发布；
// 带有 Peer 与 Addrs 的事件会补充地址簿和候选节点。
type Discovery interface {
	// Events 返回事件通道，通道关闭表示发现源结束
	Events() <-chan types.DhtEvent
}
