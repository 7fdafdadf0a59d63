// Package interfaces 定义 notifnet 公共接口
//
// 本文件定义 Transport 接口，抽象底层传输协议。
package interfaces

import (
	"context"
	"net"

	"github.com/dep2p/go-notifnet/pkg/types"
)

// Transport 定义传输层接口
//
// Transport 抽象不同的传输（内存、TCP），只负责建立原始字节流连接；
// 身份交换与多路复用在 upgrader 中完成。
type Transport interface {
	// Dial 拨号连接到指定地址
	Dial(ctx context.Context, raddr types.Multiaddr) (net.Conn, error)

	// CanDial 检查是否支持拨号到指定地址
	CanDial(addr types.Multiaddr) bool

	// Listen 在指定地址监听
	Listen(laddr types.Multiaddr) (Listener, error)

	// Close 关闭传输
	Close() error
}

// Listener 定义监听器接口
type Listener interface {
	// Accept 接受新连接
	Accept() (net.Conn, error)

	// Close 关闭监听器
	Close() error

	// Multiaddr 返回实际监听的多地址
	Multiaddr() types.Multiaddr
}
