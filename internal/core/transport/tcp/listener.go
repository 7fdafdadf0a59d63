package tcp

import (
	"context"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/dep2p/go-notifnet/pkg/types"
)

// Listener TCP 监听器
type Listener struct {
	transport *Transport
	listener  *net.TCPListener
	addr      types.Multiaddr
	closed    atomic.Bool
}

func newListener(t *Transport, laddr types.Multiaddr) (*Listener, error) {
	hostPort, err := laddr.WithoutPeerID().HostPort()
	if err != nil {
		return nil, fmt.Errorf("无效的 TCP 地址: %w", err)
	}

	var lc net.ListenConfig
	l, err := lc.Listen(context.Background(), "tcp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("监听失败: %w", err)
	}
	tcpListener, ok := l.(*net.TCPListener)
	if !ok {
		_ = l.Close()
		return nil, fmt.Errorf("不是 TCP 监听器")
	}

	// 端口可能为 0，使用实际监听地址
	return &Listener{
		transport: t,
		listener:  tcpListener,
		addr:      types.MultiaddrFromTCPAddr(tcpListener.Addr().(*net.TCPAddr)),
	}, nil
}

// Accept 接受连接
func (l *Listener) Accept() (net.Conn, error) {
	conn, err := l.listener.AcceptTCP()
	if err != nil {
		return nil, err
	}
	_ = conn.SetNoDelay(true)
	_ = conn.SetKeepAlive(true)
	return conn, nil
}

// Multiaddr 返回实际监听地址
func (l *Listener) Multiaddr() types.Multiaddr {
	return l.addr
}

// Close 关闭监听器
func (l *Listener) Close() error {
	if !l.closed.CompareAndSwap(false, true) {
		return nil
	}
	l.transport.removeListener(l)
	return l.listener.Close()
}
