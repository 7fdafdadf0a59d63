// Package tcp 提供基于 TCP 的传输层实现
//
// 地址形如 /ip4/<addr>/tcp/<port>。TCP 不提供原生多路复用，
// 连接由 upgrader 升级为 yamux 会话。
package tcp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/multierr"

	pkgif "github.com/dep2p/go-notifnet/pkg/interfaces"
	"github.com/dep2p/go-notifnet/pkg/types"
)

// ErrTransportClosed 传输已关闭
var ErrTransportClosed = errors.New("tcp: transport closed")

// Config TCP 传输配置
type Config struct {
	DialTimeout time.Duration
	KeepAlive   time.Duration
}

// DefaultConfig 返回默认配置
func DefaultConfig() Config {
	return Config{
		DialTimeout: 10 * time.Second,
		KeepAlive:   30 * time.Second,
	}
}

// Transport TCP 传输层实现
type Transport struct {
	config Config

	listenersMu sync.Mutex
	listeners   map[*Listener]struct{}

	closed atomic.Bool
}

var _ pkgif.Transport = (*Transport)(nil)

// NewTransport 创建 TCP 传输层
func NewTransport(config Config) *Transport {
	return &Transport{
		config:    config,
		listeners: make(map[*Listener]struct{}),
	}
}

// CanDial 检查是否可以拨号到指定地址
func (t *Transport) CanDial(addr types.Multiaddr) bool {
	if t.closed.Load() {
		return false
	}
	_, err := addr.WithoutPeerID().HostPort()
	return err == nil
}

// Dial 建立出站连接
func (t *Transport) Dial(ctx context.Context, raddr types.Multiaddr) (net.Conn, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	hostPort, err := raddr.WithoutPeerID().HostPort()
	if err != nil {
		return nil, fmt.Errorf("无效的 TCP 地址: %w", err)
	}

	dialer := &net.Dialer{Timeout: t.config.DialTimeout, KeepAlive: t.config.KeepAlive}
	conn, err := dialer.DialContext(ctx, "tcp", hostPort)
	if err != nil {
		return nil, fmt.Errorf("连接失败: %w", err)
	}
	if tcpConn, ok := conn.(*net.TCPConn); ok {
		_ = tcpConn.SetNoDelay(true)
	}
	return conn, nil
}

// Listen 监听入站连接
func (t *Transport) Listen(laddr types.Multiaddr) (pkgif.Listener, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	l, err := newListener(t, laddr)
	if err != nil {
		return nil, err
	}
	t.listenersMu.Lock()
	t.listeners[l] = struct{}{}
	t.listenersMu.Unlock()
	return l, nil
}

// Close 关闭传输层及其全部监听器
func (t *Transport) Close() error {
	if !t.closed.CompareAndSwap(false, true) {
		return nil
	}
	t.listenersMu.Lock()
	ls := make([]*Listener, 0, len(t.listeners))
	for l := range t.listeners {
		ls = append(ls, l)
	}
	t.listenersMu.Unlock()

	var err error
	for _, l := range ls {
		err = multierr.Append(err, l.Close())
	}
	return err
}

func (t *Transport) removeListener(l *Listener) {
	t.listenersMu.Lock()
	delete(t.listeners, l)
	t.listenersMu.Unlock()
}
