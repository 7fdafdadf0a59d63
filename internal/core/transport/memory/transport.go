package memory

import (
	"context"
	"fmt"
	"net"
	"sync"
	"sync/atomic"

	"go.uber.org/multierr"

	pkgif "github.com/dep2p/go-notifnet/pkg/interfaces"
	"github.com/dep2p/go-notifnet/pkg/types"
)

// ============================================================================
//                              Transport 实现
// ============================================================================

// Transport 内存传输
type Transport struct {
	hub *hub

	listenersMu sync.Mutex
	listeners   map[*Listener]struct{}

	closed atomic.Bool
}

var _ pkgif.Transport = (*Transport)(nil)

// NewTransport 创建使用进程级端口表的内存传输
func NewTransport() *Transport {
	return &Transport{
		hub:       defaultHub,
		listeners: make(map[*Listener]struct{}),
	}
}

// CanDial 只接受 /memory 地址
func (t *Transport) CanDial(addr types.Multiaddr) bool {
	return !t.closed.Load() && addr.IsMemory()
}

// Listen 在 /memory/<port> 上监听，port 为 0 时自动分配
func (t *Transport) Listen(laddr types.Multiaddr) (pkgif.Listener, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	port, err := laddr.WithoutPeerID().MemoryPort()
	if err != nil {
		return nil, err
	}

	l := &Listener{
		transport: t,
		incoming:  make(chan net.Conn),
		done:      make(chan struct{}),
	}
	actual, err := t.hub.register(port, l)
	if err != nil {
		return nil, err
	}
	l.port = actual

	t.listenersMu.Lock()
	t.listeners[l] = struct{}{}
	t.listenersMu.Unlock()
	return l, nil
}

// Dial 连接到 /memory/<port>
func (t *Transport) Dial(ctx context.Context, raddr types.Multiaddr) (net.Conn, error) {
	if t.closed.Load() {
		return nil, ErrTransportClosed
	}
	port, err := raddr.WithoutPeerID().MemoryPort()
	if err != nil {
		return nil, err
	}
	l := t.hub.lookup(port)
	if l == nil {
		return nil, fmt.Errorf("%w: %s", ErrConnectionRefused, raddr)
	}

	local := addr(t.hub.nextEphemeral())
	remote := addr(port)
	client, server := net.Pipe()

	select {
	case l.incoming <- &conn{Conn: server, local: remote, remote: local}:
		return &conn{Conn: client, local: local, remote: remote}, nil
	case <-l.done:
	case <-ctx.Done():
	}
	client.Close()
	server.Close()
	if ctx.Err() != nil {
		return nil, ctx.Err()
	}
	return nil, fmt.Errorf("%w: %s", ErrConnectionRefused, raddr)
}

// Close 关闭传输及其全部监听器
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

// ============================================================================
//                              Listener 实现
// ============================================================================

// Listener 内存监听器
type Listener struct {
	transport *Transport
	port      uint64
	incoming  chan net.Conn
	done      chan struct{}
	closeOnce sync.Once
}

// Accept 接受连接
func (l *Listener) Accept() (net.Conn, error) {
	select {
	case c := <-l.incoming:
		return c, nil
	case <-l.done:
		return nil, ErrListenerClosed
	}
}

// Multiaddr 返回实际监听地址
func (l *Listener) Multiaddr() types.Multiaddr {
	return types.NewMemoryMultiaddr(l.port)
}

// Close 关闭监听器并释放端口
func (l *Listener) Close() error {
	l.closeOnce.Do(func() {
		close(l.done)
		l.transport.hub.unregister(l.port, l)
		l.transport.listenersMu.Lock()
		delete(l.transport.listeners, l)
		l.transport.listenersMu.Unlock()
	})
	return nil
}

// ============================================================================
//                              连接与地址
// ============================================================================

type conn struct {
	net.Conn
	local, remote addr
}

func (c *conn) LocalAddr() net.Addr  { return c.local }
func (c *conn) RemoteAddr() net.Addr { return c.remote }

// addr 内存地址，实现 net.Addr
type addr uint64

func (a addr) Network() string { return types.ProtoMemory }
func (a addr) String() string  { return types.NewMemoryMultiaddr(uint64(a)).String() }
