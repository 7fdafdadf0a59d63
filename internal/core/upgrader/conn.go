package upgrader

import (
	"github.com/dep2p/go-notifnet/internal/core/muxer/yamux"
	pkgif "github.com/dep2p/go-notifnet/pkg/interfaces"
	"github.com/dep2p/go-notifnet/pkg/types"
)

// Conn 升级后的连接
type Conn struct {
	id         string
	session    *yamux.Session
	local      types.PeerID
	remote     types.PeerID
	dir        types.Direction
	remoteAddr types.Multiaddr
}

// ID 返回连接标识（仅用于日志）
func (c *Conn) ID() string { return c.id }

// Session 返回多路复用会话
func (c *Conn) Session() pkgif.MuxedConn { return c.session }

// LocalPeer 返回本地节点 ID
func (c *Conn) LocalPeer() types.PeerID { return c.local }

// RemotePeer 返回远端节点 ID
func (c *Conn) RemotePeer() types.PeerID { return c.remote }

// Direction 返回连接方向
func (c *Conn) Direction() types.Direction { return c.dir }

// RemoteMultiaddr 返回远端地址
func (c *Conn) RemoteMultiaddr() types.Multiaddr { return c.remoteAddr }

// Dialer 返回发起连接的一方
func (c *Conn) Dialer() types.PeerID {
	if c.dir == types.DirOutbound {
		return c.local
	}
	return c.remote
}

// Close 关闭连接
func (c *Conn) Close() error {
	return c.session.Close()
}
