package swarm

import (
	"context"
	"net"
	"sync"

	tec "github.com/jbenet/go-temp-err-catcher"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"

	"github.com/dep2p/go-notifnet/pkg/interfaces"
	"github.com/dep2p/go-notifnet/pkg/types"
)

// Listen 在所有地址上监听；任一地址失败时已打开的监听器全部关闭
func (s *Swarm) Listen(addrs ...types.Multiaddr) error {
	var (
		mu     sync.Mutex
		opened []interfaces.Listener
		g      errgroup.Group
	)
	for _, addr := range addrs {
		g.Go(func() error {
			l, err := s.p.Transport.Listen(addr)
			if err != nil {
				log.Warn("监听失败", "addr", addr, "error", err)
				return err
			}
			mu.Lock()
			opened = append(opened, l)
			mu.Unlock()
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		for _, l := range opened {
			err = multierr.Append(err, l.Close())
		}
		return err
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		var err error = ErrSwarmClosed
		for _, l := range opened {
			err = multierr.Append(err, l.Close())
		}
		return err
	}
	for _, l := range opened {
		s.listeners = append(s.listeners, l)
		s.wg.Add(1)
		go s.acceptLoop(l)
	}
	return nil
}

// ListenAddresses 返回实际监听地址
func (s *Swarm) ListenAddresses() []types.Multiaddr {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]types.Multiaddr, 0, len(s.listeners))
	for _, l := range s.listeners {
		out = append(out, l.Multiaddr())
	}
	return out
}

func (s *Swarm) acceptLoop(l interfaces.Listener) {
	defer s.wg.Done()
	var catcher tec.TempErrCatcher
	for {
		raw, err := l.Accept()
		if err != nil {
			if s.ctx.Err() == nil && catcher.IsTemporary(err) {
				continue
			}
			if s.ctx.Err() == nil {
				log.Debug("监听器退出", "addr", l.Multiaddr(), "error", err)
			}
			return
		}
		s.wg.Add(1)
		go func() {
			defer s.wg.Done()
			s.handleInbound(raw)
		}()
	}
}

func (s *Swarm) handleInbound(raw net.Conn) {
	ctx, cancel := context.WithTimeout(s.ctx, s.p.Config.DialTimeout)
	defer cancel()

	conn, err := s.p.Upgrader.Upgrade(ctx, raw, types.DirInbound, types.PeerID{}, remoteMultiaddr(raw))
	if err != nil {
		log.Debug("入站升级失败", "remote", raw.RemoteAddr(), "error", err)
		return
	}
	if !s.p.PeerSet.CanAccept(conn.RemotePeer()) {
		log.Debug("拒绝入站连接", "peer", conn.RemotePeer().ShortString())
		_ = conn.Close()
		return
	}
	s.addConn(conn)
}

func remoteMultiaddr(c net.Conn) types.Multiaddr {
	switch a := c.RemoteAddr().(type) {
	case *net.TCPAddr:
		return types.MultiaddrFromTCPAddr(a)
	case nil:
		return ""
	default:
		return types.Multiaddr(a.String())
	}
}
