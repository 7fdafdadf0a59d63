package swarm

import (
	"context"
	"fmt"

	"github.com/dep2p/go-notifnet/internal/core/notifications"
	"github.com/dep2p/go-notifnet/internal/core/upgrader"
	"github.com/dep2p/go-notifnet/pkg/types"
)

// connect 为 (set, peer) 打开子流对，槽位已由 peerset 分配
//
// 已有连接时直接交给 Handler；否则合并到进行中的拨号或发起新拨号。
func (s *Swarm) connect(set types.SetID, peer types.PeerID) {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		s.p.PeerSet.Dropped(set, peer, types.DropConnectionClosed)
		return
	}
	if m := s.conns[peer]; m != nil && m.h.Open(set) {
		s.mu.Unlock()
		return
	}
	if d := s.dialing[peer]; d != nil {
		d.sets = append(d.sets, set)
		s.mu.Unlock()
		return
	}
	addrs := s.dialable(peer)
	if len(addrs) == 0 {
		s.mu.Unlock()
		log.Debug("无可拨号地址", "peer", peer.ShortString())
		s.p.PeerSet.Dropped(set, peer, types.DropDialFailure)
		return
	}
	s.dialing[peer] = &pendingDial{sets: []types.SetID{set}}
	s.wg.Add(1)
	s.mu.Unlock()

	go s.dial(peer, addrs)
}

func (s *Swarm) dialable(peer types.PeerID) []types.Multiaddr {
	if peer == s.p.Local {
		return nil
	}
	var out []types.Multiaddr
	for _, a := range s.p.AddrBook.Addrs(peer) {
		if s.p.Transport.CanDial(a) {
			out = append(out, a)
		}
	}
	return out
}

// dial 依次尝试每个地址，结束后处理所有等待的集合
func (s *Swarm) dial(peer types.PeerID, addrs []types.Multiaddr) {
	defer s.wg.Done()

	conn, err := s.dialAddrs(peer, addrs)
	if err != nil {
		log.Debug("拨号失败", "peer", peer.ShortString(), "error", err)
	}
	var h *notifications.Handler
	if conn != nil {
		h = s.addConn(conn)
	}

	s.mu.Lock()
	d := s.dialing[peer]
	delete(s.dialing, peer)
	s.mu.Unlock()

	for _, set := range d.sets {
		switch {
		case h == nil:
			s.p.PeerSet.Dropped(set, peer, types.DropDialFailure)
		case !h.Open(set):
			s.p.PeerSet.Dropped(set, peer, types.DropConnectionClosed)
		}
	}
}

func (s *Swarm) dialAddrs(peer types.PeerID, addrs []types.Multiaddr) (*upgrader.Conn, error) {
	dialErr := &DialError{Peer: peer}
	if len(addrs) == 0 {
		dialErr.Errors = append(dialErr.Errors, ErrNoAddresses)
	}
	for _, addr := range addrs {
		if s.ctx.Err() != nil {
			dialErr.Errors = append(dialErr.Errors, ErrSwarmClosed)
			break
		}
		conn, err := s.dialAddr(peer, addr)
		if err == nil {
			return conn, nil
		}
		dialErr.Errors = append(dialErr.Errors, fmt.Errorf("%s: %w", addr, err))
	}
	return nil, dialErr
}

func (s *Swarm) dialAddr(peer types.PeerID, addr types.Multiaddr) (*upgrader.Conn, error) {
	ctx, cancel := context.WithTimeout(s.ctx, s.p.Config.DialTimeout)
	defer cancel()

	raw, err := s.p.Transport.Dial(ctx, addr)
	if err != nil {
		return nil, err
	}
	return s.p.Upgrader.Upgrade(ctx, raw, types.DirOutbound, peer, addr)
}
