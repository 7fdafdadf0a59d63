package swarm

import (
	"context"
	"sync"

	"github.com/benbjohnson/clock"
	"go.uber.org/multierr"

	"github.com/dep2p/go-notifnet/internal/core/metrics"
	"github.com/dep2p/go-notifnet/internal/core/notifications"
	"github.com/dep2p/go-notifnet/internal/core/peerset"
	"github.com/dep2p/go-notifnet/internal/core/protocol"
	"github.com/dep2p/go-notifnet/internal/core/upgrader"
	"github.com/dep2p/go-notifnet/internal/util/logger"
	pkgif "github.com/dep2p/go-notifnet/pkg/interfaces"
	"github.com/dep2p/go-notifnet/pkg/types"
)

var log = logger.Logger("swarm")

// PeerSet Swarm 使用的槽位管理接口，由 *peerset.Manager 实现
type PeerSet interface {
	notifications.PeerSet

	// CanAccept 入站连接的准入判定
	CanAccept(peer types.PeerID) bool
	// Discovered 报告新发现的候选节点
	Discovered(peers ...types.PeerID)
	// Actions 返回待执行动作
	Actions() <-chan peerset.Action
}

// Params 创建 Swarm 所需的依赖
type Params struct {
	Config     Config
	Local      types.PeerID
	Transport  pkgif.Transport
	Upgrader   *upgrader.Upgrader
	PeerSet    PeerSet
	Registry   *protocol.Registry
	Negotiator *protocol.Negotiator
	Events     notifications.Emitter
	Queues     *notifications.QueueTable
	AddrBook   *AddrBook
	Clock      clock.Clock
	Metrics    *metrics.Metrics
	Handler    notifications.Config
}

// managed 一个对端的当前连接
type managed struct {
	conn *upgrader.Conn
	h    *notifications.Handler
}

// pendingDial 正在进行的拨号及等待它的集合
type pendingDial struct {
	sets []types.SetID
}

// Swarm 连接群
type Swarm struct {
	p Params

	mu        sync.Mutex
	conns     map[types.PeerID]*managed
	dialing   map[types.PeerID]*pendingDial
	listeners []pkgif.Listener
	started   bool
	closed    bool

	ctx    context.Context
	cancel context.CancelFunc

	// wg 跟踪监听、拨号与动作循环；handlers 跟踪 Handler goroutine
	wg       sync.WaitGroup
	handlers sync.WaitGroup
}

// New 创建 Swarm
func New(p Params) (*Swarm, error) {
	if p.Config.DialTimeout <= 0 {
		p.Config.DialTimeout = DefaultConfig().DialTimeout
	}
	if p.Clock == nil {
		p.Clock = clock.New()
	}
	if p.AddrBook == nil {
		book, err := NewAddrBook(p.Config.AddrBookSize)
		if err != nil {
			return nil, err
		}
		p.AddrBook = book
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &Swarm{
		p:       p,
		conns:   make(map[types.PeerID]*managed),
		dialing: make(map[types.PeerID]*pendingDial),
		ctx:     ctx,
		cancel:  cancel,
	}, nil
}

// LocalPeer 返回本地节点 ID
func (s *Swarm) LocalPeer() types.PeerID { return s.p.Local }

// AddrBook 返回地址簿
func (s *Swarm) AddrBook() *AddrBook { return s.p.AddrBook }

// Start 在 addrs 上监听并开始执行 peerset 动作
func (s *Swarm) Start(addrs []types.Multiaddr) error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return ErrSwarmClosed
	}
	if s.started {
		s.mu.Unlock()
		return nil
	}
	s.started = true
	s.mu.Unlock()

	if err := s.Listen(addrs...); err != nil {
		return err
	}
	s.wg.Add(1)
	go s.actionLoop()
	log.Info("swarm 已启动", "peer", s.p.Local.ShortString(), "listen", s.ListenAddresses())
	return nil
}

// AddKnownAddress 记录对端地址并将其作为候选节点
func (s *Swarm) AddKnownAddress(peer types.PeerID, addrs ...types.Multiaddr) {
	if peer == s.p.Local || len(addrs) == 0 {
		return
	}
	s.p.AddrBook.Add(peer, addrs...)
	s.p.PeerSet.Discovered(peer)
}

// Disconnect 关闭 (set, peer) 子流对
func (s *Swarm) Disconnect(set types.SetID, peer types.PeerID) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if d := s.dialing[peer]; d != nil {
		d.remove(set)
	}
	if m := s.conns[peer]; m != nil {
		m.h.Disconnect(set)
	}
}

// State 查询 (set, peer) 子流对状态
func (s *Swarm) State(ctx context.Context, set types.SetID, peer types.PeerID) types.SubstreamState {
	s.mu.Lock()
	m := s.conns[peer]
	s.mu.Unlock()
	if m == nil {
		return types.StateClosed
	}
	return m.h.State(ctx, set)
}

// Connected 返回是否存在到 peer 的连接
func (s *Swarm) Connected(peer types.PeerID) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.conns[peer]
	return ok
}

// NumConnections 返回连接数
func (s *Swarm) NumConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.conns)
}

// Close 关闭监听器与所有连接，等待全部 Handler 退出
func (s *Swarm) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	listeners := s.listeners
	s.listeners = nil
	conns := make([]*managed, 0, len(s.conns))
	for _, m := range s.conns {
		conns = append(conns, m)
	}
	s.mu.Unlock()

	s.cancel()
	var err error
	for _, l := range listeners {
		err = multierr.Append(err, l.Close())
	}
	for _, m := range conns {
		m.h.Shutdown()
	}
	s.wg.Wait()
	s.handlers.Wait()
	log.Debug("swarm 已关闭", "peer", s.p.Local.ShortString())
	return err
}

func (s *Swarm) actionLoop() {
	defer s.wg.Done()
	actions := s.p.PeerSet.Actions()
	for {
		select {
		case a := <-actions:
			switch a.Kind {
			case peerset.ActionConnect:
				s.connect(a.Set, a.Peer)
			case peerset.ActionDrop:
				s.Disconnect(a.Set, a.Peer)
			}
		case <-s.ctx.Done():
			return
		}
	}
}

// addConn 注册升级后的连接并返回该对端当前的 Handler
//
// 重复连接保留由 PeerID 较小一方拨出的那条；两条由同一方拨出时保留已有的。
// 新 Handler 在被替换的 Handler 退出后才运行。
func (s *Swarm) addConn(conn *upgrader.Conn) *notifications.Handler {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		_ = conn.Close()
		return nil
	}

	peer := conn.RemotePeer()
	old := s.conns[peer]
	if old != nil && !isDone(old.h) {
		if !preferNew(old.conn, conn) {
			log.Debug("丢弃重复连接", "peer", peer.ShortString(), "conn", conn.ID(), "kept", old.conn.ID())
			_ = conn.Close()
			return old.h
		}
		log.Debug("替换重复连接", "peer", peer.ShortString(), "conn", conn.ID(), "replaced", old.conn.ID())
		old.h.Shutdown()
	}

	h := notifications.NewHandler(notifications.HandlerParams{
		ConnID:     conn.ID(),
		Remote:     peer,
		Session:    conn.Session(),
		Registry:   s.p.Registry,
		Negotiator: s.p.Negotiator,
		PeerSet:    s.p.PeerSet,
		Events:     s.p.Events,
		Queues:     s.p.Queues,
		Clock:      s.p.Clock,
		Metrics:    s.p.Metrics,
		Config:     s.p.Handler,
		OnDone:     s.handlerDone,
	})
	s.conns[peer] = &managed{conn: conn, h: h}
	s.p.Metrics.ConnectionOpened()
	log.Debug("连接已建立", "peer", peer.ShortString(), "conn", conn.ID(), "direction", conn.Direction())

	s.handlers.Add(1)
	go func() {
		defer s.handlers.Done()
		if old != nil {
			<-old.h.Done()
		}
		h.Run()
	}()
	return h
}

func (s *Swarm) handlerDone(h *notifications.Handler) {
	s.mu.Lock()
	if m := s.conns[h.Remote()]; m != nil && m.h == h {
		delete(s.conns, h.Remote())
	}
	s.mu.Unlock()
	s.p.Metrics.ConnectionClosed()
	log.Debug("连接已关闭", "peer", h.Remote().ShortString(), "conn", h.ConnID())
}

// preferNew 两端对同一对连接得出相同结论
func preferNew(old, cand *upgrader.Conn) bool {
	if old.Dialer() == cand.Dialer() {
		return false
	}
	return cand.Dialer().Less(old.Dialer())
}

func isDone(h *notifications.Handler) bool {
	select {
	case <-h.Done():
		return true
	default:
		return false
	}
}

func (d *pendingDial) remove(set types.SetID) {
	for i, s := range d.sets {
		if s == set {
			d.sets = append(d.sets[:i], d.sets[i+1:]...)
			return
		}
	}
}
