package notifnet

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.uber.org/fx"

	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/internal/core/eventbus"
	"github.com/dep2p/go-notifnet/internal/core/identity"
	"github.com/dep2p/go-notifnet/internal/core/metrics"
	"github.com/dep2p/go-notifnet/internal/core/notifications"
	"github.com/dep2p/go-notifnet/internal/core/peerset"
	"github.com/dep2p/go-notifnet/internal/core/protocol"
	"github.com/dep2p/go-notifnet/internal/core/swarm"
	"github.com/dep2p/go-notifnet/internal/util/logger"
	pkgif "github.com/dep2p/go-notifnet/pkg/interfaces"
	"github.com/dep2p/go-notifnet/pkg/types"
)

var log = logger.Logger("notifnet")

// stopTimeout 关闭 Fx 应用的超时
const stopTimeout = 30 * time.Second

// Service 通知协议服务
type Service struct {
	cfg *config.Config
	app *fx.App

	identity *identity.Identity
	registry *protocol.Registry
	queues   *notifications.QueueTable
	bus      *eventbus.Bus
	peerset  *peerset.Manager
	swarm    *swarm.Swarm
	metrics  *metrics.Metrics

	discovery pkgif.Discovery

	mu      sync.Mutex
	started bool
	closed  bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
}

// New 验证配置并构建服务，不产生任何网络活动
//
// 配置错误以 *config.ConfigurationError 返回。cfg 为 nil 时使用默认配置；
// 服务持有 cfg 的副本。
func New(cfg *config.Config, opts ...Option) (*Service, error) {
	if cfg == nil {
		cfg = config.NewConfig()
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg = cfg.Clone()

	o := newOptions()
	if err := o.apply(opts...); err != nil {
		return nil, fmt.Errorf("apply options: %w", err)
	}

	s := &Service{cfg: cfg, discovery: o.discovery}
	s.app = buildFxApp(cfg, o, s)
	if err := s.app.Err(); err != nil {
		return nil, fmt.Errorf("build service: %w", err)
	}
	log.Debug("服务已创建", "peer", s.identity.PeerID().ShortString(), "protocols", s.registry.Len())
	return s, nil
}

// Start 开始监听并执行连接分配
func (s *Service) Start(ctx context.Context) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return ErrServiceClosed
	}
	if s.started {
		return ErrAlreadyStarted
	}
	if err := s.app.Start(ctx); err != nil {
		log.Error("服务启动失败", "error", err)
		return fmt.Errorf("start: %w", err)
	}
	s.started = true

	pumpCtx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	if s.discovery != nil {
		s.wg.Add(1)
		go s.pumpDiscovery(pumpCtx)
	}
	log.Info("服务已启动", "peer", s.identity.PeerID().ShortString(), "listen", s.swarm.ListenAddresses())
	return nil
}

// Close 关闭所有连接与订阅；可重复调用
func (s *Service) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return nil
	}
	s.closed = true
	if !s.started {
		return nil
	}
	s.cancel()
	s.wg.Wait()

	ctx, cancel := context.WithTimeout(context.Background(), stopTimeout)
	defer cancel()
	if err := s.app.Stop(ctx); err != nil {
		return fmt.Errorf("stop: %w", err)
	}
	log.Info("服务已关闭", "peer", s.identity.PeerID().ShortString())
	return nil
}

// LocalPeerID 返回本地节点 ID
func (s *Service) LocalPeerID() types.PeerID {
	return s.identity.PeerID()
}

// ListenAddresses 返回实际监听地址
func (s *Service) ListenAddresses() []types.Multiaddr {
	return s.swarm.ListenAddresses()
}

// Protocols 返回规范协议名，顺序即配置顺序
func (s *Service) Protocols() []types.ProtocolName {
	out := make([]types.ProtocolName, 0, s.registry.Len())
	for _, set := range s.registry.Sets() {
		out = append(out, s.registry.Get(set).Name)
	}
	return out
}

// WriteNotification 尽力发送一条通知
//
// 子流对未打开、队列已满、负载过大或协议未知时静默丢弃。
func (s *Service) WriteNotification(peer types.PeerID, proto types.ProtocolName, payload []byte) {
	set, ok := s.registry.LookupCanonical(proto)
	if !ok {
		s.metrics.NotificationDropped(string(proto), metrics.ReasonNotOpen)
		log.Debug("notification dropped", "peer", peer.ShortString(), "protocol", proto, "reason", "unknown protocol")
		return
	}
	q := s.queues.Get(peer, set)
	if q == nil {
		s.metrics.NotificationDropped(string(proto), metrics.ReasonNotOpen)
		log.Debug("notification dropped", "peer", peer.ShortString(), "protocol", proto, "reason", metrics.ReasonNotOpen)
		return
	}
	q.TryPush(payload)
}

// NotificationSender 返回 (peer, protocol) 的背压发送器
//
// 子流对未打开时返回 ErrNoSuchPeerOrProtocol。
func (s *Service) NotificationSender(peer types.PeerID, proto types.ProtocolName) (*notifications.Sender, error) {
	set, ok := s.registry.LookupCanonical(proto)
	if !ok {
		return nil, types.ErrNoSuchPeerOrProtocol
	}
	return notifications.NewSender(s.queues, peer, set)
}

// DisconnectPeer 关闭 (peer, protocol) 子流对；未打开时无操作
func (s *Service) DisconnectPeer(peer types.PeerID, proto types.ProtocolName) {
	set, ok := s.registry.LookupCanonical(proto)
	if !ok {
		return
	}
	s.swarm.Disconnect(set, peer)
}

// EventStream 创建一个事件订阅
func (s *Service) EventStream(name string) (*eventbus.Subscription, error) {
	return s.bus.Subscribe(name)
}

// AddReservedPeer 将节点加入所有集合的保留池并记录其地址
func (s *Service) AddReservedPeer(addr types.MultiaddrWithPeerID) error {
	if addr.PeerID.IsEmpty() {
		return types.ErrMissingPeerID
	}
	if err := s.checkTransport(addr.Multiaddr); err != nil {
		return err
	}
	s.swarm.AddrBook().Pin(addr.PeerID, addr.Multiaddr)
	for _, set := range s.registry.Sets() {
		s.peerset.AddReserved(set, addr.PeerID)
	}
	return nil
}

// RemoveReservedPeer 将节点移出所有集合的保留池
func (s *Service) RemoveReservedPeer(peer types.PeerID) {
	for _, set := range s.registry.Sets() {
		s.peerset.RemoveReserved(set, peer)
	}
}

// SetReservedOnly 切换集合的仅保留模式；开启时断开所有普通节点
func (s *Service) SetReservedOnly(proto types.ProtocolName, on bool) error {
	set, ok := s.registry.LookupCanonical(proto)
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownProtocol, proto)
	}
	s.peerset.SetReservedOnly(set, on)
	return nil
}

// AddKnownAddress 记录节点地址并将其作为候选节点
func (s *Service) AddKnownAddress(peer types.PeerID, addr types.Multiaddr) error {
	if err := s.checkTransport(addr); err != nil {
		return err
	}
	s.swarm.AddKnownAddress(peer, addr)
	return nil
}

// OpenPeers 返回在该协议上子流对处于 Open 的节点
func (s *Service) OpenPeers(proto types.ProtocolName) []types.PeerID {
	set, ok := s.registry.LookupCanonical(proto)
	if !ok {
		return nil
	}
	return s.queues.OpenPeers(set)
}

func (s *Service) checkTransport(addr types.Multiaddr) error {
	if addr.IsMemory() != (s.cfg.Transport == config.TransportMemory) {
		return &config.ConfigurationError{
			Field: "address",
			Err:   fmt.Errorf("%w (%s): %s", config.ErrTransportMismatch, s.cfg.Transport, addr),
		}
	}
	return nil
}

// pumpDiscovery 将发现事件转发到事件总线，并把发现的地址交给 swarm
func (s *Service) pumpDiscovery(ctx context.Context) {
	defer s.wg.Done()
	events := s.discovery.Events()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if !ev.Peer.IsEmpty() && len(ev.Addrs) > 0 {
				s.swarm.AddKnownAddress(ev.Peer, ev.Addrs...)
			}
			s.bus.Emit(ev)
		case <-ctx.Done():
			return
		}
	}
}
