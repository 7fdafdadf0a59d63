package swarm

import (
	"context"

	"github.com/benbjohnson/clock"
	"go.uber.org/fx"

	"github.com/dep2p/go-notifnet/config"
	"github.com/dep2p/go-notifnet/internal/core/eventbus"
	"github.com/dep2p/go-notifnet/internal/core/identity"
	"github.com/dep2p/go-notifnet/internal/core/metrics"
	"github.com/dep2p/go-notifnet/internal/core/notifications"
	"github.com/dep2p/go-notifnet/internal/core/peerset"
	"github.com/dep2p/go-notifnet/internal/core/protocol"
	"github.com/dep2p/go-notifnet/internal/core/upgrader"
	pkgif "github.com/dep2p/go-notifnet/pkg/interfaces"
)

// ModuleInput 定义模块输入依赖
type ModuleInput struct {
	fx.In

	Config     *config.Config
	Identity   *identity.Identity
	Transport  pkgif.Transport
	Upgrader   *upgrader.Upgrader
	PeerSet    *peerset.Manager
	Registry   *protocol.Registry
	Negotiator *protocol.Negotiator
	Bus        *eventbus.Bus
	Queues     *notifications.QueueTable
	Clock      clock.Clock
	Metrics    *metrics.Metrics
}

// ProvideSwarm 从统一配置提供 Swarm
//
// 引导节点与保留节点的地址在地址簿中常驻。
func ProvideSwarm(in ModuleInput) (*Swarm, error) {
	s, err := New(Params{
		Config:     DefaultConfig(),
		Local:      in.Identity.PeerID(),
		Transport:  in.Transport,
		Upgrader:   in.Upgrader,
		PeerSet:    in.PeerSet,
		Registry:   in.Registry,
		Negotiator: in.Negotiator,
		Events:     in.Bus,
		Queues:     in.Queues,
		Clock:      in.Clock,
		Metrics:    in.Metrics,
		Handler:    notifications.ConfigFrom(in.Config.Notifications),
	})
	if err != nil {
		return nil, err
	}
	for _, a := range in.Config.BootNodes {
		s.AddrBook().Pin(a.PeerID, a.Multiaddr)
	}
	for _, a := range in.Config.ReservedAddresses() {
		s.AddrBook().Pin(a.PeerID, a.Multiaddr)
	}
	return s, nil
}

// Module 返回 fx 模块配置
func Module() fx.Option {
	return fx.Module("swarm",
		fx.Provide(ProvideSwarm),
		fx.Invoke(registerLifecycle),
	)
}

func registerLifecycle(lc fx.Lifecycle, s *Swarm, cfg *config.Config) {
	lc.Append(fx.Hook{
		OnStart: func(context.Context) error {
			return s.Start(cfg.ListenAddresses)
		},
		OnStop: func(context.Context) error {
			return s.Close()
		},
	})
}
